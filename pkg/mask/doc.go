// Package mask implements the masking engine of the proxy: it resolves
// detected sensitive spans into a disjoint set, replaces them with stable
// typed placeholders, and restores the originals later, including from
// incrementally delivered streams where a placeholder may arrive split
// across chunk boundaries.
//
// The engine is pure function logic over explicit inputs. The only mutable
// state is the Context, the per-request placeholder ledger; a Context must
// never be shared across concurrent requests.
package mask
