package mask

import "sort"

// ResolveConflicts turns an unordered list of confidence-scored spans into a
// disjoint, deterministically ordered set.
//
// Spans of the same type that overlap are merged into their union carrying
// the higher score. Across types no merging happens: the pooled set is
// sorted by (start asc, end asc, score desc) and a span is dropped when it
// is fully contained in (or coincident with) an already kept span. Spans of
// different types that merely partially overlap are both kept.
//
// When two conflicting spans share identical coordinates and identical
// scores, the lexicographically smaller type wins. The input is never
// mutated.
func ResolveConflicts(spans []Span) []Span {
	if len(spans) <= 1 {
		return spans
	}

	byType := make(map[string][]Span)
	order := make([]string, 0, 4)
	for _, s := range spans {
		if _, seen := byType[s.Type]; !seen {
			order = append(order, s.Type)
		}
		byType[s.Type] = append(byType[s.Type], s)
	}

	pooled := make([]Span, 0, len(spans))
	for _, typ := range order {
		pooled = append(pooled, mergeSameType(byType[typ])...)
	}

	sort.SliceStable(pooled, func(i, j int) bool {
		a, b := pooled[i], pooled[j]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.End != b.End {
			return a.End < b.End
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.Type < b.Type
	})

	kept := make([]Span, 0, len(pooled))
	for _, candidate := range pooled {
		contained := false
		for _, k := range kept {
			if k.contains(candidate) {
				contained = true
				break
			}
		}
		if !contained {
			kept = append(kept, candidate)
		}
	}
	return kept
}

// mergeSameType sweep-merges overlapping spans of one type into union spans
// carrying the best score. The input slice is not modified.
func mergeSameType(spans []Span) []Span {
	if len(spans) <= 1 {
		return spans
	}

	sorted := append([]Span(nil), spans...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		return sorted[i].End < sorted[j].End
	})

	merged := []Span{sorted[0]}
	for _, s := range sorted[1:] {
		last := &merged[len(merged)-1]
		if last.overlaps(s) {
			if s.End > last.End {
				last.End = s.End
			}
			if s.Score > last.Score {
				last.Score = s.Score
			}
			last.Scored = last.Scored || s.Scored
			continue
		}
		merged = append(merged, s)
	}
	return merged
}

// ResolveOverlaps resolves conflicts between spans that carry no confidence
// score, such as pattern-matched secrets. Spans are sorted by start
// ascending with longer spans first on a start tie, then swept left to
// right keeping only spans that begin at or after the end of the previously
// kept one. Nothing is merged. The input is never mutated.
func ResolveOverlaps(spans []Span) []Span {
	if len(spans) <= 1 {
		return spans
	}

	sorted := append([]Span(nil), spans...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		return sorted[i].End > sorted[j].End
	})

	kept := sorted[:1]
	for _, s := range sorted[1:] {
		if s.Start >= kept[len(kept)-1].End {
			kept = append(kept, s)
		}
	}
	return kept
}
