// Package detect provides the detection collaborators of the proxy: an
// HTTP client for a Presidio-style entity analyzer and a regex matcher for
// credential-like secrets. Both return spans in rune offsets, the unit the
// masking engine operates on.
package detect

import (
	"context"
	"errors"

	"github.com/veilproxy/veilproxy/pkg/mask"
)

// ErrUnavailable wraps detector transport failures. The proxy never treats
// an unavailable detector as "no PII found"; callers must block or degrade
// explicitly.
var ErrUnavailable = errors.New("detect: detector unavailable")

// Detector finds sensitive entities in text.
type Detector interface {
	Detect(ctx context.Context, text, language string) ([]mask.Span, error)
}
