// Package ocr turns uploaded report images into text. Recognition itself is
// delegated to an Engine; this package owns decoding and fragment handling.
package ocr

import (
	"context"
	"image"
	"strings"
)

// Fragment is one recognized text region. Engines return fragments in
// reading order; callers must not re-sort them.
type Fragment struct {
	Text       string
	Bounds     image.Rectangle
	Confidence float64 // 0..1
}

// Options carries per-call recognition hints.
type Options struct {
	// Languages is a list of trained-data names (e.g. "eng", "deu").
	Languages []string
}

// Engine recognizes text in a decoded image. Recognize returns only once the
// work it started has stopped; callers that stop waiting earlier rely on that
// to account for engine capacity.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, img image.Image, opts Options) ([]Fragment, error)
}

// Join concatenates fragment texts with single spaces in engine order.
func Join(fragments []Fragment) string {
	parts := make([]string, len(fragments))
	for i, f := range fragments {
		parts[i] = f.Text
	}
	return strings.Join(parts, " ")
}

// MeanConfidence averages fragment confidence; zero when there are none.
func MeanConfidence(fragments []Fragment) float64 {
	if len(fragments) == 0 {
		return 0
	}
	var sum float64
	for _, f := range fragments {
		sum += f.Confidence
	}
	return sum / float64(len(fragments))
}
