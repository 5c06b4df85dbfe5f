// Package tesseract provides the default OCR engine backed by gosseract.
package tesseract

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"MediScan/internal/ocr"
)

// Engine implements ocr.Engine with one gosseract client per call.
type Engine struct {
	clientFactory func() *gosseract.Client
	level         gosseract.PageIteratorLevel
}

// New constructs a Tesseract-backed engine returning one fragment per text line.
func New() *Engine {
	return &Engine{clientFactory: gosseract.NewClient, level: gosseract.RIL_TEXTLINE}
}

func (e *Engine) Name() string { return "tesseract" }

// Recognize runs OCR on img. Tesseract cannot be interrupted once it starts,
// so ctx is only checked before the client is created and the call returns
// when recognition has finished and the client is closed.
func (e *Engine) Recognize(ctx context.Context, img image.Image, opts ocr.Options) ([]ocr.Fragment, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := e.clientFactory()
	defer c.Close()
	return e.recognizeWithClient(c, buf.Bytes(), opts)
}

func (e *Engine) recognizeWithClient(c *gosseract.Client, data []byte, opts ocr.Options) ([]ocr.Fragment, error) {
	if err := c.SetImageFromBytes(data); err != nil {
		return nil, fmt.Errorf("set image: %w", err)
	}
	if len(opts.Languages) > 0 {
		if err := c.SetLanguage(opts.Languages...); err != nil {
			return nil, fmt.Errorf("set languages: %w", err)
		}
	}

	boxes, err := c.GetBoundingBoxes(e.level)
	if err != nil {
		return nil, fmt.Errorf("recognize text: %w", err)
	}

	frags := make([]ocr.Fragment, 0, len(boxes))
	for _, b := range boxes {
		text := strings.TrimSpace(b.Word)
		if text == "" {
			continue
		}
		frags = append(frags, ocr.Fragment{
			Text:       text,
			Bounds:     b.Box,
			Confidence: b.Confidence / 100.0,
		})
	}
	return frags, nil
}
