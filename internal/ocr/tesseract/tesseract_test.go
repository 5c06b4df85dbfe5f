package tesseract

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"os/exec"
	"strings"
	"testing"

	"github.com/otiai10/gosseract/v2"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"MediScan/internal/ocr"
)

// ensureTesseractAvailable checks that the tesseract binary is reachable.
func ensureTesseractAvailable(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("tesseract"); err != nil {
		t.Skip("tesseract not installed in PATH")
	}
}

func renderText(lines ...string) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 320, 40+30*len(lines)))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	for i, line := range lines {
		d := &font.Drawer{
			Dst:  img,
			Src:  image.Black,
			Face: basicfont.Face7x13,
			Dot:  fixed.P(10, 30+30*i),
		}
		d.DrawString(line)
	}
	// basicfont glyphs are too small for tesseract at 1x
	scaled := image.NewRGBA(image.Rect(0, 0, img.Bounds().Dx()*4, img.Bounds().Dy()*4))
	xdraw.CatmullRom.Scale(scaled, scaled.Bounds(), img, img.Bounds(), draw.Src, nil)
	return scaled
}

func TestEngineRecognize(t *testing.T) {
	ensureTesseractAvailable(t)

	e := New()
	frags, err := e.Recognize(context.Background(), renderText("HEMOGLOBIN LOW", "GLUCOSE NORMAL"), ocr.Options{Languages: []string{"eng"}})
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if len(frags) == 0 {
		t.Fatalf("expected fragments")
	}
	got := strings.ToLower(ocr.Join(frags))
	if !strings.Contains(got, "hemoglobin") || !strings.Contains(got, "glucose") {
		t.Fatalf("unexpected OCR output: %q", got)
	}
	if strings.Index(got, "hemoglobin") > strings.Index(got, "glucose") {
		t.Fatalf("expected reading order to be preserved: %q", got)
	}
	for _, f := range frags {
		if f.Confidence < 0 || f.Confidence > 1 {
			t.Fatalf("confidence out of range: %v", f.Confidence)
		}
	}
}

func TestEngineRecognizeCancelledBeforeStart(t *testing.T) {
	created := 0
	e := &Engine{clientFactory: func() *gosseract.Client { created++; return nil }}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Recognize(ctx, renderText("X"), ocr.Options{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if created != 0 {
		t.Fatalf("client must not be created for a cancelled context")
	}
}
