package ocr

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func writePNG(t *testing.T, img image.Image) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shot.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create png: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return path
}

func TestPreprocessScalesToGray(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 40, 10))
	for x := 0; x < 40; x++ {
		for y := 0; y < 10; y++ {
			src.Set(x, y, color.RGBA{R: 255, G: 255, B: 255, A: 255})
		}
	}

	out := Preprocess(src, 2)
	if out.Bounds().Dx() != 80 || out.Bounds().Dy() != 20 {
		t.Fatalf("unexpected size %v", out.Bounds())
	}
	if got := out.GrayAt(10, 10).Y; got < 250 {
		t.Fatalf("white pixel should stay white, got %d", got)
	}
}

func TestPreprocessClampsScale(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 12, 6))
	out := Preprocess(src, 0.1)
	if out.Bounds().Dx() != 12 || out.Bounds().Dy() != 6 {
		t.Fatalf("scale below 1 should keep size, got %v", out.Bounds())
	}
}

func TestPreprocessFile(t *testing.T) {
	path := writePNG(t, image.NewRGBA(image.Rect(0, 0, 30, 8)))

	data, err := PreprocessFile(path, 3)
	if err != nil {
		t.Fatalf("preprocess: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if img.Bounds().Dx() != 90 || img.Bounds().Dy() != 24 {
		t.Fatalf("unexpected output size %v", img.Bounds())
	}
	if _, ok := img.(*image.Gray); !ok {
		t.Fatalf("expected grayscale output, got %T", img)
	}
}

func TestPreprocessFileMissing(t *testing.T) {
	if _, err := PreprocessFile(filepath.Join(t.TempDir(), "missing.png"), 2); err == nil {
		t.Fatal("missing file should error")
	}
}
