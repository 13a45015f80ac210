package imaging

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"golang.org/x/image/bmp"
)

func solid(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{200, 30, 30, 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestNormalize_DownscalesLargePNG(t *testing.T) {
	n := &Normalizer{MaxDimension: 800}
	out, name, err := n.Normalize(encodePNG(t, solid(1200, 600)), "wide.png")
	if err != nil {
		t.Fatalf("Normalize() failed: %v", err)
	}
	if name != "wide.png" {
		t.Errorf("name = %q", name)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		t.Fatal(err)
	}
	if format != "png" || cfg.Width != 800 || cfg.Height != 400 {
		t.Errorf("got %s %dx%d, want png 800x400", format, cfg.Width, cfg.Height)
	}
}

func TestNormalize_SmallPNGUntouched(t *testing.T) {
	in := encodePNG(t, solid(10, 10))
	n := &Normalizer{MaxDimension: 800}
	out, _, err := n.Normalize(in, "small.png")
	if err != nil {
		t.Fatalf("Normalize() failed: %v", err)
	}
	if !bytes.Equal(out, in) {
		t.Error("small image was re-encoded")
	}
}

func TestNormalize_ConvertsBMP(t *testing.T) {
	var buf bytes.Buffer
	if err := bmp.Encode(&buf, solid(4, 4)); err != nil {
		t.Fatal(err)
	}
	n := &Normalizer{}
	out, name, err := n.Normalize(buf.Bytes(), "shot.bmp")
	if err != nil {
		t.Fatalf("Normalize() failed: %v", err)
	}
	if name != "shot.png" {
		t.Errorf("name = %q, want shot.png", name)
	}
	if _, format, err := image.DecodeConfig(bytes.NewReader(out)); err != nil || format != "png" {
		t.Errorf("format = %q, err = %v", format, err)
	}
}

func TestNormalize_TooLarge(t *testing.T) {
	n := &Normalizer{MaxSize: 16}
	_, _, err := n.Normalize(encodePNG(t, solid(10, 10)), "a.png")
	if !errors.Is(err, ErrTooLarge) {
		t.Errorf("err = %v, want ErrTooLarge", err)
	}
}

func TestNormalize_UnknownPassesThrough(t *testing.T) {
	in := []byte("not an image")
	out, name, err := (&Normalizer{MaxDimension: 1}).Normalize(in, "x.bin")
	if err != nil || name != "x.bin" || !bytes.Equal(out, in) {
		t.Errorf("Normalize() = %q, %q, %v", out, name, err)
	}
}
