// Package imaging prepares image bytes for the WeChat material API: formats the
// API rejects are re-encoded as PNG and oversized images are scaled down.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"path"
	"strings"

	"github.com/docker/go-units"
	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"mp_publisher/logging"
)

var ErrTooLarge = errors.New("image exceeds upload size limit")

// Accepted by add_material as is.
var passThrough = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
}

// Converted to PNG before upload.
var convertible = map[string]bool{
	"image/webp": true,
	"image/bmp":  true,
	"image/tiff": true,
}

type Normalizer struct {
	// MaxDimension bounds the longer edge in pixels. Zero disables scaling.
	MaxDimension int
	// MaxSize is the largest payload accepted after normalization. Zero disables the check.
	MaxSize int64
	Logger  logging.Logger
}

// Normalize returns bytes and a file name the material API accepts. Unknown
// formats are returned untouched so the API can report on them.
func (n *Normalizer) Normalize(data []byte, fileName string) ([]byte, string, error) {
	mime := mimetype.Detect(data).String()
	switch {
	case convertible[mime]:
		out, err := n.reencode(data, true)
		if err != nil {
			return nil, "", fmt.Errorf("convert %s: %w", fileName, err)
		}
		n.log().Debug("图片已转换为PNG", "file", fileName, "from", mime, "size", units.HumanSize(float64(len(out))))
		data, fileName = out, withExt(fileName, ".png")
	case passThrough[mime] && mime != "image/gif":
		if n.oversized(data) {
			out, err := n.reencode(data, mime == "image/png")
			if err != nil {
				return nil, "", fmt.Errorf("resize %s: %w", fileName, err)
			}
			n.log().Debug("图片已缩放", "file", fileName, "before", units.HumanSize(float64(len(data))), "after", units.HumanSize(float64(len(out))))
			data = out
		}
	}

	if n.MaxSize > 0 && int64(len(data)) > n.MaxSize {
		return nil, "", fmt.Errorf("%w: %s is %s, limit %s", ErrTooLarge, fileName,
			units.HumanSize(float64(len(data))), units.HumanSize(float64(n.MaxSize)))
	}
	return data, fileName, nil
}

func (n *Normalizer) log() logging.Logger {
	if n.Logger == nil {
		return logging.Discard()
	}
	return n.Logger
}

func (n *Normalizer) oversized(data []byte) bool {
	if n.MaxDimension <= 0 {
		return false
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return false
	}
	return cfg.Width > n.MaxDimension || cfg.Height > n.MaxDimension
}

func (n *Normalizer) reencode(data []byte, asPNG bool) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	img = n.fit(img)

	var buf bytes.Buffer
	if asPNG {
		err = png.Encode(&buf, img)
	} else {
		err = jpeg.Encode(&buf, flattenAlpha(img), &jpeg.Options{Quality: 90})
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// fit downscales img so its longer edge is at most MaxDimension. It never upscales.
func (n *Normalizer) fit(img image.Image) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	longest := max(w, h)
	if n.MaxDimension <= 0 || longest <= n.MaxDimension {
		return img
	}
	ratio := float64(n.MaxDimension) / float64(longest)
	dstW := max(1, int(float64(w)*ratio+0.5))
	dstH := max(1, int(float64(h)*ratio+0.5))
	dst := image.NewNRGBA(image.Rect(0, 0, dstW, dstH))
	xdraw.BiLinear.Scale(dst, dst.Bounds(), img, b, xdraw.Over, nil)
	return dst
}

// flattenAlpha composites src onto a white background.
func flattenAlpha(src image.Image) *image.NRGBA {
	b := src.Bounds()
	dst := image.NewNRGBA(b)
	draw.Draw(dst, b, image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, b, src, b.Min, draw.Over)
	return dst
}

func withExt(name, ext string) string {
	return strings.TrimSuffix(name, path.Ext(name)) + ext
}
