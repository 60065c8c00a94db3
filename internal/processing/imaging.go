package processing

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"image/jpeg"
	"image/png"

	"mediaflow/internal/domain"
)

const defaultJPEGQuality = 90

// maxPixels bounds every decoded image and every canvas built from them.
// At four bytes a pixel one buffer stays under 160 MB.
const maxPixels = 40_000_000

func checkPixels(w, h int) error {
	if int64(w)*int64(h) > maxPixels {
		return domain.Permanentf("image of %dx%d pixels exceeds the %d pixel limit", w, h, maxPixels)
	}
	return nil
}

// imageSize reads the dimensions from the header without decoding pixels.
func imageSize(data []byte) (image.Config, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return image.Config{}, domain.Permanentf("decode image: %v", err)
	}
	return cfg, checkPixels(cfg.Width, cfg.Height)
}

func decodeBounded(data []byte) (image.Image, error) {
	if _, err := imageSize(data); err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, domain.Permanentf("decode image: %v", err)
	}
	return img, nil
}

func decodeImage(data []byte) (*image.NRGBA, error) {
	img, err := decodeBounded(data)
	if err != nil {
		return nil, err
	}
	return toNRGBA(img), nil
}

func toNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok && n.Rect.Min == (image.Point{}) {
		return n
	}
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}

// resizeNearest scales img to w x h using nearest-neighbour sampling.
func resizeNearest(img *image.NRGBA, w, h int) *image.NRGBA {
	src := img.Bounds()
	if w <= 0 || h <= 0 || (w == src.Dx() && h == src.Dy()) {
		return img
	}
	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		sy := y * src.Dy() / h
		for x := 0; x < w; x++ {
			sx := x * src.Dx() / w
			out.SetNRGBA(x, y, img.NRGBAAt(sx, sy))
		}
	}
	return out
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, domain.Permanentf("encode png: %v", err)
	}
	return buf.Bytes(), nil
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	if quality <= 0 {
		quality = defaultJPEGQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, flatten(img, color.White), &jpeg.Options{Quality: quality}); err != nil {
		return nil, domain.Permanentf("encode jpeg: %v", err)
	}
	return buf.Bytes(), nil
}

func encodeGIF(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := gif.Encode(&buf, img, nil); err != nil {
		return nil, domain.Permanentf("encode gif: %v", err)
	}
	return buf.Bytes(), nil
}

// flatten composites img over a solid background; jpeg has no alpha.
func flatten(img image.Image, bg color.Color) image.Image {
	b := img.Bounds()
	out := image.NewRGBA(b)
	draw.Draw(out, b, image.NewUniform(bg), image.Point{}, draw.Src)
	draw.Draw(out, b, img, b.Min, draw.Over)
	return out
}

func clamp8(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v)
	}
}
