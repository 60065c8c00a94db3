package processing

import (
	"context"
	"fmt"
	"image"
	"strings"

	"mediaflow/internal/domain"
)

type encoders struct {
	cwebp   string
	avifenc string
}

// Convert re-encodes an image into the requested format, resizing it first
// when width and height are given.
func Convert(enc encoders) Func {
	return func(ctx context.Context, in Input) (Output, error) {
		p := in.Job.Params.Convert
		if p == nil {
			return Output{}, domain.Permanentf("convert parameters missing")
		}
		if err := checkPixels(p.Width, p.Height); err != nil {
			return Output{}, err
		}
		img, err := decodeImage(in.Files[0].Data)
		if err != nil {
			return Output{}, err
		}
		in.Progress(20)
		img = resizeNearest(img, p.Width, p.Height)
		in.Progress(50)

		var out Output
		switch format := strings.ToLower(p.OutputFormat); format {
		case "png":
			out.Data, err = encodePNG(img)
			out.MIME, out.Ext = "image/png", ".png"
		case "jpg", "jpeg":
			out.Data, err = encodeJPEG(img, p.Quality)
			out.MIME, out.Ext = "image/jpeg", ".jpg"
		case "gif":
			out.Data, err = encodeGIF(img)
			out.MIME, out.Ext = "image/gif", ".gif"
		case "webp", "avif":
			out, err = enc.external(ctx, format, img, p.Quality)
		default:
			err = domain.Permanentf("unsupported output format %q", p.OutputFormat)
		}
		if err != nil {
			return Output{}, err
		}
		in.Progress(80)
		return out, nil
	}
}

func (e encoders) external(ctx context.Context, format string, img image.Image, quality int) (Output, error) {
	if quality <= 0 {
		quality = 80
	}
	var bin string
	var args func(src, dst string) []string
	switch format {
	case "webp":
		bin = e.cwebp
		args = func(src, dst string) []string {
			return []string{"-quiet", "-q", fmt.Sprint(quality), src, "-o", dst}
		}
	case "avif":
		bin = e.avifenc
		// avifenc quantizers run 0 (best) to 63.
		q := 63 - quality*63/100
		args = func(src, dst string) []string {
			return []string{"--min", fmt.Sprint(q), "--max", fmt.Sprint(q), "--speed", "6", src, dst}
		}
	}
	if bin == "" {
		return Output{}, domain.Permanentf("%s output is not available on this server", format)
	}
	pngData, err := encodePNG(img)
	if err != nil {
		return Output{}, err
	}
	wd, err := newWorkdir()
	if err != nil {
		return Output{}, err
	}
	defer wd.cleanup()
	src, err := wd.write("input.png", pngData)
	if err != nil {
		return Output{}, err
	}
	dst := wd.path("output." + format)
	if err := runTool(ctx, bin, args(src, dst)...); err != nil {
		return Output{}, err
	}
	data, err := wd.read("output." + format)
	if err != nil {
		return Output{}, err
	}
	return Output{Data: data, MIME: "image/" + format, Ext: "." + format}, nil
}
