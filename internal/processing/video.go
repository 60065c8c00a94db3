package processing

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"mediaflow/internal/domain"
)

// Merge combines inputs of one kind: images are stacked into a single PNG,
// videos are concatenated with ffmpeg.
func Merge(ffmpeg string) Func {
	return func(ctx context.Context, in Input) (Output, error) {
		p := in.Job.Params.Merge
		if p == nil {
			return Output{}, domain.Permanentf("merge parameters missing")
		}
		if len(in.Files) < 2 {
			return Output{}, domain.Permanentf("merge needs at least two inputs")
		}
		if in.Files[0].Asset != nil && in.Files[0].Asset.Kind == domain.AssetKindVideo {
			return concatVideos(ctx, ffmpeg, in)
		}
		return stackImages(ctx, p.Direction, in)
	}
}

func stackImages(ctx context.Context, direction string, in Input) (Output, error) {
	vertical := direction == "vertical"
	width, height := 0, 0
	for _, f := range in.Files {
		cfg, err := imageSize(f.Data)
		if err != nil {
			return Output{}, err
		}
		if vertical {
			height += cfg.Height
			width = max(width, cfg.Width)
		} else {
			width += cfg.Width
			height = max(height, cfg.Height)
		}
	}
	if err := checkPixels(width, height); err != nil {
		return Output{}, err
	}
	imgs := make([]*image.NRGBA, 0, len(in.Files))
	for _, f := range in.Files {
		img, err := decodeImage(f.Data)
		if err != nil {
			return Output{}, err
		}
		imgs = append(imgs, img)
	}
	in.Progress(40)
	if err := ctx.Err(); err != nil {
		return Output{}, context.Cause(ctx)
	}

	canvas := image.NewNRGBA(image.Rect(0, 0, width, height))
	offset := image.Point{}
	for _, img := range imgs {
		b := img.Bounds()
		draw.Draw(canvas, b.Add(offset), img, b.Min, draw.Src)
		if vertical {
			offset.Y += b.Dy()
		} else {
			offset.X += b.Dx()
		}
	}
	in.Progress(80)
	data, err := encodePNG(canvas)
	if err != nil {
		return Output{}, err
	}
	return Output{Data: data, MIME: "image/png", Ext: ".png"}, nil
}

func videoExt(f File) string {
	if f.Asset != nil {
		if ext := strings.ToLower(filepath.Ext(f.Asset.Filename)); ext != "" {
			return ext
		}
		return domain.ExtensionForMIME(f.Asset.MIME)
	}
	return ".mp4"
}

func concatVideos(ctx context.Context, ffmpeg string, in Input) (Output, error) {
	if ffmpeg == "" {
		return Output{}, domain.Permanentf("video merge is not available on this server")
	}
	wd, err := newWorkdir()
	if err != nil {
		return Output{}, err
	}
	defer wd.cleanup()

	var list strings.Builder
	for i, f := range in.Files {
		p, err := wd.write(fmt.Sprintf("part%02d%s", i, videoExt(f)), f.Data)
		if err != nil {
			return Output{}, err
		}
		fmt.Fprintf(&list, "file '%s'\n", p)
	}
	listPath, err := wd.write("inputs.txt", []byte(list.String()))
	if err != nil {
		return Output{}, err
	}
	in.Progress(20)

	ext := videoExt(in.Files[0])
	out := "merged" + ext
	if err := runTool(ctx, ffmpeg, "-y", "-loglevel", "error", "-f", "concat", "-safe", "0", "-i", listPath, "-c", "copy", wd.path(out)); err != nil {
		return Output{}, err
	}
	in.Progress(80)
	data, err := wd.read(out)
	if err != nil {
		return Output{}, err
	}
	return Output{Data: data, MIME: domain.ContentTypeFor(out), Ext: ext}, nil
}

// Trim cuts a video to the requested window without re-encoding.
func Trim(ffmpeg string) Func {
	return func(ctx context.Context, in Input) (Output, error) {
		p := in.Job.Params.Trim
		if p == nil {
			return Output{}, domain.Permanentf("trim parameters missing")
		}
		src := in.Files[0]
		if src.Asset != nil && src.Asset.DurationSeconds > 0 && p.StartSeconds >= src.Asset.DurationSeconds {
			return Output{}, domain.Permanentf("trim starts at %.2fs but the video is %.2fs long", p.StartSeconds, src.Asset.DurationSeconds)
		}
		wd, err := newWorkdir()
		if err != nil {
			return Output{}, err
		}
		defer wd.cleanup()

		ext := videoExt(src)
		input, err := wd.write("input"+ext, src.Data)
		if err != nil {
			return Output{}, err
		}
		in.Progress(20)
		out := "trimmed" + ext
		args := []string{"-y", "-loglevel", "error", "-i", input,
			"-ss", formatSeconds(p.StartSeconds), "-to", formatSeconds(p.EndSeconds),
			"-c", "copy", wd.path(out)}
		if err := runTool(ctx, ffmpeg, args...); err != nil {
			return Output{}, err
		}
		in.Progress(80)
		data, err := wd.read(out)
		if err != nil {
			return Output{}, err
		}
		return Output{Data: data, MIME: domain.ContentTypeFor(out), Ext: ext}, nil
	}
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}

// Prober measures video duration with ffprobe.
type Prober struct {
	bin string
}

// NewProber returns nil when ffprobe is not installed.
func NewProber(name string) *Prober {
	bin := available(name)
	if bin == "" {
		return nil
	}
	return &Prober{bin: bin}
}

// Duration returns the container duration of data in seconds.
func (p *Prober) Duration(ctx context.Context, data []byte, ext string) (float64, error) {
	wd, err := newWorkdir()
	if err != nil {
		return 0, err
	}
	defer wd.cleanup()
	if ext == "" {
		ext = ".mp4"
	}
	input, err := wd.write("probe"+ext, data)
	if err != nil {
		return 0, err
	}
	cmd := exec.CommandContext(ctx, p.bin, "-v", "error", "-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1", input)
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return 0, fmt.Errorf("ffprobe: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return 0, fmt.Errorf("ffprobe: %w", err)
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe: unexpected duration %q", strings.TrimSpace(string(out)))
	}
	return d, nil
}
