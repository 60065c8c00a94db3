package processing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"mediaflow/internal/domain"
)

const (
	backgroundThreshold = 50.0
	maxSegmentedBytes   = 32 << 20
)

// TokenSource supplies the segmentation service API key when it is not set
// in configuration.
type TokenSource interface {
	RemoveBGToken(ctx context.Context) (string, error)
}

// RemoveBGOptions configures the remote segmentation service.
type RemoveBGOptions struct {
	URL        string
	APIKey     string
	Timeout    time.Duration
	Tokens     TokenSource
	HTTPClient *http.Client
}

// RemoteSegmenter calls an HTTP background-removal service that accepts a
// multipart image_file and answers with a transparent PNG.
type RemoteSegmenter struct {
	url    string
	apiKey string
	tokens TokenSource
	client *http.Client
}

// NewRemoteSegmenter returns nil when no service URL is configured.
func NewRemoteSegmenter(opts RemoveBGOptions) *RemoteSegmenter {
	if strings.TrimSpace(opts.URL) == "" {
		return nil
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &RemoteSegmenter{url: opts.URL, apiKey: strings.TrimSpace(opts.APIKey), tokens: opts.Tokens, client: client}
}

func (s *RemoteSegmenter) key(ctx context.Context) string {
	if s.apiKey != "" || s.tokens == nil {
		return s.apiKey
	}
	key, err := s.tokens.RemoveBGToken(ctx)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(key)
}

// Segment uploads data and returns the cut-out image.
func (s *RemoteSegmenter) Segment(ctx context.Context, filename string, data []byte) (image.Image, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image_file", filename)
	if err != nil {
		return nil, domain.Permanent(err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, domain.Permanent(err)
	}
	_ = mw.WriteField("size", "auto")
	if err := mw.Close(); err != nil {
		return nil, domain.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, &body)
	if err != nil {
		return nil, domain.Permanent(err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "image/png")
	if key := s.key(ctx); key != "" {
		req.Header.Set("X-Api-Key", key)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, context.Cause(ctx)
		}
		return nil, domain.Transient(fmt.Errorf("remove_bg request: %w", err))
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxSegmentedBytes))
	if err != nil {
		return nil, domain.Transient(fmt.Errorf("remove_bg read: %w", err))
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, domain.Transient(fmt.Errorf("remove_bg service returned %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, domain.Permanentf("remove_bg service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	img, err := decodeBounded(payload)
	if err != nil {
		return nil, domain.Permanentf("remove_bg service returned an unusable image: %v", err)
	}
	return img, nil
}

// RemoveBackground cuts the subject out of an image. With a remote service
// configured it is tried first; a failing service falls back to the local
// corner-sampling estimate.
func RemoveBackground(remote *RemoteSegmenter, log zerolog.Logger) Func {
	return func(ctx context.Context, in Input) (Output, error) {
		p := in.Job.Params.RemoveBG
		if p == nil {
			return Output{}, domain.Permanentf("remove_bg parameters missing")
		}
		src := in.Files[0]
		in.Progress(20)

		var cut *image.NRGBA
		if remote != nil {
			img, err := remote.Segment(ctx, src.name(), src.Data)
			switch {
			case err == nil:
				cut = toNRGBA(img)
			case errors.Is(err, domain.ErrJobCancelled), errors.Is(err, domain.ErrJobTimeout), ctx.Err() != nil:
				return Output{}, err
			default:
				log.Warn().Err(err).Str("job_id", in.Job.ID).Msg("processing: remote background removal failed, using local estimate")
			}
		}
		if cut == nil {
			img, err := decodeImage(src.Data)
			if err != nil {
				return Output{}, err
			}
			cut = cutBackground(img)
		}
		in.Progress(80)

		var out image.Image = cut
		if len(p.ReplaceColor) == 3 {
			out = flatten(cut, color.NRGBA{R: uint8(p.ReplaceColor[0]), G: uint8(p.ReplaceColor[1]), B: uint8(p.ReplaceColor[2]), A: 255})
		}
		data, err := encodePNG(out)
		if err != nil {
			return Output{}, err
		}
		return Output{Data: data, MIME: "image/png", Ext: ".png"}, nil
	}
}

// cutBackground makes every pixel close to the averaged corner colour
// transparent.
func cutBackground(img *image.NRGBA) *image.NRGBA {
	bg := cornerColor(img)
	out := image.NewNRGBA(img.Bounds())
	copy(out.Pix, img.Pix)
	for i := 0; i+3 < len(out.Pix); i += 4 {
		c := color.NRGBA{R: out.Pix[i], G: out.Pix[i+1], B: out.Pix[i+2]}
		if colorDistance(c, bg) < backgroundThreshold {
			out.Pix[i+3] = 0
		} else {
			out.Pix[i+3] = 255
		}
	}
	return out
}

func cornerColor(img *image.NRGBA) color.NRGBA {
	b := img.Bounds()
	if b.Empty() {
		return color.NRGBA{}
	}
	corners := []color.NRGBA{
		img.NRGBAAt(b.Min.X, b.Min.Y),
		img.NRGBAAt(b.Max.X-1, b.Min.Y),
		img.NRGBAAt(b.Min.X, b.Max.Y-1),
		img.NRGBAAt(b.Max.X-1, b.Max.Y-1),
	}
	var r, g, bl int
	for _, c := range corners {
		r += int(c.R)
		g += int(c.G)
		bl += int(c.B)
	}
	return color.NRGBA{R: uint8(r / 4), G: uint8(g / 4), B: uint8(bl / 4), A: 255}
}

func colorDistance(a, b color.NRGBA) float64 {
	dr := float64(a.R) - float64(b.R)
	dg := float64(a.G) - float64(b.G)
	db := float64(a.B) - float64(b.B)
	return math.Sqrt(dr*dr + dg*dg + db*db)
}
