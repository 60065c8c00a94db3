package processing

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"mediaflow/internal/domain"
)

func solidPNG(t *testing.T, w, h int, bg color.NRGBA, center *color.NRGBA) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, bg)
		}
	}
	if center != nil {
		img.SetNRGBA(w/2, h/2, *center)
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func decodeOutput(t *testing.T, out Output) *image.NRGBA {
	t.Helper()
	img, err := decodeImage(out.Data)
	require.NoError(t, err)
	return img
}

const identityCube = `# identity
TITLE "identity"
LUT_3D_SIZE 2
DOMAIN_MIN 0 0 0
DOMAIN_MAX 1 1 1
0 0 0
1 0 0
0 1 0
1 1 0
0 0 1
1 0 1
0 1 1
1 1 1
`

func TestParseCube(t *testing.T) {
	lut, err := ParseCube([]byte(identityCube))
	require.NoError(t, err)
	require.Equal(t, 2, lut.Size)
	require.Len(t, lut.Entries, 8)
	require.Equal(t, [3]uint8{255, 0, 0}, lut.Entries[1])

	inferred := strings.Replace(identityCube, "LUT_3D_SIZE 2\n", "", 1)
	lut, err = ParseCube([]byte(inferred))
	require.NoError(t, err)
	require.Equal(t, 2, lut.Size)

	_, err = ParseCube([]byte("LUT_3D_SIZE 3\n0 0 0\n1 1 1\n"))
	require.Error(t, err)
	_, err = ParseCube([]byte("0 0 0\n1 1 1\n"))
	require.Error(t, err)
}

func TestLUTApplyInverts(t *testing.T) {
	invert := `LUT_3D_SIZE 2
1 1 1
0 1 1
1 0 1
0 0 1
1 1 0
0 1 0
1 0 0
0 0 0
`
	lut, err := ParseCube([]byte(invert))
	require.NoError(t, err)
	img := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	img.SetNRGBA(0, 0, color.NRGBA{R: 255, G: 0, B: 0, A: 200})
	out := lut.Apply(img)
	require.Equal(t, color.NRGBA{R: 0, G: 255, B: 255, A: 200}, out.NRGBAAt(0, 0))
}

func TestColorGradeLUTAndBrightness(t *testing.T) {
	white := color.NRGBA{R: 100, G: 100, B: 100, A: 255}
	src := solidPNG(t, 2, 2, white, nil)

	brightness := 50
	job := &domain.Job{Type: domain.JobTypeColorGrade, Params: domain.Parameters{ColorGrade: &domain.ColorGradeParams{Brightness: &brightness}}}
	out, err := ColorGrade(context.Background(), Input{Job: job, Files: []File{{Data: src}}, Progress: func(int) {}})
	require.NoError(t, err)
	require.Equal(t, uint8(150), decodeOutput(t, out).NRGBAAt(0, 0).R)

	job.Params.ColorGrade = &domain.ColorGradeParams{LUTAssetID: "lut"}
	_, err = ColorGrade(context.Background(), Input{Job: job, Files: []File{{Data: src}}, LUT: []byte("garbage"), Progress: func(int) {}})
	require.Error(t, err)
	require.False(t, domain.IsTransient(err))
	require.Equal(t, domain.ErrorKindPermanent, domain.ClassifyError(err))
}

func TestPresetsAreKnown(t *testing.T) {
	for _, name := range []string{"vintage", "cinematic", "bright"} {
		_, ok := Presets[name]
		require.True(t, ok, name)
	}
}

func TestHueRoundTrip(t *testing.T) {
	h, s, v := rgbToHSV(200, 40, 90)
	r, g, b := hsvToRGB(h, s, v)
	require.Equal(t, [3]uint8{200, 40, 90}, [3]uint8{r, g, b})
}

func TestRemoveBackgroundFallback(t *testing.T) {
	red := color.NRGBA{R: 255, A: 255}
	src := solidPNG(t, 5, 5, color.NRGBA{R: 255, G: 255, B: 255, A: 255}, &red)
	job := &domain.Job{ID: "j", Type: domain.JobTypeRemoveBG, Params: domain.Parameters{RemoveBG: &domain.RemoveBGParams{}}}

	fn := RemoveBackground(nil, zerolog.Nop())
	out, err := fn(context.Background(), Input{Job: job, Files: []File{{Data: src}}, Progress: func(int) {}})
	require.NoError(t, err)
	img := decodeOutput(t, out)
	require.Equal(t, uint8(0), img.NRGBAAt(0, 0).A)
	require.Equal(t, uint8(255), img.NRGBAAt(2, 2).A)

	job.Params.RemoveBG.ReplaceColor = []int{0, 0, 255}
	out, err = fn(context.Background(), Input{Job: job, Files: []File{{Data: src}}, Progress: func(int) {}})
	require.NoError(t, err)
	img = decodeOutput(t, out)
	require.Equal(t, color.NRGBA{B: 255, A: 255}, img.NRGBAAt(0, 0))
}

func TestRemoveBackgroundRemote(t *testing.T) {
	cut := solidPNG(t, 3, 3, color.NRGBA{G: 255, A: 128}, nil)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("X-Api-Key") != "secret" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if _, _, err := r.FormFile("image_file"); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(cut)
	}))
	defer srv.Close()

	src := solidPNG(t, 3, 3, color.NRGBA{R: 10, A: 255}, nil)
	job := &domain.Job{ID: "j", Type: domain.JobTypeRemoveBG, Params: domain.Parameters{RemoveBG: &domain.RemoveBGParams{}}}
	fn := RemoveBackground(NewRemoteSegmenter(RemoveBGOptions{URL: srv.URL, APIKey: "secret"}), zerolog.Nop())
	out, err := fn(context.Background(), Input{Job: job, Files: []File{{Data: src}}, Progress: func(int) {}})
	require.NoError(t, err)
	require.Equal(t, int32(1), calls.Load())
	require.Equal(t, color.NRGBA{G: 255, A: 128}, decodeOutput(t, out).NRGBAAt(1, 1))
}

func TestRemoteSegmenterClassifiesStatus(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusServiceUnavailable)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()
	seg := NewRemoteSegmenter(RemoveBGOptions{URL: srv.URL})

	_, err := seg.Segment(context.Background(), "a.png", []byte("x"))
	require.True(t, domain.IsTransient(err))

	status.Store(http.StatusBadRequest)
	_, err = seg.Segment(context.Background(), "a.png", []byte("x"))
	require.Error(t, err)
	require.False(t, domain.IsTransient(err))

	require.Nil(t, NewRemoteSegmenter(RemoveBGOptions{}))
}

func TestMergeStacksImages(t *testing.T) {
	a := solidPNG(t, 2, 3, color.NRGBA{R: 255, A: 255}, nil)
	b := solidPNG(t, 4, 1, color.NRGBA{B: 255, A: 255}, nil)
	job := &domain.Job{Type: domain.JobTypeMerge, Params: domain.Parameters{Merge: &domain.MergeParams{}}}
	files := []File{{Data: a}, {Data: b}}

	out, err := Merge("")(context.Background(), Input{Job: job, Files: files, Progress: func(int) {}})
	require.NoError(t, err)
	img := decodeOutput(t, out)
	require.Equal(t, image.Rect(0, 0, 6, 3), img.Bounds())
	require.Equal(t, uint8(255), img.NRGBAAt(0, 0).R)
	require.Equal(t, uint8(255), img.NRGBAAt(2, 0).B)

	job.Params.Merge.Direction = "vertical"
	out, err = Merge("")(context.Background(), Input{Job: job, Files: files, Progress: func(int) {}})
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 4, 4), decodeOutput(t, out).Bounds())

	video := &domain.Asset{Kind: domain.AssetKindVideo, Filename: "a.mp4"}
	_, err = Merge("")(context.Background(), Input{Job: job, Files: []File{{Asset: video}, {Asset: video}}, Progress: func(int) {}})
	require.Error(t, err)
	require.False(t, domain.IsTransient(err))
}

// oversizedPNG is a tiny file whose header claims w x h pixels.
func oversizedPNG(t *testing.T, w, h uint32) []byte {
	t.Helper()
	data := solidPNG(t, 1, 1, color.NRGBA{A: 255}, nil)
	// signature(8) length(4) "IHDR"(4) then width and height
	binary.BigEndian.PutUint32(data[16:20], w)
	binary.BigEndian.PutUint32(data[20:24], h)
	binary.BigEndian.PutUint32(data[29:33], crc32.ChecksumIEEE(data[12:29]))
	return data
}

func TestDecodeRefusesImagesOverPixelLimit(t *testing.T) {
	huge := oversizedPNG(t, 50000, 50000)
	cfg, _, err := image.DecodeConfig(bytes.NewReader(huge))
	require.NoError(t, err)
	require.Equal(t, 50000, cfg.Width)

	_, err = decodeImage(huge)
	require.ErrorContains(t, err, "pixel limit")
	require.Equal(t, domain.ErrorKindPermanent, domain.ClassifyError(err))

	job := &domain.Job{Type: domain.JobTypeConvert, Params: domain.Parameters{Convert: &domain.ConvertParams{OutputFormat: "png"}}}
	_, err = Convert(encoders{})(context.Background(), Input{Job: job, Files: []File{{Data: huge}}, Progress: func(int) {}})
	require.ErrorContains(t, err, "pixel limit")

	job.Params.Convert.Width, job.Params.Convert.Height = 8192, 8192
	small := solidPNG(t, 2, 2, color.NRGBA{A: 255}, nil)
	_, err = Convert(encoders{})(context.Background(), Input{Job: job, Files: []File{{Data: small}}, Progress: func(int) {}})
	require.ErrorContains(t, err, "pixel limit")
}

func TestMergeRefusesOversizedCanvas(t *testing.T) {
	// Each input fits on its own; side by side they do not.
	wide := oversizedPNG(t, 6000, 6000)
	job := &domain.Job{Type: domain.JobTypeMerge, Params: domain.Parameters{Merge: &domain.MergeParams{}}}
	files := []File{{Data: wide}, {Data: wide}}
	_, err := Merge("")(context.Background(), Input{Job: job, Files: files, Progress: func(int) {}})
	require.ErrorContains(t, err, "12000x6000")
	require.False(t, domain.IsTransient(err))
}

func TestConvertResizesAndEncodes(t *testing.T) {
	src := solidPNG(t, 4, 4, color.NRGBA{R: 20, G: 40, B: 60, A: 255}, nil)
	job := &domain.Job{Type: domain.JobTypeConvert, Params: domain.Parameters{Convert: &domain.ConvertParams{OutputFormat: "jpg", Width: 2, Height: 2}}}
	var seen []int
	out, err := Convert(encoders{})(context.Background(), Input{Job: job, Files: []File{{Data: src}}, Progress: func(p int) { seen = append(seen, p) }})
	require.NoError(t, err)
	require.Equal(t, "image/jpeg", out.MIME)
	img, _, err := image.Decode(bytes.NewReader(out.Data))
	require.NoError(t, err)
	require.Equal(t, 2, img.Bounds().Dx())
	require.Equal(t, []int{20, 50, 80}, seen)

	job.Params.Convert.OutputFormat = "webp"
	_, err = Convert(encoders{})(context.Background(), Input{Job: job, Files: []File{{Data: src}}, Progress: func(int) {}})
	require.Error(t, err)
	require.False(t, domain.IsTransient(err))
}

func TestRegistryInvoke(t *testing.T) {
	r := NewRegistry()
	_, err := r.Invoke(context.Background(), Input{Job: &domain.Job{Type: domain.JobTypeTrim}})
	require.Error(t, err)
	require.False(t, domain.IsTransient(err))

	r.Register(domain.JobTypeTrim, func(ctx context.Context, in Input) (Output, error) {
		in.Progress(50)
		return Output{Data: []byte("ok")}, nil
	})
	out, err := r.Invoke(context.Background(), Input{Job: &domain.Job{Type: domain.JobTypeTrim}})
	require.NoError(t, err)
	require.Equal(t, "ok", string(out.Data))
	require.Equal(t, []domain.JobType{domain.JobTypeTrim}, r.Types())

	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(domain.ErrJobCancelled)
	_, err = r.Invoke(ctx, Input{Job: &domain.Job{Type: domain.JobTypeTrim}})
	require.True(t, errors.Is(err, domain.ErrJobCancelled))
}
