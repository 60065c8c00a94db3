package processing

import (
	"context"
	"image"
	"math"

	"mediaflow/internal/domain"
)

// Adjustments are manual grading controls. Nil fields are left alone.
type Adjustments struct {
	Hue        *int
	Saturation *int
	Brightness *int
	Contrast   *int
}

func intp(v int) *int { return &v }

// Presets are canned adjustment sets.
var Presets = map[string]Adjustments{
	"vintage":   {Hue: intp(15), Saturation: intp(-20), Brightness: intp(-10), Contrast: intp(10)},
	"cinematic": {Hue: intp(-5), Saturation: intp(10), Brightness: intp(-15), Contrast: intp(20)},
	"bright":    {Hue: intp(0), Saturation: intp(15), Brightness: intp(30), Contrast: intp(5)},
}

// ColorGrade applies a LUT, a preset or manual adjustments, in that order of
// preference.
func ColorGrade(ctx context.Context, in Input) (Output, error) {
	p := in.Job.Params.ColorGrade
	if p == nil {
		return Output{}, domain.Permanentf("color_grade parameters missing")
	}
	img, err := decodeImage(in.Files[0].Data)
	if err != nil {
		return Output{}, err
	}
	in.Progress(20)

	switch {
	case p.LUTAssetID != "":
		if len(in.LUT) == 0 {
			return Output{}, domain.Permanentf("lut asset is empty")
		}
		lut, err := parseCubePermanent(in.LUT)
		if err != nil {
			return Output{}, err
		}
		img = lut.Apply(img)
	case p.Preset != "":
		adj, ok := Presets[p.Preset]
		if !ok {
			return Output{}, domain.Permanentf("unknown preset %q", p.Preset)
		}
		adj.Apply(img)
	default:
		Adjustments{Hue: p.Hue, Saturation: p.Saturation, Brightness: p.Brightness, Contrast: p.Contrast}.Apply(img)
	}
	if err := ctx.Err(); err != nil {
		return Output{}, context.Cause(ctx)
	}
	in.Progress(80)

	data, err := encodePNG(img)
	if err != nil {
		return Output{}, err
	}
	return Output{Data: data, MIME: "image/png", Ext: ".png"}, nil
}

// Apply grades img in place: brightness, contrast, saturation, then hue.
func (a Adjustments) Apply(img *image.NRGBA) {
	pix := img.Pix
	if a.Brightness != nil {
		d := float64(*a.Brightness)
		for i := 0; i+3 < len(pix); i += 4 {
			pix[i] = clamp8(float64(pix[i]) + d)
			pix[i+1] = clamp8(float64(pix[i+1]) + d)
			pix[i+2] = clamp8(float64(pix[i+2]) + d)
		}
	}
	if a.Contrast != nil {
		c := float64(*a.Contrast)
		factor := (259 * (c + 255)) / (255 * (259 - c))
		for i := 0; i+3 < len(pix); i += 4 {
			for j := 0; j < 3; j++ {
				pix[i+j] = clamp8(factor*(float64(pix[i+j])-128) + 128)
			}
		}
	}
	if a.Saturation != nil {
		factor := (float64(*a.Saturation) + 100) / 100
		for i := 0; i+3 < len(pix); i += 4 {
			gray := float64(uint8(0.299*float64(pix[i]) + 0.587*float64(pix[i+1]) + 0.114*float64(pix[i+2])))
			for j := 0; j < 3; j++ {
				pix[i+j] = clamp8(gray + factor*(float64(pix[i+j])-gray))
			}
		}
	}
	if a.Hue != nil && *a.Hue != 0 {
		shift := float64(*a.Hue) / 360
		for i := 0; i+3 < len(pix); i += 4 {
			h, s, v := rgbToHSV(pix[i], pix[i+1], pix[i+2])
			h = math.Mod(h+shift, 1)
			if h < 0 {
				h++
			}
			pix[i], pix[i+1], pix[i+2] = hsvToRGB(h, s, v)
		}
	}
}

// rgbToHSV returns hue in [0,1).
func rgbToHSV(r8, g8, b8 uint8) (h, s, v float64) {
	r, g, b := float64(r8)/255, float64(g8)/255, float64(b8)/255
	maxC := math.Max(r, math.Max(g, b))
	minC := math.Min(r, math.Min(g, b))
	delta := maxC - minC
	switch {
	case delta == 0:
		h = 0
	case maxC == r:
		h = math.Mod((g-b)/delta, 6)
	case maxC == g:
		h = (b-r)/delta + 2
	default:
		h = (r-g)/delta + 4
	}
	h /= 6
	if h < 0 {
		h++
	}
	if maxC > 0 {
		s = delta / maxC
	}
	return h, s, maxC
}

func hsvToRGB(h, s, v float64) (uint8, uint8, uint8) {
	c := v * s
	x := c * (1 - math.Abs(math.Mod(h*6, 2)-1))
	m := v - c
	var r, g, b float64
	switch int(h * 6) {
	case 0:
		r, g, b = c, x, 0
	case 1:
		r, g, b = x, c, 0
	case 2:
		r, g, b = 0, c, x
	case 3:
		r, g, b = 0, x, c
	case 4:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}
	return clamp8(math.Round((r + m) * 255)), clamp8(math.Round((g + m) * 255)), clamp8(math.Round((b + m) * 255))
}
