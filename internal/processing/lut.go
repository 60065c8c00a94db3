package processing

import (
	"bufio"
	"bytes"
	"fmt"
	"image"
	"math"
	"strconv"
	"strings"

	"mediaflow/internal/domain"
)

// LUT is a 3D colour lookup table. Entries are ordered red fastest, then
// green, then blue.
type LUT struct {
	Size    int
	Entries [][3]uint8
}

// ParseCube reads the subset of the .cube format used by common grading
// tools: comments, TITLE, LUT_3D_SIZE and DOMAIN_* directives, followed by
// Size^3 RGB triples in 0..1. A missing size is inferred from the number of
// triples.
func ParseCube(data []byte) (*LUT, error) {
	size := 0
	var values [][3]float64
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if strings.EqualFold(fields[0], "LUT_3D_SIZE") {
			if len(fields) >= 2 {
				n, err := strconv.Atoi(fields[1])
				if err != nil || n < 2 {
					return nil, fmt.Errorf("lut: invalid LUT_3D_SIZE %q", fields[1])
				}
				size = n
			}
			continue
		}
		if len(fields) != 3 {
			continue
		}
		var rgb [3]float64
		ok := true
		for i, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				ok = false
				break
			}
			rgb[i] = v
		}
		if ok {
			values = append(values, rgb)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("lut: read: %w", err)
	}

	if size == 0 {
		root := int(math.Round(math.Cbrt(float64(len(values)))))
		if len(values) == 0 || root*root*root != len(values) {
			return nil, fmt.Errorf("lut: missing LUT_3D_SIZE and cannot infer size from %d entries", len(values))
		}
		size = root
	}
	if want := size * size * size; len(values) != want {
		return nil, fmt.Errorf("lut: expected %d entries but found %d", want, len(values))
	}
	lut := &LUT{Size: size, Entries: make([][3]uint8, len(values))}
	for i, v := range values {
		for c := 0; c < 3; c++ {
			lut.Entries[i][c] = clamp8(math.Round(v[c] * 255))
		}
	}
	return lut, nil
}

func (l *LUT) index(r, g, b int) int {
	return r + g*l.Size + b*l.Size*l.Size
}

// Apply maps every pixel through the table using nearest-neighbour lookup.
// Alpha is preserved.
func (l *LUT) Apply(img *image.NRGBA) *image.NRGBA {
	out := image.NewNRGBA(img.Bounds())
	scale := l.Size - 1
	for i := 0; i+3 < len(img.Pix); i += 4 {
		ri := int(img.Pix[i]) * scale / 255
		gi := int(img.Pix[i+1]) * scale / 255
		bi := int(img.Pix[i+2]) * scale / 255
		e := l.Entries[l.index(ri, gi, bi)]
		out.Pix[i], out.Pix[i+1], out.Pix[i+2], out.Pix[i+3] = e[0], e[1], e[2], img.Pix[i+3]
	}
	return out
}

func parseCubePermanent(data []byte) (*LUT, error) {
	lut, err := ParseCube(data)
	if err != nil {
		return nil, domain.Permanent(err)
	}
	return lut, nil
}
