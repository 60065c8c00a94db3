package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Parameters is a tagged variant keyed by job type. Exactly one member is set.
type Parameters struct {
	Convert    *ConvertParams    `json:"convert,omitempty"`
	RemoveBG   *RemoveBGParams   `json:"remove_bg,omitempty"`
	ColorGrade *ColorGradeParams `json:"color_grade,omitempty"`
	Merge      *MergeParams      `json:"merge,omitempty"`
	Trim       *TrimParams       `json:"trim,omitempty"`
}

// ConvertParams re-encodes an image, optionally resizing it.
type ConvertParams struct {
	OutputFormat string `json:"output_format" validate:"required,oneof=png jpg jpeg gif webp avif"`
	Width        int    `json:"width,omitempty" validate:"omitempty,min=1,max=8192"`
	Height       int    `json:"height,omitempty" validate:"omitempty,min=1,max=8192"`
	Quality      int    `json:"quality,omitempty" validate:"omitempty,min=1,max=100"`
}

// RemoveBGParams controls background removal.
type RemoveBGParams struct {
	ReplaceColor []int `json:"replace_color,omitempty" validate:"omitempty,len=3,dive,min=0,max=255"`
}

// ColorGradeParams selects a LUT, a preset or manual adjustments.
type ColorGradeParams struct {
	Preset     string `json:"preset,omitempty" validate:"omitempty,oneof=vintage cinematic bright"`
	LUTAssetID string `json:"lut_asset_id,omitempty" validate:"omitempty,uuid"`
	Hue        *int   `json:"hue,omitempty" validate:"omitempty,min=-180,max=180"`
	Saturation *int   `json:"saturation,omitempty" validate:"omitempty,min=-100,max=100"`
	Brightness *int   `json:"brightness,omitempty" validate:"omitempty,min=-255,max=255"`
	Contrast   *int   `json:"contrast,omitempty" validate:"omitempty,min=-255,max=255"`
}

// HasAdjustments reports whether any manual adjustment is set.
func (p *ColorGradeParams) HasAdjustments() bool {
	return p.Hue != nil || p.Saturation != nil || p.Brightness != nil || p.Contrast != nil
}

// MergeParams combines several inputs into one output.
type MergeParams struct {
	Direction string `json:"direction,omitempty" validate:"omitempty,oneof=horizontal vertical"`
}

// TrimParams cuts a video to [StartSeconds, EndSeconds).
type TrimParams struct {
	StartSeconds float64 `json:"start_seconds" validate:"min=0"`
	EndSeconds   float64 `json:"end_seconds" validate:"gtfield=StartSeconds,max=30"`
}

// DecodeParameters parses the raw parameter payload for t into its typed record
// and validates it. An empty payload yields the record's zero value.
func DecodeParameters(t JobType, raw json.RawMessage) (Parameters, error) {
	if !t.Valid() {
		return Parameters{}, NewValidationError("type", fmt.Sprintf("unsupported job type %q", t))
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		raw = []byte("{}")
	}
	var p Parameters
	var target any
	switch t {
	case JobTypeConvert:
		p.Convert = &ConvertParams{}
		target = p.Convert
	case JobTypeRemoveBG:
		p.RemoveBG = &RemoveBGParams{}
		target = p.RemoveBG
	case JobTypeColorGrade:
		p.ColorGrade = &ColorGradeParams{}
		target = p.ColorGrade
	case JobTypeMerge:
		p.Merge = &MergeParams{}
		target = p.Merge
	case JobTypeTrim:
		p.Trim = &TrimParams{}
		target = p.Trim
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return Parameters{}, NewValidationError("params", "malformed parameters: "+err.Error())
	}
	if err := p.Validate(t); err != nil {
		return Parameters{}, err
	}
	return p, nil
}

// Validate checks that exactly the member for t is set and that it is well formed.
func (p Parameters) Validate(t JobType) error {
	var target any
	switch t {
	case JobTypeConvert:
		if p.Convert == nil {
			return NewValidationError("params", "convert parameters required")
		}
		if (p.Convert.Width == 0) != (p.Convert.Height == 0) {
			return NewValidationError("params.width", "width and height must be set together")
		}
		target = p.Convert
	case JobTypeRemoveBG:
		if p.RemoveBG == nil {
			return NewValidationError("params", "remove_bg parameters required")
		}
		target = p.RemoveBG
	case JobTypeColorGrade:
		cg := p.ColorGrade
		if cg == nil {
			return NewValidationError("params", "color_grade parameters required")
		}
		if cg.Preset == "" && cg.LUTAssetID == "" && !cg.HasAdjustments() {
			return NewValidationError("params", "one of preset, lut_asset_id or an adjustment is required")
		}
		target = cg
	case JobTypeMerge:
		if p.Merge == nil {
			return NewValidationError("params", "merge parameters required")
		}
		target = p.Merge
	case JobTypeTrim:
		if p.Trim == nil {
			return NewValidationError("params", "trim parameters required")
		}
		target = p.Trim
	default:
		return NewValidationError("type", fmt.Sprintf("unsupported job type %q", t))
	}
	if p.members() != 1 {
		return NewValidationError("params", "exactly one parameter record must be set")
	}
	if err := validate.Struct(target); err != nil {
		return translateValidation(err)
	}
	return nil
}

func (p Parameters) members() int {
	n := 0
	for _, set := range []bool{p.Convert != nil, p.RemoveBG != nil, p.ColorGrade != nil, p.Merge != nil, p.Trim != nil} {
		if set {
			n++
		}
	}
	return n
}

func translateValidation(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return NewValidationError("params", err.Error())
	}
	fe := fieldErrs[0]
	field := "params." + toSnake(fe.Field())
	switch fe.Tag() {
	case "required":
		return NewValidationError(field, "is required")
	case "oneof":
		return NewValidationError(field, "must be one of: "+strings.ReplaceAll(fe.Param(), " ", ","))
	case "min", "max", "len":
		return NewValidationError(field, fmt.Sprintf("violates %s=%s", fe.Tag(), fe.Param()))
	case "gtfield":
		return NewValidationError(field, "must be greater than "+toSnake(fe.Param()))
	case "uuid":
		return NewValidationError(field, "must be a uuid")
	default:
		return NewValidationError(field, "is invalid")
	}
}

func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// InputRule describes which inputs a job type accepts.
type InputRule struct {
	Min, Max int
	Kinds    []AssetKind
	// SameKind requires every input to share one kind.
	SameKind bool
}

// InputRules lists input constraints per job type.
var InputRules = map[JobType]InputRule{
	JobTypeConvert:    {Min: 1, Max: 1, Kinds: []AssetKind{AssetKindImage}},
	JobTypeRemoveBG:   {Min: 1, Max: 1, Kinds: []AssetKind{AssetKindImage}},
	JobTypeColorGrade: {Min: 1, Max: 1, Kinds: []AssetKind{AssetKindImage}},
	JobTypeMerge:      {Min: 2, Max: 10, Kinds: []AssetKind{AssetKindImage, AssetKindVideo}, SameKind: true},
	JobTypeTrim:       {Min: 1, Max: 1, Kinds: []AssetKind{AssetKindVideo}},
}

// Allows reports whether kind is an accepted input kind.
func (r InputRule) Allows(kind AssetKind) bool {
	for _, k := range r.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}
