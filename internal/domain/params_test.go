package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeParameters(t *testing.T) {
	cases := []struct {
		name    string
		typ     JobType
		raw     string
		wantErr string
	}{
		{name: "convert ok", typ: JobTypeConvert, raw: `{"output_format":"png"}`},
		{name: "convert resize ok", typ: JobTypeConvert, raw: `{"output_format":"jpg","width":100,"height":50}`},
		{name: "convert missing format", typ: JobTypeConvert, raw: `{}`, wantErr: "params.output_format"},
		{name: "convert bad format", typ: JobTypeConvert, raw: `{"output_format":"bmp"}`, wantErr: "params.output_format"},
		{name: "convert half resize", typ: JobTypeConvert, raw: `{"output_format":"png","width":10}`, wantErr: "params.width"},
		{name: "convert unknown field", typ: JobTypeConvert, raw: `{"output_format":"png","dpi":3}`, wantErr: "params"},
		{name: "remove_bg empty", typ: JobTypeRemoveBG, raw: ``},
		{name: "remove_bg color", typ: JobTypeRemoveBG, raw: `{"replace_color":[255,255,255]}`},
		{name: "remove_bg bad color", typ: JobTypeRemoveBG, raw: `{"replace_color":[255,255]}`, wantErr: "params.replace_color"},
		{name: "color_grade preset", typ: JobTypeColorGrade, raw: `{"preset":"vintage"}`},
		{name: "color_grade lut", typ: JobTypeColorGrade, raw: `{"lut_asset_id":"7f7d3f44-6a8e-4b6e-9a53-2a1d7e1b9c10"}`},
		{name: "color_grade nothing", typ: JobTypeColorGrade, raw: `{}`, wantErr: "params"},
		{name: "color_grade hue range", typ: JobTypeColorGrade, raw: `{"hue":500}`, wantErr: "params.hue"},
		{name: "merge default", typ: JobTypeMerge, raw: `null`},
		{name: "trim ok", typ: JobTypeTrim, raw: `{"start_seconds":1,"end_seconds":4.5}`},
		{name: "trim inverted", typ: JobTypeTrim, raw: `{"start_seconds":5,"end_seconds":2}`, wantErr: "params.end_seconds"},
		{name: "unknown type", typ: JobType("blur"), raw: `{}`, wantErr: "type"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := DecodeParameters(tc.typ, json.RawMessage(tc.raw))
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if p.members() != 1 {
					t.Fatalf("expected exactly one member, got %d", p.members())
				}
				return
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Field != tc.wantErr {
				t.Fatalf("field = %q, want %q (%v)", ve.Field, tc.wantErr, err)
			}
		})
	}
}

func TestParametersRejectMismatchedVariant(t *testing.T) {
	p := Parameters{Convert: &ConvertParams{OutputFormat: "png"}}
	if err := p.Validate(JobTypeTrim); err == nil {
		t.Fatalf("expected validation error for mismatched variant")
	}
	p.Trim = &TrimParams{EndSeconds: 1}
	if err := p.Validate(JobTypeTrim); err == nil {
		t.Fatalf("expected error when two variants are set")
	}
}

func TestParametersJSONRoundTripKeepsVariant(t *testing.T) {
	hue := 15
	in := Parameters{ColorGrade: &ColorGradeParams{Hue: &hue}}
	raw, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out Parameters
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.ColorGrade == nil || out.ColorGrade.Hue == nil || *out.ColorGrade.Hue != 15 {
		t.Fatalf("variant lost: %s", raw)
	}
}
