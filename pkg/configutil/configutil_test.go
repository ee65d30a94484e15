package configutil

import (
	"errors"
	"testing"
	"time"
)

func TestValidateSettingsReportsKeys(t *testing.T) {
	schema := Schema{Required: []string{"api_key"}, Optional: []string{"model"}}
	err := ValidateSettings(map[string]any{"API-Key": "  ", "model": "general", "colour": 1}, schema)
	var serr *SchemaError
	if !errors.As(err, &serr) {
		t.Fatalf("expected SchemaError, got %v", err)
	}
	if len(serr.Missing) != 1 || serr.Missing[0] != "api_key" {
		t.Fatalf("unexpected missing %v", serr.Missing)
	}
	if len(serr.Unknown) != 1 || serr.Unknown[0] != "colour" {
		t.Fatalf("unexpected unknown %v", serr.Unknown)
	}
	if err.Error() != "missing: api_key; unknown: colour" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestValidateSettingsAllowUnknown(t *testing.T) {
	schema := Schema{Required: []string{"api_key"}, AllowUnknown: true}
	if err := ValidateSettings(map[string]any{"apiKey": "k", "extra": true}, schema); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestDecodeSettingsWeakTyping(t *testing.T) {
	var out struct {
		SampleRate *int    `mapstructure:"sample_rate"`
		Language   *string `mapstructure:"language"`
	}
	if err := DecodeSettings(map[string]any{"Sample-Rate": "8000", "language": "id"}, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.SampleRate == nil || *out.SampleRate != 8000 || out.Language == nil || *out.Language != "id" {
		t.Fatalf("unexpected decode %+v", out)
	}
}

func TestValueFallbacks(t *testing.T) {
	blank, zero := " ", 0
	if StringValue(&blank, "en-US") != "en-US" || StringValue(nil, "x") != "x" {
		t.Fatalf("blank strings must fall back")
	}
	if DurationMS(&zero, time.Second) != time.Second {
		t.Fatalf("non-positive durations must fall back")
	}
	ms := 250
	if DurationMS(&ms, time.Second) != 250*time.Millisecond {
		t.Fatalf("unexpected duration")
	}
	if RequireString(" ", "deepgram.api_key") == nil {
		t.Fatalf("expected required error")
	}
}

func TestDecodeSettingsHooks(t *testing.T) {
	var out struct {
		Model   string        `mapstructure:"model"`
		Timeout time.Duration `mapstructure:"timeout"`
	}
	if err := DecodeSettings(map[string]any{"model": "  general ", "timeout": "250ms"}, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Model != "general" || out.Timeout != 250*time.Millisecond {
		t.Fatalf("unexpected decode %+v", out)
	}
}
