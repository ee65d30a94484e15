package configutil

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
)

// DecodeSettings decodes a host property bag into out. Input is weakly
// typed ("16000" fills an int), string values are trimmed and duration
// fields accept "250ms" style strings.
func DecodeSettings(input map[string]any, out any) error {
	if len(input) == 0 {
		return nil
	}
	cfg := &mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			trimStringHook,
			mapstructure.StringToTimeDurationHookFunc(),
		),
		MatchName: func(mapKey, fieldName string) bool {
			return normalizeKey(mapKey) == normalizeKey(fieldName)
		},
	}
	decoder, err := mapstructure.NewDecoder(cfg)
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}

// RequireString ensures a value is present for a required config field.
func RequireString(value, path string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is required", path)
	}
	return nil
}

// StringValue returns fallback when value is nil or blank.
func StringValue(value *string, fallback string) string {
	if value == nil || strings.TrimSpace(*value) == "" {
		return fallback
	}
	return strings.TrimSpace(*value)
}

// BoolValue returns fallback when value is nil.
func BoolValue(value *bool, fallback bool) bool {
	if value == nil {
		return fallback
	}
	return *value
}

// IntValue returns fallback when value is nil.
func IntValue(value *int, fallback int) int {
	if value == nil {
		return fallback
	}
	return *value
}

// DurationMS converts an optional millisecond count, returning fallback when
// value is nil or not positive.
func DurationMS(value *int, fallback time.Duration) time.Duration {
	if value == nil || *value <= 0 {
		return fallback
	}
	return time.Duration(*value) * time.Millisecond
}

func trimStringHook(from, _ reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String {
		return data, nil
	}
	return strings.TrimSpace(reflect.ValueOf(data).String()), nil
}

func normalizeKey(value string) string {
	value = strings.ToLower(value)
	value = strings.ReplaceAll(value, "_", "")
	value = strings.ReplaceAll(value, "-", "")
	return value
}
