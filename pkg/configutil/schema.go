package configutil

import (
	"sort"
	"strings"
)

// Schema names the keys a settings bag must or may carry.
type Schema struct {
	Required     []string
	Optional     []string
	AllowUnknown bool
}

// SchemaError lists every key that failed validation, sorted.
type SchemaError struct {
	Missing []string
	Unknown []string
}

func (e *SchemaError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Unknown) > 0 {
		parts = append(parts, "unknown: "+strings.Join(e.Unknown, ", "))
	}
	return strings.Join(parts, "; ")
}

// ValidateSettings checks input against schema. Keys match regardless of
// case, underscores and hyphens; a blank string counts as missing.
func ValidateSettings(input map[string]any, schema Schema) error {
	allowed := make(map[string]struct{}, len(schema.Required)+len(schema.Optional))
	for _, k := range schema.Optional {
		allowed[normalizeKey(k)] = struct{}{}
	}
	present := make(map[string]bool, len(input))
	serr := &SchemaError{}
	for k, v := range input {
		nk := normalizeKey(k)
		if !isEmptyValue(v) {
			present[nk] = true
		}
		if _, ok := allowed[nk]; ok || schema.AllowUnknown {
			continue
		}
		if !isRequired(schema, nk) {
			serr.Unknown = append(serr.Unknown, k)
		}
	}
	for _, k := range schema.Required {
		if !present[normalizeKey(k)] {
			serr.Missing = append(serr.Missing, k)
		}
	}
	if len(serr.Missing) == 0 && len(serr.Unknown) == 0 {
		return nil
	}
	sort.Strings(serr.Missing)
	sort.Strings(serr.Unknown)
	return serr
}

func isRequired(schema Schema, normalized string) bool {
	for _, k := range schema.Required {
		if normalizeKey(k) == normalized {
			return true
		}
	}
	return false
}

func isEmptyValue(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	default:
		return false
	}
}
