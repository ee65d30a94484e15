package redact

import (
	"regexp"
	"strings"
	"sync/atomic"
	"unicode/utf8"
)

var enabled atomic.Bool

var (
	emailRe  = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)
	numberRe = regexp.MustCompile(`\+?\d[\d\s\-]{7,}\d`)
	// recognizers often spell digits out: "four one one two ..."
	spokenRe = regexp.MustCompile(`(?i)\b(?:(?:zero|oh|one|two|three|four|five|six|seven|eight|nine)[\s,\-]+){5,}(?:zero|oh|one|two|three|four|five|six|seven|eight|nine)\b`)
)

// DefaultClip bounds transcript text in log lines.
const DefaultClip = 120

func SetEnabled(v bool) { enabled.Store(v) }

func Enabled() bool { return enabled.Load() }

// Text masks emails and long digit runs, written or spoken, when enabled.
func Text(in string) string {
	if !enabled.Load() || strings.TrimSpace(in) == "" {
		return in
	}
	out := emailRe.ReplaceAllString(in, "[REDACTED_EMAIL]")
	out = numberRe.ReplaceAllString(out, "[REDACTED_NUMBER]")
	return spokenRe.ReplaceAllString(out, "[REDACTED_NUMBER]")
}

// Clip trims in and cuts it to at most max runes.
func Clip(in string, max int) string {
	in = strings.TrimSpace(in)
	if max <= 0 || utf8.RuneCountInString(in) <= max {
		return in
	}
	r := []rune(in)
	return string(r[:max]) + "..."
}

// Transcript prepares recognized text for a log attribute.
func Transcript(in string) string {
	return Clip(Text(in), DefaultClip)
}
