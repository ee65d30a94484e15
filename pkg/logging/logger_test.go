package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestComponentLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewComponentLogger(NewLogger(&buf, "info", "json"), "deepgram_stt")
	log.Info("stt_connected", "conn_id", "abc")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if rec["component"] != "deepgram_stt" || rec["conn_id"] != "abc" || rec["msg"] != "stt_connected" {
		t.Fatalf("unexpected record %v", rec)
	}
}

func TestTextLoggerFiltersLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&buf, "warn", "text")
	log.Info("hidden")
	log.Warn("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Fatalf("unexpected output %q", out)
	}
}
