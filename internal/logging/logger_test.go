package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{in: "debug", want: Debug},
		{in: "", want: Info},
		{in: " WARNING ", want: Warn},
		{in: "error", want: Error},
		{in: "loud", wantErr: true},
		{in: "fatal", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("ParseLevel(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("ParseLevel(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
}

func TestJSONLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(Debug, JSON, &buf).With(F("subsystem", "bram"))
	l.Info("bank read", F("name", "dout_a2_0"), Field{}, F("bytes", 2048))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log entry %q: %v", buf.String(), err)
	}
	if entry["msg"] != "bank read" {
		t.Fatalf("unexpected msg %v", entry["msg"])
	}
	if entry["subsystem"] != "bram" || entry["name"] != "dout_a2_0" {
		t.Fatalf("fields missing: %v", entry)
	}
	if entry["bytes"].(float64) != 2048 {
		t.Fatalf("unexpected bytes field %v", entry["bytes"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(Warn, Text, &buf)
	l.Debug("hidden")
	l.Info("hidden too")
	l.Warn("visible")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("filtered entries leaked: %q", out)
	}
	if !strings.Contains(out, "visible") || !strings.Contains(out, "WARN") {
		t.Fatalf("expected warn entry, got %q", out)
	}
}

type plainLogger struct{ Logger }

func TestSyncFlushesZapBackend(t *testing.T) {
	var buf bytes.Buffer
	l := New(Info, JSON, &buf)
	l.Info("flushed")
	if err := Sync(l); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if !strings.Contains(buf.String(), "flushed") {
		t.Fatalf("entry missing after sync: %q", buf.String())
	}
	if err := Sync(plainLogger{l}); err != nil {
		t.Fatalf("logger without a buffer: %v", err)
	}
}
