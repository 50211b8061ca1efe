package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestNewWriterLevels(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		logFn   func(l *Logger)
		wantOut bool
	}{
		{
			name:    "info passes at info level",
			level:   "info",
			logFn:   func(l *Logger) { l.Info("hello") },
			wantOut: true,
		},
		{
			name:    "debug suppressed at info level",
			level:   "info",
			logFn:   func(l *Logger) { l.Debug("hidden") },
			wantOut: false,
		},
		{
			name:    "warn passes at warn level",
			level:   "warn",
			logFn:   func(l *Logger) { l.Warn("careful") },
			wantOut: true,
		},
		{
			name:    "info suppressed at error level",
			level:   "error",
			logFn:   func(l *Logger) { l.Info("hidden") },
			wantOut: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			l := NewWriter(&buf, tt.level)
			tt.logFn(l)

			got := buf.Len() > 0
			if got != tt.wantOut {
				t.Errorf("output written = %v, want %v (buf=%q)", got, tt.wantOut, buf.String())
			}
		})
	}
}

func TestWithFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, "info")

	l.WithFields(map[string]interface{}{
		"run_id": "20260831_120000",
		"stage":  "fetch",
	}).Info("stage started")

	var doc map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}

	if doc["run_id"] != "20260831_120000" {
		t.Errorf("run_id field missing or wrong: %v", doc["run_id"])
	}
	if doc["stage"] != "fetch" {
		t.Errorf("stage field missing or wrong: %v", doc["stage"])
	}
	if doc["message"] != "stage started" {
		t.Errorf("message missing: %v", doc["message"])
	}
}

func TestWithError(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, "info")

	l.WithError(errors.New("boom")).Error("stage failed")

	if !strings.Contains(buf.String(), "boom") {
		t.Errorf("error field not present in output: %s", buf.String())
	}
}

func TestNewNop(t *testing.T) {
	l := NewNop()
	// Must not panic or write anywhere.
	l.Info("discarded")
	l.WithField("k", "v").Error("discarded")
}
