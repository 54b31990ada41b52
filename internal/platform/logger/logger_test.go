package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewWriter_formats(t *testing.T) {
	var buf bytes.Buffer
	NewWriter(&buf, "info", "json").Info("hello", "k", 1)
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("json output: %v (%s)", err, buf.String())
	}
	if rec["msg"] != "hello" || rec["service"] != "hls-preview" {
		t.Errorf("unexpected record: %v", rec)
	}

	buf.Reset()
	NewWriter(&buf, "warn", "text").Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("info should be filtered at warn level: %q", buf.String())
	}
	NewWriter(&buf, "warn", "text").Warn("kept")
	if !strings.Contains(buf.String(), "msg=kept") {
		t.Errorf("text output: %q", buf.String())
	}
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "info", "json")

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(log))
	r.Get("/surfaces/{surface_id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short"))
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/surfaces/grid-1", nil))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v (%s)", err, buf.String())
	}
	if entry["status"] != float64(http.StatusTeapot) || entry["size"] != float64(5) {
		t.Errorf("status/size: %v", entry)
	}
	if entry["route"] != "/surfaces/{surface_id}" || entry["path"] != "/surfaces/grid-1" {
		t.Errorf("route/path: %v", entry)
	}
	if entry["request_id"] == nil || entry["request_id"] == "" {
		t.Errorf("request_id missing: %v", entry)
	}
}
