package log

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"INFO", zerolog.InfoLevel},
		{"warning", zerolog.WarnLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"off", zerolog.Disabled},
		{"", zerolog.InfoLevel},
		{"bogus", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := parseLogLevel(tt.in); got != tt.want {
				t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestGinLoggerLevels(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel("debug")
	t.Cleanup(func() {
		Init("development", "info")
	})

	r := gin.New()
	r.Use(GinLogger())
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/missing", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	for _, tt := range []struct {
		path  string
		level string
	}{
		{"/ok", "debug"},
		{"/missing", "warn"},
	} {
		buf.Reset()
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, tt.path, nil))

		var entry map[string]any
		if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
			t.Fatalf("log line for %s is not JSON: %v (%q)", tt.path, err, buf.String())
		}
		if entry["level"] != tt.level {
			t.Errorf("%s logged at %v, want %s", tt.path, entry["level"], tt.level)
		}
		if entry["path"] != tt.path {
			t.Errorf("path = %v, want %s", entry["path"], tt.path)
		}
	}
}

func TestGinLoggerSkipsHijacked(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel("debug")
	t.Cleanup(func() {
		Init("development", "info")
	})

	r := gin.New()
	r.Use(GinLogger())
	r.GET("/ws", func(c *gin.Context) { MarkHijacked(c) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ws", nil))
	if buf.Len() != 0 {
		t.Errorf("expected no log output for hijacked request, got %q", buf.String())
	}
}
