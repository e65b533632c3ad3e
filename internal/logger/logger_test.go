package logger

import (
	"bytes"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestLevelFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	if got := New().Logger.GetLevel(); got != logrus.WarnLevel {
		t.Errorf("level = %v, want warn", got)
	}
	for _, v := range []string{"", "verbose"} {
		t.Setenv("LOG_LEVEL", v)
		if got := New().Logger.GetLevel(); got != logrus.InfoLevel {
			t.Errorf("LOG_LEVEL=%q: level = %v, want info", v, got)
		}
	}
	t.Setenv("LOG_LEVEL", " trace ")
	if got := New().Logger.GetLevel(); got != logrus.TraceLevel {
		t.Errorf("level = %v, want trace", got)
	}
}

func TestNewToComponent(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("LOG_LEVEL", "")
	var buf bytes.Buffer
	NewTo(&buf).Component("artifacts").Info("clip uploaded")
	if out := buf.String(); !strings.Contains(out, `"component":"artifacts"`) || !strings.Contains(out, `"msg":"clip uploaded"`) {
		t.Errorf("output = %s", out)
	}
}

func TestFormatterFromEnv(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	if _, ok := New().Logger.Formatter.(*logrus.JSONFormatter); !ok {
		t.Error("production should log JSON")
	}
	t.Setenv("ENVIRONMENT", "local")
	if _, ok := New().Logger.Formatter.(*logrus.TextFormatter); !ok {
		t.Error("local should log text")
	}
}

func TestWithRequestKeepsRequestID(t *testing.T) {
	r := httptest.NewRequest("POST", "/reconstruct?session_id=S1", nil)
	r.Header.Set("X-Request-ID", "req-42")
	e := New().WithRequest(r)
	if e.Data["req_id"] != "req-42" || e.Data["path"] != "/reconstruct" || e.Data["session_id"] != "S1" {
		t.Errorf("fields = %v", e.Data)
	}
	r.Header.Del("X-Request-ID")
	if id, _ := New().WithRequest(r).Data["req_id"].(string); len(id) != 36 {
		t.Errorf("generated req_id = %q", id)
	}
}

func TestWithSessionAndError(t *testing.T) {
	l := New()
	e := l.WithSession("S1", "run-1")
	if e.Data["session_id"] != "S1" || e.Data["run_id"] != "run-1" {
		t.Errorf("fields = %v", e.Data)
	}
	if l.WithError(nil) != l.Entry {
		t.Error("nil error should return the base entry")
	}
	if got := l.WithError(errors.New("boom")).Data["error"]; got != "boom" {
		t.Errorf("error field = %v", got)
	}
}
