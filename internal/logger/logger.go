// Package logger builds the logrus loggers shared by the api server, the
// segmenter CLI and the pipeline packages.
//
// ENVIRONMENT selects the format: text when unset or "local", JSON otherwise.
// LOG_LEVEL takes any logrus level name and falls back to info.
package logger

import (
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type Logger struct {
	*logrus.Entry
}

// New logs to stdout.
func New() *Logger {
	return NewTo(os.Stdout)
}

// NewTo logs to w. The CLI passes stderr so stdout carries only results.
func NewTo(w io.Writer) *Logger {
	base := logrus.New()
	base.SetOutput(w)
	base.SetFormatter(formatter(os.Getenv("ENVIRONMENT")))
	base.SetLevel(level(os.Getenv("LOG_LEVEL")))
	return &Logger{Entry: logrus.NewEntry(base)}
}

func formatter(env string) logrus.Formatter {
	if env == "" || env == "local" {
		return &logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339Nano,
			ForceColors:     true,
		}
	}
	return &logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano}
}

func level(s string) logrus.Level {
	lvl, err := logrus.ParseLevel(strings.TrimSpace(s))
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// Component scopes entries to one package of the pipeline.
func (l *Logger) Component(name string) *logrus.Entry {
	return l.WithField("component", name)
}

// WithRequest tags an HTTP request. X-Request-ID is kept when the caller
// sent one; the session_id query parameter is copied when present.
func (l *Logger) WithRequest(r *http.Request) *logrus.Entry {
	reqID := r.Header.Get("X-Request-ID")
	if reqID == "" {
		reqID = uuid.NewString()
	}
	fields := logrus.Fields{
		"req_id":    reqID,
		"method":    r.Method,
		"path":      r.URL.Path,
		"remote_ip": r.RemoteAddr,
	}
	if id := r.URL.Query().Get("session_id"); id != "" {
		fields["session_id"] = id
	}
	return l.WithFields(fields)
}

// WithSession tags one pipeline run.
func (l *Logger) WithSession(sessionID, runID string) *logrus.Entry {
	return l.WithFields(logrus.Fields{"session_id": sessionID, "run_id": runID})
}

// WithError records err as a string field; nil leaves the entry untouched.
func (l *Logger) WithError(err error) *logrus.Entry {
	if err == nil {
		return l.Entry
	}
	return l.Entry.WithField("error", err.Error())
}
