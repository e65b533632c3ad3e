package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"voice-turns-go/internal/app"
	"voice-turns-go/internal/logger"
	"voice-turns-go/internal/pipeline"
	"voice-turns-go/internal/types"
)

type runner interface {
	Run(ctx context.Context, sessionID string) (pipeline.Outcome, error)
	Retry(ctx context.Context, sessionID string) (pipeline.RetryResult, error)
}

type conversations interface {
	PutConversation(ctx context.Context, c types.Conversation) error
}

type recorder interface {
	Record(ctx context.Context, sessionID, jobID string) error
}

type server struct {
	pipe  runner
	convs conversations
	corr  recorder
	ping  func(ctx context.Context) error
	log   *logger.Logger

	defaultTimeout time.Duration
}

func newServer(a *app.App, log *logger.Logger) *server {
	return &server{
		pipe:           a.Pipeline,
		convs:          a.DB,
		corr:           a.Correlator,
		ping:           a.Ping,
		log:            log,
		defaultTimeout: 5 * time.Minute,
	}
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	// health
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		s.log.WithRequest(r).Debug("health check")
		fmt.Fprint(w, "ok")
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.ping(ctx); err != nil {
			s.log.WithRequest(r).WithError(err).Warn("provider not ready")
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, "ok")
	})

	mux.HandleFunc("POST /reconstruct", s.handleReconstruct)
	mux.HandleFunc("POST /retry", s.handleRetry)
	mux.HandleFunc("POST /conversations", s.handleConversation)
	mux.HandleFunc("POST /correlations", s.handleCorrelation)
	return mux
}

func (s *server) handleReconstruct(w http.ResponseWriter, r *http.Request) {
	reqLog := s.log.WithRequest(r).WithField("handler", "reconstruct")
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		reqLog.Warn("missing session_id")
		http.Error(w, "missing session_id", http.StatusBadRequest)
		return
	}
	if err := types.ValidateSessionID(sessionID); err != nil {
		reqLog.WithError(err).Warn("rejected session_id")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	timeout := s.defaultTimeout
	if t := r.URL.Query().Get("timeout_sec"); t != "" {
		var sec int
		if _, err := fmt.Sscanf(t, "%d", &sec); err != nil || sec <= 0 {
			http.Error(w, "invalid timeout_sec", http.StatusBadRequest)
			return
		}
		timeout = time.Duration(sec) * time.Second
	}
	reqLog = reqLog.WithFields(logrus.Fields{"session_id": sessionID, "timeout_sec": int(timeout.Seconds())})

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()
	start := time.Now()
	out, err := s.pipe.Run(ctx, sessionID)
	reqLog = reqLog.WithField("duration_ms", time.Since(start).Milliseconds())
	if err != nil {
		reqLog.WithError(err).Warn("pipeline returned error")
		writeError(w, reqLog, err)
		return
	}
	reqLog.WithField("outcome", out.Kind).Info("pipeline finished")
	writeJSON(w, reqLog, http.StatusOK, out)
}

func (s *server) handleRetry(w http.ResponseWriter, r *http.Request) {
	reqLog := s.log.WithRequest(r).WithField("handler", "retry")
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, "missing session_id", http.StatusBadRequest)
		return
	}
	if err := types.ValidateSessionID(sessionID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := s.pipe.Retry(r.Context(), sessionID)
	if err != nil {
		reqLog.WithError(err).Warn("retry failed")
		writeError(w, reqLog, err)
		return
	}
	writeJSON(w, reqLog, http.StatusOK, res)
}

// handleConversation stores a conversation record. An optional job_id query
// parameter records the provider job captured for it.
func (s *server) handleConversation(w http.ResponseWriter, r *http.Request) {
	reqLog := s.log.WithRequest(r).WithField("handler", "conversations")
	var conv types.Conversation
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 8<<20)).Decode(&conv); err != nil {
		http.Error(w, "invalid body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if conv.SessionID == "" {
		http.Error(w, "missing session_id", http.StatusBadRequest)
		return
	}
	if err := types.ValidateSessionID(conv.SessionID); err != nil {
		reqLog.WithError(err).Warn("rejected session_id")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.convs.PutConversation(r.Context(), conv); err != nil {
		writeError(w, reqLog, err)
		return
	}
	if jobID := r.URL.Query().Get("job_id"); jobID != "" {
		if err := s.corr.Record(r.Context(), conv.SessionID, jobID); err != nil {
			writeError(w, reqLog, err)
			return
		}
	}
	reqLog.WithFields(logrus.Fields{"session_id": conv.SessionID, "turns": len(conv.Turns)}).Info("conversation stored")
	writeJSON(w, reqLog, http.StatusCreated, map[string]any{"session_id": conv.SessionID, "turns": len(conv.Turns)})
}

func (s *server) handleCorrelation(w http.ResponseWriter, r *http.Request) {
	reqLog := s.log.WithRequest(r).WithField("handler", "correlations")
	sessionID, jobID := r.URL.Query().Get("session_id"), r.URL.Query().Get("job_id")
	if sessionID == "" || jobID == "" {
		http.Error(w, "session_id and job_id are required", http.StatusBadRequest)
		return
	}
	if err := types.ValidateSessionID(sessionID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.corr.Record(r.Context(), sessionID, jobID); err != nil {
		writeError(w, reqLog, err)
		return
	}
	writeJSON(w, reqLog, http.StatusCreated, map[string]string{"session_id": sessionID, "job_id": jobID})
}

func writeError(w http.ResponseWriter, log *logrus.Entry, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, pipeline.ErrUnknownSession):
		status = http.StatusNotFound
	case errors.Is(err, pipeline.ErrNoProvider):
		status = http.StatusServiceUnavailable
	case errors.Is(err, types.ErrInvalidSessionID):
		status = http.StatusBadRequest
	}
	writeJSON(w, log, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, log *logrus.Entry, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.WithError(err).Error("failed to write response")
	}
}
