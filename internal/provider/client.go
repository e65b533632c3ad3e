// Package provider talks to the voice-capture provider's HTTP API:
// reconstruction jobs and the recent-session listing.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"voice-turns-go/internal/logger"
	"voice-turns-go/internal/types"
)

var ErrNoBaseURL = errors.New("provider: base URL not set")

// APIError is a non-2xx response from the provider.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider: API error %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) IsNotFound() bool { return e.StatusCode == http.StatusNotFound }

// IsRetryable reports rate limiting and server-side errors.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     *logrus.Entry

	// MaxElapsed bounds the retries of a single request.
	MaxElapsed time.Duration
}

// New returns a client for baseURL. A nil httpClient gets a 12s-timeout default.
func New(baseURL, apiKey string, httpClient *http.Client) (*Client, error) {
	if baseURL == "" {
		return nil, ErrNoBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 12 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		http:       httpClient,
		log:        logger.New().Component("provider"),
		MaxElapsed: 12 * time.Second,
	}, nil
}

type jobResponse struct {
	JobID       string `json:"job_id"`
	Status      string `json:"status"`
	ResultURL   string `json:"result_url,omitempty"`
	ExpiresAtMs int64  `json:"expires_at_ms,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

type sessionsResponse struct {
	Sessions []types.CandidateSession `json:"sessions"`
}

// Initiate asks the provider to compile the job's full audio. The returned
// status may already be COMPLETE when the provider has a cached result.
func (c *Client) Initiate(ctx context.Context, jobID string) (types.ReconstructionJob, error) {
	var resp jobResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/reconstructions/"+url.PathEscape(jobID), &resp); err != nil {
		return types.ReconstructionJob{}, err
	}
	return toJob(jobID, resp)
}

func (c *Client) Status(ctx context.Context, jobID string) (types.ReconstructionJob, error) {
	var resp jobResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v1/reconstructions/"+url.PathEscape(jobID), &resp); err != nil {
		return types.ReconstructionJob{}, err
	}
	return toJob(jobID, resp)
}

// ListSessions returns at most limit recent provider sessions.
func (c *Client) ListSessions(ctx context.Context, limit int) ([]types.CandidateSession, error) {
	var resp sessionsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v1/sessions?limit="+strconv.Itoa(limit), &resp); err != nil {
		return nil, err
	}
	if len(resp.Sessions) > limit {
		resp.Sessions = resp.Sessions[:limit]
	}
	return resp.Sessions, nil
}

func toJob(jobID string, r jobResponse) (types.ReconstructionJob, error) {
	st, err := ParseStatus(r.Status)
	if err != nil {
		return types.ReconstructionJob{}, err
	}
	if r.JobID != "" {
		jobID = r.JobID
	}
	return types.ReconstructionJob{
		ExternalJobID: jobID,
		Status:        st,
		ResultURL:     r.ResultURL,
		ExpiresAtMs:   r.ExpiresAtMs,
		Reason:        r.Reason,
	}, nil
}

// ParseStatus maps the provider's status strings onto JobStatus.
func ParseStatus(s string) (types.JobStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "queued", "pending":
		return types.JobQueued, nil
	case "processing", "running":
		return types.JobProcessing, nil
	case "complete", "completed", "success":
		return types.JobComplete, nil
	case "failed", "error":
		return types.JobFailed, nil
	}
	return "", fmt.Errorf("provider: unknown job status %q", s)
}

// doJSON performs one API call, retrying network errors, 429 and 5xx with
// exponential backoff. Other 4xx responses fail immediately.
func (c *Client) doJSON(ctx context.Context, method, path string, target any) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = c.MaxElapsed
	var lastErr error
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			return err
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode >= 300 {
			apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
			lastErr = apiErr
			if apiErr.IsRetryable() {
				return apiErr
			}
			return backoff.Permanent(apiErr)
		}
		if len(bytes.TrimSpace(body)) == 0 {
			lastErr = fmt.Errorf("empty body")
			return lastErr
		}
		if err := json.Unmarshal(body, target); err != nil {
			lastErr = fmt.Errorf("json decode error: %v body=%s", err, string(body))
			return backoff.Permanent(lastErr)
		}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.log.WithError(err).WithField("path", path).WithField("retry_in", wait.String()).Debug("provider request failed, retrying")
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(bo, ctx), notify); err != nil {
		if lastErr != nil && ctx.Err() == nil {
			return lastErr
		}
		return err
	}
	return nil
}
