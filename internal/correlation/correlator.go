// Package correlation resolves a local conversation session to the
// provider's reconstruction job id.
package correlation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"voice-turns-go/internal/logger"
	"voice-turns-go/internal/store"
	"voice-turns-go/internal/types"
)

// ErrNotFound means no stored mapping exists and no recent provider session
// started close enough to the local conversation. Callers may retry later.
var ErrNotFound = errors.New("correlation: no matching provider session")

const (
	DefaultTolerance      = 30 * time.Minute
	DefaultCandidateLimit = 20
)

type Store interface {
	GetCorrelation(ctx context.Context, sessionID string) (types.CorrelationRecord, error)
	UpsertCorrelation(ctx context.Context, rec types.CorrelationRecord) error
}

type Lister interface {
	ListSessions(ctx context.Context, limit int) ([]types.CandidateSession, error)
}

// Source says how a job id was resolved.
type Source string

const (
	SourceStore   Source = "store"
	SourceNearest Source = "nearest"
)

type Resolution struct {
	ExternalJobID string        `json:"external_job_id"`
	Source        Source        `json:"source"`
	Offset        time.Duration `json:"offset,omitempty"`
}

type Correlator struct {
	store  Store
	lister Lister

	Tolerance      time.Duration
	CandidateLimit int
	Now            func() time.Time
	Log            *logrus.Entry
}

func New(s Store, l Lister) *Correlator {
	return &Correlator{
		store:          s,
		lister:         l,
		Tolerance:      DefaultTolerance,
		CandidateLimit: DefaultCandidateLimit,
		Now:            time.Now,
		Log:            logger.New().Component("correlation"),
	}
}

// Lookup returns the stored mapping when one exists, without listing
// candidates. Otherwise it picks the recent provider session whose start is
// nearest localStart, accepted only within Tolerance (inclusive). Ties go
// to the earlier candidate in the provider's listing.
func (c *Correlator) Lookup(ctx context.Context, sessionID string, localStart time.Time) (Resolution, error) {
	log := c.Log.WithField("session_id", sessionID)

	rec, err := c.store.GetCorrelation(ctx, sessionID)
	switch {
	case err == nil:
		log.WithField("job_id", rec.ExternalJobID).Debug("correlation from store")
		return Resolution{ExternalJobID: rec.ExternalJobID, Source: SourceStore}, nil
	case !errors.Is(err, store.ErrNotFound):
		return Resolution{}, fmt.Errorf("correlation store: %w", err)
	}

	if localStart.IsZero() {
		log.Warn("no stored correlation and no local start time")
		return Resolution{}, ErrNotFound
	}
	if c.lister == nil {
		return Resolution{}, ErrNotFound
	}
	candidates, err := c.lister.ListSessions(ctx, c.CandidateLimit)
	if err != nil {
		return Resolution{}, fmt.Errorf("list provider sessions: %w", err)
	}

	var (
		best     types.CandidateSession
		bestDiff time.Duration = -1
	)
	for _, cand := range candidates {
		if cand.ID == "" {
			continue
		}
		diff := time.UnixMilli(cand.StartTimestampMs).Sub(localStart).Abs()
		if bestDiff < 0 || diff < bestDiff {
			best, bestDiff = cand, diff
		}
	}
	if bestDiff < 0 || bestDiff > c.Tolerance {
		log.WithFields(logrus.Fields{
			"candidates":   len(candidates),
			"nearest_diff": bestDiff.String(),
		}).Info("no provider session within tolerance")
		return Resolution{}, ErrNotFound
	}
	log.WithFields(logrus.Fields{"job_id": best.ID, "offset": bestDiff.String()}).Info("correlated by start time")
	return Resolution{ExternalJobID: best.ID, Source: SourceNearest, Offset: bestDiff}, nil
}

// Record writes the mapping captured when the session started.
func (c *Correlator) Record(ctx context.Context, sessionID, jobID string) error {
	return c.store.UpsertCorrelation(ctx, types.CorrelationRecord{
		SessionID:     sessionID,
		ExternalJobID: jobID,
		CapturedAt:    c.Now().UTC(),
	})
}
