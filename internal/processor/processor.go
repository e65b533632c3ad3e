// Package processor runs the pipeline over a batch of sessions.
package processor

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"voice-turns-go/internal/dataset"
	"voice-turns-go/internal/logger"
	"voice-turns-go/internal/pipeline"
)

type Runner interface {
	Run(ctx context.Context, sessionID string) (pipeline.Outcome, error)
}

// Recorder stores a session's provider job id captured outside the pipeline.
type Recorder interface {
	Record(ctx context.Context, sessionID, jobID string) error
}

type Batch struct {
	runner   Runner
	recorder Recorder

	Concurrency int
	// Timeout bounds each session's run; zero means no per-session deadline.
	Timeout time.Duration
	Log     *logrus.Entry
}

func New(r Runner, rec Recorder) *Batch {
	return &Batch{
		runner:      r,
		recorder:    rec,
		Concurrency: 2,
		Timeout:     5 * time.Minute,
		Log:         logger.New().Component("processor"),
	}
}

// Run processes every row and returns one outcome per row in row order.
// Infrastructure errors are folded into an outcome of kind error.
func (b *Batch) Run(ctx context.Context, rows []dataset.Row) []pipeline.Outcome {
	out := make([]pipeline.Outcome, len(rows))
	var g errgroup.Group
	g.SetLimit(max(b.Concurrency, 1))
	for i, row := range rows {
		g.Go(func() error {
			out[i] = b.one(ctx, row)
			return nil
		})
	}
	g.Wait()
	return out
}

func (b *Batch) one(ctx context.Context, row dataset.Row) pipeline.Outcome {
	log := b.Log.WithFields(logrus.Fields{"session_id": row.SessionID, "line": row.Line})
	start := time.Now()

	if row.JobID != "" && b.recorder != nil {
		if err := b.recorder.Record(ctx, row.SessionID, row.JobID); err != nil {
			log.WithError(err).Warn("record correlation from workbook")
		}
	}

	if b.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.Timeout)
		defer cancel()
	}
	o, err := b.runner.Run(ctx, row.SessionID)
	if err != nil {
		o.SessionID = row.SessionID
		o.Kind = pipeline.KindError
		o.Reason = err.Error()
		log.WithError(err).Error("session failed")
	}
	log.WithFields(logrus.Fields{"outcome": o.Kind, "duration_ms": time.Since(start).Milliseconds()}).Info("session processed")
	return o
}
