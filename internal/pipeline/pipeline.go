// Package pipeline runs one session end to end: correlate, wait for the
// provider's reconstruction, cut the recording into per-turn clips and
// persist them.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"voice-turns-go/internal/correlation"
	"voice-turns-go/internal/extraction"
	"voice-turns-go/internal/logger"
	"voice-turns-go/internal/reconstruction"
	"voice-turns-go/internal/store"
	"voice-turns-go/internal/timeline"
	"voice-turns-go/internal/types"
)

// ErrUnknownSession is returned when the conversation record store has no
// record for the session.
var ErrUnknownSession = errors.New("pipeline: unknown session")

// ErrNoProvider is returned by Run when the pipeline was built without a
// provider client. Retry still works.
var ErrNoProvider = errors.New("pipeline: no provider configured")

type Conversations interface {
	GetConversation(ctx context.Context, sessionID string) (types.Conversation, error)
	SetFullAudioRef(ctx context.Context, sessionID, ref string) error
}

type Correlator interface {
	Lookup(ctx context.Context, sessionID string, localStart time.Time) (correlation.Resolution, error)
}

type Jobs interface {
	Initiate(ctx context.Context, jobID string) (types.ReconstructionJob, error)
	PollUntilTerminal(ctx context.Context, jobID string, maxAttempts int, interval time.Duration) (types.ReconstructionJob, error)
	Result(ctx context.Context, jobID string) (types.ReconstructionJob, error)
}

type Extractor interface {
	Extract(ctx context.Context, sessionID string, src extraction.Source, segments []types.Segment) (extraction.Result, error)
}

type Persister interface {
	Persist(ctx context.Context, sessionID string, results []types.ExtractionResult) []types.PersistedArtifact
	RetryPending(ctx context.Context, sessionID string) ([]types.PersistedArtifact, error)
}

type Pipeline struct {
	conversations Conversations
	correlator    Correlator
	jobs          Jobs
	extractor     Extractor
	persister     Persister

	Calculator      timeline.Calculator
	PollMaxAttempts int
	PollInterval    time.Duration
	// Strict stops a run with InvalidTimeline when the validator reports issues.
	Strict bool
	Log    *logger.Logger

	locks *sessionLocks
}

func New(conv Conversations, corr Correlator, jobs Jobs, ext Extractor, pers Persister) *Pipeline {
	return &Pipeline{
		conversations:   conv,
		correlator:      corr,
		jobs:            jobs,
		extractor:       ext,
		persister:       pers,
		Calculator:      timeline.Calculator{TailMs: timeline.DefaultTailMs},
		PollMaxAttempts: 40,
		PollInterval:    1500 * time.Millisecond,
		Log:             logger.New(),
		locks:           newSessionLocks(),
	}
}

// run is the working state of one invocation. It lives only for the call.
type run struct {
	id        string
	sessionID string
	started   time.Time
	log       *logrus.Entry
}

func (p *Pipeline) newRun(sessionID string) *run {
	id := uuid.NewString()
	return &run{
		id:        id,
		sessionID: sessionID,
		started:   time.Now(),
		log:       p.Log.WithSession(sessionID, id),
	}
}

func (r *run) outcome(kind Kind, reason string) Outcome {
	return Outcome{Kind: kind, SessionID: r.sessionID, RunID: r.id, Reason: reason}
}

// RunWithTimeout is Run under an overall deadline.
func (p *Pipeline) RunWithTimeout(sessionID string, timeout time.Duration) (Outcome, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return p.Run(ctx, sessionID)
}

// Run processes one session. Recoverable and terminal pipeline conditions
// are reported through Outcome.Kind; the error is non-nil only for
// infrastructure faults and unknown sessions. Runs for the same session are
// serialized; a run still waiting for the lock when ctx ends reports Pending.
func (p *Pipeline) Run(ctx context.Context, sessionID string) (Outcome, error) {
	r := p.newRun(sessionID)
	if err := types.ValidateSessionID(sessionID); err != nil {
		return r.outcome(KindError, ""), err
	}

	unlock, err := p.locks.acquire(ctx, sessionID)
	if err != nil {
		r.log.Info("cancelled while waiting for another run of this session")
		return r.outcome(KindPending, "cancelled while waiting for session lock"), nil
	}
	defer unlock()

	r.log.Info("pipeline run started")
	out, err := p.run(ctx, r)
	entry := r.log.WithFields(logrus.Fields{
		"outcome":     out.Kind,
		"duration_ms": time.Since(r.started).Milliseconds(),
	})
	switch {
	case err != nil:
		entry.WithError(err).Error("pipeline run aborted")
	case out.Summary != nil:
		entry.WithFields(logrus.Fields{
			"extracted": out.Summary.ExtractedCount,
			"persisted": out.Summary.PersistedCount,
			"failed":    out.Summary.FailedCount,
		}).Info("pipeline run finished")
	default:
		entry.WithField("reason", out.Reason).Info("pipeline run finished")
	}
	return out, err
}

func (p *Pipeline) run(ctx context.Context, r *run) (Outcome, error) {
	if p.jobs == nil || p.correlator == nil {
		return r.outcome(KindError, ""), ErrNoProvider
	}
	conv, err := p.conversations.GetConversation(ctx, r.sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return r.outcome(KindError, ""), fmt.Errorf("%w: %s", ErrUnknownSession, r.sessionID)
	}
	if err != nil {
		return r.outcome(KindError, ""), fmt.Errorf("load conversation: %w", err)
	}
	if len(conv.Turns) == 0 {
		out := r.outcome(KindCompleted, "no turns")
		out.Summary = &Summary{Success: true, Segments: []SegmentOutcome{}}
		return out, nil
	}

	records := make([]types.TurnRecord, len(conv.Turns))
	copy(records, conv.Turns)
	sort.SliceStable(records, func(i, j int) bool { return records[i].TurnNumber < records[j].TurnNumber })

	report := timeline.Validate(records)
	for _, is := range report.Issues {
		r.log.WithFields(logrus.Fields{"turn_number": is.TurnNumber, "issue": is.Message}).Warn("timeline issue")
	}
	if !report.Valid && p.Strict {
		out := r.outcome(KindInvalidTimeline, fmt.Sprintf("%d timeline issues", len(report.Issues)))
		out.Issues = report.Issues
		return out, nil
	}

	turns := make([]types.Turn, len(records))
	for i, rec := range records {
		turns[i] = rec.Turn()
	}
	anchor := anchorTime(conv.StartedAt, turns)
	ctx = reconstruction.WithCache(ctx)

	res, err := p.correlator.Lookup(ctx, r.sessionID, anchor)
	if errors.Is(err, correlation.ErrNotFound) {
		return r.outcome(KindNotFound, "no provider session within tolerance"), nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return r.outcome(KindPending, ctx.Err().Error()), nil
		}
		return r.outcome(KindError, ""), fmt.Errorf("correlate: %w", err)
	}
	jobID := res.ExternalJobID
	r.log = r.log.WithField("job_id", jobID)
	r.log.WithField("source", res.Source).Info("session correlated")

	job, err := p.jobs.Initiate(ctx, jobID)
	if err == nil && job.Status != types.JobComplete {
		job, err = p.jobs.PollUntilTerminal(ctx, jobID, p.PollMaxAttempts, p.PollInterval)
	}
	if err == nil {
		job, err = p.jobs.Result(ctx, jobID)
	}
	if err != nil {
		out := r.outcome(jobKind(ctx, err), err.Error())
		out.JobID = jobID
		return out, nil
	}

	segments := p.Calculator.Compute(turns, anchor)
	ext, err := p.extractor.Extract(ctx, r.sessionID, extraction.Source{URL: job.ResultURL, ExpiresAtMs: job.ExpiresAtMs}, segments)
	if errors.Is(err, extraction.ErrDownload) {
		out := r.outcome(KindDownloadFailure, err.Error())
		out.JobID = jobID
		return out, nil
	}
	if err != nil {
		return r.outcome(KindError, ""), fmt.Errorf("extract: %w", err)
	}
	if ext.SourceRef != "" {
		if err := p.conversations.SetFullAudioRef(context.WithoutCancel(ctx), r.sessionID, ext.SourceRef); err != nil {
			r.log.WithError(err).Warn("write back full audio reference")
		}
	}

	artifacts := p.persister.Persist(ctx, r.sessionID, ext.Segments)
	out := r.outcome(KindCompleted, "")
	out.JobID = jobID
	out.Issues = report.Issues
	out.Summary = buildSummary(ext, artifacts)
	if err := ctx.Err(); err != nil {
		out.Reason = "partial: " + err.Error()
	}
	return out, nil
}

// jobKind maps a job client error to an outcome. Provider refusals that
// will not change on retry count as provider failures.
func jobKind(ctx context.Context, err error) Kind {
	if errors.Is(err, reconstruction.ErrJobFailed) {
		return KindProviderFailure
	}
	if errors.Is(err, reconstruction.ErrPending) || ctx.Err() != nil {
		return KindPending
	}
	var retryable interface{ IsRetryable() bool }
	if errors.As(err, &retryable) && !retryable.IsRetryable() {
		return KindProviderFailure
	}
	return KindPending
}

// AnchorTime is the local start a conversation is correlated against.
func AnchorTime(conv types.Conversation) time.Time {
	turns := make([]types.Turn, len(conv.Turns))
	for i, rec := range conv.Turns {
		turns[i] = rec.Turn()
	}
	return anchorTime(conv.StartedAt, turns)
}

// anchorTime is the recorded start, or the earliest parsable turn timestamp
// when the record has none.
func anchorTime(startedAt time.Time, turns []types.Turn) time.Time {
	if !startedAt.IsZero() {
		return startedAt
	}
	var first time.Time
	for _, t := range turns {
		if !t.Timestamp.IsZero() && (first.IsZero() || t.Timestamp.Before(first)) {
			first = t.Timestamp
		}
	}
	return first
}

// Retry re-uploads clips left behind by failed uploads without extracting
// again. It shares the session lock with Run.
func (p *Pipeline) Retry(ctx context.Context, sessionID string) (RetryResult, error) {
	if err := types.ValidateSessionID(sessionID); err != nil {
		return RetryResult{}, err
	}
	r := p.newRun(sessionID)
	unlock, err := p.locks.acquire(ctx, sessionID)
	if err != nil {
		return RetryResult{}, err
	}
	defer unlock()

	artifacts, err := p.persister.RetryPending(ctx, sessionID)
	if err != nil {
		return RetryResult{}, err
	}
	out := RetryResult{SessionID: sessionID, RunID: r.id, Artifacts: artifacts}
	for _, a := range artifacts {
		if a.Err == nil && a.Status == types.ArtifactUploaded {
			out.Uploaded++
		} else {
			out.Failed++
		}
	}
	r.log.WithFields(logrus.Fields{"uploaded": out.Uploaded, "failed": out.Failed}).Info("retry pass finished")
	return out, nil
}
