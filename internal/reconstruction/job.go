// Package reconstruction drives the provider's full-session audio job:
// QUEUED -> PROCESSING -> COMPLETE | FAILED. The client only observes
// transitions; it never moves a job itself.
package reconstruction

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"voice-turns-go/internal/logger"
	"voice-turns-go/internal/types"
)

var (
	// ErrPending means the job was not terminal when polling stopped,
	// either because the attempt budget ran out or the context ended.
	ErrPending = errors.New("reconstruction: job still pending")

	// ErrJobFailed means the provider reported FAILED. It is terminal.
	ErrJobFailed = errors.New("reconstruction: job failed")

	errNotTerminal = errors.New("not terminal")
)

// API is the provider surface the job client needs.
type API interface {
	Initiate(ctx context.Context, jobID string) (types.ReconstructionJob, error)
	Status(ctx context.Context, jobID string) (types.ReconstructionJob, error)
}

type Client struct {
	api API

	// Now and NewTimer are replaced in tests.
	Now      func() time.Time
	NewTimer func() backoff.Timer

	// ExpirySkew is subtracted from a result's expiry before it is reused.
	ExpirySkew time.Duration

	Log *logrus.Entry
}

func NewClient(api API) *Client {
	return &Client{
		api:        api,
		Now:        time.Now,
		ExpirySkew: 5 * time.Second,
		Log:        logger.New().Component("reconstruction"),
	}
}

type cacheKey struct{}

// resultCache holds COMPLETE jobs seen during one run.
type resultCache struct {
	mu   sync.Mutex
	jobs map[string]types.ReconstructionJob
}

// WithCache returns a context under which the client reuses COMPLETE jobs
// until their URL expires. The cache lives as long as the returned context
// is in use; without one every call goes to the provider.
func WithCache(ctx context.Context) context.Context {
	return context.WithValue(ctx, cacheKey{}, &resultCache{jobs: make(map[string]types.ReconstructionJob)})
}

func cacheFrom(ctx context.Context) *resultCache {
	rc, _ := ctx.Value(cacheKey{}).(*resultCache)
	return rc
}

// cached returns a COMPLETE job whose signed URL is still usable.
func (c *Client) cached(ctx context.Context, jobID string) (types.ReconstructionJob, bool) {
	rc := cacheFrom(ctx)
	if rc == nil {
		return types.ReconstructionJob{}, false
	}
	rc.mu.Lock()
	defer rc.mu.Unlock()
	job, ok := rc.jobs[jobID]
	if !ok {
		return job, false
	}
	if job.Expired(c.Now().Add(c.ExpirySkew)) {
		delete(rc.jobs, jobID)
		return job, false
	}
	return job, true
}

func (c *Client) observe(ctx context.Context, job types.ReconstructionJob) {
	rc := cacheFrom(ctx)
	if rc == nil || job.Status != types.JobComplete {
		return
	}
	rc.mu.Lock()
	rc.jobs[job.ExternalJobID] = job
	rc.mu.Unlock()
}

// Initiate starts (or re-attaches to) the job. Under WithCache an unexpired
// COMPLETE result is returned without contacting the provider.
func (c *Client) Initiate(ctx context.Context, jobID string) (types.ReconstructionJob, error) {
	if job, ok := c.cached(ctx, jobID); ok {
		return job, nil
	}
	job, err := c.api.Initiate(ctx, jobID)
	if err != nil {
		return types.ReconstructionJob{}, fmt.Errorf("initiate %s: %w", jobID, err)
	}
	c.observe(ctx, job)
	c.Log.WithFields(logrus.Fields{"job_id": jobID, "status": job.Status}).Info("reconstruction initiated")
	if job.Status == types.JobFailed {
		return job, fmt.Errorf("%w: %s", ErrJobFailed, job.Reason)
	}
	return job, nil
}

// PollUntilTerminal queries the job at a fixed interval, at most maxAttempts
// times. It returns the COMPLETE job, ErrJobFailed, or ErrPending when the
// budget or ctx runs out first. Status errors count as attempts; a
// non-retryable provider error ends polling with that error.
func (c *Client) PollUntilTerminal(ctx context.Context, jobID string, maxAttempts int, interval time.Duration) (types.ReconstructionJob, error) {
	if job, ok := c.cached(ctx, jobID); ok {
		return job, nil
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	log := c.Log.WithField("job_id", jobID)

	var (
		last    types.ReconstructionJob
		fatal   error
		attempt int
	)
	op := func() error {
		attempt++
		job, err := c.api.Status(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			var retryable interface{ IsRetryable() bool }
			if errors.As(err, &retryable) && !retryable.IsRetryable() {
				fatal = err
				return backoff.Permanent(err)
			}
			log.WithError(err).WithField("attempt", attempt).Warn("status poll failed")
			return err
		}
		last = job
		log.WithFields(logrus.Fields{"attempt": attempt, "status": job.Status}).Debug("polling reconstruction")
		switch job.Status {
		case types.JobComplete:
			return nil
		case types.JobFailed:
			return backoff.Permanent(ErrJobFailed)
		}
		return errNotTerminal
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), uint64(maxAttempts-1)),
		ctx,
	)
	var timer backoff.Timer
	if c.NewTimer != nil {
		timer = c.NewTimer()
	}
	err := backoff.RetryNotifyWithTimer(op, b, nil, timer)
	switch {
	case fatal != nil:
		return last, fmt.Errorf("poll %s: %w", jobID, fatal)
	case err == nil:
		c.observe(ctx, last)
		log.WithField("attempts", attempt).Info("reconstruction complete")
		return last, nil
	case errors.Is(err, ErrJobFailed):
		log.WithField("reason", last.Reason).Warn("reconstruction failed")
		return last, fmt.Errorf("%w: %s", ErrJobFailed, last.Reason)
	case errors.Is(err, errNotTerminal), ctx.Err() != nil:
		log.WithFields(logrus.Fields{"attempts": attempt, "status": last.Status}).Info("reconstruction still pending")
		return last, fmt.Errorf("%w after %d attempts", ErrPending, attempt)
	default:
		log.WithError(err).WithField("attempts", attempt).Info("reconstruction still pending")
		return last, fmt.Errorf("%w after %d attempts: %w", ErrPending, attempt, err)
	}
}

// Result returns a COMPLETE job with a usable result URL, re-querying the
// provider once the cached URL is past its expiry.
func (c *Client) Result(ctx context.Context, jobID string) (types.ReconstructionJob, error) {
	if job, ok := c.cached(ctx, jobID); ok {
		return job, nil
	}
	job, err := c.api.Status(ctx, jobID)
	if err != nil {
		return types.ReconstructionJob{}, fmt.Errorf("status %s: %w", jobID, err)
	}
	switch job.Status {
	case types.JobComplete:
		if job.Expired(c.Now().Add(c.ExpirySkew)) {
			return job, fmt.Errorf("reconstruction: result for %s already expired", jobID)
		}
		c.observe(ctx, job)
		return job, nil
	case types.JobFailed:
		return job, fmt.Errorf("%w: %s", ErrJobFailed, job.Reason)
	}
	return job, ErrPending
}
