package reconstruction

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"

	"voice-turns-go/internal/types"
)

// fakeAPI replays scripted statuses; the last entry repeats.
type fakeAPI struct {
	mu         sync.Mutex
	initiate   types.ReconstructionJob
	statuses   []types.ReconstructionJob
	errs       []error
	statusHits int
	initHits   int
}

func (f *fakeAPI) Initiate(_ context.Context, jobID string) (types.ReconstructionJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initHits++
	j := f.initiate
	j.ExternalJobID = jobID
	return j, nil
}

func (f *fakeAPI) Status(_ context.Context, jobID string) (types.ReconstructionJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.statusHits
	f.statusHits++
	if i < len(f.errs) && f.errs[i] != nil {
		return types.ReconstructionJob{}, f.errs[i]
	}
	if i >= len(f.statuses) {
		i = len(f.statuses) - 1
	}
	j := f.statuses[i]
	j.ExternalJobID = jobID
	return j, nil
}

// fakeTimer fires immediately and records requested waits.
type fakeTimer struct {
	c      chan time.Time
	starts []time.Duration
}

func (t *fakeTimer) Start(d time.Duration) {
	t.starts = append(t.starts, d)
	t.c <- time.Time{}
}
func (t *fakeTimer) Stop()               {}
func (t *fakeTimer) C() <-chan time.Time { return t.c }

func newTestClient(api API) (*Client, *fakeTimer) {
	c := NewClient(api)
	ft := &fakeTimer{c: make(chan time.Time, 1)}
	c.NewTimer = func() backoff.Timer { return ft }
	return c, ft
}

func st(s types.JobStatus) types.ReconstructionJob { return types.ReconstructionJob{Status: s} }

type apiErr struct{ retry bool }

func (e apiErr) Error() string     { return "api error" }
func (e apiErr) IsRetryable() bool { return e.retry }

func TestPollCompletes(t *testing.T) {
	api := &fakeAPI{statuses: []types.ReconstructionJob{
		st(types.JobQueued),
		st(types.JobProcessing),
		{Status: types.JobComplete, ResultURL: "https://cdn/full.wav"},
	}}
	c, ft := newTestClient(api)

	job, err := c.PollUntilTerminal(context.Background(), "job-1", 10, 1500*time.Millisecond)
	if err != nil {
		t.Fatalf("PollUntilTerminal: %v", err)
	}
	if job.Status != types.JobComplete || job.ResultURL != "https://cdn/full.wav" {
		t.Fatalf("job = %+v", job)
	}
	if api.statusHits != 3 {
		t.Errorf("status calls = %d, want 3", api.statusHits)
	}
	if len(ft.starts) != 2 {
		t.Fatalf("waits = %v, want 2", ft.starts)
	}
	for _, d := range ft.starts {
		if d != 1500*time.Millisecond {
			t.Errorf("wait = %v, want fixed 1.5s", d)
		}
	}
}

func TestPollFailedIsTerminal(t *testing.T) {
	api := &fakeAPI{statuses: []types.ReconstructionJob{
		st(types.JobProcessing),
		{Status: types.JobFailed, Reason: "no frames"},
	}}
	c, _ := newTestClient(api)

	job, err := c.PollUntilTerminal(context.Background(), "job-2", 10, time.Second)
	if !errors.Is(err, ErrJobFailed) {
		t.Fatalf("expected ErrJobFailed, got %v", err)
	}
	if errors.Is(err, ErrPending) {
		t.Error("failed job must not be reported as pending")
	}
	if job.Status != types.JobFailed || api.statusHits != 2 {
		t.Errorf("job = %+v after %d calls", job, api.statusHits)
	}
}

func TestPollBudgetExhausted(t *testing.T) {
	api := &fakeAPI{statuses: []types.ReconstructionJob{st(types.JobProcessing)}}
	c, _ := newTestClient(api)

	job, err := c.PollUntilTerminal(context.Background(), "job-3", 4, time.Second)
	if !errors.Is(err, ErrPending) {
		t.Fatalf("expected ErrPending, got %v", err)
	}
	if errors.Is(err, ErrJobFailed) {
		t.Error("pending must not be reported as failed")
	}
	if api.statusHits != 4 {
		t.Errorf("status calls = %d, want 4", api.statusHits)
	}
	if job.Status != types.JobProcessing {
		t.Errorf("last observed status = %s", job.Status)
	}
}

func TestPollTransientErrorsCountAsAttempts(t *testing.T) {
	api := &fakeAPI{
		statuses: []types.ReconstructionJob{st(types.JobQueued), st(types.JobQueued), st(types.JobComplete)},
		errs:     []error{apiErr{retry: true}, errors.New("connection reset")},
	}
	c, _ := newTestClient(api)

	job, err := c.PollUntilTerminal(context.Background(), "job-4", 5, time.Second)
	if err != nil || job.Status != types.JobComplete {
		t.Fatalf("job = %+v, err = %v", job, err)
	}
	if api.statusHits != 3 {
		t.Errorf("status calls = %d, want 3", api.statusHits)
	}

	api2 := &fakeAPI{statuses: []types.ReconstructionJob{st(types.JobQueued)}, errs: []error{errors.New("down"), errors.New("down")}}
	c2, _ := newTestClient(api2)
	if _, err := c2.PollUntilTerminal(context.Background(), "job-4b", 2, time.Second); !errors.Is(err, ErrPending) {
		t.Fatalf("expected ErrPending after transient errors, got %v", err)
	}
}

func TestPollNonRetryableError(t *testing.T) {
	api := &fakeAPI{statuses: []types.ReconstructionJob{st(types.JobQueued)}, errs: []error{apiErr{retry: false}}}
	c, _ := newTestClient(api)

	_, err := c.PollUntilTerminal(context.Background(), "job-5", 5, time.Second)
	if err == nil || errors.Is(err, ErrPending) || errors.Is(err, ErrJobFailed) {
		t.Fatalf("expected plain provider error, got %v", err)
	}
	if api.statusHits != 1 {
		t.Errorf("status calls = %d, want 1", api.statusHits)
	}
}

func TestPollCancelledIsPending(t *testing.T) {
	api := &fakeAPI{statuses: []types.ReconstructionJob{st(types.JobProcessing)}}
	c := NewClient(api)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.PollUntilTerminal(ctx, "job-6", 100, time.Hour)
	if !errors.Is(err, ErrPending) {
		t.Fatalf("expected ErrPending on cancellation, got %v", err)
	}
}

func TestInitiateCachedUntilExpiry(t *testing.T) {
	now := time.UnixMilli(1_000_000)
	api := &fakeAPI{
		initiate: types.ReconstructionJob{Status: types.JobComplete, ResultURL: "https://cdn/a", ExpiresAtMs: now.Add(time.Minute).UnixMilli()},
		statuses: []types.ReconstructionJob{{Status: types.JobComplete, ResultURL: "https://cdn/b", ExpiresAtMs: now.Add(10 * time.Minute).UnixMilli()}},
	}
	c, _ := newTestClient(api)
	c.Now = func() time.Time { return now }
	ctx := WithCache(context.Background())

	job, err := c.Initiate(ctx, "job-7")
	if err != nil || job.Status != types.JobComplete {
		t.Fatalf("Initiate = %+v, %v", job, err)
	}
	if _, err := c.Initiate(ctx, "job-7"); err != nil {
		t.Fatal(err)
	}
	if api.initHits != 1 {
		t.Errorf("initiate calls = %d, want 1 (cached)", api.initHits)
	}
	if job, _ := c.PollUntilTerminal(ctx, "job-7", 3, time.Second); job.ResultURL != "https://cdn/a" || api.statusHits != 0 {
		t.Errorf("poll should use cached result, got %+v after %d calls", job, api.statusHits)
	}

	// Past expiry minus skew the cached URL must not be reused.
	now = now.Add(56 * time.Second)
	job, err = c.Result(ctx, "job-7")
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if job.ResultURL != "https://cdn/b" || api.statusHits != 1 {
		t.Errorf("Result = %+v after %d status calls", job, api.statusHits)
	}
}

func TestCacheDoesNotOutliveRun(t *testing.T) {
	now := time.UnixMilli(1_000_000)
	api := &fakeAPI{initiate: types.ReconstructionJob{Status: types.JobComplete, ResultURL: "https://cdn/j1"}}
	c, _ := newTestClient(api)
	c.Now = func() time.Time { return now }

	run := WithCache(context.Background())
	for range 2 {
		if _, err := c.Initiate(run, "J1"); err != nil {
			t.Fatal(err)
		}
	}
	if api.initHits != 1 {
		t.Fatalf("initiate calls within one run = %d, want 1", api.initHits)
	}

	// A job without expiry seen by an earlier run is fetched again by later ones.
	now = now.Add(365 * 24 * time.Hour)
	for range 2 {
		if _, err := c.Initiate(WithCache(context.Background()), "J1"); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := c.Initiate(context.Background(), "J1"); err != nil {
		t.Fatal(err)
	}
	if api.initHits != 4 {
		t.Errorf("initiate calls after three more runs = %d, want 4", api.initHits)
	}
}

func TestInitiateFailed(t *testing.T) {
	api := &fakeAPI{initiate: types.ReconstructionJob{Status: types.JobFailed, Reason: "gone"}}
	c, _ := newTestClient(api)
	if _, err := c.Initiate(context.Background(), "job-8"); !errors.Is(err, ErrJobFailed) {
		t.Fatalf("expected ErrJobFailed, got %v", err)
	}
}
