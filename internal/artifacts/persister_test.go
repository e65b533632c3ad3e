package artifacts

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"voice-turns-go/internal/storage"
	"voice-turns-go/internal/types"
)

type memObjects struct {
	mu      sync.Mutex
	objects map[string]string
	ctypes  map[string]string
	failOn  func(path string) bool
}

func newMemObjects() *memObjects {
	return &memObjects{objects: map[string]string{}, ctypes: map[string]string{}}
}

func (m *memObjects) Put(_ context.Context, path string, r io.Reader, ct string) (string, error) {
	if m.failOn != nil && m.failOn(path) {
		return "", errors.New("503 slow down")
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = string(b)
	m.ctypes[path] = ct
	return "mem://" + path, nil
}

func (m *memObjects) Get(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.objects[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return io.NopCloser(strings.NewReader(v)), nil
}

type memIndex struct {
	mu      sync.Mutex
	entries map[int]types.PersistedArtifact
	failOn  func(a types.PersistedArtifact) bool
}

func (m *memIndex) PutArtifact(_ context.Context, a types.PersistedArtifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn != nil && m.failOn(a) {
		return errors.New("index unavailable")
	}
	if m.entries == nil {
		m.entries = map[int]types.PersistedArtifact{}
	}
	a.Err = nil
	m.entries[a.TurnNumber] = a
	return nil
}

func (m *memIndex) ListArtifacts(_ context.Context, _ string) ([]types.PersistedArtifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.PersistedArtifact
	for _, a := range m.entries {
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b types.PersistedArtifact) int { return a.TurnNumber - b.TurnNumber })
	return out, nil
}

func clip(t *testing.T, dir string, turn int, speaker string) types.ExtractionResult {
	t.Helper()
	p := filepath.Join(dir, types.ClipName(turn, speaker, ".mp3"))
	if err := os.WriteFile(p, []byte("clip-"+speaker), 0o644); err != nil {
		t.Fatal(err)
	}
	return types.ExtractionResult{
		Segment:   types.Segment{TurnNumber: turn, Speaker: speaker, DurationMs: 100, EndMs: 100},
		LocalPath: p,
	}
}

func TestPersistUploadsAndCleansUp(t *testing.T) {
	dir := t.TempDir()
	objs, idx := newMemObjects(), &memIndex{}
	p := New(objs, idx)

	results := []types.ExtractionResult{
		clip(t, dir, 1, "Agent"),
		{Segment: types.Segment{TurnNumber: 2, Speaker: "User"}, Err: errors.New("ffmpeg failed")},
		clip(t, dir, 3, "Agent"),
	}
	out := p.Persist(context.Background(), "S1", results)
	if len(out) != 2 {
		t.Fatalf("got %d artifacts, want 2 (extraction failures skipped)", len(out))
	}
	for _, a := range out {
		if a.Status != types.ArtifactUploaded || a.Err != nil {
			t.Errorf("turn %d: %+v", a.TurnNumber, a)
		}
	}
	path := "sessions/S1/turns/0001_agent.mp3"
	if out[0].Reference != "mem://"+path || objs.objects[path] != "clip-Agent" || objs.ctypes[path] != "audio/mpeg" {
		t.Errorf("turn 1 = %+v, objects = %v", out[0], objs.objects)
	}
	if _, err := os.Stat(results[0].LocalPath); !os.IsNotExist(err) {
		t.Errorf("uploaded clip should be removed, stat err = %v", err)
	}
	if idx.entries[3].Status != types.ArtifactUploaded || idx.entries[3].LocalPath != "" {
		t.Errorf("index entry = %+v", idx.entries[3])
	}
}

func TestPersistFailureRetainsClipAndRetrySucceeds(t *testing.T) {
	dir := t.TempDir()
	objs, idx := newMemObjects(), &memIndex{}
	objs.failOn = func(path string) bool { return strings.Contains(path, "0002_") }
	p := New(objs, idx)

	results := []types.ExtractionResult{clip(t, dir, 1, "agent"), clip(t, dir, 2, "user"), clip(t, dir, 3, "agent")}
	out := p.Persist(context.Background(), "S2", results)

	if out[1].Status != types.ArtifactUploadFailed || out[1].Err == nil {
		t.Fatalf("turn 2 = %+v", out[1])
	}
	if out[0].Status != types.ArtifactUploaded || out[2].Status != types.ArtifactUploaded {
		t.Errorf("other uploads blocked: %+v", out)
	}
	if _, err := os.Stat(results[1].LocalPath); err != nil {
		t.Fatalf("failed clip must stay on disk: %v", err)
	}
	if e := idx.entries[2]; e.Status != types.ArtifactUploadFailed || e.LocalPath != results[1].LocalPath || e.Error == "" {
		t.Errorf("index entry = %+v", e)
	}

	objs.failOn = nil
	retried, err := p.RetryPending(context.Background(), "S2")
	if err != nil {
		t.Fatalf("RetryPending: %v", err)
	}
	if len(retried) != 1 || retried[0].TurnNumber != 2 || retried[0].Status != types.ArtifactUploaded {
		t.Fatalf("retried = %+v", retried)
	}
	if objs.objects["sessions/S2/turns/0002_user.mp3"] != "clip-user" {
		t.Errorf("retried object missing: %v", objs.objects)
	}
	if _, err := os.Stat(results[1].LocalPath); !os.IsNotExist(err) {
		t.Errorf("clip should be removed after retry, stat err = %v", err)
	}
	if idx.entries[2].Status != types.ArtifactUploaded {
		t.Errorf("index not updated: %+v", idx.entries[2])
	}
}

func TestRetryPendingMissingClip(t *testing.T) {
	idx := &memIndex{}
	idx.PutArtifact(context.Background(), types.PersistedArtifact{
		SessionID: "S3", TurnNumber: 4, Status: types.ArtifactUploadFailed, LocalPath: "/nonexistent/0004_user.mp3",
	})
	objs := newMemObjects()
	out, err := New(objs, idx).RetryPending(context.Background(), "S3")
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].Err == nil || out[0].Status != types.ArtifactUploadFailed {
		t.Fatalf("out = %+v", out)
	}
	if len(objs.objects) != 0 {
		t.Errorf("nothing should be uploaded: %v", objs.objects)
	}
}

func TestArchiveSource(t *testing.T) {
	objs := newMemObjects()
	src := filepath.Join(t.TempDir(), "full.wav")
	os.WriteFile(src, []byte("full"), 0o644)

	ref, err := New(objs, &memIndex{}).ArchiveSource(context.Background(), "S4", src)
	if err != nil {
		t.Fatal(err)
	}
	if ref != "mem://sessions/S4/full.wav" || objs.ctypes["sessions/S4/full.wav"] != "audio/wav" {
		t.Errorf("ref = %s, ctypes = %v", ref, objs.ctypes)
	}
}

func TestPersistIndexFailureKeepsClipRetryable(t *testing.T) {
	dir := t.TempDir()
	objs := newMemObjects()
	failed := 0
	idx := &memIndex{}
	idx.failOn = func(a types.PersistedArtifact) bool {
		if a.Status == types.ArtifactUploaded && failed == 0 {
			failed++
			return true
		}
		return false
	}
	p := New(objs, idx)

	results := []types.ExtractionResult{clip(t, dir, 1, "agent")}
	out := p.Persist(context.Background(), "S5", results)
	if out[0].Status != types.ArtifactUploadFailed || out[0].Err == nil {
		t.Fatalf("out = %+v", out[0])
	}
	if e := idx.entries[1]; e.Status != types.ArtifactUploadFailed || e.LocalPath != results[0].LocalPath {
		t.Fatalf("index entry = %+v", e)
	}
	if _, err := os.Stat(results[0].LocalPath); err != nil {
		t.Fatalf("clip must stay on disk: %v", err)
	}

	retried, err := p.RetryPending(context.Background(), "S5")
	if err != nil {
		t.Fatalf("RetryPending: %v", err)
	}
	if len(retried) != 1 || retried[0].Status != types.ArtifactUploaded {
		t.Fatalf("retried = %+v", retried)
	}
	if idx.entries[1].Status != types.ArtifactUploaded {
		t.Errorf("index not updated: %+v", idx.entries[1])
	}
}

func TestPersistRejectsEscapingSessionID(t *testing.T) {
	base := t.TempDir()
	objs, err := storage.NewLocal(filepath.Join(base, "artifacts"))
	if err != nil {
		t.Fatal(err)
	}
	idx := &memIndex{}
	p := New(objs, idx)

	results := []types.ExtractionResult{clip(t, t.TempDir(), 1, "agent")}
	out := p.Persist(context.Background(), "../../escaped", results)
	if len(out) != 1 || !errors.Is(out[0].Err, types.ErrInvalidSessionID) || out[0].Reference != "" {
		t.Fatalf("out = %+v", out)
	}
	if _, err := p.ArchiveSource(context.Background(), "../../escaped", results[0].LocalPath); !errors.Is(err, types.ErrInvalidSessionID) {
		t.Errorf("ArchiveSource = %v", err)
	}
	if _, err := os.Stat(filepath.Join(base, "escaped")); !os.IsNotExist(err) {
		t.Errorf("object written outside storage root: %v", err)
	}
	if len(idx.entries) != 0 {
		t.Errorf("index written: %v", idx.entries)
	}
}
