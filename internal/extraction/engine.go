// Package extraction downloads a session's full recording and cuts one clip
// per segment. Each segment succeeds or fails on its own.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"voice-turns-go/internal/logger"
	"voice-turns-go/internal/types"
)

var ErrEmptySegment = errors.New("extraction: zero-length segment")

// Archiver keeps a copy of the full recording while it is still on disk.
type Archiver interface {
	ArchiveSource(ctx context.Context, sessionID, localPath string) (string, error)
}

// Source is the remote full-session recording.
type Source struct {
	URL         string
	ExpiresAtMs int64
}

type Result struct {
	Success        bool                     `json:"success"`
	ExtractedCount int                      `json:"extracted_count"`
	FailedCount    int                      `json:"failed_count"`
	Segments       []types.ExtractionResult `json:"segments"`
	SourceRef      string                   `json:"source_ref,omitempty"`
}

type Engine struct {
	Fetcher     Fetcher
	Transcoder  Transcoder
	Workspace   Workspace
	Codec       Codec
	Concurrency int
	Archiver    Archiver // optional
	Now         func() time.Time
	Log         *logrus.Entry
}

func NewEngine(f Fetcher, t Transcoder, ws Workspace, codec Codec) *Engine {
	return &Engine{
		Fetcher:     f,
		Transcoder:  t,
		Workspace:   ws,
		Codec:       codec,
		Concurrency: 4,
		Now:         time.Now,
		Log:         logger.New().Component("extraction"),
	}
}

// Extract downloads src into a scoped directory, then cuts every segment
// into the session's clip directory. The scoped directory is removed on
// every return path. Only a failed download is returned as an error
// (wrapping ErrDownload); per-segment failures are recorded in the result,
// which always holds one entry per input segment in input order.
func (e *Engine) Extract(ctx context.Context, sessionID string, src Source, segments []types.Segment) (Result, error) {
	log := e.Log.WithField("session_id", sessionID)
	if len(segments) == 0 {
		return Result{}, nil
	}
	if src.ExpiresAtMs > 0 && e.Now().UnixMilli() >= src.ExpiresAtMs {
		return Result{}, fmt.Errorf("%w: result URL expired", ErrDownload)
	}

	srcDir, cleanup, err := e.Workspace.SourceDir(sessionID)
	if errors.Is(err, types.ErrInvalidSessionID) {
		return Result{}, err
	}
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrDownload, err)
	}
	defer cleanup()

	clipsDir, err := e.Workspace.ClipsDir(sessionID)
	if err != nil {
		return Result{}, err
	}

	input := filepath.Join(srcDir, "full"+sourceExt(src.URL))
	start := time.Now()
	n, err := e.Fetcher.Fetch(ctx, src.URL, input)
	if err != nil {
		log.WithError(err).Warn("full audio download failed")
		if !errors.Is(err, ErrDownload) {
			err = fmt.Errorf("%w: %w", ErrDownload, err)
		}
		return Result{}, err
	}
	log.WithFields(logrus.Fields{"bytes": n, "duration_ms": time.Since(start).Milliseconds()}).Info("full audio downloaded")

	res := Result{Segments: make([]types.ExtractionResult, len(segments))}
	if e.Archiver != nil {
		ref, err := e.Archiver.ArchiveSource(ctx, sessionID, input)
		if err != nil {
			log.WithError(err).Warn("archive full audio failed")
		}
		res.SourceRef = ref
	}

	var g errgroup.Group
	g.SetLimit(max(e.Concurrency, 1))
	for i, seg := range segments {
		g.Go(func() error {
			res.Segments[i] = e.extractOne(ctx, input, clipsDir, seg)
			return nil
		})
	}
	g.Wait()

	for _, r := range res.Segments {
		if r.OK() {
			res.ExtractedCount++
			continue
		}
		res.FailedCount++
		log.WithError(r.Err).WithFields(logrus.Fields{
			"turn_number": r.Segment.TurnNumber,
			"speaker":     r.Segment.Speaker,
		}).Warn("segment extraction failed")
	}
	res.Success = res.ExtractedCount > 0
	log.WithFields(logrus.Fields{"extracted": res.ExtractedCount, "failed": res.FailedCount}).Info("extraction finished")
	return res, nil
}

func (e *Engine) extractOne(ctx context.Context, input, clipsDir string, seg types.Segment) types.ExtractionResult {
	out := types.ExtractionResult{Segment: seg}
	if err := ctx.Err(); err != nil {
		out.Err = err
		return out
	}
	if seg.DurationMs <= 0 {
		out.Err = ErrEmptySegment
		return out
	}
	dst := filepath.Join(clipsDir, types.ClipName(seg.TurnNumber, seg.Speaker, e.Codec.Ext))
	err := e.Transcoder.Transcode(ctx, TranscodeRequest{
		Input:              input,
		Output:             dst,
		StartOffsetSeconds: float64(seg.StartMs) / 1000,
		DurationSeconds:    float64(seg.DurationMs) / 1000,
		Codec:              e.Codec,
	})
	if err != nil {
		out.Err = fmt.Errorf("turn %d: %w", seg.TurnNumber, err)
		return out
	}
	out.LocalPath = dst
	return out
}

// sourceExt keeps the remote file's extension so the transcoder can probe it.
func sourceExt(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	ext := path.Ext(u.Path)
	if len(ext) > 6 {
		return ""
	}
	return ext
}
