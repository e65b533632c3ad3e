package pipeline

import (
	"sort"

	"voice-turns-go/internal/extraction"
	"voice-turns-go/internal/timeline"
	"voice-turns-go/internal/types"
)

type Kind string

const (
	KindError           Kind = "error"
	KindCompleted       Kind = "completed"
	KindNotFound        Kind = "not_found"
	KindPending         Kind = "pending"
	KindProviderFailure Kind = "provider_failure"
	KindDownloadFailure Kind = "download_failure"
	KindInvalidTimeline Kind = "invalid_timeline"
)

// Retryable reports whether running the session again later may succeed.
func (k Kind) Retryable() bool {
	return k == KindNotFound || k == KindPending || k == KindDownloadFailure
}

type Outcome struct {
	Kind      Kind             `json:"kind"`
	SessionID string           `json:"session_id"`
	RunID     string           `json:"run_id"`
	JobID     string           `json:"job_id,omitempty"`
	Reason    string           `json:"reason,omitempty"`
	Issues    []timeline.Issue `json:"issues,omitempty"`
	Summary   *Summary         `json:"summary,omitempty"`
}

// Segment statuses in a summary.
const (
	StatusDone             = "done"
	StatusExtractionFailed = "extraction_failed"
	StatusUploadFailed     = "upload_failed"
)

type SegmentOutcome struct {
	TurnNumber int    `json:"turn_number"`
	Speaker    string `json:"speaker"`
	StartMs    int64  `json:"start_ms"`
	EndMs      int64  `json:"end_ms"`
	DurationMs int64  `json:"duration_ms"`
	Timing     string `json:"timing"`
	Status     string `json:"status"`
	Reference  string `json:"reference,omitempty"`
	LocalPath  string `json:"local_path,omitempty"`
	Error      string `json:"error,omitempty"`
}

func (s SegmentOutcome) Done() bool { return s.Status == StatusDone }

// Summary aggregates a completed run. ExtractedCount counts clips cut,
// PersistedCount those also uploaded and indexed; FailedCount counts
// segments that are not done for either reason.
type Summary struct {
	Success        bool             `json:"success"`
	ExtractedCount int              `json:"extracted_count"`
	PersistedCount int              `json:"persisted_count"`
	FailedCount    int              `json:"failed_count"`
	FullAudioRef   string           `json:"full_audio_ref,omitempty"`
	Segments       []SegmentOutcome `json:"segments"`
}

type RetryResult struct {
	SessionID string                    `json:"session_id"`
	RunID     string                    `json:"run_id"`
	Uploaded  int                       `json:"uploaded"`
	Failed    int                       `json:"failed"`
	Artifacts []types.PersistedArtifact `json:"artifacts"`
}

// buildSummary joins extraction and persistence results by turn number. A
// segment is done only when its clip was both extracted and uploaded.
func buildSummary(ext extraction.Result, artifacts []types.PersistedArtifact) *Summary {
	byTurn := make(map[int]types.PersistedArtifact, len(artifacts))
	for _, a := range artifacts {
		byTurn[a.TurnNumber] = a
	}

	s := &Summary{FullAudioRef: ext.SourceRef, Segments: make([]SegmentOutcome, 0, len(ext.Segments))}
	for _, r := range ext.Segments {
		seg := SegmentOutcome{
			TurnNumber: r.Segment.TurnNumber,
			Speaker:    r.Segment.Speaker,
			StartMs:    r.Segment.StartMs,
			EndMs:      r.Segment.EndMs,
			DurationMs: r.Segment.DurationMs,
			Timing:     r.Segment.Source.String(),
		}
		switch a, ok := byTurn[r.Segment.TurnNumber]; {
		case !r.OK():
			seg.Status = StatusExtractionFailed
			if r.Err != nil {
				seg.Error = r.Err.Error()
			}
		case !ok:
			s.ExtractedCount++
			seg.Status, seg.LocalPath, seg.Error = StatusUploadFailed, r.LocalPath, "not persisted"
		case a.Err != nil || a.Status != types.ArtifactUploaded:
			s.ExtractedCount++
			seg.Status, seg.LocalPath, seg.Error = StatusUploadFailed, a.LocalPath, a.Error
		default:
			s.ExtractedCount++
			s.PersistedCount++
			seg.Status, seg.Reference = StatusDone, a.Reference
		}
		if !seg.Done() {
			s.FailedCount++
		}
		s.Segments = append(s.Segments, seg)
	}
	sort.SliceStable(s.Segments, func(i, j int) bool {
		return s.Segments[i].TurnNumber < s.Segments[j].TurnNumber
	})
	s.Success = len(s.Segments) == 0 || s.PersistedCount > 0
	return s
}
