package types

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// TurnRecord is a turn as captured by the conversation record store.
// Timing fields are optional and resolved once by Turn.
type TurnRecord struct {
	TurnNumber  int      `json:"turn_number" msgpack:"turn_number"`
	Speaker     string   `json:"speaker" msgpack:"speaker"`
	Message     string   `json:"message" msgpack:"message"`
	Timestamp   string   `json:"timestamp" msgpack:"timestamp"`
	BeginMs     *int64   `json:"begin_ms,omitempty" msgpack:"begin_ms,omitempty"`
	EndMs       *int64   `json:"end_ms,omitempty" msgpack:"end_ms,omitempty"`
	DurationSec *float64 `json:"duration_sec,omitempty" msgpack:"duration_sec,omitempty"`
}

// EvidenceKind tags which variant a TimingEvidence holds.
type EvidenceKind int

const (
	EvidenceNone EvidenceKind = iota
	EvidenceExplicitBounds
	EvidenceMeasuredDuration
)

func (k EvidenceKind) String() string {
	switch k {
	case EvidenceExplicitBounds:
		return "explicit_bounds"
	case EvidenceMeasuredDuration:
		return "measured_duration"
	default:
		return "none"
	}
}

// TimingEvidence is exactly one of ExplicitBounds, MeasuredDuration or None.
// Build it with the constructors; the zero value is None.
type TimingEvidence struct {
	kind    EvidenceKind
	beginMs int64
	endMs   int64
	seconds float64
}

// ExplicitBounds holds provider-measured bounds relative to the anchor.
func ExplicitBounds(beginMs, endMs int64) TimingEvidence {
	return TimingEvidence{kind: EvidenceExplicitBounds, beginMs: beginMs, endMs: endMs}
}

// MeasuredDuration holds a duration derived from vocal analysis.
func MeasuredDuration(seconds float64) TimingEvidence {
	return TimingEvidence{kind: EvidenceMeasuredDuration, seconds: seconds}
}

// NoEvidence is the None variant.
func NoEvidence() TimingEvidence { return TimingEvidence{} }

func (e TimingEvidence) Kind() EvidenceKind { return e.kind }

// Bounds returns the explicit bounds; ok is false for other variants.
func (e TimingEvidence) Bounds() (beginMs, endMs int64, ok bool) {
	return e.beginMs, e.endMs, e.kind == EvidenceExplicitBounds
}

// Duration returns the measured duration in seconds; ok is false for other variants.
func (e TimingEvidence) Duration() (seconds float64, ok bool) {
	return e.seconds, e.kind == EvidenceMeasuredDuration
}

// Turn is one resolved utterance.
type Turn struct {
	TurnNumber int
	Speaker    string
	Message    string
	Timestamp  time.Time // zero when the captured timestamp could not be parsed
	Timing     TimingEvidence
}

// Turn resolves the record's optional timing fields into a single variant.
// Bounds win when both ends are present and ordered; a positive duration
// comes next; anything else is None.
func (r TurnRecord) Turn() Turn {
	t := Turn{
		TurnNumber: r.TurnNumber,
		Speaker:    r.Speaker,
		Message:    r.Message,
	}
	if ts, err := ParseTimestamp(r.Timestamp); err == nil {
		t.Timestamp = ts
	}
	switch {
	case r.BeginMs != nil && r.EndMs != nil && *r.BeginMs >= 0 && *r.EndMs >= *r.BeginMs:
		t.Timing = ExplicitBounds(*r.BeginMs, *r.EndMs)
	case r.DurationSec != nil && *r.DurationSec > 0 && !math.IsInf(*r.DurationSec, 0):
		t.Timing = MeasuredDuration(*r.DurationSec)
	default:
		t.Timing = NoEvidence()
	}
	return t
}

// ParseTimestamp accepts RFC3339 (with or without fractional seconds) or
// integer epoch milliseconds.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return ts, nil
}

// Segment is the [StartMs, EndMs) slice of the full recording for one turn.
type Segment struct {
	TurnNumber int          `json:"turn_number"`
	Speaker    string       `json:"speaker"`
	StartMs    int64        `json:"start_ms"`
	EndMs      int64        `json:"end_ms"`
	DurationMs int64        `json:"duration_ms"`
	Source     EvidenceKind `json:"-"`
}

// Conversation is the conversation record store's view of one session.
type Conversation struct {
	SessionID    string       `json:"session_id" msgpack:"session_id"`
	StartedAt    time.Time    `json:"started_at" msgpack:"started_at"`
	Turns        []TurnRecord `json:"turns" msgpack:"turns"`
	FullAudioRef string       `json:"full_audio_ref,omitempty" msgpack:"full_audio_ref,omitempty"`
}

// JobStatus is the provider's reconstruction job state.
type JobStatus string

const (
	JobQueued     JobStatus = "QUEUED"
	JobProcessing JobStatus = "PROCESSING"
	JobComplete   JobStatus = "COMPLETE"
	JobFailed     JobStatus = "FAILED"
)

// Terminal reports whether no further transitions are possible.
func (s JobStatus) Terminal() bool {
	return s == JobComplete || s == JobFailed
}

// ReconstructionJob is an observed snapshot of a provider job.
type ReconstructionJob struct {
	ExternalJobID string    `json:"external_job_id"`
	Status        JobStatus `json:"status"`
	ResultURL     string    `json:"result_url,omitempty"`
	ExpiresAtMs   int64     `json:"expires_at_ms,omitempty"`
	Reason        string    `json:"reason,omitempty"`
}

// Expired reports whether the signed result URL is no longer usable at now.
// A zero ExpiresAtMs means the provider declared no expiry.
func (j ReconstructionJob) Expired(now time.Time) bool {
	return j.ExpiresAtMs > 0 && now.UnixMilli() >= j.ExpiresAtMs
}

type CorrelationRecord struct {
	SessionID     string    `json:"session_id" msgpack:"session_id"`
	ExternalJobID string    `json:"external_job_id" msgpack:"external_job_id"`
	CapturedAt    time.Time `json:"captured_at" msgpack:"captured_at"`
}

// ExtractionResult is the per-segment outcome of slicing. Exactly one of
// LocalPath or Err is set.
type ExtractionResult struct {
	Segment   Segment `json:"segment"`
	LocalPath string  `json:"local_path,omitempty"`
	Err       error   `json:"-"`
}

func (r ExtractionResult) OK() bool { return r.Err == nil && r.LocalPath != "" }

// ArtifactStatus is recorded in the persisted artifact index.
type ArtifactStatus string

const (
	ArtifactUploaded     ArtifactStatus = "uploaded"
	ArtifactUploadFailed ArtifactStatus = "upload_failed"
)

// PersistedArtifact is one entry of the per-session artifact index.
type PersistedArtifact struct {
	SessionID  string         `json:"session_id" msgpack:"session_id"`
	TurnNumber int            `json:"turn_number" msgpack:"turn_number"`
	Speaker    string         `json:"speaker" msgpack:"speaker"`
	Reference  string         `json:"reference,omitempty" msgpack:"reference,omitempty"`
	Status     ArtifactStatus `json:"status" msgpack:"status"`
	LocalPath  string         `json:"local_path,omitempty" msgpack:"local_path,omitempty"`
	Error      string         `json:"error,omitempty" msgpack:"error,omitempty"`
	UpdatedAt  time.Time      `json:"updated_at" msgpack:"updated_at"`
	Err        error          `json:"-" msgpack:"-"`
}

// CandidateSession is a recent provider session offered for correlation.
type CandidateSession struct {
	ID               string `json:"id"`
	StartTimestampMs int64  `json:"start_timestamp_ms"`
}

// SpeakerSlug reduces a speaker label to [a-z0-9_-] for use in paths.
func SpeakerSlug(speaker string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(speaker)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		case r == ' ' || r == '.':
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "unknown"
	}
	return b.String()
}

// ClipName is the deterministic file name for a turn's clip.
func ClipName(turn int, speaker, ext string) string {
	return fmt.Sprintf("%04d_%s%s", turn, SpeakerSlug(speaker), ext)
}

// MaxSessionIDLen bounds session ids accepted at ingest.
const MaxSessionIDLen = 128

var ErrInvalidSessionID = errors.New("invalid session id")

// ValidateSessionID accepts ids made of ASCII letters, digits, '_', '-' and
// '.', up to MaxSessionIDLen bytes. Session ids become path segments and key
// parts, so separators and the dot-only names are refused.
func ValidateSessionID(id string) error {
	if id == "" || len(id) > MaxSessionIDLen || id == "." || id == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidSessionID, id)
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '_', c == '-', c == '.':
		default:
			return fmt.Errorf("%w: %q", ErrInvalidSessionID, id)
		}
	}
	return nil
}
