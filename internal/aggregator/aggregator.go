package aggregator

import (
	"sort"

	"voice-turns-go/internal/pipeline"
)

type SpeakerStats struct {
	Turns   int   `json:"turns"`
	Done    int   `json:"done"`
	Failed  int   `json:"failed"`
	TotalMs int64 `json:"total_ms"`
}

// Report totals a batch of pipeline outcomes.
type Report struct {
	Sessions     int                     `json:"sessions"`
	ByKind       map[pipeline.Kind]int   `json:"by_kind"`
	Segments     int                     `json:"segments"`
	SegmentsDone int                     `json:"segments_done"`
	DoneRate     float64                 `json:"done_rate"`
	BySpeaker    map[string]SpeakerStats `json:"by_speaker"`
	// Retryable lists sessions worth running again later.
	Retryable []string `json:"retryable,omitempty"`
	// UploadBacklog lists sessions with clips kept on disk after a failed upload.
	UploadBacklog []string `json:"upload_backlog,omitempty"`
}

func Aggregate(outcomes []pipeline.Outcome) Report {
	rep := Report{
		Sessions:  len(outcomes),
		ByKind:    map[pipeline.Kind]int{},
		BySpeaker: map[string]SpeakerStats{},
	}
	for _, o := range outcomes {
		rep.ByKind[o.Kind]++
		if o.Kind.Retryable() {
			rep.Retryable = append(rep.Retryable, o.SessionID)
		}
		if o.Summary == nil {
			continue
		}
		backlog := false
		for _, seg := range o.Summary.Segments {
			st := rep.BySpeaker[seg.Speaker]
			st.Turns++
			st.TotalMs += seg.DurationMs
			rep.Segments++
			if seg.Done() {
				st.Done++
				rep.SegmentsDone++
			} else {
				st.Failed++
			}
			if seg.Status == pipeline.StatusUploadFailed {
				backlog = true
			}
			rep.BySpeaker[seg.Speaker] = st
		}
		if backlog {
			rep.UploadBacklog = append(rep.UploadBacklog, o.SessionID)
		}
	}
	if rep.Segments > 0 {
		rep.DoneRate = float64(rep.SegmentsDone) / float64(rep.Segments)
	}
	return rep
}

// Kinds returns the outcome kinds present, in a stable order.
func (r Report) Kinds() []pipeline.Kind {
	out := make([]pipeline.Kind, 0, len(r.ByKind))
	for k := range r.ByKind {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r Report) Speakers() []string {
	out := make([]string, 0, len(r.BySpeaker))
	for s := range r.BySpeaker {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
