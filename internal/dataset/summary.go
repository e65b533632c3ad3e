package dataset

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"voice-turns-go/internal/actionable"
	"voice-turns-go/internal/aggregator"
	"voice-turns-go/internal/logger"
	"voice-turns-go/internal/pipeline"
)

const (
	sessionsSheet = "sessions"
	segmentsSheet = "segments"
	totalsSheet   = "totals"
)

// WriteReport saves a batch report workbook: one row per session, one row
// per turn segment, and the aggregate totals with suggested actions.
func WriteReport(path string, outcomes []pipeline.Outcome, rep aggregator.Report, cards []actionable.ActionCard) error {
	log := logger.New().Component("dataset.summary").WithField("path", path)
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sessionsSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	for _, s := range []string{segmentsSheet, totalsSheet} {
		if _, err := f.NewSheet(s); err != nil {
			return fmt.Errorf("new sheet %s: %w", s, err)
		}
	}

	sessions := [][]any{{"session_id", "run_id", "job_id", "outcome", "reason", "success", "extracted", "persisted", "failed", "full_audio_ref"}}
	segments := [][]any{{"session_id", "turn_number", "speaker", "start_ms", "end_ms", "duration_ms", "timing", "status", "reference", "local_path", "error"}}
	for _, o := range outcomes {
		row := []any{o.SessionID, o.RunID, o.JobID, string(o.Kind), o.Reason}
		if s := o.Summary; s != nil {
			row = append(row, s.Success, s.ExtractedCount, s.PersistedCount, s.FailedCount, s.FullAudioRef)
			for _, seg := range s.Segments {
				segments = append(segments, []any{
					o.SessionID, seg.TurnNumber, seg.Speaker, seg.StartMs, seg.EndMs, seg.DurationMs,
					seg.Timing, seg.Status, seg.Reference, seg.LocalPath, seg.Error,
				})
			}
		}
		sessions = append(sessions, row)
	}

	totals := [][]any{{"metric", "value"}, {"sessions", rep.Sessions}}
	for _, k := range rep.Kinds() {
		totals = append(totals, []any{"outcome:" + string(k), rep.ByKind[k]})
	}
	totals = append(totals,
		[]any{"segments", rep.Segments},
		[]any{"segments_done", rep.SegmentsDone},
		[]any{"done_rate", rep.DoneRate},
	)
	for _, sp := range rep.Speakers() {
		st := rep.BySpeaker[sp]
		totals = append(totals, []any{"speaker:" + sp, fmt.Sprintf("%d/%d done, %d ms", st.Done, st.Turns, st.TotalMs)})
	}
	for _, c := range cards {
		totals = append(totals, []any{"action", c.Insight + ": " + c.Action})
	}

	for sheet, rows := range map[string][][]any{sessionsSheet: sessions, segmentsSheet: segments, totalsSheet: totals} {
		if err := writeRows(f, sheet, rows); err != nil {
			return err
		}
	}
	if err := f.SaveAs(path); err != nil {
		log.WithError(err).Error("save report failed")
		return fmt.Errorf("save: %w", err)
	}
	log.WithFields(map[string]interface{}{
		"sessions": len(outcomes),
		"segments": len(segments) - 1,
	}).Info("batch report written")
	return nil
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, r := range rows {
		addr, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, addr, &r); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}
