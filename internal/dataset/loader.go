package dataset

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"voice-turns-go/internal/logger"
)

// Row is one session listed in a batch workbook. JobID is optional; when
// present it is the provider job captured for the session.
type Row struct {
	Line      int    `json:"line"`
	SessionID string `json:"session_id"`
	JobID     string `json:"job_id,omitempty"`
}

// LoadSessions reads session ids from the first sheet, detecting the
// session and job columns by header heuristics. Blank and duplicate
// sessions are skipped.
func LoadSessions(path string) ([]Row, error) {
	log := logger.New().Component("dataset.loader").WithField("path", path)
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) <= 1 {
		return nil, fmt.Errorf("no data rows")
	}

	sessionIdx, jobIdx := columns(rows[0])
	if sessionIdx == -1 {
		// fall back to the first column
		sessionIdx = 0
	}
	log.WithFields(map[string]interface{}{
		"sessionIdx": sessionIdx,
		"jobIdx":     jobIdx,
	}).Debug("detected session column indices")

	seen := map[string]bool{}
	var out []Row
	for i, r := range rows {
		if i == 0 {
			continue
		}
		row := Row{Line: i + 1, SessionID: cell(r, sessionIdx), JobID: cell(r, jobIdx)}
		if row.SessionID == "" || seen[row.SessionID] {
			continue
		}
		seen[row.SessionID] = true
		out = append(out, row)
	}
	log.WithField("sessions", len(out)).Info("batch workbook loaded")
	return out, nil
}

func columns(header []string) (sessionIdx, jobIdx int) {
	sessionIdx, jobIdx = -1, -1
	for i, h := range header {
		l := strings.ToLower(strings.TrimSpace(h))
		switch {
		case strings.Contains(l, "job") || strings.Contains(l, "external") || strings.Contains(l, "provider"):
			if jobIdx == -1 {
				jobIdx = i
			}
		case strings.Contains(l, "session") || l == "id" || strings.HasSuffix(l, " id") || strings.Contains(l, "conversation"):
			if sessionIdx == -1 {
				sessionIdx = i
			}
		}
	}
	return sessionIdx, jobIdx
}

func cell(r []string, idx int) string {
	if idx < 0 || idx >= len(r) {
		return ""
	}
	return strings.TrimSpace(r[idx])
}
