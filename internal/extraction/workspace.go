package extraction

import (
	"fmt"
	"os"
	"path/filepath"

	"voice-turns-go/internal/types"
)

// Workspace lays out per-session working directories under Root:
//
//	{Root}/{sessionId}/source-*   scoped; removed when the run ends
//	{Root}/{sessionId}/clips/     kept until each clip is uploaded
//
// A session's directory must only be used by one run at a time.
type Workspace struct {
	Root string
}

func (w Workspace) root() string {
	if w.Root == "" {
		return filepath.Join(os.TempDir(), "voice-turns")
	}
	return w.Root
}

// SessionDir maps each valid session id to its own directory under Root.
func (w Workspace) SessionDir(sessionID string) (string, error) {
	if err := types.ValidateSessionID(sessionID); err != nil {
		return "", err
	}
	return filepath.Join(w.root(), sessionID), nil
}

// ClipsDir creates and returns the durable clip directory for a session.
func (w Workspace) ClipsDir(sessionID string) (string, error) {
	parent, err := w.SessionDir(sessionID)
	if err != nil {
		return "", err
	}
	dir := filepath.Join(parent, "clips")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create clips dir: %w", err)
	}
	return dir, nil
}

// SourceDir creates a fresh scoped directory for the downloaded recording.
// The returned cleanup removes it and is safe to call more than once.
func (w Workspace) SourceDir(sessionID string) (string, func(), error) {
	parent, err := w.SessionDir(sessionID)
	if err != nil {
		return "", func() {}, err
	}
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", func() {}, fmt.Errorf("create session dir: %w", err)
	}
	dir, err := os.MkdirTemp(parent, "source-")
	if err != nil {
		return "", func() {}, fmt.Errorf("create source dir: %w", err)
	}
	return dir, func() { os.RemoveAll(dir) }, nil
}
