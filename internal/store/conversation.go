package store

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"voice-turns-go/internal/types"
)

func (d *DB) GetConversation(ctx context.Context, sessionID string) (types.Conversation, error) {
	var c types.Conversation
	err := d.get(ctx, key("conv", sessionID), &c)
	return c, err
}

func (d *DB) PutConversation(ctx context.Context, c types.Conversation) error {
	if err := types.ValidateSessionID(c.SessionID); err != nil {
		return fmt.Errorf("store: conversation: %w", err)
	}
	return d.set(ctx, key("conv", c.SessionID), c)
}

// SetFullAudioRef records where the full session audio was archived.
func (d *DB) SetFullAudioRef(ctx context.Context, sessionID, ref string) error {
	var c types.Conversation
	return d.update(ctx, key("conv", sessionID), &c, func(found bool) error {
		if !found {
			return fmt.Errorf("conversation %s: %w", sessionID, ErrNotFound)
		}
		c.FullAudioRef = ref
		return nil
	})
}

func artifactKey(sessionID string, turn int) []byte {
	return key("artifact", sessionID, fmt.Sprintf("%06d", turn))
}

// PutArtifact writes the index entry for (session, turn), replacing any previous one.
func (d *DB) PutArtifact(ctx context.Context, a types.PersistedArtifact) error {
	if err := types.ValidateSessionID(a.SessionID); err != nil {
		return fmt.Errorf("store: artifact: %w", err)
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = time.Now().UTC()
	}
	return d.set(ctx, artifactKey(a.SessionID, a.TurnNumber), a)
}

// ListArtifacts returns the session's artifact index ordered by turn number.
func (d *DB) ListArtifacts(ctx context.Context, sessionID string) ([]types.PersistedArtifact, error) {
	if err := types.ValidateSessionID(sessionID); err != nil {
		return nil, fmt.Errorf("store: artifacts: %w", err)
	}
	var out []types.PersistedArtifact
	err := d.scan(ctx, append(key("artifact", sessionID), ':'), func(raw []byte) error {
		var a types.PersistedArtifact
		if err := msgpack.Unmarshal(raw, &a); err != nil {
			return err
		}
		out = append(out, a)
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b types.PersistedArtifact) int { return a.TurnNumber - b.TurnNumber })
	return out, nil
}
