package store

import (
	"context"
	"errors"
	"fmt"

	"voice-turns-go/internal/types"
)

// GetCorrelation returns the stored mapping for sessionID or ErrNotFound.
func (d *DB) GetCorrelation(ctx context.Context, sessionID string) (types.CorrelationRecord, error) {
	var rec types.CorrelationRecord
	err := d.get(ctx, key("corr", sessionID), &rec)
	return rec, err
}

// UpsertCorrelation writes rec, replacing any previous mapping.
func (d *DB) UpsertCorrelation(ctx context.Context, rec types.CorrelationRecord) error {
	if rec.ExternalJobID == "" {
		return errors.New("store: correlation needs a job id")
	}
	if err := types.ValidateSessionID(rec.SessionID); err != nil {
		return fmt.Errorf("store: correlation: %w", err)
	}
	return d.set(ctx, key("corr", rec.SessionID), rec)
}
