// Package artifacts uploads extracted clips to object storage and keeps the
// per-turn artifact index. A clip whose upload fails stays on local disk so a
// later retry can upload it without re-extracting.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"voice-turns-go/internal/extraction"
	"voice-turns-go/internal/logger"
	"voice-turns-go/internal/storage"
	"voice-turns-go/internal/types"
)

type Index interface {
	PutArtifact(ctx context.Context, a types.PersistedArtifact) error
	ListArtifacts(ctx context.Context, sessionID string) ([]types.PersistedArtifact, error)
}

type Persister struct {
	Objects     storage.ObjectStore
	Index       Index
	Concurrency int
	Now         func() time.Time
	Log         *logrus.Entry
}

func New(objects storage.ObjectStore, index Index) *Persister {
	return &Persister{
		Objects:     objects,
		Index:       index,
		Concurrency: 4,
		Now:         time.Now,
		Log:         logger.New().Component("artifacts"),
	}
}

// ObjectPath is the storage path for a turn's clip.
func ObjectPath(sessionID string, turn int, speaker, ext string) string {
	return "sessions/" + sessionID + "/turns/" + types.ClipName(turn, speaker, ext)
}

// Persist uploads every successfully extracted clip. Results that carry an
// extraction error are skipped. The returned entries follow input order.
func (p *Persister) Persist(ctx context.Context, sessionID string, results []types.ExtractionResult) []types.PersistedArtifact {
	invalid := types.ValidateSessionID(sessionID)
	var pending []types.PersistedArtifact
	for _, r := range results {
		if !r.OK() {
			continue
		}
		a := types.PersistedArtifact{
			SessionID:  sessionID,
			TurnNumber: r.Segment.TurnNumber,
			Speaker:    r.Segment.Speaker,
			LocalPath:  r.LocalPath,
		}
		if invalid != nil {
			a.Status, a.Err, a.Error = types.ArtifactUploadFailed, invalid, invalid.Error()
		}
		pending = append(pending, a)
	}
	return p.uploadAll(ctx, pending)
}

// RetryPending re-uploads index entries left in upload_failed whose local
// clip still exists. Entries whose clip is gone are returned unchanged.
func (p *Persister) RetryPending(ctx context.Context, sessionID string) ([]types.PersistedArtifact, error) {
	entries, err := p.Index.ListArtifacts(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list artifact index: %w", err)
	}
	var pending []types.PersistedArtifact
	for _, a := range entries {
		if a.Status != types.ArtifactUploadFailed {
			continue
		}
		if _, err := os.Stat(a.LocalPath); err != nil {
			p.Log.WithError(err).WithFields(logrus.Fields{
				"session_id":  sessionID,
				"turn_number": a.TurnNumber,
			}).Warn("retained clip missing, re-run extraction to recover")
			a.Err = fmt.Errorf("retained clip missing: %w", err)
			pending = append(pending, a)
			continue
		}
		a.Error, a.Err = "", nil
		pending = append(pending, a)
	}
	return p.uploadAll(ctx, pending), nil
}

func (p *Persister) uploadAll(ctx context.Context, items []types.PersistedArtifact) []types.PersistedArtifact {
	var g errgroup.Group
	g.SetLimit(max(p.Concurrency, 1))
	for i := range items {
		if items[i].Err != nil {
			continue
		}
		g.Go(func() error {
			items[i] = p.uploadOne(ctx, items[i])
			return nil
		})
	}
	g.Wait()
	return items
}

// uploadOne never returns an error; failures are recorded on the entry.
func (p *Persister) uploadOne(ctx context.Context, a types.PersistedArtifact) types.PersistedArtifact {
	log := p.Log.WithFields(logrus.Fields{"session_id": a.SessionID, "turn_number": a.TurnNumber})
	ref, err := p.put(ctx, a)
	a.UpdatedAt = p.Now().UTC()
	if err != nil {
		a.Status, a.Reference, a.Err, a.Error = types.ArtifactUploadFailed, "", err, err.Error()
		log.WithError(err).Warn("clip upload failed, keeping local copy")
		if ierr := p.Index.PutArtifact(context.WithoutCancel(ctx), a); ierr != nil {
			log.WithError(ierr).Error("record failed upload in index")
		}
		return a
	}
	a.Status, a.Reference = types.ArtifactUploaded, ref
	local := a.LocalPath
	a.LocalPath = ""
	if err := p.Index.PutArtifact(ctx, a); err != nil {
		// The clip stays on disk so a retry can upload and index it again.
		a.Status, a.Reference, a.LocalPath = types.ArtifactUploadFailed, "", local
		a.Err = fmt.Errorf("index artifact: %w", err)
		a.Error = a.Err.Error()
		log.WithError(err).Warn("artifact index write failed")
		if ierr := p.Index.PutArtifact(context.WithoutCancel(ctx), a); ierr != nil {
			log.WithError(ierr).Error("record failed upload in index")
		}
		return a
	}
	if err := os.Remove(local); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.WithError(err).Warn("remove uploaded clip")
	}
	log.WithField("reference", ref).Debug("clip uploaded")
	return a
}

func (p *Persister) put(ctx context.Context, a types.PersistedArtifact) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f, err := os.Open(a.LocalPath)
	if err != nil {
		return "", err
	}
	defer f.Close()
	ext := filepath.Ext(a.LocalPath)
	return p.Objects.Put(ctx, ObjectPath(a.SessionID, a.TurnNumber, a.Speaker, ext), f, extraction.ContentTypeForExt(ext))
}

// ArchiveSource uploads the session's full recording.
func (p *Persister) ArchiveSource(ctx context.Context, sessionID, localPath string) (string, error) {
	if err := types.ValidateSessionID(sessionID); err != nil {
		return "", err
	}
	f, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer f.Close()
	ext := filepath.Ext(localPath)
	return p.Objects.Put(ctx, "sessions/"+sessionID+"/full"+ext, f, extraction.ContentTypeForExt(ext))
}

var _ extraction.Archiver = (*Persister)(nil)
