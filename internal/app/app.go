// Package app wires configuration into a ready pipeline for the binaries.
package app

import (
	"context"
	"fmt"
	"time"

	"voice-turns-go/internal/artifacts"
	"voice-turns-go/internal/config"
	"voice-turns-go/internal/correlation"
	"voice-turns-go/internal/extraction"
	"voice-turns-go/internal/logger"
	"voice-turns-go/internal/pipeline"
	"voice-turns-go/internal/processor"
	"voice-turns-go/internal/provider"
	"voice-turns-go/internal/reconstruction"
	"voice-turns-go/internal/storage"
	"voice-turns-go/internal/store"
)

type App struct {
	Config config.Config
	Log    *logger.Logger

	DB         *store.DB
	Objects    storage.ObjectStore
	Persister  *artifacts.Persister
	Correlator *correlation.Correlator
	Pipeline   *pipeline.Pipeline

	// Provider is nil when PROVIDER_URL is unset; Pipeline.Run then fails
	// with pipeline.ErrNoProvider.
	Provider *provider.Client
}

// New opens the record store and object storage and builds the pipeline.
func New(cfg config.Config, log *logger.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}

	db, err := store.Open(store.Options{Dir: cfg.StoreDir, Log: log.Component("store")})
	if err != nil {
		return nil, err
	}
	a.DB = db

	if a.Objects, err = newObjectStore(cfg); err != nil {
		db.Close()
		return nil, err
	}
	a.Persister = artifacts.New(a.Objects, db)
	a.Persister.Concurrency = cfg.MaxConcurrency

	var lister correlation.Lister
	if cfg.ProviderURL != "" {
		a.Provider, err = provider.New(cfg.ProviderURL, cfg.ProviderAPIKey, nil)
		if err != nil {
			db.Close()
			return nil, err
		}
		lister = a.Provider
	} else {
		log.Warn("PROVIDER_URL not set, reconstruction runs are disabled")
	}
	a.Correlator = correlation.New(db, lister)
	a.Correlator.Tolerance = cfg.CorrelationTolerance
	a.Correlator.CandidateLimit = cfg.CandidateLimit

	var (
		jobs pipeline.Jobs
		corr pipeline.Correlator
		ext  pipeline.Extractor
	)
	if a.Provider != nil {
		codec, err := extraction.LookupCodec(cfg.OutputCodec)
		if err != nil {
			db.Close()
			return nil, err
		}
		eng := extraction.NewEngine(
			extraction.NewHTTPFetcher(log.Component("download")),
			&extraction.FFmpeg{Path: cfg.FFmpegPath, Timeout: cfg.TranscodeTimeout},
			extraction.Workspace{Root: cfg.WorkDir},
			codec,
		)
		eng.Concurrency = cfg.MaxConcurrency
		eng.Archiver = a.Persister
		jobs, corr, ext = reconstruction.NewClient(a.Provider), a.Correlator, eng
	}

	a.Pipeline = pipeline.New(db, corr, jobs, ext, a.Persister)
	a.Pipeline.Calculator.TailMs = cfg.DefaultTailMs
	a.Pipeline.PollMaxAttempts = cfg.PollMaxAttempts
	a.Pipeline.PollInterval = cfg.PollInterval
	a.Pipeline.Strict = cfg.ValidationStrict
	a.Pipeline.Log = log
	return a, nil
}

func newObjectStore(cfg config.Config) (storage.ObjectStore, error) {
	switch cfg.StorageBackend {
	case "s3":
		client := storage.NewS3Client(storage.S3Config{
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		return storage.NewS3(client, cfg.S3Bucket, cfg.S3Prefix), nil
	case "local", "":
		return storage.NewLocal(cfg.StorageDir)
	}
	return nil, fmt.Errorf("app: unknown storage backend %q", cfg.StorageBackend)
}

// Batch returns a batch runner sharing this app's pipeline.
func (a *App) Batch(timeout time.Duration) *processor.Batch {
	b := processor.New(a.Pipeline, a.Correlator)
	b.Concurrency = a.Config.MaxConcurrency
	b.Timeout = timeout
	b.Log = a.Log.Component("processor")
	return b
}

// Ping checks the provider is reachable by listing one session.
func (a *App) Ping(ctx context.Context) error {
	if a.Provider == nil {
		return pipeline.ErrNoProvider
	}
	_, err := a.Provider.ListSessions(ctx, 1)
	return err
}

func (a *App) Close() error {
	return a.DB.Close()
}
