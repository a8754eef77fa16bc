package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/docutag/lincat"
	"github.com/docutag/lincat/config"
	"github.com/docutag/lincat/db"
	"github.com/docutag/lincat/llm"
	"github.com/docutag/lincat/lock"
	"github.com/docutag/lincat/logger"
	"github.com/docutag/lincat/metrics"
	"github.com/docutag/lincat/storage"
)

// app holds the components shared by serve and categorize.
type app struct {
	cfg         *config.Config
	log         logger.Logger
	db          *db.DB
	metrics     *metrics.Metrics
	redis       *redis.Client
	categorizer *lincat.Categorizer
}

func newApp(ctx context.Context, cfg *config.Config, log logger.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.New(cfg.MetricsNamespace, registry)

	database, err := db.New(db.Config{Driver: cfg.DatabaseDriver, DSN: cfg.DatabaseURL})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a.db = database
	log.Info("database ready", logger.String("driver", database.Driver()))

	var locker lock.Locker
	if cfg.RedisAddr != "" {
		client, err := lock.Connect(ctx, lock.ConnectOptions{
			Addr:           cfg.RedisAddr,
			Password:       cfg.RedisPassword,
			DB:             cfg.RedisDB,
			ConnectTimeout: cfg.RedisConnectTO,
		}, log)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.redis = client
		locker = lock.NewRedisLocker(client, lock.RedisConfig{TTL: cfg.LockTTL})
		log.Info("using redis category lock", logger.String("addr", cfg.RedisAddr))
	}

	var completer llm.Completer
	if cfg.GroqAPIKey != "" {
		completer = llm.NewOpenAICompleter(llm.ClientConfig{
			APIKey:  cfg.GroqAPIKey,
			BaseURL: cfg.GroqBaseURL,
			Model:   cfg.GroqModel,
			Timeout: cfg.LLMTimeout,
			Retries: cfg.LLMRetries,
		})
		log.Info("model classification enabled", logger.String("model", cfg.GroqModel))
	} else {
		log.Warn("GROQ_API_KEY not set, falling back to heuristics only")
	}

	llmConfig := llm.DefaultConfig()
	llmConfig.Timeout = cfg.LLMTimeout
	if cfg.LLMMaxConcurrent > 0 {
		llmConfig.MaxConcurrent = cfg.LLMMaxConcurrent
	}

	a.categorizer, err = lincat.New(lincat.Deps{
		Store: database,
		Extractor: lincat.NewExtractor(lincat.ExtractorConfig{
			Timeout:  cfg.FetchTimeout,
			MaxBytes: cfg.FetchMaxBytes,
		}, log, a.metrics),
		Classifier: llm.New(completer, llmConfig, log, a.metrics),
		Locker:     locker,
		Logger:     log,
		Metrics:    a.metrics,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) archive(ctx context.Context) (storage.Archive, error) {
	switch a.cfg.ArchiveBackend {
	case config.ArchiveS3:
		a.log.Info("exports stored in S3", logger.String("bucket", a.cfg.S3.Bucket))
		return storage.NewS3Storage(ctx, a.cfg.S3)
	default:
		a.log.Info("exports stored on disk", logger.String("path", a.cfg.ArchivePath))
		return storage.New(storage.Config{BasePath: a.cfg.ArchivePath})
	}
}

func (a *app) Close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}
