package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/kalambet/shelfrec/internal/catalog"
	"github.com/kalambet/shelfrec/internal/config"
	"github.com/kalambet/shelfrec/internal/embedding"
	"github.com/kalambet/shelfrec/internal/engine"
	"github.com/kalambet/shelfrec/internal/hardcover"
	"github.com/kalambet/shelfrec/internal/index"
	"github.com/kalambet/shelfrec/internal/profile"
	"github.com/kalambet/shelfrec/internal/recommend"
	"github.com/kalambet/shelfrec/internal/refresh"
	"github.com/kalambet/shelfrec/internal/storage"
)

// app is the wired set of components shared by the server and the local
// CLI commands.
type app struct {
	cfg         config.Config
	logger      *slog.Logger
	store       *storage.Store
	cache       *embedding.Cache
	holder      *index.Holder
	profiles    *profile.Manager
	recommender *recommend.Engine
	driver      *refresh.Driver
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

// loadApp reads config and wires an app with the configured logger.
func loadApp(ctx context.Context, checkEngine bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger)
	return openApp(ctx, cfg, logger, checkEngine)
}

// openApp opens storage, the embedding backend and the served index. When
// checkEngine is set the embedding backend must be reachable and its model
// present.
func openApp(ctx context.Context, cfg config.Config, logger *slog.Logger, checkEngine bool) (*app, error) {
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	a := &app{cfg: cfg, logger: logger, store: store, holder: &index.Holder{}}

	eng, model, err := engine.Detect(engine.DetectConfig{
		Backend:       cfg.Embed.Backend,
		Dimensions:    cfg.Embed.Dimensions,
		OllamaBaseURL: cfg.Ollama.BaseURL,
		OllamaModel:   cfg.Ollama.EmbedModel,
	})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("detecting embedding backend: %w", err)
	}
	if checkEngine {
		if err := engine.EnsureReady(ctx, eng, model, os.Stderr); err != nil {
			a.close()
			return nil, err
		}
	}
	embedder := embedding.NewEmbedder(eng, model)

	// The cache directory is locked by whichever process opened it first, so
	// a CLI command next to a running server goes without.
	var queryEmbedder embedding.TextEmbedder = embedder
	if cache, err := embedding.OpenCache(filepath.Join(cfg.Storage.DataDir, "embed-cache")); err != nil {
		logger.Warn("embedding cache unavailable, continuing without it", "error", err)
	} else {
		a.cache = cache
		queryEmbedder = embedding.NewCachedEmbedder(embedder, cache, logger)
	}

	indexes, err := index.OpenStore(filepath.Join(cfg.Storage.DataDir, "index"), logger)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("opening index store: %w", err)
	}

	opts := catalog.DefaultOptions()
	opts.PageSize = cfg.Catalog.PageSize
	opts.MaxPages = cfg.Catalog.MaxPages
	opts.TargetTotal = cfg.Catalog.TargetTotal
	opts.BatchDelay = cfg.Catalog.BatchDelay()
	opts.GenreDelay = cfg.Catalog.GenreDelay()
	ingest := catalog.NewBuilder(hardcover.New(cfg.Catalog.Endpoint, cfg.Catalog.Token), store, opts, logger)

	a.driver = refresh.NewDriver(ingest, store, index.NewBuilder(embedder, logger), indexes, a.holder,
		refresh.Options{Timeout: cfg.Refresh.Timeout(), Model: model}, logger)
	if err := a.driver.Restore(ctx); err != nil {
		// A corrupt or stale index is replaced by the next refresh.
		logger.Warn("starting without an index", "error", err)
		var mm *refresh.ModelMismatchError
		if errors.As(err, &mm) {
			a.purgeCache(mm.IndexModel)
		}
	}

	a.profiles = profile.NewManager(store, logger)
	a.recommender = recommend.New(a.holder, queryEmbedder, recommend.Options{
		BookWeight:   cfg.Recommend.BookWeight,
		AuthorWeight: cfg.Recommend.AuthorWeight,
		GenreWeight:  cfg.Recommend.GenreWeight,
		SearchWeight: cfg.Recommend.SearchWeight,
		MaxPerAuthor: cfg.Recommend.MaxPerAuthor,
		MinScore:     cfg.Recommend.MinScore,
	}, logger)
	return a, nil
}

// purgeCache drops cached query vectors of a model that is no longer
// configured.
func (a *app) purgeCache(model string) {
	if a.cache == nil || model == "" {
		return
	}
	if err := a.cache.Purge(model); err != nil {
		a.logger.Warn("purging embedding cache", "model", model, "error", err)
		return
	}
	a.logger.Info("purged cached embeddings of previous model", "model", model)
}

func (a *app) close() {
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Warn("closing embedding cache", "error", err)
		}
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing storage", "error", err)
	}
}
