package main

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/sandevgo/memgate/internal/config"
	"github.com/sandevgo/memgate/internal/core"
	"github.com/sandevgo/memgate/internal/index/chromem"
	"github.com/sandevgo/memgate/internal/providers/embed"
	"github.com/sandevgo/memgate/internal/providers/extract"
	"github.com/sandevgo/memgate/internal/service/memory"
	"github.com/sandevgo/memgate/internal/storage/sqlite"
	"github.com/sandevgo/memgate/internal/transport/cli"
	"github.com/sandevgo/memgate/pkg/log"
	"github.com/sandevgo/memgate/pkg/srv"
)

func NewServices(ctx context.Context) []srv.Service {
	logger := log.FromCtx(ctx)
	services := make([]srv.Service, 0)

	// init env
	if err := initEnv(ctx, config.GetRuntimePath()); err != nil {
		logger.Fatal().Err(err).Msg("failed to init env")
	}

	// 1. Configuration
	appCfg := config.NewAppConfig(ctx)
	embedCfg := config.NewEmbeddingConfig(ctx)
	extractCfg := config.NewExtractorConfig(ctx)

	// 2. Storage
	db, err := initStorage(ctx, appCfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize storage")
	}
	services = append(services, srv.NewCleanup(db.Close))

	historyRepo := sqlite.NewHistoryRepo(db)
	itemRepo := sqlite.NewItemRepo(db)

	// 3. Providers
	embedder := embed.NewClient(embedCfg)
	extractor := extract.NewExtractor(extractCfg)

	// 4. Vector index, rebuilt from the store when the startup probe fails
	index, err := initIndex(ctx, appCfg, embedCfg, itemRepo, embedder)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize vector index")
	}

	// 5. Memory engine
	deduper := memory.NewDeduper(itemRepo, index, embedder, appCfg.DedupThreshold)
	syncer := memory.NewSyncer(itemRepo, index, embedder)
	services = append(services, syncer)

	skills := memory.NewSkillMatcher(index, embedder, appCfg.SkillThreshold)

	gate := memory.NewGate(appCfg, historyRepo, itemRepo, index, embedder, extractor, deduper, syncer, skills)

	// Pick up anything a previous run left pending.
	syncer.Notify()

	// 6. Console transport
	console, err := cli.NewReadLine(gate, appCfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize console")
	}
	services = append(services, console)

	return services
}

func initStorage(ctx context.Context, cfg *config.AppConfig) (*sql.DB, error) {
	if err := os.MkdirAll(cfg.GetRuntimePath(), 0755); err != nil {
		return nil, err
	}
	return sqlite.NewDB(ctx, cfg.GetDatabasePath())
}

func initIndex(ctx context.Context, cfg *config.AppConfig, embedCfg *config.EmbeddingConfig, items core.ItemRepository, embedder core.Embedder) (*chromem.Index, error) {
	logger := log.FromCtx(ctx)

	index, err := chromem.New(cfg.GetIndexPath(), embedCfg.Dimensions)
	if err == nil {
		if err = index.Probe(ctx); err == nil {
			return index, nil
		}
	}

	// The index is derived data. A failed open or probe is repaired by
	// discarding the directory and re-embedding the store.
	logger.Warn().Err(err).Msg("vector index unusable, rebuilding from store")
	return chromem.Rebuild(ctx, cfg.GetIndexPath(), embedCfg.Dimensions, items, embedder)
}

func initEnv(ctx context.Context, runtimePath string) error {
	logger := log.FromCtx(ctx)
	envFile := filepath.Join(runtimePath, ".env")

	if _, err := os.Stat(envFile); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	if err := godotenv.Load(envFile); err != nil {
		logger.Warn().Err(err).Str("path", envFile).Msg("failed to load .env file")
		return err
	}

	logger.Debug().Str("path", envFile).Msg("loaded .env file")
	return nil
}
