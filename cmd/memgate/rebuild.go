package main

import (
	"github.com/sandevgo/memgate/internal/config"
	"github.com/sandevgo/memgate/internal/index/chromem"
	"github.com/sandevgo/memgate/internal/providers/embed"
	"github.com/sandevgo/memgate/internal/storage/sqlite"
	"github.com/sandevgo/memgate/pkg/log"
	"github.com/spf13/cobra"
)

var rebuildCmd = &cobra.Command{
	Use:          "rebuild",
	Short:        "Discard the vector index and rebuild it from the store",
	Long:         `Drops the on-disk vector index and re-embeds every active item. The relational store is never touched.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var flushLog func()
		ctx, flushLog = setupLogger(ctx)
		defer flushLog()

		logger := log.FromCtx(ctx)

		if err := initEnv(ctx, config.GetRuntimePath()); err != nil {
			return err
		}
		appCfg := config.NewAppConfig(ctx)
		embedCfg := config.NewEmbeddingConfig(ctx)

		db, err := sqlite.NewDB(ctx, appCfg.GetDatabasePath())
		if err != nil {
			return err
		}
		defer func() {
			if err := db.Close(); err != nil {
				logger.Warn().Err(err).Msg("failed to close database")
			}
		}()

		items := sqlite.NewItemRepo(db)
		embedder := embed.NewClient(embedCfg)

		if _, err := chromem.Rebuild(ctx, appCfg.GetIndexPath(), embedCfg.Dimensions, items, embedder); err != nil {
			return err
		}

		// Everything active is now in the index; reflect that in the store.
		active, err := items.ListActive(ctx)
		if err != nil {
			return err
		}
		for _, it := range active {
			if err := items.MarkIndexed(ctx, it.ID, it.UpdatedAt); err != nil {
				return err
			}
		}

		logger.Info().Msg("vector index rebuilt")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rebuildCmd)
}
