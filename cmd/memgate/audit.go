package main

import (
	"fmt"

	"github.com/sandevgo/memgate/internal/config"
	"github.com/sandevgo/memgate/internal/storage/sqlite"
	"github.com/sandevgo/memgate/pkg/log"
	"github.com/spf13/cobra"
)

var auditCmd = &cobra.Command{
	Use:          "audit",
	Short:        "List every stored memory item, tombstones included",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var flushLog func()
		ctx, flushLog = setupLogger(ctx)
		defer flushLog()

		if err := initEnv(ctx, config.GetRuntimePath()); err != nil {
			return err
		}
		appCfg := config.NewAppConfig(ctx)

		db, err := sqlite.NewDB(ctx, appCfg.GetDatabasePath())
		if err != nil {
			return err
		}
		defer func() {
			if err := db.Close(); err != nil {
				log.FromCtx(ctx).Warn().Err(err).Msg("failed to close database")
			}
		}()

		items, err := sqlite.NewItemRepo(db).AuditList(ctx)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("no items")
			return nil
		}
		for _, it := range items {
			fmt.Printf("%s  %-10s %-10s %-8s %.2f  %s  %s\n",
				it.ID, it.Kind, it.Status, it.IndexState, it.Confidence,
				it.UpdatedAt.Format("2006-01-02 15:04:05"), it.Text)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(auditCmd)
}
