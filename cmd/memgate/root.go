package main

import (
	"context"
	"os"

	"github.com/sandevgo/memgate/internal/config"
	"github.com/sandevgo/memgate/pkg/log"
	"github.com/spf13/cobra"
)

var (
	debug bool
)

var rootCmd = &cobra.Command{
	Use:   "memgate",
	Short: "MemGate — long-term memory for conversational agents",
	Long:  `MemGate keeps a durable store of extracted facts behind a hybrid keyword and vector retrieval gate.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	// Global flags available to all subcommands
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", config.IsDebug(), "enable debug logging")
}

func setupLogger(ctx context.Context) (context.Context, func()) {
	isDebug := debug || config.IsDebug()
	return log.NewContextWithLogger(ctx, isDebug)
}
