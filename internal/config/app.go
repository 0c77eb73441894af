package config

import (
	"context"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/sandevgo/memgate/pkg/log"
)

type AppConfig struct {
	RuntimePath string `env:"MEMGATE_RUNTIME_PATH" envDefault:".memgate"`

	// Retrieval tuning
	HistoryLimit int `env:"MEMGATE_HISTORY_LIMIT" envDefault:"6"`
	SearchLimit  int `env:"MEMGATE_SEARCH_LIMIT" envDefault:"10"`

	// Near-duplicate collapse threshold for extracted facts. Favors
	// merging over retrieval bloat; occasionally merges similar-but-
	// distinct facts.
	DedupThreshold float64 `env:"MEMGATE_DEDUP_THRESHOLD" envDefault:"0.92"`

	// Minimum similarity before a skill is routed. Below this, generic
	// utterances select no skill at all.
	SkillThreshold float64 `env:"MEMGATE_SKILL_THRESHOLD" envDefault:"0.75"`
}

func NewAppConfig(ctx context.Context) *AppConfig {
	c := &AppConfig{}
	if err := env.Parse(c); err != nil {
		log.FromCtx(ctx).Fatal().Err(err).Msg("failed to parse app config")
	}
	// Relative runtime paths are anchored to the home directory, same as
	// GetRuntimePath.
	c.RuntimePath = GetRuntimePath()
	return c
}

func (c AppConfig) GetRuntimePath() string {
	return c.RuntimePath
}

func (c AppConfig) GetDatabasePath() string {
	return filepath.Join(c.RuntimePath, "memgate.db")
}

func (c AppConfig) GetIndexPath() string {
	return filepath.Join(c.RuntimePath, "vector_index")
}
