package config

import (
	"context"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

type EmbeddingConfig struct {
	BaseURL    string `env:"MEMGATE_EMBEDDING_URL,required"`
	APIKey     string `env:"MEMGATE_EMBEDDING_API_KEY"`
	Model      string `env:"MEMGATE_EMBEDDING_MODEL" envDefault:"bge-small-en-v1.5"`
	Dimensions int    `env:"MEMGATE_EMBEDDING_DIM" envDefault:"384"`
}

func NewEmbeddingConfig(ctx context.Context) *EmbeddingConfig {
	cfg := &EmbeddingConfig{}
	if err := env.Parse(cfg); err != nil {
		log.Ctx(ctx).Fatal().Err(err).Msg("failed to parse embedding config")
	}
	return cfg
}
