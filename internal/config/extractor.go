package config

import (
	"context"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

type ExtractorConfig struct {
	BaseURL string `env:"MEMGATE_EXTRACTOR_URL,required"`
	APIKey  string `env:"MEMGATE_EXTRACTOR_API_KEY"`
	Model   string `env:"MEMGATE_EXTRACTOR_MODEL" envDefault:"gemini-2.5-flash"`
}

func NewExtractorConfig(ctx context.Context) *ExtractorConfig {
	cfg := &ExtractorConfig{}
	if err := env.Parse(cfg); err != nil {
		log.Ctx(ctx).Fatal().Err(err).Msg("failed to parse extractor config")
	}
	return cfg
}
