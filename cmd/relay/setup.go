package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/capitalize-ai/operator-relay/internal/config"
	"github.com/capitalize-ai/operator-relay/internal/llm"
	"github.com/capitalize-ai/operator-relay/internal/moderation"
	natsclient "github.com/capitalize-ai/operator-relay/internal/nats"
	"github.com/capitalize-ai/operator-relay/internal/store"
	"github.com/capitalize-ai/operator-relay/pkg/logger"
)

// Moderation providers.
const (
	moderationNone       = "none"
	moderationOpenAI     = "openai"
	moderationOpenAIChat = "openai-chat"
	moderationAnthropic  = "anthropic"
)

// openPersister selects the store backend from configuration.
func openPersister(ctx context.Context, cfg *config.Config, nc *natsclient.Client) (store.Persister, error) {
	switch cfg.StoreDriver {
	case config.StoreFile:
		return store.NewFilePersister(cfg.StatePath)
	case config.StoreSQLite:
		return store.NewSQLitePersister(cfg.SQLitePath)
	case config.StoreRedis:
		return store.NewRedisPersister(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisKey)
	case config.StoreNATS:
		if nc == nil {
			return nil, fmt.Errorf("nats store driver requires a NATS connection")
		}
		return natsclient.NewKVPersister(ctx, nc, cfg.NATSKVBucket)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// newClassifier builds the group moderation classifier, or nil when
// moderation is disabled.
func newClassifier(cfg *config.Config) (moderation.Classifier, error) {
	switch cfg.ModerationProvider {
	case "", moderationNone:
		return nil, nil
	case moderationOpenAI:
		return moderation.NewOpenAIClassifier(cfg.OpenAIAPIKey, cfg.ModerationModel)
	case moderationOpenAIChat:
		client, err := llm.NewClient(llm.ProviderOpenAI, cfg.OpenAIAPIKey)
		if err != nil {
			return nil, err
		}
		return moderation.NewLLMClassifier(client, cfg.ModerationModel), nil
	case moderationAnthropic:
		client, err := llm.NewClient(llm.ProviderAnthropic, cfg.AnthropicAPIKey)
		if err != nil {
			return nil, err
		}
		return moderation.NewLLMClassifier(client, cfg.ModerationModel), nil
	default:
		return nil, fmt.Errorf("unknown moderation provider %q", cfg.ModerationProvider)
	}
}

// needsNATS reports whether any configured component uses NATS.
func needsNATS(cfg *config.Config) bool {
	return cfg.StoreDriver == config.StoreNATS || cfg.EventsEnabled
}

func connectNATS(ctx context.Context, cfg *config.Config, log *logger.Logger) (*natsclient.Client, error) {
	nc, err := natsclient.Connect(ctx, natsclient.Config{
		URL:      cfg.NATSURL,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
	}, log.Named("nats"))
	if err != nil {
		return nil, err
	}
	log.Info("NATS ready", zap.String("kv_bucket", cfg.NATSKVBucket), zap.Bool("events", cfg.EventsEnabled))
	return nc, nil
}
