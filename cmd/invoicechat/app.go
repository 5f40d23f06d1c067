package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"invoicechat/internal/chat"
	"invoicechat/internal/compose"
	"invoicechat/internal/config"
	"invoicechat/internal/embedding"
	"invoicechat/internal/intent"
	"invoicechat/internal/llm"
	"invoicechat/internal/ratelimit"
	"invoicechat/internal/retrieval"
	"invoicechat/internal/session"
	"invoicechat/internal/store"
)

// embeddingDimensions must match the configured embedding model.
const embeddingDimensions = 768

// app holds the wired pipeline plus everything that needs closing.
type app struct {
	cfg      *config.Config
	engine   *chat.Engine
	store    *store.SQLiteStore
	embedder embedding.Engine
	sessions *session.Store
	logger   *zap.Logger
}

// newApp builds the full pipeline from configuration. The session sweeper
// starts immediately; callers must Close.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	recordStore, err := store.Open(cfg.Store.DatabasePath, embeddingDimensions, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open record store: %w", err)
	}

	embedder, err := embedding.NewEngine(ctx, embedding.Config{
		Provider:       cfg.Embedding.Provider,
		OllamaEndpoint: cfg.Embedding.OllamaEndpoint,
		OllamaModel:    cfg.Embedding.OllamaModel,
		GenAIAPIKey:    cfg.LLM.APIKey,
		GenAIModel:     cfg.Embedding.GenAIModel,
		Timeout:        config.Duration(cfg.Embedding.Timeout, 0),
	})
	if err != nil {
		// Retrieval degrades to text search without an embedding engine.
		logger.Warn("embedding engine unavailable, semantic search disabled", zap.Error(err))
		embedder = nil
	}

	gemini, err := llm.NewGeminiClient(ctx, llm.GeminiConfig{
		APIKey:     cfg.LLM.APIKey,
		Model:      cfg.LLM.Model,
		Timeout:    config.Duration(cfg.LLM.Timeout, 0),
		MaxRetries: cfg.LLM.MaxRetries,
	}, logger)
	if err != nil {
		recordStore.Close()
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	client := llm.NewScheduledClient(gemini, cfg.LLM.MaxInFlight, logger)

	sessions := session.NewStore(
		config.Duration(cfg.Session.TTL, session.DefaultTTL),
		cfg.Session.MaxMessages,
		logger,
	)
	sessions.StartSweeper(config.Duration(cfg.Session.SweepInterval, session.DefaultSweepInterval))

	limiter := ratelimit.New(
		config.Duration(cfg.RateLimit.Window, 0),
		cfg.RateLimit.MaxRequests,
		logger,
	)

	engine := chat.NewEngine(
		limiter,
		sessions,
		intent.NewClassifier(client, logger),
		retrieval.New(recordStore, embedder, logger),
		compose.NewComposer(client, logger),
		logger,
	)

	return &app{
		cfg:      cfg,
		engine:   engine,
		store:    recordStore,
		embedder: embedder,
		sessions: sessions,
		logger:   logger,
	}, nil
}

func (a *app) Close() {
	a.sessions.Close()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close record store", zap.Error(err))
	}
}
