package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"courseqa/internal/composer/openai"
	"courseqa/internal/config"
	"courseqa/internal/corpus"
	"courseqa/internal/corpus/qdrant"
	"courseqa/internal/corpus/sqlite"
	"courseqa/internal/domain"
	embopenai "courseqa/internal/embedding/openai"
	"courseqa/internal/index"
	"courseqa/internal/prompt"
	"courseqa/internal/service"
)

func loadConfig(path string) (*config.AppConfig, error) {
	if path == "" {
		cfg, used, err := config.LoadDefault()
		if err != nil {
			return nil, err
		}
		slog.Debug("config loaded", "path", used)
		return cfg, nil
	}
	return config.Load(path)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// openStore opens the configured corpus store. Only the index command passes
// create; every other command needs an existing corpus.
func openStore(cfg *config.AppConfig, create bool) (corpus.Store, error) {
	switch cfg.Corpus.Type {
	case "file", "":
		return corpus.NewFileStore(cfg.Corpus.Path), nil
	case "sqlite":
		if create {
			return sqlite.Open(cfg.Corpus.Path)
		}
		return sqlite.OpenExisting(cfg.Corpus.Path)
	case "qdrant":
		if cfg.Corpus.Qdrant == nil {
			return nil, fmt.Errorf("qdrant config missing")
		}
		var key string
		if cfg.Corpus.Qdrant.APIKeyEnv != "" {
			key = os.Getenv(cfg.Corpus.Qdrant.APIKeyEnv)
		}
		return qdrant.NewStorage(qdrant.Config{
			Addr:       cfg.Corpus.Qdrant.Addr,
			APIKey:     key,
			Collection: cfg.Corpus.Qdrant.Collection,
			UseTLS:     cfg.Corpus.Qdrant.UseTLS,
		})
	default:
		return nil, fmt.Errorf("unknown corpus type: %s", cfg.Corpus.Type)
	}
}

func newEmbedder(cfg *config.AppConfig) (*embopenai.Client, error) {
	return embopenai.NewClient(embopenai.Config{
		BaseURL:   cfg.Embedder.BaseURL,
		APIKeyEnv: cfg.Embedder.APIKeyEnv,
		Model:     cfg.Embedder.Model,
		Timeout:   time.Duration(cfg.Embedder.TimeoutSecs) * time.Second,
	})
}

// loadIndex loads the corpus once and indexes it. Any failure here is fatal.
func loadIndex(ctx context.Context, cfg *config.AppConfig) (*index.Index, error) {
	store, err := openStore(cfg, false)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	c, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if c.Model() != "" && c.Model() != cfg.Embedder.Model {
		slog.Warn("corpus was built with a different embedding model", "corpus_model", c.Model(), "embedder_model", cfg.Embedder.Model)
	}
	slog.Info("corpus loaded", "type", cfg.Corpus.Type, "segments", c.Len(), "dimension", c.Dimension())
	return index.New(c), nil
}

// buildAssistant wires the full pipeline. withComposer is false for
// retrieval-only commands, which then need no chat API key.
func buildAssistant(ctx context.Context, cfg *config.AppConfig, withComposer bool) (*service.AssistantImpl, error) {
	idx, err := loadIndex(ctx, cfg)
	if err != nil {
		return nil, err
	}
	emb, err := newEmbedder(cfg)
	if err != nil {
		return nil, fmt.Errorf("embedder init failed: %w", err)
	}
	asm, err := prompt.NewAssembler(prompt.Config{
		Course:   cfg.Course.Name,
		Template: cfg.Prompt.Template,
		MaxChars: cfg.Prompt.MaxChars,
	})
	if err != nil {
		return nil, err
	}
	var comp *openai.Client
	if withComposer {
		comp, err = openai.NewClient(openai.Config{
			BaseURL:   cfg.Composer.BaseURL,
			APIKeyEnv: cfg.Composer.APIKeyEnv,
			Model:     cfg.Composer.Model,
			MaxTokens: cfg.Composer.MaxTokens,
			Timeout:   time.Duration(cfg.Composer.TimeoutSecs) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("composer init failed: %w", err)
		}
	}
	svc := service.NewAssistant(emb, idx, asm, composerOrNil(comp), cfg.Retrieval.TopK)
	if cfg.Retrieval.VerifyDimension {
		// Only a corpus the provider can never match stops startup. An
		// unreachable provider is reported per question instead.
		if err := svc.VerifyDimension(ctx); err != nil {
			if errors.Is(err, domain.ErrCorpusLoad) {
				return nil, err
			}
			slog.Warn("embedding provider check failed, continuing", "error", err)
		}
	}
	return svc, nil
}

// composerOrNil avoids storing a typed nil pointer in the interface.
func composerOrNil(c *openai.Client) domain.Composer {
	if c == nil {
		return nil
	}
	return c
}
