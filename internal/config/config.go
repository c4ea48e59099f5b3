package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// CourseConfig names the course the assistant answers questions about.
type CourseConfig struct {
	Name string `yaml:"name"`
}

// CorpusConfig selects where the embedding table is stored.
type CorpusConfig struct {
	Type   string        `yaml:"type"`
	Path   string        `yaml:"path"`
	Qdrant *QdrantConfig `yaml:"qdrant,omitempty"`
}

// QdrantConfig contains connection details for a Qdrant corpus store.
type QdrantConfig struct {
	Addr       string `yaml:"addr"`
	APIKeyEnv  string `yaml:"api_key_env"`
	Collection string `yaml:"collection"`
	UseTLS     bool   `yaml:"use_tls"`
}

// EmbedderConfig configures the OpenAI-compatible embedding provider.
type EmbedderConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	BatchSize   int    `yaml:"batch_size"`
}

// ComposerConfig configures the OpenAI-compatible chat-completion endpoint.
type ComposerConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	MaxTokens   int    `yaml:"max_tokens"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// RetrievalConfig configures the similarity search.
type RetrievalConfig struct {
	TopK            int  `yaml:"top_k"`
	VerifyDimension bool `yaml:"verify_dimension"`
}

// PromptConfig configures prompt assembly. An empty template selects the
// built-in one.
type PromptConfig struct {
	Template string `yaml:"template,omitempty"`
	MaxChars int    `yaml:"max_chars"`
}

// IndexerConfig configures how subtitle cues are grouped into segments.
type IndexerConfig struct {
	CuesPerSegment int `yaml:"cues_per_segment"`
	OverlapCues    int `yaml:"overlap_cues"`
	Concurrency    int `yaml:"concurrency"`
}

// ChatConfig configures the interactive shell.
type ChatConfig struct {
	QueryTimeoutSecs int `yaml:"query_timeout_secs"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Course    CourseConfig    `yaml:"course"`
	Corpus    CorpusConfig    `yaml:"corpus"`
	Embedder  EmbedderConfig  `yaml:"embedder"`
	Composer  ComposerConfig  `yaml:"composer"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Prompt    PromptConfig    `yaml:"prompt"`
	Indexer   IndexerConfig   `yaml:"indexer"`
	Chat      ChatConfig      `yaml:"chat"`
	Log       LogConfig       `yaml:"log"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	cfg := Default()
	// The default path depends on the corpus type, so it is chosen after parsing.
	cfg.Corpus.Path = ""
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	applyConfigDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/courseqa/config.yaml.
// If neither exists, it writes defaults to ~/.config/courseqa/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := DefaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := Default()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// DefaultUserConfigPath returns ~/.config/courseqa/config.yaml.
func DefaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "courseqa", "config.yaml"), nil
}

// Default returns the configuration used when no file is present: a local
// Ollama bge-m3 embedder and gpt-4o through OpenRouter.
func Default() *AppConfig {
	return &AppConfig{
		Course: CourseConfig{Name: "Python"},
		Corpus: CorpusConfig{Type: "file", Path: "embeddings.json"},
		Embedder: EmbedderConfig{
			BaseURL:     "http://localhost:11434/v1",
			Model:       "bge-m3",
			TimeoutSecs: 30,
			BatchSize:   32,
		},
		Composer: ComposerConfig{
			BaseURL:     "https://openrouter.ai/api/v1",
			APIKeyEnv:   "OPENROUTER_API_KEY",
			Model:       "openai/gpt-4o",
			MaxTokens:   1500,
			TimeoutSecs: 60,
		},
		Retrieval: RetrievalConfig{TopK: 5, VerifyDimension: true},
		Indexer:   IndexerConfig{CuesPerSegment: 5, OverlapCues: 1, Concurrency: 2},
		Chat:      ChatConfig{QueryTimeoutSecs: 120},
		Log:       LogConfig{Level: "info", File: "courseqa.log"},
	}
}

func applyConfigDefaults(cfg *AppConfig) {
	def := Default()
	if cfg.Course.Name == "" {
		cfg.Course.Name = def.Course.Name
	}
	if cfg.Corpus.Type == "" {
		cfg.Corpus.Type = def.Corpus.Type
	}
	if cfg.Corpus.Path == "" {
		switch cfg.Corpus.Type {
		case "file":
			cfg.Corpus.Path = def.Corpus.Path
		case "sqlite":
			cfg.Corpus.Path = "embeddings.db"
		}
	}
	if cfg.Corpus.Type == "qdrant" {
		if cfg.Corpus.Qdrant == nil {
			cfg.Corpus.Qdrant = &QdrantConfig{}
		}
		if cfg.Corpus.Qdrant.Addr == "" {
			cfg.Corpus.Qdrant.Addr = "localhost:6334"
		}
		if cfg.Corpus.Qdrant.Collection == "" {
			cfg.Corpus.Qdrant.Collection = "course_segments"
		}
	}
	if cfg.Embedder.BaseURL == "" {
		cfg.Embedder.BaseURL = def.Embedder.BaseURL
	}
	if cfg.Embedder.Model == "" {
		cfg.Embedder.Model = def.Embedder.Model
	}
	if cfg.Embedder.TimeoutSecs == 0 {
		cfg.Embedder.TimeoutSecs = def.Embedder.TimeoutSecs
	}
	if cfg.Embedder.BatchSize == 0 {
		cfg.Embedder.BatchSize = def.Embedder.BatchSize
	}
	if cfg.Composer.BaseURL == "" {
		cfg.Composer.BaseURL = def.Composer.BaseURL
	}
	if cfg.Composer.APIKeyEnv == "" {
		cfg.Composer.APIKeyEnv = def.Composer.APIKeyEnv
	}
	if cfg.Composer.Model == "" {
		cfg.Composer.Model = def.Composer.Model
	}
	if cfg.Composer.MaxTokens == 0 {
		cfg.Composer.MaxTokens = def.Composer.MaxTokens
	}
	if cfg.Composer.TimeoutSecs == 0 {
		cfg.Composer.TimeoutSecs = def.Composer.TimeoutSecs
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = def.Retrieval.TopK
	}
	if cfg.Indexer.CuesPerSegment == 0 {
		cfg.Indexer.CuesPerSegment = def.Indexer.CuesPerSegment
	}
	if cfg.Indexer.Concurrency == 0 {
		cfg.Indexer.Concurrency = def.Indexer.Concurrency
	}
	if cfg.Chat.QueryTimeoutSecs == 0 {
		cfg.Chat.QueryTimeoutSecs = def.Chat.QueryTimeoutSecs
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
}

// Validate reports settings that cannot work.
func (c *AppConfig) Validate() error {
	switch c.Corpus.Type {
	case "file", "sqlite":
		if c.Corpus.Path == "" {
			return fmt.Errorf("corpus.path is required for corpus type %q", c.Corpus.Type)
		}
	case "qdrant":
	default:
		return fmt.Errorf("unknown corpus type: %s", c.Corpus.Type)
	}
	if c.Retrieval.TopK < 1 {
		return fmt.Errorf("retrieval.top_k must be at least 1, got %d", c.Retrieval.TopK)
	}
	if c.Indexer.OverlapCues < 0 || c.Indexer.OverlapCues >= c.Indexer.CuesPerSegment {
		return fmt.Errorf("indexer.overlap_cues must be in [0, cues_per_segment)")
	}
	return nil
}
