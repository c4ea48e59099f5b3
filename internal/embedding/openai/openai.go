package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"courseqa/internal/domain"
)

// Client is an OpenAI-compatible embeddings client. Ollama, OpenAI and most
// hosted gateways speak this protocol.
type Client struct {
	client *goopenai.Client
	model  string

	mu        sync.Mutex
	dimension int
}

// Config configures the OpenAI-compatible embeddings client.
type Config struct {
	BaseURL   string
	APIKeyEnv string
	Model     string
	Timeout   time.Duration
}

// NewClient creates a new embeddings client. The API key is optional since
// local providers such as Ollama do not check it.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434/v1"
	}
	if cfg.Model == "" {
		return nil, errors.New("embedding model is required")
	}
	t := cfg.Timeout
	if t == 0 {
		t = 30 * time.Second
	}
	var key string
	if cfg.APIKeyEnv != "" {
		key = os.Getenv(cfg.APIKeyEnv)
	}
	clientConfig := goopenai.DefaultConfig(key)
	clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	clientConfig.HTTPClient = &http.Client{Timeout: t}
	return &Client{
		client: goopenai.NewClientWithConfig(clientConfig),
		model:  cfg.Model,
	}, nil
}

// Model returns the embedding model identifier sent with every request.
func (c *Client) Model() string { return c.model }

// Dimension returns the dimensionality seen so far, or 0 before the first
// successful call.
func (c *Client) Dimension() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dimension
}

// Embed sends all texts in one request and returns one vector per text in
// input order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: no texts to embed", domain.ErrInvalidInput)
	}
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, fmt.Errorf("%w: text %d is empty", domain.ErrInvalidInput, i)
		}
	}

	resp, err := c.client.CreateEmbeddings(ctx, goopenai.EmbeddingRequest{
		Input: texts,
		Model: goopenai.EmbeddingModel(c.model),
	})
	if err != nil {
		return nil, classify(err)
	}

	vectors, err := orderByIndex(resp.Data, len(texts))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderResponseInvalid, err)
	}
	if err := c.checkDimension(len(vectors[0])); err != nil {
		return nil, err
	}
	return vectors, nil
}

func (c *Client) checkDimension(dim int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dimension == 0 {
		c.dimension = dim
		return nil
	}
	if c.dimension != dim {
		return fmt.Errorf("%w: got %d dimensions, earlier responses had %d", domain.ErrProviderResponseInvalid, dim, c.dimension)
	}
	return nil
}

func orderByIndex(data []goopenai.Embedding, want int) ([][]float32, error) {
	if len(data) != want {
		return nil, fmt.Errorf("got %d embeddings for %d inputs", len(data), want)
	}
	out := make([][]float32, want)
	for _, d := range data {
		if d.Index < 0 || d.Index >= want {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		if out[d.Index] != nil {
			return nil, fmt.Errorf("duplicate embedding index %d", d.Index)
		}
		if len(d.Embedding) == 0 {
			return nil, fmt.Errorf("empty embedding at index %d", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	dim := len(out[0])
	for i, v := range out {
		if len(v) != dim {
			return nil, fmt.Errorf("embedding %d has %d dimensions, embedding 0 has %d", i, len(v), dim)
		}
	}
	return out, nil
}

// classify maps client errors onto the provider taxonomy: anything that
// prevented a usable HTTP exchange is unavailability, an undecodable success
// body is an invalid response.
func classify(err error) error {
	var urlErr *url.Error
	var apiErr *goopenai.APIError
	var reqErr *goopenai.RequestError
	switch {
	case errors.As(err, &urlErr),
		errors.As(err, &apiErr),
		errors.As(err, &reqErr),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", domain.ErrProviderUnavailable, err)
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %w", domain.ErrProviderResponseInvalid, err)
	}
	return fmt.Errorf("%w: %w", domain.ErrProviderUnavailable, err)
}
