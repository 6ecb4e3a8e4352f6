// Package embedding batch-embeds text through an external HTTP model, with
// runtime dispatch between Ollama and OpenAI-compatible (OpenRouter)
// backends. The provider is modeled as a tagged variant dispatched at call
// time rather than an inheritance hierarchy.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/t-koma/knowledge/pkg/komaerr"
)

// Provider is the open enumeration of embedding backends.
type Provider string

const (
	ProviderOllama     Provider = "ollama"
	ProviderOpenRouter Provider = "openrouter"
)

// Client embeds batches of text through a configured provider. It is safe
// for concurrent use by many callers sharing one process-wide instance.
type Client struct {
	provider Provider
	baseURL  string
	model    string
	apiKey   string
	dim      int // 0 == no dimension check configured
	batch    int
	http     *http.Client
}

// Config configures a Client.
type Config struct {
	Provider  Provider
	BaseURL   string
	Model     string
	APIKey    string // required for ProviderOpenRouter
	Dimension int    // 0 disables the dimension check
	BatchSize int    // default 32 if <= 0
	Timeout   time.Duration
}

// New builds a Client from Config.
func New(cfg Config) *Client {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 32
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		provider: cfg.Provider,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		model:    cfg.Model,
		apiKey:   cfg.APIKey,
		dim:      cfg.Dimension,
		batch:    batch,
		http:     &http.Client{Timeout: timeout},
	}
}

// EmbedBatch embeds an ordered sequence of strings, transparently splitting
// into the configured batch size, and returns vectors in the same order.
func (c *Client) EmbedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(inputs))
	for start := 0; start < len(inputs); start += c.batch {
		end := start + c.batch
		if end > len(inputs) {
			end = len(inputs)
		}
		vectors, err := c.embedOne(ctx, inputs[start:end])
		if err != nil {
			return nil, err
		}
		if len(vectors) != end-start {
			return nil, komaerr.New(komaerr.KindEmbedding, fmt.Sprintf("provider returned %d vectors for %d inputs", len(vectors), end-start))
		}
		for _, v := range vectors {
			if c.dim > 0 && len(v) != c.dim {
				return nil, komaerr.EmbeddingDimMismatch(c.dim, len(v))
			}
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (c *Client) embedOne(ctx context.Context, inputs []string) ([][]float32, error) {
	switch c.provider {
	case ProviderOpenRouter:
		return c.embedOpenRouter(ctx, inputs)
	case ProviderOllama, "":
		return c.embedOllama(ctx, inputs)
	default:
		return nil, komaerr.New(komaerr.KindEmbedding, fmt.Sprintf("unknown embedding provider %q", c.provider))
	}
}

type ollamaRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Embedding  []float32   `json:"embedding"`
}

func (c *Client) embedOllama(ctx context.Context, inputs []string) ([][]float32, error) {
	url := c.baseURL + "/api/embed"
	body, err := json.Marshal(ollamaRequest{Model: c.model, Input: inputs})
	if err != nil {
		return nil, komaerr.Wrap(komaerr.KindEmbedding, "encode ollama request", err)
	}

	resp, err := c.doPost(ctx, url, body, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, komaerr.Wrap(komaerr.KindHTTP, "read ollama response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, komaerr.New(komaerr.KindEmbedding, fmt.Sprintf("ollama embedding request failed: %d %s", resp.StatusCode, string(raw)))
	}

	var payload ollamaResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, komaerr.Wrap(komaerr.KindHTTP, "decode ollama response", err)
	}

	if payload.Embeddings != nil {
		return payload.Embeddings, nil
	}
	if payload.Embedding != nil {
		return [][]float32{payload.Embedding}, nil
	}
	return nil, komaerr.New(komaerr.KindEmbedding, "ollama embedding response missing vectors")
}

type openRouterRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openRouterEmbedding struct {
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

type openRouterResponse struct {
	Data []openRouterEmbedding `json:"data"`
}

func (c *Client) embedOpenRouter(ctx context.Context, inputs []string) ([][]float32, error) {
	if c.apiKey == "" {
		return nil, komaerr.New(komaerr.KindEmbedding, "openrouter embedding provider requires an API key")
	}

	url := c.baseURL + "/embeddings"
	body, err := json.Marshal(openRouterRequest{Model: c.model, Input: inputs})
	if err != nil {
		return nil, komaerr.Wrap(komaerr.KindEmbedding, "encode openrouter request", err)
	}

	resp, err := c.doPost(ctx, url, body, c.apiKey)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, komaerr.Wrap(komaerr.KindHTTP, "read openrouter response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, komaerr.New(komaerr.KindEmbedding, fmt.Sprintf("openrouter embedding request failed: %d %s", resp.StatusCode, string(raw)))
	}

	var payload openRouterResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, komaerr.Wrap(komaerr.KindHTTP, "decode openrouter response", err)
	}

	sort.Slice(payload.Data, func(i, j int) bool { return payload.Data[i].Index < payload.Data[j].Index })
	vectors := make([][]float32, len(payload.Data))
	for i, d := range payload.Data {
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

func (c *Client) doPost(ctx context.Context, url string, body []byte, bearer string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, komaerr.Wrap(komaerr.KindHTTP, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, komaerr.Wrap(komaerr.KindHTTP, "send request", err)
	}
	return resp, nil
}
