package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/talentwise/assessment-rag-backend/internal/config"
	"github.com/talentwise/assessment-rag-backend/internal/logger"
	"github.com/talentwise/assessment-rag-backend/internal/utils"
)

// EmbeddingClient turns searchable text into fixed-length vectors. Identical
// normalized text resolves from a process-wide cache without a network call.
type EmbeddingClient interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
	Dimension() int
}

type embeddingClient struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	model      string
	dimension  int
	maxRetries int
	httpClient *http.Client

	mu    sync.Mutex
	cache map[string][]float32
}

func NewEmbeddingClient(cfg config.EmbeddingConfig, baseLog *logger.Logger) (EmbeddingClient, error) {
	log := baseLog.With("service", "EmbeddingClient")
	apiKey := utils.GetEnv("OPENAI_API_KEY", "", log)
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("missing embedding base url")
	}
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &embeddingClient{
		log:        log,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     apiKey,
		model:      cfg.Model,
		dimension:  cfg.Dimension,
		maxRetries: cfg.MaxRetries,
		httpClient: &http.Client{Timeout: timeout},
		cache:      map[string][]float32{},
	}, nil
}

func (c *embeddingClient) Dimension() int {
	return c.dimension
}

// Embed resolves one vector per input, in input order. When the embedding
// service is unreachable the uncached positions are filled with zero-vector
// sentinels and ErrEmbeddingUnavailable is returned alongside them; callers
// must label those documents as carrying placeholder embeddings.
func (c *embeddingClient) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	missing := make([]int, 0, len(inputs))
	keys := make([]string, len(inputs))

	c.mu.Lock()
	for i, in := range inputs {
		keys[i] = normalizeText(in)
		if vec, ok := c.cache[keys[i]]; ok {
			out[i] = vec
			continue
		}
		missing = append(missing, i)
	}
	c.mu.Unlock()

	if len(missing) == 0 {
		return out, nil
	}

	batch := make([]string, len(missing))
	for j, i := range missing {
		batch[j] = keys[i]
	}

	vecs, err := c.request(ctx, batch)
	if err != nil {
		c.log.Warn("Embedding request failed, returning placeholder vectors", "inputs", len(batch), "error", err)
		for _, i := range missing {
			out[i] = make([]float32, c.dimension)
		}
		return out, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}
	if len(vecs) != len(batch) {
		return nil, fmt.Errorf("embedding response count mismatch: want %d got %d", len(batch), len(vecs))
	}

	c.mu.Lock()
	for j, i := range missing {
		vec := l2Normalize(vecs[j])
		if len(vec) != c.dimension {
			c.mu.Unlock()
			return nil, fmt.Errorf("embedding dimension mismatch: want %d got %d", c.dimension, len(vec))
		}
		c.cache[keys[i]] = vec
		out[i] = vec
	}
	c.mu.Unlock()

	return out, nil
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (c *embeddingClient) request(ctx context.Context, inputs []string) ([][]float32, error) {
	body, err := json.Marshal(embeddingRequest{Model: c.model, Input: inputs})
	if err != nil {
		return nil, fmt.Errorf("encode embedding request: %w", err)
	}

	var lastErr error
	attempts := c.maxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}
		vecs, retryable, err := c.doRequest(ctx, body)
		if err == nil {
			return vecs, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *embeddingClient) doRequest(ctx context.Context, body []byte) ([][]float32, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("embedding request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("read embedding response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("embedding service returned %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("embedding service returned %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, false, fmt.Errorf("decode embedding response: %w", err)
	}

	vecs := make([][]float32, len(parsed.Data))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(vecs) {
			return nil, false, fmt.Errorf("embedding response index %d out of range", d.Index)
		}
		vecs[d.Index] = d.Embedding
	}
	return vecs, false, nil
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// l2Normalize scales the vector to unit length so L2 ranking over stored
// vectors is equivalent to cosine ranking. Zero vectors pass through
// unchanged; they are the "embedding unavailable" sentinel.
func l2Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// IsZeroVector reports whether v is the placeholder sentinel.
func IsZeroVector(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
