// Package embedder implements the Embedding Service (C4): a singleton,
// process-scoped handle to a batch text-embedding endpoint.
package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Embedder is the C4 contract: embed_batch, dimension, model_id.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	ModelID() string
	Close() error
}

// Config configures the HTTP embedding client. BaseURL+Path is the full
// endpoint; APIHeader defaults to "Authorization" (sent as "Bearer <key>"),
// any other header name is sent as a raw value.
type Config struct {
	BaseURL        string
	Path           string
	APIKey         string
	APIHeader      string
	Model          string
	Dimension      int
	Timeout        time.Duration
	MaxInputWords  int // inputs longer than this are truncated before sending
	BatchSize      int // texts per HTTP call; default 32
	MinCallSpacing time.Duration
}

func (c Config) withDefaults() Config {
	if c.APIHeader == "" {
		c.APIHeader = "Authorization"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxInputWords <= 0 {
		c.MaxInputWords = 8000
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 32
	}
	return c
}

type httpEmbedder struct {
	cfg    Config
	client *http.Client

	mu       sync.Mutex
	lastCall time.Time
}

// NewHTTP constructs the HTTP-backed Embedder. It performs no network I/O
// until EmbedBatch is called.
func NewHTTP(cfg Config) Embedder {
	cfg = cfg.withDefaults()
	return &httpEmbedder{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

type embedReq struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResp struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (e *httpEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.cfg.BatchSize {
		end := min(start+e.cfg.BatchSize, len(texts))
		batch := make([]string, end-start)
		for i, t := range texts[start:end] {
			batch[i] = truncateWords(t, e.cfg.MaxInputWords)
		}
		vecs, err := e.call(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("embed batch [%d:%d]: %w", start, end, err)
		}
		if len(vecs) != len(batch) {
			return nil, fmt.Errorf("embed batch [%d:%d]: expected %d vectors, got %d", start, end, len(batch), len(vecs))
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (e *httpEmbedder) call(ctx context.Context, texts []string) ([][]float32, error) {
	e.rateLimit()

	body, err := json.Marshal(embedReq{Model: e.cfg.Model, Input: texts})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+e.cfg.Path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if e.cfg.APIHeader == "Authorization" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	} else if e.cfg.APIKey != "" {
		req.Header.Set(e.cfg.APIHeader, e.cfg.APIKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding endpoint %s: %s", resp.Status, string(b))
	}
	var er embedResp
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return nil, err
	}
	vecs := make([][]float32, len(er.Data))
	for i, d := range er.Data {
		vecs[i] = d.Embedding
	}
	return vecs, nil
}

func (e *httpEmbedder) rateLimit() {
	if e.cfg.MinCallSpacing <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if wait := e.cfg.MinCallSpacing - time.Since(e.lastCall); wait > 0 {
		time.Sleep(wait)
	}
	e.lastCall = time.Now()
}

func (e *httpEmbedder) Dimension() int  { return e.cfg.Dimension }
func (e *httpEmbedder) ModelID() string { return e.cfg.Model }
func (e *httpEmbedder) Close() error    { return nil }

func truncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ")
}

// --- deterministic test/offline embedder -----------------------------------

type deterministicEmbedder struct {
	dim       int
	normalize bool
	model     string
}

// NewDeterministic returns an Embedder producing a stable, hash-based vector
// per input — used by tests and by seed fixtures that don't need a live
// embedding endpoint. Not a semantic embedding: suitable only where tests
// care about determinism and relative similarity of repeated n-grams.
func NewDeterministic(dim int, normalize bool) Embedder {
	return &deterministicEmbedder{dim: dim, normalize: normalize, model: "deterministic-fnv"}
}

func (d *deterministicEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = d.embedOne(t)
	}
	return out, nil
}

func (d *deterministicEmbedder) embedOne(text string) []float32 {
	v := make([]float32, d.dim)
	grams := threeGrams(strings.ToLower(strings.Join(strings.Fields(text), " ")))
	for _, g := range grams {
		h := fnv.New32a()
		_, _ = h.Write([]byte(g))
		idx := int(h.Sum32()) % d.dim
		if idx < 0 {
			idx += d.dim
		}
		v[idx]++
	}
	if d.normalize {
		var norm float64
		for _, x := range v {
			norm += float64(x) * float64(x)
		}
		norm = math.Sqrt(norm)
		if norm > 0 {
			for i := range v {
				v[i] = float32(float64(v[i]) / norm)
			}
		}
	}
	return v
}

func threeGrams(s string) []string {
	if len(s) < 3 {
		return []string{s}
	}
	grams := make([]string, 0, len(s)-2)
	for i := 0; i+3 <= len(s); i++ {
		grams = append(grams, s[i:i+3])
	}
	return grams
}

func (d *deterministicEmbedder) Dimension() int  { return d.dim }
func (d *deterministicEmbedder) ModelID() string { return d.model }
func (d *deterministicEmbedder) Close() error    { return nil }

// --- process-scoped singleton -----------------------------------------------

var (
	singletonMu   sync.Mutex
	singletonInst Embedder
)

// Acquire returns the process-wide Embedder, constructing it on first call
// via factory. Scoped acquisition with guaranteed release is completed by
// calling Release at process teardown (spec.md §4.4/§9).
func Acquire(factory func() Embedder) Embedder {
	singletonMu.Lock()
	defer singletonMu.Unlock()
	if singletonInst == nil {
		singletonInst = factory()
	}
	return singletonInst
}

// Release tears down the process-wide Embedder, if one was acquired.
func Release() error {
	singletonMu.Lock()
	defer singletonMu.Unlock()
	if singletonInst == nil {
		return nil
	}
	err := singletonInst.Close()
	singletonInst = nil
	return err
}
