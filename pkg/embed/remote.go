package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/yumyai/edna/internal/breaker"
)

// Remote calls an embedding model service over HTTP:
//
//	POST {URL}  {"sequence": "ACGT..."}  ->  {"embedding": [...]}
//
// Calls go through a circuit breaker; any failure surfaces as ErrUnavailable.
type Remote struct {
	url    string
	dim    int
	client *http.Client
	cb     *gobreaker.CircuitBreaker
}

type RemoteConfig struct {
	URL       string
	Dimension int
	Timeout   time.Duration
	Breaker   breaker.Config
}

func NewRemote(cfg RemoteConfig, log *zap.Logger) (*Remote, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("remote embedder: url is required")
	}
	t := cfg.Timeout
	if t == 0 {
		t = 30 * time.Second
	}
	bc := cfg.Breaker
	if bc.Name == "" {
		bc.Name = "embedding-service"
	}
	return &Remote{
		url:    cfg.URL,
		dim:    cfg.Dimension,
		client: &http.Client{Timeout: t},
		cb:     breaker.New(bc, log),
	}, nil
}

func (r *Remote) Name() string   { return "remote" }
func (r *Remote) Dimension() int { return r.dim }

func (r *Remote) Embed(ctx context.Context, seq string) ([]float32, error) {
	v, err := r.cb.Execute(func() (any, error) {
		return r.call(ctx, seq)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return v.([]float32), nil
}

func (r *Remote) call(ctx context.Context, seq string) ([]float32, error) {
	body, _ := json.Marshal(map[string]string{"sequence": seq})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("embedding service: %s", resp.Status)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var out struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("embedding service returned an empty vector")
	}
	if r.dim > 0 && len(out.Embedding) != r.dim {
		return nil, fmt.Errorf("embedding dimension %d, want %d", len(out.Embedding), r.dim)
	}
	return out.Embedding, nil
}
