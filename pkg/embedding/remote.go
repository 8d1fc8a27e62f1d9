package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/avrelius/lorekeep/pkg/logger"
)

const (
	defaultRemoteTimeout = 10 * time.Second
	defaultRemoteModel   = "text-embedding-3-small"
)

// RemoteConfig configures the remote embedding API client.
type RemoteConfig struct {
	APIBase string
	APIKey  string
	Model   string
	Timeout time.Duration
	// RequestsPerSecond bounds outbound calls; 0 means unlimited.
	RequestsPerSecond float64
}

// Remote delegates to an OpenAI-compatible /embeddings endpoint.
//
// Every failure mode (network error, non-2xx status, open circuit,
// exhausted rate budget, cancelled context) degrades to the composed
// Local provider, so callers never see an embedding failure.
type Remote struct {
	cfg      RemoteConfig
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker
	limiter  *rate.Limiter
	fallback *Local
}

func NewRemote(cfg RemoteConfig, fallback *Local) (*Remote, error) {
	cfg.APIBase = strings.TrimRight(strings.TrimSpace(cfg.APIBase), "/")
	if cfg.APIBase == "" {
		return nil, fmt.Errorf("embedding API base not configured")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = defaultRemoteModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRemoteTimeout
	}
	if fallback == nil {
		fallback = NewLocal()
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "embedding-api",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})

	return &Remote{
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.Timeout},
		breaker:  breaker,
		limiter:  limiter,
		fallback: fallback,
	}, nil
}

func (r *Remote) Name() string    { return "remote:" + r.cfg.Model }
func (r *Remote) Dimensions() int { return r.fallback.Dimensions() }

func (r *Remote) Embed(ctx context.Context, text string) []float32 {
	if r.limiter != nil && !r.limiter.Allow() {
		logger.DebugC("embedding", "Rate budget exhausted, using local embedder")
		return r.fallback.Embed(ctx, text)
	}

	result, err := r.breaker.Execute(func() (interface{}, error) {
		return r.fetch(ctx, text)
	})
	if err != nil {
		logger.WarnCF("embedding", "Remote embedding failed, using local embedder", map[string]any{
			"error": err.Error(),
		})
		return r.fallback.Embed(ctx, text)
	}
	return result.([]float32)
}

func (r *Remote) fetch(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(map[string]any{
		"model": r.cfg.Model,
		"input": text,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.APIBase+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send embedding request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embedding response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("embedding API request failed: status=%d", resp.StatusCode)
	}

	var parsed struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("parse embedding response: %w", err)
	}
	if len(parsed.Data) == 0 || len(parsed.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("embedding response contained no vectors")
	}
	return parsed.Data[0].Embedding, nil
}
