package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/RPLaine/newsroom-processor/internal/apperr"
	"github.com/RPLaine/newsroom-processor/internal/core"
	"github.com/RPLaine/newsroom-processor/internal/models"
)

const maxResponseBytes = 4 << 20

// DolphinLLM talks to a raw text-completion endpoint using the chat marker
// protocol. Calls are never retried: a retry could append a second
// generation to the conversation.
type DolphinLLM struct {
	url      string
	timeout  time.Duration
	sampling core.SamplingConfig
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker
	log      *zap.Logger
}

var _ core.LLMProvider = (*DolphinLLM)(nil)

type DolphinOptions struct {
	URL      string
	Timeout  time.Duration
	Sampling core.SamplingConfig
}

type completionRequest struct {
	Prompt            string  `json:"prompt"`
	MaxLength         int     `json:"max_length"`
	Temperature       float64 `json:"temperature"`
	TopK              int     `json:"top_k"`
	TopP              float64 `json:"top_p"`
	RepetitionPenalty float64 `json:"repetition_penalty"`
}

func NewDolphinLLM(opts DolphinOptions, log *zap.Logger) (*DolphinLLM, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("LLM_URL not set")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 120 * time.Second
	}

	client := &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: opts.Timeout,
		},
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "llm-endpoint",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		// Only an unreachable or failing server counts against the breaker.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var appErr *apperr.Error
			if errors.As(err, &appErr) && appErr.Kind == apperr.KindRemote {
				return appErr.StatusCode < 500
			}
			return !apperr.Is(err, apperr.KindConnection)
		},
	})

	return &DolphinLLM{
		url:      opts.URL,
		timeout:  opts.Timeout,
		sampling: opts.Sampling.WithDefaults(),
		client:   client,
		breaker:  breaker,
		log:      log,
	}, nil
}

// Generate encodes the conversation and completes it.
func (d *DolphinLLM) Generate(ctx context.Context, turns []models.Turn, cfg core.SamplingConfig) (string, error) {
	return d.Complete(ctx, EncodeTurns(turns), cfg)
}

// Complete posts prompt to the endpoint and returns the extracted answer.
// Unset sampling fields fall back to the client's configured values.
func (d *DolphinLLM) Complete(ctx context.Context, prompt string, cfg core.SamplingConfig) (string, error) {
	cfg = cfg.Merge(d.sampling)

	out, err := d.breaker.Execute(func() (interface{}, error) {
		return d.post(ctx, prompt, cfg)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", apperr.Connection(err)
	}
	if err != nil {
		return "", err
	}
	return ExtractAnswer(out.(string)), nil
}

func (d *DolphinLLM) post(ctx context.Context, prompt string, cfg core.SamplingConfig) (string, error) {
	body, err := json.Marshal(completionRequest{
		Prompt:            prompt,
		MaxLength:         *cfg.MaxLength,
		Temperature:       *cfg.Temperature,
		TopK:              *cfg.TopK,
		TopP:              *cfg.TopP,
		RepetitionPenalty: *cfg.RepetitionPenalty,
	})
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "Failed to encode LLM request", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "Failed to build LLM request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		d.log.Warn("llm request failed", zap.String("url", d.url), zap.Error(err))
		return "", apperr.Connection(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", apperr.Connection(fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		d.log.Warn("llm endpoint returned error status",
			zap.Int("status", resp.StatusCode),
			zap.Int("body_bytes", len(raw)))
		return "", apperr.Remote(resp.StatusCode, truncate(string(raw), 512))
	}

	d.log.Debug("llm completion received",
		zap.Duration("elapsed", time.Since(started)),
		zap.Int("body_bytes", len(raw)))

	return responseText(raw), nil
}

// responseText accepts either a plain-text body or a JSON object carrying
// the text. Anything else is handed back untouched.
func responseText(raw []byte) string {
	var obj map[string]any
	if json.Unmarshal(raw, &obj) == nil {
		for _, key := range []string{"text", "generated_text", "response", "output"} {
			if s, ok := obj[key].(string); ok {
				return s
			}
		}
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return string(raw)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
