// Package analysis consumes published fingerprints, runs sentiment
// scoring, records results exactly once, and feeds the time-series
// aggregation stage.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/user/newspulse/internal/types"
)

type ScorerConfig struct {
	Endpoint       string
	APIKey         string
	Model          string
	MaxInputTokens int
	Timeout        time.Duration
}

// HTTPScorer calls the external sentiment model. Input is truncated to
// the model's token budget before it goes on the wire.
type HTTPScorer struct {
	client    *http.Client
	tokenizer *tiktoken.Tiktoken
	cfg       ScorerConfig
}

func NewHTTPScorer(cfg ScorerConfig) (*HTTPScorer, error) {
	enc, err := tiktoken.EncodingForModel(cfg.Model)
	if err != nil {
		// Fallback to cl100k_base for unknown models
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	if cfg.MaxInputTokens <= 0 {
		cfg.MaxInputTokens = 512
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &HTTPScorer{
		client:    &http.Client{Timeout: cfg.Timeout},
		tokenizer: enc,
		cfg:       cfg,
	}, nil
}

// truncate clips text to the configured token budget.
func (s *HTTPScorer) truncate(text string) string {
	if s.tokenizer == nil {
		return text
	}
	tokens := s.tokenizer.Encode(text, nil, nil)
	if len(tokens) <= s.cfg.MaxInputTokens {
		return text
	}
	return s.tokenizer.Decode(tokens[:s.cfg.MaxInputTokens])
}

type scoreRequest struct {
	Model string `json:"model"`
	Text  string `json:"text"`
}

func (s *HTTPScorer) Score(ctx context.Context, text string) (*types.ScoreResult, error) {
	payload, err := json.Marshal(scoreRequest{Model: s.cfg.Model, Text: s.truncate(text)})
	if err != nil {
		return nil, types.E(types.KindPermanent, "encode score request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, types.E(types.KindPermanent, "build score request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, types.E(types.KindTransientIO, "score request", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, types.E(types.KindTransientIO, "scoring service returned %d", resp.StatusCode)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, types.E(types.KindPermanent, "scoring service rejected request: %d %s", resp.StatusCode, string(body))
	}

	var result types.ScoreResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, types.E(types.KindTransientIO, "decode score response", err)
	}
	if result.Score < -1 || result.Score > 1 {
		return nil, types.E(types.KindDataIntegrity, "score %f outside [-1, 1]", result.Score)
	}
	if result.ModelVersion == "" {
		result.ModelVersion = s.cfg.Model
	}
	return &result, nil
}
