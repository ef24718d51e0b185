package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/user/newspulse/internal/types"
)

// APIAdapter pulls items from JSON news endpoints.
type APIAdapter struct {
	client *http.Client
}

func NewAPIAdapter(client *http.Client) *APIAdapter {
	return &APIAdapter{client: defaultClient(client)}
}

func (a *APIAdapter) Kind() types.SourceKind {
	return types.SourceKindAPI
}

type apiItem struct {
	Headline    string `json:"headline"`
	Body        string `json:"body"`
	Symbol      string `json:"symbol"`
	URL         string `json:"url"`
	PublishedAt string `json:"published_at"`
}

func (a *APIAdapter) Fetch(ctx context.Context, cfg *types.SourceConfig) ([]types.RawItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.Endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if key := cfg.Options["api_key"]; key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, types.E(types.KindTransientIO, "fetch api %s", cfg.SourceID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, types.E(types.KindTransientIO, "api %s throttling", cfg.SourceID)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, types.E(types.KindTransientIO, "api %s returned %s", cfg.SourceID, resp.Status)
	}

	var payload []apiItem
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxFeedBytes)).Decode(&payload); err != nil {
		return nil, types.E(types.KindPermanent, "decode api %s", cfg.SourceID, err)
	}

	items := make([]types.RawItem, 0, len(payload))
	for _, entry := range payload {
		headline := strings.TrimSpace(entry.Headline)
		if headline == "" {
			continue
		}
		publishedAt := time.Now().UTC()
		if ts, err := time.Parse(time.RFC3339, entry.PublishedAt); err == nil {
			publishedAt = ts.UTC()
		}
		subject := entry.Symbol
		if subject == "" {
			subject = cfg.Options["subject"]
		}
		items = append(items, types.RawItem{
			Headline:    headline,
			Body:        strings.TrimSpace(entry.Body),
			Subject:     subject,
			URL:         entry.URL,
			PublishedAt: publishedAt,
		})
	}
	return items, nil
}
