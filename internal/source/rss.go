package source

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/user/newspulse/internal/types"
)

// RSSAdapter pulls items from RSS 2.0 feeds.
type RSSAdapter struct {
	client *http.Client
}

func NewRSSAdapter(client *http.Client) *RSSAdapter {
	return &RSSAdapter{client: defaultClient(client)}
}

func (a *RSSAdapter) Kind() types.SourceKind {
	return types.SourceKindRSS
}

type rssFeed struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	Category    string `xml:"category"`
	PubDate     string `xml:"pubDate"`
}

func (a *RSSAdapter) Fetch(ctx context.Context, cfg *types.SourceConfig) ([]types.RawItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.Endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, types.E(types.KindTransientIO, "fetch feed %s", cfg.SourceID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, types.E(types.KindTransientIO, "feed %s returned %s", cfg.SourceID, resp.Status)
	}

	var feed rssFeed
	if err := xml.NewDecoder(io.LimitReader(resp.Body, maxFeedBytes)).Decode(&feed); err != nil {
		return nil, types.E(types.KindPermanent, "parse feed %s", cfg.SourceID, err)
	}

	items := make([]types.RawItem, 0, len(feed.Channel.Items))
	for _, entry := range feed.Channel.Items {
		title := strings.TrimSpace(entry.Title)
		if title == "" {
			continue
		}
		items = append(items, types.RawItem{
			Headline:    title,
			Body:        strings.TrimSpace(entry.Description),
			Subject:     subjectFor(cfg, strings.TrimSpace(entry.Category)),
			URL:         strings.TrimSpace(entry.Link),
			PublishedAt: parsePubDate(entry.PubDate),
		})
	}
	return items, nil
}

const (
	userAgent    = "newspulse/1.0"
	maxFeedBytes = 4 << 20
)

// subjectFor prefers an explicit subject option on the source, falling back
// to the per-item category tag.
func subjectFor(cfg *types.SourceConfig, category string) string {
	if s := cfg.Options["subject"]; s != "" {
		return s
	}
	return category
}

func parsePubDate(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{time.RFC1123Z, time.RFC1123, time.RFC3339} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC()
		}
	}
	return time.Now().UTC()
}
