package source

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"

	"github.com/user/newspulse/internal/types"
)

// HTMLAdapter scrapes headline listings from sites without a feed. CSS
// selectors come from the source config options:
//
//	item_selector     - one match per news item (required)
//	headline_selector - headline within an item (required)
//	body_selector     - optional teaser/body within an item
//	subject_selector  - optional ticker/subject within an item
type HTMLAdapter struct {
	client *http.Client
}

func NewHTMLAdapter(client *http.Client) *HTMLAdapter {
	return &HTMLAdapter{client: defaultClient(client)}
}

func (a *HTMLAdapter) Kind() types.SourceKind {
	return types.SourceKindHTML
}

func (a *HTMLAdapter) Fetch(ctx context.Context, cfg *types.SourceConfig) ([]types.RawItem, error) {
	itemSel := cfg.Options["item_selector"]
	headlineSel := cfg.Options["headline_selector"]
	if itemSel == "" || headlineSel == "" {
		return nil, types.E(types.KindPermanent, "source %s missing item/headline selectors", cfg.SourceID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.Endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, types.E(types.KindTransientIO, "fetch page %s", cfg.SourceID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, types.E(types.KindTransientIO, "page %s returned %s", cfg.SourceID, resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, types.E(types.KindPermanent, "parse page %s", cfg.SourceID, err)
	}

	var items []types.RawItem
	doc.Find(itemSel).Each(func(_ int, sel *goquery.Selection) {
		headline := strings.TrimSpace(sel.Find(headlineSel).First().Text())
		if headline == "" {
			return
		}

		body := ""
		if bodySel := cfg.Options["body_selector"]; bodySel != "" {
			if html, err := sel.Find(bodySel).First().Html(); err == nil {
				body = PlainText(html)
			}
		}

		subject := cfg.Options["subject"]
		if subjectSel := cfg.Options["subject_selector"]; subjectSel != "" {
			if s := strings.TrimSpace(sel.Find(subjectSel).First().Text()); s != "" {
				subject = s
			}
		}

		url := ""
		if href, ok := sel.Find("a").First().Attr("href"); ok {
			url = href
		}

		items = append(items, types.RawItem{
			Headline:    headline,
			Body:        body,
			Subject:     subject,
			URL:         url,
			PublishedAt: time.Now().UTC(),
		})
	})
	return items, nil
}

// PlainText reduces an HTML fragment to readable text. Markup is converted
// to markdown first so lists and emphasis degrade gracefully instead of
// collapsing into tag soup.
func PlainText(html string) string {
	md, err := htmltomarkdown.ConvertString(html)
	if err != nil {
		return strings.TrimSpace(html)
	}
	return strings.TrimSpace(md)
}
