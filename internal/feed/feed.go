// Package feed fetches and parses RSS feeds from news sources.
package feed

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/newstrust/trust-engine/internal/model"
)

// Fetcher downloads and parses RSS feeds.
type Fetcher struct {
	client *http.Client
}

// NewFetcher wires an HTTP client; a 20s-timeout default is used when nil.
func NewFetcher(client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &Fetcher{client: client}
}

// rss mirrors the subset of RSS 2.0 we consume.
type rss struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
}

// Publisher pubDate formats vary; try the common ones before giving up.
var pubDateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
	"2006-01-02T15:04:05Z07:00",
	"Mon, 2 Jan 2006 15:04:05 -0700",
}

// Fetch downloads the feed at feedURL and returns its items as articles for
// the given source. Items without a link are skipped.
func (f *Fetcher) Fetch(ctx context.Context, sourceID int64, feedURL string) ([]model.Article, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "trust-engine/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned %s", resp.Status)
	}

	var doc rss
	decoder := xml.NewDecoder(resp.Body)
	decoder.Strict = false
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	now := time.Now().UTC()
	articles := make([]model.Article, 0, len(doc.Channel.Items))
	for _, item := range doc.Channel.Items {
		link := strings.TrimSpace(item.Link)
		if link == "" {
			continue
		}

		articles = append(articles, model.Article{
			SourceID:    sourceID,
			Title:       cleanText(item.Title),
			Summary:     cleanText(item.Description),
			URL:         link,
			PublishedAt: parsePubDate(item.PubDate, now),
			FetchedAt:   now,
		})
	}

	return articles, nil
}

// cleanText strips HTML markup and collapses whitespace. Publisher feeds
// routinely embed markup inside titles and descriptions.
func cleanText(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if strings.ContainsAny(s, "<&") {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(s)); err == nil {
			s = doc.Text()
		}
	}

	return strings.Join(strings.Fields(s), " ")
}

func parsePubDate(raw string, fallback time.Time) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	for _, layout := range pubDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return fallback
}
