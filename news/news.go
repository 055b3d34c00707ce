// Package news fetches headlines from RSS feeds and falls back to a fixed
// set when every feed fails.
package news

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultTimeout = 3500 * time.Millisecond
	defaultLimit   = 12
	maxFeedBytes   = 4 << 20
)

type Feed struct {
	Name string `yaml:"name" json:"name"`
	URL  string `yaml:"url" json:"url"`
}

func DefaultFeeds() []Feed {
	return []Feed{
		{Name: "Reuters World", URL: "https://feeds.reuters.com/reuters/worldNews"},
		{Name: "Reuters Business", URL: "https://feeds.reuters.com/reuters/businessNews"},
		{Name: "TechCrunch", URL: "https://techcrunch.com/feed/"},
	}
}

type Headline struct {
	Title       string `json:"title"`
	Source      string `json:"source"`
	URL         string `json:"url"`
	PublishedAt string `json:"published_at,omitempty"`
}

type Digest struct {
	UpdatedAt time.Time  `json:"updated_at"`
	Headlines []Headline `json:"headlines"`
	Stale     bool       `json:"stale"`
}

func fallbackHeadlines() []Headline {
	return []Headline{
		{Title: "Markets remain range-bound ahead of key macro data", Source: "system"},
		{Title: "AI tooling continues shift toward local-first workflows", Source: "system"},
		{Title: "Operational discipline beats feature sprawl in early-stage products", Source: "system"},
	}
}

// FeedSource reads a fixed list of RSS feeds.
type FeedSource struct {
	feeds  []Feed
	client *http.Client
	now    func() time.Time
}

type Option func(*FeedSource)

func WithFeeds(feeds ...Feed) Option {
	return func(s *FeedSource) {
		if len(feeds) > 0 {
			s.feeds = feeds
		}
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(s *FeedSource) {
		if c != nil {
			s.client = c
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *FeedSource) {
		if now != nil {
			s.now = now
		}
	}
}

func NewFeedSource(opts ...Option) *FeedSource {
	s := &FeedSource{
		feeds: DefaultFeeds(),
		client: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Headlines returns up to limit headlines spread across feeds. Feed errors
// are logged and skipped; with no headlines at all the fallback set is
// returned marked stale.
func (s *FeedSource) Headlines(ctx context.Context, limit int) (Digest, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	perFeed := limit / len(s.feeds)
	if perFeed < 1 {
		perFeed = 1
	}
	var out []Headline
	for _, feed := range s.feeds {
		items, err := s.fetch(ctx, feed, perFeed)
		if err != nil {
			log.Debug().Err(err).Str("component", "news").Str("feed", feed.Name).Msg("feed_fetch_failed")
			continue
		}
		out = append(out, items...)
	}
	if err := ctx.Err(); err != nil {
		return Digest{}, err
	}
	d := Digest{UpdatedAt: s.now()}
	if len(out) == 0 {
		d.Headlines = fallbackHeadlines()
		d.Stale = true
		return d, nil
	}
	if len(out) > limit {
		out = out[:limit]
	}
	d.Headlines = out
	return d, nil
}

type rssDoc struct {
	Items []rssItem `xml:"channel>item"`
}

type rssItem struct {
	Title   string `xml:"title"`
	Link    string `xml:"link"`
	PubDate string `xml:"pubDate"`
}

func (s *FeedSource) fetch(ctx context.Context, feed Feed, max int) ([]Headline, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("feed %s returned %s", feed.Name, resp.Status)
	}
	var doc rssDoc
	if err := xml.NewDecoder(io.LimitReader(resp.Body, maxFeedBytes)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode feed %s: %w", feed.Name, err)
	}
	items := doc.Items
	if len(items) > max {
		items = items[:max]
	}
	out := make([]Headline, 0, len(items))
	for _, it := range items {
		title := strings.TrimSpace(it.Title)
		if title == "" {
			continue
		}
		out = append(out, Headline{
			Title:       title,
			Source:      feed.Name,
			URL:         strings.TrimSpace(it.Link),
			PublishedAt: strings.TrimSpace(it.PubDate),
		})
	}
	return out, nil
}
