// Package feed fetches and parses podcast RSS feeds and downloads episode
// audio. Fetches are conditional (ETag / Last-Modified) and every outbound
// URL passes the SSRF guard first.
package feed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/podscrub/internal/urlguard"
)

// browserUserAgent avoids the bot blocks some podcast CDNs apply.
const browserUserAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0"

// Feed is a parsed podcast feed.
type Feed struct {
	Title       string
	Description string
	ArtworkURL  string
	Episodes    []Episode
}

// Episode is one enclosure-bearing feed item after de-duplication.
type Episode struct {
	// ID is the hex SHA-256 of the item GUID, or of the enclosure URL when
	// the feed carries no GUID. Stable across refreshes.
	ID          string
	GUID        string
	Title       string
	Description string
	AudioURL    string
	PublishedAt time.Time
}

// FetchResult carries one conditional fetch outcome. Body is nil when the
// feed reported 304 Not Modified.
type FetchResult struct {
	Body         []byte
	ETag         string
	LastModified string
	NotModified  bool
}

// Client fetches feeds and audio over HTTP behind the URL guard.
type Client struct {
	http     *http.Client
	guard    *urlguard.Guard
	log      *slog.Logger
	maxAudio int64
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

// WithMaxAudioBytes caps audio downloads. Intended for tests.
func WithMaxAudioBytes(n int64) ClientOption {
	return func(c *Client) { c.maxAudio = n }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) ClientOption {
	return func(c *Client) { c.log = log }
}

// NewClient returns a Client validating every URL against guard.
func NewClient(guard *urlguard.Guard, opts ...ClientOption) *Client {
	c := &Client{
		http:     &http.Client{Timeout: 60 * time.Second},
		guard:    guard,
		log:      slog.Default(),
		maxAudio: 500 << 20,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch performs a conditional GET of a feed URL. Pass the ETag and
// Last-Modified values from the previous fetch, or empty strings for an
// unconditional fetch.
func (c *Client) Fetch(ctx context.Context, rawURL, etag, lastModified string) (*FetchResult, error) {
	cleaned, err := c.guard.ValidateURL(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cleaned, nil)
	if err != nil {
		return nil, fmt.Errorf("feed: build request: %w", err)
	}
	req.Header.Set("User-Agent", browserUserAgent)
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	if lastModified != "" {
		req.Header.Set("If-Modified-Since", lastModified)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed: fetch %s: %w", cleaned, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return &FetchResult{ETag: etag, LastModified: lastModified, NotModified: true}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed: fetch %s: unexpected status %d", cleaned, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("feed: read body: %w", err)
	}
	return &FetchResult{
		Body:         body,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}, nil
}

type rssDoc struct {
	XMLName xml.Name   `xml:"rss"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title       string     `xml:"title"`
	Description string     `xml:"description"`
	Image       rssImage   `xml:"image"`
	ItunesImage itunesHref `xml:"http://www.itunes.com/dtds/podcast-1.0.dtd image"`
	Items       []rssItem  `xml:"item"`
}

type rssImage struct {
	URL string `xml:"url"`
}

type itunesHref struct {
	Href string `xml:"href,attr"`
}

type rssItem struct {
	Title       string       `xml:"title"`
	Description string       `xml:"description"`
	GUID        rssGUID      `xml:"guid"`
	PubDate     string       `xml:"pubDate"`
	Enclosure   rssEnclosure `xml:"enclosure"`
}

type rssGUID struct {
	Value string `xml:",chardata"`
}

type rssEnclosure struct {
	URL  string `xml:"url,attr"`
	Type string `xml:"type,attr"`
}

// pubDateLayouts are the timestamp formats seen in feeds in the wild.
var pubDateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
	time.RFC3339,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
}

// Parse decodes an RSS feed body into episodes. Items without an audio
// enclosure are skipped, and items repeating an earlier item's normalised
// title and publish date are dropped as duplicates.
func Parse(body []byte) (*Feed, error) {
	var doc rssDoc
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("feed: parse rss: %w", err)
	}

	f := &Feed{
		Title:       strings.TrimSpace(doc.Channel.Title),
		Description: strings.TrimSpace(doc.Channel.Description),
		ArtworkURL:  doc.Channel.ItunesImage.Href,
	}
	if f.ArtworkURL == "" {
		f.ArtworkURL = doc.Channel.Image.URL
	}

	seen := map[string]bool{}
	for _, item := range doc.Channel.Items {
		if item.Enclosure.URL == "" {
			continue
		}
		if item.Enclosure.Type != "" && !strings.HasPrefix(item.Enclosure.Type, "audio/") {
			continue
		}
		published := parsePubDate(item.PubDate)
		key := dedupeKey(item.Title, published)
		if seen[key] {
			continue
		}
		seen[key] = true

		f.Episodes = append(f.Episodes, Episode{
			ID:          EpisodeID(item.GUID.Value, item.Enclosure.URL),
			GUID:        item.GUID.Value,
			Title:       strings.TrimSpace(item.Title),
			Description: strings.TrimSpace(item.Description),
			AudioURL:    item.Enclosure.URL,
			PublishedAt: published,
		})
	}
	return f, nil
}

// EpisodeID derives the stable episode identifier from the item GUID,
// falling back to the enclosure URL.
func EpisodeID(guid, enclosureURL string) string {
	src := strings.TrimSpace(guid)
	if src == "" {
		src = enclosureURL
	}
	sum := sha256.Sum256([]byte(src))
	return hex.EncodeToString(sum[:])
}

func parsePubDate(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	for _, layout := range pubDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}

// dedupeKey folds case and whitespace so retitled re-uploads of the same
// item on the same day collapse.
func dedupeKey(title string, published time.Time) string {
	norm := strings.ToLower(strings.Join(strings.Fields(title), " "))
	return norm + "|" + published.UTC().Format(time.DateOnly)
}
