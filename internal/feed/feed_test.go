package feed_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/podscrub/internal/feed"
	"github.com/MrWong99/podscrub/internal/urlguard"
)

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:itunes="http://www.itunes.com/dtds/podcast-1.0.dtd">
  <channel>
    <title>Tech Talk</title>
    <description>A show about computers.</description>
    <itunes:image href="https://cdn.example.com/art.jpg"/>
    <item>
      <title>Episode 1</title>
      <description>Pilot.</description>
      <guid isPermaLink="false">ep-guid-1</guid>
      <pubDate>Mon, 02 Jun 2025 10:00:00 +0000</pubDate>
      <enclosure url="https://cdn.example.com/ep1.mp3" type="audio/mpeg" length="1000"/>
    </item>
    <item>
      <title>Episode  1</title>
      <guid isPermaLink="false">ep-guid-1-dup</guid>
      <pubDate>Mon, 02 Jun 2025 12:30:00 +0000</pubDate>
      <enclosure url="https://cdn.example.com/ep1-reupload.mp3" type="audio/mpeg" length="1000"/>
    </item>
    <item>
      <title>Episode 2</title>
      <pubDate>Tue, 03 Jun 2025 10:00:00 +0000</pubDate>
      <enclosure url="https://cdn.example.com/ep2.mp3" type="audio/mpeg" length="2000"/>
    </item>
    <item>
      <title>Video special</title>
      <enclosure url="https://cdn.example.com/special.mp4" type="video/mp4" length="9000"/>
    </item>
    <item>
      <title>No enclosure</title>
    </item>
  </channel>
</rss>`

func TestParse(t *testing.T) {
	t.Parallel()

	f, err := feed.Parse([]byte(sampleRSS))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.Title != "Tech Talk" || f.ArtworkURL != "https://cdn.example.com/art.jpg" {
		t.Errorf("channel = %q / %q", f.Title, f.ArtworkURL)
	}
	// The re-upload shares Episode 1's normalised title and publish date;
	// the video and enclosure-less items are skipped.
	if len(f.Episodes) != 2 {
		t.Fatalf("episodes = %d, want 2: %+v", len(f.Episodes), f.Episodes)
	}

	ep1 := f.Episodes[0]
	wantID := sha256.Sum256([]byte("ep-guid-1"))
	if ep1.ID != hex.EncodeToString(wantID[:]) {
		t.Errorf("episode ID = %s, want sha256 of guid", ep1.ID)
	}
	if ep1.PublishedAt.IsZero() {
		t.Error("pubDate not parsed")
	}

	// Without a GUID the ID falls back to the enclosure URL.
	ep2 := f.Episodes[1]
	wantID2 := sha256.Sum256([]byte("https://cdn.example.com/ep2.mp3"))
	if ep2.ID != hex.EncodeToString(wantID2[:]) {
		t.Errorf("guid-less episode ID = %s, want sha256 of url", ep2.ID)
	}
}

func TestParse_Malformed(t *testing.T) {
	t.Parallel()
	if _, err := feed.Parse([]byte("{not xml")); err == nil {
		t.Error("malformed body accepted")
	}
}

// openGuard resolves every hostname to a public address so httptest servers
// pass validation.
func openGuard() *urlguard.Guard {
	return urlguard.New(
		urlguard.WithAllowedPorts([]int{80, 443, 8080, 8443, 1, 65535}),
		urlguard.WithLookup(func(ctx context.Context, host string) ([]netip.Addr, error) {
			return []netip.Addr{netip.MustParseAddr("93.184.216.34")}, nil
		}),
	)
}

// guardedTestServer returns an httptest server plus a client whose transport
// rewrites all requests to it, so the guard sees a public hostname.
func guardedTestServer(t *testing.T, handler http.Handler) (*httptest.Server, *http.Client) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := &http.Client{Transport: &rewriteTransport{target: srv.URL}}
	return srv, client
}

type rewriteTransport struct {
	target string
}

func (rt *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.URL.Scheme = "http"
	clone.URL.Host = strings.TrimPrefix(rt.target, "http://")
	return http.DefaultTransport.RoundTrip(clone)
}

func TestFetch_Conditional(t *testing.T) {
	t.Parallel()

	requests := 0
	_, httpClient := guardedTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Last-Modified", "Mon, 02 Jun 2025 10:00:00 GMT")
		w.Write([]byte(sampleRSS))
	}))

	c := feed.NewClient(openGuard(), feed.WithHTTPClient(httpClient))
	ctx := context.Background()

	first, err := c.Fetch(ctx, "http://feeds.example.com/rss", "", "")
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if first.NotModified || len(first.Body) == 0 || first.ETag != `"v1"` {
		t.Fatalf("first = %+v", first)
	}

	second, err := c.Fetch(ctx, "http://feeds.example.com/rss", first.ETag, first.LastModified)
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if !second.NotModified || second.Body != nil {
		t.Errorf("second = %+v, want 304 with empty body", second)
	}
	if requests != 2 {
		t.Errorf("requests = %d", requests)
	}
}

func TestFetch_BlockedURL(t *testing.T) {
	t.Parallel()

	c := feed.NewClient(urlguard.New())
	_, err := c.Fetch(context.Background(), "http://127.0.0.1/feed", "", "")
	if !errors.Is(err, urlguard.ErrSSRF) {
		t.Errorf("err = %v, want ErrSSRF", err)
	}
}

func TestDownloadAudio(t *testing.T) {
	t.Parallel()

	payload := strings.Repeat("a", 4096)
	_, httpClient := guardedTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(payload))
	}))
	c := feed.NewClient(openGuard(), feed.WithHTTPClient(httpClient))

	dest := filepath.Join(t.TempDir(), "show", "ep1.mp3")
	n, err := c.DownloadAudio(context.Background(), "http://cdn.example.com/ep1.mp3", dest)
	if err != nil {
		t.Fatalf("DownloadAudio: %v", err)
	}
	if n != int64(len(payload)) {
		t.Errorf("bytes = %d, want %d", n, len(payload))
	}
	data, err := os.ReadFile(dest)
	if err != nil || len(data) != len(payload) {
		t.Errorf("file read: %v, %d bytes", err, len(data))
	}
	if _, err := os.Stat(dest + ".part"); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}
}

func TestDownloadAudio_DeclaredSizeRejectedBeforeStreaming(t *testing.T) {
	t.Parallel()

	_, httpClient := guardedTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000000")
		w.(http.Flusher).Flush()
	}))
	c := feed.NewClient(openGuard(),
		feed.WithHTTPClient(httpClient), feed.WithMaxAudioBytes(1024))

	dest := filepath.Join(t.TempDir(), "huge.mp3")
	if _, err := c.DownloadAudio(context.Background(), "http://cdn.example.com/huge.mp3", dest); err == nil {
		t.Fatal("oversized declared length accepted")
	}
	if _, err := os.Stat(dest + ".part"); !os.IsNotExist(err) {
		t.Error("temp file created despite declared-size rejection")
	}
}

func TestDownloadAudio_SizeCap(t *testing.T) {
	t.Parallel()

	// Chunked response with no Content-Length: the cap applies mid-stream.
	_, httpClient := guardedTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i < 4; i++ {
			w.Write([]byte(strings.Repeat("b", 512)))
			w.(http.Flusher).Flush()
		}
	}))
	c := feed.NewClient(openGuard(),
		feed.WithHTTPClient(httpClient), feed.WithMaxAudioBytes(1024))

	dest := filepath.Join(t.TempDir(), "big.mp3")
	if _, err := c.DownloadAudio(context.Background(), "http://cdn.example.com/big.mp3", dest); err == nil {
		t.Fatal("oversized download accepted")
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Error("partial file left at destination")
	}
}
