package feed_test

import (
	"context"
	"net/http"
	"sync"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/podscrub/internal/feed"
	"github.com/MrWong99/podscrub/internal/observe"
	"github.com/MrWong99/podscrub/internal/status"
	"github.com/MrWong99/podscrub/internal/store"
	"github.com/MrWong99/podscrub/internal/urlguard"
)

type recordingEnqueuer struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingEnqueuer) Enqueue(_ context.Context, slug, episodeID, url, title string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, episodeID)
	return nil
}

func TestRefreshAll(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	_, httpClient := guardedTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte(sampleRSS))
	}))
	client := feed.NewClient(openGuard(), feed.WithHTTPClient(httpClient))

	st := store.NewMemory()
	if err := st.CreatePodcast(ctx, &store.Podcast{
		Slug: "tech-talk", SourceURL: "http://feeds.example.com/rss",
	}); err != nil {
		t.Fatalf("CreatePodcast: %v", err)
	}

	enq := &recordingEnqueuer{}
	bus := status.NewBus(nil)
	svc := feed.NewService(st, client, enq, feed.WithStatusBus(bus))

	svc.RefreshAll(ctx)

	eps, err := st.ListEpisodes(ctx, "tech-talk")
	if err != nil {
		t.Fatalf("ListEpisodes: %v", err)
	}
	if len(eps) != 2 {
		t.Fatalf("episodes stored = %d, want 2", len(eps))
	}
	if len(enq.ids) != 2 {
		t.Errorf("enqueued = %v, want both new episodes", enq.ids)
	}

	pod, err := st.GetPodcast(ctx, "tech-talk")
	if err != nil {
		t.Fatalf("GetPodcast: %v", err)
	}
	if pod.ETag != `"v1"` || pod.Title != "Tech Talk" || pod.LastCheckedAt.IsZero() {
		t.Errorf("podcast after refresh = %+v", pod)
	}

	// The second sweep hits the conditional path and enqueues nothing new.
	svc.RefreshAll(ctx)
	if len(enq.ids) != 2 {
		t.Errorf("enqueued after 304 sweep = %v", enq.ids)
	}

	snap := bus.Get()
	if len(snap.FeedRefreshes) != 2 {
		t.Fatalf("refresh history = %d entries", len(snap.FeedRefreshes))
	}
	if snap.FeedRefreshes[0].NewEpisodes != 2 || snap.FeedRefreshes[1].NewEpisodes != 0 {
		t.Errorf("refresh history = %+v", snap.FeedRefreshes)
	}
}

func TestRefreshAll_FetchErrorRecorded(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	st := store.NewMemory()
	if err := st.CreatePodcast(ctx, &store.Podcast{
		Slug: "blocked", SourceURL: "http://127.0.0.1/rss",
	}); err != nil {
		t.Fatalf("CreatePodcast: %v", err)
	}

	bus := status.NewBus(nil)
	svc := feed.NewService(st, feed.NewClient(urlguard.New()), nil, feed.WithStatusBus(bus))
	svc.RefreshAll(ctx)

	snap := bus.Get()
	if len(snap.FeedRefreshes) != 1 || snap.FeedRefreshes[0].Error == "" {
		t.Errorf("refresh history = %+v, want recorded error", snap.FeedRefreshes)
	}
}

// Every sweep counts each feed once on the refresh counter, tagged with the
// podcast slug and whether the fetch succeeded.
func TestRefreshAll_RecordsOutcomeMetrics(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	_, httpClient := guardedTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rss" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(sampleRSS))
	}))
	client := feed.NewClient(openGuard(), feed.WithHTTPClient(httpClient))

	st := store.NewMemory()
	for _, pod := range []*store.Podcast{
		{Slug: "tech-talk", SourceURL: "http://feeds.example.com/rss"},
		{Slug: "broken", SourceURL: "http://feeds.example.com/boom"},
	} {
		if err := st.CreatePodcast(ctx, pod); err != nil {
			t.Fatalf("CreatePodcast %s: %v", pod.Slug, err)
		}
	}

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	svc := feed.NewService(st, client, nil, feed.WithMetrics(metrics))
	svc.RefreshAll(ctx)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	counts := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "podscrub.feed.refreshes" {
				continue
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatal("refresh metric is not a sum")
			}
			for _, dp := range sum.DataPoints {
				var podcast, outcome string
				for _, kv := range dp.Attributes.ToSlice() {
					switch string(kv.Key) {
					case "podcast":
						podcast = kv.Value.AsString()
					case "status":
						outcome = kv.Value.AsString()
					}
				}
				counts[podcast+"/"+outcome] = dp.Value
			}
		}
	}
	if counts["tech-talk/success"] != 1 || counts["broken/failed"] != 1 {
		t.Errorf("refresh counts = %v, want tech-talk/success=1 and broken/failed=1", counts)
	}
}
