package web_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/podscrub/internal/health"
	"github.com/MrWong99/podscrub/internal/observe"
	"github.com/MrWong99/podscrub/internal/status"
	"github.com/MrWong99/podscrub/internal/web"
)

func newTestServer(t *testing.T) (*web.Server, *status.Bus) {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	bus := status.NewBus(nil)
	checker := health.New(health.Checker{
		Name:  "store",
		Check: func(context.Context) error { return nil },
	})
	return web.New(":0", bus, checker, metrics), bus
}

func TestStatusEndpoint(t *testing.T) {
	t.Parallel()

	srv, bus := newTestServer(t)
	bus.SetCurrentJob(&status.Job{PodcastSlug: "tech-talk", EpisodeID: "ep1", Stage: "transcribing"})
	bus.SetQueue([]status.QueueItem{{PodcastSlug: "tech-talk", EpisodeID: "ep2"}})

	req := httptest.NewRequest("GET", "/api/status", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var snap status.Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.CurrentJob == nil || snap.CurrentJob.Stage != "transcribing" {
		t.Errorf("current job = %+v", snap.CurrentJob)
	}
	if snap.QueueLength != 1 {
		t.Errorf("queue length = %d", snap.QueueLength)
	}
}

func TestHealthRoutes(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		req := httptest.NewRequest("GET", path, nil)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d", path, rec.Code)
		}
	}
}

func TestStatusWebsocketPushes(t *testing.T) {
	t.Parallel()

	srv, bus := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/status/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// The current snapshot arrives first.
	var initial status.Snapshot
	if err := wsjson.Read(ctx, conn, &initial); err != nil {
		t.Fatalf("read initial snapshot: %v", err)
	}

	bus.SetCurrentJob(&status.Job{PodcastSlug: "tech-talk", EpisodeID: "ep1", Stage: "editing"})

	var pushed status.Snapshot
	if err := wsjson.Read(ctx, conn, &pushed); err != nil {
		t.Fatalf("read pushed snapshot: %v", err)
	}
	if pushed.CurrentJob == nil || pushed.CurrentJob.Stage != "editing" {
		t.Errorf("pushed snapshot = %+v", pushed.CurrentJob)
	}
}
