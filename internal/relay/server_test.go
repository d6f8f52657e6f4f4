package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Garsondee/Tactical-Map/internal/fog"
	"github.com/Garsondee/Tactical-Map/internal/fogsync"
	"github.com/Garsondee/Tactical-Map/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var key = fogsync.MapKey{SessionID: "sess-1", MapID: "map-1"}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestRelay(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	log := quietLogger()
	db, err := store.Open("sqlite", filepath.Join(t.TempDir(), "fog.db"), log)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	srv := NewServer(store.NewFogStore(db, log), log)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return srv, ts
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestServer_Healthz(t *testing.T) {
	_, ts := newTestRelay(t)
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestServer_UpsertAndLoad(t *testing.T) {
	_, ts := newTestRelay(t)
	body := `{"rows":[{"grid_x":1,"grid_y":2,"is_revealed":true},{"grid_x":0,"grid_y":0,"is_revealed":false}]}`
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/sessions/sess-1/maps/map-1/fog", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(UserHeader, "gm-7")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("post status %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/api/v1/sessions/sess-1/maps/map-1/fog")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var env struct {
		Code int           `json:"code"`
		Data []fogsync.Row `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Code != CodeSuccess || len(env.Data) != 2 {
		t.Fatalf("unexpected reply %+v", env)
	}
	last := env.Data[1]
	if last.GridX != 1 || !last.IsRevealed || last.RevealedBy != "gm-7" || last.RevealedAt.IsZero() {
		t.Fatalf("row not stamped by relay: %+v", last)
	}
}

func TestServer_RejectsForeignRows(t *testing.T) {
	_, ts := newTestRelay(t)
	cases := []string{
		`{"rows":[{"session_id":"other","map_id":"map-1","grid_x":0,"grid_y":0}]}`,
		`{"rows":[{"grid_x":-3,"grid_y":0}]}`,
		`{"rows":`,
	}
	for _, body := range cases {
		resp, err := http.Post(ts.URL+"/api/v1/sessions/sess-1/maps/map-1/fog", "application/json", bytes.NewBufferString(body))
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", body, resp.StatusCode)
		}
	}
}

func TestClient_HostToPlayerThroughRelay(t *testing.T) {
	srv, ts := newTestRelay(t)
	log := quietLogger()

	host := fogsync.New(fogsync.Options{Key: key, Repo: NewClient(ts.URL, "gm", log), Log: log, UserID: "gm"})
	player := fogsync.New(fogsync.Options{Key: key, Repo: NewClient(ts.URL, "p1", log), Log: log})
	defer host.Dispose()
	defer player.Dispose()

	var mu sync.Mutex
	var got []fog.Cell
	if err := player.SubscribeToChanges(context.Background(), func(c fog.Cell) {
		mu.Lock()
		got = append(got, c)
		mu.Unlock()
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	waitFor(t, "player to join topic", func() bool { return srv.Hub().PeerCount(key) == 1 })

	host.QueueChange(fog.Cell{X: 10, Y: 10, Revealed: 255})
	host.QueueChange(fog.Cell{X: 11, Y: 10, Revealed: 40})
	if err := host.FlushChanges(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}

	waitFor(t, "remote cells", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	})
	mu.Lock()
	if got[0] != (fog.Cell{X: 10, Y: 10, Revealed: 255}) || got[1] != (fog.Cell{X: 11, Y: 10, Revealed: 0}) {
		t.Fatalf("unexpected cells %+v", got)
	}
	mu.Unlock()

	cells := player.LoadInitialFog(context.Background())
	if len(cells) != 2 {
		t.Fatalf("late joiner should load 2 persisted cells, got %d", len(cells))
	}

	player.Dispose()
	waitFor(t, "player to leave topic", func() bool { return srv.Hub().PeerCount(key) == 0 })
}

func TestClient_ErrorEnvelope(t *testing.T) {
	_, ts := newTestRelay(t)
	c := NewClient(ts.URL, "gm", quietLogger())
	err := c.UpsertBatch(context.Background(), []fogsync.Row{{SessionID: "sess-1", MapID: "map-1", GridX: -1}})
	if err == nil {
		t.Fatal("expected relay error for negative coordinates")
	}
}

func TestNextBackoffCaps(t *testing.T) {
	d := minBackoff
	for i := 0; i < 20; i++ {
		d = nextBackoff(d, maxBackoff)
	}
	if d != maxBackoff {
		t.Fatalf("backoff should cap at %v, got %v", maxBackoff, d)
	}
	if nextBackoff(time.Second, maxBackoff) != 2*time.Second {
		t.Fatal("backoff should double")
	}
}

func TestClient_FullGridRevealReachesPlayer(t *testing.T) {
	srv, ts := newTestRelay(t)
	log := quietLogger()

	host := fogsync.New(fogsync.Options{Key: key, Repo: NewClient(ts.URL, "gm", log), Log: log, UserID: "gm"})
	player := fogsync.New(fogsync.Options{Key: key, Repo: NewClient(ts.URL, "p1", log), Log: log})
	defer host.Dispose()
	defer player.Dispose()

	var mu sync.Mutex
	seen := make(map[[2]int]bool)
	if err := player.SubscribeToChanges(context.Background(), func(c fog.Cell) {
		mu.Lock()
		seen[[2]int{c.X, c.Y}] = c.Revealed == 255
		mu.Unlock()
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	waitFor(t, "player to join topic", func() bool { return srv.Hub().PeerCount(key) == 1 })

	for y := 0; y < 40; y++ {
		for x := 0; x < 40; x++ {
			host.QueueChange(fog.Cell{X: x, Y: y, Revealed: 255})
		}
	}
	if err := host.FlushChanges(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}

	waitFor(t, "all 1600 cells", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1600
	})
	mu.Lock()
	for c, revealed := range seen {
		if !revealed {
			t.Fatalf("cell %v arrived hidden", c)
		}
	}
	mu.Unlock()
	if srv.Hub().PeerCount(key) != 1 {
		t.Fatal("player was disconnected by a full-grid reveal")
	}
}
