package engine

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Garsondee/Tactical-Map/internal/fog"
	"github.com/Garsondee/Tactical-Map/internal/fogsync"
	"github.com/Garsondee/Tactical-Map/internal/token"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newSession(t *testing.T, opts ...SessionOption) *TestSession {
	t.Helper()
	ts, err := NewTestSession(append([]SessionOption{WithGrid(20, 20)}, opts...)...)
	if err != nil {
		t.Fatalf("NewTestSession: %v", err)
	}
	t.Cleanup(ts.Dispose)
	return ts
}

func writeMapPNG(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 90, G: uint8(x), B: uint8(y), A: 255})
		}
	}
	path := filepath.Join(t.TempDir(), "map.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestMapDimensions_GridAndConversions(t *testing.T) {
	d := MapDimensions{WorldWidth: 1000, WorldHeight: 730, GridCellSize: 50}
	if d.GridWidth() != 20 || d.GridHeight() != 15 {
		t.Fatalf("grid %dx%d, want 20x15", d.GridWidth(), d.GridHeight())
	}
	gx, gy := d.WorldToGrid(125, 60)
	if gx != 2.5 || gy != 1.2 {
		t.Fatalf("WorldToGrid gave (%.2f,%.2f), want (2.5,1.2)", gx, gy)
	}
	wx, wy := d.GridToWorld(3, 0)
	if wx != 175 || wy != 25 {
		t.Fatalf("GridToWorld gave (%.0f,%.0f), want cell centre (175,25)", wx, wy)
	}
	if (MapDimensions{}).GridWidth() != 0 {
		t.Fatal("zero cell size should give an empty grid")
	}
}

func TestEngine_HostRevealReachesPlayer(t *testing.T) {
	ts := newSession(t)
	host, player := ts.Host, ts.Players[0]

	wx, wy := host.GridToWorld(10, 10)
	host.RevealFog(wx, wy, fog.Brush{Radius: 3, Strength: 1})
	if v := host.FogValue(10, 10); v != 255 {
		t.Fatalf("host centre cell = %d, want 255 on the same frame", v)
	}
	if err := ts.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}

	ok := ts.RunUntil(func(ts *TestSession) bool {
		return player.FogValue(10, 10) == 255 && ts.Converged()
	}, 2*time.Second)
	if !ok {
		t.Fatalf("player never converged: centre=%d", player.FogValue(10, 10))
	}

	revealed := 0
	for y := 0; y < 20; y++ {
		for x := 0; x < 20; x++ {
			dx, dy := float64(x-10), float64(y-10)
			v := player.FogValue(x, y)
			if dx*dx+dy*dy > 9 && v != 0 {
				t.Fatalf("player cell (%d,%d)=%d outside the brush", x, y, v)
			}
			if v == 255 {
				revealed++
			}
		}
	}
	if revealed < 9 {
		t.Fatalf("expected a revealed disc on the player, got %d cells", revealed)
	}
	if player.PendingFog() != 0 || player.SyncStats().Flushes != 0 {
		t.Fatal("player must not write fog")
	}
	if player.SyncStats().RemoteEvents == 0 {
		t.Fatal("player should have received remote events")
	}
}

func TestEngine_ParticipantEditsStayLocal(t *testing.T) {
	ts := newSession(t)
	host, player := ts.Host, ts.Players[0]

	wx, wy := player.GridToWorld(4, 4)
	player.RevealFog(wx, wy, fog.Brush{Radius: 2, Strength: 1})
	if player.FogValue(4, 4) != 255 {
		t.Fatal("participant preview should update the local mask")
	}
	if player.PendingFog() != 0 {
		t.Fatal("participant edits must not be queued")
	}
	ts.RunTicks(5)
	if host.FogValue(4, 4) != 0 {
		t.Fatal("participant edits must not reach the host")
	}
	if rows := ts.Repo.Rows(ts.Key()); len(rows) != 0 {
		t.Fatalf("participant edits persisted %d rows", len(rows))
	}
}

func TestEngine_HideBrushAndBulkOperations(t *testing.T) {
	ts := newSession(t)
	host, player := ts.Host, ts.Players[0]

	host.RevealAllFog()
	if n := host.PendingFog(); n != 400 {
		t.Fatalf("reveal all should queue every cell, got %d", n)
	}
	if err := ts.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !ts.RunUntil(func(*TestSession) bool { return player.FogCoverage() == 1 }, 2*time.Second) {
		t.Fatalf("player coverage %.2f after reveal all", player.FogCoverage())
	}

	wx, wy := host.GridToWorld(0, 0)
	host.HideFog(wx, wy, fog.Brush{Mode: fog.BrushReveal, Radius: 1, Strength: 1})
	if host.FogValue(0, 0) != 0 {
		t.Fatalf("HideFog must force hide mode, corner=%d", host.FogValue(0, 0))
	}

	host.HideAllFog()
	if err := ts.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !ts.RunUntil(func(*TestSession) bool { return player.FogCoverage() == 0 }, 2*time.Second) {
		t.Fatalf("player coverage %.2f after hide all", player.FogCoverage())
	}
}

func TestEngine_HydratesFromPersistedRows(t *testing.T) {
	ts := newSession(t,
		WithPlayers(2),
		WithSeedRows(
			fogsync.Row{GridX: 3, GridY: 4, IsRevealed: true},
			fogsync.Row{GridX: 5, GridY: 4, IsRevealed: false},
		))
	for i, e := range ts.Engines() {
		if e.FogValue(3, 4) != 255 {
			t.Fatalf("client %d did not hydrate revealed cell", i)
		}
		if e.FogValue(5, 4) != 0 {
			t.Fatalf("client %d hydrated hidden cell as %d", i, e.FogValue(5, 4))
		}
	}
}

func TestEngine_LoadFailureStartsHidden(t *testing.T) {
	repo := fogsync.NewMemoryRepository()
	repo.FailLoads(errors.New("store down"))
	e, err := New(Options{Repo: repo, Log: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Dispose()
	if err := e.UseDimensions(MapDimensions{WorldWidth: 500, WorldHeight: 500, GridCellSize: 50}); err != nil {
		t.Fatal(err)
	}
	if err := e.InitializeFog(context.Background(), "s", "m", true, 0, 0); err != nil {
		t.Fatalf("load failure must not fail fog init: %v", err)
	}
	if w, h := e.FogSize(); w != 10 || h != 10 {
		t.Fatalf("fog %dx%d, want 10x10", w, h)
	}
	if e.FogCoverage() != 0 {
		t.Fatal("fog should start fully hidden")
	}
}

func TestEngine_FailedFlushDoesNotBlockPlay(t *testing.T) {
	ts := newSession(t)
	ts.Repo.FailUpserts(errors.New("write refused"))

	wx, wy := ts.Host.GridToWorld(2, 2)
	ts.Host.RevealFog(wx, wy, fog.Brush{Radius: 1, Strength: 1})
	if err := ts.Flush(context.Background()); err == nil {
		t.Fatal("expected the flush error to be reported")
	}
	if ts.Host.FogValue(2, 2) != 255 {
		t.Fatal("local view must survive a failed flush")
	}
	if ts.Host.PendingFog() != 0 {
		t.Fatal("failed batch must be dropped, not re-queued")
	}
	if s := ts.Host.SyncStats(); s.FailedFlush != 1 || s.RowsDropped == 0 {
		t.Fatalf("unexpected stats after failure: %+v", s)
	}
}

func TestEngine_BrushBeforeFogIsNoop(t *testing.T) {
	e, err := New(Options{Log: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Dispose()
	e.RevealFog(10, 10, fog.Brush{Radius: 3, Strength: 1})
	e.RevealAllFog()
	e.Update(0.016)
	if e.FogReady() {
		t.Fatal("fog should not exist before InitializeFog")
	}
	if err := e.InitializeFog(context.Background(), "s", "m", true, 0, 0); !errors.Is(err, ErrNoMap) {
		t.Fatalf("expected ErrNoMap, got %v", err)
	}
	if err := e.UseDimensions(MapDimensions{WorldWidth: 100, WorldHeight: 100}); err != nil {
		t.Fatal(err)
	}
	if err := e.InitializeFog(context.Background(), "", "m", true, 0, 0); err == nil {
		t.Fatal("empty session id should be rejected")
	}
}

func TestEngine_DisposeFlushesAndIsIdempotent(t *testing.T) {
	ts := newSession(t)
	host := ts.Host

	wx, wy := host.GridToWorld(7, 7)
	host.RevealFog(wx, wy, fog.Brush{Radius: 1, Strength: 1})
	host.Dispose()
	host.Dispose()

	if rows := ts.Repo.Rows(ts.Key()); len(rows) == 0 {
		t.Fatal("dispose should flush pending host edits")
	}
	host.RevealFog(wx, wy, fog.Brush{Radius: 1, Strength: 1})
	host.Update(0.016)
	if host.FogReady() {
		t.Fatal("fog should be released after dispose")
	}
	if _, err := host.LoadMap(context.Background(), "x.png", 50); !errors.Is(err, ErrDisposed) {
		t.Fatalf("LoadMap after dispose: %v", err)
	}
	if err := host.InitializeFog(context.Background(), "s", "m", true, 0, 0); !errors.Is(err, ErrDisposed) {
		t.Fatalf("InitializeFog after dispose: %v", err)
	}
	if got := host.ApplyTokens([]token.Token{{ID: "a"}}); !got.Empty() {
		t.Fatal("ApplyTokens after dispose should do nothing")
	}

	// Only the player subscribes; disposing it closes the last subscription.
	if n := ts.Repo.SubscriberCount(ts.Key()); n != 1 {
		t.Fatalf("subscribers %d after host dispose, want the player's 1", n)
	}
	ts.Players[0].Dispose()
	if !ts.RunUntil(func(ts *TestSession) bool { return ts.Repo.SubscriberCount(ts.Key()) == 0 }, time.Second) {
		t.Fatalf("player subscription still open: %d", ts.Repo.SubscriberCount(ts.Key()))
	}
}

func TestEngine_HostDoesNotSubscribe(t *testing.T) {
	ts := newSession(t, WithPlayers(2))
	if n := ts.Repo.SubscriberCount(ts.Key()); n != 2 {
		t.Fatalf("subscribers %d, want one per player", n)
	}
}

func TestEngine_HostPartialRevealsSurviveFlush(t *testing.T) {
	ts := newSession(t)
	host, player := ts.Host, ts.Players[0]
	wx, wy := host.GridToWorld(10, 10)
	half := fog.Brush{Radius: 2, Strength: 0.5}

	host.RevealFog(wx, wy, half)
	if got := host.FogValue(10, 10); got != 127 {
		t.Fatalf("centre %d after first dab, want 127", got)
	}
	if err := ts.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	ts.RunTicks(10)
	if got := host.FogValue(10, 10); got != 127 {
		t.Fatalf("centre %d after flush, want the host's own 127", got)
	}

	host.RevealFog(wx, wy, half)
	if got := host.FogValue(10, 10); got != 254 {
		t.Fatalf("centre %d after second dab, want 254", got)
	}
	if err := ts.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if !ts.RunUntil(func(ts *TestSession) bool { return player.FogValue(10, 10) == 255 }, time.Second) {
		t.Fatalf("player centre %d, want 255 once the host crosses the threshold", player.FogValue(10, 10))
	}
	if got := host.FogValue(10, 10); got != 254 {
		t.Fatalf("host centre %d after second flush, want 254", got)
	}
}

func TestEngine_HostLocalEditNotOverwrittenByOlderFlush(t *testing.T) {
	ts := newSession(t)
	host := ts.Host
	wx, wy := host.GridToWorld(6, 6)

	host.RevealFog(wx, wy, fog.Brush{Radius: 1, Strength: 1})
	if err := ts.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	host.HideFog(wx, wy, fog.Brush{Radius: 1, Strength: 1})
	if got := host.FogValue(6, 6); got != 0 {
		t.Fatalf("centre %d after local hide, want 0", got)
	}
	ts.RunTicks(10)
	if got := host.FogValue(6, 6); got != 0 {
		t.Fatalf("centre %d a few ticks after local hide, want 0", got)
	}
	if st := host.SyncStats(); st.RemoteEvents != 0 {
		t.Fatalf("host merged %d remote events, want none", st.RemoteEvents)
	}
}

func TestEngine_LoadMapKeepsPreviousOnFailure(t *testing.T) {
	e, err := New(Options{Log: quietLogger(), Repo: fogsync.NewMemoryRepository()})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Dispose()

	good := writeMapPNG(t, 400, 200)
	dims, err := e.LoadMap(context.Background(), good, 50)
	if err != nil {
		t.Fatalf("LoadMap: %v", err)
	}
	if dims.WorldWidth != 2000 || dims.WorldHeight != 1000 {
		t.Fatalf("world %.0fx%.0f, want 2000x1000", dims.WorldWidth, dims.WorldHeight)
	}
	if dims.GridWidth() != 40 || dims.GridHeight() != 20 {
		t.Fatalf("grid %dx%d, want 40x20", dims.GridWidth(), dims.GridHeight())
	}
	if err := e.InitializeFog(context.Background(), "s", "m", true, 0, 0); err != nil {
		t.Fatal(err)
	}

	if _, err := e.LoadMap(context.Background(), filepath.Join(t.TempDir(), "missing.png"), 50); err == nil {
		t.Fatal("expected an error for a missing map")
	}
	if cur, ok := e.Dimensions(); !ok || cur != dims {
		t.Fatalf("previous map lost: %+v", cur)
	}
	if !e.FogReady() {
		t.Fatal("failed map load must keep the previous fog")
	}

	if _, err := e.LoadMap(context.Background(), writeMapPNG(t, 100, 300), 25); err != nil {
		t.Fatal(err)
	}
	if e.FogReady() {
		t.Fatal("a new map must release the previous map's fog")
	}
}

func TestEngine_LoadMapReportsSourcePixels(t *testing.T) {
	e, err := New(Options{Log: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Dispose()

	dims, err := e.LoadMap(context.Background(), writeMapPNG(t, 5000, 100), 50)
	if err != nil {
		t.Fatalf("LoadMap: %v", err)
	}
	if dims.ImageWidth != 5000 || dims.ImageHeight != 100 {
		t.Fatalf("image %dx%d, want the source 5000x100", dims.ImageWidth, dims.ImageHeight)
	}
	if dims.WorldWidth != 2000 || dims.WorldHeight != 40 {
		t.Fatalf("world %.0fx%.0f, want 2000x40", dims.WorldWidth, dims.WorldHeight)
	}
}

func TestEngine_ApplyTokens(t *testing.T) {
	e, err := New(Options{Log: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Dispose()

	ch := e.ApplyTokens([]token.Token{
		{ID: "a", Name: "Ana", Position: [2]float64{100, 100}},
		{ID: "b", Name: "Bo", Position: [2]float64{200, 100}},
	})
	if len(ch.Added) != 2 || e.Tokens().Len() != 2 {
		t.Fatalf("expected 2 added, got %+v", ch)
	}
	ch = e.ApplyTokens([]token.Token{{ID: "a", Name: "Ana", Position: [2]float64{150, 100}}})
	if len(ch.Updated) != 1 || len(ch.Removed) != 1 || ch.Removed[0] != "b" {
		t.Fatalf("unexpected diff %+v", ch)
	}
	if tok, ok := e.Tokens().Token("a"); !ok || tok.Position[0] != 150 {
		t.Fatalf("token a not moved: %+v", tok)
	}
	if e.Tokens().Len() != 1 {
		t.Fatalf("expected 1 token, got %d", e.Tokens().Len())
	}
	if ch := e.ApplyTokens([]token.Token{{ID: "a", Name: "Ana", Position: [2]float64{150, 100}}}); !ch.Empty() {
		t.Fatalf("identical snapshot should be empty, got %+v", ch)
	}
}

func TestEngine_FogHidesTokensFromPlayers(t *testing.T) {
	ts := newSession(t, WithTokens(token.Token{ID: "orc", Position: [2]float64{525, 525}, Size: 1}))
	host, player := ts.Host, ts.Players[0]

	if _, ok := host.Tokens().Pick(525, 525); !ok {
		t.Fatal("host should see tokens under fog")
	}
	if _, ok := player.Tokens().Pick(525, 525); ok {
		t.Fatal("player should not see a token in a fogged cell")
	}

	host.RevealFog(525, 525, fog.Brush{Radius: 2, Strength: 1})
	if err := ts.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	ok := ts.RunUntil(func(*TestSession) bool {
		_, ok := player.Tokens().Pick(525, 525)
		return ok
	}, 2*time.Second)
	if !ok {
		t.Fatal("token should appear once its cell is revealed")
	}
}

func TestEngine_RemoteCallbackReported(t *testing.T) {
	repo := fogsync.NewMemoryRepository()
	merged := make(chan int, 16)
	player, err := New(Options{Repo: repo, Log: quietLogger(), OnRemote: func(n int) { merged <- n }})
	if err != nil {
		t.Fatal(err)
	}
	defer player.Dispose()
	if err := player.UseDimensions(MapDimensions{WorldWidth: 500, WorldHeight: 500, GridCellSize: 50}); err != nil {
		t.Fatal(err)
	}
	if err := player.InitializeFog(context.Background(), "s", "m", false, 0, 0); err != nil {
		t.Fatal(err)
	}

	row := fogsync.Row{SessionID: "s", MapID: "m", GridX: 1, GridY: 1, IsRevealed: true}
	if err := repo.UpsertBatch(context.Background(), []fogsync.Row{row}); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		player.Update(0.016)
		select {
		case n := <-merged:
			if n != 1 || player.FogValue(1, 1) != 255 {
				t.Fatalf("merged %d cells, value %d", n, player.FogValue(1, 1))
			}
			return
		default:
			time.Sleep(2 * time.Millisecond)
		}
	}
	t.Fatal("remote cell never merged")
}
