// Package client is the interactive battle map window: input handling, the
// HUD, the session log and the token inspector, on top of the engine.
package client

import (
	"context"
	"fmt"
	"time"

	"github.com/atotto/clipboard"
	"github.com/hajimehoshi/ebiten/v2"
	"github.com/sirupsen/logrus"

	"github.com/Garsondee/Tactical-Map/internal/engine"
	"github.com/Garsondee/Tactical-Map/internal/fog"
	"github.com/Garsondee/Tactical-Map/internal/render"
	"github.com/Garsondee/Tactical-Map/internal/token"
)

// feedPollInterval is how often a reloadable token feed is re-read.
const feedPollInterval = time.Second

// reloader is a feed that can pick up external changes.
type reloader interface {
	Reload() (bool, error)
}

// AppOptions describes one client session.
type AppOptions struct {
	Title         string
	Width, Height int

	// Engine is passed through; its Surface, OnFlush and OnRemote are set by
	// the app.
	Engine engine.Options

	MapURL       string
	GridCellSize float64
	SessionID    string
	MapID        string
	Host         bool

	Feed  token.Feed
	Brush fog.Brush
	// Copy receives ASCII fog snapshots. Nil uses the system clipboard.
	Copy func(string) error
	Log  logrus.FieldLogger
}

// App is a running battle map window.
type App struct {
	opts     AppOptions
	surface  *render.Surface
	eng      *engine.Engine
	controls *Controls
	events   *EventLog
	hud      *HUD
	log      logrus.FieldLogger

	feedAccum float64
}

// NewApp loads the map and fog and wires the window. The caller runs it with Run.
func NewApp(ctx context.Context, opts AppOptions) (*App, error) {
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = 1600, 900
	}
	if opts.Copy == nil {
		opts.Copy = clipboard.WriteAll
	}

	a := &App{
		opts:    opts,
		surface: render.NewSurface(opts.Width, opts.Height),
		events:  NewEventLog(),
		hud:     &HUD{},
		log:     opts.Log.WithField("component", "client"),
	}

	eo := opts.Engine
	eo.Surface = a.surface
	eo.Log = opts.Log
	eo.OnFlush = a.events.FlushHook
	eo.OnRemote = a.events.RemoteHook
	eng, err := engine.New(eo)
	if err != nil {
		return nil, err
	}
	a.eng = eng

	dims, err := eng.LoadMap(ctx, opts.MapURL, opts.GridCellSize)
	if err != nil {
		eng.Dispose()
		return nil, err
	}
	a.events.Add(EventInfo, "map %dx%d, grid %dx%d", dims.ImageWidth, dims.ImageHeight, dims.GridWidth(), dims.GridHeight())

	if err := eng.InitializeFog(ctx, opts.SessionID, opts.MapID, opts.Host, 0, 0); err != nil {
		eng.Dispose()
		return nil, err
	}
	role := "player"
	if opts.Host {
		role = "host"
	}
	a.events.Add(EventInfo, "joined %s/%s as %s", opts.SessionID, opts.MapID, role)

	if opts.Feed != nil {
		ch := eng.ApplyTokens(opts.Feed.Snapshot())
		a.events.Add(EventInfo, "tokens: %d added", len(ch.Added))
	}

	a.controls = NewControls(a.surface.Camera(), eng, a.events, opts.Copy)
	if opts.Brush.Radius > 0 {
		a.controls.SetBrush(opts.Brush)
	}

	a.surface.AddPass(a.update)
	a.surface.AddOverlay(a.drawOverlays)
	a.log.WithFields(logrus.Fields{
		"session": opts.SessionID,
		"map":     opts.MapID,
		"host":    opts.Host,
		"grid":    fmt.Sprintf("%dx%d", dims.GridWidth(), dims.GridHeight()),
	}).Info("battle map ready")
	return a, nil
}

func (a *App) Engine() *engine.Engine { return a.eng }

func (a *App) Events() *EventLog { return a.events }

func (a *App) update(dt float64) {
	a.controls.Update(ReadInput())
	a.pollFeed(dt)
}

// pollFeed re-reads a file-backed feed about once a second and pushes any
// change into the token layer.
func (a *App) pollFeed(dt float64) {
	r, ok := a.opts.Feed.(reloader)
	if !ok {
		return
	}
	a.feedAccum += dt
	if a.feedAccum < feedPollInterval.Seconds() {
		return
	}
	a.feedAccum = 0

	changed, err := r.Reload()
	if err != nil {
		a.events.Add(EventError, "%v", err)
		return
	}
	if !changed {
		return
	}
	ch := a.eng.ApplyTokens(a.opts.Feed.Snapshot())
	a.events.Add(EventInfo, "tokens: +%d ~%d -%d", len(ch.Added), len(ch.Updated), len(ch.Removed))
}

func (a *App) drawOverlays(screen *ebiten.Image) {
	sw, sh := screen.Bounds().Dx(), screen.Bounds().Dy()
	a.events.Draw(screen, sw-logPanelWidth, sh)
	if a.controls.ShowHUD() {
		a.hud.Draw(screen, a.controls.HUDLines())
	}
	if t, ok := a.eng.Tokens().Selected(); ok {
		a.controls.Inspector().Draw(screen, t)
	}
}

// Run opens the window and blocks until it closes, then releases everything.
func (a *App) Run() error {
	title := a.opts.Title
	if title == "" {
		title = "Tactical Map"
	}
	ebiten.SetWindowTitle(title)
	ebiten.SetWindowSize(a.opts.Width, a.opts.Height)
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)

	err := ebiten.RunGame(a.surface)
	a.Dispose()
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	return nil
}

// Dispose flushes pending fog and frees the window's resources.
func (a *App) Dispose() {
	if a.eng == nil {
		return
	}
	a.eng.Dispose()
	a.eng = nil
	a.hud.Dispose()
	a.controls.Inspector().Dispose()
	a.surface.Dispose()
}
