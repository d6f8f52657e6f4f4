// Package engine wires the battle map together: the map and grid layers, the
// token layer, and one fog mask with its sync for the active session and map.
// All methods except the remote fog inbox run on the render goroutine.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Garsondee/Tactical-Map/internal/fog"
	"github.com/Garsondee/Tactical-Map/internal/fogsync"
	"github.com/Garsondee/Tactical-Map/internal/render"
	"github.com/Garsondee/Tactical-Map/internal/token"
)

const (
	// DefaultViewportBudget is the world length of a map's longer side.
	DefaultViewportBudget = 2000.0
	// DefaultGridCellSize is the world length of one grid cell.
	DefaultGridCellSize = 50.0

	defaultImageCacheCost = 256 << 20
	finalFlushTimeout     = 5 * time.Second
)

var (
	ErrDisposed = errors.New("engine disposed")
	ErrNoMap    = errors.New("no map loaded")
)

// MapDimensions describes the loaded map in world units and its grid.
type MapDimensions struct {
	WorldWidth  float64
	WorldHeight float64
	// ImageWidth and ImageHeight are the source image's pixels, before the
	// texture is downscaled.
	ImageWidth   int
	ImageHeight  int
	GridCellSize float64
}

// GridWidth is the number of grid columns needed to cover the map.
func (d MapDimensions) GridWidth() int {
	if d.GridCellSize <= 0 {
		return 0
	}
	return int(math.Ceil(d.WorldWidth / d.GridCellSize))
}

// GridHeight is the number of grid rows needed to cover the map.
func (d MapDimensions) GridHeight() int {
	if d.GridCellSize <= 0 {
		return 0
	}
	return int(math.Ceil(d.WorldHeight / d.GridCellSize))
}

// WorldToGrid converts world units to fractional grid coordinates.
func (d MapDimensions) WorldToGrid(wx, wy float64) (float64, float64) {
	if d.GridCellSize <= 0 {
		return 0, 0
	}
	return wx / d.GridCellSize, wy / d.GridCellSize
}

// GridToWorld returns the world position of a cell's centre.
func (d MapDimensions) GridToWorld(gx, gy int) (float64, float64) {
	return float64(gx)*d.GridCellSize + d.GridCellSize/2, float64(gy)*d.GridCellSize + d.GridCellSize/2
}

// Options configures an Engine.
type Options struct {
	// Surface receives the layers and the per-tick pass. Nil runs headless:
	// no textures are created and Update must be called by the owner.
	Surface *render.Surface
	// Images decodes map and token images. Nil creates a private loader.
	Images *render.ImageLoader
	Repo   fogsync.Repository
	Log    logrus.FieldLogger
	UserID string

	ViewportBudget float64
	BatchInterval  time.Duration
	FlushTimeout   time.Duration
	AnimationSpeed float64

	// OnFlush is called after each host flush attempt, from the flush goroutine.
	OnFlush func(rows int, err error)
	// OnRemote is called on the render goroutine with the number of remote
	// cells merged into the mask.
	OnRemote func(cells int)
}

// Engine owns the lifetime of every battle map component.
type Engine struct {
	opts       Options
	surface    *render.Surface
	images     *render.ImageLoader
	ownsImages bool
	log        logrus.FieldLogger

	dims     MapDimensions
	hasMap   bool
	mapLayer *render.MapLayer
	grid     *render.GridLayer
	tokens   *render.TokenLayer
	prevToks []token.Token

	mask    *fog.Mask
	sync    *fogsync.Sync
	overlay *render.FogOverlay
	isHost  bool

	inboxMu sync.Mutex
	inbox   []fog.Cell

	pass     render.PassID
	ctx      context.Context
	cancel   context.CancelFunc
	closed   atomic.Bool
	disposed bool
}

// New creates an engine with no map and no fog.
func New(opts Options) (*Engine, error) {
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	if opts.ViewportBudget <= 0 {
		opts.ViewportBudget = DefaultViewportBudget
	}
	if opts.BatchInterval <= 0 {
		opts.BatchInterval = fogsync.DefaultBatchInterval
	}
	if opts.AnimationSpeed == 0 {
		opts.AnimationSpeed = 1
	}
	e := &Engine{
		opts:    opts,
		surface: opts.Surface,
		images:  opts.Images,
		log:     opts.Log.WithField("component", "engine"),
	}
	if e.images == nil {
		l, err := render.NewImageLoader(defaultImageCacheCost, opts.Log)
		if err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
		e.images, e.ownsImages = l, true
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())

	var tokenImages *render.ImageLoader
	if e.surface != nil {
		tokenImages = e.images
	}
	e.tokens = render.NewTokenLayer(tokenImages, opts.Log)
	e.tokens.SetAnimationSpeed(opts.AnimationSpeed)
	if e.surface != nil {
		e.surface.AddLayer(e.tokens)
		e.pass = e.surface.AddPass(e.Update)
	}
	return e, nil
}

// Headless reports whether the engine runs without a surface.
func (e *Engine) Headless() bool { return e.surface == nil }

// Dimensions returns the current map dimensions.
func (e *Engine) Dimensions() (MapDimensions, bool) { return e.dims, e.hasMap }

// LoadMap decodes the image at url and makes it the current map. The image is
// decoded before anything is torn down: on failure the previous map and fog
// are left untouched. On success the previous map and its fog are released.
func (e *Engine) LoadMap(ctx context.Context, url string, gridCellSize float64) (MapDimensions, error) {
	if e.disposed {
		return MapDimensions{}, ErrDisposed
	}
	if gridCellSize <= 0 {
		gridCellSize = DefaultGridCellSize
	}
	img, size, err := e.images.LoadSized(ctx, url)
	if err != nil {
		e.log.WithError(err).WithField("url", url).Warn("map load failed, keeping previous map")
		return MapDimensions{}, fmt.Errorf("load map: %w", err)
	}
	if e.disposed {
		return MapDimensions{}, ErrDisposed
	}
	ww, wh := render.FitToBudget(size.X, size.Y, e.opts.ViewportBudget)
	if ww <= 0 || wh <= 0 {
		return MapDimensions{}, fmt.Errorf("load map: %w: empty image", render.ErrNoImage)
	}
	dims := MapDimensions{
		WorldWidth:   ww,
		WorldHeight:  wh,
		ImageWidth:   size.X,
		ImageHeight:  size.Y,
		GridCellSize: gridCellSize,
	}

	e.teardownMap()
	if e.surface != nil {
		e.mapLayer = render.NewMapLayer(img, ww, wh)
		e.surface.AddLayer(e.mapLayer)
	}
	e.attachMap(dims)
	e.log.WithFields(logrus.Fields{
		"url":   url,
		"world": fmt.Sprintf("%.0fx%.0f", ww, wh),
		"grid":  fmt.Sprintf("%dx%d", dims.GridWidth(), dims.GridHeight()),
	}).Info("map loaded")
	return dims, nil
}

// UseDimensions sets the map size without an image, releasing any previous
// map and fog. Headless sessions and reports use this.
func (e *Engine) UseDimensions(d MapDimensions) error {
	if e.disposed {
		return ErrDisposed
	}
	if d.GridCellSize <= 0 {
		d.GridCellSize = DefaultGridCellSize
	}
	if d.WorldWidth <= 0 || d.WorldHeight <= 0 {
		return fmt.Errorf("engine: invalid map size %.0fx%.0f", d.WorldWidth, d.WorldHeight)
	}
	e.teardownMap()
	e.attachMap(d)
	return nil
}

func (e *Engine) attachMap(d MapDimensions) {
	e.dims, e.hasMap = d, true
	e.grid = render.NewGridLayer(d.WorldWidth, d.WorldHeight, d.GridCellSize)
	if e.surface != nil {
		e.surface.AddLayer(e.grid)
		e.surface.SetWorldSize(d.WorldWidth, d.WorldHeight)
	}
}

// teardownMap releases the map, grid and the fog bound to them.
func (e *Engine) teardownMap() {
	e.teardownFog()
	if e.mapLayer != nil {
		if e.surface != nil {
			e.surface.RemoveLayer(e.mapLayer)
		}
		e.mapLayer.Dispose()
		e.mapLayer = nil
	}
	if e.grid != nil {
		if e.surface != nil {
			e.surface.RemoveLayer(e.grid)
		}
		e.grid.Dispose()
		e.grid = nil
	}
	e.hasMap = false
}

// SetGridVisible toggles the grid lines.
func (e *Engine) SetGridVisible(v bool) {
	if e.grid != nil {
		e.grid.SetVisible(v)
	}
}

// InitializeFog builds the fog for one session and map: mask, sync, initial
// hydration, then batching for the host or the remote subscription for a
// participant. gridW and gridH default to the map's grid when zero. Brush
// calls made before this returns are no-ops.
func (e *Engine) InitializeFog(ctx context.Context, sessionID, mapID string, isHost bool, gridW, gridH int) error {
	if e.disposed {
		return ErrDisposed
	}
	if !e.hasMap {
		return ErrNoMap
	}
	key := fogsync.MapKey{SessionID: sessionID, MapID: mapID}
	if !key.Valid() {
		return fmt.Errorf("engine: invalid fog key %q/%q", sessionID, mapID)
	}
	if gridW <= 0 {
		gridW = e.dims.GridWidth()
	}
	if gridH <= 0 {
		gridH = e.dims.GridHeight()
	}
	e.teardownFog()

	log := e.opts.Log.WithFields(logrus.Fields{"session": sessionID, "map": mapID, "host": isHost})
	mask := fog.NewMask(e.textureFactory(isHost, log))
	mask.SetAnimationSpeed(e.opts.AnimationSpeed)
	mask.Initialize(gridW, gridH, e.dims.WorldWidth, e.dims.WorldHeight)

	s := fogsync.New(fogsync.Options{
		Key:          key,
		Repo:         e.opts.Repo,
		Log:          e.opts.Log,
		UserID:       e.opts.UserID,
		FlushTimeout: e.opts.FlushTimeout,
		OnFlush:      e.opts.OnFlush,
	})
	cells := s.LoadInitialFog(ctx)
	mask.LoadSnapshot(cells)

	e.mask, e.sync, e.isHost = mask, s, isHost
	e.tokens.SetHostView(isHost)
	if isHost {
		e.tokens.SetOccluder(nil)
		s.StartBatching(e.opts.BatchInterval)
	} else {
		e.tokens.SetOccluder(e.fogged)
	}

	// The host is the only writer; it never merges the replicated rows of its
	// own flushes back over its live mask.
	if !isHost && e.opts.Repo != nil {
		if err := s.SubscribeToChanges(e.ctx, e.enqueueRemote); err != nil {
			log.WithError(err).Warn("live fog updates unavailable")
		}
	}
	log.WithFields(logrus.Fields{"grid": fmt.Sprintf("%dx%d", gridW, gridH), "hydrated": len(cells)}).Info("fog initialised")
	return nil
}

func (e *Engine) textureFactory(isHost bool, log logrus.FieldLogger) fog.TextureFactory {
	if e.surface == nil {
		return nil
	}
	style := render.ParticipantFogStyle()
	if isHost {
		style = render.HostFogStyle()
	}
	return render.FogTextureFactory(style, log, func(o *render.FogOverlay) {
		if e.overlay != nil {
			e.surface.RemoveLayer(e.overlay)
		}
		e.overlay = o
		e.surface.AddLayer(o)
	})
}

// fogged reports whether the cell under a world point is still mostly hidden.
func (e *Engine) fogged(wx, wy float64) bool {
	if e.mask == nil || !e.mask.Visible() {
		return false
	}
	gx, gy := e.dims.WorldToGrid(wx, wy)
	return e.mask.Value(int(math.Floor(gx)), int(math.Floor(gy))) <= fogsync.RevealThreshold
}

// teardownFog stops sync before releasing the texture so no late callback
// touches a freed mask. Pending host edits get one last flush.
func (e *Engine) teardownFog() {
	if e.sync != nil {
		if e.isHost {
			ctx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
			if err := e.sync.FlushChanges(ctx); err != nil {
				e.log.WithError(err).Warn("final fog flush failed")
			}
			cancel()
		}
		e.sync.Dispose()
		e.sync = nil
	}
	e.inboxMu.Lock()
	e.inbox = nil
	e.inboxMu.Unlock()
	if e.mask != nil {
		e.mask.Dispose()
		e.mask = nil
	}
	if e.overlay != nil {
		if e.surface != nil {
			e.surface.RemoveLayer(e.overlay)
		}
		e.overlay = nil
	}
	e.tokens.SetOccluder(nil)
}

// enqueueRemote runs on the subscription goroutine.
func (e *Engine) enqueueRemote(c fog.Cell) {
	if e.closed.Load() {
		return
	}
	e.inboxMu.Lock()
	e.inbox = append(e.inbox, c)
	e.inboxMu.Unlock()
}

// RevealFog stamps a reveal brush at a world position.
func (e *Engine) RevealFog(wx, wy float64, b fog.Brush) {
	e.brush(wx, wy, b.WithMode(fog.BrushReveal))
}

// HideFog stamps a hide brush at a world position.
func (e *Engine) HideFog(wx, wy float64, b fog.Brush) {
	e.brush(wx, wy, b.WithMode(fog.BrushHide))
}

func (e *Engine) brush(wx, wy float64, b fog.Brush) {
	if e.disposed || e.mask == nil {
		return
	}
	gx, gy := e.dims.WorldToGrid(wx, wy)
	e.mask.ApplyBrush(gx, gy, b.Clamp())
	e.forwardDirty()
}

func (e *Engine) RevealAllFog() {
	if e.disposed || e.mask == nil {
		return
	}
	e.mask.RevealAll()
	e.forwardDirty()
}

func (e *Engine) HideAllFog() {
	if e.disposed || e.mask == nil {
		return
	}
	e.mask.HideAll()
	e.forwardDirty()
}

// forwardDirty queues the mask's changed cells for persistence. Participant
// edits are a local preview only.
func (e *Engine) forwardDirty() {
	cells := e.mask.ExportDirtyCells()
	if !e.isHost || e.sync == nil {
		return
	}
	for _, c := range cells {
		e.sync.QueueChange(c)
	}
}

// FlushFog writes pending host edits now instead of waiting for the ticker.
func (e *Engine) FlushFog(ctx context.Context) error {
	if e.disposed {
		return ErrDisposed
	}
	if e.sync == nil || !e.isHost {
		return nil
	}
	return e.sync.FlushChanges(ctx)
}

// Update is the per-tick pass: it merges remote fog and advances animation.
func (e *Engine) Update(dt float64) {
	if e.disposed {
		return
	}
	e.inboxMu.Lock()
	cells := e.inbox
	e.inbox = nil
	e.inboxMu.Unlock()
	if len(cells) > 0 && e.mask != nil {
		e.mask.LoadSnapshot(cells)
		if e.opts.OnRemote != nil {
			e.opts.OnRemote(len(cells))
		}
	}
	if e.mask != nil {
		e.mask.Update(dt)
	}
	e.tokens.Update(dt)
}

// ApplyTokens brings the token layer in line with a feed snapshot.
func (e *Engine) ApplyTokens(snapshot []token.Token) token.Changes {
	if e.disposed {
		return token.Changes{}
	}
	ch := token.Diff(e.prevToks, snapshot)
	for _, t := range ch.Added {
		e.tokens.AddOrUpdate(t)
	}
	for _, t := range ch.Updated {
		e.tokens.AddOrUpdate(t)
	}
	for _, id := range ch.Removed {
		e.tokens.Remove(id)
	}
	e.prevToks = append(e.prevToks[:0:0], snapshot...)
	return ch
}

// Tokens exposes the token layer for picking and selection.
func (e *Engine) Tokens() *render.TokenLayer { return e.tokens }

// WorldToGrid converts world units to fractional grid coordinates.
func (e *Engine) WorldToGrid(wx, wy float64) (float64, float64) { return e.dims.WorldToGrid(wx, wy) }

// GridToWorld returns the world centre of a grid cell.
func (e *Engine) GridToWorld(gx, gy int) (float64, float64) { return e.dims.GridToWorld(gx, gy) }

func (e *Engine) IsHost() bool { return e.isHost }

// FogReady reports whether fog has been initialised.
func (e *Engine) FogReady() bool { return e.mask != nil }

// FogValue reads one cell of the local mask.
func (e *Engine) FogValue(x, y int) uint8 {
	if e.mask == nil {
		return fog.Hidden
	}
	return e.mask.Value(x, y)
}

// FogSize returns the fog grid size, zero before InitializeFog.
func (e *Engine) FogSize() (int, int) {
	if e.mask == nil {
		return 0, 0
	}
	return e.mask.Width(), e.mask.Height()
}

func (e *Engine) FogCoverage() float64 {
	if e.mask == nil {
		return 0
	}
	return e.mask.Coverage()
}

// FogSnapshot returns every non-hidden cell of the local mask.
func (e *Engine) FogSnapshot() []fog.Cell {
	if e.mask == nil {
		return nil
	}
	return e.mask.Snapshot()
}

func (e *Engine) SetFogVisible(v bool) {
	if e.mask != nil {
		e.mask.SetVisible(v)
	}
}

func (e *Engine) FogVisible() bool {
	return e.mask != nil && e.mask.Visible()
}

// PendingFog is the number of host edits awaiting flush.
func (e *Engine) PendingFog() int {
	if e.sync == nil {
		return 0
	}
	return e.sync.PendingCount()
}

// SyncStats returns the fog sync counters, zero before InitializeFog.
func (e *Engine) SyncStats() fogsync.Stats {
	if e.sync == nil {
		return fogsync.Stats{}
	}
	return e.sync.Stats()
}

// Dispose stops sync, then frees every texture. Every other method is a
// no-op afterwards. Safe to call more than once.
func (e *Engine) Dispose() {
	if e.disposed {
		return
	}
	e.closed.Store(true)
	e.teardownMap()
	e.disposed = true
	e.cancel()
	if e.surface != nil {
		e.surface.RemovePass(e.pass)
		e.surface.RemoveLayer(e.tokens)
	}
	e.tokens.Dispose()
	e.prevToks = nil
	if e.ownsImages {
		e.images.Close()
	}
	e.log.Debug("engine disposed")
}
