package engine

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Garsondee/Tactical-Map/internal/fogsync"
	"github.com/Garsondee/Tactical-Map/internal/token"
)

// TestSession is a headless multi-client session over one in-memory
// repository: a host engine plus any number of participant engines, all
// looking at the same map. Used by tests and the fog report.
type TestSession struct {
	Repo      *fogsync.MemoryRepository
	SessionID string
	MapID     string
	Dims      MapDimensions
	Host      *Engine
	Players   []*Engine
	Tick      int

	players       int
	batchInterval time.Duration
	seed          []fogsync.Row
	log           logrus.FieldLogger
}

type sessionOptionKind int

const (
	sessionOptInfra  sessionOptionKind = iota // grid, ids, logging
	sessionOptClient                          // applied after engines exist
)

// SessionOption is a builder function applied to a TestSession.
type SessionOption struct {
	kind sessionOptionKind
	fn   func(*TestSession)
}

// WithGrid sets the fog grid size; world size follows from the cell size.
func WithGrid(w, h int) SessionOption {
	return SessionOption{sessionOptInfra, func(ts *TestSession) {
		ts.Dims.WorldWidth = float64(w) * ts.Dims.GridCellSize
		ts.Dims.WorldHeight = float64(h) * ts.Dims.GridCellSize
	}}
}

// WithIDs sets the session and map ids.
func WithIDs(sessionID, mapID string) SessionOption {
	return SessionOption{sessionOptInfra, func(ts *TestSession) {
		ts.SessionID, ts.MapID = sessionID, mapID
	}}
}

// WithPlayers sets the number of participant clients.
func WithPlayers(n int) SessionOption {
	return SessionOption{sessionOptInfra, func(ts *TestSession) {
		ts.players = n
	}}
}

// WithBatchInterval sets the host's flush cadence. Tests usually pick a long
// interval and flush explicitly.
func WithBatchInterval(d time.Duration) SessionOption {
	return SessionOption{sessionOptInfra, func(ts *TestSession) {
		ts.batchInterval = d
	}}
}

// WithLogger routes engine logs to log.
func WithLogger(log logrus.FieldLogger) SessionOption {
	return SessionOption{sessionOptInfra, func(ts *TestSession) {
		ts.log = log
	}}
}

// WithSeedRows persists rows before any client joins. Rows without a
// session take the session's key.
func WithSeedRows(rows ...fogsync.Row) SessionOption {
	return SessionOption{sessionOptInfra, func(ts *TestSession) {
		ts.seed = append(ts.seed, rows...)
	}}
}

// WithTokens feeds the same token snapshot to every client.
func WithTokens(toks ...token.Token) SessionOption {
	return SessionOption{sessionOptClient, func(ts *TestSession) {
		for _, e := range ts.Engines() {
			e.ApplyTokens(toks)
		}
	}}
}

// NewTestSession builds the session in ordered passes:
//  1. Infrastructure (grid, ids, players, seed rows)
//  2. Host joins, then players join in order
//  3. Client options (tokens)
func NewTestSession(opts ...SessionOption) (*TestSession, error) {
	ts := &TestSession{
		Repo:          fogsync.NewMemoryRepository(),
		SessionID:     "session-1",
		MapID:         "map-1",
		Dims:          MapDimensions{GridCellSize: DefaultGridCellSize},
		players:       1,
		batchInterval: time.Hour,
	}
	ts.Dims.WorldWidth = 20 * ts.Dims.GridCellSize
	ts.Dims.WorldHeight = 20 * ts.Dims.GridCellSize
	for _, o := range opts {
		if o.kind == sessionOptInfra {
			o.fn(ts)
		}
	}
	if ts.log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		ts.log = l
	}
	if len(ts.seed) > 0 {
		key := ts.Key()
		for i := range ts.seed {
			if ts.seed[i].SessionID == "" {
				ts.seed[i].SessionID, ts.seed[i].MapID = key.SessionID, key.MapID
			}
		}
		if err := ts.Repo.UpsertBatch(context.Background(), ts.seed); err != nil {
			return nil, fmt.Errorf("seed fog: %w", err)
		}
	}

	host, err := ts.join("host", true)
	if err != nil {
		return nil, err
	}
	ts.Host = host
	for i := 0; i < ts.players; i++ {
		p, err := ts.join(fmt.Sprintf("player-%d", i+1), false)
		if err != nil {
			ts.Dispose()
			return nil, err
		}
		ts.Players = append(ts.Players, p)
	}
	for _, o := range opts {
		if o.kind == sessionOptClient {
			o.fn(ts)
		}
	}
	return ts, nil
}

func (ts *TestSession) join(userID string, host bool) (*Engine, error) {
	e, err := New(Options{
		Repo:          ts.Repo,
		Log:           ts.log.WithField("user", userID),
		UserID:        userID,
		BatchInterval: ts.batchInterval,
	})
	if err != nil {
		return nil, err
	}
	if err := e.UseDimensions(ts.Dims); err != nil {
		e.Dispose()
		return nil, err
	}
	if err := e.InitializeFog(context.Background(), ts.SessionID, ts.MapID, host, 0, 0); err != nil {
		e.Dispose()
		return nil, fmt.Errorf("%s join: %w", userID, err)
	}
	return e, nil
}

// Key is the session's fog key.
func (ts *TestSession) Key() fogsync.MapKey {
	return fogsync.MapKey{SessionID: ts.SessionID, MapID: ts.MapID}
}

// Engines returns the host followed by the players.
func (ts *TestSession) Engines() []*Engine {
	out := make([]*Engine, 0, 1+len(ts.Players))
	if ts.Host != nil {
		out = append(out, ts.Host)
	}
	return append(out, ts.Players...)
}

// RunTicks advances every client by n sixty-hertz ticks.
func (ts *TestSession) RunTicks(n int) {
	for i := 0; i < n; i++ {
		for _, e := range ts.Engines() {
			e.Update(1.0 / 60)
		}
		ts.Tick++
	}
}

// RunUntil ticks until predicate holds or timeout passes, sleeping briefly
// between ticks so subscription goroutines can deliver. It reports whether
// the predicate was met.
func (ts *TestSession) RunUntil(predicate func(*TestSession) bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		ts.RunTicks(1)
		if predicate(ts) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// Flush writes the host's pending edits.
func (ts *TestSession) Flush(ctx context.Context) error {
	return ts.Host.FlushFog(ctx)
}

// Converged reports whether every player's mask matches the host's
// persisted view: host cells above the threshold revealed, the rest hidden.
func (ts *TestSession) Converged() bool {
	w, h := ts.Host.FogSize()
	for _, p := range ts.Players {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				want := uint8(0)
				if ts.Host.FogValue(x, y) > fogsync.RevealThreshold {
					want = 255
				}
				if p.FogValue(x, y) != want {
					return false
				}
			}
		}
	}
	return true
}

// Dispose tears down every client.
func (ts *TestSession) Dispose() {
	for _, e := range ts.Engines() {
		e.Dispose()
	}
}
