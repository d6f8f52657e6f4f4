package fogsync

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Garsondee/Tactical-Map/internal/fog"
)

// DefaultBatchInterval is the flush cadence when none is configured.
const DefaultBatchInterval = 2 * time.Second

const defaultFlushTimeout = 10 * time.Second

// Options configures a Sync.
type Options struct {
	Key  MapKey
	Repo Repository
	Log  logrus.FieldLogger
	// UserID is stamped on flushed rows as revealed_by.
	UserID string
	// FlushTimeout bounds each background flush. Zero uses a 10s default.
	FlushTimeout time.Duration
	// OnFlush, when set, is called after every flush attempt with the number of
	// rows sent and the repository error (nil on success).
	OnFlush func(rows int, err error)
	// Now overrides the clock used for revealed_at.
	Now func() time.Time
}

// Stats are cumulative counters, safe to read from any goroutine.
type Stats struct {
	Flushes      int64
	FailedFlush  int64
	RowsWritten  int64
	RowsDropped  int64
	RemoteEvents int64
	BadEvents    int64
}

// Sync buffers local fog changes for one map and replicates remote ones.
// QueueChange and FlushChanges may be called from different goroutines.
type Sync struct {
	key          MapKey
	repo         Repository
	log          logrus.FieldLogger
	userID       string
	flushTimeout time.Duration
	onFlush      func(int, error)
	now          func() time.Time

	mu       sync.Mutex
	pending  map[string]fog.Cell
	stop     chan struct{}
	done     chan struct{}
	subs     []Subscription
	disposed bool

	// Serialises flushes so batches reach the repository in queue order.
	flushMu sync.Mutex

	flushes      atomic.Int64
	failed       atomic.Int64
	written      atomic.Int64
	dropped      atomic.Int64
	remoteEvents atomic.Int64
	badEvents    atomic.Int64
}

// New creates a Sync for one map. It does no I/O.
func New(opts Options) *Sync {
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	timeout := opts.FlushTimeout
	if timeout <= 0 {
		timeout = defaultFlushTimeout
	}
	return &Sync{
		key:          opts.Key,
		repo:         opts.Repo,
		log:          log.WithFields(logrus.Fields{"component": "fogsync", "session": opts.Key.SessionID, "map": opts.Key.MapID}),
		userID:       opts.UserID,
		flushTimeout: timeout,
		onFlush:      opts.OnFlush,
		now:          now,
		pending:      make(map[string]fog.Cell),
	}
}

// Key returns the map this Sync is bound to.
func (s *Sync) Key() MapKey {
	return s.key
}

// LoadInitialFog reads all persisted cells for the map. Revealed rows become
// 255, others 0. Repository failures are logged and yield an empty result.
func (s *Sync) LoadInitialFog(ctx context.Context) []fog.Cell {
	if s.isDisposed() || s.repo == nil {
		return nil
	}
	rows, err := s.repo.LoadAll(ctx, s.key)
	if err != nil {
		s.log.WithError(err).Warn("initial fog load failed, starting fully hidden")
		return nil
	}
	cells := make([]fog.Cell, 0, len(rows))
	for _, r := range rows {
		if r.Key() != s.key {
			continue
		}
		cells = append(cells, r.Cell())
	}
	s.log.WithField("cells", len(cells)).Debug("initial fog loaded")
	return cells
}

// StartBatching flushes the pending buffer every interval until Dispose.
// A second call while batching is running is ignored.
func (s *Sync) StartBatching(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultBatchInterval
	}
	s.mu.Lock()
	if s.disposed || s.stop != nil {
		s.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	s.stop, s.done = stop, done
	s.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), s.flushTimeout)
				_ = s.FlushChanges(ctx)
				cancel()
			case <-stop:
				return
			}
		}
	}()
}

// Batching reports whether the flush ticker is running.
func (s *Sync) Batching() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stop != nil
}

// QueueChange records the latest value for a cell. A later change to the same
// cell replaces the earlier one.
func (s *Sync) QueueChange(c fog.Cell) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}
	s.pending[c.Coord().Key()] = c
}

// PendingCount returns the number of distinct cells awaiting flush.
func (s *Sync) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// FlushChanges sends every pending cell as one batch upsert. The buffer is
// cleared before the write; on failure the batch is logged and dropped.
func (s *Sync) FlushChanges(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return nil
	}
	batch := make([]fog.Cell, 0, len(s.pending))
	for _, c := range s.pending {
		batch = append(batch, c)
	}
	s.pending = make(map[string]fog.Cell)
	s.mu.Unlock()

	if s.repo == nil {
		return nil
	}

	sort.Slice(batch, func(i, j int) bool {
		if batch[i].Y != batch[j].Y {
			return batch[i].Y < batch[j].Y
		}
		return batch[i].X < batch[j].X
	})
	at := s.now().UTC()
	rows := make([]Row, len(batch))
	for i, c := range batch {
		rows[i] = RowFromCell(s.key, c, s.userID, at)
	}

	err := s.repo.UpsertBatch(ctx, rows)
	s.flushes.Add(1)
	if err != nil {
		s.failed.Add(1)
		s.dropped.Add(int64(len(rows)))
		s.log.WithError(err).WithField("rows", len(rows)).Error("fog flush failed, batch dropped")
	} else {
		s.written.Add(int64(len(rows)))
		s.log.WithField("rows", len(rows)).Debug("fog flushed")
	}
	if s.onFlush != nil {
		s.onFlush(len(rows), err)
	}
	return err
}

// SubscribeToChanges delivers remote cell changes for this map to fn. Events
// from other maps, deletes and malformed rows are discarded. Remote cells
// bypass the pending buffer. fn runs on the repository's goroutine.
func (s *Sync) SubscribeToChanges(ctx context.Context, fn func(fog.Cell)) error {
	if s.repo == nil {
		return errors.New("fogsync: no repository")
	}
	if s.isDisposed() {
		return errors.New("fogsync: disposed")
	}
	sub, err := s.repo.Subscribe(ctx, s.key, func(ev Event) {
		if s.isDisposed() {
			return
		}
		if ev.Type != EventInsert && ev.Type != EventUpdate {
			return
		}
		if ev.Row.Key() != s.key || ev.Row.GridX < 0 || ev.Row.GridY < 0 {
			s.badEvents.Add(1)
			return
		}
		s.remoteEvents.Add(1)
		fn(ev.Row.Cell())
	})
	if err != nil {
		s.log.WithError(err).Warn("fog subscription failed")
		return err
	}

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		_ = sub.Close()
		return errors.New("fogsync: disposed")
	}
	s.subs = append(s.subs, sub)
	s.mu.Unlock()
	return nil
}

// Stats returns a snapshot of the counters.
func (s *Sync) Stats() Stats {
	return Stats{
		Flushes:      s.flushes.Load(),
		FailedFlush:  s.failed.Load(),
		RowsWritten:  s.written.Load(),
		RowsDropped:  s.dropped.Load(),
		RemoteEvents: s.remoteEvents.Load(),
		BadEvents:    s.badEvents.Load(),
	}
}

// Dispose stops the flush ticker and closes every subscription. Pending
// changes are discarded; flush first to keep them. Safe to call repeatedly.
func (s *Sync) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	stop, done := s.stop, s.done
	subs := s.subs
	s.subs = nil
	s.pending = make(map[string]fog.Cell)
	s.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	for _, sub := range subs {
		if err := sub.Close(); err != nil {
			s.log.WithError(err).Debug("closing fog subscription")
		}
	}
}

func (s *Sync) isDisposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}
