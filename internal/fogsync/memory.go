package fogsync

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Garsondee/Tactical-Map/internal/fog"
)

const memorySubscriberBuffer = 4096

// MemoryRepository is an in-process Repository: a row table per map plus a
// fan-out of row events to subscribers. Used by headless sessions and tests.
type MemoryRepository struct {
	mu   sync.RWMutex
	rows map[MapKey]map[fog.Coord]Row
	subs map[MapKey]map[string]*memorySub

	loadErr   error
	upsertErr error
	log       logrus.FieldLogger
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		rows: make(map[MapKey]map[fog.Coord]Row),
		subs: make(map[MapKey]map[string]*memorySub),
		log:  logrus.WithField("component", "fogsync.memory"),
	}
}

// FailLoads makes every LoadAll return err until called with nil.
func (r *MemoryRepository) FailLoads(err error) {
	r.mu.Lock()
	r.loadErr = err
	r.mu.Unlock()
}

// FailUpserts makes every UpsertBatch return err until called with nil.
func (r *MemoryRepository) FailUpserts(err error) {
	r.mu.Lock()
	r.upsertErr = err
	r.mu.Unlock()
}

func (r *MemoryRepository) LoadAll(ctx context.Context, key MapKey) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.loadErr != nil {
		return nil, r.loadErr
	}
	table := r.rows[key]
	out := make([]Row, 0, len(table))
	for _, row := range table {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].GridY != out[j].GridY {
			return out[i].GridY < out[j].GridY
		}
		return out[i].GridX < out[j].GridX
	})
	return out, nil
}

// UpsertBatch writes rows and publishes one event per row, INSERT for new
// cells and UPDATE for existing ones.
func (r *MemoryRepository) UpsertBatch(ctx context.Context, rows []Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	if r.upsertErr != nil {
		err := r.upsertErr
		r.mu.Unlock()
		return err
	}
	events := make([]Event, 0, len(rows))
	for _, row := range rows {
		key := row.Key()
		table, ok := r.rows[key]
		if !ok {
			table = make(map[fog.Coord]Row)
			r.rows[key] = table
		}
		c := fog.Coord{X: row.GridX, Y: row.GridY}
		typ := EventInsert
		if old, exists := table[c]; exists {
			typ = EventUpdate
			row.ID = old.ID
		} else if row.ID == "" {
			row.ID = uuid.NewString()
		}
		table[c] = row
		events = append(events, Event{Type: typ, Row: row})
	}
	r.mu.Unlock()

	for _, ev := range events {
		r.publish(ev)
	}
	return nil
}

// Subscribe registers fn for events on key. Delivery is asynchronous and in
// publish order.
func (r *MemoryRepository) Subscribe(ctx context.Context, key MapKey, fn func(Event)) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub := &memorySub{
		id:    uuid.NewString(),
		key:   key,
		repo:  r,
		ch:    make(chan Event, memorySubscriberBuffer),
		quit:  make(chan struct{}),
		fn:    fn,
		ctx:   ctx,
		ended: make(chan struct{}),
	}
	r.mu.Lock()
	if r.subs[key] == nil {
		r.subs[key] = make(map[string]*memorySub)
	}
	r.subs[key][sub.id] = sub
	r.mu.Unlock()

	go sub.run()
	return sub, nil
}

// SubscriberCount returns the number of live subscriptions on key.
func (r *MemoryRepository) SubscriberCount(key MapKey) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[key])
}

// Rows returns the persisted rows for key, sorted by row then column.
func (r *MemoryRepository) Rows(key MapKey) []Row {
	rows, _ := r.LoadAll(context.Background(), key)
	return rows
}

func (r *MemoryRepository) publish(ev Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, sub := range r.subs[ev.Row.Key()] {
		select {
		case sub.ch <- ev:
		default:
			r.log.WithField("subscriber", sub.id).Warn("subscriber buffer full, event dropped")
		}
	}
}

func (r *MemoryRepository) unregister(sub *memorySub) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if set, ok := r.subs[sub.key]; ok {
		delete(set, sub.id)
		if len(set) == 0 {
			delete(r.subs, sub.key)
		}
	}
}

type memorySub struct {
	id   string
	key  MapKey
	repo *MemoryRepository
	ch   chan Event
	quit chan struct{}
	fn   func(Event)
	ctx  context.Context

	once  sync.Once
	ended chan struct{}
}

func (s *memorySub) run() {
	defer close(s.ended)
	defer s.repo.unregister(s)
	for {
		select {
		case ev := <-s.ch:
			s.fn(ev)
		case <-s.quit:
			return
		case <-s.ctx.Done():
			return
		}
	}
}

// Close stops delivery and waits for an in-flight callback to return. It must
// not be called from inside the callback.
func (s *memorySub) Close() error {
	s.once.Do(func() { close(s.quit) })
	<-s.ended
	return nil
}
