// Package store persists fog cells in SQL through gorm. MySQL is the
// production driver; SQLite serves single-host setups and tests.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/Garsondee/Tactical-Map/internal/fog"
	"github.com/Garsondee/Tactical-Map/internal/fogsync"
)

const upsertChunk = 500

// ErrUnknownDriver is returned by Open for drivers other than mysql and sqlite.
var ErrUnknownDriver = errors.New("unknown database driver")

// Open connects to the database and migrates the fog table.
func Open(driver, dsn string, log logrus.FieldLogger) (*gorm.DB, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	var dial gorm.Dialector
	switch strings.ToLower(driver) {
	case "mysql":
		dial = mysql.Open(dsn)
	case "sqlite", "sqlite3", "":
		if dsn == "" {
			dsn = "file::memory:?cache=shared"
		}
		dial = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}

	db, err := gorm.Open(dial, &gorm.Config{
		Logger: logger.New(gormWriter{log}, logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if err := db.AutoMigrate(&FogRow{}); err != nil {
		return nil, fmt.Errorf("migrate fog table: %w", err)
	}
	return db, nil
}

type gormWriter struct {
	log logrus.FieldLogger
}

func (w gormWriter) Printf(format string, args ...interface{}) {
	w.log.WithField("component", "gorm").Warnf(format, args...)
}

// FogStore reads and upserts fog rows. After every committed batch it hands
// the resulting row events to the write hook, if one is set.
type FogStore struct {
	db      *gorm.DB
	log     logrus.FieldLogger
	onWrite func([]fogsync.Event)
}

func NewFogStore(db *gorm.DB, log logrus.FieldLogger) *FogStore {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &FogStore{db: db, log: log.WithField("component", "store")}
}

// OnWrite sets the hook fed with INSERT/UPDATE events of committed batches.
func (s *FogStore) OnWrite(fn func([]fogsync.Event)) {
	s.onWrite = fn
}

func (s *FogStore) LoadAll(ctx context.Context, key fogsync.MapKey) ([]fogsync.Row, error) {
	var rows []FogRow
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND map_id = ?", key.SessionID, key.MapID).
		Order("grid_y, grid_x").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load fog %s/%s: %w", key.SessionID, key.MapID, err)
	}
	out := make([]fogsync.Row, len(rows))
	for i, r := range rows {
		out[i] = r.toRow()
	}
	return out, nil
}

// UpsertBatch writes rows in one transaction keyed by (session, map, x, y).
// Existing rows keep their id; only the reveal columns are updated.
func (s *FogStore) UpsertBatch(ctx context.Context, rows []fogsync.Row) error {
	rows = dedupRows(rows)
	if len(rows) == 0 {
		return nil
	}
	var events []fogsync.Event
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := existingIDs(tx, rows)
		if err != nil {
			return err
		}
		models := make([]FogRow, len(rows))
		events = make([]fogsync.Event, len(rows))
		for i, r := range rows {
			cell := cellKey{key: r.Key(), at: fog.Coord{X: r.GridX, Y: r.GridY}}
			typ := fogsync.EventInsert
			if id, ok := existing[cell]; ok {
				typ = fogsync.EventUpdate
				r.ID = id
			} else if r.ID == "" {
				r.ID = uuid.NewString()
			}
			models[i] = fromRow(r)
			events[i] = fogsync.Event{Type: typ, Row: r}
		}
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "session_id"}, {Name: "map_id"}, {Name: "grid_x"}, {Name: "grid_y"},
			},
			DoUpdates: clause.AssignmentColumns([]string{"is_revealed", "revealed_by_user_id", "revealed_at"}),
		}).CreateInBatches(&models, upsertChunk).Error
	})
	if err != nil {
		return fmt.Errorf("upsert %d fog rows: %w", len(rows), err)
	}
	s.log.WithField("rows", len(rows)).Debug("fog batch committed")
	if s.onWrite != nil {
		s.onWrite(events)
	}
	return nil
}

// Clear deletes every row of a map.
func (s *FogStore) Clear(ctx context.Context, key fogsync.MapKey) error {
	return s.db.WithContext(ctx).
		Where("session_id = ? AND map_id = ?", key.SessionID, key.MapID).
		Delete(&FogRow{}).Error
}

// dedupRows keeps the last row for each cell, in first-seen order.
func dedupRows(rows []fogsync.Row) []fogsync.Row {
	idx := make(map[cellKey]int, len(rows))
	out := make([]fogsync.Row, 0, len(rows))
	for _, r := range rows {
		k := cellKey{key: r.Key(), at: fog.Coord{X: r.GridX, Y: r.GridY}}
		if i, ok := idx[k]; ok {
			out[i] = r
			continue
		}
		idx[k] = len(out)
		out = append(out, r)
	}
	return out
}

type cellKey struct {
	key fogsync.MapKey
	at  fog.Coord
}

func existingIDs(tx *gorm.DB, rows []fogsync.Row) (map[cellKey]string, error) {
	keys := make(map[fogsync.MapKey]struct{})
	for _, r := range rows {
		keys[r.Key()] = struct{}{}
	}
	out := make(map[cellKey]string)
	for k := range keys {
		var found []FogRow
		err := tx.Select("id", "grid_x", "grid_y").
			Where("session_id = ? AND map_id = ?", k.SessionID, k.MapID).
			Find(&found).Error
		if err != nil {
			return nil, err
		}
		for _, f := range found {
			out[cellKey{key: k, at: fog.Coord{X: f.GridX, Y: f.GridY}}] = f.ID
		}
	}
	return out, nil
}
