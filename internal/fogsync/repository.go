// Package fogsync makes local fog edits durable and replicates them between
// participants of a session. Local edits are buffered and flushed in batches
// through a Repository; remote edits arrive as row events on a subscription.
package fogsync

import (
	"context"
	"time"

	"github.com/Garsondee/Tactical-Map/internal/fog"
)

// RevealThreshold is the persisted boolean cut: a cell is stored as revealed
// when its intensity is strictly above this value. Partial reveal is not kept.
const RevealThreshold = 127

// TableName is the persisted fog table and the replication channel's table tag.
const TableName = "fog_of_war"

// MapKey identifies one fog grid: a map within a session.
type MapKey struct {
	SessionID string
	MapID     string
}

// Valid reports whether both halves of the key are set.
func (k MapKey) Valid() bool {
	return k.SessionID != "" && k.MapID != ""
}

// Topic returns the replication channel name for the key.
func (k MapKey) Topic() string {
	return "fog:" + k.SessionID + ":" + k.MapID
}

// Row is one persisted fog cell. (SessionID, MapID, GridX, GridY) is unique.
type Row struct {
	ID         string    `json:"id,omitempty"`
	SessionID  string    `json:"session_id"`
	MapID      string    `json:"map_id"`
	GridX      int       `json:"grid_x"`
	GridY      int       `json:"grid_y"`
	IsRevealed bool      `json:"is_revealed"`
	RevealedBy string    `json:"revealed_by_user_id,omitempty"`
	RevealedAt time.Time `json:"revealed_at,omitempty"`
}

// Key returns the row's map key.
func (r Row) Key() MapKey {
	return MapKey{SessionID: r.SessionID, MapID: r.MapID}
}

// Cell projects the row back into a fog cell: revealed rows become 255, others 0.
func (r Row) Cell() fog.Cell {
	v := fog.Hidden
	if r.IsRevealed {
		v = fog.Revealed
	}
	return fog.Cell{X: r.GridX, Y: r.GridY, Revealed: v}
}

// RowFromCell collapses a fog cell into its persisted form.
func RowFromCell(key MapKey, c fog.Cell, revealedBy string, at time.Time) Row {
	return Row{
		SessionID:  key.SessionID,
		MapID:      key.MapID,
		GridX:      c.X,
		GridY:      c.Y,
		IsRevealed: c.Revealed > RevealThreshold,
		RevealedBy: revealedBy,
		RevealedAt: at,
	}
}

// EventType is the kind of row change carried on the replication channel.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// Event is a validated row change.
type Event struct {
	Type EventType
	Row  Row
}

// Subscription is a live replication feed. Close is idempotent.
type Subscription interface {
	Close() error
}

// Repository is the persistent store plus its replication channel.
type Repository interface {
	// LoadAll returns every persisted cell of the map.
	LoadAll(ctx context.Context, key MapKey) ([]Row, error)
	// UpsertBatch writes rows keyed by (session, map, x, y) in one operation.
	UpsertBatch(ctx context.Context, rows []Row) error
	// Subscribe delivers every insert/update event for key to fn until the
	// subscription is closed or ctx ends. fn runs on a repository goroutine.
	Subscribe(ctx context.Context, key MapKey, fn func(Event)) (Subscription, error)
}
