package store

import (
	"time"

	"github.com/Garsondee/Tactical-Map/internal/fogsync"
)

// FogRow is the fog_of_war table. A null is_revealed reads as hidden.
type FogRow struct {
	ID         string     `gorm:"column:id;primaryKey;size:36"`
	SessionID  string     `gorm:"column:session_id;size:64;not null;uniqueIndex:idx_fog_cell,priority:1"`
	MapID      string     `gorm:"column:map_id;size:64;not null;uniqueIndex:idx_fog_cell,priority:2"`
	GridX      int        `gorm:"column:grid_x;not null;uniqueIndex:idx_fog_cell,priority:3"`
	GridY      int        `gorm:"column:grid_y;not null;uniqueIndex:idx_fog_cell,priority:4"`
	IsRevealed *bool      `gorm:"column:is_revealed"`
	RevealedBy *string    `gorm:"column:revealed_by_user_id;size:64"`
	RevealedAt *time.Time `gorm:"column:revealed_at"`
}

func (FogRow) TableName() string {
	return fogsync.TableName
}

func (r FogRow) toRow() fogsync.Row {
	out := fogsync.Row{
		ID:        r.ID,
		SessionID: r.SessionID,
		MapID:     r.MapID,
		GridX:     r.GridX,
		GridY:     r.GridY,
	}
	if r.IsRevealed != nil {
		out.IsRevealed = *r.IsRevealed
	}
	if r.RevealedBy != nil {
		out.RevealedBy = *r.RevealedBy
	}
	if r.RevealedAt != nil {
		out.RevealedAt = *r.RevealedAt
	}
	return out
}

func fromRow(r fogsync.Row) FogRow {
	revealed := r.IsRevealed
	out := FogRow{
		ID:         r.ID,
		SessionID:  r.SessionID,
		MapID:      r.MapID,
		GridX:      r.GridX,
		GridY:      r.GridY,
		IsRevealed: &revealed,
	}
	if r.RevealedBy != "" {
		by := r.RevealedBy
		out.RevealedBy = &by
	}
	if !r.RevealedAt.IsZero() {
		at := r.RevealedAt.UTC()
		out.RevealedAt = &at
	}
	return out
}
