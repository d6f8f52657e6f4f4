package fogsync

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidEvent is returned for replication payloads that fail validation.
var ErrInvalidEvent = errors.New("invalid fog event")

// wireEvent is the JSON envelope on the replication channel. Every field is
// optional on the wire so that missing data is detected instead of zero-filled.
type wireEvent struct {
	Type   string   `json:"type"`
	Table  string   `json:"table"`
	Record *wireRow `json:"record"`
}

type wireRow struct {
	ID         *string    `json:"id,omitempty"`
	SessionID  *string    `json:"session_id"`
	MapID      *string    `json:"map_id"`
	GridX      *int       `json:"grid_x"`
	GridY      *int       `json:"grid_y"`
	IsRevealed *bool      `json:"is_revealed"`
	RevealedBy *string    `json:"revealed_by_user_id,omitempty"`
	RevealedAt *time.Time `json:"revealed_at,omitempty"`
}

// DecodeEvent parses and narrows one replication payload.
// A null is_revealed is read as hidden, matching the nullable column.
func DecodeEvent(data []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	typ := EventType(w.Type)
	switch typ {
	case EventInsert, EventUpdate, EventDelete:
	default:
		return Event{}, fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, w.Type)
	}
	if w.Table != "" && w.Table != TableName {
		return Event{}, fmt.Errorf("%w: table %q", ErrInvalidEvent, w.Table)
	}
	rec := w.Record
	if rec == nil {
		return Event{}, fmt.Errorf("%w: missing record", ErrInvalidEvent)
	}
	if rec.SessionID == nil || rec.MapID == nil || *rec.SessionID == "" || *rec.MapID == "" {
		return Event{}, fmt.Errorf("%w: missing session or map", ErrInvalidEvent)
	}
	if rec.GridX == nil || rec.GridY == nil {
		return Event{}, fmt.Errorf("%w: missing grid coordinates", ErrInvalidEvent)
	}
	if *rec.GridX < 0 || *rec.GridY < 0 {
		return Event{}, fmt.Errorf("%w: negative grid coordinates (%d,%d)", ErrInvalidEvent, *rec.GridX, *rec.GridY)
	}

	row := Row{
		SessionID: *rec.SessionID,
		MapID:     *rec.MapID,
		GridX:     *rec.GridX,
		GridY:     *rec.GridY,
	}
	if rec.IsRevealed != nil {
		row.IsRevealed = *rec.IsRevealed
	}
	if rec.ID != nil {
		row.ID = *rec.ID
	}
	if rec.RevealedBy != nil {
		row.RevealedBy = *rec.RevealedBy
	}
	if rec.RevealedAt != nil {
		row.RevealedAt = *rec.RevealedAt
	}
	return Event{Type: typ, Row: row}, nil
}

// EncodeEvent renders an event in the replication channel's wire form.
func EncodeEvent(ev Event) ([]byte, error) {
	r := ev.Row
	rec := &wireRow{
		SessionID:  &r.SessionID,
		MapID:      &r.MapID,
		GridX:      &r.GridX,
		GridY:      &r.GridY,
		IsRevealed: &r.IsRevealed,
	}
	if r.ID != "" {
		rec.ID = &r.ID
	}
	if r.RevealedBy != "" {
		rec.RevealedBy = &r.RevealedBy
	}
	if !r.RevealedAt.IsZero() {
		rec.RevealedAt = &r.RevealedAt
	}
	return json.Marshal(wireEvent{Type: string(ev.Type), Table: TableName, Record: rec})
}

// EncodeBatch renders events as one JSON array frame.
func EncodeBatch(events []Event) ([]byte, error) {
	frames := make([]json.RawMessage, 0, len(events))
	for _, ev := range events {
		data, err := EncodeEvent(ev)
		if err != nil {
			return nil, err
		}
		frames = append(frames, data)
	}
	return json.Marshal(frames)
}

// DecodeBatch parses a frame holding either one event object or an array of
// them. Valid entries are returned even when others fail; the error joins
// every rejected entry.
func DecodeBatch(data []byte) ([]Event, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '[' {
		ev, err := DecodeEvent(data)
		if err != nil {
			return nil, err
		}
		return []Event{ev}, nil
	}

	var frames []json.RawMessage
	if err := json.Unmarshal(trimmed, &frames); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	out := make([]Event, 0, len(frames))
	var errs []error
	for i, f := range frames {
		ev, err := DecodeEvent(f)
		if err != nil {
			errs = append(errs, fmt.Errorf("entry %d: %w", i, err))
			continue
		}
		out = append(out, ev)
	}
	return out, errors.Join(errs...)
}
