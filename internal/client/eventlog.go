package client

import (
	"fmt"
	"image/color"
	"sync"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/vector"
)

const (
	logPanelWidth = 300
	logMaxEntries = 60
	logLineHeight = 11
)

// EventKind colours an entry's marker.
type EventKind int

const (
	EventInfo EventKind = iota
	EventFlush
	EventRemote
	EventError
)

// Event is a single line in the session log.
type Event struct {
	At      time.Time
	Kind    EventKind
	Message string
}

// EventLog is a ring buffer of session events rendered on-screen. Add may be
// called from any goroutine.
type EventLog struct {
	mu      sync.Mutex
	entries []Event
	head    int
	count   int
	now     func() time.Time
}

// NewEventLog creates an event log with a fixed capacity.
func NewEventLog() *EventLog {
	return &EventLog{
		entries: make([]Event, logMaxEntries),
		now:     time.Now,
	}
}

// Add appends an entry, overwriting the oldest when full.
func (l *EventLog) Add(kind EventKind, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[l.head] = Event{At: l.now(), Kind: kind, Message: fmt.Sprintf(format, args...)}
	l.head = (l.head + 1) % logMaxEntries
	if l.count < logMaxEntries {
		l.count++
	}
}

// Recent returns entries oldest first.
func (l *EventLog) Recent() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, l.count)
	for i := 0; i < l.count; i++ {
		out[i] = l.entries[(l.head-l.count+i+logMaxEntries)%logMaxEntries]
	}
	return out
}

// FlushHook adapts the log to engine.Options.OnFlush.
func (l *EventLog) FlushHook(rows int, err error) {
	if err != nil {
		l.Add(EventError, "flush of %d cells failed: %v", rows, err)
		return
	}
	l.Add(EventFlush, "saved %d cells", rows)
}

// RemoteHook adapts the log to engine.Options.OnRemote.
func (l *EventLog) RemoteHook(cells int) {
	l.Add(EventRemote, "merged %d remote cells", cells)
}

func kindColour(k EventKind) color.RGBA {
	switch k {
	case EventFlush:
		return color.RGBA{R: 70, G: 180, B: 90, A: 255}
	case EventRemote:
		return color.RGBA{R: 70, G: 110, B: 210, A: 255}
	case EventError:
		return color.RGBA{R: 210, G: 70, B: 70, A: 255}
	default:
		return color.RGBA{R: 150, G: 150, B: 150, A: 255}
	}
}

// Draw renders the log panel with its left edge at panelX.
func (l *EventLog) Draw(screen *ebiten.Image, panelX, panelH int) {
	vector.FillRect(screen, float32(panelX), 0, logPanelWidth, float32(panelH), color.RGBA{R: 10, G: 12, B: 16, A: 230}, false)
	vector.StrokeLine(screen, float32(panelX), 0, float32(panelX), float32(panelH), 1.0, color.RGBA{R: 50, G: 60, B: 80, A: 255}, false)

	vector.FillRect(screen, float32(panelX), 0, logPanelWidth, 16, color.RGBA{R: 20, G: 24, B: 34, A: 255}, false)
	ebitenutil.DebugPrintAt(screen, "SESSION LOG", panelX+8, 2)
	vector.StrokeLine(screen, float32(panelX), 16, float32(panelX+logPanelWidth), 16, 1.0, color.RGBA{R: 50, G: 60, B: 90, A: 200}, false)

	entries := l.Recent()
	maxVisible := (panelH - 24) / logLineHeight
	if len(entries) > maxVisible {
		entries = entries[len(entries)-maxVisible:]
	}
	const recent = 3

	y := 20
	for i, e := range entries {
		if i >= len(entries)-recent {
			vector.FillRect(screen, float32(panelX+2), float32(y), logPanelWidth-4, logLineHeight, color.RGBA{R: 30, G: 34, B: 48, A: 160}, false)
		}
		vector.FillRect(screen, float32(panelX+5), float32(y+3), 3, 5, kindColour(e.Kind), false)
		ebitenutil.DebugPrintAt(screen, e.At.Format("15:04:05")+" "+e.Message, panelX+12, y)
		y += logLineHeight
	}
}
