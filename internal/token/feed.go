package token

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"
)

// Changes is the difference between two token snapshots.
type Changes struct {
	Added   []Token
	Updated []Token
	Removed []string
}

// Empty reports whether nothing changed.
func (c Changes) Empty() bool {
	return len(c.Added) == 0 && len(c.Updated) == 0 && len(c.Removed) == 0
}

// Diff compares two snapshots by id. Added and Updated keep next's order;
// Removed is sorted. Duplicate ids in a snapshot resolve to the last record.
func Diff(prev, next []Token) Changes {
	old := make(map[string]Token, len(prev))
	for _, t := range prev {
		old[t.ID] = t
	}
	latest := make(map[string]Token, len(next))
	for _, t := range next {
		latest[t.ID] = t
	}

	var ch Changes
	seen := make(map[string]bool, len(next))
	for _, t := range next {
		if seen[t.ID] {
			continue
		}
		seen[t.ID] = true
		cur := latest[t.ID]
		before, ok := old[t.ID]
		switch {
		case !ok:
			ch.Added = append(ch.Added, cur)
		case !before.Equal(cur):
			ch.Updated = append(ch.Updated, cur)
		}
	}
	for id := range old {
		if _, ok := latest[id]; !ok {
			ch.Removed = append(ch.Removed, id)
		}
	}
	sort.Strings(ch.Removed)
	return ch
}

// Feed supplies token snapshots. Implementations must be safe for concurrent use.
type Feed interface {
	Snapshot() []Token
}

// StaticFeed is a fixed token list.
type StaticFeed []Token

func (f StaticFeed) Snapshot() []Token {
	return append([]Token(nil), f...)
}

// FileFeed reads tokens from a JSON array on disk. Reload re-reads the file
// when its modification time changes.
type FileFeed struct {
	path string

	mu      sync.RWMutex
	tokens  []Token
	modTime time.Time
}

// NewFileFeed loads path once.
func NewFileFeed(path string) (*FileFeed, error) {
	f := &FileFeed{path: path}
	if _, err := f.Reload(); err != nil {
		return nil, err
	}
	return f, nil
}

// Reload reports whether the snapshot changed. On error the previous
// snapshot is kept.
func (f *FileFeed) Reload() (bool, error) {
	info, err := os.Stat(f.path)
	if err != nil {
		return false, fmt.Errorf("token feed: %w", err)
	}
	f.mu.RLock()
	same := !f.modTime.IsZero() && info.ModTime().Equal(f.modTime)
	f.mu.RUnlock()
	if same {
		return false, nil
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		return false, fmt.Errorf("token feed: %w", err)
	}
	var tokens []Token
	if err := json.Unmarshal(data, &tokens); err != nil {
		return false, fmt.Errorf("token feed %s: %w", f.path, err)
	}
	for i, t := range tokens {
		if t.ID == "" {
			return false, fmt.Errorf("token feed %s: token %d has no id", f.path, i)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	changed := !Diff(f.tokens, tokens).Empty()
	f.tokens = tokens
	f.modTime = info.ModTime()
	return changed, nil
}

func (f *FileFeed) Snapshot() []Token {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]Token(nil), f.tokens...)
}
