package curtailment

import (
	"sort"
	"sync"
	"time"
)

// Entry is a custom level that applies from EffectiveFrom until the next
// entry of the same category.
type Entry struct {
	EffectiveFrom time.Time
	Level         float64
}

// timeline keeps the entries of one category sorted by EffectiveFrom with
// no two entries sharing a timestamp.
type timeline struct {
	mu      sync.RWMutex
	entries []Entry
}

// normalizeTimestamp drops the monotonic reading so ordering follows the wall
// clock, and converts to UTC so equal instants compare and serialise alike.
func normalizeTimestamp(ts time.Time) time.Time {
	return ts.Round(0).UTC()
}

// set records level at ts, replacing an entry with the same timestamp. It
// reports whether an entry was replaced and the resulting length.
func (tl *timeline) set(ts time.Time, level float64) (bool, int) {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	idx := sort.Search(len(tl.entries), func(i int) bool {
		return !tl.entries[i].EffectiveFrom.Before(ts)
	})
	if idx < len(tl.entries) && tl.entries[idx].EffectiveFrom.Equal(ts) {
		tl.entries[idx].Level = level
		return true, len(tl.entries)
	}
	tl.entries = append(tl.entries, Entry{})
	copy(tl.entries[idx+1:], tl.entries[idx:])
	tl.entries[idx] = Entry{EffectiveFrom: ts, Level: level}
	return false, len(tl.entries)
}

// at returns the level of the latest entry at or before ts.
func (tl *timeline) at(ts time.Time) (float64, bool) {
	tl.mu.RLock()
	defer tl.mu.RUnlock()

	idx := sort.Search(len(tl.entries), func(i int) bool {
		return tl.entries[i].EffectiveFrom.After(ts)
	})
	if idx == 0 {
		return 0, false
	}
	return tl.entries[idx-1].Level, true
}

func (tl *timeline) snapshot() []Entry {
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	out := make([]Entry, len(tl.entries))
	copy(out, tl.entries)
	return out
}

// replace swaps in entries that are already sorted and unique. The caller
// holds the write lock.
func (tl *timeline) replaceLocked(entries []Entry) {
	tl.entries = entries
}
