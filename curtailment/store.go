// Package curtailment keeps, per tenant, the curtailment level in force for
// every category of a generation unit over time. A category starts at its
// standard level; each custom level recorded at an instant replaces it from
// that instant until the next recorded instant.
package curtailment

import (
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/timzifer/curtail/telemetry"
)

// Clock supplies the wall-clock instant used for "now" reads and for writes
// without an explicit timestamp.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time {
	return f()
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// Option configures a Store during construction.
type Option func(*Store)

// WithClock overrides the system clock.
func WithClock(clock Clock) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger attaches a logger. Stores are silent by default.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithTelemetry reports writes to the provided collector.
func WithTelemetry(collector telemetry.Collector) Option {
	return func(s *Store) {
		if collector != nil {
			s.collector = collector
		}
	}
}

// WithTenant labels the store's logs and metrics.
func WithTenant(tenant string) Option {
	return func(s *Store) {
		s.tenant = tenant
	}
}

// WithCombiner sets the combination used by GetCombinedLevel.
func WithCombiner(combiner *Combiner) Option {
	return func(s *Store) {
		if combiner != nil {
			s.combiner = combiner
		}
	}
}

// Store tracks the effective curtailment level of every category for one
// tenant. It is safe for concurrent use: writes are serialised per category
// and reads never block on other categories.
type Store struct {
	tenant    string
	standard  *StandardTable
	timelines [numCategories]timeline

	clock     Clock
	logger    zerolog.Logger
	collector telemetry.Collector
	combiner  *Combiner
}

// New creates an empty store backed by the provided standard table.
func New(standard *StandardTable, opts ...Option) (*Store, error) {
	if standard == nil {
		return nil, &ConfigurationError{Reason: "standard level table is required"}
	}
	s := &Store{
		standard:  standard,
		clock:     systemClock{},
		logger:    zerolog.Nop(),
		collector: telemetry.Noop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.combiner == nil {
		combiner, err := NewCombiner(CombineMax, "")
		if err != nil {
			return nil, err
		}
		s.combiner = combiner
	}
	s.logger = s.logger.With().Str("tenant", s.tenant).Logger()
	return s, nil
}

// Tenant returns the tenant identifier the store was created for.
func (s *Store) Tenant() string {
	return s.tenant
}

// Standard returns the standard table shared by the store.
func (s *Store) Standard() *StandardTable {
	return s.standard
}

// GetStandardLevel returns the configured baseline level for c.
func (s *Store) GetStandardLevel(c Category) (float64, error) {
	return s.standard.Level(c)
}

// SetCustomLevel records level as effective for c from ts onwards. An entry
// already recorded at exactly ts is overwritten. A rejected write leaves the
// store unchanged.
func (s *Store) SetCustomLevel(c Category, level float64, ts time.Time) error {
	if _, err := s.standard.Level(c); err != nil {
		s.reject(c, level, "unknown_category", err)
		return err
	}
	if !validLevel(level) {
		err := &InvalidLevelError{Category: c, Level: level}
		s.reject(c, level, "invalid_level", err)
		return err
	}

	ts = normalizeTimestamp(ts)
	replaced, length := s.timelines[c].set(ts, level)

	s.collector.IncCustomLevelWrite(s.tenant, c.String())
	s.collector.SetTimelineLength(s.tenant, c.String(), length)
	s.logger.Debug().
		Str("category", c.String()).
		Float64("level", level).
		Time("effective_from", ts).
		Bool("replaced", replaced).
		Msg("custom curtailment level recorded")
	return nil
}

// SetCustomLevelNow records level as effective from the current instant.
func (s *Store) SetCustomLevelNow(c Category, level float64) error {
	return s.SetCustomLevel(c, level, s.clock.Now())
}

// GetLevel returns the level in force for c at ts: the latest custom entry
// at or before ts, or the standard level when no such entry exists.
func (s *Store) GetLevel(c Category, ts time.Time) (float64, error) {
	standard, err := s.standard.Level(c)
	if err != nil {
		return 0, err
	}
	if level, ok := s.timelines[c].at(normalizeTimestamp(ts)); ok {
		return level, nil
	}
	return standard, nil
}

// GetCurrentLevel returns the level in force for c at the current instant.
func (s *Store) GetCurrentLevel(c Category) (float64, error) {
	return s.GetLevel(c, s.clock.Now())
}

// GetCombinedLevel folds the levels of all categories in force at ts.
func (s *Store) GetCombinedLevel(ts time.Time) (float64, error) {
	levels := make(map[Category]float64, numCategories)
	for _, c := range Categories() {
		level, err := s.GetLevel(c, ts)
		if err != nil {
			return 0, err
		}
		levels[c] = level
	}
	return s.combiner.Combine(levels)
}

// GetCurrentCombinedLevel folds the levels of all categories in force now.
func (s *Store) GetCurrentCombinedLevel() (float64, error) {
	return s.GetCombinedLevel(s.clock.Now())
}

// Entries returns a copy of the custom levels recorded for c, ordered by
// EffectiveFrom.
func (s *Store) Entries(c Category) ([]Entry, error) {
	if _, err := s.standard.Level(c); err != nil {
		return nil, err
	}
	return s.timelines[c].snapshot(), nil
}

// Snapshot captures the timelines of every category. Each timeline is
// copied consistently; categories are copied one after another.
type Snapshot struct {
	Tenant    string
	TakenAt   time.Time
	Timelines map[Category][]Entry
}

// Snapshot returns a copy of all recorded custom levels.
func (s *Store) Snapshot() Snapshot {
	snap := Snapshot{
		Tenant:    s.tenant,
		TakenAt:   normalizeTimestamp(s.clock.Now()),
		Timelines: make(map[Category][]Entry, numCategories),
	}
	for _, c := range Categories() {
		if entries := s.timelines[c].snapshot(); len(entries) > 0 {
			snap.Timelines[c] = entries
		}
	}
	return snap
}

// Restore replaces every timeline with the content of snap. Entries are
// sorted and entries sharing a timestamp collapse to the last one listed.
// The store is left untouched when snap contains an invalid category or level.
func (s *Store) Restore(snap Snapshot) error {
	var restored [numCategories][]Entry
	for c, entries := range snap.Timelines {
		if !c.Valid() {
			return &UnknownCategoryError{Category: c}
		}
		cleaned, err := normalizeEntries(c, entries)
		if err != nil {
			return err
		}
		restored[c] = cleaned
	}

	// Locks are taken in category order so concurrent restores cannot deadlock.
	for c := range s.timelines {
		s.timelines[c].mu.Lock()
	}
	for c := range s.timelines {
		s.timelines[c].replaceLocked(restored[c])
	}
	for c := len(s.timelines) - 1; c >= 0; c-- {
		s.timelines[c].mu.Unlock()
	}

	for _, c := range Categories() {
		s.collector.SetTimelineLength(s.tenant, c.String(), len(restored[c]))
	}
	s.logger.Info().Time("taken_at", snap.TakenAt).Msg("curtailment timelines restored")
	return nil
}

func normalizeEntries(c Category, entries []Entry) ([]Entry, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	out := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		if !validLevel(entry.Level) {
			return nil, &InvalidLevelError{Category: c, Level: entry.Level}
		}
		out = append(out, Entry{EffectiveFrom: normalizeTimestamp(entry.EffectiveFrom), Level: entry.Level})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EffectiveFrom.Before(out[j].EffectiveFrom)
	})
	unique := out[:0]
	for _, entry := range out {
		if n := len(unique); n > 0 && unique[n-1].EffectiveFrom.Equal(entry.EffectiveFrom) {
			unique[n-1] = entry
			continue
		}
		unique = append(unique, entry)
	}
	return unique, nil
}

func (s *Store) reject(c Category, level float64, reason string, err error) {
	s.collector.IncRejectedWrite(s.tenant, c.String(), reason)
	s.logger.Warn().
		Err(err).
		Str("category", c.String()).
		Float64("level", level).
		Msg("custom curtailment level rejected")
}
