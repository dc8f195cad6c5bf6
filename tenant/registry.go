package tenant

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/timzifer/curtail/curtailment"
)

// ErrUnknownTenant is returned when a tenant has no open session.
var ErrUnknownTenant = errors.New("unknown tenant")

// SnapshotStore persists timelines of closed sessions.
type SnapshotStore interface {
	Save(snap curtailment.Snapshot) error
	Load(tenant string) (curtailment.Snapshot, bool, error)
}

// Option configures the registry.
type Option func(*Registry)

// WithStoreOptions applies opts to every store the registry creates.
func WithStoreOptions(opts ...curtailment.Option) Option {
	return func(r *Registry) {
		r.storeOptions = append(r.storeOptions, opts...)
	}
}

// WithSnapshots restores sessions from and, when saveOnClose is set, saves
// them to snapshots.
func WithSnapshots(snapshots SnapshotStore, saveOnClose bool) Option {
	return func(r *Registry) {
		r.snapshots = snapshots
		r.saveOnClose = saveOnClose
	}
}

// WithLogger attaches a logger to the registry and the stores it creates.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// Registry owns one curtailment store per tenant session. Stores never share
// timelines; they only share the immutable standard table that was current
// when they were opened.
type Registry struct {
	mu     sync.RWMutex
	table  *curtailment.StandardTable
	stores map[string]*curtailment.Store

	storeOptions []curtailment.Option
	snapshots    SnapshotStore
	saveOnClose  bool
	logger       zerolog.Logger
}

// NewRegistry creates an empty registry handing table to new sessions.
func NewRegistry(table *curtailment.StandardTable, opts ...Option) (*Registry, error) {
	if table == nil {
		return nil, &curtailment.ConfigurationError{Reason: "standard level table is required"}
	}
	r := &Registry{
		table:  table,
		stores: make(map[string]*curtailment.Store),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// Open returns the store of tenant, creating the session when necessary. A
// new session is restored from the snapshot store if one is configured.
func (r *Registry) Open(tenant string) (*curtailment.Store, error) {
	tenant = strings.TrimSpace(tenant)
	if tenant == "" {
		return nil, errors.New("tenant must not be empty")
	}
	if store, ok := r.Get(tenant); ok {
		return store, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if store, ok := r.stores[tenant]; ok {
		return store, nil
	}

	opts := make([]curtailment.Option, 0, len(r.storeOptions)+2)
	opts = append(opts, curtailment.WithLogger(r.logger))
	opts = append(opts, r.storeOptions...)
	opts = append(opts, curtailment.WithTenant(tenant))
	store, err := curtailment.New(r.table, opts...)
	if err != nil {
		return nil, fmt.Errorf("open tenant %s: %w", tenant, err)
	}

	if r.snapshots != nil {
		snap, ok, err := r.snapshots.Load(tenant)
		if err != nil {
			return nil, fmt.Errorf("open tenant %s: %w", tenant, err)
		}
		if ok {
			if err := store.Restore(snap); err != nil {
				return nil, fmt.Errorf("open tenant %s: restore snapshot: %w", tenant, err)
			}
		}
	}

	r.stores[tenant] = store
	r.logger.Info().Str("tenant", tenant).Msg("tenant session opened")
	return store, nil
}

// Get returns the store of an open session.
func (r *Registry) Get(tenant string) (*curtailment.Store, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	store, ok := r.stores[tenant]
	return store, ok
}

// Save writes the current timelines of tenant to the snapshot store.
func (r *Registry) Save(tenant string) error {
	store, ok := r.Get(tenant)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTenant, tenant)
	}
	if r.snapshots == nil {
		return errors.New("no snapshot store configured")
	}
	if err := r.snapshots.Save(store.Snapshot()); err != nil {
		return fmt.Errorf("save tenant %s: %w", tenant, err)
	}
	return nil
}

// Close discards the session of tenant. Its timelines are saved first when
// the registry was configured to do so; the session is discarded even if
// saving fails.
func (r *Registry) Close(tenant string) error {
	r.mu.Lock()
	store, ok := r.stores[tenant]
	delete(r.stores, tenant)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTenant, tenant)
	}

	r.logger.Info().Str("tenant", tenant).Msg("tenant session closed")
	if r.snapshots == nil || !r.saveOnClose {
		return nil
	}
	if err := r.snapshots.Save(store.Snapshot()); err != nil {
		return fmt.Errorf("close tenant %s: %w", tenant, err)
	}
	return nil
}

// CloseAll closes every open session.
func (r *Registry) CloseAll() error {
	var errs []error
	for _, tenant := range r.Tenants() {
		if err := r.Close(tenant); err != nil && !errors.Is(err, ErrUnknownTenant) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Tenants lists the open sessions.
func (r *Registry) Tenants() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tenants := make([]string, 0, len(r.stores))
	for tenant := range r.stores {
		tenants = append(tenants, tenant)
	}
	sort.Strings(tenants)
	return tenants
}

// Table returns the standard table handed to new sessions.
func (r *Registry) Table() *curtailment.StandardTable {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.table
}

// UpdateTable replaces the standard table for sessions opened afterwards.
// Open sessions keep the table they were created with.
func (r *Registry) UpdateTable(table *curtailment.StandardTable) error {
	if table == nil {
		return &curtailment.ConfigurationError{Reason: "standard level table is required"}
	}
	r.mu.Lock()
	r.table = table
	r.mu.Unlock()
	r.logger.Info().Msg("standard level table updated for new tenant sessions")
	return nil
}
