package tenant

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/timzifer/curtail/curtailment"
	"github.com/timzifer/curtail/snapshot"
)

type memorySnapshots struct {
	mu    sync.Mutex
	saved map[string]curtailment.Snapshot
	err   error
}

func (m *memorySnapshots) Save(snap curtailment.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.saved == nil {
		m.saved = make(map[string]curtailment.Snapshot)
	}
	m.saved[snap.Tenant] = snap
	return nil
}

func (m *memorySnapshots) Load(tenant string) (curtailment.Snapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.saved[tenant]
	return snap, ok, nil
}

func TestOpenReturnsSameStore(t *testing.T) {
	registry, err := NewRegistry(curtailment.VestasStandardTable())
	require.NoError(t, err)

	a, err := registry.Open("a")
	require.NoError(t, err)
	again, err := registry.Open("a")
	require.NoError(t, err)
	require.Same(t, a, again)
	require.Equal(t, "a", a.Tenant())

	_, err = registry.Open("  ")
	require.Error(t, err)
}

func TestTenantsAreIsolated(t *testing.T) {
	registry, err := NewRegistry(curtailment.VestasStandardTable())
	require.NoError(t, err)

	a, err := registry.Open("a")
	require.NoError(t, err)
	b, err := registry.Open("b")
	require.NoError(t, err)

	require.NoError(t, a.SetCustomLevel(curtailment.Noise, 0.9, time.Unix(10, 0)))
	level, err := b.GetLevel(curtailment.Noise, time.Unix(20, 0))
	require.NoError(t, err)
	require.Equal(t, 0.25, level)
	require.Equal(t, []string{"a", "b"}, registry.Tenants())
}

func TestConcurrentOpenCreatesOneStore(t *testing.T) {
	registry, err := NewRegistry(curtailment.VestasStandardTable())
	require.NoError(t, err)

	stores := make([]*curtailment.Store, 16)
	var wg sync.WaitGroup
	for i := range stores {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			store, err := registry.Open("shared")
			if err != nil {
				t.Errorf("open: %v", err)
				return
			}
			stores[i] = store
		}(i)
	}
	wg.Wait()
	for _, store := range stores {
		require.Same(t, stores[0], store)
	}
}

func TestUpdateTableAffectsNewSessionsOnly(t *testing.T) {
	registry, err := NewRegistry(curtailment.VestasStandardTable())
	require.NoError(t, err)
	before, err := registry.Open("before")
	require.NoError(t, err)

	levels := curtailment.VestasStandardTable().Levels()
	levels[curtailment.Noise] = 0.4
	table, err := curtailment.NewStandardTable(levels)
	require.NoError(t, err)
	require.NoError(t, registry.UpdateTable(table))
	require.Same(t, table, registry.Table())
	require.Error(t, registry.UpdateTable(nil))

	after, err := registry.Open("after")
	require.NoError(t, err)

	old, err := before.GetStandardLevel(curtailment.Noise)
	require.NoError(t, err)
	require.Equal(t, 0.25, old)
	updated, err := after.GetStandardLevel(curtailment.Noise)
	require.NoError(t, err)
	require.Equal(t, 0.4, updated)
}

func TestCloseSavesAndReopenRestores(t *testing.T) {
	snapshots := &memorySnapshots{}
	registry, err := NewRegistry(curtailment.VestasStandardTable(), WithSnapshots(snapshots, true))
	require.NoError(t, err)

	store, err := registry.Open("farm")
	require.NoError(t, err)
	require.NoError(t, store.SetCustomLevel(curtailment.Grid, 0.7, time.Unix(100, 0)))
	require.NoError(t, registry.Close("farm"))
	require.Empty(t, registry.Tenants())

	reopened, err := registry.Open("farm")
	require.NoError(t, err)
	require.NotSame(t, store, reopened)
	level, err := reopened.GetLevel(curtailment.Grid, time.Unix(100, 0))
	require.NoError(t, err)
	require.Equal(t, 0.7, level)
}

func TestCloseWithoutSaveOnClose(t *testing.T) {
	snapshots := &memorySnapshots{}
	registry, err := NewRegistry(curtailment.VestasStandardTable(), WithSnapshots(snapshots, false))
	require.NoError(t, err)

	_, err = registry.Open("farm")
	require.NoError(t, err)
	require.NoError(t, registry.Close("farm"))
	require.Empty(t, snapshots.saved)

	require.True(t, errors.Is(registry.Close("farm"), ErrUnknownTenant))
}

func TestSaveRequiresSnapshotStore(t *testing.T) {
	registry, err := NewRegistry(curtailment.VestasStandardTable())
	require.NoError(t, err)
	_, err = registry.Open("farm")
	require.NoError(t, err)

	require.Error(t, registry.Save("farm"))
	require.True(t, errors.Is(registry.Save("other"), ErrUnknownTenant))
}

func TestCloseAllReportsSaveErrors(t *testing.T) {
	snapshots := &memorySnapshots{err: errors.New("disk full")}
	registry, err := NewRegistry(curtailment.VestasStandardTable(), WithSnapshots(snapshots, true))
	require.NoError(t, err)
	for _, tenant := range []string{"a", "b"} {
		_, err := registry.Open(tenant)
		require.NoError(t, err)
	}

	err = registry.CloseAll()
	require.ErrorContains(t, err, "disk full")
	require.Empty(t, registry.Tenants())
}

func TestRegistryWithFileSnapshots(t *testing.T) {
	files, err := snapshot.NewFileStore(t.TempDir())
	require.NoError(t, err)
	registry, err := NewRegistry(curtailment.VestasStandardTable(), WithSnapshots(files, false))
	require.NoError(t, err)

	store, err := registry.Open("offshore")
	require.NoError(t, err)
	require.NoError(t, store.SetCustomLevel(curtailment.BoatAction, 1, time.Unix(60, 0)))
	require.NoError(t, registry.Save("offshore"))
	require.NoError(t, registry.Close("offshore"))

	reopened, err := registry.Open("offshore")
	require.NoError(t, err)
	entries, err := reopened.Entries(curtailment.BoatAction)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, 1.0, entries[0].Level)
}

func TestNewRegistryRequiresTable(t *testing.T) {
	_, err := NewRegistry(nil)
	require.True(t, errors.Is(err, curtailment.ErrConfiguration))
}
