package snapshot

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/timzifer/curtail/curtailment"
)

func TestSaveAndLoadRestoresStore(t *testing.T) {
	files, err := NewFileStore(filepath.Join(t.TempDir(), "snapshots"))
	require.NoError(t, err)

	clock := curtailment.ClockFunc(func() time.Time { return time.Unix(9000, 123) })
	source, err := curtailment.New(curtailment.VestasStandardTable(),
		curtailment.WithTenant("north-sea"), curtailment.WithClock(clock))
	require.NoError(t, err)
	require.NoError(t, source.SetCustomLevel(curtailment.Noise, 0.6, time.Unix(100, 0)))
	require.NoError(t, source.SetCustomLevel(curtailment.Noise, 0.0, time.Unix(150, 5)))
	require.NoError(t, source.SetCustomLevel(curtailment.BoatAction, 0.35, time.Unix(120, 0)))

	require.NoError(t, files.Save(source.Snapshot()))

	snap, ok, err := files.Load("north-sea")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "north-sea", snap.Tenant)
	require.True(t, snap.TakenAt.Equal(time.Unix(9000, 123)))

	target, err := curtailment.New(curtailment.VestasStandardTable())
	require.NoError(t, err)
	require.NoError(t, target.Restore(snap))

	for _, category := range curtailment.Categories() {
		want, err := source.Entries(category)
		require.NoError(t, err)
		got, err := target.Entries(category)
		require.NoError(t, err)
		require.Equal(t, want, got, category.String())
	}

	tenants, err := files.Tenants()
	require.NoError(t, err)
	require.Equal(t, []string{"north-sea"}, tenants)
}

func TestSaveAndLoadTimestampsOutsideFourDigitYears(t *testing.T) {
	files, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	future := time.Date(12000, time.January, 1, 0, 0, 0, 0, time.UTC)
	ancient := time.Date(-300, time.March, 15, 6, 30, 0, 5, time.UTC)
	preEpoch := time.Unix(-1, 250)
	source, err := curtailment.New(curtailment.VestasStandardTable(), curtailment.WithTenant("a"),
		curtailment.WithClock(curtailment.ClockFunc(func() time.Time { return future })))
	require.NoError(t, err)
	require.NoError(t, source.SetCustomLevel(curtailment.Noise, 0.4, future))
	require.NoError(t, source.SetCustomLevel(curtailment.Noise, 0.3, ancient))
	require.NoError(t, source.SetCustomLevel(curtailment.Noise, 0.2, preEpoch))
	require.NoError(t, files.Save(source.Snapshot()))

	snap, ok, err := files.Load("a")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, snap.TakenAt.Equal(future))

	want, err := source.Entries(curtailment.Noise)
	require.NoError(t, err)
	got := snap.Timelines[curtailment.Noise]
	require.Len(t, got, len(want))
	for i := range want {
		require.True(t, want[i].EffectiveFrom.Equal(got[i].EffectiveFrom), "entry %d: %s != %s", i, want[i].EffectiveFrom, got[i].EffectiveFrom)
		require.Equal(t, want[i].Level, got[i].Level)
	}
}

func TestLoadRejectsDuplicateCategorySpellings(t *testing.T) {
	dir := t.TempDir()
	files, err := NewFileStore(dir)
	require.NoError(t, err)

	content := "tenant: a\ntimelines:\n  boat_action:\n    - from: 1970-01-01T00:00:10Z\n      level: 0.5\n" +
		"  BoatAction:\n    - from: 1970-01-01T00:00:10Z\n      level: 0.9\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(content), 0o600))

	_, ok, err := files.Load("a")
	require.False(t, ok)
	require.ErrorContains(t, err, `"BoatAction" and "boat_action"`)
}

func TestParseInstant(t *testing.T) {
	ts, err := parseInstant("-62135596801.5")
	require.NoError(t, err)
	require.True(t, ts.Equal(time.Unix(-62135596801, 500000000)))

	ts, err = parseInstant("2024-06-01T12:00:00+02:00")
	require.NoError(t, err)
	require.Equal(t, 10, ts.UTC().Hour())

	for _, raw := range []string{"soon", "12.", "12.x", "12.0000000001"} {
		_, err := parseInstant(raw)
		require.Error(t, err, raw)
	}
}

func TestLoadMissingSnapshot(t *testing.T) {
	files, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, ok, err := files.Load("nobody")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestInvalidTenantNames(t *testing.T) {
	files, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	for _, tenant := range []string{"", " padded", "../escape", "a/b", ".hidden", `c:\x`} {
		_, _, err := files.Load(tenant)
		require.True(t, errors.Is(err, ErrInvalidTenant), tenant)
		err = files.Save(curtailment.Snapshot{Tenant: tenant})
		require.True(t, errors.Is(err, ErrInvalidTenant), tenant)
	}
}

func TestLoadRejectsCorruptDocuments(t *testing.T) {
	dir := t.TempDir()
	files, err := NewFileStore(dir)
	require.NoError(t, err)

	cases := map[string]string{
		"category": "tenant: a\ntimelines:\n  ice:\n    - from: 2024-01-01T00:00:00Z\n      level: 0.5\n",
		"time":     "tenant: a\ntimelines:\n  noise:\n    - from: yesterday\n      level: 0.5\n",
		"yaml":     "tenant: [a\n",
		"tenant":   "tenant: b\n",
	}
	for name, content := range cases {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(content), 0o600))
		_, _, err := files.Load("a")
		require.Error(t, err, name)
	}
}

func TestSaveLeavesNoTemporaryFiles(t *testing.T) {
	dir := t.TempDir()
	files, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, files.Save(curtailment.Snapshot{Tenant: "a"}))
	require.NoError(t, files.Save(curtailment.Snapshot{Tenant: "a"}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "a.yaml", entries[0].Name())
}

func TestNewFileStoreRequiresDir(t *testing.T) {
	_, err := NewFileStore(" ")
	require.Error(t, err)
}
