// Package snapshot persists curtailment timelines between process runs.
//
// Snapshots are an operator convenience: they are written on demand or when a
// tenant session closes and restored explicitly. Nothing guarantees that the
// latest writes reached disk.
package snapshot

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/timzifer/curtail/curtailment"
)

// ErrInvalidTenant is returned for tenant names that cannot be used as a file name.
var ErrInvalidTenant = errors.New("invalid tenant name")

type document struct {
	Tenant    string                     `yaml:"tenant"`
	TakenAt   instant                    `yaml:"taken_at"`
	Timelines map[string][]documentEntry `yaml:"timelines,omitempty"`
}

type documentEntry struct {
	From  instant `yaml:"from"`
	Level float64 `yaml:"level"`
}

// instant is written as RFC 3339 text when the year fits four digits and as
// unix seconds with nanoseconds ("-1234.000000005") otherwise, so every
// timestamp a store accepts survives a save and load.
type instant struct {
	time.Time
}

func (i instant) MarshalYAML() (interface{}, error) {
	ts := i.Time.UTC()
	if year := ts.Year(); year >= 0 && year <= 9999 {
		return ts.Format(time.RFC3339Nano), nil
	}
	return fmt.Sprintf("%d.%09d", ts.Unix(), ts.Nanosecond()), nil
}

func (i *instant) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return errors.New("timestamp must be a scalar")
	}
	ts, err := parseInstant(value.Value)
	if err != nil {
		return err
	}
	i.Time = ts
	return nil
}

func parseInstant(raw string) (time.Time, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.RFC3339Nano, text); err == nil {
		return ts, nil
	}
	seconds, fraction, hasFraction := strings.Cut(text, ".")
	sec, err := strconv.ParseInt(seconds, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: expected RFC 3339 or unix seconds", raw)
	}
	var nsec int64
	if hasFraction {
		if fraction == "" || len(fraction) > 9 || strings.TrimLeft(fraction, "0123456789") != "" {
			return time.Time{}, fmt.Errorf("parse timestamp %q: invalid fraction", raw)
		}
		nsec, _ = strconv.ParseInt(fraction+strings.Repeat("0", 9-len(fraction)), 10, 64)
	}
	return time.Unix(sec, nsec).UTC(), nil
}

// FileStore keeps one YAML document per tenant inside a directory.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if necessary.
func NewFileStore(dir string) (*FileStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("snapshot directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the directory holding the snapshots.
func (f *FileStore) Dir() string {
	return f.dir
}

// Save writes the snapshot of snap.Tenant, replacing any previous one. The
// document is written to a temporary file first and renamed into place.
func (f *FileStore) Save(snap curtailment.Snapshot) error {
	path, err := f.path(snap.Tenant)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(encode(snap))
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", snap.Tenant, err)
	}

	tmp, err := os.CreateTemp(f.dir, ".snapshot-*")
	if err != nil {
		return fmt.Errorf("create snapshot file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write snapshot %s: %w", snap.Tenant, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close snapshot %s: %w", snap.Tenant, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("store snapshot %s: %w", snap.Tenant, err)
	}
	return nil
}

// Load reads the snapshot of tenant. The boolean is false when none exists.
func (f *FileStore) Load(tenant string) (curtailment.Snapshot, bool, error) {
	path, err := f.path(tenant)
	if err != nil {
		return curtailment.Snapshot{}, false, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return curtailment.Snapshot{}, false, nil
	}
	if err != nil {
		return curtailment.Snapshot{}, false, fmt.Errorf("read snapshot %s: %w", tenant, err)
	}
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return curtailment.Snapshot{}, false, fmt.Errorf("decode snapshot %s: %w", tenant, err)
	}
	snap, err := decode(doc)
	if err != nil {
		return curtailment.Snapshot{}, false, fmt.Errorf("snapshot %s: %w", tenant, err)
	}
	if snap.Tenant != tenant {
		return curtailment.Snapshot{}, false, fmt.Errorf("snapshot %s belongs to tenant %q", tenant, snap.Tenant)
	}
	return snap, true, nil
}

// Tenants lists the tenants with a stored snapshot.
func (f *FileStore) Tenants() ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	tenants := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".yaml") {
			continue
		}
		tenants = append(tenants, strings.TrimSuffix(name, ".yaml"))
	}
	sort.Strings(tenants)
	return tenants, nil
}

func (f *FileStore) path(tenant string) (string, error) {
	name := strings.TrimSpace(tenant)
	if name == "" || name != tenant || strings.HasPrefix(name, ".") ||
		strings.ContainsAny(name, `/\`) || name != filepath.Base(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTenant, tenant)
	}
	return filepath.Join(f.dir, name+".yaml"), nil
}

func encode(snap curtailment.Snapshot) document {
	doc := document{
		Tenant:    snap.Tenant,
		TakenAt:   instant{snap.TakenAt},
		Timelines: make(map[string][]documentEntry, len(snap.Timelines)),
	}
	for category, entries := range snap.Timelines {
		out := make([]documentEntry, 0, len(entries))
		for _, entry := range entries {
			out = append(out, documentEntry{
				From:  instant{entry.EffectiveFrom},
				Level: entry.Level,
			})
		}
		doc.Timelines[category.String()] = out
	}
	return doc
}

func decode(doc document) (curtailment.Snapshot, error) {
	snap := curtailment.Snapshot{
		Tenant:    doc.Tenant,
		TakenAt:   doc.TakenAt.Time,
		Timelines: make(map[curtailment.Category][]curtailment.Entry, len(doc.Timelines)),
	}
	names := make([]string, 0, len(doc.Timelines))
	for name := range doc.Timelines {
		names = append(names, name)
	}
	sort.Strings(names)
	listed := make(map[curtailment.Category]string, len(names))
	for _, name := range names {
		category, err := curtailment.ParseCategory(name)
		if err != nil {
			return curtailment.Snapshot{}, err
		}
		if previous, dup := listed[category]; dup {
			return curtailment.Snapshot{}, fmt.Errorf("timelines lists %s as %q and %q", category, previous, name)
		}
		listed[category] = name

		entries := doc.Timelines[name]
		out := make([]curtailment.Entry, 0, len(entries))
		for _, entry := range entries {
			out = append(out, curtailment.Entry{EffectiveFrom: entry.From.Time, Level: entry.Level})
		}
		snap.Timelines[category] = out
	}
	return snap, nil
}
