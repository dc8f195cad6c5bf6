package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/timzifer/curtail/curtailment"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `logging:
  level: debug
  format: text
telemetry:
  enabled: true
  listen: ":9102"
standard_levels:
  default: 0
  noise: "25%"
  bats: 0.15
  shadow: "0.1"
  boat_action: 5%
  technical: 0.05
  grid: 0.05
combine:
  strategy: product
snapshots:
  dir: /var/lib/curtail
  save_on_close: true
reload:
  enabled: true
  interval: 5s
tenants:
  - north-sea
  - baltic
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Source != path {
		t.Fatalf("expected source %s, got %s", path, cfg.Source)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Fatalf("unexpected logging config %+v", cfg.Logging)
	}
	if got := cfg.ReloadInterval(); got != 5*time.Second {
		t.Fatalf("expected reload interval 5s, got %v", got)
	}
	if len(cfg.Tenants) != 2 {
		t.Fatalf("expected 2 tenants, got %d", len(cfg.Tenants))
	}

	table, err := cfg.StandardTable()
	if err != nil {
		t.Fatalf("standard table: %v", err)
	}
	want := curtailment.VestasStandardTable().Levels()
	for category, level := range table.Levels() {
		if want[category] != level {
			t.Fatalf("%s: expected %v, got %v", category, want[category], level)
		}
	}

	combiner, err := cfg.Combiner()
	if err != nil {
		t.Fatalf("combiner: %v", err)
	}
	if combiner.Source() != "combine(levels)" {
		t.Fatalf("unexpected combiner %q", combiner.Source())
	}
}

func TestVestasDefaultsWithOverride(t *testing.T) {
	cfg, err := Parse([]byte(`defaults: vestas
standard_levels:
  Noise: 0.3
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	table, err := cfg.StandardTable()
	if err != nil {
		t.Fatalf("standard table: %v", err)
	}
	noise, _ := table.Level(curtailment.Noise)
	bats, _ := table.Level(curtailment.Bats)
	if noise != 0.3 || bats != 0.15 {
		t.Fatalf("unexpected levels noise=%v bats=%v", noise, bats)
	}
	if got := cfg.ReloadInterval(); got != 2*time.Second {
		t.Fatalf("expected default reload interval, got %v", got)
	}
}

func TestIncompleteStandardTableFails(t *testing.T) {
	_, err := Parse([]byte(`standard_levels:
  noise: 0.25
`))
	if err == nil {
		t.Fatalf("expected error for incomplete table")
	}
	if !errors.Is(err, curtailment.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if !strings.Contains(err.Error(), "default") {
		t.Fatalf("expected missing categories in message, got %v", err)
	}
}

func TestEmptyConfigFails(t *testing.T) {
	if _, err := Parse(nil); !errors.Is(err, curtailment.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestSchemaRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte(`defaults: vestas
standard_level:
  noise: 0.3
`))
	if !errors.Is(err, ErrSchema) {
		t.Fatalf("expected schema error, got %v", err)
	}
}

func TestSchemaRejectsOutOfRangeLevel(t *testing.T) {
	_, err := Parse([]byte(`defaults: vestas
standard_levels:
  noise: 1.5
`))
	if !errors.Is(err, ErrSchema) {
		t.Fatalf("expected schema error, got %v", err)
	}
}

func TestPercentageAboveHundredRejected(t *testing.T) {
	_, err := Parse([]byte(`defaults: vestas
standard_levels:
  noise: "150%"
`))
	if !errors.Is(err, curtailment.ErrInvalidLevel) {
		t.Fatalf("expected invalid level, got %v", err)
	}
}

func TestUnknownCategoryRejected(t *testing.T) {
	_, err := Parse([]byte(`defaults: vestas
standard_levels:
  ice: 0.5
`))
	if !errors.Is(err, curtailment.ErrUnknownCategory) {
		t.Fatalf("expected unknown category, got %v", err)
	}
}

func TestDuplicateCategorySpellingsRejected(t *testing.T) {
	_, err := Parse([]byte(`defaults: vestas
standard_levels:
  boat_action: 0.1
  BoatAction: 0.2
`))
	if !errors.Is(err, curtailment.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestInvalidCombineExpression(t *testing.T) {
	_, err := Parse([]byte(`defaults: vestas
combine:
  strategy: expression
  expression: "noise +"
`))
	if !errors.Is(err, curtailment.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestDuplicateTenantRejected(t *testing.T) {
	_, err := Parse([]byte(`defaults: vestas
tenants: [a, b, a]
`))
	if err == nil || !strings.Contains(err.Error(), "duplicate tenant") {
		t.Fatalf("expected duplicate tenant error, got %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]float64{
		"0":     0,
		"1":     1,
		"0.25":  0.25,
		"25%":   0.25,
		" 5 % ": 0.05,
		"100%":  1,
	}
	for input, want := range cases {
		level, err := ParseLevel(input)
		if err != nil {
			t.Fatalf("parse %q: %v", input, err)
		}
		if got := level.Float64(); got != want {
			t.Fatalf("parse %q: expected %v, got %v", input, want, got)
		}
	}
	for _, input := range []string{"", "abc", "-0.1", "1.01", "101%"} {
		if _, err := ParseLevel(input); err == nil {
			t.Fatalf("expected error for %q", input)
		}
	}
}

func TestParseFractionSkipsRangeCheck(t *testing.T) {
	value, err := ParseFraction("150%")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := value.InexactFloat64(); got != 1.5 {
		t.Fatalf("expected 1.5, got %v", got)
	}
	if _, err := ParseFraction("%"); err == nil {
		t.Fatalf("expected error for bare percent sign")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
