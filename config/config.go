package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/timzifer/curtail/curtailment"
)

// Duration wraps time.Duration to support YAML unmarshalling from strings.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration strings like "5s" or "1m".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return fmt.Errorf("duration value node is nil")
	}
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("decode duration: %w", err)
	}
	if raw == "" {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = dur
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Level is a curtailment fraction parsed without binary rounding. It accepts
// plain fractions ("0.25") and percentages ("25%").
type Level struct {
	decimal.Decimal
}

var one = decimal.NewFromInt(1)

// ParseLevel parses a fraction or a percentage and checks it lies in [0, 1].
func ParseLevel(raw string) (Level, error) {
	value, err := ParseFraction(raw)
	if err != nil {
		return Level{}, err
	}
	if value.IsNegative() || value.GreaterThan(one) {
		return Level{}, fmt.Errorf("level %q: %w", raw, curtailment.ErrInvalidLevel)
	}
	return Level{Decimal: value}, nil
}

// ParseFraction reads a fraction ("0.25") or a percentage ("25%") without
// checking its range.
func ParseFraction(raw string) (decimal.Decimal, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return decimal.Decimal{}, errors.New("level must not be empty")
	}
	percent := strings.HasSuffix(text, "%")
	text = strings.TrimSpace(strings.TrimSuffix(text, "%"))
	value, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse level %q: %w", raw, err)
	}
	if percent {
		value = value.Div(decimal.NewFromInt(100))
	}
	return value, nil
}

// UnmarshalYAML accepts numeric and string scalars.
func (l *Level) UnmarshalYAML(value *yaml.Node) error {
	if value == nil || value.Kind != yaml.ScalarNode {
		return errors.New("level must be a scalar")
	}
	parsed, err := ParseLevel(value.Value)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// MarshalYAML renders the level as a plain fraction.
func (l Level) MarshalYAML() (interface{}, error) {
	return l.String(), nil
}

// Float64 returns the level as used by the store.
func (l Level) Float64() float64 {
	f, _ := l.Decimal.Float64()
	return f
}

// LokiConfig configures optional Loki integration for logging.
type LokiConfig struct {
	Enabled bool              `yaml:"enabled"`
	URL     string            `yaml:"url"`
	Labels  map[string]string `yaml:"labels"`
}

// LoggingConfig encapsulates runtime logging options.
type LoggingConfig struct {
	Level  string     `yaml:"level"`
	Format string     `yaml:"format"`
	Loki   LokiConfig `yaml:"loki"`
}

// TelemetryConfig configures metrics collection.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Provider string `yaml:"provider"`
	Listen   string `yaml:"listen"`
}

// CombineConfig selects how category levels fold into a combined level.
type CombineConfig struct {
	Strategy   string `yaml:"strategy"`
	Expression string `yaml:"expression"`
}

// SnapshotConfig configures optional timeline snapshots on disk.
type SnapshotConfig struct {
	Dir         string `yaml:"dir"`
	SaveOnClose bool   `yaml:"save_on_close"`
}

// ReloadConfig controls polling of the configuration file.
type ReloadConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Interval Duration `yaml:"interval"`
}

// Defaults names the built-in standard tables.
const (
	DefaultsNone   = "none"
	DefaultsVestas = "vestas"
)

// Config is the root configuration structure for the service.
type Config struct {
	Logging        LoggingConfig    `yaml:"logging"`
	Telemetry      TelemetryConfig  `yaml:"telemetry"`
	Defaults       string           `yaml:"defaults"`
	StandardLevels map[string]Level `yaml:"standard_levels"`
	Combine        CombineConfig    `yaml:"combine"`
	Snapshots      SnapshotConfig   `yaml:"snapshots"`
	Reload         ReloadConfig     `yaml:"reload"`
	Tenants        []string         `yaml:"tenants"`

	// Source is the absolute path the configuration was loaded from.
	Source string `yaml:"-"`
}

// Load reads, schema-checks and validates the configuration file at path.
func Load(path string) (*Config, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", abs, err)
	}
	cfg.Source = abs
	return cfg, nil
}

// Parse decodes and validates configuration data.
func Parse(data []byte) (*Config, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if err := validateSchema(raw); err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the semantic constraints the schema cannot express.
func (c *Config) Validate() error {
	if _, err := c.StandardTable(); err != nil {
		return err
	}
	if _, err := c.Combiner(); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(c.Tenants))
	for _, tenant := range c.Tenants {
		name := strings.TrimSpace(tenant)
		if name == "" {
			return errors.New("tenant name must not be empty")
		}
		if _, ok := seen[name]; ok {
			return fmt.Errorf("duplicate tenant %q", name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

// StandardTable builds the standard level table. Entries from the selected
// defaults are overridden by standard_levels; every category must end up
// with a level.
func (c *Config) StandardTable() (*curtailment.StandardTable, error) {
	levels := make(map[curtailment.Category]float64)
	switch strings.ToLower(strings.TrimSpace(c.Defaults)) {
	case "", DefaultsNone:
	case DefaultsVestas:
		for category, level := range curtailment.VestasStandardTable().Levels() {
			levels[category] = level
		}
	default:
		return nil, &curtailment.ConfigurationError{Reason: fmt.Sprintf("unknown defaults %q", c.Defaults)}
	}

	names := make([]string, 0, len(c.StandardLevels))
	for name := range c.StandardLevels {
		names = append(names, name)
	}
	sort.Strings(names)
	configured := make(map[curtailment.Category]string, len(names))
	for _, name := range names {
		category, err := curtailment.ParseCategory(name)
		if err != nil {
			return nil, &curtailment.ConfigurationError{Reason: "standard_levels", Err: err}
		}
		if previous, dup := configured[category]; dup {
			return nil, &curtailment.ConfigurationError{Reason: fmt.Sprintf("standard_levels lists %s as %q and %q", category, previous, name)}
		}
		configured[category] = name
		levels[category] = c.StandardLevels[name].Float64()
	}
	return curtailment.NewStandardTable(levels)
}

// Combiner compiles the configured combination.
func (c *Config) Combiner() (*curtailment.Combiner, error) {
	return curtailment.NewCombiner(c.Combine.Strategy, c.Combine.Expression)
}

// ReloadInterval returns the polling interval for configuration reloads.
func (c *Config) ReloadInterval() time.Duration {
	if c == nil || c.Reload.Interval.Duration <= 0 {
		return 2 * time.Second
	}
	return c.Reload.Interval.Duration
}
