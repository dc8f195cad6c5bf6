package curtailment

import (
	"fmt"
	"sort"
	"strings"
)

// StandardTable holds the baseline level of every category. It is immutable
// once built and may be shared between stores.
type StandardTable struct {
	levels [numCategories]float64
}

// NewStandardTable builds a table from the provided levels. Every declared
// category must be present; a missing, unknown or out-of-range entry is
// reported as a ConfigurationError.
func NewStandardTable(levels map[Category]float64) (*StandardTable, error) {
	table := &StandardTable{}
	var unknown []string
	for c, level := range levels {
		if !c.Valid() {
			unknown = append(unknown, c.String())
			continue
		}
		if !validLevel(level) {
			return nil, &ConfigurationError{
				Reason: "standard level",
				Err:    &InvalidLevelError{Category: c, Level: level},
			}
		}
		table.levels[c] = level
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, &ConfigurationError{Reason: "standard levels for undeclared categories " + strings.Join(unknown, ", ")}
	}

	var missing []string
	for _, c := range Categories() {
		if _, ok := levels[c]; !ok {
			missing = append(missing, c.String())
		}
	}
	if len(missing) > 0 {
		return nil, &ConfigurationError{Reason: "missing standard levels for " + strings.Join(missing, ", ")}
	}
	return table, nil
}

// VestasStandardTable returns the operator supplied standard levels for
// Vestas turbines.
func VestasStandardTable() *StandardTable {
	table, err := NewStandardTable(map[Category]float64{
		Default:    0.0,
		Noise:      0.25,
		Bats:       0.15,
		Shadow:     0.10,
		BoatAction: 0.05,
		Technical:  0.05,
		Grid:       0.05,
	})
	if err != nil {
		panic(fmt.Sprintf("vestas standard table: %v", err))
	}
	return table
}

// Level returns the standard level for c.
func (t *StandardTable) Level(c Category) (float64, error) {
	if t == nil || !c.Valid() {
		return 0, &UnknownCategoryError{Category: c}
	}
	return t.levels[c], nil
}

// Levels returns a copy of the table keyed by category.
func (t *StandardTable) Levels() map[Category]float64 {
	out := make(map[Category]float64, numCategories)
	if t == nil {
		return out
	}
	for _, c := range Categories() {
		out[c] = t.levels[c]
	}
	return out
}
