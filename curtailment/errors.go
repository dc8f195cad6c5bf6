package curtailment

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidLevel matches every level rejected for being outside [0, 1].
	ErrInvalidLevel = errors.New("invalid curtailment level")
	// ErrUnknownCategory matches lookups for categories missing from the standard table.
	ErrUnknownCategory = errors.New("unknown curtailment category")
	// ErrConfiguration matches construction-time defects such as an incomplete standard table.
	ErrConfiguration = errors.New("invalid curtailment configuration")
)

// InvalidLevelError reports a level outside the closed interval [0, 1].
type InvalidLevelError struct {
	Category Category
	Level    float64
}

func (e *InvalidLevelError) Error() string {
	return fmt.Sprintf("level %v for %s is outside [0, 1]", e.Level, e.Category)
}

// Is allows errors.Is(err, ErrInvalidLevel).
func (e *InvalidLevelError) Is(target error) bool {
	return target == ErrInvalidLevel
}

// UnknownCategoryError reports a category the standard table cannot resolve.
// It always points at a construction defect and therefore also matches
// ErrConfiguration.
type UnknownCategoryError struct {
	Category Category
}

func (e *UnknownCategoryError) Error() string {
	return fmt.Sprintf("no standard level for %s", e.Category)
}

// Is allows errors.Is(err, ErrUnknownCategory) and errors.Is(err, ErrConfiguration).
func (e *UnknownCategoryError) Is(target error) bool {
	return target == ErrUnknownCategory || target == ErrConfiguration
}

// ConfigurationError reports a store that cannot be built from its inputs.
type ConfigurationError struct {
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("curtailment configuration: %s: %v", e.Reason, e.Err)
	}
	return "curtailment configuration: " + e.Reason
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// Is allows errors.Is(err, ErrConfiguration).
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

func validLevel(level float64) bool {
	// NaN fails both comparisons.
	return level >= 0 && level <= 1
}
