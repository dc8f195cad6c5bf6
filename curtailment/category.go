package curtailment

import (
	"fmt"
	"strings"
)

// Category identifies the cause of a curtailment applied to a generation unit.
type Category int

const (
	// Default is the curtailment applied when no specific cause is known.
	Default Category = iota
	// Noise limits output to meet noise emission requirements.
	Noise
	// Bats protects bat populations during activity periods.
	Bats
	// Shadow limits shadow flicker on nearby buildings.
	Shadow
	// BoatAction curtails offshore units while vessels operate nearby.
	BoatAction
	// Technical covers curtailment ordered for technical reasons.
	Technical
	// Grid covers curtailment requested by the grid operator.
	Grid

	numCategories
)

var categoryNames = [numCategories]string{
	Default:    "default",
	Noise:      "noise",
	Bats:       "bats",
	Shadow:     "shadow",
	BoatAction: "boat_action",
	Technical:  "technical",
	Grid:       "grid",
}

// Categories returns all known categories in declaration order.
func Categories() []Category {
	out := make([]Category, 0, numCategories)
	for c := Category(0); c < numCategories; c++ {
		out = append(out, c)
	}
	return out
}

// Valid reports whether c is one of the declared categories.
func (c Category) Valid() bool {
	return c >= 0 && c < numCategories
}

// String returns the snake_case name used in configuration and snapshots.
func (c Category) String() string {
	if !c.Valid() {
		return fmt.Sprintf("category(%d)", int(c))
	}
	return categoryNames[c]
}

// ParseCategory resolves a category name. Matching ignores case as well as
// underscores, dashes and spaces, so "BoatAction" and "boat_action" are equal.
func ParseCategory(name string) (Category, error) {
	key := normalizeName(name)
	if key == "" {
		return 0, fmt.Errorf("category name must not be empty: %w", ErrUnknownCategory)
	}
	for c, candidate := range categoryNames {
		if normalizeName(candidate) == key {
			return Category(c), nil
		}
	}
	return 0, fmt.Errorf("category %q: %w", name, ErrUnknownCategory)
}

func normalizeName(name string) string {
	replacer := strings.NewReplacer("_", "", "-", "", " ", "")
	return strings.ToLower(replacer.Replace(strings.TrimSpace(name)))
}
