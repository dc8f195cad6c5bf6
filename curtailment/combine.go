package curtailment

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Combination strategies understood by NewCombiner.
const (
	CombineMax        = "max"
	CombineProduct    = "product"
	CombineExpression = "expression"
)

// Combiner folds the levels of all categories into the curtailment that
// effectively limits the unit. Expressions see one variable per category
// (named as Category.String), the list "levels" and the helpers
// strongest(list) and combine(list). compound is an alias of combine.
type Combiner struct {
	source  string
	program *vm.Program
}

// NewCombiner compiles the combination for strategy. An empty strategy
// selects CombineMax unless an expression is supplied.
func NewCombiner(strategy, expression string) (*Combiner, error) {
	strategy = strings.ToLower(strings.TrimSpace(strategy))
	expression = strings.TrimSpace(expression)
	if strategy == "" && expression != "" {
		strategy = CombineExpression
	}

	var source string
	switch strategy {
	case "", CombineMax:
		source = "strongest(levels)"
	case CombineProduct:
		source = "combine(levels)"
	case CombineExpression:
		if expression == "" {
			return nil, &ConfigurationError{Reason: "combine expression must not be empty"}
		}
		source = expression
	default:
		return nil, &ConfigurationError{Reason: fmt.Sprintf("unknown combine strategy %q", strategy)}
	}

	program, err := expr.Compile(source, expr.Env(combineEnv(nil)))
	if err != nil {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("compile combine expression %q", source), Err: err}
	}
	return &Combiner{source: source, program: program}, nil
}

// Source returns the compiled expression.
func (c *Combiner) Source() string {
	if c == nil {
		return ""
	}
	return c.source
}

// Combine evaluates the combination for the provided category levels.
// Categories absent from levels evaluate as 0.
func (c *Combiner) Combine(levels map[Category]float64) (float64, error) {
	if c == nil || c.program == nil {
		return 0, fmt.Errorf("combiner not initialised")
	}
	out, err := vm.Run(c.program, combineEnv(levels))
	if err != nil {
		return 0, fmt.Errorf("evaluate %q: %w", c.source, err)
	}
	value, ok := toFloat(out)
	if !ok {
		return 0, fmt.Errorf("evaluate %q: non-numeric result %T", c.source, out)
	}
	if !validLevel(value) {
		return 0, fmt.Errorf("evaluate %q: combined level %v outside [0, 1]: %w", c.source, value, ErrInvalidLevel)
	}
	return value, nil
}

func combineEnv(levels map[Category]float64) map[string]interface{} {
	env := make(map[string]interface{}, numCategories+4)
	list := make([]interface{}, 0, numCategories)
	for _, category := range Categories() {
		level := levels[category]
		env[category.String()] = level
		list = append(list, level)
	}
	env["levels"] = list
	env["strongest"] = strongest
	env["combine"] = compound
	env["compound"] = compound
	return env
}

// strongest returns the largest level in the list.
func strongest(levels []interface{}) float64 {
	result := 0.0
	for _, raw := range levels {
		if value, ok := toFloat(raw); ok && value > result {
			result = value
		}
	}
	return result
}

// compound treats levels as independent reductions: 1 - Π(1 - level).
func compound(levels []interface{}) float64 {
	remaining := 1.0
	for _, raw := range levels {
		if value, ok := toFloat(raw); ok {
			remaining *= 1 - value
		}
	}
	return 1 - remaining
}

func toFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
