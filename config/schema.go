package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

// ErrSchema marks configuration documents rejected by the structural schema.
var ErrSchema = errors.New("configuration does not match schema")

// schemaSource describes the accepted document shape. Definitions are closed,
// so unknown keys are rejected before any semantic validation runs.
const schemaSource = `
#Level: (number & >=0 & <=1) | =~#"^\s*[0-9]+(\.[0-9]+)?\s*%?\s*$"#

#Config: {
	logging?: {
		level?:  string
		format?: "json" | "text" | ""
		loki?: {
			enabled?: bool
			url?:     string
			labels?: [string]: string
		}
	}
	telemetry?: {
		enabled?:  bool
		provider?: string
		listen?:   string
	}
	defaults?: "vestas" | "none" | ""
	standard_levels?: [string]: #Level
	combine?: {
		strategy?:   "max" | "product" | "expression" | ""
		expression?: string
	}
	snapshots?: {
		dir?:           string
		save_on_close?: bool
	}
	reload?: {
		enabled?:  bool
		interval?: string
	}
	tenants?: [...string]
}
`

var (
	schemaOnce  sync.Once
	schemaCtx   *cue.Context
	schemaValue cue.Value
	schemaErr   error

	// cue.Context is not safe for concurrent use.
	schemaMu sync.Mutex
)

func compiledSchema() (*cue.Context, cue.Value, error) {
	schemaOnce.Do(func() {
		schemaCtx = cuecontext.New()
		root := schemaCtx.CompileString(schemaSource, cue.Filename("config.cue"))
		if err := root.Err(); err != nil {
			schemaErr = fmt.Errorf("compile config schema: %w", err)
			return
		}
		schemaValue = root.LookupPath(cue.ParsePath("#Config"))
		if err := schemaValue.Err(); err != nil {
			schemaErr = fmt.Errorf("lookup config schema: %w", err)
		}
	})
	return schemaCtx, schemaValue, schemaErr
}

// validateSchema unifies the decoded document with the schema.
func validateSchema(raw map[string]interface{}) error {
	ctx, schema, err := compiledSchema()
	if err != nil {
		return err
	}
	if raw == nil {
		raw = map[string]interface{}{}
	}
	schemaMu.Lock()
	defer schemaMu.Unlock()
	doc := ctx.Encode(raw)
	if err := doc.Err(); err != nil {
		return fmt.Errorf("%w: %s", ErrSchema, describe(err))
	}
	if err := schema.Unify(doc).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%w: %s", ErrSchema, describe(err))
	}
	return nil
}

func describe(err error) string {
	return strings.TrimSpace(cueerrors.Details(err, nil))
}
