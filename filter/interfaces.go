package filter

import (
	"context"

	"github.com/s0up4200/garminconnect/garmin"
)

// Filter defines the basic interface for record filters
type Filter interface {
	// Evaluate checks if a record matches the filter criteria
	Evaluate(record garmin.Object) bool
}

// CompiledFilter represents a pre-compiled filter ready for evaluation
type CompiledFilter interface {
	Filter

	// Match is Evaluate with the evaluation error surfaced
	Match(record garmin.Object) (bool, error)

	// Expression returns the original filter expression
	Expression() string
}

// Compiler compiles filter expressions into executable filters
type Compiler interface {
	// Compile parses and compiles a filter expression
	Compile(expression string) (CompiledFilter, error)
}

// Applier filters a list of records
type Applier interface {
	Apply(ctx context.Context, filter CompiledFilter, records []garmin.Object) ([]garmin.Object, error)
}
