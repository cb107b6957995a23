package filter

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/s0up4200/garminconnect/garmin"
)

// Evaluator applies a compiled filter to fetched records
type Evaluator struct {
	logger zerolog.Logger
}

// NewEvaluator creates an evaluator that logs per-record evaluation errors
func NewEvaluator(logger zerolog.Logger) *Evaluator {
	return &Evaluator{logger: logger}
}

// Apply returns the records the filter matches, in their original order.
// A record the filter cannot evaluate is skipped.
func (e *Evaluator) Apply(ctx context.Context, filter CompiledFilter, records []garmin.Object) ([]garmin.Object, error) {
	matches := make([]garmin.Object, 0, len(records))
	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ok, err := filter.Match(record)
		if err != nil {
			e.logger.Debug().Err(err).Msg("Skipping record")
			continue
		}
		if ok {
			matches = append(matches, record)
		}
	}
	return matches, nil
}
