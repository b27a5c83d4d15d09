// Package history persists a day's flattened per-cell rows after
// rendering, via one or more append-only sinks.
package history

import (
	"context"

	"github.com/citygrid/h3delay/internal/model"
)

// Sink is implemented by every history persistence backend. Rows are an
// unordered batch; implementations must be append-only from the caller's
// viewpoint within a single day's invocation (spec §4.6).
type Sink interface {
	Persist(ctx context.Context, rows []model.H3DailyRow) error
}
