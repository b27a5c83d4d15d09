package history

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/citygrid/h3delay/internal/model"
)

// Chain tries every configured sink in order, recording a per-sink
// partial failure rather than aborting on the first error — an
// improvement on picking a single sink, still matching the sink-failure
// semantics of spec §7 (surfaced, non-fatal, after render completes).
type Chain struct {
	Sinks []Sink
}

// Persist calls Persist on every sink in Sinks and joins any failures
// into a single error naming each failing sink; a nil return means every
// configured sink succeeded (an empty Chain always succeeds).
func (c Chain) Persist(ctx context.Context, rows []model.H3DailyRow) error {
	var errs []string
	for i, s := range c.Sinks {
		if s == nil {
			continue
		}
		if err := s.Persist(ctx, rows); err != nil {
			errs = append(errs, fmt.Sprintf("sink %d: %v", i, err))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.New("history: " + strings.Join(errs, "; "))
}
