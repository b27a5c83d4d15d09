// Package provider fetches real-time traffic signal for a single H3 cell
// from an external HTTP service, for use by the enricher on cells whose
// OD-derived confidence is too low to trust alone.
package provider

import (
	"context"

	"github.com/citygrid/h3delay/internal/model"
)

// Provider fetches a (delay, confidence) sample for a cell's
// representative point. A nil sample with a nil error means "no coverage
// at this location" (spec §4.4's `none`); implementations must be safe
// to call from many goroutines concurrently.
type Provider interface {
	DelayForCell(ctx context.Context, cell string) (*model.TrafficSample, error)
}
