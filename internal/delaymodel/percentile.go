package delaymodel

import (
	"math"
	"sort"
)

// percentile returns the p-th percentile (0 < p < 1) of vals using the
// nearest-rank method: sort ascending, then take the element at index
// ceil(p*n)-1, clamped into [0, n-1]. Grounded on the same sort-then-index
// idiom job-budgeting's cost aggregator uses for its P95JobCost.
//
// vals is sorted in place.
func percentile(vals []float64, p float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sort.Float64s(vals)
	n := len(vals)
	idx := int(math.Ceil(p*float64(n))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	return vals[idx]
}
