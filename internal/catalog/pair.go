package catalog

import (
	"sort"

	"github.com/pkg/errors"
)

// Temporal baseline window, in days, known to give usable coherence for
// this workflow.
const (
	MinBaselineDays = 6
	MaxBaselineDays = 24
)

var ErrNoDistinctDates = errors.New("no two products with different acquisition dates; pairing needs two separate passes")

// SelectPair sorts candidates by acquisition start and returns the first
// adjacent pair whose date difference lies inside the baseline window. When
// none does, it falls back to the earliest two products acquired on
// different dates and logs a warning.
func SelectPair(products []Product, log Logger) (Pair, error) {
	if len(products) < MinProducts {
		return Pair{}, &NoDataError{Found: len(products)}
	}

	sorted := make([]Product, len(products))
	copy(sorted, products)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].StartTime.Before(sorted[j].StartTime)
	})

	for i := 0; i+1 < len(sorted); i++ {
		days := baselineDays(sorted[i], sorted[i+1])
		if days >= MinBaselineDays && days <= MaxBaselineDays {
			log.Infof("selected pair %s / %s with %d-day baseline", sorted[i].Granule, sorted[i+1].Granule, days)
			return Pair{Reference: sorted[i], Secondary: sorted[i+1], BaselineDays: days, Optimal: true}, nil
		}
	}

	for j := 1; j < len(sorted); j++ {
		days := baselineDays(sorted[0], sorted[j])
		if days == 0 {
			continue
		}
		log.Warnf("no pair within the %d-%d day window; using earliest pair %s / %s with %d-day baseline, results may be degraded",
			MinBaselineDays, MaxBaselineDays, sorted[0].Granule, sorted[j].Granule, days)
		return Pair{Reference: sorted[0], Secondary: sorted[j], BaselineDays: days}, nil
	}

	return Pair{}, ErrNoDistinctDates
}

func baselineDays(a, b Product) int {
	return int(b.date().Sub(a.date()).Hours() / 24)
}
