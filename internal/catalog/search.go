package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

const (
	// MinProducts is what pairing needs; fewer triggers the widened query.
	MinProducts = 2

	FallbackMonths = 3
	FallbackDegree = 0.5
)

type Querier interface {
	Query(ctx context.Context, q Query) ([]Product, error)
}

type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}

// NoDataError means the primary and the widened query together did not
// produce enough products to form a pair.
type NoDataError struct {
	Found int
	Area  BBox
	Start time.Time
	End   time.Time
}

func (e *NoDataError) Error() string {
	if e.Found == 1 {
		return fmt.Sprintf(
			"only one product found for area %s between %s and %s, even after widening the search; "+
				"interferometric processing needs two acquisitions of the same area, "+
				"so widen the time range to include another satellite pass",
			e.Area, e.Start.Format("2006-01-02"), e.End.Format("2006-01-02"))
	}
	return fmt.Sprintf(
		"no products found for area %s between %s and %s, even after widening the search; "+
			"either the coordinates are wrong (expected west,south,east,north) or the satellite has no coverage there, "+
			"so check the area and widen the area or time range",
		e.Area, e.Start.Format("2006-01-02"), e.End.Format("2006-01-02"))
}

type Result struct {
	Products     []Product
	UsedFallback bool
}

type Searcher struct {
	querier Querier
}

func NewSearcher(q Querier) *Searcher {
	return &Searcher{querier: q}
}

// Search runs the primary query and, when it returns fewer than two
// products, exactly one fallback query widened by three months on each side
// of the date range and half a degree on each side of the box.
func (s *Searcher) Search(ctx context.Context, area BBox, start, end time.Time, c Constraints, log Logger) (*Result, error) {
	primary := Query{Area: area, Start: start, End: end, Constraints: c}
	log.Infof("searching catalog: bbox=%s %s..%s", area, start.Format("2006-01-02"), end.Format("2006-01-02"))

	products, err := s.querier.Query(ctx, primary)
	if err != nil {
		return nil, errors.Wrap(err, "primary search")
	}
	log.Infof("primary search returned %d products", len(products))
	if len(products) >= MinProducts {
		return &Result{Products: products}, nil
	}

	widened := Query{
		Area:        area.Expand(FallbackDegree),
		Start:       start.AddDate(0, -FallbackMonths, 0),
		End:         end.AddDate(0, FallbackMonths, 0),
		Constraints: c,
	}
	log.Warnf("only %d products found, retrying once with widened search: bbox=%s %s..%s",
		len(products), widened.Area, widened.Start.Format("2006-01-02"), widened.End.Format("2006-01-02"))

	products, err = s.querier.Query(ctx, widened)
	if err != nil {
		return nil, errors.Wrap(err, "fallback search")
	}
	log.Infof("fallback search returned %d products", len(products))
	if len(products) < MinProducts {
		return nil, &NoDataError{Found: len(products), Area: widened.Area, Start: widened.Start, End: widened.End}
	}

	return &Result{Products: products, UsedFallback: true}, nil
}
