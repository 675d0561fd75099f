// Package bench measures similarity-search latency of one store or compares several side by side.
package bench

import (
	"context"
	"fmt"
	"math"
	"time"

	"afpbot/internal/domain"
)

// DefaultQueries are representative user questions.
var DefaultQueries = []string{
	"¿Cuándo inicia el cuarto retiro de AFP?",
	"¿Cuánto es el monto máximo que puedo retirar?",
	"¿Cómo sé cuándo me toca retirar según mi DNI?",
	"¿Qué es una UIT y cuánto vale?",
	"¿Puedo retirar en cualquier momento?",
}

// Searcher is what gets measured.
type Searcher interface {
	SimilaritySearch(ctx context.Context, query string, k int) ([]domain.SearchResult, error)
}

// Stats summarizes a set of latencies. StdDev is the sample standard deviation.
type Stats struct {
	Mean, Min, Max, StdDev time.Duration
}

// QueryStats holds the latencies of one query and its last result count.
type QueryStats struct {
	Query   string
	Results int
	Stats
}

// Report is the outcome of a run. Overall StdDev is the mean of per-query deviations.
type Report struct {
	Iterations int
	Queries    []QueryStats
	Overall    Stats
}

// Run issues every query iterations times with top-k retrieval. The first
// search error aborts the run.
func Run(ctx context.Context, s Searcher, queries []string, iterations, k int) (Report, error) {
	if iterations < 1 {
		return Report{}, fmt.Errorf("%w: iterations must be at least 1", domain.ErrInvalidInput)
	}
	if len(queries) == 0 {
		queries = DefaultQueries
	}
	report := Report{Iterations: iterations, Queries: make([]QueryStats, 0, len(queries))}
	for _, q := range queries {
		times := make([]time.Duration, 0, iterations)
		var n int
		for range iterations {
			start := time.Now()
			res, err := s.SimilaritySearch(ctx, q, k)
			if err != nil {
				return report, fmt.Errorf("query %q: %w", q, err)
			}
			times = append(times, time.Since(start))
			n = len(res)
		}
		report.Queries = append(report.Queries, QueryStats{Query: q, Results: n, Stats: Summarize(times)})
	}
	report.Overall = overall(report.Queries)
	return report, nil
}

// Summarize computes mean, min, max and sample standard deviation.
func Summarize(times []time.Duration) Stats {
	if len(times) == 0 {
		return Stats{}
	}
	st := Stats{Min: times[0], Max: times[0]}
	var sum float64
	for _, t := range times {
		sum += float64(t)
		st.Min = min(st.Min, t)
		st.Max = max(st.Max, t)
	}
	mean := sum / float64(len(times))
	st.Mean = time.Duration(mean)
	if len(times) > 1 {
		var sq float64
		for _, t := range times {
			d := float64(t) - mean
			sq += d * d
		}
		st.StdDev = time.Duration(math.Sqrt(sq / float64(len(times)-1)))
	}
	return st
}

func overall(qs []QueryStats) Stats {
	if len(qs) == 0 {
		return Stats{}
	}
	st := Stats{Min: qs[0].Min, Max: qs[0].Max}
	var mean, std time.Duration
	for _, q := range qs {
		mean += q.Mean
		std += q.StdDev
		st.Min = min(st.Min, q.Min)
		st.Max = max(st.Max, q.Max)
	}
	st.Mean = mean / time.Duration(len(qs))
	st.StdDev = std / time.Duration(len(qs))
	return st
}

// Target is one store taking part in a comparison. A non-empty Skip, or a nil
// Searcher, leaves it out of the measurements.
type Target struct {
	Name     string
	Searcher Searcher
	Skip     string
}

// StoreReport is one store's outcome in a comparison.
type StoreReport struct {
	Name    string
	Report  Report
	Skipped string
}

// Comparison holds the side-by-side outcome of CompareStores.
type Comparison struct {
	Queries []string
	Stores  []StoreReport
}

// Measured returns the stores that ran to completion.
func (c Comparison) Measured() []StoreReport {
	out := make([]StoreReport, 0, len(c.Stores))
	for _, s := range c.Stores {
		if s.Skipped == "" {
			out = append(out, s)
		}
	}
	return out
}

// CompareStores runs the same queries against every target in order. A store
// that fails mid-run is reported as skipped; the others still run.
func CompareStores(ctx context.Context, targets []Target, queries []string, iterations, k int) (Comparison, error) {
	if iterations < 1 {
		return Comparison{}, fmt.Errorf("%w: iterations must be at least 1", domain.ErrInvalidInput)
	}
	if len(queries) == 0 {
		queries = DefaultQueries
	}
	cmp := Comparison{Queries: queries, Stores: make([]StoreReport, 0, len(targets))}
	for _, t := range targets {
		sr := StoreReport{Name: t.Name, Skipped: t.Skip}
		if sr.Skipped == "" && t.Searcher == nil {
			sr.Skipped = "not configured"
		}
		if sr.Skipped == "" {
			r, err := Run(ctx, t.Searcher, queries, iterations, k)
			if err != nil {
				if ctx.Err() != nil {
					return cmp, ctx.Err()
				}
				sr.Skipped = err.Error()
			} else {
				sr.Report = r
			}
		}
		cmp.Stores = append(cmp.Stores, sr)
	}
	return cmp, nil
}
