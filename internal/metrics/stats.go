package metrics

import (
	"math"
	"sort"
	"time"
)

// LatencyStats holds interpolated percentiles in fractional milliseconds.
type LatencyStats struct {
	P50MS  float64 `json:"p50_ms"`
	P95MS  float64 `json:"p95_ms"`
	P99MS  float64 `json:"p99_ms"`
	P999MS float64 `json:"p999_ms"`
}

// OpStats aggregates samples of one operation kind.
type OpStats struct {
	Count    int64             `json:"count"`
	Outcomes map[Outcome]int64 `json:"outcomes"`
	Latency  LatencyStats      `json:"latency"`
}

// Stats is the run-end aggregation over the full drained sample set.
type Stats struct {
	Samples  int64              `json:"samples"`
	Outcomes map[Outcome]int64  `json:"outcomes"`
	PerOp    map[OpKind]OpStats `json:"per_op"`
	Latency  LatencyStats       `json:"latency"`
}

// Compute aggregates drained samples into final statistics. Samples inside
// the [excludeStart, excludeEnd] recovery window are left out of percentiles
// and counts, per the recovery-time capture contract. Zero bounds disable the
// exclusion.
func Compute(samples []Sample, excludeStart, excludeEnd time.Time) Stats {
	exclude := !excludeStart.IsZero() && !excludeEnd.IsZero()
	stats := Stats{
		Outcomes: make(map[Outcome]int64),
		PerOp:    make(map[OpKind]OpStats),
	}
	perOpLat := make(map[OpKind][]float64)
	var all []float64

	for _, s := range samples {
		if exclude && !s.Time.Before(excludeStart) && !s.Time.After(excludeEnd) {
			continue
		}
		stats.Samples++
		stats.Outcomes[s.Outcome]++
		op := stats.PerOp[s.Op]
		if op.Outcomes == nil {
			op.Outcomes = make(map[Outcome]int64)
		}
		op.Count++
		op.Outcomes[s.Outcome]++
		stats.PerOp[s.Op] = op
		perOpLat[s.Op] = append(perOpLat[s.Op], s.LatencyMS)
		all = append(all, s.LatencyMS)
	}

	stats.Latency = latencyStats(all)
	for op, lat := range perOpLat {
		o := stats.PerOp[op]
		o.Latency = latencyStats(lat)
		stats.PerOp[op] = o
	}
	return stats
}

func latencyStats(values []float64) LatencyStats {
	if len(values) == 0 {
		return LatencyStats{}
	}
	sort.Float64s(values)
	return LatencyStats{
		P50MS:  Percentile(values, 0.50),
		P95MS:  Percentile(values, 0.95),
		P99MS:  Percentile(values, 0.99),
		P999MS: Percentile(values, 0.999),
	}
}

// Percentile computes the p-quantile of a sorted slice by linear
// interpolation between ranks floor(p*(n-1)) and the next index, consistent
// regardless of n.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}
	rank := p * float64(n-1)
	lo := int(math.Floor(rank))
	if lo >= n-1 {
		return sorted[n-1]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}
