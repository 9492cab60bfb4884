// Package stats computes per-sensor summaries over recent readings.
//
// Summaries combine running statistics (count, min, max, mean) with
// DDSketch-based percentiles, served by the /stats endpoint.
package stats

import (
	"math"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/xtxerr/sensorlog/config"
	"github.com/xtxerr/sensorlog/internal/registry"
	"github.com/xtxerr/sensorlog/internal/store"
)

// Summary holds the computed statistics for one sensor.
type Summary struct {
	Field string `json:"field"`
	Name  string `json:"name"`
	Unit  string `json:"unit"`

	Count int64   `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`

	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`

	Latest   float64   `json:"latest"`
	LatestAt time.Time `json:"latest_at"`
}

// accumulator maintains running statistics for a single sensor.
type accumulator struct {
	count  int64
	sum    float64
	min    float64
	max    float64
	sketch *ddsketch.DDSketch

	latest   float64
	latestAt time.Time
}

func newAccumulator() *accumulator {
	// Accuracy failure is only possible for out-of-range parameters;
	// the default is a known-good constant.
	sketch, _ := ddsketch.NewDefaultDDSketch(config.DefaultSketchAccuracy)
	return &accumulator{
		min:    math.MaxFloat64,
		max:    -math.MaxFloat64,
		sketch: sketch,
	}
}

func (a *accumulator) add(v float64, ts time.Time) {
	a.count++
	a.sum += v
	if v < a.min {
		a.min = v
	}
	if v > a.max {
		a.max = v
	}
	if a.sketch != nil {
		// Add only fails for NaN/Inf, which parsed readings cannot be.
		_ = a.sketch.Add(v)
	}
	if ts.After(a.latestAt) {
		a.latest = v
		a.latestAt = ts
	}
}

func (a *accumulator) quantile(q float64) float64 {
	if a.sketch == nil || a.count == 0 {
		return 0
	}
	v, err := a.sketch.GetValueAtQuantile(q)
	if err != nil {
		return 0
	}
	return v
}

// Summarize computes one Summary per registered sensor from the given
// readings. Sensors with no populated values in the window are omitted.
// Results are in registry order.
func Summarize(reg *registry.Registry, readings []store.Reading) []Summary {
	accs := make(map[string]*accumulator)

	for _, r := range readings {
		for field, v := range r.Values {
			acc, ok := accs[field]
			if !ok {
				acc = newAccumulator()
				accs[field] = acc
			}
			acc.add(v, r.Timestamp)
		}
	}

	summaries := make([]Summary, 0, len(accs))
	for _, s := range reg.Sensors() {
		acc, ok := accs[s.Field]
		if !ok {
			continue
		}

		summaries = append(summaries, Summary{
			Field:    s.Field,
			Name:     s.Name,
			Unit:     s.Unit,
			Count:    acc.count,
			Min:      acc.min,
			Max:      acc.max,
			Mean:     acc.sum / float64(acc.count),
			P50:      acc.quantile(0.50),
			P95:      acc.quantile(0.95),
			P99:      acc.quantile(0.99),
			Latest:   acc.latest,
			LatestAt: acc.latestAt,
		})
	}

	return summaries
}
