package measure

import "time"

type StageSummary struct {
	Count       int     `json:"count"`
	MeanMs      float64 `json:"mean_ms"`
	MinMs       float64 `json:"min_ms"`
	MaxMs       float64 `json:"max_ms"`
	InputBytes  int64   `json:"input_bytes"`
	OutputBytes int64   `json:"output_bytes"`
}

type stageTotals struct {
	count       int
	total       time.Duration
	min         time.Duration
	max         time.Duration
	inputBytes  int64
	outputBytes int64
}

// Aggregator accumulates per-stage statistics. Not safe for concurrent use.
type Aggregator struct {
	stages map[string]*stageTotals
}

func NewAggregator() *Aggregator {
	return &Aggregator{stages: make(map[string]*stageTotals)}
}

func (a *Aggregator) Add(m Measurement) {
	d := m.Duration()
	st, ok := a.stages[m.Name]
	if !ok {
		st = &stageTotals{min: d, max: d}
		a.stages[m.Name] = st
	}
	st.count++
	st.total += d
	if d < st.min {
		st.min = d
	}
	if d > st.max {
		st.max = d
	}
	st.inputBytes += m.InputBytes
	st.outputBytes += m.OutputBytes
}

func (a *Aggregator) Reset() {
	a.stages = make(map[string]*stageTotals)
}

func (a *Aggregator) Summary() map[string]StageSummary {
	out := make(map[string]StageSummary, len(a.stages))
	for name, st := range a.stages {
		out[name] = StageSummary{
			Count:       st.count,
			MeanMs:      ms(st.total) / float64(st.count),
			MinMs:       ms(st.min),
			MaxMs:       ms(st.max),
			InputBytes:  st.inputBytes,
			OutputBytes: st.outputBytes,
		}
	}
	return out
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
