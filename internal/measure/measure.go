// Package measure records per-stage timings of the frame data flow (network
// fetch, image decode, depth decode) for offline analysis.
package measure

import (
	"sync"
	"time"
)

const (
	StageNetwork = "network_receive"
	StageFetch   = "archive_fetch"
	StageImage   = "image_decode"
	StageBgImage = "background_decode"
	StageDepth   = "depth_decode"
	StageFrame   = "frame_total"
)

type Measurement struct {
	Name        string `json:"name"`
	FrameNumber int    `json:"frame_number"`
	StartTime   int64  `json:"start_time_ns"`
	EndTime     int64  `json:"end_time_ns"`
	InputBytes  int64  `json:"input_bytes"`
	OutputBytes int64  `json:"output_bytes"`
}

func (m Measurement) Duration() time.Duration {
	return time.Duration(m.EndTime - m.StartTime)
}

// Collector keeps the most recent measurements (up to limit) plus running
// per-stage statistics over everything ever added. A nil Collector ignores
// all calls.
type Collector struct {
	mu    sync.Mutex
	limit int
	items []Measurement
	// next is the slot overwritten once items is full.
	next int
	agg  *Aggregator
}

func NewCollector(limit int) *Collector {
	if limit < 1 {
		limit = 1
	}
	return &Collector{limit: limit, agg: NewAggregator()}
}

func (c *Collector) Add(m Measurement) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.items) < c.limit {
		c.items = append(c.items, m)
	} else {
		c.items[c.next] = m
		c.next = (c.next + 1) % c.limit
	}
	c.agg.Add(m)
}

// Start begins timing a stage; the returned func records it.
func (c *Collector) Start(name string, frame int, inputBytes int) func(outputBytes int) {
	if c == nil {
		return func(int) {}
	}
	start := time.Now()
	return func(outputBytes int) {
		c.Add(Measurement{
			Name:        name,
			FrameNumber: frame,
			StartTime:   start.UnixNano(),
			EndTime:     time.Now().UnixNano(),
			InputBytes:  int64(inputBytes),
			OutputBytes: int64(outputBytes),
		})
	}
}

// Snapshot returns the kept measurements, oldest first.
func (c *Collector) Snapshot() []Measurement {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Measurement, 0, len(c.items))
	out = append(out, c.items[c.next:]...)
	return append(out, c.items[:c.next]...)
}

func (c *Collector) Summary() map[string]StageSummary {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.agg.Summary()
}

func (c *Collector) Reset() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = nil
	c.next = 0
	c.agg.Reset()
}
