// Package playback drives frame decoding at the capture's frame rate.
package playback

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"rgbd-stream-go/internal/types"
)

type State int

const (
	Paused State = iota
	Playing
)

func (s State) String() string {
	if s == Playing {
		return "playing"
	}
	return "paused"
}

type Direction int

const (
	Forward Direction = iota
	Backward
)

func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}

func ParseDirection(value string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "forward", "fwd", "+1":
		return Forward, nil
	case "backward", "back", "reverse", "-1":
		return Backward, nil
	default:
		return Forward, fmt.Errorf("unknown direction %q", value)
	}
}

// NextIndex steps i by one frame in dir, wrapping within [0, n).
func NextIndex(i, n int, dir Direction) int {
	if n <= 0 {
		return 0
	}
	if dir == Backward {
		return ((i-1)%n + n) % n
	}
	return (i + 1) % n
}

const (
	defaultFPS = 30
	minPeriod  = time.Millisecond
)

// Sequencer advances the current frame index once per tick while playing and
// hands each new index to the tick callback. The callback runs on the
// sequencer's goroutine and must not block.
type Sequencer struct {
	mu         sync.Mutex
	frameCount int
	period     time.Duration
	state      State
	dir        Direction
	current    int
	tick       func(int)
	wake       chan struct{}
}

func NewSequencer(frameCount, fps int, tick func(int)) *Sequencer {
	s := &Sequencer{
		tick: tick,
		wake: make(chan struct{}, 1),
	}
	s.reset(frameCount, fps)
	return s
}

func periodFor(fps int) time.Duration {
	if fps <= 0 {
		fps = defaultFPS
	}
	// Rates above 1000 fps would round down to a zero period.
	return max(time.Duration(1000/fps)*time.Millisecond, minPeriod)
}

// Reset switches to a new video: paused, forward, at frame 0.
func (s *Sequencer) Reset(frameCount, fps int) {
	s.mu.Lock()
	s.reset(frameCount, fps)
	s.mu.Unlock()
	s.signal()
}

func (s *Sequencer) reset(frameCount, fps int) {
	s.frameCount = frameCount
	s.period = periodFor(fps)
	s.state = Paused
	s.dir = Forward
	s.current = 0
}

func (s *Sequencer) Play() {
	s.setState(Playing)
}

func (s *Sequencer) Pause() {
	s.setState(Paused)
}

func (s *Sequencer) setState(st State) {
	s.mu.Lock()
	changed := s.state != st
	s.state = st
	s.mu.Unlock()
	if changed {
		s.signal()
	}
}

func (s *Sequencer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Sequencer) SetDirection(d Direction) {
	s.mu.Lock()
	s.dir = d
	s.mu.Unlock()
}

func (s *Sequencer) Direction() Direction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dir
}

func (s *Sequencer) Current() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Sequencer) FrameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frameCount
}

func (s *Sequencer) Period() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.period
}

// Seek jumps to frame i and triggers its decode.
func (s *Sequencer) Seek(i int) error {
	s.mu.Lock()
	if i < 0 || i >= s.frameCount {
		n := s.frameCount
		s.mu.Unlock()
		return fmt.Errorf("%w: seek to %d, %d frames", types.ErrOutOfRange, i, n)
	}
	s.current = i
	s.mu.Unlock()
	s.fire(i)
	return nil
}

// Step advances by one frame in the current direction, playing or not.
func (s *Sequencer) Step() int {
	s.mu.Lock()
	if s.frameCount <= 0 {
		s.mu.Unlock()
		return 0
	}
	s.current = NextIndex(s.current, s.frameCount, s.dir)
	i := s.current
	s.mu.Unlock()
	s.fire(i)
	return i
}

// Run ticks at 1000/fps ms while playing, until ctx is done. A tick never
// waits for the previous frame's decode.
func (s *Sequencer) Run(ctx context.Context) {
	var ticker *time.Ticker
	var tickC <-chan time.Time
	var period time.Duration
	stop := func() {
		if ticker != nil {
			ticker.Stop()
			ticker, tickC = nil, nil
		}
	}
	defer stop()

	for {
		s.mu.Lock()
		playing := s.state == Playing && s.frameCount > 0
		want := s.period
		s.mu.Unlock()

		switch {
		case !playing:
			stop()
		case ticker == nil:
			ticker = time.NewTicker(want)
			tickC = ticker.C
			period = want
		case period != want:
			ticker.Reset(want)
			period = want
		}

		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		case <-tickC:
			if s.State() == Playing {
				s.Step()
			}
		}
	}
}

func (s *Sequencer) fire(i int) {
	if s.tick != nil {
		s.tick(i)
	}
}

func (s *Sequencer) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
