package playback

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"

	"rgbd-stream-go/internal/archive"
	"rgbd-stream-go/internal/codec"
	"rgbd-stream-go/internal/pipeline"
	"rgbd-stream-go/internal/types"
)

type Mode int

const (
	// ModeSync fetches and decodes each frame sequentially.
	ModeSync Mode = iota
	// ModePipelined posts fetched frames to a bounded queue drained by one
	// consumer.
	ModePipelined
	// ModeParallel decodes depth, color and background concurrently.
	ModeParallel
)

func (m Mode) String() string {
	switch m {
	case ModePipelined:
		return "pipelined"
	case ModeParallel:
		return "parallel"
	default:
		return "sync"
	}
}

func ParseMode(value string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "sync", "synchronous", "":
		return ModeSync, nil
	case "pipelined", "queue":
		return ModePipelined, nil
	case "parallel":
		return ModeParallel, nil
	default:
		return ModeSync, fmt.Errorf("unknown playback mode %q", value)
	}
}

var ErrNoVideo = errors.New("no video loaded")

type Status struct {
	VideoID       string         `json:"video_id,omitempty"`
	Title         string         `json:"title,omitempty"`
	Mode          string         `json:"mode"`
	State         string         `json:"state"`
	Direction     string         `json:"direction"`
	Current       int            `json:"current"`
	FrameCount    int            `json:"frame_count"`
	FPS           uint32         `json:"fps"`
	Width         uint32         `json:"width"`
	Height        uint32         `json:"height"`
	HasBackground bool           `json:"has_background"`
	Stats         pipeline.Stats `json:"stats"`
	QueueLen      int            `json:"queue_len"`
}

// Player owns the current video and feeds sequencer ticks into its decode
// pipeline. Opening a new video closes the previous one.
type Player struct {
	ctx       context.Context
	mode      Mode
	queueCap  int
	videoOpts []pipeline.Option
	seq       *Sequencer
	onOpen    func(Status)

	mu       sync.Mutex
	current  *loaded
	inflight sync.WaitGroup
}

// loaded is one opened video with the machinery of the player's mode.
type loaded struct {
	video    *pipeline.Video
	queue    *pipeline.FrameQueue
	parallel *pipeline.ParallelDecoder
	ctx      context.Context
	cancel   context.CancelFunc
	consumer sync.WaitGroup
}

func (l *loaded) close() error {
	l.cancel()
	if l.queue != nil {
		l.queue.Close()
	}
	l.consumer.Wait()
	return l.video.Close()
}

type PlayerOption func(*Player)

func WithQueueCapacity(n int) PlayerOption {
	return func(p *Player) { p.queueCap = n }
}

func WithVideoOptions(opts ...pipeline.Option) PlayerOption {
	return func(p *Player) { p.videoOpts = append(p.videoOpts, opts...) }
}

// WithOnOpen is called after a video was opened and its first frame requested.
func WithOnOpen(fn func(Status)) PlayerOption {
	return func(p *Player) { p.onOpen = fn }
}

// NewPlayer creates an idle player. ctx bounds every decode it starts.
func NewPlayer(ctx context.Context, mode Mode, opts ...PlayerOption) *Player {
	p := &Player{
		ctx:      ctx,
		mode:     mode,
		queueCap: pipeline.DefaultQueueCapacity,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.seq = NewSequencer(0, defaultFPS, p.onTick)
	return p
}

// Run drives playback until ctx is done.
func (p *Player) Run(ctx context.Context) {
	p.seq.Run(ctx)
}

// OpenArchive opens a capture received over the network.
func (p *Player) OpenArchive(data []byte, capture types.Capture) error {
	src, err := archive.OpenBytes(data, capture)
	if err != nil {
		return err
	}
	return p.open(src)
}

// OpenFile opens a capture from local disk.
func (p *Player) OpenFile(path string) error {
	src, err := archive.OpenFile(path, filepath.Base(path))
	if err != nil {
		return err
	}
	return p.open(src)
}

func (p *Player) open(src *archive.ZipSource) error {
	meta, err := src.Initialize()
	if err != nil {
		_ = src.Close()
		return err
	}
	kind, err := codec.KindForSuffix(src.DepthSuffix())
	if err != nil {
		_ = src.Close()
		return err
	}
	c, err := codec.New(kind)
	if err != nil {
		_ = src.Close()
		return err
	}
	v, err := pipeline.NewVideo(src, c, p.videoOpts...)
	if err != nil {
		_ = c.Close()
		_ = src.Close()
		return err
	}

	ctx, cancel := context.WithCancel(p.ctx)
	next := &loaded{video: v, ctx: ctx, cancel: cancel}
	switch p.mode {
	case ModePipelined:
		next.queue = pipeline.NewFrameQueue(p.queueCap)
		next.consumer.Add(1)
		go func() {
			defer next.consumer.Done()
			v.RunConsumer(ctx, next.queue)
		}()
	case ModeParallel:
		next.parallel = pipeline.NewParallelDecoder(v)
	}

	p.mu.Lock()
	prev := p.current
	p.current = next
	p.mu.Unlock()
	if prev != nil {
		if err := prev.close(); err != nil {
			log.Printf("playback: close previous video: %v", err)
		}
	}

	log.Printf("playback: opened %q (%s) %dx%d @%dfps, %d frames, depth=%s, background=%t, mode=%s",
		v.Title(), v.ID, meta.Width, meta.Height, meta.FPS, v.FrameCount(), c.Kind(), v.HasBackground(), p.mode)

	p.seq.Reset(v.FrameCount(), int(meta.FPS))
	if v.FrameCount() > 0 {
		_ = p.seq.Seek(0)
	}
	if p.onOpen != nil {
		p.onOpen(p.Status())
	}
	return nil
}

// onTick starts the decode for frame i and returns immediately.
func (p *Player) onTick(i int) {
	p.mu.Lock()
	cur := p.current
	if cur == nil {
		p.mu.Unlock()
		return
	}
	p.inflight.Add(1)
	p.mu.Unlock()

	var run func() error
	switch {
	case cur.queue != nil:
		run = func() error { return cur.video.ProduceFrame(cur.ctx, cur.queue, i) }
	case cur.parallel != nil:
		run = func() error { return cur.parallel.DecodeFrame(cur.ctx, i) }
	default:
		run = func() error { return cur.video.LoadFrame(cur.ctx, i) }
	}
	go func() {
		defer p.inflight.Done()
		_ = run()
	}()
}

func (p *Player) Play() error {
	if err := p.requireVideo(); err != nil {
		return err
	}
	p.seq.Play()
	return nil
}

func (p *Player) Pause() {
	p.seq.Pause()
}

func (p *Player) SetDirection(d Direction) {
	p.seq.SetDirection(d)
}

func (p *Player) Seek(i int) error {
	if err := p.requireVideo(); err != nil {
		return err
	}
	return p.seq.Seek(i)
}

func (p *Player) Step() (int, error) {
	if err := p.requireVideo(); err != nil {
		return 0, err
	}
	return p.seq.Step(), nil
}

func (p *Player) requireVideo() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return ErrNoVideo
	}
	return nil
}

func (p *Player) Status() Status {
	st := Status{
		Mode:       p.mode.String(),
		State:      p.seq.State().String(),
		Direction:  p.seq.Direction().String(),
		Current:    p.seq.Current(),
		FrameCount: p.seq.FrameCount(),
	}
	p.mu.Lock()
	cur := p.current
	p.mu.Unlock()
	if cur == nil {
		return st
	}
	v := cur.video
	meta := v.Metadata()
	st.VideoID = v.ID
	st.Title = v.Title()
	st.FPS = meta.FPS
	st.Width = meta.Width
	st.Height = meta.Height
	st.HasBackground = v.HasBackground()
	st.Stats = v.Stats()
	if cur.queue != nil {
		st.QueueLen = cur.queue.Len()
	}
	return st
}

// Close stops playback of the current video and waits for its decodes.
func (p *Player) Close() error {
	p.seq.Pause()
	p.mu.Lock()
	cur := p.current
	p.current = nil
	p.mu.Unlock()
	var err error
	if cur != nil {
		err = cur.close()
	}
	p.inflight.Wait()
	return err
}
