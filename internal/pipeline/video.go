// Package pipeline fetches frame blobs from an archive source and decodes them
// into a video's output buffers, either synchronously, through a bounded
// queue drained by one consumer, or as concurrent per-stream tasks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"rgbd-stream-go/internal/archive"
	"rgbd-stream-go/internal/codec"
	"rgbd-stream-go/internal/dispatch"
	"rgbd-stream-go/internal/measure"
	"rgbd-stream-go/internal/types"
)

var ErrClosed = errors.New("video closed")

type Option func(*Video)

// WithFrameReady registers the single consumer notified after each completed
// frame.
func WithFrameReady(fn func(types.FrameReady)) Option {
	return func(v *Video) { v.onFrame = fn }
}

// WithDispatcher delivers frame-ready notifications on d instead of the
// decoding goroutine. A notification whose frame was overwritten before it
// ran is skipped.
func WithDispatcher(d *dispatch.Dispatcher) Option {
	return func(v *Video) { v.dispatcher = d }
}

func WithMeasurements(c *measure.Collector) Option {
	return func(v *Video) { v.measurements = c }
}

func WithLogEvery(n int) Option {
	return func(v *Video) {
		if n > 0 {
			v.logEvery = uint64(n)
		}
	}
}

type Stats struct {
	Produced      uint64 `json:"produced"`
	Decoded       uint64 `json:"decoded"`
	FetchFailures uint64 `json:"fetch_failures"`
	CodecFailures uint64 `json:"codec_failures"`
}

// Video owns one opened capture: its source, its codec handle and the output
// buffers, which are allocated once and reused for every frame.
type Video struct {
	ID string

	src        archive.Source
	bg         archive.BackgroundSource
	codec      codec.Codec
	meta       types.FrameMetadata
	frameCount int

	// bufMu is held for writing while a frame is decoded into the buffers
	// and for reading while a frame-ready notification runs.
	bufMu      sync.RWMutex
	positions  []float32
	colors     []byte
	background []byte
	seq        uint64

	onFrame      func(types.FrameReady)
	dispatcher   *dispatch.Dispatcher
	measurements *measure.Collector
	logEvery     uint64
	logCount     atomic.Uint64

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error

	produced      atomic.Uint64
	decoded       atomic.Uint64
	fetchFailures atomic.Uint64
	codecFailures atomic.Uint64
}

// NewVideo initializes src and allocates the output buffers. Metadata errors
// are returned as is; on error the caller still owns src and c.
func NewVideo(src archive.Source, c codec.Codec, opts ...Option) (*Video, error) {
	meta, err := src.Initialize()
	if err != nil {
		return nil, err
	}
	v := &Video{
		ID:         uuid.NewString(),
		src:        src,
		codec:      c,
		meta:       meta,
		frameCount: src.FrameCount(),
		logEvery:   1,
	}
	pixels := meta.Pixels()
	v.positions = make([]float32, pixels*4)
	v.colors = make([]byte, pixels*3)
	if bg, ok := archive.Background(src); ok {
		v.bg = bg
		v.background = make([]byte, pixels*3)
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

func (v *Video) Metadata() types.FrameMetadata {
	return v.meta
}

func (v *Video) FrameCount() int {
	return v.frameCount
}

func (v *Video) Title() string {
	return v.src.Title()
}

func (v *Video) HasBackground() bool {
	return v.bg != nil
}

// Buffers returns the output buffers. Read them only from a frame-ready
// notification; background is nil without a background track.
func (v *Video) Buffers() (positions []float32, colors []byte, background []byte) {
	return v.positions, v.colors, v.background
}

func (v *Video) Stats() Stats {
	return Stats{
		Produced:      v.produced.Load(),
		Decoded:       v.decoded.Load(),
		FetchFailures: v.fetchFailures.Load(),
		CodecFailures: v.codecFailures.Load(),
	}
}

// LoadFrame fetches and decodes frame i sequentially. A fetch error aborts the
// frame. A codec error leaves that buffer stale; the frame is still reported
// ready and the error is returned.
func (v *Video) LoadFrame(ctx context.Context, i int) error {
	if err := v.check(ctx); err != nil {
		return err
	}
	pair, err := v.fetch(i)
	if err != nil {
		return err
	}
	return v.decodePair(pair)
}

// Close releases the source and the codec handle. It does not interrupt an
// in-flight decode and leaves the buffers untouched. Safe to call twice.
func (v *Video) Close() error {
	v.closeOnce.Do(func() {
		v.closed.Store(true)
		v.closeErr = errors.Join(v.src.Close(), v.codec.Close())
	})
	return v.closeErr
}

func (v *Video) check(ctx context.Context) error {
	if v.closed.Load() {
		return ErrClosed
	}
	return ctx.Err()
}

func (v *Video) fetch(i int) (types.FramePair, error) {
	done := v.measurements.Start(measure.StageFetch, i, 0)
	pair := types.FramePair{Index: i}
	var err error
	if pair.Depth, err = v.src.DepthBlob(i); err != nil {
		return v.fetchFailed(i, err)
	}
	if pair.Color, err = v.src.ColorBlob(i); err != nil {
		return v.fetchFailed(i, err)
	}
	if v.bg != nil {
		if pair.Background, err = v.bg.BackgroundColorBlob(i); err != nil {
			return v.fetchFailed(i, err)
		}
	}
	done(pair.Size())
	return pair, nil
}

func (v *Video) fetchFailed(i int, err error) (types.FramePair, error) {
	v.fetchFailures.Add(1)
	v.logf("video %s: fetch frame %d: %v", v.ID, i, err)
	return types.FramePair{}, fmt.Errorf("frame %d: %w", i, err)
}

func (v *Video) decodePair(pair types.FramePair) error {
	v.bufMu.Lock()
	defer v.bufMu.Unlock()
	frameDone := v.measurements.Start(measure.StageFrame, pair.Index, pair.Size())

	errs := []error{
		v.decodeDepth(pair.Index, pair.Depth),
		v.decodeColor(pair.Index, pair.Color),
	}
	if v.background != nil && pair.Background != nil {
		errs = append(errs, v.decodeBackground(pair.Index, pair.Background))
	}
	frameDone(len(v.positions)*4 + len(v.colors) + len(v.background))
	v.frameReadyLocked(pair.Index)
	return errors.Join(errs...)
}

func (v *Video) decodeDepth(i int, src []byte) error {
	done := v.measurements.Start(measure.StageDepth, i, len(src))
	if err := v.codec.DecodeDepth(v.positions, src, v.meta); err != nil {
		return v.codecFailed(i, "depth", err)
	}
	done(len(v.positions) * 4)
	return nil
}

func (v *Video) decodeColor(i int, src []byte) error {
	done := v.measurements.Start(measure.StageImage, i, len(src))
	if err := v.codec.DecodeImage(v.colors, src, int(v.meta.Width), int(v.meta.Height)); err != nil {
		return v.codecFailed(i, "color", err)
	}
	done(len(v.colors))
	return nil
}

func (v *Video) decodeBackground(i int, src []byte) error {
	done := v.measurements.Start(measure.StageBgImage, i, len(src))
	if err := v.codec.DecodeImage(v.background, src, int(v.meta.Width), int(v.meta.Height)); err != nil {
		return v.codecFailed(i, "background", err)
	}
	done(len(v.background))
	return nil
}

func (v *Video) codecFailed(i int, stream string, err error) error {
	v.codecFailures.Add(1)
	v.logf("video %s: decode %s frame %d: %v", v.ID, stream, i, err)
	return fmt.Errorf("frame %d %s: %w", i, stream, err)
}

// frameReadyLocked must be called with bufMu held for writing.
func (v *Video) frameReadyLocked(index int) {
	v.decoded.Add(1)
	v.seq++
	if v.onFrame == nil {
		return
	}
	if v.dispatcher == nil {
		v.onFrame(v.frameReady(index))
		return
	}
	seq := v.seq
	v.dispatcher.Enqueue(func() {
		v.bufMu.RLock()
		defer v.bufMu.RUnlock()
		if v.seq != seq {
			return
		}
		v.onFrame(v.frameReady(index))
	})
}

func (v *Video) frameReady(index int) types.FrameReady {
	return types.FrameReady{
		VideoID:    v.ID,
		Index:      index,
		Width:      int(v.meta.Width),
		Height:     int(v.meta.Height),
		Positions:  v.positions,
		Colors:     v.colors,
		Background: v.background,
	}
}

func (v *Video) logf(format string, args ...any) {
	if v.logCount.Add(1)%v.logEvery == 0 {
		log.Printf(format, args...)
	}
}
