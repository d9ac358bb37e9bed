package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"rgbd-stream-go/internal/archive"
	"rgbd-stream-go/internal/codec"
	"rgbd-stream-go/internal/dispatch"
	"rgbd-stream-go/internal/simulator"
	"rgbd-stream-go/internal/types"
)

func openVideo(t *testing.T, spec simulator.Spec, opts ...Option) *Video {
	t.Helper()
	return openVideoWithCodec(t, spec, nil, opts...)
}

func openVideoWithCodec(t *testing.T, spec simulator.Spec, c codec.Codec, opts ...Option) *Video {
	t.Helper()
	data, err := simulator.BuildArchive(spec)
	if err != nil {
		t.Fatalf("BuildArchive error: %v", err)
	}
	src, err := archive.OpenBytes(data, types.Capture{Filename: spec.Title + ".zip"})
	if err != nil {
		t.Fatalf("OpenBytes error: %v", err)
	}
	if c == nil {
		adapter, err := codec.New(codec.DepthRaw)
		if err != nil {
			t.Fatalf("codec.New error: %v", err)
		}
		c = adapter
	}
	v, err := NewVideo(src, c, opts...)
	if err != nil {
		t.Fatalf("NewVideo error: %v", err)
	}
	t.Cleanup(func() { _ = v.Close() })
	return v
}

func TestLoadFrameEndToEnd(t *testing.T) {
	v := openVideo(t, simulator.Spec{Title: "e2e", Width: 2, Height: 2, FPS: 10, Frames: 1})
	if v.FrameCount() != 1 {
		t.Fatalf("expected 1 frame, got %d", v.FrameCount())
	}
	if err := v.LoadFrame(context.Background(), 0); err != nil {
		t.Fatalf("LoadFrame error: %v", err)
	}
	positions, colors, background := v.Buffers()
	if len(positions) != 16 || len(colors) != 12 {
		t.Fatalf("positions=%d colors=%d", len(positions), len(colors))
	}
	if background != nil {
		t.Fatalf("unexpected background buffer")
	}
	depth := simulator.DepthFrame(2, 2, 0)
	for idx := 0; idx < 4; idx++ {
		if positions[idx*4+2] != -depth[idx] {
			t.Fatalf("z[%d] = %v, want %v", idx, positions[idx*4+2], -depth[idx])
		}
		if positions[idx*4+3] != float32(idx) {
			t.Fatalf("w[%d] = %v", idx, positions[idx*4+3])
		}
	}
	if colors[0] == 0 && colors[1] == 0 && colors[2] == 0 {
		t.Fatalf("color buffer was not written")
	}
	if s := v.Stats(); s.Decoded != 1 {
		t.Fatalf("expected 1 decoded frame, got %+v", s)
	}
}

func TestCloseTwiceKeepsBuffers(t *testing.T) {
	v := openVideo(t, simulator.Spec{Title: "close", Width: 2, Height: 2, Frames: 1})
	if err := v.LoadFrame(context.Background(), 0); err != nil {
		t.Fatalf("LoadFrame error: %v", err)
	}
	positions, colors, _ := v.Buffers()
	wantPos := append([]float32(nil), positions...)
	wantCol := append([]byte(nil), colors...)

	if err := v.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if err := v.Close(); err != nil {
		t.Fatalf("second Close error: %v", err)
	}
	for i := range wantPos {
		if positions[i] != wantPos[i] {
			t.Fatalf("position %d changed after Close", i)
		}
	}
	for i := range wantCol {
		if colors[i] != wantCol[i] {
			t.Fatalf("color %d changed after Close", i)
		}
	}
	if err := v.LoadFrame(context.Background(), 0); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestFetchErrorsAreIsolated(t *testing.T) {
	v := openVideo(t, simulator.Spec{Title: "iso", Frames: 3, SkipColor: []int{1}})
	ctx := context.Background()
	if err := v.LoadFrame(ctx, 1); !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := v.LoadFrame(ctx, 7); !errors.Is(err, types.ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
	if err := v.LoadFrame(ctx, 2); err != nil {
		t.Fatalf("LoadFrame(2) after failures: %v", err)
	}
	s := v.Stats()
	if s.FetchFailures != 2 || s.Decoded != 1 {
		t.Fatalf("unexpected stats %+v", s)
	}
}

type failingImages struct {
	codec.Codec
}

func (failingImages) DecodeImage(_, _ []byte, _, _ int) error {
	return types.ErrCodec
}

func TestCodecFailureLeavesColorStale(t *testing.T) {
	inner, err := codec.New(codec.DepthRaw)
	if err != nil {
		t.Fatalf("codec.New error: %v", err)
	}
	ready := 0
	v := openVideoWithCodec(t, simulator.Spec{Title: "stale", Width: 2, Height: 2, Frames: 1},
		failingImages{inner}, WithFrameReady(func(types.FrameReady) { ready++ }))

	if err := v.LoadFrame(context.Background(), 0); !errors.Is(err, types.ErrCodec) {
		t.Fatalf("expected ErrCodec, got %v", err)
	}
	positions, colors, _ := v.Buffers()
	for i, c := range colors {
		if c != 0 {
			t.Fatalf("color byte %d written despite codec failure", i)
		}
	}
	if positions[2] == 0 {
		t.Fatalf("depth was not decoded")
	}
	if ready != 1 {
		t.Fatalf("expected one frame-ready, got %d", ready)
	}
	if s := v.Stats(); s.CodecFailures != 1 {
		t.Fatalf("expected 1 codec failure, got %+v", s)
	}
}

func TestFrameQueueBackpressure(t *testing.T) {
	q := NewFrameQueue(DefaultQueueCapacity)
	ctx := context.Background()
	for i := 0; i < 30; i++ {
		if err := q.Post(ctx, types.FramePair{Index: i}); err != nil {
			t.Fatalf("Post %d error: %v", i, err)
		}
	}
	if q.Len() != 30 || q.Cap() != 30 {
		t.Fatalf("len=%d cap=%d", q.Len(), q.Cap())
	}

	blocked, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := q.Post(blocked, types.FramePair{Index: 30}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("31st Post should block, got %v", err)
	}
	if q.TryPost(types.FramePair{Index: 30}) {
		t.Fatalf("TryPost accepted on full queue")
	}

	pair, ok := q.TryReceive()
	if !ok || pair.Index != 0 {
		t.Fatalf("TryReceive = %+v, %v", pair, ok)
	}
	if err := q.Post(ctx, types.FramePair{Index: 30}); err != nil {
		t.Fatalf("Post after receive error: %v", err)
	}

	q.Close()
	q.Close()
	if err := q.Post(ctx, types.FramePair{}); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
}

func TestPipelinedConsumer(t *testing.T) {
	got := make(chan int, 8)
	v := openVideo(t, simulator.Spec{Title: "pipe", Frames: 3},
		WithFrameReady(func(f types.FrameReady) { got <- f.Index }))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q := NewFrameQueue(DefaultQueueCapacity)
	stopped := make(chan struct{})
	go func() {
		v.RunConsumer(ctx, q)
		close(stopped)
	}()

	for i := 0; i < 3; i++ {
		if err := v.ProduceFrame(ctx, q, i); err != nil {
			t.Fatalf("ProduceFrame %d error: %v", i, err)
		}
	}
	if err := v.ProduceFrame(ctx, q, 3); !errors.Is(err, types.ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
	for want := 0; want < 3; want++ {
		select {
		case idx := <-got:
			if idx != want {
				t.Fatalf("frame-ready %d, want %d", idx, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout waiting for frame %d", want)
		}
	}

	q.Close()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatalf("consumer did not stop after queue close")
	}
	if s := v.Stats(); s.Produced != 3 || s.Decoded != 3 {
		t.Fatalf("unexpected stats %+v", s)
	}
}

func TestParallelDecoder(t *testing.T) {
	var last types.FrameReady
	calls := 0
	v := openVideo(t, simulator.Spec{Title: "par", Frames: 2, Background: true},
		WithFrameReady(func(f types.FrameReady) {
			last = f
			calls++
		}))
	if !v.HasBackground() {
		t.Fatalf("expected background track")
	}
	pd := NewParallelDecoder(v)
	if err := pd.DecodeFrame(context.Background(), 1); err != nil {
		t.Fatalf("DecodeFrame error: %v", err)
	}
	if calls != 1 || last.Index != 1 || last.Background == nil || last.VideoID != v.ID {
		t.Fatalf("unexpected frame-ready %+v (calls=%d)", last, calls)
	}
	if err := pd.DecodeFrame(context.Background(), 2); !errors.Is(err, types.ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("failed frame was reported ready")
	}
}

func TestFrameReadyOnDispatcher(t *testing.T) {
	d := dispatch.New(4)
	got := make(chan types.FrameReady, 1)
	v := openVideo(t, simulator.Spec{Title: "disp", Frames: 1},
		WithDispatcher(d),
		WithFrameReady(func(f types.FrameReady) { got <- f }))

	if err := v.LoadFrame(context.Background(), 0); err != nil {
		t.Fatalf("LoadFrame error: %v", err)
	}
	select {
	case <-got:
		t.Fatalf("frame-ready ran before the dispatcher")
	default:
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)
	select {
	case f := <-got:
		if f.Index != 0 || f.Width != 4 || len(f.Positions) != 4*4*4 {
			t.Fatalf("unexpected frame-ready %+v", f)
		}
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for frame-ready")
	}
}
