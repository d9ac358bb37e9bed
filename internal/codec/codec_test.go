package codec

import (
	"errors"
	"math"
	"testing"

	"rgbd-stream-go/internal/simulator"
	"rgbd-stream-go/internal/types"
)

func TestProjectOrigin(t *testing.T) {
	dst := make([]float32, 4)
	Project(dst, []float32{2}, 1, 1, 1, 1, types.Intrinsics{Fx: 1, Fy: 1})
	want := []float32{0, 0, -2, 0}
	for i := range want {
		if dst[i] != want[i] {
			t.Fatalf("position[%d] = %v, want %v", i, dst[i], want[i])
		}
	}
}

func TestProjectFormula(t *testing.T) {
	in := types.Intrinsics{Fx: 2, Fy: 4, Tx: 1, Ty: 1}
	depth := []float32{1, 2, 3, 4, 5, 6}
	dst := make([]float32, 6*4)
	Project(dst, depth, 3, 2, 3, 2, in)

	// pixel (i=1, j=2), linear index 5
	p := dst[5*4 : 5*4+4]
	d := float32(6)
	want := []float32{(2.0/2 - 1.0/2) * d, -(1.0/4 - 1.0/4) * d, -d, 5}
	for k := range want {
		if math.Abs(float64(p[k]-want[k])) > 1e-6 {
			t.Fatalf("component %d = %v, want %v", k, p[k], want[k])
		}
	}
}

func TestInterpolateDepthClampsEdges(t *testing.T) {
	depth := []float32{
		1, 2,
		3, 4,
	}
	if got := InterpolateDepth(depth, 0.5, 0.5, 2, 2); got != 2.5 {
		t.Fatalf("center = %v, want 2.5", got)
	}
	// Right column: the right neighbor is the same column.
	if got := InterpolateDepth(depth, 1.5, 0, 2, 2); got != 2 {
		t.Fatalf("right edge = %v, want 2", got)
	}
	// Bottom row: the lower neighbor is the same row.
	if got := InterpolateDepth(depth, 0, 1.5, 2, 2); got != 3 {
		t.Fatalf("bottom edge = %v, want 3", got)
	}
}

func TestProjectUpsamplesDepth(t *testing.T) {
	depth := []float32{2, 2, 2, 2}
	dst := make([]float32, 4*4*4)
	Project(dst, depth, 2, 2, 4, 4, types.Intrinsics{Fx: 1, Fy: 1})
	for idx := 0; idx < 16; idx++ {
		if dst[idx*4+2] != -2 {
			t.Fatalf("z at %d = %v, want -2", idx, dst[idx*4+2])
		}
		if dst[idx*4+3] != float32(idx) {
			t.Fatalf("index at %d = %v", idx, dst[idx*4+3])
		}
	}
}

func TestProjectPanicsOnShortBuffer(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	Project(make([]float32, 3), []float32{1}, 1, 1, 1, 1, types.Intrinsics{Fx: 1, Fy: 1})
}

func TestDepthDims(t *testing.T) {
	meta := types.FrameMetadata{Width: 4, Height: 2}
	if w, h, err := DepthDims(meta, 8); err != nil || w != 4 || h != 2 {
		t.Fatalf("color-sized: %d %d %v", w, h, err)
	}
	if w, h, err := DepthDims(meta, 192*256); err != nil || w != 192 || h != 256 {
		t.Fatalf("lidar: %d %d %v", w, h, err)
	}
	if _, _, err := DepthDims(meta, 7); !errors.Is(err, types.ErrCodec) {
		t.Fatalf("expected ErrCodec, got %v", err)
	}
	meta.DepthWidth, meta.DepthHeight = 2, 1
	if w, h, err := DepthDims(meta, 2); err != nil || w != 2 || h != 1 {
		t.Fatalf("declared: %d %d %v", w, h, err)
	}
	if _, _, err := DepthDims(meta, 8); !errors.Is(err, types.ErrCodec) {
		t.Fatalf("expected ErrCodec for mismatched declared dims, got %v", err)
	}
}

func TestAdapterRawDepth(t *testing.T) {
	a, err := New(DepthRaw)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	defer a.Close()

	meta := types.FrameMetadata{Width: 2, Height: 2, Intrinsics: types.Intrinsics{Fx: 1, Fy: 1}}
	src := simulator.EncodeDepth([]float32{2, 2, 2, 2})
	dst := make([]float32, 16)
	if err := a.DecodeDepth(dst, src, meta); err != nil {
		t.Fatalf("DecodeDepth error: %v", err)
	}
	if dst[2] != -2 || dst[15] != 3 {
		t.Fatalf("unexpected positions %v", dst)
	}
	if err := a.DecodeDepth(dst, []byte{1, 2, 3}, meta); !errors.Is(err, types.ErrCodec) {
		t.Fatalf("expected ErrCodec, got %v", err)
	}
}

func TestAdapterDecodeImage(t *testing.T) {
	a, err := New(DepthRaw)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	jpg, err := simulator.EncodeJPEG(simulator.ColorFrame(4, 4, 0))
	if err != nil {
		t.Fatalf("EncodeJPEG error: %v", err)
	}
	dst := make([]byte, 4*4*3)
	if err := a.DecodeImage(dst, jpg, 4, 4); err != nil {
		t.Fatalf("DecodeImage error: %v", err)
	}
	want := simulator.ColorFrame(4, 4, 0).RGBAAt(0, 0)
	if diff := int(dst[0]) - int(want.R); diff < -8 || diff > 8 {
		t.Fatalf("red = %d, want about %d", dst[0], want.R)
	}

	if err := a.DecodeImage(dst, jpg, 2, 2); !errors.Is(err, types.ErrCodec) {
		t.Fatalf("expected ErrCodec on size mismatch, got %v", err)
	}
	if err := a.DecodeImage(dst, []byte("garbage"), 4, 4); !errors.Is(err, types.ErrCodec) {
		t.Fatalf("expected ErrCodec, got %v", err)
	}

	if err := a.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second Close error: %v", err)
	}
	if err := a.DecodeImage(dst, jpg, 4, 4); !errors.Is(err, types.ErrCodec) {
		t.Fatalf("expected ErrCodec after Close, got %v", err)
	}
}

func TestKindForSuffix(t *testing.T) {
	if k, err := KindForSuffix(".depth"); err != nil || k != DepthLZFSE {
		t.Fatalf("got %v %v", k, err)
	}
	if k, err := KindForSuffix(".bytes"); err != nil || k != DepthRaw {
		t.Fatalf("got %v %v", k, err)
	}
	if _, err := KindForSuffix(".png"); err == nil {
		t.Fatalf("expected error")
	}
	a, err := New(DepthRaw)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	defer a.Close()
	if a.Kind() != DepthRaw {
		t.Fatalf("adapter kind = %v", a.Kind())
	}
}

func TestZRangeUsesPositionStride(t *testing.T) {
	in := types.Intrinsics{Fx: 1, Fy: 1}
	depth := []float32{1, 2, 3, 4}
	dst := make([]float32, 4*PositionStride)
	Project(dst, depth, 2, 2, 2, 2, in)
	lo, hi := ZRange(dst)
	if lo != -4 || hi != -1 {
		t.Fatalf("ZRange = [%v, %v], want [-4, -1]", lo, hi)
	}
	lo, hi = ZRange(nil)
	if !math.IsInf(float64(lo), 1) || !math.IsInf(float64(hi), -1) {
		t.Fatalf("empty ZRange = [%v, %v]", lo, hi)
	}
}
