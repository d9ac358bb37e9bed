package publish

import (
	"errors"
	"testing"

	"github.com/fxamacker/cbor/v2"

	"rgbd-stream-go/internal/types"
)

func TestFrameMessage(t *testing.T) {
	f := types.FrameReady{
		VideoID:    "v1",
		Index:      3,
		Width:      1,
		Height:     1,
		Positions:  []float32{0.5, -1, -2, 0},
		Colors:     []byte{10, 20, 30},
		Background: []byte{1, 2, 3},
	}
	data, err := EncodeFrame(f)
	if err != nil {
		t.Fatalf("EncodeFrame error: %v", err)
	}
	f.Colors[0] = 99

	got, err := DecodeFrame(data)
	if err != nil {
		t.Fatalf("DecodeFrame error: %v", err)
	}
	if got.VideoID != "v1" || got.Index != 3 || got.Width != 1 || got.Height != 1 {
		t.Fatalf("unexpected header %+v", got)
	}
	if len(got.Positions) != 4 || got.Positions[0] != 0.5 || got.Positions[2] != -2 {
		t.Fatalf("positions %v", got.Positions)
	}
	if got.Colors[0] != 10 {
		t.Fatalf("encoded message aliases the color buffer")
	}
	if len(got.Background) != 3 {
		t.Fatalf("background %v", got.Background)
	}
}

func TestFrameMessageWithoutBackground(t *testing.T) {
	data, err := EncodeFrame(types.FrameReady{Positions: []float32{1, 2, 3, 4}, Colors: []byte{1, 2, 3}})
	if err != nil {
		t.Fatalf("EncodeFrame error: %v", err)
	}
	got, err := DecodeFrame(data)
	if err != nil {
		t.Fatalf("DecodeFrame error: %v", err)
	}
	if got.Background != nil {
		t.Fatalf("unexpected background %v", got.Background)
	}
}

func TestDecodeFrameRejectsOtherMessages(t *testing.T) {
	data, err := cbor.Marshal(map[string]any{"type": "image"})
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	if _, err := DecodeFrame(data); !errors.Is(err, types.ErrParse) {
		t.Fatalf("expected ErrParse, got %v", err)
	}
}

func TestPublisherCountsSends(t *testing.T) {
	p, err := NewPublisher("inproc://rgbd-publish-test", 4)
	if err != nil {
		t.Fatalf("NewPublisher error: %v", err)
	}
	f := types.FrameReady{VideoID: "v", Width: 1, Height: 1, Positions: make([]float32, 4), Colors: make([]byte, 3)}
	if err := p.Publish(f); err != nil {
		t.Fatalf("Publish error: %v", err)
	}
	if p.Sent() != 1 || p.Dropped() != 0 {
		t.Fatalf("sent=%d dropped=%d", p.Sent(), p.Dropped())
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close error: %v", err)
	}
	if err := p.Publish(f); err == nil {
		t.Fatalf("expected error after Close")
	}
	if p.Sent() != 1 {
		t.Fatalf("sent after close = %d", p.Sent())
	}
}
