package publish

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/fxamacker/cbor/v2"

	"rgbd-stream-go/internal/types"
)

// RFC 8746 typed-array tags.
const (
	tagUint8     = 64
	tagFloat32LE = 85
)

const messageType = "frame"

type frameMessage struct {
	Type       string   `cbor:"type"`
	VideoID    string   `cbor:"video_id"`
	Index      int      `cbor:"index"`
	Width      int      `cbor:"width"`
	Height     int      `cbor:"height"`
	Positions  cbor.Tag `cbor:"positions"`
	Colors     cbor.Tag `cbor:"colors"`
	Background any      `cbor:"background"`
}

type wireMessage struct {
	Type       string   `cbor:"type"`
	VideoID    string   `cbor:"video_id"`
	Index      int      `cbor:"index"`
	Width      int      `cbor:"width"`
	Height     int      `cbor:"height"`
	Positions  cbor.Tag `cbor:"positions"`
	Colors     cbor.Tag `cbor:"colors"`
	Background cbor.Tag `cbor:"background"`
}

// EncodeFrame serializes a completed frame. Buffers are copied, so the result
// stays valid after the next frame is decoded.
func EncodeFrame(f types.FrameReady) ([]byte, error) {
	msg := frameMessage{
		Type:      messageType,
		VideoID:   f.VideoID,
		Index:     f.Index,
		Width:     f.Width,
		Height:    f.Height,
		Positions: cbor.Tag{Number: tagFloat32LE, Content: float32ToBytes(f.Positions)},
		Colors:    cbor.Tag{Number: tagUint8, Content: append([]byte(nil), f.Colors...)},
	}
	if f.Background != nil {
		msg.Background = cbor.Tag{Number: tagUint8, Content: append([]byte(nil), f.Background...)}
	}
	return cbor.Marshal(msg)
}

func DecodeFrame(data []byte) (types.FrameReady, error) {
	var msg wireMessage
	if err := cbor.Unmarshal(data, &msg); err != nil {
		return types.FrameReady{}, fmt.Errorf("%w: frame message: %v", types.ErrParse, err)
	}
	if msg.Type != messageType {
		return types.FrameReady{}, fmt.Errorf("%w: unexpected message type %q", types.ErrParse, msg.Type)
	}
	positions, err := typedBytes(msg.Positions, tagFloat32LE)
	if err != nil {
		return types.FrameReady{}, err
	}
	colors, err := typedBytes(msg.Colors, tagUint8)
	if err != nil {
		return types.FrameReady{}, err
	}
	f := types.FrameReady{
		VideoID:   msg.VideoID,
		Index:     msg.Index,
		Width:     msg.Width,
		Height:    msg.Height,
		Positions: bytesToFloat32(positions),
		Colors:    colors,
	}
	if msg.Background.Number != 0 {
		if f.Background, err = typedBytes(msg.Background, tagUint8); err != nil {
			return types.FrameReady{}, err
		}
	}
	return f, nil
}

func typedBytes(tag cbor.Tag, want uint64) ([]byte, error) {
	if tag.Number != want {
		return nil, fmt.Errorf("%w: expected typed array tag %d, got %d", types.ErrParse, want, tag.Number)
	}
	b, ok := tag.Content.([]byte)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported typed array content %T", types.ErrParse, tag.Content)
	}
	return b, nil
}

func float32ToBytes(values []float32) []byte {
	out := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32(data []byte) []float32 {
	out := make([]float32, len(data)/4)
	for i := 0; i < len(out); i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4 : i*4+4]))
	}
	return out
}
