package types

import (
	"encoding/json"
	"fmt"
)

type Intrinsics struct {
	Fx float32 `json:"fx"`
	Fy float32 `json:"fy"`
	Tx float32 `json:"tx"`
	Ty float32 `json:"ty"`
}

// FrameMetadata is parsed once per video and never mutated afterwards.
// DepthWidth/DepthHeight are zero when the capture does not declare them.
type FrameMetadata struct {
	Width       uint32     `json:"width"`
	Height      uint32     `json:"height"`
	FPS         uint32     `json:"fps"`
	Intrinsics  Intrinsics `json:"intrinsics"`
	DepthWidth  uint32     `json:"depth_width,omitempty"`
	DepthHeight uint32     `json:"depth_height,omitempty"`
}

type rawMetadata struct {
	W   uint32    `json:"w"`
	H   uint32    `json:"h"`
	FPS uint32    `json:"fps"`
	K   []float32 `json:"K"`
	DW  uint32    `json:"dw"`
	DH  uint32    `json:"dh"`
}

// ParseMetadata decodes the capture "metadata" entry. K is the row-major 3x3
// camera matrix; fx, fy, tx, ty are K[0], K[4], K[6], K[7].
func ParseMetadata(data []byte) (FrameMetadata, error) {
	var raw rawMetadata
	if err := json.Unmarshal(data, &raw); err != nil {
		return FrameMetadata{}, fmt.Errorf("%w: metadata: %v", ErrParse, err)
	}
	if len(raw.K) < 8 {
		return FrameMetadata{}, fmt.Errorf("%w: metadata: K has %d coefficients, need at least 8", ErrParse, len(raw.K))
	}
	if raw.W == 0 || raw.H == 0 {
		return FrameMetadata{}, fmt.Errorf("%w: metadata: invalid resolution %dx%d", ErrParse, raw.W, raw.H)
	}
	// Back-projection divides by both focal lengths.
	if raw.K[0] == 0 || raw.K[4] == 0 {
		return FrameMetadata{}, fmt.Errorf("%w: metadata: zero focal length fx=%v fy=%v", ErrParse, raw.K[0], raw.K[4])
	}
	return FrameMetadata{
		Width:  raw.W,
		Height: raw.H,
		FPS:    raw.FPS,
		Intrinsics: Intrinsics{
			Fx: raw.K[0],
			Fy: raw.K[4],
			Tx: raw.K[6],
			Ty: raw.K[7],
		},
		DepthWidth:  raw.DW,
		DepthHeight: raw.DH,
	}, nil
}

func (m FrameMetadata) Pixels() int {
	return int(m.Width) * int(m.Height)
}
