package codec

import (
	"encoding/binary"
	"fmt"
	"math"

	"rgbd-stream-go/internal/types"
)

// LiDAR depth maps are 192x256 regardless of the color resolution.
const (
	lidarDepthWidth  = 192
	lidarDepthHeight = 256
)

func rawDepth(data []byte) ([]float32, error) {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil, fmt.Errorf("%w: depth payload of %d bytes is not a float32 array", types.ErrCodec, len(data))
	}
	return bytesToFloat32(data), nil
}

func bytesToFloat32(data []byte) []float32 {
	out := make([]float32, len(data)/4)
	for i := 0; i < len(out); i++ {
		bits := binary.LittleEndian.Uint32(data[i*4 : i*4+4])
		out[i] = math.Float32frombits(bits)
	}
	return out
}

// DepthDims resolves the depth map resolution for a frame of the given sample
// count: declared dw/dh first, then the color resolution, then the LiDAR size.
func DepthDims(meta types.FrameMetadata, samples int) (int, int, error) {
	if meta.DepthWidth > 0 && meta.DepthHeight > 0 {
		dw, dh := int(meta.DepthWidth), int(meta.DepthHeight)
		if dw*dh != samples {
			return 0, 0, fmt.Errorf("%w: depth map has %d samples, metadata declares %dx%d", types.ErrCodec, samples, dw, dh)
		}
		return dw, dh, nil
	}
	if samples == meta.Pixels() {
		return int(meta.Width), int(meta.Height), nil
	}
	if samples == lidarDepthWidth*lidarDepthHeight {
		return lidarDepthWidth, lidarDepthHeight, nil
	}
	return 0, 0, fmt.Errorf("%w: cannot infer depth resolution for %d samples", types.ErrCodec, samples)
}

func depthCapacityHint(meta types.FrameMetadata) int {
	samples := meta.Pixels()
	if declared := int(meta.DepthWidth) * int(meta.DepthHeight); declared > 0 {
		samples = declared
	}
	if samples < lidarDepthWidth*lidarDepthHeight {
		samples = lidarDepthWidth * lidarDepthHeight
	}
	return samples * 4
}
