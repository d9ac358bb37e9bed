package codec

import (
	"fmt"
	"math"

	"rgbd-stream-go/internal/types"
)

// PositionStride is the number of floats Project writes per pixel.
const PositionStride = 4

// Project back-projects a depth map into camera space. For every color pixel
// (i, j) it writes x, y, z and the linear pixel index to dst[4*(i*width+j):].
// The camera looks down -z; y points up.
func Project(dst, depth []float32, dw, dh, width, height int, in types.Intrinsics) {
	if len(depth) != dw*dh {
		panic(fmt.Sprintf("codec: depth map holds %d samples, expected %dx%d", len(depth), dw, dh))
	}
	if len(dst) < width*height*PositionStride {
		panic(fmt.Sprintf("codec: position buffer holds %d floats, need %d", len(dst), width*height*PositionStride))
	}
	direct := dw == width && dh == height
	sx := float32(dw) / float32(width)
	sy := float32(dh) / float32(height)
	for i := 0; i < height; i++ {
		for j := 0; j < width; j++ {
			idx := i*width + j
			var d float32
			if direct {
				d = depth[idx]
			} else {
				d = InterpolateDepth(depth, float32(j)*sx, float32(i)*sy, dw, dh)
			}
			out := dst[idx*PositionStride : (idx+1)*PositionStride]
			out[0] = (float32(j)/in.Fx - in.Tx/in.Fx) * d
			out[1] = -(float32(i)/in.Fy - in.Ty/in.Fy) * d
			out[2] = -d
			out[3] = float32(idx)
		}
	}
}

// InterpolateDepth samples depth bilinearly at (x, y). Neighbors past the
// right or bottom edge are clamped to the last column or row.
func InterpolateDepth(depth []float32, x, y float32, width, height int) float32 {
	wx, wy := int(x), int(y)
	if wx > width-1 {
		wx = width - 1
	}
	if wy > height-1 {
		wy = height - 1
	}
	fx := x - float32(wx)
	fy := y - float32(wy)
	x1 := min(wx+1, width-1)
	y1 := min(wy+1, height-1)

	tl := depth[wy*width+wx]
	tr := depth[wy*width+x1]
	bl := depth[y1*width+wx]
	br := depth[y1*width+x1]
	return (tl*(1-fx)+fx*tr)*(1-fy) + (bl*(1-fx)+fx*br)*fy
}

// ZRange returns the smallest and largest z in a buffer written by Project.
// An empty buffer yields +Inf, -Inf.
func ZRange(positions []float32) (lo, hi float32) {
	lo = float32(math.Inf(1))
	hi = float32(math.Inf(-1))
	for i := 2; i < len(positions); i += PositionStride {
		z := positions[i]
		if z < lo {
			lo = z
		}
		if z > hi {
			hi = z
		}
	}
	return lo, hi
}
