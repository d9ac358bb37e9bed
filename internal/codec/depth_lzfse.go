//go:build lzfse

package codec

/*
#cgo LDFLAGS: -llzfse
#include <lzfse.h>
*/
import "C"

import (
	"fmt"
	"unsafe"

	"rgbd-stream-go/internal/types"
)

const maxDepthBytes = 256 << 20

// decompressLZFSE grows the output buffer until the decoded stream fits. The
// decoder reports a full buffer when output was truncated.
func decompressLZFSE(src []byte, capacity int) ([]byte, error) {
	if len(src) == 0 {
		return nil, fmt.Errorf("%w: empty depth payload", types.ErrCodec)
	}
	for size := capacity + 1; size <= maxDepthBytes; size *= 2 {
		dst := make([]byte, size)
		n := C.lzfse_decode_buffer(
			(*C.uint8_t)(unsafe.Pointer(&dst[0])),
			C.size_t(len(dst)),
			(*C.uint8_t)(unsafe.Pointer(&src[0])),
			C.size_t(len(src)),
			nil,
		)
		if n == 0 {
			return nil, fmt.Errorf("%w: lzfse decode failed", types.ErrCodec)
		}
		if int(n) < len(dst) {
			return dst[:int(n)], nil
		}
	}
	return nil, fmt.Errorf("%w: lzfse output exceeds %d bytes", types.ErrCodec, maxDepthBytes)
}
