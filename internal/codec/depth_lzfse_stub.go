//go:build !lzfse

package codec

import (
	"fmt"

	"rgbd-stream-go/internal/types"
)

func decompressLZFSE(_ []byte, _ int) ([]byte, error) {
	return nil, fmt.Errorf("%w: lzfse depth not enabled; build with -tags lzfse", types.ErrCodec)
}
