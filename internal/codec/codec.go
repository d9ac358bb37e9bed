// Package codec turns compressed frame blobs into renderer-ready buffers:
// JPEG color into packed RGB, and depth maps into back-projected positions.
package codec

import (
	"fmt"
	"strings"
	"sync/atomic"

	"rgbd-stream-go/internal/types"
)

// Codec decodes one video's frames. Implementations are safe for concurrent
// calls that write to different destination buffers.
type Codec interface {
	// DecodeImage writes width*height packed RGB pixels into dst.
	DecodeImage(dst, src []byte, width, height int) error
	// DecodeDepth decodes src and writes width*height (x, y, z, index)
	// positions into dst, using meta for resolution and intrinsics.
	DecodeDepth(dst []float32, src []byte, meta types.FrameMetadata) error
	Close() error
}

type DepthKind int

const (
	// DepthLZFSE is the ".depth" entry format: an LZFSE stream of float32 samples.
	DepthLZFSE DepthKind = iota
	// DepthRaw is the ".bytes" entry format: uncompressed little-endian float32.
	DepthRaw
)

func (k DepthKind) String() string {
	switch k {
	case DepthLZFSE:
		return "lzfse"
	case DepthRaw:
		return "raw"
	default:
		return fmt.Sprintf("DepthKind(%d)", int(k))
	}
}

// KindForSuffix maps an archive depth entry suffix to its DepthKind.
func KindForSuffix(suffix string) (DepthKind, error) {
	switch strings.ToLower(suffix) {
	case ".depth":
		return DepthLZFSE, nil
	case ".bytes":
		return DepthRaw, nil
	default:
		return 0, fmt.Errorf("%w: unknown depth entry suffix %q", types.ErrCodec, suffix)
	}
}

// Adapter is the Codec used for captures. It owns one image decode handle.
type Adapter struct {
	kind   DepthKind
	images *imageDecoder
	closed atomic.Bool
}

// New creates the decode handle for one video. Failure here is fatal to
// opening the video, not to a single frame.
func New(kind DepthKind) (*Adapter, error) {
	images, err := newImageDecoder()
	if err != nil {
		return nil, fmt.Errorf("%w: create image decoder: %v", types.ErrCodec, err)
	}
	return &Adapter{kind: kind, images: images}, nil
}

func (a *Adapter) Kind() DepthKind {
	return a.kind
}

func (a *Adapter) DecodeImage(dst, src []byte, width, height int) error {
	if len(dst) < width*height*3 {
		panic(fmt.Sprintf("codec: color buffer holds %d bytes, need %d", len(dst), width*height*3))
	}
	if a.closed.Load() {
		return errClosed
	}
	if len(src) == 0 {
		return fmt.Errorf("%w: empty image", types.ErrCodec)
	}
	return a.images.decode(dst, src, width, height)
}

func (a *Adapter) DecodeDepth(dst []float32, src []byte, meta types.FrameMetadata) error {
	width, height := int(meta.Width), int(meta.Height)
	if len(dst) < width*height*4 {
		panic(fmt.Sprintf("codec: position buffer holds %d floats, need %d", len(dst), width*height*4))
	}
	if a.closed.Load() {
		return errClosed
	}
	var raw []byte
	switch a.kind {
	case DepthRaw:
		raw = src
	case DepthLZFSE:
		var err error
		raw, err = decompressLZFSE(src, depthCapacityHint(meta))
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: depth kind %v", types.ErrCodec, a.kind)
	}
	depth, err := rawDepth(raw)
	if err != nil {
		return err
	}
	dw, dh, err := DepthDims(meta, len(depth))
	if err != nil {
		return err
	}
	Project(dst, depth, dw, dh, width, height, meta.Intrinsics)
	return nil
}

// Close releases the image handle. In-flight decodes are not interrupted.
func (a *Adapter) Close() error {
	if a.closed.Swap(true) {
		return nil
	}
	return a.images.close()
}

var errClosed = fmt.Errorf("%w: codec closed", types.ErrCodec)
