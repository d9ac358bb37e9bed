//go:build turbojpeg

package codec

/*
#cgo LDFLAGS: -lturbojpeg
#include <turbojpeg.h>
*/
import "C"

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"rgbd-stream-go/internal/types"
)

// A tjhandle is not safe for concurrent use; calls are serialized.
type imageDecoder struct {
	mu     sync.Mutex
	handle C.tjhandle
}

func newImageDecoder() (*imageDecoder, error) {
	handle := C.tjInitDecompress()
	if handle == nil {
		return nil, errors.New("tjInitDecompress failed")
	}
	return &imageDecoder{handle: handle}, nil
}

func (d *imageDecoder) decode(dst, src []byte, width, height int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handle == nil {
		return fmt.Errorf("%w: turbojpeg handle released", types.ErrCodec)
	}
	rc := C.tjDecompress2(
		d.handle,
		(*C.uchar)(unsafe.Pointer(&src[0])),
		C.ulong(len(src)),
		(*C.uchar)(unsafe.Pointer(&dst[0])),
		C.int(width),
		C.int(width*3),
		C.int(height),
		C.TJPF_RGB,
		0,
	)
	if rc != 0 {
		return fmt.Errorf("%w: turbojpeg: %s", types.ErrCodec, C.GoString(C.tjGetErrorStr2(d.handle)))
	}
	return nil
}

func (d *imageDecoder) close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handle == nil {
		return nil
	}
	rc := C.tjDestroy(d.handle)
	d.handle = nil
	if rc != 0 {
		return errors.New("tjDestroy failed")
	}
	return nil
}
