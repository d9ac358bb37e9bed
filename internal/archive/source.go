// Package archive reads captures stored as zip containers. The same
// random-access reader backs captures transferred over the network (held in
// memory) and captures opened from local disk.
package archive

import (
	"strings"

	"rgbd-stream-go/internal/types"
)

// Source is the frame-source capability consumed by the decode pipeline.
type Source interface {
	// Initialize parses the metadata entry and counts frames. It must be
	// called before any blob is fetched; later calls return the same metadata.
	Initialize() (types.FrameMetadata, error)
	FrameCount() int
	DepthBlob(index int) ([]byte, error)
	ColorBlob(index int) ([]byte, error)
	Title() string
	Close() error
}

// BackgroundSource is implemented by sources that can carry a background
// color track. HasBackground reports whether this capture actually has one.
type BackgroundSource interface {
	BackgroundColorBlob(index int) ([]byte, error)
	HasBackground() bool
}

// Background returns the background track of src, if it has one.
func Background(src Source) (BackgroundSource, bool) {
	bg, ok := src.(BackgroundSource)
	if !ok || !bg.HasBackground() {
		return nil, false
	}
	return bg, true
}

// TitleFromFilename strips a trailing ".zip" (any case) from a capture filename.
func TitleFromFilename(name string) string {
	if len(name) >= 4 && strings.EqualFold(name[len(name)-4:], ".zip") {
		return name[:len(name)-4]
	}
	return name
}
