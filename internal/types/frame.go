package types

// FramePair is one compressed frame as fetched from a source, before decode.
// Background is nil when the capture has no background track.
type FramePair struct {
	Index      int
	Color      []byte
	Depth      []byte
	Background []byte
}

func (p FramePair) Size() int {
	return len(p.Color) + len(p.Depth) + len(p.Background)
}

// FrameReady is handed to the renderer once every buffer of a frame is written.
// The slices alias the video's output buffers; they stay valid until the next
// frame of the same video completes.
type FrameReady struct {
	VideoID    string
	Index      int
	Width      int
	Height     int
	Positions  []float32
	Colors     []byte
	Background []byte
}
