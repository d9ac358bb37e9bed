package simulator

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"

	"rgbd-stream-go/internal/types"
)

// Spec describes a synthetic capture.
type Spec struct {
	Title       string
	Width       int
	Height      int
	FPS         int
	Frames      int
	Intrinsics  types.Intrinsics
	DepthWidth  int
	DepthHeight int
	DepthSuffix string
	Background  bool
	// SkipColor omits the color entry of the listed frame indices.
	SkipColor []int
}

func (s Spec) withDefaults() Spec {
	if s.Width <= 0 {
		s.Width = 4
	}
	if s.Height <= 0 {
		s.Height = 4
	}
	if s.FPS <= 0 {
		s.FPS = 30
	}
	if s.DepthWidth <= 0 || s.DepthHeight <= 0 {
		s.DepthWidth = s.Width
		s.DepthHeight = s.Height
	}
	if s.DepthSuffix == "" {
		s.DepthSuffix = ".bytes"
	}
	if s.Intrinsics == (types.Intrinsics{}) {
		s.Intrinsics = types.Intrinsics{Fx: 1, Fy: 1}
	}
	return s
}

// BuildArchive returns a zip container laid out like a recorded capture:
// {title}/metadata, {title}/rgbd/{i}.jpg, {title}/rgbd/{i}{suffix} and,
// optionally, {title}/rgbd/bg/bgColor{i}.jpg.
func BuildArchive(spec Spec) ([]byte, error) {
	spec = spec.withDefaults()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	in := spec.Intrinsics
	meta := map[string]any{
		"w":   spec.Width,
		"h":   spec.Height,
		"fps": spec.FPS,
		"K":   []float32{in.Fx, 0, 0, 0, in.Fy, 0, in.Tx, in.Ty, 1},
	}
	if spec.DepthWidth != spec.Width || spec.DepthHeight != spec.Height {
		meta["dw"] = spec.DepthWidth
		meta["dh"] = spec.DepthHeight
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	if err := writeEntry(zw, entryPath(spec.Title, "metadata"), metaJSON); err != nil {
		return nil, err
	}

	skip := make(map[int]bool, len(spec.SkipColor))
	for _, idx := range spec.SkipColor {
		skip[idx] = true
	}
	for i := 0; i < spec.Frames; i++ {
		depth := EncodeDepth(DepthFrame(spec.DepthWidth, spec.DepthHeight, i))
		if err := writeEntry(zw, entryPath(spec.Title, fmt.Sprintf("rgbd/%d%s", i, spec.DepthSuffix)), depth); err != nil {
			return nil, err
		}
		if !skip[i] {
			jpg, err := EncodeJPEG(ColorFrame(spec.Width, spec.Height, i))
			if err != nil {
				return nil, err
			}
			if err := writeEntry(zw, entryPath(spec.Title, fmt.Sprintf("rgbd/%d.jpg", i)), jpg); err != nil {
				return nil, err
			}
		}
		if spec.Background {
			jpg, err := EncodeJPEG(ColorFrame(spec.Width, spec.Height, i+1000))
			if err != nil {
				return nil, err
			}
			if err := writeEntry(zw, entryPath(spec.Title, fmt.Sprintf("rgbd/bg/bgColor%d.jpg", i)), jpg); err != nil {
				return nil, err
			}
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ColorFrame is a solid color that changes with the frame index.
func ColorFrame(width, height, index int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	c := color.RGBA{
		R: uint8(40 + (index*37)%180),
		G: uint8(60 + (index*53)%160),
		B: uint8(80 + (index*71)%140),
		A: 255,
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

// DepthFrame is a tilted plane in meters, offset by the frame index.
func DepthFrame(width, height, index int) []float32 {
	out := make([]float32, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			out[y*width+x] = 1 + float32(index)*0.01 + float32(x+y)*0.001
		}
	}
	return out
}

func EncodeDepth(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, v := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 100}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func entryPath(title, name string) string {
	if title == "" {
		return name
	}
	return title + "/" + name
}

func writeEntry(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
