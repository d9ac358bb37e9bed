//go:build !turbojpeg

package codec

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	"rgbd-stream-go/internal/types"
)

type imageDecoder struct{}

func newImageDecoder() (*imageDecoder, error) {
	return &imageDecoder{}, nil
}

func (d *imageDecoder) decode(dst, src []byte, width, height int) error {
	img, err := jpeg.Decode(bytes.NewReader(src))
	if err != nil {
		return fmt.Errorf("%w: jpeg: %v", types.ErrCodec, err)
	}
	b := img.Bounds()
	if b.Dx() != width || b.Dy() != height {
		return fmt.Errorf("%w: jpeg is %dx%d, frame is %dx%d", types.ErrCodec, b.Dx(), b.Dy(), width, height)
	}
	switch m := img.(type) {
	case *image.YCbCr:
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				yi := m.YOffset(b.Min.X+x, b.Min.Y+y)
				ci := m.COffset(b.Min.X+x, b.Min.Y+y)
				r, g, bl := color.YCbCrToRGB(m.Y[yi], m.Cb[ci], m.Cr[ci])
				o := (y*width + x) * 3
				dst[o], dst[o+1], dst[o+2] = r, g, bl
			}
		}
	case *image.Gray:
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				v := m.Pix[m.PixOffset(b.Min.X+x, b.Min.Y+y)]
				o := (y*width + x) * 3
				dst[o], dst[o+1], dst[o+2] = v, v, v
			}
		}
	default:
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
				o := (y*width + x) * 3
				dst[o], dst[o+1], dst[o+2] = uint8(r>>8), uint8(g>>8), uint8(bl>>8)
			}
		}
	}
	return nil
}

func (d *imageDecoder) close() error {
	return nil
}
