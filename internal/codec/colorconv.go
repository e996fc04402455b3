package codec

import (
	"fmt"
	"image"
	"image/color"

	"github.com/big21ray/ionia-sub002/internal/media"
)

// rawFrameImage wraps a raw capture frame as an image.Image without copying
// pixel data. Capture delivers BGRA (B=pi+0, G=pi+1, R=pi+2); the encoder
// consumes RGBA, so the wrapper swaps the channels on the fly.
type rawFrameImage struct {
	frame *media.RawFrame
}

func newRawFrameImage(frame *media.RawFrame) (*rawFrameImage, error) {
	want := frame.Width * frame.Height * 4
	if len(frame.Pixels) < want {
		return nil, fmt.Errorf("frame buffer %d bytes, need %d for %dx%d",
			len(frame.Pixels), want, frame.Width, frame.Height)
	}
	switch frame.Format {
	case media.FormatBGRA, media.FormatRGBA:
	default:
		return nil, fmt.Errorf("unsupported pixel format %d", frame.Format)
	}
	return &rawFrameImage{frame: frame}, nil
}

func (r *rawFrameImage) ColorModel() color.Model { return color.RGBAModel }

func (r *rawFrameImage) Bounds() image.Rectangle {
	return image.Rect(0, 0, r.frame.Width, r.frame.Height)
}

func (r *rawFrameImage) At(x, y int) color.Color {
	pi := (y*r.frame.Width + x) * 4
	p := r.frame.Pixels
	if r.frame.Format == media.FormatBGRA {
		return color.RGBA{R: p[pi+2], G: p[pi+1], B: p[pi+0], A: 0xFF}
	}
	return color.RGBA{R: p[pi+0], G: p[pi+1], B: p[pi+2], A: 0xFF}
}
