package imaging

import (
	"errors"
	"image"
	"image/draw"
)

// ErrEmptyImage is returned by filters given a nil image or one without pixels.
var ErrEmptyImage = errors.New("empty image")

// Image is one unit of work: a decoded picture plus the identity used for
// diagnostics and output naming.
type Image struct {
	// ID is the 1-based read order assigned by the source.
	ID int64
	// Name is the source file base name.
	Name string
	Pix  *image.NRGBA
}

// New wraps an already-decoded picture, converting it to NRGBA when needed.
func New(id int64, name string, src image.Image) *Image {
	if src == nil {
		return &Image{ID: id, Name: name}
	}
	if nrgba, ok := src.(*image.NRGBA); ok {
		return &Image{ID: id, Name: name, Pix: nrgba}
	}
	b := src.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return &Image{ID: id, Name: name, Pix: dst}
}

func (im *Image) ItemID() int64 { return im.ID }

func (im *Image) ItemName() string { return im.Name }

// Release drops the pixel buffer. The pipeline calls it once an image has
// been superseded by a filter's output or committed by the sink.
func (im *Image) Release() {
	if im != nil {
		im.Pix = nil
	}
}

// Empty reports whether the image has no usable pixels.
func (im *Image) Empty() bool {
	return im == nil || im.Pix == nil || im.Pix.Rect.Empty()
}

// Width returns the pixel width, or zero for an empty image.
func (im *Image) Width() int {
	if im.Empty() {
		return 0
	}
	return im.Pix.Rect.Dx()
}

// Height returns the pixel height, or zero for an empty image.
func (im *Image) Height() int {
	if im.Empty() {
		return 0
	}
	return im.Pix.Rect.Dy()
}

// derive returns a new Image carrying the same identity with a new buffer.
func (im *Image) derive(pix *image.NRGBA) *Image {
	return &Image{ID: im.ID, Name: im.Name, Pix: pix}
}
