package imaging

import (
	"fmt"
	"image"
	"math"

	xdraw "golang.org/x/image/draw"
)

// ScaleUp enlarges the image by an integer factor using nearest-neighbour
// sampling, so each source pixel becomes a factor×factor block.
func ScaleUp(im *Image, factor int) (*Image, error) {
	if im.Empty() {
		return nil, fmt.Errorf("scale up: %w", ErrEmptyImage)
	}
	if factor < 1 {
		return nil, fmt.Errorf("scale up: factor must be at least 1, got %d", factor)
	}
	src := im.Pix
	w, h := src.Rect.Dx()*factor, src.Rect.Dy()*factor
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	xdraw.NearestNeighbor.Scale(dst, dst.Rect, src, src.Rect, xdraw.Src, nil)
	return im.derive(dst), nil
}

// Desaturate converts the image to grayscale using Rec. 601 luma weights.
// Alpha is preserved.
func Desaturate(im *Image) (*Image, error) {
	if im.Empty() {
		return nil, fmt.Errorf("desaturate: %w", ErrEmptyImage)
	}
	src := im.Pix
	w, h := src.Rect.Dx(), src.Rect.Dy()
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		si := src.PixOffset(src.Rect.Min.X, src.Rect.Min.Y+y)
		di := dst.PixOffset(0, y)
		for x := 0; x < w; x++ {
			g := luma(src.Pix[si], src.Pix[si+1], src.Pix[si+2])
			dst.Pix[di] = g
			dst.Pix[di+1] = g
			dst.Pix[di+2] = g
			dst.Pix[di+3] = src.Pix[si+3]
			si += 4
			di += 4
		}
	}
	return im.derive(dst), nil
}

// HorizontalFlip mirrors the image around its vertical axis.
func HorizontalFlip(im *Image) (*Image, error) {
	if im.Empty() {
		return nil, fmt.Errorf("horizontal flip: %w", ErrEmptyImage)
	}
	src := im.Pix
	w, h := src.Rect.Dx(), src.Rect.Dy()
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			si := src.PixOffset(src.Rect.Min.X+x, src.Rect.Min.Y+y)
			di := dst.PixOffset(w-1-x, y)
			copy(dst.Pix[di:di+4], src.Pix[si:si+4])
		}
	}
	return im.derive(dst), nil
}

var (
	sobelX = [3][3]int{{-1, 0, 1}, {-2, 0, 2}, {-1, 0, 1}}
	sobelY = [3][3]int{{-1, -2, -1}, {0, 0, 0}, {1, 2, 1}}
)

// Sobel computes the gradient magnitude of the image's luminance with the
// 3×3 Sobel operator. Border pixels replicate their nearest neighbour. The
// result is an opaque grayscale image clamped to [0, 255].
func Sobel(im *Image) (*Image, error) {
	if im.Empty() {
		return nil, fmt.Errorf("sobel: %w", ErrEmptyImage)
	}
	src := im.Pix
	w, h := src.Rect.Dx(), src.Rect.Dy()

	gray := make([]int, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := src.PixOffset(src.Rect.Min.X+x, src.Rect.Min.Y+y)
			gray[y*w+x] = int(luma(src.Pix[i], src.Pix[i+1], src.Pix[i+2]))
		}
	}

	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var gx, gy int
			for ky := -1; ky <= 1; ky++ {
				yy := clampInt(y+ky, 0, h-1)
				for kx := -1; kx <= 1; kx++ {
					xx := clampInt(x+kx, 0, w-1)
					v := gray[yy*w+xx]
					gx += sobelX[ky+1][kx+1] * v
					gy += sobelY[ky+1][kx+1] * v
				}
			}
			mag := math.Sqrt(float64(gx*gx + gy*gy))
			g := uint8(math.Min(255, mag+0.5))
			di := dst.PixOffset(x, y)
			dst.Pix[di] = g
			dst.Pix[di+1] = g
			dst.Pix[di+2] = g
			dst.Pix[di+3] = 0xff
		}
	}
	return im.derive(dst), nil
}

func luma(r, g, b uint8) uint8 {
	return uint8((299*uint32(r) + 587*uint32(g) + 114*uint32(b) + 500) / 1000)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
