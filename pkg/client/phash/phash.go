// Package phash computes difference hashes for near-duplicate photo
// detection. The algorithm is fixed bit-for-bit: hashes computed by any
// client version must stay comparable, so the resize math is spelled
// out here rather than delegated to a scaling library.
package phash

import (
	"errors"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math/bits"
	"strconv"
)

const (
	hashWidth  = 9
	hashHeight = 8
)

// HashLen is the length of a hash string: 64 bits as hex.
const HashLen = 16

// ErrBadHash means a hash string is not 16 hex characters.
var ErrBadHash = errors.New("malformed perceptual hash")

// DHash decodes an image and returns its 64-bit difference hash as a
// 16-character hex string. orientation is the EXIF orientation tag
// (1..8); pass 1 (or 0) when unknown.
func DHash(r io.Reader, orientation int) (string, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return "", err
	}
	return DHashImage(img, orientation), nil
}

// DHashImage hashes an already-decoded image.
func DHashImage(img image.Image, orientation int) string {
	img = applyOrientation(img, orientation)
	luma := resizeLuma(img)

	var hash uint64
	for y := 0; y < hashHeight; y++ {
		for x := 0; x < hashWidth-1; x++ {
			hash <<= 1
			if luma[y][x] < luma[y][x+1] {
				hash |= 1
			}
		}
	}

	out := strconv.FormatUint(hash, 16)
	for len(out) < HashLen {
		out = "0" + out
	}
	return out
}

// Distance returns the Hamming distance between two hashes.
func Distance(a, b string) (int, error) {
	ua, err := strconv.ParseUint(a, 16, 64)
	if err != nil || len(a) != HashLen {
		return 0, ErrBadHash
	}
	ub, err := strconv.ParseUint(b, 16, 64)
	if err != nil || len(b) != HashLen {
		return 0, ErrBadHash
	}
	return bits.OnesCount64(ua ^ ub), nil
}

// resizeLuma scales the image to 9x8 with bilinear interpolation and
// converts to integer luma. Each RGB channel is interpolated and
// rounded on its own before the luma weights are applied; sample
// points, the interpolation formula and the rounding are all part of
// the hash definition.
func resizeLuma(img image.Image) [hashHeight][hashWidth]int {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	var out [hashHeight][hashWidth]int
	for y := 0; y < hashHeight; y++ {
		for x := 0; x < hashWidth; x++ {
			srcX := float64(x) * float64(w-1) / float64(hashWidth-1)
			srcY := float64(y) * float64(h-1) / float64(hashHeight-1)

			x1 := int(srcX)
			y1 := int(srcY)
			x2 := x1 + 1
			if x2 > w-1 {
				x2 = w - 1
			}
			y2 := y1 + 1
			if y2 > h-1 {
				y2 = h - 1
			}
			wx := srcX - float64(x1)
			wy := srcY - float64(y1)

			r11, g11, b11 := rgbAt(img, bounds.Min.X+x1, bounds.Min.Y+y1)
			r21, g21, b21 := rgbAt(img, bounds.Min.X+x2, bounds.Min.Y+y1)
			r12, g12, b12 := rgbAt(img, bounds.Min.X+x1, bounds.Min.Y+y2)
			r22, g22, b22 := rgbAt(img, bounds.Min.X+x2, bounds.Min.Y+y2)

			interp := func(p11, p21, p12, p22 float64) int {
				top := p11*(1-wx) + p21*wx
				bot := p12*(1-wx) + p22*wx
				return int(top*(1-wy) + bot*wy + 0.5)
			}
			r := interp(r11, r21, r12, r22)
			g := interp(g11, g21, g12, g22)
			b := interp(b11, b21, b12, b22)
			out[y][x] = (299*r + 587*g + 114*b) / 1000
		}
	}
	return out
}

func rgbAt(img image.Image, x, y int) (r, g, b float64) {
	r16, g16, b16, _ := img.At(x, y).RGBA()
	// 16-bit channels down to 8-bit.
	return float64(r16 >> 8), float64(g16 >> 8), float64(b16 >> 8)
}

// applyOrientation normalizes the pixels per the EXIF orientation tag so
// a rotated export hashes the same as its upright original.
func applyOrientation(img image.Image, orientation int) image.Image {
	if orientation <= 1 || orientation > 8 {
		return img
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	outW, outH := w, h
	if orientation >= 5 {
		outW, outH = h, w
	}
	out := image.NewRGBA(image.Rect(0, 0, outW, outH))

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var dx, dy int
			switch orientation {
			case 2: // mirror horizontal
				dx, dy = w-1-x, y
			case 3: // rotate 180
				dx, dy = w-1-x, h-1-y
			case 4: // mirror vertical
				dx, dy = x, h-1-y
			case 5: // mirror horizontal then rotate 270 CW
				dx, dy = y, x
			case 6: // rotate 90 CW
				dx, dy = h-1-y, x
			case 7: // mirror horizontal then rotate 90 CW
				dx, dy = h-1-y, w-1-x
			case 8: // rotate 270 CW
				dx, dy = y, w-1-x
			}
			out.Set(dx, dy, img.At(bounds.Min.X+x, bounds.Min.Y+y))
		}
	}
	return out
}
