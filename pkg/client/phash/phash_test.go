package phash

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
)

// gradient builds an image with a smooth horizontal ramp so the hash
// has stable structure.
func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(255 * x / (w - 1))
			img.Set(x, y, color.RGBA{v, v, v, 255})
		}
	}
	return img
}

func TestDHashReproducible(t *testing.T) {
	img := gradient(640, 480)
	a := DHashImage(img, 1)
	b := DHashImage(img, 1)
	if a != b {
		t.Errorf("hash not deterministic: %s vs %s", a, b)
	}
	if len(a) != HashLen {
		t.Errorf("hash length = %d, want %d", len(a), HashLen)
	}
	// A left-to-right ramp brightens on every step: all bits set.
	if a != "ffffffffffffffff" {
		t.Errorf("gradient hash = %s", a)
	}
}

func TestResizeLumaChannelInterpolation(t *testing.T) {
	// Red left column, blue right column. Halfway between them each
	// channel interpolates and rounds to 128 before the luma weights
	// apply: (299*128 + 114*128) / 1000 = 52. Collapsing to luma first
	// would give round((76+29)/2) = 53 instead.
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	for y := 0; y < 2; y++ {
		img.Set(0, y, color.RGBA{255, 0, 0, 255})
		img.Set(1, y, color.RGBA{0, 0, 255, 255})
	}

	luma := resizeLuma(img)
	if luma[0][0] != 76 {
		t.Errorf("red sample = %d, want 76", luma[0][0])
	}
	if luma[0][8] != 29 {
		t.Errorf("blue sample = %d, want 29", luma[0][8])
	}
	if luma[0][4] != 52 {
		t.Errorf("midpoint sample = %d, want 52", luma[0][4])
	}
}

func TestDHashSurvivesRecompression(t *testing.T) {
	img := gradient(640, 480)
	orig := DHashImage(img, 1)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 40}); err != nil {
		t.Fatal(err)
	}
	recompressed, err := DHash(&buf, 1)
	if err != nil {
		t.Fatal(err)
	}

	d, err := Distance(orig, recompressed)
	if err != nil {
		t.Fatal(err)
	}
	if d > 3 {
		t.Errorf("distance after recompression = %d, want <= 3", d)
	}
}

func TestDHashOrientation(t *testing.T) {
	// An asymmetric image: upright vs rotated-then-tagged must agree.
	img := image.NewRGBA(image.Rect(0, 0, 64, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 64; x++ {
			v := uint8((x * 3) + (y * 5))
			img.Set(x, y, color.RGBA{v, v / 2, v / 3, 255})
		}
	}
	upright := DHashImage(img, 1)

	// Rotate 90 CW by hand, then tell the hasher to undo it (tag 8).
	rotated := image.NewRGBA(image.Rect(0, 0, 32, 64))
	for y := 0; y < 32; y++ {
		for x := 0; x < 64; x++ {
			rotated.Set(31-y, x, img.At(x, y))
		}
	}
	restored := DHashImage(rotated, 8)
	if upright != restored {
		t.Errorf("orientation-corrected hash %s != upright %s", restored, upright)
	}
}

func TestDistance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"0000000000000000", "0000000000000000", 0},
		{"0000000000000000", "0000000000000001", 1},
		{"ffffffffffffffff", "0000000000000000", 64},
		{"00000000000000f0", "0000000000000000", 4},
	}
	for _, tt := range tests {
		got, err := Distance(tt.a, tt.b)
		if err != nil {
			t.Fatalf("Distance(%s, %s): %v", tt.a, tt.b, err)
		}
		if got != tt.want {
			t.Errorf("Distance(%s, %s) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}

	if _, err := Distance("xyz", "0000000000000000"); err != ErrBadHash {
		t.Errorf("err = %v, want ErrBadHash", err)
	}
}
