package fingerprint

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"math/bits"
	"sort"
	"strconv"
)

// DefaultThreshold is the similarity above which two images are treated as
// visual duplicates. 0.92 over a 64-bit hash allows at most 5 differing bits.
const DefaultThreshold = 0.92

const hashSize = 32 // images are resampled to hashSize x hashSize before the DCT

// Compute returns the 64-bit DCT perceptual hash of an encoded JPEG or PNG
// image, rendered as 16 hex characters. The pipeline: resample to 32x32
// greyscale, 2-D DCT, keep the top-left 8x8 coefficient block, threshold each
// AC coefficient against the block median.
func Compute(data []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}
	return computeFromImage(img), nil
}

func computeFromImage(img image.Image) string {
	pixels := resampleGrey(img, hashSize)
	coeffs := dct2d(pixels, hashSize)

	// Top-left 8x8 block holds the low frequencies; [0][0] is flat brightness
	// and is excluded from the median so a bright image hashes like a dim one.
	block := make([]float64, 0, 64)
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			block = append(block, coeffs[y*hashSize+x])
		}
	}
	ac := make([]float64, 63)
	copy(ac, block[1:])
	sort.Float64s(ac)
	median := (ac[31] + ac[30]) / 2

	var hash uint64
	for i, c := range block {
		if c > median {
			hash |= 1 << uint(63-i)
		}
	}
	return fmt.Sprintf("%016x", hash)
}

// resampleGrey shrinks the image to size x size greyscale using box sampling.
func resampleGrey(img image.Image, size int) []float64 {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := make([]float64, size*size)

	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			x0 := bounds.Min.X + x*w/size
			x1 := bounds.Min.X + (x+1)*w/size
			y0 := bounds.Min.Y + y*h/size
			y1 := bounds.Min.Y + (y+1)*h/size
			if x1 <= x0 {
				x1 = x0 + 1
			}
			if y1 <= y0 {
				y1 = y0 + 1
			}
			var sum float64
			for yy := y0; yy < y1; yy++ {
				for xx := x0; xx < x1; xx++ {
					g := color.GrayModel.Convert(img.At(xx, yy)).(color.Gray)
					sum += float64(g.Y)
				}
			}
			out[y*size+x] = sum / float64((x1-x0)*(y1-y0))
		}
	}
	return out
}

// dct2d computes the 2-D DCT-II by applying the 1-D transform to rows then
// columns.
func dct2d(pixels []float64, size int) []float64 {
	rows := make([]float64, size*size)
	for y := 0; y < size; y++ {
		dct1d(pixels[y*size:(y+1)*size], rows[y*size:(y+1)*size])
	}
	out := make([]float64, size*size)
	col := make([]float64, size)
	res := make([]float64, size)
	for x := 0; x < size; x++ {
		for y := 0; y < size; y++ {
			col[y] = rows[y*size+x]
		}
		dct1d(col, res)
		for y := 0; y < size; y++ {
			out[y*size+x] = res[y]
		}
	}
	return out
}

func dct1d(in, out []float64) {
	n := len(in)
	for k := 0; k < n; k++ {
		var sum float64
		for i := 0; i < n; i++ {
			sum += in[i] * math.Cos(math.Pi*float64(k)*(2*float64(i)+1)/(2*float64(n)))
		}
		out[k] = sum
	}
}

// HammingDistance computes the number of differing bits between two hex
// hashes. Mismatched lengths return -1.
func HammingDistance(hash1, hash2 string) int {
	if len(hash1) != len(hash2) || len(hash1) == 0 {
		return -1
	}
	a, err1 := strconv.ParseUint(hash1, 16, 64)
	b, err2 := strconv.ParseUint(hash2, 16, 64)
	if err1 != nil || err2 != nil {
		return -1
	}
	return bits.OnesCount64(a ^ b)
}

// Similarity returns a 0-1 score (1 = identical).
func Similarity(hash1, hash2 string) float64 {
	dist := HammingDistance(hash1, hash2)
	if dist < 0 {
		return 0
	}
	maxBits := len(hash1) * 4
	return 1.0 - float64(dist)/float64(maxBits)
}

// IsDuplicate reports whether similarity meets the threshold. A zero or
// negative threshold falls back to the default.
func IsDuplicate(hash1, hash2 string, threshold float64) bool {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return Similarity(hash1, hash2) >= threshold
}
