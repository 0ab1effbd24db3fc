package fingerprint

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func gradient(w, h int, invert bool) image.Image {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(255 * x / w)
			if invert {
				v = 255 - v
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	return img
}

func TestComputeIsDeterministic(t *testing.T) {
	data := encodePNG(t, gradient(100, 150, false))
	h1, err := Compute(data)
	require.NoError(t, err)
	h2, err := Compute(data)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 16)
}

func TestComputeSurvivesRecompression(t *testing.T) {
	img := gradient(200, 300, false)
	pngHash, err := Compute(encodePNG(t, img))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 60}))
	jpegHash, err := Compute(buf.Bytes())
	require.NoError(t, err)

	assert.True(t, IsDuplicate(pngHash, jpegHash, DefaultThreshold),
		"same image across formats should hash as a duplicate (similarity %.3f)", Similarity(pngHash, jpegHash))
}

func TestDistinctImagesDiffer(t *testing.T) {
	h1, err := Compute(encodePNG(t, gradient(100, 100, false)))
	require.NoError(t, err)
	h2, err := Compute(encodePNG(t, gradient(100, 100, true)))
	require.NoError(t, err)
	assert.False(t, IsDuplicate(h1, h2, DefaultThreshold))
}

func TestComputeRejectsGarbage(t *testing.T) {
	_, err := Compute([]byte("not an image"))
	assert.Error(t, err)
}

func TestHammingDistance(t *testing.T) {
	assert.Equal(t, 0, HammingDistance("00000000000000ff", "00000000000000ff"))
	assert.Equal(t, 8, HammingDistance("00000000000000ff", "0000000000000000"))
	assert.Equal(t, 64, HammingDistance("ffffffffffffffff", "0000000000000000"))
	assert.Equal(t, -1, HammingDistance("abcd", "abc"))
	assert.Equal(t, -1, HammingDistance("", ""))
}

func TestSimilarityThreshold(t *testing.T) {
	// 5 differing bits: similarity 1 - 5/64 = 0.921875, just above 0.92.
	assert.True(t, IsDuplicate("000000000000001f", "0000000000000000", 0.92))
	// 6 differing bits drops below.
	assert.False(t, IsDuplicate("000000000000003f", "0000000000000000", 0.92))
}
