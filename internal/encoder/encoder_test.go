package encoder

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sua-org/cam-voice/internal/core"
)

func solid(w, h int, c color.RGBA) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestJPEGEncode(t *testing.T) {
	enc := NewJPEG(90)
	out, err := enc.Encode(core.Frame{Image: solid(32, 16, color.RGBA{R: 200, A: 255}), Seq: 1})
	require.NoError(t, err)

	assert.True(t, bytes.HasPrefix(out, []byte{0xff, 0xd8}), "missing SOI marker")
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.Width)
	assert.Equal(t, 16, cfg.Height)
	assert.Equal(t, "image/jpeg", enc.ContentType())
}

func TestJPEGQualityBounds(t *testing.T) {
	assert.Equal(t, DefaultQuality, NewJPEG(0).Quality())
	assert.Equal(t, DefaultQuality, NewJPEG(101).Quality())
	assert.Equal(t, 1, NewJPEG(1).Quality())

	img := solid(64, 64, color.RGBA{R: 10, G: 120, B: 240, A: 255})
	// ruído para a qualidade fazer diferença no tamanho
	rgba := img.(*image.RGBA)
	for i := range rgba.Pix {
		if i%4 != 3 {
			rgba.Pix[i] ^= uint8(i * 31)
		}
	}
	low, err := NewJPEG(10).Encode(core.Frame{Image: img})
	require.NoError(t, err)
	high, err := NewJPEG(95).Encode(core.Frame{Image: img})
	require.NoError(t, err)
	assert.Less(t, len(low), len(high))
}

func TestJPEGEncodeErrors(t *testing.T) {
	enc := NewJPEG(80)

	_, err := enc.Encode(core.Frame{Seq: 7})
	assert.True(t, errors.Is(err, core.ErrEncodeError))

	_, err = enc.Encode(core.Frame{Image: image.NewRGBA(image.Rect(0, 0, 0, 0))})
	assert.True(t, errors.Is(err, core.ErrEncodeError))
}

func TestJPEGConcurrent(t *testing.T) {
	enc := NewJPEG(80)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := color.RGBA{R: uint8(i * 30), A: 255}
			out, err := enc.Encode(core.Frame{Image: solid(8, 8, c), Seq: uint64(i)})
			assert.NoError(t, err)
			_, err = jpeg.Decode(bytes.NewReader(out))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
}
