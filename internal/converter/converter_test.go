package converter

import (
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

func decodeJPEG(t *testing.T, path string) image.Image {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := jpeg.Decode(f)
	require.NoError(t, err)
	return img
}

func TestConvert_OpaqueRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "opaque.png")
	dst := filepath.Join(dir, "opaque.jpg")

	img := image.NewNRGBA(image.Rect(0, 0, 10, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 10; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 20), G: uint8(y * 30), B: 120, A: 255})
		}
	}
	writePNG(t, src, img)

	conv := New(85, zap.NewNop())
	require.NoError(t, conv.Convert(src, dst))

	out := decodeJPEG(t, dst)
	assert.Equal(t, 10, out.Bounds().Dx())
	assert.Equal(t, 8, out.Bounds().Dy())

	// JPEG output carries no alpha channel.
	_, _, _, a := out.At(3, 3).RGBA()
	assert.Equal(t, uint32(0xffff), a)
}

func TestConvert_TransparentPixelsBecomeWhite(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "transparent.png")
	dst := filepath.Join(dir, "transparent.jpg")

	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	// Fully transparent everywhere; without compositing these pixels
	// would come out black.
	writePNG(t, src, img)

	conv := New(100, zap.NewNop())
	require.NoError(t, conv.Convert(src, dst))

	out := decodeJPEG(t, dst)
	r, g, b, _ := out.At(4, 4).RGBA()
	assert.GreaterOrEqual(t, r>>8, uint32(250))
	assert.GreaterOrEqual(t, g>>8, uint32(250))
	assert.GreaterOrEqual(t, b>>8, uint32(250))
}

func TestConvert_PaletteTransparencyResolvesWhite(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "palette.png")
	dst := filepath.Join(dir, "palette.jpg")

	img := image.NewPaletted(image.Rect(0, 0, 4, 4), color.Palette{
		color.NRGBA{},
		color.NRGBA{R: 255, G: 0, B: 0, A: 255},
	})
	// All pixels reference the transparent palette entry.
	writePNG(t, src, img)

	conv := New(100, zap.NewNop())
	require.NoError(t, conv.Convert(src, dst))

	out := decodeJPEG(t, dst)
	r, g, b, _ := out.At(1, 1).RGBA()
	assert.GreaterOrEqual(t, r>>8, uint32(250))
	assert.GreaterOrEqual(t, g>>8, uint32(250))
	assert.GreaterOrEqual(t, b>>8, uint32(250))
}

func TestConvert_Failures(t *testing.T) {
	dir := t.TempDir()
	conv := New(85, zap.NewNop())

	err := conv.Convert(filepath.Join(dir, "missing.png"), filepath.Join(dir, "out.jpg"))
	assert.Error(t, err)

	garbage := filepath.Join(dir, "garbage.png")
	require.NoError(t, os.WriteFile(garbage, []byte("not an image"), 0644))
	err = conv.Convert(garbage, filepath.Join(dir, "garbage.jpg"))
	assert.Error(t, err)
	assert.NoFileExists(t, filepath.Join(dir, "garbage.jpg"))
}

func TestNew_ClampsQuality(t *testing.T) {
	assert.Equal(t, 1, New(-5, zap.NewNop()).quality)
	assert.Equal(t, 100, New(400, zap.NewNop()).quality)
	assert.Equal(t, 85, New(85, zap.NewNop()).quality)
}
