// Package converter re-encodes source images into the JPEG distribution
// format.
package converter

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"os"

	_ "image/gif"
	_ "image/png"

	"go.uber.org/zap"
)

// ContentType is the MIME type of every converted artifact.
const ContentType = "image/jpeg"

type Converter struct {
	quality int
	log     *zap.Logger
}

func New(quality int, log *zap.Logger) *Converter {
	if quality < 1 {
		quality = 1
	}
	if quality > 100 {
		quality = 100
	}
	return &Converter{quality: quality, log: log}
}

// Convert decodes srcPath, flattens any transparency onto an opaque white
// background, and writes a JPEG to dstPath at the configured quality.
// Failures are reported to the caller for per-item handling; the batch is
// never aborted from here.
func (c *Converter) Convert(srcPath, dstPath string) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", srcPath, err)
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return fmt.Errorf("failed to decode %s: %w", srcPath, err)
	}

	flat := flattenToWhite(img)

	out, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dstPath, err)
	}

	if err := jpeg.Encode(out, flat, &jpeg.Options{Quality: c.quality}); err != nil {
		out.Close()
		os.Remove(dstPath)
		return fmt.Errorf("failed to encode %s: %w", dstPath, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dstPath)
		return fmt.Errorf("failed to write %s: %w", dstPath, err)
	}

	c.log.Info("image converted",
		zap.String("source", srcPath),
		zap.String("output", dstPath),
		zap.String("source_format", format),
		zap.Int("quality", c.quality))

	return nil
}

// flattenToWhite composites the image over opaque white. Alpha-carrying and
// paletted sources resolve transparent pixels to white instead of black,
// and every other mode ends up truecolor, which is what the JPEG encoder
// expects.
func flattenToWhite(img image.Image) *image.RGBA {
	bounds := img.Bounds()
	flat := image.NewRGBA(bounds)
	draw.Draw(flat, bounds, image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(flat, bounds, img, bounds.Min, draw.Over)
	return flat
}
