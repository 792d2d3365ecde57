// Package testing provides test utilities and fixtures for the gateway
package testing

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
)

// JPEGImage returns an encoded JPEG of the given dimensions.
func JPEGImage(width, height int) []byte {
	buf := &bytes.Buffer{}
	if err := jpeg.Encode(buf, gradient(width, height), &jpeg.Options{Quality: 85}); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// PNGImage returns an encoded PNG of the given dimensions.
func PNGImage(width, height int) []byte {
	buf := &bytes.Buffer{}
	if err := png.Encode(buf, gradient(width, height)); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func gradient(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8(x * 255 / max(width, 1)),
				G: uint8(y * 255 / max(height, 1)),
				B: 128,
				A: 255,
			})
		}
	}
	return img
}
