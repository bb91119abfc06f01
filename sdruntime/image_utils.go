package sdruntime

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/png"
)

// PNG signature
var pngMagic = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

// Image validation errors
var (
	ErrImageEmpty      = errors.New("sdruntime: image data is empty")
	ErrImageNotPNG     = errors.New("sdruntime: image data is not a valid PNG")
	ErrImageTooSmall   = errors.New("sdruntime: image data too small to be valid")
	ErrImageDecodeFail = errors.New("sdruntime: failed to decode image")
	ErrImageSize       = errors.New("sdruntime: unexpected image dimensions")
)

// minPNGSize is signature (8) + IHDR (25) + IEND (12).
const minPNGSize = 45

// IsPNG reports whether data starts with the PNG signature.
func IsPNG(data []byte) bool {
	return len(data) >= len(pngMagic) && bytes.Equal(data[:len(pngMagic)], pngMagic)
}

// ValidateImageData checks that data is a decodable PNG and returns the image.
func ValidateImageData(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, ErrImageEmpty
	}
	if len(data) < minPNGSize {
		return nil, ErrImageTooSmall
	}
	if !IsPNG(data) {
		return nil, ErrImageNotPNG
	}

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageDecodeFail, err)
	}
	return img, nil
}

// decodeWorkerImage decodes one base64 PNG from a worker response and checks
// it has the requested size.
func decodeWorkerImage(b64 string, width, height int) (image.Image, error) {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrImageDecodeFail, err)
	}
	img, err := ValidateImageData(data)
	if err != nil {
		return nil, err
	}
	if b := img.Bounds(); b.Dx() != width || b.Dy() != height {
		return nil, fmt.Errorf("%w: got %dx%d, want %dx%d", ErrImageSize, b.Dx(), b.Dy(), width, height)
	}
	return img, nil
}
