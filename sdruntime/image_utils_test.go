package sdruntime

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/png"
	"testing"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestIsPNG(t *testing.T) {
	if !IsPNG(pngBytes(t, 2, 2)) {
		t.Error("IsPNG(valid) = false")
	}
	for _, data := range [][]byte{nil, {0x89, 0x50}, {0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 0x4A, 0x46}} {
		if IsPNG(data) {
			t.Errorf("IsPNG(%v) = true", data)
		}
	}
}

func TestValidateImageData(t *testing.T) {
	valid := pngBytes(t, 64, 64)
	corrupt := valid[:len(valid)-13]

	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{"valid", valid, nil},
		{"empty", nil, ErrImageEmpty},
		{"too small", valid[:20], ErrImageTooSmall},
		{"not png", bytes.Repeat([]byte{0xFF}, 64), ErrImageNotPNG},
		{"truncated", corrupt, ErrImageDecodeFail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := ValidateImageData(tt.data)
			if tt.wantErr == nil {
				if err != nil || img == nil {
					t.Fatalf("ValidateImageData() = %v, %v", img, err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateImageData() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDecodeWorkerImage(t *testing.T) {
	b64 := base64.StdEncoding.EncodeToString(pngBytes(t, 16, 8))

	if _, err := decodeWorkerImage(b64, 16, 8); err != nil {
		t.Errorf("decodeWorkerImage() error = %v", err)
	}
	if _, err := decodeWorkerImage(b64, 16, 16); !errors.Is(err, ErrImageSize) {
		t.Errorf("size mismatch error = %v", err)
	}
	if _, err := decodeWorkerImage("%%%", 16, 8); !errors.Is(err, ErrImageDecodeFail) {
		t.Errorf("bad base64 error = %v", err)
	}
}
