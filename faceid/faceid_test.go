package faceid

import (
	"context"
	"errors"
	"image"
	"testing"
)

func face(x1, x2, score float64, emb ...float32) Face {
	return Face{BBox: [4]float64{x1, 10, x2, 60}, Score: score, Embedding: emb}
}

func TestExtractLeftRight(t *testing.T) {
	tests := []struct {
		name      string
		faces     []Face
		minScore  float64
		wantLeft  float32
		wantRight float32
		wantFaces int
		wantErr   error
	}{
		{
			name:      "two faces out of order",
			faces:     []Face{face(300, 400, 0.9, 2), face(10, 100, 0.9, 1)},
			wantLeft:  1,
			wantRight: 2,
			wantFaces: 2,
		},
		{
			name:      "three faces uses extremes",
			faces:     []Face{face(200, 260, 0.9, 2), face(400, 480, 0.9, 3), face(0, 50, 0.9, 1)},
			wantLeft:  1,
			wantRight: 3,
			wantFaces: 3,
		},
		{
			name:      "single face shared",
			faces:     []Face{face(50, 150, 0.8, 7)},
			wantLeft:  7,
			wantRight: 7,
			wantFaces: 1,
		},
		{
			name:      "face without embedding ignored",
			faces:     []Face{face(0, 50, 0.9), face(100, 150, 0.9, 4), face(300, 350, 0.9, 5)},
			wantLeft:  4,
			wantRight: 5,
			wantFaces: 2,
		},
		{
			name:      "low score filtered",
			faces:     []Face{face(0, 50, 0.2, 1), face(100, 150, 0.9, 4)},
			minScore:  0.5,
			wantLeft:  4,
			wantRight: 4,
			wantFaces: 1,
		},
		{
			name:    "no faces",
			faces:   nil,
			wantErr: ErrNoFaceDetected,
		},
		{
			name:     "all filtered",
			faces:    []Face{face(0, 50, 0.1, 1)},
			minScore: 0.5,
			wantErr:  ErrNoFaceDetected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pair, err := ExtractLeftRight(tt.faces, tt.minScore)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if pair.Left.Embedding[0] != tt.wantLeft || pair.Right.Embedding[0] != tt.wantRight {
				t.Errorf("left/right = %v/%v, want %v/%v",
					pair.Left.Embedding[0], pair.Right.Embedding[0], tt.wantLeft, tt.wantRight)
			}
			if pair.Faces != tt.wantFaces {
				t.Errorf("Faces = %d, want %d", pair.Faces, tt.wantFaces)
			}
			if pair.Shared() != (tt.wantFaces == 1) {
				t.Errorf("Shared() = %v", pair.Shared())
			}
		})
	}
}

func TestFaceGeometry(t *testing.T) {
	f := Face{BBox: [4]float64{10, 20, 30, 60}}
	if f.CenterX() != 20 {
		t.Errorf("CenterX() = %v", f.CenterX())
	}
	if f.Rect() != image.Rect(10, 20, 30, 60) {
		t.Errorf("Rect() = %v", f.Rect())
	}
}

type stubDetector struct {
	faces []Face
	err   error
}

func (s stubDetector) Detect(context.Context, image.Image) ([]Face, error) {
	return s.faces, s.err
}

func TestExtract(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))

	pair, err := Extract(context.Background(), stubDetector{faces: []Face{face(0, 4, 1, 1), face(5, 9, 1, 2)}}, img, 0)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if pair.Left.Embedding[0] != 1 || pair.Right.Embedding[0] != 2 {
		t.Errorf("unexpected pair: %+v", pair)
	}

	boom := errors.New("boom")
	if _, err := Extract(context.Background(), stubDetector{err: boom}, img, 0); !errors.Is(err, boom) {
		t.Errorf("Extract() error = %v, want detector error", err)
	}
}
