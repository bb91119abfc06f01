// Package faceid extracts identity embeddings for the faces in a photograph.
// Detection and embedding run in an external face worker; this package
// talks to it and picks the left and right identities.
package faceid

import (
	"context"
	"errors"
	"image"
	"sort"
)

var (
	ErrNoFaceDetected  = errors.New("faceid: no face detected")
	ErrDetectionFailed = errors.New("faceid: face detection failed")
	ErrWorkerDown      = errors.New("faceid: face worker unavailable")
)

// Face is one detection: bounding box in pixels (x1, y1, x2, y2), detection
// score, and identity embedding.
type Face struct {
	BBox      [4]float64 `json:"bbox"`
	Score     float64    `json:"det_score"`
	Embedding []float32  `json:"embedding"`
}

// CenterX is the horizontal centre of the bounding box.
func (f Face) CenterX() float64 {
	return (f.BBox[0] + f.BBox[2]) / 2
}

// Rect returns the bounding box as an integer rectangle.
func (f Face) Rect() image.Rectangle {
	return image.Rect(int(f.BBox[0]), int(f.BBox[1]), int(f.BBox[2]), int(f.BBox[3]))
}

// Detector finds faces in an image.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]Face, error)
}

// IdentityPair holds the embeddings used for the left and right prompts.
type IdentityPair struct {
	Left  Face
	Right Face

	// Faces is how many usable faces were found. When it is 1, Left and
	// Right are the same face.
	Faces int
}

// Shared reports whether both sides use the same face.
func (p IdentityPair) Shared() bool {
	return p.Faces == 1
}

// ExtractLeftRight picks the leftmost and rightmost faces by bounding box
// centre. Faces without an embedding or scoring below minScore are ignored.
// A single face is used for both sides.
func ExtractLeftRight(faces []Face, minScore float64) (IdentityPair, error) {
	usable := make([]Face, 0, len(faces))
	for _, f := range faces {
		if len(f.Embedding) == 0 || f.Score < minScore {
			continue
		}
		usable = append(usable, f)
	}
	if len(usable) == 0 {
		return IdentityPair{}, ErrNoFaceDetected
	}

	sort.SliceStable(usable, func(i, j int) bool {
		return usable[i].CenterX() < usable[j].CenterX()
	})

	return IdentityPair{
		Left:  usable[0],
		Right: usable[len(usable)-1],
		Faces: len(usable),
	}, nil
}

// Extract runs d on img and picks the left and right identities.
func Extract(ctx context.Context, d Detector, img image.Image, minScore float64) (IdentityPair, error) {
	faces, err := d.Detect(ctx, img)
	if err != nil {
		return IdentityPair{}, err
	}
	return ExtractLeftRight(faces, minScore)
}
