package imagegen

import (
	"context"
	"errors"
	"image"
	"image/color"
	"strings"
	"sync"
	"testing"

	"photomaker/faceid"
	"photomaker/sdruntime"
)

// fakePipeline records each call and returns solid images of the requested size.
type fakePipeline struct {
	mu    sync.Mutex
	calls []sdruntime.GenerateParams
	err   error
}

func (f *fakePipeline) Generate(ctx context.Context, p sdruntime.GenerateParams) ([]image.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, p)
	if f.err != nil {
		return nil, f.err
	}
	imgs := make([]image.Image, p.NumImages)
	for i := range imgs {
		img := image.NewRGBA(image.Rect(0, 0, p.Width, p.Height))
		for j := 0; j < len(img.Pix); j += 4 {
			img.Pix[j], img.Pix[j+1], img.Pix[j+2], img.Pix[j+3] = 40, 60, 80, 255
		}
		imgs[i] = img
	}
	return imgs, nil
}

func (f *fakePipeline) TriggerWord() string { return "img" }

type fakeDetector struct {
	faces []faceid.Face
	err   error
}

func (f *fakeDetector) Detect(ctx context.Context, img image.Image) ([]faceid.Face, error) {
	return f.faces, f.err
}

func twoFaces() []faceid.Face {
	return []faceid.Face{
		{BBox: [4]float64{300, 10, 400, 110}, Score: 0.9, Embedding: []float32{2, 2}},
		{BBox: [4]float64{10, 10, 110, 110}, Score: 0.8, Embedding: []float32{1, 1}},
	}
}

func inputPhoto() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 64, 32))
	img.Set(1, 1, color.White)
	return img
}

func newTestDriver(t *testing.T, p *fakePipeline, d *fakeDetector) *Driver {
	t.Helper()
	drv, err := NewDriver(DriverConfig{Pipeline: p, Detector: d})
	if err != nil {
		t.Fatalf("NewDriver() error = %v", err)
	}
	return drv
}

func baseRequest() Request {
	seed := int64(1234)
	return Request{
		Images:             []image.Image{inputPhoto()},
		LeftPrompts:        []string{"a photo of a man img wearing a hat", "a man img, smiling"},
		RightPrompts:       []string{"a photo of a man img wearing sunglasses"},
		StyleName:          "(No style)",
		NegativePrompt:     "blurry",
		Seed:               &seed,
		NumOutputs:         2,
		Width:              128,
		Height:             128,
		Steps:              50,
		GuidanceScale:      5,
		StyleStrengthRatio: 20,
	}
}

func TestNewDriver_Validation(t *testing.T) {
	if _, err := NewDriver(DriverConfig{Detector: &fakeDetector{}}); err == nil {
		t.Error("expected error for nil pipeline")
	}
	if _, err := NewDriver(DriverConfig{Pipeline: &fakePipeline{}}); err == nil {
		t.Error("expected error for nil detector")
	}
}

func TestDriverGenerate_OrderAndParams(t *testing.T) {
	p := &fakePipeline{}
	drv := newTestDriver(t, p, &fakeDetector{faces: twoFaces()})

	var events []Event
	req := baseRequest()
	req.Progress = func(e Event) { events = append(events, e) }

	res, err := drv.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if res.Seed != 1234 {
		t.Errorf("Seed = %d, want 1234", res.Seed)
	}
	if len(res.Left) != 2 || len(res.Right) != 1 {
		t.Fatalf("results = %d left, %d right", len(res.Left), len(res.Right))
	}
	if res.ImageCount() != 6 {
		t.Errorf("ImageCount() = %d, want 6", res.ImageCount())
	}
	if res.Left[1].Prompt != "a man img, smiling" || res.Right[0].Side != SideRight {
		t.Errorf("unexpected side results: %+v / %+v", res.Left[1], res.Right[0])
	}

	if len(p.calls) != 3 {
		t.Fatalf("pipeline calls = %d, want 3", len(p.calls))
	}
	wantPrompts := []string{req.LeftPrompts[0], req.LeftPrompts[1], req.RightPrompts[0]}
	wantEmbeds := []float32{1, 1, 2}
	for i, call := range p.calls {
		if call.Prompt != wantPrompts[i] {
			t.Errorf("call %d prompt = %q, want %q", i, call.Prompt, wantPrompts[i])
		}
		if call.IDEmbedding[0] != wantEmbeds[i] {
			t.Errorf("call %d embedding = %v, want leading %v", i, call.IDEmbedding, wantEmbeds[i])
		}
		if call.Seed != 1234 {
			t.Errorf("call %d seed = %d", i, call.Seed)
		}
		if call.StartMergeStep != 10 {
			t.Errorf("call %d StartMergeStep = %d, want 10", i, call.StartMergeStep)
		}
		if call.NegativePrompt != " blurry" {
			t.Errorf("call %d negative = %q", i, call.NegativePrompt)
		}
		if call.NumImages != 2 || call.Width != 128 || len(call.InputImages) != 1 {
			t.Errorf("call %d params = %+v", i, call)
		}
	}

	if len(events) == 0 || events[0].Stage != StageFaces {
		t.Fatalf("events = %+v", events)
	}
	last := events[len(events)-1]
	if last.Stage != StageGenerate || last.Index != 3 || last.Total != 3 {
		t.Errorf("last event = %+v", last)
	}
}

func TestDriverGenerate_AppliesStyle(t *testing.T) {
	p := &fakePipeline{}
	drv := newTestDriver(t, p, &fakeDetector{faces: twoFaces()})

	req := baseRequest()
	req.StyleName = "Cinematic"
	req.RightPrompts = nil
	req.LeftPrompts = req.LeftPrompts[:1]

	if _, err := drv.Generate(context.Background(), req); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	got := p.calls[0]
	if !strings.HasPrefix(got.Prompt, "cinematic still a photo of a man img wearing a hat . ") {
		t.Errorf("styled prompt = %q", got.Prompt)
	}
	if !strings.HasPrefix(got.NegativePrompt, "anime, cartoon") || !strings.HasSuffix(got.NegativePrompt, " blurry") {
		t.Errorf("styled negative = %q", got.NegativePrompt)
	}
}

func TestDriverGenerate_TriggerWordErrors(t *testing.T) {
	tests := []struct {
		name      string
		left      []string
		right     []string
		wantErr   error
		wantCalls int
		wantMsg   string
	}{
		{
			name:      "missing in first left prompt",
			left:      []string{"a photo of a man"},
			wantErr:   sdruntime.ErrTriggerWordMissing,
			wantCalls: 0,
			wantMsg:   "Trigger word 'img' missing in prompt: a photo of a man",
		},
		{
			name:      "duplicated in right prompt after left succeeded",
			left:      []string{"a man img"},
			right:     []string{"img and img"},
			wantErr:   sdruntime.ErrTriggerWordDuplicated,
			wantCalls: 1,
			wantMsg:   "Multiple trigger words 'img' found in prompt: img and img",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakePipeline{}
			drv := newTestDriver(t, p, &fakeDetector{faces: twoFaces()})

			req := baseRequest()
			req.LeftPrompts, req.RightPrompts = tt.left, tt.right

			_, err := drv.Generate(context.Background(), req)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Generate() error = %v, want %v", err, tt.wantErr)
			}
			if err.Error() != tt.wantMsg {
				t.Errorf("message = %q, want %q", err.Error(), tt.wantMsg)
			}
			if len(p.calls) != tt.wantCalls {
				t.Errorf("pipeline calls = %d, want %d", len(p.calls), tt.wantCalls)
			}
		})
	}
}

func TestDriverGenerate_Faces(t *testing.T) {
	t.Run("no face", func(t *testing.T) {
		p := &fakePipeline{}
		drv := newTestDriver(t, p, &fakeDetector{})
		_, err := drv.Generate(context.Background(), baseRequest())
		if !errors.Is(err, faceid.ErrNoFaceDetected) {
			t.Fatalf("Generate() error = %v", err)
		}
		if len(p.calls) != 0 {
			t.Errorf("pipeline called %d times", len(p.calls))
		}
	})

	t.Run("single face used for both sides", func(t *testing.T) {
		p := &fakePipeline{}
		one := []faceid.Face{{BBox: [4]float64{0, 0, 10, 10}, Score: 1, Embedding: []float32{7}}}
		drv := newTestDriver(t, p, &fakeDetector{faces: one})
		res, err := drv.Generate(context.Background(), baseRequest())
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		if res.Faces != 1 {
			t.Errorf("Faces = %d", res.Faces)
		}
		for i, call := range p.calls {
			if call.IDEmbedding[0] != 7 {
				t.Errorf("call %d embedding = %v", i, call.IDEmbedding)
			}
		}
	})

	t.Run("detector failure", func(t *testing.T) {
		drv := newTestDriver(t, &fakePipeline{}, &fakeDetector{err: faceid.ErrWorkerDown})
		if _, err := drv.Generate(context.Background(), baseRequest()); !errors.Is(err, faceid.ErrWorkerDown) {
			t.Fatalf("Generate() error = %v", err)
		}
	})
}

func TestDriverGenerate_RandomSeedShared(t *testing.T) {
	p := &fakePipeline{}
	drv := newTestDriver(t, p, &fakeDetector{faces: twoFaces()})

	req := baseRequest()
	req.Seed = nil
	res, err := drv.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if res.Seed < 0 || res.Seed > sdruntime.MaxSeed {
		t.Errorf("seed %d out of range", res.Seed)
	}
	for i, call := range p.calls {
		if call.Seed != res.Seed {
			t.Errorf("call %d seed = %d, want %d", i, call.Seed, res.Seed)
		}
	}
}

func TestDriverGenerate_Errors(t *testing.T) {
	drv := newTestDriver(t, &fakePipeline{}, &fakeDetector{faces: twoFaces()})

	req := baseRequest()
	req.LeftPrompts, req.RightPrompts = nil, nil
	if _, err := drv.Generate(context.Background(), req); !errors.Is(err, ErrNoPrompts) {
		t.Errorf("no prompts error = %v", err)
	}

	req = baseRequest()
	req.Images = nil
	if _, err := drv.Generate(context.Background(), req); !errors.Is(err, ErrNoInputImages) {
		t.Errorf("no images error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := drv.Generate(ctx, baseRequest()); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled error = %v", err)
	}

	failing := newTestDriver(t, &fakePipeline{err: sdruntime.ErrGenerationFailed}, &fakeDetector{faces: twoFaces()})
	_, err := failing.Generate(context.Background(), baseRequest())
	if !errors.Is(err, sdruntime.ErrGenerationFailed) {
		t.Errorf("pipeline error = %v", err)
	}
}

func TestDriverGenerate_DefaultParams(t *testing.T) {
	p := &fakePipeline{}
	drv := newTestDriver(t, p, &fakeDetector{faces: twoFaces()})

	req := Request{
		Images:             []image.Image{inputPhoto()},
		LeftPrompts:        []string{"img"},
		StyleStrengthRatio: 100,
	}
	if _, err := drv.Generate(context.Background(), req); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	got := p.calls[0]
	want := sdruntime.DefaultParams()
	if got.Width != want.Width || got.Steps != want.Steps || got.NumImages != want.NumImages {
		t.Errorf("params = %+v", got)
	}
	if got.StartMergeStep != sdruntime.MaxMergeStep {
		t.Errorf("StartMergeStep = %d, want cap %d", got.StartMergeStep, sdruntime.MaxMergeStep)
	}
}
