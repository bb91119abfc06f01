package webui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"photomaker/core"
	"photomaker/faceid"
	"photomaker/imagegen"
	"photomaker/imageio"
	"photomaker/sdruntime"
	"photomaker/shutdown"

	"go.uber.org/zap"
)

// Status texts shown under the Generate button.
const (
	StatusNoInput  = "No input image found. Please upload one."
	StatusComplete = "Generation complete."
)

// UploadedImageName is the file an uploaded photograph replaces.
const UploadedImageName = "uploaded_input_image.png"

// GenerateForm is the multipart form of POST /api/generate. The image
// file is read separately.
type GenerateForm struct {
	LeftPrompt     string `schema:"left_prompt"`
	RightPrompt    string `schema:"right_prompt"`
	Seed           string `schema:"seed"`
	Style          string `schema:"style"`
	NegativePrompt string `schema:"negative_prompt"`

	// A prompt field that is absent uses the default; one submitted empty
	// is passed on and rejected by the trigger word check.
	HasLeftPrompt  bool `schema:"-"`
	HasRightPrompt bool `schema:"-"`
}

// GenerateResponse is returned for both a finished run and a missing input
// image. Left and Right list every image of that side in the output
// directory, not only the ones of this run.
type GenerateResponse struct {
	Status string   `json:"status"`
	Left   []string `json:"left"`
	Right  []string `json:"right"`
	Seed   *int64   `json:"seed,omitempty"`
	RunID  string   `json:"run_id,omitempty"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "use POST")
		return
	}
	if !s.busy.TryLock() {
		writeError(w, http.StatusConflict, "A generation is already running.")
		return
	}
	defer s.busy.Unlock()

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)
	form, err := s.parseGenerateForm(r)
	if err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeError(w, status, err.Error())
		return
	}

	uploaded, err := s.saveUpload(r)
	if err != nil {
		s.logger.Warn("Rejected upload", zap.Error(err))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	input := uploaded
	if input == "" {
		if input, err = FindInputImage(s.config.InputDir); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	if input == "" {
		writeJSON(w, http.StatusOK, GenerateResponse{Status: StatusNoInput, Left: []string{}, Right: []string{}})
		return
	}

	req := s.buildRequest(form, input)
	s.broadcaster.Broadcast(NewStatusMessage(StatusData{Busy: true, Message: "Generating"}))
	defer s.broadcaster.Broadcast(NewStatusMessage(StatusData{Busy: false}))

	var result *imagegen.RunResult
	run := func(ctx context.Context) error {
		var err error
		result, err = s.generator.Run(ctx, req)
		return err
	}
	if s.tracker != nil {
		err = s.tracker.Track(r.Context(), "generate", run)
	} else {
		err = run(r.Context())
	}
	if err != nil {
		s.logger.Warn("Generation failed", zap.Error(err))
		writeError(w, generateErrorStatus(err), err.Error())
		return
	}

	left, right, err := s.galleries()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	seed := result.Seed
	writeJSON(w, http.StatusOK, GenerateResponse{
		Status: StatusComplete,
		Left:   left,
		Right:  right,
		Seed:   &seed,
		RunID:  result.RunID,
	})
}

func (s *Server) parseGenerateForm(r *http.Request) (GenerateForm, error) {
	var form GenerateForm
	err := r.ParseMultipartForm(s.config.MaxUploadBytes)
	if errors.Is(err, http.ErrNotMultipart) {
		err = r.ParseForm()
	}
	if err != nil {
		return form, fmt.Errorf("invalid form: %w", err)
	}
	if err := s.decoder.Decode(&form, r.PostForm); err != nil {
		return form, fmt.Errorf("invalid form: %w", err)
	}
	form.HasLeftPrompt = r.PostForm.Has("left_prompt")
	form.HasRightPrompt = r.PostForm.Has("right_prompt")
	return form, nil
}

// saveUpload stores the "image" file, when present, as a PNG in the input
// directory and returns its path.
func (s *Server) saveUpload(r *http.Request) (string, error) {
	if r.MultipartForm == nil {
		return "", nil
	}
	file, _, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return "", nil
	}
	img, err := imageio.DecodeImage(data)
	if err != nil {
		return "", err
	}

	path := filepath.Join(s.config.InputDir, UploadedImageName)
	if err := imageio.SavePNG(path, img); err != nil {
		return "", err
	}
	s.logger.Info("Saved uploaded image", zap.String("file", path))
	return path, nil
}

// FindInputImage returns the first PNG in dir, or failing that the first
// JPEG, in name order. A missing directory or no match yields "".
func FindInputImage(dir string) (string, error) {
	for _, pattern := range []string{"*.png", "*.jpg"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return "", err
		}
		sort.Strings(matches)
		for _, m := range matches {
			if info, err := os.Stat(m); err == nil && info.Mode().IsRegular() {
				return m, nil
			}
		}
	}
	return "", nil
}

// ParseSeed reads the seed text box. Empty, non-integer or out of range
// text (outside 0..MaxSeed) selects a random seed.
func ParseSeed(text string) *int64 {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	seed, err := strconv.ParseInt(text, 10, 64)
	if err != nil || !core.ValidSeed(seed) {
		return nil
	}
	return &seed
}

func (s *Server) buildRequest(form GenerateForm, input string) imagegen.Request {
	d := s.config.Defaults

	left := strings.TrimSpace(form.LeftPrompt)
	if !form.HasLeftPrompt {
		left = d.LeftPrompt
	}
	right := strings.TrimSpace(form.RightPrompt)
	if !form.HasRightPrompt {
		right = d.RightPrompt
	}
	negative := strings.TrimSpace(form.NegativePrompt)
	if negative == "" {
		negative = d.NegativePrompt
	}
	style := d.StyleName
	if form.Style != "" && s.styles.Has(form.Style) {
		style = form.Style
	}

	return imagegen.Request{
		InputImages:        []string{input},
		LeftPrompts:        []string{left},
		RightPrompts:       []string{right},
		StyleName:          style,
		NegativePrompt:     negative,
		Seed:               ParseSeed(form.Seed),
		NumOutputs:         d.NumOutputs,
		Width:              d.Width,
		Height:             d.Height,
		Steps:              d.Steps,
		GuidanceScale:      d.GuidanceScale,
		StyleStrengthRatio: d.StyleStrengthRatio,
		SketchImage:        d.SketchImage,
		Progress:           s.broadcastProgress,
	}
}

// broadcastProgress forwards run events with file paths turned into URLs.
func (s *Server) broadcastProgress(ev imagegen.Event) {
	if ev.File != "" {
		ev.File = fileURL(outputsPrefix, s.generator.OutputDir(), ev.File)
	}
	s.broadcaster.Broadcast(NewProgressMessage(ev))
}

// galleries lists the output directory as URLs.
func (s *Server) galleries() ([]string, []string, error) {
	dir := s.generator.OutputDir()
	var sides [2][]string
	for i, side := range []string{imagegen.SideLeft, imagegen.SideRight} {
		paths, err := imagegen.ListOutputs(dir, side)
		if err != nil {
			return nil, nil, err
		}
		urls := make([]string, 0, len(paths))
		for _, p := range paths {
			urls = append(urls, imageURL(outputsPrefix, filepath.Base(p)))
		}
		sides[i] = urls
	}
	return sides[0], sides[1], nil
}

func generateErrorStatus(err error) int {
	var triggerErr *sdruntime.TriggerWordError
	switch {
	case errors.As(err, &triggerErr),
		errors.Is(err, sdruntime.ErrTriggerWordMissing),
		errors.Is(err, sdruntime.ErrTriggerWordDuplicated),
		errors.Is(err, sdruntime.ErrInvalidPrompt),
		errors.Is(err, sdruntime.ErrInvalidParams),
		errors.Is(err, imageio.ErrInvalidImage):
		return http.StatusBadRequest
	case errors.Is(err, faceid.ErrNoFaceDetected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, shutdown.ErrTrackerClosed),
		errors.Is(err, sdruntime.ErrPoolClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, sdruntime.ErrWorkerUnavailable),
		errors.Is(err, faceid.ErrWorkerDown),
		errors.Is(err, sdruntime.ErrGenerationFailed),
		errors.Is(err, faceid.ErrDetectionFailed):
		return http.StatusBadGateway
	case errors.Is(err, sdruntime.ErrGenerationTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
