package core

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// Default generation settings. These mirror the values the PhotoMaker
// notebooks were tuned with.
const (
	DefaultOutputDir          = "./Data/Output"
	DefaultInputDir           = "./Data/Input"
	DefaultNumOutputs         = 1
	DefaultStyleName          = "Photographic (Default)"
	DefaultOutputWidth        = 1024
	DefaultOutputHeight       = 1024
	DefaultNumSteps           = 50
	DefaultGuidanceScale      = 5.0
	DefaultStyleStrengthRatio = 20.0
	DefaultTriggerWord        = "img"

	DefaultLeftPrompt  = "a photo of a man img wearing a hat"
	DefaultRightPrompt = "a photo of a man img wearing a hat and sunglasses"

	DefaultNegativePrompt = "nsfw, lowres, bad anatomy, bad hands, text, error, missing fingers, " +
		"extra digit, fewer digits, cropped, worst quality, low quality, " +
		"normal quality, jpeg artifacts, signature, watermark, username, blurry"

	DefaultAdapterConditioningScale  = 0.7
	DefaultAdapterConditioningFactor = 0.8

	DefaultWatermarkText    = "© AI-Generated image by CAP-C6-Group_3"
	DefaultWatermarkOpacity = 160
	DefaultFontPath         = "arial.ttf"

	DefaultPipelineURL = "http://127.0.0.1:7861"
	DefaultFaceURL     = "http://127.0.0.1:7862"

	// ListSeparator splits list-valued variables. Prompts routinely contain
	// commas, so a pipe is used instead.
	ListSeparator = "|"
)

// Config holds all configuration values.
type Config struct {
	// Inputs
	InputImages []string // Identity photographs; the first one is used for face extraction
	InputDir    string   // Directory the web UI stores uploads in

	// Prompts
	PromptsFaceLeft  []string
	PromptsFaceRight []string
	StyleName        string
	StylesFile       string // Optional YAML file merged over the built-in styles
	NegativePrompt   string
	TriggerWord      string
	TokenizerPath    string // Optional tokenizer.json; empty selects the word tokenizer

	// Output
	OutputDir    string
	NumOutputs   int
	OutputWidth  int
	OutputHeight int

	// Sampling
	NumSteps           int
	GuidanceScale      float64
	StyleStrengthRatio float64
	Seed               *int64 // nil selects a random seed per run

	// Sketch conditioning. Loaded for parity with the notebooks, not sent to the pipeline.
	UseSketch                 bool
	SketchImagePath           string
	AdapterConditioningScale  float64
	AdapterConditioningFactor float64

	// Workers
	PipelineURL     string
	PipelineAPIKey  string
	FaceURL         string
	FaceAPIKey      string
	FaceMinScore    float64
	WorkerTimeout   time.Duration
	MaxConcurrent   int
	MaxInputImageSz int // Longest edge an input photo is scaled down to before upload

	// Watermark
	WatermarkText    string
	WatermarkOpacity int
	FontPath         string

	// Web UI
	Host          string
	Port          int
	WebUIPassword string

	// Storage and logging
	DatabasePath         string
	HistoryRetentionDays int // 0 keeps run history forever
	LogFile              string
	LogLevel             string
	DevMode              bool
}

// LoadConfig loads configuration from environment variables. The caller is
// expected to have loaded any .env file beforehand.
func LoadConfig() (*Config, error) {
	seed, err := parseSeedEnv("SEED")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		InputImages: ParseListEnv("INPUT_IMAGES", nil),
		InputDir:    GetEnvOrDefault("INPUT_DIR", DefaultInputDir),

		PromptsFaceLeft:  ParseListEnv("PROMPTS_FACE_LEFT", []string{DefaultLeftPrompt}),
		PromptsFaceRight: ParseListEnv("PROMPTS_FACE_RIGHT", []string{DefaultRightPrompt}),
		StyleName:        GetEnvOrDefault("STYLE_NAME", DefaultStyleName),
		StylesFile:       os.Getenv("STYLES_FILE"),
		NegativePrompt:   GetEnvOrDefault("NEGATIVE_PROMPT", DefaultNegativePrompt),
		TriggerWord:      GetEnvOrDefault("TRIGGER_WORD", DefaultTriggerWord),
		TokenizerPath:    os.Getenv("TOKENIZER_PATH"),

		OutputDir:    GetEnvOrDefault("OUTPUT_DIR", DefaultOutputDir),
		NumOutputs:   ParseIntEnv("NUM_OUTPUTS", DefaultNumOutputs),
		OutputWidth:  ParseIntEnv("OUTPUT_WIDTH", DefaultOutputWidth),
		OutputHeight: ParseIntEnv("OUTPUT_HEIGHT", DefaultOutputHeight),

		NumSteps:           ParseIntEnv("NUM_STEPS", DefaultNumSteps),
		GuidanceScale:      ParseFloat64Env("GUIDANCE_SCALE", DefaultGuidanceScale),
		StyleStrengthRatio: ParseFloat64Env("STYLE_STRENGTH_RATIO", DefaultStyleStrengthRatio),
		Seed:               seed,

		UseSketch:                 ParseBoolEnv("USE_SKETCH", false),
		SketchImagePath:           os.Getenv("SKETCH_IMAGE_PATH"),
		AdapterConditioningScale:  ParseFloat64Env("ADAPTER_CONDITIONING_SCALE", DefaultAdapterConditioningScale),
		AdapterConditioningFactor: ParseFloat64Env("ADAPTER_CONDITIONING_FACTOR", DefaultAdapterConditioningFactor),

		PipelineURL:     GetEnvOrDefault("PIPELINE_URL", DefaultPipelineURL),
		PipelineAPIKey:  os.Getenv("PIPELINE_API_KEY"),
		FaceURL:         GetEnvOrDefault("FACE_URL", DefaultFaceURL),
		FaceAPIKey:      os.Getenv("FACE_API_KEY"),
		FaceMinScore:    ParseFloat64Env("FACE_MIN_SCORE", 0),
		WorkerTimeout:   ParseDurationEnv("WORKER_TIMEOUT", 600),
		MaxConcurrent:   ParseIntEnv("MAX_CONCURRENT", 1),
		MaxInputImageSz: ParseIntEnv("MAX_INPUT_IMAGE_SIZE", 1024),

		WatermarkText:    GetEnvOrDefault("WATERMARK_TEXT", DefaultWatermarkText),
		WatermarkOpacity: ParseIntEnv("WATERMARK_OPACITY", DefaultWatermarkOpacity),
		FontPath:         GetEnvOrDefault("FONT_PATH", DefaultFontPath),

		Host:          GetEnvOrDefault("HOST", "0.0.0.0"),
		Port:          ParseIntEnv("PORT", 7860),
		WebUIPassword: os.Getenv("WEBUI_PASSWORD"),

		DatabasePath:         GetEnvOrDefault("DATABASE_PATH", "./Data/photomaker.db"),
		HistoryRetentionDays: ParseIntEnv("HISTORY_RETENTION_DAYS", 0),
		LogFile:              GetEnvOrDefault("LOG_FILE", "photomaker.log"),
		LogLevel:             GetEnvOrDefault("LOG_LEVEL", "info"),
		DevMode:              ParseBoolEnv("DEV_MODE", false),
	}

	// "none" disables run history
	if strings.EqualFold(cfg.DatabasePath, "none") {
		cfg.DatabasePath = ""
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the ranges the pipeline worker accepts.
func (c *Config) Validate() error {
	if c.OutputWidth%8 != 0 || c.OutputWidth < 128 || c.OutputWidth > 2048 {
		return ErrInvalidValue("OUTPUT_WIDTH", strconv.Itoa(c.OutputWidth), "must be 128-2048 and divisible by 8")
	}
	if c.OutputHeight%8 != 0 || c.OutputHeight < 128 || c.OutputHeight > 2048 {
		return ErrInvalidValue("OUTPUT_HEIGHT", strconv.Itoa(c.OutputHeight), "must be 128-2048 and divisible by 8")
	}
	if c.NumSteps < 1 || c.NumSteps > 100 {
		return ErrInvalidValue("NUM_STEPS", strconv.Itoa(c.NumSteps), "must be between 1 and 100")
	}
	if c.NumOutputs < 1 || c.NumOutputs > 8 {
		return ErrInvalidValue("NUM_OUTPUTS", strconv.Itoa(c.NumOutputs), "must be between 1 and 8")
	}
	if c.GuidanceScale < 1.0 || c.GuidanceScale > 30.0 {
		return ErrInvalidValue("GUIDANCE_SCALE", fmt.Sprintf("%.2f", c.GuidanceScale), "must be between 1.0 and 30.0")
	}
	if c.StyleStrengthRatio < 0 || c.StyleStrengthRatio > 100 {
		return ErrInvalidValue("STYLE_STRENGTH_RATIO", fmt.Sprintf("%.2f", c.StyleStrengthRatio), "must be between 0 and 100")
	}
	if c.WatermarkOpacity < 0 || c.WatermarkOpacity > 255 {
		return ErrInvalidValue("WATERMARK_OPACITY", strconv.Itoa(c.WatermarkOpacity), "must be between 0 and 255")
	}
	if c.MaxConcurrent < 1 {
		return ErrInvalidValue("MAX_CONCURRENT", strconv.Itoa(c.MaxConcurrent), "must be at least 1")
	}
	if c.Seed != nil && !ValidSeed(*c.Seed) {
		return ErrInvalidValue("SEED", strconv.FormatInt(*c.Seed, 10), fmt.Sprintf("must be from 0 to %d", MaxSeed))
	}
	if c.HistoryRetentionDays < 0 {
		return ErrInvalidValue("HISTORY_RETENTION_DAYS", strconv.Itoa(c.HistoryRetentionDays), "must be 0 (keep forever) or more")
	}
	if strings.TrimSpace(c.TriggerWord) == "" {
		return ErrMissingConfig("TRIGGER_WORD")
	}
	if c.PipelineURL == "" {
		return ErrMissingConfig("PIPELINE_URL")
	}
	if c.FaceURL == "" {
		return ErrMissingConfig("FACE_URL")
	}
	return nil
}

// MaxSeed is the largest seed the pipeline worker's generator accepts.
const MaxSeed = math.MaxInt32

// ValidSeed reports whether seed is in [0, MaxSeed].
func ValidSeed(seed int64) bool {
	return seed >= 0 && seed <= MaxSeed
}

// parseSeedEnv reads an optional seed. Unset, empty or "none" means random.
func parseSeedEnv(key string) (*int64, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" || strings.EqualFold(value, "none") {
		return nil, nil
	}
	seed, err := strconv.ParseInt(value, 10, 64)
	if err != nil || !ValidSeed(seed) {
		return nil, ErrInvalidValue(key, value, fmt.Sprintf("must be an integer from 0 to %d, or empty", MaxSeed))
	}
	return &seed, nil
}
