package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Log      LogConfig      `yaml:"log"`
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	GenAI    GenAIConfig    `yaml:"genai"`
	Export   ExportConfig   `yaml:"export"`
	Playback PlaybackConfig `yaml:"playback"`
	Collage  CollageConfig  `yaml:"collage"`

	BuildVersion string `yaml:"-"`
}

type LogConfig struct {
	Mode string `yaml:"mode"`
}

type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	MaxUploadMB    int64    `yaml:"max_upload_mb"`
}

type StorageConfig struct {
	// Driver is "file" or "sqlite".
	Driver  string `yaml:"driver"`
	DataDir string `yaml:"data_dir"`
	DSN     string `yaml:"dsn"`
}

type GenAIConfig struct {
	// Provider selects the image backend: "gemini" or "pollinations".
	Provider      string        `yaml:"provider"`
	APIKey        string        `yaml:"-"`
	AnalysisModel string        `yaml:"analysis_model"`
	ImageModel    string        `yaml:"image_model"`
	BatchSize     int           `yaml:"batch_size"`
	BatchPause    time.Duration `yaml:"batch_pause"`
	Timeout       time.Duration `yaml:"timeout"`
}

type ExportConfig struct {
	Width         int     `yaml:"width"`
	Height        int     `yaml:"height"`
	FPS           int     `yaml:"fps"`
	Preset        string  `yaml:"preset"`
	VideoEncoder  string  `yaml:"video_encoder"`
	Quality       int     `yaml:"quality"`
	SampleRate    int     `yaml:"sample_rate"`
	Channels      int     `yaml:"channels"`
	Crossfade     float64 `yaml:"crossfade"`
	Motion        string  `yaml:"motion"`
	Captions      bool    `yaml:"captions"`
	ProgressEvery int     `yaml:"progress_every"`
	TailSeconds   float64 `yaml:"tail_seconds"`
	OutputDir     string  `yaml:"output_dir"`
	ShowStats     bool    `yaml:"show_stats"`
}

type PlaybackConfig struct {
	Crossfade   time.Duration `yaml:"crossfade"`
	SkipSeconds float64       `yaml:"skip_seconds"`
	PreviewSize int           `yaml:"preview_width"`
}

type CollageConfig struct {
	Columns    int    `yaml:"columns"`
	CellWidth  int    `yaml:"cell_width"`
	CellHeight int    `yaml:"cell_height"`
	QRText     string `yaml:"qr_text"`
}

// EncodeParams is everything the streaming encoder needs for one export.
type EncodeParams struct {
	Width, Height int
	FPS           int
	SampleRate    int
	Channels      int
	VideoEncoder  string
	Quality       int
	OutputPath    string
}

func Default() *Config {
	return &Config{
		Log: LogConfig{Mode: "dev"},
		Server: ServerConfig{
			Addr:           ":8085",
			AllowedOrigins: []string{"http://localhost:5173"},
			MaxUploadMB:    512,
		},
		Storage: StorageConfig{
			Driver:  "file",
			DataDir: "data",
		},
		GenAI: GenAIConfig{
			Provider:      "gemini",
			AnalysisModel: "gemini-2.5-flash",
			ImageModel:    "gemini-3-pro-image-preview",
			BatchSize:     3,
			BatchPause:    500 * time.Millisecond,
			Timeout:       5 * time.Minute,
		},
		Export: ExportConfig{
			Width:         1920,
			Height:        1080,
			FPS:           30,
			VideoEncoder:  "libx264",
			SampleRate:    48000,
			Channels:      2,
			Crossfade:     0.5,
			Motion:        "kenburns",
			Captions:      true,
			ProgressEvery: 15,
			TailSeconds:   3,
			OutputDir:     "output",
		},
		Playback: PlaybackConfig{
			Crossfade:   1200 * time.Millisecond,
			SkipSeconds: 10,
			PreviewSize: 960,
		},
		Collage: CollageConfig{
			Columns:    3,
			CellWidth:  640,
			CellHeight: 360,
		},
	}
}

// Load reads an optional YAML file over the defaults, then applies .env and
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	// .env is optional; production injects real env vars.
	_ = godotenv.Load()
	cfg.applyEnv()

	if err := cfg.ApplyPreset(cfg.Export.Preset); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := firstEnv("GEMINI_API_KEY", "API_KEY"); v != "" {
		c.GenAI.APIKey = v
	}
	if v := os.Getenv("STORYREEL_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("STORYREEL_STORAGE_DRIVER"); v != "" {
		c.Storage.Driver = v
	}
	if v := os.Getenv("STORYREEL_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("STORYREEL_IMAGE_PROVIDER"); v != "" {
		c.GenAI.Provider = v
	}
	if v := os.Getenv("LOG_MODE"); v != "" {
		c.Log.Mode = v
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		c.Server.AllowedOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("STORYREEL_FPS"); v != "" {
		if fps, err := strconv.Atoi(v); err == nil {
			c.Export.FPS = fps
		}
	}
}

func firstEnv(names ...string) string {
	for _, n := range names {
		if v := strings.TrimSpace(os.Getenv(n)); v != "" {
			return v
		}
	}
	return ""
}

// ApplyPreset overrides the export resolution with a named aspect preset.
func (c *Config) ApplyPreset(preset string) error {
	switch preset {
	case "":
	case "16:9":
		c.Export.Width, c.Export.Height = 1920, 1080
	case "9:16":
		c.Export.Width, c.Export.Height = 1080, 1920
	case "4:5":
		c.Export.Width, c.Export.Height = 1080, 1350
	default:
		return fmt.Errorf("unknown preset %q (16:9, 9:16, 4:5)", preset)
	}
	c.Export.Preset = preset
	return nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Export.Width <= 0 || c.Export.Height <= 0 {
		errs = append(errs, fmt.Errorf("export resolution must be positive, got %dx%d", c.Export.Width, c.Export.Height))
	}
	// yuv420p needs even dimensions.
	if c.Export.Width%2 != 0 || c.Export.Height%2 != 0 {
		errs = append(errs, fmt.Errorf("export resolution must be even, got %dx%d", c.Export.Width, c.Export.Height))
	}
	if c.Export.FPS <= 0 || c.Export.FPS > 120 {
		errs = append(errs, fmt.Errorf("export fps out of range: %d", c.Export.FPS))
	}
	if c.Export.SampleRate <= 0 || c.Export.Channels <= 0 {
		errs = append(errs, errors.New("export audio format must be positive"))
	}
	if c.Export.ProgressEvery <= 0 {
		c.Export.ProgressEvery = 1
	}
	if c.GenAI.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("genai batch_size must be positive, got %d", c.GenAI.BatchSize))
	}
	switch c.Storage.Driver {
	case "file", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}
	switch c.GenAI.Provider {
	case "gemini", "pollinations":
	default:
		errs = append(errs, fmt.Errorf("unknown image provider %q", c.GenAI.Provider))
	}
	switch c.Export.Motion {
	case "kenburns", "static", "":
	default:
		errs = append(errs, fmt.Errorf("unknown motion effect %q", c.Export.Motion))
	}
	if c.Export.Crossfade < 0 {
		errs = append(errs, errors.New("export crossfade must not be negative"))
	}
	if c.Collage.Columns <= 0 {
		errs = append(errs, errors.New("collage columns must be positive"))
	}
	return errors.Join(errs...)
}

// EncodeParams derives encoder settings for an export written to outputPath.
func (c ExportConfig) EncodeParams(outputPath string) EncodeParams {
	return EncodeParams{
		Width:        c.Width,
		Height:       c.Height,
		FPS:          c.FPS,
		SampleRate:   c.SampleRate,
		Channels:     c.Channels,
		VideoEncoder: c.VideoEncoder,
		Quality:      c.Quality,
		OutputPath:   outputPath,
	}
}
