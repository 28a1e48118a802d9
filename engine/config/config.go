package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spaghettifunk/lumen/engine/core"
)

type RenderMode string

const (
	RenderModeHybrid    RenderMode = "hybrid"
	RenderModePathTrace RenderMode = "pathtrace"
)

// Duration decodes TOML strings such as "10s" or "1m30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type Config struct {
	App      AppConfig      `toml:"app"`
	Window   WindowConfig   `toml:"window"`
	Log      LogConfig      `toml:"log"`
	Renderer RendererConfig `toml:"renderer"`
	Assets   AssetsConfig   `toml:"assets"`
}

type AppConfig struct {
	Name  string `toml:"name"`
	Scene string `toml:"scene"`
}

type WindowConfig struct {
	X      uint32 `toml:"x"`
	Y      uint32 `toml:"y"`
	Width  uint32 `toml:"width"`
	Height uint32 `toml:"height"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

type RendererConfig struct {
	Mode                 RenderMode `toml:"mode"`
	FramesInFlight       int        `toml:"frames_in_flight"`
	FenceTimeout         Duration   `toml:"fence_timeout"`
	BlasBatchBudgetMB    uint64     `toml:"blas_batch_budget_mb"`
	BlasCompaction       bool       `toml:"blas_compaction"`
	MaxBounces           uint32     `toml:"max_bounces"`
	MotionVectors        bool       `toml:"motion_vectors"`
	Shadows              bool       `toml:"shadows"`
	FXAA                 bool       `toml:"fxaa"`
	DebugUI              bool       `toml:"debug_ui"`
	MaxAccumulatedFrames int64      `toml:"max_accumulated_frames"`
	Validation           bool       `toml:"validation"`
}

type AssetsConfig struct {
	Root    string `toml:"root"`
	Shaders string `toml:"shaders"`
	Font    string `toml:"font"`
}

// Toggles are the renderer options that may change while running.
type Toggles struct {
	MotionVectors bool
	MaxBounces    uint32
	DebugUI       bool
	FXAA          bool
	Shadows       bool
}

func (r RendererConfig) Toggles() Toggles {
	return Toggles{
		MotionVectors: r.MotionVectors,
		MaxBounces:    r.MaxBounces,
		DebugUI:       r.DebugUI,
		FXAA:          r.FXAA,
		Shadows:       r.Shadows,
	}
}

// BlasBatchBudget is the per-submission byte budget for bottom-level builds.
func (r RendererConfig) BlasBatchBudget() uint64 {
	return r.BlasBatchBudgetMB << 20
}

func Default() *Config {
	return &Config{
		App: AppConfig{
			Name: "Lumen",
		},
		Window: WindowConfig{
			X:      100,
			Y:      100,
			Width:  1600,
			Height: 900,
		},
		Log: LogConfig{
			Level: "info",
		},
		Renderer: RendererConfig{
			Mode:                 RenderModeHybrid,
			FramesInFlight:       3,
			FenceTimeout:         Duration{10 * time.Second},
			BlasBatchBudgetMB:    236,
			BlasCompaction:       true,
			MaxBounces:           4,
			MotionVectors:        false,
			Shadows:              true,
			FXAA:                 true,
			DebugUI:              false,
			MaxAccumulatedFrames: 1 << 40,
		},
		Assets: AssetsConfig{
			Root:    "assets",
			Shaders: "shaders",
			Font:    "fonts/debug.fnt",
		},
	}
}

// Load reads path on top of Default. Keys missing from the file keep their
// default values.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		err = fmt.Errorf("failed to read config %s: %w", path, err)
		core.LogError(err.Error())
		return nil, err
	}
	if err := Decode(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode unmarshals TOML data into cfg and validates the result.
func Decode(data []byte, cfg *Config) error {
	if err := toml.Unmarshal(data, cfg); err != nil {
		err = fmt.Errorf("failed to decode config: %w", err)
		core.LogError(err.Error())
		return err
	}
	return cfg.Validate()
}

func (c *Config) Validate() error {
	switch c.Renderer.Mode {
	case RenderModeHybrid, RenderModePathTrace:
	default:
		return fmt.Errorf("renderer.mode %q is not one of hybrid, pathtrace", c.Renderer.Mode)
	}
	if c.Renderer.FramesInFlight < 1 {
		return fmt.Errorf("renderer.frames_in_flight must be at least 1, got %d", c.Renderer.FramesInFlight)
	}
	if c.Renderer.FenceTimeout.Duration <= 0 {
		return fmt.Errorf("renderer.fence_timeout must be positive")
	}
	if c.Renderer.BlasBatchBudgetMB == 0 {
		return fmt.Errorf("renderer.blas_batch_budget_mb must be positive")
	}
	if c.Window.Width == 0 || c.Window.Height == 0 {
		return fmt.Errorf("window size %dx%d is invalid", c.Window.Width, c.Window.Height)
	}
	return nil
}
