// Package config loads the YAML configuration of the streamdecode CLI and
// converts its sections into the per-package configuration structs.
package config

import (
	"log/slog"

	"github.com/ieee0824/streamdecode/decoder"
	"github.com/ieee0824/streamdecode/endpoint"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a known level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level converts l to a slog level. Unknown levels map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Config is the root configuration.
type Config struct {
	LogLevel    LogLevel        `yaml:"log_level"`
	MetricsAddr string          `yaml:"metrics_addr"`
	Models      ModelsConfig    `yaml:"models"`
	Decoder     DecoderConfig   `yaml:"decoder"`
	Decodable   DecodableConfig `yaml:"decodable"`
	Endpoint    EndpointConfig  `yaml:"endpoint"`
	Input       InputConfig     `yaml:"input"`
}

// ModelsConfig names the shared model files. The transition model is read
// from Transition when set, otherwise built from Phones.
type ModelsConfig struct {
	Graph        string   `yaml:"graph"`
	Words        string   `yaml:"words"`
	Transition   string   `yaml:"transition"`
	Phones       []string `yaml:"phones"`
	Acoustic     string   `yaml:"acoustic"`
	AcousticType string   `yaml:"acoustic_type"` // gmm or dnn
}

// DecoderConfig mirrors decoder.Config.
type DecoderConfig struct {
	Beam                    float64 `yaml:"beam"`
	MaxActive               int     `yaml:"max_active"`
	MinActive               int     `yaml:"min_active"`
	LatticeBeam             float64 `yaml:"lattice_beam"`
	PruneInterval           int     `yaml:"prune_interval"`
	BeamDelta               float64 `yaml:"beam_delta"`
	PruneScale              float64 `yaml:"prune_scale"`
	DeterminizeMaxDelay     int     `yaml:"determinize_max_delay"`
	DeterminizeMinChunkSize int     `yaml:"determinize_min_chunk_size"`
}

// DecodableConfig holds the acoustic scoring settings.
type DecodableConfig struct {
	AcousticScale          float64 `yaml:"acoustic_scale"`
	FrameSubsamplingFactor int     `yaml:"frame_subsampling_factor"`
}

// EndpointConfig mirrors endpoint.Config with phone names.
type EndpointConfig struct {
	Enabled       bool          `yaml:"enabled"`
	SilencePhones []string      `yaml:"silence_phones"`
	Rule1         endpoint.Rule `yaml:"rule1"`
	Rule2         endpoint.Rule `yaml:"rule2"`
	Rule3         endpoint.Rule `yaml:"rule3"`
	Rule4         endpoint.Rule `yaml:"rule4"`
	Rule5         endpoint.Rule `yaml:"rule5"`
	EndOnNoPath   bool          `yaml:"end_on_no_path"`
}

// InputConfig describes how feature files are fed to a session.
type InputConfig struct {
	FrameShift  float64 `yaml:"frame_shift"`  // seconds per feature frame
	ChunkFrames int     `yaml:"chunk_frames"` // frames per AcceptFrames call
}

// Default returns the configuration used for keys absent from the file.
func Default() *Config {
	d := decoder.DefaultConfig()
	e := endpoint.DefaultConfig()
	silence := make([]string, len(e.SilencePhones))
	for i, p := range e.SilencePhones {
		silence[i] = string(p)
	}
	return &Config{
		LogLevel: LogInfo,
		Models:   ModelsConfig{AcousticType: "gmm"},
		Decoder: DecoderConfig{
			Beam:                    d.Beam,
			MaxActive:               d.MaxActive,
			MinActive:               d.MinActive,
			LatticeBeam:             d.LatticeBeam,
			PruneInterval:           d.PruneInterval,
			BeamDelta:               d.BeamDelta,
			PruneScale:              d.PruneScale,
			DeterminizeMaxDelay:     d.DeterminizeMaxDelay,
			DeterminizeMinChunkSize: d.DeterminizeMinChunkSize,
		},
		Decodable: DecodableConfig{AcousticScale: 0.1, FrameSubsamplingFactor: 1},
		Endpoint: EndpointConfig{
			Enabled:       true,
			SilencePhones: silence,
			Rule1:         e.Rule1,
			Rule2:         e.Rule2,
			Rule3:         e.Rule3,
			Rule4:         e.Rule4,
			Rule5:         e.Rule5,
		},
		Input: InputConfig{FrameShift: 0.01, ChunkFrames: 20},
	}
}

// DecoderConfig converts the decoder section.
func (c *Config) DecoderConfig() decoder.Config {
	d := c.Decoder
	return decoder.Config{
		Beam:                    d.Beam,
		MaxActive:               d.MaxActive,
		MinActive:               d.MinActive,
		LatticeBeam:             d.LatticeBeam,
		PruneInterval:           d.PruneInterval,
		BeamDelta:               d.BeamDelta,
		PruneScale:              d.PruneScale,
		DeterminizeMaxDelay:     d.DeterminizeMaxDelay,
		DeterminizeMinChunkSize: d.DeterminizeMinChunkSize,
	}
}
