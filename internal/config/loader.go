package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ieee0824/streamdecode/acoustic"
	"github.com/ieee0824/streamdecode/endpoint"
	"gopkg.in/yaml.v3"
)

// Load reads and validates the YAML file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r over Default and validates the
// result. Unknown keys are rejected; an empty document yields the
// defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cfg and returns every problem found, joined.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}
	switch cfg.Models.AcousticType {
	case "gmm", "dnn":
	default:
		errs = append(errs, fmt.Errorf("models.acoustic_type %q is invalid; valid values: gmm, dnn", cfg.Models.AcousticType))
	}
	if cfg.Models.Transition != "" && len(cfg.Models.Phones) > 0 {
		errs = append(errs, errors.New("models.transition and models.phones are mutually exclusive"))
	}
	if _, err := acoustic.ParsePhonemes(cfg.Models.Phones); err != nil {
		errs = append(errs, fmt.Errorf("models.phones: %w", err))
	}

	if err := cfg.DecoderConfig().Validate(); err != nil {
		errs = append(errs, err)
	}

	if !(cfg.Decodable.AcousticScale > 0) {
		errs = append(errs, fmt.Errorf("decodable.acoustic_scale must be positive, got %g", cfg.Decodable.AcousticScale))
	}
	if cfg.Decodable.FrameSubsamplingFactor < 1 {
		errs = append(errs, fmt.Errorf("decodable.frame_subsampling_factor must be >= 1, got %d", cfg.Decodable.FrameSubsamplingFactor))
	}

	if cfg.Endpoint.Enabled {
		if ec, err := cfg.EndpointConfig(); err != nil {
			errs = append(errs, err)
		} else if err := ec.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("endpoint: %w", err))
		}
	}

	if !(cfg.Input.FrameShift > 0) {
		errs = append(errs, fmt.Errorf("input.frame_shift must be positive, got %g", cfg.Input.FrameShift))
	}
	if cfg.Input.ChunkFrames <= 0 {
		errs = append(errs, fmt.Errorf("input.chunk_frames must be positive, got %d", cfg.Input.ChunkFrames))
	}

	return errors.Join(errs...)
}

// EndpointConfig converts the endpoint section.
func (c *Config) EndpointConfig() (endpoint.Config, error) {
	phones, err := acoustic.ParsePhonemes(c.Endpoint.SilencePhones)
	if err != nil {
		return endpoint.Config{}, fmt.Errorf("endpoint.silence_phones: %w", err)
	}
	return endpoint.Config{
		SilencePhones: phones,
		Rule1:         c.Endpoint.Rule1,
		Rule2:         c.Endpoint.Rule2,
		Rule3:         c.Endpoint.Rule3,
		Rule4:         c.Endpoint.Rule4,
		Rule5:         c.Endpoint.Rule5,
		EndOnNoPath:   c.Endpoint.EndOnNoPath,
	}, nil
}

// TransitionModel loads or builds the transition model named by the
// models section.
func (c *Config) TransitionModel() (*acoustic.TransitionModel, error) {
	if c.Models.Transition != "" {
		return acoustic.LoadTransitionModelFile(c.Models.Transition)
	}
	if len(c.Models.Phones) == 0 {
		return acoustic.NewTransitionModel(acoustic.AllPhonemes()), nil
	}
	phones, err := acoustic.ParsePhonemes(c.Models.Phones)
	if err != nil {
		return nil, err
	}
	return acoustic.NewTransitionModel(phones), nil
}
