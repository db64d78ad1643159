package config_test

import (
	"math"
	"strings"
	"testing"

	"github.com/ieee0824/streamdecode/acoustic"
	"github.com/ieee0824/streamdecode/decoder"
	"github.com/ieee0824/streamdecode/internal/config"
)

const sampleYAML = `
log_level: debug
metrics_addr: ":9090"
models:
  graph: HCLG.fst
  words: words.txt
  phones: [sil, a, i]
  acoustic: final.gob
  acoustic_type: dnn
decoder:
  beam: 12
  lattice_beam: 6
decodable:
  acoustic_scale: 1.0
  frame_subsampling_factor: 3
endpoint:
  silence_phones: [sil]
  end_on_no_path: true
  rule2:
    must_contain_nonsilence: true
    min_trailing_silence: 0.3
    max_relative_cost: .inf
input:
  chunk_frames: 10
`

func TestLoadFromReader_Valid(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LogLevel != config.LogDebug {
		t.Errorf("log_level: got %q", cfg.LogLevel)
	}
	if cfg.Models.AcousticType != "dnn" || cfg.Models.Graph != "HCLG.fst" {
		t.Errorf("models: got %+v", cfg.Models)
	}

	dc := cfg.DecoderConfig()
	if dc.Beam != 12 || dc.LatticeBeam != 6 {
		t.Errorf("decoder beams: got %g/%g", dc.Beam, dc.LatticeBeam)
	}
	// keys absent from the file keep their defaults
	if def := decoder.DefaultConfig(); dc.MinActive != def.MinActive || dc.DeterminizeMaxDelay != def.DeterminizeMaxDelay {
		t.Errorf("decoder defaults lost: %+v", dc)
	}
	if cfg.Input.FrameShift != 0.01 || cfg.Input.ChunkFrames != 10 {
		t.Errorf("input: got %+v", cfg.Input)
	}

	ec, err := cfg.EndpointConfig()
	if err != nil {
		t.Fatalf("EndpointConfig: %v", err)
	}
	if len(ec.SilencePhones) != 1 || ec.SilencePhones[0] != acoustic.PhonSil {
		t.Errorf("silence phones: got %v", ec.SilencePhones)
	}
	if ec.Rule2.MinTrailingSilence != 0.3 || !math.IsInf(ec.Rule2.MaxRelativeCost, 1) {
		t.Errorf("rule2: got %+v", ec.Rule2)
	}
	if !ec.EndOnNoPath {
		t.Error("end_on_no_path not applied")
	}
	if ec.Rule1.MinTrailingSilence != 5.0 {
		t.Errorf("rule1 default lost: %+v", ec.Rule1)
	}

	tm, err := cfg.TransitionModel()
	if err != nil {
		t.Fatalf("TransitionModel: %v", err)
	}
	if tm.NumPdfs() != 9 {
		t.Errorf("NumPdfs = %d, want 9", tm.NumPdfs())
	}
}

func TestLoadFromReader_EmptyIsDefault(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("unexpected error for empty config: %v", err)
	}
	if cfg.DecoderConfig() != decoder.DefaultConfig() {
		t.Errorf("decoder config = %+v, want defaults", cfg.DecoderConfig())
	}
}

func TestLoadFromReader_UnknownKey(t *testing.T) {
	_, err := config.LoadFromReader(strings.NewReader("decoder:\n  bean: 3\n"))
	if err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"log level", "log_level: verbose\n", "log_level"},
		{"acoustic type", "models:\n  acoustic_type: hmm\n", "acoustic_type"},
		{"beam", "decoder:\n  beam: -1\n", "beam"},
		{"acoustic scale", "decodable:\n  acoustic_scale: 0\n", "acoustic_scale"},
		{"subsampling", "decodable:\n  frame_subsampling_factor: 0\n", "frame_subsampling_factor"},
		{"silence phones", "endpoint:\n  silence_phones: [sil, sil]\n", "silence_phones"},
		{"chunk frames", "input:\n  chunk_frames: 0\n", "chunk_frames"},
		{"transition and phones", "models:\n  transition: t.gob\n  phones: [sil]\n", "mutually exclusive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error should mention %q, got: %v", tt.want, err)
			}
		})
	}
}

func TestValidate_MultipleErrorsJoined(t *testing.T) {
	_, err := config.LoadFromReader(strings.NewReader("log_level: loud\ninput:\n  chunk_frames: -1\n"))
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"log_level", "chunk_frames"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %q, got: %v", want, err)
		}
	}
}

func TestLogLevel(t *testing.T) {
	if config.LogLevel("trace").IsValid() {
		t.Error("trace should be invalid")
	}
	if config.LogWarn.Level().String() != "WARN" {
		t.Errorf("LogWarn.Level() = %v", config.LogWarn.Level())
	}
}
