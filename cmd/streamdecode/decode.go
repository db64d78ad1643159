package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ieee0824/streamdecode/acoustic"
	"github.com/ieee0824/streamdecode/decodable"
	"github.com/ieee0824/streamdecode/endpoint"
	"github.com/ieee0824/streamdecode/feature"
	"github.com/ieee0824/streamdecode/fst"
	"github.com/ieee0824/streamdecode/internal/config"
	"github.com/ieee0824/streamdecode/internal/observe"
	"github.com/ieee0824/streamdecode/online"
)

type decodeOptions struct {
	configPath  string
	jobs        int
	latticeDir  string
	metricsAddr string
}

func newDecodeCmd() *cobra.Command {
	var opts decodeOptions
	cmd := &cobra.Command{
		Use:   "decode <feats.txt>...",
		Short: "Decode feature matrices",
		Long: `Decode one or more Kaldi text feature matrices. Each file is fed to its
own session chunk by chunk; when an endpoint is detected the utterance is
finalized and decoding restarts on the same stream.

Output is one line per utterance:
  <file> <utterance> <start-seconds> <end-seconds> <words...>`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDecode(cmd, opts, args)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "streamdecode.yaml", "path to the YAML configuration file")
	f.IntVarP(&opts.jobs, "jobs", "j", 4, "number of files decoded in parallel")
	f.StringVar(&opts.latticeDir, "lattice", "", "directory to write final lattices to")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (overrides metrics_addr)")
	return cmd
}

// models are loaded once and shared read-only by all sessions.
type models struct {
	tm    *acoustic.TransitionModel
	info  *decodable.Info
	graph fst.Graph
	words *fst.SymbolTable
}

func loadModels(cfg *config.Config) (*models, error) {
	if cfg.Models.Graph == "" || cfg.Models.Acoustic == "" {
		return nil, errors.New("models.graph and models.acoustic are required")
	}
	tm, err := cfg.TransitionModel()
	if err != nil {
		return nil, fmt.Errorf("transition model: %w", err)
	}
	am, err := acoustic.LoadModelFile(cfg.Models.Acoustic, cfg.Models.AcousticType)
	if err != nil {
		return nil, fmt.Errorf("acoustic model %q: %w", cfg.Models.Acoustic, err)
	}
	info, err := decodable.NewInfo(am, cfg.Decodable.AcousticScale, cfg.Decodable.FrameSubsamplingFactor)
	if err != nil {
		return nil, err
	}
	graph, err := fst.ReadTextFile(cfg.Models.Graph)
	if err != nil {
		return nil, fmt.Errorf("graph %q: %w", cfg.Models.Graph, err)
	}
	m := &models{tm: tm, info: info, graph: graph}
	if cfg.Models.Words != "" {
		if m.words, err = fst.ReadSymbolsFile(cfg.Models.Words); err != nil {
			return nil, fmt.Errorf("words %q: %w", cfg.Models.Words, err)
		}
	}
	return m, nil
}

func runDecode(cmd *cobra.Command, opts decodeOptions, paths []string) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := cfg.MetricsAddr
	if opts.metricsAddr != "" {
		addr = opts.metricsAddr
	}
	if addr != "" {
		shutdown, err := serveMetrics(ctx, addr)
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				slog.Warn("metrics shutdown", "err", err)
			}
		}()
	}

	start := time.Now()
	m, err := loadModels(cfg)
	if err != nil {
		return err
	}
	slog.Info("models loaded", "pdfs", m.tm.NumPdfs(), "elapsed", time.Since(start))

	if opts.latticeDir != "" {
		if err := os.MkdirAll(opts.latticeDir, 0o755); err != nil {
			return err
		}
	}

	outputs := make([]bytes.Buffer, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.jobs, 1))
	for i, path := range paths {
		g.Go(func() error {
			rows, err := feature.ReadMatrixFile(path)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			d := &streamDecoder{
				models:     m,
				cfg:        cfg,
				name:       strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
				out:        &outputs[i],
				latticeDir: opts.latticeDir,
			}
			if err := d.run(gctx, rows); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	for i := range outputs {
		if _, err := outputs[i].WriteTo(w); err != nil {
			return err
		}
	}
	return nil
}

// serveMetrics installs the OTel providers and serves /metrics until ctx
// ends. The returned function stops the server and flushes the providers.
func serveMetrics(ctx context.Context, addr string) (func(context.Context) error, error) {
	shutdownOTel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "streamdecode"})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server", "addr", addr, "err", err)
		}
	}()
	slog.Info("serving metrics", "addr", addr)
	return func(ctx context.Context) error {
		return errors.Join(srv.Shutdown(ctx), shutdownOTel(ctx))
	}, nil
}

// streamDecoder splits one feature stream into utterances.
type streamDecoder struct {
	*models
	cfg        *config.Config
	name       string
	out        *bytes.Buffer
	latticeDir string

	utterance int
}

func (s *streamDecoder) run(ctx context.Context, rows [][]float64) error {
	ctx, span := observe.StartSpan(ctx, "streamdecode.decode",
		trace.WithAttributes(attribute.String("input", s.name), attribute.Int("frames", len(rows))))
	defer span.End()
	logger := observe.Logger(ctx, slog.Default()).With("input", s.name)

	var epCfg endpoint.Config
	if s.cfg.Endpoint.Enabled {
		var err error
		if epCfg, err = s.cfg.EndpointConfig(); err != nil {
			return err
		}
	}
	src, err := feature.NewMatrixSource(s.info.Model.FeatureDim(), s.cfg.Input.FrameShift)
	if err != nil {
		return err
	}
	sess, err := s.newSession(src, 0, logger)
	if err != nil {
		return err
	}
	// releases whichever session is current when run returns unfinalized
	defer func() { sess.Close() }()

	chunk := s.cfg.Input.ChunkFrames
	for start := 0; start < len(rows); start += chunk {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+chunk, len(rows))
		if err := src.AcceptFrames(rows[start:end]); err != nil {
			return err
		}
		if end == len(rows) {
			src.InputFinished()
		}
		if err := sess.AdvanceDecoding(); err != nil {
			return err
		}
		if !s.cfg.Endpoint.Enabled || sess.NumFramesDecoded() == 0 || !sess.EndpointDetected(epCfg) {
			continue
		}

		sess.TerminateDecoding()
		if err := s.finish(sess); err != nil {
			return err
		}
		offset := sess.FrameOffset() + sess.NumFramesDecoded()
		next, err := s.newSession(src, offset, logger)
		if err != nil {
			return err
		}
		sess = next
	}

	if sess.NumFramesDecoded() == 0 {
		return nil
	}
	return s.finish(sess)
}

func (s *streamDecoder) newSession(src feature.Pipeline, offset int, logger *slog.Logger) (*online.Decoder, error) {
	sess, err := online.New(s.cfg.DecoderConfig(), s.tm, s.info, s.graph, src, online.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	if offset > 0 {
		if err := sess.InitDecoding(offset); err != nil {
			sess.Close()
			return nil, err
		}
	}
	return sess, nil
}

// finish finalizes sess and writes its result line and lattice.
func (s *streamDecoder) finish(sess *online.Decoder) error {
	if err := sess.FinalizeDecoding(); err != nil {
		return err
	}
	n := sess.NumFramesDecoded()
	lat, err := sess.GetLattice(n, true)
	if err != nil {
		return err
	}
	best, _, err := lat.BestPath()
	if err != nil {
		return err
	}

	words := make([]string, 0, 8)
	for _, id := range best.Words() {
		words = append(words, s.word(id))
	}
	shift := sess.FrameShift()
	startSec := float64(sess.FrameOffset()) * shift
	fmt.Fprintf(s.out, "%s %d %.2f %.2f %s\n",
		s.name, s.utterance, startSec, startSec+float64(n)*shift, strings.Join(words, " "))

	if s.latticeDir != "" {
		path := filepath.Join(s.latticeDir, fmt.Sprintf("%s.%d.lat", s.name, s.utterance))
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		// written lattices carry unscaled acoustic costs
		lat.ScaleAcoustic(1 / s.info.AcousticScale)
		if err := lat.WriteText(f, s.words); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	s.utterance++
	return nil
}

func (s *streamDecoder) word(id fst.Label) string {
	if s.words != nil {
		if w, ok := s.words.Symbol(id); ok {
			return w
		}
	}
	return fmt.Sprint(id)
}
