package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/vango-go/vai-live/internal/logging"
	"github.com/vango-go/vai-live/pkg/live/audio"
	"github.com/vango-go/vai-live/pkg/live/config"
	"github.com/vango-go/vai-live/pkg/live/frames"
	"github.com/vango-go/vai-live/pkg/live/location"
	"github.com/vango-go/vai-live/pkg/live/metrics"
	"github.com/vango-go/vai-live/pkg/live/session"
	"github.com/vango-go/vai-live/pkg/live/transport/gemini"
	"github.com/vango-go/vai-live/pkg/live/transport/relay"
)

// Devices are created lazily so tests never touch audio hardware.
type liveDeps struct {
	loadConfig    func() (config.Config, error)
	newMicrophone func() (audio.Microphone, io.Closer, error)
	newSpeaker    func(sampleRate int) (audio.Speaker, error)
	newDialer     func(ctx context.Context, cfg config.Config, logger *slog.Logger) (session.Dialer, error)
	newScreen     func(cfg config.Config) frames.ScreenSource
	isTerminal    func() bool
	signalNotify  func(chan<- os.Signal, ...os.Signal)
	signalStop    func(chan<- os.Signal)
}

func defaultLiveDeps() liveDeps {
	return liveDeps{
		loadConfig: func() (config.Config, error) { return config.FromEnv(), nil },
		newMicrophone: func() (audio.Microphone, io.Closer, error) {
			mic := audio.NewMalgoMicrophone()
			return mic, mic, nil
		},
		newSpeaker: func(rate int) (audio.Speaker, error) {
			return audio.NewOtoSpeaker(rate)
		},
		newDialer: newDialer,
		newScreen: func(cfg config.Config) frames.ScreenSource {
			return frames.NewFFmpegScreen(cfg.ScreenDisplay)
		},
		isTerminal: func() bool { return term.IsTerminal(int(os.Stdin.Fd())) },
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func newDialer(ctx context.Context, cfg config.Config, logger *slog.Logger) (session.Dialer, error) {
	switch cfg.Backend {
	case config.BackendRelay:
		d := relay.NewDialer(relay.Config{
			URL:              cfg.RelayURL,
			APIKey:           cfg.RelayAPIKey,
			HandshakeTimeout: cfg.RelayHandshakeTimeout,
			WriteTimeout:     cfg.RelayWriteTimeout,
			PingInterval:     cfg.RelayPingInterval,
		}, logger)
		return session.Adapt(d.Dial), nil
	default:
		d, err := gemini.NewDialer(ctx, cfg.GeminiAPIKey, cfg.Model, logger)
		if err != nil {
			return nil, err
		}
		return session.Adapt(d.Dial), nil
	}
}

func locationProvider(cfg config.Config) location.Provider {
	switch cfg.Location {
	case config.LocationStatic:
		return location.Static{Latitude: cfg.Latitude, Longitude: cfg.Longitude}
	case config.LocationNone:
		return location.None{}
	default:
		return location.NewIPProvider(cfg.LocationURL)
	}
}

type flagValues struct {
	configPath  string
	envFile     string
	backend     string
	model       string
	persona     string
	locationOpt string
	metricsAddr string
	logLevel    string
	logFormat   string
	gain        float64
	muted       bool
	autoStart   bool
}

// applyFlags overlays flags the user actually set.
func applyFlags(cmd *cobra.Command, cfg config.Config, f flagValues) (config.Config, error) {
	changed := cmd.Flags().Changed
	if changed("backend") {
		cfg.Backend = config.Backend(f.backend)
	}
	if changed("model") {
		cfg.Model = f.model
	}
	if changed("persona") {
		cfg.Persona = f.persona
	}
	if changed("location") {
		cfg.Location = config.LocationMode(f.locationOpt)
	}
	if changed("metrics-addr") {
		cfg.MetricsAddr = f.metricsAddr
	}
	if changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if changed("log-format") {
		cfg.LogFormat = f.logFormat
	}
	if changed("gain") {
		cfg.InputGain = f.gain
	}
	if changed("muted") {
		cfg.Muted = f.muted
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func newRootCommand(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, deps liveDeps) *cobra.Command {
	var f flagValues
	cmd := &cobra.Command{
		Use:           "vai-live",
		Short:         "Real-time voice and vision console for a live multimodal assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(f.envFile); err != nil {
				return err
			}
			cfg, err := deps.loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg, err = config.Overlay(cfg, f.configPath); err != nil {
				return err
			}
			if cfg, err = applyFlags(cmd, cfg, f); err != nil {
				return err
			}
			logger, err := logging.New(stderr, cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			return runLive(ctx, cfg, logger, stdin, stdout, f.autoStart, deps)
		},
	}
	cmd.SetIn(stdin)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	fl := cmd.Flags()
	fl.StringVar(&f.configPath, "config", "", "YAML config file (defaults to $VAI_LIVE_CONFIG)")
	fl.StringVar(&f.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	fl.StringVar(&f.backend, "backend", "", "transport backend: gemini|relay")
	fl.StringVar(&f.model, "model", "", "live model name")
	fl.StringVar(&f.persona, "persona", "", "initial persona: jarvis|friday|ultron")
	fl.StringVar(&f.locationOpt, "location", "", "location source: ip|static|none")
	fl.StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	fl.StringVar(&f.logLevel, "log-level", "", "debug|info|warn|error")
	fl.StringVar(&f.logFormat, "log-format", "", "text|json|logfmt")
	fl.Float64Var(&f.gain, "gain", 1, "microphone gain in [0, 2]")
	fl.BoolVar(&f.muted, "muted", false, "start with the microphone muted")
	fl.BoolVar(&f.autoStart, "start", false, "open a session immediately")
	return cmd
}

func runLive(ctx context.Context, cfg config.Config, logger *slog.Logger, stdin io.Reader, stdout io.Writer, autoStart bool, deps liveDeps) error {
	if deps.newMicrophone == nil || deps.newSpeaker == nil || deps.newDialer == nil {
		return errors.New("missing device dependencies")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	knowledge, err := cfg.Knowledge()
	if err != nil {
		return err
	}
	dialer, err := deps.newDialer(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init transport: %w", err)
	}
	mic, micCloser, err := deps.newMicrophone()
	if err != nil {
		return fmt.Errorf("init microphone: %w", err)
	}
	if micCloser != nil {
		defer micCloser.Close()
	}
	speaker, err := deps.newSpeaker(audio.PlaybackSampleRate)
	if err != nil {
		return fmt.Errorf("init speaker: %w", err)
	}
	var screen frames.ScreenSource
	if deps.newScreen != nil {
		screen = deps.newScreen(cfg)
	}

	m := metrics.New("vai_live")
	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux(m), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics listener failed", "addr", cfg.MetricsAddr, "error", err)
			}
		}()
		defer srv.Close()
		logger.Info("serving metrics", "addr", cfg.MetricsAddr)
	}

	encoder := frames.NewJPEGEncoder()
	encoder.MaxWidth = cfg.FrameMaxWidth
	encoder.Quality = cfg.FrameQuality

	interactive := deps.isTerminal != nil && deps.isTerminal()
	con := newConsole(stdout, interactive)

	orch, err := session.New(session.Dependencies{
		Dialer:     dialer,
		Microphone: mic,
		Speaker:    speaker,
		Screen:     screen,
		Location:   locationProvider(cfg),
		Encoder:    encoder,
		Metrics:    m,
		Logger:     logger,
		Knowledge:  knowledge,
		OnUpdate:   con.update,
		Config: session.Config{
			Model:           cfg.Model,
			Persona:         cfg.Persona,
			Gain:            cfg.InputGain,
			Muted:           cfg.Muted,
			LocationTimeout: cfg.LocationTimeout,
			FramePeriod:     cfg.FramePeriod,
			AudioQueue:      cfg.AudioQueue,
			ImageQueue:      cfg.ImageQueue,
		},
	})
	if err != nil {
		return err
	}
	con.ctl = orch

	runErr := make(chan error, 1)
	go func() { runErr <- orch.Run(ctx) }()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	logger.Info("console ready", "backend", cfg.Backend, "persona", cfg.Persona)
	if autoStart {
		orch.Start()
	}

	consoleDone := make(chan struct{})
	go func() {
		con.run(ctx, stdin)
		close(consoleDone)
	}()

	select {
	case <-consoleDone:
	case <-ctx.Done():
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}
	cancel()
	return <-runErr
}

func metricsMux(m *metrics.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return mux
}

func runMain(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer, deps liveDeps) int {
	if stdin == nil {
		stdin = os.Stdin
	}
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	cmd := newRootCommand(ctx, stdin, stdout, stderr, deps)
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(stderr, "vai-live: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr, defaultLiveDeps()))
}
