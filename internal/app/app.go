// Package app wires all Parley subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the interactive console and the observability
// server, and Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithAcquirer, WithDialer, etc.). When an option is not provided, New
// creates real device and channel backends from the config.
package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/parley-voice/parley/internal/capture"
	"github.com/parley-voice/parley/internal/config"
	"github.com/parley-voice/parley/internal/eval"
	"github.com/parley-voice/parley/internal/health"
	"github.com/parley-voice/parley/internal/observe"
	"github.com/parley-voice/parley/internal/playback"
	"github.com/parley-voice/parley/internal/resilience"
	"github.com/parley-voice/parley/internal/session"
	"github.com/parley-voice/parley/internal/transcript"
	"github.com/parley-voice/parley/pkg/media"
	"github.com/parley-voice/parley/pkg/media/miniaudio"
	"github.com/parley-voice/parley/pkg/media/v4l2"
	"github.com/parley-voice/parley/pkg/realtime"
	"github.com/parley-voice/parley/pkg/realtime/openai"
)

// App owns all subsystem lifetimes and drives the conversation session.
type App struct {
	cfg *config.Config

	acquirer  media.Acquirer
	dialer    realtime.Dialer
	speaker   media.Speaker
	evaluator session.Evaluator

	player     *playback.Player
	assembler  *transcript.Assembler
	controller *session.Controller
	recordings *RecordingStore
	evalStore  *eval.FileStore
	preview    *PreviewSurface
	metrics    *observe.Metrics

	console io.Reader
	out     io.Writer

	// closers are called in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithAcquirer injects a media acquirer instead of creating device backends.
func WithAcquirer(a media.Acquirer) Option {
	return func(app *App) { app.acquirer = a }
}

// WithDialer injects a channel dialer instead of the OpenAI backend.
func WithDialer(d realtime.Dialer) Option {
	return func(app *App) { app.dialer = d }
}

// WithSpeaker injects a playback speaker instead of the miniaudio backend.
func WithSpeaker(s media.Speaker) Option {
	return func(app *App) { app.speaker = s }
}

// WithEvaluator injects an evaluation client.
func WithEvaluator(e session.Evaluator) Option {
	return func(app *App) { app.evaluator = e }
}

// WithConsole redirects the interactive console. Used by tests.
func WithConsole(in io.Reader, out io.Writer) Option {
	return func(app *App) {
		app.console = in
		app.out = out
	}
}

// New creates an App by wiring all subsystems together. Use Option functions
// to inject test doubles for any subsystem.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:     cfg,
		console: os.Stdin,
		out:     os.Stdout,
		metrics: observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(a)
	}

	if err := a.initSpeaker(); err != nil {
		return nil, fmt.Errorf("app: init speaker: %w", err)
	}
	a.initAcquirer()
	a.initDialer()
	a.initEvaluator()

	a.player = playback.New(a.speaker, playback.WithQueueObserver(func(delta int64) {
		a.metrics.PlaybackQueueDepth.Add(context.Background(), delta)
	}))
	a.closers = append(a.closers, func() error {
		a.player.Close()
		return nil
	})

	a.assembler = transcript.NewAssembler()

	if cfg.Recordings.Dir != "" {
		a.recordings = NewRecordingStore(cfg.Recordings.Dir, cfg.Recordings.Keep)
	}
	if cfg.Evaluation.ResultsFile != "" {
		a.evalStore = eval.NewFileStore(cfg.Evaluation.ResultsFile)
	}
	if cfg.Devices.Camera != "" {
		a.preview = &PreviewSurface{}
	}

	a.controller = session.New(session.Config{
		Acquirer:      a.acquirer,
		Dialer:        a.dialer,
		Video:         cfg.Devices.Camera != "",
		SessionConfig: channelSessionConfig(cfg.Channel),
		Player:        a.player,
		Assembler:     a.assembler,
		Evaluator:     a.evaluator,
		Mapping:       speakerMapping(cfg.Evaluation.Speakers),
		Preview:       a.previewSink(),
		NewEncoder:    a.encoderFactory(),
		OnRecording:   a.recordingSink(),
		Metrics:       a.metrics,
	})

	return a, nil
}

// Controller exposes the session controller, mainly for tests and for the
// observability status endpoint.
func (a *App) Controller() *session.Controller { return a.controller }

// Preview exposes the live camera preview surface, or nil when no camera is
// configured.
func (a *App) Preview() *PreviewSurface { return a.preview }

// ApplyConfig applies the hot-reloadable parts of a changed config: channel
// session settings take effect on the next session start, speaker labels on
// the next evaluation. Device and server settings require a restart.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if !d.Any() {
		return
	}
	if d.ChannelChanged {
		a.controller.UpdateSessionConfig(channelSessionConfig(new.Channel))
		slog.Info("channel settings reloaded; applies to next session")
	}
	if d.EvaluationChanged {
		a.controller.UpdateMapping(speakerMapping(new.Evaluation.Speakers))
		slog.Info("evaluation settings reloaded")
	}
	if d.LogLevelChanged {
		slog.Info("log level change requires restart", "new_level", d.NewLogLevel)
	}
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initSpeaker opens the playback device unless one was injected.
func (a *App) initSpeaker() error {
	if a.speaker != nil {
		return nil
	}
	sp, err := miniaudio.NewSpeaker(miniaudio.Config{
		SampleRate: a.cfg.Devices.SampleRate,
	})
	if err != nil {
		return err
	}
	a.speaker = sp
	a.closers = append(a.closers, sp.Close)
	return nil
}

// initAcquirer builds the device acquirer: the microphone backend, combined
// with the camera backend when one is configured.
func (a *App) initAcquirer() {
	if a.acquirer != nil {
		return
	}
	mic := miniaudio.NewAcquirer(miniaudio.Config{
		SampleRate: a.cfg.Devices.SampleRate,
	})
	if a.cfg.Devices.Camera == "" {
		a.acquirer = mic
		return
	}
	a.acquirer = &media.Mux{
		AudioBackend: mic,
		VideoBackend: v4l2.NewAcquirer(v4l2.Config{Device: a.cfg.Devices.Camera}),
	}
}

// initDialer builds the realtime channel dialer unless one was injected.
func (a *App) initDialer() {
	if a.dialer != nil {
		return
	}
	apiKey := a.cfg.Channel.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	var opts []openai.Option
	if a.cfg.Channel.Model != "" {
		opts = append(opts, openai.WithModel(a.cfg.Channel.Model))
	}
	if a.cfg.Channel.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(a.cfg.Channel.BaseURL))
	}
	a.dialer = session.NewRedialer(openai.New(apiKey, opts...))
}

// initEvaluator builds the evaluation client when a service is configured.
func (a *App) initEvaluator() {
	if a.evaluator != nil || a.cfg.Evaluation.BaseURL == "" {
		return
	}
	var opts []eval.Option
	if a.cfg.Evaluation.Timeout > 0 {
		opts = append(opts, eval.WithTimeout(a.cfg.Evaluation.Timeout.Std()))
	}
	a.evaluator = resilience.NewGuardedEvaluator(eval.NewClient(a.cfg.Evaluation.BaseURL, opts...))
}

// previewSink routes sampled camera frames onto the preview surface, or nil
// when no camera is configured.
func (a *App) previewSink() capture.VideoSink {
	if a.preview == nil {
		return nil
	}
	return a.preview.Accept
}

// encoderFactory returns a constructor for per-recording video encoders, or
// nil when no camera is configured.
func (a *App) encoderFactory() func() capture.Encoder {
	if a.cfg.Devices.Camera == "" {
		return nil
	}
	vc := a.cfg.Devices.Video
	return func() capture.Encoder {
		return capture.NewFFmpegEncoder(capture.FFmpegConfig{
			Binary:      vc.FFmpegBinary,
			PixelFormat: vc.PixelFormat,
			FPS:         vc.FPS,
		})
	}
}

// recordingSink persists finished recordings when a directory is configured.
func (a *App) recordingSink() func(media.VideoRecording) {
	if a.cfg.Recordings.Dir == "" {
		return nil
	}
	return func(rec media.VideoRecording) {
		path, err := a.recordings.Save(rec)
		if err != nil {
			slog.Warn("save recording failed", "err", err)
			return
		}
		slog.Info("recording saved", "path", path, "bytes", len(rec.Data))
	}
}

// channelSessionConfig maps the config block onto the channel session config.
func channelSessionConfig(cc config.ChannelConfig) realtime.SessionConfig {
	format := realtime.AudioFormat(cc.InputFormat)
	if format == "" {
		format = realtime.FormatPCM16
	}
	return realtime.SessionConfig{
		Instructions:             cc.Instructions,
		Voice:                    cc.Voice,
		InputFormat:              format,
		EnableInputTranscription: cc.InputTranscription,
	}
}

// speakerMapping maps the config block onto the transcript speaker labels.
func speakerMapping(sc config.SpeakersConfig) transcript.SpeakerMapping {
	m := transcript.DefaultSpeakerMapping
	if sc.User != "" {
		m.User = sc.User
	}
	if sc.Assistant != "" {
		m.Assistant = sc.Assistant
	}
	return m
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the observability server and the interactive console, blocking
// until ctx is cancelled or the user quits. A live session is stopped before
// Run returns.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.Server.ListenAddr != "" {
		srv := a.buildServer()
		g.Go(func() error {
			slog.Info("observability server listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: observability server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutCtx)
		})
	}

	g.Go(func() error {
		return a.consoleLoop(ctx)
	})

	err := g.Wait()

	// Make sure no session outlives Run.
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if stopErr := a.controller.Stop(stopCtx); stopErr != nil {
		slog.Warn("session stop during shutdown failed", "err", stopErr)
	}

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// buildServer assembles the observability HTTP server: health probes, the
// session status endpoint, and Prometheus metrics, all behind the tracing
// middleware.
func (a *App) buildServer() *http.Server {
	mux := http.NewServeMux()

	h := health.New(func() health.Status {
		return health.Status{
			State:         a.controller.State().String(),
			VideoActive:   a.controller.VideoActive(),
			TranscriptLen: a.assembler.Len(),
			CanEvaluate:   a.controller.CanEvaluate(),
		}
	})
	h.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	if a.preview != nil {
		mux.Handle("GET /previewz", a.preview)
	}

	return &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// consoleLoop reads commands from the console until EOF, "quit", or ctx
// cancellation. Commands: start, stop, video on, video off, eval, status,
// quit.
func (a *App) consoleLoop(ctx context.Context) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(a.console)
		for sc.Scan() {
			select {
			case lines <- strings.TrimSpace(sc.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()

	a.printf("parley ready. commands: start | stop | video on | video off | eval | status | quit\n")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return context.Canceled
			}
			if line == "" {
				continue
			}
			if line == "quit" || line == "exit" {
				return context.Canceled
			}
			a.dispatch(ctx, line)
		}
	}
}

// dispatch runs a single console command.
func (a *App) dispatch(ctx context.Context, line string) {
	switch line {
	case "start":
		if err := a.controller.Start(ctx); err != nil {
			a.printf("start failed: %v\n", err)
			return
		}
		a.printf("session %s recording\n", a.controller.ID())

	case "stop":
		if err := a.controller.Stop(ctx); err != nil {
			a.printf("stop failed: %v\n", err)
			return
		}
		a.printf("session stopped (%d transcript entries)\n", a.assembler.Len())

	case "video on":
		if err := a.controller.StartVideo(); err != nil {
			a.printf("video start failed: %v\n", err)
			return
		}
		a.printf("video capture on\n")

	case "video off":
		if err := a.controller.StopVideo(ctx); err != nil {
			a.printf("video stop failed: %v\n", err)
			return
		}
		a.printf("video capture off\n")

	case "eval":
		verdict, err := a.controller.Evaluate(ctx)
		if err != nil {
			a.printf("evaluation failed: %v\n", err)
			return
		}
		if a.evalStore != nil {
			if err := a.evalStore.Append(a.controller.ID(), *verdict); err != nil {
				slog.Warn("persist evaluation failed", "err", err)
			}
		}
		a.printf("evaluation: %s (%.1f)\n", verdict.Classification, verdict.OverallScore)
		for _, c := range verdict.Criteria {
			a.printf("  %-24s %.1f\n", c.Name, c.Score)
		}
		if verdict.ImprovementSuggestion != "" {
			a.printf("  suggestion: %s\n", verdict.ImprovementSuggestion)
		}

	case "status":
		a.printf("state=%s video=%v transcript=%d can_evaluate=%v\n",
			a.controller.State(), a.controller.VideoActive(),
			a.assembler.Len(), a.controller.CanEvaluate())

	default:
		a.printf("unknown command %q\n", line)
	}
}

func (a *App) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		if err := a.controller.Stop(ctx); err != nil {
			slog.Warn("session stop error", "err", err)
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
