// Command parley is a terminal client for real-time voice conversations with
// a remote conversational agent. It streams microphone audio over a WebSocket
// while the agent is listening, plays the agent's synthesized speech as it
// arrives, and prints the reconstructed transcript.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/parley-voice/parley/internal/client"
	"github.com/parley-voice/parley/internal/config"
	"github.com/parley-voice/parley/internal/conversation"
	"github.com/parley-voice/parley/internal/health"
	"github.com/parley-voice/parley/internal/observe"
	"github.com/parley-voice/parley/pkg/capture"
	capturemalgo "github.com/parley-voice/parley/pkg/capture/malgo"
	captureopus "github.com/parley-voice/parley/pkg/capture/opus"
	"github.com/parley-voice/parley/pkg/pcm"
	playbackoto "github.com/parley-voice/parley/pkg/playback/oto"
	"github.com/parley-voice/parley/pkg/transport"
	"github.com/parley-voice/parley/pkg/transport/ws"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (optional)")
	serverURL := flag.String("server", "", "WebSocket URL of the remote agent (overrides config)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg := &config.Config{}
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "parley: %v\n", err)
			return 1
		}
	}
	if *serverURL != "" {
		cfg.Server.URL = *serverURL
	}
	if cfg.Server.URL == "" {
		fmt.Fprintln(os.Stderr, "parley: no server URL — pass -server or set server.url in the config file")
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(context.Background(), observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Audio devices ─────────────────────────────────────────────────────────
	var sourceOpts []capturemalgo.Option
	if cfg.Audio.CaptureSampleRate > 0 {
		sourceOpts = append(sourceOpts, capturemalgo.WithFormat(pcm.Format{
			SampleRate: cfg.Audio.CaptureSampleRate,
			Channels:   1,
		}))
	}
	source := capturemalgo.NewSource(sourceOpts...)

	var playerOpts []playbackoto.Option
	if cfg.Audio.PlaybackSampleRate > 0 {
		playerOpts = append(playerOpts, playbackoto.WithSampleRate(cfg.Audio.PlaybackSampleRate))
	}
	player, err := playbackoto.NewPlayer(playerOpts...)
	if err != nil {
		slog.Error("failed to initialise audio output", "err", err)
		return 1
	}

	// ── Transport session ─────────────────────────────────────────────────────
	slog.Info("parley connecting", "server", cfg.Server.URL)
	sess, err := ws.Dial(ctx, cfg.Server.URL, ws.WithLogger(logger))
	if err != nil {
		slog.Error("failed to connect", "server", cfg.Server.URL, "err", err)
		return 1
	}

	// ── Client ────────────────────────────────────────────────────────────────
	rend := newRenderer(os.Stdout)
	cli := client.New(client.Config{
		Session: sess,
		Source:  source,
		NewEncoder: func() (capture.Encoder, error) {
			return captureopus.NewEncoder(source.Format())
		},
		Player:       player,
		Cadence:      cfg.Audio.Cadence(),
		Logger:       logger,
		OnStatus:     rend.Status,
		OnTranscript: rend.Transcript,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return cli.Run(ctx) })

	// ── Diagnostics endpoint (optional) ───────────────────────────────────────
	if addr := cfg.Metrics.ListenAddr; addr != "" {
		srv := newDiagnosticsServer(addr, sess)
		g.Go(func() error {
			err := srv.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		slog.Info("diagnostics endpoint listening", "addr", addr)
	}

	// ── Talk toggle ───────────────────────────────────────────────────────────
	// Reading stdin is not cancellable; the goroutine is simply abandoned on
	// exit.
	go func() {
		fmt.Println("Press Enter to talk, Enter again to send. Ctrl+C quits.")
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			cli.PressTalk()
		}
	}()

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("session ended with error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// newLogger builds the process logger from the log config.
func newLogger(cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level.Slog()}
	if cfg.JSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// newDiagnosticsServer serves Prometheus metrics and health probes. Readiness
// tracks the transport session: once the socket closes, the client is no
// longer ready.
func newDiagnosticsServer(addr string, sess transport.Session) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(health.Checker{
		Name: "session",
		Check: func(context.Context) error {
			if st := sess.State(); st != transport.StateOpen {
				return fmt.Errorf("session state is %s", st)
			}
			return nil
		},
	}).Register(mux)
	return &http.Server{Addr: addr, Handler: mux}
}

// ─── Terminal rendering ───────────────────────────────────────────────────────

// renderer prints status changes and transcript growth to the terminal.
type renderer struct {
	out       *os.File
	rendered  int
	lastChunk string
}

func newRenderer(out *os.File) *renderer {
	return &renderer{out: out}
}

// Status prints each status change on its own line.
func (r *renderer) Status(st conversation.Status) {
	fmt.Fprintf(r.out, "\n[%s]\n", st.Display)
}

// Transcript prints newly appended turns, and re-prints the last turn's
// growing content as assistant chunks stream in.
func (r *renderer) Transcript(turns []conversation.Turn) {
	for ; r.rendered < len(turns); r.rendered++ {
		turn := turns[r.rendered]
		label := "You"
		if turn.Role == conversation.RoleAssistant {
			label = "Agent"
		}
		fmt.Fprintf(r.out, "%s: %s", label, turn.Content)
		if r.rendered < len(turns)-1 || turn.Role == conversation.RoleUser {
			fmt.Fprintln(r.out)
		}
		r.lastChunk = turn.Content
	}

	// Stream the tail of an in-progress assistant turn.
	if len(turns) > 0 {
		last := turns[len(turns)-1]
		if last.Role == conversation.RoleAssistant && strings.HasPrefix(last.Content, r.lastChunk) {
			fmt.Fprint(r.out, strings.TrimPrefix(last.Content, r.lastChunk))
			r.lastChunk = last.Content
		}
	}
}
