package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/livetalk/internal/config"
	"github.com/MrWong99/livetalk/internal/gate"
	"github.com/MrWong99/livetalk/internal/live"
	"github.com/MrWong99/livetalk/internal/observe"
	"github.com/MrWong99/livetalk/internal/web"
	"github.com/MrWong99/livetalk/pkg/audio/pipe"
)

const shutdownTimeout = 15 * time.Second

type runFlags struct {
	gate      string
	listen    string
	autoStart bool
	console   bool
	watch     bool
}

func newRunCmd(g *globalFlags) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a live conversation",
		Long: `Start a live conversation using the local microphone and speaker.

In auto gate mode an utterance is sent after a pause in speech. In manual
mode press Enter to start talking and Enter again to send.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLive(cmd, g, f)
		},
	}
	cmd.Flags().StringVar(&f.gate, "gate", "", "gate mode override: auto or manual")
	cmd.Flags().StringVar(&f.listen, "listen", "", `HTTP listen address override ("-" disables the server)`)
	cmd.Flags().BoolVar(&f.autoStart, "autostart", true, "start the session immediately")
	cmd.Flags().BoolVar(&f.console, "console", true, "render status and read key presses on the terminal")
	cmd.Flags().BoolVar(&f.watch, "watch", true, "reload the log level when the config file changes")
	return cmd
}

func runLive(cmd *cobra.Command, g *globalFlags, f *runFlags) error {
	cfg, err := loadConfig(cmd, g)
	if err != nil {
		return err
	}
	if f.gate != "" {
		cfg.Gate.Mode = gate.Mode(f.gate)
	}
	if f.listen != "" {
		cfg.Server.ListenAddr = f.listen
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("livetalk starting",
		"version", version,
		"config", g.configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"gate", cfg.Gate.Mode,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.Setup(ctx, observe.WithService("livetalk", version))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()

	// ── Providers & session ───────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// The player outlives individual sessions; it is tied to the process.
	sinkCtx, cancelSink := context.WithCancel(context.Background())
	defer cancelSink()

	// The output rate depends on the provider, so the player is launched once
	// the session config is known.
	parts, err := buildSession(cfg, reg)
	if err != nil {
		return err
	}
	sink, err := pipe.NewSink(sinkCtx, parts.cfg.OutputRate, playbackOptions(cfg)...)
	if err != nil {
		return fmt.Errorf("open playback: %w", err)
	}
	defer sink.Close()
	parts.cfg.Sink = sink

	sess, err := live.New(parts.cfg, append(parts.opts, live.WithMetrics(tel.Metrics))...)
	if err != nil {
		return err
	}
	defer sess.Close()

	printSummary(cmd.OutOrStdout(), "livetalk", parts.summary, cfg.Server.ListenAddr)

	// ── Run ───────────────────────────────────────────────────────────────────
	eg, ctx := errgroup.WithContext(ctx)

	if cfg.Server.ListenAddr != "-" {
		srv := web.New(sess, web.WithGatherer(tel.Registry), web.WithMetrics(tel.Metrics))
		eg.Go(func() error { return srv.ListenAndServe(ctx, cfg.Server.ListenAddr) })
	}

	if f.watch && fileExists(g.configPath) {
		w, err := config.NewWatcher(g.configPath, func(_, _ *config.Config, d config.ConfigDiff) {
			if d.LogLevelChanged {
				level.Set(slogLevel(d.NewLogLevel))
				slog.Info("log level changed", "level", d.NewLogLevel)
			}
			if len(d.RestartRequired) > 0 {
				slog.Warn("config changes take effect after restart", "sections", d.RestartRequired)
			}
		})
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			eg.Go(func() error { return w.Run(ctx) })
		}
	}

	if f.console {
		c := newConsole(sess, os.Stdin, cmd.OutOrStdout())
		eg.Go(func() error { return c.Run(ctx) })
	}

	if f.autoStart {
		if err := sess.Start(ctx); err != nil {
			slog.Error("session start failed", "err", err)
		}
	}

	slog.Info("ready, press Ctrl+C to shut down")
	<-ctx.Done()

	slog.Info("shutting down")
	var errs []error
	if err := sess.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	slog.Info("goodbye")
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// slogLevel maps a configured level to slog.
func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
