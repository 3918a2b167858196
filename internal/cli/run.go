package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/fieldsync/internal/config"
	"github.com/roach88/fieldsync/internal/engine"
	"github.com/roach88/fieldsync/internal/fixture"
	"github.com/roach88/fieldsync/internal/session"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	dbFlags
	Fixtures   string
	ConfigPath string
	Incident   int64
	Room       int64
	All        bool
	LowData    bool
	Once       bool

	// EngineOptions are passed to the session's engine (for testing).
	EngineOptions []engine.Option
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a sync session against a fixture directory",
		Long: `Open a sync session on the database and poll a fixture directory in place
of the server until interrupted.

Without --incident the session resumes the polling groups the previous one
left armed. --incident and --room select a scope instead. --once fires every
armed resource type a single time, applies the results and exits.

A file named OFFLINE in the fixture directory makes every request fail.

Examples:
  fieldsync run --db ./fieldsync.db --fixtures ./fixtures --incident 1 --room 10
  fieldsync run --config ./fieldsync.yaml --fixtures ./fixtures --once`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(opts, cmd)
		},
	}

	opts.bind(cmd, false)
	cmd.Flags().StringVar(&opts.Fixtures, "fixtures", "", "fixture directory served as the server (required)")
	_ = cmd.MarkFlagRequired("fixtures")
	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "YAML config file")
	cmd.Flags().Int64Var(&opts.Incident, "incident", 0, "incident to select")
	cmd.Flags().Int64Var(&opts.Room, "room", 0, "collaboration room to select (needs --incident)")
	cmd.Flags().BoolVar(&opts.All, "all", false, "also arm the all-resources group")
	cmd.Flags().BoolVar(&opts.LowData, "low-data", false, "poll at the low-data rate")
	cmd.Flags().BoolVar(&opts.Once, "once", false, "fire once, apply results and exit")

	return cmd
}

// loadConfig reads the config file, if any, and applies flag overrides.
func (o *RunOptions) loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if o.ConfigPath != "" {
		loaded, err := config.Load(o.ConfigPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	if o.Database != "" {
		cfg.Store.Path = o.Database
	}
	if cmd.Flags().Changed("driver") {
		cfg.Store.Driver = o.Driver
	}
	if o.LowData {
		cfg.LowDataMode = true
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func runSession(opts *RunOptions, cmd *cobra.Command) error {
	if opts.Room > 0 && opts.Incident <= 0 {
		return NewExitError(ExitCommandError, "--room requires --incident")
	}
	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	transport, err := fixture.New(opts.Fixtures)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid fixture directory", err)
	}

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	slog.Info("opening session", "db", cfg.Store.Path, "driver", cfg.Store.Driver, "fixtures", opts.Fixtures)
	s, err := session.Open(ctx, cfg, transport,
		session.WithLogger(slog.Default()),
		session.WithEngineOptions(opts.EngineOptions...),
	)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open session", err)
	}
	defer func() {
		if closeErr := s.Close(); closeErr != nil {
			slog.Error("error closing session", "error", closeErr)
		}
	}()

	if err := selectScope(ctx, s, opts); err != nil {
		return WrapExitError(ExitFailure, "failed to start polling", err)
	}

	if opts.Once {
		if err := s.Drain(ctx); err != nil {
			return WrapExitError(ExitFailure, "sync failed", err)
		}
		snap, err := session.Inspect(ctx, s.Store())
		if err != nil {
			return WrapExitError(ExitFailure, "failed to read state", err)
		}
		return newFormatter(cmd, opts.RootOptions).Render(snap, func(w io.Writer) {
			writeSnapshot(w, snap)
		})
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "Session started (%s). Polling %s...\n", s.Scope(), opts.Fixtures)
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "engine error", err)
	}

	slog.Info("session stopped gracefully")
	return nil
}

// selectScope arms polling for the requested scope, or resumes the previous
// session's groups when none was given.
func selectScope(ctx context.Context, s *session.Session, opts *RunOptions) error {
	if opts.Incident > 0 {
		if err := s.Start(ctx); err != nil {
			return err
		}
		if err := s.SelectIncident(ctx, opts.Incident); err != nil {
			return err
		}
		if opts.Room > 0 {
			if err := s.SelectCollabroom(ctx, opts.Room); err != nil {
				return err
			}
		}
	} else {
		armed, err := s.Resume(ctx)
		if err != nil {
			return err
		}
		slog.Info("resumed polling", "groups", armed)
	}

	if opts.All {
		return s.StartPolling(ctx)
	}
	return nil
}
