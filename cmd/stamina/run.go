// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/stamina/stamina/internal/dispatch"
	"github.com/stamina/stamina/internal/handlers"
	"github.com/stamina/stamina/internal/host"
	"github.com/stamina/stamina/internal/installer"
	"github.com/stamina/stamina/internal/issue"
	"github.com/stamina/stamina/internal/logging"
	"github.com/stamina/stamina/internal/unittree"
	"github.com/stamina/stamina/internal/watch"
)

// runOptions are the flag overrides of "stamina run".
type runOptions struct {
	deployDir string
	timeout   time.Duration
}

func newRunCommand(app *App) *cobra.Command {
	var opts runOptions

	runCmd := &cobra.Command{
		Use:   "run [command [args...]]",
		Short: "Run the host and dispatch a command",
		Long: `Run the host.

The deploy directory is scanned for artifacts, which are installed as
deployment units, and then watched: new artifacts are installed, changed
ones updated and removed ones uninstalled.

When a command is given, stamina waits for a handler to be registered under
its name, executes it once and stops unless the handler asks to keep the
host running. Without a command the host runs until interrupted.

Built-in commands:
  units           List the installed deployment units
  sh <script>     Run a script in the embedded POSIX shell
  status          Show host process statistics
  serve           Keep the host running until interrupted`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.run(cmd.Context(), opts, args)
		},
	}

	// Flags after the command name belong to the command.
	runCmd.Flags().SetInterspersed(false)
	runCmd.Flags().StringVar(&opts.deployDir, "deploy-dir", "", "deploy directory (overrides deploy_dir)")
	runCmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "how long to wait for the command handler (overrides command.timeout)")

	return runCmd
}

// run starts the host and blocks until it has stopped.
func (a *App) run(ctx context.Context, opts runOptions, args []string) error {
	cfg, err := a.loadConfig(ctx)
	if err != nil {
		return err
	}
	if opts.deployDir != "" {
		cfg.DeployDir = opts.deployDir
	}
	if opts.timeout > 0 {
		cfg.Command.Timeout = opts.timeout
	}

	logger, err := logging.FromConfig(cfg.Log, a.stderr)
	if err != nil {
		return err
	}

	deployDir, err := resolveDeployDir(cfg.DeployDir)
	if err != nil {
		return err
	}

	tree, err := unittree.Open(unittree.Options{
		StateFile: cfg.StateFile,
		Logger:    logger.WithPrefix("units"),
	})
	if err != nil {
		return issue.NewErrorContext().
			WithOperation("open unit tree").
			WithResource(cfg.StateFile).
			WithSuggestion("Move the state file aside and restart").
			WithIssue(issue.StateFileCorruptId).
			Wrap(err).
			BuildError()
	}

	inst, err := installer.New(installer.Config{
		Root:   tree,
		Suffix: cfg.ArtifactSuffix,
		Logger: logger.WithPrefix("installer"),
	})
	if err != nil {
		return err
	}

	retries := cfg.Watch.MaxRetries
	if retries == 0 {
		retries = -1
	}
	watcher, err := watch.New(watch.Config{
		BaseDir:    deployDir,
		Patterns:   []string{"**/*"},
		Ignore:     cfg.Watch.Ignore,
		Debounce:   cfg.Watch.Debounce,
		Installer:  inst,
		MaxRetries: retries,
		Logger:     logger.WithPrefix("watch"),
	})
	if err != nil {
		return err
	}

	h := host.New(host.WithLogger(logger.WithPrefix("host")))
	if err := h.Start(ctx); err != nil {
		return err
	}

	registry := dispatch.NewServiceRegistry()
	deregister, err := handlers.RegisterBuiltins(registry, handlers.Deps{
		Root:   tree,
		Logger: logger.WithPrefix("handlers"),
	})
	if err != nil {
		return stopHost(h, err)
	}
	defer deregister()

	if err := watcher.Scan(h.Context()); err != nil {
		logger.Warn("Some artifacts could not be deployed", "err", err)
	}
	err = h.Go("deploy-watcher", func(ctx context.Context) {
		if err := watcher.Run(ctx); err != nil {
			logger.Error("Deploy directory watcher stopped", "err", err)
			h.Fail(err)
		}
	})
	if err != nil {
		return stopHost(h, err)
	}

	wd, err := os.Getwd()
	if err != nil {
		return stopHost(h, fmt.Errorf("determine working directory: %w", err))
	}
	line := dispatch.NewCommandLine(args, wd)
	coordinator, err := dispatch.Launch(ctx, line, dispatch.Config{
		Registry: registry,
		Process:  h,
		Timeout:  cfg.Command.Timeout,
		Stdin:    a.stdin,
		Stdout:   a.stdout,
		Stderr:   a.stderr,
		Logger:   logger.WithPrefix("dispatch"),
		Spawn:    h.Go,
	})
	if err != nil {
		return stopHost(h, err)
	}
	if coordinator == nil {
		logger.Info("No command requested, host running until interrupted")
	}

	if err := h.Wait(); err != nil {
		if errors.Is(err, watch.ErrWatchFailed) {
			return &ExitError{Code: exitFailure, Err: issue.NewErrorContext().
				WithOperation("watch deploy directory").
				WithResource(deployDir).
				WithIssue(issue.WatchLimitReachedId).
				Wrap(err).
				BuildError()}
		}
		return &ExitError{Code: exitFailure, Err: err}
	}
	logger.Debug("Host exited", "units", len(watcher.Known()))

	if coordinator == nil {
		return nil
	}
	return outcomeError(line, coordinator.Outcome(), logger)
}

// outcomeError maps a finished dispatch to the process exit status.
func outcomeError(line *dispatch.CommandLine, out dispatch.Outcome, logger *log.Logger) error {
	switch {
	case out.Result == dispatch.StateTimedOut:
		return &ExitError{Code: exitFailure, Err: issue.NewErrorContext().
			WithOperation("dispatch command").
			WithResource(line.Name).
			WithSuggestion("Run 'stamina run --timeout 2m " + line.Name + "' to wait longer for the handler").
			WithIssue(issue.CommandNotFoundId).
			Wrap(errors.New("command not found")).
			BuildError()}

	case out.Result == dispatch.StateCompleted && out.Err != nil:
		var scriptErr *handlers.ScriptExitError
		if errors.As(out.Err, &scriptErr) {
			// The script has written its own diagnostics.
			return &ExitError{Code: scriptErr.Status}
		}
		return &ExitError{Code: exitFailure, Err: issue.NewErrorContext().
			WithOperation("execute command").
			WithResource(line.String()).
			WithIssue(issue.DispatchFailedId).
			Wrap(out.Err).
			BuildError()}

	default:
		if out.StopErr != nil {
			logger.Debug("Stop request was not applied", "err", out.StopErr)
		}
		return nil
	}
}

// resolveDeployDir returns the absolute deploy directory, which must exist.
func resolveDeployDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve deploy directory: %w", err)
	}
	info, err := os.Stat(abs)
	if err == nil && info.IsDir() {
		return abs, nil
	}
	if err == nil {
		err = fmt.Errorf("%s is not a directory", abs)
	}
	return "", issue.NewErrorContext().
		WithOperation("open deploy directory").
		WithResource(abs).
		WithSuggestion("Create the directory or set deploy_dir in the configuration").
		WithIssue(issue.DeployDirNotFoundId).
		Wrap(err).
		BuildError()
}

// stopHost stops h after a startup failure and returns err.
func stopHost(h *host.Host, err error) error {
	_ = h.Stop()
	_ = h.Wait()
	return err
}
