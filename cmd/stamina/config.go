// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stamina/stamina/internal/config"
)

// newConfigCommand creates the `stamina config` command tree.
func newConfigCommand(app *App) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage stamina configuration",
		Long: `Manage stamina configuration.

Configuration is stored in:
  - Linux: ~/.config/stamina/config.cue
  - macOS: ~/Library/Application Support/stamina/config.cue
  - Windows: %APPDATA%\stamina\config.cue

Every value can be overridden with a STAMINA_* environment variable, e.g.
STAMINA_COMMAND_TIMEOUT=2m or STAMINA_LOG_LEVEL=debug.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.showConfig(cmd.Context())
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create the default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.initConfig()
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show the configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir, err := config.ConfigDir()
			if err != nil {
				return err
			}
			fmt.Fprintf(app.stdout, "Config file: %s\n", configFilePath(cfgDir))
			return nil
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "dump",
		Short: "Output the effective configuration as CUE",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprint(app.stdout, config.GenerateCUE(cfg))
			return nil
		},
	})

	return cfgCmd
}

func (a *App) showConfig(ctx context.Context) error {
	cfg, err := a.loadConfig(ctx)
	if err != nil {
		return err
	}

	w := a.stdout
	fmt.Fprintln(w, TitleStyle.Render("Current Configuration"))
	fmt.Fprintln(w)
	if cfg.Source != "" {
		fmt.Fprintf(w, "%s: %s\n", KeyStyle.Render("Config file"), cfg.Source)
	} else {
		fmt.Fprintf(w, "%s: %s\n", KeyStyle.Render("Config file"), SubtitleStyle.Render("(using defaults)"))
	}
	fmt.Fprintln(w)

	stateFile := cfg.StateFile
	if stateFile == "" {
		stateFile = "(in memory)"
	}
	printValue(w, "deploy_dir", cfg.DeployDir)
	printValue(w, "artifact_suffix", cfg.ArtifactSuffix)
	printValue(w, "state_file", stateFile)

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s:\n", KeyStyle.Render("command"))
	printValue(w, "  timeout", cfg.Command.Timeout.String())

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s:\n", KeyStyle.Render("watch"))
	printValue(w, "  debounce", cfg.Watch.Debounce.String())
	ignore := "(none)"
	if len(cfg.Watch.Ignore) > 0 {
		ignore = strings.Join(cfg.Watch.Ignore, ", ")
	}
	printValue(w, "  ignore", ignore)
	printValue(w, "  max_retries", fmt.Sprint(cfg.Watch.MaxRetries))

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s:\n", KeyStyle.Render("log"))
	printValue(w, "  level", cfg.Log.Level.String())
	printValue(w, "  format", cfg.Log.Format.String())

	return nil
}

func (a *App) initConfig() error {
	path, created, err := config.CreateDefaultConfig("")
	if err != nil {
		return fmt.Errorf("failed to create config: %w", err)
	}
	if !created {
		fmt.Fprintf(a.stdout, "%s Configuration already exists at %s\n", WarningStyle.Render("!"), path)
		return nil
	}
	fmt.Fprintf(a.stdout, "%s Created default configuration at %s\n", SuccessStyle.Render("✓"), path)
	return nil
}

func printValue(w io.Writer, key, value string) {
	fmt.Fprintf(w, "%s: %s\n", KeyStyle.Render(key), SuccessStyle.Render(value))
}

func configFilePath(dir string) string {
	return filepath.Join(dir, config.ConfigFileName+"."+config.ConfigFileExt)
}
