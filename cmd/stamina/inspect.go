// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"runtime"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/stamina/stamina/internal/archive"
	"github.com/stamina/stamina/internal/issue"
)

// inspectedArtifact is the JSON form of an artifact's manifest.
type inspectedArtifact struct {
	Path         string            `json:"path"`
	SymbolicName string            `json:"symbolic_name"`
	Version      string            `json:"version"`
	Attributes   map[string]string `json:"attributes"`
}

func newInspectCommand(app *App) *cobra.Command {
	var asJSON bool

	inspectCmd := &cobra.Command{
		Use:   "inspect <artifact>...",
		Short: "Show the deployment unit manifest of artifacts",
		Long: `Show the deployment unit manifest of one or more artifacts.

Each artifact is read the same way the runtime reads it before installing:
the OSGI-INF/SUBSYSTEM.MF entry must exist and name the unit.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.inspect(cmd.Context(), args, asJSON)
		},
	}
	inspectCmd.Flags().BoolVar(&asJSON, "json", false, "print the manifests as JSON")

	return inspectCmd
}

// inspect reads every artifact concurrently and prints them in argument
// order. The first unreadable artifact fails the command.
func (a *App) inspect(ctx context.Context, paths []string, asJSON bool) error {
	results := make([]inspectedArtifact, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			md, err := archive.ReadMetadata(path)
			if err != nil {
				return issue.NewErrorContext().
					WithOperation("inspect artifact").
					WithResource(path).
					WithSuggestion("Check that the file is a ZIP archive with an OSGI-INF/SUBSYSTEM.MF entry").
					WithIssue(issue.ArtifactRejectedId).
					Wrap(err).
					BuildError()
			}
			results[i] = inspectedArtifact{
				Path:         path,
				SymbolicName: md.SymbolicName,
				Version:      md.Version,
				Attributes:   md.Attributes,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	for i, res := range results {
		if i > 0 {
			fmt.Fprintln(a.stdout)
		}
		renderArtifact(a.stdout, res)
	}
	return nil
}

func renderArtifact(w io.Writer, res inspectedArtifact) {
	fmt.Fprintln(w, TitleStyle.Render(archive.Identity(res.SymbolicName, res.Version)))
	fmt.Fprintln(w, SubtitleStyle.Render(res.Path))

	names := slices.SortedFunc(maps.Keys(res.Attributes), func(a, b string) int {
		return strings.Compare(strings.ToLower(a), strings.ToLower(b))
	})
	width := 0
	for _, name := range names {
		width = max(width, lipgloss.Width(name))
	}
	keyStyle := KeyStyle.Width(width + 1)
	for _, name := range names {
		fmt.Fprintf(w, "  %s %s\n", keyStyle.Render(name+":"), res.Attributes[name])
	}
}
