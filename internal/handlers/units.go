// SPDX-License-Identifier: MPL-2.0

package handlers

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/stamina/stamina/internal/dispatch"
	"github.com/stamina/stamina/internal/unittree"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
	activeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981")).Padding(0, 1)
)

// Units lists the installed deployment units.
type Units struct {
	Root unittree.Root
}

// Execute implements dispatch.Handler.
func (u *Units) Execute(ctx context.Context, ec *dispatch.ExecutionContext) (bool, error) {
	units, err := u.Root.Children(ctx)
	if err != nil {
		return false, fmt.Errorf("list units: %w", err)
	}
	if len(units) == 0 {
		_, err = fmt.Fprintln(ec.Stdout, mutedStyle.Render("No deployment units installed."))
		return false, err
	}

	slices.SortFunc(units, func(a, b unittree.Unit) int { return cmp.Compare(a.ID(), b.ID()) })
	_, err = fmt.Fprintln(ec.Stdout, RenderUnits(units))
	return false, err
}

// RenderUnits renders units as a table ordered as given.
func RenderUnits(units []unittree.Unit) string {
	rows := make([][]string, 0, len(units))
	for _, u := range units {
		rows = append(rows, []string{
			strconv.FormatUint(uint64(u.ID()), 10),
			u.SymbolicName(),
			u.Version(),
			u.State().String(),
			u.Location(),
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(mutedStyle).
		Headers("ID", "SYMBOLIC NAME", "VERSION", "STATE", "LOCATION").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col == 3 && rows[row][3] == unittree.StateActive.String():
				return activeStyle
			default:
				return cellStyle
			}
		})
	return t.String()
}
