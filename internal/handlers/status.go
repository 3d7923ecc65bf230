// SPDX-License-Identifier: MPL-2.0

package handlers

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/stamina/stamina/internal/dispatch"
)

var labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280")).Width(14)

// ProcessStats is a snapshot of the host process.
type ProcessStats struct {
	PID        int32
	Hostname   string
	Platform   string
	Uptime     time.Duration
	RSS        uint64
	Threads    int32
	Goroutines int
	MemUsedPct float64
}

// Status prints statistics of the running host process.
type Status struct {
	// Now is used to compute the uptime. nil uses time.Now.
	Now func() time.Time
}

// Execute implements dispatch.Handler.
func (s *Status) Execute(ctx context.Context, ec *dispatch.ExecutionContext) (bool, error) {
	stats, err := s.Collect(ctx)
	if err != nil {
		return false, err
	}
	_, err = fmt.Fprintln(ec.Stdout, RenderStatus(stats))
	return false, err
}

// Collect gathers statistics for the current process.
func (s *Status) Collect(ctx context.Context) (ProcessStats, error) {
	pid := int32(os.Getpid()) //nolint:gosec // pids fit in int32 on every supported platform
	proc, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return ProcessStats{}, fmt.Errorf("process info: %w", err)
	}
	memInfo, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return ProcessStats{}, fmt.Errorf("process memory: %w", err)
	}
	created, err := proc.CreateTimeWithContext(ctx)
	if err != nil {
		return ProcessStats{}, fmt.Errorf("process start time: %w", err)
	}
	hInfo, err := host.InfoWithContext(ctx)
	if err != nil {
		return ProcessStats{}, fmt.Errorf("host info: %w", err)
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return ProcessStats{}, fmt.Errorf("memory info: %w", err)
	}

	// Thread counts are not available everywhere.
	threads, _ := proc.NumThreadsWithContext(ctx) //nolint:errcheck // optional

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return ProcessStats{
		PID:        pid,
		Hostname:   hInfo.Hostname,
		Platform:   hInfo.Platform + " " + hInfo.PlatformVersion,
		Uptime:     now().Sub(time.UnixMilli(created)).Truncate(time.Second),
		RSS:        memInfo.RSS,
		Threads:    threads,
		Goroutines: runtime.NumGoroutine(),
		MemUsedPct: vm.UsedPercent,
	}, nil
}

// RenderStatus renders stats as aligned label/value lines.
func RenderStatus(stats ProcessStats) string {
	lines := []struct{ label, value string }{
		{"pid", fmt.Sprint(stats.PID)},
		{"host", stats.Hostname},
		{"platform", strings.TrimSpace(stats.Platform)},
		{"uptime", stats.Uptime.String()},
		{"rss", formatBytes(stats.RSS)},
		{"threads", fmt.Sprint(stats.Threads)},
		{"goroutines", fmt.Sprint(stats.Goroutines)},
		{"memory used", fmt.Sprintf("%.1f%%", stats.MemUsedPct)},
	}
	var b strings.Builder
	for i, l := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(labelStyle.Render(l.label))
		b.WriteString(l.value)
	}
	return b.String()
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
