// Package output renders live progress and the final summary of a run.
package output

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/fitness-team/fitload/internal/loadtest/engine"
	"github.com/fitness-team/fitload/internal/loadtest/executor"
	"github.com/fitness-team/fitload/internal/loadtest/metrics"
)

// ANSI cursor control. Colors go through fatih/color.
const (
	cursorUp  = "\033[%dA"
	clearLine = "\033[2K"

	boxHorizontal  = "━"
	boxVertical    = "│"
	boxTopLeft     = "┌"
	boxTopRight    = "┐"
	boxBottomLeft  = "└"
	boxBottomRight = "┘"

	progressFilled = "█"
	progressEmpty  = "░"
)

// palette holds one color per role in the display.
type palette struct {
	header  *color.Color
	bold    *color.Color
	dim     *color.Color
	value   *color.Color
	good    *color.Color
	warn    *color.Color
	bad     *color.Color
	latency *color.Color
	stage   *color.Color
}

func newPalette(enabled bool) *palette {
	p := &palette{
		header:  color.New(color.FgCyan),
		bold:    color.New(color.Bold),
		dim:     color.New(color.Faint),
		value:   color.New(color.FgCyan),
		good:    color.New(color.FgGreen),
		warn:    color.New(color.FgYellow),
		bad:     color.New(color.FgRed),
		latency: color.New(color.FgBlue),
		stage:   color.New(color.FgMagenta),
	}
	for _, c := range []*color.Color{p.header, p.bold, p.dim, p.value, p.good, p.warn, p.bad, p.latency, p.stage} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// rate picks good/warn/bad for a success ratio.
func (p *palette) rate(r float64) *color.Color {
	switch {
	case r >= 0.99:
		return p.good
	case r >= 0.95:
		return p.warn
	default:
		return p.bad
	}
}

// LiveStats contains real-time statistics for display.
type LiveStats struct {
	Progress  float64
	Elapsed   time.Duration
	Remaining time.Duration

	ActiveVUs int
	TargetVUs int

	CurrentRPS    float64
	TotalRequests int64
	Errors        int64
	ErrorRate     float64
	Iterations    int64
	CheckRate     float64

	LatencyP95 time.Duration
	LatencyAvg time.Duration

	CurrentPhase string
	// CurrentStage is 1-indexed
	CurrentStage int
	TotalStages  int
}

// ConsoleOutput manages console output during a run.
type ConsoleOutput struct {
	testName      string
	baseURL       string
	totalDuration time.Duration
	writer        io.Writer
	isTTY         bool
	quiet         bool
	colors        *palette

	mu          sync.Mutex
	linesOutput int
}

// ConsoleOutputConfig contains configuration for ConsoleOutput.
type ConsoleOutputConfig struct {
	TestName      string
	BaseURL       string
	TotalDuration time.Duration
	Writer        io.Writer
	Quiet         bool
	NoColor       bool
	ForceColors   bool
	ForceTTY      bool
}

// NewConsoleOutput creates a new console output handler.
func NewConsoleOutput(config ConsoleOutputConfig) *ConsoleOutput {
	if config.Writer == nil {
		config.Writer = os.Stdout
	}

	isTTY := config.ForceTTY || isTerminal(config.Writer)
	useColors := !config.NoColor && (config.ForceColors || (isTTY && supportsColors()))

	return &ConsoleOutput{
		testName:      config.TestName,
		baseURL:       config.BaseURL,
		totalDuration: config.TotalDuration,
		writer:        config.Writer,
		isTTY:         isTTY,
		quiet:         config.Quiet,
		colors:        newPalette(useColors),
	}
}

func isTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return checkIsTerminal(f)
	}
	return false
}

func supportsColors() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}
	term := os.Getenv("TERM")
	return term != "" && term != "dumb"
}

// IsTTY returns whether the output is a terminal.
func (c *ConsoleOutput) IsTTY() bool {
	return c.isTTY
}

// PrintHeader prints the run header.
func (c *ConsoleOutput) PrintHeader(runID string) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	line := strings.Repeat(boxHorizontal, 56)
	c.writeln(c.colors.header.Sprint(line))
	c.writeln(c.colors.bold.Sprintf("%s - Running [ramping-vus]", c.testName))
	if c.baseURL != "" {
		c.writeln(c.colors.dim.Sprintf("target: %s  duration: %s", c.baseURL, formatDuration(c.totalDuration)))
	}
	if runID != "" {
		c.writeln(c.colors.dim.Sprintf("run: %s", runID))
	}
	c.writeln(c.colors.header.Sprint(line))
	c.writeln("")
}

// Update redraws the live display in place. It does nothing when the
// output is not a terminal.
func (c *ConsoleOutput) Update(stats *LiveStats) {
	if c.quiet || !c.isTTY {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.clearLive()
	lines := c.renderLiveStats(stats)
	c.linesOutput = len(lines)
	for _, line := range lines {
		c.writeln(line)
	}
}

// clearLive erases the previous live display. Callers hold mu.
func (c *ConsoleOutput) clearLive() {
	if c.linesOutput == 0 {
		return
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	for i := 0; i < c.linesOutput; i++ {
		c.write(clearLine + "\n")
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	c.linesOutput = 0
}

func (c *ConsoleOutput) renderLiveStats(stats *LiveStats) []string {
	p := c.colors
	var lines []string

	bar := renderProgressBar(stats.Progress, 40)
	timeInfo := fmt.Sprintf("%s / %s", formatDuration(stats.Elapsed), formatDuration(stats.Elapsed+stats.Remaining))
	lines = append(lines, fmt.Sprintf("Progress: %s %s | %s",
		p.good.Sprint(bar),
		p.bold.Sprintf("%.0f%%", stats.Progress*100),
		p.dim.Sprint(timeInfo)))

	phase := stats.CurrentPhase
	if stats.TotalStages > 0 {
		phase = fmt.Sprintf("%s (%d/%d)", stats.CurrentPhase, stats.CurrentStage, stats.TotalStages)
	}
	lines = append(lines, fmt.Sprintf("Stage:    %s", p.stage.Sprint(phase)))
	lines = append(lines, "")

	boxWidth := 56
	lines = append(lines, p.dim.Sprint(boxTopLeft+strings.Repeat(boxHorizontal, boxWidth-2)+boxTopRight))

	vus := fmt.Sprintf("VUs:     %s / %d", p.value.Sprint(stats.ActiveVUs), stats.TargetVUs)
	reqs := fmt.Sprintf("Requests:    %s", p.value.Sprint(formatNumber(stats.TotalRequests)))
	lines = append(lines, c.formatBoxRow(vus, reqs, boxWidth))

	errColor := p.rate(1 - stats.ErrorRate)
	rps := fmt.Sprintf("RPS:     %s", p.good.Sprintf("%.1f", stats.CurrentRPS))
	errs := fmt.Sprintf("Errors:      %s (%s)",
		errColor.Sprint(stats.Errors),
		errColor.Sprintf("%.1f%%", stats.ErrorRate*100))
	lines = append(lines, c.formatBoxRow(rps, errs, boxWidth))

	iters := fmt.Sprintf("Iters:   %s", p.value.Sprint(formatNumber(stats.Iterations)))
	checks := fmt.Sprintf("Checks:      %s", p.rate(stats.CheckRate).Sprintf("%.1f%%", stats.CheckRate*100))
	lines = append(lines, c.formatBoxRow(iters, checks, boxWidth))

	p95 := fmt.Sprintf("P95:     %s", p.latency.Sprint(formatDurationShort(stats.LatencyP95)))
	avg := fmt.Sprintf("Avg:         %s", p.latency.Sprint(formatDurationShort(stats.LatencyAvg)))
	lines = append(lines, c.formatBoxRow(p95, avg, boxWidth))

	lines = append(lines, p.dim.Sprint(boxBottomLeft+strings.Repeat(boxHorizontal, boxWidth-2)+boxBottomRight))
	return lines
}

// formatBoxRow lays out two columns inside the stats box.
func (c *ConsoleOutput) formatBoxRow(left, right string, boxWidth int) string {
	// three borders and three spaces around two columns
	colWidth := (boxWidth - 6) / 2
	leftPadding := max(colWidth-visibleLen(left), 0)
	rightPadding := max(colWidth-visibleLen(right), 0)

	border := c.colors.dim.Sprint(boxVertical)
	return fmt.Sprintf("%s %s%s%s %s%s %s",
		border,
		left, strings.Repeat(" ", leftPadding),
		border,
		right, strings.Repeat(" ", rightPadding),
		border)
}

func renderProgressBar(progress float64, width int) string {
	progress = min(max(progress, 0), 1)
	filled := int(progress * float64(width))
	return "[" + strings.Repeat(progressFilled, filled) + strings.Repeat(progressEmpty, width-filled) + "]"
}

// PrintNonInteractiveUpdate prints a one-line status. Used when the output
// is piped to a file or a CI log.
func (c *ConsoleOutput) PrintNonInteractiveUpdate(stats *LiveStats) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.writeln(fmt.Sprintf("[%s] Progress: %.0f%% | VUs: %d/%d | Reqs: %d | RPS: %.1f | Errors: %d (%.1f%%) | Checks: %.1f%% | P95: %s",
		formatDuration(stats.Elapsed),
		stats.Progress*100,
		stats.ActiveVUs,
		stats.TargetVUs,
		stats.TotalRequests,
		stats.CurrentRPS,
		stats.Errors,
		stats.ErrorRate*100,
		stats.CheckRate*100,
		formatDurationShort(stats.LatencyP95)))
}

// PrintSummary prints the final test summary.
func (c *ConsoleOutput) PrintSummary(result *engine.TestResult) {
	if result == nil {
		return
	}
	p := c.colors

	if c.quiet {
		if result.Passed {
			c.writeln(p.good.Sprint("PASSED"))
		} else {
			c.writeln(p.bad.Sprint("FAILED"))
		}
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isTTY {
		c.clearLive()
	}

	line := strings.Repeat(boxHorizontal, 56)
	status := p.good.Sprint("Completed ✓")
	if !result.Passed {
		status = p.bad.Sprint("Failed ✗")
	}

	c.writeln("")
	c.writeln(p.header.Sprint(line))
	c.writeln(fmt.Sprintf("%s - %s", p.bold.Sprint(result.Name), status))
	c.writeln(p.header.Sprint(line))
	c.writeln("")

	c.writeln(fmt.Sprintf("Duration:      %s", p.value.Sprint(formatDuration(result.Duration))))
	c.writeln(fmt.Sprintf("Iterations:    %s", p.value.Sprint(formatNumber(result.Iterations))))
	c.writeln(fmt.Sprintf("Max VUs:       %s", p.value.Sprint(result.MaxVUs)))
	if m := result.Metrics; m != nil {
		c.writeln(fmt.Sprintf("Total Reqs:    %s", p.value.Sprint(formatNumber(m.TotalRequests))))
		successRate := 1.0 - m.ErrorRate
		c.writeln(fmt.Sprintf("Success Rate:  %s", p.rate(successRate).Sprintf("%.1f%%", successRate*100)))
		c.writeln(fmt.Sprintf("RPS:           %s", p.value.Sprintf("%.1f", m.RPS)))
		c.writeln(fmt.Sprintf("Data:          %s", p.value.Sprint(formatBytes(m.TotalBytes))))
	}
	if result.Error != "" {
		c.writeln(fmt.Sprintf("Error:         %s", p.bad.Sprint(result.Error)))
	}
	c.writeln("")

	if len(result.Checks) > 0 {
		c.writeln(p.bold.Sprint("Checks:"))
		for _, chk := range result.Checks {
			mark := p.good.Sprint("✓")
			if chk.Fails > 0 {
				mark = p.bad.Sprint("✗")
			}
			c.writeln(fmt.Sprintf("  %s %-26s %s  ✓ %d ✗ %d",
				mark, chk.Name,
				p.rate(chk.Rate()).Sprintf("%6.2f%%", chk.Rate()*100),
				chk.Passes, chk.Fails))
		}
		c.writeln("")
	}

	if m := result.Metrics; m != nil {
		c.writeln(p.bold.Sprint("Latency Distribution:"))
		c.writeln(fmt.Sprintf("  Min:       %s", formatDurationShort(m.Latency.Min)))
		c.writeln(fmt.Sprintf("  P50:       %s", formatDurationShort(m.Latency.P50)))
		c.writeln(fmt.Sprintf("  P90:       %s", formatDurationShort(m.Latency.P90)))
		c.writeln(fmt.Sprintf("  P95:       %s", formatDurationShort(m.Latency.P95)))
		c.writeln(fmt.Sprintf("  P99:       %s", formatDurationShort(m.Latency.P99)))
		c.writeln(fmt.Sprintf("  Max:       %s", formatDurationShort(m.Latency.Max)))
		c.writeln("")
	}

	if len(result.RequestStats) > 0 {
		c.writeln(p.bold.Sprint("Requests:"))
		for _, name := range sortedKeys(result.RequestStats) {
			s := result.RequestStats[name]
			c.writeln(fmt.Sprintf("  %-10s count=%d p50=%s p95=%s max=%s",
				name, s.Count,
				formatDurationShort(s.P50), formatDurationShort(s.P95), formatDurationShort(s.Max)))
		}
		c.writeln("")
	}

	if len(result.Thresholds) > 0 {
		c.writeln(p.bold.Sprint("Thresholds:"))
		for _, t := range result.Thresholds {
			mark := p.good.Sprint("✓")
			if !t.Passed {
				mark = p.bad.Sprint("✗")
			}
			c.writeln(fmt.Sprintf("  %s %s %s (actual: %s)", mark, t.Metric, t.Expression, t.Value))
			if !t.Passed && t.Message != "" {
				c.writeln(p.dim.Sprintf("      %s", t.Message))
			}
		}
		c.writeln("")
	}
}

func (c *ConsoleOutput) write(s string) {
	fmt.Fprint(c.writer, s)
}

func (c *ConsoleOutput) writeln(s string) {
	fmt.Fprintln(c.writer, s)
}

// StatsFromEngine builds LiveStats from a metrics snapshot and the
// controller statistics. Either may be nil.
func StatsFromEngine(snap *metrics.Snapshot, stats *executor.Stats) *LiveStats {
	live := &LiveStats{CurrentPhase: "initializing"}
	if stats != nil {
		live.Progress = stats.Progress
		live.Elapsed = stats.Elapsed
		live.Remaining = max(stats.TotalDuration-stats.Elapsed, 0)
		live.ActiveVUs = stats.ActiveVUs
		live.TargetVUs = stats.TargetVUs
		live.Iterations = stats.Iterations
		live.CurrentStage = stats.CurrentStage + 1
		live.TotalStages = stats.TotalStages
	}
	if snap == nil {
		return live
	}

	live.ActiveVUs = snap.ActiveVUs
	live.CurrentRPS = snap.RPS
	live.TotalRequests = snap.TotalRequests
	live.Errors = snap.FailedRequests
	live.ErrorRate = snap.ErrorRate
	live.CheckRate = snap.CheckRate
	live.LatencyP95 = snap.Latency.P95
	live.LatencyAvg = snap.Latency.Mean
	if snap.CurrentPhase != "" {
		live.CurrentPhase = string(snap.CurrentPhase)
	}
	if stats == nil {
		live.Elapsed = snap.Elapsed
		live.Iterations = snap.Iterations
	}
	return live
}

// Source is what Watch polls. *engine.Engine implements it.
type Source interface {
	Metrics() *metrics.Snapshot
	Stats() *executor.Stats
}

// Watch refreshes the display every interval until ctx is done. On a
// terminal the display is redrawn in place; otherwise one line is printed
// per refresh.
func (c *ConsoleOutput) Watch(ctx context.Context, src Source, interval time.Duration) {
	if c.quiet {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := StatsFromEngine(src.Metrics(), src.Stats())
			if c.isTTY {
				c.Update(stats)
			} else {
				c.PrintNonInteractiveUpdate(stats)
			}
		}
	}
}
