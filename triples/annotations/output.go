package annotations

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// OutputFormatter formats events for human-readable display.
type OutputFormatter struct {
	useColor bool
	mu       sync.Mutex
	writer   io.Writer
}

// NewOutputFormatter creates a formatter. Color is used when w is stdout or
// stderr and color output has not been disabled (NO_COLOR, no terminal).
func NewOutputFormatter(w io.Writer) *OutputFormatter {
	if w == nil {
		w = os.Stdout
	}
	useColor := (w == os.Stdout || w == os.Stderr) && !color.NoColor
	return &OutputFormatter{useColor: useColor, writer: w}
}

// Handle prints events as they occur. It can be used as a Handler.
func (f *OutputFormatter) Handle(event Event) {
	output := f.Format(event)
	if output == "" {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	fmt.Fprintln(f.writer, output)
}

// Format converts an event to a human-readable string.
func (f *OutputFormatter) Format(event Event) string {
	latency := f.formatLatency(event.Latency)
	d := event.Data

	switch event.Name {
	case QueryInvoked:
		return fmt.Sprintf("%s Query %s: %s", latency, shortID(event.QueryID), truncateQuery(str(d, "query")))

	case QueryPlanCreated:
		return fmt.Sprintf("\n%s\n", str(d, "plan"))

	case QueryComplete:
		if errv, failed := d["error"]; failed {
			return fmt.Sprintf("%s %s Query failed: %v", latency, f.colorize("✗", color.FgRed), errv)
		}
		return fmt.Sprintf("%s %s Query done with %s.",
			latency,
			f.colorize("===", color.FgGreen),
			f.colorizeCount("solutions", num(d, "solutions.count")))

	case PatternIndexSelection:
		return fmt.Sprintf("%s Pattern %s via %s (estimated %d bytes)",
			latency, f.colorize(str(d, "pattern"), color.FgCyan), str(d, "index"), num(d, "estimate"))

	case PatternStorageScan:
		return fmt.Sprintf("%s Scan %s on %s → %s",
			latency, str(d, "pattern"), str(d, "index"), f.colorizeCount("rows", num(d, "rows.scanned")))

	case JoinNested, JoinMerge:
		kind := "NestedLoop"
		if event.Name == JoinMerge {
			kind = "SortMerge"
		}
		return fmt.Sprintf("%s %s(%s) %s → %s (%s)",
			latency,
			f.colorize(kind, color.FgBlue),
			str(d, "pattern"),
			f.colorizeCount("inputs", num(d, "input.count")),
			f.colorizeCount("solutions", num(d, "output.count")),
			f.colorizeCount("rows", num(d, "rows.scanned")))

	case JoinMergeAdvance:
		// One per input solution; too noisy for the console.
		return ""

	case FilterApplied:
		in, out := num(d, "input.count"), num(d, "output.count")
		return fmt.Sprintf("%s Filter on %s → %s (filtered %d)",
			latency, f.colorizeCount("solutions", in), f.colorizeCount("solutions", out), in-out)

	case LimitReached:
		return fmt.Sprintf("%s %s Limit %d reached, cancelling upstream",
			latency, f.colorize("⏹", color.FgYellow), num(d, "limit"))

	case ErrorBackend:
		return fmt.Sprintf("%s %s Store error: %v", latency, f.colorize("✗", color.FgRed), d["error"])

	default:
		// Generic format for unknown events
		return fmt.Sprintf("%s %s %v", latency, event.Name, d)
	}
}

// formatLatency formats a duration as [XXXms] or [XXXµs] with color coding.
func (f *OutputFormatter) formatLatency(d time.Duration) string {
	// Use microseconds for sub-millisecond durations
	if d < time.Millisecond {
		s := fmt.Sprintf("[%dµs]", d.Microseconds())
		if !f.useColor {
			return s
		}
		return color.GreenString(s)
	}

	ms := float64(d.Microseconds()) / 1000.0
	s := fmt.Sprintf("[%.1fms]", ms)
	if !f.useColor {
		return s
	}
	switch {
	case ms < 50:
		return color.GreenString(s)
	case ms < 200:
		return color.YellowString(s)
	default:
		return color.RedString(s)
	}
}

// colorizeCount formats a count with a label, using color based on the label type.
func (f *OutputFormatter) colorizeCount(label string, count int) string {
	text := fmt.Sprintf("%d %s", count, label)
	if !f.useColor {
		return text
	}
	switch label {
	case "solutions":
		return color.MagentaString(text)
	case "rows":
		return color.BlueString(text)
	default:
		return color.CyanString(text)
	}
}

// colorize applies color if enabled.
func (f *OutputFormatter) colorize(text string, attrs ...color.Attribute) string {
	if !f.useColor {
		return text
	}
	return color.New(attrs...).Sprint(text)
}

// truncateQuery shortens long queries for display.
func truncateQuery(query string) string {
	query = strings.Join(strings.Fields(query), " ")
	const maxLen = 80
	if len(query) <= maxLen {
		return query
	}
	return query[:maxLen-3] + "..."
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func str(d map[string]interface{}, key string) string {
	switch v := d[key].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

func num(d map[string]interface{}, key string) int {
	switch v := d[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	default:
		return 0
	}
}

// ConsoleHandler creates a handler that prints formatted events to stderr.
func ConsoleHandler() Handler {
	return NewOutputFormatter(os.Stderr).Handle
}
