package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/kalambet/feedagent/internal/monitor"
	"github.com/kalambet/feedagent/internal/storage"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

// stderr receives progress and status lines; command results go to the
// command's stdout.
var stderr io.Writer = os.Stderr

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printLine(color, mark, format string, args ...any) {
	fmt.Fprintln(stderr, colorize(color, mark+" "+fmt.Sprintf(format, args...)))
}

func printSuccess(format string, args ...any) { printLine(colorGreen, "✓", format, args...) }
func printError(format string, args ...any)   { printLine(colorRed, "✗", format, args...) }
func printWarning(format string, args ...any) { printLine(colorYellow, "⚠", format, args...) }
func printStep(format string, args ...any)    { printLine(colorCyan, "→", format, args...) }

func printStatus(label string, format string, args ...any) {
	fmt.Fprintf(stderr, "  %s %s\n", colorize(colorBold, label+":"), fmt.Sprintf(format, args...))
}

// stateLabel colors a monitor state: green while polling, yellow when idle.
func stateLabel(state string) string {
	if state == monitor.Running.String() {
		return colorize(colorGreen, state)
	}
	return colorize(colorYellow, state)
}

// describeMonitor renders one monitor for `feedagent status`.
func describeMonitor(st monitor.Status, now time.Time) string {
	var b strings.Builder
	b.WriteString(stateLabel(st.State))
	if st.Cursor != "" {
		fmt.Fprintf(&b, ", cursor %s", st.Cursor)
	}
	fmt.Fprintf(&b, ", %d polls", st.Polls)
	if !st.NextRun.IsZero() {
		fmt.Fprintf(&b, ", next in %s", st.NextRun.Sub(now).Round(time.Second))
	}
	if st.LastError != "" {
		b.WriteString(", last error: " + colorize(colorRed, st.LastError))
	}
	return b.String()
}

// kindLabel renders a reply-log kind padded to a fixed column. Failed sends
// are red, apologies yellow, art cyan.
func kindLabel(kind string, failed bool) string {
	if failed {
		kind += " (failed)"
	}
	label := fmt.Sprintf("%-8s", kind)
	switch {
	case failed:
		return colorize(colorRed, label)
	case kind == storage.KindApology:
		return colorize(colorYellow, label)
	case kind == storage.KindArt:
		return colorize(colorCyan, label)
	}
	return label
}

// hashtags renders topics as "#a #b", or "(none)".
func hashtags(topics []string) string {
	if len(topics) == 0 {
		return "(none)"
	}
	return "#" + strings.Join(topics, " #")
}

// countLabel marks a count that hit the query limit with "+".
func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}

// truncate flattens newlines in a post and cuts it to n runes.
func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
