package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/TheMichaelB/axcrypt/internal/progress"
)

var (
	successColor = color.New(color.FgGreen)
	errorColor   = color.New(color.FgRed)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
)

func printSuccess(format string, args ...interface{}) {
	successColor.Fprintf(os.Stdout, format+"\n", args...)
}

func printError(format string, args ...interface{}) {
	errorColor.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}

func printWarning(format string, args ...interface{}) {
	warningColor.Fprintf(os.Stderr, format+"\n", args...)
}

func printInfo(format string, args ...interface{}) {
	infoColor.Fprintf(os.Stdout, format+"\n", args...)
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		printError("encode json: %v", err)
	}
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// ProgressDisplay renders tracker snapshots on a single terminal line.
type ProgressDisplay struct {
	mu     sync.Mutex
	last   string
	errors []string
	quiet  bool
}

// NewProgressDisplay creates a display. It stays silent in JSON mode.
func NewProgressDisplay() *ProgressDisplay {
	return &ProgressDisplay{quiet: jsonOutput}
}

// Tracker returns a tracker for op that feeds this display.
func (p *ProgressDisplay) Tracker(op string) *progress.Tracker {
	return progress.NewTracker(op, p.Update)
}

// Update redraws the progress line.
func (p *ProgressDisplay) Update(s progress.Snapshot) {
	if p.quiet {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %d/%d", s.Operation, s.FilesComplete, s.FilesTotal)
	if pct := s.Percent(); pct >= 0 {
		fmt.Fprintf(&b, " %3d%% (%s/%s)", pct, formatBytes(s.BytesComplete), formatBytes(s.BytesTotal))
	}
	if s.CurrentFile != "" {
		fmt.Fprintf(&b, " %s", s.CurrentFile)
	}
	line := b.String()

	p.mu.Lock()
	defer p.mu.Unlock()
	if line == p.last {
		return
	}
	pad := ""
	if len(p.last) > len(line) {
		pad = strings.Repeat(" ", len(p.last)-len(line))
	}
	fmt.Fprintf(os.Stderr, "\r%s%s", line, pad)
	p.last = line
}

// AddError records an error shown by Close.
func (p *ProgressDisplay) AddError(msg string) {
	p.mu.Lock()
	p.errors = append(p.errors, msg)
	p.mu.Unlock()
}

// Close ends the progress line and lists recorded errors.
func (p *ProgressDisplay) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.quiet {
		return
	}
	if p.last != "" {
		fmt.Fprintln(os.Stderr)
	}
	for _, e := range p.errors {
		errorColor.Fprintf(os.Stderr, "  ✗ %s\n", e)
	}
}
