// Package cliui holds the terminal styling shared by engram commands: a
// progress spinner, check marks, confidence and duration formatting, and
// glamour-rendered transcripts.
package cliui

import (
	"fmt"
	"io"
	"sync"
	"time"

	"charm.land/lipgloss/v2"
	"github.com/charmbracelet/glamour"
)

// Palette colors (ANSI 256).
const (
	green  = "82"
	red    = "196"
	amber  = "214"
	blue   = "111"
	grey   = "245"
	silver = "252"
)

func fg(color string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(color))
}

var (
	SuccessMark = fg(green).Render("✓")
	FailMark    = fg(red).Render("✗")
	HeaderStyle = lipgloss.NewStyle().Bold(true)
	WarnStyle   = fg(amber)
	KeyStyle    = fg(blue)
	ValueStyle  = fg(silver)
	DimStyle    = fg(grey)
)

// MarkdownWidth is the wrap column for RenderMarkdown.
const MarkdownWidth = 80

// spinner redraws a single status line until stopped.
type spinner struct {
	w      io.Writer
	msg    string
	frames []string
	mu     sync.Mutex
	done   chan struct{}
	exited chan struct{}
}

func startSpinner(w io.Writer, msg string) *spinner {
	s := &spinner{
		w:      w,
		msg:    msg,
		frames: []string{"⣾", "⣽", "⣻", "⢿", "⡿", "⣟", "⣯", "⣷"},
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *spinner) run() {
	defer close(s.exited)
	ticker := time.NewTicker(80 * time.Millisecond)
	defer ticker.Stop()

	for i := 0; ; i++ {
		s.mu.Lock()
		fmt.Fprintf(s.w, "\r  %s %s", fg(green).Render(s.frames[i%len(s.frames)]), s.msg)
		s.mu.Unlock()

		select {
		case <-s.done:
			return
		case <-ticker.C:
		}
	}
}

// stop halts the animation and overwrites the line with the outcome.
func (s *spinner) stop(err error, elapsed time.Duration) {
	close(s.done)
	<-s.exited
	fmt.Fprintf(s.w, "\r  %s %s %s\n", Mark(err), s.msg, DimStyle.Render("("+FormatDuration(elapsed)+")"))
}

// Step runs fn behind a spinner labeled msg and finishes the line with a
// check mark and the elapsed time. It returns fn's error.
func Step(w io.Writer, msg string, fn func() error) error {
	s := startSpinner(w, msg)
	start := time.Now()
	err := fn()
	s.stop(err, time.Since(start))
	return err
}

// Mark is ✓ for a nil error and ✗ otherwise.
func Mark(err error) string {
	if err != nil {
		return FailMark
	}
	return SuccessMark
}

// FormatDuration prints sub-second durations in milliseconds ("12ms") and
// longer ones in tenths of seconds ("3.2s").
func FormatDuration(d time.Duration) string {
	if d >= time.Second {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dms", d.Milliseconds())
}

// RenderMarkdown renders content with glamour. On failure the raw content is
// returned alongside the error so callers can still print something.
func RenderMarkdown(content string) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(MarkdownWidth),
	)
	if err != nil {
		return content, err
	}
	out, err := r.Render(content)
	if err != nil {
		return content, err
	}
	return out, nil
}

// FormatConfidence prints c as a right-aligned percentage. Values at or
// below floor are dimmed since the next prune may drop them.
func FormatConfidence(c, floor float64) string {
	pct := fmt.Sprintf("%3.0f%%", c*100)
	if c > floor {
		return pct
	}
	return DimStyle.Render(pct)
}
