package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

const spinnerDelay = 80 * time.Millisecond

// spinner animates a progress line on a terminal until stopped.
type spinner struct {
	frames  []string
	message string
	w       io.Writer
	stop    chan struct{}
	done    chan struct{}
}

func newSpinner(w io.Writer, message string) *spinner {
	return &spinner{
		frames:  []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
		message: message,
		w:       w,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (s *spinner) start() {
	if !isTTY() {
		close(s.done)
		return
	}
	go func() {
		defer close(s.done)
		style := lipgloss.NewStyle().Foreground(colorPrimary)
		ticker := time.NewTicker(spinnerDelay)
		defer ticker.Stop()
		for i := 0; ; i++ {
			fmt.Fprintf(s.w, "\r%s %s", style.Render(s.frames[i%len(s.frames)]), s.message)
			select {
			case <-s.stop:
				// frame is two columns wide plus a space
				fmt.Fprint(s.w, "\r"+strings.Repeat(" ", len(s.message)+8)+"\r")
				return
			case <-ticker.C:
			}
		}
	}()
}

func (s *spinner) finish() {
	close(s.stop)
	<-s.done
}

// runWithSpinner runs op while a spinner is shown on stderr.
func runWithSpinner(w io.Writer, message string, op func() error) error {
	if outputJSON {
		return op()
	}
	spin := newSpinner(w, message)
	spin.start()
	err := op()
	spin.finish()
	return err
}
