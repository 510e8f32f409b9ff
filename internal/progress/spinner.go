// Package progress provides terminal progress indicators.
package progress

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/oxen-ai/oxen/internal/termcolor"
)

// Spinner displays an animated braille spinner on stderr while a long-running
// operation is in progress. It is only displayed when stderr is a TTY;
// in non-interactive environments (piped output, CI, E2E tests) it is silent.
type Spinner struct {
	msg  string
	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a Spinner that will display msg alongside the animation.
func New(msg string) *Spinner {
	return &Spinner{
		msg:  msg,
		done: make(chan struct{}),
	}
}

// Start begins the spinner animation in a background goroutine.
// It writes to stderr so it never pollutes stdout.
func (s *Spinner) Start() {
	if !termcolor.IsTerminal(os.Stderr.Fd()) {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		ticker := time.NewTicker(80 * time.Millisecond)
		defer ticker.Stop()
		i := 0
		for {
			select {
			case <-s.done:
				// Clear the spinner line.
				fmt.Fprintf(os.Stderr, "\r\033[K")
				return
			case <-ticker.C:
				fmt.Fprintf(os.Stderr, "\r%s %s", frames[i%len(frames)], s.msg)
				i++
			}
		}
	}()
}

// Stop halts the spinner animation and clears the line.
func (s *Spinner) Stop() {
	select {
	case <-s.done:
		// Already stopped.
	default:
		close(s.done)
	}
	s.wg.Wait()
}

// Bar renders a "phase: N/total" progress line to stderr, overwriting itself
// in place the same way Spinner does, and is silent when stderr isn't a
// terminal. Built for long-running blob transfers (push/pull/clone) where
// the total is known up front, unlike Spinner's indeterminate animation.
type Bar struct {
	tty bool
}

// NewBar creates a Bar bound to stderr's current terminal state.
func NewBar() *Bar {
	return &Bar{tty: termcolor.IsTerminal(os.Stderr.Fd())}
}

// Update prints the current phase/done/total, overwriting the previous line.
// Calling it repeatedly with an unchanged total renders as a live percentage.
func (b *Bar) Update(phase string, done, total int64) {
	if !b.tty || total == 0 {
		return
	}
	pct := float64(done) / float64(total) * 100
	fmt.Fprintf(os.Stderr, "\r\033[K%s: %d/%d (%.0f%%)", phase, done, total, pct)
}

// Done clears the progress line.
func (b *Bar) Done() {
	if !b.tty {
		return
	}
	fmt.Fprintf(os.Stderr, "\r\033[K")
}
