package main

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter keeps a single status line such as "Connecting to X (3s)"
// up to date until Stop.
//
// A ProgressPrinter is single-use. Start may be called at most once; Stop is
// safe to call any number of times from any goroutine.
type ProgressPrinter struct {
	w         io.Writer
	prefix    string
	phase     string
	startTime time.Time

	started  atomic.Bool
	stopped  atomic.Bool
	stopChan chan struct{}
	done     chan struct{}
}

// NewProgressPrinter creates a printer showing elapsed seconds.
func NewProgressPrinter(w io.Writer, prefix, phase string) *ProgressPrinter {
	return &ProgressPrinter{
		w:        w,
		prefix:   prefix,
		phase:    phase,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins updating the line in a background goroutine.
// Panics if called more than once.
func (p *ProgressPrinter) Start() {
	if !p.started.CompareAndSwap(false, true) {
		panic("ProgressPrinter.Start called more than once")
	}
	p.startTime = time.Now()

	fmt.Fprintf(p.w, "\r%s (%s...)   ", p.prefix, p.phase)

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(progressUpdateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-p.stopChan:
				return
			case <-ticker.C:
				p.print(int(time.Since(p.startTime).Seconds()))
			}
		}
	}()
}

func (p *ProgressPrinter) print(seconds int) {
	if seconds > 0 {
		fmt.Fprintf(p.w, "\r%s (%s %ds)   ", p.prefix, p.phase, seconds)
	} else {
		fmt.Fprintf(p.w, "\r%s (%s...)   ", p.prefix, p.phase)
	}
}

// Stop ends the updates and clears the line. A printer that never started
// is left untouched.
func (p *ProgressPrinter) Stop() {
	if p == nil || !p.started.Load() || !p.stopped.CompareAndSwap(false, true) {
		return
	}
	close(p.stopChan)
	<-p.done
	fmt.Fprint(p.w, clearLineSequence)
}
