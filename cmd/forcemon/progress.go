package main

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter shows a countdown on one terminal line until Stop is called.
//
// Usage:
//
//	p := NewProgressPrinter(os.Stderr, "Scanning", 4*time.Second)
//	p.Start()
//	defer p.Stop()
//
// A ProgressPrinter is single-use.
type ProgressPrinter struct {
	w        io.Writer
	prefix   string
	duration time.Duration

	started   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	done      chan struct{}
}

func NewProgressPrinter(w io.Writer, prefix string, duration time.Duration) *ProgressPrinter {
	return &ProgressPrinter{
		w:        w,
		prefix:   prefix,
		duration: duration,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// remaining rounds the time left to the nearest second
func (p *ProgressPrinter) remaining(elapsed time.Duration) int {
	left := p.duration - elapsed
	if left <= 0 {
		return 0
	}
	return int(left.Seconds() + 0.5)
}

// Start begins updating the progress line in a background goroutine
func (p *ProgressPrinter) Start() {
	p.startOnce.Do(func() {
		p.started.Store(true)
		start := time.Now()
		fmt.Fprintf(p.w, "\r%s (%ds)   ", p.prefix, p.remaining(0))

		go func() {
			defer close(p.done)
			ticker := time.NewTicker(progressUpdateInterval)
			defer ticker.Stop()
			for {
				select {
				case <-p.stopCh:
					return
				case <-ticker.C:
					fmt.Fprintf(p.w, "\r%s (%ds)   ", p.prefix, p.remaining(time.Since(start)))
				}
			}
		}()
	})
}

// Stop ends the display and clears the line; safe to call more than once
func (p *ProgressPrinter) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
		if !p.started.Load() {
			return
		}
		<-p.done
		fmt.Fprint(p.w, clearLineSequence)
	})
}
