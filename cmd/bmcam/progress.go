package main

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/term"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// stdoutIsTTY gates all in-place progress output. When stdout is a pipe the
// printer stays silent so command output remains machine-readable.
var stdoutIsTTY = term.IsTerminal(int(os.Stdout.Fd()))

// ProgressPrinter renders a single updating status line: a prefix, the
// current phase, and either elapsed/remaining seconds or transferred bytes.
//
// Usage:
//
//	p := NewProgressPrinter(...)
//	p.Start()
//	defer p.Stop()
//
// A printer is single-use; Start at most once, Stop exactly once. Stop is
// safe from multiple goroutines and callbacks may race with it.
type ProgressPrinter struct {
	prefix     string
	phase      atomic.Value        // string, current phase name
	stopPhases map[string]struct{} // phases that end the display
	countdown  time.Duration       // >0 shows remaining instead of elapsed

	// transfer ratio, displayed instead of seconds once total is known
	transferred atomic.Uint64
	total       atomic.Uint64

	startTime time.Time
	ticker    atomic.Pointer[time.Ticker]
	stopChan  chan struct{}
	done      chan struct{}
	started   atomic.Bool
}

// NewProgressPrinter creates a printer that shows elapsed time. stopPhases
// name phases that shut the display down when set through PhaseCallback.
func NewProgressPrinter(prefix, phase string, stopPhases ...string) *ProgressPrinter {
	return newPrinter(prefix, phase, 0, stopPhases)
}

// NewCountdownProgressPrinter creates a printer that counts down from
// duration instead of showing elapsed time.
func NewCountdownProgressPrinter(prefix, phase string, duration time.Duration, stopPhases ...string) *ProgressPrinter {
	return newPrinter(prefix, phase, duration, stopPhases)
}

func newPrinter(prefix, phase string, countdown time.Duration, stopPhases []string) *ProgressPrinter {
	stopSet := make(map[string]struct{}, len(stopPhases))
	for _, p := range stopPhases {
		stopSet[p] = struct{}{}
	}
	p := &ProgressPrinter{
		prefix:     prefix,
		stopPhases: stopSet,
		countdown:  countdown,
	}
	p.phase.Store(phase)
	return p
}

// Start begins rendering in a background goroutine. Panics when called twice.
func (p *ProgressPrinter) Start() {
	if !p.started.CompareAndSwap(false, true) {
		panic("ProgressPrinter.Start called more than once")
	}

	p.done = make(chan struct{})
	p.stopChan = make(chan struct{})
	p.startTime = time.Now()
	ticker := time.NewTicker(progressUpdateInterval)
	p.ticker.Store(ticker)

	p.render(p.phase.Load().(string))
	go p.loop(ticker)
}

func (p *ProgressPrinter) loop(ticker *time.Ticker) {
	defer close(p.done)
	for {
		select {
		case <-p.stopChan:
			return
		case <-ticker.C:
			phase := p.phase.Load().(string)
			if _, isStop := p.stopPhases[phase]; isStop {
				return
			}
			p.render(phase)
		}
	}
}

func (p *ProgressPrinter) render(phase string) {
	if !stdoutIsTTY {
		return
	}

	if total := p.total.Load(); total > 0 {
		done := p.transferred.Load()
		pct := float64(done) / float64(total) * 100
		fmt.Printf("\r%s (%s %.0f%%, %s/%s)   ",
			p.prefix, phase, pct, formatBytes(done), formatBytes(total))
		return
	}

	elapsed := time.Since(p.startTime)
	seconds := int(elapsed.Seconds())
	if p.countdown > 0 {
		remaining := p.countdown - elapsed
		if remaining < 0 {
			remaining = 0
		}
		seconds = int(remaining.Seconds() + 0.5)
	}
	if seconds > 0 {
		fmt.Printf("\r%s (%s %ds)   ", p.prefix, phase, seconds)
	} else {
		fmt.Printf("\r%s (%s...)   ", p.prefix, phase)
	}
}

// PhaseCallback returns a callback that moves the display to a new phase,
// stopping it when the phase is a stop phase. Safe from any goroutine.
func (p *ProgressPrinter) PhaseCallback() func(phase string) {
	return func(phase string) {
		p.phase.Store(phase)
		if _, isStop := p.stopPhases[phase]; isStop {
			p.Stop()
		}
	}
}

// SetRatio switches the display to transferred/total bytes. Safe from any
// goroutine, typically a transfer's progress callback.
func (p *ProgressPrinter) SetRatio(transferred, total uint64) {
	p.transferred.Store(transferred)
	p.total.Store(total)
}

// Stop ends the display and clears the line. Safe to call more than once.
func (p *ProgressPrinter) Stop() {
	ticker := p.ticker.Swap(nil)
	if ticker == nil {
		return // already stopped
	}

	ticker.Stop()
	close(p.stopChan)
	<-p.done

	if stdoutIsTTY {
		fmt.Print(clearLineSequence)
	}
}
