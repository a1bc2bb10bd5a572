package console

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/ticker"
)

const (
	// progressBarWidth is the number of cells between the brackets.
	progressBarWidth = 10

	// DefaultSpinInterval is how often the activity marker advances a
	// frame while work is in flight.
	DefaultSpinInterval = 150 * time.Millisecond
)

// spinnerFrames are cycled at the fill boundary while the bar is not yet
// full.
var spinnerFrames = []string{"/", "-", "\\", "|"}

// ProgressBar renders batch progress as a single redrawn terminal line
// of the form "Progress: [####/     ] 45%". The marker at the fill
// boundary spins on every ticker tick so long running units still show
// activity between updates.
type ProgressBar struct {
	w    io.Writer
	tick ticker.Ticker

	mtx       sync.Mutex
	completed int
	total     int
	frame     int

	wg      sync.WaitGroup
	quit    chan struct{}
	started sync.Once
	stopped sync.Once
}

// NewProgressBar returns a bar writing to w, animated by the passed
// ticker. Tests inject a force ticker.
func NewProgressBar(w io.Writer, t ticker.Ticker) *ProgressBar {
	return &ProgressBar{
		w:    w,
		tick: t,
		quit: make(chan struct{}),
	}
}

// Start begins the spinner animation.
func (p *ProgressBar) Start() {
	p.started.Do(func() {
		p.tick.Resume()

		p.wg.Add(1)
		go p.spin()
	})
}

// Update records batch progress and redraws the line. It matches the
// wallet manager's progress callback signature.
func (p *ProgressBar) Update(completed, total int) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	p.completed = completed
	p.total = total
	p.redrawLocked()
}

// Stop ends the animation, draws the final state and terminates the
// line. Later calls are no-ops.
func (p *ProgressBar) Stop() {
	p.stopped.Do(func() {
		close(p.quit)
		p.wg.Wait()
		p.tick.Stop()

		p.mtx.Lock()
		p.redrawLocked()
		fmt.Fprintln(p.w)
		p.mtx.Unlock()
	})
}

// Line returns the bar as it would be drawn right now.
func (p *ProgressBar) Line() string {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	return p.lineLocked()
}

func (p *ProgressBar) spin() {
	defer p.wg.Done()

	for {
		select {
		case <-p.tick.Ticks():
			p.mtx.Lock()
			p.frame = (p.frame + 1) % len(spinnerFrames)
			p.redrawLocked()
			p.mtx.Unlock()

		case <-p.quit:
			return
		}
	}
}

func (p *ProgressBar) redrawLocked() {
	fmt.Fprint(p.w, "\r"+p.lineLocked())
}

func (p *ProgressBar) lineLocked() string {
	completed, total := p.completed, p.total
	if completed > total {
		completed = total
	}

	var pct, filled int
	if total > 0 {
		pct = completed * 100 / total
		filled = completed * progressBarWidth / total
	}

	var cells string
	if filled >= progressBarWidth {
		cells = strings.Repeat("#", progressBarWidth)
	} else {
		cells = strings.Repeat("#", filled) +
			spinnerFrames[p.frame] +
			strings.Repeat(" ", progressBarWidth-filled-1)
	}

	return fmt.Sprintf("Progress: [%s] %d%%", cells, pct)
}
