package monitor

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// ProgressTracker prints record progress of a run on one terminal line.
// It satisfies writer.Progress; the total grows as batches are announced.
type ProgressTracker struct {
	out          io.Writer
	label        string
	every        int
	total        int
	current      int
	lastReported int
	start        time.Time
	now          func() time.Time
	mu           sync.Mutex
}

// NewProgressTracker creates a tracker that reports every `every` records
// to out (typically os.Stderr).
func NewProgressTracker(out io.Writer, label string, every int) *ProgressTracker {
	if every <= 0 {
		every = 1
	}
	return &ProgressTracker{out: out, label: label, every: every, now: time.Now}
}

// AddTotal announces n more records. The clock starts on the first call.
func (p *ProgressTracker) AddTotal(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.start.IsZero() {
		p.start = p.now()
	}
	p.total += n
}

// Increment records delta processed records.
func (p *ProgressTracker) Increment(delta int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.start.IsZero() {
		return
	}
	p.current = min(p.current+delta, p.total)
	if p.current-p.lastReported >= p.every {
		p.report()
		p.lastReported = p.current
	}
}

// Finish prints the final line.
func (p *ProgressTracker) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.start.IsZero() {
		return
	}
	p.report()
	fmt.Fprintln(p.out)
}

// Counts returns processed and announced records.
func (p *ProgressTracker) Counts() (current, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current, p.total
}

// report must be called with the lock held.
func (p *ProgressTracker) report() {
	rate := 0.0
	if secs := p.now().Sub(p.start).Seconds(); secs > 0 {
		rate = float64(p.current) / secs
	}
	pct := 0.0
	if p.total > 0 {
		pct = float64(p.current) / float64(p.total) * 100
	}
	fmt.Fprintf(p.out, "\r%s: %d/%d (%.1f%%) - %.1f records/s", p.label, p.current, p.total, pct, rate)
}
