package retry

import "time"

// Phase is the state of a Backoff.
type Phase int

const (
	// PhaseReady means the next attempt may run now.
	PhaseReady Phase = iota
	// PhaseWaiting means the last attempt failed and NextDelay must elapse.
	PhaseWaiting
	// PhaseSucceeded is terminal: an attempt succeeded.
	PhaseSucceeded
	// PhaseExhausted is terminal: attempts ran out or the failure was permanent.
	PhaseExhausted
)

func (p Phase) String() string {
	switch p {
	case PhaseReady:
		return "ready"
	case PhaseWaiting:
		return "waiting"
	case PhaseSucceeded:
		return "succeeded"
	case PhaseExhausted:
		return "exhausted"
	}
	return "unknown"
}

// Terminal reports whether no further attempts will be made.
func (p Phase) Terminal() bool {
	return p == PhaseSucceeded || p == PhaseExhausted
}

// Backoff is the state machine of one retried operation.
//
//	ready --Fail--> waiting --Resume--> ready ... --Succeed--> succeeded
//	                                     \--Fail (last / permanent)--> exhausted
type Backoff struct {
	policy    Policy
	phase     Phase
	attempts  int
	nextDelay time.Duration
	lastErr   error
}

// Start returns a Backoff in the ready phase.
func (p Policy) Start() *Backoff {
	return &Backoff{policy: p}
}

// Resume returns a Backoff that already used the given number of attempts,
// for operations whose attempt count is persisted between runs.
func (p Policy) Resume(attempts int) *Backoff {
	b := &Backoff{policy: p, attempts: attempts}
	if attempts >= p.MaxAttempts {
		b.phase = PhaseExhausted
	}
	return b
}

// Phase returns the current phase.
func (b *Backoff) Phase() Phase { return b.phase }

// Attempts returns the number of attempts recorded so far.
func (b *Backoff) Attempts() int { return b.attempts }

// NextDelay returns the delay to wait before the next attempt.
func (b *Backoff) NextDelay() time.Duration { return b.nextDelay }

// Err returns the last recorded failure.
func (b *Backoff) Err() error { return b.lastErr }

// Fail records a failed attempt. It returns the delay before the next
// attempt and true, or zero and false when the backoff became exhausted.
func (b *Backoff) Fail(err error) (time.Duration, bool) {
	if b.phase.Terminal() {
		return 0, false
	}
	b.attempts++
	b.lastErr = err
	if IsPermanent(err) || b.attempts >= b.policy.MaxAttempts {
		b.phase = PhaseExhausted
		b.nextDelay = 0
		return 0, false
	}
	b.phase = PhaseWaiting
	b.nextDelay = b.policy.Delay(b.attempts)
	return b.nextDelay, true
}

// Resume marks the wait as elapsed.
func (b *Backoff) Resume() {
	if b.phase == PhaseWaiting {
		b.phase = PhaseReady
		b.nextDelay = 0
	}
}

// Succeed records a successful attempt.
func (b *Backoff) Succeed() {
	if b.phase.Terminal() {
		return
	}
	b.attempts++
	b.phase = PhaseSucceeded
	b.nextDelay = 0
	b.lastErr = nil
}
