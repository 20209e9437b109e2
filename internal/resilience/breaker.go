package resilience

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrCircuitOpen is returned by Allow while a breaker is rejecting calls.
var ErrCircuitOpen = errors.New("circuit open")

// Breaker trips after consecutive transient failures against one service
// and fails fast while open, easing off a host that is already shedding
// load. Once the cooldown elapses the next call goes through as a probe:
// success closes the circuit, another transient failure reopens it.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration

	mu        sync.Mutex
	failures  int
	openUntil time.Time

	now func() time.Time
}

// NewBreaker creates a Breaker named for the service it guards. Zero or
// negative threshold and cooldown fall back to 5 failures and 30s.
func NewBreaker(name string, threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Allow reports whether a call may proceed. While the circuit is open it
// returns ErrCircuitOpen wrapped as transient, so a caller's retry loop
// backs off instead of hammering the host.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.now().Before(b.openUntil) {
		return NewTransientError(ErrCircuitOpen, 0)
	}
	return nil
}

// Record feeds a call outcome into the breaker. Only transient failures
// count toward tripping: a permanent error or a not-found means the host
// answered, so both reset the failure streak like a success does.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil || !IsTransient(err) {
		b.failures = 0
		return
	}

	b.failures++
	if b.failures >= b.threshold {
		b.openUntil = b.now().Add(b.cooldown)
		zap.L().Warn("circuit breaker opened",
			zap.String("service", b.name),
			zap.Int("failures", b.failures),
			zap.Duration("cooldown", b.cooldown),
		)
	}
}
