// Package resilience keeps a turn moving when an optional pipeline stage is
// slow or down.
//
// Every stage except the core generator is wrapped in a [Degrader]: the call
// gets its own timeout, failures produce a typed "skip it" outcome instead of
// an error the caller must handle, and a stage that fails repeatedly is put
// in a cooldown during which calls are skipped outright instead of waiting
// out the timeout on a dead backend.
package resilience

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DegraderConfig configures a [Degrader].
type DegraderConfig struct {
	// Name identifies the stage in logs (e.g., "tts", "image").
	Name string

	// Timeout bounds each wrapped call. Zero means DefaultTimeout.
	Timeout time.Duration

	// CooldownThreshold is how many consecutive failures open the cooldown.
	// Zero means DefaultCooldownThreshold.
	CooldownThreshold int

	// CooldownDuration is how long calls are skipped once the cooldown
	// opens. Zero means DefaultCooldownDuration.
	CooldownDuration time.Duration

	// Logger receives degradation warnings. Nil uses slog.Default().
	Logger *slog.Logger

	// OnDegrade, if non-nil, is invoked with the stage name after every
	// skipped or failed call. Used to feed metrics.
	OnDegrade func(name string)
}

// Defaults for [DegraderConfig] zero values.
const (
	DefaultTimeout           = 10 * time.Second
	DefaultCooldownThreshold = 3
	DefaultCooldownDuration  = 30 * time.Second
)

// Degrader wraps one optional pipeline stage. It is safe for concurrent use.
type Degrader struct {
	name      string
	timeout   time.Duration
	threshold int
	cooldown  time.Duration
	log       *slog.Logger
	onDegrade func(string)

	mu            sync.Mutex
	failures      int
	cooldownUntil time.Time
}

// NewDegrader creates a Degrader from cfg, filling zero values with defaults.
func NewDegrader(cfg DegraderConfig) *Degrader {
	d := &Degrader{
		name:      cfg.Name,
		timeout:   cfg.Timeout,
		threshold: cfg.CooldownThreshold,
		cooldown:  cfg.CooldownDuration,
		log:       cfg.Logger,
		onDegrade: cfg.OnDegrade,
	}
	if d.timeout <= 0 {
		d.timeout = DefaultTimeout
	}
	if d.threshold <= 0 {
		d.threshold = DefaultCooldownThreshold
	}
	if d.cooldown <= 0 {
		d.cooldown = DefaultCooldownDuration
	}
	if d.log == nil {
		d.log = slog.Default()
	}
	return d
}

// Do runs fn under d's timeout. It returns fn's value and true on success,
// or the zero value and false when fn fails, times out, or the stage is in
// cooldown. The caller treats false as "continue the turn without this
// stage".
func Do[T any](ctx context.Context, d *Degrader, fn func(ctx context.Context) (T, error)) (T, bool) {
	var zero T

	if d.inCooldown() {
		d.noteDegrade()
		return zero, false
	}

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	val, err := fn(callCtx)
	if err != nil {
		d.recordFailure(err)
		d.noteDegrade()
		return zero, false
	}

	d.recordSuccess()
	return val, true
}

// inCooldown reports whether calls are currently being skipped.
func (d *Degrader) inCooldown() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return time.Now().Before(d.cooldownUntil)
}

// recordFailure counts a failure and opens the cooldown at the threshold.
func (d *Degrader) recordFailure(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.failures++
	if d.failures >= d.threshold {
		d.cooldownUntil = time.Now().Add(d.cooldown)
		d.failures = 0
		d.log.Warn("stage entering cooldown after repeated failures",
			"stage", d.name,
			"cooldown", d.cooldown,
			"err", err,
		)
		return
	}
	d.log.Warn("stage degraded", "stage", d.name, "err", err)
}

// recordSuccess resets the consecutive-failure counter.
func (d *Degrader) recordSuccess() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures = 0
}

func (d *Degrader) noteDegrade() {
	if d.onDegrade != nil {
		d.onDegrade(d.name)
	}
}
