package librealtime

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultDiagnosticsEvery = 5 * time.Second
	defaultDiagnosticsBurst = 3
)

// diagnostics reports subscription failures without flooding the log: transient
// failures go through a token bucket, terminal ones are reported once per key.
type diagnostics struct {
	logger  Logger
	limiter *rate.Limiter

	mu         sync.Mutex
	reported   map[string]struct{}
	suppressed int
}

func newDiagnostics(logger Logger, every time.Duration, burst int) *diagnostics {
	if every <= 0 {
		every = defaultDiagnosticsEvery
	}
	if burst <= 0 {
		burst = defaultDiagnosticsBurst
	}
	return &diagnostics{
		logger:   logger,
		limiter:  rate.NewLimiter(rate.Every(every), burst),
		reported: make(map[string]struct{}),
	}
}

// transient logs a warning unless the rate limit is exhausted. The number of dropped
// lines is attached to the next line that gets through.
func (d *diagnostics) transient(format string, args ...any) bool {
	d.mu.Lock()
	if !d.limiter.Allow() {
		d.suppressed++
		d.mu.Unlock()
		return false
	}
	suppressed := d.suppressed
	d.suppressed = 0
	d.mu.Unlock()

	l := d.logger
	if suppressed > 0 {
		l = l.WithField("suppressed", suppressed)
	}
	l.Warnf(format, args...)
	return true
}

// once runs report the first time key is seen.
func (d *diagnostics) once(key string, report func(Logger)) bool {
	d.mu.Lock()
	if _, ok := d.reported[key]; ok {
		d.mu.Unlock()
		return false
	}
	d.reported[key] = struct{}{}
	d.mu.Unlock()

	report(d.logger)
	return true
}

func (d *diagnostics) debugf(format string, args ...any) {
	d.logger.Debugf(format, args...)
}
