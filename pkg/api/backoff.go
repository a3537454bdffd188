package api

import "time"

// BackoffPolicy controls how an operation is retried when it fails.
// MaxAttempts includes the first attempt. For example:
//
//	MaxAttempts = 1 => no retries (just the initial call)
//	MaxAttempts = 3 => initial call + up to 2 retries
type BackoffPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// Delays materializes the per-retry delays. The slice has MaxAttempts-1
// entries: the delay before attempt 2, before attempt 3, and so on.
func (p BackoffPolicy) Delays() []time.Duration {
	if p.MaxAttempts <= 1 {
		return nil
	}
	mult := p.Multiplier
	if mult <= 0 {
		mult = 2.0
	}
	delays := make([]time.Duration, 0, p.MaxAttempts-1)
	d := p.InitialBackoff
	for i := 1; i < p.MaxAttempts; i++ {
		delay := d
		if p.MaxBackoff > 0 && delay > p.MaxBackoff {
			delay = p.MaxBackoff
		}
		delays = append(delays, delay)
		d = time.Duration(float64(d) * mult)
	}
	return delays
}
