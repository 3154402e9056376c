package executor

import "time"

// computeDeadline returns the earliest of the context's own deadline (if
// any), now+timeoutMs, and now+maxProcessingMs, per spec §4.6. A zero value
// for timeoutMs or maxProcessingMs means that bound does not apply.
func computeDeadline(now time.Time, ctxDeadline time.Time, hasCtxDeadline bool, timeoutMs, maxProcessingMs int64) time.Time {
	deadline := time.Time{}
	consider := func(t time.Time) {
		if deadline.IsZero() || t.Before(deadline) {
			deadline = t
		}
	}
	if hasCtxDeadline {
		consider(ctxDeadline)
	}
	if timeoutMs > 0 {
		consider(now.Add(time.Duration(timeoutMs) * time.Millisecond))
	}
	if maxProcessingMs > 0 {
		consider(now.Add(time.Duration(maxProcessingMs) * time.Millisecond))
	}
	return deadline
}

// backoffCap bounds exponential retry backoff (spec §4.6).
const backoffCap = 30 * time.Second

// retryBackoff returns the delay before retry attempt n (1-indexed):
// baseDelayMs * 2^(attempt-1), capped at backoffCap (spec §4.6). A
// non-positive baseDelayMs falls back to a 1s base.
func retryBackoff(baseDelayMs int64, attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	if baseDelayMs <= 0 {
		baseDelayMs = 1000
	}
	shift := uint(attempt - 1)
	if shift > 20 {
		shift = 20 // guard against overflow before the cap comparison
	}
	d := time.Duration(baseDelayMs) * time.Millisecond << shift
	if d <= 0 || d > backoffCap {
		return backoffCap
	}
	return d
}
