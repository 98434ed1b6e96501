package gateway

import "time"

// Backoff returns base * 2^retry capped at max. A negative retry returns base.
func Backoff(retry int, base, max time.Duration) time.Duration {
	if retry < 0 {
		return base
	}
	// 2^30 seconds is far past any sane cap.
	if retry > 30 {
		return max
	}
	d := base * time.Duration(1<<retry)
	if d > max || d <= 0 {
		return max
	}
	return d
}
