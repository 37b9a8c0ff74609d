package server

import (
	"strings"
	"time"
)

// throttle is a token bucket bounding the inbound frame rate of one
// connection. It is owned and driven by the engine goroutine, so no lock
// is needed.
type throttle struct {
	tokens    float64
	capacity  float64
	rate      float64
	lastCheck time.Time
}

func newThrottle(capacity int, interval time.Duration) *throttle {
	if capacity <= 0 {
		capacity = 1
	}
	if interval <= 0 {
		interval = time.Second
	}

	rate := float64(capacity) / interval.Seconds()

	return &throttle{
		tokens:    float64(capacity),
		capacity:  float64(capacity),
		rate:      rate,
		lastCheck: time.Now(),
	}
}

func (t *throttle) allow() bool {
	now := time.Now()
	elapsed := now.Sub(t.lastCheck).Seconds()
	t.lastCheck = now

	if elapsed > 0 {
		t.tokens += elapsed * t.rate
		if t.tokens > t.capacity {
			t.tokens = t.capacity
		}
	}

	if t.tokens < 1 {
		return false
	}

	t.tokens--
	return true
}

// isExpectedCloseError reports whether an error is the ordinary noise of a
// connection tearing down.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
