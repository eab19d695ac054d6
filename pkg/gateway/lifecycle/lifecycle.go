// Package lifecycle holds the process lifecycle state shared across handlers.
package lifecycle

import "sync/atomic"

// Lifecycle tracks whether the gateway is draining. While draining,
// readiness fails and new chat streams are refused; in-flight requests run
// to completion under the shutdown grace period. A nil receiver reports
// not draining so handlers can omit the field in tests.
type Lifecycle struct {
	draining atomic.Bool
}

func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	l.draining.Store(draining)
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}
