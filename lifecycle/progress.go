package lifecycle

import "sync"

// progressTracker enforces the monotonic non-decreasing progressPct
// invariant within a single activation (spec §4.6/§8): a matcher hit whose
// percentage is less than the last-published one is downgraded to Debug by
// the caller instead of being published as Progress.
type progressTracker struct {
	mu      sync.Mutex
	lastPct int
}

// Accept reports whether pct may be published as Progress (pct is >= the
// highest percentage already observed for this activation) and records it
// if so.
func (t *progressTracker) Accept(pct int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if pct < t.lastPct {
		return false
	}
	t.lastPct = pct
	return true
}
