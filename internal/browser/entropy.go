package browser

import (
	_ "embed"
	"sync"

	"github.com/flak3dd/manifold/api/schemas"
)

// probeJS samples the fingerprintable surface the live page actually
// renders. It runs off the gesture lock so telemetry keeps flowing while
// a long gesture plays.
//
//go:embed probe.js
var probeJS string

// entropyLog accumulates snapshots for the session's lifetime. Sessions
// sample twice a minute, so there is no need to bound it.
type entropyLog struct {
	mu      sync.Mutex
	samples []schemas.EntropySnapshot
}

func (l *entropyLog) add(s schemas.EntropySnapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.samples = append(l.samples, s)
}

func (l *entropyLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.samples)
}

func (l *entropyLog) snapshot() []schemas.EntropySnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]schemas.EntropySnapshot, len(l.samples))
	copy(out, l.samples)
	return out
}
