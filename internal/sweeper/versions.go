package sweeper

import (
	"sync"
	"sync/atomic"

	"github.com/ErlanBelekov/alerting-scheduler/internal/metrics"
)

// versionMap tracks the latest swept version of each job on one shard.
// compute gives per-id atomic read-modify-write without a map-wide lock.
type versionMap struct {
	entries sync.Map // job id -> *versionEntry
	size    atomic.Int64
}

type versionEntry struct {
	mu      sync.Mutex
	version int64
	tracked bool
	removed bool // unlinked from the map; callers must retry with a fresh entry
}

// compute calls fn with the current version of id and stores what it
// returns. keep=false forgets id.
func (m *versionMap) compute(id string, fn func(current int64, tracked bool) (next int64, keep bool)) {
	for {
		v, _ := m.entries.LoadOrStore(id, &versionEntry{})
		e := v.(*versionEntry)

		e.mu.Lock()
		if e.removed {
			e.mu.Unlock()
			continue
		}
		next, keep := fn(e.version, e.tracked)
		if keep {
			if !e.tracked {
				m.size.Add(1)
				metrics.TrackedJobs.Inc()
			}
			e.version, e.tracked = next, true
		} else {
			if e.tracked {
				m.size.Add(-1)
				metrics.TrackedJobs.Dec()
			}
			e.tracked, e.removed = false, true
			m.entries.CompareAndDelete(id, e)
		}
		e.mu.Unlock()
		return
	}
}

func (m *versionMap) get(id string) (int64, bool) {
	v, ok := m.entries.Load(id)
	if !ok {
		return 0, false
	}
	e := v.(*versionEntry)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.version, e.tracked
}

func (m *versionMap) ids() []string {
	var out []string
	m.entries.Range(func(key, value any) bool {
		e := value.(*versionEntry)
		e.mu.Lock()
		if e.tracked {
			out = append(out, key.(string))
		}
		e.mu.Unlock()
		return true
	})
	return out
}

// snapshot returns the tracked version of every tracked id.
func (m *versionMap) snapshot() map[string]int64 {
	out := make(map[string]int64)
	m.entries.Range(func(key, value any) bool {
		e := value.(*versionEntry)
		e.mu.Lock()
		if e.tracked {
			out[key.(string)] = e.version
		}
		e.mu.Unlock()
		return true
	})
	return out
}

func (m *versionMap) forget(id string) {
	m.compute(id, func(int64, bool) (int64, bool) { return 0, false })
}

// clear drops every entry and returns the ids that were tracked.
func (m *versionMap) clear() []string {
	ids := m.ids()
	for _, id := range ids {
		m.forget(id)
	}
	return ids
}

func (m *versionMap) len() int { return int(m.size.Load()) }
