package realtime

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const lockStripes = 64

// stripedLocks serializes work per entity key without a map entry per entity.
type stripedLocks struct {
	stripes [lockStripes]sync.Mutex
}

// lock acquires the stripe for key and returns its release. An empty key locks nothing.
func (l *stripedLocks) lock(key string) func() {
	if key == "" {
		return func() {}
	}
	m := &l.stripes[xxhash.Sum64String(key)%lockStripes]
	m.Lock()
	return m.Unlock
}
