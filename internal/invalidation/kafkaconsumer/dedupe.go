package kafkaconsumer

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// offsetDedupe remembers the highest applied offset per topic/partition so
// redelivered messages after a rebalance are skipped.
type offsetDedupe struct {
	mu  sync.Mutex
	lru *lru.Cache[string, int64]
}

func newOffsetDedupe(size int) *offsetDedupe {
	if size <= 0 {
		size = 4096
	}
	c, _ := lru.New[string, int64](size)
	return &offsetDedupe{lru: c}
}

func (d *offsetDedupe) applied(key string, off int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	last, ok := d.lru.Get(key)
	return ok && off <= last
}

func (d *offsetDedupe) record(key string, off int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if last, ok := d.lru.Get(key); ok && off <= last {
		return
	}
	d.lru.Add(key, off)
}
