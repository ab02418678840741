package store

import (
	"context"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// kvValue pairs a stored value with its absolute expiry, grounded on
// DMRHub's internal/kv/memory.go kvValue{values, ttl} shape.
type kvValue struct {
	value  []byte
	expiry time.Time // zero means no expiry
}

// memoryKV is an xsync.MapOf-backed in-memory KV store with a background
// sweep goroutine evicting expired entries, used in place of Redis when no
// Redis backend is configured (the in-process/test deployment profile).
type memoryKV struct {
	data *xsync.MapOf[string, kvValue]
	stop chan struct{}
}

func newMemoryKV() *memoryKV {
	m := &memoryKV{
		data: xsync.NewMapOf[string, kvValue](),
		stop: make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

func (m *memoryKV) sweepLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			now := time.Now()
			m.data.Range(func(k string, v kvValue) bool {
				if !v.expiry.IsZero() && now.After(v.expiry) {
					m.data.Delete(k)
				}
				return true
			})
		}
	}
}

func (m *memoryKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.data.Load(key)
	if !ok {
		return nil, false, nil
	}
	if !v.expiry.IsZero() && time.Now().After(v.expiry) {
		m.data.Delete(key)
		return nil, false, nil
	}
	return v.value, true, nil
}

func (m *memoryKV) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	var expiry time.Time
	if ttl > 0 {
		expiry = time.Now().Add(ttl)
	}
	m.data.Store(key, kvValue{value: value, expiry: expiry})
	return nil
}

func (m *memoryKV) Delete(_ context.Context, key string) error {
	m.data.Delete(key)
	return nil
}

func (m *memoryKV) Has(ctx context.Context, key string) (bool, error) {
	_, ok, err := m.Get(ctx, key)
	return ok, err
}

// Close stops the sweep goroutine.
func (m *memoryKV) Close() {
	close(m.stop)
}
