// Package chaos injects storage faults into stress runs.
package chaos

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"github.com/TrickeySolutions/aggregator-demo/storage"
)

// ErrInjected marks a fault produced by this package. Harness actors match
// on it to tell injected failures from real bugs.
var ErrInjected = errors.New("chaos: injected fault")

// FlakyStore wraps a Store and fails a fraction of calls at random. Failed
// puts never partially apply; the inner store sees either the whole write
// or nothing.
type FlakyStore struct {
	inner storage.Store
	rate  float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewFlakyStore returns a store that fails roughly rate of its calls,
// where rate is in [0,1).
func NewFlakyStore(inner storage.Store, rate float64, seed int64) *FlakyStore {
	return &FlakyStore{inner: inner, rate: rate, rng: rand.New(rand.NewSource(seed))}
}

func (f *FlakyStore) trip(op string) error {
	f.mu.Lock()
	hit := f.rng.Float64() < f.rate
	f.mu.Unlock()
	if hit {
		return fmt.Errorf("%s: %w", op, ErrInjected)
	}
	return nil
}

func (f *FlakyStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := f.trip("get"); err != nil {
		return nil, err
	}
	return f.inner.Get(ctx, key)
}

func (f *FlakyStore) Put(ctx context.Context, key string, value []byte) error {
	if err := f.trip("put"); err != nil {
		return err
	}
	return f.inner.Put(ctx, key, value)
}

func (f *FlakyStore) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	if err := f.trip("list"); err != nil {
		return nil, err
	}
	return f.inner.ListKeys(ctx, prefix)
}
