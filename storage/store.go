package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound signals the requested key has never been written.
var ErrNotFound = errors.New("storage: key not found")

// Store is the durable per-entity key-value contract. Each actor owns a
// disjoint set of keys; the single-writer discipline is enforced above this
// layer by the actor engine, so implementations only need per-key atomicity.
type Store interface {
	// Get returns the raw value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put writes the value under key, replacing any previous value.
	Put(ctx context.Context, key string, value []byte) error
	// ListKeys returns every key with the given prefix.
	ListKeys(ctx context.Context, prefix string) ([]string, error)
}

// GetJSON loads the value under key and unmarshals it into out.
func GetJSON(ctx context.Context, s Store, key string, out any) error {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("storage: decode %s: %w", key, err)
	}
	return nil
}

// PutJSON marshals v and writes it under key.
func PutJSON(ctx context.Context, s Store, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("storage: encode %s: %w", key, err)
	}
	return s.Put(ctx, key, raw)
}
