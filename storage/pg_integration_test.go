package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TestPGStore_Integration connects to a real PostgreSQL via DATABASE_URL and
// verifies the upsert and prefix-listing behavior end to end.
func TestPGStore_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	store, err := NewPGStore(ctx, pool)
	if err != nil {
		t.Fatalf("new pg store: %v", err)
	}

	prefix := fmt.Sprintf("itest:%d:", time.Now().UnixNano())
	t.Cleanup(func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel2()
		_, _ = pool.Exec(ctx2, `DELETE FROM entity_states WHERE key LIKE $1 || '%'`, prefix)
	})

	keyA := prefix + "activity:a"
	keyB := prefix + "activity:b"

	if _, err := store.Get(ctx, keyA); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for fresh key, got %v", err)
	}

	if err := store.Put(ctx, keyA, []byte(`{"status":"draft"}`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Put(ctx, keyA, []byte(`{"status":"processing"}`)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	raw, err := store.Get(ctx, keyA)
	if err != nil {
		t.Fatalf("get after upsert: %v", err)
	}
	if string(raw) != `{"status": "processing"}` && string(raw) != `{"status":"processing"}` {
		t.Fatalf("unexpected stored value %q", raw)
	}

	if err := store.Put(ctx, keyB, []byte(`{}`)); err != nil {
		t.Fatalf("put b: %v", err)
	}
	keys, err := store.ListKeys(ctx, prefix+"activity:")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(keys) != 2 || keys[0] != keyA || keys[1] != keyB {
		t.Fatalf("unexpected keys %v", keys)
	}
}
