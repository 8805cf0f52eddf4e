package memory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	for i, id := range []string{"m1", "m2", "m3"} {
		err := store.Append(ctx, Entry{
			ID:        id,
			UserID:    "host-1",
			Message:   "memory " + id,
			Summary:   "memory " + id,
			Embedding: []float32{float32(i), 1},
			CreatedAt: now,
		})
		if err != nil {
			t.Fatalf("Append(%s) error = %v", id, err)
		}
	}
	if err := store.Append(ctx, Entry{ID: "other", UserID: "guest-1", Message: "x", Summary: "x", CreatedAt: now}); err != nil {
		t.Fatalf("Append(other) error = %v", err)
	}

	list, err := store.List(ctx, "host-1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 3 || list[0].ID != "m1" || list[2].ID != "m3" {
		t.Fatalf("List() = %+v, want m1..m3 in order", list)
	}
	if len(list[1].Embedding) != 2 || list[1].Embedding[0] != 1 {
		t.Fatalf("embedding round trip = %v", list[1].Embedding)
	}

	if err := store.UpdateMessage(ctx, "host-1", "m2", "edited", nil); err != nil {
		t.Fatalf("UpdateMessage() error = %v", err)
	}
	if err := store.UpdateMessage(ctx, "host-1", "m3", "edited too", []float32{9, 9}); err != nil {
		t.Fatalf("UpdateMessage(with vector) error = %v", err)
	}
	if err := store.UpdateMessage(ctx, "guest-1", "m2", "wrong owner", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("UpdateMessage(wrong owner) error = %v, want ErrNotFound", err)
	}

	list, _ = store.List(ctx, "host-1")
	if list[1].Message != "edited" || list[1].Summary != "memory m2" || list[1].Embedding[0] != 1 {
		t.Fatalf("after edit m2 = %+v", list[1])
	}
	if list[2].Message != "edited too" || list[2].Embedding[0] != 9 {
		t.Fatalf("after edit m3 = %+v", list[2])
	}

	if err := store.Delete(ctx, "host-1", "m1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := store.Delete(ctx, "host-1", "m1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Delete() error = %v, want ErrNotFound", err)
	}
	list, _ = store.List(ctx, "host-1")
	if len(list) != 2 || list[0].ID != "m2" {
		t.Fatalf("after delete = %+v", list)
	}

	empty, err := store.List(ctx, "nobody")
	if err != nil || len(empty) != 0 {
		t.Fatalf("List(nobody) = %v, %v; want empty", empty, err)
	}
}

func TestInMemoryStoreContract(t *testing.T) {
	exerciseStore(t, NewInMemoryStore())
}

func TestSQLiteStoreContract(t *testing.T) {
	store, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "memories.db"), nil)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	defer store.Close()
	exerciseStore(t, store)
}

func TestSQLiteStoreSkipsUndecodableEmbedding(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "memories.db"), nil)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	defer store.Close()

	_, err = store.db.ExecContext(ctx,
		`INSERT INTO user_memories (id, user_id, message, summary, embedding, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		"bad", "u", "broken", "broken", "not-json", time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		t.Fatalf("seed row: %v", err)
	}

	list, err := store.List(ctx, "u")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 1 || list[0].Embedding != nil {
		t.Fatalf("List() = %+v, want entry without embedding", list)
	}

	m := NewManager(store, &tableEmbedder{}, Options{})
	got, err := m.Relevant(ctx, "u", []float32{1, 0}, 3)
	if err != nil || len(got) != 0 {
		t.Fatalf("Relevant() = %v, %v; want empty", got, err)
	}
}

func TestRedisStoreContract(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStoreFromClient(client, nil)
	defer store.Close()
	exerciseStore(t, store)
}

func TestRedisStoreSkipsMalformedEntries(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStoreFromClient(client, nil)
	defer store.Close()

	ctx := context.Background()
	if err := client.RPush(ctx, redisKey("u"), "{not json").Err(); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := store.Append(ctx, Entry{ID: "ok", UserID: "u", Message: "fine"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	list, err := store.List(ctx, "u")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 1 || list[0].ID != "ok" {
		t.Fatalf("List() = %+v, want only ok", list)
	}
}

func TestPostgresStoreContract(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	store, err := NewPostgresStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewPostgresStore() error = %v", err)
	}
	defer store.Close()
	if _, err := store.pool.Exec(ctx, `DELETE FROM user_memories WHERE user_id IN ('host-1', 'guest-1', 'nobody')`); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	exerciseStore(t, store)
}

func TestNewStoreRejectsUnknownScheme(t *testing.T) {
	if _, err := NewStore(context.Background(), "mongodb://localhost", nil); err == nil {
		t.Fatalf("expected error for unsupported scheme")
	}
	s, err := NewStore(context.Background(), "", nil)
	if err != nil {
		t.Fatalf("NewStore(\"\") error = %v", err)
	}
	if _, ok := s.(*InMemoryStore); !ok {
		t.Fatalf("NewStore(\"\") = %T, want *InMemoryStore", s)
	}
}
