package memory

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("memory not found")

// Entry is a single semantic fact saved for a user.
type Entry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Message   string    `json:"message"`
	Summary   string    `json:"summary"`
	Embedding []float32 `json:"embedding,omitempty"`
	CreatedAt time.Time `json:"timestamp"`
}

// Store persists per-user memory entries in insertion order.
//
// UpdateMessage replaces the message text of an entry. A nil embedding keeps
// the stored vector. UpdateMessage and Delete return ErrNotFound when the id
// is absent for the user.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	List(ctx context.Context, userID string) ([]Entry, error)
	UpdateMessage(ctx context.Context, userID, memoryID, message string, embedding []float32) error
	Delete(ctx context.Context, userID, memoryID string) error
	Close() error
}

// Embedder maps text to a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Summarizer rewrites a raw user statement into a compact memory sentence.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}
