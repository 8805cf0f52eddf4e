package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/chattoz/internal/policy"
)

const cosineEpsilon = 1e-8

// Options tunes Manager behaviour.
type Options struct {
	// ReembedOnEdit regenerates the vector when an entry's text is edited.
	// When false the stored vector keeps describing the previous text.
	ReembedOnEdit bool
	// RedactPII masks emails, phone and card numbers before anything is stored.
	RedactPII bool
	// Summarizer, when set, rewrites the saved text into a memory sentence.
	Summarizer Summarizer
	Logger     *slog.Logger
}

// Manager embeds, stores and ranks memory entries on top of a Store.
type Manager struct {
	store    Store
	embedder Embedder
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
}

func NewManager(store Store, embedder Embedder, opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:    store,
		embedder: embedder,
		opts:     opts,
		logger:   logger.With("component", "memory"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Save embeds text and appends a new entry to the user's collection.
func (m *Manager) Save(ctx context.Context, userID, text string) (Entry, error) {
	text = strings.TrimSpace(text)
	if strings.TrimSpace(userID) == "" {
		return Entry{}, errors.New("user id is required")
	}
	if text == "" {
		return Entry{}, errors.New("memory text is required")
	}
	if m.opts.RedactPII {
		text, _ = policy.RedactPII(text)
	}
	if m.opts.Summarizer != nil {
		summary, err := m.opts.Summarizer.Summarize(ctx, text)
		switch {
		case err != nil:
			m.logger.Warn("summarize failed, storing raw text", "user_id", userID, "err", err)
		case strings.TrimSpace(summary) != "":
			text = strings.TrimSpace(summary)
		}
	}

	embedding, err := m.embedder.Embed(ctx, text)
	if err != nil {
		return Entry{}, fmt.Errorf("embed memory: %w", err)
	}

	entry := Entry{
		ID:        uuid.NewString(),
		UserID:    userID,
		Message:   text,
		Summary:   text,
		Embedding: embedding,
		CreatedAt: m.now(),
	}
	if err := m.store.Append(ctx, entry); err != nil {
		return Entry{}, fmt.Errorf("save memory: %w", err)
	}
	m.logger.Debug("memory saved", "user_id", userID, "memory_id", entry.ID, "dims", len(embedding))
	return entry, nil
}

// List returns the user's entries in insertion order.
func (m *Manager) List(ctx context.Context, userID string) ([]Entry, error) {
	return m.store.List(ctx, userID)
}

// Edit replaces the text of an entry. It reports false when the id is absent.
func (m *Manager) Edit(ctx context.Context, userID, memoryID, newText string) (bool, error) {
	newText = strings.TrimSpace(newText)
	if newText == "" {
		return false, errors.New("memory text is required")
	}
	if m.opts.RedactPII {
		newText, _ = policy.RedactPII(newText)
	}

	var embedding []float32
	if m.opts.ReembedOnEdit {
		exists, err := m.has(ctx, userID, memoryID)
		if err != nil {
			return false, fmt.Errorf("edit memory: %w", err)
		}
		if !exists {
			return false, nil
		}
		embedding, err = m.embedder.Embed(ctx, newText)
		if err != nil {
			return false, fmt.Errorf("embed memory: %w", err)
		}
	}

	err := m.store.UpdateMessage(ctx, userID, memoryID, newText, embedding)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("edit memory: %w", err)
	}
	return true, nil
}

// Delete removes an entry. It reports false when the id is absent.
func (m *Manager) Delete(ctx context.Context, userID, memoryID string) (bool, error) {
	err := m.store.Delete(ctx, userID, memoryID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("delete memory: %w", err)
	}
	return true, nil
}

func (m *Manager) has(ctx context.Context, userID, memoryID string) (bool, error) {
	entries, err := m.store.List(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.ID == memoryID {
			return true, nil
		}
	}
	return false, nil
}

type scoredEntry struct {
	entry Entry
	score float64
}

// Relevant ranks the user's entries by cosine similarity to query, most
// similar first. Entries without a usable embedding are skipped. Equal scores
// keep storage order.
func (m *Manager) Relevant(ctx context.Context, userID string, query []float32, topN int) ([]Entry, error) {
	if topN <= 0 || len(query) == 0 {
		return nil, nil
	}
	entries, err := m.store.List(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	if len(entries) == 0 {
		return nil, nil
	}

	candidates := make([]scoredEntry, 0, len(entries))
	for _, e := range entries {
		if len(e.Embedding) == 0 {
			m.logger.Warn("skip memory without embedding", "user_id", userID, "memory_id", e.ID)
			continue
		}
		if len(e.Embedding) != len(query) {
			m.logger.Warn("skip memory with mismatched embedding",
				"user_id", userID,
				"memory_id", e.ID,
				"dims", len(e.Embedding),
				"query_dims", len(query),
			)
			continue
		}
		score := CosineSimilarity(query, e.Embedding)
		if math.IsNaN(score) || math.IsInf(score, 0) {
			m.logger.Warn("skip memory with non-finite score", "user_id", userID, "memory_id", e.ID)
			continue
		}
		candidates = append(candidates, scoredEntry{entry: e, score: score})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	if topN > len(candidates) {
		topN = len(candidates)
	}
	out := make([]Entry, topN)
	for i := 0; i < topN; i++ {
		out[i] = candidates[i].entry
	}
	return out, nil
}

// CosineSimilarity assumes equal lengths; the denominator carries a small
// epsilon so zero vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	return dot / (math.Sqrt(normA)*math.Sqrt(normB) + cosineEpsilon)
}

// Messages extracts the message text of entries, preserving order.
func Messages(entries []Entry) []string {
	if len(entries) == 0 {
		return nil
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Message)
	}
	return out
}
