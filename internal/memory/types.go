package memory

import (
	"context"
	"time"
)

// Entry is one decided turn in the conversation log. Entries are immutable once appended.
type Entry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
	Intent    string    `json:"intent"`
	Action    string    `json:"action"`
	Target    string    `json:"target,omitempty"`
}

// Store is the append-only conversation log.
type Store interface {
	// Append assigns ID and Timestamp when unset and returns the stored entry.
	Append(ctx context.Context, entry Entry) (Entry, error)
	// Entries returns every entry in append order.
	Entries(ctx context.Context) ([]Entry, error)
	// ForUser returns the most recent limit entries for userID in append order. limit <= 0 means all.
	ForUser(ctx context.Context, userID string, limit int) ([]Entry, error)
	Close() error
}
