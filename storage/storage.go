// Package storage provides interfaces and implementations for storing
// web push subscriptions.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/qws941/safewallet/webpush"
)

// ErrNotFound is returned when a record is not found.
var ErrNotFound = errors.New("record not found")

// Record represents a stored subscription with delivery bookkeeping.
type Record struct {
	ID           string                `json:"id"`
	UserID       string                `json:"user_id,omitempty"`
	Subscription *webpush.Subscription `json:"subscription"`
	// FailCount counts consecutive failed deliveries; a success resets it.
	FailCount int `json:"fail_count"`
	// LastUsedAt is the time of the last successful delivery, zero if none.
	LastUsedAt time.Time `json:"last_used_at,omitzero"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Storage defines the interface for storing web push subscriptions.
type Storage interface {
	// Save stores or updates a subscription.
	Save(ctx context.Context, record *Record) error

	// Get retrieves a subscription by ID.
	Get(ctx context.Context, id string) (*Record, error)

	// GetByUserID retrieves all subscriptions for a user.
	GetByUserID(ctx context.Context, userID string) ([]*Record, error)

	// List returns all subscriptions with pagination, newest first.
	List(ctx context.Context, limit, offset int) ([]*Record, error)

	// Delete removes a subscription by ID.
	Delete(ctx context.Context, id string) error

	// MarkDelivered resets the failure count and records at as the last use.
	MarkDelivered(ctx context.Context, id string, at time.Time) error

	// IncrementFailCount adds one to the subscription's failure count.
	IncrementFailCount(ctx context.Context, id string) error

	// DeleteFailing removes every subscription whose failure count has
	// reached threshold and reports how many were removed.
	DeleteFailing(ctx context.Context, threshold int) (int, error)

	// Close closes the storage connection.
	Close() error
}
