// Package queue consumes queued notification jobs, fans each one out to its
// subscriptions and writes the per-subscription outcome back to the store.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/qws941/safewallet/webpush"
	"github.com/qws941/safewallet/webpush/storage"
)

// Message is the queue envelope for one notification sent to many
// subscriptions.
type Message struct {
	// ID correlates log lines for one message across retries. It is not
	// used to deduplicate deliveries.
	ID            string          `json:"id,omitempty"`
	Type          string          `json:"type"`
	Subscriptions []Snapshot      `json:"subscriptions"`
	Payload       webpush.Message `json:"payload"`
	EnqueuedAt    time.Time       `json:"enqueuedAt"`
}

// Snapshot is a copy of a subscription record taken at enqueue time. It may
// be stale by the time the job runs; FailCount is informational only.
type Snapshot struct {
	ID        string `json:"id"`
	UserID    string `json:"userId,omitempty"`
	Endpoint  string `json:"endpoint"`
	P256dh    string `json:"p256dh"`
	Auth      string `json:"auth"`
	FailCount int    `json:"failCount"`
}

// SnapshotOf copies the delivery fields of a stored record.
func SnapshotOf(r *storage.Record) Snapshot {
	s := Snapshot{
		ID:        r.ID,
		UserID:    r.UserID,
		FailCount: r.FailCount,
	}
	if r.Subscription != nil {
		s.Endpoint = r.Subscription.Endpoint
		s.P256dh = r.Subscription.Keys.P256dh
		s.Auth = r.Subscription.Keys.Auth
	}
	return s
}

// Subscription returns the push subscription the snapshot describes.
func (s Snapshot) Subscription() *webpush.Subscription {
	return &webpush.Subscription{
		Endpoint: s.Endpoint,
		Keys:     webpush.Keys{P256dh: s.P256dh, Auth: s.Auth},
	}
}

// NewMessage builds a message addressed to every record.
func NewMessage(typ string, records []*storage.Record, payload webpush.Message) *Message {
	msg := &Message{Type: typ, Payload: payload}
	for _, r := range records {
		msg.Subscriptions = append(msg.Subscriptions, SnapshotOf(r))
	}
	return msg
}

// Decode parses a job body.
func Decode(body []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("decoding queue message: %w", err)
	}
	return &msg, nil
}

// Sender publishes a job body to a queue.
type Sender interface {
	Send(ctx context.Context, body []byte) error
}

// Enqueue stamps msg with an ID and enqueue time if it has none and publishes
// it. Transport failures are returned to the caller.
func Enqueue(ctx context.Context, s Sender, msg *Message) error {
	if msg == nil {
		return errors.New("enqueueing: nil message")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = time.Now().UTC()
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding queue message: %w", err)
	}
	if err := s.Send(ctx, body); err != nil {
		return fmt.Errorf("enqueueing message %s: %w", msg.ID, err)
	}
	return nil
}
