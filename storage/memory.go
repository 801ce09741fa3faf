package storage

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/qws941/safewallet/webpush"
)

// Memory implements in-memory storage for testing and development.
type Memory struct {
	mu      sync.RWMutex
	records map[string]*Record
}

var _ Storage = (*Memory)(nil)

// NewMemory creates a new in-memory storage.
func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]*Record),
	}
}

// Save stores or updates a subscription.
func (m *Memory) Save(_ context.Context, record *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	// Make a copy to avoid external mutations
	m.records[record.ID] = copyRecord(record)
	return nil
}

// Get retrieves a subscription by ID.
func (m *Memory) Get(_ context.Context, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRecord(record), nil
}

// GetByUserID retrieves all subscriptions for a user.
func (m *Memory) GetByUserID(_ context.Context, userID string) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []*Record
	for _, record := range m.records {
		if record.UserID == userID {
			results = append(results, copyRecord(record))
		}
	}
	return results, nil
}

// List returns all subscriptions with pagination, newest first.
func (m *Memory) List(_ context.Context, limit, offset int) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]*Record, 0, len(m.records))
	for _, record := range m.records {
		all = append(all, record)
	}
	slices.SortFunc(all, func(a, b *Record) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	// Apply pagination
	if offset >= len(all) {
		return nil, nil
	}
	end := min(offset+limit, len(all))

	results := make([]*Record, 0, end-offset)
	for i := offset; i < end; i++ {
		results = append(results, copyRecord(all[i]))
	}
	return results, nil
}

// Delete removes a subscription by ID.
func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[id]; !ok {
		return ErrNotFound
	}
	delete(m.records, id)
	return nil
}

// MarkDelivered resets the failure count and records at as the last use.
func (m *Memory) MarkDelivered(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	record.FailCount = 0
	record.LastUsedAt = at
	record.UpdatedAt = time.Now()
	return nil
}

// IncrementFailCount adds one to the subscription's failure count.
func (m *Memory) IncrementFailCount(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	record.FailCount++
	record.UpdatedAt = time.Now()
	return nil
}

// DeleteFailing removes subscriptions whose failure count reached threshold.
func (m *Memory) DeleteFailing(_ context.Context, threshold int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, record := range m.records {
		if record.FailCount >= threshold {
			delete(m.records, id)
			n++
		}
	}
	return n, nil
}

// Close is a no-op for in-memory storage.
func (m *Memory) Close() error {
	return nil
}

func copyRecord(r *Record) *Record {
	c := *r
	if r.Subscription != nil {
		c.Subscription = &webpush.Subscription{
			Endpoint: r.Subscription.Endpoint,
			Keys: webpush.Keys{
				P256dh: r.Subscription.Keys.P256dh,
				Auth:   r.Subscription.Keys.Auth,
			},
		}
	}
	return &c
}
