package queue

import (
	"context"
	"sync"
)

// Memory is an in-process queue for tests and single-process deployments.
// Retried jobs go to the back of the queue.
type Memory struct {
	mu       sync.Mutex
	pending  [][]byte
	inFlight int
	acked    int
	retried  int
}

var (
	_ Source = (*Memory)(nil)
	_ Sender = (*Memory)(nil)
)

// NewMemory creates an empty in-memory queue.
func NewMemory() *Memory {
	return &Memory{}
}

// Send appends body to the queue.
func (m *Memory) Send(_ context.Context, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, append([]byte(nil), body...))
	return nil
}

// Receive takes up to limit jobs off the front of the queue.
func (m *Memory) Receive(_ context.Context, limit int) (Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := min(max(limit, 0), len(m.pending))
	batch := make(jobs, 0, n)
	for _, body := range m.pending[:n] {
		batch = append(batch, &memoryJob{q: m, body: body})
	}
	m.pending = m.pending[n:]
	m.inFlight += n
	return batch, nil
}

// Len reports the number of jobs waiting to be received.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Stats reports how many jobs are in flight and how many were acked and
// retried so far.
func (m *Memory) Stats() (inFlight, acked, retried int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inFlight, m.acked, m.retried
}

type memoryJob struct {
	q       *Memory
	body    []byte
	settled bool
}

func (j *memoryJob) Body() []byte { return j.body }

func (j *memoryJob) Ack(context.Context) error {
	j.q.mu.Lock()
	defer j.q.mu.Unlock()
	if j.settled {
		return nil
	}
	j.settled = true
	j.q.inFlight--
	j.q.acked++
	return nil
}

func (j *memoryJob) Retry(context.Context) error {
	j.q.mu.Lock()
	defer j.q.mu.Unlock()
	if j.settled {
		return nil
	}
	j.settled = true
	j.q.inFlight--
	j.q.retried++
	j.q.pending = append(j.q.pending, j.body)
	return nil
}
