package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shipsync/backend/internal/domain/shipping"
)

type memoryQueue struct {
	waiting  []*shipping.SyncMessage
	keys     map[string]struct{}
	inflight map[string]*shipping.SyncMessage
}

func (q *memoryQueue) waitingIndex(key string) int {
	for i, msg := range q.waiting {
		if msg.DedupKey() == key {
			return i
		}
	}
	return -1
}

// InMemoryQueueStore implements shipping.QueueStore in process memory.
// It is suitable for single-instance deployments and tests; contents are lost on restart.
type InMemoryQueueStore struct {
	mu     sync.Mutex
	queues map[shipping.QueueClass]*memoryQueue
}

// NewInMemoryQueueStore creates an empty in-memory queue store
func NewInMemoryQueueStore() *InMemoryQueueStore {
	return &InMemoryQueueStore{
		queues: make(map[shipping.QueueClass]*memoryQueue),
	}
}

func (s *InMemoryQueueStore) queue(class shipping.QueueClass) *memoryQueue {
	q, ok := s.queues[class]
	if !ok {
		q = &memoryQueue{
			keys:     make(map[string]struct{}),
			inflight: make(map[string]*shipping.SyncMessage),
		}
		s.queues[class] = q
	}
	return q
}

func cloneMessage(msg *shipping.SyncMessage) *shipping.SyncMessage {
	c := *msg
	return &c
}

// Enqueue appends msg unless an equivalent message is already waiting
func (s *InMemoryQueueStore) Enqueue(_ context.Context, class shipping.QueueClass, msg *shipping.SyncMessage) (bool, error) {
	if err := prepareForEnqueue(class, msg); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queue(class)
	key := msg.DedupKey()
	if _, exists := q.keys[key]; exists {
		return false, nil
	}
	q.keys[key] = struct{}{}
	q.waiting = append(q.waiting, cloneMessage(msg))
	return true, nil
}

// DequeueBatch pops up to n messages from the front into the in-flight set
func (s *InMemoryQueueStore) DequeueBatch(_ context.Context, class shipping.QueueClass, n int) ([]*shipping.SyncMessage, error) {
	if n <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queue(class)
	if n > len(q.waiting) {
		n = len(q.waiting)
	}
	batch := q.waiting[:n:n]
	q.waiting = q.waiting[n:]

	msgs := make([]*shipping.SyncMessage, 0, len(batch))
	for _, msg := range batch {
		delete(q.keys, msg.DedupKey())
		q.inflight[msg.ID] = msg
		msgs = append(msgs, cloneMessage(msg))
	}
	return msgs, nil
}

// Requeue returns msgs to the front of the queue in the given order. A message whose
// dedup key is already waiting replaces that entry only when it has retried more.
func (s *InMemoryQueueStore) Requeue(_ context.Context, class shipping.QueueClass, msgs []*shipping.SyncMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queue(class)
	front := make([]*shipping.SyncMessage, 0, len(msgs))
	for _, msg := range msgs {
		delete(q.inflight, msg.ID)
		key := msg.DedupKey()
		if _, exists := q.keys[key]; exists {
			// keep whichever copy has retried more
			if i := q.waitingIndex(key); i >= 0 && msg.RetryCount > q.waiting[i].RetryCount {
				q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
				front = append(front, cloneMessage(msg))
			}
			continue
		}
		q.keys[key] = struct{}{}
		front = append(front, cloneMessage(msg))
	}
	q.waiting = append(front, q.waiting...)
	return nil
}

// RemoveInflight finalizes msg
func (s *InMemoryQueueStore) RemoveInflight(_ context.Context, class shipping.QueueClass, msg *shipping.SyncMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.queue(class).inflight, msg.ID)
	return nil
}

// Length returns the number of waiting messages
func (s *InMemoryQueueStore) Length(_ context.Context, class shipping.QueueClass) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return int64(len(s.queue(class).waiting)), nil
}

// OldestEnqueuedAt returns the enqueue time of the front message
func (s *InMemoryQueueStore) OldestEnqueuedAt(_ context.Context, class shipping.QueueClass) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queue(class)
	if len(q.waiting) == 0 {
		return nil, nil
	}
	oldest := q.waiting[0].EnqueuedAt
	return &oldest, nil
}

// InflightCount returns the number of dequeued, unfinalized messages
func (s *InMemoryQueueStore) InflightCount(_ context.Context, class shipping.QueueClass) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return int64(len(s.queue(class).inflight)), nil
}

// RestoreInflight puts every in-flight message back at the front, oldest first
func (s *InMemoryQueueStore) RestoreInflight(ctx context.Context, class shipping.QueueClass) (int, error) {
	s.mu.Lock()
	q := s.queue(class)
	msgs := make([]*shipping.SyncMessage, 0, len(q.inflight))
	for _, msg := range q.inflight {
		msgs = append(msgs, msg)
	}
	s.mu.Unlock()

	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].EnqueuedAt.Before(msgs[j].EnqueuedAt)
	})
	if err := s.Requeue(ctx, class, msgs); err != nil {
		return 0, err
	}
	return len(msgs), nil
}

var _ shipping.QueueStore = (*InMemoryQueueStore)(nil)
