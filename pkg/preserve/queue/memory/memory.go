package memory

import (
	"context"
	"sync"

	"github.com/tendant/simple-preserve/pkg/preserve"
)

// Queue is an in-process implementation of the preserve.MessageQueue
// interface. Messages published to a queue with no subscriber are
// buffered and delivered on subscription. Delivery on one queue is
// strictly sequential, matching the transport contract: concurrent
// publishes to the same queue never interleave handler invocations. A
// handler may publish to other queues but not back to its own.
type Queue struct {
	mu          sync.Mutex
	subscribers map[string]func(ctx context.Context, body []byte)
	buffered    map[string][][]byte
	published   map[string][][]byte
	delivery    map[string]*sync.Mutex
}

// New creates a new in-process queue
func New() *Queue {
	return &Queue{
		subscribers: make(map[string]func(ctx context.Context, body []byte)),
		buffered:    make(map[string][][]byte),
		published:   make(map[string][][]byte),
		delivery:    make(map[string]*sync.Mutex),
	}
}

// deliveryLock serializes handler invocations for one queue. The
// registry lock cannot be held across a handler call, since handlers
// may publish to other queues.
func (q *Queue) deliveryLock(queue string) *sync.Mutex {
	lock, ok := q.delivery[queue]
	if !ok {
		lock = &sync.Mutex{}
		q.delivery[queue] = lock
	}
	return lock
}

// Publish delivers one message to the named queue.
func (q *Queue) Publish(ctx context.Context, queue string, body []byte) error {
	q.mu.Lock()
	msg := make([]byte, len(body))
	copy(msg, body)
	q.published[queue] = append(q.published[queue], msg)
	fn, ok := q.subscribers[queue]
	if !ok {
		q.buffered[queue] = append(q.buffered[queue], msg)
		q.mu.Unlock()
		return nil
	}
	lock := q.deliveryLock(queue)
	q.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	fn(ctx, msg)
	return nil
}

// Subscribe registers the queue's handler and drains any buffered
// messages in publish order.
func (q *Queue) Subscribe(ctx context.Context, queue string, fn func(ctx context.Context, body []byte)) (preserve.Subscription, error) {
	q.mu.Lock()
	q.subscribers[queue] = fn
	pending := q.buffered[queue]
	delete(q.buffered, queue)
	lock := q.deliveryLock(queue)
	q.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	for _, msg := range pending {
		fn(ctx, msg)
	}

	return &subscription{queue: q, name: queue}, nil
}

// Published returns all messages ever published to a queue. Test helper.
func (q *Queue) Published(queue string) [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([][]byte, len(q.published[queue]))
	copy(out, q.published[queue])
	return out
}

type subscription struct {
	queue *Queue
	name  string
}

func (s *subscription) Unsubscribe() error {
	s.queue.mu.Lock()
	defer s.queue.mu.Unlock()
	delete(s.queue.subscribers, s.name)
	return nil
}
