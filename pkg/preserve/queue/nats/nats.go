package nats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/tendant/simple-preserve/pkg/preserve"
)

// Config options for the NATS transport
type Config struct {
	// URL is a comma-separated NATS server list (nats://host:port).
	URL string

	// Name identifies this client connection on the server.
	Name string

	// QueueGroup makes subscriptions load-balanced across processes
	// sharing the group. Per-queue ordering is preserved within one
	// subscriber because delivery is funneled through a single goroutine.
	QueueGroup string

	// MaxReconnects and ReconnectWait tune connection recovery.
	MaxReconnects int
	ReconnectWait time.Duration
}

// Queue is a NATS-backed implementation of the preserve.MessageQueue
// interface. Each named queue maps to a NATS subject.
type Queue struct {
	conn  *nats.Conn
	group string
}

// New connects to NATS and returns the transport.
func New(cfg Config) (*Queue, error) {
	if cfg.URL == "" {
		return nil, errors.New("nats url is required")
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = 60
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 2 * time.Second
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &Queue{conn: conn, group: cfg.QueueGroup}, nil
}

// Publish sends one message to the named queue's subject.
func (q *Queue) Publish(ctx context.Context, queue string, body []byte) error {
	if err := q.conn.Publish(queue, body); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", queue, err)
	}
	// Publish is buffered; flush so the caller knows the message left
	// the process before its transaction-commit ordering promise holds.
	if err := q.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("failed to flush publish to %s: %w", queue, err)
	}
	return nil
}

// Subscribe consumes the named queue. Messages are pulled through a
// channel and dispatched by one goroutine, so fn runs strictly one
// message at a time.
func (q *Queue) Subscribe(ctx context.Context, queue string, fn func(ctx context.Context, body []byte)) (preserve.Subscription, error) {
	ch := make(chan *nats.Msg, 64)
	var sub *nats.Subscription
	var err error
	if q.group != "" {
		sub, err = q.conn.ChanQueueSubscribe(queue, q.group, ch)
	} else {
		sub, err = q.conn.ChanSubscribe(queue, ch)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", queue, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				fn(ctx, msg.Data)
			}
		}
	}()

	return &subscription{sub: sub, ch: ch, done: done}, nil
}

// Close drains the connection.
func (q *Queue) Close() error {
	return q.conn.Drain()
}

type subscription struct {
	sub  *nats.Subscription
	ch   chan *nats.Msg
	done chan struct{}
}

func (s *subscription) Unsubscribe() error {
	err := s.sub.Unsubscribe()
	close(s.ch)
	<-s.done
	return err
}
