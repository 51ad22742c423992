package memory_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-preserve/pkg/preserve/queue/memory"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	q := memory.New()
	ctx := context.Background()

	var received []string
	_, err := q.Subscribe(ctx, "uiuc_to_medusa", func(ctx context.Context, body []byte) {
		received = append(received, string(body))
	})
	require.NoError(t, err)

	require.NoError(t, q.Publish(ctx, "uiuc_to_medusa", []byte("one")))
	require.NoError(t, q.Publish(ctx, "uiuc_to_medusa", []byte("two")))

	assert.Equal(t, []string{"one", "two"}, received)
}

func TestPublishBuffersWithoutSubscriber(t *testing.T) {
	q := memory.New()
	ctx := context.Background()

	require.NoError(t, q.Publish(ctx, "medusa_to_uiuc", []byte("early")))

	var received []string
	_, err := q.Subscribe(ctx, "medusa_to_uiuc", func(ctx context.Context, body []byte) {
		received = append(received, string(body))
	})
	require.NoError(t, err)

	// Buffered messages drain in publish order on subscription.
	assert.Equal(t, []string{"early"}, received)
}

func TestQueuesAreIsolated(t *testing.T) {
	q := memory.New()
	ctx := context.Background()

	var a, b []string
	_, err := q.Subscribe(ctx, "queue_a", func(ctx context.Context, body []byte) {
		a = append(a, string(body))
	})
	require.NoError(t, err)
	_, err = q.Subscribe(ctx, "queue_b", func(ctx context.Context, body []byte) {
		b = append(b, string(body))
	})
	require.NoError(t, err)

	require.NoError(t, q.Publish(ctx, "queue_a", []byte("for a")))

	assert.Equal(t, []string{"for a"}, a)
	assert.Empty(t, b)
}

func TestConcurrentPublishesDoNotInterleave(t *testing.T) {
	q := memory.New()
	ctx := context.Background()

	var active, overlaps, delivered atomic.Int32
	_, err := q.Subscribe(ctx, "queue", func(ctx context.Context, body []byte) {
		if active.Add(1) > 1 {
			overlaps.Add(1)
		}
		time.Sleep(time.Millisecond)
		active.Add(-1)
		delivered.Add(1)
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, q.Publish(ctx, "queue", []byte("msg")))
		}()
	}
	wg.Wait()

	assert.Zero(t, overlaps.Load())
	assert.Equal(t, int32(16), delivered.Load())
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	q := memory.New()
	ctx := context.Background()

	var received []string
	sub, err := q.Subscribe(ctx, "queue", func(ctx context.Context, body []byte) {
		received = append(received, string(body))
	})
	require.NoError(t, err)
	require.NoError(t, sub.Unsubscribe())

	require.NoError(t, q.Publish(ctx, "queue", []byte("late")))

	assert.Empty(t, received)
	// The message is still retained for inspection.
	assert.Len(t, q.Published("queue"), 1)
}
