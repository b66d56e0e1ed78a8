package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PriorityThenFIFO(t *testing.T) {
	b := New()
	b.Subscribe("worker", nil)

	low := NewMessage("orch", "worker", TypeStatus, "low")
	low.Priority = PriorityLow
	normalA := NewMessage("orch", "worker", TypeStatus, "normal-a")
	normalB := NewMessage("orch", "worker", TypeStatus, "normal-b")
	critical := NewMessage("orch", "worker", TypeStatus, "critical")
	critical.Priority = PriorityCritical

	b.Publish(low)
	b.Publish(normalA)
	b.Publish(normalB)
	b.Publish(critical)

	msgs := b.Drain("worker")
	require.Len(t, msgs, 4)
	assert.Equal(t, "critical", msgs[0].Payload)
	// Equal priority preserves publish order.
	assert.Equal(t, "normal-a", msgs[1].Payload)
	assert.Equal(t, "normal-b", msgs[2].Payload)
	assert.Equal(t, "low", msgs[3].Payload)

	// Drain clears the queue.
	assert.Empty(t, b.Drain("worker"))
}

func TestBus_DropsWithoutSubscription(t *testing.T) {
	b := New()

	b.Publish(NewMessage("orch", "ghost", TypeStatus, "lost"))
	assert.Equal(t, uint64(1), b.Dropped())
	assert.Empty(t, b.Drain("ghost"))

	sub := b.Subscribe("worker", nil)
	b.Publish(NewMessage("orch", "worker", TypeStatus, "kept"))
	b.Unsubscribe(sub)

	// Queue discarded with the last subscription; later messages drop.
	b.Publish(NewMessage("orch", "worker", TypeStatus, "late"))
	assert.Equal(t, uint64(2), b.Dropped())
	assert.Empty(t, b.Drain("worker"))
}

func TestBus_HandlerDelivery(t *testing.T) {
	b := New()

	var mu sync.Mutex
	var got []string
	b.Subscribe("worker", func(m Message) {
		mu.Lock()
		got = append(got, m.Payload.(string))
		mu.Unlock()
	})

	b.Publish(NewMessage("orch", "worker", TypeQuery, "one"))
	b.Publish(NewMessage("orch", "worker", TypeQuery, "two"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"one", "two"}, got)
}

func TestBus_Broadcast(t *testing.T) {
	b := New()
	b.Subscribe("a", nil)
	b.Subscribe("b", nil)

	msg := NewMessage("orch", "", TypeHeartbeat, "ping")
	msg.Broadcast = true
	b.Publish(msg)

	assert.Len(t, b.Drain("a"), 1)
	assert.Len(t, b.Drain("b"), 1)
}

func TestBus_DrainWait(t *testing.T) {
	b := New()
	b.Subscribe("worker", nil)

	go func() {
		time.Sleep(20 * time.Millisecond)
		b.Publish(NewMessage("orch", "worker", TypeResult, "done"))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	msgs, err := b.DrainWait(ctx, "worker")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "done", msgs[0].Payload)
}

func TestBus_DrainWaitCancelled(t *testing.T) {
	b := New()
	b.Subscribe("worker", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := b.DrainWait(ctx, "worker")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBus_ConcurrentPublish(t *testing.T) {
	b := New()
	b.Subscribe("worker", nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Publish(NewMessage("orch", "worker", TypeStatus, "m"))
		}()
	}
	wg.Wait()

	assert.Len(t, b.Drain("worker"), 50)
}
