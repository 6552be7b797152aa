package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startedMemoryBus(t *testing.T) *MemoryBus {
	t.Helper()
	b := NewMemoryBus(MemoryConfig{BufferSize: 16}, nil)
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = b.Stop(ctx)
	})
	return b
}

func testMessage(t *testing.T, data any) Message {
	t.Helper()
	msg, err := NewMessage("test.event", "test", data)
	require.NoError(t, err)
	return msg
}

func TestMemoryBus_NotStarted(t *testing.T) {
	b := NewMemoryBus(MemoryConfig{}, nil)
	_, err := b.Consumer("a", func(context.Context, *Delivery) {})
	assert.ErrorIs(t, err, ErrBusNotStarted)
	assert.ErrorIs(t, b.Publish(context.Background(), "a", Message{}), ErrBusNotStarted)
}

func TestMemoryBus_PublishReachesEveryConsumer(t *testing.T) {
	b := startedMemoryBus(t)

	var wg sync.WaitGroup
	var count atomic.Int32
	wg.Add(3)
	for i := 0; i < 3; i++ {
		_, err := b.Consumer("greetings", func(_ context.Context, d *Delivery) {
			var payload map[string]string
			assert.NoError(t, d.Message.DataAs(&payload))
			assert.Equal(t, "hi", payload["text"])
			count.Add(1)
			wg.Done()
		})
		require.NoError(t, err)
	}

	require.NoError(t, b.Publish(context.Background(), "greetings", testMessage(t, map[string]string{"text": "hi"})))
	waitGroup(t, &wg)
	assert.Equal(t, int32(3), count.Load())
}

func TestMemoryBus_PublishWithoutConsumersIsNoop(t *testing.T) {
	b := startedMemoryBus(t)
	assert.NoError(t, b.Publish(context.Background(), "nobody", testMessage(t, nil)))
}

func TestMemoryBus_SendRotatesBetweenConsumers(t *testing.T) {
	b := startedMemoryBus(t)

	var wg sync.WaitGroup
	hits := make([]atomic.Int32, 2)
	for i := range hits {
		_, err := b.Consumer("work", func(context.Context, *Delivery) {
			hits[i].Add(1)
			wg.Done()
		})
		require.NoError(t, err)
	}

	wg.Add(4)
	for i := 0; i < 4; i++ {
		require.NoError(t, b.Send(context.Background(), "work", testMessage(t, i)))
	}
	waitGroup(t, &wg)
	assert.Equal(t, int32(2), hits[0].Load())
	assert.Equal(t, int32(2), hits[1].Load())

	err := b.Send(context.Background(), "missing", testMessage(t, nil))
	assert.ErrorIs(t, err, ErrNoHandlers)
}

func TestMemoryBus_ConsumerSeesMessagesInOrder(t *testing.T) {
	b := startedMemoryBus(t)

	var mu sync.Mutex
	var got []int
	var wg sync.WaitGroup
	wg.Add(10)
	_, err := b.Consumer("ordered", func(_ context.Context, d *Delivery) {
		var n int
		assert.NoError(t, d.Message.DataAs(&n))
		mu.Lock()
		got = append(got, n)
		mu.Unlock()
		wg.Done()
	})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, b.Publish(context.Background(), "ordered", testMessage(t, i)))
	}
	waitGroup(t, &wg)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got)
}

func TestMemoryBus_RequestReply(t *testing.T) {
	b := startedMemoryBus(t)

	_, err := b.Consumer("echo", func(_ context.Context, d *Delivery) {
		assert.True(t, d.ExpectsReply())
		var in string
		assert.NoError(t, d.Message.DataAs(&in))
		resp, err := NewMessage("test.reply", "echo", "re: "+in)
		assert.NoError(t, err)
		assert.NoError(t, d.Reply(resp))
		assert.ErrorIs(t, d.Reply(resp), ErrAlreadyReplied)
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	resp, err := b.Request(ctx, "echo", testMessage(t, "ping"))
	require.NoError(t, err)
	var out string
	require.NoError(t, resp.DataAs(&out))
	assert.Equal(t, "re: ping", out)
}

func TestMemoryBus_SecondReplyAfterResponseRead(t *testing.T) {
	b := startedMemoryBus(t)
	answered := make(chan struct{})
	second := make(chan error, 1)

	_, err := b.Consumer("once", func(_ context.Context, d *Delivery) {
		resp, err := NewMessage("test.reply", "once", "first")
		assert.NoError(t, err)
		assert.NoError(t, d.Reply(resp))
		<-answered
		second <- d.Reply(resp)
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = b.Request(ctx, "once", testMessage(t, nil))
	require.NoError(t, err)
	close(answered)

	select {
	case err := <-second:
		assert.ErrorIs(t, err, ErrAlreadyReplied)
	case <-time.After(time.Second):
		t.Fatal("handler did not reply twice")
	}
}

func TestMemoryBus_RequestTimesOut(t *testing.T) {
	b := startedMemoryBus(t)
	_, err := b.Consumer("silent", func(context.Context, *Delivery) {})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = b.Request(ctx, "silent", testMessage(t, nil))
	assert.ErrorIs(t, err, ErrRequestTimeout)

	_, err = b.Request(ctx, "nobody", testMessage(t, nil))
	assert.ErrorIs(t, err, ErrNoHandlers)
}

func TestMemoryBus_PublishDeliveryCannotReply(t *testing.T) {
	b := startedMemoryBus(t)
	errs := make(chan error, 1)
	_, err := b.Consumer("oneway", func(_ context.Context, d *Delivery) {
		errs <- d.Reply(Message{})
	})
	require.NoError(t, err)
	require.NoError(t, b.Publish(context.Background(), "oneway", testMessage(t, nil)))

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrNoReplyExpected)
	case <-time.After(time.Second):
		t.Fatal("handler not invoked")
	}
}

func TestMemoryBus_UnsubscribeAndPanicRecovery(t *testing.T) {
	b := startedMemoryBus(t)

	var calls atomic.Int32
	sub, err := b.Consumer("flaky", func(context.Context, *Delivery) {
		calls.Add(1)
		panic("handler exploded")
	})
	require.NoError(t, err)
	assert.Equal(t, "flaky", sub.Address())
	assert.NotEmpty(t, sub.ID())
	assert.False(t, sub.Local())

	require.NoError(t, b.Publish(context.Background(), "flaky", testMessage(t, nil)))
	require.NoError(t, b.Publish(context.Background(), "flaky", testMessage(t, nil)))
	assert.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond,
		"the consumer survives a panicking handler")

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, sub.Unsubscribe())
	assert.False(t, b.hasConsumers("flaky"))
	assert.ErrorIs(t, b.Send(context.Background(), "flaky", testMessage(t, nil)), ErrNoHandlers)

	local, err := b.LocalConsumer("flaky", func(context.Context, *Delivery) {})
	require.NoError(t, err)
	assert.True(t, local.Local())
}

func waitGroup(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for deliveries")
	}
}
