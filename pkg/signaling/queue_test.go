package signaling_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/iot_bridge/pkg/signaling"
)

// TestQueueFIFO проверяет порядок извлечения
func TestQueueFIFO(t *testing.T) {
	q := signaling.NewQueue()

	for i := 0; i < 5; i++ {
		msg := signaling.NewMessage(nil, 1, fmt.Sprintf("t%d", i), nil, nil)
		require.True(t, q.Push(msg))
	}
	assert.Equal(t, 5, q.Len())

	for i := 0; i < 5; i++ {
		msg, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("t%d", i), msg.Transaction)
	}
	assert.Zero(t, q.Len())
}

// TestQueueBlockingPop — потребитель засыпает на пустой очереди и
// просыпается от Push
func TestQueueBlockingPop(t *testing.T) {
	q := signaling.NewQueue()

	done := make(chan *signaling.Message, 1)
	go func() {
		msg, ok := q.Pop()
		assert.True(t, ok)
		done <- msg
	}()

	// Потребитель заведомо заблокирован
	select {
	case <-done:
		t.Fatal("Pop must block on an empty queue")
	case <-time.After(20 * time.Millisecond):
	}

	require.True(t, q.Push(signaling.NewMessage(nil, 1, "wake", nil, nil)))

	select {
	case msg := <-done:
		assert.Equal(t, "wake", msg.Transaction)
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake up")
	}
}

// TestQueueShutdownSentinel — сентинел извлекается в своей позиции FIFO,
// сообщения за ним остаются в очереди
func TestQueueShutdownSentinel(t *testing.T) {
	q := signaling.NewQueue()

	require.True(t, q.Push(signaling.NewMessage(nil, 1, "before", nil, nil)))
	q.PushShutdown()
	require.True(t, q.Push(signaling.NewMessage(nil, 1, "after", nil, nil)))

	msg, ok := q.Pop()
	require.True(t, ok)
	assert.False(t, msg.IsShutdown())
	assert.Equal(t, "before", msg.Transaction)

	msg, ok = q.Pop()
	require.True(t, ok)
	assert.True(t, msg.IsShutdown(), "Sentinel must come out in order")

	// Воркер на этом месте выходит; остаток очереди не гарантирован
	assert.Equal(t, 1, q.Len())
}

// TestQueueClose — закрытая очередь отвергает Push и освобождает
// заблокированных потребителей
func TestQueueClose(t *testing.T) {
	q := signaling.NewQueue()

	unblocked := make(chan struct{})
	go func() {
		_, ok := q.Pop()
		assert.False(t, ok)
		close(unblocked)
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case <-unblocked:
	case <-time.After(time.Second):
		t.Fatal("Close must release blocked consumers")
	}

	assert.False(t, q.Push(signaling.NewMessage(nil, 1, "late", nil, nil)))

	// Повторное закрытие безопасно
	q.Close()
}

// TestQueueCloseDrainsRemainder — остаток очереди доступен после закрытия
func TestQueueCloseDrainsRemainder(t *testing.T) {
	q := signaling.NewQueue()
	require.True(t, q.Push(signaling.NewMessage(nil, 1, "left", nil, nil)))
	q.Close()

	msg, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "left", msg.Transaction)

	_, ok = q.Pop()
	assert.False(t, ok)
}

// TestQueueConcurrentProducers — конкурентные продюсеры не теряют и не
// дублируют сообщения, порядок каждого продюсера сохраняется
func TestQueueConcurrentProducers(t *testing.T) {
	q := signaling.NewQueue()

	const producers = 8
	const perProducer = 100

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(producer int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				msg := signaling.NewMessage(nil, 1,
					fmt.Sprintf("%d/%d", producer, i), nil, nil)
				assert.True(t, q.Push(msg))
			}
		}(p)
	}
	wg.Wait()

	lastSeen := map[int]int{}
	for i := 0; i < producers*perProducer; i++ {
		msg, ok := q.Pop()
		require.True(t, ok)

		var producer, seq int
		_, err := fmt.Sscanf(msg.Transaction, "%d/%d", &producer, &seq)
		require.NoError(t, err)

		last, seen := lastSeen[producer]
		if seen {
			assert.Greater(t, seq, last, "Per-producer order must hold")
		}
		lastSeen[producer] = seq
	}
	assert.Zero(t, q.Len())
}
