package signaling

import (
	"sync"
)

// Queue — неограниченная FIFO очередь сигнальных сообщений с одним
// потребителем и произвольным числом производителей. Push выполняется за
// O(1) и никогда не блокирует вызывающего надолго: продюсеры — это callback
// потоки хоста, задерживать их нельзя.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []*Message
	closed bool
}

// NewQueue создает пустую очередь
func NewQueue() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push добавляет сообщение в конец очереди. Возвращает false, если
// очередь уже закрыта и сообщение принято не было.
func (q *Queue) Push(m *Message) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, m)
	q.cond.Signal()
	return true
}

// PushShutdown помещает в очередь сентинел завершения. Сообщения,
// оказавшиеся в очереди после сентинела, обработаны не будут — воркер
// выходит сразу после его извлечения.
func (q *Queue) PushShutdown() {
	q.Push(shutdownMessage)
}

// Pop извлекает следующее сообщение, блокируясь на пустой очереди.
// Возвращает (nil, false) после закрытия очереди, когда сообщений
// больше не будет.
func (q *Queue) Pop() (*Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}
	m := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return m, true
}

// Len возвращает текущую глубину очереди
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close закрывает очередь: новые Push отвергаются, заблокированные
// потребители освобождаются после исчерпания остатка.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.cond.Broadcast()
}
