package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/iot_bridge/pkg/session"
	"github.com/arzzra/iot_bridge/pkg/signaling"
)

// quietGateway считает вызовы хоста, ничего не проверяя
type quietGateway struct {
	mu     sync.Mutex
	events int
}

func (g *quietGateway) RelayMediaOut(session.HandleID, bool, []byte) {}
func (g *quietGateway) RelayRTCPOut(session.HandleID, bool, []byte)  {}
func (g *quietGateway) RelayDataOut(session.HandleID, []byte)        {}

func (g *quietGateway) PushEvent(session.HandleID, string, *signaling.Event, *signaling.Negotiation) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.events++
	return nil
}

func (g *quietGateway) Events() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.events
}

// TestHandleMessageDropsStaleSession — сообщение, привязанное к прежней
// сессии переиспользованного идентификатора, обязано утонуть без события:
// сверка идет по объекту сессии, не по идентификатору
func TestHandleMessageDropsStaleSession(t *testing.T) {
	gw := &quietGateway{}
	config := DefaultConfig()
	config.Metrics.Enabled = false

	b, err := New(config, gw)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, b.Close())
	})

	require.NoError(t, b.CreateSession(7))
	stale, ok := b.store.Lookup(7)
	require.True(t, ok)

	staleMsg := signaling.NewMessage(stale, 7, "t-stale", json.RawMessage(`{"video":false}`), nil)

	// Хост сносит сессию и заводит новую под тем же идентификатором
	require.NoError(t, b.DestroySession(7))
	require.NoError(t, b.CreateSession(7))
	fresh, ok := b.store.Lookup(7)
	require.True(t, ok)
	require.NotSame(t, stale, fresh)

	ctx := context.Background()
	b.handleMessage(ctx, staleMsg)

	assert.Zero(t, gw.Events(), "Stale message must not produce an event")
	assert.True(t, fresh.VideoEnabled(), "Fresh session must stay untouched")

	// Сообщение, привязанное к живому объекту, проходит
	freshMsg := signaling.NewMessage(fresh, 7, "t-fresh", json.RawMessage(`{"video":false}`), nil)
	b.handleMessage(ctx, freshMsg)

	assert.Equal(t, 1, gw.Events())
	assert.False(t, fresh.VideoEnabled())
	assert.Equal(t, signaling.StateResponded, freshMsg.State())
}
