package session_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/iot_bridge/pkg/recorder"
	"github.com/arzzra/iot_bridge/pkg/session"
)

// TestStoreCreateAndLookup проверяет регистрацию и поиск живой сессии
func TestStoreCreateAndLookup(t *testing.T) {
	store := newTestStore(t, session.DefaultStoreConfig())

	sess, err := store.Create(100)
	require.NoError(t, err)
	require.NotNil(t, sess)

	found, ok := store.Lookup(100)
	require.True(t, ok)
	assert.Same(t, sess, found)

	_, ok = store.Lookup(101)
	assert.False(t, ok, "Unknown id must not resolve")

	assert.Equal(t, 1, store.Len())
	assert.Zero(t, store.DeferredLen())
}

// TestStoreCreateDuplicate проверяет отказ при повторной регистрации
func TestStoreCreateDuplicate(t *testing.T) {
	store := newTestStore(t, session.DefaultStoreConfig())

	_, err := store.Create(200)
	require.NoError(t, err)

	_, err = store.Create(200)
	require.Error(t, err)
	assert.ErrorIs(t, err, session.ErrSessionExists)

	storeErr, ok := session.AsStoreError(err)
	require.True(t, ok)
	assert.Equal(t, session.ErrorCodeSessionExists, storeErr.Code)
	assert.Equal(t, session.HandleID(200), storeErr.Handle)
}

// TestStoreCreateBroadcastID проверяет отказ на зарезервированном идентификаторе
func TestStoreCreateBroadcastID(t *testing.T) {
	store := newTestStore(t, session.DefaultStoreConfig())

	_, err := store.Create(session.ReservedBroadcastID)
	require.Error(t, err)
	assert.ErrorIs(t, err, session.ErrInvalidHandle)
}

// TestStoreDestroyHidesSession проверяет, что надгробие уходит из живого
// индекса, но остается видимым через Find до прихода жнеца
func TestStoreDestroyHidesSession(t *testing.T) {
	store := newTestStore(t, session.StoreConfig{
		GracePeriod:  time.Hour,
		ReapInterval: time.Hour,
	})

	sess, err := store.Create(300)
	require.NoError(t, err)

	require.NoError(t, store.Destroy(300))

	_, ok := store.Lookup(300)
	assert.False(t, ok, "Destroyed session must leave the live index")

	found, ok := store.Find(300)
	require.True(t, ok, "Tombstone must stay observable")
	assert.Same(t, sess, found)
	assert.True(t, found.Destroyed())
	assert.Positive(t, found.DestroyedAt())

	assert.Zero(t, store.Len())
	assert.Equal(t, 1, store.DeferredLen())

	// Идентификатор освободился: новая сессия и надгробие сосуществуют
	fresh, err := store.Create(300)
	require.NoError(t, err)
	assert.NotSame(t, sess, fresh)

	found, ok = store.Find(300)
	require.True(t, ok)
	assert.Same(t, fresh, found, "Find must prefer the live session")
}

// TestStoreDestroyUnknown проверяет ошибку уничтожения несуществующей сессии
func TestStoreDestroyUnknown(t *testing.T) {
	store := newTestStore(t, session.DefaultStoreConfig())

	err := store.Destroy(400)
	require.Error(t, err)
	assert.ErrorIs(t, err, session.ErrSessionNotFound)

	// Повторное уничтожение того же идентификатора — та же ошибка,
	// структура хранилища не меняется
	_, err = store.Create(400)
	require.NoError(t, err)
	require.NoError(t, store.Destroy(400))
	assert.ErrorIs(t, store.Destroy(400), session.ErrSessionNotFound)
	assert.Equal(t, 1, store.DeferredLen())
}

// TestStoreReapHonorsGrace проверяет, что жнец не трогает свежие надгробия
func TestStoreReapHonorsGrace(t *testing.T) {
	store := newTestStore(t, session.StoreConfig{
		GracePeriod:  time.Hour,
		ReapInterval: time.Hour,
	})

	sess, err := store.Create(500)
	require.NoError(t, err)
	rec := &mockRecorder{}
	sess.SetRecorder(recorder.KindAudio, rec)

	require.NoError(t, store.Destroy(500))

	// До истечения окна надгробие неприкосновенно
	assert.Zero(t, store.Reap(time.Now()))
	assert.Equal(t, 1, store.DeferredLen())
	assert.False(t, rec.Closed())

	// После истечения — освобождение и закрытие ресурсов
	assert.Equal(t, 1, store.Reap(time.Now().Add(2*time.Hour)))
	assert.Zero(t, store.DeferredLen())
	assert.True(t, rec.Closed())

	_, ok := store.Find(500)
	assert.False(t, ok, "Reaped session must be unreachable")

	// Повторный обход пуст
	assert.Zero(t, store.Reap(time.Now().Add(3*time.Hour)))
}

// TestStoreBackgroundReaper проверяет фонового жнеца на коротком окне
func TestStoreBackgroundReaper(t *testing.T) {
	store := newTestStore(t, session.StoreConfig{
		GracePeriod:  20 * time.Millisecond,
		ReapInterval: 5 * time.Millisecond,
	})

	sess, err := store.Create(600)
	require.NoError(t, err)
	rec := &mockRecorder{}
	sess.SetRecorder(recorder.KindData, rec)

	require.NoError(t, store.Destroy(600))

	require.Eventually(t, func() bool {
		return store.DeferredLen() == 0
	}, time.Second, 5*time.Millisecond, "Reaper should free the tombstone")
	assert.True(t, rec.Closed())
}

// TestStoreLiveSnapshot проверяет срез живых сессий для рассылки
func TestStoreLiveSnapshot(t *testing.T) {
	store := newTestStore(t, session.StoreConfig{
		GracePeriod:  time.Hour,
		ReapInterval: time.Hour,
	})

	for id := session.HandleID(1); id <= 3; id++ {
		_, err := store.Create(id)
		require.NoError(t, err)
	}
	require.NoError(t, store.Destroy(2))

	live := store.Live()
	require.Len(t, live, 2)

	ids := map[session.HandleID]bool{}
	for _, sess := range live {
		ids[sess.ID()] = true
	}
	assert.True(t, ids[1])
	assert.True(t, ids[3])
	assert.False(t, ids[2], "Tombstone must not appear in the live snapshot")
}

// TestStoreCloseReleasesAll проверяет остановку хранилища
func TestStoreCloseReleasesAll(t *testing.T) {
	store := session.NewStore(session.StoreConfig{
		GracePeriod:  time.Hour,
		ReapInterval: time.Hour,
	})

	liveSess, err := store.Create(700)
	require.NoError(t, err)
	liveRec := &mockRecorder{}
	liveSess.SetRecorder(recorder.KindAudio, liveRec)

	deadSess, err := store.Create(701)
	require.NoError(t, err)
	deadRec := &mockRecorder{}
	deadSess.SetRecorder(recorder.KindVideo, deadRec)
	require.NoError(t, store.Destroy(701))

	require.NoError(t, store.Close())

	assert.True(t, liveRec.Closed(), "Close must release live sessions")
	assert.True(t, deadRec.Closed(), "Close must release tombstones")
	assert.Zero(t, store.Len())
	assert.Zero(t, store.DeferredLen())

	_, err = store.Create(702)
	assert.ErrorIs(t, err, session.ErrStoreClosed)

	// Повторное закрытие безопасно
	require.NoError(t, store.Close())
}

// TestStoreConcurrentChurn — конкурентная смесь создания, уничтожения и
// поиска не должна ронять хранилище под -race
func TestStoreConcurrentChurn(t *testing.T) {
	store := newTestStore(t, session.StoreConfig{
		GracePeriod:  time.Millisecond,
		ReapInterval: time.Millisecond,
	})

	const workers = 8
	const perWorker = 50

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id := session.HandleID(base*perWorker + i + 1)
				if _, err := store.Create(id); err != nil {
					panic(fmt.Sprintf("create %d: %v", id, err))
				}
				store.Lookup(id)
				store.Live()
				if err := store.Destroy(id); err != nil {
					panic(fmt.Sprintf("destroy %d: %v", id, err))
				}
				store.Find(id)
			}
		}(w)
	}
	wg.Wait()

	assert.Zero(t, store.Len())
	require.Eventually(t, func() bool {
		return store.DeferredLen() == 0
	}, time.Second, 5*time.Millisecond)
}
