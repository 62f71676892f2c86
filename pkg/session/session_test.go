package session_test

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/iot_bridge/pkg/recorder"
	"github.com/arzzra/iot_bridge/pkg/session"
)

// mockRecorder — потокобезопасная заглушка приемника кадров
type mockRecorder struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (m *mockRecorder) SaveFrame(payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return recorder.ErrRecorderClosed
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	m.frames = append(m.frames, buf)
	return nil
}

func (m *mockRecorder) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockRecorder) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockRecorder) FrameCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.frames)
}

func newTestStore(t *testing.T, cfg session.StoreConfig) *session.Store {
	t.Helper()
	store := session.NewStore(cfg)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})
	return store
}

// TestSessionDefaults проверяет состояние новой сессии
func TestSessionDefaults(t *testing.T) {
	store := newTestStore(t, session.DefaultStoreConfig())

	sess, err := store.Create(42)
	require.NoError(t, err)
	require.NotNil(t, sess)

	assert.Equal(t, session.HandleID(42), sess.ID())
	assert.False(t, sess.CreatedAt().IsZero(), "Session should have creation time")

	// Аудио и видео разрешены с рождения
	assert.True(t, sess.AudioEnabled())
	assert.True(t, sess.VideoEnabled())

	// Медиа еще не согласовано
	assert.False(t, sess.HasAudio())
	assert.False(t, sess.HasVideo())
	assert.False(t, sess.HasData())
	assert.False(t, sess.MediaUp())
	assert.False(t, sess.HangingUp())
	assert.False(t, sess.Destroyed())

	assert.Zero(t, sess.BitrateCeiling())
	assert.Zero(t, sess.SlowLinkCount())
}

// TestSessionControlFlags проверяет установку и чтение флагов управления
func TestSessionControlFlags(t *testing.T) {
	store := newTestStore(t, session.DefaultStoreConfig())

	sess, err := store.Create(1)
	require.NoError(t, err)

	sess.SetAudioEnabled(false)
	sess.SetVideoEnabled(false)
	sess.SetMediaPresence(true, true, true)
	sess.SetMediaUp(true)
	sess.SetBitrateCeiling(256000)

	assert.False(t, sess.AudioEnabled())
	assert.False(t, sess.VideoEnabled())
	assert.True(t, sess.HasAudio())
	assert.True(t, sess.HasVideo())
	assert.True(t, sess.HasData())
	assert.True(t, sess.MediaUp())
	assert.Equal(t, uint64(256000), sess.BitrateCeiling())

	assert.Equal(t, uint32(1), sess.IncSlowLinkCount())
	assert.Equal(t, uint32(2), sess.IncSlowLinkCount())
	assert.Equal(t, uint32(2), sess.SlowLinkCount())
}

// TestSessionBeginHangupOnce проверяет, что teardown выигрывает ровно один вызов
func TestSessionBeginHangupOnce(t *testing.T) {
	store := newTestStore(t, session.DefaultStoreConfig())

	sess, err := store.Create(7)
	require.NoError(t, err)

	require.True(t, sess.BeginHangup(), "First hangup should win")
	assert.False(t, sess.BeginHangup(), "Second hangup must be rejected")
	assert.True(t, sess.HangingUp())
}

// TestSessionResetControls проверяет возврат флагов к значениям по умолчанию
func TestSessionResetControls(t *testing.T) {
	store := newTestStore(t, session.DefaultStoreConfig())

	sess, err := store.Create(9)
	require.NoError(t, err)

	sess.SetAudioEnabled(false)
	sess.SetVideoEnabled(false)
	sess.SetMediaPresence(true, true, true)
	sess.SetBitrateCeiling(128000)
	sess.IncSlowLinkCount()

	sess.ResetControls()

	assert.True(t, sess.AudioEnabled())
	assert.True(t, sess.VideoEnabled())
	assert.False(t, sess.HasAudio())
	assert.False(t, sess.HasVideo())
	assert.False(t, sess.HasData())
	assert.Zero(t, sess.BitrateCeiling())

	// Счетчик деградаций переживает сброс
	assert.Equal(t, uint32(1), sess.SlowLinkCount())
}

// TestSessionSnapshotJSON проверяет имена полей проводного формата
func TestSessionSnapshotJSON(t *testing.T) {
	store := newTestStore(t, session.DefaultStoreConfig())

	sess, err := store.Create(3)
	require.NoError(t, err)

	sess.SetVideoEnabled(false)
	sess.SetBitrateCeiling(512000)
	sess.IncSlowLinkCount()

	data, err := json.Marshal(sess.Snapshot())
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, true, decoded["audio_active"])
	assert.Equal(t, false, decoded["video_active"])
	assert.Equal(t, float64(512000), decoded["bitrate"])
	assert.Equal(t, float64(1), decoded["slowlink_count"])
	assert.Equal(t, float64(0), decoded["destroyed"])
}

// TestSessionRecorderLifecycle проверяет подмену, запись и закрытие рекордеров
func TestSessionRecorderLifecycle(t *testing.T) {
	store := newTestStore(t, session.DefaultStoreConfig())

	sess, err := store.Create(5)
	require.NoError(t, err)

	// Запись без рекордера — no-op
	require.NoError(t, sess.RecordFrame(recorder.KindAudio, []byte{0x80, 0x00}))

	audioRec := &mockRecorder{}
	videoRec := &mockRecorder{}

	require.Nil(t, sess.SetRecorder(recorder.KindAudio, audioRec))
	require.Nil(t, sess.SetRecorder(recorder.KindVideo, videoRec))
	assert.Same(t, recorder.Recorder(audioRec), sess.Recorder(recorder.KindAudio))
	assert.Nil(t, sess.Recorder(recorder.KindData))

	require.NoError(t, sess.RecordFrame(recorder.KindAudio, []byte{0x80, 0x01}))
	require.NoError(t, sess.RecordFrame(recorder.KindVideo, []byte{0x80, 0x02}))
	assert.Equal(t, 1, audioRec.FrameCount())
	assert.Equal(t, 1, videoRec.FrameCount())

	// Подмена возвращает прежний рекордер, не закрывая его
	replacement := &mockRecorder{}
	prev := sess.SetRecorder(recorder.KindAudio, replacement)
	assert.Same(t, recorder.Recorder(audioRec), prev)
	assert.False(t, audioRec.Closed())

	require.NoError(t, sess.CloseRecorders())
	assert.True(t, replacement.Closed())
	assert.True(t, videoRec.Closed())
	assert.Nil(t, sess.Recorder(recorder.KindAudio))
	assert.Nil(t, sess.Recorder(recorder.KindVideo))

	// Повторное закрытие безопасно
	require.NoError(t, sess.CloseRecorders())
}
