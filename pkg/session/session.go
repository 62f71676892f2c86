// Package session реализует хранилище состояния сессий моста: таблицу живых
// сессий, список отложенного уничтожения и фонового жнеца. Хранилище —
// единственный владелец жизненного цикла: никакой другой компонент не
// освобождает сессию напрямую.
package session

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arzzra/iot_bridge/pkg/recorder"
)

// HandleID — непрозрачный числовой идентификатор сессии, назначаемый хостом.
// Служит ключом таблицы и мультиплексирующим ключом проводного формата.
type HandleID uint64

// ReservedBroadcastID — идентификатор вещания во внешнем проводном формате.
// Никогда не адресует конкретную сессию и не может быть зарегистрирован.
const ReservedBroadcastID HandleID = 0xffffffffffffffff

// Session представляет состояние одного согласованного хостом peer
// соединения.
//
// Флаги управления — атомики: писатель один (воркер конвейера либо путь
// teardown), читателей много (пути реле). Читателям разрешено видеть
// слегка устаревшее значение — это простые admission проверки.
type Session struct {
	id        HandleID
	createdAt time.Time

	audioEnabled atomic.Bool
	videoEnabled atomic.Bool
	hasAudio     atomic.Bool
	hasVideo     atomic.Bool
	hasData      atomic.Bool
	mediaUp      atomic.Bool
	hangingUp    atomic.Bool
	bitrate      atomic.Uint64
	slowLink     atomic.Uint32
	destroyedAt  atomic.Int64 // µs unix, 0 = живая

	// recMu защищает ссылки на рекордеры; разделяется между конвейером
	// записи и путем teardown, чтобы исключить гонку close-при-open
	recMu    sync.Mutex
	audioRec recorder.Recorder
	videoRec recorder.Recorder
	dataRec  recorder.Recorder
}

// Snapshot — структурный срез состояния сессии для queryState.
// Имена JSON полей повторяют проводной формат события.
type Snapshot struct {
	AudioEnabled   bool   `json:"audio_active"`
	VideoEnabled   bool   `json:"video_active"`
	BitrateCeiling uint64 `json:"bitrate"`
	SlowLinkCount  uint32 `json:"slowlink_count"`
	DestroyedAt    int64  `json:"destroyed"`
}

// newSession создает сессию с настройками по умолчанию: аудио и видео
// разрешены, битрейт не ограничен, медиа еще не согласовано.
func newSession(id HandleID) *Session {
	s := &Session{
		id:        id,
		createdAt: time.Now(),
	}
	s.audioEnabled.Store(true)
	s.videoEnabled.Store(true)
	return s
}

// ID возвращает идентификатор сессии
func (s *Session) ID() HandleID {
	return s.id
}

// CreatedAt возвращает время создания сессии
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// AudioEnabled сообщает, пропускается ли аудио этой сессии
func (s *Session) AudioEnabled() bool {
	return s.audioEnabled.Load()
}

// SetAudioEnabled меняет admission флаг аудио
func (s *Session) SetAudioEnabled(enabled bool) {
	s.audioEnabled.Store(enabled)
}

// VideoEnabled сообщает, пропускается ли видео этой сессии
func (s *Session) VideoEnabled() bool {
	return s.videoEnabled.Load()
}

// SetVideoEnabled меняет admission флаг видео
func (s *Session) SetVideoEnabled(enabled bool) {
	s.videoEnabled.Store(enabled)
}

// HasAudio сообщает, было ли аудио в согласованном описании
func (s *Session) HasAudio() bool {
	return s.hasAudio.Load()
}

// HasVideo сообщает, было ли видео в согласованном описании
func (s *Session) HasVideo() bool {
	return s.hasVideo.Load()
}

// HasData сообщает, был ли канал данных в согласованном описании
func (s *Session) HasData() bool {
	return s.hasData.Load()
}

// SetMediaPresence фиксирует состав согласованных медиа секций
func (s *Session) SetMediaPresence(audio, video, data bool) {
	s.hasAudio.Store(audio)
	s.hasVideo.Store(video)
	s.hasData.Store(data)
}

// MediaUp сообщает, поднят ли медиа транспорт сессии
func (s *Session) MediaUp() bool {
	return s.mediaUp.Load()
}

// SetMediaUp отмечает подъем или падение медиа транспорта
func (s *Session) SetMediaUp(up bool) {
	s.mediaUp.Store(up)
}

// BitrateCeiling возвращает текущий потолок битрейта, 0 = без ограничения
func (s *Session) BitrateCeiling() uint64 {
	return s.bitrate.Load()
}

// SetBitrateCeiling устанавливает потолок битрейта
func (s *Session) SetBitrateCeiling(bitrate uint64) {
	s.bitrate.Store(bitrate)
}

// SlowLinkCount возвращает счетчик сигналов о деградации канала
func (s *Session) SlowLinkCount() uint32 {
	return s.slowLink.Load()
}

// IncSlowLinkCount увеличивает счетчик и возвращает новое значение
func (s *Session) IncSlowLinkCount() uint32 {
	return s.slowLink.Add(1)
}

// BeginHangup выполняет единственный разрешенный переход hangingUp
// false -> true. Возвращает true только первому вызвавшему; повторные
// попытки получают false и обязаны ничего не делать.
func (s *Session) BeginHangup() bool {
	return s.hangingUp.CompareAndSwap(false, true)
}

// HangingUp сообщает, начат ли teardown медиа
func (s *Session) HangingUp() bool {
	return s.hangingUp.Load()
}

// Destroyed сообщает, помечена ли сессия на уничтожение
func (s *Session) Destroyed() bool {
	return s.destroyedAt.Load() != 0
}

// DestroyedAt возвращает отметку уничтожения в микросекундах unix, 0 = живая
func (s *Session) DestroyedAt() int64 {
	return s.destroyedAt.Load()
}

// markDestroyed выполняет единственное присваивание отметки уничтожения.
// Вызывается только хранилищем под его блокировкой.
func (s *Session) markDestroyed(nowMicro int64) bool {
	return s.destroyedAt.CompareAndSwap(0, nowMicro)
}

// ResetControls возвращает флаги управления к значениям по умолчанию.
// Вызывается путем teardown после завершения медиа.
func (s *Session) ResetControls() {
	s.hasAudio.Store(false)
	s.hasVideo.Store(false)
	s.hasData.Store(false)
	s.audioEnabled.Store(true)
	s.videoEnabled.Store(true)
	s.bitrate.Store(0)
}

// Snapshot возвращает согласованный срез состояния сессии
func (s *Session) Snapshot() Snapshot {
	return Snapshot{
		AudioEnabled:   s.audioEnabled.Load(),
		VideoEnabled:   s.videoEnabled.Load(),
		BitrateCeiling: s.bitrate.Load(),
		SlowLinkCount:  s.slowLink.Load(),
		DestroyedAt:    s.destroyedAt.Load(),
	}
}

// SetRecorder подменяет рекордер указанного вида и возвращает прежний.
// Прежний рекордер вызывающий обязан закрыть сам.
func (s *Session) SetRecorder(kind recorder.Kind, rec recorder.Recorder) recorder.Recorder {
	s.recMu.Lock()
	defer s.recMu.Unlock()

	var prev recorder.Recorder
	switch kind {
	case recorder.KindAudio:
		prev, s.audioRec = s.audioRec, rec
	case recorder.KindVideo:
		prev, s.videoRec = s.videoRec, rec
	case recorder.KindData:
		prev, s.dataRec = s.dataRec, rec
	}
	return prev
}

// Recorder возвращает текущий рекордер указанного вида, nil если запись
// этого потока не ведется
func (s *Session) Recorder(kind recorder.Kind) recorder.Recorder {
	s.recMu.Lock()
	defer s.recMu.Unlock()

	switch kind {
	case recorder.KindAudio:
		return s.audioRec
	case recorder.KindVideo:
		return s.videoRec
	case recorder.KindData:
		return s.dataRec
	default:
		return nil
	}
}

// CloseRecorders закрывает и обнуляет все три рекордера. Каждый
// закрывается независимо; вызов идемпотентен.
func (s *Session) CloseRecorders() error {
	s.recMu.Lock()
	audioRec, videoRec, dataRec := s.audioRec, s.videoRec, s.dataRec
	s.audioRec, s.videoRec, s.dataRec = nil, nil, nil
	s.recMu.Unlock()

	var errs []error
	for _, rec := range []recorder.Recorder{audioRec, videoRec, dataRec} {
		if rec == nil {
			continue
		}
		if err := rec.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RecordFrame дописывает кадр в рекордер указанного вида, если запись
// ведется. Ссылка снимается под recMu, сама запись выполняется вне
// блокировки: рекордер сам переживает гонку с закрытием.
func (s *Session) RecordFrame(kind recorder.Kind, payload []byte) error {
	rec := s.Recorder(kind)
	if rec == nil {
		return nil
	}
	return rec.SaveFrame(payload)
}

// release освобождает ресурсы сессии при окончательном уничтожении.
// Вызывается только жнецом хранилища.
func (s *Session) release() error {
	return s.CloseRecorders()
}
