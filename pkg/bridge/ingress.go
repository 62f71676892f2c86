package bridge

import (
	"encoding/json"
	"log/slog"

	"github.com/arzzra/iot_bridge/pkg/feedback"
	"github.com/arzzra/iot_bridge/pkg/recorder"
	"github.com/arzzra/iot_bridge/pkg/relay"
	"github.com/arzzra/iot_bridge/pkg/session"
	"github.com/arzzra/iot_bridge/pkg/signaling"
)

// Callback пути хоста. Зовутся из произвольных потоков хоста и обязаны
// возвращаться быстро: настоящая работа либо ставится в очередь конвейера,
// либо сводится к чтению атомарных флагов и передаче кадра дальше.

// HandleMessage принимает сигнальный запрос хоста. Возврат nil — это
// предварительное подтверждение "обрабатывается": настоящий ответ придет
// асинхронно событием на той же транзакции. Пустое тело запроса ставится
// в очередь и отваливается валидацией уже в воркере.
func (b *Bridge) HandleMessage(id session.HandleID, transaction string, request json.RawMessage, jsep *signaling.Negotiation) error {
	if b.stopping.Load() {
		return ErrStopping
	}
	b.mu.Lock()
	started := b.started
	b.mu.Unlock()
	if !started {
		return ErrNotStarted
	}

	sess, ok := b.store.Lookup(id)
	if !ok {
		return session.NewStoreError(session.ErrorCodeSessionNotFound, "сессия не найдена", id)
	}

	msg := signaling.NewMessage(sess, id, transaction, request, jsep)
	if !b.queue.Push(msg) {
		return ErrStopping
	}
	return nil
}

// SetupMedia отмечает подъем медиа транспорта сессии. Guard повторного
// hangup НЕ перевзводится: переход hangingUp разрешен ровно один раз за
// жизнь сессии.
func (b *Bridge) SetupMedia(id session.HandleID) {
	sess, ok := b.store.Lookup(id)
	if !ok {
		slog.Debug("bridge.SetupMedia unknown session",
			slog.Uint64("handle_id", uint64(id)))
		return
	}

	sess.SetMediaUp(true)
	slog.Info("bridge.SetupMedia media up",
		slog.Uint64("handle_id", uint64(id)),
		slog.Bool("audio", sess.HasAudio()),
		slog.Bool("video", sess.HasVideo()),
		slog.Bool("data", sess.HasData()))
}

// HangupMedia выполняет teardown медиа сессии: ровно одно событие done,
// закрытие рекордеров под блокировкой записи, сброс флагов к значениям
// по умолчанию. Повторные вызовы молча игнорируются.
func (b *Bridge) HangupMedia(id session.HandleID) {
	sess, ok := b.store.Lookup(id)
	if !ok {
		slog.Debug("bridge.HangupMedia unknown session",
			slog.Uint64("handle_id", uint64(id)))
		return
	}

	if !sess.BeginHangup() {
		return
	}

	sess.SetMediaUp(false)
	b.pushEvent(id, "", signaling.NewDoneEvent(), nil)

	if err := sess.CloseRecorders(); err != nil {
		slog.Error("bridge.HangupMedia recorder close failed",
			slog.Uint64("handle_id", uint64(id)),
			slog.Any("error", err))
	}
	sess.ResetControls()

	slog.Info("bridge.HangupMedia media down",
		slog.Uint64("handle_id", uint64(id)))
}

// IncomingRTP принимает медиа кадр сессии. Admission фильтр читает флаг
// соответствующего вида; выключенный флаг молча роняет кадр. Пропущенный
// кадр журналируется рекордером и уходит внешнему приемнику медиа, а без
// настроенного приемника отражается обратно в сессию.
func (b *Bridge) IncomingRTP(id session.HandleID, video bool, payload []byte) {
	sess, ok := b.store.Lookup(id)
	if !ok {
		slog.Debug("bridge.IncomingRTP unknown session",
			slog.Uint64("handle_id", uint64(id)))
		return
	}

	enabled := sess.AudioEnabled()
	kind := recorder.KindAudio
	if video {
		enabled = sess.VideoEnabled()
		kind = recorder.KindVideo
	}
	if !enabled {
		b.metrics.MediaFrame(video, false)
		return
	}

	if err := sess.RecordFrame(kind, payload); err != nil {
		slog.Debug("bridge.IncomingRTP record failed",
			slog.Uint64("handle_id", uint64(id)),
			slog.String("kind", kind.String()),
			slog.Any("error", err))
	}

	switch {
	case b.media != nil:
		if err := b.media.Send(payload); err != nil {
			slog.Debug("bridge.IncomingRTP media send failed",
				slog.Uint64("handle_id", uint64(id)),
				slog.Any("error", err))
		}
	case b.config.EchoMedia:
		b.gateway.RelayMediaOut(id, video, payload)
	}
	b.metrics.MediaFrame(video, true)
}

// IncomingRTCP отражает RTCP пакет сессии обратно, прижав оценку REMB
// к текущему потолку битрейта. Пакет, который не удалось нормализовать,
// проходит как есть.
func (b *Bridge) IncomingRTCP(id session.HandleID, video bool, payload []byte) {
	sess, ok := b.store.Lookup(id)
	if !ok {
		slog.Debug("bridge.IncomingRTCP unknown session",
			slog.Uint64("handle_id", uint64(id)))
		return
	}

	out := feedback.CapBitrate(payload, sess.BitrateCeiling())
	b.gateway.RelayRTCPOut(id, video, out)
	b.metrics.RTCPBounced()
}

// IncomingData принимает сообщение канала данных сессии, журналирует его
// и передает внешнему интерфейсу с префиксом идентификатора сессии.
// Потеря кадра без подключенного внешнего клиента штатная.
func (b *Bridge) IncomingData(id session.HandleID, payload []byte) {
	sess, ok := b.store.Lookup(id)
	if !ok {
		slog.Debug("bridge.IncomingData unknown session",
			slog.Uint64("handle_id", uint64(id)))
		return
	}

	if err := sess.RecordFrame(recorder.KindData, payload); err != nil {
		slog.Debug("bridge.IncomingData record failed",
			slog.Uint64("handle_id", uint64(id)),
			slog.Any("error", err))
	}

	if b.data == nil {
		return
	}
	if err := b.data.SendFrame(uint64(id), payload); err != nil {
		slog.Warn("bridge.IncomingData external send failed",
			slog.Uint64("handle_id", uint64(id)),
			slog.Any("error", err))
		return
	}
	b.metrics.DataFrame("out")
}

// onExternalFrame раздает входящий кадр внешнего интерфейса: вещательный
// идентификатор уходит каждой живой сессии, обычный — ровно совпавшей.
// Кадры для неизвестных и уничтоженных сессий молча отбрасываются.
func (b *Bridge) onExternalFrame(id uint64, payload []byte) {
	if b.stopping.Load() {
		return
	}

	if relay.IsBroadcast(id) {
		for _, sess := range b.store.Live() {
			b.gateway.RelayDataOut(sess.ID(), payload)
		}
		b.metrics.DataFrame("in")
		return
	}

	sess, ok := b.store.Lookup(session.HandleID(id))
	if !ok {
		slog.Debug("bridge.onExternalFrame no live session for frame",
			slog.Uint64("handle_id", id))
		return
	}
	b.gateway.RelayDataOut(sess.ID(), payload)
	b.metrics.DataFrame("in")
}
