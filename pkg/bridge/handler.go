package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/arzzra/iot_bridge/pkg/feedback"
	"github.com/arzzra/iot_bridge/pkg/recorder"
	"github.com/arzzra/iot_bridge/pkg/session"
	"github.com/arzzra/iot_bridge/pkg/signaling"
)

// Итоги обработки сообщения для метрик
const (
	outcomeApplied  = "applied"
	outcomeRejected = "rejected"
	outcomeDropped  = "dropped"
)

// handlerLoop — единственный воркер конвейера сигналинга. Снимает
// сообщения по одному в порядке постановки и выходит, сняв сентинел
// завершения. Один воркер — это гарантия порядка: два сообщения одной
// сессии никогда не применяются конкурентно.
func (b *Bridge) handlerLoop() {
	defer close(b.workerDone)

	slog.Debug("bridge.handlerLoop Started")
	ctx := context.Background()

	for {
		msg, ok := b.queue.Pop()
		if !ok || msg.IsShutdown() {
			slog.Debug("bridge.handlerLoop Stopped")
			return
		}
		b.handleMessage(ctx, msg)
	}
}

// handleMessage обрабатывает одно снятое с очереди сообщение
func (b *Bridge) handleMessage(ctx context.Context, msg *signaling.Message) {
	// Сверка по объекту, не только по идентификатору: хост мог успеть
	// снести сессию и завести новую под тем же идентификатором
	cur, ok := b.store.Lookup(msg.HandleID)
	if !ok || cur != msg.Session || msg.Session.Destroyed() {
		slog.Debug("bridge.handleMessage session gone, message dropped",
			slog.Uint64("handle_id", uint64(msg.HandleID)),
			slog.String("transaction", msg.Transaction))
		b.metrics.MessageProcessed(outcomeDropped)
		return
	}

	req, reqErr := signaling.ParseRequest(msg.Payload)
	if reqErr == nil && req.Empty() && msg.Jsep == nil {
		reqErr = signaling.ErrEmptyRequest()
	}
	if reqErr != nil {
		b.rejectMessage(ctx, msg, reqErr)
		return
	}

	if err := msg.MarkValidated(ctx); err != nil {
		slog.Error("bridge.handleMessage fsm validate failed",
			slog.Any("error", err))
	}

	b.applyRequest(msg.Session, req)
	answer := b.applyNegotiation(msg.Session, msg.Jsep)

	if err := msg.MarkApplied(ctx); err != nil {
		slog.Error("bridge.handleMessage fsm apply failed",
			slog.Any("error", err))
	}

	b.pushEvent(msg.HandleID, msg.Transaction, signaling.NewOKEvent(), answer)
	if err := msg.MarkResponded(ctx); err != nil {
		slog.Error("bridge.handleMessage fsm respond failed",
			slog.Any("error", err))
	}
	b.metrics.MessageProcessed(outcomeApplied)
}

// rejectMessage завершает сообщение событием об ошибке валидации.
// На каждый отклоненный запрос уходит ровно одно событие на его же
// транзакции.
func (b *Bridge) rejectMessage(ctx context.Context, msg *signaling.Message, reqErr *signaling.RequestError) {
	slog.Debug("bridge.rejectMessage request rejected",
		slog.Uint64("handle_id", uint64(msg.HandleID)),
		slog.String("transaction", msg.Transaction),
		slog.Int("code", int(reqErr.Code)),
		slog.String("cause", reqErr.Cause))

	if err := msg.MarkRejected(ctx); err != nil {
		slog.Error("bridge.rejectMessage fsm reject failed",
			slog.Any("error", err))
	}

	b.pushEvent(msg.HandleID, msg.Transaction, signaling.NewErrorEvent(reqErr), nil)
	if err := msg.MarkErrorResponded(ctx); err != nil {
		slog.Error("bridge.rejectMessage fsm respond failed",
			slog.Any("error", err))
	}

	b.metrics.RequestRejected(reqErr.Code)
	b.metrics.MessageProcessed(outcomeRejected)
}

// applyRequest применяет поля проверенного запроса в фиксированном
// порядке: audio, video, bitrate, record
func (b *Bridge) applyRequest(sess *session.Session, req *signaling.Request) {
	id := sess.ID()

	if req.Audio != nil {
		sess.SetAudioEnabled(*req.Audio)
		slog.Debug("bridge.applyRequest audio flag",
			slog.Uint64("handle_id", uint64(id)),
			slog.Bool("enabled", *req.Audio))
	}

	if req.Video != nil {
		// Переход выключено -> включено будит замерший видеопоток:
		// запрос ключевого кадра уходит до обновления флага
		if *req.Video && !sess.VideoEnabled() {
			b.gateway.RelayRTCPOut(id, true, feedback.KeyframeRequest())
		}
		sess.SetVideoEnabled(*req.Video)
		slog.Debug("bridge.applyRequest video flag",
			slog.Uint64("handle_id", uint64(id)),
			slog.Bool("enabled", *req.Video))
	}

	if req.Bitrate != nil {
		sess.SetBitrateCeiling(*req.Bitrate)
		if *req.Bitrate > 0 {
			b.gateway.RelayRTCPOut(id, true, feedback.BitrateCeiling(*req.Bitrate))
		}
		slog.Debug("bridge.applyRequest bitrate ceiling",
			slog.Uint64("handle_id", uint64(id)),
			slog.Uint64("bitrate", *req.Bitrate))
	}

	if req.Record != nil {
		b.applyRecord(sess, *req.Record, req.Filename)
	}
}

// applyRecord переключает запись сессии. Выключение закрывает все три
// рекордера независимо; включение открывает рекордер каждого
// согласованного вида, у которого записи еще нет. Отказ открытия
// нефатален: запись этого вида просто не стартует.
func (b *Bridge) applyRecord(sess *session.Session, record bool, baseName *string) {
	id := sess.ID()

	if !record {
		if err := sess.CloseRecorders(); err != nil {
			slog.Error("bridge.applyRecord recorder close failed",
				slog.Uint64("handle_id", uint64(id)),
				slog.Any("error", err))
		}
		slog.Debug("bridge.applyRecord recording stopped",
			slog.Uint64("handle_id", uint64(id)))
		return
	}

	kinds := []struct {
		kind recorder.Kind
		has  bool
	}{
		{recorder.KindAudio, sess.HasAudio()},
		{recorder.KindVideo, sess.HasVideo()},
		{recorder.KindData, sess.HasData()},
	}

	for _, k := range kinds {
		if !k.has || sess.Recorder(k.kind) != nil {
			continue
		}

		name := b.recordingName(id, k.kind, baseName)
		rec, err := b.opener(name, k.kind)
		if err != nil {
			slog.Warn("bridge.applyRecord recorder open failed",
				slog.Uint64("handle_id", uint64(id)),
				slog.String("kind", k.kind.String()),
				slog.Any("error", err))
			b.metrics.RecorderOpenFailed(k.kind.String())
			continue
		}

		if prev := sess.SetRecorder(k.kind, rec); prev != nil {
			prev.Close()
		}

		// Запись видео должна начинаться с ключевого кадра
		if k.kind == recorder.KindVideo {
			b.gateway.RelayRTCPOut(id, true, feedback.KeyframeRequest())
		}

		slog.Debug("bridge.applyRecord recording started",
			slog.Uint64("handle_id", uint64(id)),
			slog.String("kind", k.kind.String()),
			slog.String("name", name))
	}
}

// recordingName строит базовое имя записи: базу вызывающего либо
// сгенерированную из идентификатора сессии и времени, с суффиксом вида
func (b *Bridge) recordingName(id session.HandleID, kind recorder.Kind, baseName *string) string {
	if baseName != nil && *baseName != "" {
		return fmt.Sprintf("%s-%s", *baseName, kind)
	}
	return fmt.Sprintf("iotbridge-%d-%d-%s", uint64(id), time.Now().Unix(), kind)
}

// applyNegotiation обрабатывает negotiation payload: фиксирует состав
// согласованных медиа секций и строит встречное описание для хоста.
// Возвращает nil без payload в сообщении.
func (b *Bridge) applyNegotiation(sess *session.Session, jsep *signaling.Negotiation) *signaling.Negotiation {
	if jsep == nil {
		return nil
	}

	presence := signaling.InspectDescription(jsep.SDP)
	sess.SetMediaPresence(presence.Audio, presence.Video, presence.Data)

	slog.Debug("bridge.applyNegotiation media presence derived",
		slog.Uint64("handle_id", uint64(sess.ID())),
		slog.String("type", jsep.Type),
		slog.Bool("audio", presence.Audio),
		slog.Bool("video", presence.Video),
		slog.Bool("data", presence.Data))

	return jsep.Counter()
}
