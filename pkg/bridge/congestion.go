package bridge

import (
	"log/slog"

	"github.com/arzzra/iot_bridge/pkg/feedback"
	"github.com/arzzra/iot_bridge/pkg/session"
	"github.com/arzzra/iot_bridge/pkg/signaling"
)

// Пределы адаптивного потолка битрейта
const (
	// DefaultBitrateFloor — рабочий потолок для сессии без ограничения:
	// от него идет первое деление пополам
	DefaultBitrateFloor uint64 = 512 * 1024
	// MinBitrateCeiling — жесткий минимум: ниже потолок не опускается
	MinBitrateCeiling uint64 = 64 * 1024
)

// SlowLink реагирует на сигнал хоста о деградации канала сессии.
// Счетчик растет безусловно. Uplink сигнал по уже выключенному виду медиа
// ожидаем и действий не требует. Видео деградация делит потолок битрейта
// пополам с прижимом к минимуму, отдает REMB и уведомляет хост событием
// slow_link. Аудио деградация только считается — потолок не трогает:
// полосу определяет видео, асимметрия намеренная.
func (b *Bridge) SlowLink(id session.HandleID, uplink, video bool) {
	sess, ok := b.store.Lookup(id)
	if !ok {
		slog.Debug("bridge.SlowLink unknown session",
			slog.Uint64("handle_id", uint64(id)))
		return
	}

	count := sess.IncSlowLinkCount()

	enabled := sess.AudioEnabled()
	if video {
		enabled = sess.VideoEnabled()
	}
	if uplink && !enabled {
		b.metrics.SlowLinkReported(video, true)
		slog.Debug("bridge.SlowLink benign report on disabled media",
			slog.Uint64("handle_id", uint64(id)),
			slog.Bool("video", video),
			slog.Uint64("count", uint64(count)))
		return
	}

	b.metrics.SlowLinkReported(video, false)

	if !video {
		slog.Debug("bridge.SlowLink audio degradation counted",
			slog.Uint64("handle_id", uint64(id)),
			slog.Uint64("count", uint64(count)))
		return
	}

	ceiling := sess.BitrateCeiling()
	if ceiling == 0 {
		ceiling = DefaultBitrateFloor
	}
	ceiling /= 2
	if ceiling < MinBitrateCeiling {
		ceiling = MinBitrateCeiling
	}
	sess.SetBitrateCeiling(ceiling)

	b.gateway.RelayRTCPOut(id, true, feedback.BitrateCeiling(ceiling))
	b.pushEvent(id, "", signaling.NewSlowLinkEvent(ceiling), nil)

	slog.Info("bridge.SlowLink bitrate ceiling lowered",
		slog.Uint64("handle_id", uint64(id)),
		slog.Uint64("bitrate", ceiling),
		slog.Uint64("count", uint64(count)))
}
