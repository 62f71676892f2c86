// Package feedback собирает и нормализует RTCP сообщения обратной связи:
// запросы ключевого кадра (PLI) и ограничение битрейта отправителя (REMB).
package feedback

import (
	"log/slog"

	"github.com/pion/rtcp"
)

// KeyframeRequest собирает Picture Loss Indication: просьбу к отправителю
// видео немедленно прислать ключевой кадр. SSRC поля нулевые, их
// подставляет хост при доставке.
func KeyframeRequest() []byte {
	pli := rtcp.PictureLossIndication{}
	raw, err := pli.Marshal()
	if err != nil {
		slog.Error("feedback.KeyframeRequest marshal failed",
			slog.Any("error", err))
		return nil
	}
	return raw
}

// BitrateCeiling собирает Receiver Estimated Maximum Bitrate с заданным
// потолком в битах в секунду. Единственная SSRC запись нулевая, ее
// подставляет хост.
func BitrateCeiling(bps uint64) []byte {
	remb := rtcp.ReceiverEstimatedMaximumBitrate{
		Bitrate: float32(bps),
		SSRCs:   []uint32{0},
	}
	raw, err := remb.Marshal()
	if err != nil {
		slog.Error("feedback.BitrateCeiling marshal failed",
			slog.Uint64("bitrate", bps),
			slog.Any("error", err))
		return nil
	}
	return raw
}

// CapBitrate прижимает оценку REMB внутри составного RTCP пакета к потолку
// сессии. Пакеты без REMB и пакеты с оценкой ниже потолка проходят без
// изменений. Байты, которые не разбираются как RTCP, тоже проходят как
// есть: нормализация обратной связи не должна ронять перенаправление.
func CapBitrate(packet []byte, ceiling uint64) []byte {
	if ceiling == 0 || len(packet) == 0 {
		return packet
	}

	packets, err := rtcp.Unmarshal(packet)
	if err != nil {
		slog.Debug("feedback.CapBitrate malformed RTCP passed through",
			slog.Any("error", err))
		return packet
	}

	capped := false
	for _, p := range packets {
		remb, ok := p.(*rtcp.ReceiverEstimatedMaximumBitrate)
		if !ok {
			continue
		}
		if remb.Bitrate > float32(ceiling) {
			remb.Bitrate = float32(ceiling)
			capped = true
		}
	}
	if !capped {
		return packet
	}

	out, err := rtcp.Marshal(packets)
	if err != nil {
		slog.Debug("feedback.CapBitrate re-marshal failed, original passed through",
			slog.Any("error", err))
		return packet
	}
	return out
}
