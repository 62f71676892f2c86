package signaling

import (
	"log/slog"
	"strings"

	"github.com/pion/sdp/v3"
)

// Типы negotiation payload
const (
	NegotiationOffer  = "offer"
	NegotiationAnswer = "answer"
)

// Negotiation представляет offer/answer пару: тип и описание сессии.
// Описание для ядра непрозрачно — допускается только подстрочный патчинг
// его атрибутов, содержимое остается собственностью хоста.
type Negotiation struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// MediaPresence — присутствие медиа секций в описании сессии
type MediaPresence struct {
	Audio bool
	Video bool
	Data  bool
}

// Строки FEC/RTX атрибутов, вычищаемые из описания. Фиксированный список
// известных шаблонов — best-effort, полнота для произвольных описаний не
// гарантируется.
var fecAttributeLines = []string{
	"a=rtpmap:116 red/90000\r\n",
	"a=rtpmap:117 ulpfec/90000\r\n",
	"a=rtpmap:96 rtx/90000\r\n",
	"a=fmtp:96 apt=100\r\n",
	"a=rtpmap:97 rtx/90000\r\n",
	"a=fmtp:97 apt=101\r\n",
	"a=rtpmap:98 rtx/90000\r\n",
	"a=fmtp:98 apt=116\r\n",
}

// Ссылки на FEC/RTX payload типы в m= строках
var fecPayloadRefs = []string{" 116", " 117", " 96", " 97", " 98"}

// InspectDescription определяет, какие медиа секции присутствуют в описании.
// Сначала пробует структурный разбор; описание, которое разобрать не
// удалось, проверяется по подстрокам — контракт позволяет хосту передавать
// произвольный текст, и отказ разбора не должен ронять обработку запроса.
func InspectDescription(description string) MediaPresence {
	parsed := sdp.SessionDescription{}
	if err := parsed.Unmarshal([]byte(description)); err != nil {
		slog.Debug("signaling.InspectDescription fallback to substring scan",
			slog.Any("error", err))
		return MediaPresence{
			Audio: strings.Contains(description, "m=audio"),
			Video: strings.Contains(description, "m=video"),
			Data:  strings.Contains(description, "DTLS/SCTP"),
		}
	}

	presence := MediaPresence{}
	for _, media := range parsed.MediaDescriptions {
		switch media.MediaName.Media {
		case "audio":
			presence.Audio = true
		case "video":
			presence.Video = true
		case "application":
			proto := strings.Join(media.MediaName.Protos, "/")
			if strings.Contains(proto, "DTLS/SCTP") {
				presence.Data = true
			}
		}
	}
	return presence
}

// RewriteDescription правит направляющие атрибуты описания и вычищает
// FEC/RTX строки. Правила взаимоисключающие по вхождению и идемпотентные:
//   - a=recvonly -> a=inactive (медиа только отражается, активного приема нет)
//   - иначе a=sendonly -> a=recvonly
//
// Зачистка FEC выполняется только при наличии маркера ulpfec.
func RewriteDescription(description string) string {
	rewritten := description
	if strings.Contains(rewritten, "a=recvonly") {
		rewritten = strings.ReplaceAll(rewritten, "a=recvonly", "a=inactive")
	} else if strings.Contains(rewritten, "a=sendonly") {
		rewritten = strings.ReplaceAll(rewritten, "a=sendonly", "a=recvonly")
	}

	if strings.Contains(rewritten, "ulpfec") {
		for _, line := range fecAttributeLines {
			rewritten = strings.ReplaceAll(rewritten, line, "")
		}
		for _, ref := range fecPayloadRefs {
			rewritten = strings.ReplaceAll(rewritten, ref, "")
		}
	}
	return rewritten
}

// CounterType возвращает встречный тип negotiation: offer на answer и
// наоборот. Неизвестный тип дает пустую строку.
func CounterType(negotiationType string) string {
	switch strings.ToLower(negotiationType) {
	case NegotiationOffer:
		return NegotiationAnswer
	case NegotiationAnswer:
		return NegotiationOffer
	default:
		return ""
	}
}

// Counter строит встречный negotiation payload: тип переворачивается,
// описание проходит через RewriteDescription.
func (n *Negotiation) Counter() *Negotiation {
	return &Negotiation{
		Type: CounterType(n.Type),
		SDP:  RewriteDescription(n.SDP),
	}
}
