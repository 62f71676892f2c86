package signaling

import (
	"encoding/json"
)

// Тексты причин отказа, уходящие хосту в поле error.
// Стабильная часть проводного контракта, не переформулировать.
const (
	causeNoMessage       = "No message??"
	causeNotAnObject     = "JSON error: not an object"
	causeAudioNotBool    = "Invalid value (audio should be a boolean)"
	causeVideoNotBool    = "Invalid value (video should be a boolean)"
	causeBitrateNotUint  = "Invalid value (bitrate should be a positive integer)"
	causeRecordNotBool   = "Invalid value (record should be a boolean)"
	causeFilenameNotStr  = "Invalid value (filename should be a string)"
	causeNoKnownAttr     = "Message error: no supported attributes (audio, video, bitrate, record, jsep) found"
)

// Request представляет разобранное тело сигнального запроса. Все поля
// опциональны: nil означает, что поле в запросе отсутствовало.
type Request struct {
	Audio    *bool
	Video    *bool
	Bitrate  *uint64
	Record   *bool
	Filename *string
}

// ParseRequest разбирает и валидирует сырое тело запроса. Валидация
// выполняется до любой мутации состояния сессии: первый же отказ
// прерывает разбор. Неизвестные поля игнорируются.
func ParseRequest(raw json.RawMessage) (*Request, *RequestError) {
	if len(raw) == 0 {
		return nil, NewRequestError(ErrorNoMessage, causeNoMessage)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, WrapRequestError(ErrorInvalidJSON, causeNotAnObject, err)
	}

	req := &Request{}

	if rawAudio, ok := fields["audio"]; ok {
		var audio bool
		if err := json.Unmarshal(rawAudio, &audio); err != nil {
			return nil, NewFieldError("audio", causeAudioNotBool)
		}
		req.Audio = &audio
	}
	if rawVideo, ok := fields["video"]; ok {
		var video bool
		if err := json.Unmarshal(rawVideo, &video); err != nil {
			return nil, NewFieldError("video", causeVideoNotBool)
		}
		req.Video = &video
	}
	if rawBitrate, ok := fields["bitrate"]; ok {
		var bitrate int64
		if err := json.Unmarshal(rawBitrate, &bitrate); err != nil || bitrate < 0 {
			return nil, NewFieldError("bitrate", causeBitrateNotUint)
		}
		value := uint64(bitrate)
		req.Bitrate = &value
	}
	if rawRecord, ok := fields["record"]; ok {
		var record bool
		if err := json.Unmarshal(rawRecord, &record); err != nil {
			return nil, NewFieldError("record", causeRecordNotBool)
		}
		req.Record = &record
	}
	if rawFilename, ok := fields["filename"]; ok {
		var filename string
		if err := json.Unmarshal(rawFilename, &filename); err != nil {
			return nil, NewFieldError("filename", causeFilenameNotStr)
		}
		req.Filename = &filename
	}

	return req, nil
}

// Empty сообщает, что запрос не содержит ни одного распознанного поля.
// Пустой запрос без negotiation payload сам по себе является ошибкой
// валидации; filename в одиночку запросом не считается — он лишь уточняет
// record=true.
func (r *Request) Empty() bool {
	return r.Audio == nil && r.Video == nil && r.Bitrate == nil && r.Record == nil
}

// ErrEmptyRequest возвращает ошибку для запроса без распознанных полей
func ErrEmptyRequest() *RequestError {
	return NewRequestError(ErrorInvalidElement, causeNoKnownAttr)
}
