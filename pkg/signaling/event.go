package signaling

// eventKind — значение ключа плагина во всех событиях
const eventKind = "event"

// Event представляет событие, которое ядро отправляет хосту через PushEvent.
// Формат повторяет проводной контракт плагина: успешные события несут result,
// события об ошибке несут error_code и error.
type Event struct {
	Plugin    string           `json:"iotbridge"`
	Result    any              `json:"result,omitempty"`
	ErrorCode RequestErrorCode `json:"error_code,omitempty"`
	ErrorText string           `json:"error,omitempty"`
}

// SlowLinkResult — тело события о деградации канала
type SlowLinkResult struct {
	Status  string `json:"status"`
	Bitrate uint64 `json:"bitrate"`
}

// NewOKEvent создает успешное событие обработки запроса
func NewOKEvent() *Event {
	return &Event{
		Plugin: eventKind,
		Result: "ok",
	}
}

// NewDoneEvent создает событие завершения медиа сессии
func NewDoneEvent() *Event {
	return &Event{
		Plugin: eventKind,
		Result: "done",
	}
}

// NewSlowLinkEvent создает уведомление о новом потолке битрейта
// после сигнала о перегрузке канала
func NewSlowLinkEvent(bitrate uint64) *Event {
	return &Event{
		Plugin: eventKind,
		Result: SlowLinkResult{
			Status:  "slow_link",
			Bitrate: bitrate,
		},
	}
}

// NewErrorEvent создает событие об отказе валидации запроса
func NewErrorEvent(reqErr *RequestError) *Event {
	return &Event{
		Plugin:    eventKind,
		ErrorCode: reqErr.Code,
		ErrorText: reqErr.Cause,
	}
}

// IsError сообщает, является ли событие событием об ошибке
func (e *Event) IsError() bool {
	return e.ErrorCode != 0
}
