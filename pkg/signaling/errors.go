package signaling

import (
	"errors"
	"fmt"
)

// RequestErrorCode представляет числовой код отказа сигнального запроса.
// Значения фиксированы протоколом событий и уходят хосту в поле error_code,
// менять их нельзя.
type RequestErrorCode int

const (
	// ErrorNoMessage — запрос пришел вообще без тела
	ErrorNoMessage RequestErrorCode = 411
	// ErrorInvalidJSON — тело запроса не является JSON объектом
	ErrorInvalidJSON RequestErrorCode = 412
	// ErrorInvalidElement — поле запроса имеет неверный тип или запрос пуст
	ErrorInvalidElement RequestErrorCode = 413
)

// String возвращает строковое представление кода ошибки
func (c RequestErrorCode) String() string {
	switch c {
	case ErrorNoMessage:
		return "NO_MESSAGE"
	case ErrorInvalidJSON:
		return "INVALID_JSON"
	case ErrorInvalidElement:
		return "INVALID_ELEMENT"
	default:
		return fmt.Sprintf("UNKNOWN_ERROR_%d", int(c))
	}
}

// RequestError представляет структурированную ошибку валидации сигнального
// запроса. Cause — человекочитаемая причина, она уходит хосту в поле error
// события об ошибке, поэтому текст должен оставаться стабильным.
type RequestError struct {
	Code    RequestErrorCode
	Cause   string
	Field   string // имя поля, провалившего валидацию (пусто для 411/412)
	Wrapped error
}

// Error реализует интерфейс error
func (e *RequestError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[сигналинг:%d] поле %s: %s", int(e.Code), e.Field, e.Cause)
	}
	return fmt.Sprintf("[сигналинг:%d] %s", int(e.Code), e.Cause)
}

// Unwrap возвращает обернутую ошибку для errors.Unwrap
func (e *RequestError) Unwrap() error {
	return e.Wrapped
}

// Is проверяет соответствие ошибки по коду
func (e *RequestError) Is(target error) bool {
	if t, ok := target.(*RequestError); ok {
		return e.Code == t.Code
	}
	return false
}

// NewRequestError создает новую ошибку валидации запроса
func NewRequestError(code RequestErrorCode, cause string) *RequestError {
	return &RequestError{
		Code:  code,
		Cause: cause,
	}
}

// NewFieldError создает ошибку валидации конкретного поля запроса
func NewFieldError(field, cause string) *RequestError {
	return &RequestError{
		Code:  ErrorInvalidElement,
		Cause: cause,
		Field: field,
	}
}

// WrapRequestError оборачивает существующую ошибку кодом валидации
func WrapRequestError(code RequestErrorCode, cause string, err error) *RequestError {
	return &RequestError{
		Code:    code,
		Cause:   cause,
		Wrapped: err,
	}
}

// AsRequestError извлекает RequestError из цепочки ошибок
func AsRequestError(err error) (*RequestError, bool) {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr, true
	}
	return nil, false
}

// HasErrorCode проверяет, несет ли цепочка ошибок указанный код
func HasErrorCode(err error, code RequestErrorCode) bool {
	if reqErr, ok := AsRequestError(err); ok {
		return reqErr.Code == code
	}
	return false
}
