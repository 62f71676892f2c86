package session

import (
	"errors"
	"fmt"
)

// StoreErrorCode представляет числовые коды ошибок хранилища сессий
type StoreErrorCode int

const (
	// ErrorCodeStoreClosed — хранилище закрыто или останавливается
	ErrorCodeStoreClosed StoreErrorCode = iota + 2000
	// ErrorCodeSessionExists — идентификатор уже занят живой сессией
	ErrorCodeSessionExists
	// ErrorCodeSessionNotFound — живая сессия с таким идентификатором не найдена
	ErrorCodeSessionNotFound
	// ErrorCodeInvalidHandle — идентификатор зарезервирован и не может адресовать сессию
	ErrorCodeInvalidHandle
)

// String возвращает строковое представление кода ошибки
func (c StoreErrorCode) String() string {
	switch c {
	case ErrorCodeStoreClosed:
		return "STORE_CLOSED"
	case ErrorCodeSessionExists:
		return "SESSION_EXISTS"
	case ErrorCodeSessionNotFound:
		return "SESSION_NOT_FOUND"
	case ErrorCodeInvalidHandle:
		return "INVALID_HANDLE"
	default:
		return fmt.Sprintf("UNKNOWN_ERROR_%d", int(c))
	}
}

// StoreError представляет структурированную ошибку хранилища сессий
type StoreError struct {
	Code    StoreErrorCode
	Message string
	Handle  HandleID
	Wrapped error
}

// Error реализует интерфейс error
func (e *StoreError) Error() string {
	if e.Handle != 0 {
		return fmt.Sprintf("[сессии:%d] handle %d: %s", int(e.Code), uint64(e.Handle), e.Message)
	}
	return fmt.Sprintf("[сессии:%d] %s", int(e.Code), e.Message)
}

// Unwrap возвращает обернутую ошибку
func (e *StoreError) Unwrap() error {
	return e.Wrapped
}

// Is проверяет соответствие ошибки по коду
func (e *StoreError) Is(target error) bool {
	if t, ok := target.(*StoreError); ok {
		return e.Code == t.Code
	}
	return false
}

// Базовые ошибки хранилища для errors.Is проверок
var (
	ErrStoreClosed     = &StoreError{Code: ErrorCodeStoreClosed, Message: "хранилище сессий закрыто"}
	ErrSessionExists   = &StoreError{Code: ErrorCodeSessionExists, Message: "сессия уже существует"}
	ErrSessionNotFound = &StoreError{Code: ErrorCodeSessionNotFound, Message: "сессия не найдена"}
	ErrInvalidHandle   = &StoreError{Code: ErrorCodeInvalidHandle, Message: "недопустимый идентификатор сессии"}
)

// NewStoreError создает ошибку хранилища, привязанную к идентификатору
func NewStoreError(code StoreErrorCode, message string, handle HandleID) *StoreError {
	return &StoreError{
		Code:    code,
		Message: message,
		Handle:  handle,
	}
}

// AsStoreError извлекает StoreError из цепочки ошибок
func AsStoreError(err error) (*StoreError, bool) {
	var storeErr *StoreError
	if errors.As(err, &storeErr) {
		return storeErr, true
	}
	return nil, false
}
