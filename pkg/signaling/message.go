package signaling

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/looplab/fsm"

	"github.com/arzzra/iot_bridge/pkg/session"
)

// Состояния обработки сигнального сообщения
const (
	StateReceived       = "received"
	StateValidated      = "validated"
	StateApplied        = "applied"
	StateResponded      = "responded"
	StateInvalid        = "invalid"
	StateErrorResponded = "error_responded"
)

// События переходов конечного автомата сообщения
const (
	eventValidate     = "validate"
	eventReject       = "reject"
	eventApply        = "apply"
	eventRespond      = "respond"
	eventRespondError = "respond_error"
)

// Message представляет единицу работы конвейера: ссылку на сессию,
// идентификатор транзакции хоста, сырое тело запроса и опциональный
// negotiation payload. Сообщение принадлежит очереди до момента
// извлечения воркером.
//
// КРИТИЧНО: Session хранится вместе с HandleID — числовой идентификатор
// может быть переиспользован хостом для новой сессии, поэтому воркер
// обязан сверять совпадение самого объекта, а не только идентификатора.
type Message struct {
	Session     *session.Session
	HandleID    session.HandleID
	Transaction string
	Payload     json.RawMessage
	Jsep        *Negotiation

	fsm *fsm.FSM
}

// shutdownMessage — сентинел завершения конвейера. Помещается в очередь
// ровно один раз при остановке; воркер, извлекший его, выходит не разбирая
// оставшиеся сообщения.
var shutdownMessage = &Message{}

// NewMessage создает сообщение в состоянии received
func NewMessage(sess *session.Session, id session.HandleID, transaction string, payload json.RawMessage, jsep *Negotiation) *Message {
	m := &Message{
		Session:     sess,
		HandleID:    id,
		Transaction: transaction,
		Payload:     payload,
		Jsep:        jsep,
	}
	m.fsm = fsm.NewFSM(
		StateReceived,
		fsm.Events{
			{Name: eventValidate, Src: []string{StateReceived}, Dst: StateValidated},
			{Name: eventReject, Src: []string{StateReceived}, Dst: StateInvalid},
			{Name: eventApply, Src: []string{StateValidated}, Dst: StateApplied},
			{Name: eventRespond, Src: []string{StateApplied}, Dst: StateResponded},
			{Name: eventRespondError, Src: []string{StateInvalid}, Dst: StateErrorResponded},
		},
		fsm.Callbacks{
			"after_event": m.handleStateChange,
		},
	)
	return m
}

// handleStateChange логирует переходы состояния сообщения
func (m *Message) handleStateChange(_ context.Context, e *fsm.Event) {
	slog.Debug("signaling.Message state changed",
		slog.Uint64("handle_id", uint64(m.HandleID)),
		slog.String("transaction", m.Transaction),
		slog.String("from", e.Src),
		slog.String("to", e.Dst),
	)
}

// IsShutdown сообщает, является ли сообщение сентинелом завершения
func (m *Message) IsShutdown() bool {
	return m == shutdownMessage
}

// State возвращает текущее состояние обработки сообщения
func (m *Message) State() string {
	if m.fsm == nil {
		return ""
	}
	return m.fsm.Current()
}

// MarkValidated переводит сообщение received → validated
func (m *Message) MarkValidated(ctx context.Context) error {
	return m.fsm.Event(ctx, eventValidate)
}

// MarkRejected переводит сообщение received → invalid
func (m *Message) MarkRejected(ctx context.Context) error {
	return m.fsm.Event(ctx, eventReject)
}

// MarkApplied переводит сообщение validated → applied
func (m *Message) MarkApplied(ctx context.Context) error {
	return m.fsm.Event(ctx, eventApply)
}

// MarkResponded переводит сообщение applied → responded
func (m *Message) MarkResponded(ctx context.Context) error {
	return m.fsm.Event(ctx, eventRespond)
}

// MarkErrorResponded переводит сообщение invalid → error_responded
func (m *Message) MarkErrorResponded(ctx context.Context) error {
	return m.fsm.Event(ctx, eventRespondError)
}
