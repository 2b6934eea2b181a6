package rabbitmq

import (
	"errors"
	"fmt"
)

var (
	// ErrBrokerUnavailable соединение или канал с брокером недоступны
	ErrBrokerUnavailable = errors.New("rabbitmq: broker unavailable")
	// ErrPublishNotConfirmed брокер не подтвердил публикацию (nack или таймаут)
	ErrPublishNotConfirmed = errors.New("rabbitmq: publish not confirmed")
	// ErrUnknownEventType для типа события нет зарегистрированного handler-а / routing key
	ErrUnknownEventType = errors.New("rabbitmq: unknown event type")
)

// permanentError помечает ошибку handler-а как неповторяемую
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent оборачивает ошибку: consumer не будет ретраить и сразу отправит сообщение в DLQ
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent сообщает, помечена ли ошибка как неповторяемая
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// ProcessingError ошибка обработки, с которой сообщение уходит в DLQ
type ProcessingError struct {
	Message  string
	Attempts int
	Err      error
}

func (e *ProcessingError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }
