package service

import "errors"

// ErrInvalidEvent событие нельзя обработать никогда (неизвестный статус, нет order id)
var ErrInvalidEvent = errors.New("invalid event")
