package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CurrentVersion версия формата конверта
const CurrentVersion = 1

// Envelope конверт события, общий для всех сервисов.
// После публикации не изменяется.
type Envelope struct {
	EventID       string          `json:"eventId"`
	EventType     Type            `json:"eventType"`
	EventVersion  int             `json:"eventVersion"`
	CorrelationID string          `json:"correlationId"` // = order id
	Payload       json.RawMessage `json:"payload"`
	EmittedAt     time.Time       `json:"emittedAt"`
}

// New собирает конверт: сериализует payload, генерирует event id и время эмиссии
func New(eventType Type, correlationID string, payload any) (Envelope, error) {
	if eventType == "" {
		return Envelope{}, &ParseError{Field: "eventType", Message: "eventType is required"}
	}
	if correlationID == "" {
		return Envelope{}, &ParseError{Field: "correlationId", Message: "correlationId is required"}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  CurrentVersion,
		CorrelationID: correlationID,
		Payload:       raw,
		EmittedAt:     time.Now().UTC(),
	}, nil
}

// Encode сериализует конверт в JSON для отправки в брокер
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode разбирает тело сообщения в конверт.
// Возвращает *ParseError если тело не JSON или нет обязательных полей.
func Decode(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, &ParseError{Field: "body", Message: "invalid envelope json: " + err.Error()}
	}
	if env.EventType == "" {
		return env, &ParseError{Field: "eventType", Message: "eventType is required"}
	}
	if env.CorrelationID == "" {
		return env, &ParseError{Field: "correlationId", Message: "correlationId is required"}
	}
	return env, nil
}

// DecodePayload разбирает payload конверта в dst
func DecodePayload(env Envelope, dst any) error {
	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		return &ParseError{Field: "payload", Message: "payload is required"}
	}
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		return &ParseError{Field: "payload", Message: fmt.Sprintf("invalid %s payload: %v", env.EventType, err)}
	}
	return nil
}

// ParseError ошибка разбора события (poison message, ретраи не помогут)
type ParseError struct {
	Field   string
	Message string
}

func (e *ParseError) Error() string {
	return e.Message
}
