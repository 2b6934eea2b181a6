package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultTelegramAPI = "https://api.telegram.org"

// TelegramSender отправляет уведомления в чат через Telegram Bot API
type TelegramSender struct {
	logger *zap.Logger
	chatID string
	apiURL string
	client *http.Client
}

// NewTelegramSender создаёт sender; baseURL пустой - официальный API
func NewTelegramSender(logger *zap.Logger, baseURL, botToken, chatID string) *TelegramSender {
	if baseURL == "" {
		baseURL = defaultTelegramAPI
	}
	return &TelegramSender{
		logger: logger,
		chatID: chatID,
		apiURL: strings.TrimRight(baseURL, "/") + "/bot" + botToken,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Send отправляет subject и body одним сообщением
func (s *TelegramSender) Send(ctx context.Context, msg Message) error {
	text := msg.Body
	if msg.Subject != "" {
		text = msg.Subject + "\n\n" + msg.Body
	}

	jsonData, err := json.Marshal(map[string]string{
		"chat_id": s.chatID,
		"text":    text,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL+"/sendMessage", bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	// При не-200 читаем тело ответа для диагностики и не декодируем JSON
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("telegram API status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	// {"ok": true, "result": {...}} или {"ok": false, "description": "Bad Request: chat not found"}
	var result telegramResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if !result.OK {
		return fmt.Errorf("telegram API error: %s", result.Description)
	}

	s.logger.Debug("telegram message sent successfully",
		zap.String("chat_id", s.chatID),
	)
	return nil
}
