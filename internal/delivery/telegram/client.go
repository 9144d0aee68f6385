// internal/delivery/telegram/client.go
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"thb-mmk-exchange-bot/pkg/logger"
)

// ErrBlocked - пользователь заблокировал бота
var ErrBlocked = errors.New("telegram: bot blocked by user")

// Client - клиент Telegram Bot API
type Client struct {
	httpClient *http.Client
	apiBase    string
	fileBase   string
	limiter    *RateLimiter
}

// NewClient создает клиент Bot API
func NewClient(token string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		apiBase:    "https://api.telegram.org/bot" + token,
		fileBase:   "https://api.telegram.org/file/bot" + token,
		limiter:    NewRateLimiter(50 * time.Millisecond),
	}
}

// SendMessageParams - параметры отправки текста
type SendMessageParams struct {
	ChatID          int64                 `json:"chat_id"`
	Text            string                `json:"text"`
	MessageThreadID int                   `json:"message_thread_id,omitempty"`
	ReplyMarkup     *InlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

// SendMessage отправляет текстовое сообщение
func (c *Client) SendMessage(ctx context.Context, params SendMessageParams) (int, error) {
	if err := c.throttle(ctx, params.ChatID); err != nil {
		return 0, err
	}

	var msg Message
	if err := c.call(ctx, "sendMessage", params, &msg); err != nil {
		return 0, err
	}
	return msg.MessageID, nil
}

// throttle притормаживает отправку в один чат, чтобы не ловить 429.
// Отмена контекста прерывает ожидание.
func (c *Client) throttle(ctx context.Context, chatID int64) error {
	key := strconv.FormatInt(chatID, 10)
	if c.limiter.CanSend(key) {
		return nil
	}

	timer := time.NewTimer(c.limiter.minDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SendPhotoParams - параметры отправки фото.
// Photo принимает file_id или URL.
type SendPhotoParams struct {
	ChatID          int64                 `json:"chat_id"`
	Photo           string                `json:"photo"`
	Caption         string                `json:"caption,omitempty"`
	MessageThreadID int                   `json:"message_thread_id,omitempty"`
	ReplyMarkup     *InlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

// SendPhoto отправляет фото по file_id или URL
func (c *Client) SendPhoto(ctx context.Context, params SendPhotoParams) (int, error) {
	if err := c.throttle(ctx, params.ChatID); err != nil {
		return 0, err
	}

	var msg Message
	if err := c.call(ctx, "sendPhoto", params, &msg); err != nil {
		return 0, err
	}
	return msg.MessageID, nil
}

// AnswerCallbackQuery подтверждает нажатие кнопки
func (c *Client) AnswerCallbackQuery(ctx context.Context, callbackID, text string) error {
	payload := map[string]string{"callback_query_id": callbackID}
	if text != "" {
		payload["text"] = text
	}
	return c.call(ctx, "answerCallbackQuery", payload, nil)
}

// SetWebhook регистрирует вебхук с секретным токеном
func (c *Client) SetWebhook(ctx context.Context, url, secret string) error {
	payload := map[string]interface{}{
		"url":             url,
		"secret_token":    secret,
		"allowed_updates": []string{"message", "callback_query"},
	}
	if err := c.call(ctx, "setWebhook", payload, nil); err != nil {
		return err
	}
	logger.Info("Telegram: вебхук зарегистрирован на %s", url)
	return nil
}

// DeleteWebhook снимает вебхук
func (c *Client) DeleteWebhook(ctx context.Context) error {
	return c.call(ctx, "deleteWebhook", map[string]bool{"drop_pending_updates": false}, nil)
}

// Download скачивает файл по file_id. Возвращает содержимое и MIME тип.
func (c *Client) Download(ctx context.Context, fileID string) ([]byte, string, error) {
	var file File
	if err := c.call(ctx, "getFile", map[string]string{"file_id": fileID}, &file); err != nil {
		return nil, "", err
	}
	if file.FilePath == "" {
		return nil, "", fmt.Errorf("telegram: empty file_path for %s", fileID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.fileBase+"/"+file.FilePath, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("telegram: file download: %s", resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}
	return data, mimeType, nil
}

// call выполняет метод Bot API и разбирает конверт ответа
func (c *Client) call(ctx context.Context, method string, payload, result interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/"+method, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: %s: %w", method, err)
	}
	defer resp.Body.Close()

	var envelope apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("telegram: %s: decode response: %w", method, err)
	}

	if !envelope.OK {
		// 403 приходит когда клиент заблокировал бота, это не сбой отправителя
		if envelope.ErrorCode == http.StatusForbidden {
			return ErrBlocked
		}
		return fmt.Errorf("telegram: %s: %d %s", method, envelope.ErrorCode, envelope.Description)
	}

	if result == nil || len(envelope.Result) == 0 {
		return nil
	}
	return json.Unmarshal(envelope.Result, result)
}
