// internal/backend/client.go
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"thb-mmk-exchange-bot/internal/core/domain/banks"
	"thb-mmk-exchange-bot/internal/core/domain/orders"
	"thb-mmk-exchange-bot/internal/core/domain/staff"
	"thb-mmk-exchange-bot/pkg/logger"
	"thb-mmk-exchange-bot/pkg/retry"
)

// ErrNotFound - бэкенд не знает такой сущности
var ErrNotFound = errors.New("backend: not found")

// transientError помечает ошибки, по которым имеет смысл повтор
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func isTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// Settings - настройки обменника с бэкенда
type Settings struct {
	Buy             string  `json:"buy"`
	Sell            string  `json:"sell"`
	MaintenanceMode bool    `json:"maintenance_mode"`
	AuthFeature     bool    `json:"auth_feature"`
	AuthorizedIDs   []int64 `json:"authorized_ids,omitempty"`
}

// ReceiptImage - фото квитанции для отправки заявки
type ReceiptImage struct {
	Name string
	Data []byte
}

// Client - REST клиент бэкенда обменника
type Client struct {
	httpClient *http.Client
	baseURL    string
	secret     string
	policy     retry.Policy
}

// NewClient создает клиент бэкенда
func NewClient(baseURL, secret string, timeout time.Duration, policy retry.Policy) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		secret:     secret,
		policy:     policy,
	}
}

// GetSettings запрашивает настройки обменника
func (c *Client) GetSettings(ctx context.Context) (Settings, error) {
	var s Settings
	err := c.getJSON(ctx, "/api/settings/", &s)
	return s, err
}

// GetBanks запрашивает счета обменника по валюте.
// country: "thai" или "myanmar".
func (c *Client) GetBanks(ctx context.Context, country string) ([]banks.Account, error) {
	var accounts []banks.Account
	err := c.getJSON(ctx, "/api/banks/"+country, &accounts)
	return accounts, err
}

// SubmitOrder отправляет заявку с фотографиями квитанций (multipart).
// Бэкенд присваивает номер и возвращает созданную заявку.
func (c *Client) SubmitOrder(ctx context.Context, order orders.Order, images []ReceiptImage) (orders.Order, error) {
	var created orders.Order

	orderJSON, err := json.Marshal(order)
	if err != nil {
		return created, fmt.Errorf("marshal order: %w", err)
	}

	err = c.policy.Do(ctx, func(ctx context.Context) error {
		var body bytes.Buffer
		w := multipart.NewWriter(&body)

		if err := w.WriteField("order", string(orderJSON)); err != nil {
			return err
		}
		for i, img := range images {
			name := img.Name
			if name == "" {
				name = fmt.Sprintf("receipt_%d.jpg", i+1)
			}
			part, err := w.CreateFormFile("receipts", name)
			if err != nil {
				return err
			}
			if _, err := part.Write(img.Data); err != nil {
				return err
			}
		}
		if err := w.Close(); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/orders/submit", &body)
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", w.FormDataContentType())
		req.Header.Set("X-Backend-Secret", c.secret)

		return c.do(req, &created)
	}, isTransient)

	return created, err
}

// LatestPending возвращает последнюю незакрытую заявку пользователя
func (c *Client) LatestPending(ctx context.Context, userID int64) (orders.Order, bool, error) {
	var order orders.Order
	err := c.getJSON(ctx, fmt.Sprintf("/api/orders/latest-pending?user_id=%d", userID), &order)
	if errors.Is(err, ErrNotFound) {
		return order, false, nil
	}
	if err != nil {
		return order, false, err
	}
	return order, true, nil
}

// GetOrder возвращает заявку по номеру
func (c *Client) GetOrder(ctx context.Context, id string) (orders.Order, error) {
	var order orders.Order
	err := c.getJSON(ctx, "/api/orders/"+id, &order)
	return order, err
}

// UpdateOrderStatus меняет статус заявки
func (c *Client) UpdateOrderStatus(ctx context.Context, id string, status orders.Status, note string) error {
	payload := map[string]string{"status": string(status)}
	if note != "" {
		payload["note"] = note
	}
	return c.sendJSON(ctx, http.MethodPatch, "/api/orders/"+id+"/status", payload, nil)
}

// ConfirmReceipt отмечает квитанции заявки проверенными
func (c *Client) ConfirmReceipt(ctx context.Context, id string) error {
	return c.sendJSON(ctx, http.MethodPost, "/api/orders/"+id+"/confirm-receipt", struct{}{}, nil)
}

// UpdateBalance применяет знаковое изменение балансов
func (c *Client) UpdateBalance(ctx context.Context, delta staff.BalanceDelta) error {
	return c.sendJSON(ctx, http.MethodPost, "/api/banks/update-balance", delta, nil)
}

// SubmitMessage пересылает свободное сообщение клиента операторам
func (c *Client) SubmitMessage(ctx context.Context, userID int64, text string) error {
	payload := map[string]interface{}{"user_id": userID, "text": text}
	return c.sendJSON(ctx, http.MethodPost, "/api/message/submit", payload, nil)
}

// ============================================
// ТРАНСПОРТ
// ============================================

func (c *Client) getJSON(ctx context.Context, path string, dest interface{}) error {
	return c.policy.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return err
		}
		req.Header.Set("X-Backend-Secret", c.secret)
		return c.do(req, dest)
	}, isTransient)
}

func (c *Client) sendJSON(ctx context.Context, method, path string, payload, dest interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	return c.policy.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(data))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Backend-Secret", c.secret)
		return c.do(req, dest)
	}, isTransient)
}

// do выполняет запрос и разбирает ответ.
// Сетевые ошибки и 5xx временные, 4xx - нет.
func (c *Client) do(req *http.Request, dest interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Warn("Backend: транспортная ошибка %s %s: %v", req.Method, req.URL.Path, err)
		return &transientError{err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 500:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &transientError{err: fmt.Errorf("backend: %s: %s", resp.Status, body)}
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("backend: %s: %s", resp.Status, body)
	}

	if dest == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}
