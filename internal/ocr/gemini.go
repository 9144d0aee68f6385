// internal/ocr/gemini.go
package ocr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/shopspring/decimal"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"thb-mmk-exchange-bot/pkg/logger"
	"thb-mmk-exchange-bot/pkg/retry"
)

const receiptPrompt = `You are a bank receipt reader for a THB/MMK currency exchange.
Read the payment receipt image and return ONLY a JSON object:
{
  "amount": "<transferred amount, digits and optional decimal point>",
  "bank_name": "<receiving bank name as printed>",
  "account_number": "<receiving account number, keep masked digits as x>",
  "account_name": "<receiving account holder name>",
  "transaction_date": "<date as printed>",
  "transaction_id": "<reference or transaction number>",
  "confidence": <0.0-1.0 overall reading confidence>
}
If the image is not a bank transfer receipt, return:
{"amount": "0", "bank_name": "NOT_A_RECEIPT", "account_number": "INVALID", "account_name": "", "transaction_date": "", "transaction_id": "", "confidence": 0}`

const amountPrompt = `Read the bank transfer receipt image and return ONLY a JSON object
with the transferred amount: {"amount": "<digits with optional decimal point>"}.
If no amount is readable, return {"amount": "0"}.`

// Gemini - распознаватель квитанций поверх Gemini Vision
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
	policy retry.Policy
}

// NewGemini создает распознаватель. Закрывать через Close.
func NewGemini(ctx context.Context, apiKey, modelName string, policy retry.Policy) (*Gemini, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.ResponseMIMEType = "application/json"

	return &Gemini{
		client: client,
		model:  model,
		policy: policy,
	}, nil
}

// Close закрывает соединение с API
func (g *Gemini) Close() error {
	return g.client.Close()
}

// Extract извлекает полные реквизиты из фото квитанции
func (g *Gemini) Extract(ctx context.Context, image []byte, mimeType string) (Receipt, error) {
	raw, err := g.generate(ctx, receiptPrompt, image, mimeType)
	if err != nil {
		return Receipt{}, err
	}

	var payload struct {
		Amount          string  `json:"amount"`
		BankName        string  `json:"bank_name"`
		AccountNumber   string  `json:"account_number"`
		AccountName     string  `json:"account_name"`
		TransactionDate string  `json:"transaction_date"`
		TransactionID   string  `json:"transaction_id"`
		Confidence      float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		logger.Warn("OCR: некорректный JSON от модели: %v", err)
		return Receipt{}, fmt.Errorf("%w: bad model response", ErrInvalidImage)
	}

	amount, err := parseAmount(payload.Amount)
	if err != nil {
		amount = decimal.Zero
	}

	r := Receipt{
		Amount:          amount,
		BankName:        payload.BankName,
		AccountNumber:   payload.AccountNumber,
		AccountName:     payload.AccountName,
		TransactionDate: payload.TransactionDate,
		TransactionID:   payload.TransactionID,
		Confidence:      payload.Confidence,
	}

	if !r.IsReceipt() {
		return r, ErrNotAReceipt
	}
	return r, nil
}

// ExtractAmount извлекает только сумму с квитанции
func (g *Gemini) ExtractAmount(ctx context.Context, image []byte, mimeType string) (decimal.Decimal, error) {
	raw, err := g.generate(ctx, amountPrompt, image, mimeType)
	if err != nil {
		return decimal.Zero, err
	}

	var payload struct {
		Amount string `json:"amount"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return decimal.Zero, fmt.Errorf("%w: bad model response", ErrInvalidImage)
	}

	return parseAmount(payload.Amount)
}

// generate вызывает модель с повторами по временным ошибкам
func (g *Gemini) generate(ctx context.Context, prompt string, image []byte, mimeType string) (string, error) {
	if len(image) == 0 {
		return "", ErrInvalidImage
	}
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	var raw string
	attempt := 0

	// Лимит запросов отпускается медленнее таймаута, поэтому темп
	// отступления выбирается по классу ошибки
	err := g.policy.DoWith(ctx, func(ctx context.Context) error {
		attempt++
		resp, err := g.model.GenerateContent(ctx,
			genai.Text(prompt),
			genai.Blob{MIMEType: mimeType, Data: image},
		)
		if err != nil {
			classified := classify(err)
			if Retryable(classified) {
				logger.Warn("OCR: временная ошибка (попытка %d): %v", attempt, err)
			}
			return classified
		}

		if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
			return fmt.Errorf("%w: empty response", ErrInvalidImage)
		}

		for _, part := range resp.Candidates[0].Content.Parts {
			if text, ok := part.(genai.Text); ok {
				raw = stripCodeFence(string(text))
				return nil
			}
		}
		return fmt.Errorf("%w: no text part", ErrInvalidImage)
	}, Retryable, BackoffMultiplier)

	return raw, err
}

// classify переводит ошибку API в доменный класс
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 429:
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		case apiErr.Code >= 500:
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		case apiErr.Code == 400:
			return fmt.Errorf("%w: %v", ErrInvalidImage, err)
		}
	}

	// Неопознанные ошибки транспорта считаем временными
	return fmt.Errorf("%w: %v", ErrTimeout, err)
}

// stripCodeFence убирает markdown-ограждение, которое модель иногда добавляет
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// parseAmount разбирает сумму, терпимо к запятым-разделителям
func parseAmount(s string) (decimal.Decimal, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return decimal.Zero, fmt.Errorf("%w: empty amount", ErrInvalidImage)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: amount %q", ErrInvalidImage, s)
	}
	return d, nil
}
