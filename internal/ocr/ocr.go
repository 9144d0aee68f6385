// internal/ocr/ocr.go
package ocr

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// Значения-маркеры: модель возвращает их, когда на фото не квитанция
const (
	NotAReceiptBank   = "NOT_A_RECEIPT"
	InvalidAccountNum = "INVALID"
)

// Терминальные ошибки: повтор не поможет
var (
	ErrInvalidImage = errors.New("ocr: invalid image")
	ErrNotAReceipt  = errors.New("ocr: not a receipt")
)

// Временные ошибки: повтор с отступлением имеет смысл
var (
	ErrRateLimited = errors.New("ocr: rate limited")
	ErrTimeout     = errors.New("ocr: timeout")
)

// Множители отступления по классам ошибок
const (
	RateLimitBackoff = 3.0
	TimeoutBackoff   = 2.0
)

// Receipt - распознанные реквизиты квитанции
type Receipt struct {
	Amount          decimal.Decimal `json:"amount"`
	BankName        string          `json:"bank_name"`
	AccountNumber   string          `json:"account_number"`
	AccountName     string          `json:"account_name"`
	TransactionDate string          `json:"transaction_date,omitempty"`
	TransactionID   string          `json:"transaction_id,omitempty"`
	Confidence      float64         `json:"confidence"`
}

// IsReceipt сообщает, распознала ли модель квитанцию
func (r Receipt) IsReceipt() bool {
	return r.BankName != NotAReceiptBank && r.AccountNumber != InvalidAccountNum
}

// Extractor - интерфейс распознавания квитанций
type Extractor interface {
	// Extract извлекает полные реквизиты из фото квитанции
	Extract(ctx context.Context, image []byte, mimeType string) (Receipt, error)
	// ExtractAmount извлекает только сумму (квитанция оператора о выплате)
	ExtractAmount(ctx context.Context, image []byte, mimeType string) (decimal.Decimal, error)
}

// Retryable сообщает, имеет ли смысл повторять распознавание
func Retryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTimeout)
}

// BackoffMultiplier возвращает множитель отступления для класса ошибки
func BackoffMultiplier(err error) float64 {
	if errors.Is(err, ErrRateLimited) {
		return RateLimitBackoff
	}
	return TimeoutBackoff
}
