// internal/core/domain/orders/order.go
package orders

import (
	"fmt"
	"regexp"
	"time"

	"github.com/shopspring/decimal"

	"thb-mmk-exchange-bot/internal/core/domain/exchange"
)

// Direction - направление сделки
type Direction string

const (
	Buy  Direction = "buy"  // клиент платит THB, получает MMK
	Sell Direction = "sell" // клиент платит MMK, получает THB
)

// Status - статус заявки на бэкенде
type Status string

const (
	StatusPending   Status = "pending"
	StatusComplete  Status = "complete"
	StatusRejected  Status = "rejected"
	StatusComplain  Status = "complain"
	StatusCancelled Status = "cancelled"
)

// IsFinal сообщает, закрыта ли заявка
func (s Status) IsFinal() bool {
	return s == StatusComplete || s == StatusRejected || s == StatusCancelled
}

// IDPattern - формат номера заявки: ДДММГГ, литера A, счетчик, B/S
var IDPattern = regexp.MustCompile(`^\d{6}A\d{4}[BS]$`)

// Order - заявка на обмен
type Order struct {
	ID             string          `json:"id"`
	UserID         int64           `json:"user_id"`
	Username       string          `json:"username,omitempty"`
	Direction      Direction       `json:"direction"`
	Status         Status          `json:"status"`
	AmountSent     decimal.Decimal `json:"amount_sent"`     // что отправил клиент
	AmountReceived decimal.Decimal `json:"amount_received"` // что получит клиент
	Rate           decimal.Decimal `json:"rate"`
	Operator       string          `json:"operator"` // × или ÷
	PaymentBankID  int             `json:"payment_bank_id"`
	UserBankName   string          `json:"user_bank_name,omitempty"`
	AccountNumber  string          `json:"account_number,omitempty"`
	AccountName    string          `json:"account_name,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// SentCurrency возвращает валюту, которую отправляет клиент
func (o Order) SentCurrency() exchange.Currency {
	if o.Direction == Buy {
		return exchange.THB
	}
	return exchange.MMK
}

// ReceivedCurrency возвращает валюту, которую получает клиент
func (o Order) ReceivedCurrency() exchange.Currency {
	if o.Direction == Buy {
		return exchange.MMK
	}
	return exchange.THB
}

// SettleCurrency возвращает валюту, в которой оператор выплачивает заявку
func (o Order) SettleCurrency() exchange.Currency {
	return o.ReceivedCurrency()
}

// GenerateID собирает номер заявки: дата, счетчик дня, литера направления
func GenerateID(now time.Time, seq int, d Direction) string {
	suffix := "B"
	if d == Sell {
		suffix = "S"
	}
	return fmt.Sprintf("%sA%04d%s", now.Format("020106"), seq%10000, suffix)
}
