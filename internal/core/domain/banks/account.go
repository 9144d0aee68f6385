// internal/core/domain/banks/account.go
package banks

import (
	"fmt"

	"thb-mmk-exchange-bot/internal/core/domain/exchange"
)

// Account - банковский счет обменного пункта
type Account struct {
	ID            int               `json:"id"`
	BankName      string            `json:"bank_name"`
	AccountNumber string            `json:"account_number"`
	AccountName   string            `json:"account_name"`
	Currency      exchange.Currency `json:"currency"`
	QRCodeURL     string            `json:"qr_code_url,omitempty"`
	Active        bool              `json:"active"`
}

// DisplayName возвращает строку для кнопок и уведомлений
func (a Account) DisplayName() string {
	return fmt.Sprintf("%s (%s)", a.BankName, a.AccountName)
}

// Details возвращает реквизиты для показа пользователю
func (a Account) Details() string {
	return fmt.Sprintf("🏦 %s\n💳 %s\n👤 %s", a.BankName, a.AccountNumber, a.AccountName)
}
