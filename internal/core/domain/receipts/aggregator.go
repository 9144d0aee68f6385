// internal/core/domain/receipts/aggregator.go
package receipts

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrLimit - превышен лимит квитанций на заявку
	ErrLimit = errors.New("receipts: limit reached")
	// ErrBankMismatch - квитанция пришла на другой счет, чем предыдущие
	ErrBankMismatch = errors.New("receipts: different bank account")
)

// Receipt - проверенная квитанция в составе заявки
type Receipt struct {
	Amount           decimal.Decimal `json:"amount"`
	BankName         string          `json:"bank_name"`
	AccountNumber    string          `json:"account_number"`
	TransactionID    string          `json:"transaction_id,omitempty"`
	TransactionDate  string          `json:"transaction_date,omitempty"`
	MatchedAccountID int             `json:"matched_account_id"`
	FileID           string          `json:"file_id"`
	Confidence       float64         `json:"confidence"`
}

// Aggregator накапливает квитанции одной заявки.
// Инвариант: все квитанции заявки оплачены на один и тот же счет.
type Aggregator struct {
	limit int
}

// NewAggregator создает агрегатор с лимитом квитанций
func NewAggregator(limit int) *Aggregator {
	return &Aggregator{limit: limit}
}

// Add присоединяет квитанцию к списку. Первая квитанция фиксирует счет;
// последующие с другим счетом отклоняются.
func (a *Aggregator) Add(list []Receipt, r Receipt) ([]Receipt, error) {
	if len(list) >= a.limit {
		return list, ErrLimit
	}
	if len(list) > 0 && list[0].MatchedAccountID != r.MatchedAccountID {
		return list, ErrBankMismatch
	}
	return append(list, r), nil
}

// Total возвращает сумму всех квитанций
func Total(list []Receipt) decimal.Decimal {
	total := decimal.Zero
	for _, r := range list {
		total = total.Add(r.Amount)
	}
	return total
}

// Summary рендерит список квитанций для показа пользователю
func Summary(list []Receipt) string {
	var b strings.Builder
	for i, r := range list {
		fmt.Fprintf(&b, "%d. %s", i+1, formatAmount(r.Amount))
		if r.TransactionID != "" {
			fmt.Fprintf(&b, " (ref ...%s)", tail(r.TransactionID, 6))
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Total: %s", formatAmount(Total(list)))
	return b.String()
}

// formatAmount выводит сумму с разделителями тысяч
func formatAmount(d decimal.Decimal) string {
	s := d.StringFixed(0)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}

	var parts []string
	for len(s) > 3 {
		parts = append([]string{s[len(s)-3:]}, parts...)
		s = s[:len(s)-3]
	}
	parts = append([]string{s}, parts...)

	out := strings.Join(parts, ",")
	if neg {
		out = "-" + out
	}
	return out
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
