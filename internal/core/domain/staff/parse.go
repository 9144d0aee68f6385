// internal/core/domain/staff/parse.go
package staff

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"thb-mmk-exchange-bot/internal/core/domain/exchange"
)

// Номер заявки ищется в тексте уведомления по убыванию строгости:
// сначала отдельная первая строка, затем строка "Order:", затем где угодно.
var (
	reIDFirstLine = regexp.MustCompile(`^(\d{6}A\d{4}[BS])`)
	reIDOrderLine = regexp.MustCompile(`(?i)Order:\s*(\d{6}A\d{4}[BS])`)
	reIDAnywhere  = regexp.MustCompile(`\d{6}A\d{4}[BS]`)
)

// Строка котировки в уведомлении: "Buy 1,000 × 125.78 = 125,800"
// или "Sell 125,800 ÷ 125.78 = 1,000"
var (
	reBuyLine  = regexp.MustCompile(`Buy\s+([\d,]+(?:\.\d+)?)\s*[x×]\s*([\d,]+(?:\.\d+)?)\s*=\s*([\d,]+(?:\.\d+)?)`)
	reSellLine = regexp.MustCompile(`Sell\s+([\d,]+(?:\.\d+)?)\s*[÷/]\s*([\d,]+(?:\.\d+)?)\s*=\s*([\d,]+(?:\.\d+)?)`)
)

// Префиксы текстовых ответов оператора
const (
	rejectPrefix   = "reject:"
	complainPrefix = "complain:"
)

// ExtractOrderID извлекает номер заявки из текста уведомления
func ExtractOrderID(text string) (string, bool) {
	if text == "" {
		return "", false
	}

	firstLine := text
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		firstLine = text[:i]
	}
	if m := reIDFirstLine.FindStringSubmatch(strings.TrimSpace(firstLine)); m != nil {
		return m[1], true
	}
	if m := reIDOrderLine.FindStringSubmatch(text); m != nil {
		return m[1], true
	}
	if m := reIDAnywhere.FindString(text); m != "" {
		return m, true
	}
	return "", false
}

// Expected - ожидаемая сумма выплаты, разобранная из строки котировки
type Expected struct {
	Amount   decimal.Decimal
	Currency exchange.Currency
}

// ParseExpected извлекает ожидаемую выплату из текста уведомления.
// Покупка выплачивается в MMK, продажа - в THB.
func ParseExpected(text string) (Expected, bool) {
	if m := reBuyLine.FindStringSubmatch(text); m != nil {
		if amount, err := parseNumber(m[3]); err == nil {
			return Expected{Amount: amount, Currency: exchange.MMK}, true
		}
	}
	if m := reSellLine.FindStringSubmatch(text); m != nil {
		if amount, err := parseNumber(m[3]); err == nil {
			return Expected{Amount: amount, Currency: exchange.THB}, true
		}
	}
	return Expected{}, false
}

// ReplyKind - тип ответа оператора
type ReplyKind int

const (
	ReplyUnknown ReplyKind = iota
	ReplySettle            // фото квитанции о выплате
	ReplyReject
	ReplyComplain
)

// ClassifyReply определяет тип ответа и извлекает текст после префикса
func ClassifyReply(text, photoFileID string) (ReplyKind, string) {
	if photoFileID != "" {
		return ReplySettle, ""
	}

	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)

	if strings.HasPrefix(lower, rejectPrefix) {
		return ReplyReject, strings.TrimSpace(trimmed[len(rejectPrefix):])
	}
	if strings.HasPrefix(lower, complainPrefix) {
		return ReplyComplain, strings.TrimSpace(trimmed[len(complainPrefix):])
	}
	return ReplyUnknown, ""
}

func parseNumber(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(strings.ReplaceAll(s, ",", ""))
}
