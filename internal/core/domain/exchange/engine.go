// internal/core/domain/exchange/engine.go
package exchange

import (
	"github.com/shopspring/decimal"
)

// Currency - валюта операции
type Currency string

const (
	THB Currency = "THB"
	MMK Currency = "MMK"
)

// Допуски сверки сумм по валютам (включительно)
var (
	ToleranceMMK = decimal.NewFromInt(1000)
	ToleranceTHB = decimal.NewFromInt(35)
)

// Операторы пересчета. Какой применен — зависит от величины курса,
// а не от направления сделки: курс < 1 хранится в обратной записи.
const (
	OpMultiply = "×"
	OpDivide   = "÷"
)

// Conversion - результат пересчета с зафиксированным оператором
type Conversion struct {
	Amount   decimal.Decimal // полученная сумма
	Rate     decimal.Decimal // применённый курс
	Operator string          // × или ÷
}

// Engine - движок пересчета THB↔MMK
type Engine struct {
	buyRate  decimal.Decimal // покупка: 1 THB = buyRate MMK
	sellRate decimal.Decimal // продажа: sellRate MMK = 1 THB
}

// NewEngine создает движок пересчета
func NewEngine(buyRate, sellRate decimal.Decimal) *Engine {
	return &Engine{buyRate: buyRate, sellRate: sellRate}
}

// BuyRate возвращает текущий курс покупки
func (e *Engine) BuyRate() decimal.Decimal { return e.buyRate }

// SellRate возвращает текущий курс продажи
func (e *Engine) SellRate() decimal.Decimal { return e.sellRate }

// QuoteBuy пересчитывает THB в MMK по курсу покупки.
// Результат округляется вверх до сотни кьят.
func (e *Engine) QuoteBuy(thb decimal.Decimal) Conversion {
	raw, op := apply(thb, e.buyRate)
	return Conversion{
		Amount:   RoundUpTo100(raw),
		Rate:     e.buyRate,
		Operator: op,
	}
}

// QuoteSell пересчитывает MMK в THB по курсу продажи
func (e *Engine) QuoteSell(mmk decimal.Decimal) Conversion {
	raw, op := applyInverse(mmk, e.sellRate)
	return Conversion{
		Amount:   raw.Round(2),
		Rate:     e.sellRate,
		Operator: op,
	}
}

// apply умножает при курсе >= 1 и делит при курсе < 1 (обратная запись)
func apply(amount, rate decimal.Decimal) (decimal.Decimal, string) {
	if rate.LessThan(decimal.NewFromInt(1)) {
		return amount.Div(rate), OpDivide
	}
	return amount.Mul(rate), OpMultiply
}

// applyInverse делит при курсе >= 1 и умножает при курсе < 1
func applyInverse(amount, rate decimal.Decimal) (decimal.Decimal, string) {
	if rate.LessThan(decimal.NewFromInt(1)) {
		return amount.Mul(rate), OpMultiply
	}
	return amount.Div(rate), OpDivide
}

// RoundUpTo100 округляет сумму вверх до ближайшей сотни
func RoundUpTo100(d decimal.Decimal) decimal.Decimal {
	hundred := decimal.NewFromInt(100)
	return d.Div(hundred).Ceil().Mul(hundred)
}

// Tolerance возвращает допуск сверки для валюты
func Tolerance(c Currency) decimal.Decimal {
	if c == THB {
		return ToleranceTHB
	}
	return ToleranceMMK
}

// WithinTolerance проверяет попадание actual в допуск вокруг expected.
// Границы включаются.
func WithinTolerance(expected, actual decimal.Decimal, c Currency) bool {
	diff := expected.Sub(actual).Abs()
	return diff.LessThanOrEqual(Tolerance(c))
}
