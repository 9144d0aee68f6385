// internal/core/domain/staff/handler.go
package staff

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"thb-mmk-exchange-bot/internal/core/domain/exchange"
	"thb-mmk-exchange-bot/internal/core/domain/orders"
	"thb-mmk-exchange-bot/pkg/logger"
)

// BalanceDelta - знаковое изменение балансов по заявке
type BalanceDelta struct {
	OrderID        string          `json:"order_id"`
	ThaiBankID     int             `json:"thai_bank_id"`
	MyanmarBankID  int             `json:"myanmar_bank_id"`
	ThaiChange     decimal.Decimal `json:"thai_change"`
	MyanmarChange  decimal.Decimal `json:"myanmar_change"`
	IdempotencyKey string          `json:"idempotency_key"`
}

// OrdersAPI - операции бэкенда, нужные оператору
type OrdersAPI interface {
	GetOrder(ctx context.Context, id string) (orders.Order, error)
	UpdateOrderStatus(ctx context.Context, id string, status orders.Status, note string) error
	ConfirmReceipt(ctx context.Context, id string) error
	UpdateBalance(ctx context.Context, delta BalanceDelta) error
}

// AmountReader читает сумму с фото квитанции о выплате
type AmountReader interface {
	ExtractAmount(ctx context.Context, image []byte, mimeType string) (decimal.Decimal, error)
}

// FileDownloader скачивает файл из Telegram
type FileDownloader interface {
	Download(ctx context.Context, fileID string) ([]byte, string, error)
}

// Notifier рассылает итоги обработки
type Notifier interface {
	NotifyUser(ctx context.Context, userID int64, text string) error
	NotifyStaff(ctx context.Context, text string) error
}

// SettleAccount возвращает счет, с которого выплачивается валюта
type SettleAccount func(cur exchange.Currency) (id int, ok bool)

// Reply - ответ оператора на уведомление о заявке
type Reply struct {
	RepliedText string // текст уведомления, на которое ответили
	Text        string
	PhotoFileID string
	OperatorID  int64
}

// Handler обрабатывает ответы операторов в служебной группе.
// Правило: любая неоднозначность останавливает обработку и зовет
// человека, никаких догадок.
type Handler struct {
	api       OrdersAPI
	reader    AmountReader
	files     FileDownloader
	notifier  Notifier
	settleAcc SettleAccount
}

// NewHandler создает обработчик ответов операторов
func NewHandler(api OrdersAPI, reader AmountReader, files FileDownloader, notifier Notifier, settleAcc SettleAccount) *Handler {
	return &Handler{
		api:       api,
		reader:    reader,
		files:     files,
		notifier:  notifier,
		settleAcc: settleAcc,
	}
}

// Handle разбирает ответ оператора и выполняет его
func (h *Handler) Handle(ctx context.Context, reply Reply) error {
	orderID, ok := ExtractOrderID(reply.RepliedText)
	if !ok {
		return h.askHuman(ctx, "⚠️ Could not find an order number in the replied message. Please handle this manually.")
	}

	kind, note := ClassifyReply(reply.Text, reply.PhotoFileID)

	switch kind {
	case ReplySettle:
		return h.settle(ctx, orderID, reply)
	case ReplyReject:
		return h.finalize(ctx, orderID, orders.StatusRejected, note,
			fmt.Sprintf("❌ Your order %s was rejected.", orderID))
	case ReplyComplain:
		return h.finalize(ctx, orderID, orders.StatusComplain, note,
			fmt.Sprintf("⚠️ There is an issue with your order %s. Our staff will contact you.", orderID))
	default:
		// Свободный текст в группе не команда: операторы общаются с
		// клиентом через вебхук admin_replied, а не через бота напрямую
		logger.Debug("Staff: свободный ответ по %s пропущен", orderID)
		return nil
	}
}

// settle проводит выплату: читает сумму с фото, сверяет с ожидаемой,
// закрывает заявку и двигает балансы
func (h *Handler) settle(ctx context.Context, orderID string, reply Reply) error {
	order, err := h.api.GetOrder(ctx, orderID)
	if err != nil {
		return h.askHuman(ctx, fmt.Sprintf("⚠️ Order %s: failed to load from backend (%v). Please handle manually.", orderID, err))
	}

	// Защита от повторной доставки: закрытые заявки не трогаем
	if order.Status.IsFinal() {
		logger.Order(orderID, "settle skipped, already final")
		return h.notifier.NotifyStaff(ctx, fmt.Sprintf("ℹ️ Order %s is already %s, nothing to do.", orderID, order.Status))
	}

	image, mimeType, err := h.files.Download(ctx, reply.PhotoFileID)
	if err != nil {
		return h.askHuman(ctx, fmt.Sprintf("⚠️ Order %s: could not download the settlement photo. Please handle manually.", orderID))
	}

	paid, err := h.reader.ExtractAmount(ctx, image, mimeType)
	if err != nil {
		return h.askHuman(ctx, fmt.Sprintf("⚠️ Order %s: could not read the amount from the settlement receipt. Please verify manually.", orderID))
	}

	expected, cur := h.expectedPayout(reply.RepliedText, order)

	if !exchange.WithinTolerance(expected, paid, cur) {
		return h.askHuman(ctx, fmt.Sprintf(
			"⚠️ Order %s: settlement receipt shows %s %s, expected %s %s. Please verify manually.",
			orderID, paid.StringFixed(0), cur, expected.StringFixed(0), cur,
		))
	}

	if err := h.api.ConfirmReceipt(ctx, orderID); err != nil {
		return h.askHuman(ctx, fmt.Sprintf("⚠️ Order %s: receipt confirmation failed (%v).", orderID, err))
	}

	if err := h.api.UpdateOrderStatus(ctx, orderID, orders.StatusComplete, ""); err != nil {
		return h.askHuman(ctx, fmt.Sprintf("⚠️ Order %s: failed to mark complete (%v).", orderID, err))
	}

	if err := h.api.UpdateBalance(ctx, h.balanceDelta(order, paid)); err != nil {
		// Статус уже сменен: балансы придется двинуть руками
		return h.askHuman(ctx, fmt.Sprintf("⚠️ Order %s is complete but the balance update failed (%v). Please adjust balances manually.", orderID, err))
	}

	logger.Order(orderID, "settled")
	return h.notifier.NotifyUser(ctx, order.UserID,
		fmt.Sprintf("✅ Your order %s is complete. %s %s has been sent to your account. Thank you!",
			orderID, paid.StringFixed(0), cur))
}

// expectedPayout берет ожидаемую сумму из строки котировки уведомления,
// при ее отсутствии - из самой заявки
func (h *Handler) expectedPayout(repliedText string, order orders.Order) (decimal.Decimal, exchange.Currency) {
	if exp, ok := ParseExpected(repliedText); ok {
		return exp.Amount, exp.Currency
	}
	return order.AmountReceived, order.SettleCurrency()
}

// balanceDelta собирает знаковые изменения балансов.
// Покупка: THB пришли от клиента, MMK ушли клиенту. Продажа наоборот.
func (h *Handler) balanceDelta(order orders.Order, paid decimal.Decimal) BalanceDelta {
	delta := BalanceDelta{
		OrderID:        order.ID,
		IdempotencyKey: uuid.NewString(),
	}

	if order.Direction == orders.Buy {
		delta.ThaiBankID = order.PaymentBankID
		if id, ok := h.settleAcc(exchange.MMK); ok {
			delta.MyanmarBankID = id
		}
		delta.ThaiChange = order.AmountSent
		delta.MyanmarChange = paid.Neg()
	} else {
		delta.MyanmarBankID = order.PaymentBankID
		if id, ok := h.settleAcc(exchange.THB); ok {
			delta.ThaiBankID = id
		}
		delta.MyanmarChange = order.AmountSent
		delta.ThaiChange = paid.Neg()
	}

	return delta
}

// finalize переводит заявку в терминальный статус и уведомляет клиента
func (h *Handler) finalize(ctx context.Context, orderID string, status orders.Status, note, userText string) error {
	order, err := h.api.GetOrder(ctx, orderID)
	if err != nil {
		return h.askHuman(ctx, fmt.Sprintf("⚠️ Order %s: failed to load from backend (%v).", orderID, err))
	}
	if order.Status.IsFinal() {
		return h.notifier.NotifyStaff(ctx, fmt.Sprintf("ℹ️ Order %s is already %s, nothing to do.", orderID, order.Status))
	}

	if err := h.api.UpdateOrderStatus(ctx, orderID, status, note); err != nil {
		return h.askHuman(ctx, fmt.Sprintf("⚠️ Order %s: status update failed (%v).", orderID, err))
	}

	logger.Order(orderID, string(status))
	if note != "" {
		userText += "\nReason: " + note
	}
	return h.notifier.NotifyUser(ctx, order.UserID, userText)
}

func (h *Handler) askHuman(ctx context.Context, text string) error {
	logger.Warn("Staff: %s", text)
	return h.notifier.NotifyStaff(ctx, text)
}
