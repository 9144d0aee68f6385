// internal/notify/notify.go
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"thb-mmk-exchange-bot/internal/core/domain/orders"
	"thb-mmk-exchange-bot/internal/delivery/telegram"
	"thb-mmk-exchange-bot/pkg/logger"
)

// Notifier рассылает сообщения клиентам и в служебную группу операторов
type Notifier struct {
	bot        *telegram.Client
	staffChat  int64
	staffTopic int
}

// NewNotifier создает рассыльщик
func NewNotifier(bot *telegram.Client, staffChat int64, staffTopic int) *Notifier {
	return &Notifier{
		bot:        bot,
		staffChat:  staffChat,
		staffTopic: staffTopic,
	}
}

// NotifyUser отправляет текст клиенту в личный чат.
// Блокировка бота клиентом проглатывается, это не сбой рассылки.
func (n *Notifier) NotifyUser(ctx context.Context, userID int64, text string) error {
	_, err := n.bot.SendMessage(ctx, telegram.SendMessageParams{
		ChatID: userID,
		Text:   text,
	})
	if errors.Is(err, telegram.ErrBlocked) {
		logger.Warn("Notify: пользователь %d заблокировал бота", userID)
		return nil
	}
	return err
}

// NotifyStaff отправляет текст в тему служебной группы
func (n *Notifier) NotifyStaff(ctx context.Context, text string) error {
	_, err := n.bot.SendMessage(ctx, telegram.SendMessageParams{
		ChatID:          n.staffChat,
		Text:            text,
		MessageThreadID: n.staffTopic,
	})
	return err
}

// NotifyOrder публикует уведомление о новой заявке в служебной группе
// и пересылает следом фото квитанций. Первая строка и строка Order:
// дублируют номер, по ним обработчик ответов находит заявку. Строка
// котировки несет ожидаемую выплату.
func (n *Notifier) NotifyOrder(ctx context.Context, order orders.Order, receiptFileIDs []string) error {
	_, err := n.bot.SendMessage(ctx, telegram.SendMessageParams{
		ChatID:          n.staffChat,
		Text:            FormatOrder(order),
		MessageThreadID: n.staffTopic,
	})
	if err != nil {
		return err
	}

	for _, fileID := range receiptFileIDs {
		if _, err := n.bot.SendPhoto(ctx, telegram.SendPhotoParams{
			ChatID:          n.staffChat,
			Photo:           fileID,
			Caption:         order.ID,
			MessageThreadID: n.staffTopic,
		}); err != nil {
			logger.Warn("Notify: пересылка квитанции по %s: %v", order.ID, err)
		}
	}
	return nil
}

// FormatOrder собирает текст уведомления о заявке для операторов
func FormatOrder(order orders.Order) string {
	var b strings.Builder

	b.WriteString(order.ID)
	b.WriteString("\nOrder: ")
	b.WriteString(order.ID)
	b.WriteByte('\n')
	b.WriteString(quoteLine(order))

	if order.UserBankName != "" {
		fmt.Fprintf(&b, "\n\nPayout:\n🏦 %s\n💳 %s\n👤 %s",
			order.UserBankName, order.AccountNumber, order.AccountName)
	}

	if order.Username != "" {
		fmt.Fprintf(&b, "\n\nUser: @%s (%d)", order.Username, order.UserID)
	} else {
		fmt.Fprintf(&b, "\n\nUser: %d", order.UserID)
	}

	return b.String()
}

// quoteLine строит строку котировки: "Buy 1,000 × 125.78 = 125,800"
// или "Sell 125,800 ÷ 125.78 = 1,000"
func quoteLine(order orders.Order) string {
	verb := "Buy"
	if order.Direction == orders.Sell {
		verb = "Sell"
	}
	return fmt.Sprintf("%s %s %s %s = %s",
		verb,
		groupDigits(order.AmountSent),
		order.Operator,
		order.Rate.String(),
		groupDigits(order.AmountReceived),
	)
}

// groupDigits форматирует сумму с разделителями тысяч
func groupDigits(d decimal.Decimal) string {
	s := d.StringFixed(0)
	if d.Exponent() < 0 && !d.Equal(d.Round(0)) {
		s = d.String()
	}
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}

	intPart := s
	frac := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, frac = s[:i], s[i:]
	}

	var parts []string
	for len(intPart) > 3 {
		parts = append([]string{intPart[len(intPart)-3:]}, parts...)
		intPart = intPart[:len(intPart)-3]
	}
	parts = append([]string{intPart}, parts...)

	out := strings.Join(parts, ",") + frac
	if neg {
		out = "-" + out
	}
	return out
}
