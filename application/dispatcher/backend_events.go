// application/dispatcher/backend_events.go
package dispatcher

import (
	"context"
	"fmt"

	"thb-mmk-exchange-bot/internal/core/domain/orders"
	"thb-mmk-exchange-bot/internal/delivery/httpserver"
	"thb-mmk-exchange-bot/pkg/logger"
)

// HandleBackendEvent обрабатывает событие вебхука бэкенда
func (d *Dispatcher) HandleBackendEvent(ctx context.Context, ev httpserver.BackendEvent) {
	switch ev.Event {
	case "order_verified":
		d.orderVerified(ctx, ev)
	case "order_status_changed":
		d.orderStatusChanged(ctx, ev)
	case "admin_replied":
		if ev.Text != "" {
			d.notifyUser(ctx, ev.UserID, "💬 "+ev.Text)
		}
	default:
		logger.Warn("Dispatcher: неизвестное событие бэкенда %q", ev.Event)
	}
}

// orderVerified: квитанции подтверждены бэкендом. Клиент получает
// уведомление, операторам уходит карточка заявки для выплаты.
func (d *Dispatcher) orderVerified(ctx context.Context, ev httpserver.BackendEvent) {
	logger.Order(ev.OrderID, "verified")
	d.notifyUser(ctx, ev.UserID, fmt.Sprintf("✅ Receipts for order %s have been verified. Processing your payout.", ev.OrderID))

	order, err := d.backend.GetOrder(ctx, ev.OrderID)
	if err != nil {
		logger.Error("Dispatcher: загрузка заявки %s: %v", ev.OrderID, err)
		return
	}
	if err := d.notifier.NotifyOrder(ctx, order, nil); err != nil {
		logger.Error("Dispatcher: уведомление операторов о %s: %v", ev.OrderID, err)
	}
}

func (d *Dispatcher) orderStatusChanged(ctx context.Context, ev httpserver.BackendEvent) {
	status := orders.Status(ev.Status)

	var text string
	switch status {
	case orders.StatusComplete:
		text = fmt.Sprintf("✅ Your order %s is complete. Thank you!", ev.OrderID)
	case orders.StatusRejected:
		text = fmt.Sprintf("❌ Your order %s was rejected. Contact support if you have questions.", ev.OrderID)
	case orders.StatusCancelled:
		text = fmt.Sprintf("Your order %s has been cancelled.", ev.OrderID)
	case orders.StatusComplain:
		text = fmt.Sprintf("⚠️ There is an issue with your order %s. Our staff will contact you.", ev.OrderID)
	default:
		logger.Order(ev.OrderID, "status "+ev.Status)
		return
	}

	logger.Order(ev.OrderID, "status "+ev.Status)
	d.notifyUser(ctx, ev.UserID, text)

	// Закрытая заявка освобождает диалог для следующего обмена
	if status.IsFinal() {
		d.store.Delete(ev.UserID)
	}
}
