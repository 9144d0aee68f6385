// internal/core/domain/conversation/events.go
package conversation

import (
	"thb-mmk-exchange-bot/internal/core/domain/receipts"
)

// EventKind - тип входящего события диалога
type EventKind int

const (
	EventCommand EventKind = iota
	EventText
	EventPhoto
	EventCallback

	// Результаты асинхронной проверки квитанции, их публикует диспетчер
	EventReceiptVerified
	EventReceiptRejected
)

// Event - входящее событие. Машина состояний не делает I/O:
// всё, что ей нужно знать, приходит в событии и окружении.
type Event struct {
	Kind EventKind

	Command      string
	Text         string
	FileID       string
	MediaGroupID string
	Callback     string

	Receipt    receipts.Receipt
	MatchScore float64
	FailReason string
}

// Данные callback-кнопок
const (
	CallbackBuy         = "dir:buy"
	CallbackSell        = "dir:sell"
	CallbackConfirm     = "quote:confirm"
	CallbackCancel      = "quote:cancel"
	CallbackBankPrefix  = "bank:"
	CallbackUserBank    = "userbank:"
	CallbackReceiptAdd  = "receipt:add"
	CallbackReceiptDone = "receipt:done"
	CallbackSkipQR      = "qr:skip"
)
