// internal/core/domain/session/session.go
package session

import (
	"time"

	"github.com/shopspring/decimal"

	"thb-mmk-exchange-bot/internal/core/domain/banks"
	"thb-mmk-exchange-bot/internal/core/domain/orders"
	"thb-mmk-exchange-bot/internal/core/domain/receipts"
)

// State - шаг диалога
type State string

const (
	StateChoose            State = "choose"
	StateSelectPaymentBank State = "select_payment_bank"
	StateWaitReceipt       State = "wait_receipt"
	StateVerifyReceipt     State = "verify_receipt"
	StateCollecting        State = "collecting_receipts"
	StateReceiptChoice     State = "receipt_choice"
	StateWaitUserBank      State = "wait_user_bank"
	StateSelectUserBank    State = "select_user_bank"
	StateWaitAccountNumber State = "wait_account_number"
	StateWaitAccountName   State = "wait_account_name"
	StateWaitUserBankQR    State = "wait_user_bank_qr"
	StatePending           State = "pending"
	StateComplete          State = "complete"
	StateCancelled         State = "cancelled"
)

// Session - состояние диалога одного пользователя.
// Живет только в памяти процесса; бэкенд хранит всё долговечное.
type Session struct {
	UserID   int64
	ChatID   int64
	Username string

	State     State
	Direction orders.Direction

	// Котировка
	AmountSent     decimal.Decimal
	AmountReceived decimal.Decimal
	Rate           decimal.Decimal
	Operator       string

	// Оплата
	PaymentBank *banks.Account
	Receipts    []receipts.Receipt

	// Реквизиты выплаты
	UserBankName  string
	AccountNumber string
	AccountName   string
	QRFileID      string

	OrderID string

	// Буфер альбома фотографий: Telegram шлет их отдельными апдейтами
	MediaGroupID    string
	MediaGroupFiles []string

	// Штамп попытки обмена: растет на /start и /cancel. Асинхронные
	// записи с чужим штампом отбрасываются
	Generation uint64

	UpdatedAt time.Time
}

// Active сообщает, открыт ли диалог
func (s Session) Active() bool {
	return s.State != "" && s.State != StateComplete && s.State != StateCancelled
}
