// internal/core/domain/conversation/machine.go
package conversation

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"thb-mmk-exchange-bot/internal/core/domain/banks"
	"thb-mmk-exchange-bot/internal/core/domain/exchange"
	"thb-mmk-exchange-bot/internal/core/domain/orders"
	"thb-mmk-exchange-bot/internal/core/domain/receipts"
	"thb-mmk-exchange-bot/internal/core/domain/session"
)

// Env - снимок окружения на момент шага. Машина не ходит за данными
// сама: настройки и банки ей передает диспетчер.
type Env struct {
	Maintenance    bool
	AuthEnabled    bool
	Authorized     bool
	PendingOrderID string

	Engine       *exchange.Engine
	ThaiBanks    []banks.Account
	MyanmarBanks []banks.Account

	MaxReceipts   int
	MinConfidence float64
}

// Step - чистый переход: (сессия, событие, окружение) -> (сессия, действия).
// Никакого I/O; все побочные эффекты описываются действиями.
func Step(s session.Session, ev Event, env Env) (session.Session, []Action) {
	// Команды обрабатываются из любого состояния
	if ev.Kind == EventCommand {
		return handleCommand(s, ev, env)
	}

	switch s.State {
	case session.StateChoose:
		return stateChoose(s, ev, env)
	case session.StateSelectPaymentBank:
		return stateSelectPaymentBank(s, ev, env)
	case session.StateWaitReceipt, session.StateCollecting:
		return stateWaitReceipt(s, ev, env)
	case session.StateVerifyReceipt:
		return stateVerifyReceipt(s, ev, env)
	case session.StateReceiptChoice:
		return stateReceiptChoice(s, ev, env)
	case session.StateSelectUserBank, session.StateWaitUserBank:
		return stateSelectUserBank(s, ev, env)
	case session.StateWaitAccountNumber:
		return stateWaitAccountNumber(s, ev)
	case session.StateWaitAccountName:
		return stateWaitAccountName(s, ev)
	case session.StateWaitUserBankQR:
		return stateWaitUserBankQR(s, ev)
	case session.StatePending:
		return s, []Action{sendText(textOrderPending(s.OrderID))}
	default:
		// Диалог не открыт: подсказываем /start
		return s, []Action{sendText("Send /start to begin a new exchange.")}
	}
}

// ============================================
// КОМАНДЫ
// ============================================

func handleCommand(s session.Session, ev Event, env Env) (session.Session, []Action) {
	switch ev.Command {
	case "start":
		return handleStart(s, env)
	case "cancel":
		return handleCancel(s)
	case "help":
		return s, []Action{sendText(helpText)}
	case "status":
		if env.PendingOrderID != "" {
			return s, []Action{sendText(textOrderPending(env.PendingOrderID))}
		}
		if s.Active() {
			return s, []Action{sendText(fmt.Sprintf("Current step: %s. Send /cancel to start over.", s.State))}
		}
		return s, []Action{sendText("No active order. Send /start to begin.")}
	default:
		return s, []Action{sendText("Unknown command. " + helpText)}
	}
}

func handleStart(s session.Session, env Env) (session.Session, []Action) {
	// Порядок охран фиксирован: обслуживание, авторизация, открытая заявка
	if env.Maintenance {
		return s, []Action{sendText("🛠 The service is under maintenance. Please try again later.")}
	}
	if env.AuthEnabled && !env.Authorized {
		return s, []Action{sendText("⛔ This bot is available to registered customers only.")}
	}
	if env.PendingOrderID != "" {
		return s, []Action{sendText(textOrderPending(env.PendingOrderID))}
	}

	// Новая попытка: черновик обнуляется целиком, поколение растет,
	// чтобы результаты OCR прошлой попытки не догнали новую
	s = session.Session{
		UserID:     s.UserID,
		ChatID:     s.ChatID,
		Username:   s.Username,
		Generation: s.Generation + 1,
		State:      session.StateChoose,
	}

	return s, []Action{sendText(
		"Welcome to INFINITY THAI GROUP 🇹🇭🔄🇲🇲\nPlease choose the exchange direction:",
		row(
			Button{Text: "ဘတ်ပေးကျပ်ယူ (THB → MMK)", Data: CallbackBuy},
			Button{Text: "ကျပ်ပေးဘတ်ယူ (MMK → THB)", Data: CallbackSell},
		),
	)}
}

func handleCancel(s session.Session) (session.Session, []Action) {
	if !s.Active() {
		return s, []Action{sendText("Nothing to cancel. Send /start to begin.")}
	}
	s.State = session.StateCancelled
	s.Generation++
	return s, []Action{
		sendText("❌ Order cancelled. Send /start to begin a new exchange."),
		{Kind: ActionClearSession},
	}
}

// ============================================
// ВЫБОР НАПРАВЛЕНИЯ И СУММЫ
// ============================================

func stateChoose(s session.Session, ev Event, env Env) (session.Session, []Action) {
	switch ev.Kind {
	case EventCallback:
		switch ev.Callback {
		case CallbackBuy:
			s.Direction = orders.Buy
			return s, []Action{sendText("Enter the THB amount you want to exchange:")}
		case CallbackSell:
			s.Direction = orders.Sell
			return s, []Action{sendText("Enter the MMK amount you want to exchange:")}
		case CallbackConfirm:
			if s.AmountSent.IsZero() {
				return s, []Action{sendText("Please enter the amount first.")}
			}
			return toPaymentBankSelection(s, env)
		case CallbackCancel:
			return handleCancel(s)
		}
	case EventText:
		if s.Direction == "" {
			return s, []Action{sendText("Please choose the direction with the buttons above.")}
		}
		amount, err := parseUserAmount(ev.Text)
		if err != nil {
			return s, []Action{sendText("Please send a valid amount, digits only (e.g. 1000).")}
		}
		return quote(s, amount, env)
	}
	return s, []Action{sendText("Please choose the direction with the buttons above.")}
}

func quote(s session.Session, amount decimal.Decimal, env Env) (session.Session, []Action) {
	var conv exchange.Conversion
	if s.Direction == orders.Buy {
		conv = env.Engine.QuoteBuy(amount)
	} else {
		conv = env.Engine.QuoteSell(amount)
	}

	s.AmountSent = amount
	s.AmountReceived = conv.Amount
	s.Rate = conv.Rate
	s.Operator = conv.Operator

	sentCur, recvCur := exchange.THB, exchange.MMK
	if s.Direction == orders.Sell {
		sentCur, recvCur = exchange.MMK, exchange.THB
	}

	text := fmt.Sprintf("💱 You send: %s %s\nRate: %s %s %s\nYou receive: %s %s\n\nConfirm?",
		formatDec(amount), sentCur,
		formatDec(amount), conv.Operator, conv.Rate.String(),
		formatDec(conv.Amount), recvCur,
	)

	return s, []Action{sendText(text,
		row(
			Button{Text: "✅ Confirm", Data: CallbackConfirm},
			Button{Text: "❌ Cancel", Data: CallbackCancel},
		),
	)}
}

func toPaymentBankSelection(s session.Session, env Env) (session.Session, []Action) {
	accounts := paymentAccounts(s.Direction, env)
	if len(accounts) == 0 {
		return s, []Action{sendText("No payment accounts are available right now. Please try again later.")}
	}

	s.State = session.StateSelectPaymentBank

	var rows [][]Button
	for _, acc := range accounts {
		if !acc.Active {
			continue
		}
		rows = append(rows, row(Button{
			Text: acc.DisplayName(),
			Data: CallbackBankPrefix + strconv.Itoa(acc.ID),
		}))
	}
	return s, []Action{sendText("Choose the bank you will pay to:", rows...)}
}

// paymentAccounts возвращает счета в валюте, которую платит клиент
func paymentAccounts(d orders.Direction, env Env) []banks.Account {
	if d == orders.Buy {
		return env.ThaiBanks
	}
	return env.MyanmarBanks
}

// payoutAccounts возвращает счета в валюте, которую получает клиент
func payoutAccounts(d orders.Direction, env Env) []banks.Account {
	if d == orders.Buy {
		return env.MyanmarBanks
	}
	return env.ThaiBanks
}

// ============================================
// ВЫБОР СЧЕТА ОПЛАТЫ
// ============================================

func stateSelectPaymentBank(s session.Session, ev Event, env Env) (session.Session, []Action) {
	if ev.Kind != EventCallback || !strings.HasPrefix(ev.Callback, CallbackBankPrefix) {
		return s, []Action{sendText("Please choose a bank with the buttons above.")}
	}

	id, err := strconv.Atoi(strings.TrimPrefix(ev.Callback, CallbackBankPrefix))
	if err != nil {
		return s, []Action{sendText("Please choose a bank with the buttons above.")}
	}

	for _, acc := range paymentAccounts(s.Direction, env) {
		if acc.ID == id {
			selected := acc
			s.PaymentBank = &selected
			s.State = session.StateWaitReceipt

			actions := []Action{sendText(
				"Please transfer the money to:\n\n" + selected.Details() +
					"\n\nThen send a photo of the payment receipt.",
			)}
			if selected.QRCodeURL != "" {
				actions = append(actions, Action{Kind: ActionSendPhotoURL, PhotoURL: selected.QRCodeURL})
			}
			return s, actions
		}
	}

	return s, []Action{sendText("That bank is no longer available, please pick another one.")}
}

// ============================================
// ПРИЕМ И ПРОВЕРКА КВИТАНЦИЙ
// ============================================

func stateWaitReceipt(s session.Session, ev Event, env Env) (session.Session, []Action) {
	switch ev.Kind {
	case EventPhoto:
		return acceptReceiptPhoto(s, ev, env)
	case EventReceiptVerified:
		return receiptVerified(s, ev, env)
	case EventReceiptRejected:
		return receiptRejected(s, ev)
	}
	return s, []Action{sendText("Please send a photo of your payment receipt, or /cancel.")}
}

func acceptReceiptPhoto(s session.Session, ev Event, env Env) (session.Session, []Action) {
	if len(s.Receipts) >= env.MaxReceipts {
		return s, []Action{sendText(fmt.Sprintf("Receipt limit reached (%d). Press Done or /cancel.", env.MaxReceipts))}
	}

	actions := []Action{{Kind: ActionRunOCR, FileID: ev.FileID, Generation: s.Generation}}

	// Фото из одного альбома не дублируют подтверждение
	if ev.MediaGroupID != "" && ev.MediaGroupID == s.MediaGroupID {
		s.MediaGroupFiles = append(s.MediaGroupFiles, ev.FileID)
		return s, actions
	}
	if ev.MediaGroupID != "" {
		s.MediaGroupID = ev.MediaGroupID
		s.MediaGroupFiles = []string{ev.FileID}
	}

	s.State = session.StateVerifyReceipt
	actions = append(actions, sendText("🔍 Checking your receipt, one moment..."))
	return s, actions
}

func stateVerifyReceipt(s session.Session, ev Event, env Env) (session.Session, []Action) {
	switch ev.Kind {
	case EventReceiptVerified:
		return receiptVerified(s, ev, env)
	case EventReceiptRejected:
		return receiptRejected(s, ev)
	case EventPhoto:
		// Остаток альбома догоняет первый кадр
		return acceptReceiptPhoto(s, ev, env)
	}
	return s, []Action{sendText("Still checking your receipt, one moment...")}
}

func receiptVerified(s session.Session, ev Event, env Env) (session.Session, []Action) {
	agg := receipts.NewAggregator(env.MaxReceipts)

	updated, err := agg.Add(s.Receipts, ev.Receipt)
	switch {
	case errors.Is(err, receipts.ErrBankMismatch):
		expected := ""
		if s.PaymentBank != nil {
			expected = s.PaymentBank.BankName
		}
		s.State = session.StateReceiptChoice
		return s, []Action{sendText(fmt.Sprintf(
			"⚠️ This receipt was paid to a different account. All receipts of one order must go to %s.",
			expected,
		), receiptChoiceButtons())}
	case errors.Is(err, receipts.ErrLimit):
		s.State = session.StateReceiptChoice
		return s, []Action{sendText(
			fmt.Sprintf("Receipt limit reached (%d). Press Done to continue.", env.MaxReceipts),
			receiptChoiceButtons(),
		)}
	}

	s.Receipts = updated
	s.State = session.StateReceiptChoice

	text := "✅ Receipt verified.\n\n" + receipts.Summary(s.Receipts) +
		fmt.Sprintf("\nOrder amount: %s", formatDec(expectedTotal(s)))
	return s, []Action{sendText(text, receiptChoiceButtons())}
}

func receiptRejected(s session.Session, ev Event) (session.Session, []Action) {
	// Проверка не прошла: набор квитанций начинается заново
	s.Receipts = nil
	s.MediaGroupID = ""
	s.MediaGroupFiles = nil
	s.State = session.StateWaitReceipt

	reason := ev.FailReason
	if reason == "" {
		reason = "the receipt could not be verified"
	}
	return s, []Action{sendText("❌ " + reason + "\nPlease send the payment receipt photos again, or /cancel.")}
}

func receiptChoiceButtons() []Button {
	return row(
		Button{Text: "➕ Add receipt", Data: CallbackReceiptAdd},
		Button{Text: "✅ Done", Data: CallbackReceiptDone},
	)
}

func stateReceiptChoice(s session.Session, ev Event, env Env) (session.Session, []Action) {
	switch ev.Kind {
	case EventCallback:
		switch ev.Callback {
		case CallbackReceiptAdd:
			if len(s.Receipts) >= env.MaxReceipts {
				return s, []Action{sendText(
					fmt.Sprintf("Receipt limit reached (%d). Press Done to continue.", env.MaxReceipts),
					receiptChoiceButtons(),
				)}
			}
			s.State = session.StateCollecting
			return s, []Action{sendText("Send the next receipt photo.")}
		case CallbackReceiptDone:
			return receiptsDone(s, env)
		}
	case EventPhoto:
		// Пользователь прислал еще квитанцию без нажатия кнопки
		return acceptReceiptPhoto(s, ev, env)
	case EventReceiptVerified:
		// Догоняющий кадр альбома
		return receiptVerified(s, ev, env)
	case EventReceiptRejected:
		return receiptRejected(s, ev)
	}
	return s, []Action{sendText("Add another receipt or press Done.", receiptChoiceButtons())}
}

// expectedTotal возвращает сумму, которую должны покрыть квитанции
func expectedTotal(s session.Session) decimal.Decimal {
	return s.AmountSent
}

// sentCurrency возвращает валюту оплаты клиента
func sentCurrency(s session.Session) exchange.Currency {
	if s.Direction == orders.Buy {
		return exchange.THB
	}
	return exchange.MMK
}

func receiptsDone(s session.Session, env Env) (session.Session, []Action) {
	if len(s.Receipts) == 0 {
		return s, []Action{sendText("Please send at least one receipt photo first.")}
	}

	total := receipts.Total(s.Receipts)
	expected := expectedTotal(s)

	if !exchange.WithinTolerance(expected, total, sentCurrency(s)) {
		diff := expected.Sub(total)
		var msg string
		if diff.IsPositive() {
			msg = fmt.Sprintf("⚠️ Receipts cover %s of %s. %s %s is still missing.",
				formatDec(total), formatDec(expected), formatDec(diff), sentCurrency(s))
		} else {
			msg = fmt.Sprintf("⚠️ Receipts total %s but the order is %s. Please /cancel and start over, or contact support.",
				formatDec(total), formatDec(expected))
		}
		return s, []Action{sendText(msg, receiptChoiceButtons())}
	}

	return toUserBankSelection(s, env)
}

// ============================================
// РЕКВИЗИТЫ ВЫПЛАТЫ
// ============================================

func toUserBankSelection(s session.Session, env Env) (session.Session, []Action) {
	s.State = session.StateSelectUserBank

	var rows [][]Button
	seen := map[string]bool{}
	for _, acc := range payoutAccounts(s.Direction, env) {
		if seen[acc.BankName] {
			continue
		}
		seen[acc.BankName] = true
		rows = append(rows, row(Button{Text: acc.BankName, Data: CallbackUserBank + acc.BankName}))
	}

	if len(rows) == 0 {
		// Список банков не загрузился: принимаем название текстом
		s.State = session.StateWaitUserBank
		return s, []Action{sendText("Which bank should we send your money to? Type the bank name:")}
	}
	return s, []Action{sendText("Which bank should we send your money to?", rows...)}
}

func stateSelectUserBank(s session.Session, ev Event, env Env) (session.Session, []Action) {
	switch ev.Kind {
	case EventCallback:
		if strings.HasPrefix(ev.Callback, CallbackUserBank) {
			s.UserBankName = strings.TrimPrefix(ev.Callback, CallbackUserBank)
			s.State = session.StateWaitAccountNumber
			return s, []Action{sendText("Enter your account number:")}
		}
	case EventText:
		// Название банка текстом тоже принимается
		if name := strings.TrimSpace(ev.Text); name != "" {
			s.UserBankName = name
			s.State = session.StateWaitAccountNumber
			return s, []Action{sendText("Enter your account number:")}
		}
	}
	return s, []Action{sendText("Please choose your bank with the buttons, or type its name.")}
}

func stateWaitAccountNumber(s session.Session, ev Event) (session.Session, []Action) {
	if ev.Kind != EventText {
		return s, []Action{sendText("Please type your account number.")}
	}

	number := strings.TrimSpace(ev.Text)
	if !looksLikeAccountNumber(number) {
		return s, []Action{sendText("That doesn't look like an account number. Digits only, please.")}
	}

	s.AccountNumber = number
	s.State = session.StateWaitAccountName
	return s, []Action{sendText("Enter the account holder name:")}
}

func stateWaitAccountName(s session.Session, ev Event) (session.Session, []Action) {
	if ev.Kind != EventText || strings.TrimSpace(ev.Text) == "" {
		return s, []Action{sendText("Please type the account holder name.")}
	}

	s.AccountName = strings.TrimSpace(ev.Text)
	s.State = session.StateWaitUserBankQR
	return s, []Action{sendText(
		"If you have a payment QR code, send its photo. Otherwise press Skip.",
		row(Button{Text: "Skip", Data: CallbackSkipQR}),
	)}
}

func stateWaitUserBankQR(s session.Session, ev Event) (session.Session, []Action) {
	switch ev.Kind {
	case EventPhoto:
		s.QRFileID = ev.FileID
		return submitOrder(s)
	case EventCallback:
		if ev.Callback == CallbackSkipQR {
			return submitOrder(s)
		}
	}
	return s, []Action{sendText("Send a QR photo or press Skip.", row(Button{Text: "Skip", Data: CallbackSkipQR}))}
}

// ============================================
// ОТПРАВКА ЗАЯВКИ
// ============================================

func submitOrder(s session.Session) (session.Session, []Action) {
	s.State = session.StatePending
	return s, []Action{
		{Kind: ActionSubmitOrder},
		sendText("📨 Your order has been submitted. We will notify you once it is processed."),
	}
}

// ============================================
// ВСПОМОГАТЕЛЬНОЕ
// ============================================

const helpText = "Commands:\n/start — begin an exchange\n/status — check your order\n/cancel — cancel the current order"

func textOrderPending(orderID string) string {
	return fmt.Sprintf("⏳ Your order %s is being processed. Please wait for confirmation.", orderID)
}

func parseUserAmount(text string) (decimal.Decimal, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(text), ",", "")
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, err
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("amount must be positive")
	}
	return d, nil
}

func looksLikeAccountNumber(s string) bool {
	if len(s) < 5 {
		return false
	}
	digits := 0
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == ' ' || r == '-':
		default:
			return false
		}
	}
	return digits >= 5
}

func formatDec(d decimal.Decimal) string {
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
