package conversation

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"thb-mmk-exchange-bot/internal/core/domain/banks"
	"thb-mmk-exchange-bot/internal/core/domain/exchange"
	"thb-mmk-exchange-bot/internal/core/domain/orders"
	"thb-mmk-exchange-bot/internal/core/domain/receipts"
	"thb-mmk-exchange-bot/internal/core/domain/session"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testEnv() Env {
	return Env{
		Engine: exchange.NewEngine(dec("125.78"), dec("123.60")),
		ThaiBanks: []banks.Account{
			{ID: 1, BankName: "SCB", AccountNumber: "1234567890", AccountName: "Shop THB", Currency: exchange.THB, Active: true},
		},
		MyanmarBanks: []banks.Account{
			{ID: 2, BankName: "KBZ", AccountNumber: "9876543210", AccountName: "Shop MMK", Currency: exchange.MMK, Active: true},
		},
		MaxReceipts:   10,
		MinConfidence: 0.5,
	}
}

func command(name string) Event  { return Event{Kind: EventCommand, Command: name} }
func text(t string) Event        { return Event{Kind: EventText, Text: t} }
func callback(data string) Event { return Event{Kind: EventCallback, Callback: data} }
func photo(fileID string) Event  { return Event{Kind: EventPhoto, FileID: fileID} }

func firstText(t *testing.T, actions []Action) string {
	t.Helper()
	for _, a := range actions {
		if a.Kind == ActionSendText {
			return a.Text
		}
	}
	t.Fatal("no ActionSendText in actions")
	return ""
}

func hasAction(actions []Action, kind ActionKind) bool {
	for _, a := range actions {
		if a.Kind == kind {
			return true
		}
	}
	return false
}

func TestStartOpensChoose(t *testing.T) {
	s, actions := Step(session.Session{UserID: 1}, command("start"), testEnv())

	if s.State != session.StateChoose {
		t.Errorf("State = %q, want choose", s.State)
	}
	if len(actions) != 1 || len(actions[0].Buttons) == 0 {
		t.Fatalf("want one message with direction buttons, got %+v", actions)
	}
}

func TestStartGuards(t *testing.T) {
	env := testEnv()
	env.Maintenance = true
	s, actions := Step(session.Session{UserID: 1}, command("start"), env)
	if s.State == session.StateChoose {
		t.Error("maintenance guard did not stop /start")
	}
	if !strings.Contains(firstText(t, actions), "maintenance") {
		t.Errorf("want maintenance notice, got %q", firstText(t, actions))
	}

	env = testEnv()
	env.AuthEnabled = true
	env.Authorized = false
	s, _ = Step(session.Session{UserID: 1}, command("start"), env)
	if s.State == session.StateChoose {
		t.Error("auth guard did not stop /start")
	}

	env = testEnv()
	env.PendingOrderID = "070325A0001B"
	s, actions = Step(session.Session{UserID: 1}, command("start"), env)
	if s.State == session.StateChoose {
		t.Error("pending-order guard did not stop /start")
	}
	if !strings.Contains(firstText(t, actions), "070325A0001B") {
		t.Errorf("pending notice should name the order, got %q", firstText(t, actions))
	}
}

func TestStartResetsWholeDraft(t *testing.T) {
	stale := session.Session{
		UserID: 1, ChatID: 5, Username: "aung",
		State: session.StateWaitUserBankQR, Direction: orders.Buy,
		AmountSent: dec("1000"), AmountReceived: dec("125800"),
		Receipts:      []receipts.Receipt{{Amount: dec("1000")}},
		UserBankName:  "KBZ",
		AccountNumber: "111222333",
		AccountName:   "Aung Aung",
		QRFileID:      "old-qr",
		OrderID:       "070325A0001B",
		MediaGroupID:  "g1",
		Generation:    4,
	}

	s, _ := Step(stale, command("start"), testEnv())

	if s.State != session.StateChoose {
		t.Fatalf("State = %q, want choose", s.State)
	}
	if s.QRFileID != "" || s.OrderID != "" || s.UserBankName != "" ||
		s.AccountNumber != "" || s.AccountName != "" || s.MediaGroupID != "" {
		t.Errorf("stale payout details survived /start: %+v", s)
	}
	if len(s.Receipts) != 0 || !s.AmountSent.IsZero() {
		t.Errorf("stale order draft survived /start: %+v", s)
	}
	if s.UserID != 1 || s.ChatID != 5 || s.Username != "aung" {
		t.Errorf("identity lost on /start: %+v", s)
	}
	if s.Generation != 5 {
		t.Errorf("Generation = %d, want 5: new attempt must bump the stamp", s.Generation)
	}
}

func TestBuyQuoteFlow(t *testing.T) {
	env := testEnv()
	s := session.Session{UserID: 1, State: session.StateChoose}

	s, _ = Step(s, callback(CallbackBuy), env)
	if s.Direction != orders.Buy {
		t.Fatalf("Direction = %q, want buy", s.Direction)
	}

	s, actions := Step(s, text("1000"), env)
	if !s.AmountSent.Equal(dec("1000")) {
		t.Errorf("AmountSent = %s, want 1000", s.AmountSent)
	}
	// 1000 * 125.78 = 125780 → вверх до 125800
	if !s.AmountReceived.Equal(dec("125800")) {
		t.Errorf("AmountReceived = %s, want 125800", s.AmountReceived)
	}
	if s.Operator != exchange.OpMultiply {
		t.Errorf("Operator = %q, want ×", s.Operator)
	}
	msg := firstText(t, actions)
	if !strings.Contains(msg, "125,800") || !strings.Contains(msg, "×") {
		t.Errorf("quote message = %q", msg)
	}
}

func TestConfirmShowsPaymentBanks(t *testing.T) {
	env := testEnv()
	s := session.Session{
		UserID: 1, State: session.StateChoose,
		Direction: orders.Buy, AmountSent: dec("1000"), AmountReceived: dec("125800"),
	}

	s, actions := Step(s, callback(CallbackConfirm), env)
	if s.State != session.StateSelectPaymentBank {
		t.Fatalf("State = %q, want select_payment_bank", s.State)
	}
	// Покупка: клиент платит THB, кнопки тайских банков
	if len(actions[0].Buttons) != 1 || !strings.Contains(actions[0].Buttons[0][0].Text, "SCB") {
		t.Errorf("buttons = %+v, want SCB", actions[0].Buttons)
	}
}

func TestBankPickShowsDetailsAndWaitsReceipt(t *testing.T) {
	env := testEnv()
	s := session.Session{
		UserID: 1, State: session.StateSelectPaymentBank,
		Direction: orders.Buy, AmountSent: dec("1000"),
	}

	s, actions := Step(s, callback(CallbackBankPrefix+"1"), env)
	if s.State != session.StateWaitReceipt {
		t.Fatalf("State = %q, want wait_receipt", s.State)
	}
	if s.PaymentBank == nil || s.PaymentBank.ID != 1 {
		t.Fatalf("PaymentBank = %+v, want ID 1", s.PaymentBank)
	}
	if !strings.Contains(firstText(t, actions), "1234567890") {
		t.Errorf("details message = %q", firstText(t, actions))
	}
}

func TestPhotoTriggersOCR(t *testing.T) {
	env := testEnv()
	s := session.Session{
		UserID: 1, State: session.StateWaitReceipt,
		Direction: orders.Buy, Generation: 7,
	}

	s, actions := Step(s, photo("file-1"), env)
	if s.State != session.StateVerifyReceipt {
		t.Fatalf("State = %q, want verify_receipt", s.State)
	}

	found := false
	for _, a := range actions {
		if a.Kind == ActionRunOCR {
			found = true
			if a.FileID != "file-1" {
				t.Errorf("FileID = %q, want file-1", a.FileID)
			}
			if a.Generation != 7 {
				t.Errorf("Generation = %d, want 7", a.Generation)
			}
		}
	}
	if !found {
		t.Fatal("no ActionRunOCR emitted")
	}
}

func TestMediaGroupSecondPhotoSilent(t *testing.T) {
	env := testEnv()
	s := session.Session{UserID: 1, State: session.StateWaitReceipt, Direction: orders.Buy}

	s, _ = Step(s, Event{Kind: EventPhoto, FileID: "f1", MediaGroupID: "g1"}, env)
	s, actions := Step(s, Event{Kind: EventPhoto, FileID: "f2", MediaGroupID: "g1"}, env)

	if !hasAction(actions, ActionRunOCR) {
		t.Fatal("album photo must still run OCR")
	}
	if hasAction(actions, ActionSendText) {
		t.Error("album photo must not repeat the checking prompt")
	}
	if len(s.MediaGroupFiles) != 2 {
		t.Errorf("MediaGroupFiles = %v, want 2 entries", s.MediaGroupFiles)
	}
}

func TestReceiptVerifiedAggregates(t *testing.T) {
	env := testEnv()
	bank := env.ThaiBanks[0]
	s := session.Session{
		UserID: 1, State: session.StateVerifyReceipt,
		Direction: orders.Buy, AmountSent: dec("1000"), PaymentBank: &bank,
	}

	ev := Event{Kind: EventReceiptVerified, Receipt: receipts.Receipt{
		Amount: dec("1000"), MatchedAccountID: 1, BankName: "SCB",
	}}
	s, actions := Step(s, ev, env)

	if s.State != session.StateReceiptChoice {
		t.Fatalf("State = %q, want receipt_choice", s.State)
	}
	if len(s.Receipts) != 1 {
		t.Fatalf("Receipts = %d, want 1", len(s.Receipts))
	}
	if !strings.Contains(firstText(t, actions), "Total: 1,000") {
		t.Errorf("summary = %q", firstText(t, actions))
	}
}

func TestReceiptBankMismatchRefused(t *testing.T) {
	env := testEnv()
	bank := env.ThaiBanks[0]
	s := session.Session{
		UserID: 1, State: session.StateVerifyReceipt,
		Direction: orders.Buy, AmountSent: dec("2000"), PaymentBank: &bank,
		Receipts: []receipts.Receipt{{Amount: dec("1000"), MatchedAccountID: 1}},
	}

	ev := Event{Kind: EventReceiptVerified, Receipt: receipts.Receipt{
		Amount: dec("1000"), MatchedAccountID: 99,
	}}
	s, actions := Step(s, ev, env)

	if len(s.Receipts) != 1 {
		t.Errorf("mismatched receipt was added: %d receipts", len(s.Receipts))
	}
	if !strings.Contains(firstText(t, actions), "different account") {
		t.Errorf("message = %q", firstText(t, actions))
	}
}

func TestReceiptRejectedClearsAccepted(t *testing.T) {
	env := testEnv()
	bank := env.ThaiBanks[0]
	s := session.Session{
		UserID: 1, State: session.StateVerifyReceipt,
		Direction: orders.Buy, AmountSent: dec("2000"), PaymentBank: &bank,
		Receipts:        []receipts.Receipt{{Amount: dec("1000"), MatchedAccountID: 1}},
		MediaGroupID:    "g1",
		MediaGroupFiles: []string{"f1"},
	}

	s, actions := Step(s, Event{Kind: EventReceiptRejected, FailReason: "too blurry"}, env)

	if s.State != session.StateWaitReceipt {
		t.Fatalf("State = %q, want wait_receipt", s.State)
	}
	if len(s.Receipts) != 0 {
		t.Errorf("Receipts = %d, want 0: rejection restarts the set", len(s.Receipts))
	}
	if s.MediaGroupID != "" || len(s.MediaGroupFiles) != 0 {
		t.Errorf("album buffer survived rejection: %q %v", s.MediaGroupID, s.MediaGroupFiles)
	}
	if !strings.Contains(firstText(t, actions), "too blurry") {
		t.Errorf("message = %q", firstText(t, actions))
	}
}

func TestDoneWithinToleranceProceeds(t *testing.T) {
	env := testEnv()
	s := session.Session{
		UserID: 1, State: session.StateReceiptChoice,
		Direction: orders.Buy, AmountSent: dec("1000"),
		// 990 в пределах ±35 THB
		Receipts: []receipts.Receipt{{Amount: dec("990"), MatchedAccountID: 1}},
	}

	s, actions := Step(s, callback(CallbackReceiptDone), env)
	if s.State != session.StateSelectUserBank {
		t.Fatalf("State = %q, want select_user_bank", s.State)
	}
	// Покупка: выплата в MMK, кнопки мьянманских банков
	if len(actions[0].Buttons) == 0 || actions[0].Buttons[0][0].Text != "KBZ" {
		t.Errorf("buttons = %+v, want KBZ", actions[0].Buttons)
	}
}

func TestDoneOutsideToleranceStays(t *testing.T) {
	env := testEnv()
	s := session.Session{
		UserID: 1, State: session.StateReceiptChoice,
		Direction: orders.Buy, AmountSent: dec("1000"),
		Receipts: []receipts.Receipt{{Amount: dec("500"), MatchedAccountID: 1}},
	}

	s, actions := Step(s, callback(CallbackReceiptDone), env)
	if s.State != session.StateReceiptChoice {
		t.Fatalf("State = %q, want receipt_choice", s.State)
	}
	if !strings.Contains(firstText(t, actions), "missing") {
		t.Errorf("message = %q", firstText(t, actions))
	}
}

func TestPayoutDetailsAndSubmit(t *testing.T) {
	env := testEnv()
	s := session.Session{
		UserID: 1, State: session.StateSelectUserBank,
		Direction: orders.Buy, AmountSent: dec("1000"),
		Receipts: []receipts.Receipt{{Amount: dec("1000"), MatchedAccountID: 1}},
	}

	s, _ = Step(s, callback(CallbackUserBank+"KBZ"), env)
	if s.State != session.StateWaitAccountNumber || s.UserBankName != "KBZ" {
		t.Fatalf("after bank: state %q bank %q", s.State, s.UserBankName)
	}

	s, _ = Step(s, text("111222333"), env)
	if s.State != session.StateWaitAccountName || s.AccountNumber != "111222333" {
		t.Fatalf("after number: state %q number %q", s.State, s.AccountNumber)
	}

	s, _ = Step(s, text("Aung Aung"), env)
	if s.State != session.StateWaitUserBankQR {
		t.Fatalf("after name: state %q", s.State)
	}

	s, actions := Step(s, callback(CallbackSkipQR), env)
	if s.State != session.StatePending {
		t.Fatalf("after skip: state %q, want pending", s.State)
	}
	if !hasAction(actions, ActionSubmitOrder) {
		t.Error("no ActionSubmitOrder on completion")
	}
}

func TestQRPhotoSubmits(t *testing.T) {
	env := testEnv()
	s := session.Session{UserID: 1, State: session.StateWaitUserBankQR, Direction: orders.Sell}

	s, actions := Step(s, photo("qr-file"), env)
	if s.State != session.StatePending {
		t.Fatalf("State = %q, want pending", s.State)
	}
	if s.QRFileID != "qr-file" {
		t.Errorf("QRFileID = %q, want qr-file", s.QRFileID)
	}
	if !hasAction(actions, ActionSubmitOrder) {
		t.Error("no ActionSubmitOrder")
	}
}

func TestInvalidAccountNumberRejected(t *testing.T) {
	env := testEnv()
	s := session.Session{UserID: 1, State: session.StateWaitAccountNumber}

	s, _ = Step(s, text("abc"), env)
	if s.State != session.StateWaitAccountNumber {
		t.Errorf("State = %q, want wait_account_number to persist", s.State)
	}
}

func TestCancelClearsSession(t *testing.T) {
	env := testEnv()
	s := session.Session{UserID: 1, State: session.StateWaitReceipt, Direction: orders.Buy}

	s, actions := Step(s, command("cancel"), env)
	if s.State != session.StateCancelled {
		t.Errorf("State = %q, want cancelled", s.State)
	}
	if !hasAction(actions, ActionClearSession) {
		t.Error("no ActionClearSession on /cancel")
	}
}

func TestSellFlowCurrencies(t *testing.T) {
	env := testEnv()
	s := session.Session{UserID: 1, State: session.StateChoose}

	s, _ = Step(s, callback(CallbackSell), env)
	s, _ = Step(s, text("123600"), env)

	if !s.AmountReceived.Equal(dec("1000")) {
		t.Errorf("AmountReceived = %s, want 1000 THB", s.AmountReceived)
	}
	if s.Operator != exchange.OpDivide {
		t.Errorf("Operator = %q, want ÷", s.Operator)
	}

	// Продажа: клиент платит MMK, счета мьянманские
	s, actions := Step(s, callback(CallbackConfirm), env)
	if !strings.Contains(actions[0].Buttons[0][0].Text, "KBZ") {
		t.Errorf("sell payment buttons = %+v, want KBZ", actions[0].Buttons)
	}
	_ = s
}

func TestUnknownEventReprompts(t *testing.T) {
	env := testEnv()
	s := session.Session{UserID: 1, State: session.StateWaitReceipt}

	next, actions := Step(s, text("hello"), env)
	if next.State != session.StateWaitReceipt {
		t.Errorf("State changed to %q on unknown event", next.State)
	}
	if !strings.Contains(firstText(t, actions), "receipt") {
		t.Errorf("reprompt = %q", firstText(t, actions))
	}
}
