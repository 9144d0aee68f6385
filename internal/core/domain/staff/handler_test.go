package staff

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"thb-mmk-exchange-bot/internal/core/domain/exchange"
	"thb-mmk-exchange-bot/internal/core/domain/orders"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeAPI struct {
	order orders.Order
	errGet error

	statusCalls []orders.Status
	notes       []string
	confirmed   []string
	deltas      []BalanceDelta
	errStatus   error
	errBalance  error
}

func (f *fakeAPI) GetOrder(ctx context.Context, id string) (orders.Order, error) {
	return f.order, f.errGet
}

func (f *fakeAPI) UpdateOrderStatus(ctx context.Context, id string, status orders.Status, note string) error {
	if f.errStatus != nil {
		return f.errStatus
	}
	f.statusCalls = append(f.statusCalls, status)
	f.notes = append(f.notes, note)
	return nil
}

func (f *fakeAPI) ConfirmReceipt(ctx context.Context, id string) error {
	f.confirmed = append(f.confirmed, id)
	return nil
}

func (f *fakeAPI) UpdateBalance(ctx context.Context, delta BalanceDelta) error {
	if f.errBalance != nil {
		return f.errBalance
	}
	f.deltas = append(f.deltas, delta)
	return nil
}

type fakeReader struct {
	amount decimal.Decimal
	err    error
}

func (f *fakeReader) ExtractAmount(ctx context.Context, image []byte, mimeType string) (decimal.Decimal, error) {
	return f.amount, f.err
}

type fakeFiles struct{ err error }

func (f *fakeFiles) Download(ctx context.Context, fileID string) ([]byte, string, error) {
	return []byte("img"), "image/jpeg", f.err
}

type fakeNotifier struct {
	userMsgs  []string
	userIDs   []int64
	staffMsgs []string
}

func (f *fakeNotifier) NotifyUser(ctx context.Context, userID int64, text string) error {
	f.userIDs = append(f.userIDs, userID)
	f.userMsgs = append(f.userMsgs, text)
	return nil
}

func (f *fakeNotifier) NotifyStaff(ctx context.Context, text string) error {
	f.staffMsgs = append(f.staffMsgs, text)
	return nil
}

func settleAcc(cur exchange.Currency) (int, bool) {
	if cur == exchange.MMK {
		return 20, true
	}
	return 10, true
}

const buyNotification = "070325A0012B\nOrder: 070325A0012B\nBuy 1,000 × 125.78 = 125,800\nKBZ 111222333 Aung Aung"

func buyOrder() orders.Order {
	return orders.Order{
		ID:             "070325A0012B",
		UserID:         42,
		Direction:      orders.Buy,
		Status:         orders.StatusPending,
		AmountSent:     dec("1000"),
		AmountReceived: dec("125800"),
		PaymentBankID:  1,
	}
}

func TestSettleCompletesOrder(t *testing.T) {
	api := &fakeAPI{order: buyOrder()}
	notifier := &fakeNotifier{}
	h := NewHandler(api, &fakeReader{amount: dec("125800")}, &fakeFiles{}, notifier, settleAcc)

	err := h.Handle(context.Background(), Reply{RepliedText: buyNotification, PhotoFileID: "photo"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if len(api.statusCalls) != 1 || api.statusCalls[0] != orders.StatusComplete {
		t.Fatalf("status calls = %v, want [complete]", api.statusCalls)
	}
	if len(api.confirmed) != 1 {
		t.Fatalf("confirmed = %v, want one receipt confirmation", api.confirmed)
	}
	if len(api.deltas) != 1 {
		t.Fatalf("deltas = %d, want 1", len(api.deltas))
	}

	delta := api.deltas[0]
	if !delta.ThaiChange.Equal(dec("1000")) {
		t.Errorf("ThaiChange = %s, want +1000", delta.ThaiChange)
	}
	if !delta.MyanmarChange.Equal(dec("-125800")) {
		t.Errorf("MyanmarChange = %s, want -125800", delta.MyanmarChange)
	}
	if delta.ThaiBankID != 1 || delta.MyanmarBankID != 20 {
		t.Errorf("bank ids = %d/%d, want 1/20", delta.ThaiBankID, delta.MyanmarBankID)
	}
	if delta.IdempotencyKey == "" {
		t.Error("IdempotencyKey is empty")
	}

	if len(notifier.userMsgs) != 1 || notifier.userIDs[0] != 42 {
		t.Fatalf("user notifications = %v to %v", notifier.userMsgs, notifier.userIDs)
	}
	if !strings.Contains(notifier.userMsgs[0], "complete") {
		t.Errorf("user message = %q", notifier.userMsgs[0])
	}
}

func TestSettleWithinToleranceAccepted(t *testing.T) {
	api := &fakeAPI{order: buyOrder()}
	// 125,000 против 125,800: разница 800, в пределах ±1000 MMK
	h := NewHandler(api, &fakeReader{amount: dec("125000")}, &fakeFiles{}, &fakeNotifier{}, settleAcc)

	if err := h.Handle(context.Background(), Reply{RepliedText: buyNotification, PhotoFileID: "p"}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(api.statusCalls) != 1 {
		t.Fatal("order not completed for in-tolerance amount")
	}
	// Баланс двигается на фактически выплаченное
	if !api.deltas[0].MyanmarChange.Equal(dec("-125000")) {
		t.Errorf("MyanmarChange = %s, want -125000", api.deltas[0].MyanmarChange)
	}
}

func TestSettleOutOfToleranceAsksHuman(t *testing.T) {
	api := &fakeAPI{order: buyOrder()}
	notifier := &fakeNotifier{}
	h := NewHandler(api, &fakeReader{amount: dec("120000")}, &fakeFiles{}, notifier, settleAcc)

	if err := h.Handle(context.Background(), Reply{RepliedText: buyNotification, PhotoFileID: "p"}); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if len(api.statusCalls) != 0 {
		t.Error("order was completed despite out-of-tolerance amount")
	}
	if len(notifier.staffMsgs) != 1 || !strings.Contains(notifier.staffMsgs[0], "verify manually") {
		t.Errorf("staff messages = %v", notifier.staffMsgs)
	}
}

func TestSettleSkipsFinalOrder(t *testing.T) {
	order := buyOrder()
	order.Status = orders.StatusComplete
	api := &fakeAPI{order: order}
	notifier := &fakeNotifier{}
	h := NewHandler(api, &fakeReader{amount: dec("125800")}, &fakeFiles{}, notifier, settleAcc)

	if err := h.Handle(context.Background(), Reply{RepliedText: buyNotification, PhotoFileID: "p"}); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if len(api.statusCalls) != 0 || len(api.deltas) != 0 {
		t.Error("final order was re-settled")
	}
	if len(notifier.staffMsgs) != 1 {
		t.Errorf("staff messages = %v, want already-final notice", notifier.staffMsgs)
	}
}

func TestSellBalanceDelta(t *testing.T) {
	order := orders.Order{
		ID:             "070325A0003S",
		UserID:         7,
		Direction:      orders.Sell,
		Status:         orders.StatusPending,
		AmountSent:     dec("123600"),
		AmountReceived: dec("1000"),
		PaymentBankID:  2,
	}
	api := &fakeAPI{order: order}
	h := NewHandler(api, &fakeReader{amount: dec("1000")}, &fakeFiles{}, &fakeNotifier{}, settleAcc)

	reply := Reply{
		RepliedText: "070325A0003S\nOrder: 070325A0003S\nSell 123,600 ÷ 123.60 = 1,000",
		PhotoFileID: "p",
	}
	if err := h.Handle(context.Background(), reply); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	delta := api.deltas[0]
	if !delta.MyanmarChange.Equal(dec("123600")) {
		t.Errorf("MyanmarChange = %s, want +123600", delta.MyanmarChange)
	}
	if !delta.ThaiChange.Equal(dec("-1000")) {
		t.Errorf("ThaiChange = %s, want -1000", delta.ThaiChange)
	}
	if delta.MyanmarBankID != 2 || delta.ThaiBankID != 10 {
		t.Errorf("bank ids = %d/%d, want 2/10", delta.MyanmarBankID, delta.ThaiBankID)
	}
}

func TestRejectRelaysReason(t *testing.T) {
	api := &fakeAPI{order: buyOrder()}
	notifier := &fakeNotifier{}
	h := NewHandler(api, &fakeReader{}, &fakeFiles{}, notifier, settleAcc)

	reply := Reply{RepliedText: buyNotification, Text: "Reject: blurry receipt"}
	if err := h.Handle(context.Background(), reply); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if len(api.statusCalls) != 1 || api.statusCalls[0] != orders.StatusRejected {
		t.Fatalf("status = %v, want [rejected]", api.statusCalls)
	}
	if api.notes[0] != "blurry receipt" {
		t.Errorf("note = %q", api.notes[0])
	}
	if !strings.Contains(notifier.userMsgs[0], "blurry receipt") {
		t.Errorf("user message = %q, want the reason relayed", notifier.userMsgs[0])
	}
}

func TestComplainSetsStatus(t *testing.T) {
	api := &fakeAPI{order: buyOrder()}
	h := NewHandler(api, &fakeReader{}, &fakeFiles{}, &fakeNotifier{}, settleAcc)

	reply := Reply{RepliedText: buyNotification, Text: "complain: account frozen"}
	if err := h.Handle(context.Background(), reply); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if len(api.statusCalls) != 1 || api.statusCalls[0] != orders.StatusComplain {
		t.Fatalf("status = %v, want [complain]", api.statusCalls)
	}
}

func TestNoOrderIDAsksHuman(t *testing.T) {
	api := &fakeAPI{order: buyOrder()}
	notifier := &fakeNotifier{}
	h := NewHandler(api, &fakeReader{}, &fakeFiles{}, notifier, settleAcc)

	reply := Reply{RepliedText: "some unrelated message", PhotoFileID: "p"}
	if err := h.Handle(context.Background(), reply); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if len(api.statusCalls) != 0 {
		t.Error("order touched without an order id")
	}
	if len(notifier.staffMsgs) != 1 {
		t.Errorf("staff messages = %v", notifier.staffMsgs)
	}
}

func TestOCRFailureAsksHuman(t *testing.T) {
	api := &fakeAPI{order: buyOrder()}
	notifier := &fakeNotifier{}
	h := NewHandler(api, &fakeReader{err: errors.New("unreadable")}, &fakeFiles{}, notifier, settleAcc)

	if err := h.Handle(context.Background(), Reply{RepliedText: buyNotification, PhotoFileID: "p"}); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if len(api.statusCalls) != 0 {
		t.Error("order completed despite OCR failure")
	}
	if len(notifier.staffMsgs) != 1 {
		t.Errorf("staff messages = %v", notifier.staffMsgs)
	}
}

func TestPlainTextIgnored(t *testing.T) {
	api := &fakeAPI{order: buyOrder()}
	notifier := &fakeNotifier{}
	h := NewHandler(api, &fakeReader{}, &fakeFiles{}, notifier, settleAcc)

	// Переписка операторов между собой: клиенту ничего не уходит,
	// доставку сообщений клиенту несет вебхук admin_replied
	reply := Reply{RepliedText: buyNotification, Text: "Payment will arrive within 10 minutes"}
	if err := h.Handle(context.Background(), reply); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if len(notifier.userMsgs) != 0 {
		t.Errorf("user messages = %v, want none", notifier.userMsgs)
	}
	if len(notifier.staffMsgs) != 0 {
		t.Errorf("staff messages = %v, want none", notifier.staffMsgs)
	}
	if len(api.statusCalls) != 0 {
		t.Error("plain text changed order status")
	}
}
