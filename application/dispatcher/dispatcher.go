// application/dispatcher/dispatcher.go
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"thb-mmk-exchange-bot/internal/backend"
	"thb-mmk-exchange-bot/internal/core/domain/banks"
	"thb-mmk-exchange-bot/internal/core/domain/conversation"
	"thb-mmk-exchange-bot/internal/core/domain/orders"
	"thb-mmk-exchange-bot/internal/core/domain/receipts"
	"thb-mmk-exchange-bot/internal/core/domain/session"
	"thb-mmk-exchange-bot/internal/core/domain/settings"
	"thb-mmk-exchange-bot/internal/core/domain/staff"
	"thb-mmk-exchange-bot/internal/delivery/telegram"
	"thb-mmk-exchange-bot/internal/ocr"
	"thb-mmk-exchange-bot/pkg/logger"
)

// Таймаут фоновых операций (OCR, отправка заявки)
const backgroundTimeout = 90 * time.Second

// Bot - операции Telegram, нужные диспетчеру
type Bot interface {
	SendMessage(ctx context.Context, params telegram.SendMessageParams) (int, error)
	SendPhoto(ctx context.Context, params telegram.SendPhotoParams) (int, error)
	AnswerCallbackQuery(ctx context.Context, callbackID, text string) error
	Download(ctx context.Context, fileID string) ([]byte, string, error)
}

// Backend - операции бэкенда, нужные диспетчеру
type Backend interface {
	SubmitOrder(ctx context.Context, order orders.Order, images []backend.ReceiptImage) (orders.Order, error)
	LatestPending(ctx context.Context, userID int64) (orders.Order, bool, error)
	GetOrder(ctx context.Context, id string) (orders.Order, error)
	SubmitMessage(ctx context.Context, userID int64, text string) error
}

// StaffHandler обрабатывает ответы операторов
type StaffHandler interface {
	Handle(ctx context.Context, reply staff.Reply) error
}

// OrderNotifier публикует уведомления о новых заявках операторам
type OrderNotifier interface {
	NotifyOrder(ctx context.Context, order orders.Order, receiptFileIDs []string) error
}

// Dispatcher превращает апдейты Telegram в события диалога, гоняет их
// через машину состояний и исполняет ее действия
type Dispatcher struct {
	bot       Bot
	store     *session.Store
	settings  *settings.Service
	backend   Backend
	extractor ocr.Extractor
	staff     StaffHandler
	notifier  OrderNotifier

	staffChatID   int64
	maxReceipts   int
	minConfidence float64
	weights       banks.Weights
}

// Config - зависимости и параметры диспетчера
type Config struct {
	Bot           Bot
	Store         *session.Store
	Settings      *settings.Service
	Backend       Backend
	Extractor     ocr.Extractor
	Staff         StaffHandler
	Notifier      OrderNotifier
	StaffChatID   int64
	MaxReceipts   int
	MinConfidence float64
}

// NewDispatcher создает диспетчер
func NewDispatcher(cfg Config) *Dispatcher {
	return &Dispatcher{
		bot:           cfg.Bot,
		store:         cfg.Store,
		settings:      cfg.Settings,
		backend:       cfg.Backend,
		extractor:     cfg.Extractor,
		staff:         cfg.Staff,
		notifier:      cfg.Notifier,
		staffChatID:   cfg.StaffChatID,
		maxReceipts:   cfg.MaxReceipts,
		minConfidence: cfg.MinConfidence,
		weights:       banks.DefaultWeights,
	}
}

// HandleUpdate обрабатывает один апдейт Telegram
func (d *Dispatcher) HandleUpdate(ctx context.Context, upd telegram.Update) {
	switch {
	case upd.CallbackQuery != nil:
		d.handleCallback(ctx, upd.CallbackQuery)
	case upd.Message != nil:
		if upd.Message.Chat.ID == d.staffChatID {
			d.handleStaffMessage(ctx, upd.Message)
			return
		}
		d.handleMessage(ctx, upd.Message)
	}
}

func (d *Dispatcher) handleCallback(ctx context.Context, cb *telegram.CallbackQuery) {
	if err := d.bot.AnswerCallbackQuery(ctx, cb.ID, ""); err != nil {
		logger.Warn("Dispatcher: answerCallbackQuery: %v", err)
	}

	chatID := cb.From.ID
	if cb.Message != nil {
		chatID = cb.Message.Chat.ID
	}

	ev := conversation.Event{Kind: conversation.EventCallback, Callback: cb.Data}
	d.process(ctx, cb.From.ID, chatID, cb.From.Username, ev)
}

func (d *Dispatcher) handleMessage(ctx context.Context, msg *telegram.Message) {
	if msg.From == nil || msg.From.IsBot {
		return
	}

	var ev conversation.Event
	switch {
	case len(msg.Photo) > 0:
		ev = conversation.Event{
			Kind:         conversation.EventPhoto,
			FileID:       msg.LargestPhoto(),
			MediaGroupID: msg.MediaGroupID,
		}
	case strings.HasPrefix(msg.Text, "/"):
		ev = conversation.Event{Kind: conversation.EventCommand, Command: parseCommand(msg.Text)}
	case msg.Text != "":
		ev = conversation.Event{Kind: conversation.EventText, Text: msg.Text}
	default:
		return
	}

	d.process(ctx, msg.From.ID, msg.Chat.ID, msg.From.Username, ev)
}

// handleStaffMessage передает ответ оператора обработчику заявок.
// Интересны только ответы (reply) на уведомления бота.
func (d *Dispatcher) handleStaffMessage(ctx context.Context, msg *telegram.Message) {
	if msg.ReplyToMessage == nil || msg.From == nil {
		return
	}

	repliedText := msg.ReplyToMessage.Text
	if repliedText == "" {
		repliedText = msg.ReplyToMessage.Caption
	}

	text := msg.Text
	if text == "" {
		text = msg.Caption
	}

	reply := staff.Reply{
		RepliedText: repliedText,
		Text:        text,
		PhotoFileID: msg.LargestPhoto(),
		OperatorID:  msg.From.ID,
	}

	go func() {
		bg, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
		defer cancel()
		if err := d.staff.Handle(bg, reply); err != nil {
			logger.Error("Dispatcher: обработка ответа оператора: %v", err)
		}
	}()
}

// process гоняет событие через машину состояний и исполняет действия
func (d *Dispatcher) process(ctx context.Context, userID, chatID int64, username string, ev conversation.Event) {
	env := d.buildEnv(ctx, userID, ev)

	sess, ok := d.store.Get(userID)
	if !ok {
		sess = session.Session{UserID: userID, ChatID: chatID, Username: username}
	}
	sess.ChatID = chatID

	// Текст при ожидающей заявке - вопрос клиента, а не шаг диалога:
	// пересылается операторам через бэкенд
	if sess.State == session.StatePending && ev.Kind == conversation.EventText {
		d.relayUserMessage(ctx, sess, ev.Text)
		return
	}

	next, actions := conversation.Step(sess, ev, env)
	d.store.Put(next)
	d.execute(ctx, next, actions)
}

// buildEnv собирает снимок окружения для шага машины
func (d *Dispatcher) buildEnv(ctx context.Context, userID int64, ev conversation.Event) conversation.Env {
	snap := d.settings.Snapshot()

	env := conversation.Env{
		Maintenance:   snap.Maintenance,
		AuthEnabled:   snap.AuthEnabled,
		Authorized:    snap.Authorized(userID),
		Engine:        snap.Engine(),
		ThaiBanks:     snap.ThaiBanks,
		MyanmarBanks:  snap.MyanmarBanks,
		MaxReceipts:   d.maxReceipts,
		MinConfidence: d.minConfidence,
	}

	// Открытая заявка проверяется только на командах: дергать бэкенд
	// на каждое сообщение незачем
	if ev.Kind == conversation.EventCommand && (ev.Command == "start" || ev.Command == "status") {
		if order, found, err := d.backend.LatestPending(ctx, userID); err == nil && found {
			env.PendingOrderID = order.ID
		}
	}
	return env
}

// execute исполняет действия машины
func (d *Dispatcher) execute(ctx context.Context, sess session.Session, actions []conversation.Action) {
	for _, a := range actions {
		switch a.Kind {
		case conversation.ActionSendText:
			_, err := d.bot.SendMessage(ctx, telegram.SendMessageParams{
				ChatID:      sess.ChatID,
				Text:        a.Text,
				ReplyMarkup: telegram.Markup(a.Buttons),
			})
			if err != nil && !errors.Is(err, telegram.ErrBlocked) {
				logger.Error("Dispatcher: sendMessage: %v", err)
			}
		case conversation.ActionSendPhotoURL:
			_, err := d.bot.SendPhoto(ctx, telegram.SendPhotoParams{
				ChatID: sess.ChatID,
				Photo:  a.PhotoURL,
			})
			if err != nil && !errors.Is(err, telegram.ErrBlocked) {
				logger.Error("Dispatcher: sendPhoto: %v", err)
			}
		case conversation.ActionRunOCR:
			go d.runOCR(sess, a.FileID, sess.Generation)
		case conversation.ActionSubmitOrder:
			go d.submitOrder(sess)
		case conversation.ActionClearSession:
			d.store.Delete(sess.UserID)
		}
	}
}

// runOCR скачивает фото, распознает квитанцию, сверяет со счетами и
// возвращает результат в машину. Запись отбрасывается, если диалог
// успел уйти в другую попытку обмена.
func (d *Dispatcher) runOCR(sess session.Session, fileID string, gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
	defer cancel()

	ev := d.verifyReceipt(ctx, sess, fileID)
	d.feedBack(ctx, sess.UserID, gen, ev)
}

// verifyReceipt прогоняет фото через OCR и сверку со счетами
func (d *Dispatcher) verifyReceipt(ctx context.Context, sess session.Session, fileID string) conversation.Event {
	rejected := func(reason string) conversation.Event {
		return conversation.Event{Kind: conversation.EventReceiptRejected, FailReason: reason}
	}

	image, mimeType, err := d.bot.Download(ctx, fileID)
	if err != nil {
		logger.Warn("OCR: скачивание %s: %v", fileID, err)
		return rejected("we could not download the photo, please send it again")
	}

	rec, err := d.extractor.Extract(ctx, image, mimeType)
	switch {
	case errors.Is(err, ocr.ErrNotAReceipt):
		return rejected("this photo does not look like a payment receipt")
	case errors.Is(err, ocr.ErrInvalidImage):
		return rejected("the photo could not be read, please send a clearer one")
	case err != nil:
		logger.Warn("OCR: распознавание: %v", err)
		return rejected("receipt verification is temporarily unavailable, please try again")
	}

	if rec.Confidence < d.minConfidence {
		return rejected("the receipt is not clear enough, please send a sharper photo")
	}

	if !rec.Amount.IsPositive() {
		return rejected("the amount on the receipt could not be read, please send a clearer photo")
	}

	snap := d.settings.Snapshot()
	accounts := snap.ThaiBanks
	if sess.Direction == orders.Sell {
		accounts = snap.MyanmarBanks
	}

	// Порог один на оба среза: и на уверенность модели, и на оценку сверки
	match := banks.Match(rec.AccountNumber, rec.AccountName, rec.BankName, accounts, d.weights)
	if match.Account == nil || match.Score < d.minConfidence {
		return rejected("the receipt does not match any of our payment accounts")
	}

	return conversation.Event{
		Kind: conversation.EventReceiptVerified,
		Receipt: receipts.Receipt{
			Amount:           rec.Amount,
			BankName:         rec.BankName,
			AccountNumber:    rec.AccountNumber,
			TransactionID:    rec.TransactionID,
			TransactionDate:  rec.TransactionDate,
			MatchedAccountID: match.Account.ID,
			FileID:           fileID,
			Confidence:       rec.Confidence,
		},
		MatchScore: match.Score,
	}
}

// feedBack возвращает асинхронный результат в машину состояний.
// Шаг выполняется под шардовой блокировкой и только в той же попытке
// обмена, в которой запускалось распознавание.
func (d *Dispatcher) feedBack(ctx context.Context, userID int64, gen uint64, ev conversation.Event) {
	env := d.buildEnv(ctx, userID, ev)

	var actions []conversation.Action
	applied := d.store.UpdateIfGeneration(userID, gen, func(s *session.Session) {
		next, acts := conversation.Step(*s, ev, env)
		*s = next
		actions = acts
	})
	if !applied {
		logger.Debug("Dispatcher: результат OCR отброшен, сессия %d ушла вперед", userID)
		return
	}

	cur, ok := d.store.Get(userID)
	if !ok {
		return
	}
	d.execute(ctx, cur, actions)
}

// submitOrder собирает заявку из сессии и отправляет на бэкенд
func (d *Dispatcher) submitOrder(sess session.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
	defer cancel()

	order := orders.Order{
		UserID:         sess.UserID,
		Username:       sess.Username,
		Direction:      sess.Direction,
		Status:         orders.StatusPending,
		AmountSent:     sess.AmountSent,
		AmountReceived: sess.AmountReceived,
		Rate:           sess.Rate,
		Operator:       sess.Operator,
		UserBankName:   sess.UserBankName,
		AccountNumber:  sess.AccountNumber,
		AccountName:    sess.AccountName,
	}
	if sess.PaymentBank != nil {
		order.PaymentBankID = sess.PaymentBank.ID
	}

	images := d.downloadReceipts(ctx, sess)

	created, err := d.backend.SubmitOrder(ctx, order, images)
	if err != nil {
		logger.Error("Dispatcher: отправка заявки пользователя %d: %v", sess.UserID, err)
		d.notifyUser(ctx, sess.ChatID, "⚠️ We could not submit your order. Please try again with /start or contact support.")
		return
	}

	d.store.Update(sess.UserID, func(s *session.Session) {
		s.OrderID = created.ID
	})

	logger.Order(created.ID, "submitted")
	d.notifyUser(ctx, sess.ChatID, fmt.Sprintf("✅ Order %s accepted. We will notify you once it is processed.", created.ID))

	fileIDs := make([]string, 0, len(sess.Receipts)+1)
	for _, r := range sess.Receipts {
		fileIDs = append(fileIDs, r.FileID)
	}
	if sess.QRFileID != "" {
		fileIDs = append(fileIDs, sess.QRFileID)
	}
	if err := d.notifier.NotifyOrder(ctx, created, fileIDs); err != nil {
		logger.Error("Dispatcher: уведомление операторов о %s: %v", created.ID, err)
	}
}

// downloadReceipts скачивает фото квитанций и QR для вложения в заявку
func (d *Dispatcher) downloadReceipts(ctx context.Context, sess session.Session) []backend.ReceiptImage {
	var images []backend.ReceiptImage
	for i, r := range sess.Receipts {
		data, _, err := d.bot.Download(ctx, r.FileID)
		if err != nil {
			logger.Warn("Dispatcher: скачивание квитанции %s: %v", r.FileID, err)
			continue
		}
		images = append(images, backend.ReceiptImage{
			Name: fmt.Sprintf("receipt_%d.jpg", i+1),
			Data: data,
		})
	}
	if sess.QRFileID != "" {
		if data, _, err := d.bot.Download(ctx, sess.QRFileID); err == nil {
			images = append(images, backend.ReceiptImage{Name: "payout_qr.jpg", Data: data})
		}
	}
	return images
}

// relayUserMessage пересылает вопрос клиента по открытой заявке операторам
func (d *Dispatcher) relayUserMessage(ctx context.Context, sess session.Session, text string) {
	if err := d.backend.SubmitMessage(ctx, sess.UserID, text); err != nil {
		logger.Error("Dispatcher: пересылка сообщения пользователя %d: %v", sess.UserID, err)
		d.notifyUser(ctx, sess.ChatID, "⚠️ We could not deliver your message. Please try again later.")
		return
	}
	d.notifyUser(ctx, sess.ChatID, "📨 Your message has been passed to our staff. We will reply shortly.")
}

func (d *Dispatcher) notifyUser(ctx context.Context, chatID int64, text string) {
	_, err := d.bot.SendMessage(ctx, telegram.SendMessageParams{ChatID: chatID, Text: text})
	if err != nil && !errors.Is(err, telegram.ErrBlocked) {
		logger.Error("Dispatcher: sendMessage: %v", err)
	}
}

// parseCommand извлекает имя команды из текста "/cmd@bot args"
func parseCommand(text string) string {
	cmd := strings.TrimPrefix(text, "/")
	if i := strings.IndexAny(cmd, " @"); i >= 0 {
		cmd = cmd[:i]
	}
	return strings.ToLower(cmd)
}
