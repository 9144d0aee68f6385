// internal/delivery/httpserver/server.go
package httpserver

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"thb-mmk-exchange-bot/internal/delivery/telegram"
	"thb-mmk-exchange-bot/pkg/logger"
)

// UpdateHandler обрабатывает апдейт Telegram
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, upd telegram.Update)
}

// BackendEvent - событие вебхука бэкенда.
// На проводе: {"event": "...", "data": {...}}.
type BackendEvent struct {
	Event   string
	OrderID string
	UserID  int64
	Status  string
	Text    string
}

// UnmarshalJSON разворачивает конверт {event, data}
func (e *BackendEvent) UnmarshalJSON(b []byte) error {
	var wire struct {
		Event string `json:"event"`
		Data  struct {
			OrderID string `json:"order_id"`
			UserID  int64  `json:"user_id"`
			Status  string `json:"status"`
			Text    string `json:"text"`
		} `json:"data"`
	}
	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}
	e.Event = wire.Event
	e.OrderID = wire.Data.OrderID
	e.UserID = wire.Data.UserID
	e.Status = wire.Data.Status
	e.Text = wire.Data.Text
	return nil
}

// BackendEventHandler обрабатывает события бэкенда
type BackendEventHandler interface {
	HandleBackendEvent(ctx context.Context, ev BackendEvent)
}

// Config - параметры HTTP сервера
type Config struct {
	Addr            string
	TelegramSecret  string
	BackendSecret   string
	MaxBodySize     int64
	ShutdownTimeout time.Duration
}

// Server - HTTP вход бота: вебхуки и здоровье
type Server struct {
	httpServer *http.Server
	cfg        Config
	updates    UpdateHandler
	events     BackendEventHandler
}

// NewServer создает сервер с роутингом
func NewServer(cfg Config, updates UpdateHandler, events BackendEventHandler) *Server {
	s := &Server{cfg: cfg, updates: updates, events: events}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/healthz", s.handleHealth)
	r.Post("/webhook/telegram", s.requireSecret("X-Telegram-Bot-Api-Secret-Token", cfg.TelegramSecret, s.handleTelegram))
	r.Post("/webhook/backend", s.requireSecret("X-Webhook-Secret", cfg.BackendSecret, s.handleBackend))

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start запускает сервер, блокирует до остановки
func (s *Server) Start() error {
	logger.Info("HTTP: слушаем %s", s.cfg.Addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown останавливает сервер, дожидаясь активных запросов
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler возвращает роутер (для тестов)
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// requireSecret сверяет секретный заголовок за постоянное время
func (s *Server) requireSecret(header, secret string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(header)
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			logger.Warn("HTTP: %s с неверным секретом от %s", r.URL.Path, r.RemoteAddr)
			w.WriteHeader(http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleTelegram принимает апдейт и отвечает сразу: Telegram повторяет
// доставку при медленном ответе, обработка идет асинхронно
func (s *Server) handleTelegram(w http.ResponseWriter, r *http.Request) {
	var upd telegram.Update
	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodySize)
	if err := json.NewDecoder(body).Decode(&upd); err != nil {
		logger.Warn("HTTP: битый апдейт Telegram: %v", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		s.updates.HandleUpdate(ctx, upd)
	}()

	w.WriteHeader(http.StatusOK)
}

// handleBackend принимает событие бэкенда. Неизвестные события
// логируются и подтверждаются, чтобы бэкенд их не переотправлял.
func (s *Server) handleBackend(w http.ResponseWriter, r *http.Request) {
	var ev BackendEvent
	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodySize)
	if err := json.NewDecoder(body).Decode(&ev); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		s.events.HandleBackendEvent(ctx, ev)
	}()

	w.WriteHeader(http.StatusOK)
}
