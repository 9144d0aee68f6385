// cmd/bot/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"thb-mmk-exchange-bot/application/dispatcher"
	"thb-mmk-exchange-bot/application/scheduler"
	"thb-mmk-exchange-bot/internal/backend"
	"thb-mmk-exchange-bot/internal/core/domain/session"
	"thb-mmk-exchange-bot/internal/core/domain/settings"
	"thb-mmk-exchange-bot/internal/core/domain/staff"
	"thb-mmk-exchange-bot/internal/delivery/httpserver"
	"thb-mmk-exchange-bot/internal/delivery/telegram"
	"thb-mmk-exchange-bot/internal/infrastructure/cache"
	memorycache "thb-mmk-exchange-bot/internal/infrastructure/cache/memory"
	rediscache "thb-mmk-exchange-bot/internal/infrastructure/cache/redis"
	"thb-mmk-exchange-bot/internal/infrastructure/config"
	"thb-mmk-exchange-bot/internal/notify"
	"thb-mmk-exchange-bot/internal/ocr"
	"thb-mmk-exchange-bot/pkg/logger"
	"thb-mmk-exchange-bot/pkg/retry"
)

func main() {
	cfg, err := config.LoadConfig(".env")
	if err != nil {
		log.Fatalf("❌ Конфигурация: %v", err)
	}
	cfg.PrintSummary()

	if err := logger.InitGlobal(cfg.Logging.File, cfg.Logging.Level, cfg.Logging.DebugMode); err != nil {
		log.Fatalf("❌ Логгер: %v", err)
	}
	defer logger.GetLogger().Close()

	logger.Info("🚀 Запуск THB/MMK exchange bot v%s (%s)", cfg.Version, cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.GetLogger().Fatal("❌ %v", err)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	// Кэш: Redis по конфигурации, иначе in-memory
	var ocrCache cache.Cache
	memCache := memorycache.NewCache()
	if cfg.Redis.Enabled {
		rc := rediscache.NewCache(cfg.GetRedisAddress(), cfg.Redis.Password, cfg.Redis.DB)
		if err := rc.Ping(ctx); err != nil {
			logger.Warn("Redis недоступен (%v), кэш переведен в память", err)
			ocrCache = memCache
		} else {
			defer rc.Close()
			ocrCache = rc
			logger.Info("✅ Redis подключен: %s", cfg.GetRedisAddress())
		}
	} else {
		ocrCache = memCache
	}

	// Распознавание квитанций
	gemini, err := ocr.NewGemini(ctx, cfg.OCR.APIKey, cfg.OCR.Model, retry.Policy{
		MaxRetries: cfg.OCR.MaxRetries,
		BaseDelay:  cfg.OCR.BaseDelay,
		Multiplier: 2.0,
	})
	if err != nil {
		return fmt.Errorf("gemini: %w", err)
	}
	defer gemini.Close()
	extractor := ocr.NewCached(gemini, ocrCache, cfg.OCR.CacheTTL)

	// Бэкенд обменника
	backendClient := backend.NewClient(cfg.Backend.BaseURL, cfg.Backend.Secret, cfg.Backend.Timeout, retry.Policy{
		MaxRetries: cfg.Backend.MaxRetries,
		BaseDelay:  cfg.Backend.RetryDelay,
		Multiplier: 2.0,
	})

	// Настройки: курсы, счета, флаги
	settingsSvc := settings.NewService(
		backendClient,
		ocrCache,
		decimal.RequireFromString(cfg.Exchange.DefaultBuyRate),
		decimal.RequireFromString(cfg.Exchange.DefaultSellRate),
	)
	if err := settingsSvc.Load(ctx); err != nil {
		logger.Warn("Настройки не загружены при старте: %v", err)
	}

	// Telegram
	bot := telegram.NewClient(cfg.Telegram.BotToken)
	notifier := notify.NewNotifier(bot, cfg.Telegram.AdminGroupID, cfg.Telegram.AdminTopicID)

	// Диалоги
	store := session.NewStore(cfg.Session.TTL)

	// Обработка ответов операторов
	staffHandler := staff.NewHandler(backendClient, extractor, bot, notifier, settingsSvc.SettleAccount)

	disp := dispatcher.NewDispatcher(dispatcher.Config{
		Bot:           bot,
		Store:         store,
		Settings:      settingsSvc,
		Backend:       backendClient,
		Extractor:     extractor,
		Staff:         staffHandler,
		Notifier:      notifier,
		StaffChatID:   cfg.Telegram.AdminGroupID,
		MaxReceipts:   cfg.Session.MaxReceipts,
		MinConfidence: cfg.OCR.MinConfidence,
	})

	// Фоновые задачи
	sched := scheduler.New()
	sched.Register(&scheduler.Job{
		Name:        "settings-refresh",
		Description: "Обновление курсов, счетов и флагов с бэкенда",
		Schedule:    scheduler.Every(cfg.Exchange.RefreshInterval),
		Handler:     settingsSvc.Refresh,
	})
	sched.Register(&scheduler.Job{
		Name:        "session-sweep",
		Description: "Чистка простаивающих диалогов",
		Schedule:    scheduler.Every(cfg.Session.SweepInterval),
		Handler: func(ctx context.Context) error {
			if removed := store.Sweep(time.Now()); removed > 0 {
				logger.Debug("Sweep: удалено %d диалогов, осталось %d", removed, store.Len())
			}
			memCache.Sweep()
			return nil
		},
	})
	sched.Start()
	defer sched.Stop()

	// HTTP вход
	srv := httpserver.NewServer(httpserver.Config{
		Addr:            fmt.Sprintf(":%d", cfg.Server.Port),
		TelegramSecret:  cfg.Telegram.WebhookSecret,
		BackendSecret:   cfg.Backend.WebhookSecret,
		MaxBodySize:     cfg.Server.MaxBodySize,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, disp, disp)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	// Вебхук регистрируется после подъема сервера
	if cfg.Telegram.WebhookDomain != "" {
		if err := bot.SetWebhook(ctx, cfg.GetWebhookURL(), cfg.Telegram.WebhookSecret); err != nil {
			return fmt.Errorf("setWebhook: %w", err)
		}
	}

	logger.Info("✅ Бот готов к работе")

	select {
	case <-ctx.Done():
		logger.Info("🛑 Получен сигнал остановки")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Остановка HTTP сервера: %v", err)
	}

	logger.Info("👋 Бот остановлен")
	return nil
}
