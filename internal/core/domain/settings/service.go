// internal/core/domain/settings/service.go
package settings

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"thb-mmk-exchange-bot/internal/backend"
	"thb-mmk-exchange-bot/internal/core/domain/banks"
	"thb-mmk-exchange-bot/internal/core/domain/exchange"
	"thb-mmk-exchange-bot/internal/infrastructure/cache"
	"thb-mmk-exchange-bot/pkg/logger"
)

const (
	snapshotCacheKey = "settings:snapshot"
	snapshotCacheTTL = 24 * time.Hour
)

// Fetcher - источник настроек и счетов (бэкенд обменника)
type Fetcher interface {
	GetSettings(ctx context.Context) (backend.Settings, error)
	GetBanks(ctx context.Context, country string) ([]banks.Account, error)
}

// Snapshot - согласованный срез настроек на момент обновления.
// Обработчики читают срез целиком, чтобы курс и счета не разъезжались
// посреди диалога.
type Snapshot struct {
	BuyRate       decimal.Decimal `json:"buy_rate"`
	SellRate      decimal.Decimal `json:"sell_rate"`
	Maintenance   bool            `json:"maintenance"`
	AuthEnabled   bool            `json:"auth_enabled"`
	AuthorizedIDs []int64         `json:"authorized_ids"`
	ThaiBanks     []banks.Account `json:"thai_banks"`
	MyanmarBanks  []banks.Account `json:"myanmar_banks"`
	RefreshedAt   time.Time       `json:"refreshed_at"`
}

// Engine собирает курсовой движок из среза
func (s Snapshot) Engine() *exchange.Engine {
	return exchange.NewEngine(s.BuyRate, s.SellRate)
}

// Authorized проверяет доступ пользователя при включенной авторизации
func (s Snapshot) Authorized(userID int64) bool {
	if !s.AuthEnabled {
		return true
	}
	for _, id := range s.AuthorizedIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// SettleAccount возвращает первый активный счет в валюте выплаты
func (s Snapshot) SettleAccount(cur exchange.Currency) (int, bool) {
	accounts := s.ThaiBanks
	if cur == exchange.MMK {
		accounts = s.MyanmarBanks
	}
	for _, a := range accounts {
		if a.Active {
			return a.ID, true
		}
	}
	return 0, false
}

// Service держит актуальный срез настроек и периодически обновляет его
// с бэкенда. При недоступности бэкенда работает на последнем удачном
// срезе, при холодном старте поднимает срез из кэша.
type Service struct {
	fetcher Fetcher
	cache   cache.Cache

	defaultBuy  decimal.Decimal
	defaultSell decimal.Decimal

	mu       sync.RWMutex
	snapshot Snapshot
	loaded   bool
}

// NewService создает сервис настроек с курсами по умолчанию
func NewService(fetcher Fetcher, c cache.Cache, defaultBuy, defaultSell decimal.Decimal) *Service {
	return &Service{
		fetcher:     fetcher,
		cache:       c,
		defaultBuy:  defaultBuy,
		defaultSell: defaultSell,
	}
}

// Snapshot возвращает текущий срез настроек
func (s *Service) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.loaded {
		return Snapshot{BuyRate: s.defaultBuy, SellRate: s.defaultSell}
	}
	return s.snapshot
}

// SettleAccount реализует выбор счета выплаты для обработки заявок
func (s *Service) SettleAccount(cur exchange.Currency) (int, bool) {
	return s.Snapshot().SettleAccount(cur)
}

// Load поднимает срез при старте: сначала бэкенд, при неудаче кэш
func (s *Service) Load(ctx context.Context) error {
	if err := s.Refresh(ctx); err == nil {
		return nil
	}

	var snap Snapshot
	if err := s.cache.Get(ctx, snapshotCacheKey, &snap); err != nil {
		logger.Warn("Settings: бэкенд и кэш недоступны, работаем на курсах по умолчанию")
		return nil
	}

	s.mu.Lock()
	s.snapshot = snap
	s.loaded = true
	s.mu.Unlock()

	logger.Info("Settings: срез поднят из кэша (обновлен %s)", snap.RefreshedAt.Format(time.RFC3339))
	return nil
}

// Refresh запрашивает настройки и счета у бэкенда и публикует новый срез.
// Неудача не трогает текущий срез.
func (s *Service) Refresh(ctx context.Context) error {
	cfg, err := s.fetcher.GetSettings(ctx)
	if err != nil {
		logger.Warn("Settings: не удалось обновить настройки: %v", err)
		return err
	}

	thai, err := s.fetcher.GetBanks(ctx, "thai")
	if err != nil {
		logger.Warn("Settings: не удалось обновить тайские счета: %v", err)
		return err
	}
	myanmar, err := s.fetcher.GetBanks(ctx, "myanmar")
	if err != nil {
		logger.Warn("Settings: не удалось обновить мьянманские счета: %v", err)
		return err
	}

	snap := Snapshot{
		BuyRate:       s.parseRate(cfg.Buy, s.defaultBuy),
		SellRate:      s.parseRate(cfg.Sell, s.defaultSell),
		Maintenance:   cfg.MaintenanceMode,
		AuthEnabled:   cfg.AuthFeature,
		AuthorizedIDs: cfg.AuthorizedIDs,
		ThaiBanks:     thai,
		MyanmarBanks:  myanmar,
		RefreshedAt:   time.Now(),
	}

	s.mu.Lock()
	s.snapshot = snap
	s.loaded = true
	s.mu.Unlock()

	if err := s.cache.Set(ctx, snapshotCacheKey, snap, snapshotCacheTTL); err != nil {
		logger.Warn("Settings: не удалось сохранить срез в кэш: %v", err)
	}

	logger.Debug("Settings: срез обновлен, buy=%s sell=%s, банков %d/%d",
		snap.BuyRate, snap.SellRate, len(snap.ThaiBanks), len(snap.MyanmarBanks))
	return nil
}

// parseRate разбирает курс из строки, пустой или битый курс
// заменяется значением по умолчанию
func (s *Service) parseRate(raw string, fallback decimal.Decimal) decimal.Decimal {
	if raw == "" {
		return fallback
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil || rate.LessThanOrEqual(decimal.Zero) {
		logger.Warn("Settings: некорректный курс %q, используем %s", raw, fallback)
		return fallback
	}
	return rate
}
