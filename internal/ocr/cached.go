// internal/ocr/cached.go
package ocr

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"thb-mmk-exchange-bot/internal/infrastructure/cache"
	"thb-mmk-exchange-bot/pkg/logger"
)

// Cached - декоратор с кэшем по хэшу содержимого.
// Повторно присланное фото не ходит в модель.
type Cached struct {
	next  Extractor
	cache cache.Cache
	ttl   time.Duration
}

// NewCached оборачивает распознаватель кэшем
func NewCached(next Extractor, c cache.Cache, ttl time.Duration) *Cached {
	return &Cached{next: next, cache: c, ttl: ttl}
}

func contentKey(image []byte) string {
	sum := sha256.Sum256(image)
	return "ocr:" + hex.EncodeToString(sum[:])
}

// Extract возвращает кэшированные реквизиты или идет в модель
func (c *Cached) Extract(ctx context.Context, image []byte, mimeType string) (Receipt, error) {
	key := contentKey(image)

	var cached Receipt
	if err := c.cache.Get(ctx, key, &cached); err == nil {
		logger.Debug("OCR: попадание в кэш %s", key[:16])
		if !cached.IsReceipt() {
			return cached, ErrNotAReceipt
		}
		return cached, nil
	} else if !errors.Is(err, cache.ErrMiss) {
		logger.Warn("OCR: ошибка чтения кэша: %v", err)
	}

	r, err := c.next.Extract(ctx, image, mimeType)
	// Кэшируются и маркеры "не квитанция": они детерминированы
	if err == nil || errors.Is(err, ErrNotAReceipt) {
		if cerr := c.cache.Set(ctx, key, r, c.ttl); cerr != nil {
			logger.Warn("OCR: ошибка записи кэша: %v", cerr)
		}
	}
	return r, err
}

// ExtractAmount не кэшируется: фото оператора не повторяются
func (c *Cached) ExtractAmount(ctx context.Context, image []byte, mimeType string) (decimal.Decimal, error) {
	return c.next.ExtractAmount(ctx, image, mimeType)
}
