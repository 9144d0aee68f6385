// /internal/infrastructure/config/config.go
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ============================================
// КОНФИГУРАЦИЯ TELEGRAM
// ============================================

// TelegramConfig - конфигурация Telegram бота
type TelegramConfig struct {
	BotToken      string `mapstructure:"TG_API_KEY"`
	BotUsername   string `mapstructure:"TG_BOT_USERNAME"`
	AdminGroupID  int64  `mapstructure:"TG_ADMIN_GROUP_ID"`  // группа операторов
	AdminTopicID  int    `mapstructure:"TG_ADMIN_TOPIC_ID"`  // тема в группе (0 = без темы)
	WebhookSecret string `mapstructure:"TG_WEBHOOK_SECRET"`  // X-Telegram-Bot-Api-Secret-Token
	WebhookDomain string `mapstructure:"TG_WEBHOOK_DOMAIN"`  // публичный домен для setWebhook
	RequestDelay  time.Duration
}

// BackendConfig - конфигурация REST бэкенда
type BackendConfig struct {
	BaseURL       string `mapstructure:"BACKEND_BASE_URL"`
	Secret        string `mapstructure:"BACKEND_SECRET"`         // X-Backend-Secret
	WebhookSecret string `mapstructure:"BACKEND_WEBHOOK_SECRET"` // X-Webhook-Secret входящих событий
	Timeout       time.Duration
	MaxRetries    int
	RetryDelay    time.Duration
}

// OCRConfig - конфигурация распознавания квитанций
type OCRConfig struct {
	APIKey        string  `mapstructure:"GEMINI_API_KEY"`
	Model         string  `mapstructure:"GEMINI_MODEL"`
	MinConfidence float64 `mapstructure:"OCR_MIN_CONFIDENCE"` // единый порог принятия
	MaxRetries    int     `mapstructure:"OCR_MAX_RETRIES"`
	BaseDelay     time.Duration
	CacheTTL      time.Duration
	Timeout       time.Duration
}

// RedisConfig конфигурация Redis
type RedisConfig struct {
	Host     string `mapstructure:"REDIS_HOST"`
	Port     int    `mapstructure:"REDIS_PORT"`
	Password string `mapstructure:"REDIS_PASSWORD"`
	DB       int    `mapstructure:"REDIS_DB"`

	// Поле для включения/отключения Redis: без него OCR-кэш живет в памяти
	Enabled bool `mapstructure:"REDIS_ENABLED"`

	PoolSize     int           `mapstructure:"REDIS_POOL_SIZE"`
	MinIdleConns int           `mapstructure:"REDIS_MIN_IDLE_CONNS"`
	DialTimeout  time.Duration `mapstructure:"REDIS_DIAL_TIMEOUT"`
	ReadTimeout  time.Duration `mapstructure:"REDIS_READ_TIMEOUT"`
	WriteTimeout time.Duration `mapstructure:"REDIS_WRITE_TIMEOUT"`
	DefaultTTL   time.Duration `mapstructure:"REDIS_DEFAULT_TTL"`
}

// SessionConfig - конфигурация хранилища диалогов
type SessionConfig struct {
	TTL           time.Duration // простой диалога до сброса
	SweepInterval time.Duration // период фоновой чистки
	MaxReceipts   int           // лимит квитанций на заявку
}

// ExchangeConfig - курсы по умолчанию до первой загрузки настроек
type ExchangeConfig struct {
	DefaultBuyRate  string `mapstructure:"DEFAULT_BUY_RATE"`  // 1 THB = X MMK
	DefaultSellRate string `mapstructure:"DEFAULT_SELL_RATE"` // X MMK = 1 THB
	RefreshInterval time.Duration
}

// ============================================
// ОСНОВНАЯ КОНФИГУРАЦИЯ ПРИЛОЖЕНИЯ
// ============================================

// Config - основная структура конфигурации
type Config struct {
	// ======================
	// ОСНОВНЫЕ НАСТРОЙКИ
	// ======================
	Environment string `mapstructure:"ENVIRONMENT"`
	Version     string `mapstructure:"VERSION"`

	Telegram TelegramConfig `mapstructure:",squash"`
	Backend  BackendConfig  `mapstructure:",squash"`
	OCR      OCRConfig      `mapstructure:",squash"`
	Redis    RedisConfig    `mapstructure:",squash"`
	Session  SessionConfig  `mapstructure:",squash"`
	Exchange ExchangeConfig `mapstructure:",squash"`

	// ======================
	// HTTP СЕРВЕР
	// ======================
	Server struct {
		Port            int           `mapstructure:"SERVER_PORT"`
		ReadTimeout     time.Duration `mapstructure:"SERVER_READ_TIMEOUT"`
		WriteTimeout    time.Duration `mapstructure:"SERVER_WRITE_TIMEOUT"`
		ShutdownTimeout time.Duration `mapstructure:"SERVER_SHUTDOWN_TIMEOUT"`
		MaxBodySize     int64         `mapstructure:"SERVER_MAX_BODY_SIZE"`
	} `mapstructure:",squash"`

	// ======================
	// ЛОГИРОВАНИЕ
	// ======================
	Logging struct {
		Level     string `mapstructure:"LOG_LEVEL"`
		File      string `mapstructure:"LOG_FILE"`
		DebugMode bool   `mapstructure:"DEBUG_MODE,omitempty"`
	} `mapstructure:",squash"`
}

// ============================================
// ЗАГРУЗКА КОНФИГУРАЦИИ
// ============================================

// LoadConfig загружает конфигурацию из .env файла
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(path); err != nil {
		fmt.Printf("⚠️  Config file not found, using environment variables\n")
	}

	cfg := &Config{}

	// ======================
	// ОСНОВНЫЕ НАСТРОЙКИ
	// ======================
	cfg.Environment = getEnv("ENVIRONMENT", "production")
	cfg.Version = getEnv("VERSION", "1.0.0")

	// ======================
	// TELEGRAM
	// ======================
	cfg.Telegram.BotToken = getEnv("TG_API_KEY", "")
	cfg.Telegram.BotUsername = getEnv("TG_BOT_USERNAME", "")
	cfg.Telegram.AdminGroupID = getEnvInt64("TG_ADMIN_GROUP_ID", 0)
	cfg.Telegram.AdminTopicID = getEnvInt("TG_ADMIN_TOPIC_ID", 0)
	cfg.Telegram.WebhookSecret = getEnv("TG_WEBHOOK_SECRET", "")
	cfg.Telegram.WebhookDomain = getEnv("TG_WEBHOOK_DOMAIN", "")
	cfg.Telegram.RequestDelay = getEnvDuration("TG_REQUEST_DELAY", 100*time.Millisecond)

	// ======================
	// БЭКЕНД
	// ======================
	cfg.Backend.BaseURL = getEnv("BACKEND_BASE_URL", "http://localhost:8000")
	cfg.Backend.Secret = getEnv("BACKEND_SECRET", "")
	cfg.Backend.WebhookSecret = getEnv("BACKEND_WEBHOOK_SECRET", "")
	cfg.Backend.Timeout = getEnvDuration("BACKEND_TIMEOUT", 30*time.Second)
	cfg.Backend.MaxRetries = getEnvInt("BACKEND_MAX_RETRIES", 2)
	cfg.Backend.RetryDelay = getEnvDuration("BACKEND_RETRY_DELAY", time.Second)

	// ======================
	// OCR
	// ======================
	cfg.OCR.APIKey = getEnv("GEMINI_API_KEY", "")
	cfg.OCR.Model = getEnv("GEMINI_MODEL", "gemini-2.0-flash")
	cfg.OCR.MinConfidence = getEnvFloat("OCR_MIN_CONFIDENCE", 0.5)
	cfg.OCR.MaxRetries = getEnvInt("OCR_MAX_RETRIES", 2)
	cfg.OCR.BaseDelay = getEnvDuration("OCR_BASE_DELAY", time.Second)
	cfg.OCR.CacheTTL = getEnvDuration("OCR_CACHE_TTL", time.Hour)
	cfg.OCR.Timeout = getEnvDuration("OCR_TIMEOUT", 60*time.Second)

	// ======================
	// REDIS
	// ======================
	cfg.Redis.Host = getEnv("REDIS_HOST", "localhost")
	cfg.Redis.Port = getEnvInt("REDIS_PORT", 6379)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)
	cfg.Redis.PoolSize = getEnvInt("REDIS_POOL_SIZE", 10)
	cfg.Redis.MinIdleConns = getEnvInt("REDIS_MIN_IDLE_CONNS", 5)
	cfg.Redis.DialTimeout = getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second)
	cfg.Redis.ReadTimeout = getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second)
	cfg.Redis.WriteTimeout = getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second)
	cfg.Redis.DefaultTTL = getEnvDuration("REDIS_DEFAULT_TTL", 1*time.Hour)
	cfg.Redis.Enabled = getEnvBool("REDIS_ENABLED", false)

	// ======================
	// ДИАЛОГИ
	// ======================
	cfg.Session.TTL = getEnvDuration("SESSION_TTL", 30*time.Minute)
	cfg.Session.SweepInterval = getEnvDuration("SESSION_SWEEP_INTERVAL", 5*time.Minute)
	cfg.Session.MaxReceipts = getEnvInt("SESSION_MAX_RECEIPTS", 10)

	// ======================
	// КУРСЫ
	// ======================
	cfg.Exchange.DefaultBuyRate = getEnv("DEFAULT_BUY_RATE", "125.78")
	cfg.Exchange.DefaultSellRate = getEnv("DEFAULT_SELL_RATE", "123.60")
	cfg.Exchange.RefreshInterval = getEnvDuration("SETTINGS_REFRESH_INTERVAL", 10*time.Minute)

	// ======================
	// HTTP СЕРВЕР
	// ======================
	cfg.Server.Port = getEnvInt("SERVER_PORT", 8080)
	cfg.Server.ReadTimeout = getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second)
	cfg.Server.WriteTimeout = getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second)
	cfg.Server.ShutdownTimeout = getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second)
	cfg.Server.MaxBodySize = getEnvInt64("SERVER_MAX_BODY_SIZE", 10*1024*1024) // фото квитанций

	// ======================
	// ЛОГИРОВАНИЕ
	// ======================
	cfg.Logging.Level = getEnv("LOG_LEVEL", "info")
	cfg.Logging.File = getEnv("LOG_FILE", "logs/exchange_bot.log")
	cfg.Logging.DebugMode = getEnvBool("DEBUG_MODE", false)

	// ======================
	// ВАЛИДАЦИЯ КОНФИГУРАЦИИ
	// ======================
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// ============================================
// ВАЛИДАЦИЯ
// ============================================

// validate проверяет обязательные параметры конфигурации
func (c *Config) validate() error {
	var validationErrors []string

	if c.Telegram.BotToken == "" {
		validationErrors = append(validationErrors, "TG_API_KEY is required")
	}
	if c.Telegram.AdminGroupID == 0 {
		validationErrors = append(validationErrors, "TG_ADMIN_GROUP_ID is required")
	}
	if c.Telegram.WebhookSecret == "" {
		validationErrors = append(validationErrors, "TG_WEBHOOK_SECRET is required")
	}

	if c.Backend.BaseURL == "" {
		validationErrors = append(validationErrors, "BACKEND_BASE_URL is required")
	}
	if c.Backend.Secret == "" {
		validationErrors = append(validationErrors, "BACKEND_SECRET is required")
	}
	if c.Backend.WebhookSecret == "" {
		validationErrors = append(validationErrors, "BACKEND_WEBHOOK_SECRET is required")
	}

	if c.OCR.APIKey == "" {
		validationErrors = append(validationErrors, "GEMINI_API_KEY is required")
	}
	if c.OCR.MinConfidence < 0 || c.OCR.MinConfidence > 1 {
		validationErrors = append(validationErrors, "OCR_MIN_CONFIDENCE must be in [0, 1]")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		validationErrors = append(validationErrors, "SERVER_PORT must be in range 1-65535")
	}

	if c.Session.TTL <= 0 {
		validationErrors = append(validationErrors, "SESSION_TTL must be positive")
	}
	if c.Session.MaxReceipts <= 0 {
		validationErrors = append(validationErrors, "SESSION_MAX_RECEIPTS must be positive")
	}

	if len(validationErrors) > 0 {
		errMsg := strings.Join(validationErrors, "; ")
		return fmt.Errorf("%s", errMsg)
	}

	return nil
}

// ============================================
// ВСПОМОГАТЕЛЬНЫЕ МЕТОДЫ
// ============================================

// PrintSummary выводит сводку конфигурации при старте
func (c *Config) PrintSummary() {
	log.Printf("📋 Конфигурация приложения:")
	log.Printf("   • Окружение: %s", c.Environment)
	log.Printf("   • Уровень логирования: %s", c.Logging.Level)
	log.Printf("   • Бэкенд: %s", c.Backend.BaseURL)
	log.Printf("   • OCR модель: %s (порог: %.2f)", c.OCR.Model, c.OCR.MinConfidence)
	log.Printf("   • Redis: %v", c.Redis.Enabled)
	if c.Redis.Enabled {
		log.Printf("   • Redis адрес: %s:%d (DB: %d)", c.Redis.Host, c.Redis.Port, c.Redis.DB)
	}
	log.Printf("   • TTL диалога: %v (чистка каждые %v)", c.Session.TTL, c.Session.SweepInterval)
	log.Printf("   • Лимит квитанций: %d", c.Session.MaxReceipts)
	log.Printf("   • HTTP порт: %d", c.Server.Port)

	token := c.Telegram.BotToken
	if len(token) > 10 {
		token = token[:10] + "..." + token[len(token)-10:]
	}
	log.Printf("   • Telegram Token: %s", token)
	log.Printf("   • Группа операторов: %d", c.Telegram.AdminGroupID)
}

// GetRedisAddress возвращает адрес Redis
func (c *Config) GetRedisAddress() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// GetWebhookURL возвращает публичный URL для setWebhook
func (c *Config) GetWebhookURL() string {
	return fmt.Sprintf("https://%s/webhook/telegram", c.Telegram.WebhookDomain)
}

// IsDev возвращает true если текущее окружение — разработка
func (c *Config) IsDev() bool {
	return c.Environment == "dev"
}

// ============================================
// ВСПОМОГАТЕЛЬНЫЕ ФУНКЦИИ
// ============================================

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
