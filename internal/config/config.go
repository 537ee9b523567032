// Package config загружает конфигурацию из переменных окружения.
// Используется envconfig для маппинга переменных окружения на поля структуры,
// а godotenv подхватывает локальный .env, если он есть.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config содержит ВСЕ настройки приложения.
type Config struct {
	// --- Telegram ---
	TelegramBotToken string `envconfig:"TELEGRAM_BOT_TOKEN"`
	// ID группового чата тенанта, в котором работает бот
	FloodChatID int64 `envconfig:"FLOOD_CHAT_ID"`
	// Код тенанта, которого обслуживает этот бот
	BotTenantCode string `envconfig:"BOT_TENANT_CODE" default:"default"`

	// --- Database ---
	// В Docker дефолт "postgres" (имя сервиса в docker-compose), локально DB_HOST=localhost.
	DBHost     string `envconfig:"DB_HOST" default:"postgres"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"boxuser"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" default:"mystery_box"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	DBMaxConns int32  `envconfig:"DB_MAX_CONNS" default:"25"`
	DBMinConns int32  `envconfig:"DB_MIN_CONNS" default:"5"`

	// --- Транзакции ---
	// Сколько раз повторяем транзакцию при 40001/40P01/55P03
	TxMaxRetries int `envconfig:"TX_MAX_RETRIES" default:"3"`
	// Сколько транзакция ждёт блокировку строки
	TxLockTimeout time.Duration `envconfig:"TX_LOCK_TIMEOUT" default:"3s"`
	// Базовая пауза между повторами (с джиттером)
	TxRetryBackoff time.Duration `envconfig:"TX_RETRY_BACKOFF" default:"25ms"`

	// --- Application ---
	AppEnv      string `envconfig:"APP_ENV" default:"development"`
	AppLogLevel string `envconfig:"APP_LOG_LEVEL" default:"debug"`
	AppTimezone string `envconfig:"APP_TIMEZONE" default:"Europe/Moscow"`

	// --- Bot runtime ---
	// Сколько апдейтов обрабатываем параллельно. Иначе "go на каждый апдейт" = утечка памяти при флуде.
	BotMaxInflight int `envconfig:"BOT_MAX_INFLIGHT" default:"64"`
	// Таймаут long polling (секунды)
	BotUpdateTimeoutSeconds int `envconfig:"BOT_UPDATE_TIMEOUT_SECONDS" default:"60"`

	// --- Admin ---
	AdminPasswordHash string        `envconfig:"ADMIN_PASSWORD_HASH"`
	AdminSessionTTL   time.Duration `envconfig:"ADMIN_SESSION_TTL" default:"24h"`

	// --- HTTP API ---
	HTTPAddr     string        `envconfig:"HTTP_ADDR" default:":8080"`
	JWTSecret    string        `envconfig:"JWT_SECRET"`
	JWTTTL       time.Duration `envconfig:"JWT_TTL" default:"1h"`
	HTTPShutdown time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"5s"`

	// --- Boxes ---
	// Сколько хранится неоткрытый бокс
	BoxRetention time.Duration `envconfig:"BOX_RETENTION" default:"168h"`
	// Начислять ли денежную награду на баланс сразу при открытии
	BoxCashAutoCredit bool   `envconfig:"BOX_CASH_AUTO_CREDIT" default:"false"`
	BoxSweepSchedule  string `envconfig:"BOX_SWEEP_SCHEDULE" default:"@every 1m"`
	BoxSweepBatch     int    `envconfig:"BOX_SWEEP_BATCH" default:"500"`
	BoxSweepWorkers   int    `envconfig:"BOX_SWEEP_WORKERS" default:"8"`

	// --- Ledger ---
	LedgerReconcileSchedule string `envconfig:"LEDGER_RECONCILE_SCHEDULE" default:"0 4 * * *"`

	// --- Rate Limiting ---
	RateLimitRequests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"10"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`

	// --- Feature Flags ---
	FeatureBotEnabled       bool `envconfig:"FEATURE_BOT_ENABLED" default:"true"`
	FeatureHTTPEnabled      bool `envconfig:"FEATURE_HTTP_ENABLED" default:"true"`
	FeatureSchedulerEnabled bool `envconfig:"FEATURE_SCHEDULER_ENABLED" default:"true"`
}

// DatabaseDSN возвращает строку подключения к PostgreSQL в формате DSN.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// Validate проверяет настройки, общие для всех команд.
func (c *Config) Validate() error {
	if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("некорректные DB_MIN_CONNS/DB_MAX_CONNS")
	}
	if c.TxMaxRetries < 0 {
		return fmt.Errorf("TX_MAX_RETRIES не может быть отрицательным")
	}
	if c.TxLockTimeout < 0 || c.TxRetryBackoff < 0 {
		return fmt.Errorf("TX_LOCK_TIMEOUT и TX_RETRY_BACKOFF не могут быть отрицательными")
	}
	if c.BoxRetention <= 0 {
		return fmt.Errorf("BOX_RETENTION должен быть > 0")
	}
	if c.BoxSweepBatch <= 0 || c.BoxSweepWorkers <= 0 {
		return fmt.Errorf("BOX_SWEEP_BATCH и BOX_SWEEP_WORKERS должны быть > 0")
	}
	if c.RateLimitRequests <= 0 || c.RateLimitWindow <= 0 {
		return fmt.Errorf("некорректные RATE_LIMIT_REQUESTS/RATE_LIMIT_WINDOW")
	}
	return nil
}

// ValidateServe проверяет настройки включённых компонентов команды serve.
func (c *Config) ValidateServe() error {
	if !c.FeatureBotEnabled && !c.FeatureHTTPEnabled && !c.FeatureSchedulerEnabled {
		return fmt.Errorf("все компоненты выключены: включите FEATURE_BOT_ENABLED, FEATURE_HTTP_ENABLED или FEATURE_SCHEDULER_ENABLED")
	}
	if c.FeatureBotEnabled {
		if c.TelegramBotToken == "" {
			return fmt.Errorf("TELEGRAM_BOT_TOKEN не задан (или выключите FEATURE_BOT_ENABLED)")
		}
		if c.FloodChatID == 0 {
			return fmt.Errorf("FLOOD_CHAT_ID не задан или равен 0")
		}
		if c.BotTenantCode == "" {
			return fmt.Errorf("BOT_TENANT_CODE не задан")
		}
		if c.BotMaxInflight <= 0 {
			return fmt.Errorf("BOT_MAX_INFLIGHT должен быть > 0")
		}
		if c.BotUpdateTimeoutSeconds <= 0 {
			return fmt.Errorf("BOT_UPDATE_TIMEOUT_SECONDS должен быть > 0")
		}
	}
	if c.FeatureHTTPEnabled {
		if err := c.ValidateJWT(); err != nil {
			return err
		}
	}
	return nil
}

// ValidateJWT проверяет секрет подписи токенов HTTP API.
func (c *Config) ValidateJWT() error {
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET должен быть не короче 32 символов")
	}
	if c.JWTTTL <= 0 {
		return fmt.Errorf("JWT_TTL должен быть > 0")
	}
	return nil
}

// Load читает .env (если есть) и переменные окружения, заполняет Config.
// Уже выставленные переменные окружения имеют приоритет над .env.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("не удалось прочитать %s: %w", f, err)
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("не удалось загрузить конфигурацию: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
