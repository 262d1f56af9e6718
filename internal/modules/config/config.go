package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"grid_bot/internal/models"
)

const configFilePathENV = "CONFIG_FILE"

// Config: все настройки бота. Ключи: переменные окружения; тот же ключ
// в нижнем регистре можно задать в YAML из CONFIG_FILE.
type Config struct {
	APIKey    string
	APISecret string
	DemoMode  bool

	PaperTrading      bool
	PaperQuoteBalance float64
	PaperFeeRate      float64

	BaseCoin  string
	QuoteCoin string

	GridType     models.GridType
	OrderSize    float64 // в котируемой монете
	ProfitTarget float64
	LevelStep    float64
	LevelOffset  float64

	Telegram struct {
		Enabled bool
		Token   string
		ChatID  int64
	}

	RetryCount        int           // опросов статуса ордера
	RetryDelay        time.Duration // пауза перед каждым опросом
	APIRetries        int           // повторов транзиентных ошибок REST
	MaxCriticalErrors int

	QueueSize   int
	QueuePolicy models.QueuePolicy

	PositionsFile string
	TradeLogFile  string
	LogFile       string
	LogLevel      string
	StatsFile     string
	StatsInterval time.Duration

	HealthAddr  string
	DatabaseDSN string
	JaegerHost  string
	JaegerPort  int
}

func (c *Config) Symbol() string { return c.BaseCoin + c.QuoteCoin }

func NewConfig() (*Config, error) {
	_ = godotenv.Load() // .env необязателен
	return Load(viper.New())
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("DEMO_MODE", false)
	v.SetDefault("PAPER_TRADING", false)
	v.SetDefault("PAPER_QUOTE_BALANCE", 1000)
	v.SetDefault("PAPER_FEE_RATE", 0.001)
	v.SetDefault("BASE_COIN", "BTC")
	v.SetDefault("QUOTE_COIN", "USDT")
	v.SetDefault("GRID_TYPE", "LINEAR")
	v.SetDefault("ORDER_SIZE", 10)
	v.SetDefault("PROFIT_TARGET", 1000)
	v.SetDefault("LEVEL_STEP", 1000)
	v.SetDefault("LEVEL_OFFSET", 500)
	v.SetDefault("TELEGRAM_NOTIFICATIONS", false)
	v.SetDefault("RETRY_COUNT", 5)
	v.SetDefault("RETRY_DELAY", "1s")
	v.SetDefault("API_RETRIES", 3)
	v.SetDefault("MAX_CRITICAL_ERRORS", 5)
	v.SetDefault("QUEUE_SIZE", 16)
	v.SetDefault("QUEUE_POLICY", string(models.QueueDropOldest))
	v.SetDefault("POSITIONS_FILE", "positions.json")
	v.SetDefault("TRADE_LOG_FILE", "trade.log")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STATS_FILE", "stats.yaml")
	v.SetDefault("STATS_INTERVAL", "1m")
	v.SetDefault("HEALTH_ADDR", ":8080")
	v.SetDefault("JAEGER_PORT", 6831)
}

// Load собирает конфиг: дефолты, затем YAML из CONFIG_FILE, затем окружение.
func Load(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	v.AutomaticEnv()

	if path := v.GetString(configFilePathENV); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	c := &Config{
		APIKey:            v.GetString("API_KEY"),
		APISecret:         v.GetString("API_SECRET"),
		DemoMode:          v.GetBool("DEMO_MODE"),
		PaperTrading:      v.GetBool("PAPER_TRADING"),
		PaperQuoteBalance: v.GetFloat64("PAPER_QUOTE_BALANCE"),
		PaperFeeRate:      v.GetFloat64("PAPER_FEE_RATE"),
		BaseCoin:          strings.ToUpper(strings.TrimSpace(v.GetString("BASE_COIN"))),
		QuoteCoin:         strings.ToUpper(strings.TrimSpace(v.GetString("QUOTE_COIN"))),
		OrderSize:         v.GetFloat64("ORDER_SIZE"),
		ProfitTarget:      v.GetFloat64("PROFIT_TARGET"),
		LevelStep:         v.GetFloat64("LEVEL_STEP"),
		LevelOffset:       v.GetFloat64("LEVEL_OFFSET"),
		RetryCount:        v.GetInt("RETRY_COUNT"),
		APIRetries:        v.GetInt("API_RETRIES"),
		MaxCriticalErrors: v.GetInt("MAX_CRITICAL_ERRORS"),
		QueueSize:         v.GetInt("QUEUE_SIZE"),
		PositionsFile:     v.GetString("POSITIONS_FILE"),
		TradeLogFile:      v.GetString("TRADE_LOG_FILE"),
		LogFile:           v.GetString("LOG_FILE"),
		LogLevel:          v.GetString("LOG_LEVEL"),
		StatsFile:         v.GetString("STATS_FILE"),
		HealthAddr:        v.GetString("HEALTH_ADDR"),
		DatabaseDSN:       v.GetString("DATABASE_DSN"),
		JaegerHost:        v.GetString("JAEGER_HOST"),
		JaegerPort:        v.GetInt("JAEGER_PORT"),
	}

	var err error
	if c.GridType, err = models.ParseGridType(v.GetString("GRID_TYPE")); err != nil {
		return nil, err
	}
	if c.QueuePolicy, err = models.ParseQueuePolicy(v.GetString("QUEUE_POLICY")); err != nil {
		return nil, err
	}
	if c.RetryDelay, err = seconds(v.GetString("RETRY_DELAY")); err != nil {
		return nil, fmt.Errorf("RETRY_DELAY: %w", err)
	}
	if c.StatsInterval, err = seconds(v.GetString("STATS_INTERVAL")); err != nil {
		return nil, fmt.Errorf("STATS_INTERVAL: %w", err)
	}

	c.Telegram.Enabled = v.GetBool("TELEGRAM_NOTIFICATIONS")
	c.Telegram.Token = v.GetString("TELEGRAM_TOKEN")
	if raw := strings.TrimSpace(v.GetString("TELEGRAM_CHAT_ID")); raw != "" {
		if c.Telegram.ChatID, err = strconv.ParseInt(raw, 10, 64); err != nil {
			return nil, fmt.Errorf("TELEGRAM_CHAT_ID: %w", err)
		}
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate: ошибки здесь фатальны при старте.
func (c *Config) Validate() error {
	var problems []string
	if !c.PaperTrading && (c.APIKey == "" || c.APISecret == "") {
		problems = append(problems, "API_KEY and API_SECRET are required unless PAPER_TRADING=true")
	}
	if c.BaseCoin == "" || c.QuoteCoin == "" {
		problems = append(problems, "BASE_COIN and QUOTE_COIN must be set")
	}
	if c.LevelStep <= 0 {
		problems = append(problems, "LEVEL_STEP must be > 0")
	}
	if c.OrderSize <= 0 {
		problems = append(problems, "ORDER_SIZE must be > 0")
	}
	if c.ProfitTarget <= 0 {
		problems = append(problems, "PROFIT_TARGET must be > 0")
	}
	if c.RetryCount <= 0 || c.RetryDelay <= 0 {
		problems = append(problems, "RETRY_COUNT and RETRY_DELAY must be > 0")
	}
	if c.MaxCriticalErrors <= 0 {
		problems = append(problems, "MAX_CRITICAL_ERRORS must be > 0")
	}
	if c.QueueSize <= 0 {
		problems = append(problems, "QUEUE_SIZE must be > 0")
	}
	if c.Telegram.Enabled && (c.Telegram.Token == "" || c.Telegram.ChatID == 0) {
		problems = append(problems, "TELEGRAM_TOKEN and TELEGRAM_CHAT_ID are required when TELEGRAM_NOTIFICATIONS=true")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// seconds: "1.5", секунды, иначе time.ParseDuration ("1s", "500ms").
func seconds(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return time.Duration(f * float64(time.Second)), nil
	}
	return time.ParseDuration(raw)
}
