package config

import (
	"log/slog"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Env      string `env:"ENV" env-default:"local"`
	HTTP     HTTPConfig
	Database DBConfig
	Security SecConfig
	Market   MarketConfig
	Trading  TradingConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Shop     ShopConfig
}

type HTTPConfig struct {
	Port    uint16        `env:"HTTP_PORT" env-default:"8080"`
	Timeout time.Duration `env:"HTTP_TIMEOUT" env-default:"30s"`
}

type DBConfig struct {
	Driver     string `env:"DB_DRIVER" env-default:"postgres"`
	Host       string `env:"POSTGRES_HOST" env-default:"localhost"`
	Port       uint16 `env:"POSTGRES_PORT" env-default:"5432"`
	User       string `env:"POSTGRES_USER" env-default:"postgres"`
	Password   string `env:"POSTGRES_PASSWORD" env-default:"postgres"`
	DBName     string `env:"POSTGRES_DB" env-default:"trading_db"`
	SQLitePath string `env:"SQLITE_PATH" env-default:"trading.db"`
}

type SecConfig struct {
	JWTSecret      string        `env:"JWT_SECRET" env-required:"true"`
	AccessTokenTTL time.Duration `env:"ACCESS_TOKEN_TTL" env-default:"24h"`
	AdminUsernames []string      `env:"ADMIN_USERNAMES" env-separator:","`
}

type MarketConfig struct {
	ProviderURL     string        `env:"MARKET_PROVIDER_URL" env-default:"https://query2.finance.yahoo.com"`
	ProviderTimeout time.Duration `env:"MARKET_PROVIDER_TIMEOUT" env-default:"8s"`
	PriceTTL        time.Duration `env:"MARKET_PRICE_TTL" env-default:"60s"`
	DescriptorTTL   time.Duration `env:"MARKET_DESCRIPTOR_TTL" env-default:"24h"`
	LogoURLTemplate string        `env:"MARKET_LOGO_URL_TEMPLATE" env-default:"https://financialmodelingprep.com/image-stock/%s.png"`
	AlwaysOpen      bool          `env:"MARKET_ALWAYS_OPEN" env-default:"false"`
}

type TradingConfig struct {
	StartingBalance string `env:"STARTING_BALANCE" env-default:"100000.00"`
}

type RedisConfig struct {
	Enabled  bool   `env:"REDIS_ENABLED" env-default:"false"`
	Addr     string `env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD" env-default:""`
	DB       int    `env:"REDIS_DB" env-default:"0"`
}

type KafkaConfig struct {
	Enabled      bool          `env:"KAFKA_ENABLED" env-default:"false"`
	Brokers      []string      `env:"KAFKA_BROKERS" env-separator:"," env-default:"localhost:9092"`
	Topic        string        `env:"KAFKA_TOPIC" env-default:"trades.settled"`
	BatchSize    int           `env:"KAFKA_BATCH_SIZE" env-default:"100"`
	BatchTimeout time.Duration `env:"KAFKA_BATCH_TIMEOUT" env-default:"1s"`
	RequiredAcks int           `env:"KAFKA_ACKS" env-default:"1"`
	MaxAttempts  int           `env:"KAFKA_MAX_ATTEMPTS" env-default:"3"`
	WriteTimeout time.Duration `env:"KAFKA_WRITE_TIMEOUT" env-default:"10s"`
}

type ShopConfig struct {
	CatalogPath string `env:"SHOP_CATALOG_PATH" env-default:"configs/shop.yaml"`
}

// Balance parses the configured opening cash balance.
func (c TradingConfig) Balance() (decimal.Decimal, error) {
	return decimal.NewFromString(c.StartingBalance)
}

func MustLoad() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, reading from environment variables")
	}

	var cfg Config

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		slog.Error("failed to read environment variables", "error", err)
		os.Exit(1)
	}

	if _, err := cfg.Trading.Balance(); err != nil {
		slog.Error("invalid STARTING_BALANCE", "value", cfg.Trading.StartingBalance, "error", err)
		os.Exit(1)
	}

	return &cfg
}
