package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendPostgres = "postgres"
	BackendDynamoDB = "dynamodb"
	BackendMemory   = "memory"
)

type Config struct {
	Port            string
	LogLevel        string
	ShutdownTimeout time.Duration

	StoreBackend string
	DBURL        string
	DBMaxConns   int

	LedgerMaxRetries   int
	LedgerScopeTimeout time.Duration

	RedisURL       string
	IdempotencyTTL time.Duration
	WalletCacheTTL time.Duration

	KafkaBrokers        []string
	KafkaTopic          string
	KafkaPublishTimeout time.Duration

	JWTSecret string

	AWSRegion                 string
	DynamoDBEndpoint          string
	DynamoDBWalletsTable      string
	DynamoDBTransactionsTable string
	DynamoDBUsersTable        string
}

func LoadConfig() (*Config, error) {
	_ = godotenv.Load("config.env")

	cfg := &Config{
		Port:                      getEnv("APP_PORT", "8080"),
		LogLevel:                  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		StoreBackend:              strings.ToLower(getEnv("STORE_BACKEND", BackendPostgres)),
		DBURL:                     os.Getenv("DATABASE_URL"),
		RedisURL:                  os.Getenv("REDIS_URL"),
		KafkaTopic:                getEnv("KAFKA_TOPIC", "ledger.transactions"),
		JWTSecret:                 os.Getenv("JWT_SECRET"),
		AWSRegion:                 getEnv("AWS_REGION", "us-east-1"),
		DynamoDBEndpoint:          os.Getenv("DYNAMODB_ENDPOINT"),
		DynamoDBWalletsTable:      getEnv("DYNAMODB_WALLETS_TABLE", "wallets"),
		DynamoDBTransactionsTable: getEnv("DYNAMODB_TRANSACTIONS_TABLE", "transactions"),
		DynamoDBUsersTable:        getEnv("DYNAMODB_USERS_TABLE", "users"),
	}
	if cfg.DBURL == "" && os.Getenv("DB_HOST") != "" {
		cfg.DBURL = fmt.Sprintf(
			"postgres://%s:%s@%s:%s/%s",
			os.Getenv("DB_USER"),
			os.Getenv("DB_PASSWORD"),
			os.Getenv("DB_HOST"),
			getEnv("DB_PORT", "5432"),
			os.Getenv("DB_NAME"),
		)
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	var err error
	if cfg.DBMaxConns, err = getInt("DB_MAX_CONNS", 8); err != nil {
		return nil, err
	}
	if cfg.LedgerMaxRetries, err = getInt("LEDGER_MAX_RETRIES", 3); err != nil {
		return nil, err
	}
	if cfg.LedgerScopeTimeout, err = getDuration("LEDGER_SCOPE_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.IdempotencyTTL, err = getDuration("IDEMPOTENCY_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.WalletCacheTTL, err = getDuration("WALLET_CACHE_TTL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = getDuration("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.KafkaPublishTimeout, err = getDuration("KAFKA_PUBLISH_TIMEOUT", 2*time.Second); err != nil {
		return nil, err
	}

	switch cfg.StoreBackend {
	case BackendPostgres:
		if cfg.DBURL == "" {
			return nil, fmt.Errorf("DATABASE_URL or DB_HOST must be set for the postgres backend")
		}
	case BackendDynamoDB, BackendMemory:
	default:
		return nil, fmt.Errorf("invalid STORE_BACKEND %q", cfg.StoreBackend)
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET must be set")
	}
	if cfg.LedgerMaxRetries < 1 {
		return nil, fmt.Errorf("invalid LEDGER_MAX_RETRIES: must be at least 1")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
