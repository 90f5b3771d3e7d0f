package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	for _, key := range []string{"APP_PORT", "STORE_BACKEND", "DB_MAX_CONNS", "LEDGER_MAX_RETRIES",
		"LEDGER_SCOPE_TIMEOUT", "IDEMPOTENCY_TTL", "WALLET_CACHE_TTL", "KAFKA_BROKERS", "KAFKA_TOPIC", "KAFKA_PUBLISH_TIMEOUT"} {
		t.Setenv(key, "")
	}
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost:5432/ledger")
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, BackendPostgres, cfg.StoreBackend)
	assert.Equal(t, 8, cfg.DBMaxConns)
	assert.Equal(t, 3, cfg.LedgerMaxRetries)
	assert.Equal(t, 5*time.Second, cfg.LedgerScopeTimeout)
	assert.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
	assert.Equal(t, 5*time.Minute, cfg.WalletCacheTTL)
	assert.Equal(t, "ledger.transactions", cfg.KafkaTopic)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, 2*time.Second, cfg.KafkaPublishTimeout)
}

func TestLoadConfig_FromParts(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_USER", "postgres")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_NAME", "ledger")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("LEDGER_SCOPE_TIMEOUT", "750ms")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "postgres://postgres:secret@db:5432/ledger", cfg.DBURL)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 750*time.Millisecond, cfg.LedgerScopeTimeout)
}

func TestLoadConfig_Invalid(t *testing.T) {
	for name, env := range map[string]map[string]string{
		"bad duration": {"LEDGER_SCOPE_TIMEOUT": "soon"},
		"bad int":      {"DB_MAX_CONNS": "many"},
		"bad backend":  {"STORE_BACKEND": "mongo"},
		"zero retries": {"LEDGER_MAX_RETRIES": "0"},
		"no secret":    {"JWT_SECRET": ""},
		"no database":  {"DATABASE_URL": "", "DB_HOST": ""},
	} {
		t.Run(name, func(t *testing.T) {
			t.Setenv("DATABASE_URL", "postgres://localhost/ledger")
			t.Setenv("JWT_SECRET", "secret")
			for k, v := range env {
				t.Setenv(k, v)
			}

			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_MemoryBackendNeedsNoDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_HOST", "")
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.StoreBackend)
}
