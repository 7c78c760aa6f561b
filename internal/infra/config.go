package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config корневая структура конфигурации.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Logger     LoggerConfig     `mapstructure:"logger"`
	Agent      AgentConfig      `mapstructure:"agent"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
	Ledger     LedgerConfig     `mapstructure:"ledger"`
	Connectors ConnectorsConfig `mapstructure:"connectors"`
	Audit      AuditConfig      `mapstructure:"audit"`
}

// ServerConfig описывает настройки HTTP-сервера.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	GRPCPort     int           `mapstructure:"grpc_port"`
	ConsolePort  int           `mapstructure:"console_port"`
	MetricsPort  int           `mapstructure:"metrics_port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig описывает подключение к PostgreSQL.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// RedisConfig описывает подключение к Redis (Pub/Sub, счетчики, блокировки).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig содержит пути к RSA ключам и настройки JWT.
type AuthConfig struct {
	PublicKeyPath  string        `mapstructure:"public_key_path"`
	PrivateKeyPath string        `mapstructure:"private_key_path"` // Только для Console API
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
	PublicKey      []byte
	PrivateKey     []byte
}

// EngineConfig аудит и предохранители внешних вызовов.
type EngineConfig struct {
	AuditBufferSize    int           `mapstructure:"audit_buffer_size"`
	AuditFlushInterval time.Duration `mapstructure:"audit_flush_interval"`
	AuditBatchSize     int           `mapstructure:"audit_batch_size"`

	// Настройки Circuit Breaker для модели и платформы
	CBMaxRequests uint32        `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`
	CBMaxFailures uint32        `mapstructure:"cb_max_failures"`

	// Темп запросов к модели
	ModelRPS   float64 `mapstructure:"model_rps"`
	ModelBurst int     `mapstructure:"model_burst"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// AgentConfig границы цикла агента.
type AgentConfig struct {
	MaxSteps           int `mapstructure:"max_steps"`
	MaxContextChars    int `mapstructure:"max_context_chars"`
	MinHistoryMessages int `mapstructure:"min_history_messages"`
	MaxActions         int `mapstructure:"max_actions"`
}

// RateLimitConfig бакеты гильдий.
type RateLimitConfig struct {
	Backend           string        `mapstructure:"backend"` // memory, redis
	GeneralPerMin     int           `mapstructure:"general_per_min"`
	DestructivePerMin int           `mapstructure:"destructive_per_min"`
	Window            time.Duration `mapstructure:"window"`
}

// LedgerConfig хранилище журнала подтверждений и памяти тредов.
type LedgerConfig struct {
	Backend       string        `mapstructure:"backend"` // postgres, sqlite, memory
	SQLitePath    string        `mapstructure:"sqlite_path"`
	RetentionDays int           `mapstructure:"retention_days"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// ConnectorsConfig адреса внешних gRPC-сервисов.
type ConnectorsConfig struct {
	PlatformAddr   string        `mapstructure:"platform_addr"`
	ModelAddr      string        `mapstructure:"model_addr"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	Mock           bool          `mapstructure:"mock"`
}

// AuditConfig внешние приемники аудита.
type AuditConfig struct {
	SlackWebhookURL string   `mapstructure:"slack_webhook_url"`
	KafkaBrokers    []string `mapstructure:"kafka_brokers"`
	KafkaTopic      string   `mapstructure:"kafka_topic"`
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// 2. ENV перекрывает файл: RATELIMIT_GENERAL_PER_MIN=20 перекроет ratelimit.general_per_min
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 3. Установка дефолтных значений
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет — работаем на ENV и дефолтах
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// 6. Ключи: PEM прямо в ENV (Docker/K8s) или файл по пути из конфига
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")
	cfg.Auth.PrivateKey = loadKeyResource(cfg.Auth.PrivateKeyPath, "AUTH_PRIVATE_KEY_DATA")

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.grpc_port", 50052)
	v.SetDefault("server.console_port", 8000)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")

	v.SetDefault("engine.audit_buffer_size", 10000)
	v.SetDefault("engine.audit_flush_interval", 500*time.Millisecond)
	v.SetDefault("engine.audit_batch_size", 100)
	v.SetDefault("engine.cb_max_requests", 3)
	v.SetDefault("engine.cb_interval", 5*time.Second)
	v.SetDefault("engine.cb_timeout", 30*time.Second)
	v.SetDefault("engine.cb_max_failures", 5)
	v.SetDefault("engine.model_rps", 5)
	v.SetDefault("engine.model_burst", 10)

	v.SetDefault("agent.max_steps", 6)
	v.SetDefault("agent.max_context_chars", 7000)
	v.SetDefault("agent.min_history_messages", 8)
	v.SetDefault("agent.max_actions", 12)

	v.SetDefault("ratelimit.backend", "memory")
	v.SetDefault("ratelimit.general_per_min", 10)
	v.SetDefault("ratelimit.destructive_per_min", 2)
	v.SetDefault("ratelimit.window", time.Minute)

	v.SetDefault("ledger.backend", "postgres")
	v.SetDefault("ledger.sqlite_path", "./data/guildops.db")
	v.SetDefault("ledger.retention_days", 7)
	v.SetDefault("ledger.sweep_interval", time.Hour)

	v.SetDefault("connectors.platform_addr", "localhost:50051")
	v.SetDefault("connectors.model_addr", "localhost:50061")
	v.SetDefault("connectors.request_timeout", 30*time.Second)

	v.SetDefault("audit.kafka_topic", "guildops.audit")
}

// loadKeyResource: ключ из ENV приоритетнее файла
func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
