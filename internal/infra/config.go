package infra

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/xela07ax/sentinel-gateway/internal/domain"
)

// Config — корневая структура конфигурации шлюза.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	RBAC     RBACConfig     `mapstructure:"rbac"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Anomaly  AnomalyConfig  `mapstructure:"anomaly"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig описывает HTTP, gRPC и metrics листенеры.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	GRPCPort        int           `mapstructure:"grpc_port"`
	MetricsPort     int           `mapstructure:"metrics_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig описывает подключение к PostgreSQL. Пустой URL — без БД.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int    `mapstructure:"max_conns"`
	MinConns int    `mapstructure:"min_conns"`
}

// RedisConfig описывает подключение к Redis. Пустой Addr — только память.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ToolOverride — настройки конкретного инструмента. Имя инструмента содержит
// точки, поэтому это список, а не map (viper режет ключи по точкам).
type ToolOverride struct {
	Name               string `mapstructure:"name"`
	MinContractVersion string `mapstructure:"min_contract_version"`
}

// GatewayConfig — контрактное окно, арендаторы и надёжность обработчиков.
type GatewayConfig struct {
	ServiceName                 string              `mapstructure:"service_name"`
	ContractVersion             string              `mapstructure:"contract_version"`
	MinSupportedContractVersion string              `mapstructure:"min_supported_contract_version"`
	VersionScheme               string              `mapstructure:"version_scheme"` // phase | semver
	DefaultMinContractVersion   string              `mapstructure:"default_min_contract_version"`
	Tools                       []ToolOverride      `mapstructure:"tools"`
	Tenants                     []string            `mapstructure:"tenants"`
	NamespaceAllowlist          map[string][]string `mapstructure:"namespace_allowlist"`
	DataDir                     string              `mapstructure:"data_dir"`
	HandlerTimeout              time.Duration       `mapstructure:"handler_timeout"`

	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`

	// Circuit Breaker для обработчиков инструментов
	CBMaxRequests uint32        `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`
	CBFailures    uint32        `mapstructure:"cb_failures"`
}

// RBACConfig — стартовая таблица прав. Пустой список — встроенная таблица.
type RBACConfig struct {
	Permissions    []domain.ToolPermission `mapstructure:"permissions"`
	ScopeHierarchy map[string][]string     `mapstructure:"scope_hierarchy"`
}

type AuditConfig struct {
	BufferSize    int           `mapstructure:"buffer_size"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// AnomalyConfig — пороги монитора аномалий.
type AnomalyConfig struct {
	Enabled              bool `mapstructure:"enabled"`
	MaxActionsPerMinute  int  `mapstructure:"max_actions_per_minute"`
	MaxActionsPerHour    int  `mapstructure:"max_actions_per_hour"`
	ScopeAttemptLimit    int  `mapstructure:"scope_attempt_limit"`
	DomainDeviationLimit int  `mapstructure:"domain_deviation_limit"`
	BaselineMinActions   int  `mapstructure:"baseline_min_actions"`
}

// AuthConfig — проверка bearer-токенов. Пустой PublicKeyPath — без проверки,
// scopes принимаются из заголовка X-Caller-Scopes.
type AuthConfig struct {
	PublicKeyPath string `mapstructure:"public_key_path"`
	Issuer        string `mapstructure:"issuer"`
	AdminScope    string `mapstructure:"admin_scope"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig объединяет файл config.yaml, ENV и значения по умолчанию.
// Без аргументов ищет файл в "." и "./configs".
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{".", "./configs"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	// SERVER_PORT=9000 перекроет server.port
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет — работаем на ENV и дефолтах
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate ловит конфигурации, с которыми шлюз не может стартовать.
func (c *Config) Validate() error {
	g := c.Gateway
	if g.ContractVersion == "" || g.MinSupportedContractVersion == "" {
		return errors.New("config: gateway contract window is not set")
	}
	if len(g.Tenants) == 0 {
		return errors.New("config: gateway.tenants is empty")
	}
	for _, t := range g.Tenants {
		if len(g.NamespaceAllowlist[t]) == 0 {
			return fmt.Errorf("config: tenant %q has no namespace allowlist", t)
		}
	}
	if g.HandlerTimeout <= 0 {
		return errors.New("config: gateway.handler_timeout must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.grpc_port", 50052)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)

	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 5)

	v.SetDefault("gateway.service_name", "sentinel-gateway")
	v.SetDefault("gateway.contract_version", "21C.1.0")
	v.SetDefault("gateway.min_supported_contract_version", "21A.1.0")
	v.SetDefault("gateway.default_min_contract_version", "21A.1.0")
	v.SetDefault("gateway.version_scheme", "phase")
	v.SetDefault("gateway.tools", []map[string]any{
		{"name": "shared.artifact_registry.search", "min_contract_version": "21C.1.0"},
	})
	v.SetDefault("gateway.tenants", []string{"shared", "chc", "ciag", "hospitality"})
	v.SetDefault("gateway.namespace_allowlist", map[string][]string{
		"shared":      {"shared."},
		"chc":         {"shared.", "chc."},
		"ciag":        {"shared.", "ciag."},
		"hospitality": {"shared.", "hospitality."},
	})
	v.SetDefault("gateway.data_dir", "./data")
	v.SetDefault("gateway.handler_timeout", 10*time.Second)
	v.SetDefault("gateway.rate_limit", 100)
	v.SetDefault("gateway.rate_burst", 20)
	v.SetDefault("gateway.cb_max_requests", 3)
	v.SetDefault("gateway.cb_interval", 5*time.Second)
	v.SetDefault("gateway.cb_timeout", 30*time.Second)
	v.SetDefault("gateway.cb_failures", 5)

	v.SetDefault("audit.buffer_size", 10000)
	v.SetDefault("audit.batch_size", 100)
	v.SetDefault("audit.flush_interval", 500*time.Millisecond)

	v.SetDefault("anomaly.enabled", true)
	v.SetDefault("anomaly.max_actions_per_minute", 20)
	v.SetDefault("anomaly.max_actions_per_hour", 500)
	v.SetDefault("anomaly.scope_attempt_limit", 3)
	v.SetDefault("anomaly.domain_deviation_limit", 5)
	v.SetDefault("anomaly.baseline_min_actions", 10)

	v.SetDefault("auth.admin_scope", "sentinel:admin")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}
