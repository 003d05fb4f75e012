package infra

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config - корневая структура конфигурации координатора.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	GRPC          GRPCConfig          `mapstructure:"grpc"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Logger        LoggerConfig        `mapstructure:"logger"`
	Advisor       AdvisorConfig       `mapstructure:"advisor"`
	Inventory     InventoryConfig     `mapstructure:"inventory"`
	Fleet         FleetConfig         `mapstructure:"fleet"`
	Orchestrator  OrchestratorConfig  `mapstructure:"orchestrator"`
	Catalog       CatalogConfig       `mapstructure:"catalog"`
	HTTPRateLimit HTTPRateLimitConfig `mapstructure:"http_rate_limit"`
}

// ServerConfig описывает настройки HTTP-сервера.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func (s ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// GRPCConfig - сервис инструментов для удаленных планировщиков. Пустой addr выключает.
type GRPCConfig struct {
	Addr string `mapstructure:"addr"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// DatabaseConfig описывает подключение к PostgreSQL (только аудит).
// Пустой url - аудит пишется в лог.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

// RedisConfig описывает подключение к Redis (Pub/Sub). Пустой addr выключает сигналы.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// AdvisorConfig - LLM-советник и обвязка надежности вокруг него.
type AdvisorConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	BaseURL     string  `mapstructure:"base_url"`
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
	NumPredict  int     `mapstructure:"num_predict"`

	AvailabilityTimeout time.Duration `mapstructure:"availability_timeout"`
	SelectionTimeout    time.Duration `mapstructure:"selection_timeout"`
	RiskTimeout         time.Duration `mapstructure:"risk_timeout"`
	ProbeTimeout        time.Duration `mapstructure:"probe_timeout"`

	// Настройки лимитера, ретраев и Circuit Breaker
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int           `mapstructure:"burst"`
	Attempts      uint          `mapstructure:"attempts"`
	CallTimeout   time.Duration `mapstructure:"call_timeout"`
	TripAfter     uint32        `mapstructure:"trip_after"`
	OpenTimeout   time.Duration `mapstructure:"open_timeout"`
}

type InventoryConfig struct {
	ReservationTTL time.Duration `mapstructure:"reservation_ttl"`
	ReapExpired    bool          `mapstructure:"reap_expired"`
	ReapInterval   time.Duration `mapstructure:"reap_interval"`
}

type FleetConfig struct {
	MonitorInterval time.Duration `mapstructure:"monitor_interval"`
	BatteryLow      float64       `mapstructure:"battery_low"`
	ChargeRate      float64       `mapstructure:"charge_rate"`
	ChargeComplete  float64       `mapstructure:"charge_complete"`
}

// OrchestratorConfig - подтверждение доставки и предел времени одной заявки.
type OrchestratorConfig struct {
	Confirmation       string        `mapstructure:"confirmation"` // immediate, timed
	TimeScale          float64       `mapstructure:"time_scale"`
	MaxConfirmWait     time.Duration `mapstructure:"max_confirm_wait"`
	FulfillmentTimeout time.Duration `mapstructure:"fulfillment_timeout"`
}

type CatalogConfig struct {
	Path  string `mapstructure:"path"`
	Watch bool   `mapstructure:"watch"`
}

// HTTPRateLimitConfig - входящий лимит на /v1, формат ulule: "100-M", "10-S".
type HTTPRateLimitConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Rate    string `mapstructure:"rate"`
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
// path - явный файл (флаг --config); пустой - поиск config.yaml в . и ./configs.
func LoadConfig(path string) (*Config, error) {
	// 0. .env для локального запуска, отсутствие файла не ошибка
	_ = godotenv.Load()

	v := viper.New()

	// 1. Настройка поиска файла
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")    // имя файла без расширения
		v.SetConfigType("yaml")      // формат
		v.AddConfigPath(".")         // ищем в корне
		v.AddConfigPath("./configs") // и в папке с конфигами
	}

	// 2. Настройка переменных окружения (ENV)
	// Позволяет перекрывать конфиг: SERVER_PORT=9000 перекроет server.port
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
		// Если файла нет - работаем на ENV и дефолтах
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Orchestrator.Confirmation {
	case "immediate", "timed":
	default:
		return fmt.Errorf("orchestrator.confirmation: unknown mode %q", c.Orchestrator.Confirmation)
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be positive")
	}
	return nil
}

// Пустые дефолты нужны, чтобы AutomaticEnv видел ключи при Unmarshal (DATABASE_URL, REDIS_ADDR).
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 5*time.Minute) // ?wait=true держит соединение до конца заявки
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("grpc.addr", ":50052")
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("database.url", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")

	v.SetDefault("advisor.enabled", false)
	v.SetDefault("advisor.base_url", "http://localhost:11434")
	v.SetDefault("advisor.model", "llama3.1:8b")
	v.SetDefault("advisor.temperature", 0.1)
	v.SetDefault("advisor.num_predict", 512)
	v.SetDefault("advisor.availability_timeout", 60*time.Second)
	v.SetDefault("advisor.selection_timeout", 60*time.Second)
	v.SetDefault("advisor.risk_timeout", 120*time.Second)
	v.SetDefault("advisor.probe_timeout", 5*time.Second)
	v.SetDefault("advisor.rate_per_second", 5)
	v.SetDefault("advisor.burst", 5)
	v.SetDefault("advisor.attempts", 3)
	v.SetDefault("advisor.call_timeout", 60*time.Second)
	v.SetDefault("advisor.trip_after", 5)
	v.SetDefault("advisor.open_timeout", 30*time.Second)

	v.SetDefault("inventory.reservation_ttl", 24*time.Hour)
	v.SetDefault("inventory.reap_expired", false)
	v.SetDefault("inventory.reap_interval", time.Minute)

	v.SetDefault("fleet.monitor_interval", 30*time.Second)
	v.SetDefault("fleet.battery_low", 20)
	v.SetDefault("fleet.charge_rate", 5)
	v.SetDefault("fleet.charge_complete", 95)

	v.SetDefault("orchestrator.confirmation", "immediate")
	v.SetDefault("orchestrator.time_scale", 0.01)
	v.SetDefault("orchestrator.max_confirm_wait", 10*time.Second)
	v.SetDefault("orchestrator.fulfillment_timeout", 5*time.Minute)

	v.SetDefault("catalog.path", "")
	v.SetDefault("catalog.watch", true)

	v.SetDefault("http_rate_limit.enabled", true)
	v.SetDefault("http_rate_limit.rate", "120-M")
}
