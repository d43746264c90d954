package infra

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config — корневая структура конфигурации дашборда и эмулятора бэкенда.
type Config struct {
	Env       string           `mapstructure:"env"` // development, production
	Server    ServerConfig     `mapstructure:"server"`
	Upstream  UpstreamProfiles `mapstructure:"upstream"`
	Bootstrap BootstrapConfig  `mapstructure:"bootstrap"`
	Live      LiveConfig       `mapstructure:"live"`
	Redis     RedisConfig      `mapstructure:"redis"`
	Charts    ChartsConfig     `mapstructure:"charts"`
	Display   DisplayConfig    `mapstructure:"display"`
	History   HistoryConfig    `mapstructure:"history"`
	Logger    LoggerConfig     `mapstructure:"logger"`
	Feedsim   FeedsimConfig    `mapstructure:"feedsim"`
}

// ServerConfig описывает настройки HTTP-сервера консоли.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"` // Origin для /ws/dashboard, пусто = same-origin
}

func (s ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// Адреса бэкенда для локальной разработки и деплоя.
type UpstreamProfiles struct {
	Development UpstreamConfig `mapstructure:"development"`
	Production  UpstreamConfig `mapstructure:"production"`
}

type UpstreamConfig struct {
	HTTPBase string `mapstructure:"http_base"` // http://localhost:8000
	WSBase   string `mapstructure:"ws_base"`   // ws://localhost:8000
}

// BootstrapConfig — начальная выгрузка и надёжность REST-запросов.
type BootstrapConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Endpoints      []string      `mapstructure:"endpoints"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	Attempts       uint          `mapstructure:"attempts"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	Burst          int           `mapstructure:"burst"`

	// Настройки Circuit Breaker для REST-апстрима
	CBFailures uint32        `mapstructure:"cb_failures"`
	CBInterval time.Duration `mapstructure:"cb_interval"`
	CBTimeout  time.Duration `mapstructure:"cb_timeout"`
}

type LiveConfig struct {
	Transport           string        `mapstructure:"transport"` // websocket, redis, none
	Path                string        `mapstructure:"path"`      // /ws/logs или /ws/maplogs
	IdleTimeout         time.Duration `mapstructure:"idle_timeout"`
	Reconnect           bool          `mapstructure:"reconnect"`
	ReconnectMaxBackoff time.Duration `mapstructure:"reconnect_max_backoff"`
}

// RedisConfig описывает подключение к Redis (Pub/Sub).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

type ChartsConfig struct {
	Source string `mapstructure:"source"` // local, remote
}

// DisplayConfig: всё, что зависит от места показа.
type DisplayConfig struct {
	Timezone   string  `mapstructure:"timezone"` // IANA, "Local" или "UTC"
	TimeFormat string  `mapstructure:"time_format"`
	ServerLat  float64 `mapstructure:"server_lat"`
	ServerLon  float64 `mapstructure:"server_lon"`
}

// Location разбирает timezone.
func (d DisplayConfig) Location() (*time.Location, error) {
	if d.Timezone == "" || strings.EqualFold(d.Timezone, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(d.Timezone)
}

type HistoryConfig struct {
	Capacity int `mapstructure:"capacity"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// FeedsimConfig — эмулятор бэкенда для локальной разработки.
type FeedsimConfig struct {
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	Rate          float64       `mapstructure:"rate"` // записей в секунду
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	PingInterval  time.Duration `mapstructure:"ping_interval"`
	Retain        int           `mapstructure:"retain"` // сколько записей держать в памяти для /logs/
	Seed          uint64        `mapstructure:"seed"`
	DatabaseURL   string        `mapstructure:"database_url"` // пусто: генератор в памяти
	PublishRedis  bool          `mapstructure:"publish_redis"`
}

func (f FeedsimConfig) Addr() string { return fmt.Sprintf("%s:%d", f.Host, f.Port) }

// ActiveUpstream выбирает профиль апстрима по env.
func (c *Config) ActiveUpstream() UpstreamConfig {
	if c.Env == EnvProduction {
		return c.Upstream.Production
	}
	return c.Upstream.Development
}

func (c *Config) LiveURL() string {
	return strings.TrimRight(c.ActiveUpstream().WSBase, "/") + c.Live.Path
}

// RegisterFlags описывает флаги командной строки, которые перекрывают конфиг.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "path to config file (yaml)")
	flags.String("env", EnvDevelopment, "environment: development or production")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
}

// LoadConfig объединяет .env, файл, ENV и флаги. flags может быть nil.
func LoadConfig(flags *pflag.FlagSet) (*Config, error) {
	// 0. .env (как у скриптов бэкенда). Отсутствие файла не ошибка
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env: %w", err)
	}

	v := viper.New()

	// 1. Настройка поиска файла
	v.SetConfigName("config")    // имя файла без расширения
	v.SetConfigType("yaml")      // формат
	v.AddConfigPath(".")         // ищем в корне
	v.AddConfigPath("./configs") // и в папке с конфигами

	// 2. Настройка переменных окружения (ENV)
	// Позволяет перекрывать конфиг: SERVER_PORT=9000 перекроет server.port
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 3. Установка дефолтных значений
	setDefaults(v)

	// 4. Флаги
	if flags != nil {
		if f := flags.Lookup("env"); f != nil {
			if err := v.BindPFlag("env", f); err != nil {
				return nil, err
			}
		}
		if f := flags.Lookup("log-level"); f != nil {
			if err := v.BindPFlag("logger.level", f); err != nil {
				return nil, err
			}
		}
		if f := flags.Lookup("config"); f != nil && f.Value.String() != "" {
			v.SetConfigFile(f.Value.String())
		}
	}

	// 5. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Нет файла: работаем на ENV и дефолтах
	}

	// 6. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate проверяет перечисления и связки полей.
func (c *Config) Validate() error {
	var errs []error
	if c.Env != EnvDevelopment && c.Env != EnvProduction {
		errs = append(errs, fmt.Errorf("env must be %q or %q, got %q", EnvDevelopment, EnvProduction, c.Env))
	}
	switch c.Live.Transport {
	case "websocket":
		if c.ActiveUpstream().WSBase == "" {
			errs = append(errs, errors.New("live.transport=websocket requires upstream ws_base"))
		}
	case "redis":
		if c.Redis.Addr == "" || c.Redis.Channel == "" {
			errs = append(errs, errors.New("live.transport=redis requires redis.addr and redis.channel"))
		}
	case "none":
	default:
		errs = append(errs, fmt.Errorf("live.transport must be websocket, redis or none, got %q", c.Live.Transport))
	}
	switch c.Charts.Source {
	case "local":
	case "remote":
		if c.ActiveUpstream().HTTPBase == "" {
			errs = append(errs, errors.New("charts.source=remote requires upstream http_base"))
		}
	default:
		errs = append(errs, fmt.Errorf("charts.source must be local or remote, got %q", c.Charts.Source))
	}
	if c.Bootstrap.Enabled && c.ActiveUpstream().HTTPBase == "" {
		errs = append(errs, errors.New("bootstrap.enabled requires upstream http_base"))
	}
	if c.History.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("history.capacity must be positive, got %d", c.History.Capacity))
	}
	if _, err := c.Display.Location(); err != nil {
		errs = append(errs, fmt.Errorf("display.timezone: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", EnvDevelopment)

	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("server.allowed_origins", []string{})

	// Адреса из исходного фронтенда: локальный бэкенд и деплой
	v.SetDefault("upstream.development.http_base", "http://localhost:8000")
	v.SetDefault("upstream.development.ws_base", "ws://localhost:8000")
	v.SetDefault("upstream.production.http_base", "https://attackmap.example.org/api")
	v.SetDefault("upstream.production.ws_base", "wss://attackmap.example.org/api")

	v.SetDefault("bootstrap.enabled", true)
	v.SetDefault("bootstrap.endpoints", []string{"/logs/"})
	v.SetDefault("bootstrap.request_timeout", 10*time.Second)
	v.SetDefault("bootstrap.attempts", 3)
	v.SetDefault("bootstrap.rate_limit", 20)
	v.SetDefault("bootstrap.burst", 5)
	v.SetDefault("bootstrap.cb_failures", 5)
	v.SetDefault("bootstrap.cb_interval", 30*time.Second)
	v.SetDefault("bootstrap.cb_timeout", 30*time.Second)

	v.SetDefault("live.transport", "websocket")
	v.SetDefault("live.path", "/ws/logs")
	v.SetDefault("live.idle_timeout", 60*time.Second)
	v.SetDefault("live.reconnect", true)
	v.SetDefault("live.reconnect_max_backoff", 60*time.Second)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", RedisChanLiveLogs)

	v.SetDefault("charts.source", "local")

	v.SetDefault("display.timezone", "Local")
	v.SetDefault("display.time_format", "2006-01-02 15:04:05")
	v.SetDefault("display.server_lat", 40.8586)
	v.SetDefault("display.server_lon", -74.1636)

	v.SetDefault("history.capacity", 100)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")

	v.SetDefault("feedsim.host", "")
	v.SetDefault("feedsim.port", 8000)
	v.SetDefault("feedsim.rate", 2.0)
	v.SetDefault("feedsim.batch_size", 100)
	v.SetDefault("feedsim.flush_interval", 2*time.Second)
	v.SetDefault("feedsim.ping_interval", 20*time.Second)
	v.SetDefault("feedsim.retain", 1000)
	v.SetDefault("feedsim.seed", 1)
	v.SetDefault("feedsim.database_url", "")
	v.SetDefault("feedsim.publish_redis", false)
}
