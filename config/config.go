package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config представляет конфигурацию приложения
type Config struct {
	Server struct {
		Port    int    `mapstructure:"port"`
		OpsPort int    `mapstructure:"ops_port"`
		Env     string `mapstructure:"env"`
		LogFile string `mapstructure:"log_file"`

		// TrustProxy включает чтение X-Forwarded-For / X-Real-IP
		TrustProxy bool `mapstructure:"trust_proxy"`
	} `mapstructure:"server"`
	DB struct {
		Host           string        `mapstructure:"host"`
		Port           int           `mapstructure:"port"`
		User           string        `mapstructure:"user"`
		Password       string        `mapstructure:"password"`
		DBName         string        `mapstructure:"name"`
		SSLMode        string        `mapstructure:"sslmode"`
		MaxRetries     int           `mapstructure:"max_retries"`
		RetryDelay     time.Duration `mapstructure:"retry_delay"`
		HealthInterval time.Duration `mapstructure:"health_interval"`
		MigrationsPath string        `mapstructure:"migrations_path"`
	} `mapstructure:"db"`
	JWT struct {
		SecretKey string        `mapstructure:"secret"`
		ExpiresIn time.Duration `mapstructure:"expires_in"`
	} `mapstructure:"jwt"`
	SMTP struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		Username string `mapstructure:"username"`
		Password string `mapstructure:"password"`
		From     string `mapstructure:"from"`
	} `mapstructure:"smtp"`
	Gateway struct {
		KeyID     string        `mapstructure:"key_id"`
		KeySecret string        `mapstructure:"key_secret"`
		BaseURL   string        `mapstructure:"base_url"`
		Currency  string        `mapstructure:"currency"`
		Timeout   time.Duration `mapstructure:"timeout"`
	} `mapstructure:"gateway"`
	Storage struct {
		Bucket        string `mapstructure:"bucket"`
		Region        string `mapstructure:"region"`
		Endpoint      string `mapstructure:"endpoint"`
		AccessKey     string `mapstructure:"access_key"`
		SecretKey     string `mapstructure:"secret_key"`
		PublicBaseURL string `mapstructure:"public_base_url"`
	} `mapstructure:"storage"`
	Redis struct {
		Addr           string        `mapstructure:"addr"`
		Password       string        `mapstructure:"password"`
		DB             int           `mapstructure:"db"`
		IdempotencyTTL time.Duration `mapstructure:"idempotency_ttl"`
	} `mapstructure:"redis"`
	Kafka struct {
		Enabled bool     `mapstructure:"enabled"`
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"kafka"`
	SideEffectTimeout time.Duration `mapstructure:"side_effect_timeout"`
}

// defaults перечисляет значения по умолчанию; ключи совпадают с переменными окружения
var defaults = map[string]interface{}{
	"server.port":        5001,
	"server.ops_port":    9090,
	"server.env":         "development",
	"server.log_file":    "",
	"server.trust_proxy": false,

	"db.host":            "localhost",
	"db.port":            5432,
	"db.user":            "postgres",
	"db.password":        "postgres",
	"db.name":            "society_app",
	"db.sslmode":         "disable",
	"db.max_retries":     5,
	"db.retry_delay":     5 * time.Second,
	"db.health_interval": 10 * time.Second,
	"db.migrations_path": "file://migrations",

	"jwt.secret":     "",
	"jwt.expires_in": time.Hour,

	"smtp.host":     "smtp.gmail.com",
	"smtp.port":     587,
	"smtp.username": "",
	"smtp.password": "",
	"smtp.from":     "Society App <noreply@societyapp.local>",

	"gateway.key_id":     "",
	"gateway.key_secret": "",
	"gateway.base_url":   "https://api.razorpay.com",
	"gateway.currency":   "INR",
	"gateway.timeout":    15 * time.Second,

	"storage.bucket":          "society-app",
	"storage.region":          "ap-south-1",
	"storage.endpoint":        "",
	"storage.access_key":      "",
	"storage.secret_key":      "",
	"storage.public_base_url": "",

	"redis.addr":            "localhost:6379",
	"redis.password":        "",
	"redis.db":              0,
	"redis.idempotency_ttl": 24 * time.Hour,

	"kafka.enabled": false,
	"kafka.brokers": []string{"localhost:9092"},
	"kafka.topic":   "payments",

	"side_effect_timeout": 30 * time.Second,
}

// NewConfig создает новый экземпляр конфигурации.
// Сначала подхватывается .env (если есть), затем переменные окружения
// вида DB_HOST, GATEWAY_KEY_SECRET и т.д.
func NewConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("ошибка чтения .env: %w", err)
	}
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Имена, оставшиеся от прежнего формата переменных
	_ = v.BindEnv("server.port", "SERVER_PORT", "PORT")
	_ = v.BindEnv("jwt.secret", "JWT_SECRET", "JWT_SECRET_KEY")
	_ = v.BindEnv("jwt.expires_in", "JWT_EXPIRES_IN", "JWT_EXPIRE")
	_ = v.BindEnv("gateway.key_id", "GATEWAY_KEY_ID", "RAZORPAY_KEY_ID")
	_ = v.BindEnv("gateway.key_secret", "GATEWAY_KEY_SECRET", "RAZORPAY_KEY_SECRET")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("ошибка разбора конфигурации: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("неверный порт сервера: %d", c.Server.Port)
	}
	if c.DB.MaxRetries < 1 {
		return fmt.Errorf("db.max_retries должен быть >= 1, получено %d", c.DB.MaxRetries)
	}
	if c.JWT.ExpiresIn <= 0 {
		return fmt.Errorf("неверное время жизни JWT: %s", c.JWT.ExpiresIn)
	}
	return nil
}

// DSN возвращает строку подключения к PostgreSQL для gorm
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.DBName,
		c.DB.SSLMode,
	)
}

// MigrationURL возвращает URL базы данных в формате golang-migrate
func (c *Config) MigrationURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DB.User,
		c.DB.Password,
		c.DB.Host,
		c.DB.Port,
		c.DB.DBName,
		c.DB.SSLMode,
	)
}

// IsProduction сообщает, запущено ли приложение в боевом окружении
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Server.Env, "production")
}
