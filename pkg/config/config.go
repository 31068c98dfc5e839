// Package config предоставляет загрузку конфигурации из переменных окружения.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config содержит полную конфигурацию приложения.
// Каждый сервис читает только нужные ему секции.
type Config struct {
	App     AppConfig
	MySQL   MySQLConfig
	Redis   RedisConfig
	Rabbit  RabbitConfig
	HTTP    HTTPConfig
	Metrics MetricsConfig
	Machine MachineConfig
}

// AppConfig содержит общие настройки приложения.
type AppConfig struct {
	Name      string `env:"APP_NAME" envDefault:"factory-system"`
	Env       string `env:"APP_ENV" envDefault:"development"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`
}

// MySQLConfig содержит настройки подключения к MySQL.
type MySQLConfig struct {
	Host            string        `env:"MYSQL_HOST" envDefault:"localhost"`
	Port            int           `env:"MYSQL_PORT" envDefault:"3306"`
	User            string        `env:"MYSQL_USER" envDefault:"root"`
	Password        string        `env:"MYSQL_PASSWORD" envDefault:"root"`
	Database        string        `env:"MYSQL_DATABASE" envDefault:"factory"`
	MaxOpenConns    int           `env:"MYSQL_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns    int           `env:"MYSQL_MAX_IDLE_CONNS" envDefault:"10"`
	ConnMaxLifetime time.Duration `env:"MYSQL_CONN_MAX_LIFETIME" envDefault:"5m"`
}

// DSN возвращает строку подключения к MySQL.
func (c MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// RedisConfig содержит настройки подключения к Redis.
// Redis используется реестром статусов станков.
type RedisConfig struct {
	Host     string `env:"REDIS_HOST" envDefault:"localhost"`
	Port     int    `env:"REDIS_PORT" envDefault:"6379"`
	Password string `env:"REDIS_PASSWORD" envDefault:""`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// Addr возвращает адрес Redis сервера.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RabbitConfig содержит настройки подключения к RabbitMQ.
// Подключение идёт по TLS (amqps), как того требует контракт шины.
type RabbitConfig struct {
	Host     string `env:"RABBIT_HOST" envDefault:"rabbitmq"`
	Port     int    `env:"RABBIT_PORT" envDefault:"5671"`
	User     string `env:"RABBIT_USER" envDefault:"guest"`
	Password string `env:"RABBIT_PASSWORD" envDefault:"guest"`
	VHost    string `env:"RABBIT_VHOST" envDefault:"/"`

	// CAFile — путь к PEM сертификату CA брокера.
	// Пустое значение отключает TLS (локальная разработка на 5672).
	CAFile string `env:"RABBIT_CA_FILE" envDefault:""`

	// InsecureSkipVerify отключает проверку сертификата сервера.
	// Унаследовано от текущего деплоя: брокер ходит с self-signed сертификатом.
	InsecureSkipVerify bool `env:"RABBIT_INSECURE_SKIP_VERIFY" envDefault:"true"`

	ConnectRetries int           `env:"RABBIT_CONNECT_RETRIES" envDefault:"30"`
	RetryDelay     time.Duration `env:"RABBIT_RETRY_DELAY" envDefault:"2s"`
}

// URL возвращает строку подключения amqp/amqps.
func (c RabbitConfig) URL() string {
	scheme := "amqp"
	if c.CAFile != "" || c.Port == 5671 {
		scheme = "amqps"
	}
	return fmt.Sprintf("%s://%s:%s@%s:%d%s", scheme, c.User, c.Password, c.Host, c.Port, c.VHost)
}

// HTTPConfig содержит настройки HTTP сервера сервиса.
type HTTPConfig struct {
	Port            int           `env:"HTTP_PORT" envDefault:"8080"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Addr возвращает адрес для http.Server.
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// MetricsConfig содержит настройки сервера метрик.
type MetricsConfig struct {
	Enabled bool `env:"METRICS_ENABLED" envDefault:"true"`
	Port    int  `env:"METRICS_PORT" envDefault:"9090"`
}

// Addr возвращает адрес сервера метрик.
func (c MetricsConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// MachineConfig содержит настройки станка-изготовителя.
type MachineConfig struct {
	// PieceType — тип деталей, которые производит этот станок: "A" или "B".
	PieceType string `env:"MACHINE_PIECE_TYPE" envDefault:"A"`

	// ID — идентификатор станка в реестре статусов (a1, a2, b2...).
	ID string `env:"MACHINE_ID" envDefault:"a1"`

	// MinWork и MaxWork задают границы имитации изготовления детали.
	MinWork time.Duration `env:"MACHINE_MIN_WORK" envDefault:"1s"`
	MaxWork time.Duration `env:"MACHINE_MAX_WORK" envDefault:"3s"`
}

// Load загружает конфигурацию из переменных окружения.
// Файл .env подхватывается, если существует (удобно для разработки).
func Load() (*Config, error) {
	// Ошибку отсутствия .env игнорируем — в production его нет.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("ошибка парсинга конфигурации: %w", err)
	}

	return cfg, nil
}

// IsDevelopment возвращает true для development окружения.
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}
