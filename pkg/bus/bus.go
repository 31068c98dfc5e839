// Package bus предоставляет адаптер для работы с RabbitMQ.
// Три topic exchange образуют шину саги: commands (команды оркестратора),
// responses (ответы участников), events (публичные события).
package bus

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"example.com/factory-system/pkg/config"
	"example.com/factory-system/pkg/logger"
)

// Имена exchange шины. Все topic, durable, объявляются каждым сервисом
// при старте — порядок запуска сервисов не важен.
const (
	ExchangeCommands  = "commands"
	ExchangeEvents    = "events"
	ExchangeResponses = "responses"

	// ExchangeDeadLetter принимает сообщения, отвергнутые обработчиками
	// после requeue. Ограничивает бесконечную редоставку.
	ExchangeDeadLetter = "dead_letter"
)

// Client держит подключение к RabbitMQ и канал для публикации.
// Каждый consumer открывает собственный канал (каналы amqp не потокобезопасны).
type Client struct {
	conn *amqp.Connection
	cfg  config.RabbitConfig

	// pubMu сериализует публикацию: канал с включёнными confirms один на клиент.
	pubMu   sync.Mutex
	pubChan *amqp.Channel
}

// Connect устанавливает соединение с RabbitMQ с повторными попытками.
// Брокер может подниматься дольше сервисов, поэтому ждём его появления.
func Connect(cfg config.RabbitConfig) (*Client, error) {
	var conn *amqp.Connection
	var err error

	for attempt := 1; attempt <= cfg.ConnectRetries; attempt++ {
		conn, err = dial(cfg)
		if err == nil {
			break
		}

		logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", cfg.ConnectRetries).
			Msg("RabbitMQ недоступен, повторная попытка подключения")

		time.Sleep(cfg.RetryDelay)
	}
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к RabbitMQ: %w", err)
	}

	c := &Client{conn: conn, cfg: cfg}

	if err := c.declareTopology(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	// Канал публикации с включёнными publisher confirms.
	pubChan, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ошибка открытия канала публикации: %w", err)
	}
	if err := pubChan.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ошибка включения publisher confirms: %w", err)
	}
	c.pubChan = pubChan

	logger.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Msg("Подключение к RabbitMQ установлено")

	return c, nil
}

// dial подключается по TLS, если задан CA сертификат, иначе открытым текстом.
func dial(cfg config.RabbitConfig) (*amqp.Connection, error) {
	if cfg.CAFile == "" {
		return amqp.Dial(cfg.URL())
	}

	caCert, err := os.ReadFile(cfg.CAFile)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения CA сертификата: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("CA сертификат %s не содержит валидных PEM блоков", cfg.CAFile)
	}

	tlsCfg := &tls.Config{
		RootCAs:            pool,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}

	return amqp.DialTLS(cfg.URL(), tlsCfg)
}

// declareTopology объявляет exchange шины. Операция идемпотентна.
func (c *Client) declareTopology() error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("ошибка открытия канала: %w", err)
	}
	defer ch.Close()

	for _, name := range []string{ExchangeCommands, ExchangeEvents, ExchangeResponses, ExchangeDeadLetter} {
		kind := "topic"
		if name == ExchangeDeadLetter {
			kind = "fanout"
		}
		if err := ch.ExchangeDeclare(
			name,  // имя
			kind,  // тип
			true,  // durable
			false, // auto-delete
			false, // internal
			false, // no-wait
			nil,
		); err != nil {
			return fmt.Errorf("ошибка объявления exchange %s: %w", name, err)
		}
	}

	// Очередь, собирающая всё из dead_letter — для ручного разбора.
	if _, err := ch.QueueDeclare("dead_letter", true, false, false, false, nil); err != nil {
		return fmt.Errorf("ошибка объявления очереди dead_letter: %w", err)
	}
	if err := ch.QueueBind("dead_letter", "", ExchangeDeadLetter, false, nil); err != nil {
		return fmt.Errorf("ошибка привязки очереди dead_letter: %w", err)
	}

	return nil
}

// Ping проверяет живость соединения. Используется healthcheck'ом.
func (c *Client) Ping() error {
	if c.conn == nil || c.conn.IsClosed() {
		return fmt.Errorf("соединение с RabbitMQ закрыто")
	}
	return nil
}

// Close закрывает соединение и все каналы.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("ошибка закрытия соединения с RabbitMQ: %w", err)
	}
	logger.Info().Msg("Соединение с RabbitMQ закрыто")
	return nil
}
