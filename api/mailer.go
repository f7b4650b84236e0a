package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultMailQueue is the queue AMQPMailer publishes to when none is given.
const DefaultMailQueue = "email_jobs"

const (
	MailVerifyEmail   = "verify_email"
	MailPasswordReset = "password_reset"
)

// Mail is one outbound message. Delivery (templates, SMTP) is the job of
// whatever consumes it.
type Mail struct {
	Kind    string    `json:"kind"`
	To      string    `json:"to"`
	Name    string    `json:"name,omitempty"`
	Subject string    `json:"subject"`
	Link    string    `json:"link"`
	Token   string    `json:"token"`
	Expires time.Time `json:"expires"`
}

// Mailer sends account emails.
type Mailer interface {
	Send(ctx context.Context, m Mail) error
}

// LogMailer writes mail to a logger instead of sending it. It is the
// default, and makes links visible to an operator in development.
type LogMailer struct {
	logger *slog.Logger
}

func NewLogMailer(logger *slog.Logger) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{logger: logger.With("component", "mailer")}
}

func (m *LogMailer) Send(ctx context.Context, mail Mail) error {
	m.logger.InfoContext(ctx, "mail",
		"kind", mail.Kind,
		"to", mail.To,
		"subject", mail.Subject,
		"link", mail.Link,
		"expires", mail.Expires.Format(time.RFC3339),
	)
	return nil
}

// AMQPMailer publishes each Mail as a persistent JSON message to a durable
// RabbitMQ queue, for an external sender to deliver.
type AMQPMailer struct {
	mu    sync.Mutex
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// DialAMQPMailer connects to url and declares queue.
func DialAMQPMailer(url, queue string) (*AMQPMailer, error) {
	if queue == "" {
		queue = DefaultMailQueue
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connecting to AMQP broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening AMQP channel: %w", err)
	}
	if _, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declaring queue %q: %w", queue, err)
	}
	return &AMQPMailer{conn: conn, ch: ch, queue: queue}, nil
}

func (m *AMQPMailer) Send(ctx context.Context, mail Mail) error {
	body, err := json.Marshal(mail)
	if err != nil {
		return err
	}
	// Channels are not safe for concurrent publishing.
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ch.PublishWithContext(ctx,
		"",      // default exchange
		m.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Type:         mail.Kind,
			Body:         body,
		},
	)
}

// Close closes the channel and the connection.
func (m *AMQPMailer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return errors.Join(m.ch.Close(), m.conn.Close())
}
