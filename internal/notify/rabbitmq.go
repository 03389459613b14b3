package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/hackgods/teleconsult-scheduling/internal/reservation"
)

const (
	defaultDialTimeout = 3 * time.Second
	defaultRedialDelay = 5 * time.Second
)

var errBrokerBackoff = errors.New("rabbitmq unavailable, backing off")

// Publisher sends status change events to a durable RabbitMQ queue. The
// connection is opened lazily and reopened after the broker drops it. After a
// failed dial, publishes fail fast until the redial delay has passed.
type Publisher struct {
	url         string
	queue       string
	logger      *zap.Logger
	dialTimeout time.Duration
	redialDelay time.Duration

	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	nextDial time.Time
}

type PublisherOption func(*Publisher)

// WithDialTimeout bounds the TCP connect and AMQP handshake.
func WithDialTimeout(d time.Duration) PublisherOption {
	return func(p *Publisher) { p.dialTimeout = d }
}

func WithRedialDelay(d time.Duration) PublisherOption {
	return func(p *Publisher) { p.redialDelay = d }
}

func NewPublisher(url, queue string, logger *zap.Logger, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		url:         url,
		queue:       queue,
		logger:      logger,
		dialTimeout: defaultDialTimeout,
		redialDelay: defaultRedialDelay,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Publisher) NotifyStatusChanged(ctx context.Context, ev reservation.StatusChangedEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal status event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel(ctx)
	if err != nil {
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		MessageId:    fmt.Sprintf("%s:%s", ev.ReservationID, ev.ChangedAt.Format(time.RFC3339Nano)),
		Type:         "reservation.status_changed",
		Body:         body,
	}

	if err := ch.PublishWithContext(ctx,
		"",      // default exchange
		p.queue, // routing key = queue name
		false,   // mandatory
		false,   // immediate
		pub,
	); err != nil {
		p.reset()
		return fmt.Errorf("publish status event: %w", err)
	}

	p.logger.Debug("status event published",
		zap.String("reservation_id", ev.ReservationID.String()),
		zap.String("to", string(ev.ToStatus)))
	return nil
}

// channel returns an open channel, dialing when needed. Caller holds mu.
func (p *Publisher) channel(ctx context.Context) (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	p.reset()

	if time.Now().Before(p.nextDial) {
		return nil, errBrokerBackoff
	}

	conn, err := amqp.DialConfig(p.url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      p.dialer(ctx),
	})
	if err != nil {
		p.nextDial = time.Now().Add(p.redialDelay)
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}

	// durable so messages survive broker restarts
	if _, err := ch.QueueDeclare(
		p.queue, // name
		true,    // durable
		false,   // autoDelete
		false,   // exclusive
		false,   // noWait
		nil,     // args
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq queue declare: %w", err)
	}

	p.conn, p.ch = conn, ch
	return ch, nil
}

// dialer connects within dialTimeout or the caller's deadline, whichever is
// sooner, and keeps that deadline on the socket for the AMQP handshake.
func (p *Publisher) dialer(ctx context.Context) func(network, addr string) (net.Conn, error) {
	return func(network, addr string) (net.Conn, error) {
		deadline := time.Now().Add(p.dialTimeout)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}

		d := net.Dialer{Deadline: deadline}
		conn, err := d.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		if err := conn.SetDeadline(deadline); err != nil {
			_ = conn.Close()
			return nil, err
		}
		return conn, nil
	}
}

func (p *Publisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
	return nil
}
