package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/dimonss/AccountingForRepairsBackend/internal/metrics"
)

// Publisher ships AuthEvents to a durable queue from a background
// goroutine.  Publish never blocks: events go into a bounded buffer and are
// dropped when it is full.  Without a broker url every event is logged
// instead.
type Publisher struct {
	url   string
	queue string
	log   *zap.Logger

	events  chan AuthEvent
	pending *AuthEvent

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewPublisher starts a publisher for queueName.  An empty url selects the
// log-only mode.
func NewPublisher(url, queueName string, buffer int, log *zap.Logger) *Publisher {
	if buffer <= 0 {
		buffer = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Publisher{
		url:    url,
		queue:  queueName,
		log:    log.Named("audit-publisher"),
		events: make(chan AuthEvent, buffer),
		ctx:    ctx,
		cancel: cancel,
	}
	if url != "" {
		p.wg.Add(1)
		go p.run()
	}
	return p
}

// Publish enqueues ev for delivery.
func (p *Publisher) Publish(ev AuthEvent) {
	if p.url == "" {
		p.log.Info("audit event",
			zap.String("type", string(ev.Type)),
			zap.Uint64("user_id", ev.UserID),
			zap.String("ip", ev.IP),
			zap.String("reason", ev.Reason))
		return
	}
	select {
	case p.events <- ev:
	default:
		metrics.AuditDropped.Inc()
		p.log.Warn("audit buffer full, dropping event", zap.String("type", string(ev.Type)))
	}
}

// Close stops the background goroutine.  Events still buffered are
// flushed when the broker connection is up.
func (p *Publisher) Close() {
	p.once.Do(func() {
		p.cancel()
		p.wg.Wait()
	})
}

func (p *Publisher) run() {
	defer p.wg.Done()
	for {
		conn, ch, err := p.connect()
		if err != nil {
			return // cancelled while reconnecting
		}
		err = p.pump(ch)
		_ = ch.Close()
		_ = conn.Close()
		if err == nil {
			return
		}
		p.log.Warn("publish failed, reconnecting", zap.Error(err))
	}
}

func (p *Publisher) connect() (*amqp.Connection, *amqp.Channel, error) {
	var (
		conn *amqp.Connection
		ch   *amqp.Channel
	)
	op := func() error {
		c, err := amqp.Dial(p.url)
		if err != nil {
			return err
		}
		chn, err := c.Channel()
		if err != nil {
			_ = c.Close()
			return err
		}
		if _, err := chn.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
			_ = chn.Close()
			_ = c.Close()
			return err
		}
		conn, ch = c, chn
		return nil
	}
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0 // keep trying until Close
	notify := func(err error, wait time.Duration) {
		p.log.Warn("broker unavailable", zap.Error(err), zap.Duration("retry_in", wait))
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, p.ctx), notify); err != nil {
		return nil, nil, err
	}
	return conn, ch, nil
}

// pump publishes until the context ends (nil) or a publish fails (error).
func (p *Publisher) pump(ch *amqp.Channel) error {
	if p.pending != nil {
		if err := p.send(ch, *p.pending); err != nil {
			return err
		}
		p.pending = nil
	}
	for {
		select {
		case ev := <-p.events:
			if err := p.send(ch, ev); err != nil {
				p.pending = &ev
				return err
			}
		case <-p.ctx.Done():
			p.drain(ch)
			return nil
		}
	}
}

func (p *Publisher) drain(ch *amqp.Channel) {
	for {
		select {
		case ev := <-p.events:
			if err := p.send(ch, ev); err != nil {
				p.log.Warn("dropping audit event on shutdown", zap.Error(err))
				return
			}
		default:
			return
		}
	}
}

func (p *Publisher) send(ch *amqp.Channel, ev AuthEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return ch.PublishWithContext(ctx,
		"",      // default exchange
		p.queue, // routing key = queue name
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    ev.ID,
			Timestamp:    ev.OccurredAt,
			Type:         string(ev.Type),
			Body:         body,
		})
}
