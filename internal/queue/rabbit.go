package queue

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

const retryHeader = "x-retry-count"

// RabbitQueue is a Queue on a RabbitMQ broker. Each topic is a durable queue
// on the default exchange. Failed deliveries are republished with an
// incremented x-retry-count header until MaxRetries is reached.
type RabbitQueue struct {
	MaxRetries int

	conn *amqp.Connection
	ch   *amqp.Channel
	mu   sync.Mutex // guards ch for publishing
	wg   sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

func DialRabbit(amqpURL string) (*RabbitQueue, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	log.WithField("url", redactURL(amqpURL)).Info("✅ Connected to RabbitMQ")
	return &RabbitQueue{MaxRetries: 3, conn: conn, ch: ch, ctx: ctx, cancel: cancel}, nil
}

func (r *RabbitQueue) declare(topic string) error {
	_, err := r.ch.QueueDeclare(
		topic, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	return err
}

func (r *RabbitQueue) Publish(_ context.Context, topic string, payload []byte) error {
	return r.publish(topic, payload, 0)
}

func (r *RabbitQueue) publish(topic string, payload []byte, retry int32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.declare(topic); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", topic, err)
	}
	return r.ch.Publish("", topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Headers:      amqp.Table{retryHeader: retry},
		Body:         payload,
	})
}

// Subscribe starts consuming topic on a dedicated channel.
func (r *RabbitQueue) Subscribe(topic string, handler Handler) error {
	ch, err := r.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open a channel: %w", err)
	}
	if _, err := ch.QueueDeclare(topic, true, false, false, false, nil); err != nil {
		ch.Close()
		return fmt.Errorf("failed to declare queue %s: %w", topic, err)
	}

	msgs, err := ch.Consume(
		topic,
		"",
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer ch.Close()
		for d := range msgs {
			r.deliver(topic, d, handler)
		}
	}()
	return nil
}

func (r *RabbitQueue) deliver(topic string, d amqp.Delivery, handler Handler) {
	err := handler(r.ctx, d.Body)
	if err == nil {
		d.Ack(false)
		return
	}

	retry := RetryCount(d.Headers)
	entry := log.WithFields(log.Fields{"topic": topic, "attempt": retry + 1})
	if int(retry) >= r.MaxRetries {
		entry.WithError(err).Error("❌ Job permanently failed")
		d.Ack(false)
		return
	}

	entry.WithError(err).Warn("⚠️ Job failed, requeueing")
	if perr := r.publish(topic, d.Body, retry+1); perr != nil {
		entry.WithError(perr).Error("❌ Failed to requeue job")
		d.Nack(false, true)
		return
	}
	d.Ack(false)
}

// RetryCount reads the retry header, tolerating the integer widths a broker
// may hand back.
func RetryCount(h amqp.Table) int32 {
	switch v := h[retryHeader].(type) {
	case int32:
		return v
	case int64:
		return int32(v)
	case int:
		return int32(v)
	case int16:
		return int32(v)
	case int8:
		return int32(v)
	}
	return 0
}

func (r *RabbitQueue) Close() error {
	r.cancel()
	r.mu.Lock()
	err := r.ch.Close()
	r.mu.Unlock()
	if cerr := r.conn.Close(); err == nil {
		err = cerr
	}
	r.wg.Wait()
	return err
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	return u.Redacted()
}
