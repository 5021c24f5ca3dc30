package message_broker

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

type RabbitMQConfig struct {
	URL         string
	Exchange    string // empty publishes through the default exchange
	Queue       string
	RoutingKey  string // defaults to Queue
	ContentType string
	Prefetch    int // unacked deliveries per consumer
}

type RabbitMQ struct {
	conn        *amqp.Connection
	channel     *amqp.Channel
	exchange    string
	routingKey  string
	contentType string
}

// NewRabbitMQ dials the broker and declares a durable queue, plus a direct
// exchange bound to it when one is configured.
func NewRabbitMQ(cfg RabbitMQConfig) (*RabbitMQ, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq: channel: %w", err)
	}

	closeAll := func(err error) (*RabbitMQ, error) {
		ch.Close()
		conn.Close()
		return nil, err
	}

	routingKey := cfg.RoutingKey
	if routingKey == "" {
		routingKey = cfg.Queue
	}

	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
		return closeAll(fmt.Errorf("rabbitmq: declare queue %s: %w", cfg.Queue, err))
	}

	if cfg.Exchange != "" {
		if err := ch.ExchangeDeclare(cfg.Exchange, "direct", true, false, false, false, nil); err != nil {
			return closeAll(fmt.Errorf("rabbitmq: declare exchange %s: %w", cfg.Exchange, err))
		}
		if err := ch.QueueBind(cfg.Queue, routingKey, cfg.Exchange, false, nil); err != nil {
			return closeAll(fmt.Errorf("rabbitmq: bind %s: %w", cfg.Queue, err))
		}
	}

	if cfg.Prefetch > 0 {
		if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
			return closeAll(fmt.Errorf("rabbitmq: qos: %w", err))
		}
	}

	contentType := cfg.ContentType
	if contentType == "" {
		contentType = "application/json"
	}

	return &RabbitMQ{
		conn:        conn,
		channel:     ch,
		exchange:    cfg.Exchange,
		routingKey:  routingKey,
		contentType: contentType,
	}, nil
}

// Publish sends a persistent message. Without an exchange the queue name is
// the routing key on the default exchange.
func (r *RabbitMQ) Publish(ctx context.Context, queue string, message []byte) error {
	key := r.routingKey
	if r.exchange == "" {
		key = queue
	}
	err := r.channel.PublishWithContext(ctx,
		r.exchange,
		key,
		false,
		false,
		amqp.Publishing{
			ContentType:  r.contentType,
			DeliveryMode: amqp.Persistent,
			Body:         message,
		},
	)
	if err != nil {
		return fmt.Errorf("rabbitmq: publish: %w", err)
	}
	return nil
}

func (r *RabbitMQ) Consume(ctx context.Context, queue string) (<-chan Delivery, error) {
	msgs, err := r.channel.Consume(
		queue,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: consume %s: %w", queue, err)
	}

	out := make(chan Delivery, 1000)

	go func() {
		defer close(out)

		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				d := Delivery{
					Body: msg.Body,
					Ack:  func() error { return msg.Ack(false) },
					Nack: func(requeue bool) error { return msg.Nack(false, requeue) },
				}
				select {
				case out <- d:
				case <-ctx.Done():
					_ = msg.Nack(false, true)
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (r *RabbitMQ) Close() error {
	if err := r.channel.Close(); err != nil {
		_ = r.conn.Close()
		return err
	}
	return r.conn.Close()
}
