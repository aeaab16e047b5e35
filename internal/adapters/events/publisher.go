// Package events публикует события об обработанных постах в RabbitMQ.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"nodeseek-bot/internal/domain"
)

const routingKeyProcessed = "post.processed"

// Publisher раздаёт события внешним потребителям через topic-exchange.
type Publisher struct {
	log      zerolog.Logger
	exchange string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

var _ domain.EventPublisher = (*Publisher)(nil)

// NewPublisher подключается к брокеру и объявляет exchange.
func NewPublisher(log zerolog.Logger, amqpURL, exchange string) (*Publisher, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("подключение к amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("открытие канала: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("объявление exchange %s: %w", exchange, err)
	}
	return &Publisher{
		log:      log.With().Str("component", "events").Logger(),
		exchange: exchange,
		conn:     conn,
		ch:       ch,
	}, nil
}

// PublishProcessed публикует событие о финальном решении по посту.
func (p *Publisher) PublishProcessed(ctx context.Context, event domain.ProcessedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("сериализация события: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(ctx, p.exchange, routingKeyProcessed, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("публикация события: %w", err)
	}
	return nil
}

// Close закрывает канал и соединение.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		if err := p.ch.Close(); err != nil {
			p.log.Warn().Err(err).Msg("не удалось закрыть канал amqp")
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			p.log.Warn().Err(err).Msg("не удалось закрыть соединение amqp")
		}
	}
}
