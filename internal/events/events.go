// Package events публикует события заказов и журнала операций во внешнюю шину.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Темы событий.
const (
	SubjectOrderPlaced     = "smmpanel.order.placed"
	SubjectOrderCanceled   = "smmpanel.order.canceled"
	SubjectBalanceCredited = "smmpanel.balance.credited"
	SubjectIntentUnknown   = "smmpanel.intent.unknown"
	SubjectIntentResolved  = "smmpanel.intent.resolved"
	SubjectInconsistency   = "smmpanel.alert.inconsistency"
)

// Event описывает сообщение, отправляемое в шину.
type Event struct {
	Subject         string    `json:"-"`
	UserID          int64     `json:"user_id"`
	OrderID         int64     `json:"order_id,omitempty"`
	IntentKey       string    `json:"intent_key,omitempty"`
	ProviderOrderID string    `json:"provider_order_id,omitempty"`
	Amount          string    `json:"amount,omitempty"`
	Status          string    `json:"status,omitempty"`
	Error           string    `json:"error,omitempty"`
	At              time.Time `json:"at"`
}

// Bus принимает закодированные события.
type Bus interface {
	Publish(subject string, data []byte) error
}

// Publisher кодирует события в JSON и отправляет их в шину.
type Publisher struct {
	bus    Bus
	logger *zap.Logger
}

// NewPublisher создаёт издателя поверх шины. Если bus равен nil, события только логируются.
func NewPublisher(bus Bus, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{bus: bus, logger: logger}
}

// Publish отправляет событие. Ошибка шины не отменяет уже выполненную операцию,
// поэтому вызывающий код только логирует её.
func (p *Publisher) Publish(ctx context.Context, e Event) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	if p.bus == nil {
		p.logger.Debug("event dropped, bus is not configured", zap.String("subject", e.Subject))
		return nil
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", e.Subject, err)
	}
	if err := p.bus.Publish(e.Subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", e.Subject, err)
	}
	return nil
}

// NATSBus публикует события в NATS.
type NATSBus struct {
	nc *nats.Conn
}

// Connect подключается к NATS. Пустой адрес означает работу без шины.
func Connect(url string) (*NATSBus, error) {
	if url == "" {
		return nil, nil
	}
	nc, err := nats.Connect(url, nats.Name("smm-panel"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSBus{nc: nc}, nil
}

// Publish отправляет сообщение в тему subject.
func (b *NATSBus) Publish(subject string, data []byte) error {
	return b.nc.Publish(subject, data)
}

// Close сбрасывает буфер и закрывает соединение.
func (b *NATSBus) Close() error {
	if b == nil || b.nc == nil {
		return nil
	}
	if err := b.nc.Drain(); err != nil {
		b.nc.Close()
		return fmt.Errorf("drain nats: %w", err)
	}
	return nil
}
