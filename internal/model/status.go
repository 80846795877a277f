package model

import (
	"strings"
	"time"
)

// OrderStatus описывает статус заказа.
type OrderStatus string

const (
	OrderStatusPending      OrderStatus = "Pending"
	OrderStatusProcessing   OrderStatus = "Processing"
	OrderStatusCompleted    OrderStatus = "Completed"
	OrderStatusPartial      OrderStatus = "Partial"
	OrderStatusCanceled     OrderStatus = "Canceled"
	OrderStatusCancelFailed OrderStatus = "Cancel Failed"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusProcessing},
	OrderStatusProcessing: {OrderStatusCompleted, OrderStatusPartial, OrderStatusCanceled, OrderStatusCancelFailed},
	OrderStatusCompleted:  {OrderStatusCanceled, OrderStatusCancelFailed},
	OrderStatusPartial:    {OrderStatusCanceled, OrderStatusCancelFailed},
	OrderStatusCancelFailed: {
		OrderStatusCanceled,
		OrderStatusCancelFailed,
		OrderStatusProcessing,
		OrderStatusCompleted,
		OrderStatusPartial,
	},
}

// CanTransition сообщает, допустим ли переход заказа из статуса from в статус to.
// Переход в тот же статус считается допустимым.
func CanTransition(from, to OrderStatus) bool {
	if from == to {
		return true
	}
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ParseProviderStatus переводит статус, сообщённый провайдером, в статус заказа.
func ParseProviderStatus(raw string) (OrderStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pending":
		return OrderStatusPending, true
	case "processing", "in progress", "inprogress":
		return OrderStatusProcessing, true
	case "completed":
		return OrderStatusCompleted, true
	case "partial":
		return OrderStatusPartial, true
	case "canceled", "cancelled":
		return OrderStatusCanceled, true
	default:
		return "", false
	}
}

// IntentStatus описывает состояние намерения заказа.
type IntentStatus string

const (
	// IntentPending: намерение записано, запрос провайдеру ещё не завершён.
	IntentPending IntentStatus = "pending"
	// IntentCommitted: провайдер принял заказ, баланс списан.
	IntentCommitted IntentStatus = "committed"
	// IntentRejected: провайдер отказал, списания не было.
	IntentRejected IntentStatus = "rejected"
	// IntentUnknown: исход запроса провайдеру неизвестен (таймаут).
	IntentUnknown IntentStatus = "unknown"
	// IntentInconsistent: провайдер принял заказ, но локальная запись не удалась.
	IntentInconsistent IntentStatus = "inconsistent"
	// IntentAbandoned: оператор закрыл неизвестное намерение без заказа.
	IntentAbandoned IntentStatus = "abandoned"
)

// HoldsFunds сообщает, удерживает ли намерение сумму на балансе пользователя.
func (s IntentStatus) HoldsFunds() bool {
	return s == IntentPending || s == IntentUnknown || s == IntentInconsistent
}

// OrderIntent описывает запись саги размещения заказа, создаваемую до обращения к провайдеру.
type OrderIntent struct {
	Key             string
	UserID          int64
	ServiceID       int64
	ServiceName     string
	Link            string
	Quantity        int64
	Refill          bool
	Cancel          bool
	Quote           Quote
	Status          IntentStatus
	ProviderOrderID string
	OrderID         *int64
	Error           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
