package model

import "github.com/shopspring/decimal"

// Статусы элемента пакетной операции.
const (
	ItemSuccess = "success"
	ItemFailed  = "failed"
)

// OrderLine описывает одну позицию массового заказа.
type OrderLine struct {
	ServiceID int64
	Link      string
	Quantity  int64
}

// PlaceOrderResult содержит результат размещения одиночного заказа.
type PlaceOrderResult struct {
	Order   Order
	Balance decimal.Decimal
}

// MassOrderItem описывает исход одной позиции массового заказа.
type MassOrderItem struct {
	Link            string
	Status          string
	OrderID         int64
	ProviderOrderID string
	Charge          decimal.Decimal
	Message         string
}

// MassOrderResult содержит результат массового заказа.
type MassOrderResult struct {
	Items   []MassOrderItem
	Balance decimal.Decimal
}

// CancelItem описывает исход отмены одного заказа.
type CancelItem struct {
	OrderID int64
	Status  string
	Message string
}

// RefillItem описывает исход запроса докрутки для одного заказа.
type RefillItem struct {
	OrderID  int64
	Status   string
	RefillID string
	Message  string
}

// RefillStatusItem содержит статус докрутки, сообщённый провайдером.
type RefillStatusItem struct {
	RefillID string
	Status   string
	Error    string
	Updated  bool
}

// ServicePage содержит страницу каталога услуг.
type ServicePage struct {
	Items       []PricedService
	Total       int
	TotalPages  int
	CurrentPage int
	Limit       int
}

// OrderPage содержит страницу заказов пользователя.
type OrderPage struct {
	Orders      []Order
	Total       int64
	TotalPages  int64
	CurrentPage int
}
