// Package model содержит доменные сущности панели перепродажи услуг.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role описывает роль пользователя панели.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
	RoleAgent Role = "agent"
)

// User представляет пользователя панели и его предоплаченный счёт.
type User struct {
	ID           int64
	Login        string
	Name         string
	PasswordHash []byte
	Role         Role
	Balance      decimal.Decimal
	TotalSpent   decimal.Decimal
	AdminProfit  decimal.Decimal
	CreatedAt    time.Time
}

// Order описывает одну покупку услуги у провайдера.
type Order struct {
	ID              int64
	UserID          int64
	ServiceID       int64
	ServiceName     string
	Link            string
	Quantity        int64
	Charge          decimal.Decimal
	ActualCharge    decimal.Decimal
	Profit          decimal.Decimal
	ProviderOrderID string
	Status          OrderStatus
	Refill          bool
	Cancel          bool
	StartCount      *int64
	Remains         *int64
	CancelError     string
	IntentKey       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Cancelable сообщает, можно ли отправить заказ провайдеру на отмену.
func (o Order) Cancelable() bool {
	if o.ProviderOrderID == "" {
		return false
	}
	return o.Status != OrderStatusCanceled && o.Status != OrderStatusCompleted
}

// Refillable сообщает, допускает ли заказ запрос на докрутку.
func (o Order) Refillable() bool {
	return o.Refill && o.ProviderOrderID != ""
}

// TransactionType описывает тип записи в журнале операций.
type TransactionType string

const (
	TransactionDeposit TransactionType = "deposit"
	TransactionOrder   TransactionType = "order"
	TransactionRefund  TransactionType = "refund"
)

// Transaction описывает неизменяемую запись журнала движения средств.
type Transaction struct {
	ID            int64
	UserID        int64
	Email         string
	Type          TransactionType
	Amount        decimal.Decimal
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
	OrderID       *int64
	Description   string
	CreatedAt     time.Time
}

// RefillStatusPending присваивается докрутке сразу после создания.
const RefillStatusPending = "Pending"

// Refill описывает запрос докрутки у провайдера.
type Refill struct {
	ID              int64
	OrderID         int64
	ProviderOrderID string
	RefillID        string
	Status          string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Service описывает услугу из каталога провайдера.
type Service struct {
	ID       int64
	Name     string
	Type     string
	Category string
	Rate     decimal.Decimal
	Min      int64
	Max      int64
	Refill   bool
	Cancel   bool
}

// PricedService дополняет услугу каталога пользовательской ценой за 1000 единиц.
type PricedService struct {
	Service
	UserRate decimal.Decimal
}

// Quote содержит рассчитанную стоимость заказа.
type Quote struct {
	Charge       decimal.Decimal
	ActualCharge decimal.Decimal
	Profit       decimal.Decimal
}

// Dashboard содержит агрегаты для главной страницы пользователя.
type Dashboard struct {
	Balance    decimal.Decimal
	TotalSpent decimal.Decimal
	Admin      *AdminDashboard
}

// AdminDashboard содержит агрегаты, доступные только администратору.
type AdminDashboard struct {
	TotalUsers       int64
	UsersByRole      map[Role]int64
	TotalProfit      decimal.Decimal
	TotalCharge      decimal.Decimal
	OrderCount       int64
	OpenIntents      int64
	ProviderBalance  *decimal.Decimal
	ProviderCurrency string
}

// OrderTotals содержит суммарные показатели по всем заказам.
type OrderTotals struct {
	Count  int64
	Charge decimal.Decimal
	Profit decimal.Decimal
}
