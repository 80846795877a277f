package handler

import (
	"time"

	"github.com/mmeshcher/smm-panel/internal/model"
	"github.com/mmeshcher/smm-panel/internal/money"
)

// Денежные суммы в ответах передаются строками с четырьмя знаками после запятой.

type serviceResponse struct {
	ID       int64  `json:"service"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Category string `json:"category"`
	Rate     string `json:"rate"`
	Min      int64  `json:"min"`
	Max      int64  `json:"max"`
	Refill   bool   `json:"refill"`
	Cancel   bool   `json:"cancel"`
}

type servicePageResponse struct {
	Services    []serviceResponse `json:"services"`
	Total       int               `json:"total"`
	TotalPages  int               `json:"totalPages"`
	CurrentPage int               `json:"currentPage"`
	Limit       int               `json:"limit"`
}

func newServicePageResponse(p model.ServicePage) servicePageResponse {
	items := make([]serviceResponse, 0, len(p.Items))
	for _, s := range p.Items {
		items = append(items, serviceResponse{
			ID:       s.ID,
			Name:     s.Name,
			Type:     s.Type,
			Category: s.Category,
			Rate:     money.String(s.UserRate),
			Min:      s.Min,
			Max:      s.Max,
			Refill:   s.Refill,
			Cancel:   s.Cancel,
		})
	}
	return servicePageResponse{
		Services:    items,
		Total:       p.Total,
		TotalPages:  p.TotalPages,
		CurrentPage: p.CurrentPage,
		Limit:       p.Limit,
	}
}

type orderResponse struct {
	ID              int64  `json:"id"`
	ServiceID       int64  `json:"serviceId"`
	ServiceName     string `json:"serviceName"`
	Link            string `json:"link"`
	Quantity        int64  `json:"quantity"`
	Charge          string `json:"charge"`
	ProviderOrderID string `json:"providerOrderId"`
	Status          string `json:"status"`
	Refill          bool   `json:"refill"`
	Cancel          bool   `json:"cancel"`
	StartCount      *int64 `json:"startCount,omitempty"`
	Remains         *int64 `json:"remains,omitempty"`
	CancelError     string `json:"cancelError,omitempty"`
	CreatedAt       string `json:"createdAt"`
}

func newOrderResponse(o model.Order) orderResponse {
	return orderResponse{
		ID:              o.ID,
		ServiceID:       o.ServiceID,
		ServiceName:     o.ServiceName,
		Link:            o.Link,
		Quantity:        o.Quantity,
		Charge:          money.String(o.Charge),
		ProviderOrderID: o.ProviderOrderID,
		Status:          string(o.Status),
		Refill:          o.Refill,
		Cancel:          o.Cancel,
		StartCount:      o.StartCount,
		Remains:         o.Remains,
		CancelError:     o.CancelError,
		CreatedAt:       o.CreatedAt.Format(time.RFC3339),
	}
}

type placeOrderResponse struct {
	Order   orderResponse `json:"order"`
	Balance string        `json:"balance"`
}

type orderPageResponse struct {
	Orders      []orderResponse `json:"orders"`
	Total       int64           `json:"total"`
	TotalPages  int64           `json:"totalPages"`
	CurrentPage int             `json:"currentPage"`
}

func newOrderPageResponse(p model.OrderPage) orderPageResponse {
	orders := make([]orderResponse, 0, len(p.Orders))
	for _, o := range p.Orders {
		orders = append(orders, newOrderResponse(o))
	}
	return orderPageResponse{
		Orders:      orders,
		Total:       p.Total,
		TotalPages:  p.TotalPages,
		CurrentPage: p.CurrentPage,
	}
}

type massOrderItemResponse struct {
	Link            string `json:"link"`
	Status          string `json:"status"`
	OrderID         int64  `json:"orderId,omitempty"`
	ProviderOrderID string `json:"providerOrderId,omitempty"`
	Charge          string `json:"charge,omitempty"`
	Message         string `json:"message,omitempty"`
}

type massOrderResponse struct {
	Results []massOrderItemResponse `json:"results"`
	Balance string                  `json:"balance"`
}

func newMassOrderResponse(res *model.MassOrderResult) massOrderResponse {
	items := make([]massOrderItemResponse, 0, len(res.Items))
	for _, it := range res.Items {
		item := massOrderItemResponse{
			Link:            it.Link,
			Status:          it.Status,
			OrderID:         it.OrderID,
			ProviderOrderID: it.ProviderOrderID,
			Message:         it.Message,
		}
		if it.Status == model.ItemSuccess {
			item.Charge = money.String(it.Charge)
		}
		items = append(items, item)
	}
	return massOrderResponse{Results: items, Balance: money.String(res.Balance)}
}

type cancelItemResponse struct {
	OrderID int64  `json:"orderId"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type refillResponse struct {
	OrderID  int64  `json:"orderId"`
	RefillID string `json:"refillId"`
	Status   string `json:"status"`
}

func newRefillResponse(rf *model.Refill) refillResponse {
	return refillResponse{OrderID: rf.OrderID, RefillID: rf.RefillID, Status: rf.Status}
}

type refillItemResponse struct {
	OrderID  int64  `json:"orderId"`
	Status   string `json:"status"`
	RefillID string `json:"refillId,omitempty"`
	Message  string `json:"message,omitempty"`
}

type refillStatusItemResponse struct {
	RefillID string `json:"refillId"`
	Status   string `json:"status,omitempty"`
	Error    string `json:"error,omitempty"`
	Updated  bool   `json:"updated"`
}

type transactionResponse struct {
	ID            int64  `json:"id"`
	Type          string `json:"type"`
	Amount        string `json:"amount"`
	BalanceBefore string `json:"balanceBefore"`
	BalanceAfter  string `json:"balanceAfter"`
	OrderID       *int64 `json:"orderId,omitempty"`
	Description   string `json:"description"`
	CreatedAt     string `json:"createdAt"`
}

func newTransactionResponse(t model.Transaction) transactionResponse {
	return transactionResponse{
		ID:            t.ID,
		Type:          string(t.Type),
		Amount:        money.String(t.Amount),
		BalanceBefore: money.String(t.BalanceBefore),
		BalanceAfter:  money.String(t.BalanceAfter),
		OrderID:       t.OrderID,
		Description:   t.Description,
		CreatedAt:     t.CreatedAt.Format(time.RFC3339),
	}
}

type adminDashboardResponse struct {
	TotalUsers       int64                `json:"totalUsers"`
	UsersByRole      map[model.Role]int64 `json:"usersByRole"`
	TotalProfit      string               `json:"totalProfit"`
	TotalCharge      string               `json:"totalCharge"`
	OrderCount       int64                `json:"orderCount"`
	OpenIntents      int64                `json:"openIntents"`
	ProviderBalance  *string              `json:"providerBalance,omitempty"`
	ProviderCurrency string               `json:"providerCurrency,omitempty"`
}

type dashboardResponse struct {
	Balance    string                  `json:"balance"`
	TotalSpent string                  `json:"totalSpent"`
	Admin      *adminDashboardResponse `json:"admin,omitempty"`
}

func newDashboardResponse(d *model.Dashboard) dashboardResponse {
	resp := dashboardResponse{
		Balance:    money.String(d.Balance),
		TotalSpent: money.String(d.TotalSpent),
	}
	if a := d.Admin; a != nil {
		resp.Admin = &adminDashboardResponse{
			TotalUsers:       a.TotalUsers,
			UsersByRole:      a.UsersByRole,
			TotalProfit:      money.String(a.TotalProfit),
			TotalCharge:      money.String(a.TotalCharge),
			OrderCount:       a.OrderCount,
			OpenIntents:      a.OpenIntents,
			ProviderCurrency: a.ProviderCurrency,
		}
		if a.ProviderBalance != nil {
			b := money.String(*a.ProviderBalance)
			resp.Admin.ProviderBalance = &b
		}
	}
	return resp
}

type intentResponse struct {
	Key             string `json:"key"`
	UserID          int64  `json:"userId"`
	ServiceID       int64  `json:"serviceId"`
	Link            string `json:"link"`
	Quantity        int64  `json:"quantity"`
	Charge          string `json:"charge"`
	Status          string `json:"status"`
	ProviderOrderID string `json:"providerOrderId,omitempty"`
	OrderID         *int64 `json:"orderId,omitempty"`
	Error           string `json:"error,omitempty"`
	CreatedAt       string `json:"createdAt"`
	UpdatedAt       string `json:"updatedAt"`
}

func newIntentResponse(in model.OrderIntent) intentResponse {
	return intentResponse{
		Key:             in.Key,
		UserID:          in.UserID,
		ServiceID:       in.ServiceID,
		Link:            in.Link,
		Quantity:        in.Quantity,
		Charge:          money.String(in.Quote.Charge),
		Status:          string(in.Status),
		ProviderOrderID: in.ProviderOrderID,
		OrderID:         in.OrderID,
		Error:           in.Error,
		CreatedAt:       in.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       in.UpdatedAt.Format(time.RFC3339),
	}
}
