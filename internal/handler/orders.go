package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/smm-panel/internal/model"
	"github.com/mmeshcher/smm-panel/internal/money"
	"github.com/mmeshcher/smm-panel/internal/service"
	"github.com/mmeshcher/smm-panel/internal/validation"
)

// Размеры страниц по умолчанию.
const (
	defaultServicesLimit     = 10
	defaultOrdersLimit       = 20
	defaultTransactionsLimit = 50
)

// IdempotencyKeyHeader содержит клиентский ключ идемпотентности заказа.
const IdempotencyKeyHeader = "Idempotency-Key"

// ListServices возвращает страницу каталога с ценами пользователя.
func (h *Handler) ListServices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	profit, err := validation.ParseProfit(q.Get("profit"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	page, limit, err := validation.Page(q.Get("page"), q.Get("limit"), defaultServicesLimit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.service.ListServices(r.Context(), profit, page, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newServicePageResponse(res))
}

type orderLineRequest struct {
	ServiceID int64  `json:"serviceId"`
	Link      string `json:"link"`
	Quantity  int64  `json:"quantity"`
}

type placeOrderRequest struct {
	orderLineRequest
	Profit decimal.Decimal `json:"profit"`
}

// PlaceOrder размещает одиночный заказ.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req placeOrderRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.service.PlaceOrder(r.Context(), service.PlaceOrderRequest{
		UserID:         userID,
		ServiceID:      req.ServiceID,
		Link:           req.Link,
		Quantity:       req.Quantity,
		Profit:         req.Profit,
		IdempotencyKey: r.Header.Get(IdempotencyKeyHeader),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, placeOrderResponse{
		Order:   newOrderResponse(res.Order),
		Balance: money.String(res.Balance),
	})
}

type massOrderRequest struct {
	Orders []orderLineRequest `json:"orders"`
	Profit decimal.Decimal    `json:"profit"`
}

// PlaceMassOrder размещает пакет заказов.
func (h *Handler) PlaceMassOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req massOrderRequest
	if !h.decode(w, r, &req) {
		return
	}

	lines := make([]model.OrderLine, 0, len(req.Orders))
	for _, o := range req.Orders {
		lines = append(lines, model.OrderLine{ServiceID: o.ServiceID, Link: o.Link, Quantity: o.Quantity})
	}

	res, err := h.service.PlaceMassOrder(r.Context(), service.MassOrderRequest{
		UserID: userID,
		Items:  lines,
		Profit: req.Profit,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newMassOrderResponse(res))
}

// GetOrders возвращает страницу заказов текущего пользователя.
func (h *Handler) GetOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	page, limit, err := validation.Page(r.URL.Query().Get("page"), r.URL.Query().Get("limit"), defaultOrdersLimit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.service.GetOrders(r.Context(), userID, page, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderPageResponse(res))
}

// GetOrder возвращает заказ с актуальным статусом провайдера.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	orderID, err := pathID(r, "orderID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	o, err := h.service.RefreshOrderStatus(r.Context(), userID, orderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderResponse(*o))
}

type orderIDsRequest struct {
	OrderIDs []int64 `json:"orderIds"`
}

// CancelOrders запрашивает отмену заказов.
func (h *Handler) CancelOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req orderIDsRequest
	if !h.decode(w, r, &req) {
		return
	}

	items, err := h.service.CancelOrders(r.Context(), userID, req.OrderIDs)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := make([]cancelItemResponse, 0, len(items))
	for _, it := range items {
		resp = append(resp, cancelItemResponse{OrderID: it.OrderID, Status: it.Status, Message: it.Message})
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": resp})
}

type refillRequest struct {
	OrderID int64 `json:"orderId"`
}

// RequestRefill создаёт запрос докрутки по заказу.
func (h *Handler) RequestRefill(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req refillRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.OrderID <= 0 {
		h.writeError(w, r, model.ErrInvalidArgument)
		return
	}

	rf, err := h.service.RequestRefill(r.Context(), userID, req.OrderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newRefillResponse(rf))
}

// RequestMultipleRefills создаёт запросы докрутки для нескольких заказов.
func (h *Handler) RequestMultipleRefills(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req orderIDsRequest
	if !h.decode(w, r, &req) {
		return
	}

	items, err := h.service.RequestMultipleRefills(r.Context(), userID, req.OrderIDs)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := make([]refillItemResponse, 0, len(items))
	for _, it := range items {
		resp = append(resp, refillItemResponse{OrderID: it.OrderID, Status: it.Status, RefillID: it.RefillID, Message: it.Message})
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": resp})
}

// GetRefill возвращает докрутку с актуальным статусом провайдера.
func (h *Handler) GetRefill(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	rf, err := h.service.CheckRefillStatus(r.Context(), userID, chi.URLParam(r, "refillID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newRefillResponse(rf))
}

type refillIDsRequest struct {
	RefillIDs []string `json:"refillIds"`
}

// CheckRefillStatuses обновляет статусы нескольких докруток.
func (h *Handler) CheckRefillStatuses(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req refillIDsRequest
	if !h.decode(w, r, &req) {
		return
	}

	items, err := h.service.CheckRefillStatuses(r.Context(), userID, req.RefillIDs)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := make([]refillStatusItemResponse, 0, len(items))
	for _, it := range items {
		resp = append(resp, refillStatusItemResponse{RefillID: it.RefillID, Status: it.Status, Error: it.Error, Updated: it.Updated})
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": resp})
}

// GetTransactions возвращает последние операции по счёту пользователя.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	_, limit, err := validation.Page("", r.URL.Query().Get("limit"), defaultTransactionsLimit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	entries, err := h.service.GetTransactions(r.Context(), userID, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := make([]transactionResponse, 0, len(entries))
	for _, t := range entries {
		resp = append(resp, newTransactionResponse(t))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetDashboard возвращает сводку для главной страницы.
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	d, err := h.service.Dashboard(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newDashboardResponse(d))
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, model.ErrInvalidArgument
	}
	return id, nil
}
