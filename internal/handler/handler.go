// Package handler содержит HTTP-обработчики API панели.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/smm-panel/internal/middleware"
	"github.com/mmeshcher/smm-panel/internal/model"
	"github.com/mmeshcher/smm-panel/internal/repository"
	"github.com/mmeshcher/smm-panel/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, login, name, password string) (int64, error)
	AuthenticateUser(ctx context.Context, login, password string) (int64, error)
	UserRole(ctx context.Context, userID int64) (model.Role, error)

	ListServices(ctx context.Context, profit decimal.Decimal, page, limit int) (model.ServicePage, error)
	PlaceOrder(ctx context.Context, req service.PlaceOrderRequest) (*model.PlaceOrderResult, error)
	PlaceMassOrder(ctx context.Context, req service.MassOrderRequest) (*model.MassOrderResult, error)
	GetOrders(ctx context.Context, userID int64, page, limit int) (model.OrderPage, error)
	RefreshOrderStatus(ctx context.Context, userID, orderID int64) (*model.Order, error)
	CancelOrders(ctx context.Context, userID int64, orderIDs []int64) ([]model.CancelItem, error)

	RequestRefill(ctx context.Context, userID, orderID int64) (*model.Refill, error)
	RequestMultipleRefills(ctx context.Context, userID int64, orderIDs []int64) ([]model.RefillItem, error)
	CheckRefillStatus(ctx context.Context, userID int64, refillID string) (*model.Refill, error)
	CheckRefillStatuses(ctx context.Context, userID int64, refillIDs []string) ([]model.RefillStatusItem, error)

	GetTransactions(ctx context.Context, userID int64, limit int) ([]model.Transaction, error)
	Dashboard(ctx context.Context, userID int64) (*model.Dashboard, error)

	CreditUser(ctx context.Context, userID int64, sum decimal.Decimal, description string) (*model.Transaction, error)
	ListOpenIntents(ctx context.Context, limit int) ([]model.OrderIntent, error)
	ReconcileIntent(ctx context.Context, key, providerOrderID string) (*model.OrderIntent, error)
}

// Handler реализует HTTP-обработчики API панели.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

type registerRequest struct {
	Login    string `json:"login"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Login == "" || req.Password == "" {
		h.writeError(w, r, model.ErrInvalidArgument)
		return
	}

	userID, err := h.service.RegisterUser(r.Context(), req.Login, req.Name, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			writeJSON(w, http.StatusConflict, errorResponse{Error: "UserExists", Message: "login is already taken"})
			return
		}
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{Token: h.authMiddleware.SetAuthCookie(w, userID)})
}

// Login выполняет аутентификацию пользователя и выставляет cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Login == "" || req.Password == "" {
		h.writeError(w, r, model.ErrInvalidArgument)
		return
	}

	userID, err := h.service.AuthenticateUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{Token: h.authMiddleware.SetAuthCookie(w, userID)})
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// statusFor переводит доменную ошибку в HTTP-статус.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrInvalidComputation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrServiceNotFound),
		errors.Is(err, model.ErrOrderNotFound),
		errors.Is(err, model.ErrRefillNotFound),
		errors.Is(err, model.ErrUserNotFound),
		errors.Is(err, model.ErrIntentNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInsufficientBalance):
		return http.StatusPaymentRequired
	case errors.Is(err, model.ErrDuplicateRequest),
		errors.Is(err, model.ErrRefillNotAllowed),
		errors.Is(err, model.ErrNoCancelableOrders),
		errors.Is(err, model.ErrIntentNotReconcilable):
		return http.StatusConflict
	case errors.Is(err, model.ErrPostCommitInconsistency):
		return http.StatusInternalServerError
	case errors.Is(err, model.ErrUpstreamUnknown):
		return http.StatusGatewayTimeout
	case errors.Is(err, model.ErrUpstreamRejected),
		errors.Is(err, model.ErrUpstreamUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := errorResponse{Error: model.ErrorCode(err), Message: err.Error()}

	switch {
	case errors.Is(err, model.ErrPostCommitInconsistency):
		resp.Message = "order was accepted by the provider but not recorded, it will be reconciled by an operator"
	case status == http.StatusInternalServerError:
		h.logger.Error("request failed",
			zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
		resp.Message = http.StatusText(status)
	}

	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeBody разбирает JSON-тело запроса. Пустое тело допустимо, если allowEmpty.
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) bool {
	defer r.Body.Close()

	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || (allowEmpty && errors.Is(err, io.EOF)) {
		return true
	}
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: "InvalidArgument", Message: "malformed JSON body"})
	return false
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	return h.decodeBody(w, r, v, false)
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	}
	return userID, ok
}
