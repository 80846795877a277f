package handler

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/smm-panel/internal/middleware"
	"github.com/mmeshcher/smm-panel/internal/model"
	"github.com/mmeshcher/smm-panel/internal/repository"
	"github.com/mmeshcher/smm-panel/internal/service"
)

const (
	userID  int64 = 7
	adminID int64 = 1
)

type stubService struct {
	registerErr error
	authErr     error

	servicesPage  model.ServicePage
	servicesErr   error
	servicesArgs  []any
	placeReq      service.PlaceOrderRequest
	placeRes      *model.PlaceOrderResult
	placeErr      error
	massReq       service.MassOrderRequest
	massRes       *model.MassOrderResult
	ordersPage    model.OrderPage
	order         *model.Order
	orderErr      error
	cancelItems   []model.CancelItem
	cancelErr     error
	refill        *model.Refill
	refillErr     error
	dashboard     *model.Dashboard
	creditArgs    []any
	intents       []model.OrderIntent
	reconcileArgs []string
	reconcileErr  error
}

func (s *stubService) RegisterUser(ctx context.Context, login, name, password string) (int64, error) {
	return userID, s.registerErr
}

func (s *stubService) AuthenticateUser(ctx context.Context, login, password string) (int64, error) {
	return userID, s.authErr
}

func (s *stubService) UserRole(ctx context.Context, id int64) (model.Role, error) {
	switch id {
	case adminID:
		return model.RoleAdmin, nil
	case userID:
		return model.RoleUser, nil
	}
	return "", model.ErrUserNotFound
}

func (s *stubService) ListServices(ctx context.Context, profit decimal.Decimal, page, limit int) (model.ServicePage, error) {
	s.servicesArgs = []any{profit.String(), page, limit}
	return s.servicesPage, s.servicesErr
}

func (s *stubService) PlaceOrder(ctx context.Context, req service.PlaceOrderRequest) (*model.PlaceOrderResult, error) {
	s.placeReq = req
	return s.placeRes, s.placeErr
}

func (s *stubService) PlaceMassOrder(ctx context.Context, req service.MassOrderRequest) (*model.MassOrderResult, error) {
	s.massReq = req
	return s.massRes, nil
}

func (s *stubService) GetOrders(ctx context.Context, id int64, page, limit int) (model.OrderPage, error) {
	return s.ordersPage, nil
}

func (s *stubService) RefreshOrderStatus(ctx context.Context, id, orderID int64) (*model.Order, error) {
	return s.order, s.orderErr
}

func (s *stubService) CancelOrders(ctx context.Context, id int64, orderIDs []int64) ([]model.CancelItem, error) {
	return s.cancelItems, s.cancelErr
}

func (s *stubService) RequestRefill(ctx context.Context, id, orderID int64) (*model.Refill, error) {
	return s.refill, s.refillErr
}

func (s *stubService) RequestMultipleRefills(ctx context.Context, id int64, orderIDs []int64) ([]model.RefillItem, error) {
	return nil, nil
}

func (s *stubService) CheckRefillStatus(ctx context.Context, id int64, refillID string) (*model.Refill, error) {
	return s.refill, s.refillErr
}

func (s *stubService) CheckRefillStatuses(ctx context.Context, id int64, refillIDs []string) ([]model.RefillStatusItem, error) {
	return nil, nil
}

func (s *stubService) GetTransactions(ctx context.Context, id int64, limit int) ([]model.Transaction, error) {
	return nil, nil
}

func (s *stubService) Dashboard(ctx context.Context, id int64) (*model.Dashboard, error) {
	return s.dashboard, nil
}

func (s *stubService) CreditUser(ctx context.Context, id int64, sum decimal.Decimal, description string) (*model.Transaction, error) {
	s.creditArgs = []any{id, sum.String(), description}
	return &model.Transaction{ID: 1, UserID: id, Type: model.TransactionDeposit, Amount: sum, BalanceAfter: sum}, nil
}

func (s *stubService) ListOpenIntents(ctx context.Context, limit int) ([]model.OrderIntent, error) {
	return s.intents, nil
}

func (s *stubService) ReconcileIntent(ctx context.Context, key, providerOrderID string) (*model.OrderIntent, error) {
	s.reconcileArgs = []string{key, providerOrderID}
	if s.reconcileErr != nil {
		return nil, s.reconcileErr
	}
	return &model.OrderIntent{Key: key, Status: model.IntentCommitted, ProviderOrderID: providerOrderID}, nil
}

type testServer struct {
	router http.Handler
	auth   *middleware.AuthMiddleware
}

func newTestServer(t *testing.T, svc Service) *testServer {
	t.Helper()

	auth := middleware.NewAuthMiddleware("test-secret")
	h := NewHandler(svc, zap.NewNop(), auth)
	return &testServer{router: h.SetupRouter(), auth: auth}
}

func (s *testServer) do(t *testing.T, method, path string, as int64, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if as != 0 {
		req.Header.Set("Authorization", "Bearer "+s.auth.Token(as))
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestRegisterAndLogin(t *testing.T) {
	svc := &stubService{}
	srv := newTestServer(t, svc)

	rec := srv.do(t, http.MethodPost, "/api/user/register", 0, map[string]string{"login": "u", "password": "p"})
	require.Equal(t, http.StatusOK, rec.Code)
	token := decodeJSON[tokenResponse](t, rec).Token
	assert.Equal(t, srv.auth.Token(userID), token)
	assert.NotEmpty(t, rec.Result().Cookies())

	svc.registerErr = fmt.Errorf("%w: u", repository.ErrUserExists)
	rec = srv.do(t, http.MethodPost, "/api/user/register", 0, map[string]string{"login": "u", "password": "p"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = srv.do(t, http.MethodPost, "/api/user/register", 0, map[string]string{"login": "u"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(t, http.MethodPost, "/api/user/login", 0, "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	svc.authErr = service.ErrInvalidCredentials
	rec = srv.do(t, http.MethodPost, "/api/user/login", 0, map[string]string{"login": "u", "password": "bad"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	srv := newTestServer(t, &stubService{})

	for _, path := range []string{"/api/services", "/api/orders", "/api/dashboard", "/api/transactions"} {
		rec := srv.do(t, http.MethodGet, path, 0, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

func TestListServices(t *testing.T) {
	svc := &stubService{servicesPage: model.ServicePage{
		Items: []model.PricedService{{
			Service:  model.Service{ID: 1, Name: "Followers", Rate: decimal.RequireFromString("1.23456"), Min: 10, Max: 1000},
			UserRate: decimal.RequireFromString("1.358"),
		}},
		Total: 1, TotalPages: 1, CurrentPage: 1, Limit: 10,
	}}
	srv := newTestServer(t, svc)

	rec := srv.do(t, http.MethodGet, "/api/services?profit=10", userID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"10", 1, 10}, svc.servicesArgs, "default page and limit")

	resp := decodeJSON[servicePageResponse](t, rec)
	require.Len(t, resp.Services, 1)
	assert.Equal(t, "1.3580", resp.Services[0].Rate, "only the user rate is exposed")

	rec = srv.do(t, http.MethodGet, "/api/services?limit=500", userID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 100, svc.servicesArgs[2], "limit is capped")

	rec = srv.do(t, http.MethodGet, "/api/services?profit=-5", userID, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	svc.servicesErr = fmt.Errorf("%w: timeout", model.ErrUpstreamUnavailable)
	rec = srv.do(t, http.MethodGet, "/api/services", userID, nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "UpstreamUnavailable", decodeJSON[errorResponse](t, rec).Error)
}

func TestPlaceOrder(t *testing.T) {
	svc := &stubService{placeRes: &model.PlaceOrderResult{
		Order: model.Order{
			ID: 5, ServiceID: 1, Link: "https://example.com", Quantity: 1000,
			Charge: decimal.RequireFromString("1.358"), ProviderOrderID: "23501",
			Status: model.OrderStatusProcessing, CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		},
		Balance: decimal.RequireFromString("8.642"),
	}}
	srv := newTestServer(t, svc)

	rec := srv.do(t, http.MethodPost, "/api/orders", userID,
		`{"serviceId":1,"link":"https://example.com","quantity":1000,"profit":"10"}`,
		IdempotencyKeyHeader, "k-1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	assert.Equal(t, userID, svc.placeReq.UserID)
	assert.Equal(t, int64(1000), svc.placeReq.Quantity)
	assert.Equal(t, "10", svc.placeReq.Profit.String())
	assert.Equal(t, "k-1", svc.placeReq.IdempotencyKey)

	resp := decodeJSON[placeOrderResponse](t, rec)
	assert.Equal(t, "1.3580", resp.Order.Charge)
	assert.Equal(t, "8.6420", resp.Balance)
	assert.Equal(t, "23501", resp.Order.ProviderOrderID)
	assert.Equal(t, "2024-05-01T12:00:00Z", resp.Order.CreatedAt)
}

func TestPlaceOrder_ErrorMapping(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{err: model.ErrQuantityOutOfRange, wantStatus: http.StatusBadRequest, wantCode: "QuantityOutOfRange"},
		{err: model.ErrInvalidComputation, wantStatus: http.StatusUnprocessableEntity, wantCode: "InvalidComputation"},
		{err: fmt.Errorf("%w: 9", model.ErrServiceNotFound), wantStatus: http.StatusNotFound, wantCode: "ServiceNotFound"},
		{err: model.ErrInsufficientBalance, wantStatus: http.StatusPaymentRequired, wantCode: "InsufficientBalance"},
		{err: model.ErrDuplicateRequest, wantStatus: http.StatusConflict, wantCode: "DuplicateRequest"},
		{err: model.ErrUpstreamRejected, wantStatus: http.StatusBadGateway, wantCode: "UpstreamRejected"},
		{err: model.ErrUpstreamUnknown, wantStatus: http.StatusGatewayTimeout, wantCode: "UpstreamUnknown"},
		{
			err:        fmt.Errorf("%w: provider order 1: %w", model.ErrPostCommitInconsistency, context.DeadlineExceeded),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "PostCommitInconsistency",
		},
		{err: context.Canceled, wantStatus: http.StatusInternalServerError, wantCode: "Internal"},
	}

	for _, tt := range tests {
		t.Run(tt.wantCode, func(t *testing.T) {
			srv := newTestServer(t, &stubService{placeErr: tt.err})

			rec := srv.do(t, http.MethodPost, "/api/orders", userID, `{"serviceId":1,"link":"x","quantity":10}`)
			assert.Equal(t, tt.wantStatus, rec.Code)

			resp := decodeJSON[errorResponse](t, rec)
			assert.Equal(t, tt.wantCode, resp.Error)
			if tt.wantStatus == http.StatusInternalServerError {
				assert.NotContains(t, resp.Message, "deadline", "internal details are not exposed")
			}
		})
	}
}

func TestPlaceMassOrder(t *testing.T) {
	svc := &stubService{massRes: &model.MassOrderResult{
		Items: []model.MassOrderItem{
			{Link: "a", Status: model.ItemSuccess, OrderID: 1, Charge: decimal.RequireFromString("1.358")},
			{Link: "b", Status: model.ItemFailed, Message: "Service not found"},
		},
		Balance: decimal.RequireFromString("8.642"),
	}}
	srv := newTestServer(t, svc)

	rec := srv.do(t, http.MethodPost, "/api/orders/mass", userID,
		`{"orders":[{"serviceId":1,"link":"a","quantity":1000},{"serviceId":99,"link":"b","quantity":1000}],"profit":10}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.Len(t, svc.massReq.Items, 2)
	assert.Equal(t, int64(99), svc.massReq.Items[1].ServiceID)

	resp := decodeJSON[massOrderResponse](t, rec)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "1.3580", resp.Results[0].Charge)
	assert.Empty(t, resp.Results[1].Charge)
	assert.Equal(t, "Service not found", resp.Results[1].Message)
	assert.Equal(t, "8.6420", resp.Balance)
}

func TestGetOrder(t *testing.T) {
	svc := &stubService{orderErr: model.ErrOrderNotFound}
	srv := newTestServer(t, svc)

	rec := srv.do(t, http.MethodGet, "/api/orders/12", userID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = srv.do(t, http.MethodGet, "/api/orders/abc", userID, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	svc.orderErr = nil
	svc.order = &model.Order{ID: 12, Status: model.OrderStatusPartial, Charge: decimal.NewFromInt(2)}
	rec = srv.do(t, http.MethodGet, "/api/orders/12", userID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Partial", decodeJSON[orderResponse](t, rec).Status)
}

func TestCancelOrders(t *testing.T) {
	svc := &stubService{cancelItems: []model.CancelItem{
		{OrderID: 1, Status: model.ItemSuccess},
		{OrderID: 2, Status: model.ItemFailed, Message: "Order cannot be canceled"},
	}}
	srv := newTestServer(t, svc)

	rec := srv.do(t, http.MethodPost, "/api/orders/cancel", userID, orderIDsRequest{OrderIDs: []int64{1, 2}})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeJSON[struct {
		Results []cancelItemResponse `json:"results"`
	}](t, rec)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "Order cannot be canceled", resp.Results[1].Message)

	svc.cancelErr = model.ErrNoCancelableOrders
	rec = srv.do(t, http.MethodPost, "/api/orders/cancel", userID, orderIDsRequest{OrderIDs: []int64{1}})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRefills(t *testing.T) {
	svc := &stubService{refillErr: model.ErrRefillNotAllowed}
	srv := newTestServer(t, svc)

	rec := srv.do(t, http.MethodPost, "/api/refills", userID, refillRequest{OrderID: 3})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "RefillNotAllowed", decodeJSON[errorResponse](t, rec).Error)

	rec = srv.do(t, http.MethodPost, "/api/refills", userID, refillRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	svc.refillErr = nil
	svc.refill = &model.Refill{OrderID: 3, RefillID: "r-1", Status: model.RefillStatusPending}
	rec = srv.do(t, http.MethodPost, "/api/refills", userID, refillRequest{OrderID: 3})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "r-1", decodeJSON[refillResponse](t, rec).RefillID)

	rec = srv.do(t, http.MethodGet, "/api/refills/r-1", userID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestDashboard(t *testing.T) {
	balance := decimal.RequireFromString("100.84292")
	svc := &stubService{dashboard: &model.Dashboard{
		Balance: decimal.NewFromInt(5),
		Admin: &model.AdminDashboard{
			TotalUsers:      3,
			TotalProfit:     decimal.RequireFromString("0.1234"),
			ProviderBalance: &balance,
		},
	}}
	srv := newTestServer(t, svc)

	rec := srv.do(t, http.MethodGet, "/api/dashboard", adminID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeJSON[dashboardResponse](t, rec)
	assert.Equal(t, "5.0000", resp.Balance)
	require.NotNil(t, resp.Admin)
	require.NotNil(t, resp.Admin.ProviderBalance)
	assert.Equal(t, "100.8429", *resp.Admin.ProviderBalance)
}

func TestAdminRoutes(t *testing.T) {
	svc := &stubService{}
	srv := newTestServer(t, svc)

	rec := srv.do(t, http.MethodGet, "/api/admin/intents", userID, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = srv.do(t, http.MethodPost, "/api/admin/users/7/credit", adminID, `{"amount":"25.5","description":"manual"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []any{int64(7), "25.5", "manual"}, svc.creditArgs)
	assert.Equal(t, "25.5000", decodeJSON[transactionResponse](t, rec).Amount)

	rec = srv.do(t, http.MethodPost, "/api/admin/intents/7:abc/reconcile", adminID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"7:abc", ""}, svc.reconcileArgs)

	rec = srv.do(t, http.MethodPost, "/api/admin/intents/7:abc/reconcile", adminID, reconcileRequest{ProviderOrderID: "555"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "555", decodeJSON[intentResponse](t, rec).ProviderOrderID)

	svc.reconcileErr = model.ErrIntentNotReconcilable
	rec = srv.do(t, http.MethodPost, "/api/admin/intents/7:abc/reconcile", adminID, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestMetricsAndCompression(t *testing.T) {
	srv := newTestServer(t, &stubService{dashboard: &model.Dashboard{}})

	rec := srv.do(t, http.MethodGet, "/metrics", 0, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(t, http.MethodGet, "/metrics", 0, nil, "Accept-Encoding", "gzip")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
	mr, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	exposition, err := io.ReadAll(mr)
	require.NoError(t, err)
	assert.Contains(t, string(exposition), "# TYPE go_goroutines gauge")

	rec = srv.do(t, http.MethodGet, "/api/dashboard", userID, nil, "Accept-Encoding", "gzip")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))

	gr, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	raw, err := io.ReadAll(gr)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"balance":"0.0000"`)
}
