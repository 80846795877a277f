// Package provider предоставляет клиент API поставщика услуг.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/mmeshcher/smm-panel/internal/metrics"
	"github.com/mmeshcher/smm-panel/internal/model"
)

const maxResponseSize = 16 << 20

// readRetries ограничивает повторы действий, не меняющих состояние у провайдера.
const readRetries = 2

// readOnlyActions можно безопасно повторять: add, cancel и refill повторно не отправляются.
var readOnlyActions = map[string]bool{
	"services":      true,
	"status":        true,
	"refill_status": true,
	"balance":       true,
}

// errTimeout помечает запросы, ответ на которые не был получен вовремя.
var errTimeout = errors.New("provider request timed out")

// errMaybeDelivered помечает обрыв связи, при котором запрос мог дойти до провайдера.
var errMaybeDelivered = errors.New("provider request may have been delivered")

// errNotSent помечает ошибки подготовки запроса до его отправки.
var errNotSent = errors.New("provider request not sent")

// Client инкапсулирует HTTP-взаимодействие с API провайдера.
type Client struct {
	baseURL    string
	key        string
	httpClient *http.Client
	retrying   *retryablehttp.Client
}

// NewClient создаёт клиент провайдера с указанным адресом, ключом и таймаутом запроса.
func NewClient(baseURL, key string, timeout time.Duration) *Client {
	base := strings.TrimRight(baseURL, "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}

	retrying := retryablehttp.NewClient()
	retrying.HTTPClient = httpClient
	retrying.RetryMax = readRetries
	retrying.RetryWaitMin = 100 * time.Millisecond
	retrying.RetryWaitMax = time.Second
	retrying.Logger = nil
	retrying.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		baseURL:    base,
		key:        key,
		httpClient: httpClient,
		retrying:   retrying,
	}
}

// Services возвращает каталог услуг провайдера.
func (c *Client) Services(ctx context.Context) ([]model.Service, error) {
	var items []serviceDTO
	if err := c.do(ctx, "services", nil, &items); err != nil {
		return nil, err
	}

	services := make([]model.Service, 0, len(items))
	for _, it := range items {
		id, ok := it.Service.int64()
		if !ok {
			continue
		}
		s := model.Service{
			ID:       *id,
			Name:     it.Name,
			Type:     it.Type,
			Category: it.Category,
			Refill:   bool(it.Refill),
			Cancel:   bool(it.Cancel),
		}
		if rate, ok := it.Rate.decimal(); ok {
			s.Rate = rate
		}
		if v, ok := it.Min.int64(); ok {
			s.Min = *v
		}
		if v, ok := it.Max.int64(); ok {
			s.Max = *v
		}
		services = append(services, s)
	}
	return services, nil
}

// PlaceOrder размещает заказ у провайдера и возвращает выданный им идентификатор.
// Таймаут или обрыв ответа возвращаются как model.ErrUpstreamUnknown.
func (c *Client) PlaceOrder(ctx context.Context, serviceID int64, link string, quantity int64) (string, error) {
	var resp addResponse
	err := c.do(ctx, "add", map[string]any{
		"service":  serviceID,
		"link":     link,
		"quantity": quantity,
	}, &resp)
	if err != nil {
		if errors.Is(err, errTimeout) || errors.Is(err, errMaybeDelivered) || errors.Is(err, errUndecodable) {
			return "", fmt.Errorf("%w: %w", model.ErrUpstreamUnknown, err)
		}
		return "", err
	}
	if resp.Order == "" {
		return "", fmt.Errorf("%w: add: response has no order id", model.ErrUpstreamRejected)
	}
	return string(resp.Order), nil
}

// OrderStatus запрашивает состояние заказа по идентификатору провайдера.
func (c *Client) OrderStatus(ctx context.Context, providerOrderID string) (*StatusReport, error) {
	var resp statusResponse
	if err := c.do(ctx, "status", map[string]any{"order": providerOrderID}, &resp); err != nil {
		return nil, err
	}
	if resp.Status == "" {
		return nil, fmt.Errorf("%w: status: response has no status", model.ErrUpstreamRejected)
	}

	report := &StatusReport{
		Status:   resp.Status,
		Currency: resp.Currency,
	}
	report.StartCount, _ = resp.StartCount.int64()
	report.Remains, _ = resp.Remains.int64()
	if charge, ok := resp.Charge.decimal(); ok {
		report.Charge = &charge
	}
	return report, nil
}

// CancelOrders запрашивает отмену заказов. Ошибки по отдельным заказам
// возвращаются в результатах, а не ошибкой всего вызова.
func (c *Client) CancelOrders(ctx context.Context, providerOrderIDs []string) ([]CancelResult, error) {
	var items []cancelItemDTO
	if err := c.do(ctx, "cancel", map[string]any{"orders": strings.Join(providerOrderIDs, ",")}, &items); err != nil {
		return nil, err
	}

	res := make([]CancelResult, 0, len(items))
	for _, it := range items {
		if it.Order == "" {
			continue
		}
		res = append(res, CancelResult{
			ProviderOrderID: string(it.Order),
			Error:           it.Cancel.Error,
		})
	}
	return res, nil
}

// CreateRefill создаёт запрос докрутки по заказу и возвращает идентификатор докрутки.
func (c *Client) CreateRefill(ctx context.Context, providerOrderID string) (string, error) {
	var resp refillResponse
	if err := c.do(ctx, "refill", map[string]any{"order": providerOrderID}, &resp); err != nil {
		return "", err
	}
	if resp.Refill == "" {
		return "", fmt.Errorf("%w: refill: response has no refill id", model.ErrUpstreamRejected)
	}
	return string(resp.Refill), nil
}

// CreateRefills создаёт запросы докрутки для нескольких заказов.
func (c *Client) CreateRefills(ctx context.Context, providerOrderIDs []string) ([]RefillResult, error) {
	var items []refillItemDTO
	if err := c.do(ctx, "refill", map[string]any{"orders": strings.Join(providerOrderIDs, ",")}, &items); err != nil {
		return nil, err
	}

	res := make([]RefillResult, 0, len(items))
	for _, it := range items {
		if it.Order == "" {
			continue
		}
		r := RefillResult{
			ProviderOrderID: string(it.Order),
			RefillID:        it.Refill.Value,
			Error:           it.Refill.Error,
		}
		if r.Error == "" && r.RefillID == "" {
			r.Error = "response has no refill id"
		}
		res = append(res, r)
	}
	return res, nil
}

// RefillStatus возвращает статус докрутки.
func (c *Client) RefillStatus(ctx context.Context, refillID string) (string, error) {
	var resp refillStatusResponse
	if err := c.do(ctx, "refill_status", map[string]any{"refill": refillID}, &resp); err != nil {
		return "", err
	}
	if resp.Status == "" {
		return "", fmt.Errorf("%w: refill_status: response has no status", model.ErrUpstreamRejected)
	}
	return resp.Status, nil
}

// RefillStatuses возвращает статусы нескольких докруток.
func (c *Client) RefillStatuses(ctx context.Context, refillIDs []string) ([]RefillStatusResult, error) {
	var items []refillStatusItemDTO
	if err := c.do(ctx, "refill_status", map[string]any{"refills": strings.Join(refillIDs, ",")}, &items); err != nil {
		return nil, err
	}

	res := make([]RefillStatusResult, 0, len(items))
	for _, it := range items {
		if it.Refill == "" {
			continue
		}
		res = append(res, RefillStatusResult{
			RefillID: string(it.Refill),
			Status:   it.Status.Value,
			Error:    it.Status.Error,
		})
	}
	return res, nil
}

// Balance возвращает баланс аккаунта панели у провайдера.
func (c *Client) Balance(ctx context.Context) (*Balance, error) {
	var resp balanceResponse
	if err := c.do(ctx, "balance", nil, &resp); err != nil {
		return nil, err
	}
	amount, ok := resp.Balance.decimal()
	if !ok {
		return nil, fmt.Errorf("%w: balance: response has no balance", model.ErrUpstreamRejected)
	}
	return &Balance{Amount: amount, Currency: resp.Currency}, nil
}

// errUndecodable помечает ответы 200, которые не удалось разобрать.
var errUndecodable = errors.New("undecodable provider response")

func (c *Client) do(ctx context.Context, action string, params map[string]any, out any) error {
	started := time.Now()
	outcomeLabel := "ok"
	defer func() {
		metrics.ObserveProvider(action, outcomeLabel, started)
	}()

	if c == nil || c.baseURL == "" {
		outcomeLabel = "unavailable"
		return fmt.Errorf("%w: provider client not configured", model.ErrUpstreamUnavailable)
	}

	payload := map[string]any{
		"key":    c.key,
		"action": action,
	}
	for k, v := range params {
		payload[k] = v
	}
	body, err := json.Marshal(payload)
	if err != nil {
		outcomeLabel = "unavailable"
		return fmt.Errorf("%w: %s: encode request: %v", model.ErrUpstreamUnavailable, action, err)
	}

	resp, err := c.send(ctx, action, body)
	if err != nil {
		if interrupted(err) {
			outcomeLabel = "timeout"
			return fmt.Errorf("%w: %w: %s: %v", model.ErrUpstreamUnavailable, errTimeout, action, err)
		}
		if !errors.Is(err, errNotSent) && !dialFailed(err) {
			outcomeLabel = "interrupted"
			return fmt.Errorf("%w: %w: %s: do request: %v", model.ErrUpstreamUnavailable, errMaybeDelivered, action, err)
		}
		outcomeLabel = "unavailable"
		return fmt.Errorf("%w: %s: do request: %v", model.ErrUpstreamUnavailable, action, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		outcomeLabel = "unavailable"
		return fmt.Errorf("%w: %s: unexpected status %d", model.ErrUpstreamUnavailable, action, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		if interrupted(err) {
			outcomeLabel = "timeout"
			return fmt.Errorf("%w: %w: %s: read response: %v", model.ErrUpstreamUnavailable, errTimeout, action, err)
		}
		outcomeLabel = "unavailable"
		return fmt.Errorf("%w: %w: %s: read response: %v", model.ErrUpstreamUnavailable, errUndecodable, action, err)
	}

	if msg, ok := providerError(raw); ok {
		outcomeLabel = "rejected"
		return fmt.Errorf("%w: %s: %s", model.ErrUpstreamRejected, action, msg)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		outcomeLabel = "unavailable"
		return fmt.Errorf("%w: %w: %s: decode response: %v", model.ErrUpstreamUnavailable, errUndecodable, action, err)
	}
	return nil
}

// send отправляет запрос. Действия из readOnlyActions повторяются при сетевых
// ошибках и ответах 5xx.
func (c *Client) send(ctx context.Context, action string, body []byte) (*http.Response, error) {
	if readOnlyActions[action] {
		req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, body)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errNotSent, err)
		}
		setHeaders(req.Header)
		return c.retrying.Do(req)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errNotSent, err)
	}
	setHeaders(req.Header)
	return c.httpClient.Do(req)
}

func setHeaders(h http.Header) {
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
}

// providerError извлекает текст ошибки из ответа вида {"error": "..."}.
func providerError(raw []byte) (string, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return "", false
	}
	var e struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(trimmed, &e); err != nil || e.Error == "" {
		return "", false
	}
	return e.Error, true
}

// interrupted сообщает, что запрос мог дойти до провайдера, но ответ не получен.
// dialFailed сообщает, что соединение не было установлено и запрос не отправлялся.
func dialFailed(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

func interrupted(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
