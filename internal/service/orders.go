package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/smm-panel/internal/events"
	"github.com/mmeshcher/smm-panel/internal/metrics"
	"github.com/mmeshcher/smm-panel/internal/model"
	"github.com/mmeshcher/smm-panel/internal/money"
	"github.com/mmeshcher/smm-panel/internal/pricing"
	"github.com/mmeshcher/smm-panel/internal/validation"
)

// Сообщения о неудаче позиции массового заказа.
const (
	msgServiceNotFound = "Service not found"
	msgProviderError   = "API error"
)

// PlaceOrderRequest описывает запрос на размещение одиночного заказа.
type PlaceOrderRequest struct {
	UserID         int64
	ServiceID      int64
	Link           string
	Quantity       int64
	Profit         decimal.Decimal
	IdempotencyKey string
}

// MassOrderRequest описывает запрос на размещение массового заказа.
type MassOrderRequest struct {
	UserID int64
	Items  []model.OrderLine
	Profit decimal.Decimal
}

// ListServices возвращает страницу каталога с пользовательскими ценами.
func (s *Service) ListServices(ctx context.Context, profit decimal.Decimal, page, limit int) (model.ServicePage, error) {
	catalog, err := s.resolver.Resolve(ctx, profit)
	if err != nil {
		return model.ServicePage{}, err
	}
	return pricing.Page(catalog, page, limit), nil
}

// PlaceOrder размещает одиночный заказ. Баланс списывается только после того,
// как провайдер подтвердил заказ.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*model.PlaceOrderResult, error) {
	line := model.OrderLine{ServiceID: req.ServiceID, Link: req.Link, Quantity: req.Quantity}
	if err := validation.OrderLine(line); err != nil {
		return nil, err
	}
	if err := validation.Profit(req.Profit); err != nil {
		return nil, err
	}
	if err := validation.IdempotencyKey(req.IdempotencyKey); err != nil {
		return nil, err
	}

	catalog, err := s.resolver.Resolve(ctx, req.Profit)
	if err != nil {
		return nil, err
	}

	in, err := s.prepareIntent(req.UserID, catalog, line)
	if err != nil {
		return nil, err
	}

	u, err := s.repo.GetUser(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if u.Balance.LessThan(in.Quote.Charge) {
		return nil, model.ErrInsufficientBalance
	}

	if req.IdempotencyKey != "" {
		in.Key = fmt.Sprintf("%d:%s", req.UserID, req.IdempotencyKey)
		if err := s.acquire(ctx, in.Key); err != nil {
			return nil, err
		}
	}

	order, entry, err := s.placeIntent(ctx, in)
	if err != nil {
		return nil, err
	}
	return &model.PlaceOrderResult{Order: *order, Balance: entry.BalanceAfter}, nil
}

// PlaceMassOrder размещает пакет заказов. Каталог загружается один раз, общая
// стоимость проверяется заранее, затем каждая позиция размещается независимо.
func (s *Service) PlaceMassOrder(ctx context.Context, req MassOrderRequest) (*model.MassOrderResult, error) {
	if err := validation.Batch(len(req.Items), "orders"); err != nil {
		return nil, err
	}
	if err := validation.Profit(req.Profit); err != nil {
		return nil, err
	}

	catalog, err := s.resolver.Resolve(ctx, req.Profit)
	if err != nil {
		return nil, err
	}

	total := decimal.Zero
	for _, line := range req.Items {
		in, err := s.prepareIntent(req.UserID, catalog, line)
		if err != nil {
			continue
		}
		total = total.Add(money.Round(in.Quote.Charge))
	}

	u, err := s.repo.GetUser(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if u.Balance.LessThan(total) {
		return nil, model.ErrInsufficientBalance
	}

	res := &model.MassOrderResult{Items: make([]model.MassOrderItem, 0, len(req.Items))}
	for _, line := range req.Items {
		res.Items = append(res.Items, s.placeMassItem(ctx, req.UserID, catalog, line))
	}

	u, err = s.repo.GetUser(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("read back balance: %w", err)
	}
	res.Balance = u.Balance
	return res, nil
}

func (s *Service) placeMassItem(ctx context.Context, userID int64, catalog []model.PricedService, line model.OrderLine) model.MassOrderItem {
	item := model.MassOrderItem{Link: line.Link, Status: model.ItemFailed}

	if err := validation.OrderLine(line); err != nil {
		item.Message = err.Error()
		return item
	}

	in, err := s.prepareIntent(userID, catalog, line)
	if err != nil {
		item.Message = massMessage(err)
		return item
	}

	order, _, err := s.placeIntent(ctx, in)
	if err != nil {
		item.Message = massMessage(err)
		return item
	}

	item.Status = model.ItemSuccess
	item.OrderID = order.ID
	item.ProviderOrderID = order.ProviderOrderID
	item.Charge = order.Charge
	return item
}

func massMessage(err error) string {
	switch {
	case errors.Is(err, model.ErrServiceNotFound):
		return msgServiceNotFound
	case errors.Is(err, model.ErrUpstreamRejected):
		return msgProviderError
	default:
		return err.Error()
	}
}

// prepareIntent находит услугу, проверяет количество и рассчитывает цену.
func (s *Service) prepareIntent(userID int64, catalog []model.PricedService, line model.OrderLine) (model.OrderIntent, error) {
	svc, ok := pricing.Find(catalog, line.ServiceID)
	if !ok {
		return model.OrderIntent{}, fmt.Errorf("%w: %d", model.ErrServiceNotFound, line.ServiceID)
	}
	if err := pricing.CheckQuantity(svc, line.Quantity); err != nil {
		return model.OrderIntent{}, err
	}
	quote, err := pricing.Quote(svc, line.Quantity)
	if err != nil {
		return model.OrderIntent{}, err
	}
	return model.OrderIntent{
		Key:         s.newKey(),
		UserID:      userID,
		ServiceID:   svc.ID,
		ServiceName: svc.Name,
		Link:        line.Link,
		Quantity:    line.Quantity,
		Refill:      svc.Refill,
		Cancel:      svc.Cancel,
		Quote:       quote,
	}, nil
}

func (s *Service) acquire(ctx context.Context, key string) error {
	if s.guard == nil {
		return nil
	}
	ok, err := s.guard.Acquire(ctx, key)
	if err != nil {
		s.logger.Warn("idempotency guard unavailable", zap.String("key", key), zap.Error(err))
		return nil
	}
	if !ok {
		return fmt.Errorf("%w: %s", model.ErrDuplicateRequest, key)
	}
	return nil
}

func (s *Service) release(ctx context.Context, key string) {
	if s.guard == nil {
		return
	}
	if err := s.guard.Release(ctx, key); err != nil {
		s.logger.Warn("failed to release idempotency key", zap.String("key", key), zap.Error(err))
	}
}

// placeIntent проводит сагу размещения: резерв, запрос провайдеру, фиксация.
func (s *Service) placeIntent(ctx context.Context, in model.OrderIntent) (*model.Order, *model.Transaction, error) {
	if err := s.repo.CreateIntent(ctx, in); err != nil {
		if !errors.Is(err, model.ErrDuplicateRequest) {
			s.release(ctx, in.Key)
		}
		metrics.OrdersPlaced.WithLabelValues(outcomeLabel(err)).Inc()
		return nil, nil, err
	}

	providerOrderID, err := s.gateway.PlaceOrder(ctx, in.ServiceID, in.Link, in.Quantity)

	// Провайдер мог принять заказ: дальнейшая запись не должна прерываться отменой запроса.
	ctx = context.WithoutCancel(ctx)

	if err != nil {
		metrics.OrdersPlaced.WithLabelValues(outcomeLabel(err)).Inc()
		if errors.Is(err, model.ErrUpstreamUnknown) {
			s.markIntent(ctx, in.Key, model.IntentUnknown, "", err)
			metrics.UnknownOutcomes.Inc()
			s.logger.Warn("provider outcome unknown, funds stay on hold",
				zap.String("intent", in.Key), zap.Int64("user_id", in.UserID), zap.Error(err))
			s.publish(ctx, events.Event{
				Subject:   events.SubjectIntentUnknown,
				UserID:    in.UserID,
				IntentKey: in.Key,
				Amount:    money.String(in.Quote.Charge),
				Error:     err.Error(),
			})
			return nil, nil, err
		}
		s.markIntent(ctx, in.Key, model.IntentRejected, "", err)
		return nil, nil, err
	}

	order, entry, err := s.repo.FinalizeOrder(ctx, in.Key, providerOrderID)
	if err != nil {
		return nil, nil, s.inconsistent(ctx, in, providerOrderID, err)
	}

	metrics.OrdersPlaced.WithLabelValues("success").Inc()
	s.publish(ctx, events.Event{
		Subject:         events.SubjectOrderPlaced,
		UserID:          order.UserID,
		OrderID:         order.ID,
		IntentKey:       in.Key,
		ProviderOrderID: order.ProviderOrderID,
		Amount:          money.String(order.Charge),
		Status:          string(order.Status),
	})
	return order, entry, nil
}

// inconsistent фиксирует заказ, принятый провайдером, но не записанный в журнал.
func (s *Service) inconsistent(ctx context.Context, in model.OrderIntent, providerOrderID string, cause error) error {
	s.markIntent(ctx, in.Key, model.IntentInconsistent, providerOrderID, cause)
	metrics.PostCommitInconsistencies.Inc()
	metrics.OrdersPlaced.WithLabelValues("inconsistent").Inc()

	s.logger.Error("provider accepted order but ledger write failed",
		zap.String("intent", in.Key),
		zap.Int64("user_id", in.UserID),
		zap.String("provider_order_id", providerOrderID),
		zap.String("charge", money.String(in.Quote.Charge)),
		zap.Error(cause),
	)
	s.publish(ctx, events.Event{
		Subject:         events.SubjectInconsistency,
		UserID:          in.UserID,
		IntentKey:       in.Key,
		ProviderOrderID: providerOrderID,
		Amount:          money.String(in.Quote.Charge),
		Error:           cause.Error(),
	})
	return fmt.Errorf("%w: provider order %s: %w", model.ErrPostCommitInconsistency, providerOrderID, cause)
}

func (s *Service) markIntent(ctx context.Context, key string, status model.IntentStatus, providerOrderID string, cause error) {
	if err := s.repo.ResolveIntent(ctx, key, status, providerOrderID, cause.Error()); err != nil {
		s.logger.Error("failed to update order intent",
			zap.String("intent", key), zap.String("status", string(status)), zap.Error(err))
	}
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, model.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, model.ErrDuplicateRequest):
		return "duplicate"
	case errors.Is(err, model.ErrUpstreamUnknown):
		return "unknown"
	case errors.Is(err, model.ErrUpstreamRejected):
		return "rejected"
	case errors.Is(err, model.ErrUpstreamUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}

// GetOrders возвращает страницу заказов пользователя.
func (s *Service) GetOrders(ctx context.Context, userID int64, page, limit int) (model.OrderPage, error) {
	orders, total, err := s.repo.ListOrdersByUser(ctx, userID, page, limit)
	if err != nil {
		return model.OrderPage{}, err
	}
	if orders == nil {
		orders = []model.Order{}
	}
	res := model.OrderPage{Orders: orders, Total: total, CurrentPage: page}
	if limit > 0 {
		res.TotalPages = (total + int64(limit) - 1) / int64(limit)
	}
	return res, nil
}

// GetTransactions возвращает последние операции пользователя.
func (s *Service) GetTransactions(ctx context.Context, userID int64, limit int) ([]model.Transaction, error) {
	return s.repo.ListTransactions(ctx, userID, limit)
}

// CreditUser зачисляет средства на баланс пользователя.
func (s *Service) CreditUser(ctx context.Context, userID int64, sum decimal.Decimal, description string) (*model.Transaction, error) {
	if err := validation.Amount(sum); err != nil {
		return nil, err
	}
	if description == "" {
		description = "Deposit"
	}

	t, err := s.repo.Credit(ctx, userID, sum, model.TransactionDeposit, description)
	if err != nil {
		return nil, err
	}

	s.logger.Info("balance credited", zap.Int64("user_id", userID), zap.String("amount", money.String(sum)))
	s.publish(ctx, events.Event{
		Subject: events.SubjectBalanceCredited,
		UserID:  userID,
		Amount:  money.String(sum),
	})
	return t, nil
}
