package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mmeshcher/smm-panel/internal/events"
	"github.com/mmeshcher/smm-panel/internal/model"
	"github.com/mmeshcher/smm-panel/internal/repository"
	"github.com/mmeshcher/smm-panel/internal/validation"
)

const (
	msgRefillNotAllowed   = "Refill not allowed for this order"
	msgOrderNotFound      = "Order not found"
	msgStatusNotAllowed   = "Status change not allowed"
	msgStatusChanged      = "Order status changed, try again"
	msgSaveFailed         = "Failed to save result"
	reasonOperatorAbandon = "abandoned by operator"
)

// RefreshOrderStatus возвращает заказ пользователя, предварительно обновив его
// статус у провайдера. Ошибка провайдера не мешает вернуть сохранённый заказ.
func (s *Service) RefreshOrderStatus(ctx context.Context, userID, orderID int64) (*model.Order, error) {
	o, err := s.repo.GetOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	if o.ProviderOrderID == "" {
		return o, nil
	}

	report, err := s.gateway.OrderStatus(ctx, o.ProviderOrderID)
	if err != nil {
		s.logger.Warn("failed to refresh order status", zap.Int64("order_id", o.ID), zap.Error(err))
		return o, nil
	}

	next := o.Status
	if status, ok := model.ParseProviderStatus(report.Status); !ok {
		s.logger.Warn("unknown provider order status",
			zap.Int64("order_id", o.ID), zap.String("status", report.Status))
	} else if model.CanTransition(o.Status, status) {
		next = status
	}

	if err := s.repo.UpdateOrderProgress(ctx, o.ID, o.Status, next, report.StartCount, report.Remains); err != nil {
		if errors.Is(err, repository.ErrStatusChanged) {
			s.logger.Info("order status changed during refresh", zap.Int64("order_id", o.ID))
			return s.repo.GetOrder(ctx, userID, orderID)
		}
		s.logger.Warn("failed to save order status", zap.Int64("order_id", o.ID), zap.Error(err))
		return o, nil
	}

	o.Status = next
	if report.StartCount != nil {
		o.StartCount = report.StartCount
	}
	if report.Remains != nil {
		o.Remains = report.Remains
	}
	return o, nil
}

// CancelOrders запрашивает у провайдера отмену заказов пользователя.
// Все заказы должны принадлежать пользователю. Суммы заказов не меняются.
func (s *Service) CancelOrders(ctx context.Context, userID int64, orderIDs []int64) ([]model.CancelItem, error) {
	if err := validation.IDs(orderIDs); err != nil {
		return nil, err
	}

	orders, err := s.repo.GetOrdersByIDs(ctx, userID, orderIDs)
	if err != nil {
		return nil, err
	}
	if len(orders) != countDistinct(orderIDs) {
		return nil, fmt.Errorf("%w: some orders not found or do not belong to the user", model.ErrOrderNotFound)
	}

	var cancelable []model.Order
	for _, o := range orders {
		if o.Cancelable() {
			cancelable = append(cancelable, o)
		}
	}
	if len(cancelable) == 0 {
		return nil, model.ErrNoCancelableOrders
	}

	results, err := s.gateway.CancelOrders(ctx, providerIDs(cancelable))
	if err != nil {
		return nil, err
	}

	byProvider := make(map[string]model.Order, len(cancelable))
	for _, o := range cancelable {
		byProvider[o.ProviderOrderID] = o
	}

	items := make([]model.CancelItem, 0, len(results))
	for _, r := range results {
		o, ok := byProvider[r.ProviderOrderID]
		if !ok {
			continue
		}
		delete(byProvider, r.ProviderOrderID)
		items = append(items, s.applyCancel(ctx, o, r.Error))
	}
	return items, nil
}

func (s *Service) applyCancel(ctx context.Context, o model.Order, providerErr string) model.CancelItem {
	item := model.CancelItem{OrderID: o.ID, Status: model.ItemFailed, Message: providerErr}

	status := model.OrderStatusCanceled
	if providerErr != "" {
		status = model.OrderStatusCancelFailed
	}
	if !model.CanTransition(o.Status, status) {
		item.Message = msgStatusNotAllowed
		return item
	}

	if err := s.repo.UpdateOrderCancel(ctx, o.ID, o.Status, status, providerErr); err != nil {
		if errors.Is(err, repository.ErrStatusChanged) {
			s.logger.Warn("order status changed during cancel",
				zap.Int64("order_id", o.ID), zap.String("cancel_status", string(status)))
			item.Message = msgStatusChanged
			return item
		}
		s.logger.Error("failed to save cancel result", zap.Int64("order_id", o.ID), zap.Error(err))
		item.Message = msgSaveFailed
		return item
	}

	if providerErr == "" {
		item.Status = model.ItemSuccess
		s.publish(ctx, events.Event{
			Subject:         events.SubjectOrderCanceled,
			UserID:          o.UserID,
			OrderID:         o.ID,
			ProviderOrderID: o.ProviderOrderID,
			Status:          string(status),
		})
	}
	return item
}

// RequestRefill создаёт у провайдера запрос докрутки по заказу пользователя.
func (s *Service) RequestRefill(ctx context.Context, userID, orderID int64) (*model.Refill, error) {
	o, err := s.repo.GetOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	if !o.Refillable() {
		return nil, model.ErrRefillNotAllowed
	}

	refillID, err := s.gateway.CreateRefill(ctx, o.ProviderOrderID)
	if err != nil {
		return nil, err
	}

	return s.repo.CreateRefill(ctx, model.Refill{
		OrderID:         o.ID,
		ProviderOrderID: o.ProviderOrderID,
		RefillID:        refillID,
		Status:          model.RefillStatusPending,
	})
}

// RequestMultipleRefills создаёт запросы докрутки для нескольких заказов.
// Чужие, отсутствующие и не допускающие докрутку заказы попадают в результат как неудачные.
func (s *Service) RequestMultipleRefills(ctx context.Context, userID int64, orderIDs []int64) ([]model.RefillItem, error) {
	if err := validation.IDs(orderIDs); err != nil {
		return nil, err
	}

	orders, err := s.repo.GetOrdersByIDs(ctx, userID, orderIDs)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, model.ErrOrderNotFound
	}

	var (
		items   []model.RefillItem
		allowed []model.Order
	)

	seen := make(map[int64]bool, len(orderIDs))
	for _, o := range orders {
		seen[o.ID] = true
	}
	for _, id := range orderIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		items = append(items, model.RefillItem{OrderID: id, Status: model.ItemFailed, Message: msgOrderNotFound})
	}

	for _, o := range orders {
		if !o.Refillable() {
			items = append(items, model.RefillItem{OrderID: o.ID, Status: model.ItemFailed, Message: msgRefillNotAllowed})
			continue
		}
		allowed = append(allowed, o)
	}
	if len(allowed) == 0 {
		return nil, model.ErrRefillNotAllowed
	}

	results, err := s.gateway.CreateRefills(ctx, providerIDs(allowed))
	if err != nil {
		return nil, err
	}

	byProvider := make(map[string]model.Order, len(allowed))
	for _, o := range allowed {
		byProvider[o.ProviderOrderID] = o
	}

	for _, r := range results {
		o, ok := byProvider[r.ProviderOrderID]
		if !ok {
			continue
		}
		delete(byProvider, r.ProviderOrderID)

		if r.Error != "" {
			items = append(items, model.RefillItem{OrderID: o.ID, Status: model.ItemFailed, Message: r.Error})
			continue
		}

		_, err := s.repo.CreateRefill(ctx, model.Refill{
			OrderID:         o.ID,
			ProviderOrderID: o.ProviderOrderID,
			RefillID:        r.RefillID,
			Status:          model.RefillStatusPending,
		})
		if err != nil {
			s.logger.Error("failed to save refill", zap.Int64("order_id", o.ID), zap.String("refill_id", r.RefillID), zap.Error(err))
			items = append(items, model.RefillItem{OrderID: o.ID, Status: model.ItemFailed, RefillID: r.RefillID, Message: msgSaveFailed})
			continue
		}
		items = append(items, model.RefillItem{OrderID: o.ID, Status: model.ItemSuccess, RefillID: r.RefillID})
	}
	return items, nil
}

// CheckRefillStatus обновляет статус докрутки пользователя у провайдера.
func (s *Service) CheckRefillStatus(ctx context.Context, userID int64, refillID string) (*model.Refill, error) {
	rf, err := s.repo.GetRefill(ctx, userID, refillID)
	if err != nil {
		return nil, err
	}

	status, err := s.gateway.RefillStatus(ctx, refillID)
	if err != nil {
		return nil, err
	}

	if status != rf.Status {
		if _, err := s.repo.UpdateRefillStatus(ctx, userID, refillID, status); err != nil {
			return nil, err
		}
		rf.Status = status
	}
	return rf, nil
}

// CheckRefillStatuses обновляет статусы нескольких докруток. Докрутки, неизвестные
// локально или без статуса в ответе провайдера, пропускаются.
func (s *Service) CheckRefillStatuses(ctx context.Context, userID int64, refillIDs []string) ([]model.RefillStatusItem, error) {
	if err := validation.RefillIDs(refillIDs); err != nil {
		return nil, err
	}

	owned := make([]string, 0, len(refillIDs))
	for _, id := range refillIDs {
		if _, err := s.repo.GetRefill(ctx, userID, id); err != nil {
			if errors.Is(err, model.ErrRefillNotFound) {
				continue
			}
			return nil, err
		}
		owned = append(owned, id)
	}
	if len(owned) == 0 {
		return []model.RefillStatusItem{}, nil
	}

	results, err := s.gateway.RefillStatuses(ctx, owned)
	if err != nil {
		return nil, err
	}

	items := make([]model.RefillStatusItem, 0, len(results))
	for _, r := range results {
		item := model.RefillStatusItem{RefillID: r.RefillID, Status: r.Status, Error: r.Error}
		if r.Status != "" {
			updated, err := s.repo.UpdateRefillStatus(ctx, userID, r.RefillID, r.Status)
			if err != nil {
				s.logger.Warn("failed to save refill status", zap.String("refill_id", r.RefillID), zap.Error(err))
			}
			if !updated {
				continue
			}
			item.Updated = true
		}
		items = append(items, item)
	}
	return items, nil
}

// ListOpenIntents возвращает намерения с неизвестным исходом или незаписанным заказом.
func (s *Service) ListOpenIntents(ctx context.Context, limit int) ([]model.OrderIntent, error) {
	intents, err := s.repo.ListOpenIntents(ctx, limit)
	if err != nil {
		return nil, err
	}

	res := make([]model.OrderIntent, 0, len(intents))
	for _, in := range intents {
		if in.Status == model.IntentUnknown || in.Status == model.IntentInconsistent {
			res = append(res, in)
		}
	}
	return res, nil
}

// ReconcileIntent закрывает намерение, требующее вмешательства оператора. Для
// незаписанного заказа повторяет фиксацию с сохранённым идентификатором провайдера.
// Для неизвестного исхода фиксирует заказ с идентификатором, сообщённым оператором,
// а без него снимает резерв. Провайдеру повторный заказ не отправляется.
func (s *Service) ReconcileIntent(ctx context.Context, key, providerOrderID string) (*model.OrderIntent, error) {
	in, err := s.repo.GetIntent(ctx, key)
	if err != nil {
		return nil, err
	}

	switch in.Status {
	case model.IntentInconsistent:
		id := in.ProviderOrderID
		if id == "" {
			id = providerOrderID
		}
		if id == "" {
			return nil, fmt.Errorf("%w: provider order id is required", model.ErrInvalidArgument)
		}
		if err := s.finalizeReconciled(ctx, in, id); err != nil {
			return nil, err
		}

	case model.IntentUnknown:
		if providerOrderID == "" {
			if err := s.repo.ResolveIntent(ctx, key, model.IntentAbandoned, "", reasonOperatorAbandon); err != nil {
				return nil, err
			}
			s.logger.Info("order intent abandoned", zap.String("intent", key), zap.Int64("user_id", in.UserID))
			break
		}
		if err := s.finalizeReconciled(ctx, in, providerOrderID); err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("%w: intent %s is %s", model.ErrIntentNotReconcilable, key, in.Status)
	}

	res, err := s.repo.GetIntent(ctx, key)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.Event{
		Subject:         events.SubjectIntentResolved,
		UserID:          res.UserID,
		IntentKey:       res.Key,
		ProviderOrderID: res.ProviderOrderID,
		Status:          string(res.Status),
	})
	return res, nil
}

func (s *Service) finalizeReconciled(ctx context.Context, in *model.OrderIntent, providerOrderID string) error {
	order, _, err := s.repo.FinalizeOrder(ctx, in.Key, providerOrderID)
	if err != nil {
		s.logger.Error("failed to reconcile order intent",
			zap.String("intent", in.Key), zap.String("provider_order_id", providerOrderID), zap.Error(err))
		return err
	}
	s.logger.Info("order intent reconciled",
		zap.String("intent", in.Key), zap.Int64("order_id", order.ID), zap.String("provider_order_id", providerOrderID))
	return nil
}

func providerIDs(orders []model.Order) []string {
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ProviderOrderID)
	}
	return ids
}

func countDistinct(ids []int64) int {
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	return len(seen)
}
