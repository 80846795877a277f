package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/mmeshcher/smm-panel/internal/model"
)

// Dashboard возвращает сводку для главной страницы. Администратор дополнительно
// получает агрегаты по всем пользователям и балансу у провайдера.
func (s *Service) Dashboard(ctx context.Context, userID int64) (*model.Dashboard, error) {
	u, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	res := &model.Dashboard{
		Balance:    u.Balance,
		TotalSpent: u.TotalSpent,
	}
	if u.Role != model.RoleAdmin {
		return res, nil
	}

	admin, err := s.adminDashboard(ctx)
	if err != nil {
		return nil, err
	}
	res.Admin = admin
	return res, nil
}

func (s *Service) adminDashboard(ctx context.Context) (*model.AdminDashboard, error) {
	byRole, err := s.repo.CountUsersByRole(ctx)
	if err != nil {
		return nil, err
	}
	totals, err := s.repo.OrderTotals(ctx)
	if err != nil {
		return nil, err
	}
	open, err := s.repo.CountOpenIntents(ctx)
	if err != nil {
		return nil, err
	}

	res := &model.AdminDashboard{
		TotalUsers:  byRole[model.RoleUser],
		UsersByRole: byRole,
		TotalProfit: totals.Profit,
		TotalCharge: totals.Charge,
		OrderCount:  totals.Count,
		OpenIntents: open,
	}

	balance, err := s.gateway.Balance(ctx)
	if err != nil {
		s.logger.Warn("provider balance unavailable", zap.Error(err))
		return res, nil
	}
	res.ProviderBalance = &balance.Amount
	res.ProviderCurrency = balance.Currency
	return res, nil
}
