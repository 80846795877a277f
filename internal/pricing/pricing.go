// Package pricing рассчитывает пользовательские цены услуг провайдера.
package pricing

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/smm-panel/internal/model"
	"github.com/mmeshcher/smm-panel/internal/money"
)

// Catalog отдаёт каталог услуг провайдера.
type Catalog interface {
	Services(ctx context.Context) ([]model.Service, error)
}

// Resolver применяет наценку к каталогу провайдера.
type Resolver struct {
	catalog Catalog
}

// NewResolver создаёт резолвер цен поверх каталога провайдера.
func NewResolver(catalog Catalog) *Resolver {
	return &Resolver{catalog: catalog}
}

// Resolve загружает каталог и рассчитывает пользовательскую ставку для каждой услуги.
// Каталог не кэшируется: каждый вызов обращается к провайдеру.
func (r *Resolver) Resolve(ctx context.Context, profitPercent decimal.Decimal) ([]model.PricedService, error) {
	if profitPercent.IsNegative() {
		return nil, fmt.Errorf("%w: profit percent must be non-negative", model.ErrInvalidArgument)
	}

	services, err := r.catalog.Services(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve catalog: %w", asUnavailable(err))
	}

	priced := make([]model.PricedService, 0, len(services))
	for _, s := range services {
		priced = append(priced, model.PricedService{
			Service:  s,
			UserRate: money.ApplyMarkup(s.Rate, profitPercent),
		})
	}
	return priced, nil
}

// Find ищет услугу в каталоге по идентификатору.
func Find(catalog []model.PricedService, serviceID int64) (model.PricedService, bool) {
	for _, s := range catalog {
		if s.ID == serviceID {
			return s, true
		}
	}
	return model.PricedService{}, false
}

// CheckQuantity проверяет, что количество укладывается в границы услуги.
func CheckQuantity(s model.PricedService, quantity int64) error {
	if quantity < s.Min || (s.Max > 0 && quantity > s.Max) {
		return fmt.Errorf("%w: quantity must be between %d and %d", model.ErrQuantityOutOfRange, s.Min, s.Max)
	}
	return nil
}

// Quote рассчитывает стоимость заказа: сумму к списанию, долю провайдера и прибыль.
func Quote(s model.PricedService, quantity int64) (model.Quote, error) {
	if !s.Rate.IsPositive() || !s.UserRate.IsPositive() || quantity <= 0 {
		return model.Quote{}, fmt.Errorf("%w: service %d has rate %s, user rate %s, quantity %d",
			model.ErrInvalidComputation, s.ID, s.Rate, s.UserRate, quantity)
	}

	charge := money.PerThousand(s.UserRate, quantity)
	actual := money.PerThousand(s.Rate, quantity)
	return model.Quote{
		Charge:       charge,
		ActualCharge: actual,
		Profit:       money.Round(charge.Sub(actual)),
	}, nil
}

// Page возвращает страницу каталога. Номер страницы начинается с единицы.
func Page(catalog []model.PricedService, page, limit int) model.ServicePage {
	total := len(catalog)
	totalPages := 0
	if limit > 0 {
		totalPages = (total + limit - 1) / limit
	}

	res := model.ServicePage{
		Items:       []model.PricedService{},
		Total:       total,
		TotalPages:  totalPages,
		CurrentPage: page,
		Limit:       limit,
	}

	start := (page - 1) * limit
	if page < 1 || limit < 1 || start >= total {
		return res
	}
	end := start + limit
	if end > total {
		end = total
	}
	res.Items = catalog[start:end]
	return res
}

// asUnavailable приводит любую ошибку загрузки каталога к model.ErrUpstreamUnavailable.
func asUnavailable(err error) error {
	if errors.Is(err, model.ErrUpstreamUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", model.ErrUpstreamUnavailable, err)
}
