// Package validation содержит функции валидации входных данных.
package validation

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/smm-panel/internal/model"
)

const (
	// MaxBatch ограничивает число элементов в пакетной операции.
	MaxBatch = 100
	// MaxPageLimit ограничивает размер страницы.
	MaxPageLimit = 100
	// MaxLinkLength ограничивает длину ссылки в заказе.
	MaxLinkLength = 2048
	// MaxIdempotencyKeyLength ограничивает длину ключа идемпотентности.
	MaxIdempotencyKeyLength = 128
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", model.ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// Profit проверяет процент наценки.
func Profit(p decimal.Decimal) error {
	if p.IsNegative() {
		return invalid("profit percentage must be non-negative")
	}
	return nil
}

// ParseProfit разбирает процент наценки из строки запроса. Пустая строка означает ноль.
func ParseProfit(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}
	p, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, invalid("profit percentage must be a number")
	}
	if err := Profit(p); err != nil {
		return decimal.Zero, err
	}
	return p, nil
}

// Link проверяет ссылку на продвигаемый объект.
func Link(link string) error {
	link = strings.TrimSpace(link)
	if link == "" {
		return invalid("link is required")
	}
	if utf8.RuneCountInString(link) > MaxLinkLength {
		return invalid("link is longer than %d characters", MaxLinkLength)
	}
	if strings.ContainsAny(link, " \t\r\n") {
		return invalid("link must not contain whitespace")
	}
	if strings.Contains(link, "://") {
		u, err := url.Parse(link)
		if err != nil || u.Host == "" {
			return invalid("link is not a valid URL")
		}
	}
	return nil
}

// Quantity проверяет, что количество положительно. Границы услуги проверяются при расчёте цены.
func Quantity(q int64) error {
	if q <= 0 {
		return invalid("quantity must be a positive integer")
	}
	return nil
}

// ServiceID проверяет идентификатор услуги.
func ServiceID(id int64) error {
	if id <= 0 {
		return invalid("service id must be a positive integer")
	}
	return nil
}

// OrderLine проверяет одну позицию заказа.
func OrderLine(line model.OrderLine) error {
	if err := ServiceID(line.ServiceID); err != nil {
		return err
	}
	if err := Link(line.Link); err != nil {
		return err
	}
	return Quantity(line.Quantity)
}

// Batch проверяет размер пакета.
func Batch(n int, what string) error {
	if n < 1 || n > MaxBatch {
		return invalid("provide a valid list of %s (within 1 to %d)", what, MaxBatch)
	}
	return nil
}

// IDs проверяет список идентификаторов заказов.
func IDs(ids []int64) error {
	if err := Batch(len(ids), "order IDs"); err != nil {
		return err
	}
	for _, id := range ids {
		if id <= 0 {
			return invalid("order id %d is not valid", id)
		}
	}
	return nil
}

// RefillIDs проверяет список идентификаторов докруток.
func RefillIDs(ids []string) error {
	if err := Batch(len(ids), "refill IDs"); err != nil {
		return err
	}
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			return invalid("refill id must not be empty")
		}
	}
	return nil
}

// Page разбирает номер страницы и её размер. Пустые значения заменяются умолчаниями.
func Page(rawPage, rawLimit string, defaultLimit int) (int, int, error) {
	page, limit := 1, defaultLimit

	if rawPage != "" {
		v, err := strconv.Atoi(rawPage)
		if err != nil {
			return 0, 0, invalid("page must be an integer")
		}
		page = v
	}
	if rawLimit != "" {
		v, err := strconv.Atoi(rawLimit)
		if err != nil {
			return 0, 0, invalid("limit must be an integer")
		}
		limit = v
	}

	if page < 1 || limit < 1 {
		return 0, 0, invalid("page and limit must be greater than zero")
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	return page, limit, nil
}

// IdempotencyKey проверяет ключ идемпотентности из заголовка запроса. Пустой ключ допустим.
func IdempotencyKey(key string) error {
	if key == "" {
		return nil
	}
	if len(key) > MaxIdempotencyKeyLength {
		return invalid("idempotency key is longer than %d bytes", MaxIdempotencyKeyLength)
	}
	for _, r := range key {
		if r < 0x21 || r > 0x7e {
			return invalid("idempotency key must be printable ASCII")
		}
	}
	return nil
}

// Amount проверяет сумму зачисления.
func Amount(a decimal.Decimal) error {
	if !a.IsPositive() {
		return invalid("amount must be positive")
	}
	if !a.Equal(a.Round(4)) {
		return invalid("amount must have at most 4 decimal places")
	}
	return nil
}
