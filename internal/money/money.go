// Package money содержит операции над денежными суммами с фиксированной точностью.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Places задаёт число знаков после запятой во всех денежных суммах.
const Places = 4

var thousand = decimal.NewFromInt(1000)

// Round округляет сумму до четырёх знаков, половина округляется от нуля.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

// Parse разбирает денежную сумму или ставку из строки.
func Parse(raw string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Zero, fmt.Errorf("parse amount: empty value")
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", raw, err)
	}
	return d, nil
}

// ApplyMarkup увеличивает ставку на процент наценки и округляет результат.
func ApplyMarkup(rate, percent decimal.Decimal) decimal.Decimal {
	return Round(rate.Add(rate.Mul(percent).Div(decimal.NewFromInt(100))))
}

// PerThousand вычисляет стоимость количества quantity по ставке за 1000 единиц.
func PerThousand(rate decimal.Decimal, quantity int64) decimal.Decimal {
	return Round(rate.Mul(decimal.NewFromInt(quantity)).Div(thousand))
}

// String форматирует сумму ровно с четырьмя знаками после запятой.
func String(d decimal.Decimal) string {
	return d.StringFixed(Places)
}
