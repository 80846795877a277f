package provider

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// flexString принимает из JSON как строку, так и число.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	*f = flexString(string(b))
	return nil
}

func (f flexString) int64() (*int64, bool) {
	if f == "" {
		return nil, false
	}
	if v, err := strconv.ParseInt(string(f), 10, 64); err == nil {
		return &v, true
	}
	d, err := decimal.NewFromString(string(f))
	if err != nil {
		return nil, false
	}
	v := d.IntPart()
	return &v, true
}

func (f flexString) decimal() (decimal.Decimal, bool) {
	if f == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(string(f))
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// flexBool принимает true/false, 1/0 и их строковые формы.
type flexBool bool

func (f *flexBool) UnmarshalJSON(b []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	switch strings.ToLower(string(s)) {
	case "true", "1", "yes":
		*f = true
	default:
		*f = false
	}
	return nil
}

// outcome разбирает поле ответа, содержащее либо значение, либо объект {"error": "..."}.
type outcome struct {
	Value string
	Error string
}

func (o *outcome) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '{' {
		var e struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(b, &e); err != nil {
			return err
		}
		o.Error = e.Error
		if o.Error == "" {
			o.Error = "unknown error"
		}
		return nil
	}
	var s flexString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	o.Value = string(s)
	return nil
}

type serviceDTO struct {
	Service  flexString `json:"service"`
	Name     string     `json:"name"`
	Type     string     `json:"type"`
	Category string     `json:"category"`
	Rate     flexString `json:"rate"`
	Min      flexString `json:"min"`
	Max      flexString `json:"max"`
	Refill   flexBool   `json:"refill"`
	Cancel   flexBool   `json:"cancel"`
}

type addResponse struct {
	Order flexString `json:"order"`
}

type statusResponse struct {
	Charge     flexString `json:"charge"`
	StartCount flexString `json:"start_count"`
	Status     string     `json:"status"`
	Remains    flexString `json:"remains"`
	Currency   string     `json:"currency"`
}

type cancelItemDTO struct {
	Order  flexString `json:"order"`
	Cancel outcome    `json:"cancel"`
}

type refillResponse struct {
	Refill flexString `json:"refill"`
}

type refillItemDTO struct {
	Order  flexString `json:"order"`
	Refill outcome    `json:"refill"`
}

type refillStatusResponse struct {
	Status string `json:"status"`
}

type refillStatusItemDTO struct {
	Refill flexString `json:"refill"`
	Status outcome    `json:"status"`
}

type balanceResponse struct {
	Balance  flexString `json:"balance"`
	Currency string     `json:"currency"`
}

// StatusReport описывает состояние заказа по данным провайдера.
type StatusReport struct {
	Status     string
	StartCount *int64
	Remains    *int64
	Charge     *decimal.Decimal
	Currency   string
}

// CancelResult описывает исход отмены одного заказа у провайдера.
type CancelResult struct {
	ProviderOrderID string
	Error           string
}

// RefillResult описывает исход создания докрутки для одного заказа.
type RefillResult struct {
	ProviderOrderID string
	RefillID        string
	Error           string
}

// RefillStatusResult содержит статус одной докрутки.
type RefillStatusResult struct {
	RefillID string
	Status   string
	Error    string
}

// Balance содержит баланс аккаунта панели у провайдера.
type Balance struct {
	Amount   decimal.Decimal
	Currency string
}
