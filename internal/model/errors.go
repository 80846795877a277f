package model

import (
	"errors"
	"fmt"
)

// Ошибки предметной области. Слои выше сравнивают их через errors.Is.
var (
	// ErrInvalidArgument возвращается при некорректных входных данных.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrQuantityOutOfRange возвращается, если количество вне допустимых границ услуги.
	ErrQuantityOutOfRange = fmt.Errorf("%w: quantity out of range", ErrInvalidArgument)
	// ErrInvalidComputation возвращается, если стоимость заказа не удаётся вычислить.
	ErrInvalidComputation = errors.New("invalid charge computation")

	ErrServiceNotFound       = errors.New("service not found")
	ErrOrderNotFound         = errors.New("order not found")
	ErrRefillNotFound        = errors.New("refill not found")
	ErrUserNotFound          = errors.New("user not found")
	ErrIntentNotFound        = errors.New("order intent not found")
	ErrRefillNotAllowed      = errors.New("refill not allowed for this order")
	ErrNoCancelableOrders    = errors.New("no cancelable orders")
	ErrIntentNotReconcilable = errors.New("order intent cannot be reconciled")

	// ErrInsufficientBalance возвращается при попытке списания суммы, превышающей доступный баланс.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrDuplicateRequest возвращается при повторном использовании ключа идемпотентности.
	ErrDuplicateRequest = errors.New("duplicate request")

	// ErrUpstreamUnavailable возвращается при транспортной ошибке провайдера, запрос можно повторить.
	ErrUpstreamUnavailable = errors.New("provider unavailable")
	// ErrUpstreamRejected возвращается, если провайдер логически отказал в операции.
	ErrUpstreamRejected = errors.New("provider rejected request")
	// ErrUpstreamUnknown возвращается, если исход операции у провайдера неизвестен.
	ErrUpstreamUnknown = errors.New("provider outcome unknown")
	// ErrPostCommitInconsistency возвращается, если провайдер принял заказ, но локальная запись не удалась.
	ErrPostCommitInconsistency = errors.New("post-commit inconsistency")
)

// ErrorCode возвращает стабильный код ошибки для ответа клиенту.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrQuantityOutOfRange):
		return "QuantityOutOfRange"
	case errors.Is(err, ErrInvalidArgument):
		return "InvalidArgument"
	case errors.Is(err, ErrInvalidComputation):
		return "InvalidComputation"
	case errors.Is(err, ErrServiceNotFound):
		return "ServiceNotFound"
	case errors.Is(err, ErrOrderNotFound):
		return "OrderNotFound"
	case errors.Is(err, ErrRefillNotFound):
		return "RefillNotFound"
	case errors.Is(err, ErrUserNotFound):
		return "UserNotFound"
	case errors.Is(err, ErrIntentNotFound):
		return "IntentNotFound"
	case errors.Is(err, ErrRefillNotAllowed):
		return "RefillNotAllowed"
	case errors.Is(err, ErrNoCancelableOrders):
		return "NoCancelableOrders"
	case errors.Is(err, ErrIntentNotReconcilable):
		return "IntentNotReconcilable"
	case errors.Is(err, ErrInsufficientBalance):
		return "InsufficientBalance"
	case errors.Is(err, ErrDuplicateRequest):
		return "DuplicateRequest"
	case errors.Is(err, ErrPostCommitInconsistency):
		return "PostCommitInconsistency"
	case errors.Is(err, ErrUpstreamUnknown):
		return "UpstreamUnknown"
	case errors.Is(err, ErrUpstreamRejected):
		return "UpstreamRejected"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "UpstreamUnavailable"
	default:
		return "Internal"
	}
}
