package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/smm-panel/internal/model"
)

// holdingStatuses перечисляет статусы намерений, удерживающих средства пользователя.
var holdingStatuses = []string{
	string(model.IntentPending),
	string(model.IntentUnknown),
	string(model.IntentInconsistent),
}

const intentColumns = `key, user_id, service_id, service_name, link, quantity, refill, cancel,
	charge::text, actual_charge::text, profit::text, status, provider_order_id, order_id, error, created_at, updated_at`

func scanIntent(row scanner) (*model.OrderIntent, error) {
	var (
		in                     model.OrderIntent
		status                 string
		charge, actual, profit string
	)
	err := row.Scan(&in.Key, &in.UserID, &in.ServiceID, &in.ServiceName, &in.Link, &in.Quantity, &in.Refill, &in.Cancel,
		&charge, &actual, &profit, &status, &in.ProviderOrderID, &in.OrderID, &in.Error, &in.CreatedAt, &in.UpdatedAt)
	if err != nil {
		return nil, err
	}
	in.Status = model.IntentStatus(status)
	if err := parseAmounts(amount(&in.Quote.Charge, charge), amount(&in.Quote.ActualCharge, actual), amount(&in.Quote.Profit, profit)); err != nil {
		return nil, err
	}
	return &in, nil
}

// CreateIntent записывает намерение заказа и резервирует его стоимость.
// Строка пользователя блокируется, поэтому конкурентные намерения одного
// пользователя видят резервы друг друга.
func (r *PostgresRepository) CreateIntent(ctx context.Context, in model.OrderIntent) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var raw string
		err = tx.QueryRow(ctx, `SELECT balance::text FROM users WHERE id = $1 FOR UPDATE`, in.UserID).Scan(&raw)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return model.ErrUserNotFound
			}
			return fmt.Errorf("lock user: %w", err)
		}

		var heldRaw string
		err = tx.QueryRow(ctx,
			`SELECT COALESCE(SUM(charge), 0)::text FROM order_intents WHERE user_id = $1 AND status = ANY($2)`,
			in.UserID, holdingStatuses,
		).Scan(&heldRaw)
		if err != nil {
			return fmt.Errorf("sum holds: %w", err)
		}

		var balance, held decimal.Decimal
		if err := parseAmounts(amount(&balance, raw), amount(&held, heldRaw)); err != nil {
			return err
		}
		if balance.Sub(held).LessThan(in.Quote.Charge) {
			return model.ErrInsufficientBalance
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO order_intents (key, user_id, service_id, service_name, link, quantity, refill, cancel,
			                            charge, actual_charge, profit, status)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			in.Key, in.UserID, in.ServiceID, in.ServiceName, in.Link, in.Quantity, in.Refill, in.Cancel,
			in.Quote.Charge.String(), in.Quote.ActualCharge.String(), in.Quote.Profit.String(), string(model.IntentPending),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: intent %s", model.ErrDuplicateRequest, in.Key)
			}
			return fmt.Errorf("insert intent: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

// ResolveIntent переводит удерживающее намерение в новый статус без движения средств.
func (r *PostgresRepository) ResolveIntent(ctx context.Context, key string, status model.IntentStatus, providerOrderID, reason string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE order_intents
		 SET status = $2,
		     provider_order_id = CASE WHEN $3 <> '' THEN $3 ELSE provider_order_id END,
		     error = $4,
		     updated_at = now()
		 WHERE key = $1 AND status = ANY($5)`,
		key, string(status), providerOrderID, reason, holdingStatuses,
	)
	if err != nil {
		return fmt.Errorf("resolve intent: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	if _, err := r.GetIntent(ctx, key); err != nil {
		return err
	}
	return model.ErrIntentNotReconcilable
}

// FinalizeOrder фиксирует принятый провайдером заказ: списывает баланс,
// создаёт заказ и запись журнала и закрывает намерение. Всё в одной транзакции.
func (r *PostgresRepository) FinalizeOrder(ctx context.Context, key, providerOrderID string) (*model.Order, *model.Transaction, error) {
	if providerOrderID == "" {
		return nil, nil, fmt.Errorf("%w: empty provider order id", model.ErrInvalidArgument)
	}

	var (
		order *model.Order
		entry *model.Transaction
	)
	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		in, err := scanIntent(tx.QueryRow(ctx, `SELECT `+intentColumns+` FROM order_intents WHERE key = $1 FOR UPDATE`, key))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return model.ErrIntentNotFound
			}
			return fmt.Errorf("lock intent: %w", err)
		}
		if !in.Status.HoldsFunds() {
			return fmt.Errorf("%w: intent %s is %s", model.ErrIntentNotReconcilable, key, in.Status)
		}

		charge := in.Quote.Charge
		var email, after string
		err = tx.QueryRow(ctx,
			`UPDATE users
			 SET balance = balance - $2, total_spent = total_spent + $2, admin_profit = admin_profit + $3
			 WHERE id = $1 AND balance >= $2
			 RETURNING login, balance::text`,
			in.UserID, charge.String(), in.Quote.Profit.String(),
		).Scan(&email, &after)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return model.ErrInsufficientBalance
			}
			return fmt.Errorf("debit balance: %w", err)
		}

		o := &model.Order{
			UserID:          in.UserID,
			ServiceID:       in.ServiceID,
			ServiceName:     in.ServiceName,
			Link:            in.Link,
			Quantity:        in.Quantity,
			Charge:          charge,
			ActualCharge:    in.Quote.ActualCharge,
			Profit:          in.Quote.Profit,
			ProviderOrderID: providerOrderID,
			Status:          model.OrderStatusProcessing,
			Refill:          in.Refill,
			Cancel:          in.Cancel,
			IntentKey:       key,
		}
		err = tx.QueryRow(ctx,
			`INSERT INTO orders (user_id, service_id, service_name, link, quantity, charge, actual_charge, profit,
			                     provider_order_id, status, refill, cancel, intent_key)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			 RETURNING id, created_at, updated_at`,
			o.UserID, o.ServiceID, o.ServiceName, o.Link, o.Quantity, o.Charge.String(), o.ActualCharge.String(), o.Profit.String(),
			o.ProviderOrderID, string(o.Status), o.Refill, o.Cancel, key,
		).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		t := &model.Transaction{
			UserID:      in.UserID,
			Email:       email,
			Type:        model.TransactionOrder,
			Amount:      charge.Neg(),
			OrderID:     &o.ID,
			Description: orderDescription(o),
		}
		if err := parseAmounts(amount(&t.BalanceAfter, after)); err != nil {
			return err
		}
		t.BalanceBefore = t.BalanceAfter.Add(charge)
		if err := insertTransaction(ctx, tx, t); err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			`UPDATE order_intents SET status = $2, provider_order_id = $3, order_id = $4, error = '', updated_at = now()
			 WHERE key = $1`,
			key, string(model.IntentCommitted), providerOrderID, o.ID,
		)
		if err != nil {
			return fmt.Errorf("commit intent: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		order, entry = o, t
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return order, entry, nil
}

func orderDescription(o *model.Order) string {
	return fmt.Sprintf("Order #%d - %s", o.ID, o.ServiceName)
}

// GetIntent возвращает намерение по ключу.
func (r *PostgresRepository) GetIntent(ctx context.Context, key string) (*model.OrderIntent, error) {
	in, err := scanIntent(r.pool.QueryRow(ctx, `SELECT `+intentColumns+` FROM order_intents WHERE key = $1`, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrIntentNotFound
		}
		return nil, fmt.Errorf("get intent: %w", err)
	}
	return in, nil
}

// ListOpenIntents возвращает намерения, удерживающие средства, начиная со старых.
func (r *PostgresRepository) ListOpenIntents(ctx context.Context, limit int) ([]model.OrderIntent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+intentColumns+` FROM order_intents WHERE status = ANY($1) ORDER BY created_at LIMIT $2`,
		holdingStatuses, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select intents: %w", err)
	}
	defer rows.Close()

	var res []model.OrderIntent
	for rows.Next() {
		in, err := scanIntent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan intent: %w", err)
		}
		res = append(res, *in)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// CountOpenIntents возвращает число намерений, удерживающих средства.
func (r *PostgresRepository) CountOpenIntents(ctx context.Context) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM order_intents WHERE status = ANY($1)`, holdingStatuses).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count intents: %w", err)
	}
	return n, nil
}
