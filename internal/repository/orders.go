package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/smm-panel/internal/model"
)

const orderColumns = `id, user_id, service_id, service_name, link, quantity, charge::text, actual_charge::text, profit::text,
	provider_order_id, status, refill, cancel, start_count, remains, cancel_error, COALESCE(intent_key, ''), created_at, updated_at`

func scanOrder(row scanner) (*model.Order, error) {
	var (
		o                      model.Order
		status                 string
		charge, actual, profit string
	)
	err := row.Scan(&o.ID, &o.UserID, &o.ServiceID, &o.ServiceName, &o.Link, &o.Quantity, &charge, &actual, &profit,
		&o.ProviderOrderID, &status, &o.Refill, &o.Cancel, &o.StartCount, &o.Remains, &o.CancelError, &o.IntentKey,
		&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.Status = model.OrderStatus(status)
	if err := parseAmounts(amount(&o.Charge, charge), amount(&o.ActualCharge, actual), amount(&o.Profit, profit)); err != nil {
		return nil, err
	}
	return &o, nil
}

func collectOrders(rows pgx.Rows) ([]model.Order, error) {
	defer rows.Close()

	var res []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		res = append(res, *o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// GetOrder возвращает заказ пользователя. Чужой заказ неотличим от отсутствующего.
func (r *PostgresRepository) GetOrder(ctx context.Context, userID, orderID int64) (*model.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 AND user_id = $2`, orderID, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

// GetOrdersByIDs возвращает найденные заказы пользователя из списка идентификаторов.
func (r *PostgresRepository) GetOrdersByIDs(ctx context.Context, userID int64, ids []int64) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 AND id = ANY($2) ORDER BY id`, userID, ids)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	return collectOrders(rows)
}

// ListOrdersByUser возвращает страницу заказов пользователя, начиная с новых, и общее число заказов.
func (r *PostgresRepository) ListOrdersByUser(ctx context.Context, userID int64, page, limit int) ([]model.Order, int64, error) {
	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM orders WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`,
		userID, limit, (page-1)*limit,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("select orders: %w", err)
	}
	orders, err := collectOrders(rows)
	if err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// UpdateOrderProgress сохраняет статус и счётчики, сообщённые провайдером, если
// текущий статус заказа равен expected. Отсутствующие счётчики не затирают сохранённые значения.
func (r *PostgresRepository) UpdateOrderProgress(ctx context.Context, orderID int64, expected, status model.OrderStatus, startCount, remains *int64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE orders
		 SET status = $3, start_count = COALESCE($4, start_count), remains = COALESCE($5, remains), updated_at = now()
		 WHERE id = $1 AND status = $2`,
		orderID, string(expected), string(status), startCount, remains,
	)
	if err != nil {
		return fmt.Errorf("update order progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.lostUpdate(ctx, orderID)
	}
	return nil
}

// UpdateOrderCancel сохраняет результат запроса отмены, если текущий статус заказа равен expected.
func (r *PostgresRepository) UpdateOrderCancel(ctx context.Context, orderID int64, expected, status model.OrderStatus, cancelError string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE orders SET status = $3, cancel_error = $4, updated_at = now() WHERE id = $1 AND status = $2`,
		orderID, string(expected), string(status), cancelError,
	)
	if err != nil {
		return fmt.Errorf("update order cancel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.lostUpdate(ctx, orderID)
	}
	return nil
}

// lostUpdate различает отсутствующий заказ и заказ, статус которого уже изменён.
func (r *PostgresRepository) lostUpdate(ctx context.Context, orderID int64) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, orderID).Scan(&exists); err != nil {
		return fmt.Errorf("check order: %w", err)
	}
	if !exists {
		return model.ErrOrderNotFound
	}
	return ErrStatusChanged
}

// OrderTotals возвращает число заказов и суммы списаний и прибыли по всем пользователям.
func (r *PostgresRepository) OrderTotals(ctx context.Context) (model.OrderTotals, error) {
	var (
		totals         model.OrderTotals
		charge, profit string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(charge), 0)::text, COALESCE(SUM(profit), 0)::text FROM orders`,
	).Scan(&totals.Count, &charge, &profit)
	if err != nil {
		return model.OrderTotals{}, fmt.Errorf("order totals: %w", err)
	}
	if err := parseAmounts(amount(&totals.Charge, charge), amount(&totals.Profit, profit)); err != nil {
		return model.OrderTotals{}, err
	}
	return totals, nil
}

// CreateRefill сохраняет докрутку, созданную у провайдера.
func (r *PostgresRepository) CreateRefill(ctx context.Context, rf model.Refill) (*model.Refill, error) {
	if rf.Status == "" {
		rf.Status = model.RefillStatusPending
	}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO refills (order_id, provider_order_id, refill_id, status)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at, updated_at`,
		rf.OrderID, rf.ProviderOrderID, rf.RefillID, rf.Status,
	).Scan(&rf.ID, &rf.CreatedAt, &rf.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: refill %s", model.ErrDuplicateRequest, rf.RefillID)
		}
		return nil, fmt.Errorf("insert refill: %w", err)
	}
	return &rf, nil
}

// GetRefill возвращает докрутку по идентификатору провайдера, если она относится к заказу пользователя.
func (r *PostgresRepository) GetRefill(ctx context.Context, userID int64, refillID string) (*model.Refill, error) {
	var rf model.Refill
	err := r.pool.QueryRow(ctx,
		`SELECT f.id, f.order_id, f.provider_order_id, f.refill_id, f.status, f.created_at, f.updated_at
		 FROM refills f JOIN orders o ON o.id = f.order_id
		 WHERE f.refill_id = $1 AND o.user_id = $2`,
		refillID, userID,
	).Scan(&rf.ID, &rf.OrderID, &rf.ProviderOrderID, &rf.RefillID, &rf.Status, &rf.CreatedAt, &rf.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrRefillNotFound
		}
		return nil, fmt.Errorf("get refill: %w", err)
	}
	return &rf, nil
}

// UpdateRefillStatus обновляет статус докрутки пользователя. Возвращает false, если докрутка не найдена.
func (r *PostgresRepository) UpdateRefillStatus(ctx context.Context, userID int64, refillID, status string) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE refills f SET status = $3, updated_at = now()
		 FROM orders o
		 WHERE o.id = f.order_id AND f.refill_id = $1 AND o.user_id = $2`,
		refillID, userID, status,
	)
	if err != nil {
		return false, fmt.Errorf("update refill status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
