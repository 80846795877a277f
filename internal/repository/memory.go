package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/smm-panel/internal/model"
)

// MemoryRepository хранит данные в памяти процесса. Используется в тестах
// и при запуске без DATABASE_URI. Все операции сериализуются одним мьютексом,
// поэтому каждая из них атомарна так же, как транзакция PostgreSQL.
type MemoryRepository struct {
	mu sync.Mutex

	users        map[int64]*model.User
	logins       map[string]int64
	intents      map[string]*model.OrderIntent
	orders       map[int64]*model.Order
	transactions []model.Transaction
	refills      map[string]*model.Refill

	nextUserID   int64
	nextOrderID  int64
	nextTxID     int64
	nextRefillID int64

	now func() time.Time
}

// NewMemoryRepository создаёт пустое хранилище в памяти.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:   make(map[int64]*model.User),
		logins:  make(map[string]int64),
		intents: make(map[string]*model.OrderIntent),
		orders:  make(map[int64]*model.Order),
		refills: make(map[string]*model.Refill),
		now:     time.Now,
	}
}

// Close ничего не делает.
func (m *MemoryRepository) Close() error {
	return nil
}

// CreateUser создаёт нового пользователя.
func (m *MemoryRepository) CreateUser(ctx context.Context, login, name string, passwordHash []byte, role model.Role) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.logins[login]; ok {
		return 0, fmt.Errorf("%w: %s", ErrUserExists, login)
	}
	if role == "" {
		role = model.RoleUser
	}

	m.nextUserID++
	u := &model.User{
		ID:           m.nextUserID,
		Login:        login,
		Name:         name,
		PasswordHash: append([]byte(nil), passwordHash...),
		Role:         role,
		CreatedAt:    m.now(),
	}
	m.users[u.ID] = u
	m.logins[login] = u.ID
	return u.ID, nil
}

// GetUserByLogin возвращает пользователя по логину.
func (m *MemoryRepository) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.logins[login]
	if !ok {
		return nil, model.ErrUserNotFound
	}
	u := *m.users[id]
	return &u, nil
}

// GetUser возвращает пользователя по идентификатору.
func (m *MemoryRepository) GetUser(ctx context.Context, id int64) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return nil, model.ErrUserNotFound
	}
	res := *u
	return &res, nil
}

// Credit зачисляет сумму на баланс пользователя и записывает операцию в журнал.
func (m *MemoryRepository) Credit(ctx context.Context, userID int64, sum decimal.Decimal, kind model.TransactionType, description string) (*model.Transaction, error) {
	if !sum.IsPositive() {
		return nil, fmt.Errorf("%w: credit amount must be positive", model.ErrInvalidArgument)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return nil, model.ErrUserNotFound
	}

	before := u.Balance
	u.Balance = u.Balance.Add(sum)
	t := m.appendTransaction(model.Transaction{
		UserID:        userID,
		Email:         u.Login,
		Type:          kind,
		Amount:        sum,
		BalanceBefore: before,
		BalanceAfter:  u.Balance,
		Description:   description,
	})
	return &t, nil
}

func (m *MemoryRepository) appendTransaction(t model.Transaction) model.Transaction {
	m.nextTxID++
	t.ID = m.nextTxID
	t.CreatedAt = m.now()
	m.transactions = append(m.transactions, t)
	return t
}

// ListTransactions возвращает последние операции пользователя, начиная с новых.
func (m *MemoryRepository) ListTransactions(ctx context.Context, userID int64, limit int) ([]model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res []model.Transaction
	for i := len(m.transactions) - 1; i >= 0 && (limit <= 0 || len(res) < limit); i-- {
		if m.transactions[i].UserID == userID {
			res = append(res, m.transactions[i])
		}
	}
	return res, nil
}

// CountUsersByRole возвращает число пользователей каждой роли.
func (m *MemoryRepository) CountUsersByRole(ctx context.Context) (map[model.Role]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res := make(map[model.Role]int64)
	for _, u := range m.users {
		res[u.Role]++
	}
	return res, nil
}

func (m *MemoryRepository) heldBy(userID int64) decimal.Decimal {
	held := decimal.Zero
	for _, in := range m.intents {
		if in.UserID == userID && in.Status.HoldsFunds() {
			held = held.Add(in.Quote.Charge)
		}
	}
	return held
}

// CreateIntent записывает намерение заказа и резервирует его стоимость.
func (m *MemoryRepository) CreateIntent(ctx context.Context, in model.OrderIntent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[in.UserID]
	if !ok {
		return model.ErrUserNotFound
	}
	if u.Balance.Sub(m.heldBy(in.UserID)).LessThan(in.Quote.Charge) {
		return model.ErrInsufficientBalance
	}
	if _, ok := m.intents[in.Key]; ok {
		return fmt.Errorf("%w: intent %s", model.ErrDuplicateRequest, in.Key)
	}

	now := m.now()
	in.Status = model.IntentPending
	in.ProviderOrderID = ""
	in.OrderID = nil
	in.Error = ""
	in.CreatedAt = now
	in.UpdatedAt = now
	m.intents[in.Key] = &in
	return nil
}

// ResolveIntent переводит удерживающее намерение в новый статус без движения средств.
func (m *MemoryRepository) ResolveIntent(ctx context.Context, key string, status model.IntentStatus, providerOrderID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	in, ok := m.intents[key]
	if !ok {
		return model.ErrIntentNotFound
	}
	if !in.Status.HoldsFunds() {
		return model.ErrIntentNotReconcilable
	}
	in.Status = status
	if providerOrderID != "" {
		in.ProviderOrderID = providerOrderID
	}
	in.Error = reason
	in.UpdatedAt = m.now()
	return nil
}

// FinalizeOrder фиксирует принятый провайдером заказ.
func (m *MemoryRepository) FinalizeOrder(ctx context.Context, key, providerOrderID string) (*model.Order, *model.Transaction, error) {
	if providerOrderID == "" {
		return nil, nil, fmt.Errorf("%w: empty provider order id", model.ErrInvalidArgument)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	in, ok := m.intents[key]
	if !ok {
		return nil, nil, model.ErrIntentNotFound
	}
	if !in.Status.HoldsFunds() {
		return nil, nil, fmt.Errorf("%w: intent %s is %s", model.ErrIntentNotReconcilable, key, in.Status)
	}
	u, ok := m.users[in.UserID]
	if !ok {
		return nil, nil, model.ErrUserNotFound
	}
	charge := in.Quote.Charge
	if u.Balance.LessThan(charge) {
		return nil, nil, model.ErrInsufficientBalance
	}

	now := m.now()
	m.nextOrderID++
	o := &model.Order{
		ID:              m.nextOrderID,
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
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	m.orders[o.ID] = o

	before := u.Balance
	u.Balance = u.Balance.Sub(charge)
	u.TotalSpent = u.TotalSpent.Add(charge)
	u.AdminProfit = u.AdminProfit.Add(in.Quote.Profit)

	orderID := o.ID
	t := m.appendTransaction(model.Transaction{
		UserID:        in.UserID,
		Email:         u.Login,
		Type:          model.TransactionOrder,
		Amount:        charge.Neg(),
		BalanceBefore: before,
		BalanceAfter:  u.Balance,
		OrderID:       &orderID,
		Description:   orderDescription(o),
	})

	in.Status = model.IntentCommitted
	in.ProviderOrderID = providerOrderID
	in.OrderID = &orderID
	in.Error = ""
	in.UpdatedAt = now

	res := *o
	return &res, &t, nil
}

// GetIntent возвращает намерение по ключу.
func (m *MemoryRepository) GetIntent(ctx context.Context, key string) (*model.OrderIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	in, ok := m.intents[key]
	if !ok {
		return nil, model.ErrIntentNotFound
	}
	res := *in
	return &res, nil
}

// ListOpenIntents возвращает намерения, удерживающие средства, начиная со старых.
func (m *MemoryRepository) ListOpenIntents(ctx context.Context, limit int) ([]model.OrderIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res []model.OrderIntent
	for _, in := range m.intents {
		if in.Status.HoldsFunds() {
			res = append(res, *in)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].Key < res[j].Key
		}
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

// CountOpenIntents возвращает число намерений, удерживающих средства.
func (m *MemoryRepository) CountOpenIntents(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, in := range m.intents {
		if in.Status.HoldsFunds() {
			n++
		}
	}
	return n, nil
}

// GetOrder возвращает заказ пользователя.
func (m *MemoryRepository) GetOrder(ctx context.Context, userID, orderID int64) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok || o.UserID != userID {
		return nil, model.ErrOrderNotFound
	}
	res := *o
	return &res, nil
}

// GetOrdersByIDs возвращает найденные заказы пользователя из списка идентификаторов.
func (m *MemoryRepository) GetOrdersByIDs(ctx context.Context, userID int64, ids []int64) ([]model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[int64]bool, len(ids))
	var res []model.Order
	for _, id := range ids {
		o, ok := m.orders[id]
		if !ok || o.UserID != userID || seen[id] {
			continue
		}
		seen[id] = true
		res = append(res, *o)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

// ListOrdersByUser возвращает страницу заказов пользователя, начиная с новых.
func (m *MemoryRepository) ListOrdersByUser(ctx context.Context, userID int64, page, limit int) ([]model.Order, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var all []model.Order
	for _, o := range m.orders {
		if o.UserID == userID {
			all = append(all, *o)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	total := int64(len(all))
	start := (page - 1) * limit
	if start < 0 || start >= len(all) {
		return nil, total, nil
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

// UpdateOrderProgress сохраняет статус и счётчики, сообщённые провайдером, если текущий статус равен expected.
func (m *MemoryRepository) UpdateOrderProgress(ctx context.Context, orderID int64, expected, status model.OrderStatus, startCount, remains *int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok {
		return model.ErrOrderNotFound
	}
	if o.Status != expected {
		return ErrStatusChanged
	}
	o.Status = status
	if startCount != nil {
		v := *startCount
		o.StartCount = &v
	}
	if remains != nil {
		v := *remains
		o.Remains = &v
	}
	o.UpdatedAt = m.now()
	return nil
}

// UpdateOrderCancel сохраняет результат запроса отмены, если текущий статус равен expected.
func (m *MemoryRepository) UpdateOrderCancel(ctx context.Context, orderID int64, expected, status model.OrderStatus, cancelError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok {
		return model.ErrOrderNotFound
	}
	if o.Status != expected {
		return ErrStatusChanged
	}
	o.Status = status
	o.CancelError = cancelError
	o.UpdatedAt = m.now()
	return nil
}

// OrderTotals возвращает число заказов и суммы списаний и прибыли.
func (m *MemoryRepository) OrderTotals(ctx context.Context) (model.OrderTotals, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	totals := model.OrderTotals{Charge: decimal.Zero, Profit: decimal.Zero}
	for _, o := range m.orders {
		totals.Count++
		totals.Charge = totals.Charge.Add(o.Charge)
		totals.Profit = totals.Profit.Add(o.Profit)
	}
	return totals, nil
}

// CreateRefill сохраняет докрутку, созданную у провайдера.
func (m *MemoryRepository) CreateRefill(ctx context.Context, rf model.Refill) (*model.Refill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.orders[rf.OrderID]; !ok {
		return nil, model.ErrOrderNotFound
	}
	if _, ok := m.refills[rf.RefillID]; ok {
		return nil, fmt.Errorf("%w: refill %s", model.ErrDuplicateRequest, rf.RefillID)
	}
	if rf.Status == "" {
		rf.Status = model.RefillStatusPending
	}

	m.nextRefillID++
	rf.ID = m.nextRefillID
	rf.CreatedAt = m.now()
	rf.UpdatedAt = rf.CreatedAt
	m.refills[rf.RefillID] = &rf

	res := rf
	return &res, nil
}

func (m *MemoryRepository) ownedRefill(userID int64, refillID string) (*model.Refill, bool) {
	rf, ok := m.refills[refillID]
	if !ok {
		return nil, false
	}
	o, ok := m.orders[rf.OrderID]
	if !ok || o.UserID != userID {
		return nil, false
	}
	return rf, true
}

// GetRefill возвращает докрутку пользователя по идентификатору провайдера.
func (m *MemoryRepository) GetRefill(ctx context.Context, userID int64, refillID string) (*model.Refill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rf, ok := m.ownedRefill(userID, refillID)
	if !ok {
		return nil, model.ErrRefillNotFound
	}
	res := *rf
	return &res, nil
}

// UpdateRefillStatus обновляет статус докрутки пользователя.
func (m *MemoryRepository) UpdateRefillStatus(ctx context.Context, userID int64, refillID, status string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rf, ok := m.ownedRefill(userID, refillID)
	if !ok {
		return false, nil
	}
	rf.Status = status
	rf.UpdatedAt = m.now()
	return true, nil
}
