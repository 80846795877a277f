package repository

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/smm-panel/internal/model"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newFundedUser(t *testing.T, repo *MemoryRepository, balance string) int64 {
	t.Helper()

	id, err := repo.CreateUser(context.Background(), "user@example.com", "User", []byte("hash"), model.RoleUser)
	require.NoError(t, err)
	if b := dec(balance); b.IsPositive() {
		_, err = repo.Credit(context.Background(), id, b, model.TransactionDeposit, "Deposit")
		require.NoError(t, err)
	}
	return id
}

func intent(key string, userID int64, charge string) model.OrderIntent {
	return model.OrderIntent{
		Key:         key,
		UserID:      userID,
		ServiceID:   1,
		ServiceName: "Followers",
		Link:        "https://example.com/p/1",
		Quantity:    1000,
		Quote: model.Quote{
			Charge:       dec(charge),
			ActualCharge: dec(charge).Sub(dec("0.1")),
			Profit:       dec("0.1"),
		},
	}
}

func TestCreateUser_Duplicate(t *testing.T) {
	repo := NewMemoryRepository()

	_, err := repo.CreateUser(context.Background(), "a", "", []byte("h"), model.RoleUser)
	require.NoError(t, err)

	_, err = repo.CreateUser(context.Background(), "a", "", []byte("h"), model.RoleUser)
	require.ErrorIs(t, err, ErrUserExists)
}

func TestCredit_RecordsLedgerEntry(t *testing.T) {
	repo := NewMemoryRepository()
	id := newFundedUser(t, repo, "0")

	tx, err := repo.Credit(context.Background(), id, dec("12.5"), model.TransactionDeposit, "Deposit")
	require.NoError(t, err)
	assert.True(t, tx.BalanceBefore.IsZero())
	assert.True(t, tx.BalanceAfter.Equal(dec("12.5")))

	_, err = repo.Credit(context.Background(), id, dec("-1"), model.TransactionDeposit, "Deposit")
	require.ErrorIs(t, err, model.ErrInvalidArgument)

	_, err = repo.Credit(context.Background(), 999, dec("1"), model.TransactionDeposit, "Deposit")
	require.ErrorIs(t, err, model.ErrUserNotFound)
}

func TestCreateIntent_HoldsFunds(t *testing.T) {
	repo := NewMemoryRepository()
	id := newFundedUser(t, repo, "10")
	ctx := context.Background()

	require.NoError(t, repo.CreateIntent(ctx, intent("a", id, "6")))

	err := repo.CreateIntent(ctx, intent("b", id, "6"))
	require.ErrorIs(t, err, model.ErrInsufficientBalance, "the first intent holds 6 of 10")

	err = repo.CreateIntent(ctx, intent("a", id, "1"))
	require.ErrorIs(t, err, model.ErrDuplicateRequest)

	require.NoError(t, repo.ResolveIntent(ctx, "a", model.IntentRejected, "", "rejected"))
	require.NoError(t, repo.CreateIntent(ctx, intent("b", id, "6")), "rejected intent releases its hold")

	u, err := repo.GetUser(ctx, id)
	require.NoError(t, err)
	assert.True(t, u.Balance.Equal(dec("10")), "holds never move the balance")
}

func TestFinalizeOrder(t *testing.T) {
	repo := NewMemoryRepository()
	id := newFundedUser(t, repo, "10")
	ctx := context.Background()

	require.NoError(t, repo.CreateIntent(ctx, intent("k", id, "1.3580")))

	order, tx, err := repo.FinalizeOrder(ctx, "k", "23501")
	require.NoError(t, err)
	assert.Equal(t, "23501", order.ProviderOrderID)
	assert.Equal(t, model.OrderStatusProcessing, order.Status)
	assert.True(t, tx.Amount.Equal(dec("-1.358")))
	assert.True(t, tx.BalanceBefore.Equal(dec("10")))
	assert.True(t, tx.BalanceAfter.Equal(dec("8.642")))
	require.NotNil(t, tx.OrderID)
	assert.Equal(t, order.ID, *tx.OrderID)

	u, err := repo.GetUser(ctx, id)
	require.NoError(t, err)
	assert.True(t, u.Balance.Equal(dec("8.642")))
	assert.True(t, u.TotalSpent.Equal(dec("1.358")))
	assert.True(t, u.AdminProfit.Equal(dec("0.1")))

	in, err := repo.GetIntent(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, model.IntentCommitted, in.Status)
	require.NotNil(t, in.OrderID)

	_, _, err = repo.FinalizeOrder(ctx, "k", "23501")
	require.ErrorIs(t, err, model.ErrIntentNotReconcilable, "an intent is finalized at most once")

	_, _, err = repo.FinalizeOrder(ctx, "missing", "1")
	require.ErrorIs(t, err, model.ErrIntentNotFound)
}

func TestLedgerReplayMatchesBalance(t *testing.T) {
	repo := NewMemoryRepository()
	id := newFundedUser(t, repo, "5")
	ctx := context.Background()

	_, err := repo.Credit(ctx, id, dec("3.25"), model.TransactionDeposit, "Deposit")
	require.NoError(t, err)
	for _, key := range []string{"a", "b", "c"} {
		require.NoError(t, repo.CreateIntent(ctx, intent(key, id, "1.1111")))
		_, _, err := repo.FinalizeOrder(ctx, key, "p-"+key)
		require.NoError(t, err)
	}

	entries, err := repo.ListTransactions(ctx, id, 0)
	require.NoError(t, err)
	require.Len(t, entries, 5)

	replayed := decimal.Zero
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		assert.True(t, e.BalanceBefore.Equal(replayed), "entry %d starts where the previous ended", e.ID)
		assert.True(t, e.BalanceAfter.Equal(e.BalanceBefore.Add(e.Amount)))
		replayed = e.BalanceAfter
	}

	u, err := repo.GetUser(ctx, id)
	require.NoError(t, err)
	assert.True(t, u.Balance.Equal(replayed))
}

func TestCreateIntent_ConcurrentOnlyOneFits(t *testing.T) {
	repo := NewMemoryRepository()
	id := newFundedUser(t, repo, "1")
	ctx := context.Background()

	const workers = 8
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		oks int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := repo.CreateIntent(ctx, intent(string(rune('a'+i)), id, "0.75"))
			if err == nil {
				mu.Lock()
				oks++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, model.ErrInsufficientBalance)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, oks)
}

func TestOrdersAndRefills_Ownership(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	owner := newFundedUser(t, repo, "10")
	other, err := repo.CreateUser(ctx, "other@example.com", "", []byte("h"), model.RoleUser)
	require.NoError(t, err)

	require.NoError(t, repo.CreateIntent(ctx, intent("k", owner, "1")))
	order, _, err := repo.FinalizeOrder(ctx, "k", "77")
	require.NoError(t, err)

	_, err = repo.GetOrder(ctx, other, order.ID)
	require.ErrorIs(t, err, model.ErrOrderNotFound)

	found, err := repo.GetOrdersByIDs(ctx, other, []int64{order.ID})
	require.NoError(t, err)
	assert.Empty(t, found)

	_, err = repo.CreateRefill(ctx, model.Refill{OrderID: order.ID, ProviderOrderID: "77", RefillID: "r1"})
	require.NoError(t, err)

	_, err = repo.GetRefill(ctx, other, "r1")
	require.ErrorIs(t, err, model.ErrRefillNotFound)

	ok, err := repo.UpdateRefillStatus(ctx, other, "r1", "Completed")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.UpdateRefillStatus(ctx, owner, "r1", "Completed")
	require.NoError(t, err)
	assert.True(t, ok)

	rf, err := repo.GetRefill(ctx, owner, "r1")
	require.NoError(t, err)
	assert.Equal(t, "Completed", rf.Status)
}

func TestUpdateOrderProgress_KeepsMissingCounters(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	id := newFundedUser(t, repo, "10")

	require.NoError(t, repo.CreateIntent(ctx, intent("k", id, "1")))
	order, _, err := repo.FinalizeOrder(ctx, "k", "77")
	require.NoError(t, err)

	start := int64(100)
	require.NoError(t, repo.UpdateOrderProgress(ctx, order.ID, model.OrderStatusProcessing, model.OrderStatusPartial, &start, nil))

	got, err := repo.GetOrder(ctx, id, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPartial, got.Status)
	require.NotNil(t, got.StartCount)
	assert.Equal(t, int64(100), *got.StartCount)
	assert.Nil(t, got.Remains)

	require.ErrorIs(t, repo.UpdateOrderProgress(ctx, 404, model.OrderStatusProcessing, model.OrderStatusPartial, nil, nil), model.ErrOrderNotFound)
}

func TestOrderStatusUpdates_CompareAndSet(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	id := newFundedUser(t, repo, "10")

	require.NoError(t, repo.CreateIntent(ctx, intent("k", id, "1")))
	order, _, err := repo.FinalizeOrder(ctx, "k", "77")
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusProcessing, order.Status)

	require.NoError(t, repo.UpdateOrderCancel(ctx, order.ID, model.OrderStatusProcessing, model.OrderStatusCanceled, ""))

	remains := int64(5)
	err = repo.UpdateOrderProgress(ctx, order.ID, model.OrderStatusProcessing, model.OrderStatusProcessing, nil, &remains)
	require.ErrorIs(t, err, ErrStatusChanged)
	assert.False(t, errors.Is(err, model.ErrOrderNotFound))

	err = repo.UpdateOrderCancel(ctx, order.ID, model.OrderStatusProcessing, model.OrderStatusCancelFailed, "late")
	require.ErrorIs(t, err, ErrStatusChanged)

	got, err := repo.GetOrder(ctx, id, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCanceled, got.Status)
	assert.Nil(t, got.Remains)
	assert.Empty(t, got.CancelError)

	require.ErrorIs(t, repo.UpdateOrderCancel(ctx, 404, model.OrderStatusProcessing, model.OrderStatusCanceled, ""), model.ErrOrderNotFound)
}

func TestListOrdersByUser_Pagination(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	id := newFundedUser(t, repo, "100")

	for _, key := range []string{"a", "b", "c"} {
		require.NoError(t, repo.CreateIntent(ctx, intent(key, id, "1")))
		_, _, err := repo.FinalizeOrder(ctx, key, "p-"+key)
		require.NoError(t, err)
	}

	orders, total, err := repo.ListOrdersByUser(ctx, id, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, orders, 2)
	assert.Greater(t, orders[0].ID, orders[1].ID, "newest first")

	orders, _, err = repo.ListOrdersByUser(ctx, id, 3, 2)
	require.NoError(t, err)
	assert.Empty(t, orders)
}
