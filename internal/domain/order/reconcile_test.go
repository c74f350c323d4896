package order

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elimu-market/checkout/internal/domain/payment"
)

func createPendingOrder(t *testing.T, env *testEnv, items ...ItemRequest) *Order {
	t.Helper()
	result, err := env.svc.CreateOrder(context.Background(), CreateOrderRequest{
		UserID: "u1",
		Items:  items,
	})
	require.NoError(t, err)
	require.Equal(t, StatusPendingPayment, result.Order.Status)
	return result.Order
}

func TestReconcile_SuccessSettlesOrder(t *testing.T) {
	env := newTestEnv(
		digitalProduct("course", "500.00"),
		physicalProduct("kit", "200.00", intPtr(5)),
	)
	o := createPendingOrder(t, env,
		ItemRequest{ProductID: "course", Quantity: 1},
		ItemRequest{ProductID: "kit", Quantity: 2},
	)

	env.gateway.state = payment.TxState{Status: payment.TxSuccess, Method: payment.MethodMobileMoney}

	got, err := env.svc.GetOrder(context.Background(), "u1", o.ID)
	require.NoError(t, err)

	assert.Equal(t, StatusPaid, got.Status)
	require.NotNil(t, got.PaidAt)
	assert.Equal(t, payment.MethodMobileMoney, got.PaymentMethod)

	// Digital item got its credentials from the product settings.
	digital := got.ItemByID(o.Items[0].ID)
	require.NotNil(t, digital)
	assert.NotEmpty(t, digital.DownloadToken)
	assert.Equal(t, 3, digital.RemainingDownloads)
	require.NotNil(t, digital.DownloadExpiresAt)
	assert.True(t, digital.DownloadExpiresAt.After(time.Now().Add(6*24*time.Hour)))

	// Physical stock was decremented exactly by the purchased quantity.
	assert.Equal(t, 3, env.repo.stock["kit"])
}

func TestReconcile_StillPending(t *testing.T) {
	env := newTestEnv(digitalProduct("course", "500.00"))
	o := createPendingOrder(t, env, ItemRequest{ProductID: "course", Quantity: 1})

	env.gateway.state = payment.TxState{Status: payment.TxProcessing}

	got, err := env.svc.GetOrder(context.Background(), "u1", o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPendingPayment, got.Status)
	assert.Nil(t, got.PaidAt)
}

func TestReconcile_FailureCancelsOrder(t *testing.T) {
	env := newTestEnv(digitalProduct("course", "500.00"))
	o := createPendingOrder(t, env, ItemRequest{ProductID: "course", Quantity: 1})

	env.gateway.state = payment.TxState{Status: payment.TxFailed}

	got, err := env.svc.GetOrder(context.Background(), "u1", o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	require.NotNil(t, got.CancelledAt)
}

func TestReconcile_GatewayOutagePropagates(t *testing.T) {
	env := newTestEnv(digitalProduct("course", "500.00"))
	o := createPendingOrder(t, env, ItemRequest{ProductID: "course", Quantity: 1})

	env.gateway.statusErr = payment.ErrUnavailable

	_, err := env.svc.GetOrder(context.Background(), "u1", o.ID)
	require.ErrorIs(t, err, payment.ErrUnavailable)
}

func TestReconcile_SkipsOrdersWithoutReference(t *testing.T) {
	env := newTestEnv(digitalProduct("course", "500.00"))
	env.gateway.initErr = payment.ErrUnavailable

	_, err := env.svc.CreateOrder(context.Background(), CreateOrderRequest{
		UserID: "u1",
		Items:  []ItemRequest{{ProductID: "course", Quantity: 1}},
	})
	require.ErrorIs(t, err, payment.ErrUnavailable)

	var orderID string
	for id := range env.repo.orders {
		orderID = id
	}

	// Reads never hit the gateway when the order has no transaction.
	got, err := env.svc.GetOrder(context.Background(), "u1", orderID)
	require.NoError(t, err)
	assert.Equal(t, StatusPendingPayment, got.Status)
	assert.Zero(t, env.gateway.calls())
}

func TestReconcile_ConcurrentReadsSettleOnce(t *testing.T) {
	env := newTestEnv(physicalProduct("kit", "200.00", intPtr(2)))
	o := createPendingOrder(t, env, ItemRequest{ProductID: "kit", Quantity: 2})

	env.gateway.state = payment.TxState{Status: payment.TxSuccess}

	const readers = 16
	var wg sync.WaitGroup
	errs := make([]error, readers)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = env.svc.GetOrder(context.Background(), "u1", o.ID)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	// Stock went down exactly once no matter how many readers raced.
	assert.Equal(t, 0, env.repo.stock["kit"])

	got, err := env.svc.GetOrder(context.Background(), "u1", o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, got.Status)
}

func TestReconcile_SurvivesCallerCancellation(t *testing.T) {
	env := newTestEnv(digitalProduct("course", "500.00"))
	o := createPendingOrder(t, env, ItemRequest{ProductID: "course", Quantity: 1})

	env.gateway.state = payment.TxState{Status: payment.TxSuccess}

	// The gateway poll is shared across concurrent readers, so the flight
	// must outlive the request context of whoever started it.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got, err := env.svc.GetOrder(ctx, "u1", o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, got.Status)
}

func TestReconcile_InsufficientInventoryAborts(t *testing.T) {
	env := newTestEnv(physicalProduct("kit", "200.00", intPtr(5)))
	o := createPendingOrder(t, env, ItemRequest{ProductID: "kit", Quantity: 3})

	// Someone else consumed the stock between creation and settlement.
	env.repo.mu.Lock()
	env.repo.stock["kit"] = 1
	env.repo.mu.Unlock()

	env.gateway.state = payment.TxState{Status: payment.TxSuccess}

	_, err := env.svc.GetOrder(context.Background(), "u1", o.ID)
	var iiErr *InsufficientInventoryError
	require.ErrorAs(t, err, &iiErr)
	assert.Equal(t, "kit", iiErr.ProductID)

	// Nothing was applied: order still pending, stock untouched.
	stored, getErr := env.repo.GetByID(context.Background(), o.ID)
	require.NoError(t, getErr)
	assert.Equal(t, StatusPendingPayment, stored.Status)
	assert.Equal(t, 1, env.repo.stock["kit"])
}

func TestReconcile_DeletedProductFallsBackToPolicy(t *testing.T) {
	env := newTestEnv(digitalProduct("course", "500.00"))
	env.svc.policy = FulfillmentPolicy{DefaultDownloadLimit: 5, DefaultExpiryDays: 14}
	o := createPendingOrder(t, env, ItemRequest{ProductID: "course", Quantity: 1})

	// Catalog row disappears before settlement; the snapshot still fulfills.
	delete(env.catalog.byID, "course")
	env.gateway.state = payment.TxState{Status: payment.TxSuccess}

	got, err := env.svc.GetOrder(context.Background(), "u1", o.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPaid, got.Status)

	item := got.ItemByID(o.Items[0].ID)
	require.NotNil(t, item)
	assert.Equal(t, 5, item.RemainingDownloads)
	require.NotNil(t, item.DownloadExpiresAt)
	assert.True(t, item.DownloadExpiresAt.After(time.Now().Add(13*24*time.Hour)))
}
