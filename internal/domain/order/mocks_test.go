package order

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/elimu-market/checkout/internal/domain/catalog"
	"github.com/elimu-market/checkout/internal/domain/coupon"
	"github.com/elimu-market/checkout/internal/domain/payment"
)

// --- Catalog mock ---

type mockCatalog struct {
	byID map[string]catalog.Product
	err  error
}

func newCatalog(products ...catalog.Product) *mockCatalog {
	byID := make(map[string]catalog.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	return &mockCatalog{byID: byID}
}

func (m *mockCatalog) FindPurchasable(_ context.Context, ids []string) ([]catalog.Product, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []catalog.Product
	for _, id := range ids {
		if p, ok := m.byID[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func digitalProduct(id string, price string) catalog.Product {
	return catalog.Product{
		ID:                  id,
		Title:               "Course " + id,
		UnitPrice:           decimal.RequireFromString(price),
		Currency:            "KES",
		IsDigital:           true,
		DownloadURL:         "https://files.example.com/" + id + ".zip",
		DownloadLimit:       3,
		DownloadExpiresDays: 7,
	}
}

func physicalProduct(id string, price string, stock *int) catalog.Product {
	return catalog.Product{
		ID:            id,
		Title:         "Kit " + id,
		UnitPrice:     decimal.RequireFromString(price),
		Currency:      "KES",
		StockQuantity: stock,
	}
}

func intPtr(v int) *int { return &v }

// --- Coupon mock ---

type mockCoupons struct {
	applied   *coupon.Applied
	applyErr  error
	recordErr error

	mu       sync.Mutex
	recorded []coupon.Redemption
}

func (m *mockCoupons) Apply(_ context.Context, _ coupon.ApplyRequest) (*coupon.Applied, error) {
	if m.applyErr != nil {
		return nil, m.applyErr
	}
	return m.applied, nil
}

func (m *mockCoupons) RecordRedemption(_ context.Context, r coupon.Redemption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recorded = append(m.recorded, r)
	return m.recordErr
}

// --- Gateway mock ---

type mockGateway struct {
	session *payment.CheckoutSession
	initErr error

	state     payment.TxState
	statusErr error

	mu           sync.Mutex
	statusCalls  int
	lastCheckout payment.CheckoutRequest
}

func (m *mockGateway) InitiateCheckout(_ context.Context, req payment.CheckoutRequest) (*payment.CheckoutSession, error) {
	m.mu.Lock()
	m.lastCheckout = req
	m.mu.Unlock()
	if m.initErr != nil {
		return nil, m.initErr
	}
	if m.session != nil {
		return m.session, nil
	}
	return &payment.CheckoutSession{
		Reference:   "tx-ref-1",
		CheckoutURL: "https://pay.example.com/tx-ref-1",
		Method:      payment.MethodCard,
	}, nil
}

func (m *mockGateway) GetStatus(ctx context.Context, _ string) (*payment.TxState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.statusCalls++
	m.mu.Unlock()
	if m.statusErr != nil {
		return nil, m.statusErr
	}
	state := m.state
	return &state, nil
}

func (m *mockGateway) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusCalls
}

func (m *mockGateway) lastInit() payment.CheckoutRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastCheckout
}

// --- In-memory order repository ---

// memOrderRepo mimics the conditional-update semantics of the real
// repository: MarkPaid, CancelPending and DecrementDownload are all
// compare-and-swap under one mutex, so concurrency tests exercise the same
// guarantees the database gives.
type memOrderRepo struct {
	mu     sync.Mutex
	orders map[string]*Order
	// stock holds finite per-product stock consumed by MarkPaid decrements.
	stock map[string]int

	createErr     error
	markPaidCalls int
}

func newOrderRepo() *memOrderRepo {
	return &memOrderRepo{
		orders: make(map[string]*Order),
		stock:  make(map[string]int),
	}
}

func cloneOrder(o *Order) *Order {
	c := *o
	c.Items = make([]Item, len(o.Items))
	copy(c.Items, o.Items)
	if o.Metadata != nil {
		c.Metadata = make(map[string]string, len(o.Metadata))
		for k, v := range o.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

func (m *memOrderRepo) Create(_ context.Context, o *Order) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = cloneOrder(o)
	return nil
}

func (m *memOrderRepo) GetByID(_ context.Context, id string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneOrder(o), nil
}

func (m *memOrderRepo) ListByUser(_ context.Context, userID string, f ListFilter) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Order
	for _, o := range m.orders {
		if o.UserID != userID {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		out = append(out, *cloneOrder(o))
	}
	// Newest first, like the SQL ORDER BY.
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].CreatedAt.After(out[i].CreatedAt) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	if f.Offset < len(out) {
		out = out[f.Offset:]
	} else {
		out = nil
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *memOrderRepo) SetTransaction(_ context.Context, orderID, reference string, method payment.Method) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	o.TransactionReference = reference
	if method != "" {
		o.PaymentMethod = method
	}
	return nil
}

func (m *memOrderRepo) MarkPaid(_ context.Context, p MarkPaidParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markPaidCalls++

	o, ok := m.orders[p.OrderID]
	if !ok {
		return ErrNotFound
	}
	if o.Status != StatusPendingPayment {
		return ErrNotPending
	}

	// All-or-nothing stock decrements, like the transactional UPDATEs.
	for _, d := range p.Decrements {
		if m.stock[d.ProductID] < d.Quantity {
			return &InsufficientInventoryError{ProductID: d.ProductID}
		}
	}
	for _, d := range p.Decrements {
		m.stock[d.ProductID] -= d.Quantity
	}

	o.Status = StatusPaid
	paidAt := p.PaidAt
	o.PaidAt = &paidAt
	if p.Method != "" {
		o.PaymentMethod = p.Method
	}
	for _, f := range p.Fulfillments {
		for i := range o.Items {
			if o.Items[i].ID == f.ItemID {
				if o.Items[i].DownloadToken == "" {
					o.Items[i].DownloadToken = f.DownloadToken
				}
				expires := f.ExpiresAt
				o.Items[i].DownloadExpiresAt = &expires
				o.Items[i].RemainingDownloads = f.RemainingDownloads
			}
		}
	}
	return nil
}

func (m *memOrderRepo) CancelPending(_ context.Context, orderID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	if o.Status != StatusPendingPayment {
		return ErrNotPending
	}
	o.Status = StatusCancelled
	cancelledAt := at
	o.CancelledAt = &cancelledAt
	return nil
}

func (m *memOrderRepo) DecrementDownload(_ context.Context, itemID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		for i := range o.Items {
			if o.Items[i].ID != itemID {
				continue
			}
			if o.Items[i].RemainingDownloads <= 0 {
				return 0, ErrDownloadLimitReached
			}
			o.Items[i].RemainingDownloads--
			return o.Items[i].RemainingDownloads, nil
		}
	}
	return 0, ErrDownloadLimitReached
}

// --- Service helper ---

type testEnv struct {
	catalog *mockCatalog
	coupons *mockCoupons
	gateway *mockGateway
	repo    *memOrderRepo
	svc     *Service
}

func newTestEnv(products ...catalog.Product) *testEnv {
	env := &testEnv{
		catalog: newCatalog(products...),
		coupons: &mockCoupons{},
		gateway: &mockGateway{},
		repo:    newOrderRepo(),
	}
	for _, p := range products {
		if p.HasFiniteStock() {
			env.repo.stock[p.ID] = *p.StockQuantity
		}
	}
	env.svc = NewService(env.catalog, env.coupons, env.gateway, env.repo, DefaultFulfillmentPolicy)
	return env
}
