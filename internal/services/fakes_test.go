package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/checkout-engine/internal/domain"
	"github.com/hanko-field/checkout-engine/internal/payments"
	"github.com/hanko-field/checkout-engine/internal/platform/ratelimit"
	"github.com/hanko-field/checkout-engine/internal/repositories"
)

const testGatewaySecret = "whsec_test"

type memRepoError struct {
	op       string
	notFound bool
	conflict bool
}

func (e *memRepoError) Error() string       { return "mem: " + e.op }
func (e *memRepoError) IsNotFound() bool    { return e.notFound }
func (e *memRepoError) IsConflict() bool    { return e.conflict }
func (e *memRepoError) IsUnavailable() bool { return false }

// memStore is an in-memory backend whose RunInTx serialises transactions and rolls back on error.
type memStore struct {
	txMu     sync.Mutex
	mu       sync.Mutex
	payments map[string]domain.Payment
	orders   map[string]domain.Order
	carts    map[string]domain.Cart
	stock    map[string]int
	wallets  map[string]domain.WalletAccount
	counters map[string]int64

	orderInserts int
}

func newMemStore() *memStore {
	return &memStore{
		payments: map[string]domain.Payment{},
		orders:   map[string]domain.Order{},
		carts:    map[string]domain.Cart{},
		stock:    map[string]int{},
		wallets:  map[string]domain.WalletAccount{},
		counters: map[string]int64{},
	}
}

type memState struct {
	payments map[string]domain.Payment
	orders   map[string]domain.Order
	carts    map[string]domain.Cart
	stock    map[string]int
	wallets  map[string]domain.WalletAccount
}

func copyMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (s *memStore) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	saved := memState{
		payments: copyMap(s.payments),
		orders:   copyMap(s.orders),
		carts:    copyMap(s.carts),
		stock:    copyMap(s.stock),
		wallets:  copyMap(s.wallets),
	}
	s.mu.Unlock()

	if err := fn(ctx); err != nil {
		s.mu.Lock()
		s.payments = saved.payments
		s.orders = saved.orders
		s.carts = saved.carts
		s.stock = saved.stock
		s.wallets = saved.wallets
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *memStore) payment(id string) domain.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.payments[id]
}

func (s *memStore) stockOf(productID string, variantID *string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stock[domain.StockKey(productID, variantID)]
}

func (s *memStore) setStock(productID string, variantID *string, qty int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stock[domain.StockKey(productID, variantID)] = qty
}

func (s *memStore) cart(id string) domain.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.carts[id]
}

func (s *memStore) putCart(cart domain.Cart) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.carts[cart.ID] = cart
}

func (s *memStore) orderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

type memPayments struct{ s *memStore }

func (r memPayments) Insert(_ context.Context, p domain.Payment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.payments[p.ID]; ok {
		return &memRepoError{op: "payments.insert", conflict: true}
	}
	r.s.payments[p.ID] = p
	return nil
}

func (r memPayments) Update(_ context.Context, p domain.Payment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.payments[p.ID]; !ok {
		return &memRepoError{op: "payments.update", notFound: true}
	}
	r.s.payments[p.ID] = p
	return nil
}

func (r memPayments) FindByID(_ context.Context, id string) (domain.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.payments[id]
	if !ok {
		return domain.Payment{}, &memRepoError{op: "payments.find", notFound: true}
	}
	return p, nil
}

func (r memPayments) LockByID(ctx context.Context, id string) (domain.Payment, error) {
	return r.FindByID(ctx, id)
}

type memOrders struct{ s *memStore }

func (r memOrders) Insert(_ context.Context, o domain.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.orderInserts++
	for _, existing := range r.s.orders {
		if existing.PaymentID == o.PaymentID || existing.OrderNumber == o.OrderNumber {
			return &memRepoError{op: "orders.insert", conflict: true}
		}
	}
	r.s.orders[o.ID] = o
	return nil
}

func (r memOrders) Update(_ context.Context, o domain.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.orders[o.ID]; !ok {
		return &memRepoError{op: "orders.update", notFound: true}
	}
	r.s.orders[o.ID] = o
	return nil
}

func (r memOrders) FindByID(_ context.Context, id string) (domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok {
		return domain.Order{}, &memRepoError{op: "orders.find", notFound: true}
	}
	return o, nil
}

func (r memOrders) LockByID(ctx context.Context, id string) (domain.Order, error) {
	return r.FindByID(ctx, id)
}

func (r memOrders) FindByPaymentID(_ context.Context, paymentID string) (domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, o := range r.s.orders {
		if o.PaymentID == paymentID {
			return o, nil
		}
	}
	return domain.Order{}, &memRepoError{op: "orders.find_by_payment", notFound: true}
}

type memCarts struct{ s *memStore }

func (r memCarts) GetCart(_ context.Context, id string) (domain.Cart, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.carts[id]
	if !ok {
		return domain.Cart{}, &memRepoError{op: "carts.get", notFound: true}
	}
	c.Items = append([]domain.CartItem(nil), c.Items...)
	return c, nil
}

func (r memCarts) ClearCart(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.carts[id]
	if !ok {
		return nil
	}
	c.Items = nil
	r.s.carts[id] = c
	return nil
}

type memInventory struct{ s *memStore }

func (r memInventory) CheckStock(_ context.Context, productID string, variantID *string, qty int) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.stock[domain.StockKey(productID, variantID)] >= qty, nil
}

func (r memInventory) DecrementStock(_ context.Context, productID string, variantID *string, qty int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := domain.StockKey(productID, variantID)
	onHand, ok := r.s.stock[key]
	if !ok {
		return repositories.NewInventoryError(repositories.InventoryErrorStockNotFound, productID, variantID, nil)
	}
	if onHand < qty {
		return repositories.NewInventoryError(repositories.InventoryErrorInsufficientStock, productID, variantID, nil)
	}
	r.s.stock[key] = onHand - qty
	return nil
}

type memWallets struct{ s *memStore }

func (r memWallets) FindByMobile(_ context.Context, mobile string) (domain.WalletAccount, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	acct, ok := r.s.wallets[mobile]
	if !ok {
		return domain.WalletAccount{}, repositories.NewWalletError(repositories.WalletErrorAccountNotFound, mobile)
	}
	return acct, nil
}

func (r memWallets) Debit(_ context.Context, mobile string, amount decimal.Decimal) (domain.WalletAccount, error) {
	if !amount.IsPositive() {
		return domain.WalletAccount{}, repositories.NewWalletError(repositories.WalletErrorInvalidAmount, mobile)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	acct, ok := r.s.wallets[mobile]
	if !ok {
		return domain.WalletAccount{}, repositories.NewWalletError(repositories.WalletErrorAccountNotFound, mobile)
	}
	if acct.Balance.LessThan(amount) {
		return domain.WalletAccount{}, repositories.NewWalletError(repositories.WalletErrorInsufficientFunds, mobile)
	}
	acct.Balance = acct.Balance.Sub(amount)
	r.s.wallets[mobile] = acct
	return acct, nil
}

type memCounters struct{ s *memStore }

func (r memCounters) Next(_ context.Context, id string, step int64) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.counters[id] += step
	return r.s.counters[id], nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []CheckoutEvent
	err    error
}

func (p *recordingPublisher) PublishCheckoutEvent(_ context.Context, event CheckoutEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

func (p *recordingPublisher) count(eventType string) int {
	n := 0
	for _, t := range p.types() {
		if t == eventType {
			n++
		}
	}
	return n
}

type stubRemoteOrders struct {
	mu       sync.Mutex
	calls    int
	createFn func(context.Context, decimal.Decimal, string, string) (string, error)
}

func (s *stubRemoteOrders) CreateRemoteOrder(ctx context.Context, amount decimal.Decimal, currency, receipt string) (string, error) {
	s.mu.Lock()
	s.calls++
	n := s.calls
	s.mu.Unlock()
	if s.createFn != nil {
		return s.createFn(ctx, amount, currency, receipt)
	}
	return fmt.Sprintf("order_remote_%d", n), nil
}

type capturingSender struct {
	mu    sync.Mutex
	codes map[string]string
	err   error
}

func (s *capturingSender) SendOTP(_ context.Context, mobile, code string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.codes == nil {
		s.codes = map[string]string{}
	}
	s.codes[mobile] = code
	return nil
}

func (s *capturingSender) last(mobile string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codes[mobile]
}

type harness struct {
	store        *memStore
	clock        *fakeClock
	events       *recordingPublisher
	remote       *stubRemoteOrders
	sender       *capturingSender
	limiter      *ratelimit.MemoryLimiter
	snapshots    SnapshotBuilder
	materializer OrderMaterializer
	payments     PaymentService
	logs         *logRecorder
}

type logRecorder struct {
	mu     sync.Mutex
	events []string
}

func (l *logRecorder) log(_ context.Context, event string, _ map[string]any) {
	l.mu.Lock()
	l.events = append(l.events, event)
	l.mu.Unlock()
}

func (l *logRecorder) has(event string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.events {
		if e == event {
			return true
		}
	}
	return false
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:   newMemStore(),
		clock:   &fakeClock{now: time.Date(2025, time.March, 14, 9, 30, 0, 0, time.UTC)},
		events:  &recordingPublisher{},
		remote:  &stubRemoteOrders{},
		sender:  &capturingSender{},
		limiter: nil,
		logs:    &logRecorder{},
	}
	h.limiter = ratelimit.NewMemoryLimiter(5, time.Minute, h.clock.Now)

	counters, err := NewCounterService(CounterServiceDeps{Repository: memCounters{h.store}, Clock: h.clock.Now})
	if err != nil {
		t.Fatalf("NewCounterService: %v", err)
	}
	h.snapshots, err = NewSnapshotBuilder(SnapshotBuilderDeps{
		Carts:     memCarts{h.store},
		Inventory: memInventory{h.store},
		Clock:     h.clock.Now,
	})
	if err != nil {
		t.Fatalf("NewSnapshotBuilder: %v", err)
	}
	h.materializer, err = NewOrderMaterializer(OrderMaterializerDeps{
		Payments:   memPayments{h.store},
		Orders:     memOrders{h.store},
		Carts:      memCarts{h.store},
		Inventory:  memInventory{h.store},
		Counters:   counters,
		UnitOfWork: h.store,
		Events:     h.events,
		Clock:      h.clock.Now,
		Logger:     h.logs.log,
	})
	if err != nil {
		t.Fatalf("NewOrderMaterializer: %v", err)
	}

	hosted, err := payments.NewHostedGateway(h.remote, testGatewaySecret)
	if err != nil {
		t.Fatalf("NewHostedGateway: %v", err)
	}
	wallet, err := payments.NewWalletGateway(payments.WalletGatewayConfig{Sender: h.sender, HashKey: "otp-hash-key"})
	if err != nil {
		t.Fatalf("NewWalletGateway: %v", err)
	}
	manager, err := payments.NewManager(hosted, payments.NewCODGateway(), wallet)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	h.payments, err = NewPaymentService(PaymentServiceDeps{
		Payments:     memPayments{h.store},
		Wallets:      memWallets{h.store},
		Snapshots:    h.snapshots,
		Gateways:     manager,
		Wallet:       wallet,
		Materializer: h.materializer,
		Limiter:      h.limiter,
		UnitOfWork:   h.store,
		Events:       h.events,
		Clock:        h.clock.Now,
		Logger:       h.logs.log,
	})
	if err != nil {
		t.Fatalf("NewPaymentService: %v", err)
	}
	return h
}

func testAddress() domain.Address {
	return domain.Address{
		Recipient:  "Asha Rao",
		Line1:      "12 MG Road",
		City:       "Bengaluru",
		State:      "KA",
		PostalCode: "560001",
		Country:    "IN",
		Phone:      "+919876543210",
	}
}

// seedCart stores a two-line INR cart for user and stocks both products generously.
func (h *harness) seedCart(cartID, userID string) domain.Cart {
	variant := "500mg"
	cart := domain.Cart{
		ID:       cartID,
		UserID:   userID,
		Currency: "INR",
		Items: []domain.CartItem{
			{ProductID: "prod-paracetamol", Quantity: 2, UnitPrice: decimal.RequireFromString("120.00")},
			{ProductID: "prod-amoxicillin", VariantID: &variant, Quantity: 1, UnitPrice: decimal.RequireFromString("300.00"), VariantSurcharge: decimal.RequireFromString("25.50")},
		},
		Tax:            decimal.RequireFromString("28.28"),
		ShippingCharge: decimal.RequireFromString("40.00"),
		Discount:       decimal.RequireFromString("10.00"),
	}
	h.store.putCart(cart)
	h.store.setStock("prod-paracetamol", nil, 10)
	h.store.setStock("prod-amoxicillin", &variant, 5)
	return cart
}

func (h *harness) createPayment(t *testing.T, userID, cartID string, method domain.PaymentMethod) domain.Payment {
	t.Helper()
	payment, err := h.payments.CreatePaymentFromCart(context.Background(), CreatePaymentCommand{
		UserID:          userID,
		CartID:          cartID,
		Method:          method,
		ShippingAddress: testAddress(),
		BillingAddress:  testAddress(),
	})
	if err != nil {
		t.Fatalf("CreatePaymentFromCart: %v", err)
	}
	return payment
}

func (h *harness) signedCallback(userID string, payment domain.Payment) VerifyHostedCommand {
	gatewayPaymentID := "pay_remote_" + payment.ID
	return VerifyHostedCommand{
		UserID:           userID,
		PaymentID:        payment.ID,
		GatewayOrderID:   *payment.GatewayOrderID,
		GatewayPaymentID: gatewayPaymentID,
		Signature:        signFor(*payment.GatewayOrderID, gatewayPaymentID),
	}
}

func signFor(orderID, gatewayPaymentID string) string {
	return payments.Sign(testGatewaySecret, orderID, gatewayPaymentID)
}

func tamper(signature string) string {
	if signature == "" {
		return "00"
	}
	replacement := "a"
	if signature[0] == 'a' {
		replacement = "b"
	}
	return replacement + signature[1:]
}
