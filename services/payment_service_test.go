package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"societyapp/models"
	"societyapp/services"
	"societyapp/testutil"
	"societyapp/utils"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type paymentFixture struct {
	svc      *services.PaymentService
	ledger   *services.LedgerService
	users    *testutil.MemoryUsers
	gateway  *testutil.FakeGateway
	storage  *testutil.FakeStorage
	notifier *testutil.FakeNotifier
	events   *testutil.FakeEvents
	idem     *testutil.MemoryIdempotency
	metrics  *utils.Metrics

	alice services.Requester
	bob   services.Requester
	admin services.Requester
}

func newPaymentFixture(t *testing.T) *paymentFixture {
	t.Helper()

	f := &paymentFixture{
		users:    testutil.NewMemoryUsers(),
		gateway:  testutil.NewFakeGateway(),
		storage:  &testutil.FakeStorage{},
		notifier: &testutil.FakeNotifier{},
		events:   &testutil.FakeEvents{},
		idem:     testutil.NewMemoryIdempotency(),
		metrics:  utils.NewMetrics(),
	}
	f.ledger = services.NewLedgerService(testutil.NewMemoryPayments(), nil)

	alice := f.users.Seed("Alice", "alice@example.com", "101", models.RoleResident)
	bob := f.users.Seed("Bob", "bob@example.com", "102", models.RoleResident)
	admin := f.users.Seed("Carol", "carol@example.com", "201", models.RoleCommittee)
	f.alice = services.Requester{UserID: alice.ID, Role: alice.Role}
	f.bob = services.Requester{UserID: bob.ID, Role: bob.Role}
	f.admin = services.Requester{UserID: admin.ID, Role: admin.Role}

	f.svc = services.NewPaymentService(services.PaymentServiceDeps{
		Ledger:            f.ledger,
		Users:             f.users,
		Gateway:           f.gateway,
		Receipts:          services.NewReceiptService(f.storage),
		Notifier:          f.notifier,
		Events:            f.events,
		Idempotency:       f.idem,
		Metrics:           f.metrics,
		Logger:            zap.NewNop(),
		SideEffectTimeout: 5 * time.Second,
	})
	return f
}

func (f *paymentFixture) createOrder(t *testing.T, who services.Requester, key string) *services.CreateOrderResult {
	t.Helper()
	res, err := f.svc.CreateOrder(context.Background(), who, services.CreateOrderRequest{
		Amount:      decimal.NewFromInt(500),
		Type:        "maintenance",
		Description: "Maintenance for March",
		Month:       "2024-03",
	}, key)
	require.NoError(t, err)
	return res
}

func (f *paymentFixture) verify(orderID, paymentID, signature string) (*services.VerifyResult, error) {
	return f.svc.Verify(context.Background(), services.VerifyRequest{
		OrderID:   orderID,
		PaymentID: paymentID,
		Signature: signature,
	})
}

func (f *paymentFixture) reload(t *testing.T, id string) *models.Payment {
	t.Helper()
	p, err := f.ledger.Find(context.Background(), id, f.admin)
	require.NoError(t, err)
	return p
}

func TestPaymentHappyPath(t *testing.T) {
	f := newPaymentFixture(t)

	order := f.createOrder(t, f.alice, "")
	assert.Equal(t, int64(50000), order.Order.Amount)
	assert.Equal(t, models.PaymentStatusPending, order.Payment.Status)
	require.NotNil(t, order.Payment.GatewayOrderID)
	assert.Equal(t, order.Order.ID, *order.Payment.GatewayOrderID)

	sig := f.gateway.Sign(order.Order.ID, "pay_abc")
	res, err := f.verify(order.Order.ID, "pay_abc", sig)
	require.NoError(t, err)
	assert.True(t, res.Verified)
	assert.False(t, res.Replayed)
	assert.Equal(t, models.PaymentStatusCompleted, res.Payment.Status)
	assert.Equal(t, "pay_abc", *res.Payment.TransactionID)
	assert.Equal(t, models.MethodUPI, *res.Payment.PaymentMethod)
	assert.NotNil(t, res.Payment.PaidDate)

	f.svc.Wait()

	stored := f.reload(t, order.Payment.ID)
	assert.True(t, stored.Receipt.Present())
	assert.Equal(t, 1, f.storage.Count("receipts"))
	assert.Equal(t, 1, f.notifier.Count())
	assert.Equal(t, []string{services.EventPaymentCompleted}, f.events.Types())
	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.Verifications.WithLabelValues("completed")))

	// Повторная проверка не повторяет побочные эффекты
	again, err := f.verify(order.Order.ID, "pay_abc", sig)
	require.NoError(t, err)
	assert.True(t, again.Verified)
	assert.True(t, again.Replayed)
	assert.True(t, res.Payment.PaidDate.Equal(*again.Payment.PaidDate))

	f.svc.Wait()
	assert.Equal(t, 1, f.storage.Count("receipts"))
	assert.Equal(t, 1, f.notifier.Count())
	assert.Len(t, f.events.Types(), 1)
}

func TestPaymentBadSignatureIsTerminal(t *testing.T) {
	f := newPaymentFixture(t)
	order := f.createOrder(t, f.alice, "")

	res, err := f.verify(order.Order.ID, "pay_abc", "deadbeef")
	require.NoError(t, err)
	assert.False(t, res.Verified)
	assert.Equal(t, models.PaymentStatusFailed, res.Payment.Status)
	assert.Nil(t, res.Payment.TransactionID)

	// одна измененная буква подписи тоже отклоняется
	good := f.gateway.Sign(order.Order.ID, "pay_abc")
	tampered := good[:len(good)-1] + "0"
	if tampered == good {
		tampered = good[:len(good)-1] + "1"
	}
	res, err = f.verify(order.Order.ID, "pay_abc", tampered)
	require.NoError(t, err)
	assert.False(t, res.Verified)

	_, err = f.verify(order.Order.ID, "pay_abc", good)
	assert.ErrorIs(t, err, services.ErrConflict)
	assert.Equal(t, models.PaymentStatusFailed, f.reload(t, order.Payment.ID).Status)

	f.svc.Wait()
	assert.Equal(t, []string{services.EventPaymentFailed}, f.events.Types())
	assert.Equal(t, 0, f.storage.Count("receipts"))
	assert.Equal(t, 0, f.notifier.Count())
}

func TestPaymentBadSignatureAfterCompletion(t *testing.T) {
	f := newPaymentFixture(t)
	order := f.createOrder(t, f.alice, "")

	_, err := f.verify(order.Order.ID, "pay_abc", f.gateway.Sign(order.Order.ID, "pay_abc"))
	require.NoError(t, err)

	_, err = f.verify(order.Order.ID, "pay_abc", "deadbeef")
	assert.ErrorIs(t, err, services.ErrConflict)
	assert.Equal(t, models.PaymentStatusCompleted, f.reload(t, order.Payment.ID).Status)
	f.svc.Wait()
}

func TestPaymentMissingSecretLeavesPending(t *testing.T) {
	f := newPaymentFixture(t)
	order := f.createOrder(t, f.alice, "")
	f.gateway.Secret = ""

	_, err := f.verify(order.Order.ID, "pay_abc", "anything")
	assert.ErrorIs(t, err, services.ErrGatewaySecretMissing)
	assert.Equal(t, models.PaymentStatusPending, f.reload(t, order.Payment.ID).Status)
}

func TestPaymentVerifyUnknownOrder(t *testing.T) {
	f := newPaymentFixture(t)

	_, err := f.verify("order_missing", "pay_abc", "sig")
	assert.ErrorIs(t, err, services.ErrNotFound)

	_, err = f.verify("", "pay_abc", "sig")
	assert.ErrorIs(t, err, services.ErrValidation)
}

func TestPaymentReceiptFailureDoesNotAffectVerify(t *testing.T) {
	f := newPaymentFixture(t)
	f.storage.Err = testutil.ErrStorageDown
	order := f.createOrder(t, f.alice, "")

	res, err := f.verify(order.Order.ID, "pay_abc", f.gateway.Sign(order.Order.ID, "pay_abc"))
	require.NoError(t, err)
	assert.True(t, res.Verified)

	f.svc.Wait()
	stored := f.reload(t, order.Payment.ID)
	assert.Equal(t, models.PaymentStatusCompleted, stored.Status)
	assert.False(t, stored.Receipt.Present())
	assert.Equal(t, 1, f.notifier.Count())
	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.SideEffectFailures.WithLabelValues("receipt")))

	// квитанцию можно получить позже по запросу
	f.storage.Err = nil
	url, err := f.svc.Receipt(context.Background(), order.Payment.ID, f.alice)
	require.NoError(t, err)
	assert.NotEmpty(t, url)
	assert.True(t, f.reload(t, order.Payment.ID).Receipt.Present())

	cached, err := f.svc.Receipt(context.Background(), order.Payment.ID, f.alice)
	require.NoError(t, err)
	assert.Equal(t, url, cached)
	assert.Equal(t, 1, f.storage.Count("receipts"))
}

func TestPaymentNotifierPanicIsContained(t *testing.T) {
	f := newPaymentFixture(t)
	f.notifier.Panic = true
	order := f.createOrder(t, f.alice, "")

	res, err := f.verify(order.Order.ID, "pay_abc", f.gateway.Sign(order.Order.ID, "pay_abc"))
	require.NoError(t, err)
	assert.True(t, res.Verified)

	f.svc.Wait()
	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.SideEffectFailures.WithLabelValues("email")))
	assert.Equal(t, 1, f.storage.Count("receipts"))
	assert.Equal(t, []string{services.EventPaymentCompleted}, f.events.Types())
}

func TestPaymentConcurrentVerifyCompletesOnce(t *testing.T) {
	f := newPaymentFixture(t)
	order := f.createOrder(t, f.alice, "")
	sig := f.gateway.Sign(order.Order.ID, "pay_abc")

	const n = 10
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		fresh    int
		failures []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.verify(order.Order.ID, "pay_abc", sig)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, err)
				return
			}
			if !res.Replayed {
				fresh++
			}
		}()
	}
	wg.Wait()
	f.svc.Wait()

	assert.Empty(t, failures)
	assert.Equal(t, 1, fresh)
	assert.Equal(t, 1, f.notifier.Count())
	assert.Equal(t, 1, f.storage.Count("receipts"))
}

func TestCreateOrderValidation(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  services.CreateOrderRequest
	}{
		{"zero amount", services.CreateOrderRequest{Amount: decimal.Zero, Type: "water"}},
		{"unknown type", services.CreateOrderRequest{Amount: decimal.NewFromInt(10), Type: "parking"}},
		{"bad month", services.CreateOrderRequest{Amount: decimal.NewFromInt(10), Type: "water", Month: "03-2024"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateOrder(ctx, f.alice, tt.req, "")
			assert.ErrorIs(t, err, services.ErrValidation)
		})
	}
	assert.Zero(t, f.gateway.OpenCalls)
}

func TestCreateOrderIdempotencyKey(t *testing.T) {
	f := newPaymentFixture(t)

	first := f.createOrder(t, f.alice, "key-1")
	second := f.createOrder(t, f.alice, "key-1")
	assert.False(t, first.Replayed)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Payment.ID, second.Payment.ID)
	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.Equal(t, first.Order.Currency, second.Order.Currency)
	assert.Equal(t, 1, f.gateway.OpenCalls)

	// ключ действует в пределах одного жителя
	other := f.createOrder(t, f.bob, "key-1")
	assert.NotEqual(t, first.Payment.ID, other.Payment.ID)
	assert.Equal(t, 2, f.gateway.OpenCalls)
}

func TestCreateOrderWithoutIdempotencyStore(t *testing.T) {
	f := newPaymentFixture(t)
	f.idem.Err = errors.New("redis down")

	first := f.createOrder(t, f.alice, "key-1")
	second := f.createOrder(t, f.alice, "key-1")
	assert.NotEqual(t, first.Payment.ID, second.Payment.ID)
	assert.False(t, second.Replayed)
}

func TestCreateOrderGatewayFailure(t *testing.T) {
	f := newPaymentFixture(t)
	f.gateway.OpenErr = errors.New("connection refused")
	ctx := context.Background()
	req := services.CreateOrderRequest{Amount: decimal.NewFromInt(750), Type: "water"}

	_, err := f.svc.CreateOrder(ctx, f.alice, req, "key-retry")
	assert.ErrorIs(t, err, services.ErrGateway)

	page, err := f.ledger.List(ctx, services.ListFilter{}, f.alice, 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Payments, 1)
	left := page.Payments[0]
	assert.Equal(t, models.PaymentStatusPending, left.Status)
	assert.Nil(t, left.GatewayOrderID)

	// повтор с тем же ключом открывает заказ для той же записи
	f.gateway.OpenErr = nil
	res, err := f.svc.CreateOrder(ctx, f.alice, req, "key-retry")
	require.NoError(t, err)
	assert.True(t, res.Replayed)
	assert.Equal(t, left.ID, res.Payment.ID)
	require.NotNil(t, res.Payment.GatewayOrderID)
	assert.Equal(t, 2, f.gateway.OpenCalls)
	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.Orders.WithLabelValues("failed")))
}

func TestReceiptRules(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()
	order := f.createOrder(t, f.alice, "")

	_, err := f.svc.Receipt(ctx, order.Payment.ID, f.alice)
	assert.ErrorIs(t, err, services.ErrValidation)

	_, err = f.svc.Receipt(ctx, order.Payment.ID, f.bob)
	assert.ErrorIs(t, err, services.ErrAuthorization)

	_, err = f.svc.Receipt(ctx, "missing", f.alice)
	assert.ErrorIs(t, err, services.ErrNotFound)
}

func TestReportRequiresCommittee(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()

	order := f.createOrder(t, f.alice, "")
	f.createOrder(t, f.bob, "")
	_, err := f.verify(order.Order.ID, "pay_abc", f.gateway.Sign(order.Order.ID, "pay_abc"))
	require.NoError(t, err)
	f.svc.Wait()

	_, err = f.svc.Report(ctx, services.ListFilter{}, f.alice)
	assert.ErrorIs(t, err, services.ErrAuthorization)

	obj, err := f.svc.Report(ctx, services.ListFilter{}, f.admin)
	require.NoError(t, err)
	assert.Contains(t, obj.ObjectID, "reports/")
	assert.Equal(t, 1, f.storage.Count("reports"))
}

func TestPaymentShutdownWaitsForTasks(t *testing.T) {
	f := newPaymentFixture(t)
	order := f.createOrder(t, f.alice, "")
	_, err := f.verify(order.Order.ID, "pay_abc", f.gateway.Sign(order.Order.ID, "pay_abc"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.svc.Shutdown(ctx))
	assert.Equal(t, 1, f.notifier.Count())
}
