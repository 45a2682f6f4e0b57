package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"societyapp/controllers"
	"societyapp/models"
	"societyapp/services"
	"societyapp/testutil"
	"societyapp/utils"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testApp struct {
	router  *mux.Router
	tokens  *services.TokenService
	gateway *testutil.FakeGateway
	svc     *services.PaymentService
	alice   *models.User
	carol   *models.User
}

func newTestApp(t *testing.T, authLimit int) *testApp {
	t.Helper()
	users := testutil.NewMemoryUsers()
	ledger := services.NewLedgerService(testutil.NewMemoryPayments(), nil)
	gateway := testutil.NewFakeGateway()
	tokens := services.NewTokenService("router-secret", time.Hour)
	metrics := utils.NewMetrics()
	svc := services.NewPaymentService(services.PaymentServiceDeps{
		Ledger:      ledger,
		Users:       users,
		Gateway:     gateway,
		Receipts:    services.NewReceiptService(&testutil.FakeStorage{}),
		Notifier:    &testutil.FakeNotifier{},
		Idempotency: testutil.NewMemoryIdempotency(),
		Metrics:     metrics,
		Logger:      zap.NewNop(),
	})
	t.Cleanup(svc.Wait)

	userService := services.NewUserService(users, nil)
	return &testApp{
		router: newRouter(routes{
			auth:     controllers.NewAuthController(userService, tokens),
			payments: controllers.NewPaymentController(svc, ledger),
			tokens:   tokens,
			users:    userService,
			limiter:  utils.NewRateLimiter(authLimit, time.Minute),
			metrics:  metrics,
			logger:   zap.NewNop(),
		}),
		tokens:  tokens,
		gateway: gateway,
		svc:     svc,
		alice:   users.Seed("Alice", "alice@example.com", "101", models.RoleResident),
		carol:   users.Seed("Carol", "carol@example.com", "201", models.RoleCommittee),
	}
}

func (a *testApp) do(t *testing.T, method, target string, body interface{}, user *models.User) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	if user != nil {
		token, _, err := a.tokens.Issue(user.ID)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func TestStatusHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	statusHandler(rec, httptest.NewRequest(http.MethodGet, "/api/test", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "OK", body["status"])
	assert.Equal(t, "Society App Backend is running", body["message"])
	_, err := time.Parse(time.RFC3339, body["timestamp"])
	assert.NoError(t, err)
}

func TestRouterPublicAndProtected(t *testing.T) {
	app := newTestApp(t, 10)

	assert.Equal(t, http.StatusOK, app.do(t, http.MethodGet, "/api/test", nil, nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, app.do(t, http.MethodPost, "/api/test", nil, nil).Code)

	assert.Equal(t, http.StatusUnauthorized, app.do(t, http.MethodGet, "/api/payments", nil, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, app.do(t, http.MethodPost, "/api/auth/logout", nil, nil).Code)

	rec := app.do(t, http.MethodGet, "/api/payments", nil, app.alice)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRouterPaymentFlow(t *testing.T) {
	app := newTestApp(t, 10)

	rec := app.do(t, http.MethodPost, "/api/payments/create-order",
		map[string]interface{}{"amount": "1200", "type": "maintenance", "month": "2024-05"}, app.alice)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created struct {
		Data struct {
			Payment       models.Payment        `json:"payment"`
			RazorpayOrder services.GatewayOrder `json:"razorpayOrder"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	orderID := created.Data.RazorpayOrder.ID

	rec = app.do(t, http.MethodPost, "/api/payments/verify", map[string]string{
		"razorpay_order_id":   orderID,
		"razorpay_payment_id": "pay_router",
		"razorpay_signature":  app.gateway.Sign(orderID, "pay_router"),
	}, app.alice)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	app.svc.Wait()

	rec = app.do(t, http.MethodGet, "/api/payments/"+created.Data.Payment.ID+"/receipt", nil, app.alice)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "receiptUrl")
}

func TestRouterReportRoute(t *testing.T) {
	app := newTestApp(t, 10)

	assert.Equal(t, http.StatusForbidden, app.do(t, http.MethodGet, "/api/payments/report", nil, app.alice).Code)

	// маршрут /report не должен уходить в /{id}
	rec := app.do(t, http.MethodGet, "/api/payments/report", nil, app.carol)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "reportUrl")
}

func TestRouterAuthRateLimit(t *testing.T) {
	app := newTestApp(t, 2)
	login := map[string]string{"email": "alice@example.com", "password": "wrong-password"}

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusUnauthorized, app.do(t, http.MethodPost, "/api/auth/login", login, nil).Code)
	}
	rec := app.do(t, http.MethodPost, "/api/auth/login", login, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}
