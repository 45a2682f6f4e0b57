package controllers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"societyapp/middleware"
	"societyapp/models"
	"societyapp/services"
	"societyapp/utils"

	"github.com/gorilla/mux"
)

const IdempotencyKeyHeader = "Idempotency-Key"

// PaymentController обрабатывает запросы, связанные с платежами
type PaymentController struct {
	payments *services.PaymentService
	ledger   *services.LedgerService
}

// NewPaymentController создает новый экземпляр PaymentController
func NewPaymentController(payments *services.PaymentService, ledger *services.LedgerService) *PaymentController {
	return &PaymentController{payments: payments, ledger: ledger}
}

type orderResponse struct {
	Payment       *models.Payment        `json:"payment"`
	RazorpayOrder *services.GatewayOrder `json:"razorpayOrder"`
}

type pagination struct {
	Current int   `json:"current"`
	Pages   int   `json:"pages"`
	Total   int64 `json:"total"`
}

type paymentList struct {
	Payments   []models.Payment `json:"payments"`
	Pagination pagination       `json:"pagination"`
}

// CreateOrder создает платеж и заказ в шлюзе
func (c *PaymentController) CreateOrder(w http.ResponseWriter, r *http.Request) {
	requester, ok := middleware.RequesterFromContext(r.Context())
	if !ok {
		utils.WriteError(w, http.StatusUnauthorized, "Not authorized")
		return
	}

	var req services.CreateOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
	result, err := c.payments.CreateOrder(r.Context(), requester, req, key)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	status, message := http.StatusCreated, "Payment order created successfully"
	if result.Replayed {
		status, message = http.StatusOK, "Payment order already created"
	}
	utils.WriteSuccess(w, status, message, orderResponse{
		Payment:       result.Payment,
		RazorpayOrder: result.Order,
	})
}

// Verify проверяет подпись шлюза и завершает платеж
func (c *PaymentController) Verify(w http.ResponseWriter, r *http.Request) {
	var req services.VerifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := c.payments.Verify(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if !result.Verified {
		utils.WriteError(w, http.StatusBadRequest, "Payment verification failed")
		return
	}

	utils.WriteSuccess(w, http.StatusOK, "Payment verified successfully", map[string]interface{}{
		"payment": result.Payment,
	})
}

// List возвращает страницу платежей
func (c *PaymentController) List(w http.ResponseWriter, r *http.Request) {
	requester, ok := middleware.RequesterFromContext(r.Context())
	if !ok {
		utils.WriteError(w, http.StatusUnauthorized, "Not authorized")
		return
	}

	filter, err := parseFilter(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", services.DefaultPageSize)

	result, err := c.ledger.List(r.Context(), filter, requester, page, limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	utils.WriteSuccess(w, http.StatusOK, "", paymentList{
		Payments: result.Payments,
		Pagination: pagination{
			Current: result.Page,
			Pages:   result.Pages,
			Total:   result.Total,
		},
	})
}

// Get возвращает один платеж
func (c *PaymentController) Get(w http.ResponseWriter, r *http.Request) {
	requester, ok := middleware.RequesterFromContext(r.Context())
	if !ok {
		utils.WriteError(w, http.StatusUnauthorized, "Not authorized")
		return
	}

	payment, err := c.ledger.Find(r.Context(), mux.Vars(r)["id"], requester)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "", map[string]interface{}{"payment": payment})
}

// Receipt возвращает ссылку на квитанцию
func (c *PaymentController) Receipt(w http.ResponseWriter, r *http.Request) {
	requester, ok := middleware.RequesterFromContext(r.Context())
	if !ok {
		utils.WriteError(w, http.StatusUnauthorized, "Not authorized")
		return
	}

	url, err := c.payments.Receipt(r.Context(), mux.Vars(r)["id"], requester)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "", map[string]string{"receiptUrl": url})
}

// Report формирует отчет по платежам для правления
func (c *PaymentController) Report(w http.ResponseWriter, r *http.Request) {
	requester, ok := middleware.RequesterFromContext(r.Context())
	if !ok {
		utils.WriteError(w, http.StatusUnauthorized, "Not authorized")
		return
	}

	filter, err := parseFilter(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	obj, err := c.payments.Report(r.Context(), filter, requester)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Report generated", map[string]string{"reportUrl": obj.URL})
}

func parseFilter(r *http.Request) (services.ListFilter, error) {
	q := r.URL.Query()
	filter := services.ListFilter{
		Status:        models.PaymentStatus(q.Get("status")),
		Category:      models.PaymentCategory(q.Get("type")),
		BillingPeriod: q.Get("month"),
	}

	switch filter.Status {
	case "", models.PaymentStatusPending, models.PaymentStatusCompleted, models.PaymentStatusFailed:
	default:
		return filter, invalidQuery("status must be one of: pending completed failed")
	}
	if filter.Category != "" && !filter.Category.Valid() {
		return filter, invalidQuery("unknown payment type")
	}
	if filter.BillingPeriod != "" && !models.ValidBillingPeriod(filter.BillingPeriod) {
		return filter, invalidQuery("month must be in YYYY-MM format")
	}
	if raw := q.Get("year"); raw != "" {
		year, err := strconv.Atoi(raw)
		if err != nil {
			return filter, invalidQuery("year must be a number")
		}
		filter.BillingYear = &year
	}
	return filter, nil
}

func queryInt(r *http.Request, name string, fallback int) int {
	value, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || value < 1 {
		return fallback
	}
	return value
}

func invalidQuery(message string) error {
	return fmt.Errorf("%w: %s", services.ErrValidation, message)
}
