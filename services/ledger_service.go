package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"societyapp/models"
	"societyapp/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// LedgerService хранит платежи и следит за переходами их статусов.
// Допустимы только pending -> completed и pending -> failed.
type LedgerService struct {
	payments repository.PaymentRepository
	health   HealthChecker
}

// CreatePaymentInput данные нового платежа
type CreatePaymentInput struct {
	ID            string // пусто: назначается при сохранении
	Owner         uint
	Amount        decimal.Decimal
	Category      models.PaymentCategory
	Description   string
	DueDate       *time.Time
	BillingPeriod string
	BillingYear   *int
	Notes         string
}

// CompletionInput данные подтвержденного шлюзом платежа
type CompletionInput struct {
	GatewayPaymentID string
	Signature        string
	Method           models.PaymentMethod
	TransactionID    string
	PaidAt           time.Time
}

// ListFilter фильтр списка платежей
type ListFilter struct {
	Status        models.PaymentStatus
	Category      models.PaymentCategory
	BillingPeriod string
	BillingYear   *int
}

// PaymentPage страница списка платежей
type PaymentPage struct {
	Payments []models.Payment
	Page     int
	Pages    int
	Total    int64
}

// NewLedgerService создает новый экземпляр LedgerService
func NewLedgerService(payments repository.PaymentRepository, health HealthChecker) *LedgerService {
	if health == nil {
		health = alwaysHealthy{}
	}
	return &LedgerService{payments: payments, health: health}
}

// Create создает платеж в статусе pending без идентификаторов шлюза
func (s *LedgerService) Create(ctx context.Context, in CreatePaymentInput) (*models.Payment, error) {
	if err := validateCreate(in); err != nil {
		return nil, err
	}
	if !s.health.Healthy() {
		return nil, ErrUnavailable
	}

	payment := &models.Payment{
		ID:          in.ID,
		UserID:      in.Owner,
		Amount:      in.Amount,
		Category:    in.Category,
		Description: strings.TrimSpace(in.Description),
		Status:      models.PaymentStatusPending,
		DueDate:     in.DueDate,
		BillingYear: in.BillingYear,
		Notes:       in.Notes,
		LateFee:     decimal.Zero,
	}
	if in.BillingPeriod != "" {
		period := in.BillingPeriod
		payment.BillingPeriod = &period
	}

	if err := s.payments.Create(ctx, payment); err != nil {
		return nil, fmt.Errorf("ошибка создания платежа: %w", err)
	}
	return payment, nil
}

func validateCreate(in CreatePaymentInput) error {
	if in.Owner == 0 {
		return validationError("owner is required")
	}
	if !in.Amount.IsPositive() {
		return validationError("amount must be greater than 0")
	}
	// Сумма хранится в NUMERIC(12,2) и уходит в шлюз в пайсах
	if !in.Amount.Equal(in.Amount.Round(2)) {
		return validationError("amount cannot have more than 2 decimal places")
	}
	if !in.Category.Valid() {
		return validationError("unknown payment type %q", in.Category)
	}
	if len(in.Description) > models.MaxDescriptionLength {
		return validationError("description cannot exceed %d characters", models.MaxDescriptionLength)
	}
	if len(in.Notes) > models.MaxNotesLength {
		return validationError("notes cannot exceed %d characters", models.MaxNotesLength)
	}
	if in.BillingPeriod != "" && !models.ValidBillingPeriod(in.BillingPeriod) {
		return validationError("month must be in YYYY-MM format")
	}
	return nil
}

// AttachGatewayOrder привязывает заказ шлюза. Повторная привязка запрещена.
func (s *LedgerService) AttachGatewayOrder(ctx context.Context, id, orderID string) (*models.Payment, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, validationError("gateway order id is required")
	}
	if !s.health.Healthy() {
		return nil, ErrUnavailable
	}

	if err := checkPaymentID(id); err != nil {
		return nil, err
	}
	applied, err := s.payments.SetGatewayOrderIfUnset(ctx, id, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, conflictError("gateway order %s already attached to another payment", orderID)
		}
		return nil, err
	}

	payment, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, conflictError("payment %s already has a gateway order", id)
	}
	return payment, nil
}

// MarkCompleted переводит платеж в completed. Повтор с тем же transactionId
// возвращает сохраненную запись и replayed=true.
func (s *LedgerService) MarkCompleted(ctx context.Context, id string, in CompletionInput) (*models.Payment, bool, error) {
	if strings.TrimSpace(in.TransactionID) == "" {
		return nil, false, validationError("transaction id is required")
	}
	if !in.Method.Valid() {
		return nil, false, validationError("unknown payment method %q", in.Method)
	}
	if in.PaidAt.IsZero() {
		return nil, false, validationError("paid date is required")
	}
	if !s.health.Healthy() {
		return nil, false, ErrUnavailable
	}

	payment, err := s.load(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if payment.Status != models.PaymentStatusPending {
		return s.resolveCompleted(payment, in.TransactionID)
	}

	// transactionId уникален среди всех платежей
	other, err := s.payments.FindByTransactionID(ctx, in.TransactionID)
	switch {
	case err == nil && other.ID != id:
		return nil, false, conflictError("transaction %s belongs to another payment", in.TransactionID)
	case err != nil && !errors.Is(err, repository.ErrNotFound):
		return nil, false, err
	}

	applied, err := s.payments.CompleteIfPending(ctx, id, repository.Completion{
		GatewayPaymentID: in.GatewayPaymentID,
		Signature:        in.Signature,
		Method:           in.Method,
		TransactionID:    in.TransactionID,
		PaidAt:           in.PaidAt,
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, false, conflictError("transaction %s belongs to another payment", in.TransactionID)
		}
		return nil, false, err
	}

	payment, err = s.load(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if !applied {
		// Параллельный запрос успел перевести платеж первым
		return s.resolveCompleted(payment, in.TransactionID)
	}
	if err := payment.CheckInvariants(); err != nil {
		return nil, false, err
	}
	return payment, false, nil
}

func (s *LedgerService) resolveCompleted(payment *models.Payment, transactionID string) (*models.Payment, bool, error) {
	switch payment.Status {
	case models.PaymentStatusCompleted:
		if payment.TransactionID != nil && *payment.TransactionID == transactionID {
			return payment, true, nil
		}
		return nil, false, conflictError("payment %s already completed with another transaction", payment.ID)
	case models.PaymentStatusFailed:
		return nil, false, conflictError("payment %s already failed", payment.ID)
	}
	return nil, false, conflictError("payment %s is in unexpected state %q", payment.ID, payment.Status)
}

// MarkFailed переводит платеж в failed. Для уже failed ничего не делает.
func (s *LedgerService) MarkFailed(ctx context.Context, id string) (*models.Payment, error) {
	if !s.health.Healthy() {
		return nil, ErrUnavailable
	}

	if err := checkPaymentID(id); err != nil {
		return nil, err
	}
	applied, err := s.payments.FailIfPending(ctx, id)
	if err != nil {
		return nil, err
	}

	payment, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if applied || payment.Status == models.PaymentStatusFailed {
		if err := payment.CheckInvariants(); err != nil {
			return nil, err
		}
		return payment, nil
	}
	return nil, conflictError("payment %s already completed", id)
}

// AttachReceipt сохраняет ссылку на квитанцию. Допустимо только для completed,
// предыдущая квитанция перезаписывается.
func (s *LedgerService) AttachReceipt(ctx context.Context, id, url, objectID string) (*models.Payment, error) {
	if strings.TrimSpace(url) == "" {
		return nil, validationError("receipt url is required")
	}
	if !s.health.Healthy() {
		return nil, ErrUnavailable
	}

	if err := checkPaymentID(id); err != nil {
		return nil, err
	}
	applied, err := s.payments.SetReceiptIfCompleted(ctx, id, url, objectID)
	if err != nil {
		return nil, err
	}
	payment, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, conflictError("receipt can only be attached to a completed payment")
	}
	return payment, nil
}

// Find возвращает платеж с учетом прав запрашивающего
func (s *LedgerService) Find(ctx context.Context, id string, requester Requester) (*models.Payment, error) {
	payment, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !requester.SeesAll() && !payment.OwnedBy(requester.UserID) {
		return nil, fmt.Errorf("%w: access denied", ErrAuthorization)
	}
	return payment, nil
}

// FindByGatewayOrder ищет платеж по идентификатору заказа шлюза
func (s *LedgerService) FindByGatewayOrder(ctx context.Context, orderID string) (*models.Payment, error) {
	payment, err := s.payments.FindByGatewayOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, notFoundError("payment for order %s", orderID)
		}
		return nil, err
	}
	return payment, nil
}

// List возвращает страницу платежей, новые первыми. Житель видит только свои.
func (s *LedgerService) List(ctx context.Context, filter ListFilter, requester Requester, page, pageSize int) (*PaymentPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	payments, total, err := s.payments.List(ctx, s.scope(filter, requester), (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения платежей: %w", err)
	}

	return &PaymentPage{
		Payments: payments,
		Page:     page,
		Pages:    int((total + int64(pageSize) - 1) / int64(pageSize)),
		Total:    total,
	}, nil
}

// ListAll возвращает все платежи по фильтру без пагинации
func (s *LedgerService) ListAll(ctx context.Context, filter ListFilter, requester Requester) ([]models.Payment, error) {
	payments, _, err := s.payments.List(ctx, s.scope(filter, requester), 0, 0)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения платежей: %w", err)
	}
	return payments, nil
}

func (s *LedgerService) scope(filter ListFilter, requester Requester) repository.PaymentFilter {
	f := repository.PaymentFilter{
		Status:        filter.Status,
		Category:      filter.Category,
		BillingPeriod: filter.BillingPeriod,
		BillingYear:   filter.BillingYear,
	}
	if !requester.SeesAll() {
		owner := requester.UserID
		f.OwnerID = &owner
	}
	return f
}

func (s *LedgerService) load(ctx context.Context, id string) (*models.Payment, error) {
	if err := checkPaymentID(id); err != nil {
		return nil, err
	}
	payment, err := s.payments.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, notFoundError("payment %s", id)
		}
		return nil, err
	}
	return payment, nil
}

// checkPaymentID отсекает идентификаторы не в формате UUID: такой записи нет
func checkPaymentID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return notFoundError("payment %s", id)
	}
	return nil
}
