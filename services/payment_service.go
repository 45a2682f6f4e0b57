package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"societyapp/models"
	"societyapp/repository"
	"societyapp/utils"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const defaultSideEffectTimeout = 30 * time.Second

// Имена фоновых задач после подтверждения платежа
const (
	taskReceipt = "receipt"
	taskEmail   = "email"
	taskEvent   = "event"
)

// PaymentService координирует создание заказов, проверку оплаты и фоновые задачи
type PaymentService struct {
	ledger      *LedgerService
	users       repository.UserRepository
	gateway     Gateway
	receipts    *ReceiptService
	notifier    Notifier
	events      EventPublisher
	idempotency IdempotencyStore
	metrics     *utils.Metrics
	logger      *zap.Logger
	tracer      trace.Tracer
	validate    *validator.Validate

	sideEffectTimeout time.Duration
	now               func() time.Time
	wg                sync.WaitGroup
}

// PaymentServiceDeps зависимости PaymentService. Events, Idempotency,
// Metrics и Logger необязательны.
type PaymentServiceDeps struct {
	Ledger            *LedgerService
	Users             repository.UserRepository
	Gateway           Gateway
	Receipts          *ReceiptService
	Notifier          Notifier
	Events            EventPublisher
	Idempotency       IdempotencyStore
	Metrics           *utils.Metrics
	Logger            *zap.Logger
	SideEffectTimeout time.Duration
}

type CreateOrderRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Type        string          `json:"type" validate:"required,oneof=maintenance water electricity amenity penalty other"`
	Description string          `json:"description" validate:"max=200"`
	DueDate     *time.Time      `json:"dueDate"`
	Month       string          `json:"month" validate:"omitempty,billing_period"`
	Year        *int            `json:"year" validate:"omitempty,min=2000,max=2100"`
	Notes       string          `json:"notes" validate:"max=500"`
}

type VerifyRequest struct {
	OrderID   string `json:"razorpay_order_id" validate:"required"`
	PaymentID string `json:"razorpay_payment_id" validate:"required"`
	Signature string `json:"razorpay_signature" validate:"required"`
	Method    string `json:"payment_method" validate:"omitempty,oneof=upi card netbanking wallet cash"`
}

// CreateOrderResult платеж и открытый для него заказ шлюза
type CreateOrderResult struct {
	Payment  *models.Payment
	Order    *GatewayOrder
	Replayed bool
}

// VerifyResult итог проверки оплаты. Verified=false означает неверную подпись.
type VerifyResult struct {
	Payment  *models.Payment
	Verified bool
	Replayed bool
}

// NewPaymentService создает новый экземпляр PaymentService
func NewPaymentService(deps PaymentServiceDeps) *PaymentService {
	s := &PaymentService{
		ledger:            deps.Ledger,
		users:             deps.Users,
		gateway:           deps.Gateway,
		receipts:          deps.Receipts,
		notifier:          deps.Notifier,
		events:            deps.Events,
		idempotency:       deps.Idempotency,
		metrics:           deps.Metrics,
		logger:            deps.Logger,
		tracer:            otel.Tracer("societyapp/payments"),
		validate:          NewValidator(),
		sideEffectTimeout: deps.SideEffectTimeout,
		now:               time.Now,
	}
	if s.events == nil {
		s.events = NopEventPublisher{}
	}
	if s.logger == nil {
		s.logger = zap.L()
	}
	if s.sideEffectTimeout <= 0 {
		s.sideEffectTimeout = defaultSideEffectTimeout
	}
	return s
}

// CreateOrder создает платеж и открывает заказ в шлюзе. С ключом идемпотентности
// повторный запрос возвращает ранее созданный платеж и заказ.
func (s *PaymentService) CreateOrder(ctx context.Context, requester Requester, req CreateOrderRequest, idempotencyKey string) (*CreateOrderResult, error) {
	ctx, span := s.tracer.Start(ctx, "PaymentService.CreateOrder")
	defer span.End()

	if err := s.validate.Struct(req); err != nil {
		return nil, validationError("%s", describeValidation(err))
	}

	in := CreatePaymentInput{
		Owner:         requester.UserID,
		Amount:        req.Amount,
		Category:      models.PaymentCategory(req.Type),
		Description:   req.Description,
		DueDate:       req.DueDate,
		BillingPeriod: req.Month,
		BillingYear:   req.Year,
		Notes:         req.Notes,
	}

	scopedKey := ""
	if idempotencyKey != "" && s.idempotency != nil {
		scopedKey = fmt.Sprintf("%d:%s", requester.UserID, idempotencyKey)
		in.ID = uuid.NewString()

		existing, reserved, err := s.idempotency.Reserve(ctx, scopedKey, in.ID)
		switch {
		case err != nil:
			// Без Redis продолжаем без дедупликации
			utils.LoggerFromContext(ctx).Warn("idempotency store unavailable", zap.Error(err))
			scopedKey = ""
		case !reserved:
			span.SetAttributes(attribute.Bool("payment.idempotent_replay", true))
			return s.resumeOrder(ctx, existing, requester)
		}
	}

	payment, err := s.ledger.Create(ctx, in)
	if err != nil {
		if scopedKey != "" {
			_ = s.idempotency.Release(ctx, scopedKey)
		}
		return nil, err
	}
	span.SetAttributes(attribute.String("payment.id", payment.ID))

	result, err := s.openOrder(ctx, payment)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "open order failed")
		return nil, err
	}
	return result, nil
}

// resumeOrder продолжает создание заказа по ранее зарезервированному ключу
func (s *PaymentService) resumeOrder(ctx context.Context, paymentID string, requester Requester) (*CreateOrderResult, error) {
	payment, err := s.ledger.Find(ctx, paymentID, requester)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, conflictError("a request with this idempotency key is still in progress")
		}
		return nil, err
	}

	if payment.GatewayOrderID != nil {
		return &CreateOrderResult{
			Payment: payment,
			Order: &GatewayOrder{
				ID:       *payment.GatewayOrderID,
				Amount:   payment.MinorUnits(),
				Currency: s.gateway.Currency(),
				Receipt:  payment.ID,
			},
			Replayed: true,
		}, nil
	}
	if payment.Status != models.PaymentStatusPending {
		return nil, conflictError("payment %s is already %s", payment.ID, payment.Status)
	}

	// Предыдущая попытка не дошла до шлюза
	result, err := s.openOrder(ctx, payment)
	if err != nil {
		return nil, err
	}
	result.Replayed = true
	return result, nil
}

func (s *PaymentService) openOrder(ctx context.Context, payment *models.Payment) (*CreateOrderResult, error) {
	order, err := s.gateway.OpenOrder(ctx, payment.MinorUnits(), payment.ID)
	if err != nil {
		s.metrics.RecordOrder("failed")
		utils.LoggerFromContext(ctx).Warn("gateway order creation failed",
			zap.String("payment_id", payment.ID),
			zap.Error(err),
		)
		if !errors.Is(err, ErrGateway) && !errors.Is(err, ErrValidation) {
			err = fmt.Errorf("%w: %v", ErrGateway, err)
		}
		return nil, err
	}

	payment, err = s.ledger.AttachGatewayOrder(ctx, payment.ID, order.ID)
	if err != nil {
		s.metrics.RecordOrder("attach_failed")
		return nil, err
	}

	s.metrics.RecordOrder("opened")
	return &CreateOrderResult{Payment: payment, Order: order}, nil
}

// Verify проверяет подпись шлюза и фиксирует итог платежа. При успехе
// квитанция, письмо и событие выполняются в фоне и не влияют на ответ.
func (s *PaymentService) Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	ctx, span := s.tracer.Start(ctx, "PaymentService.Verify",
		trace.WithAttributes(attribute.String("gateway.order_id", req.OrderID)))
	defer span.End()

	if err := s.validate.Struct(req); err != nil {
		return nil, validationError("%s", describeValidation(err))
	}
	logger := utils.LoggerFromContext(ctx).With(zap.String("gateway_order_id", req.OrderID))

	payment, err := s.ledger.FindByGatewayOrder(ctx, req.OrderID)
	if err != nil {
		s.metrics.RecordVerification("not_found")
		return nil, err
	}
	span.SetAttributes(attribute.String("payment.id", payment.ID))

	valid, err := s.gateway.VerifySignature(req.OrderID, req.PaymentID, req.Signature)
	if err != nil {
		// Ошибка конфигурации: статус платежа не меняем
		s.metrics.RecordVerification("error")
		span.RecordError(err)
		span.SetStatus(codes.Error, "signature check unavailable")
		logger.Error("signature verification unavailable", zap.Error(err))
		return nil, fmt.Errorf("ошибка проверки подписи: %w", err)
	}

	if !valid {
		wasPending := payment.Status == models.PaymentStatusPending
		failed, err := s.ledger.MarkFailed(ctx, payment.ID)
		if err != nil {
			s.metrics.RecordVerification("conflict")
			return nil, err
		}
		s.metrics.RecordVerification("failed")
		span.SetStatus(codes.Error, "signature mismatch")
		logger.Warn("payment signature mismatch", zap.String("payment_id", payment.ID))
		if wasPending {
			s.dispatchEvent(EventPaymentFailed, failed)
		}
		return &VerifyResult{Payment: failed, Verified: false}, nil
	}

	method := models.MethodUPI
	if req.Method != "" {
		method = models.PaymentMethod(req.Method)
	}

	completed, replayed, err := s.ledger.MarkCompleted(ctx, payment.ID, CompletionInput{
		GatewayPaymentID: req.PaymentID,
		Signature:        req.Signature,
		Method:           method,
		TransactionID:    req.PaymentID,
		PaidAt:           s.now(),
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			s.metrics.RecordVerification("conflict")
		} else {
			s.metrics.RecordVerification("error")
		}
		span.RecordError(err)
		return nil, err
	}

	if replayed {
		s.metrics.RecordVerification("replayed")
		span.SetAttributes(attribute.Bool("payment.replayed", true))
		return &VerifyResult{Payment: completed, Verified: true, Replayed: true}, nil
	}

	s.metrics.RecordVerification("completed")
	logger.Info("payment completed",
		zap.String("payment_id", completed.ID),
		zap.String("transaction_id", req.PaymentID),
	)
	s.dispatchCompleted(completed)

	return &VerifyResult{Payment: completed, Verified: true}, nil
}

// Receipt возвращает ссылку на квитанцию, при необходимости формируя ее
func (s *PaymentService) Receipt(ctx context.Context, id string, requester Requester) (string, error) {
	payment, err := s.ledger.Find(ctx, id, requester)
	if err != nil {
		return "", err
	}
	if payment.Status != models.PaymentStatusCompleted {
		return "", validationError("receipt is only available for completed payments")
	}
	if payment.Receipt.Present() {
		return *payment.Receipt.URL, nil
	}

	payment, err = s.attachReceipt(ctx, payment)
	if err != nil {
		return "", fmt.Errorf("failed to generate receipt: %w", err)
	}
	return *payment.Receipt.URL, nil
}

// Report формирует отчет по платежам для правления
func (s *PaymentService) Report(ctx context.Context, filter ListFilter, requester Requester) (*StoredObject, error) {
	if !requester.SeesAll() {
		return nil, fmt.Errorf("%w: reports are available to committee members only", ErrAuthorization)
	}

	payments, err := s.ledger.ListAll(ctx, filter, requester)
	if err != nil {
		return nil, err
	}

	seen := make(map[uint]struct{})
	ids := make([]uint, 0)
	for _, p := range payments {
		if _, ok := seen[p.UserID]; !ok {
			seen[p.UserID] = struct{}{}
			ids = append(ids, p.UserID)
		}
	}
	users, err := s.users.FindByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения жителей: %w", err)
	}
	owners := make(map[uint]models.User, len(users))
	for _, u := range users {
		owners[u.ID] = u
	}

	obj, err := s.receipts.GenerateReport(ctx, payments, owners)
	if err != nil {
		return nil, fmt.Errorf("failed to generate report: %w", err)
	}
	return obj, nil
}

// Wait ждет завершения всех фоновых задач
func (s *PaymentService) Wait() {
	s.wg.Wait()
}

// Shutdown ждет фоновые задачи, но не дольше ctx
func (s *PaymentService) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *PaymentService) attachReceipt(ctx context.Context, payment *models.Payment) (*models.Payment, error) {
	owner, err := s.users.FindByID(ctx, payment.UserID)
	if err != nil {
		return nil, fmt.Errorf("owner lookup: %w", err)
	}
	obj, err := s.receipts.Generate(ctx, payment, owner)
	if err != nil {
		return nil, err
	}
	return s.ledger.AttachReceipt(ctx, payment.ID, obj.URL, obj.ObjectID)
}

func (s *PaymentService) dispatchCompleted(payment *models.Payment) {
	snapshot := *payment

	s.runDetached(taskReceipt, snapshot.ID, func(ctx context.Context) error {
		_, err := s.attachReceipt(ctx, &snapshot)
		return err
	})

	if s.notifier != nil {
		s.runDetached(taskEmail, snapshot.ID, func(ctx context.Context) error {
			owner, err := s.users.FindByID(ctx, snapshot.UserID)
			if err != nil {
				return fmt.Errorf("owner lookup: %w", err)
			}
			return s.notifier.SendPaymentConfirmation(ctx, owner, &snapshot)
		})
	}

	s.dispatchEvent(EventPaymentCompleted, &snapshot)
}

func (s *PaymentService) dispatchEvent(eventType string, payment *models.Payment) {
	event := NewPaymentEvent(eventType, payment, s.now())
	s.runDetached(taskEvent, payment.ID, func(ctx context.Context) error {
		return s.events.Publish(ctx, event)
	})
}

// runDetached запускает задачу вне контекста запроса, со своим таймаутом.
// Ошибки и паники логируются и учитываются в метриках.
func (s *PaymentService) runDetached(task, paymentID string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		start := time.Now()
		logger := s.logger.With(zap.String("task", task), zap.String("payment_id", paymentID))
		ctx, cancel := context.WithTimeout(utils.ContextWithLogger(context.Background(), logger), s.sideEffectTimeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				s.metrics.RecordSideEffectFailure(task)
				logger.Error("post-commit task panicked", zap.Any("panic", r))
			}
		}()

		if err := fn(ctx); err != nil {
			s.metrics.RecordSideEffectFailure(task)
			logger.Error("post-commit task failed", zap.Error(fmt.Errorf("%w: %v", ErrSideEffect, err)))
			return
		}
		utils.LogOperation(ctx, task, start, nil)
	}()
}
