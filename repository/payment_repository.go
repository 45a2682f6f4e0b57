package repository

import (
	"context"
	"time"

	"societyapp/models"

	"gorm.io/gorm"
)

// PaymentFilter описывает условия выборки платежей.
// Пустые поля не участвуют в запросе.
type PaymentFilter struct {
	OwnerID       *uint
	Status        models.PaymentStatus
	Category      models.PaymentCategory
	BillingPeriod string
	BillingYear   *int
}

// Completion содержит данные, которые записываются при подтверждении платежа
type Completion struct {
	GatewayPaymentID string
	Signature        string
	Method           models.PaymentMethod
	TransactionID    string
	PaidAt           time.Time
}

// PaymentRepository хранит платежи. Методы *If* выполняют условную запись
// и возвращают false, если условие не выполнилось (строка не изменена).
// Условие стоит в WHERE того же UPDATE, поэтому из двух конкурентных
// записей RowsAffected == 1 получает только одна. testutil.MemoryPayments
// повторяет это поведение под мьютексом.
type PaymentRepository interface {
	Create(ctx context.Context, p *models.Payment) error
	FindByID(ctx context.Context, id string) (*models.Payment, error)
	FindByGatewayOrderID(ctx context.Context, orderID string) (*models.Payment, error)
	FindByTransactionID(ctx context.Context, txID string) (*models.Payment, error)
	SetGatewayOrderIfUnset(ctx context.Context, id, orderID string) (bool, error)
	CompleteIfPending(ctx context.Context, id string, c Completion) (bool, error)
	FailIfPending(ctx context.Context, id string) (bool, error)
	SetReceiptIfCompleted(ctx context.Context, id, url, objectID string) (bool, error)
	List(ctx context.Context, f PaymentFilter, offset, limit int) ([]models.Payment, int64, error)
}

type gormPaymentRepository struct {
	db *gorm.DB
}

// NewPaymentRepository creates a payment repository backed by GORM.
func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &gormPaymentRepository{db: db}
}

func (r *gormPaymentRepository) Create(ctx context.Context, p *models.Payment) error {
	return translate(r.db.WithContext(ctx).Create(p).Error)
}

func (r *gormPaymentRepository) FindByID(ctx context.Context, id string) (*models.Payment, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *gormPaymentRepository) FindByGatewayOrderID(ctx context.Context, orderID string) (*models.Payment, error) {
	return r.first(ctx, "gateway_order_id = ?", orderID)
}

func (r *gormPaymentRepository) FindByTransactionID(ctx context.Context, txID string) (*models.Payment, error) {
	return r.first(ctx, "transaction_id = ?", txID)
}

func (r *gormPaymentRepository) first(ctx context.Context, query string, arg interface{}) (*models.Payment, error) {
	var p models.Payment
	if err := r.db.WithContext(ctx).Where(query, arg).First(&p).Error; err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (r *gormPaymentRepository) SetGatewayOrderIfUnset(ctx context.Context, id, orderID string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND gateway_order_id IS NULL", id).
		Update("gateway_order_id", orderID)
	return res.RowsAffected == 1, translate(res.Error)
}

func (r *gormPaymentRepository) CompleteIfPending(ctx context.Context, id string, c Completion) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, models.PaymentStatusPending).
		Updates(map[string]interface{}{
			"status":             models.PaymentStatusCompleted,
			"gateway_payment_id": c.GatewayPaymentID,
			"gateway_signature":  c.Signature,
			"payment_method":     c.Method,
			"transaction_id":     c.TransactionID,
			"paid_date":          c.PaidAt,
		})
	return res.RowsAffected == 1, translate(res.Error)
}

func (r *gormPaymentRepository) FailIfPending(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, models.PaymentStatusPending).
		Update("status", models.PaymentStatusFailed)
	return res.RowsAffected == 1, translate(res.Error)
}

func (r *gormPaymentRepository) SetReceiptIfCompleted(ctx context.Context, id, url, objectID string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, models.PaymentStatusCompleted).
		Updates(map[string]interface{}{
			"receipt_url":       url,
			"receipt_object_id": objectID,
		})
	return res.RowsAffected == 1, translate(res.Error)
}

func (r *gormPaymentRepository) List(ctx context.Context, f PaymentFilter, offset, limit int) ([]models.Payment, int64, error) {
	var total int64
	if err := r.filtered(ctx, f).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	q := r.filtered(ctx, f).Order("created_at DESC")
	if limit > 0 {
		q = q.Offset(offset).Limit(limit)
	}

	var payments []models.Payment
	if err := q.Find(&payments).Error; err != nil {
		return nil, 0, err
	}
	return payments, total, nil
}

func (r *gormPaymentRepository) filtered(ctx context.Context, f PaymentFilter) *gorm.DB {
	q := r.db.WithContext(ctx).Model(&models.Payment{})
	if f.OwnerID != nil {
		q = q.Where("user_id = ?", *f.OwnerID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Category != "" {
		q = q.Where("category = ?", f.Category)
	}
	if f.BillingPeriod != "" {
		q = q.Where("billing_period = ?", f.BillingPeriod)
	}
	if f.BillingYear != nil {
		q = q.Where("billing_year = ?", *f.BillingYear)
	}
	return q
}
