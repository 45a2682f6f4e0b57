package models

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PaymentStatus представляет статус платежа
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"   // Ожидает подтверждения шлюза
	PaymentStatusCompleted PaymentStatus = "completed" // Подпись шлюза проверена
	PaymentStatusFailed    PaymentStatus = "failed"    // Подпись не совпала
)

// IsTerminal сообщает, что из статуса нет переходов
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusFailed
}

// PaymentCategory представляет вид взноса
type PaymentCategory string

const (
	CategoryMaintenance PaymentCategory = "maintenance"
	CategoryWater       PaymentCategory = "water"
	CategoryElectricity PaymentCategory = "electricity"
	CategoryAmenity     PaymentCategory = "amenity"
	CategoryPenalty     PaymentCategory = "penalty"
	CategoryOther       PaymentCategory = "other"
)

var paymentCategories = map[PaymentCategory]struct{}{
	CategoryMaintenance: {},
	CategoryWater:       {},
	CategoryElectricity: {},
	CategoryAmenity:     {},
	CategoryPenalty:     {},
	CategoryOther:       {},
}

// Valid проверяет принадлежность закрытому перечню
func (c PaymentCategory) Valid() bool {
	_, ok := paymentCategories[c]
	return ok
}

// PaymentMethod представляет способ оплаты на стороне шлюза
type PaymentMethod string

const (
	MethodUPI        PaymentMethod = "upi"
	MethodCard       PaymentMethod = "card"
	MethodNetBanking PaymentMethod = "netbanking"
	MethodWallet     PaymentMethod = "wallet"
	MethodCash       PaymentMethod = "cash"
)

// Valid проверяет принадлежность закрытому перечню
func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodUPI, MethodCard, MethodNetBanking, MethodWallet, MethodCash:
		return true
	}
	return false
}

const (
	MaxDescriptionLength = 200
	MaxNotesLength       = 500
)

var billingPeriodPattern = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)

// ValidBillingPeriod проверяет формат "YYYY-MM"
func ValidBillingPeriod(period string) bool {
	return billingPeriodPattern.MatchString(period)
}

// ErrInvariant возвращается, когда запись нарушает инварианты платежа
var ErrInvariant = errors.New("payment invariant violated")

// Receipt хранит ссылку на сгенерированную квитанцию
type Receipt struct {
	URL      *string `gorm:"column:receipt_url" json:"url,omitempty"`
	ObjectID *string `gorm:"column:receipt_object_id" json:"objectId,omitempty"`
}

// Present сообщает, что квитанция уже прикреплена
func (r Receipt) Present() bool {
	return r.URL != nil && *r.URL != ""
}

// Payment представляет взнос жителя
type Payment struct {
	ID               string          `gorm:"type:uuid;primaryKey" json:"id"`
	UserID           uint            `gorm:"not null;index:idx_payments_owner_created,priority:1" json:"userId"`
	Amount           decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"amount"`
	Category         PaymentCategory `gorm:"type:varchar(20);not null;index" json:"type"`
	Description      string          `gorm:"size:200" json:"description,omitempty"`
	Status           PaymentStatus   `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	PaymentMethod    *PaymentMethod  `gorm:"type:varchar(20)" json:"paymentMethod,omitempty"`
	TransactionID    *string         `gorm:"uniqueIndex" json:"transactionId,omitempty"`
	GatewayOrderID   *string         `gorm:"uniqueIndex" json:"razorpayOrderId,omitempty"`
	GatewayPaymentID *string         `json:"razorpayPaymentId,omitempty"`
	GatewaySignature *string         `json:"-"`
	DueDate          *time.Time      `json:"dueDate,omitempty"`
	PaidDate         *time.Time      `json:"paidDate,omitempty"`
	LateFee          decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0" json:"lateFee"`
	Receipt          Receipt         `gorm:"embedded" json:"receipt"`
	BillingPeriod    *string         `gorm:"size:7;index:idx_payments_period,priority:1" json:"month,omitempty"`
	BillingYear      *int            `gorm:"index:idx_payments_period,priority:2" json:"year,omitempty"`
	Notes            string          `gorm:"size:500" json:"notes,omitempty"`
	CreatedAt        time.Time       `gorm:"index:idx_payments_owner_created,priority:2,sort:desc" json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// TableName возвращает имя таблицы для модели Payment
func (Payment) TableName() string {
	return "payments"
}

// BeforeCreate назначает идентификатор и статус новой записи
func (p *Payment) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = PaymentStatusPending
	}
	return nil
}

// MinorUnits переводит сумму в пайсы для шлюза
func (p *Payment) MinorUnits() int64 {
	return p.Amount.Shift(2).Round(0).IntPart()
}

// CheckInvariants проверяет согласованность полей с текущим статусом
func (p *Payment) CheckInvariants() error {
	if !p.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvariant)
	}
	if !p.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvariant, p.Category)
	}

	switch p.Status {
	case PaymentStatusPending:
		if p.TransactionID != nil {
			return fmt.Errorf("%w: pending payment carries transaction id", ErrInvariant)
		}
	case PaymentStatusCompleted:
		if p.PaidDate == nil {
			return fmt.Errorf("%w: completed payment without paid date", ErrInvariant)
		}
		if p.TransactionID == nil || *p.TransactionID == "" {
			return fmt.Errorf("%w: completed payment without transaction id", ErrInvariant)
		}
		if p.PaymentMethod == nil {
			return fmt.Errorf("%w: completed payment without payment method", ErrInvariant)
		}
	case PaymentStatusFailed:
		if p.PaidDate != nil {
			return fmt.Errorf("%w: failed payment has paid date", ErrInvariant)
		}
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvariant, p.Status)
	}
	return nil
}

// OwnedBy сообщает, принадлежит ли запись пользователю
func (p *Payment) OwnedBy(userID uint) bool {
	return p.UserID == userID
}
