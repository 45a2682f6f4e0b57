// Package testutil содержит хранилища в памяти и заглушки внешних сервисов для тестов.
package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"societyapp/models"
	"societyapp/repository"

	"github.com/google/uuid"
)

// MemoryPayments реализует repository.PaymentRepository в памяти с теми же
// условными записями и уникальными индексами, что и Postgres.
type MemoryPayments struct {
	mu      sync.Mutex
	records map[string]models.Payment
	seq     int
	now     func() time.Time
}

func NewMemoryPayments() *MemoryPayments {
	return &MemoryPayments{records: make(map[string]models.Payment), now: time.Now}
}

func (m *MemoryPayments) Create(_ context.Context, p *models.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = models.PaymentStatusPending
	}
	if _, exists := m.records[p.ID]; exists {
		return repository.ErrDuplicate
	}
	// created_at строго возрастает, чтобы порядок сортировки был детерминирован
	m.seq++
	p.CreatedAt = m.now().Add(time.Duration(m.seq) * time.Millisecond)
	p.UpdatedAt = p.CreatedAt
	m.records[p.ID] = clonePayment(*p)
	return nil
}

func (m *MemoryPayments) FindByID(_ context.Context, id string) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.records[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := clonePayment(p)
	return &out, nil
}

func (m *MemoryPayments) FindByGatewayOrderID(_ context.Context, orderID string) (*models.Payment, error) {
	return m.findBy(func(p models.Payment) bool {
		return p.GatewayOrderID != nil && *p.GatewayOrderID == orderID
	})
}

func (m *MemoryPayments) FindByTransactionID(_ context.Context, txID string) (*models.Payment, error) {
	return m.findBy(func(p models.Payment) bool {
		return p.TransactionID != nil && *p.TransactionID == txID
	})
}

func (m *MemoryPayments) findBy(match func(models.Payment) bool) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.records {
		if match(p) {
			out := clonePayment(p)
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *MemoryPayments) SetGatewayOrderIfUnset(_ context.Context, id, orderID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.records[id]
	if !ok || p.GatewayOrderID != nil {
		return false, nil
	}
	for otherID, other := range m.records {
		if otherID != id && other.GatewayOrderID != nil && *other.GatewayOrderID == orderID {
			return false, repository.ErrDuplicate
		}
	}
	p.GatewayOrderID = &orderID
	p.UpdatedAt = m.now()
	m.records[id] = p
	return true, nil
}

func (m *MemoryPayments) CompleteIfPending(_ context.Context, id string, c repository.Completion) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.records[id]
	if !ok || p.Status != models.PaymentStatusPending {
		return false, nil
	}
	for otherID, other := range m.records {
		if otherID != id && other.TransactionID != nil && *other.TransactionID == c.TransactionID {
			return false, repository.ErrDuplicate
		}
	}

	method := c.Method
	txID := c.TransactionID
	paymentID := c.GatewayPaymentID
	signature := c.Signature
	paidAt := c.PaidAt

	p.Status = models.PaymentStatusCompleted
	p.PaymentMethod = &method
	p.TransactionID = &txID
	p.GatewayPaymentID = &paymentID
	p.GatewaySignature = &signature
	p.PaidDate = &paidAt
	p.UpdatedAt = m.now()
	m.records[id] = p
	return true, nil
}

func (m *MemoryPayments) FailIfPending(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.records[id]
	if !ok || p.Status != models.PaymentStatusPending {
		return false, nil
	}
	p.Status = models.PaymentStatusFailed
	p.UpdatedAt = m.now()
	m.records[id] = p
	return true, nil
}

func (m *MemoryPayments) SetReceiptIfCompleted(_ context.Context, id, url, objectID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.records[id]
	if !ok || p.Status != models.PaymentStatusCompleted {
		return false, nil
	}
	p.Receipt = models.Receipt{URL: &url, ObjectID: &objectID}
	p.UpdatedAt = m.now()
	m.records[id] = p
	return true, nil
}

func (m *MemoryPayments) List(_ context.Context, f repository.PaymentFilter, offset, limit int) ([]models.Payment, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	matched := make([]models.Payment, 0, len(m.records))
	for _, p := range m.records {
		if f.OwnerID != nil && p.UserID != *f.OwnerID {
			continue
		}
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		if f.Category != "" && p.Category != f.Category {
			continue
		}
		if f.BillingPeriod != "" && (p.BillingPeriod == nil || *p.BillingPeriod != f.BillingPeriod) {
			continue
		}
		if f.BillingYear != nil && (p.BillingYear == nil || *p.BillingYear != *f.BillingYear) {
			continue
		}
		matched = append(matched, clonePayment(p))
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	if limit <= 0 {
		return matched, total, nil
	}
	if offset >= len(matched) {
		return []models.Payment{}, total, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}

// Put сохраняет запись как есть; удобно для подготовки состояния в тестах
func (m *MemoryPayments) Put(p models.Payment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[p.ID] = clonePayment(p)
}

// clonePayment копирует указатели, чтобы вызывающий код не менял хранилище
func clonePayment(p models.Payment) models.Payment {
	out := p
	out.PaymentMethod = clonePtr(p.PaymentMethod)
	out.TransactionID = clonePtr(p.TransactionID)
	out.GatewayOrderID = clonePtr(p.GatewayOrderID)
	out.GatewayPaymentID = clonePtr(p.GatewayPaymentID)
	out.GatewaySignature = clonePtr(p.GatewaySignature)
	out.DueDate = clonePtr(p.DueDate)
	out.PaidDate = clonePtr(p.PaidDate)
	out.BillingPeriod = clonePtr(p.BillingPeriod)
	out.BillingYear = clonePtr(p.BillingYear)
	out.Receipt.URL = clonePtr(p.Receipt.URL)
	out.Receipt.ObjectID = clonePtr(p.Receipt.ObjectID)
	return out
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// MemoryUsers реализует repository.UserRepository в памяти
type MemoryUsers struct {
	mu     sync.Mutex
	users  map[uint]models.User
	nextID uint
}

func NewMemoryUsers() *MemoryUsers {
	return &MemoryUsers{users: make(map[uint]models.User), nextID: 1}
}

func (m *MemoryUsers) Create(_ context.Context, u *models.User) error {
	if err := u.BeforeCreate(nil); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return repository.ErrDuplicate
		}
		if existing.FlatNumber == u.FlatNumber && existing.Wing == u.Wing {
			return repository.ErrDuplicate
		}
	}
	u.ID = m.nextID
	m.nextID++
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	m.users[u.ID] = *u
	return nil
}

func (m *MemoryUsers) FindByID(_ context.Context, id uint) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

func (m *MemoryUsers) FindByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			found := u
			return &found, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *MemoryUsers) FindByIDs(_ context.Context, ids []uint) ([]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.User, 0, len(ids))
	for _, id := range ids {
		if u, ok := m.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *MemoryUsers) ExistsByFlat(_ context.Context, flatNumber, wing string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.FlatNumber == flatNumber && u.Wing == wing {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryUsers) TouchLastLogin(_ context.Context, id uint, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.LastLogin = &at
	m.users[id] = u
	return nil
}

// Seed добавляет пользователя с заданной ролью без проверки пароля
func (m *MemoryUsers) Seed(name, email, flat string, role models.Role) *models.User {
	u := &models.User{
		Name:       name,
		Email:      email,
		Password:   "x",
		Phone:      "9876543210",
		FlatNumber: flat,
		Role:       role,
		IsActive:   true,
	}
	if err := m.Create(context.Background(), u); err != nil {
		panic(err)
	}
	return u
}

// SetActive меняет признак активности учетной записи
func (m *MemoryUsers) SetActive(id uint, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.users[id]
	u.IsActive = active
	m.users[id] = u
}

var (
	_ repository.PaymentRepository = (*MemoryPayments)(nil)
	_ repository.UserRepository    = (*MemoryUsers)(nil)
)
