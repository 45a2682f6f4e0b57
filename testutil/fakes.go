package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"societyapp/models"
	"societyapp/services"
)

// TestGatewaySecret секрет, которым FakeGateway проверяет подписи
const TestGatewaySecret = "test_key_secret"

// FakeGateway выдает последовательные заказы и проверяет подписи настоящим HMAC
type FakeGateway struct {
	mu        sync.Mutex
	Secret    string
	OpenErr   error
	orders    int
	OpenCalls int
}

func NewFakeGateway() *FakeGateway {
	return &FakeGateway{Secret: TestGatewaySecret}
}

func (g *FakeGateway) OpenOrder(_ context.Context, amountMinorUnits int64, reference string) (*services.GatewayOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.OpenCalls++
	if g.OpenErr != nil {
		return nil, g.OpenErr
	}
	g.orders++
	return &services.GatewayOrder{
		ID:       fmt.Sprintf("order_%d", g.orders),
		Amount:   amountMinorUnits,
		Currency: g.Currency(),
		Receipt:  reference,
		Status:   "created",
	}, nil
}

func (g *FakeGateway) VerifySignature(orderID, paymentID, signature string) (bool, error) {
	if g.Secret == "" {
		return false, services.ErrGatewaySecretMissing
	}
	return services.ComputeSignature(g.Secret, orderID, paymentID) == signature, nil
}

func (g *FakeGateway) Currency() string {
	return "INR"
}

// Sign возвращает подпись, которую прислал бы шлюз
func (g *FakeGateway) Sign(orderID, paymentID string) string {
	return services.ComputeSignature(g.Secret, orderID, paymentID)
}

// StoredDocument документ, сохраненный FakeStorage
type StoredDocument struct {
	Folder      string
	Name        string
	ContentType string
	Data        []byte
}

// FakeStorage хранит загруженные документы в памяти
type FakeStorage struct {
	mu        sync.Mutex
	Err       error
	Documents []StoredDocument
}

func (s *FakeStorage) Upload(_ context.Context, folder, name, contentType string, data []byte) (*services.StoredObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	s.Documents = append(s.Documents, StoredDocument{Folder: folder, Name: name, ContentType: contentType, Data: data})
	key := folder + "/" + name
	return &services.StoredObject{URL: "https://storage.test/" + key, ObjectID: key}, nil
}

// Count возвращает число документов в папке
func (s *FakeStorage) Count(folder string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, d := range s.Documents {
		if d.Folder == folder {
			n++
		}
	}
	return n
}

// FakeNotifier запоминает отправленные подтверждения
type FakeNotifier struct {
	mu    sync.Mutex
	Err   error
	Panic bool
	Sent  []string
}

func (n *FakeNotifier) SendPaymentConfirmation(_ context.Context, user *models.User, payment *models.Payment) error {
	if n.Panic {
		panic("smtp exploded")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Err != nil {
		return n.Err
	}
	n.Sent = append(n.Sent, user.Email+":"+payment.ID)
	return nil
}

// Count возвращает число отправленных писем
func (n *FakeNotifier) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.Sent)
}

// FakeEvents запоминает опубликованные события
type FakeEvents struct {
	mu     sync.Mutex
	Events []services.PaymentEvent
}

func (e *FakeEvents) Publish(_ context.Context, event services.PaymentEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Events = append(e.Events, event)
	return nil
}

func (e *FakeEvents) Close() error {
	return nil
}

// Types возвращает типы опубликованных событий по порядку
func (e *FakeEvents) Types() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.Events))
	for _, ev := range e.Events {
		out = append(out, ev.Type)
	}
	return out
}

// MemoryIdempotency реализует services.IdempotencyStore в памяти
type MemoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]string
	Err  error
}

func NewMemoryIdempotency() *MemoryIdempotency {
	return &MemoryIdempotency{keys: make(map[string]string)}
}

func (m *MemoryIdempotency) Reserve(_ context.Context, key, paymentID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", false, m.Err
	}
	if existing, ok := m.keys[key]; ok {
		return existing, false, nil
	}
	m.keys[key] = paymentID
	return paymentID, true, nil
}

func (m *MemoryIdempotency) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

// StaticHealth управляемый сигнал доступности хранилища
type StaticHealth struct {
	mu      sync.Mutex
	healthy bool
}

func NewStaticHealth(healthy bool) *StaticHealth {
	return &StaticHealth{healthy: healthy}
}

func (h *StaticHealth) Healthy() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.healthy
}

func (h *StaticHealth) Set(healthy bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.healthy = healthy
}

// ErrStorageDown ошибка хранилища для сценариев со сбоем квитанции
var ErrStorageDown = errors.New("storage unavailable")

var (
	_ services.Gateway          = (*FakeGateway)(nil)
	_ services.Storage          = (*FakeStorage)(nil)
	_ services.Notifier         = (*FakeNotifier)(nil)
	_ services.EventPublisher   = (*FakeEvents)(nil)
	_ services.IdempotencyStore = (*MemoryIdempotency)(nil)
	_ services.HealthChecker    = (*StaticHealth)(nil)
)
