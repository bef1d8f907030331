package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veloracommerce/fulfillment/internal/domain/booking"
	"github.com/veloracommerce/fulfillment/internal/domain/catalog"
	domainErrors "github.com/veloracommerce/fulfillment/internal/domain/errors"
	"github.com/veloracommerce/fulfillment/internal/domain/order"
	"github.com/veloracommerce/fulfillment/internal/domain/outbox"
	"github.com/veloracommerce/fulfillment/internal/domain/payment"
	"github.com/veloracommerce/fulfillment/internal/service"
)

// --- Transaction Manager Mock ---

// Snapshotter is implemented by the in-memory repositories so the mock
// transaction manager can roll their state back when fn fails.
type Snapshotter interface {
	Snapshot() (restore func())
}

// MockTxManager runs fn directly. Participants registered with Join are
// snapshotted before fn and restored if fn returns an error, which mirrors
// rollback semantics closely enough to test outbox atomicity.
type MockTxManager struct {
	WithTransactionFunc func(ctx context.Context, fn func(ctx context.Context) error) error

	participants []Snapshotter
}

func NewMockTxManager(participants ...Snapshotter) *MockTxManager {
	return &MockTxManager{participants: participants}
}

func (m *MockTxManager) Join(s Snapshotter) {
	m.participants = append(m.participants, s)
}

func (m *MockTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.WithTransactionFunc != nil {
		return m.WithTransactionFunc(ctx, fn)
	}
	restores := make([]func(), 0, len(m.participants))
	for _, p := range m.participants {
		restores = append(restores, p.Snapshot())
	}
	if err := fn(ctx); err != nil {
		for i := len(restores) - 1; i >= 0; i-- {
			restores[i]()
		}
		return err
	}
	return nil
}

// --- Order Repository Mock ---

// MockOrderRepository is an in-memory implementation of order.Repository.
type MockOrderRepository struct {
	mu     sync.Mutex
	orders map[uuid.UUID]*order.Order
	items  map[uuid.UUID]*order.LineItem

	GetLineItemFunc          func(ctx context.Context, id uuid.UUID) (*order.LineItem, error)
	UpdateLineItemStatusFunc func(ctx context.Context, id uuid.UUID, from, to order.Status, updatedAt time.Time) error
}

func NewMockOrderRepository() *MockOrderRepository {
	return &MockOrderRepository{
		orders: make(map[uuid.UUID]*order.Order),
		items:  make(map[uuid.UUID]*order.LineItem),
	}
}

func (m *MockOrderRepository) Snapshot() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	orders := make(map[uuid.UUID]*order.Order, len(m.orders))
	for k, v := range m.orders {
		o := *v
		orders[k] = &o
	}
	items := make(map[uuid.UUID]*order.LineItem, len(m.items))
	for k, v := range m.items {
		li := *v
		items[k] = &li
	}
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.orders = orders
		m.items = items
	}
}

func (m *MockOrderRepository) CreateOrder(ctx context.Context, o *order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *o
	m.orders[o.ID] = &cp
	for _, li := range o.Items {
		item := *li
		m.items[li.ID] = &item
	}
	return nil
}

func (m *MockOrderRepository) GetOrder(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, domainErrors.ErrOrderNotFound
	}
	cp := *o
	cp.Items = m.itemsForOrderLocked(id)
	return &cp, nil
}

func (m *MockOrderRepository) GetLineItem(ctx context.Context, id uuid.UUID) (*order.LineItem, error) {
	if m.GetLineItemFunc != nil {
		return m.GetLineItemFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	li, ok := m.items[id]
	if !ok {
		return nil, domainErrors.ErrLineItemNotFound
	}
	cp := *li
	return &cp, nil
}

func (m *MockOrderRepository) ListLineItems(ctx context.Context, orderID uuid.UUID) ([]*order.LineItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.itemsForOrderLocked(orderID), nil
}

func (m *MockOrderRepository) UpdateLineItemStatus(ctx context.Context, id uuid.UUID, from, to order.Status, updatedAt time.Time) error {
	if m.UpdateLineItemStatusFunc != nil {
		return m.UpdateLineItemStatusFunc(ctx, id, from, to, updatedAt)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	li, ok := m.items[id]
	if !ok {
		return domainErrors.ErrLineItemNotFound
	}
	if li.Status != from {
		return domainErrors.ErrConcurrentUpdate
	}
	li.Status = to
	li.UpdatedAt = updatedAt
	return nil
}

func (m *MockOrderRepository) UpdateOrderStatus(ctx context.Context, id uuid.UUID, status order.OrderStatus, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return domainErrors.ErrOrderNotFound
	}
	o.Status = status
	o.UpdatedAt = updatedAt
	return nil
}

func (m *MockOrderRepository) itemsForOrderLocked(orderID uuid.UUID) []*order.LineItem {
	items := make([]*order.LineItem, 0)
	for _, li := range m.items {
		if li.OrderID == orderID {
			cp := *li
			items = append(items, &cp)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	return items
}

// --- Payment Repository Mock ---

// MockPaymentRepository is an in-memory implementation of payment.Repository.
type MockPaymentRepository struct {
	mu       sync.Mutex
	payments map[uuid.UUID]*payment.Payment

	CompareAndSwapStatusFunc func(ctx context.Context, id uuid.UUID, from, to payment.PaymentStatus) (bool, error)
	GetByOrderIDFunc         func(ctx context.Context, orderID uuid.UUID) (*payment.Payment, error)
}

func NewMockPaymentRepository() *MockPaymentRepository {
	return &MockPaymentRepository{payments: make(map[uuid.UUID]*payment.Payment)}
}

func (m *MockPaymentRepository) Snapshot() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	payments := make(map[uuid.UUID]*payment.Payment, len(m.payments))
	for k, v := range m.payments {
		p := *v
		payments[k] = &p
	}
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.payments = payments
	}
}

// Create enforces the one-payment-per-order unique index the real table has.
func (m *MockPaymentRepository) Create(ctx context.Context, p *payment.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.payments {
		if existing.OrderID == p.OrderID {
			return domainErrors.ErrDuplicatePayment
		}
	}
	cp := *p
	m.payments[p.ID] = &cp
	return nil
}

func (m *MockPaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, domainErrors.ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MockPaymentRepository) GetByOrderID(ctx context.Context, orderID uuid.UUID) (*payment.Payment, error) {
	if m.GetByOrderIDFunc != nil {
		return m.GetByOrderIDFunc(ctx, orderID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.OrderID == orderID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domainErrors.ErrPaymentNotFound
}

func (m *MockPaymentRepository) Update(ctx context.Context, p *payment.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.payments[p.ID]; !ok {
		return domainErrors.ErrPaymentNotFound
	}
	cp := *p
	m.payments[p.ID] = &cp
	return nil
}

func (m *MockPaymentRepository) CompareAndSwapStatus(ctx context.Context, id uuid.UUID, from, to payment.PaymentStatus) (bool, error) {
	if m.CompareAndSwapStatusFunc != nil {
		return m.CompareAndSwapStatusFunc(ctx, id, from, to)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return false, domainErrors.ErrPaymentNotFound
	}
	if p.Status != from {
		return false, nil
	}
	p.Status = to
	p.UpdatedAt = time.Now()
	return true, nil
}

// --- Outbox Repository Mock ---

// MockOutboxRepository is an in-memory implementation of outbox.Repository
// with the unique idempotency-key index the real table has.
type MockOutboxRepository struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*outbox.Entry
	byKey   map[string]uuid.UUID

	InsertFunc func(ctx context.Context, entry *outbox.Entry) error
}

func NewMockOutboxRepository() *MockOutboxRepository {
	return &MockOutboxRepository{
		entries: make(map[uuid.UUID]*outbox.Entry),
		byKey:   make(map[string]uuid.UUID),
	}
}

func (m *MockOutboxRepository) Snapshot() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := make(map[uuid.UUID]*outbox.Entry, len(m.entries))
	for k, v := range m.entries {
		e := *v
		entries[k] = &e
	}
	byKey := make(map[string]uuid.UUID, len(m.byKey))
	for k, v := range m.byKey {
		byKey[k] = v
	}
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.entries = entries
		m.byKey = byKey
	}
}

func (m *MockOutboxRepository) Insert(ctx context.Context, entry *outbox.Entry) error {
	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, entry)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byKey[entry.IdempotencyKey]; exists {
		return domainErrors.ErrDuplicateEvent
	}
	cp := *entry
	m.entries[entry.ID] = &cp
	m.byKey[entry.IdempotencyKey] = entry.ID
	return nil
}

func (m *MockOutboxRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*outbox.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	due := make([]*outbox.Entry, 0)
	for _, e := range m.entries {
		if e.Status != outbox.StatusPending && e.Status != outbox.StatusFailed {
			continue
		}
		if e.NextRetryAt != nil && e.NextRetryAt.After(now) {
			continue
		}
		cp := *e
		due = append(due, &cp)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *MockOutboxRepository) MarkDispatched(ctx context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return domainErrors.ErrEventNotFound
	}
	e.Status = outbox.StatusDispatched
	e.DispatchedAt = &at
	e.NextRetryAt = nil
	return nil
}

func (m *MockOutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, lastError string, nextRetryAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return domainErrors.ErrEventNotFound
	}
	e.Status = outbox.StatusFailed
	e.RetryCount++
	e.LastError = &lastError
	e.NextRetryAt = &nextRetryAt
	if e.FirstFailedAt == nil {
		now := time.Now()
		e.FirstFailedAt = &now
	}
	return nil
}

func (m *MockOutboxRepository) MarkDead(ctx context.Context, id uuid.UUID, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return domainErrors.ErrEventNotFound
	}
	e.Status = outbox.StatusDead
	e.RetryCount++
	e.LastError = &lastError
	e.NextRetryAt = nil
	if e.FirstFailedAt == nil {
		now := time.Now()
		e.FirstFailedAt = &now
	}
	return nil
}

// Get returns a copy of the stored entry, for assertions.
func (m *MockOutboxRepository) Get(id uuid.UUID) (*outbox.Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, false
	}
	cp := *e
	return &cp, true
}

// ByEventType returns copies of all entries of the given type, for
// assertions.
func (m *MockOutboxRepository) ByEventType(eventType string) []*outbox.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*outbox.Entry, 0)
	for _, e := range m.entries {
		if e.EventType == eventType {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out
}

// Len reports the number of stored entries.
func (m *MockOutboxRepository) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// --- Dead Letter Repository Mock ---

// MockDeadLetterRepository is an in-memory outbox.DeadLetterRepository.
type MockDeadLetterRepository struct {
	mu      sync.Mutex
	letters map[uuid.UUID]*outbox.DeadLetter
}

func NewMockDeadLetterRepository() *MockDeadLetterRepository {
	return &MockDeadLetterRepository{letters: make(map[uuid.UUID]*outbox.DeadLetter)}
}

func (m *MockDeadLetterRepository) Snapshot() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	letters := make(map[uuid.UUID]*outbox.DeadLetter, len(m.letters))
	for k, v := range m.letters {
		dl := *v
		letters[k] = &dl
	}
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.letters = letters
	}
}

func (m *MockDeadLetterRepository) Insert(ctx context.Context, dl *outbox.DeadLetter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *dl
	m.letters[dl.ID] = &cp
	return nil
}

func (m *MockDeadLetterRepository) GetByID(ctx context.Context, id uuid.UUID) (*outbox.DeadLetter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dl, ok := m.letters[id]
	if !ok {
		return nil, domainErrors.ErrEventNotFound
	}
	cp := *dl
	return &cp, nil
}

func (m *MockDeadLetterRepository) List(ctx context.Context, limit, offset int) ([]*outbox.DeadLetter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := make([]*outbox.DeadLetter, 0, len(m.letters))
	for _, dl := range m.letters {
		cp := *dl
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].MovedToDLQAt.After(all[j].MovedToDLQAt) })
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (m *MockDeadLetterRepository) MarkReprocessed(ctx context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	dl, ok := m.letters[id]
	if !ok {
		return domainErrors.ErrEventNotFound
	}
	dl.Reprocessed = true
	dl.ReprocessedAt = &at
	return nil
}

// Len reports the number of stored dead letters.
func (m *MockDeadLetterRepository) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.letters)
}

// --- Booking Repository Mock ---

// MockBookingRepository is an in-memory booking.Repository enforcing the
// same slot uniqueness the real table's partial index does.
type MockBookingRepository struct {
	mu       sync.Mutex
	bookings map[uuid.UUID]*booking.Booking
}

func NewMockBookingRepository() *MockBookingRepository {
	return &MockBookingRepository{bookings: make(map[uuid.UUID]*booking.Booking)}
}

func (m *MockBookingRepository) Snapshot() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	bookings := make(map[uuid.UUID]*booking.Booking, len(m.bookings))
	for k, v := range m.bookings {
		b := *v
		bookings[k] = &b
	}
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.bookings = bookings
	}
}

func (m *MockBookingRepository) Create(ctx context.Context, b *booking.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.bookings {
		if existing.Status == booking.StatusCancelled {
			continue
		}
		if existing.ServiceID == b.ServiceID && sameProvider(existing.ProviderID, b.ProviderID) && existing.StartAt.Equal(b.StartAt) {
			return domainErrors.ErrSlotNotAvailable
		}
	}
	cp := *b
	m.bookings[b.ID] = &cp
	return nil
}

func (m *MockBookingRepository) GetByID(ctx context.Context, id uuid.UUID) (*booking.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, domainErrors.ErrBookingNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *MockBookingRepository) FindBySlot(ctx context.Context, serviceID uuid.UUID, providerID *uuid.UUID, startAt time.Time) (*booking.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bookings {
		if b.Status == booking.StatusCancelled {
			continue
		}
		if b.ServiceID == serviceID && sameProvider(b.ProviderID, providerID) && b.StartAt.Equal(startAt) {
			cp := *b
			return &cp, nil
		}
	}
	return nil, domainErrors.ErrBookingNotFound
}

func (m *MockBookingRepository) ListActiveByServiceDate(ctx context.Context, serviceID uuid.UUID, day time.Time) ([]*booking.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*booking.Booking, 0)
	for _, b := range m.bookings {
		if b.ServiceID != serviceID {
			continue
		}
		switch b.Status {
		case booking.StatusPending, booking.StatusConfirmed, booking.StatusInProgress:
		default:
			continue
		}
		if b.StartAt.UTC().Format("2006-01-02") != day.UTC().Format("2006-01-02") {
			continue
		}
		cp := *b
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MockBookingRepository) UpdateStatus(ctx context.Context, b *booking.Booking, from booking.BookingStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.bookings[b.ID]
	if !ok {
		return domainErrors.ErrBookingNotFound
	}
	if stored.Status != from {
		return domainErrors.ErrConcurrentUpdate
	}
	cp := *b
	m.bookings[b.ID] = &cp
	return nil
}

func sameProvider(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// --- Catalog Repository Mock ---

// MockCatalogRepository is an in-memory catalog.Repository.
type MockCatalogRepository struct {
	mu       sync.Mutex
	services map[uuid.UUID]*catalog.Service
}

func NewMockCatalogRepository(services ...*catalog.Service) *MockCatalogRepository {
	m := &MockCatalogRepository{services: make(map[uuid.UUID]*catalog.Service)}
	for _, s := range services {
		m.services[s.ID] = s
	}
	return m
}

func (m *MockCatalogRepository) Add(s *catalog.Service) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services[s.ID] = s
}

func (m *MockCatalogRepository) GetService(ctx context.Context, id uuid.UUID) (*catalog.Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.services[id]
	if !ok {
		return nil, domainErrors.ErrServiceNotFound
	}
	cp := *s
	return &cp, nil
}

// --- Slot Locker Mock ---

// MemorySlotLocker is an in-process service.SlotLocker with set-if-absent
// semantics, for concurrency tests.
type MemorySlotLocker struct {
	mu   sync.Mutex
	held map[string]string
}

func NewMemorySlotLocker() *MemorySlotLocker {
	return &MemorySlotLocker{held: make(map[string]string)}
}

func (l *MemorySlotLocker) TryAcquire(ctx context.Context, key string) (service.SlotLease, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, taken := l.held[key]; taken {
		return nil, false, nil
	}
	token := uuid.New().String()
	l.held[key] = token
	return &memoryLease{locker: l, key: key, token: token}, true, nil
}

type memoryLease struct {
	locker *MemorySlotLocker
	key    string
	token  string
}

func (le *memoryLease) Release(ctx context.Context) error {
	le.locker.mu.Lock()
	defer le.locker.mu.Unlock()
	if le.locker.held[le.key] == le.token {
		delete(le.locker.held, le.key)
	}
	return nil
}

// --- Availability Cache Mock ---

// MemoryAvailabilityCache is an in-process service.AvailabilityCache.
type MemoryAvailabilityCache struct {
	mu    sync.Mutex
	slots map[string][]time.Time

	Invalidations int
}

func NewMemoryAvailabilityCache() *MemoryAvailabilityCache {
	return &MemoryAvailabilityCache{slots: make(map[string][]time.Time)}
}

func cacheKey(serviceID uuid.UUID, day time.Time, providerID *uuid.UUID) string {
	key := serviceID.String() + ":" + day.UTC().Format("2006-01-02") + ":"
	if providerID != nil {
		return key + providerID.String()
	}
	return key + "any"
}

func (c *MemoryAvailabilityCache) Get(ctx context.Context, serviceID uuid.UUID, day time.Time, providerID *uuid.UUID) ([]time.Time, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	slots, ok := c.slots[cacheKey(serviceID, day, providerID)]
	return slots, ok, nil
}

func (c *MemoryAvailabilityCache) Set(ctx context.Context, serviceID uuid.UUID, day time.Time, providerID *uuid.UUID, slots []time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slots[cacheKey(serviceID, day, providerID)] = slots
	return nil
}

func (c *MemoryAvailabilityCache) InvalidateService(ctx context.Context, serviceID uuid.UUID, day time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := serviceID.String() + ":" + day.UTC().Format("2006-01-02") + ":"
	for key := range c.slots {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(c.slots, key)
		}
	}
	c.Invalidations++
	return nil
}
