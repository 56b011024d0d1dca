//go:build !integration

package usecase_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"course-subscription-service/internal/domain"
	"course-subscription-service/internal/domain/model"
	"course-subscription-service/internal/domain/ports/adapter"
	"course-subscription-service/internal/domain/ports/repository"
)

// -----------------------------
// Utilities: tiny helpers
// -----------------------------

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }

// newTestLogger creates a silent zerolog.Logger for use in tests.
// It writes to io.Discard to prevent logs from cluttering test output.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

// =============================
// Repositories
// =============================

// ---- Mock SubscriptionRepository ----

type MockSubscriptionRepo struct {
	mu   sync.Mutex
	data map[string]*model.Subscription // by id

	CreateFunc                 func(ctx context.Context, tx repository.Tx, s *model.Subscription) error
	SaveFunc                   func(ctx context.Context, tx repository.Tx, s *model.Subscription) error
	FindByIDFunc               func(ctx context.Context, tx repository.Tx, id string) (*model.Subscription, error)
	FindLiveByUserAndCourseFunc func(ctx context.Context, tx repository.Tx, userID, courseID string) (*model.Subscription, error)
	ListDueForExpiryFunc       func(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.Subscription, error)
	MarkExpiredFunc            func(ctx context.Context, tx repository.Tx, id string, at time.Time) (bool, error)
	FindExpiringFunc           func(ctx context.Context, tx repository.Tx, withinDays int) ([]*model.Subscription, error)
	CountByStatusFunc          func(ctx context.Context, tx repository.Tx) (map[model.SubscriptionStatus]int, error)
}

var _ repository.SubscriptionRepository = (*MockSubscriptionRepo)(nil)

func NewMockSubscriptionRepo() *MockSubscriptionRepo {
	return &MockSubscriptionRepo{data: map[string]*model.Subscription{}}
}

func (r *MockSubscriptionRepo) Create(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	if r.CreateFunc != nil {
		return r.CreateFunc(ctx, tx, s)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.CourseID != nil {
		for _, existing := range r.data {
			if existing.UserID == s.UserID && existing.CourseID != nil &&
				*existing.CourseID == *s.CourseID && existing.Status.IsLive() {
				return domain.ErrDuplicateActiveSubscription
			}
		}
	}
	cp := *s
	r.data[s.ID] = &cp
	return nil
}

func (r *MockSubscriptionRepo) Save(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	if r.SaveFunc != nil {
		return r.SaveFunc(ctx, tx, s)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.data[s.ID] = &cp
	return nil
}

func (r *MockSubscriptionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Subscription, error) {
	if r.FindByIDFunc != nil {
		return r.FindByIDFunc(ctx, tx, id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.data[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *MockSubscriptionRepo) FindLiveByUserAndCourse(ctx context.Context, tx repository.Tx, userID, courseID string) (*model.Subscription, error) {
	if r.FindLiveByUserAndCourseFunc != nil {
		return r.FindLiveByUserAndCourseFunc(ctx, tx, userID, courseID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.data {
		if s.UserID == userID && s.CourseID != nil && *s.CourseID == courseID && s.Status.IsLive() {
			cp := *s
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MockSubscriptionRepo) ListDueForExpiry(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.Subscription, error) {
	if r.ListDueForExpiryFunc != nil {
		return r.ListDueForExpiryFunc(ctx, tx, now, limit)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Subscription
	for _, s := range r.data {
		if s.Status == model.SubscriptionStatusActive && s.EndDate != nil && s.EndDate.Before(now) {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MockSubscriptionRepo) MarkExpired(ctx context.Context, tx repository.Tx, id string, at time.Time) (bool, error) {
	if r.MarkExpiredFunc != nil {
		return r.MarkExpiredFunc(ctx, tx, id, at)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.data[id]
	if !ok || s.Status != model.SubscriptionStatusActive {
		return false, nil
	}
	s.Status = model.SubscriptionStatusExpired
	s.UpdatedAt = at
	return true, nil
}

func (r *MockSubscriptionRepo) FindExpiring(ctx context.Context, tx repository.Tx, withinDays int) ([]*model.Subscription, error) {
	if r.FindExpiringFunc != nil {
		return r.FindExpiringFunc(ctx, tx, withinDays)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(time.Duration(withinDays) * 24 * time.Hour)
	var out []*model.Subscription
	for _, s := range r.data {
		if s.Status == model.SubscriptionStatusActive && s.EndDate != nil &&
			s.EndDate.After(time.Now()) && s.EndDate.Before(cutoff) {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndDate.Before(*out[j].EndDate) })
	return out, nil
}

func (r *MockSubscriptionRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.SubscriptionStatus]int, error) {
	if r.CountByStatusFunc != nil {
		return r.CountByStatusFunc(ctx, tx)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[model.SubscriptionStatus]int{}
	for _, s := range r.data {
		out[s.Status]++
	}
	return out, nil
}

// Get returns a copy of a stored subscription for assertions.
func (r *MockSubscriptionRepo) Get(id string) *model.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.data[id]
	if !ok {
		return nil
	}
	cp := *s
	return &cp
}

// ---- Mock CourseRepository ----

type MockCourseRepo struct {
	mu   sync.Mutex
	data map[string]*model.Course

	ReserveSeatFunc func(ctx context.Context, tx repository.Tx, courseID string) (bool, error)
	ReleaseSeatFunc func(ctx context.Context, tx repository.Tx, courseID string) error
}

var _ repository.CourseRepository = (*MockCourseRepo)(nil)

func NewMockCourseRepo() *MockCourseRepo {
	return &MockCourseRepo{data: map[string]*model.Course{}}
}

func (r *MockCourseRepo) Save(ctx context.Context, tx repository.Tx, c *model.Course) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.data[c.ID] = &cp
	return nil
}

func (r *MockCourseRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Course, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.data[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *MockCourseRepo) ReserveSeat(ctx context.Context, tx repository.Tx, courseID string) (bool, error) {
	if r.ReserveSeatFunc != nil {
		return r.ReserveSeatFunc(ctx, tx, courseID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.data[courseID]
	if !ok {
		return false, domain.ErrNotFound
	}
	if !c.HasFreeSeat() {
		return false, nil
	}
	c.SeatsReserved++
	return true, nil
}

func (r *MockCourseRepo) ReleaseSeat(ctx context.Context, tx repository.Tx, courseID string) error {
	if r.ReleaseSeatFunc != nil {
		return r.ReleaseSeatFunc(ctx, tx, courseID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.data[courseID]
	if !ok {
		return domain.ErrNotFound
	}
	if c.SeatsReserved > 0 {
		c.SeatsReserved--
	}
	return nil
}

// Seats returns the current reserved counter for assertions.
func (r *MockCourseRepo) Seats(courseID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.data[courseID]
	if !ok {
		return -1
	}
	return c.SeatsReserved
}

// ---- Mock PaymentRepository ----

// MockPaymentRepo keeps payments in memory. Subs, when set, backs the
// success-with-pending-subscription join the reconciler uses.
type MockPaymentRepo struct {
	mu   sync.Mutex
	data map[string]*model.Payment

	Subs *MockSubscriptionRepo

	SaveFunc                            func(ctx context.Context, tx repository.Tx, p *model.Payment) error
	FindByIDFunc                        func(ctx context.Context, tx repository.Tx, id string) (*model.Payment, error)
	FindByInvoiceIDFunc                 func(ctx context.Context, tx repository.Tx, invoiceID string) (*model.Payment, error)
	FindSuccessfulBySubscriptionFunc    func(ctx context.Context, tx repository.Tx, subscriptionID string) (*model.Payment, error)
	ListOpenOlderThanFunc               func(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Payment, error)
	ListSuccessWithPendingSubscriptionFunc func(ctx context.Context, tx repository.Tx, limit int) ([]*model.Payment, error)
	DeleteAbandonedFunc                 func(ctx context.Context, tx repository.Tx, olderThan time.Time) (int, error)
}

var _ repository.PaymentRepository = (*MockPaymentRepo)(nil)

func NewMockPaymentRepo() *MockPaymentRepo {
	return &MockPaymentRepo{data: map[string]*model.Payment{}}
}

func (r *MockPaymentRepo) Save(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	if r.SaveFunc != nil {
		return r.SaveFunc(ctx, tx, p)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	r.data[p.ID] = &cp
	return nil
}

func (r *MockPaymentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Payment, error) {
	if r.FindByIDFunc != nil {
		return r.FindByIDFunc(ctx, tx, id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.data[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *MockPaymentRepo) FindByInvoiceID(ctx context.Context, tx repository.Tx, invoiceID string) (*model.Payment, error) {
	if r.FindByInvoiceIDFunc != nil {
		return r.FindByInvoiceIDFunc(ctx, tx, invoiceID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.data {
		if p.GatewayInvoiceID == invoiceID && invoiceID != "" {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MockPaymentRepo) FindSuccessfulBySubscription(ctx context.Context, tx repository.Tx, subscriptionID string) (*model.Payment, error) {
	if r.FindSuccessfulBySubscriptionFunc != nil {
		return r.FindSuccessfulBySubscriptionFunc(ctx, tx, subscriptionID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.data {
		if p.SubscriptionID == subscriptionID && p.Status == model.PaymentStatusSuccess {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MockPaymentRepo) ListOpenOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Payment, error) {
	if r.ListOpenOlderThanFunc != nil {
		return r.ListOpenOlderThanFunc(ctx, tx, olderThan, limit)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Payment
	for _, p := range r.data {
		if !p.Status.IsTerminal() && p.CreatedAt.Before(olderThan) {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MockPaymentRepo) ListSuccessWithPendingSubscription(ctx context.Context, tx repository.Tx, limit int) ([]*model.Payment, error) {
	if r.ListSuccessWithPendingSubscriptionFunc != nil {
		return r.ListSuccessWithPendingSubscriptionFunc(ctx, tx, limit)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Payment
	for _, p := range r.data {
		if p.Status != model.PaymentStatusSuccess {
			continue
		}
		if r.Subs != nil {
			sub := r.Subs.Get(p.SubscriptionID)
			if sub == nil || sub.Status != model.SubscriptionStatusPending {
				continue
			}
		}
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MockPaymentRepo) DeleteAbandoned(ctx context.Context, tx repository.Tx, olderThan time.Time) (int, error) {
	if r.DeleteAbandonedFunc != nil {
		return r.DeleteAbandonedFunc(ctx, tx, olderThan)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, p := range r.data {
		open := p.Status == model.PaymentStatusCreated || p.Status == model.PaymentStatusPending
		if open && p.CreatedAt.Before(olderThan) && p.GatewayReference == "" && p.PaidAt == nil {
			delete(r.data, id)
			n++
		}
	}
	return n, nil
}

func (r *MockPaymentRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.PaymentStatus]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[model.PaymentStatus]int{}
	for _, p := range r.data {
		out[p.Status]++
	}
	return out, nil
}

// Get returns a copy of a stored payment for assertions.
func (r *MockPaymentRepo) Get(id string) *model.Payment {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.data[id]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}

// ---- Mock NotificationLogRepository ----

type MockNotificationLogRepo struct {
	mu   sync.Mutex
	sent map[string]bool
}

var _ repository.NotificationLogRepository = (*MockNotificationLogRepo)(nil)

func NewMockNotificationLogRepo() *MockNotificationLogRepo {
	return &MockNotificationLogRepo{sent: map[string]bool{}}
}

func notifKey(subscriptionID, kind string, thresholdDays int) string {
	return fmt.Sprintf("%s|%s|%d", subscriptionID, kind, thresholdDays)
}

func (r *MockNotificationLogRepo) Save(ctx context.Context, tx repository.Tx, subscriptionID, userID, kind string, thresholdDays int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent[notifKey(subscriptionID, kind, thresholdDays)] = true
	return nil
}

func (r *MockNotificationLogRepo) Exists(ctx context.Context, tx repository.Tx, subscriptionID, kind string, thresholdDays int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent[notifKey(subscriptionID, kind, thresholdDays)], nil
}

// =============================
// Adapters
// =============================

// ---- Mock PaymentGateway ----

type sentNotification struct {
	Kind  adapter.NotificationKind
	Email string
	Data  map[string]any
}

// MockGateway fakes the acquiring API. The default webhook codec matches the
// production payload shape so tests can feed raw JSON bodies through
// IngestWebhook.
type MockGateway struct {
	mu       sync.Mutex
	invoices int

	CreateInvoiceFunc   func(ctx context.Context, amount int64, currency, description, redirectURL, webhookURL string, validFor time.Duration) (*adapter.Invoice, error)
	InvoiceStatusFunc   func(ctx context.Context, invoiceID string) (*adapter.InvoiceState, error)
	CancelInvoiceFunc   func(ctx context.Context, invoiceID string) error
	VerifySignatureFunc func(rawBody []byte, signature string) bool
	ParseWebhookFunc    func(rawBody []byte) (*adapter.InvoiceState, error)

	Cancelled []string
}

var _ adapter.PaymentGateway = (*MockGateway)(nil)

func NewMockGateway() *MockGateway {
	return &MockGateway{}
}

func (g *MockGateway) CreateInvoice(ctx context.Context, amount int64, currency, description, redirectURL, webhookURL string, validFor time.Duration) (*adapter.Invoice, error) {
	if g.CreateInvoiceFunc != nil {
		return g.CreateInvoiceFunc(ctx, amount, currency, description, redirectURL, webhookURL, validFor)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.invoices++
	id := fmt.Sprintf("inv-%03d", g.invoices)
	return &adapter.Invoice{InvoiceID: id, CheckoutURL: "https://pay.example/" + id}, nil
}

func (g *MockGateway) InvoiceStatus(ctx context.Context, invoiceID string) (*adapter.InvoiceState, error) {
	if g.InvoiceStatusFunc != nil {
		return g.InvoiceStatusFunc(ctx, invoiceID)
	}
	return &adapter.InvoiceState{InvoiceID: invoiceID, Status: "created"}, nil
}

func (g *MockGateway) CancelInvoice(ctx context.Context, invoiceID string) error {
	if g.CancelInvoiceFunc != nil {
		return g.CancelInvoiceFunc(ctx, invoiceID)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Cancelled = append(g.Cancelled, invoiceID)
	return nil
}

func (g *MockGateway) VerifySignature(rawBody []byte, signature string) bool {
	if g.VerifySignatureFunc != nil {
		return g.VerifySignatureFunc(rawBody, signature)
	}
	return signature == "valid"
}

func (g *MockGateway) ParseWebhook(rawBody []byte) (*adapter.InvoiceState, error) {
	if g.ParseWebhookFunc != nil {
		return g.ParseWebhookFunc(rawBody)
	}
	var payload struct {
		InvoiceID string `json:"invoiceId"`
		Status    string `json:"status"`
		Amount    int64  `json:"amount"`
		Reference string `json:"reference"`
		ErrCode   string `json:"errCode"`
		ErrText   string `json:"errText"`
	}
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return nil, err
	}
	if payload.InvoiceID == "" {
		return nil, domain.ErrInvalidArgument
	}
	return &adapter.InvoiceState{
		InvoiceID: payload.InvoiceID,
		Status:    payload.Status,
		Amount:    payload.Amount,
		Reference: payload.Reference,
		ErrCode:   payload.ErrCode,
		ErrText:   payload.ErrText,
	}, nil
}

// ---- Mock Notifier ----

type MockNotifier struct {
	mu   sync.Mutex
	Sent []sentNotification

	NotifyFunc func(ctx context.Context, kind adapter.NotificationKind, recipientEmail string, data map[string]any) error
}

var _ adapter.Notifier = (*MockNotifier)(nil)

func NewMockNotifier() *MockNotifier {
	return &MockNotifier{}
}

func (n *MockNotifier) Notify(ctx context.Context, kind adapter.NotificationKind, recipientEmail string, data map[string]any) error {
	if n.NotifyFunc != nil {
		return n.NotifyFunc(ctx, kind, recipientEmail, data)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Sent = append(n.Sent, sentNotification{Kind: kind, Email: recipientEmail, Data: data})
	return nil
}

// CountKind returns how many notifications of one kind were delivered.
func (n *MockNotifier) CountKind(kind adapter.NotificationKind) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, s := range n.Sent {
		if s.Kind == kind {
			c++
		}
	}
	return c
}

// ---- Mock UserDirectory ----

type MockDirectory struct {
	EmailOfFunc func(ctx context.Context, userID string) (string, error)
}

var _ adapter.UserDirectory = (*MockDirectory)(nil)

func NewMockDirectory() *MockDirectory {
	return &MockDirectory{}
}

func (d *MockDirectory) EmailOf(ctx context.Context, userID string) (string, error) {
	if d.EmailOfFunc != nil {
		return d.EmailOfFunc(ctx, userID)
	}
	return userID + "@example.test", nil
}

// =============================
// Transaction manager
// =============================

type MockTxManager struct {
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

func NewMockTxManager() *MockTxManager {
	return &MockTxManager{}
}

// WithTx runs fn directly with a nil handle. The in-memory repositories do not
// distinguish transactional access; tests asserting rollback behavior override
// WithTxFunc or the individual repo funcs instead.
func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	return fn(ctx, nil)
}
