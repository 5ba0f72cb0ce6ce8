package subscription

import (
	"context"
	"sort"
	"sync"
	"time"

	"contentlift_backend/internal/model"
)

// MemoryStore is a Store kept in process memory. It backs local development
// without a database and the package tests. Values are copied in and out.
type MemoryStore struct {
	mu             sync.RWMutex
	plans          map[string]model.Plan
	subs           map[string]model.Subscription
	invoices       map[string]model.Invoice
	paymentMethods map[string][]model.PaymentMethod
	now            func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		plans:          make(map[string]model.Plan),
		subs:           make(map[string]model.Subscription),
		invoices:       make(map[string]model.Invoice),
		paymentMethods: make(map[string][]model.PaymentMethod),
		now:            time.Now,
	}
}

func (s *MemoryStore) ListPlans(ctx context.Context) ([]model.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Plan, 0, len(s.plans))
	for _, p := range s.plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].PriceCents < out[j].PriceCents
	})
	return out, nil
}

func (s *MemoryStore) GetPlan(ctx context.Context, id string) (*model.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plans[id]
	if !ok {
		return nil, ErrNoRecord
	}
	return &p, nil
}

func (s *MemoryStore) UpsertPlans(ctx context.Context, plans []model.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range plans {
		if existing, ok := s.plans[p.ID]; ok {
			p.CreatedAt = existing.CreatedAt
		} else {
			p.CreatedAt = s.now()
		}
		p.UpdatedAt = s.now()
		s.plans[p.ID] = p
	}
	return nil
}

func (s *MemoryStore) CurrentSubscription(ctx context.Context, accountID string) (*model.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *model.Subscription
	for _, sub := range s.subs {
		if sub.AccountID != accountID {
			continue
		}
		if !sub.Status.IsTerminal() {
			cp := sub
			return &cp, nil
		}
		if latest == nil || sub.CreatedAt.After(latest.CreatedAt) {
			cp := sub
			latest = &cp
		}
	}
	if latest == nil {
		return nil, ErrNoRecord
	}
	return latest, nil
}

func (s *MemoryStore) SubscriptionByProviderID(ctx context.Context, providerSubscriptionID string) (*model.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subs {
		if sub.ProviderSubscriptionID == providerSubscriptionID {
			cp := sub
			return &cp, nil
		}
	}
	return nil, ErrNoRecord
}

func (s *MemoryStore) SubscriptionsEndingBetween(ctx context.Context, from, to time.Time) ([]model.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Subscription
	for _, sub := range s.subs {
		if sub.Status.IsTerminal() {
			continue
		}
		if !sub.CurrentPeriodEnd.Before(from) && sub.CurrentPeriodEnd.Before(to) {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CurrentPeriodEnd.Before(out[j].CurrentPeriodEnd)
	})
	return out, nil
}

func (s *MemoryStore) CreateSubscription(ctx context.Context, sub *model.Subscription) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.subs {
		if existing.AccountID == sub.AccountID && !existing.Status.IsTerminal() {
			return ErrLiveSubscriptionExists
		}
	}
	now := s.now()
	sub.CreatedAt = now
	sub.UpdatedAt = now
	s.put(sub)
	return nil
}

func (s *MemoryStore) SaveSubscription(ctx context.Context, sub *model.Subscription) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[sub.ID]; !ok {
		return ErrNoRecord
	}
	sub.UpdatedAt = s.now()
	s.put(sub)
	return nil
}

func (s *MemoryStore) ApplyEvent(ctx context.Context, sub *model.Subscription, inv *model.Invoice) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[sub.ID]; !ok {
		return ErrNoRecord
	}
	sub.UpdatedAt = s.now()
	s.put(sub)
	if inv != nil {
		s.appendInvoice(inv)
	}
	return nil
}

func (s *MemoryStore) put(sub *model.Subscription) {
	cp := *sub
	cp.Plan = nil
	s.subs[cp.ID] = cp
}

func (s *MemoryStore) ListInvoices(ctx context.Context, subscriptionID string) ([]model.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Invoice
	for _, inv := range s.invoices {
		if inv.SubscriptionID == subscriptionID {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) AppendInvoice(ctx context.Context, inv *model.Invoice) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendInvoice(inv)
	return nil
}

func (s *MemoryStore) appendInvoice(inv *model.Invoice) {
	if _, ok := s.invoices[inv.ID]; ok {
		return
	}
	cp := *inv
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now()
	}
	s.invoices[cp.ID] = cp
}

func (s *MemoryStore) ListPaymentMethods(ctx context.Context, accountID string) ([]model.PaymentMethod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	methods := s.paymentMethods[accountID]
	out := make([]model.PaymentMethod, len(methods))
	copy(out, methods)
	return out, nil
}

func (s *MemoryStore) ReplacePaymentMethods(ctx context.Context, accountID string, methods []model.PaymentMethod) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defaults := 0
	for _, pm := range methods {
		if pm.IsDefault {
			defaults++
		}
	}
	if defaults > 1 {
		return ErrMultipleDefaults
	}
	cp := make([]model.PaymentMethod, len(methods))
	copy(cp, methods)
	for i := range cp {
		cp[i].AccountID = accountID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paymentMethods[accountID] = cp
	return nil
}
