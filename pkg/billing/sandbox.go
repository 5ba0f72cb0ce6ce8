package billing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"contentlift_backend/internal/model"
	"contentlift_backend/pkg/subscription"
)

// Sandbox is an in-memory provider for running the API without Stripe
// credentials. Subscriptions renew monthly and never fail payment.
type Sandbox struct {
	mu       sync.Mutex
	now      func() time.Time
	subs     map[string]*subscription.ProviderSubscriptionState
	invoices map[string][]model.Invoice
	methods  map[string][]model.PaymentMethod
	defaults map[string]string
}

var _ subscription.Provider = (*Sandbox)(nil)

func NewSandbox() *Sandbox {
	return &Sandbox{
		now:      time.Now,
		subs:     make(map[string]*subscription.ProviderSubscriptionState),
		invoices: make(map[string][]model.Invoice),
		methods:  make(map[string][]model.PaymentMethod),
		defaults: make(map[string]string),
	}
}

func sandboxID(prefix string) string {
	return prefix + "_" + uuid.NewString()[:13]
}

func (s *Sandbox) CreateCustomer(ctx context.Context, accountID, email string) (string, error) {
	return sandboxID("cus"), ctx.Err()
}

func (s *Sandbox) CreateSubscription(ctx context.Context, customerID, priceID string, trialDays int) (*subscription.ProviderSubscriptionState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	st := &subscription.ProviderSubscriptionState{
		SubscriptionID:     sandboxID("sub"),
		CustomerID:         customerID,
		PriceID:            priceID,
		Status:             model.StatusActive,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.AddDate(0, 1, 0),
	}
	if trialDays > 0 {
		st.Status = model.StatusTrialing
		st.CurrentPeriodEnd = now.AddDate(0, 0, trialDays)
	} else {
		id := sandboxID("in")
		s.invoices[st.SubscriptionID] = append(s.invoices[st.SubscriptionID], model.Invoice{
			ID:            id,
			InvoiceNumber: fmt.Sprintf("SBX-%04d", len(s.subs)+1),
			Currency:      "usd",
			Status:        model.InvoicePaid,
			PaidAt:        &now,
			PDFURL:        "https://sandbox.contentlift.invalid/invoices/" + id + ".pdf",
			CreatedAt:     now,
		})
	}
	s.subs[st.SubscriptionID] = st
	cp := *st
	return &cp, nil
}

func (s *Sandbox) CreatePlanChange(ctx context.Context, subscriptionID, priceID string) (*subscription.ProviderSubscriptionState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.subs[subscriptionID]
	if !ok {
		return nil, fmt.Errorf("no such subscription: %s", subscriptionID)
	}
	st.PriceID = priceID
	cp := *st
	return &cp, nil
}

func (s *Sandbox) ScheduleCancellation(ctx context.Context, subscriptionID string) error {
	return s.setCancel(ctx, subscriptionID, true)
}

func (s *Sandbox) ClearScheduledCancellation(ctx context.Context, subscriptionID string) error {
	return s.setCancel(ctx, subscriptionID, false)
}

func (s *Sandbox) setCancel(ctx context.Context, subscriptionID string, cancel bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.subs[subscriptionID]
	if !ok {
		return fmt.Errorf("no such subscription: %s", subscriptionID)
	}
	st.CancelAtPeriodEnd = cancel
	return nil
}

func (s *Sandbox) ListInvoices(ctx context.Context, subscriptionID string) ([]model.Invoice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Invoice(nil), s.invoices[subscriptionID]...), nil
}

func (s *Sandbox) ListPaymentMethods(ctx context.Context, customerID string) ([]model.PaymentMethod, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]model.PaymentMethod(nil), s.methods[customerID]...)
	for i := range out {
		out[i].IsDefault = out[i].ID == s.defaults[customerID]
	}
	return out, nil
}

func (s *Sandbox) AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pm := range s.methods[customerID] {
		if pm.ID == paymentMethodID {
			return nil
		}
	}
	s.methods[customerID] = append(s.methods[customerID], model.PaymentMethod{
		ID:           paymentMethodID,
		Type:         "card",
		CardBrand:    "visa",
		CardLast4:    "4242",
		CardExpMonth: 12,
		CardExpYear:  s.now().Year() + 3,
		CreatedAt:    s.now().UTC(),
	})
	return nil
}

func (s *Sandbox) DetachPaymentMethod(ctx context.Context, paymentMethodID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for customerID, methods := range s.methods {
		kept := methods[:0]
		for _, pm := range methods {
			if pm.ID != paymentMethodID {
				kept = append(kept, pm)
			}
		}
		s.methods[customerID] = kept
		if s.defaults[customerID] == paymentMethodID {
			delete(s.defaults, customerID)
		}
	}
	return nil
}

func (s *Sandbox) SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pm := range s.methods[customerID] {
		if pm.ID == paymentMethodID {
			s.defaults[customerID] = paymentMethodID
			return nil
		}
	}
	return fmt.Errorf("payment method %s is not attached to %s", paymentMethodID, customerID)
}
