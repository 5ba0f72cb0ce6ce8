package subscription

import (
	"context"
	"errors"
	"sort"

	"golang.org/x/sync/errgroup"

	"contentlift_backend/internal/model"
)

// ListInvoices merges the provider's invoice list with locally recorded
// invoices, newest first. The provider copy wins when both know an invoice.
func (m *Manager) ListInvoices(ctx context.Context, accountID string) (invoices []model.Invoice, err error) {
	ctx, done := m.startOp(ctx, "list_invoices", accountID)
	defer func() { done(err) }()

	sub, err := m.current(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return m.invoicesFor(ctx, sub)
}

func (m *Manager) invoicesFor(ctx context.Context, sub *model.Subscription) ([]model.Invoice, error) {
	var remote []model.Invoice
	if err := m.callProvider(ctx, "list_invoices", func(ctx context.Context) error {
		var err error
		remote, err = m.provider.ListInvoices(ctx, sub.ProviderSubscriptionID)
		return err
	}); err != nil {
		return nil, err
	}
	local, err := m.store.ListInvoices(ctx, sub.ID)
	if err != nil {
		return nil, err
	}
	return mergeInvoices(sub, remote, local), nil
}

func mergeInvoices(sub *model.Subscription, remote, local []model.Invoice) []model.Invoice {
	seen := make(map[string]struct{}, len(remote))
	out := make([]model.Invoice, 0, len(remote)+len(local))
	for _, inv := range remote {
		inv.SubscriptionID = sub.ID
		inv.AccountID = sub.AccountID
		seen[inv.ID] = struct{}{}
		out = append(out, inv)
	}
	for _, inv := range local {
		if _, ok := seen[inv.ID]; ok {
			continue
		}
		out = append(out, inv)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// Invoice returns one of the account's invoices.
func (m *Manager) Invoice(ctx context.Context, accountID, invoiceID string) (*model.Invoice, error) {
	invoices, err := m.ListInvoices(ctx, accountID)
	if err != nil {
		return nil, err
	}
	for i := range invoices {
		if invoices[i].ID == invoiceID {
			return &invoices[i], nil
		}
	}
	return nil, &NotFoundError{Resource: "invoice", Key: invoiceID}
}

// ListPaymentMethods returns the provider's payment methods for the account,
// newest first, with at most one marked default. When the provider is
// unreachable the list last cached by a payment-method change is served
// instead; with nothing cached the ProviderError is returned.
func (m *Manager) ListPaymentMethods(ctx context.Context, accountID string) (methods []model.PaymentMethod, err error) {
	ctx, done := m.startOp(ctx, "list_payment_methods", accountID)
	defer func() { done(err) }()

	customerID, err := m.customerID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	methods, err = m.paymentMethodsFor(ctx, accountID, customerID)
	var pe *ProviderError
	if !errors.As(err, &pe) {
		return methods, err
	}

	cached, cerr := m.store.ListPaymentMethods(ctx, accountID)
	if cerr != nil || len(cached) == 0 {
		return nil, err
	}
	m.log.WithError(err).WithField("account_id", accountID).Warn("billing provider unavailable, serving cached payment methods")
	return normalizePaymentMethods(accountID, cached), nil
}

// DefaultPaymentMethod returns the account's default payment method.
func (m *Manager) DefaultPaymentMethod(ctx context.Context, accountID string) (*model.PaymentMethod, error) {
	methods, err := m.ListPaymentMethods(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if pm := defaultMethod(methods); pm != nil {
		return pm, nil
	}
	return nil, &NotFoundError{Resource: "default payment method", Key: accountID}
}

// AddPaymentMethod attaches a payment method created client-side to the
// account's billing customer and refreshes the local cache.
func (m *Manager) AddPaymentMethod(ctx context.Context, accountID, paymentMethodID string, makeDefault bool) (methods []model.PaymentMethod, err error) {
	ctx, done := m.startOp(ctx, "add_payment_method", accountID)
	defer func() { done(err) }()

	err = m.withAccountLock(ctx, accountID, func() error {
		customerID, err := m.customerID(ctx, accountID)
		if err != nil {
			return err
		}
		if err := m.callProvider(ctx, "attach_payment_method", func(ctx context.Context) error {
			return m.provider.AttachPaymentMethod(ctx, customerID, paymentMethodID)
		}); err != nil {
			return err
		}
		if makeDefault {
			if err := m.callProvider(ctx, "set_default_payment_method", func(ctx context.Context) error {
				return m.provider.SetDefaultPaymentMethod(ctx, customerID, paymentMethodID)
			}); err != nil {
				return err
			}
		}
		methods, err = m.syncPaymentMethods(ctx, accountID, customerID)
		return err
	})
	return methods, err
}

// RemovePaymentMethod detaches one of the account's payment methods.
func (m *Manager) RemovePaymentMethod(ctx context.Context, accountID, paymentMethodID string) (methods []model.PaymentMethod, err error) {
	ctx, done := m.startOp(ctx, "remove_payment_method", accountID)
	defer func() { done(err) }()

	err = m.withAccountLock(ctx, accountID, func() error {
		customerID, err := m.ownedPaymentMethod(ctx, accountID, paymentMethodID)
		if err != nil {
			return err
		}
		if err := m.callProvider(ctx, "detach_payment_method", func(ctx context.Context) error {
			return m.provider.DetachPaymentMethod(ctx, paymentMethodID)
		}); err != nil {
			return err
		}
		methods, err = m.syncPaymentMethods(ctx, accountID, customerID)
		return err
	})
	return methods, err
}

// SetDefaultPaymentMethod makes one of the account's payment methods the
// default for future invoices.
func (m *Manager) SetDefaultPaymentMethod(ctx context.Context, accountID, paymentMethodID string) (methods []model.PaymentMethod, err error) {
	ctx, done := m.startOp(ctx, "set_default_payment_method", accountID)
	defer func() { done(err) }()

	err = m.withAccountLock(ctx, accountID, func() error {
		customerID, err := m.ownedPaymentMethod(ctx, accountID, paymentMethodID)
		if err != nil {
			return err
		}
		if err := m.callProvider(ctx, "set_default_payment_method", func(ctx context.Context) error {
			return m.provider.SetDefaultPaymentMethod(ctx, customerID, paymentMethodID)
		}); err != nil {
			return err
		}
		methods, err = m.syncPaymentMethods(ctx, accountID, customerID)
		return err
	})
	return methods, err
}

func (m *Manager) customerID(ctx context.Context, accountID string) (string, error) {
	sub, err := m.current(ctx, accountID)
	if err != nil {
		return "", err
	}
	if sub.ProviderCustomerID == "" {
		return "", &NotFoundError{Resource: "billing customer", Key: accountID}
	}
	return sub.ProviderCustomerID, nil
}

func (m *Manager) ownedPaymentMethod(ctx context.Context, accountID, paymentMethodID string) (string, error) {
	customerID, err := m.customerID(ctx, accountID)
	if err != nil {
		return "", err
	}
	methods, err := m.paymentMethodsFor(ctx, accountID, customerID)
	if err != nil {
		return "", err
	}
	for _, pm := range methods {
		if pm.ID == paymentMethodID {
			return customerID, nil
		}
	}
	return "", &NotFoundError{Resource: "payment method", Key: paymentMethodID}
}

func (m *Manager) paymentMethodsFor(ctx context.Context, accountID, customerID string) ([]model.PaymentMethod, error) {
	var methods []model.PaymentMethod
	if err := m.callProvider(ctx, "list_payment_methods", func(ctx context.Context) error {
		var err error
		methods, err = m.provider.ListPaymentMethods(ctx, customerID)
		return err
	}); err != nil {
		return nil, err
	}
	return normalizePaymentMethods(accountID, methods), nil
}

func (m *Manager) syncPaymentMethods(ctx context.Context, accountID, customerID string) ([]model.PaymentMethod, error) {
	methods, err := m.paymentMethodsFor(ctx, accountID, customerID)
	if err != nil {
		return nil, err
	}
	cctx, cancel := m.commitContext(ctx)
	defer cancel()
	if err := m.store.ReplacePaymentMethods(cctx, accountID, methods); err != nil {
		m.log.WithError(err).WithField("account_id", accountID).Error("could not cache payment methods")
		return nil, err
	}
	return methods, nil
}

func normalizePaymentMethods(accountID string, methods []model.PaymentMethod) []model.PaymentMethod {
	out := make([]model.PaymentMethod, len(methods))
	copy(out, methods)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	hasDefault := false
	for i := range out {
		out[i].AccountID = accountID
		if out[i].IsDefault && hasDefault {
			out[i].IsDefault = false
		}
		hasDefault = hasDefault || out[i].IsDefault
	}
	return out
}

func defaultMethod(methods []model.PaymentMethod) *model.PaymentMethod {
	for i := range methods {
		if methods[i].IsDefault {
			return &methods[i]
		}
	}
	return nil
}

// Overview is the billing page in one read.
type Overview struct {
	Subscription         *model.Subscription   `json:"subscription"`
	Plan                 *model.Plan           `json:"plan"`
	Limits               PlanLimits            `json:"limits"`
	Badge                model.StatusBadge     `json:"badge"`
	Invoices             []model.Invoice       `json:"invoices"`
	PaymentMethods       []model.PaymentMethod `json:"paymentMethods"`
	DefaultPaymentMethod *model.PaymentMethod  `json:"defaultPaymentMethod"`
}

// Overview loads the subscription, its invoices and the payment methods
// concurrently. Any failure fails the whole read.
func (m *Manager) Overview(ctx context.Context, accountID string) (ov *Overview, err error) {
	ctx, done := m.startOp(ctx, "overview", accountID)
	defer func() { done(err) }()

	sub, err := m.current(ctx, accountID)
	if err != nil {
		return nil, err
	}
	m.attachPlan(ctx, sub)

	ov = &Overview{Subscription: sub, Plan: sub.Plan, Badge: sub.Status.Badge()}
	if sub.Plan != nil {
		ov.Limits = GetPlanLimits(sub.Plan)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		invoices, err := m.invoicesFor(gctx, sub)
		ov.Invoices = invoices
		return err
	})
	if sub.ProviderCustomerID != "" {
		g.Go(func() error {
			methods, err := m.paymentMethodsFor(gctx, accountID, sub.ProviderCustomerID)
			ov.PaymentMethods = methods
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	ov.DefaultPaymentMethod = defaultMethod(ov.PaymentMethods)
	return ov, nil
}
