package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"

	"contentlift_backend/internal/model"
	"contentlift_backend/pkg/subscription"
)

const maxListed = 100

type StripeConfig struct {
	SecretKey string
	// BaseURL overrides the API endpoint, for stripe-mock and tests.
	BaseURL string
	Logger  *logrus.Logger
}

// StripeProvider implements subscription.Provider against the Stripe API.
// Retries are left to the caller: the manager bounds each call with its own
// timeout and every mutation is safe to repeat.
type StripeProvider struct {
	sc *client.API
}

var _ subscription.Provider = (*StripeProvider)(nil)

func NewStripeProvider(cfg StripeConfig) *StripeProvider {
	backendCfg := &stripe.BackendConfig{
		MaxNetworkRetries: stripe.Int64(0),
	}
	if cfg.BaseURL != "" {
		backendCfg.URL = stripe.String(cfg.BaseURL)
	}
	if cfg.Logger != nil {
		backendCfg.LeveledLogger = cfg.Logger
	}
	backends := &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendCfg),
	}
	return &StripeProvider{sc: client.New(cfg.SecretKey, backends)}
}

func (p *StripeProvider) CreateCustomer(ctx context.Context, accountID, email string) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
	}
	params.Context = ctx
	params.AddMetadata("account_id", accountID)

	cus, err := p.sc.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("create customer: %w", err)
	}
	return cus.ID, nil
}

func (p *StripeProvider) CreateSubscription(ctx context.Context, customerID, priceID string, trialDays int) (*subscription.ProviderSubscriptionState, error) {
	params := &stripe.SubscriptionParams{
		Customer: stripe.String(customerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(priceID)},
		},
	}
	if trialDays > 0 {
		params.TrialPeriodDays = stripe.Int64(int64(trialDays))
	}
	params.Context = ctx

	sub, err := p.sc.Subscriptions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}
	return subscriptionState(sub)
}

// CreatePlanChange swaps the price of the subscription's single item and
// prorates the difference.
func (p *StripeProvider) CreatePlanChange(ctx context.Context, subscriptionID, priceID string) (*subscription.ProviderSubscriptionState, error) {
	getParams := &stripe.SubscriptionParams{}
	getParams.Context = ctx
	current, err := p.sc.Subscriptions.Get(subscriptionID, getParams)
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	if current.Items == nil || len(current.Items.Data) == 0 {
		return nil, fmt.Errorf("subscription %s has no items", subscriptionID)
	}

	params := &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{
			{
				ID:    stripe.String(current.Items.Data[0].ID),
				Price: stripe.String(priceID),
			},
		},
		ProrationBehavior: stripe.String("create_prorations"),
	}
	params.Context = ctx

	sub, err := p.sc.Subscriptions.Update(subscriptionID, params)
	if err != nil {
		return nil, fmt.Errorf("update subscription price: %w", err)
	}
	return subscriptionState(sub)
}

func (p *StripeProvider) ScheduleCancellation(ctx context.Context, subscriptionID string) error {
	return p.setCancelAtPeriodEnd(ctx, subscriptionID, true)
}

func (p *StripeProvider) ClearScheduledCancellation(ctx context.Context, subscriptionID string) error {
	return p.setCancelAtPeriodEnd(ctx, subscriptionID, false)
}

func (p *StripeProvider) setCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) error {
	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(cancel),
	}
	params.Context = ctx
	if _, err := p.sc.Subscriptions.Update(subscriptionID, params); err != nil {
		return fmt.Errorf("set cancel_at_period_end=%t: %w", cancel, err)
	}
	return nil
}

func (p *StripeProvider) ListInvoices(ctx context.Context, subscriptionID string) ([]model.Invoice, error) {
	params := &stripe.InvoiceListParams{
		Subscription: stripe.String(subscriptionID),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(25)

	var out []model.Invoice
	it := p.sc.Invoices.List(params)
	for it.Next() && len(out) < maxListed {
		out = append(out, invoiceFromStripe(it.Invoice()))
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	return out, nil
}

func (p *StripeProvider) ListPaymentMethods(ctx context.Context, customerID string) ([]model.PaymentMethod, error) {
	custParams := &stripe.CustomerParams{}
	custParams.Context = ctx
	cus, err := p.sc.Customers.Get(customerID, custParams)
	if err != nil {
		return nil, fmt.Errorf("get customer: %w", err)
	}
	var defaultID string
	if cus.InvoiceSettings != nil && cus.InvoiceSettings.DefaultPaymentMethod != nil {
		defaultID = cus.InvoiceSettings.DefaultPaymentMethod.ID
	}

	params := &stripe.PaymentMethodListParams{
		Customer: stripe.String(customerID),
		Type:     stripe.String(string(stripe.PaymentMethodTypeCard)),
	}
	params.Context = ctx

	var out []model.PaymentMethod
	it := p.sc.PaymentMethods.List(params)
	for it.Next() && len(out) < maxListed {
		pm := paymentMethodFromStripe(it.PaymentMethod())
		pm.IsDefault = pm.ID == defaultID
		out = append(out, pm)
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("list payment methods: %w", err)
	}
	return out, nil
}

func (p *StripeProvider) AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	params := &stripe.PaymentMethodAttachParams{
		Customer: stripe.String(customerID),
	}
	params.Context = ctx
	if _, err := p.sc.PaymentMethods.Attach(paymentMethodID, params); err != nil {
		return fmt.Errorf("attach payment method: %w", err)
	}
	return nil
}

func (p *StripeProvider) DetachPaymentMethod(ctx context.Context, paymentMethodID string) error {
	params := &stripe.PaymentMethodDetachParams{}
	params.Context = ctx
	if _, err := p.sc.PaymentMethods.Detach(paymentMethodID, params); err != nil {
		return fmt.Errorf("detach payment method: %w", err)
	}
	return nil
}

func (p *StripeProvider) SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	params := &stripe.CustomerParams{
		InvoiceSettings: &stripe.CustomerInvoiceSettingsParams{
			DefaultPaymentMethod: stripe.String(paymentMethodID),
		},
	}
	params.Context = ctx
	if _, err := p.sc.Customers.Update(customerID, params); err != nil {
		return fmt.Errorf("set default payment method: %w", err)
	}
	return nil
}

// mapStatus folds Stripe's statuses onto the local lifecycle.
func mapStatus(s stripe.SubscriptionStatus) (model.SubscriptionStatus, error) {
	switch string(s) {
	case "incomplete":
		return model.StatusIncomplete, nil
	case "trialing":
		return model.StatusTrialing, nil
	case "active":
		return model.StatusActive, nil
	case "past_due", "unpaid":
		return model.StatusPastDue, nil
	case "canceled", "incomplete_expired":
		return model.StatusCanceled, nil
	}
	return "", fmt.Errorf("unsupported subscription status %q", s)
}

func subscriptionState(sub *stripe.Subscription) (*subscription.ProviderSubscriptionState, error) {
	status, err := mapStatus(sub.Status)
	if err != nil {
		return nil, err
	}
	st := &subscription.ProviderSubscriptionState{
		SubscriptionID:     sub.ID,
		Status:             status,
		CurrentPeriodStart: unix(sub.CurrentPeriodStart),
		CurrentPeriodEnd:   unix(sub.CurrentPeriodEnd),
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
	}
	if sub.Customer != nil {
		st.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		st.PriceID = sub.Items.Data[0].Price.ID
	}
	return st, nil
}

func invoiceFromStripe(inv *stripe.Invoice) model.Invoice {
	out := model.Invoice{
		ID:            inv.ID,
		InvoiceNumber: inv.Number,
		AmountCents:   inv.Total,
		Currency:      string(inv.Currency),
		Status:        model.InvoiceStatus(inv.Status),
		InvoiceURL:    inv.HostedInvoiceURL,
		PDFURL:        inv.InvoicePDF,
		CreatedAt:     unix(inv.Created),
	}
	if inv.DueDate > 0 {
		due := unix(inv.DueDate)
		out.DueDate = &due
	}
	if inv.StatusTransitions != nil && inv.StatusTransitions.PaidAt > 0 {
		paid := unix(inv.StatusTransitions.PaidAt)
		out.PaidAt = &paid
	}
	return out
}

func paymentMethodFromStripe(pm *stripe.PaymentMethod) model.PaymentMethod {
	out := model.PaymentMethod{
		ID:        pm.ID,
		Type:      string(pm.Type),
		CreatedAt: unix(pm.Created),
	}
	if pm.Card != nil {
		out.CardBrand = string(pm.Card.Brand)
		out.CardLast4 = pm.Card.Last4
		out.CardExpMonth = int(pm.Card.ExpMonth)
		out.CardExpYear = int(pm.Card.ExpYear)
	}
	return out
}

func unix(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
