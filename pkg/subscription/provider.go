package subscription

import (
	"context"
	"time"

	"contentlift_backend/internal/model"
)

// ProviderSubscriptionState is the provider's view of a subscription after a
// mutating call.
type ProviderSubscriptionState struct {
	SubscriptionID     string
	CustomerID         string
	PriceID            string
	Status             model.SubscriptionStatus
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool
}

// Provider is the billing system of record. Implementations must honour ctx
// cancellation; the manager bounds every call with a timeout.
type Provider interface {
	CreateCustomer(ctx context.Context, accountID, email string) (customerID string, err error)
	CreateSubscription(ctx context.Context, customerID, priceID string, trialDays int) (*ProviderSubscriptionState, error)
	CreatePlanChange(ctx context.Context, subscriptionID, priceID string) (*ProviderSubscriptionState, error)
	ScheduleCancellation(ctx context.Context, subscriptionID string) error
	ClearScheduledCancellation(ctx context.Context, subscriptionID string) error
	ListInvoices(ctx context.Context, subscriptionID string) ([]model.Invoice, error)
	ListPaymentMethods(ctx context.Context, customerID string) ([]model.PaymentMethod, error)
	AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error
	DetachPaymentMethod(ctx context.Context, paymentMethodID string) error
	SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error
}

// ProviderEvent is an authoritative change reported by the provider. Delivery
// is at-least-once and possibly out of order.
//
// Status and period fields are optional: an event carrying only an invoice
// (invoice.paid and friends) leaves the subscription state untouched and does
// not advance the event ordering marker.
type ProviderEvent struct {
	EventID           string
	OccurredAt        time.Time
	SubscriptionID    string // provider subscription id
	NewStatus         model.SubscriptionStatus
	NewPeriodStart    time.Time
	NewPeriodEnd      time.Time
	CancelAtPeriodEnd *bool
	NewInvoice        *model.Invoice
}

// CarriesState reports whether the event updates status or period fields.
func (e *ProviderEvent) CarriesState() bool {
	return e.NewStatus != "" || !e.NewPeriodStart.IsZero() || !e.NewPeriodEnd.IsZero() || e.CancelAtPeriodEnd != nil
}

// Notifier delivers lifecycle notifications. Delivery failures never affect
// the operation that triggered them.
type Notifier interface {
	PlanChanged(ctx context.Context, sub *model.Subscription, from, to *model.Plan) error
	CancellationScheduled(ctx context.Context, sub *model.Subscription, plan *model.Plan) error
	Reactivated(ctx context.Context, sub *model.Subscription, plan *model.Plan) error
	PaymentFailed(ctx context.Context, sub *model.Subscription, plan *model.Plan) error
}
