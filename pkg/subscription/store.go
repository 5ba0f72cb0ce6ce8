package subscription

import (
	"context"
	"time"

	"contentlift_backend/internal/model"
)

// Store persists subscriptions and their provider-side records. Every method
// commits atomically; readers never observe a partial write.
type Store interface {
	ListPlans(ctx context.Context) ([]model.Plan, error)
	GetPlan(ctx context.Context, id string) (*model.Plan, error)
	UpsertPlans(ctx context.Context, plans []model.Plan) error

	// CurrentSubscription returns the account's non-terminal subscription, or
	// its most recently created one.
	CurrentSubscription(ctx context.Context, accountID string) (*model.Subscription, error)
	SubscriptionByProviderID(ctx context.Context, providerSubscriptionID string) (*model.Subscription, error)
	// SubscriptionsEndingBetween lists non-terminal subscriptions whose period
	// ends in [from, to).
	SubscriptionsEndingBetween(ctx context.Context, from, to time.Time) ([]model.Subscription, error)
	// CreateSubscription fails with ErrLiveSubscriptionExists if the account
	// already has a non-terminal subscription.
	CreateSubscription(ctx context.Context, sub *model.Subscription) error
	SaveSubscription(ctx context.Context, sub *model.Subscription) error
	// ApplyEvent saves sub and appends inv (if any) in one transaction.
	ApplyEvent(ctx context.Context, sub *model.Subscription, inv *model.Invoice) error

	ListInvoices(ctx context.Context, subscriptionID string) ([]model.Invoice, error)
	// AppendInvoice inserts inv unless an invoice with the same id exists.
	AppendInvoice(ctx context.Context, inv *model.Invoice) error

	ListPaymentMethods(ctx context.Context, accountID string) ([]model.PaymentMethod, error)
	// ReplacePaymentMethods swaps the account's cached payment methods.
	ReplacePaymentMethods(ctx context.Context, accountID string, methods []model.PaymentMethod) error
}
