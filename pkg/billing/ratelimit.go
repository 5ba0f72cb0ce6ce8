package billing

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"contentlift_backend/internal/model"
	"contentlift_backend/pkg/subscription"
)

// RateLimited holds every call to the wrapped provider to a shared token
// bucket. Waiting honours ctx, so the manager's per-call timeout covers the
// time spent queued.
type RateLimited struct {
	next    subscription.Provider
	limiter *rate.Limiter
}

var _ subscription.Provider = (*RateLimited)(nil)

func NewRateLimited(next subscription.Provider, rps float64, burst int) *RateLimited {
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// wait blocks for a token. The limiter refuses up front when the token would
// arrive after ctx's deadline; that is reported as a deadline error too.
func (r *RateLimited) wait(ctx context.Context) error {
	err := r.limiter.Wait(ctx)
	if err == nil {
		return nil
	}
	if ctx.Err() == nil {
		if _, ok := ctx.Deadline(); ok {
			return fmt.Errorf("rate limit: %v: %w", err, context.DeadlineExceeded)
		}
	}
	return fmt.Errorf("rate limit: %w", err)
}

func (r *RateLimited) CreateCustomer(ctx context.Context, accountID, email string) (string, error) {
	if err := r.wait(ctx); err != nil {
		return "", err
	}
	return r.next.CreateCustomer(ctx, accountID, email)
}

func (r *RateLimited) CreateSubscription(ctx context.Context, customerID, priceID string, trialDays int) (*subscription.ProviderSubscriptionState, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.next.CreateSubscription(ctx, customerID, priceID, trialDays)
}

func (r *RateLimited) CreatePlanChange(ctx context.Context, subscriptionID, priceID string) (*subscription.ProviderSubscriptionState, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.next.CreatePlanChange(ctx, subscriptionID, priceID)
}

func (r *RateLimited) ScheduleCancellation(ctx context.Context, subscriptionID string) error {
	if err := r.wait(ctx); err != nil {
		return err
	}
	return r.next.ScheduleCancellation(ctx, subscriptionID)
}

func (r *RateLimited) ClearScheduledCancellation(ctx context.Context, subscriptionID string) error {
	if err := r.wait(ctx); err != nil {
		return err
	}
	return r.next.ClearScheduledCancellation(ctx, subscriptionID)
}

func (r *RateLimited) ListInvoices(ctx context.Context, subscriptionID string) ([]model.Invoice, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.next.ListInvoices(ctx, subscriptionID)
}

func (r *RateLimited) ListPaymentMethods(ctx context.Context, customerID string) ([]model.PaymentMethod, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.next.ListPaymentMethods(ctx, customerID)
}

func (r *RateLimited) AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	if err := r.wait(ctx); err != nil {
		return err
	}
	return r.next.AttachPaymentMethod(ctx, customerID, paymentMethodID)
}

func (r *RateLimited) DetachPaymentMethod(ctx context.Context, paymentMethodID string) error {
	if err := r.wait(ctx); err != nil {
		return err
	}
	return r.next.DetachPaymentMethod(ctx, paymentMethodID)
}

func (r *RateLimited) SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	if err := r.wait(ctx); err != nil {
		return err
	}
	return r.next.SetDefaultPaymentMethod(ctx, customerID, paymentMethodID)
}
