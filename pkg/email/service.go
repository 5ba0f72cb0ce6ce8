package email

import (
	"context"
	"fmt"
	"time"

	"contentlift_backend/internal/model"
)

// Template data structures
type SubscriptionData struct {
	PlanName   string
	Price      string
	PeriodEnd  time.Time
	BillingURL string
}

type PlanChangedData struct {
	SubscriptionData
	FromPlan string
}

type RenewalReminderData struct {
	SubscriptionData
	DaysLeft         int
	EndsWithoutRenew bool
}

func (s *Service) data(sub *model.Subscription, plan *model.Plan) SubscriptionData {
	d := SubscriptionData{
		PlanName:   sub.PlanID,
		PeriodEnd:  sub.CurrentPeriodEnd,
		BillingURL: s.appURL + "/subscription-billing",
	}
	if plan != nil {
		d.PlanName = plan.Name
		d.Price = FormatPrice(plan.PriceCents, plan.Currency) + "/" + string(plan.Interval)
	}
	return d
}

func (s *Service) PlanChanged(ctx context.Context, sub *model.Subscription, from, to *model.Plan) error {
	data := PlanChangedData{SubscriptionData: s.data(sub, to)}
	if from != nil {
		data.FromPlan = from.Name
	}
	return s.sendTemplateEmail(ctx, sub.BillingEmail, "Your plan has been updated", "plan_changed.html", data)
}

func (s *Service) CancellationScheduled(ctx context.Context, sub *model.Subscription, plan *model.Plan) error {
	return s.sendTemplateEmail(ctx, sub.BillingEmail, "Your subscription will end soon", "cancellation_scheduled.html", s.data(sub, plan))
}

func (s *Service) Reactivated(ctx context.Context, sub *model.Subscription, plan *model.Plan) error {
	return s.sendTemplateEmail(ctx, sub.BillingEmail, "Welcome back! Your subscription continues", "reactivated.html", s.data(sub, plan))
}

func (s *Service) PaymentFailed(ctx context.Context, sub *model.Subscription, plan *model.Plan) error {
	return s.sendTemplateEmail(ctx, sub.BillingEmail, "We couldn't process your payment", "payment_failed.html", s.data(sub, plan))
}

// RenewalReminder warns ahead of a period end. Subscriptions with a scheduled
// cancellation get the "ending" wording instead of "renewing".
func (s *Service) RenewalReminder(ctx context.Context, sub *model.Subscription, plan *model.Plan, daysLeft int) error {
	data := RenewalReminderData{
		SubscriptionData: s.data(sub, plan),
		DaysLeft:         daysLeft,
		EndsWithoutRenew: sub.CancelAtPeriodEnd,
	}
	subject := fmt.Sprintf("Your subscription renews in %d days", daysLeft)
	if sub.CancelAtPeriodEnd {
		subject = fmt.Sprintf("Your subscription ends in %d days", daysLeft)
	}
	return s.sendTemplateEmail(ctx, sub.BillingEmail, subject, "renewal_reminder.html", data)
}
