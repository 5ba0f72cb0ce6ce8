package subscription

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"contentlift_backend/internal/model"
)

type ReconcileOutcome string

const (
	OutcomeApplied   ReconcileOutcome = "applied"
	OutcomeInvoice   ReconcileOutcome = "invoice_recorded"
	OutcomeDuplicate ReconcileOutcome = "duplicate"
	OutcomeStale     ReconcileOutcome = "stale"
	OutcomeRejected  ReconcileOutcome = "rejected"
	OutcomeUnknown   ReconcileOutcome = "unknown_subscription"
	OutcomeIgnored   ReconcileOutcome = "ignored"
)

// Reconcile applies a provider event to the matching local subscription.
//
// Events are ordered by (OccurredAt, EventID). An event at or before the last
// applied one is absorbed: redelivery yields OutcomeDuplicate, an out of order
// arrival yields OutcomeStale, and neither touches local state apart from
// recording a new invoice. Transitions the lifecycle forbids and events that
// would break the period invariant are rejected without modifying anything.
func (m *Manager) Reconcile(ctx context.Context, evt ProviderEvent) (outcome ReconcileOutcome, err error) {
	ctx, done := m.startOp(ctx, "reconcile", evt.SubscriptionID)
	defer func() {
		m.metrics.ObserveReconcile(outcome)
		done(err)
	}()

	if evt.EventID == "" {
		return OutcomeRejected, &InvalidEventError{Reason: "missing event id"}
	}
	if evt.SubscriptionID == "" {
		return OutcomeRejected, &InvalidEventError{EventID: evt.EventID, Reason: "missing subscription id"}
	}
	if evt.NewStatus != "" && !evt.NewStatus.Valid() {
		return OutcomeRejected, &InvalidEventError{EventID: evt.EventID, Reason: fmt.Sprintf("unknown status %q", evt.NewStatus)}
	}
	if !evt.CarriesState() && evt.NewInvoice == nil {
		return OutcomeIgnored, nil
	}

	target, err := m.store.SubscriptionByProviderID(ctx, evt.SubscriptionID)
	if err != nil {
		if errors.Is(err, ErrNoRecord) {
			return OutcomeUnknown, &NotFoundError{Resource: "subscription", Key: evt.SubscriptionID}
		}
		return "", err
	}

	log := m.log.WithFields(logrus.Fields{
		"event_id":        evt.EventID,
		"subscription_id": target.ID,
		"account_id":      target.AccountID,
	})

	var prev, next *model.Subscription
	err = m.withAccountLock(ctx, target.AccountID, func() error {
		sub, err := m.store.SubscriptionByProviderID(ctx, evt.SubscriptionID)
		if err != nil {
			return notFound("subscription", evt.SubscriptionID, err)
		}

		inv := evt.NewInvoice
		if inv != nil {
			cp := *inv
			cp.SubscriptionID = sub.ID
			cp.AccountID = sub.AccountID
			inv = &cp
		}

		if !evt.CarriesState() {
			outcome = OutcomeInvoice
			return m.appendInvoice(ctx, inv)
		}

		if sub.EventApplied(evt.OccurredAt, evt.EventID) {
			outcome = OutcomeStale
			if evt.EventID == sub.LastEventID {
				outcome = OutcomeDuplicate
			}
			log.WithError(&StaleEventError{EventID: evt.EventID, LastEventID: sub.LastEventID}).Debug("absorbing provider event")
			return m.appendInvoice(ctx, inv)
		}

		updated, err := applyEvent(sub, &evt)
		if err != nil {
			outcome = OutcomeRejected
			return err
		}

		cctx, cancel := m.commitContext(ctx)
		defer cancel()
		if err := m.store.ApplyEvent(cctx, updated, inv); err != nil {
			return fmt.Errorf("apply event %s: %w", evt.EventID, err)
		}
		prev, next = sub, updated
		outcome = OutcomeApplied
		return nil
	})
	if err != nil {
		if outcome == OutcomeRejected {
			log.WithError(err).Warn("rejected provider event")
		}
		return outcome, err
	}

	if next != nil {
		if prev.Status != next.Status {
			log.WithFields(logrus.Fields{"from": prev.Status, "to": next.Status}).Info("subscription status changed")
		}
		if next.Status == model.StatusPastDue && prev.Status != model.StatusPastDue {
			m.attachPlan(ctx, next)
			m.notify(ctx, "payment_failed", func(ctx context.Context, n Notifier) error {
				return n.PaymentFailed(ctx, next, next.Plan)
			})
		}
	}
	return outcome, nil
}

// applyEvent returns sub with evt applied, or the reason evt cannot apply.
func applyEvent(sub *model.Subscription, evt *ProviderEvent) (*model.Subscription, error) {
	next := *sub
	next.Plan = nil

	if evt.NewStatus != "" && evt.NewStatus != sub.Status {
		if !sub.Status.CanTransitionTo(evt.NewStatus) {
			if sub.Status.IsTerminal() {
				return nil, newTerminalStateError("reconcile", sub.ID)
			}
			return nil, &InvalidTransitionError{
				Op:     "reconcile",
				Status: sub.Status,
				Reason: fmt.Sprintf("provider reported %s", evt.NewStatus),
			}
		}
		next.Status = evt.NewStatus
		if next.Status == model.StatusCanceled {
			at := evt.OccurredAt
			next.CanceledAt = &at
		}
	}

	if !evt.NewPeriodStart.IsZero() {
		next.CurrentPeriodStart = evt.NewPeriodStart
	}
	if !evt.NewPeriodEnd.IsZero() {
		next.CurrentPeriodEnd = evt.NewPeriodEnd
	}
	if err := next.ValidatePeriod(); err != nil {
		return nil, &InvalidEventError{EventID: evt.EventID, Reason: err.Error()}
	}

	// A canceled subscription keeps the flag that led to its cancellation.
	if evt.CancelAtPeriodEnd != nil && !next.Status.IsTerminal() {
		next.CancelAtPeriodEnd = *evt.CancelAtPeriodEnd
	}

	at := evt.OccurredAt
	next.LastEventID = evt.EventID
	next.LastEventAt = &at
	return &next, nil
}

func (m *Manager) appendInvoice(ctx context.Context, inv *model.Invoice) error {
	if inv == nil {
		return nil
	}
	cctx, cancel := m.commitContext(ctx)
	defer cancel()
	if err := m.store.AppendInvoice(cctx, inv); err != nil {
		return fmt.Errorf("record invoice %s: %w", inv.ID, err)
	}
	return nil
}
