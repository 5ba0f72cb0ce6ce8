package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"contentlift_backend/internal/model"
)

const (
	DefaultProviderTimeout = 10 * time.Second
	DefaultStoreTimeout    = 5 * time.Second
	DefaultPlanCacheTTL    = 5 * time.Minute
)

// Metrics receives operation outcomes. pkg/metrics provides the Prometheus
// implementation.
type Metrics interface {
	ObserveOperation(op string, err error, elapsed time.Duration)
	ObserveProviderCall(call string, err error, elapsed time.Duration)
	ObserveReconcile(outcome ReconcileOutcome)
}

type noopMetrics struct{}

func (noopMetrics) ObserveOperation(string, error, time.Duration)    {}
func (noopMetrics) ObserveProviderCall(string, error, time.Duration) {}
func (noopMetrics) ObserveReconcile(ReconcileOutcome)               {}

type Config struct {
	ProviderTimeout time.Duration
	StoreTimeout    time.Duration
	PlanCacheTTL    time.Duration
}

func (c Config) withDefaults() Config {
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = DefaultProviderTimeout
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = DefaultStoreTimeout
	}
	if c.PlanCacheTTL <= 0 {
		c.PlanCacheTTL = DefaultPlanCacheTTL
	}
	return c
}

// Manager owns the local subscription record of every account and keeps it
// consistent with the billing provider.
//
// Mutations of one account are serialized through the Locker. A provider call
// always happens before the local commit, and the commit is detached from the
// caller's cancellation once the provider has confirmed.
type Manager struct {
	store    Store
	provider Provider
	locker   Locker
	notifier Notifier
	metrics  Metrics
	log      logrus.FieldLogger
	tracer   trace.Tracer
	cfg      Config
	plans    *lru.LRU[string, *model.Plan]
}

type Option func(*Manager)

func WithLocker(l Locker) Option {
	return func(m *Manager) { m.locker = l }
}

func WithNotifier(n Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

func WithMetrics(mt Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(m *Manager) { m.log = l }
}

func NewManager(store Store, provider Provider, cfg Config, opts ...Option) *Manager {
	cfg = cfg.withDefaults()
	m := &Manager{
		store:    store,
		provider: provider,
		locker:   NewKeyedMutex(),
		metrics:  noopMetrics{},
		log:      logrus.StandardLogger(),
		tracer:   otel.Tracer("contentlift_backend/pkg/subscription"),
		cfg:      cfg,
		plans:    lru.NewLRU[string, *model.Plan](128, nil, cfg.PlanCacheTTL),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Plans returns the catalog in display order.
func (m *Manager) Plans(ctx context.Context) ([]model.Plan, error) {
	return m.store.ListPlans(ctx)
}

func (m *Manager) plan(ctx context.Context, id string) (*model.Plan, error) {
	if p, ok := m.plans.Get(id); ok {
		cp := *p
		return &cp, nil
	}
	p, err := m.store.GetPlan(ctx, id)
	if err != nil {
		return nil, notFound("plan", id, err)
	}
	m.plans.Add(id, p)
	cp := *p
	return &cp, nil
}

// CurrentSubscription returns the account's live subscription, or its most
// recent one, with the plan attached.
func (m *Manager) CurrentSubscription(ctx context.Context, accountID string) (sub *model.Subscription, err error) {
	ctx, done := m.startOp(ctx, "get_current", accountID)
	defer func() { done(err) }()

	sub, err = m.current(ctx, accountID)
	if err != nil {
		return nil, err
	}
	m.attachPlan(ctx, sub)
	return sub, nil
}

func (m *Manager) current(ctx context.Context, accountID string) (*model.Subscription, error) {
	sub, err := m.store.CurrentSubscription(ctx, accountID)
	if err != nil {
		return nil, notFound("subscription", accountID, err)
	}
	return sub, nil
}

func (m *Manager) attachPlan(ctx context.Context, sub *model.Subscription) {
	p, err := m.plan(ctx, sub.PlanID)
	if err != nil {
		m.log.WithError(err).WithField("plan_id", sub.PlanID).Warn("subscription references unknown plan")
		return
	}
	sub.Plan = p
}

// Subscribe starts a subscription for an account with no live one. The
// initial status comes from the provider: trialing when the plan has a
// trial, active otherwise.
func (m *Manager) Subscribe(ctx context.Context, accountID, email, planID string) (sub *model.Subscription, err error) {
	ctx, done := m.startOp(ctx, "subscribe", accountID)
	defer func() { done(err) }()

	plan, err := m.plan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if !plan.Purchasable() {
		return nil, &InvalidTransitionError{Op: "subscribe", Reason: fmt.Sprintf("plan %s has no provider price", plan.ID)}
	}

	err = m.withAccountLock(ctx, accountID, func() error {
		prev, err := m.store.CurrentSubscription(ctx, accountID)
		switch {
		case errors.Is(err, ErrNoRecord):
			prev = nil
		case err != nil:
			return err
		case !prev.Status.IsTerminal():
			return &InvalidTransitionError{Op: "subscribe", Status: prev.Status, Reason: "account already has a live subscription"}
		}

		var customerID string
		if prev != nil {
			customerID = prev.ProviderCustomerID
		}
		if customerID == "" {
			if err := m.callProvider(ctx, "create_customer", func(ctx context.Context) error {
				var err error
				customerID, err = m.provider.CreateCustomer(ctx, accountID, email)
				return err
			}); err != nil {
				return err
			}
		}

		var state *ProviderSubscriptionState
		if err := m.callProvider(ctx, "create_subscription", func(ctx context.Context) error {
			var err error
			state, err = m.provider.CreateSubscription(ctx, customerID, plan.ProviderPriceID, plan.TrialDays)
			return err
		}); err != nil {
			return err
		}

		status := state.Status
		if status == "" {
			status = model.StatusActive
			if plan.HasTrial() {
				status = model.StatusTrialing
			}
		}
		created := &model.Subscription{
			ID:                     uuid.NewString(),
			AccountID:              accountID,
			PlanID:                 plan.ID,
			Status:                 status,
			CurrentPeriodStart:     state.CurrentPeriodStart,
			CurrentPeriodEnd:       state.CurrentPeriodEnd,
			CancelAtPeriodEnd:      state.CancelAtPeriodEnd,
			ProviderSubscriptionID: state.SubscriptionID,
			ProviderCustomerID:     customerID,
			BillingEmail:           email,
		}
		if err := created.ValidatePeriod(); err != nil {
			return newProviderError("create_subscription", err)
		}

		cctx, cancel := m.commitContext(ctx)
		defer cancel()
		if err := m.store.CreateSubscription(cctx, created); err != nil {
			m.log.WithError(err).WithFields(logrus.Fields{
				"account_id":               accountID,
				"provider_subscription_id": state.SubscriptionID,
			}).Error("provider subscription created but local record was not saved")
			return fmt.Errorf("save subscription: %w", err)
		}
		sub = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	sub.Plan = plan
	return sub, nil
}

// ChangePlan swaps the account's plan. Requesting the current plan is a
// no-op that never reaches the provider. A scheduled cancellation stays
// scheduled.
func (m *Manager) ChangePlan(ctx context.Context, accountID, planID string) (sub *model.Subscription, err error) {
	ctx, done := m.startOp(ctx, "change_plan", accountID)
	defer func() { done(err) }()

	var from, to *model.Plan
	err = m.withAccountLock(ctx, accountID, func() error {
		current, err := m.current(ctx, accountID)
		if err != nil {
			return err
		}
		if err := requireBillable("change plan", current); err != nil {
			return err
		}
		if current.PlanID == planID {
			sub = current
			return nil
		}

		to, err = m.plan(ctx, planID)
		if err != nil {
			return err
		}
		if !to.Purchasable() {
			return &InvalidTransitionError{Op: "change plan", Status: current.Status, Reason: fmt.Sprintf("plan %s has no provider price", to.ID)}
		}

		var state *ProviderSubscriptionState
		if err := m.callProvider(ctx, "create_plan_change", func(ctx context.Context) error {
			var err error
			state, err = m.provider.CreatePlanChange(ctx, current.ProviderSubscriptionID, to.ProviderPriceID)
			return err
		}); err != nil {
			return err
		}

		updated := *current
		updated.PlanID = to.ID
		m.applyProviderState(&updated, state)
		if err := m.commit(ctx, &updated); err != nil {
			return err
		}
		from, _ = m.plan(ctx, current.PlanID)
		sub = &updated
		return nil
	})
	if err != nil {
		return nil, err
	}

	if to != nil {
		sub.Plan = to
		m.notify(ctx, "plan_changed", func(ctx context.Context, n Notifier) error {
			return n.PlanChanged(ctx, sub, from, to)
		})
	} else {
		m.attachPlan(ctx, sub)
	}
	return sub, nil
}

// Cancel schedules cancellation at the end of the current period. The status
// does not change until the provider reports the cancellation executed.
func (m *Manager) Cancel(ctx context.Context, accountID string) (sub *model.Subscription, err error) {
	ctx, done := m.startOp(ctx, "cancel", accountID)
	defer func() { done(err) }()

	changed := false
	err = m.withAccountLock(ctx, accountID, func() error {
		current, err := m.current(ctx, accountID)
		if err != nil {
			return err
		}
		if err := requireBillable("cancel", current); err != nil {
			return err
		}
		if current.CancelAtPeriodEnd {
			sub = current
			return nil
		}

		if err := m.callProvider(ctx, "schedule_cancellation", func(ctx context.Context) error {
			return m.provider.ScheduleCancellation(ctx, current.ProviderSubscriptionID)
		}); err != nil {
			return err
		}

		updated := *current
		updated.CancelAtPeriodEnd = true
		if err := m.commit(ctx, &updated); err != nil {
			return err
		}
		sub, changed = &updated, true
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.attachPlan(ctx, sub)
	if changed {
		m.notify(ctx, "cancellation_scheduled", func(ctx context.Context, n Notifier) error {
			return n.CancellationScheduled(ctx, sub, sub.Plan)
		})
	}
	return sub, nil
}

// Reactivate clears a scheduled cancellation while the paid period is still
// running. A canceled subscription fails with TerminalStateError.
func (m *Manager) Reactivate(ctx context.Context, accountID string) (sub *model.Subscription, err error) {
	ctx, done := m.startOp(ctx, "reactivate", accountID)
	defer func() { done(err) }()

	changed := false
	err = m.withAccountLock(ctx, accountID, func() error {
		current, err := m.current(ctx, accountID)
		if err != nil {
			return err
		}
		if current.Status.IsTerminal() {
			return newTerminalStateError("reactivate", current.ID)
		}
		if !current.CancelAtPeriodEnd {
			sub = current
			return nil
		}

		if err := m.callProvider(ctx, "clear_scheduled_cancellation", func(ctx context.Context) error {
			return m.provider.ClearScheduledCancellation(ctx, current.ProviderSubscriptionID)
		}); err != nil {
			return err
		}

		updated := *current
		updated.CancelAtPeriodEnd = false
		if err := m.commit(ctx, &updated); err != nil {
			return err
		}
		sub, changed = &updated, true
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.attachPlan(ctx, sub)
	if changed {
		m.notify(ctx, "reactivated", func(ctx context.Context, n Notifier) error {
			return n.Reactivated(ctx, sub, sub.Plan)
		})
	}
	return sub, nil
}

func requireBillable(op string, sub *model.Subscription) error {
	if sub.Status.IsTerminal() {
		return newTerminalStateError(op, sub.ID)
	}
	if !sub.Status.Billable() {
		return &InvalidTransitionError{Op: op, Status: sub.Status}
	}
	return nil
}

func (m *Manager) withAccountLock(ctx context.Context, accountID string, fn func() error) error {
	unlock, err := m.locker.Lock(ctx, "subscription:"+accountID)
	if err != nil {
		return fmt.Errorf("lock account %s: %w", accountID, err)
	}
	defer unlock()
	return fn()
}

func (m *Manager) callProvider(ctx context.Context, call string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.ProviderTimeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	m.metrics.ObserveProviderCall(call, err, time.Since(start))
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	pe = newProviderError(call, err)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		pe.Timeout = true
	}
	return pe
}

// applyProviderState copies the provider's view after a mutating call onto
// sub. A state without a status is treated as partial and ignored. Lifecycle
// moves the transition table forbids and inverted periods keep the local
// values; the webhook feed settles them.
func (m *Manager) applyProviderState(sub *model.Subscription, state *ProviderSubscriptionState) {
	if state == nil || state.Status == "" {
		return
	}
	log := m.log.WithFields(logrus.Fields{
		"account_id":      sub.AccountID,
		"subscription_id": sub.ID,
	})

	if state.Status != sub.Status {
		if sub.Status.CanTransitionTo(state.Status) {
			sub.Status = state.Status
			if state.Status == model.StatusCanceled && sub.CanceledAt == nil {
				now := time.Now().UTC()
				sub.CanceledAt = &now
			}
		} else {
			log.WithFields(logrus.Fields{"from": sub.Status, "to": state.Status}).
				Warn("provider reported a status the lifecycle does not allow, keeping local status")
		}
	}

	if state.CurrentPeriodEnd.After(state.CurrentPeriodStart) && !state.CurrentPeriodStart.IsZero() {
		sub.CurrentPeriodStart = state.CurrentPeriodStart
		sub.CurrentPeriodEnd = state.CurrentPeriodEnd
	} else if !state.CurrentPeriodStart.IsZero() || !state.CurrentPeriodEnd.IsZero() {
		log.Warn("provider reported an invalid billing period, keeping local period")
	}

	sub.CancelAtPeriodEnd = state.CancelAtPeriodEnd
}

// commitContext detaches from the caller so a confirmed provider change is
// always recorded locally.
func (m *Manager) commitContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), m.cfg.StoreTimeout)
}

func (m *Manager) commit(ctx context.Context, sub *model.Subscription) error {
	cctx, cancel := m.commitContext(ctx)
	defer cancel()
	if err := m.store.SaveSubscription(cctx, sub); err != nil {
		m.log.WithError(err).WithFields(logrus.Fields{
			"account_id":      sub.AccountID,
			"subscription_id": sub.ID,
		}).Error("provider change confirmed but local record was not saved")
		return fmt.Errorf("save subscription: %w", err)
	}
	return nil
}

func (m *Manager) notify(ctx context.Context, kind string, fn func(context.Context, Notifier) error) {
	if m.notifier == nil {
		return
	}
	if err := fn(context.WithoutCancel(ctx), m.notifier); err != nil {
		m.log.WithError(err).WithField("notification", kind).Warn("could not send notification")
	}
}

func (m *Manager) startOp(ctx context.Context, op, accountID string) (context.Context, func(error)) {
	ctx, span := m.tracer.Start(ctx, "subscription."+op,
		trace.WithAttributes(attribute.String("account.id", accountID)))
	start := time.Now()
	return ctx, func(err error) {
		m.metrics.ObserveOperation(op, err, time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}
