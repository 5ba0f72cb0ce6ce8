package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"contentlift_backend/internal/model"
)

var errUpstream = errors.New("upstream unavailable")

var baseTime = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

// fakeProvider records calls and lets tests inject failures per call.
type fakeProvider struct {
	mu    sync.Mutex
	calls map[string]int
	errs  map[string]error
	delay map[string]time.Duration
	hook  func(call string)

	seq      int
	subs     map[string]*ProviderSubscriptionState
	invoices map[string][]model.Invoice
	methods  map[string][]model.PaymentMethod
	defaults map[string]string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		calls:    make(map[string]int),
		errs:     make(map[string]error),
		delay:    make(map[string]time.Duration),
		subs:     make(map[string]*ProviderSubscriptionState),
		invoices: make(map[string][]model.Invoice),
		methods:  make(map[string][]model.PaymentMethod),
		defaults: make(map[string]string),
	}
}

func (p *fakeProvider) failWith(call string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs[call] = err
}

func (p *fakeProvider) slow(call string, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delay[call] = d
}

// report sets the state the provider returns for an existing subscription.
func (p *fakeProvider) report(st ProviderSubscriptionState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subs[st.SubscriptionID] = &st
}

func (p *fakeProvider) count(call string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[call]
}

func (p *fakeProvider) enter(ctx context.Context, call string) error {
	p.mu.Lock()
	p.calls[call]++
	err := p.errs[call]
	d := p.delay[call]
	hook := p.hook
	p.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	if d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (p *fakeProvider) CreateCustomer(ctx context.Context, accountID, email string) (string, error) {
	if err := p.enter(ctx, "create_customer"); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	return fmt.Sprintf("cus_%d", p.seq), nil
}

func (p *fakeProvider) CreateSubscription(ctx context.Context, customerID, priceID string, trialDays int) (*ProviderSubscriptionState, error) {
	if err := p.enter(ctx, "create_subscription"); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	st := &ProviderSubscriptionState{
		SubscriptionID:     fmt.Sprintf("sub_%d", p.seq),
		CustomerID:         customerID,
		PriceID:            priceID,
		Status:             model.StatusActive,
		CurrentPeriodStart: baseTime,
		CurrentPeriodEnd:   baseTime.AddDate(0, 1, 0),
	}
	if trialDays > 0 {
		st.Status = model.StatusTrialing
		st.CurrentPeriodEnd = baseTime.AddDate(0, 0, trialDays)
	}
	p.subs[st.SubscriptionID] = st
	cp := *st
	return &cp, nil
}

func (p *fakeProvider) CreatePlanChange(ctx context.Context, subscriptionID, priceID string) (*ProviderSubscriptionState, error) {
	if err := p.enter(ctx, "create_plan_change"); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.subs[subscriptionID]
	if !ok {
		st = &ProviderSubscriptionState{SubscriptionID: subscriptionID}
		p.subs[subscriptionID] = st
	}
	st.PriceID = priceID
	cp := *st
	return &cp, nil
}

func (p *fakeProvider) ScheduleCancellation(ctx context.Context, subscriptionID string) error {
	return p.enter(ctx, "schedule_cancellation")
}

func (p *fakeProvider) ClearScheduledCancellation(ctx context.Context, subscriptionID string) error {
	return p.enter(ctx, "clear_scheduled_cancellation")
}

func (p *fakeProvider) ListInvoices(ctx context.Context, subscriptionID string) ([]model.Invoice, error) {
	if err := p.enter(ctx, "list_invoices"); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.Invoice(nil), p.invoices[subscriptionID]...), nil
}

func (p *fakeProvider) ListPaymentMethods(ctx context.Context, customerID string) ([]model.PaymentMethod, error) {
	if err := p.enter(ctx, "list_payment_methods"); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := append([]model.PaymentMethod(nil), p.methods[customerID]...)
	for i := range out {
		out[i].IsDefault = out[i].ID == p.defaults[customerID]
	}
	return out, nil
}

func (p *fakeProvider) AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	if err := p.enter(ctx, "attach_payment_method"); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	p.methods[customerID] = append(p.methods[customerID], model.PaymentMethod{
		ID:        paymentMethodID,
		Type:      "card",
		CardBrand: "visa",
		CardLast4: "4242",
		CreatedAt: baseTime.Add(time.Duration(p.seq) * time.Minute),
	})
	return nil
}

func (p *fakeProvider) DetachPaymentMethod(ctx context.Context, paymentMethodID string) error {
	if err := p.enter(ctx, "detach_payment_method"); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for customerID, methods := range p.methods {
		kept := methods[:0]
		for _, pm := range methods {
			if pm.ID != paymentMethodID {
				kept = append(kept, pm)
			}
		}
		p.methods[customerID] = kept
		if p.defaults[customerID] == paymentMethodID {
			delete(p.defaults, customerID)
		}
	}
	return nil
}

func (p *fakeProvider) SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	if err := p.enter(ctx, "set_default_payment_method"); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.defaults[customerID] = paymentMethodID
	return nil
}

type notification struct {
	kind   string
	subID  string
	fromID string
	toID   string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification
	err  error
}

func (n *recordingNotifier) record(kind string, sub *model.Subscription, from, to *model.Plan) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	nt := notification{kind: kind, subID: sub.ID}
	if from != nil {
		nt.fromID = from.ID
	}
	if to != nil {
		nt.toID = to.ID
	}
	n.sent = append(n.sent, nt)
	return n.err
}

func (n *recordingNotifier) PlanChanged(ctx context.Context, sub *model.Subscription, from, to *model.Plan) error {
	return n.record("plan_changed", sub, from, to)
}

func (n *recordingNotifier) CancellationScheduled(ctx context.Context, sub *model.Subscription, plan *model.Plan) error {
	return n.record("cancellation_scheduled", sub, nil, plan)
}

func (n *recordingNotifier) Reactivated(ctx context.Context, sub *model.Subscription, plan *model.Plan) error {
	return n.record("reactivated", sub, nil, plan)
}

func (n *recordingNotifier) PaymentFailed(ctx context.Context, sub *model.Subscription, plan *model.Plan) error {
	return n.record("payment_failed", sub, nil, plan)
}

func (n *recordingNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.sent))
	for _, s := range n.sent {
		out = append(out, s.kind)
	}
	return out
}

type countingMetrics struct {
	mu       sync.Mutex
	ops      map[string]int
	outcomes map[ReconcileOutcome]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{ops: make(map[string]int), outcomes: make(map[ReconcileOutcome]int)}
}

func (c *countingMetrics) ObserveOperation(op string, err error, elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ops[op]++
}

func (c *countingMetrics) ObserveProviderCall(string, error, time.Duration) {}

func (c *countingMetrics) ObserveReconcile(outcome ReconcileOutcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcomes[outcome]++
}

var testPlans = []model.Plan{
	{ID: "starter", Name: "Starter", PriceCents: 1900, Currency: "usd", Interval: model.IntervalMonth, MaxProducts: 50, MaxEmails: 1000, MaxSMS: 100, MaxAIGenerations: 200, ProviderPriceID: "price_starter", SortOrder: 1},
	{ID: "growth", Name: "Growth", PriceCents: 4900, Currency: "usd", Interval: model.IntervalMonth, MaxProducts: 500, MaxEmails: 10000, MaxSMS: 1000, MaxAIGenerations: model.Unlimited, ProviderPriceID: "price_growth", IsPopular: true, TrialDays: 14, SortOrder: 2},
	{ID: "enterprise", Name: "Enterprise", PriceCents: 19900, Currency: "usd", Interval: model.IntervalMonth, MaxProducts: model.Unlimited, MaxEmails: model.Unlimited, MaxSMS: model.Unlimited, MaxAIGenerations: model.Unlimited, SortOrder: 3},
}

type harness struct {
	store    *MemoryStore
	provider *fakeProvider
	notifier *recordingNotifier
	metrics  *countingMetrics
	manager  *Manager
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		store:    NewMemoryStore(),
		provider: newFakeProvider(),
		notifier: &recordingNotifier{},
		metrics:  newCountingMetrics(),
	}
	require.NoError(t, h.store.UpsertPlans(context.Background(), testPlans))
	h.manager = NewManager(h.store, h.provider, cfg,
		WithNotifier(h.notifier),
		WithMetrics(h.metrics),
	)
	return h
}

// seed stores a subscription directly, bypassing the provider.
func (h *harness) seed(t *testing.T, sub model.Subscription) *model.Subscription {
	t.Helper()
	if sub.ID == "" {
		sub.ID = "local-" + sub.AccountID
	}
	if sub.ProviderSubscriptionID == "" {
		sub.ProviderSubscriptionID = "sub_" + sub.AccountID
	}
	if sub.ProviderCustomerID == "" {
		sub.ProviderCustomerID = "cus_" + sub.AccountID
	}
	if sub.CurrentPeriodStart.IsZero() {
		sub.CurrentPeriodStart = baseTime
		sub.CurrentPeriodEnd = baseTime.AddDate(0, 1, 0)
	}
	require.NoError(t, h.store.CreateSubscription(context.Background(), &sub))
	return &sub
}

func (h *harness) stored(t *testing.T, accountID string) *model.Subscription {
	t.Helper()
	sub, err := h.store.CurrentSubscription(context.Background(), accountID)
	require.NoError(t, err)
	return sub
}
