package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/webhook"

	"contentlift_backend/internal/middleware"
	"contentlift_backend/internal/model"
	"contentlift_backend/pkg/billing"
	"contentlift_backend/pkg/subscription"
	"contentlift_backend/pkg/utils/jwt"
)

const webhookSecret = "whsec_test"

// flakyProvider fails or hangs cancellation scheduling on demand.
type flakyProvider struct {
	*billing.Sandbox
	mu    sync.Mutex
	err   error
	block bool
}

func (p *flakyProvider) ScheduleCancellation(ctx context.Context, subscriptionID string) error {
	p.mu.Lock()
	err, block := p.err, p.block
	p.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if err != nil {
		return err
	}
	return p.Sandbox.ScheduleCancellation(ctx, subscriptionID)
}

type archivedEvent struct {
	id, typ string
	payload []byte
}

type memoryArchiver struct {
	mu     sync.Mutex
	events []archivedEvent
}

func (a *memoryArchiver) Archive(_ context.Context, id, typ string, _ time.Time, payload []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, archivedEvent{id: id, typ: typ, payload: payload})
	return nil
}

type testEnv struct {
	app      *fiber.App
	store    *subscription.MemoryStore
	provider *flakyProvider
	archiver *memoryArchiver
	signer   *jwt.Signer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	store := subscription.NewMemoryStore()
	require.NoError(t, store.UpsertPlans(ctx, []model.Plan{
		{ID: "starter", Name: "Starter", PriceCents: 1900, Currency: "usd", Interval: model.IntervalMonth, ProviderPriceID: "price_starter", MaxProducts: 50, SortOrder: 0},
		{ID: "growth", Name: "Growth", PriceCents: 4900, Currency: "usd", Interval: model.IntervalMonth, TrialDays: 14, ProviderPriceID: "price_growth", SortOrder: 1},
		{ID: "enterprise", Name: "Enterprise", Interval: model.IntervalMonth, SortOrder: 2},
	}))

	log, _ := test.NewNullLogger()
	provider := &flakyProvider{Sandbox: billing.NewSandbox()}
	manager := subscription.NewManager(store, provider, subscription.Config{ProviderTimeout: 50 * time.Millisecond}, subscription.WithLogger(log))
	archiver := &memoryArchiver{}
	signer := jwt.NewSigner("test-secret")

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(log)})
	SetupRoutes(app, Handlers{
		Auth:          middleware.AuthMiddleware(signer),
		Subscriptions: NewSubscriptionController(manager),
		Billing:       NewBillingController(manager),
		Webhooks:      NewWebhookController(manager, archiver, webhookSecret, log),
	})

	return &testEnv{app: app, store: store, provider: provider, archiver: archiver, signer: signer}
}

func (e *testEnv) do(t *testing.T, method, path, body, account string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if account != "" {
		token, err := e.signer.GenerateToken(account, account+"@example.com")
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func errorMessage(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	decode(t, resp, &body)
	return body.Error
}

type subscriptionResponse struct {
	Message      string             `json:"message"`
	Subscription model.Subscription `json:"subscription"`
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/api/subscription/current", "", "")
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	req := httptest.NewRequest(http.MethodGet, "/api/subscription/current", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	resp, err := env.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestListPlansIsPublic(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/api/subscription-plans", "", "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var plans []model.Plan
	decode(t, resp, &plans)
	require.Len(t, plans, 3)
	assert.Equal(t, "starter", plans[0].ID)
}

func TestCurrentSubscriptionNotFound(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/api/subscription/current", "", "acct-1")
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	assert.Contains(t, errorMessage(t, resp), "not found")
}

func TestSubscriptionLifecycle(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/subscription/checkout", `{"planId":"starter"}`, "acct-1")
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	var created subscriptionResponse
	decode(t, resp, &created)
	assert.Equal(t, model.StatusActive, created.Subscription.Status)
	assert.Equal(t, "starter", created.Subscription.PlanID)

	resp = env.do(t, http.MethodPost, "/api/subscription/checkout", `{"planId":"growth"}`, "acct-1")
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/subscription/change-plan", `{"planId":"growth"}`, "acct-1")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var changed subscriptionResponse
	decode(t, resp, &changed)
	assert.Equal(t, "growth", changed.Subscription.PlanID)

	resp = env.do(t, http.MethodPost, "/api/subscription/cancel", "", "acct-1")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var canceled subscriptionResponse
	decode(t, resp, &canceled)
	assert.True(t, canceled.Subscription.CancelAtPeriodEnd)
	assert.Equal(t, model.StatusActive, canceled.Subscription.Status)

	resp = env.do(t, http.MethodPost, "/api/subscription/reactivate", "", "acct-1")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var reactivated subscriptionResponse
	decode(t, resp, &reactivated)
	assert.False(t, reactivated.Subscription.CancelAtPeriodEnd)

	resp = env.do(t, http.MethodGet, "/api/subscription/current", "", "acct-1")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var current struct {
		Subscription model.Subscription      `json:"subscription"`
		Badge        model.StatusBadge       `json:"badge"`
		Limits       subscription.PlanLimits `json:"limits"`
	}
	decode(t, resp, &current)
	assert.Equal(t, "Active", current.Badge.Label)
	require.NotNil(t, current.Subscription.Plan)
	assert.Equal(t, "Growth", current.Subscription.Plan.Name)
}

func TestCheckoutValidation(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/subscription/checkout", `{}`, "acct-1")
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "planId is required", errorMessage(t, resp))

	resp = env.do(t, http.MethodPost, "/api/subscription/checkout", `{"planId":`, "acct-1")
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/subscription/checkout", `{"planId":"platinum"}`, "acct-1")
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/subscription/checkout", `{"planId":"enterprise"}`, "acct-1")
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
}

func TestCancelWithoutSubscriptionIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodPost, "/api/subscription/cancel", "", "acct-1")
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestProviderFailuresLeaveStateUntouched(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodPost, "/api/subscription/checkout", `{"planId":"starter"}`, "acct-1")
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	env.provider.mu.Lock()
	env.provider.err = errors.New("stripe unavailable")
	env.provider.mu.Unlock()
	resp = env.do(t, http.MethodPost, "/api/subscription/cancel", "", "acct-1")
	assert.Equal(t, fiber.StatusBadGateway, resp.StatusCode)

	env.provider.mu.Lock()
	env.provider.err, env.provider.block = nil, true
	env.provider.mu.Unlock()
	resp = env.do(t, http.MethodPost, "/api/subscription/cancel", "", "acct-1")
	assert.Equal(t, fiber.StatusGatewayTimeout, resp.StatusCode)

	sub, err := env.store.CurrentSubscription(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.False(t, sub.CancelAtPeriodEnd)
}

func TestInvoices(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodPost, "/api/subscription/checkout", `{"planId":"starter"}`, "acct-1")
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/invoices", "", "acct-1")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var invoices []model.Invoice
	decode(t, resp, &invoices)
	require.Len(t, invoices, 1)

	resp = env.do(t, http.MethodGet, "/api/invoices/"+invoices[0].ID+"/download", "", "acct-1")
	assert.Equal(t, fiber.StatusFound, resp.StatusCode)
	assert.Equal(t, invoices[0].PDFURL, resp.Header.Get("Location"))

	resp = env.do(t, http.MethodGet, "/api/invoices/"+invoices[0].ID+"/download", "", "acct-2")
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/invoices/in_missing/download", "", "acct-1")
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestPaymentMethods(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodPost, "/api/subscription/checkout", `{"planId":"starter"}`, "acct-1")
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/payment-methods", `{"paymentMethodId":"pm_one","makeDefault":true}`, "acct-1")
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	resp = env.do(t, http.MethodPost, "/api/payment-methods", `{"paymentMethodId":"pm_two"}`, "acct-1")
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	var methods []model.PaymentMethod
	decode(t, resp, &methods)
	require.Len(t, methods, 2)

	resp = env.do(t, http.MethodPut, "/api/payment-methods/pm_two/default", "", "acct-1")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	decode(t, resp, &methods)
	for _, pm := range methods {
		assert.Equal(t, pm.ID == "pm_two", pm.IsDefault, pm.ID)
	}

	resp = env.do(t, http.MethodDelete, "/api/payment-methods/pm_one", "", "acct-1")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	decode(t, resp, &methods)
	require.Len(t, methods, 1)
	assert.Equal(t, "pm_two", methods[0].ID)

	resp = env.do(t, http.MethodDelete, "/api/payment-methods/pm_unknown", "", "acct-1")
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/payment-methods", `{"makeDefault":true}`, "acct-1")
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "paymentMethodId is required", errorMessage(t, resp))
}

func TestOverview(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodPost, "/api/subscription/checkout", `{"planId":"growth"}`, "acct-1")
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/subscription/overview", "", "acct-1")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var ov subscription.Overview
	decode(t, resp, &ov)
	assert.Equal(t, model.StatusTrialing, ov.Subscription.Status)
	assert.Equal(t, "Trial", ov.Badge.Label)
	assert.Empty(t, ov.Invoices)
}

func TestAllowance(t *testing.T) {
	env := newTestEnv(t)

	var a subscription.Allowance
	resp := env.do(t, http.MethodGet, "/api/subscription/allowance/products", "", "acct-1")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	decode(t, resp, &a)
	assert.False(t, a.Allowed)

	resp = env.do(t, http.MethodPost, "/api/subscription/checkout", `{"planId":"starter"}`, "acct-1")
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/subscription/allowance/products?used=45", "", "acct-1")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	decode(t, resp, &a)
	assert.True(t, a.Allowed)
	assert.Equal(t, 50, a.Limit)
	assert.Equal(t, 5, a.Remaining)

	resp = env.do(t, http.MethodGet, "/api/subscription/allowance/storage", "", "acct-1")
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/subscription/allowance/products?used=-1", "", "acct-1")
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func signPayload(payload []byte) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: payload,
		Secret:  webhookSecret,
	}).Header
}

func subscriptionEvent(id, subID, status string, created, start, end int64) []byte {
	return []byte(fmt.Sprintf(`{
  "id": %q,
  "object": "event",
  "api_version": %q,
  "created": %d,
  "type": "customer.subscription.updated",
  "data": {"object": {
    "id": %q,
    "object": "subscription",
    "status": %q,
    "current_period_start": %d,
    "current_period_end": %d,
    "cancel_at_period_end": false
  }}
}`, id, stripe.APIVersion, created, subID, status, start, end))
}

func (e *testEnv) webhook(t *testing.T, payload []byte, signature string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/webhook", strings.NewReader(string(payload)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", signature)
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	var body struct {
		Outcome string `json:"outcome"`
	}
	if resp.StatusCode == fiber.StatusOK {
		decode(t, resp, &body)
	}
	return resp.StatusCode, body.Outcome
}

func TestWebhookReconciles(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodPost, "/api/subscription/checkout", `{"planId":"starter"}`, "acct-1")
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	sub, err := env.store.CurrentSubscription(context.Background(), "acct-1")
	require.NoError(t, err)

	start := sub.CurrentPeriodStart.Unix()
	end := sub.CurrentPeriodEnd.Unix()
	payload := subscriptionEvent("evt_1", sub.ProviderSubscriptionID, "past_due", time.Now().Unix(), start, end)

	code, outcome := env.webhook(t, payload, signPayload(payload))
	require.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, string(subscription.OutcomeApplied), outcome)

	sub, err = env.store.CurrentSubscription(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPastDue, sub.Status)

	code, outcome = env.webhook(t, payload, signPayload(payload))
	require.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, string(subscription.OutcomeDuplicate), outcome)

	env.archiver.mu.Lock()
	defer env.archiver.mu.Unlock()
	require.Len(t, env.archiver.events, 2)
	assert.Equal(t, "evt_1", env.archiver.events[0].id)
	assert.Equal(t, "customer.subscription.updated", env.archiver.events[0].typ)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	env := newTestEnv(t)
	payload := subscriptionEvent("evt_1", "sub_1", "active", time.Now().Unix(), 1, 2)

	code, _ := env.webhook(t, payload, "t=1,v1=deadbeef")
	assert.Equal(t, fiber.StatusBadRequest, code)

	env.archiver.mu.Lock()
	defer env.archiver.mu.Unlock()
	assert.Empty(t, env.archiver.events)
}

func TestWebhookRejectsOtherAPIVersion(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now().Unix()
	payload := []byte(fmt.Sprintf(`{"id":"evt_1","object":"event","api_version":"2024-06-20","created":%d,"type":"customer.subscription.updated","data":{"object":{"id":"sub_1","object":"subscription","status":"active"}}}`, now))

	req := httptest.NewRequest(http.MethodPost, "/api/webhook", strings.NewReader(string(payload)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", signPayload(payload))
	resp, err := env.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Unsupported webhook API version", errorMessage(t, resp))

	env.archiver.mu.Lock()
	defer env.archiver.mu.Unlock()
	require.Len(t, env.archiver.events, 1)
	assert.Equal(t, "evt_1", env.archiver.events[0].id)
}

func TestWebhookAcknowledgesWhatRetriesCannotFix(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now().Unix()

	unknown := subscriptionEvent("evt_1", "sub_nobody", "active", now, now, now+3600)
	code, outcome := env.webhook(t, unknown, signPayload(unknown))
	assert.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, string(subscription.OutcomeUnknown), outcome)

	other := []byte(fmt.Sprintf(`{"id":"evt_2","object":"event","api_version":%q,"created":%d,"type":"customer.created","data":{"object":{"id":"cus_1","object":"customer"}}}`, stripe.APIVersion, now))
	code, outcome = env.webhook(t, other, signPayload(other))
	assert.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, string(subscription.OutcomeIgnored), outcome)
}

func TestWebhookRejectsReopeningCanceled(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodPost, "/api/subscription/checkout", `{"planId":"starter"}`, "acct-1")
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	sub, err := env.store.CurrentSubscription(context.Background(), "acct-1")
	require.NoError(t, err)
	start, end := sub.CurrentPeriodStart.Unix(), sub.CurrentPeriodEnd.Unix()
	now := time.Now().Unix()

	deleted := subscriptionEvent("evt_1", sub.ProviderSubscriptionID, "canceled", now, start, end)
	code, outcome := env.webhook(t, deleted, signPayload(deleted))
	require.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, string(subscription.OutcomeApplied), outcome)

	reopened := subscriptionEvent("evt_2", sub.ProviderSubscriptionID, "active", now+1, start, end)
	code, outcome = env.webhook(t, reopened, signPayload(reopened))
	require.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, string(subscription.OutcomeRejected), outcome)

	resp = env.do(t, http.MethodPost, "/api/subscription/reactivate", "", "acct-1")
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{fiber.NewError(fiber.StatusTeapot, "teapot"), fiber.StatusTeapot},
		{&subscription.NotFoundError{Resource: "plan", Key: "x"}, fiber.StatusNotFound},
		{fmt.Errorf("wrapped: %w", &subscription.InvalidTransitionError{Op: "cancel", Status: model.StatusCanceled}), fiber.StatusConflict},
		{&subscription.TerminalStateError{InvalidTransitionError: subscription.InvalidTransitionError{Op: "reactivate", Status: model.StatusCanceled}}, fiber.StatusConflict},
		{&subscription.ProviderError{Op: "cancel", Err: errors.New("down")}, fiber.StatusBadGateway},
		{&subscription.ProviderError{Op: "cancel", Timeout: true, Err: context.DeadlineExceeded}, fiber.StatusGatewayTimeout},
		{&subscription.InvalidEventError{EventID: "evt_1", Reason: "bad"}, fiber.StatusBadRequest},
		{errors.New("disk full"), fiber.StatusInternalServerError},
	}
	for _, tc := range cases {
		code, msg := statusFor(tc.err)
		assert.Equal(t, tc.code, code, tc.err.Error())
		assert.NotEmpty(t, msg)
	}
}
