package billing

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/webhook"

	"contentlift_backend/pkg/subscription"
)

var (
	// ErrInvalidSignature is returned for payloads not signed with the
	// endpoint secret.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrAPIVersionMismatch is returned for signed events rendered in an API
	// version other than the one the Stripe client decodes. The endpoint has
	// to be pinned to stripe.APIVersion.
	ErrAPIVersionMismatch = errors.New("webhook API version mismatch")
	// ErrUnhandledEvent is returned for event types that carry nothing to
	// reconcile. Callers acknowledge them.
	ErrUnhandledEvent = errors.New("unhandled event type")
)

// WebhookEvent is a verified Stripe event and its translation.
type WebhookEvent struct {
	ID    string
	Type  string
	Event *subscription.ProviderEvent
}

// ParseWebhook verifies the Stripe-Signature header and translates the event
// into a ProviderEvent. ErrUnhandledEvent and ErrAPIVersionMismatch come back
// with the event id and type filled in.
func ParseWebhook(payload []byte, signature, secret string) (*WebhookEvent, error) {
	if err := webhook.ValidatePayload(payload, signature, secret); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("decode webhook event: %w", err)
	}

	out := &WebhookEvent{ID: event.ID, Type: string(event.Type)}
	if event.APIVersion != stripe.APIVersion {
		return out, fmt.Errorf("%w: event has %s, expected %s", ErrAPIVersionMismatch, event.APIVersion, stripe.APIVersion)
	}
	pe, err := translate(&event)
	if err != nil {
		return out, err
	}
	out.Event = pe
	return out, nil
}

func translate(event *stripe.Event) (*subscription.ProviderEvent, error) {
	pe := &subscription.ProviderEvent{
		EventID:    event.ID,
		OccurredAt: unix(event.Created),
	}

	switch string(event.Type) {
	case "customer.subscription.created",
		"customer.subscription.updated",
		"customer.subscription.deleted",
		"customer.subscription.paused",
		"customer.subscription.resumed":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("decode subscription: %w", err)
		}
		status, err := mapStatus(sub.Status)
		if err != nil {
			return nil, err
		}
		pe.SubscriptionID = sub.ID
		pe.NewStatus = status
		pe.NewPeriodStart = unix(sub.CurrentPeriodStart)
		pe.NewPeriodEnd = unix(sub.CurrentPeriodEnd)
		cancelAtEnd := sub.CancelAtPeriodEnd
		pe.CancelAtPeriodEnd = &cancelAtEnd
		return pe, nil

	case "invoice.finalized",
		"invoice.paid",
		"invoice.payment_succeeded",
		"invoice.payment_failed",
		"invoice.voided",
		"invoice.marked_uncollectible":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("decode invoice: %w", err)
		}
		if inv.Subscription == nil || inv.Subscription.ID == "" {
			return nil, ErrUnhandledEvent
		}
		local := invoiceFromStripe(&inv)
		pe.SubscriptionID = inv.Subscription.ID
		pe.NewInvoice = &local
		return pe, nil
	}
	return nil, ErrUnhandledEvent
}
