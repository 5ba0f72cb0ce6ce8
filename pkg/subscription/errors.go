package subscription

import (
	"context"
	"errors"
	"fmt"

	"contentlift_backend/internal/model"
)

var (
	// ErrNoRecord is returned by stores when a lookup matches nothing.
	ErrNoRecord = errors.New("record not found")
	// ErrLiveSubscriptionExists is returned by stores asked to create a second
	// non-terminal subscription for an account.
	ErrLiveSubscriptionExists = errors.New("account already has a live subscription")
	// ErrMultipleDefaults is returned when more than one payment method of an
	// account is marked default.
	ErrMultipleDefaults = errors.New("more than one default payment method")
)

// NotFoundError reports a missing subscription, plan, invoice or payment method.
type NotFoundError struct {
	Resource string
	Key      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.Key)
}

// InvalidTransitionError reports an operation the current status forbids.
type InvalidTransitionError struct {
	Op     string
	Status model.SubscriptionStatus
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	if e.Status == "" {
		return fmt.Sprintf("cannot %s: %s", e.Op, e.Reason)
	}
	if e.Reason != "" {
		return fmt.Sprintf("cannot %s subscription in status %s: %s", e.Op, e.Status, e.Reason)
	}
	return fmt.Sprintf("cannot %s subscription in status %s", e.Op, e.Status)
}

// TerminalStateError is an InvalidTransitionError raised against a canceled
// subscription. Service can only resume through a new subscription.
type TerminalStateError struct {
	InvalidTransitionError
	SubscriptionID string
}

func newTerminalStateError(op, subscriptionID string) *TerminalStateError {
	return &TerminalStateError{
		InvalidTransitionError: InvalidTransitionError{
			Op:     op,
			Status: model.StatusCanceled,
			Reason: "subscription has ended, start a new one instead",
		},
		SubscriptionID: subscriptionID,
	}
}

func (e *TerminalStateError) Unwrap() error {
	return &e.InvalidTransitionError
}

// ProviderError wraps a failed or timed out billing provider call. Local
// state is never modified when one is returned.
type ProviderError struct {
	Op      string
	Timeout bool
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("billing provider %s timed out: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("billing provider %s failed: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func newProviderError(op string, err error) *ProviderError {
	return &ProviderError{
		Op:      op,
		Timeout: errors.Is(err, context.DeadlineExceeded),
		Err:     err,
	}
}

// StaleEventError marks a provider event older than, or equal to, the last
// one applied. Reconcile absorbs it.
type StaleEventError struct {
	EventID     string
	LastEventID string
}

func (e *StaleEventError) Error() string {
	return fmt.Sprintf("event %s is not newer than applied event %s", e.EventID, e.LastEventID)
}

// InvalidEventError reports a provider event that cannot be applied.
type InvalidEventError struct {
	EventID string
	Reason  string
}

func (e *InvalidEventError) Error() string {
	return fmt.Sprintf("event %s rejected: %s", e.EventID, e.Reason)
}

func notFound(resource, key string, err error) error {
	if errors.Is(err, ErrNoRecord) {
		return &NotFoundError{Resource: resource, Key: key}
	}
	return err
}
