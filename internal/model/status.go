package model

import "fmt"

// SubscriptionStatus mirrors the provider's subscription lifecycle.
type SubscriptionStatus string

const (
	StatusIncomplete SubscriptionStatus = "incomplete"
	StatusTrialing   SubscriptionStatus = "trialing"
	StatusActive     SubscriptionStatus = "active"
	StatusPastDue    SubscriptionStatus = "past_due"
	StatusCanceled   SubscriptionStatus = "canceled"
)

// transitions lists the statuses reachable from each status. Staying in the
// same non-terminal status (period rollover) is always allowed and not listed.
var transitions = map[SubscriptionStatus][]SubscriptionStatus{
	StatusIncomplete: {StatusTrialing, StatusActive, StatusCanceled},
	StatusTrialing:   {StatusActive, StatusPastDue, StatusCanceled},
	StatusActive:     {StatusPastDue, StatusCanceled},
	StatusPastDue:    {StatusActive, StatusCanceled},
	StatusCanceled:   nil,
}

type StatusBadge struct {
	Label string `json:"label"`
	Tone  string `json:"tone"`
}

var badges = map[SubscriptionStatus]StatusBadge{
	StatusIncomplete: {Label: "Incomplete", Tone: "neutral"},
	StatusTrialing:   {Label: "Trial", Tone: "info"},
	StatusActive:     {Label: "Active", Tone: "success"},
	StatusPastDue:    {Label: "Past Due", Tone: "warning"},
	StatusCanceled:   {Label: "Cancelled", Tone: "danger"},
}

func ParseSubscriptionStatus(s string) (SubscriptionStatus, error) {
	st := SubscriptionStatus(s)
	if _, ok := transitions[st]; !ok {
		return "", fmt.Errorf("unknown subscription status %q", s)
	}
	return st, nil
}

func (s SubscriptionStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

func (s SubscriptionStatus) IsTerminal() bool {
	return s == StatusCanceled
}

// Billable reports whether plan changes and cancellation may be requested.
func (s SubscriptionStatus) Billable() bool {
	switch s {
	case StatusActive, StatusTrialing, StatusPastDue:
		return true
	}
	return false
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
func (s SubscriptionStatus) CanTransitionTo(next SubscriptionStatus) bool {
	if !next.Valid() {
		return false
	}
	if s == next {
		return !s.IsTerminal()
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s SubscriptionStatus) Badge() StatusBadge {
	if b, ok := badges[s]; ok {
		return b
	}
	return StatusBadge{Label: string(s), Tone: "neutral"}
}
