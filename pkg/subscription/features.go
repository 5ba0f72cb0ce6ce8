package subscription

import (
	"context"
	"errors"

	"contentlift_backend/internal/model"
)

type Resource string

const (
	ResourceProducts      Resource = "products"
	ResourceEmails        Resource = "emails"
	ResourceSMS           Resource = "sms"
	ResourceAIGenerations Resource = "aiGenerations"
)

// PlanLimits is the usage allowance of a plan per billing period.
// model.Unlimited means no ceiling.
type PlanLimits struct {
	Products      int `json:"products"`
	Emails        int `json:"emails"`
	SMS           int `json:"sms"`
	AIGenerations int `json:"aiGenerations"`
}

func GetPlanLimits(plan *model.Plan) PlanLimits {
	if plan == nil {
		return PlanLimits{}
	}
	return PlanLimits{
		Products:      plan.MaxProducts,
		Emails:        plan.MaxEmails,
		SMS:           plan.MaxSMS,
		AIGenerations: plan.MaxAIGenerations,
	}
}

func (l PlanLimits) limit(r Resource) (int, bool) {
	switch r {
	case ResourceProducts:
		return l.Products, true
	case ResourceEmails:
		return l.Emails, true
	case ResourceSMS:
		return l.SMS, true
	case ResourceAIGenerations:
		return l.AIGenerations, true
	}
	return 0, false
}

// Allows reports whether one more unit of r fits after used units.
func (l PlanLimits) Allows(r Resource, used int) bool {
	max, ok := l.limit(r)
	if !ok {
		return false
	}
	if max == model.Unlimited {
		return true
	}
	return used < max
}

// Remaining returns how many units of r are left, or model.Unlimited.
func (l PlanLimits) Remaining(r Resource, used int) int {
	max, ok := l.limit(r)
	if !ok {
		return 0
	}
	if max == model.Unlimited {
		return model.Unlimited
	}
	if used >= max {
		return 0
	}
	return max - used
}

func (r Resource) Valid() bool {
	_, ok := PlanLimits{}.limit(r)
	return ok
}

// Allowance is the answer to "may this account use one more unit".
type Allowance struct {
	Resource  Resource `json:"resource"`
	Limit     int      `json:"limit"`
	Used      int      `json:"used"`
	Remaining int      `json:"remaining"`
	Allowed   bool     `json:"allowed"`
}

// Allowance checks used units of r against the plan of the account's live
// subscription. Accounts with no live subscription are allowed nothing.
func (m *Manager) Allowance(ctx context.Context, accountID string, r Resource, used int) (*Allowance, error) {
	if !r.Valid() {
		return nil, &NotFoundError{Resource: "usage resource", Key: string(r)}
	}
	out := &Allowance{Resource: r, Used: used}

	sub, err := m.current(ctx, accountID)
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	if !sub.Status.Billable() {
		return out, nil
	}
	plan, err := m.plan(ctx, sub.PlanID)
	if err != nil {
		return nil, err
	}

	limits := GetPlanLimits(plan)
	out.Limit, _ = limits.limit(r)
	out.Remaining = limits.Remaining(r, used)
	out.Allowed = limits.Allows(r, used)
	return out, nil
}
