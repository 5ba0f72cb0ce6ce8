package model

import (
	"errors"
	"time"
)

var ErrInvalidPeriod = errors.New("current period end must be after period start")

// Subscription binds an account to a plan for a billing period. At most one
// row per account may be in a non-terminal status.
type Subscription struct {
	ID                     string             `json:"id" gorm:"primaryKey;size:36"`
	AccountID              string             `json:"accountId" gorm:"size:64;not null;index;uniqueIndex:idx_subscriptions_one_live,where:status <> 'canceled'"`
	PlanID                 string             `json:"planId" gorm:"size:64;not null"`
	Status                 SubscriptionStatus `json:"status" gorm:"size:16;not null"`
	CurrentPeriodStart     time.Time          `json:"currentPeriodStart" gorm:"not null"`
	CurrentPeriodEnd       time.Time          `json:"currentPeriodEnd" gorm:"not null;index"`
	CancelAtPeriodEnd      bool               `json:"cancelAtPeriodEnd" gorm:"not null;default:false"`
	CanceledAt             *time.Time         `json:"canceledAt,omitempty"`
	ProviderSubscriptionID string             `json:"-" gorm:"size:255;uniqueIndex"`
	ProviderCustomerID     string             `json:"-" gorm:"size:255;index"`
	BillingEmail           string             `json:"-" gorm:"size:255"`
	LastEventID            string             `json:"-" gorm:"size:255"`
	LastEventAt            *time.Time         `json:"-"`
	CreatedAt              time.Time          `json:"createdAt"`
	UpdatedAt              time.Time          `json:"updatedAt"`

	Plan *Plan `json:"plan,omitempty" gorm:"foreignKey:PlanID"`
}

func (s *Subscription) ValidatePeriod() error {
	if !s.CurrentPeriodEnd.After(s.CurrentPeriodStart) {
		return ErrInvalidPeriod
	}
	return nil
}

// EventApplied reports whether an event keyed (at, id) is at or before the
// last event applied to this record. Provider timestamps have one-second
// resolution and event ids are not sequential, so two events from the same
// second are ordered deterministically but not necessarily as they happened.
func (s *Subscription) EventApplied(at time.Time, id string) bool {
	if s.LastEventAt == nil {
		return false
	}
	if at.Before(*s.LastEventAt) {
		return true
	}
	if at.Equal(*s.LastEventAt) {
		return id <= s.LastEventID
	}
	return false
}
