package model

import (
	"time"

	"gorm.io/datatypes"
)

type BillingInterval string

const (
	IntervalMonth BillingInterval = "month"
	IntervalYear  BillingInterval = "year"
)

// Unlimited marks a usage limit with no ceiling.
const Unlimited = -1

// Plan is a catalog entry. Rows are written by the seeder only.
type Plan struct {
	ID               string                      `json:"id" gorm:"primaryKey;size:64"`
	Name             string                      `json:"name" gorm:"not null"`
	Description      string                      `json:"description"`
	PriceCents       int64                       `json:"priceCents" gorm:"not null"`
	Currency         string                      `json:"currency" gorm:"size:3;not null;default:'usd'"`
	Interval         BillingInterval             `json:"interval" gorm:"size:8;not null"`
	Features         datatypes.JSONSlice[string] `json:"features"`
	MaxProducts      int                         `json:"maxProducts" gorm:"not null"`
	MaxEmails        int                         `json:"maxEmails" gorm:"not null"`
	MaxSMS           int                         `json:"maxSms" gorm:"not null"`
	MaxAIGenerations int                         `json:"maxAiGenerations" gorm:"not null"`
	IsPopular        bool                        `json:"isPopular" gorm:"default:false"`
	TrialDays        int                         `json:"trialDays" gorm:"default:0"`
	ProviderPriceID  string                      `json:"providerPriceId,omitempty"`
	SortOrder        int                         `json:"-" gorm:"default:0"`
	CreatedAt        time.Time                   `json:"-"`
	UpdatedAt        time.Time                   `json:"-"`
}

func (p *Plan) HasTrial() bool {
	return p.TrialDays > 0
}

// Purchasable reports whether the provider knows a price for this plan.
func (p *Plan) Purchasable() bool {
	return p.ProviderPriceID != ""
}
