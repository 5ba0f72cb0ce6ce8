package model

import "time"

// PaymentMethod is a provider-side payment instrument cached per account.
type PaymentMethod struct {
	ID           string    `json:"id" gorm:"primaryKey;size:255"`
	AccountID    string    `json:"accountId" gorm:"size:64;not null;index;uniqueIndex:idx_payment_methods_one_default,where:is_default = true"`
	Type         string    `json:"type" gorm:"size:32"`
	CardBrand    string    `json:"cardBrand,omitempty"`
	CardLast4    string    `json:"cardLast4,omitempty" gorm:"size:4"`
	CardExpMonth int       `json:"cardExpMonth,omitempty"`
	CardExpYear  int       `json:"cardExpYear,omitempty"`
	IsDefault    bool      `json:"isDefault" gorm:"not null;default:false"`
	CreatedAt    time.Time `json:"createdAt"`
}
