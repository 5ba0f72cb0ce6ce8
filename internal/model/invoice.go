package model

import "time"

type InvoiceStatus string

const (
	InvoiceDraft         InvoiceStatus = "draft"
	InvoiceOpen          InvoiceStatus = "open"
	InvoicePaid          InvoiceStatus = "paid"
	InvoiceVoid          InvoiceStatus = "void"
	InvoiceUncollectible InvoiceStatus = "uncollectible"
)

// Invoice is created by the billing provider and never modified locally.
type Invoice struct {
	ID             string        `json:"id" gorm:"primaryKey;size:255"`
	SubscriptionID string        `json:"subscriptionId" gorm:"size:36;not null;index"`
	AccountID      string        `json:"accountId" gorm:"size:64;not null;index"`
	InvoiceNumber  string        `json:"invoiceNumber"`
	AmountCents    int64         `json:"amountCents"`
	Currency       string        `json:"currency" gorm:"size:3"`
	Status         InvoiceStatus `json:"status" gorm:"size:16"`
	DueDate        *time.Time    `json:"dueDate,omitempty"`
	PaidAt         *time.Time    `json:"paidAt,omitempty"`
	InvoiceURL     string        `json:"invoiceUrl,omitempty"`
	PDFURL         string        `json:"pdfUrl,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
}
