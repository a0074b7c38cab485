package models

import "time"

// Transaction kinds.
const (
	TransactionKindPayment = "payment"
	TransactionKindRefund  = "refund"
	TransactionKindTicket  = "ticket"
)

// Transaction is a monetary record (payment, refund or ticket purchase)
// created by webhook mutation handlers. ProviderRef is unique per source so
// a re-run of the same handler upserts instead of double-booking.
type Transaction struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	ContactID   uint      `gorm:"not null;index" json:"contact_id"`
	Source      string    `gorm:"type:varchar(20);not null;index:ux_transactions_source_ref,unique,priority:1" json:"source"`
	ProviderRef string    `gorm:"type:varchar(191);not null;index:ux_transactions_source_ref,unique,priority:2" json:"provider_ref"`
	Kind        string    `gorm:"type:varchar(20);not null;index" json:"kind"`
	AmountCents int64     `gorm:"not null" json:"amount_cents"`
	Currency    string    `gorm:"type:char(3);not null;default:'EUR'" json:"currency"`
	OccurredAt  time.Time `gorm:"not null;index" json:"occurred_at"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
