package models

import "time"

// Subscription statuses mirrored from membership providers.
const (
	SubscriptionStatusActive   = "active"
	SubscriptionStatusPastDue  = "past_due"
	SubscriptionStatusCanceled = "canceled"
)

// Subscription is a membership record kept in sync by webhook mutation
// handlers. ProviderRef is unique per source.
type Subscription struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	ContactID        uint       `gorm:"not null;index" json:"contact_id"`
	Source           string     `gorm:"type:varchar(20);not null;index:ux_subscriptions_source_ref,unique,priority:1" json:"source"`
	ProviderRef      string     `gorm:"type:varchar(191);not null;index:ux_subscriptions_source_ref,unique,priority:2" json:"provider_ref"`
	Plan             string     `gorm:"type:varchar(50);not null" json:"plan"`
	Status           string     `gorm:"type:varchar(20);not null;index" json:"status"`
	CurrentPeriodEnd *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
