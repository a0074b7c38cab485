package models

import "time"

// Webhook event processing states. A row is claimed as StatusReceived,
// moves to StatusProcessing exactly once before its mutation runs, and
// reaches StatusProcessed or StatusFailed at most once; StatusFailed may
// move to StatusProcessed exactly once via dead-letter reprocessing.
const (
	WebhookStatusReceived   = "received"
	WebhookStatusProcessing = "processing"
	WebhookStatusProcessed  = "processed"
	WebhookStatusFailed     = "failed"
	WebhookStatusDuplicate  = "duplicate"
)

// Known webhook sources.
const (
	SourcePaygrid   = "paygrid"
	SourceMemberly  = "memberly"
	SourceTickettap = "tickettap"
)

// WebhookEvent is the idempotency ledger: one row per logical event ever
// accepted, keyed by (source, provider_event_id). The unique index turns
// concurrent check-then-insert races into a detectable collision instead
// of a silent double-write.
type WebhookEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	PublicID        string     `gorm:"type:varchar(36);not null;uniqueIndex" json:"public_id"`
	Source          string     `gorm:"type:varchar(20);not null;index:ux_webhook_events_source_event,unique,priority:1;index" json:"source"`
	ProviderEventID string     `gorm:"type:varchar(191);not null;index:ux_webhook_events_source_event,unique,priority:2" json:"provider_event_id"`
	EventType       string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	PayloadHash     string     `gorm:"type:char(64);not null;index" json:"payload_hash"`
	RawPayload      string     `gorm:"type:longtext;not null" json:"raw_payload"`
	ContactID       *uint      `gorm:"index" json:"contact_id,omitempty"`
	TransactionID   *uint      `gorm:"index" json:"transaction_id,omitempty"`
	SubscriptionID  *uint      `gorm:"index" json:"subscription_id,omitempty"`
	Status          string     `gorm:"type:varchar(20);not null;default:'received';index" json:"status"`
	ErrorDetail     string     `gorm:"type:text" json:"error_detail"`
	ReceivedAt      time.Time  `gorm:"autoCreateTime;index" json:"received_at"`
	ProcessedAt     *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsTerminal reports whether the event can no longer change state, except
// for the one allowed failed -> processed transition on reprocessing.
func (e *WebhookEvent) IsTerminal() bool {
	switch e.Status {
	case WebhookStatusProcessed, WebhookStatusFailed, WebhookStatusDuplicate:
		return true
	default:
		return false
	}
}
