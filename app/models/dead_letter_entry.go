package models

import "time"

// DeadLetterEntry holds an event that passed all admission checks but whose
// business mutation failed. A later reprocessing attempt that succeeds flips
// Resolved to true and the referenced WebhookEvent to processed.
type DeadLetterEntry struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	WebhookEventID uint       `gorm:"not null;uniqueIndex" json:"webhook_event_id"`
	FailureReason  string     `gorm:"type:text;not null" json:"failure_reason"`
	Attempts       int        `gorm:"not null;default:1" json:"attempts"`
	FirstFailedAt  time.Time  `gorm:"not null" json:"first_failed_at"`
	LastAttemptAt  time.Time  `gorm:"not null" json:"last_attempt_at"`
	Resolved       bool       `gorm:"not null;default:false;index" json:"resolved"`
	ResolvedAt     *time.Time `gorm:"type:timestamp;default:null" json:"resolved_at,omitempty"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
