package models

import "time"

// WebhookNonce is a single-use token blocking fast replays of a request,
// independent of the provider event id. Rows older than the accepted
// clock-skew window carry no information and are purged in small batches
// so the ledger stays bounded.
type WebhookNonce struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Source    string    `gorm:"type:varchar(20);not null;index:ux_webhook_nonces_source_nonce,unique,priority:1" json:"source"`
	Nonce     string    `gorm:"type:varchar(191);not null;index:ux_webhook_nonces_source_nonce,unique,priority:2" json:"nonce"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
