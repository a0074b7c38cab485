package models

import "time"

// RateLimitBucket is one token bucket per (source, bucket_key) pair.
// Token counts are kept in milli-tokens so refill arithmetic stays in
// integers and never drifts. Buckets are created lazily on first use and
// swept once idle long enough (capacity / refill rate) that their state
// carries no remaining information.
type RateLimitBucket struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	Source            string    `gorm:"type:varchar(20);not null;index:ux_rate_limit_buckets_source_key,unique,priority:1" json:"source"`
	BucketKey         string    `gorm:"type:varchar(100);not null;index:ux_rate_limit_buckets_source_key,unique,priority:2" json:"bucket_key"`
	TokensMilli       int64     `gorm:"not null" json:"tokens_milli"`
	CapacityMilli     int64     `gorm:"not null" json:"capacity_milli"`
	RefillMilliPerSec int64     `gorm:"not null" json:"refill_milli_per_sec"`
	LastRefillAt      time.Time `gorm:"not null;index" json:"last_refill_at"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// IdleCutoff returns how long the bucket may sit untouched before it is
// guaranteed to be back at full capacity and safe to delete.
func (b *RateLimitBucket) IdleCutoff() time.Duration {
	if b.RefillMilliPerSec <= 0 {
		return 0
	}
	return time.Duration(b.CapacityMilli/b.RefillMilliPerSec) * time.Second
}
