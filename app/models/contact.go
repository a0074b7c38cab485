package models

import "time"

// Contact is a supporter record created or updated by webhook mutation
// handlers. Email is the natural dedup key across sources.
type Contact struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Email       string    `gorm:"type:varchar(191);not null;uniqueIndex" json:"email"`
	FirstName   string    `gorm:"type:varchar(100)" json:"first_name"`
	LastName    string    `gorm:"type:varchar(100)" json:"last_name"`
	ExternalRef string    `gorm:"type:varchar(191);index" json:"external_ref"`
	Source      string    `gorm:"type:varchar(20);not null;index" json:"source"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
