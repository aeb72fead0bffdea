package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PushSubscription is one device registration for one app.
// (AppID, Endpoint) is unique; re-registering an endpoint rotates its keys in place.
type PushSubscription struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	AppID     string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_app_endpoint,priority:1" json:"app_id"`
	Endpoint  string    `gorm:"type:text;not null;uniqueIndex:idx_app_endpoint,priority:2" json:"endpoint"`
	P256DH    string    `gorm:"column:p256dh;type:text;not null" json:"p256dh"`
	Auth      string    `gorm:"type:text;not null" json:"auth"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	App App `gorm:"foreignKey:AppID;constraint:OnDelete:CASCADE" json:"-"`
}

func (p *PushSubscription) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	return nil
}
