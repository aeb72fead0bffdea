package models

import (
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"gorm.io/gorm"
)

const appIDLength = 16

// App is a wrapped web site. Push subscriptions and notifications are scoped to it.
type App struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID    string    `gorm:"type:varchar(36);not null;index" json:"user_id"`
	Name      string    `gorm:"type:varchar(255);not null" json:"name"`
	TargetURL string    `gorm:"type:text;not null" json:"target_url"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	User User `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
}

func (a *App) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		id, err := gonanoid.New(appIDLength)
		if err != nil {
			return err
		}
		a.ID = id
	}
	return nil
}
