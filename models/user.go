package models

import "time"

// LearnerProfile is a local snapshot of the user data this service needs:
// a display name for certificates and an email address for the completion
// mail. Owned by the auth/profile side of the app; populated out-of-band.
type LearnerProfile struct {
	ID          string `gorm:"primaryKey;type:uuid" json:"id"`
	UserID      string `gorm:"uniqueIndex;not null" json:"user_id"`
	DisplayName string `gorm:"not null" json:"display_name"`
	Email       string `json:"email,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
