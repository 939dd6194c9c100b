package models

import "time"

// AchievementConditionType selects which activity counter an achievement tracks
type AchievementConditionType string

const (
	ConditionTotalCardsStudied AchievementConditionType = "total_cards_studied"
	ConditionTotalCardsCreated AchievementConditionType = "total_cards_created"
)

// AchievementDefinition: admin-authored condition with a numeric target.
// Key is URL-safe (slugged on create) and unique.
type AchievementDefinition struct {
	ID            string                   `gorm:"primaryKey;type:uuid" json:"id"`
	Key           string                   `gorm:"uniqueIndex;not null" json:"key"` // e.g. "study-marathon-50"
	Name          string                   `gorm:"not null" json:"name"`
	Description   string                   `gorm:"type:text" json:"description"`
	ImageURL      string                   `gorm:"type:text" json:"image_url"`
	ConditionType AchievementConditionType `gorm:"size:32;not null" json:"condition_type"`
	Target        int64                    `gorm:"not null" json:"target"`
	CreatedAt     time.Time                `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt     time.Time                `json:"updated_at" gorm:"autoUpdateTime"`
}

// UserAchievementUnlock: awarded instance. The (user, achievement) unique index is
// the idempotency enforcement point; unlock inserts are ON CONFLICT DO NOTHING.
type UserAchievementUnlock struct {
	ID            string    `gorm:"primaryKey;type:uuid" json:"id"`
	UserID        string    `gorm:"not null;uniqueIndex:idx_user_achievement,priority:1" json:"user_id"`
	AchievementID string    `gorm:"not null;uniqueIndex:idx_user_achievement,priority:2" json:"achievement_id"`
	UnlockedAt    time.Time `gorm:"autoCreateTime" json:"unlocked_at"`
}

// BadgeStatus is the display shape returned to the dashboard: every defined
// achievement with the user's live progress against it.
type BadgeStatus struct {
	Key         string     `json:"key"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	ImageURL    string     `json:"image_url"`
	Target      int64      `json:"target"`
	Progress    int64      `json:"progress"`
	Unlocked    bool       `json:"unlocked"`
	UnlockedAt  *time.Time `json:"unlocked_at,omitempty"`
}
