package models

import "time"

// NotificationKind tags the popup the client should render
type NotificationKind string

const (
	NotifyTierUnlocked      NotificationKind = "tier_unlocked"
	NotifyAchievementUnlock NotificationKind = "achievement_unlocked"
	NotifyTreeCompleted     NotificationKind = "skill_tree_completed"
)

// Notification is a queued popup for the app's push/SSE layer. Metadata carries
// structured hints (tier name, achievement key, certificate URL) as JSON.
type Notification struct {
	ID       string           `gorm:"primaryKey;type:uuid" json:"id"`
	UserID   string           `gorm:"index;not null" json:"user_id"`
	Kind     NotificationKind `gorm:"size:32;not null" json:"kind"`
	Message  string           `gorm:"type:text" json:"message"`
	Metadata string           `gorm:"type:jsonb" json:"metadata"`
	Viewed   bool             `gorm:"default:false;index" json:"viewed"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// CompletionEffect is the outbox row for a skill-tree completion's side effects
// (certificate upload, popup, email). Inserted in the same transaction that
// records completion, drained with retry by the effects worker so a delivery
// failure can never un-record completion.
type CompletionEffect struct {
	ID     string `gorm:"primaryKey;type:uuid" json:"id"`
	UserID string `gorm:"index;not null" json:"user_id"`
	TreeID string `gorm:"not null" json:"tree_id"`

	Attempts    int        `gorm:"default:0" json:"attempts"`
	ProcessedAt *time.Time `gorm:"index" json:"processed_at,omitempty"`
	LastError   string     `gorm:"type:text" json:"last_error,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
