package models

import (
	"time"

	"gorm.io/gorm"
)

// UserProgressionStats tracks gamified progression for each user (denormalized for performance)
type UserProgressionStats struct {
	ID     string `gorm:"primaryKey;type:uuid" json:"id"`
	UserID string `gorm:"uniqueIndex;not null" json:"user_id"` // links to auth service

	// Core progression
	TotalXP int64  `json:"total_xp" gorm:"default:0"`
	Tier    string `json:"tier" gorm:"size:32;default:'Bronze'"` // cached; always recomputed alongside TotalXP

	// Daily streak (maintained by the study scheduler, not by this engine)
	CurrentStreak int        `json:"current_streak" gorm:"default:0"`
	LongestStreak int        `json:"longest_streak" gorm:"default:0"`
	LastStudyDate *time.Time `json:"last_study_date,omitempty"`

	LastTierUpAt *time.Time `json:"last_tier_up_at,omitempty"`

	Timestamps
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// TierDefinition is one reward band of the fixed tier ladder.
// The table is a constant; it is never persisted.
type TierDefinition struct {
	Name        string `json:"name"`
	XPThreshold int64  `json:"xp_threshold"`
	BadgeImage  string `json:"badge_image"`
}

// TierLadder is ordered by ascending threshold; tier resolution relies on that order.
var TierLadder = []TierDefinition{
	{Name: "Bronze", XPThreshold: 0, BadgeImage: "/badges/tiers/bronze.png"},
	{Name: "Silver", XPThreshold: 500, BadgeImage: "/badges/tiers/silver.png"},
	{Name: "Gold", XPThreshold: 1500, BadgeImage: "/badges/tiers/gold.png"},
	{Name: "Emerald", XPThreshold: 3000, BadgeImage: "/badges/tiers/emerald.png"},
	{Name: "Sapphire", XPThreshold: 5000, BadgeImage: "/badges/tiers/sapphire.png"},
	{Name: "Ruby", XPThreshold: 8000, BadgeImage: "/badges/tiers/ruby.png"},
	{Name: "Diamond", XPThreshold: 12000, BadgeImage: "/badges/tiers/diamond.png"},
}

// XPAction is a named learning event with a fixed XP value.
// Skill-tree rewards are variable and granted directly, not through this table.
type XPAction string

const (
	XPActionStudyReview XPAction = "study_review"
	XPActionCardCreated XPAction = "card_created"
)

// XPActionValues define relative values (tunable via config/env later)
var XPActionValues = map[XPAction]int64{
	XPActionStudyReview: 5,
	XPActionCardCreated: 25,
}
