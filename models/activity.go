package models

import "time"

// Read models owned by the card/word CRUD side of the app. The progression
// engine only ever reads them (plus the minimal ingest endpoints that append
// CardReview rows on study events).

// Card is a flashcard deck entry; skill-tree mastery nodes link to one.
type Card struct {
	ID       string `gorm:"primaryKey;type:uuid" json:"id"`
	OwnerID  string `gorm:"index;not null" json:"owner_id"`
	Language string `gorm:"size:35;index" json:"language"`
	Title    string `gorm:"not null" json:"title"`

	Timestamps
}

// CardReview is one completed review of a card by a user.
type CardReview struct {
	ID         string    `gorm:"primaryKey;type:uuid" json:"id"`
	UserID     string    `gorm:"index;not null" json:"user_id"`
	CardID     string    `gorm:"index;not null" json:"card_id"`
	ReviewedAt time.Time `gorm:"autoCreateTime;index" json:"reviewed_at"`
}

// CardMastery mirrors the word-level mastery statistics per (user, card):
// how many of the card's words the user has learned. Maintained by the
// study scheduler; consumed here for card_mastery node criteria.
type CardMastery struct {
	ID           string `gorm:"primaryKey;type:uuid" json:"id"`
	UserID       string `gorm:"not null;uniqueIndex:idx_user_card_mastery,priority:1" json:"user_id"`
	CardID       string `gorm:"not null;uniqueIndex:idx_user_card_mastery,priority:2" json:"card_id"`
	LearnedWords int64  `gorm:"default:0" json:"learned_words"`
	TotalWords   int64  `gorm:"default:0" json:"total_words"`

	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// Pct returns the mastery percentage. A card with no words can never be mastered.
func (m CardMastery) Pct() float64 {
	if m.TotalWords <= 0 {
		return 0
	}
	return float64(m.LearnedWords) / float64(m.TotalWords) * 100
}
