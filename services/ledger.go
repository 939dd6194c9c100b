package services

import (
	"fmt"
	"math"
	"time"

	"lexicard-progression/models"
	"lexicard-progression/utils"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LedgerService owns the per-user XP counter and the tier ladder derived from it.
type LedgerService struct {
	DB *gorm.DB
}

func NewLedgerService(db *gorm.DB) *LedgerService {
	return &LedgerService{DB: db}
}

// XPAwardResult reports one XP grant: how much was added, the new total, and
// the tier movement. UnlockedTier is set only when the grant crossed a
// threshold, so the caller knows to notify.
type XPAwardResult struct {
	Amount       int64                  `json:"amount"`
	TotalXP      int64                  `json:"total_xp"`
	PreviousTier string                 `json:"previous_tier"`
	NewTier      string                 `json:"new_tier"`
	UnlockedTier *models.TierDefinition `json:"unlocked_tier,omitempty"`
}

// ResolveTier returns the highest tier whose threshold is <= xp. Anything
// below the first threshold maps to the first tier.
func ResolveTier(xp int64) models.TierDefinition {
	tier := models.TierLadder[0]
	for _, t := range models.TierLadder {
		if xp >= t.XPThreshold {
			tier = t
		}
	}
	return tier
}

// ResolveNextTier returns the lowest tier whose threshold is > xp, or nil when
// xp is already at or beyond the top of the ladder.
func ResolveNextTier(xp int64) *models.TierDefinition {
	for _, t := range models.TierLadder {
		if t.XPThreshold > xp {
			next := t
			return &next
		}
	}
	return nil
}

// EnsureStats idempotently creates a zero-XP stats row if absent.
func (s *LedgerService) EnsureStats(userID string) (*models.UserProgressionStats, error) {
	return ensureStatsTx(s.DB, userID)
}

func ensureStatsTx(tx *gorm.DB, userID string) (*models.UserProgressionStats, error) {
	row := models.UserProgressionStats{
		ID:     uuid.NewString(),
		UserID: userID,
		Tier:   models.TierLadder[0].Name,
	}
	// Conflict-safe: two concurrent first reads must not both insert.
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&row).Error; err != nil {
		return nil, err
	}
	var stats models.UserProgressionStats
	if err := tx.Where("user_id = ?", userID).First(&stats).Error; err != nil {
		return nil, err
	}
	return &stats, nil
}

// ApplyXPAction grants the fixed XP value of a learning action.
func (s *LedgerService) ApplyXPAction(userID string, action models.XPAction) (*XPAwardResult, error) {
	amount, ok := models.XPActionValues[action]
	if !ok {
		return nil, fmt.Errorf("unknown xp action %q", action)
	}
	return s.GrantXP(userID, amount, string(action))
}

// GrantXP adds a variable amount (skill-tree rewards) to the user's total.
// The XP increment and the recomputed tier are written in the same
// transaction so the cached tier can never drift from ResolveTier(xp).
func (s *LedgerService) GrantXP(userID string, amount int64, reason string) (*XPAwardResult, error) {
	if amount < 0 {
		return nil, fmt.Errorf("xp grant must be non-negative, got %d", amount)
	}

	var result *XPAwardResult
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = grantXPTx(tx, userID, amount)
		return err
	})
	if err != nil {
		return nil, err
	}

	if utils.Sugar != nil {
		utils.Sugar.Infow("xp granted",
			"user_id", userID, "amount", amount, "total_xp", result.TotalXP,
			"tier", result.NewTier, "reason", reason)
	}
	return result, nil
}

// grantXPTx runs one XP grant inside the caller's transaction, so a caller
// coupling the grant to another write (a reward flag, a completion record)
// commits or aborts both together.
func grantXPTx(tx *gorm.DB, userID string, amount int64) (*XPAwardResult, error) {
	stats, err := ensureStatsTx(tx, userID)
	if err != nil {
		return nil, err
	}
	prevTier := stats.Tier

	if err := tx.Model(&models.UserProgressionStats{}).
		Where("user_id = ?", userID).
		Update("total_xp", gorm.Expr("total_xp + ?", amount)).Error; err != nil {
		return nil, err
	}

	var fresh models.UserProgressionStats
	if err := tx.Where("user_id = ?", userID).First(&fresh).Error; err != nil {
		return nil, err
	}

	newTier := ResolveTier(fresh.TotalXP)
	updates := map[string]any{"tier": newTier.Name}
	if newTier.Name != prevTier {
		now := time.Now()
		updates["last_tier_up_at"] = &now
	}
	if err := tx.Model(&models.UserProgressionStats{}).
		Where("user_id = ?", userID).
		Updates(updates).Error; err != nil {
		return nil, err
	}

	result := &XPAwardResult{
		Amount:       amount,
		TotalXP:      fresh.TotalXP,
		PreviousTier: prevTier,
		NewTier:      newTier.Name,
	}
	if newTier.Name != prevTier {
		unlocked := newTier
		result.UnlockedTier = &unlocked
	}
	return result, nil
}

// TierProgressSummary is the dashboard payload for the tier widget.
type TierProgressSummary struct {
	Tier         models.TierDefinition  `json:"tier"`
	TotalXP      int64                  `json:"total_xp"`
	Percentile   float64                `json:"percentile"`
	NextTier     *models.TierDefinition `json:"next_tier,omitempty"`
	XPToNextTier int64                  `json:"xp_to_next_tier,omitempty"`
}

// TierProgress returns the user's tier, XP, percentile ranking among all
// users, and the distance to the next tier (absent at the top of the ladder).
func (s *LedgerService) TierProgress(userID string) (*TierProgressSummary, error) {
	stats, err := s.EnsureStats(userID)
	if err != nil {
		return nil, err
	}

	var total, atOrBelow int64
	if err := s.DB.Model(&models.UserProgressionStats{}).Count(&total).Error; err != nil {
		return nil, err
	}
	if err := s.DB.Model(&models.UserProgressionStats{}).
		Where("total_xp <= ?", stats.TotalXP).
		Count(&atOrBelow).Error; err != nil {
		return nil, err
	}

	percentile := 100.0
	if total > 0 {
		percentile = float64(atOrBelow) / float64(total) * 100
	}
	percentile = math.Round(percentile*100) / 100

	summary := &TierProgressSummary{
		Tier:       ResolveTier(stats.TotalXP),
		TotalXP:    stats.TotalXP,
		Percentile: percentile,
	}
	if next := ResolveNextTier(stats.TotalXP); next != nil {
		summary.NextTier = next
		summary.XPToNextTier = next.XPThreshold - stats.TotalXP
	}
	return summary, nil
}
