package services

import (
	"errors"
	"fmt"

	"lexicard-progression/models"
	"lexicard-progression/utils"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrAchievementNotFound = errors.New("achievement not found")

// AchievementService evaluates per-user progress against achievement
// definitions and owns the one-time unlock rows.
type AchievementService struct {
	DB       *gorm.DB
	Notifier Notifier
}

func NewAchievementService(db *gorm.DB, notifier Notifier) *AchievementService {
	return &AchievementService{DB: db, Notifier: notifier}
}

// progressFor counts the user's activity for one condition type. Evaluate
// caches results so achievements sharing a condition are counted once.
func (s *AchievementService) progressFor(userID string, cond models.AchievementConditionType) (int64, error) {
	var count int64
	switch cond {
	case models.ConditionTotalCardsStudied:
		err := s.DB.Model(&models.CardReview{}).Where("user_id = ?", userID).Count(&count).Error
		return count, err
	case models.ConditionTotalCardsCreated:
		err := s.DB.Model(&models.Card{}).Where("owner_id = ?", userID).Count(&count).Error
		return count, err
	default:
		return 0, fmt.Errorf("unknown achievement condition %q", cond)
	}
}

// Evaluate recomputes the user's progress against every achievement, unlocks
// any newly met ones, and returns (newly unlocked, full badge list). Both
// lists are ordered by achievement key ascending. Calling it again with no
// new activity returns an empty first list and an identical second.
func (s *AchievementService) Evaluate(userID string) ([]models.BadgeStatus, []models.BadgeStatus, error) {
	var defs []models.AchievementDefinition
	if err := s.DB.Order("key ASC").Find(&defs).Error; err != nil {
		return nil, nil, err
	}

	var unlockRows []models.UserAchievementUnlock
	if err := s.DB.Where("user_id = ?", userID).Find(&unlockRows).Error; err != nil {
		return nil, nil, err
	}
	unlocked := make(map[string]models.UserAchievementUnlock, len(unlockRows))
	for _, u := range unlockRows {
		unlocked[u.AchievementID] = u
	}

	progressCache := make(map[models.AchievementConditionType]int64)

	newly := []models.BadgeStatus{}
	all := make([]models.BadgeStatus, 0, len(defs))

	for _, def := range defs {
		progress, ok := progressCache[def.ConditionType]
		if !ok {
			var err error
			progress, err = s.progressFor(userID, def.ConditionType)
			if err != nil {
				return nil, nil, err
			}
			progressCache[def.ConditionType] = progress
		}

		status := models.BadgeStatus{
			Key:         def.Key,
			Name:        def.Name,
			Description: def.Description,
			ImageURL:    def.ImageURL,
			Target:      def.Target,
			Progress:    progress,
		}

		if row, has := unlocked[def.ID]; has {
			status.Unlocked = true
			at := row.UnlockedAt
			status.UnlockedAt = &at
		} else if progress >= def.Target {
			row := models.UserAchievementUnlock{
				ID:            uuid.NewString(),
				UserID:        userID,
				AchievementID: def.ID,
			}
			// Duplicate insert for an already-unlocked pair is a silent no-op;
			// only the insert that lands reports the badge as new.
			res := s.DB.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "user_id"}, {Name: "achievement_id"}},
				DoNothing: true,
			}).Create(&row)
			if res.Error != nil {
				return nil, nil, res.Error
			}
			var stored models.UserAchievementUnlock
			if err := s.DB.Where("user_id = ? AND achievement_id = ?", userID, def.ID).
				First(&stored).Error; err != nil {
				return nil, nil, err
			}
			status.Unlocked = true
			at := stored.UnlockedAt
			status.UnlockedAt = &at

			if res.RowsAffected > 0 {
				newly = append(newly, status)
				s.Notifier.Notify(userID, models.NotifyAchievementUnlock,
					fmt.Sprintf("Achievement unlocked: %s", def.Name),
					map[string]any{"achievement_key": def.Key, "image_url": def.ImageURL})
			}
		}

		all = append(all, status)
	}

	return newly, all, nil
}

// CreateAchievementInput is the admin-authored definition payload.
type CreateAchievementInput struct {
	Key           string                          `json:"key"`
	Name          string                          `json:"name"`
	Description   string                          `json:"description"`
	ImageURL      string                          `json:"image_url"`
	ConditionType models.AchievementConditionType `json:"condition_type"`
	Target        int64                           `json:"target"`
}

// CreateAchievement stores a new definition and retroactively grants it to
// every user whose historical activity already meets the target. Returns the
// definition and the user IDs that were newly granted.
func (s *AchievementService) CreateAchievement(in CreateAchievementInput) (*models.AchievementDefinition, []string, error) {
	switch in.ConditionType {
	case models.ConditionTotalCardsStudied, models.ConditionTotalCardsCreated:
	default:
		return nil, nil, fmt.Errorf("unknown achievement condition %q", in.ConditionType)
	}
	if in.Target <= 0 {
		return nil, nil, fmt.Errorf("achievement target must be positive, got %d", in.Target)
	}
	if in.Name == "" {
		return nil, nil, fmt.Errorf("achievement name is required")
	}

	key := in.Key
	if key == "" {
		key = in.Name
	}
	def := models.AchievementDefinition{
		ID:            uuid.NewString(),
		Key:           slug.Make(key),
		Name:          in.Name,
		Description:   in.Description,
		ImageURL:      in.ImageURL,
		ConditionType: in.ConditionType,
		Target:        in.Target,
	}
	if err := s.DB.Create(&def).Error; err != nil {
		return nil, nil, err
	}

	granted, err := s.AwardToQualifiedUsers(def.ID)
	if err != nil {
		return nil, nil, err
	}
	return &def, granted, nil
}

// AwardToQualifiedUsers grants an achievement to every user already past its
// target, in one group-and-count query plus a conflict-safe bulk insert.
// Re-running it never duplicates an unlock and never un-grants anyone.
func (s *AchievementService) AwardToQualifiedUsers(achievementID string) ([]string, error) {
	var def models.AchievementDefinition
	if err := s.DB.Where("id = ?", achievementID).First(&def).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAchievementNotFound
		}
		return nil, err
	}

	type userRow struct {
		UserID string
	}
	var qualified []userRow
	switch def.ConditionType {
	case models.ConditionTotalCardsStudied:
		if err := s.DB.Model(&models.CardReview{}).
			Select("user_id").
			Group("user_id").
			Having("COUNT(*) >= ?", def.Target).
			Scan(&qualified).Error; err != nil {
			return nil, err
		}
	case models.ConditionTotalCardsCreated:
		if err := s.DB.Model(&models.Card{}).
			Select("owner_id AS user_id").
			Group("owner_id").
			Having("COUNT(*) >= ?", def.Target).
			Scan(&qualified).Error; err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown achievement condition %q", def.ConditionType)
	}

	if len(qualified) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(qualified))
	for _, q := range qualified {
		ids = append(ids, q.UserID)
	}

	var existing []models.UserAchievementUnlock
	if err := s.DB.Where("achievement_id = ? AND user_id IN ?", def.ID, ids).
		Find(&existing).Error; err != nil {
		return nil, err
	}
	already := make(map[string]bool, len(existing))
	for _, e := range existing {
		already[e.UserID] = true
	}

	var newRows []models.UserAchievementUnlock
	var newUsers []string
	for _, id := range ids {
		if already[id] {
			continue
		}
		newRows = append(newRows, models.UserAchievementUnlock{
			ID:            uuid.NewString(),
			UserID:        id,
			AchievementID: def.ID,
		})
		newUsers = append(newUsers, id)
	}
	if len(newRows) == 0 {
		return nil, nil
	}

	if err := s.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "achievement_id"}},
		DoNothing: true,
	}).CreateInBatches(newRows, 200).Error; err != nil {
		return nil, err
	}

	for _, userID := range newUsers {
		s.Notifier.Notify(userID, models.NotifyAchievementUnlock,
			fmt.Sprintf("Achievement unlocked: %s", def.Name),
			map[string]any{"achievement_key": def.Key, "image_url": def.ImageURL})
	}

	if utils.Sugar != nil {
		utils.Sugar.Infow("achievement retro-granted",
			"achievement", def.Key, "granted", len(newUsers))
	}
	return newUsers, nil
}
