// handlers/progression_routes.go
package handlers

import (
	"lexicard-progression/middleware"
	"lexicard-progression/models"
	"lexicard-progression/services"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

func SetupProgressionRoutes(app *fiber.App, ledger *services.LedgerService, achievements *services.AchievementService, trees *services.SkillTreeService, notifier *services.DBNotifier) {
	secured := app.Group("/s", middleware.UserContextMiddleware())

	// Dashboard stats: tier progress plus the full badge list. Reading stats
	// runs a full achievement evaluation pass, so a badge earned since the
	// last activity shows up (and notifies) here.
	secured.Get("/user/stats", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)

		progress, err := ledger.TierProgress(userID)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to load tier progress",
				"cause": err.Error(),
			})
		}
		newly, badges, err := achievements.Evaluate(userID)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to evaluate achievements",
				"cause": err.Error(),
			})
		}

		return c.JSON(fiber.Map{
			"tier":            progress.Tier,
			"total_xp":        progress.TotalXP,
			"percentile":      progress.Percentile,
			"next_tier":       progress.NextTier,
			"xp_to_next_tier": progress.XPToNextTier,
			"badges":          badges,
			"new_badges":      newly,
		})
	})

	// Study event ingest: one completed review of a card.
	secured.Post("/user/reviews", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)

		var req struct {
			CardID string `json:"card_id"`
		}
		if err := c.BodyParser(&req); err != nil || req.CardID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "card_id is required"})
		}

		review := models.CardReview{
			ID:     uuid.NewString(),
			UserID: userID,
			CardID: req.CardID,
		}
		if err := trees.DB.Create(&review).Error; err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to record review",
				"cause": err.Error(),
			})
		}

		award, err := ledger.ApplyXPAction(userID, models.XPActionStudyReview)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "xp award failed",
				"cause": err.Error(),
			})
		}
		notifyTier(notifier, userID, award)

		// Mastery may have moved; refresh every tree that references this card.
		if err := trees.SyncProgressForCard(userID, req.CardID); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "progress sync failed",
				"cause": err.Error(),
			})
		}

		return c.Status(fiber.StatusCreated).JSON(award)
	})

	// Card creation ingest.
	secured.Post("/user/cards", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)

		var req struct {
			Title    string `json:"title"`
			Language string `json:"language"`
		}
		if err := c.BodyParser(&req); err != nil || req.Title == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "title is required"})
		}

		card := models.Card{
			ID:       uuid.NewString(),
			OwnerID:  userID,
			Language: req.Language,
			Title:    req.Title,
		}
		if err := trees.DB.Create(&card).Error; err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to create card",
				"cause": err.Error(),
			})
		}

		award, err := ledger.ApplyXPAction(userID, models.XPActionCardCreated)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "xp award failed",
				"cause": err.Error(),
			})
		}
		notifyTier(notifier, userID, award)

		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"card":  card,
			"award": award,
		})
	})

	// Queued popups for the client's notification drawer.
	secured.Get("/user/notifications", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)

		var rows []models.Notification
		if err := notifier.DB.
			Where("user_id = ? AND viewed = ?", userID, false).
			Order("created_at ASC").
			Limit(100).
			Find(&rows).Error; err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to load notifications",
				"cause": err.Error(),
			})
		}
		return c.JSON(rows)
	})

	secured.Post("/user/notifications/:id/viewed", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		id := c.Params("id")

		res := notifier.DB.Model(&models.Notification{}).
			Where("id = ? AND user_id = ?", id, userID).
			Update("viewed", true)
		if res.Error != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to update notification",
				"cause": res.Error.Error(),
			})
		}
		if res.RowsAffected == 0 {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "notification not found"})
		}
		return c.JSON(fiber.Map{"viewed": true})
	})

	// Admin endpoints
	admin := app.Group("/s/admin", middleware.UserContextMiddleware(), middleware.RequireAdmin())

	admin.Post("/xp/grant", func(c *fiber.Ctx) error {
		var req struct {
			UserID string `json:"user_id"`
			XP     int64  `json:"xp"`
			Reason string `json:"reason"`
		}
		if err := c.BodyParser(&req); err != nil || req.UserID == "" || req.XP <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "user_id and a positive xp are required"})
		}

		award, err := ledger.GrantXP(req.UserID, req.XP, "admin_grant:"+req.Reason)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "XP award failed",
				"cause": err.Error(),
			})
		}
		notifyTier(notifier, req.UserID, award)
		return c.JSON(award)
	})
}

func notifyTier(notifier services.Notifier, userID string, award *services.XPAwardResult) {
	if award == nil || award.UnlockedTier == nil {
		return
	}
	notifier.Notify(userID, models.NotifyTierUnlocked,
		"You reached the "+award.UnlockedTier.Name+" tier!",
		map[string]any{
			"tier":        award.UnlockedTier.Name,
			"badge_image": award.UnlockedTier.BadgeImage,
		})
}
