// handlers/achievement_routes.go
package handlers

import (
	"lexicard-progression/middleware"
	"lexicard-progression/services"

	"github.com/gofiber/fiber/v2"
)

func SetupAchievementRoutes(app *fiber.App, achievements *services.AchievementService) {
	secured := app.Group("/s", middleware.UserContextMiddleware())

	secured.Get("/user/achievements", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)

		newly, all, err := achievements.Evaluate(userID)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to evaluate achievements",
				"cause": err.Error(),
			})
		}
		return c.JSON(fiber.Map{
			"badges":     all,
			"new_badges": newly,
		})
	})

	admin := app.Group("/s/admin", middleware.UserContextMiddleware(), middleware.RequireAdmin())

	// Creating an achievement retroactively grants it to every user whose
	// history already meets the target.
	admin.Post("/achievements", func(c *fiber.Ctx) error {
		var req services.CreateAchievementInput
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
		}

		def, granted, err := achievements.CreateAchievement(req)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "failed to create achievement",
				"cause": err.Error(),
			})
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"achievement":   def,
			"granted_users": granted,
		})
	})
}
