// handlers/skilltree_routes.go
package handlers

import (
	"errors"
	"fmt"

	"lexicard-progression/middleware"
	"lexicard-progression/services"

	"github.com/gofiber/fiber/v2"
)

func SetupSkillTreeRoutes(app *fiber.App, trees *services.SkillTreeService) {
	secured := app.Group("/s", middleware.UserContextMiddleware())

	// Summary across all trees, optionally one language's trees with an
	// aggregated progress figure.
	secured.Get("/skill-trees", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		language := c.Query("language")

		summary, err := trees.TreesSummary(userID, language)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to compute skill tree summary",
				"cause": err.Error(),
			})
		}
		return c.JSON(summary)
	})

	// One tree, fully recomputed for the caller.
	secured.Get("/skill-trees/:id", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)

		resolved, err := trees.ComputeTreeProgress(userID, c.Params("id"))
		if err != nil {
			if errors.Is(err, services.ErrTreeNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "skill tree not found"})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to compute skill tree progress",
				"cause": err.Error(),
			})
		}
		return c.JSON(resolved)
	})

	secured.Get("/skill-trees/:id/leaderboard", func(c *fiber.Ctx) error {
		entries, err := trees.Leaderboard(c.Params("id"))
		if err != nil {
			if errors.Is(err, services.ErrTreeNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "skill tree not found"})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to load leaderboard",
				"cause": err.Error(),
			})
		}
		return c.JSON(entries)
	})

	// On-demand certificate download. Rendering is pure; the stored copy in
	// object storage is produced separately by the effects worker.
	secured.Get("/skill-trees/:id/certificate", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		treeID := c.Params("id")

		resolved, err := trees.ComputeTreeProgress(userID, treeID)
		if err != nil {
			if errors.Is(err, services.ErrTreeNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "skill tree not found"})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to compute skill tree progress",
				"cause": err.Error(),
			})
		}
		if !resolved.Completed {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "skill tree not completed yet"})
		}

		doc, err := trees.BuildCertificate(treeID, userID)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to render certificate",
				"cause": err.Error(),
			})
		}
		c.Set("Content-Type", "application/pdf")
		c.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "certificate-"+treeID+".pdf"))
		return c.Send(doc)
	})

	// Admin authoring
	admin := app.Group("/s/admin", middleware.UserContextMiddleware(), middleware.RequireAdmin())

	admin.Post("/skill-trees", func(c *fiber.Ctx) error {
		var req services.CreateTreeInput
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
		}
		tree, err := trees.CreateTree(req)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "failed to create skill tree",
				"cause": err.Error(),
			})
		}
		return c.Status(fiber.StatusCreated).JSON(tree)
	})

	admin.Post("/skill-trees/:id/nodes", func(c *fiber.Ctx) error {
		var req services.CreateNodeInput
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
		}
		req.TreeID = c.Params("id")
		node, err := trees.CreateNode(req)
		if err != nil {
			if errors.Is(err, services.ErrTreeNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "skill tree not found"})
			}
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "failed to create node",
				"cause": err.Error(),
			})
		}
		return c.Status(fiber.StatusCreated).JSON(node)
	})

	admin.Post("/skill-trees/:id/edges", func(c *fiber.Ctx) error {
		var req struct {
			ParentID string `json:"parent_id"`
			ChildID  string `json:"child_id"`
		}
		if err := c.BodyParser(&req); err != nil || req.ParentID == "" || req.ChildID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "parent_id and child_id are required"})
		}
		edge, err := trees.AddEdge(c.Params("id"), req.ParentID, req.ChildID)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "failed to create edge",
				"cause": err.Error(),
			})
		}
		return c.Status(fiber.StatusCreated).JSON(edge)
	})
}
