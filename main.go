package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"lexicard-progression/config"
	"lexicard-progression/handlers"
	"lexicard-progression/middleware"
	"lexicard-progression/models"
	"lexicard-progression/services"
	"lexicard-progression/utils"
	"lexicard-progression/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	if err := utils.InitLogger(cfg); err != nil {
		panic(err)
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		utils.Sugar.Fatalw("failed to connect to database", "error", err)
	}

	if err := db.AutoMigrate(
		&models.UserProgressionStats{},
		&models.AchievementDefinition{},
		&models.UserAchievementUnlock{},
		&models.SkillTree{},
		&models.SkillTreeNode{},
		&models.SkillTreeEdge{},
		&models.UserNodeState{},
		&models.UserTreeState{},
		&models.Card{},
		&models.CardReview{},
		&models.CardMastery{},
		&models.LearnerProfile{},
		&models.Notification{},
		&models.CompletionEffect{},
	); err != nil {
		utils.Sugar.Fatalw("failed to migrate database", "error", err)
	}

	if err := utils.InitStorage(cfg); err != nil {
		utils.Sugar.Fatalw("failed to initialize object storage", "error", err)
	}

	app := fiber.New(fiber.Config{
		AppName: "lexicard-progression",
	})

	app.Use(middleware.GatewayAuthMiddleware())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(cfg.AllowedOrigins, ","),
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Request-ID, X-User-ID, X-User-Roles",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	notifier := services.NewDBNotifier(db)
	ledger := services.NewLedgerService(db)
	achievements := services.NewAchievementService(db, notifier)
	trees := services.NewSkillTreeService(db, ledger, notifier)

	handlers.SetupProgressionRoutes(app, ledger, achievements, trees, notifier)
	handlers.SetupAchievementRoutes(app, achievements)
	handlers.SetupSkillTreeRoutes(app, trees)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	effectsWorker := workers.NewEffectsWorker(db, notifier, cfg.EffectsMaxAttempts)
	if err := effectsWorker.Start(ctx, time.Duration(cfg.EffectsIntervalSeconds)*time.Second); err != nil {
		utils.Sugar.Fatalw("failed to start effects worker", "error", err)
	}

	if cfg.AuthServiceURL != "" {
		profileSync := workers.NewProfileSyncWorker(db, cfg.AuthServiceURL, cfg.AuthServiceToken)
		profileSync.Start(ctx)
	}

	go func() {
		if err := app.Listen(":" + cfg.AppPort); err != nil {
			utils.Sugar.Errorw("server stopped", "error", err)
			stop()
		}
	}()
	utils.Sugar.Infof("lexicard-progression listening on :%s", cfg.AppPort)

	<-ctx.Done()
	utils.Sugar.Info("shutting down")
	_ = app.ShutdownWithTimeout(10 * time.Second)
}
