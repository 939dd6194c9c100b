package workers

import (
	"context"
	"errors"
	"time"

	"lexicard-progression/models"
	"lexicard-progression/services"
	"lexicard-progression/utils"

	"github.com/go-co-op/gocron/v2"
	"gorm.io/gorm"
)

// EffectsWorker drains the skill-tree completion outbox: for each pending row
// it renders and uploads the certificate, queues the popup notification and
// sends the templated email. Rows stay pending (with an attempt counter) until
// every effect succeeded, so a crashed delivery is retried on the next tick
// without ever touching the completion record itself.
type EffectsWorker struct {
	DB          *gorm.DB
	Notifier    services.Notifier
	MaxAttempts int

	// Overridable in tests.
	Upload    func(ctx context.Context, key, contentType string, data []byte) (string, error)
	SendEmail func(to, template string, data any) error
}

func NewEffectsWorker(db *gorm.DB, notifier services.Notifier, maxAttempts int) *EffectsWorker {
	return &EffectsWorker{
		DB:          db,
		Notifier:    notifier,
		MaxAttempts: maxAttempts,
		Upload:      utils.UploadBytes,
		SendEmail:   utils.SendTemplatedEmail,
	}
}

// Start schedules the drain loop and shuts it down when ctx is cancelled.
func (w *EffectsWorker) Start(ctx context.Context, interval time.Duration) error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	if _, err := sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			w.DrainOnce(ctx)
		}),
	); err != nil {
		return err
	}
	sched.Start()

	go func() {
		<-ctx.Done()
		_ = sched.Shutdown()
	}()
	return nil
}

// DrainOnce processes every pending outbox row once.
func (w *EffectsWorker) DrainOnce(ctx context.Context) {
	var pending []models.CompletionEffect
	if err := w.DB.Where("processed_at IS NULL AND attempts < ?", w.MaxAttempts).
		Order("created_at ASC").
		Limit(100).
		Find(&pending).Error; err != nil {
		utils.Sugar.Errorw("effects outbox query failed", "error", err)
		return
	}

	for _, effect := range pending {
		if err := w.process(ctx, effect); err != nil {
			utils.Sugar.Warnw("completion effect delivery failed",
				"effect_id", effect.ID, "user_id", effect.UserID,
				"tree_id", effect.TreeID, "attempt", effect.Attempts+1, "error", err)
			_ = w.DB.Model(&models.CompletionEffect{}).
				Where("id = ?", effect.ID).
				Updates(map[string]any{
					"attempts":   gorm.Expr("attempts + 1"),
					"last_error": err.Error(),
				}).Error
			continue
		}
		now := time.Now()
		_ = w.DB.Model(&models.CompletionEffect{}).
			Where("id = ?", effect.ID).
			Updates(map[string]any{
				"processed_at": &now,
				"attempts":     gorm.Expr("attempts + 1"),
				"last_error":   "",
			}).Error
	}
}

func (w *EffectsWorker) process(ctx context.Context, effect models.CompletionEffect) error {
	var tree models.SkillTree
	if err := w.DB.Where("id = ?", effect.TreeID).First(&tree).Error; err != nil {
		return err
	}

	name := effect.UserID
	email := ""
	var profile models.LearnerProfile
	if err := w.DB.Where("user_id = ?", effect.UserID).First(&profile).Error; err == nil {
		name = profile.DisplayName
		email = profile.Email
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	doc, err := services.RenderCertificate(tree, name, effect.CreatedAt)
	if err != nil {
		return err
	}
	certURL, err := w.Upload(ctx, utils.CertificateKey(tree.ID, effect.UserID), "application/pdf", doc)
	if err != nil {
		return err
	}

	if err := w.DB.Model(&models.UserTreeState{}).
		Where("user_id = ? AND tree_id = ?", effect.UserID, tree.ID).
		Updates(map[string]any{
			"certificate_url": certURL,
			"badge_issued":    true,
		}).Error; err != nil {
		return err
	}

	if email != "" {
		if err := w.SendEmail(email, "skill-tree-certificate", map[string]any{
			"DisplayName":    name,
			"TreeName":       tree.Name,
			"Language":       tree.Language,
			"CompletionXP":   tree.CompletionXP,
			"BadgeName":      tree.CompletionBadgeName,
			"CertificateURL": certURL,
		}); err != nil {
			return err
		}
	}

	// Popup last: every earlier step is idempotent under retry, the popup
	// is not, so it must only fire on the attempt that completes the row.
	w.Notifier.Notify(effect.UserID, models.NotifyTreeCompleted,
		"You completed the \""+tree.Name+"\" skill tree!",
		map[string]any{
			"tree_id":         tree.ID,
			"tree_name":       tree.Name,
			"badge_name":      tree.CompletionBadgeName,
			"badge_image":     tree.CompletionBadgeImage,
			"certificate_url": certURL,
		})

	utils.Sugar.Infow("completion effects delivered",
		"user_id", effect.UserID, "tree", tree.Name, "certificate", certURL)
	return nil
}
