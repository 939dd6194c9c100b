package services

import (
	"fmt"
	"sync"
	"testing"

	"lexicard-progression/models"
	"lexicard-progression/utils"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	utils.Logger = zap.NewNop()
	utils.Sugar = utils.Logger.Sugar()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
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
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// recordingNotifier captures dispatched popups for assertions.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

type sentNotification struct {
	UserID   string
	Kind     models.NotificationKind
	Message  string
	Metadata map[string]any
}

func (n *recordingNotifier) Notify(userID string, kind models.NotificationKind, message string, metadata map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{UserID: userID, Kind: kind, Message: message, Metadata: metadata})
}

func (n *recordingNotifier) byKind(kind models.NotificationKind) []sentNotification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []sentNotification
	for _, s := range n.sent {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}
