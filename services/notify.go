package services

import (
	"encoding/json"

	"lexicard-progression/models"
	"lexicard-progression/utils"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Notifier is the popup dispatch channel. Implementations must be
// fire-and-forget: a delivery failure is logged, never returned to the
// recomputation pass that triggered it.
type Notifier interface {
	Notify(userID string, kind models.NotificationKind, message string, metadata map[string]any)
}

// DBNotifier queues Notification rows for the app's SSE/push layer to drain.
type DBNotifier struct {
	DB *gorm.DB
}

func NewDBNotifier(db *gorm.DB) *DBNotifier {
	return &DBNotifier{DB: db}
}

func (n *DBNotifier) Notify(userID string, kind models.NotificationKind, message string, metadata map[string]any) {
	payload, err := json.Marshal(metadata)
	if err != nil {
		payload = []byte("{}")
	}
	row := models.Notification{
		ID:       uuid.NewString(),
		UserID:   userID,
		Kind:     kind,
		Message:  message,
		Metadata: string(payload),
	}
	if err := n.DB.Create(&row).Error; err != nil {
		if utils.Sugar != nil {
			utils.Sugar.Errorw("notification enqueue failed",
				"user_id", userID, "kind", kind, "error", err)
		}
	}
}
