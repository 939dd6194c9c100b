package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"lexicard-progression/models"
	"lexicard-progression/utils"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// remoteProfile matches the JSON shape of the auth service's public profiles feed.
type remoteProfile struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Email       string    `json:"email"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type profileChangesResponse struct {
	Profiles []remoteProfile `json:"profiles"`
}

// ProfileSyncWorker mirrors display names and email addresses from the auth
// service into learner_profiles, which the certificate renderer and the
// completion email read.
type ProfileSyncWorker struct {
	db           *gorm.DB
	interval     time.Duration
	baseURL      string
	serviceToken string
	httpClient   *http.Client
}

func NewProfileSyncWorker(db *gorm.DB, authServiceURL, serviceToken string) *ProfileSyncWorker {
	return &ProfileSyncWorker{
		db:           db,
		interval:     1 * time.Minute,
		baseURL:      authServiceURL,
		serviceToken: serviceToken,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (w *ProfileSyncWorker) Start(ctx context.Context) {
	go w.run(ctx)
}

func (w *ProfileSyncWorker) run(ctx context.Context) {
	// Backfill from the beginning, then follow changes.
	if err := w.syncBatch(ctx, time.Time{}); err != nil {
		utils.Sugar.Warnw("initial profile sync failed", "error", err)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := w.syncBatch(ctx, w.lastSyncTime()); err != nil {
				utils.Sugar.Warnw("profile sync batch failed", "error", err)
			}
		case <-ctx.Done():
			utils.Sugar.Info("profile sync worker stopped")
			return
		}
	}
}

func (w *ProfileSyncWorker) lastSyncTime() time.Time {
	var lastTime time.Time
	err := w.db.Raw("SELECT MAX(updated_at) FROM learner_profiles").Scan(&lastTime).Error
	if err != nil || lastTime.IsZero() {
		return time.Unix(0, 0)
	}
	return lastTime
}

func (w *ProfileSyncWorker) syncBatch(ctx context.Context, since time.Time) error {
	base, err := url.Parse(w.baseURL)
	if err != nil {
		return fmt.Errorf("invalid auth service URL %q: %w", w.baseURL, err)
	}
	endpoint := base.JoinPath("/api/v1/public/profiles")
	q := endpoint.Query()
	q.Set("since", since.UTC().Format(time.RFC3339))
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create profile sync request: %w", err)
	}
	req.Header.Set("X-Service-Token", w.serviceToken)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("profile sync request failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("auth service returned %d: %s", resp.StatusCode, string(body))
	}

	var response profileChangesResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return fmt.Errorf("failed to decode profile sync response: %w", err)
	}
	if len(response.Profiles) == 0 {
		return nil
	}

	var upserts, failures int
	for _, remote := range response.Profiles {
		row := models.LearnerProfile{
			ID:          uuid.NewString(),
			UserID:      remote.UserID,
			DisplayName: remote.DisplayName,
			Email:       remote.Email,
			UpdatedAt:   remote.UpdatedAt,
		}
		if err := w.db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"display_name", "email", "updated_at"}),
		}).Create(&row).Error; err != nil {
			failures++
			utils.Sugar.Warnw("learner profile upsert failed", "user_id", remote.UserID, "error", err)
		} else {
			upserts++
		}
	}

	utils.Sugar.Infow("learner profiles synced", "upserted", upserts, "failed", failures)
	return nil
}
