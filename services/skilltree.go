package services

import (
	"errors"
	"fmt"
	"time"

	"lexicard-progression/models"
	"lexicard-progression/utils"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrTreeNotFound = errors.New("skill tree not found")

// SkillTreeService recomputes per-user unlock state over the prerequisite DAG.
// Every read of tree or summary data runs the full pass; there is no cache and
// no background recomputation.
type SkillTreeService struct {
	DB       *gorm.DB
	Ledger   *LedgerService
	Notifier Notifier
}

func NewSkillTreeService(db *gorm.DB, ledger *LedgerService, notifier Notifier) *SkillTreeService {
	return &SkillTreeService{DB: db, Ledger: ledger, Notifier: notifier}
}

// ComputeTreeProgress resolves the full (user, tree) state: node completion
// from criteria, unlock propagation over the prerequisite edges, one-time node
// rewards, and the one-time completion bundle. Safe to re-run at any point;
// every write that must happen exactly once is a conditional UPDATE whose
// RowsAffected decides the winner.
func (s *SkillTreeService) ComputeTreeProgress(userID, treeID string) (*models.ResolvedTree, error) {
	var tree models.SkillTree
	if err := s.DB.Where("id = ?", treeID).First(&tree).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTreeNotFound
		}
		return nil, err
	}

	var nodes []models.SkillTreeNode
	if err := s.DB.Where("tree_id = ?", treeID).Order("created_at ASC").Find(&nodes).Error; err != nil {
		return nil, err
	}
	var edges []models.SkillTreeEdge
	if err := s.DB.Where("tree_id = ?", treeID).Find(&edges).Error; err != nil {
		return nil, err
	}

	parents := make(map[string][]string)
	for _, e := range edges {
		parents[e.ChildID] = append(parents[e.ChildID], e.ParentID)
	}

	nodeIDs := make([]string, 0, len(nodes))
	var masteryCards []string
	for _, n := range nodes {
		nodeIDs = append(nodeIDs, n.ID)
		if n.CriteriaType == models.CriteriaCardMastery && n.CardID != "" {
			masteryCards = append(masteryCards, n.CardID)
		}
	}

	// Batch-fetch mastery for every linked card, and read total XP once.
	// Node evaluation below must not observe XP granted during this pass.
	mastery := make(map[string]models.CardMastery)
	if len(masteryCards) > 0 {
		var rows []models.CardMastery
		if err := s.DB.Where("user_id = ? AND card_id IN ?", userID, masteryCards).
			Find(&rows).Error; err != nil {
			return nil, err
		}
		for _, m := range rows {
			mastery[m.CardID] = m
		}
	}
	stats, err := s.Ledger.EnsureStats(userID)
	if err != nil {
		return nil, err
	}
	totalXP := stats.TotalXP

	states := make(map[string]models.UserNodeState)
	if len(nodeIDs) > 0 {
		var rows []models.UserNodeState
		if err := s.DB.Where("user_id = ? AND node_id IN ?", userID, nodeIDs).
			Find(&rows).Error; err != nil {
			return nil, err
		}
		for _, r := range rows {
			states[r.NodeID] = r
		}
	}

	treeState, err := s.ensureTreeState(userID, treeID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	completed := make(map[string]bool, len(nodes))
	var earnedThisPass int64

	for _, node := range nodes {
		st, hasState := states[node.ID]
		if hasState && st.Status == models.NodeStatusCompleted {
			completed[node.ID] = true
			// A completed node whose reward flag is still unset means an
			// earlier pass aborted between the two writes; settle it now.
			if !st.RewardGranted {
				awarded, err := s.grantNodeReward(userID, node)
				if err != nil {
					return nil, err
				}
				if awarded {
					earnedThisPass += node.XPReward
				}
				fresh := models.UserNodeState{}
				if err := s.DB.Where("user_id = ? AND node_id = ?", userID, node.ID).
					First(&fresh).Error; err != nil {
					return nil, err
				}
				states[node.ID] = fresh
			}
			continue
		}

		if !nodeCriteriaMet(node, totalXP, mastery) {
			continue
		}
		completed[node.ID] = true

		if err := s.markNodeCompleted(userID, node.ID, now, hasState); err != nil {
			return nil, err
		}
		awarded, err := s.grantNodeReward(userID, node)
		if err != nil {
			return nil, err
		}
		if awarded {
			earnedThisPass += node.XPReward
		}
		fresh := models.UserNodeState{}
		if err := s.DB.Where("user_id = ? AND node_id = ?", userID, node.ID).
			First(&fresh).Error; err != nil {
			return nil, err
		}
		states[node.ID] = fresh
	}

	// Unlock propagation: a non-completed node is unlocked exactly when every
	// prerequisite is in this pass's completed set. Only changed rows are written.
	for _, node := range nodes {
		if completed[node.ID] {
			continue
		}
		desired := models.NodeStatusUnlocked
		for _, p := range parents[node.ID] {
			if !completed[p] {
				desired = models.NodeStatusLocked
				break
			}
		}

		st, hasState := states[node.ID]
		stored := models.NodeStatusLocked
		if hasState {
			stored = st.Status
		}
		if stored == desired {
			continue
		}
		if err := s.setNodeStatus(userID, node.ID, desired, now, hasState); err != nil {
			return nil, err
		}
		fresh := models.UserNodeState{}
		if err := s.DB.Where("user_id = ? AND node_id = ?", userID, node.ID).
			First(&fresh).Error; err != nil {
			return nil, err
		}
		states[node.ID] = fresh
	}

	if earnedThisPass > 0 {
		if err := s.DB.Model(&models.UserTreeState{}).
			Where("user_id = ? AND tree_id = ?", userID, treeID).
			Update("xp_earned", gorm.Expr("xp_earned + ?", earnedThisPass)).Error; err != nil {
			return nil, err
		}
	}

	completedCount := len(completed)
	totalCount := len(nodes)
	progressPct := 0.0
	if totalCount > 0 {
		progressPct = float64(completedCount) / float64(totalCount) * 100
	}

	if totalCount > 0 && completedCount == totalCount && treeState.CompletedAt == nil {
		if err := s.recordCompletion(userID, &tree, now); err != nil {
			return nil, err
		}
	}

	var finalState models.UserTreeState
	if err := s.DB.Where("user_id = ? AND tree_id = ?", userID, treeID).
		First(&finalState).Error; err != nil {
		return nil, err
	}

	resolved := &models.ResolvedTree{
		Tree:           tree,
		CompletedCount: completedCount,
		TotalCount:     totalCount,
		ProgressPct:    progressPct,
		XPEarned:       finalState.XPEarned,
		Completed:      finalState.CompletedAt != nil,
		CompletedAt:    finalState.CompletedAt,
		CertificateURL: finalState.CertificateURL,
	}
	for _, node := range nodes {
		rn := models.ResolvedNode{
			SkillTreeNode: node,
			Status:        models.NodeStatusLocked,
			ParentIDs:     parents[node.ID],
		}
		if st, ok := states[node.ID]; ok {
			rn.Status = st.Status
			rn.UnlockedAt = st.UnlockedAt
			rn.CompletedAt = st.CompletedAt
		} else if completed[node.ID] {
			rn.Status = models.NodeStatusCompleted
		} else if len(parents[node.ID]) == 0 {
			rn.Status = models.NodeStatusUnlocked
		}
		resolved.Nodes = append(resolved.Nodes, rn)
	}
	return resolved, nil
}

// nodeCriteriaMet evaluates a node's completion rule against state fetched at
// the start of the pass. A mastery node over a card with zero words (or no
// mastery row yet) can never be met.
func nodeCriteriaMet(node models.SkillTreeNode, totalXP int64, mastery map[string]models.CardMastery) bool {
	switch node.CriteriaType {
	case models.CriteriaXPThreshold:
		return totalXP >= node.RequiredXP
	case models.CriteriaCardMastery:
		if node.CardID == "" {
			return false
		}
		m, ok := mastery[node.CardID]
		if !ok || m.TotalWords <= 0 {
			return false
		}
		return m.Pct() >= node.RequiredPct
	default:
		return false
	}
}

func (s *SkillTreeService) ensureTreeState(userID, treeID string) (*models.UserTreeState, error) {
	row := models.UserTreeState{
		ID:     uuid.NewString(),
		UserID: userID,
		TreeID: treeID,
	}
	if err := s.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "tree_id"}},
		DoNothing: true,
	}).Create(&row).Error; err != nil {
		return nil, err
	}
	var state models.UserTreeState
	if err := s.DB.Where("user_id = ? AND tree_id = ?", userID, treeID).
		First(&state).Error; err != nil {
		return nil, err
	}
	return &state, nil
}

// markNodeCompleted upserts the state row to completed. Completion is sticky:
// the guard clause never moves a completed row backward.
func (s *SkillTreeService) markNodeCompleted(userID, nodeID string, now time.Time, hasState bool) error {
	if !hasState {
		row := models.UserNodeState{
			ID:     uuid.NewString(),
			UserID: userID,
			NodeID: nodeID,
		}
		if err := s.DB.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "node_id"}},
			DoNothing: true,
		}).Create(&row).Error; err != nil {
			return err
		}
	}
	return s.DB.Model(&models.UserNodeState{}).
		Where("user_id = ? AND node_id = ? AND status <> ?", userID, nodeID, models.NodeStatusCompleted).
		Updates(map[string]any{
			"status":       models.NodeStatusCompleted,
			"completed_at": &now,
			"unlocked_at":  gorm.Expr("COALESCE(unlocked_at, ?)", now),
		}).Error
}

// grantNodeReward flips the node's reward flag with a conditional UPDATE; only
// the caller whose update lands grants the XP. The flag is a dedicated boolean
// so a zero-XP reward is still settled exactly once. Flag and ledger write
// share one transaction: an aborted pass leaves the flag unset and the next
// pass settles the reward.
func (s *SkillTreeService) grantNodeReward(userID string, node models.SkillTreeNode) (bool, error) {
	won := false
	var award *XPAwardResult
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.UserNodeState{}).
			Where("user_id = ? AND node_id = ? AND reward_granted = ?", userID, node.ID, false).
			Updates(map[string]any{
				"reward_granted": true,
				"xp_awarded":     node.XPReward,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		won = true
		if node.XPReward > 0 {
			var err error
			award, err = grantXPTx(tx, userID, node.XPReward)
			return err
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if !won {
		return false, nil
	}
	if award != nil {
		if utils.Sugar != nil {
			utils.Sugar.Infow("xp granted",
				"user_id", userID, "amount", award.Amount, "total_xp", award.TotalXP,
				"tier", award.NewTier, "reason", fmt.Sprintf("skill_node:%s", node.ID))
		}
		s.notifyTierChange(userID, award)
	}
	return true, nil
}

func (s *SkillTreeService) setNodeStatus(userID, nodeID string, status models.NodeStatus, now time.Time, hasState bool) error {
	if !hasState {
		row := models.UserNodeState{
			ID:     uuid.NewString(),
			UserID: userID,
			NodeID: nodeID,
			Status: status,
		}
		if status == models.NodeStatusUnlocked {
			row.UnlockedAt = &now
		}
		err := s.DB.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "node_id"}},
			DoNothing: true,
		}).Create(&row).Error
		return err
	}
	updates := map[string]any{"status": status}
	if status == models.NodeStatusUnlocked {
		updates["unlocked_at"] = gorm.Expr("COALESCE(unlocked_at, ?)", now)
	}
	return s.DB.Model(&models.UserNodeState{}).
		Where("user_id = ? AND node_id = ? AND status <> ?", userID, nodeID, models.NodeStatusCompleted).
		Updates(updates).Error
}

// recordCompletion flips CompletedAt from NULL in a conditional UPDATE and, in
// the same transaction, queues the side-effect outbox row and grants the
// completion XP. Exactly one pass wins, and an aborted transaction leaves
// CompletedAt unset so the next pass redoes the whole bundle. The worker
// delivers certificate, popup and email with retry.
func (s *SkillTreeService) recordCompletion(userID string, tree *models.SkillTree, now time.Time) error {
	won := false
	var award *XPAwardResult
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.UserTreeState{}).
			Where("user_id = ? AND tree_id = ? AND completed_at IS NULL", userID, tree.ID).
			Updates(map[string]any{
				"completed_at":    &now,
				"certificate_url": utils.CertificateURL(tree.ID, userID),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		won = true
		effect := models.CompletionEffect{
			ID:     uuid.NewString(),
			UserID: userID,
			TreeID: tree.ID,
		}
		if err := tx.Create(&effect).Error; err != nil {
			return err
		}
		if tree.CompletionXP > 0 {
			var err error
			award, err = grantXPTx(tx, userID, tree.CompletionXP)
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	if !won {
		return nil
	}

	if award != nil {
		s.notifyTierChange(userID, award)
	}
	if utils.Sugar != nil {
		utils.Sugar.Infow("skill tree completed",
			"user_id", userID, "tree", tree.Name, "completion_xp", tree.CompletionXP)
	}
	return nil
}

func (s *SkillTreeService) notifyTierChange(userID string, award *XPAwardResult) {
	if award == nil || award.UnlockedTier == nil {
		return
	}
	s.Notifier.Notify(userID, models.NotifyTierUnlocked,
		fmt.Sprintf("You reached the %s tier!", award.UnlockedTier.Name),
		map[string]any{
			"tier":        award.UnlockedTier.Name,
			"badge_image": award.UnlockedTier.BadgeImage,
		})
}

// SyncProgressForCard re-runs the pass for every tree containing a node linked
// to the card, so mastery changes surface without waiting for a tree view.
func (s *SkillTreeService) SyncProgressForCard(userID, cardID string) error {
	type treeRow struct {
		TreeID string
	}
	var rows []treeRow
	if err := s.DB.Model(&models.SkillTreeNode{}).
		Select("DISTINCT tree_id").
		Where("card_id = ?", cardID).
		Scan(&rows).Error; err != nil {
		return err
	}
	for _, r := range rows {
		if _, err := s.ComputeTreeProgress(userID, r.TreeID); err != nil {
			return err
		}
	}
	return nil
}

// TreesSummaryResult bundles every tree's resolved state plus, when a language
// filter was supplied, one aggregated progress figure for that language.
type TreesSummaryResult struct {
	Trees     []models.ResolvedTree `json:"trees"`
	Aggregate *LanguageAggregate    `json:"aggregate,omitempty"`
}

type LanguageAggregate struct {
	Language       string  `json:"language"`
	TotalNodes     int     `json:"total_nodes"`
	CompletedNodes int     `json:"completed_nodes"`
	ProgressPct    float64 `json:"progress_pct"`
	XPEarned       int64   `json:"xp_earned"`
	TreesCompleted int     `json:"trees_completed"`
}

// TreesSummary runs the recomputation for every tree, optionally filtered by
// language.
func (s *SkillTreeService) TreesSummary(userID, language string) (*TreesSummaryResult, error) {
	q := s.DB.Order("created_at ASC")
	if language != "" {
		q = q.Where("language = ?", language)
	}
	var trees []models.SkillTree
	if err := q.Find(&trees).Error; err != nil {
		return nil, err
	}

	result := &TreesSummaryResult{Trees: make([]models.ResolvedTree, 0, len(trees))}
	for _, t := range trees {
		resolved, err := s.ComputeTreeProgress(userID, t.ID)
		if err != nil {
			return nil, err
		}
		result.Trees = append(result.Trees, *resolved)
	}

	if language != "" {
		agg := &LanguageAggregate{Language: language}
		for _, t := range result.Trees {
			agg.TotalNodes += t.TotalCount
			agg.CompletedNodes += t.CompletedCount
			agg.XPEarned += t.XPEarned
			if t.Completed {
				agg.TreesCompleted++
			}
		}
		if agg.TotalNodes > 0 {
			agg.ProgressPct = float64(agg.CompletedNodes) / float64(agg.TotalNodes) * 100
		}
		result.Aggregate = agg
	}
	return result, nil
}

// LeaderboardEntry is one row of a tree's top-50 board.
type LeaderboardEntry struct {
	UserID      string     `json:"user_id"`
	DisplayName string     `json:"display_name"`
	XPEarned    int64      `json:"xp_earned"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Leaderboard returns the top 50 users by XP earned in the tree. Completed
// users rank first (ties broken by earlier completion); users still in
// progress sort last.
func (s *SkillTreeService) Leaderboard(treeID string) ([]LeaderboardEntry, error) {
	var tree models.SkillTree
	if err := s.DB.Where("id = ?", treeID).First(&tree).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTreeNotFound
		}
		return nil, err
	}

	var entries []LeaderboardEntry
	err := s.DB.Raw(`
		SELECT uts.user_id, COALESCE(lp.display_name, uts.user_id) AS display_name,
		       uts.xp_earned, uts.completed_at
		FROM user_tree_states uts
		LEFT JOIN learner_profiles lp ON lp.user_id = uts.user_id
		WHERE uts.tree_id = ?
		ORDER BY (uts.completed_at IS NULL) ASC, uts.xp_earned DESC, uts.completed_at ASC
		LIMIT 50
	`, treeID).Scan(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}
