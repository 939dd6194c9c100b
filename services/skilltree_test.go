package services

import (
	"testing"
	"time"

	"lexicard-progression/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func newTreeService(t *testing.T) (*SkillTreeService, *recordingNotifier, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	notifier := &recordingNotifier{}
	ledger := NewLedgerService(db)
	return NewSkillTreeService(db, ledger, notifier), notifier, db
}

func seedCard(t *testing.T, db *gorm.DB, ownerID string) models.Card {
	t.Helper()
	card := models.Card{ID: uuid.NewString(), OwnerID: ownerID, Language: "es", Title: "Food vocabulary"}
	if err := db.Create(&card).Error; err != nil {
		t.Fatalf("seed card: %v", err)
	}
	return card
}

func setMastery(t *testing.T, db *gorm.DB, userID, cardID string, learned, total int64) {
	t.Helper()
	var existing models.CardMastery
	err := db.Where("user_id = ? AND card_id = ?", userID, cardID).First(&existing).Error
	if err == gorm.ErrRecordNotFound {
		row := models.CardMastery{
			ID: uuid.NewString(), UserID: userID, CardID: cardID,
			LearnedWords: learned, TotalWords: total,
		}
		if err := db.Create(&row).Error; err != nil {
			t.Fatalf("seed mastery: %v", err)
		}
		return
	}
	if err != nil {
		t.Fatalf("load mastery: %v", err)
	}
	existing.LearnedWords = learned
	existing.TotalWords = total
	if err := db.Save(&existing).Error; err != nil {
		t.Fatalf("update mastery: %v", err)
	}
}

func nodeByID(t *testing.T, resolved *models.ResolvedTree, id string) models.ResolvedNode {
	t.Helper()
	for _, n := range resolved.Nodes {
		if n.ID == id {
			return n
		}
	}
	t.Fatalf("node %s not in resolved tree", id)
	return models.ResolvedNode{}
}

func TestComputeTreeNotFound(t *testing.T) {
	svc, _, _ := newTreeService(t)
	if _, err := svc.ComputeTreeProgress("u1", uuid.NewString()); err != ErrTreeNotFound {
		t.Fatalf("err = %v, want ErrTreeNotFound", err)
	}
}

func TestEmptyTreeHasZeroProgress(t *testing.T) {
	svc, _, _ := newTreeService(t)
	tree, err := svc.CreateTree(CreateTreeInput{Language: "es", Name: "Empty"})
	if err != nil {
		t.Fatal(err)
	}
	resolved, err := svc.ComputeTreeProgress("u1", tree.ID)
	if err != nil {
		t.Fatal(err)
	}
	if resolved.ProgressPct != 0 || resolved.Completed {
		t.Fatalf("empty tree progress = %v completed = %v", resolved.ProgressPct, resolved.Completed)
	}
}

// Scenario: node A (xp threshold 100, reward 50, no prerequisites) gates
// node B (80% mastery of a card). The tree carries a 200 XP completion reward.
func TestTwoNodeTreeLifecycle(t *testing.T) {
	svc, notifier, db := newTreeService(t)

	tree, err := svc.CreateTree(CreateTreeInput{
		Language:            "es",
		Name:                "Spanish Basics",
		CompletionXP:        200,
		CompletionBadgeName: "Spanish Sprout",
	})
	if err != nil {
		t.Fatal(err)
	}
	card := seedCard(t, db, "author")
	setMastery(t, db, "u1", card.ID, 0, 10)

	nodeA, err := svc.CreateNode(CreateNodeInput{
		TreeID: tree.ID, Name: "Warm up",
		CriteriaType: models.CriteriaXPThreshold, RequiredXP: 100, XPReward: 50,
	})
	if err != nil {
		t.Fatal(err)
	}
	nodeB, err := svc.CreateNode(CreateNodeInput{
		TreeID: tree.ID, Name: "Master food words", CardID: card.ID,
		CriteriaType: models.CriteriaCardMastery, RequiredPct: 80,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.AddEdge(tree.ID, nodeA.ID, nodeB.ID); err != nil {
		t.Fatal(err)
	}

	// Initial pass: A reachable, B behind it.
	resolved, err := svc.ComputeTreeProgress("u1", tree.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got := nodeByID(t, resolved, nodeA.ID).Status; got != models.NodeStatusUnlocked {
		t.Fatalf("node A status = %s, want unlocked", got)
	}
	if got := nodeByID(t, resolved, nodeB.ID).Status; got != models.NodeStatusLocked {
		t.Fatalf("node B status = %s, want locked", got)
	}
	if resolved.CompletedCount != 0 || resolved.ProgressPct != 0 {
		t.Fatalf("initial progress = %d/%v", resolved.CompletedCount, resolved.ProgressPct)
	}

	// Reach 100 XP: the next pass completes A, pays its reward and unlocks B.
	if _, err := svc.Ledger.GrantXP("u1", 100, "seed"); err != nil {
		t.Fatal(err)
	}
	resolved, err = svc.ComputeTreeProgress("u1", tree.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got := nodeByID(t, resolved, nodeA.ID).Status; got != models.NodeStatusCompleted {
		t.Fatalf("node A status = %s, want completed", got)
	}
	if got := nodeByID(t, resolved, nodeB.ID).Status; got != models.NodeStatusUnlocked {
		t.Fatalf("node B status = %s, want unlocked", got)
	}
	if resolved.XPEarned != 50 {
		t.Fatalf("tree xp earned = %d, want 50", resolved.XPEarned)
	}
	stats, _ := svc.Ledger.EnsureStats("u1")
	if stats.TotalXP != 150 {
		t.Fatalf("total xp = %d, want 150", stats.TotalXP)
	}

	// Re-running without changes must not pay the node reward again.
	if _, err := svc.ComputeTreeProgress("u1", tree.ID); err != nil {
		t.Fatal(err)
	}
	stats, _ = svc.Ledger.EnsureStats("u1")
	if stats.TotalXP != 150 {
		t.Fatalf("total xp after re-run = %d, want 150", stats.TotalXP)
	}

	// Mastery reaches the threshold: B completes, the tree completes, the
	// completion reward and outbox fire exactly once.
	setMastery(t, db, "u1", card.ID, 8, 10)
	resolved, err = svc.ComputeTreeProgress("u1", tree.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !resolved.Completed || resolved.CompletedCount != 2 || resolved.ProgressPct != 100 {
		t.Fatalf("completion state = %+v", resolved)
	}
	if resolved.CertificateURL == "" {
		t.Fatal("certificate reference not set on completion")
	}
	stats, _ = svc.Ledger.EnsureStats("u1")
	if stats.TotalXP != 350 {
		t.Fatalf("total xp after completion = %d, want 350", stats.TotalXP)
	}
	var effects int64
	db.Model(&models.CompletionEffect{}).Where("user_id = ? AND tree_id = ?", "u1", tree.ID).Count(&effects)
	if effects != 1 {
		t.Fatalf("outbox rows = %d, want 1", effects)
	}

	// Every later pass is a no-op for the completion bundle.
	resolved, err = svc.ComputeTreeProgress("u1", tree.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !resolved.Completed {
		t.Fatal("completion did not stick")
	}
	stats, _ = svc.Ledger.EnsureStats("u1")
	if stats.TotalXP != 350 {
		t.Fatalf("total xp changed on idle pass: %d", stats.TotalXP)
	}
	db.Model(&models.CompletionEffect{}).Where("user_id = ? AND tree_id = ?", "u1", tree.ID).Count(&effects)
	if effects != 1 {
		t.Fatalf("outbox rows after idle pass = %d, want 1", effects)
	}

	// Tier movement along the way surfaced as a popup (0 → 350 stays Bronze,
	// so no tier notifications are expected here).
	if got := notifier.byKind(models.NotifyTierUnlocked); len(got) != 0 {
		t.Fatalf("unexpected tier notifications: %+v", got)
	}
}

func TestCompletedNodeIsSticky(t *testing.T) {
	svc, _, db := newTreeService(t)

	tree, err := svc.CreateTree(CreateTreeInput{Language: "fr", Name: "French"})
	if err != nil {
		t.Fatal(err)
	}
	card := seedCard(t, db, "author")
	node, err := svc.CreateNode(CreateNodeInput{
		TreeID: tree.ID, Name: "Mastery", CardID: card.ID,
		CriteriaType: models.CriteriaCardMastery, RequiredPct: 50,
	})
	if err != nil {
		t.Fatal(err)
	}

	setMastery(t, db, "u1", card.ID, 5, 10)
	resolved, err := svc.ComputeTreeProgress("u1", tree.ID)
	if err != nil {
		t.Fatal(err)
	}
	if nodeByID(t, resolved, node.ID).Status != models.NodeStatusCompleted {
		t.Fatal("node should complete at 50% mastery")
	}

	// Mastery regresses below the threshold; completion must not.
	setMastery(t, db, "u1", card.ID, 1, 10)
	resolved, err = svc.ComputeTreeProgress("u1", tree.ID)
	if err != nil {
		t.Fatal(err)
	}
	if nodeByID(t, resolved, node.ID).Status != models.NodeStatusCompleted {
		t.Fatal("completed node regressed after mastery dropped")
	}
}

func TestZeroWordCardNeverCompletes(t *testing.T) {
	svc, _, db := newTreeService(t)

	tree, _ := svc.CreateTree(CreateTreeInput{Language: "de", Name: "German"})
	card := seedCard(t, db, "author")
	node, err := svc.CreateNode(CreateNodeInput{
		TreeID: tree.ID, Name: "Empty card", CardID: card.ID,
		CriteriaType: models.CriteriaCardMastery, RequiredPct: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	setMastery(t, db, "u1", card.ID, 0, 0)

	resolved, err := svc.ComputeTreeProgress("u1", tree.ID)
	if err != nil {
		t.Fatal(err)
	}
	if nodeByID(t, resolved, node.ID).Status == models.NodeStatusCompleted {
		t.Fatal("node over a zero-word card must never complete")
	}
}

func TestZeroRewardNodeSettlesOnce(t *testing.T) {
	svc, _, db := newTreeService(t)

	tree, _ := svc.CreateTree(CreateTreeInput{Language: "es", Name: "Rewardless"})
	node, err := svc.CreateNode(CreateNodeInput{
		TreeID: tree.ID, Name: "Free node",
		CriteriaType: models.CriteriaXPThreshold, RequiredXP: 10, XPReward: 0,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Ledger.GrantXP("u1", 20, "seed"); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if _, err := svc.ComputeTreeProgress("u1", tree.ID); err != nil {
			t.Fatal(err)
		}
	}

	var state models.UserNodeState
	if err := db.Where("user_id = ? AND node_id = ?", "u1", node.ID).First(&state).Error; err != nil {
		t.Fatal(err)
	}
	if !state.RewardGranted || state.XPAwarded != 0 {
		t.Fatalf("zero-reward node state = %+v, want granted with 0", state)
	}
	stats, _ := svc.Ledger.EnsureStats("u1")
	if stats.TotalXP != 20 {
		t.Fatalf("total xp = %d, want 20 (no phantom reward)", stats.TotalXP)
	}
}

// A pass that persisted a node's completion but aborted before granting its
// reward leaves status=completed with the reward flag unset. The next pass
// must settle the award instead of skipping the completed node.
func TestPendingRewardSettledOnNextPass(t *testing.T) {
	svc, _, db := newTreeService(t)

	tree, _ := svc.CreateTree(CreateTreeInput{Language: "es", Name: "Recovery"})
	node, err := svc.CreateNode(CreateNodeInput{
		TreeID: tree.ID, Name: "Warm up",
		CriteriaType: models.CriteriaXPThreshold, RequiredXP: 10, XPReward: 50,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Ledger.GrantXP("u1", 10, "seed"); err != nil {
		t.Fatal(err)
	}

	completedAt := time.Now()
	state := models.UserNodeState{
		ID:          uuid.NewString(),
		UserID:      "u1",
		NodeID:      node.ID,
		Status:      models.NodeStatusCompleted,
		CompletedAt: &completedAt,
	}
	if err := db.Create(&state).Error; err != nil {
		t.Fatal(err)
	}

	resolved, err := svc.ComputeTreeProgress("u1", tree.ID)
	if err != nil {
		t.Fatal(err)
	}
	if resolved.XPEarned != 50 {
		t.Fatalf("tree xp earned = %d, want 50", resolved.XPEarned)
	}

	var fresh models.UserNodeState
	if err := db.Where("user_id = ? AND node_id = ?", "u1", node.ID).First(&fresh).Error; err != nil {
		t.Fatal(err)
	}
	if !fresh.RewardGranted || fresh.XPAwarded != 50 {
		t.Fatalf("reward never settled: %+v", fresh)
	}
	stats, _ := svc.Ledger.EnsureStats("u1")
	if stats.TotalXP != 60 {
		t.Fatalf("total xp = %d, want 60", stats.TotalXP)
	}

	// Settles once: another pass must not pay again.
	if _, err := svc.ComputeTreeProgress("u1", tree.ID); err != nil {
		t.Fatal(err)
	}
	stats, _ = svc.Ledger.EnsureStats("u1")
	if stats.TotalXP != 60 {
		t.Fatalf("total xp after re-run = %d, want 60", stats.TotalXP)
	}
}

// The completion record, outbox row and completion XP commit together. A
// failure inside the bundle rolls everything back so the next pass redoes it.
func TestCompletionBundleIsAtomic(t *testing.T) {
	svc, _, db := newTreeService(t)

	tree, _ := svc.CreateTree(CreateTreeInput{Language: "es", Name: "Atomic", CompletionXP: 200})
	if _, err := svc.CreateNode(CreateNodeInput{
		TreeID: tree.ID, Name: "Only node",
		CriteriaType: models.CriteriaXPThreshold, RequiredXP: 10,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Ledger.GrantXP("u1", 10, "seed"); err != nil {
		t.Fatal(err)
	}

	// Break the outbox insert so the completion transaction fails mid-bundle.
	if err := db.Migrator().DropTable(&models.CompletionEffect{}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.ComputeTreeProgress("u1", tree.ID); err == nil {
		t.Fatal("expected the completion pass to fail")
	}

	var state models.UserTreeState
	if err := db.Where("user_id = ? AND tree_id = ?", "u1", tree.ID).First(&state).Error; err != nil {
		t.Fatal(err)
	}
	if state.CompletedAt != nil {
		t.Fatal("completion recorded despite a failed bundle")
	}
	stats, _ := svc.Ledger.EnsureStats("u1")
	if stats.TotalXP != 10 {
		t.Fatalf("total xp after rollback = %d, want 10", stats.TotalXP)
	}

	// Wholesale retry after the failure finishes the bundle exactly once.
	if err := db.AutoMigrate(&models.CompletionEffect{}); err != nil {
		t.Fatal(err)
	}
	resolved, err := svc.ComputeTreeProgress("u1", tree.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !resolved.Completed {
		t.Fatal("retry did not complete the tree")
	}
	stats, _ = svc.Ledger.EnsureStats("u1")
	if stats.TotalXP != 210 {
		t.Fatalf("total xp after retry = %d, want 210", stats.TotalXP)
	}
	var effects int64
	db.Model(&models.CompletionEffect{}).Where("user_id = ? AND tree_id = ?", "u1", tree.ID).Count(&effects)
	if effects != 1 {
		t.Fatalf("outbox rows = %d, want 1", effects)
	}
}

func TestAddEdgeRejectsCycles(t *testing.T) {
	svc, _, _ := newTreeService(t)

	tree, _ := svc.CreateTree(CreateTreeInput{Language: "es", Name: "DAG"})
	mk := func(name string) string {
		n, err := svc.CreateNode(CreateNodeInput{
			TreeID: tree.ID, Name: name,
			CriteriaType: models.CriteriaXPThreshold, RequiredXP: 1,
		})
		if err != nil {
			t.Fatal(err)
		}
		return n.ID
	}
	a, b, c := mk("a"), mk("b"), mk("c")

	if _, err := svc.AddEdge(tree.ID, a, b); err != nil {
		t.Fatalf("a→b: %v", err)
	}
	if _, err := svc.AddEdge(tree.ID, b, c); err != nil {
		t.Fatalf("b→c: %v", err)
	}
	if _, err := svc.AddEdge(tree.ID, c, a); err == nil {
		t.Fatal("c→a should close a cycle and be rejected")
	}
	if _, err := svc.AddEdge(tree.ID, a, a); err == nil {
		t.Fatal("self edge should be rejected")
	}
	if _, err := svc.AddEdge(tree.ID, a, uuid.NewString()); err == nil {
		t.Fatal("edge to a foreign node should be rejected")
	}
}

func TestAuthoringValidation(t *testing.T) {
	svc, _, db := newTreeService(t)

	if _, err := svc.CreateTree(CreateTreeInput{Language: "!!not-a-tag!!", Name: "Bad"}); err == nil {
		t.Fatal("expected error for invalid language tag")
	}

	tree, err := svc.CreateTree(CreateTreeInput{Language: "pt-BR", Name: "Portuguese"})
	if err != nil {
		t.Fatalf("valid tag rejected: %v", err)
	}

	if _, err := svc.CreateNode(CreateNodeInput{
		TreeID: tree.ID, Name: "No card",
		CriteriaType: models.CriteriaCardMastery, RequiredPct: 50,
	}); err == nil {
		t.Fatal("mastery node without card should be rejected")
	}
	card := seedCard(t, db, "author")
	if _, err := svc.CreateNode(CreateNodeInput{
		TreeID: tree.ID, Name: "Over 100", CardID: card.ID,
		CriteriaType: models.CriteriaCardMastery, RequiredPct: 150,
	}); err == nil {
		t.Fatal("mastery pct over 100 should be rejected")
	}
	if _, err := svc.CreateNode(CreateNodeInput{
		TreeID: tree.ID, Name: "Zero xp",
		CriteriaType: models.CriteriaXPThreshold, RequiredXP: 0,
	}); err == nil {
		t.Fatal("xp node without a threshold should be rejected")
	}
}

func TestSyncProgressForCard(t *testing.T) {
	svc, _, db := newTreeService(t)

	tree, _ := svc.CreateTree(CreateTreeInput{Language: "es", Name: "Synced"})
	card := seedCard(t, db, "author")
	node, err := svc.CreateNode(CreateNodeInput{
		TreeID: tree.ID, Name: "Food", CardID: card.ID,
		CriteriaType: models.CriteriaCardMastery, RequiredPct: 60,
	})
	if err != nil {
		t.Fatal(err)
	}

	setMastery(t, db, "u1", card.ID, 9, 10)
	if err := svc.SyncProgressForCard("u1", card.ID); err != nil {
		t.Fatal(err)
	}

	var state models.UserNodeState
	if err := db.Where("user_id = ? AND node_id = ?", "u1", node.ID).First(&state).Error; err != nil {
		t.Fatal(err)
	}
	if state.Status != models.NodeStatusCompleted {
		t.Fatalf("node status after sync = %s, want completed", state.Status)
	}
}

func TestTreesSummaryAggregatesLanguage(t *testing.T) {
	svc, _, _ := newTreeService(t)

	es1, _ := svc.CreateTree(CreateTreeInput{Language: "es", Name: "ES 1"})
	es2, _ := svc.CreateTree(CreateTreeInput{Language: "es", Name: "ES 2"})
	if _, err := svc.CreateTree(CreateTreeInput{Language: "fr", Name: "FR"}); err != nil {
		t.Fatal(err)
	}
	for _, treeID := range []string{es1.ID, es2.ID} {
		if _, err := svc.CreateNode(CreateNodeInput{
			TreeID: treeID, Name: "n",
			CriteriaType: models.CriteriaXPThreshold, RequiredXP: 10,
		}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := svc.Ledger.GrantXP("u1", 10, "seed"); err != nil {
		t.Fatal(err)
	}

	all, err := svc.TreesSummary("u1", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all.Trees) != 3 || all.Aggregate != nil {
		t.Fatalf("unfiltered summary = %d trees aggregate %+v", len(all.Trees), all.Aggregate)
	}

	es, err := svc.TreesSummary("u1", "es")
	if err != nil {
		t.Fatal(err)
	}
	if len(es.Trees) != 2 {
		t.Fatalf("filtered trees = %d, want 2", len(es.Trees))
	}
	if es.Aggregate == nil {
		t.Fatal("language filter should produce an aggregate")
	}
	if es.Aggregate.TotalNodes != 2 || es.Aggregate.CompletedNodes != 2 || es.Aggregate.ProgressPct != 100 {
		t.Fatalf("aggregate = %+v", es.Aggregate)
	}
	if es.Aggregate.TreesCompleted != 2 {
		t.Fatalf("trees completed = %d, want 2", es.Aggregate.TreesCompleted)
	}
}

func TestLeaderboardOrdering(t *testing.T) {
	svc, _, db := newTreeService(t)

	tree, _ := svc.CreateTree(CreateTreeInput{Language: "es", Name: "Board"})

	early := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	late := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	rows := []models.UserTreeState{
		{ID: uuid.NewString(), UserID: "second", TreeID: tree.ID, XPEarned: 100, CompletedAt: &early},
		{ID: uuid.NewString(), UserID: "third", TreeID: tree.ID, XPEarned: 100, CompletedAt: &late},
		{ID: uuid.NewString(), UserID: "first", TreeID: tree.ID, XPEarned: 150, CompletedAt: &late},
		{ID: uuid.NewString(), UserID: "unfinished", TreeID: tree.ID, XPEarned: 500},
	}
	for i := range rows {
		if err := db.Create(&rows[i]).Error; err != nil {
			t.Fatal(err)
		}
	}
	profile := models.LearnerProfile{ID: uuid.NewString(), UserID: "first", DisplayName: "Ada"}
	if err := db.Create(&profile).Error; err != nil {
		t.Fatal(err)
	}

	entries, err := svc.Leaderboard(tree.ID)
	if err != nil {
		t.Fatal(err)
	}
	got := make([]string, 0, len(entries))
	for _, e := range entries {
		got = append(got, e.UserID)
	}
	want := []string{"first", "second", "third", "unfinished"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("leaderboard order = %v, want %v", got, want)
		}
	}
	if entries[0].DisplayName != "Ada" {
		t.Fatalf("display name = %q, want profile name", entries[0].DisplayName)
	}
	if entries[1].DisplayName != "second" {
		t.Fatalf("display name fallback = %q, want user id", entries[1].DisplayName)
	}

	if _, err := svc.Leaderboard(uuid.NewString()); err != ErrTreeNotFound {
		t.Fatalf("missing tree err = %v, want ErrTreeNotFound", err)
	}
}
