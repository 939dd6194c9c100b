package models

import "time"

// NodeCriteriaType selects how a skill-tree node completes
type NodeCriteriaType string

const (
	CriteriaXPThreshold NodeCriteriaType = "xp_threshold"
	CriteriaCardMastery NodeCriteriaType = "card_mastery"
)

// NodeStatus is the per-user state of a node. Transitions are monotonic:
// locked → unlocked → completed, never backward.
type NodeStatus string

const (
	NodeStatusLocked    NodeStatus = "locked"
	NodeStatusUnlocked  NodeStatus = "unlocked"
	NodeStatusCompleted NodeStatus = "completed"
)

// SkillTree is a prerequisite DAG of learning nodes for one language.
type SkillTree struct {
	ID          string `gorm:"primaryKey;type:uuid" json:"id"`
	Language    string `gorm:"size:35;index;not null" json:"language"` // BCP 47 tag
	Name        string `gorm:"not null" json:"name"`
	Description string `gorm:"type:text" json:"description"`

	// One-time completion reward bundle
	CompletionXP         int64  `gorm:"default:0" json:"completion_xp"`
	CompletionBadgeName  string `json:"completion_badge_name"`
	CompletionBadgeImage string `gorm:"type:text" json:"completion_badge_image"`

	Timestamps
}

// SkillTreeNode belongs to one tree. Position is presentation only.
type SkillTreeNode struct {
	ID     string `gorm:"primaryKey;type:uuid" json:"id"`
	TreeID string `gorm:"index;not null" json:"tree_id"`
	CardID string `gorm:"index" json:"card_id,omitempty"` // set for card_mastery nodes

	Name         string           `gorm:"not null" json:"name"`
	CriteriaType NodeCriteriaType `gorm:"size:32;not null" json:"criteria_type"`
	RequiredXP   int64            `gorm:"default:0" json:"required_xp"`          // xp_threshold nodes
	RequiredPct  float64          `gorm:"default:0" json:"required_mastery_pct"` // card_mastery nodes
	XPReward     int64            `gorm:"default:0" json:"xp_reward"`

	PositionX float64 `gorm:"default:0" json:"position_x"`
	PositionY float64 `gorm:"default:0" json:"position_y"`

	Timestamps
}

// SkillTreeEdge is a directed prerequisite: ParentID must be completed before
// ChildID unlocks. The edge set of a tree must stay acyclic; edge creation
// runs a topological-sort check before inserting.
type SkillTreeEdge struct {
	ID        string    `gorm:"primaryKey;type:uuid" json:"id"`
	TreeID    string    `gorm:"index;not null" json:"tree_id"`
	ParentID  string    `gorm:"not null;uniqueIndex:idx_edge_pair,priority:1" json:"parent_id"`
	ChildID   string    `gorm:"not null;uniqueIndex:idx_edge_pair,priority:2" json:"child_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// UserNodeState is the per-(user, node) row. RewardGranted is a dedicated flag
// so a zero-XP reward is still recorded as granted exactly once.
type UserNodeState struct {
	ID     string `gorm:"primaryKey;type:uuid" json:"id"`
	UserID string `gorm:"not null;uniqueIndex:idx_user_node,priority:1" json:"user_id"`
	NodeID string `gorm:"not null;uniqueIndex:idx_user_node,priority:2" json:"node_id"`

	Status        NodeStatus `gorm:"size:16;not null;default:'locked'" json:"status"`
	UnlockedAt    *time.Time `json:"unlocked_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	XPAwarded     int64      `gorm:"default:0" json:"xp_awarded"`
	RewardGranted bool       `gorm:"default:false" json:"reward_granted"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// UserTreeState is the per-(user, tree) rollup. CompletedAt flips from NULL at
// most once; the conditional UPDATE guarding it decides which caller runs the
// completion reward bundle.
type UserTreeState struct {
	ID     string `gorm:"primaryKey;type:uuid" json:"id"`
	UserID string `gorm:"not null;uniqueIndex:idx_user_tree,priority:1" json:"user_id"`
	TreeID string `gorm:"not null;uniqueIndex:idx_user_tree,priority:2" json:"tree_id"`

	XPEarned       int64      `gorm:"default:0" json:"xp_earned"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	BadgeIssued    bool       `gorm:"default:false" json:"badge_issued"`
	CertificateURL string     `gorm:"type:text" json:"certificate_url"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// ResolvedNode is a node joined with the caller's state, ready for display.
type ResolvedNode struct {
	SkillTreeNode
	Status      NodeStatus `json:"status"`
	UnlockedAt  *time.Time `json:"unlocked_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ParentIDs   []string   `json:"parent_ids"`
}

// ResolvedTree is the full recomputation result for one (user, tree) pass.
type ResolvedTree struct {
	Tree           SkillTree      `json:"tree"`
	Nodes          []ResolvedNode `json:"nodes"`
	CompletedCount int            `json:"completed_count"`
	TotalCount     int            `json:"total_count"`
	ProgressPct    float64        `json:"progress_pct"`
	XPEarned       int64          `json:"xp_earned"`
	Completed      bool           `json:"completed"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	CertificateURL string         `json:"certificate_url,omitempty"`
}
