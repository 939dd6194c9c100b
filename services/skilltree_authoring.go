package services

import (
	"errors"
	"fmt"

	"lexicard-progression/models"

	"github.com/google/uuid"
	"golang.org/x/text/language"
	"gorm.io/gorm"
)

// Authoring operations are admin-only. Cycle checking happens here, at edge
// creation, so read-time recomputation can assume the edge set is a DAG.

type CreateTreeInput struct {
	Language             string `json:"language"`
	Name                 string `json:"name"`
	Description          string `json:"description"`
	CompletionXP         int64  `json:"completion_xp"`
	CompletionBadgeName  string `json:"completion_badge_name"`
	CompletionBadgeImage string `json:"completion_badge_image"`
}

func (s *SkillTreeService) CreateTree(in CreateTreeInput) (*models.SkillTree, error) {
	tag, err := language.Parse(in.Language)
	if err != nil {
		return nil, fmt.Errorf("invalid language tag %q: %w", in.Language, err)
	}
	if in.Name == "" {
		return nil, fmt.Errorf("tree name is required")
	}
	if in.CompletionXP < 0 {
		return nil, fmt.Errorf("completion xp must be non-negative")
	}

	tree := models.SkillTree{
		ID:                   uuid.NewString(),
		Language:             tag.String(),
		Name:                 in.Name,
		Description:          in.Description,
		CompletionXP:         in.CompletionXP,
		CompletionBadgeName:  in.CompletionBadgeName,
		CompletionBadgeImage: in.CompletionBadgeImage,
	}
	if err := s.DB.Create(&tree).Error; err != nil {
		return nil, err
	}
	return &tree, nil
}

type CreateNodeInput struct {
	TreeID       string                  `json:"tree_id"`
	CardID       string                  `json:"card_id"`
	Name         string                  `json:"name"`
	CriteriaType models.NodeCriteriaType `json:"criteria_type"`
	RequiredXP   int64                   `json:"required_xp"`
	RequiredPct  float64                 `json:"required_mastery_pct"`
	XPReward     int64                   `json:"xp_reward"`
	PositionX    float64                 `json:"position_x"`
	PositionY    float64                 `json:"position_y"`
}

func (s *SkillTreeService) CreateNode(in CreateNodeInput) (*models.SkillTreeNode, error) {
	var tree models.SkillTree
	if err := s.DB.Where("id = ?", in.TreeID).First(&tree).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTreeNotFound
		}
		return nil, err
	}
	if in.Name == "" {
		return nil, fmt.Errorf("node name is required")
	}

	switch in.CriteriaType {
	case models.CriteriaXPThreshold:
		if in.RequiredXP <= 0 {
			return nil, fmt.Errorf("xp_threshold node needs required_xp > 0")
		}
	case models.CriteriaCardMastery:
		if in.CardID == "" {
			return nil, fmt.Errorf("card_mastery node needs a linked card")
		}
		if in.RequiredPct <= 0 || in.RequiredPct > 100 {
			return nil, fmt.Errorf("required_mastery_pct must be in (0, 100], got %v", in.RequiredPct)
		}
		var card models.Card
		if err := s.DB.Where("id = ?", in.CardID).First(&card).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("linked card %s not found", in.CardID)
			}
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown node criteria %q", in.CriteriaType)
	}
	if in.XPReward < 0 {
		return nil, fmt.Errorf("xp reward must be non-negative")
	}

	node := models.SkillTreeNode{
		ID:           uuid.NewString(),
		TreeID:       in.TreeID,
		CardID:       in.CardID,
		Name:         in.Name,
		CriteriaType: in.CriteriaType,
		RequiredXP:   in.RequiredXP,
		RequiredPct:  in.RequiredPct,
		XPReward:     in.XPReward,
		PositionX:    in.PositionX,
		PositionY:    in.PositionY,
	}
	if err := s.DB.Create(&node).Error; err != nil {
		return nil, err
	}
	return &node, nil
}

// AddEdge inserts a prerequisite edge after verifying both endpoints and
// re-checking that the edge set stays acyclic. A cyclic edge set would leave
// every node on the cycle permanently locked.
func (s *SkillTreeService) AddEdge(treeID, parentID, childID string) (*models.SkillTreeEdge, error) {
	if parentID == childID {
		return nil, fmt.Errorf("a node cannot be its own prerequisite")
	}

	var count int64
	if err := s.DB.Model(&models.SkillTreeNode{}).
		Where("tree_id = ? AND id IN ?", treeID, []string{parentID, childID}).
		Count(&count).Error; err != nil {
		return nil, err
	}
	if count != 2 {
		return nil, fmt.Errorf("both edge endpoints must be nodes of tree %s", treeID)
	}

	var nodes []models.SkillTreeNode
	if err := s.DB.Where("tree_id = ?", treeID).Find(&nodes).Error; err != nil {
		return nil, err
	}
	var edges []models.SkillTreeEdge
	if err := s.DB.Where("tree_id = ?", treeID).Find(&edges).Error; err != nil {
		return nil, err
	}

	candidate := models.SkillTreeEdge{
		ID:       uuid.NewString(),
		TreeID:   treeID,
		ParentID: parentID,
		ChildID:  childID,
	}
	if err := validateAcyclic(nodes, append(edges, candidate)); err != nil {
		return nil, err
	}

	if err := s.DB.Create(&candidate).Error; err != nil {
		return nil, err
	}
	return &candidate, nil
}

// validateAcyclic runs Kahn's topological sort over the would-be edge set and
// rejects it when not every node can be ordered.
func validateAcyclic(nodes []models.SkillTreeNode, edges []models.SkillTreeEdge) error {
	indegree := make(map[string]int, len(nodes))
	children := make(map[string][]string)
	for _, n := range nodes {
		indegree[n.ID] = 0
	}
	for _, e := range edges {
		children[e.ParentID] = append(children[e.ParentID], e.ChildID)
		indegree[e.ChildID]++
	}

	queue := make([]string, 0, len(nodes))
	for id, deg := range indegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	ordered := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		ordered++
		for _, child := range children[id] {
			indegree[child]--
			if indegree[child] == 0 {
				queue = append(queue, child)
			}
		}
	}

	if ordered != len(nodes) {
		return fmt.Errorf("prerequisite edges form a cycle")
	}
	return nil
}
