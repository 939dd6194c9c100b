package services

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"lexicard-progression/models"

	"github.com/go-pdf/fpdf"
	"gorm.io/gorm"
)

// RenderCertificate draws the completion certificate as a PDF. Pure: no state
// is read or written beyond the arguments.
func RenderCertificate(tree models.SkillTree, learnerName string, issuedAt time.Time) ([]byte, error) {
	pdf := fpdf.New("L", "mm", "A4", "")
	pdf.AddPage()

	pageW, pageH := pdf.GetPageSize()

	// Border
	pdf.SetLineWidth(1.2)
	pdf.SetDrawColor(184, 134, 11)
	pdf.Rect(10, 10, pageW-20, pageH-20, "D")

	pdf.SetFont("Helvetica", "B", 34)
	pdf.SetTextColor(40, 40, 40)
	pdf.SetY(40)
	pdf.CellFormat(0, 14, "Certificate of Completion", "", 1, "C", false, 0, "")

	pdf.SetFont("Helvetica", "", 14)
	pdf.Ln(8)
	pdf.CellFormat(0, 8, "This certifies that", "", 1, "C", false, 0, "")

	pdf.SetFont("Helvetica", "B", 26)
	pdf.Ln(4)
	pdf.CellFormat(0, 12, learnerName, "", 1, "C", false, 0, "")

	pdf.SetFont("Helvetica", "", 14)
	pdf.Ln(4)
	pdf.CellFormat(0, 8, "has completed every node of the skill tree", "", 1, "C", false, 0, "")

	pdf.SetFont("Helvetica", "B", 20)
	pdf.Ln(2)
	pdf.CellFormat(0, 10, fmt.Sprintf("%s (%s)", tree.Name, tree.Language), "", 1, "C", false, 0, "")

	pdf.SetFont("Helvetica", "I", 12)
	pdf.SetY(pageH - 45)
	pdf.CellFormat(0, 8, fmt.Sprintf("Issued on %s", issuedAt.Format("January 2, 2006")), "", 1, "C", false, 0, "")
	pdf.CellFormat(0, 8, "LexiCard", "", 1, "C", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render certificate: %w", err)
	}
	return buf.Bytes(), nil
}

// BuildCertificate loads the tree and learner identity and renders the
// downloadable document.
func (s *SkillTreeService) BuildCertificate(treeID, userID string) ([]byte, error) {
	var tree models.SkillTree
	if err := s.DB.Where("id = ?", treeID).First(&tree).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTreeNotFound
		}
		return nil, err
	}

	name := userID
	var profile models.LearnerProfile
	if err := s.DB.Where("user_id = ?", userID).First(&profile).Error; err == nil {
		name = profile.DisplayName
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	return RenderCertificate(tree, name, time.Now())
}
