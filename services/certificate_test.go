package services

import (
	"bytes"
	"testing"
	"time"

	"lexicard-progression/models"

	"github.com/google/uuid"
)

func TestRenderCertificateProducesPDF(t *testing.T) {
	tree := models.SkillTree{
		ID:       uuid.NewString(),
		Language: "es",
		Name:     "Spanish Basics",
	}
	doc, err := RenderCertificate(tree, "Ada Lovelace", time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(doc, []byte("%PDF")) {
		t.Fatalf("output does not look like a PDF, starts with %q", doc[:min(8, len(doc))])
	}
}

func TestBuildCertificateUsesProfileName(t *testing.T) {
	svc, _, db := newTreeService(t)

	tree, err := svc.CreateTree(CreateTreeInput{Language: "es", Name: "Spanish Basics"})
	if err != nil {
		t.Fatal(err)
	}
	profile := models.LearnerProfile{ID: uuid.NewString(), UserID: "u1", DisplayName: "Ada"}
	if err := db.Create(&profile).Error; err != nil {
		t.Fatal(err)
	}

	doc, err := svc.BuildCertificate(tree.ID, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(doc) == 0 {
		t.Fatal("empty certificate")
	}

	// Works without a profile too, falling back to the user id.
	if _, err := svc.BuildCertificate(tree.ID, "stranger"); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.BuildCertificate(uuid.NewString(), "u1"); err != ErrTreeNotFound {
		t.Fatalf("missing tree err = %v, want ErrTreeNotFound", err)
	}
}
