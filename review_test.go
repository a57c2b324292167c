package sourcer

import (
	"context"
	"testing"

	"github.com/zombar/imagesourcer/models"
)

func TestApprove(t *testing.T) {
	store := newFakeStore()
	store.addProduct(&models.Product{
		ID: "prod-1", Title: "Oak Chair", Published: true,
		Images:          []string{"https://img.test/a.jpg"},
		ImageConfidence: models.ConfidenceLow,
	})

	s := newTestSourcer(store, newFakeObjects())

	if err := s.Approve(context.Background(), "prod-1"); err != nil {
		t.Fatalf("Approve() error = %v", err)
	}

	product := store.product("prod-1")
	if product.ImageApproved == nil || !*product.ImageApproved {
		t.Error("Expected product to be approved")
	}
	// Operator judgement overrides sourced confidence
	if product.ImageConfidence != models.ConfidenceHigh {
		t.Errorf("ImageConfidence = %s, want %s", product.ImageConfidence, models.ConfidenceHigh)
	}
	if !product.Visible() {
		t.Error("Expected approved published product to be visible")
	}
}

func TestApproveWithoutImages(t *testing.T) {
	store := newFakeStore()
	store.addProduct(&models.Product{ID: "prod-1", Title: "Oak Chair", Published: true})

	s := newTestSourcer(store, newFakeObjects())

	if err := s.Approve(context.Background(), "prod-1"); err == nil {
		t.Fatal("Expected error approving a product with no images")
	}
}

func TestApproveMissingProduct(t *testing.T) {
	s := newTestSourcer(newFakeStore(), newFakeObjects())

	if err := s.Approve(context.Background(), "nope"); err == nil {
		t.Fatal("Expected error for unknown product")
	}
	if err := s.Approve(context.Background(), ""); err == nil {
		t.Fatal("Expected error for empty product id")
	}
}

func TestReject(t *testing.T) {
	store := newFakeStore()
	store.addProduct(&models.Product{
		ID: "prod-1", Title: "Oak Chair", Published: true,
		Images: []string{"https://img.test/a.jpg", "https://img.test/b.jpg"},
	})

	s := newTestSourcer(store, newFakeObjects())

	if err := s.Reject(context.Background(), "prod-1", "wrong product entirely"); err != nil {
		t.Fatalf("Reject() error = %v", err)
	}

	product := store.product("prod-1")
	if len(product.Images) != 0 {
		t.Errorf("Expected images to be cleared, got %d", len(product.Images))
	}
	if product.ImageApproved == nil || *product.ImageApproved {
		t.Error("Expected product to be unapproved")
	}
	if product.ImageReviewNotes == nil || *product.ImageReviewNotes != "wrong product entirely" {
		t.Errorf("ImageReviewNotes = %v, want reviewer notes", product.ImageReviewNotes)
	}
	if product.Visible() {
		t.Error("Expected rejected product to be hidden")
	}
}

func TestRejectDefaultNote(t *testing.T) {
	store := newFakeStore()
	store.addProduct(&models.Product{
		ID: "prod-1", Title: "Oak Chair", Published: true,
		Images: []string{"https://img.test/a.jpg"},
	})

	s := newTestSourcer(store, newFakeObjects())

	if err := s.Reject(context.Background(), "prod-1", ""); err != nil {
		t.Fatalf("Reject() error = %v", err)
	}

	product := store.product("prod-1")
	if product.ImageReviewNotes == nil || *product.ImageReviewNotes != defaultRejectNote {
		t.Errorf("ImageReviewNotes = %v, want default note", product.ImageReviewNotes)
	}
}

func TestRejectIsIdempotent(t *testing.T) {
	store := newFakeStore()
	store.addProduct(&models.Product{
		ID: "prod-1", Title: "Oak Chair", Published: true,
		Images: []string{"https://img.test/a.jpg"},
	})

	s := newTestSourcer(store, newFakeObjects())

	if err := s.Reject(context.Background(), "prod-1", ""); err != nil {
		t.Fatalf("Reject() first call error = %v", err)
	}
	if err := s.Reject(context.Background(), "prod-1", ""); err != nil {
		t.Fatalf("Reject() second call error = %v", err)
	}

	product := store.product("prod-1")
	if len(product.Images) != 0 || product.ImageApproved == nil || *product.ImageApproved {
		t.Error("Expected repeated rejection to hold the same state")
	}
}

func TestRequestRescrapeReentersScanPool(t *testing.T) {
	store := newFakeStore()
	store.addProduct(&models.Product{
		ID: "prod-1", Title: "Oak Chair", Published: true,
		Images: []string{"https://img.test/a.jpg"},
	})

	s := newTestSourcer(store, newFakeObjects())

	if err := s.RequestRescrape(context.Background(), "prod-1"); err != nil {
		t.Fatalf("RequestRescrape() error = %v", err)
	}

	product := store.product("prod-1")
	if len(product.Images) != 0 {
		t.Error("Expected images to be cleared for re-sourcing")
	}
	if product.ImageReviewNotes == nil || *product.ImageReviewNotes != defaultRescrapeNote {
		t.Errorf("ImageReviewNotes = %v, want rescrape note", product.ImageReviewNotes)
	}

	// The cleared product is back in the bulk scanner's pool
	pool, err := store.ProductsWithoutImages(context.Background())
	if err != nil {
		t.Fatalf("ProductsWithoutImages() error = %v", err)
	}
	if len(pool) != 1 || pool[0].ID != "prod-1" {
		t.Errorf("Expected prod-1 in the scan pool, got %d products", len(pool))
	}
}
