package sourcer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/zombar/imagesourcer/models"
)

func strPtr(s string) *string { return &s }

func TestProcessQueueSuccess(t *testing.T) {
	server := imageServer(t, 200, "image/jpeg", 50*1024)
	defer server.Close()

	store := newFakeStore()
	store.addProduct(&models.Product{ID: "prod-1", Title: "Walnut Desk", Published: true})
	item := store.addItem(server.URL, strPtr("prod-1"))

	objects := newFakeObjects()
	s := newTestSourcer(store, objects)

	result, err := s.ProcessQueue(context.Background())
	if err != nil {
		t.Fatalf("ProcessQueue() error = %v", err)
	}
	if result.Processed != 1 || result.Failed != 0 || result.Total != 1 {
		t.Errorf("BatchResult = %+v, want 1 processed, 0 failed, 1 total", result)
	}

	got := store.item(item.ID)
	if got.Status != models.StatusCompleted {
		t.Errorf("Status = %s, want %s", got.Status, models.StatusCompleted)
	}
	if got.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", got.Attempts)
	}
	if got.ProcessedURL == nil || !strings.HasPrefix(*got.ProcessedURL, "https://img.test/products/prod-1/") {
		t.Errorf("ProcessedURL = %v, want products/prod-1 key", got.ProcessedURL)
	}
	if got.CompletedAt == nil {
		t.Error("Expected CompletedAt to be set")
	}

	product := store.product("prod-1")
	if len(product.Images) != 1 {
		t.Fatalf("Expected 1 product image, got %d", len(product.Images))
	}
	if product.Images[0] != *got.ProcessedURL {
		t.Errorf("Product image = %s, want %s", product.Images[0], *got.ProcessedURL)
	}
	// 50KB clears twice the 10KB floor comfortably
	if product.ImageConfidence != models.ConfidenceHigh {
		t.Errorf("ImageConfidence = %s, want %s", product.ImageConfidence, models.ConfidenceHigh)
	}
	if objects.count() != 1 {
		t.Errorf("Expected 1 stored object, got %d", objects.count())
	}
	if len(store.hashes) != 1 {
		t.Errorf("Expected 1 ledger entry, got %d", len(store.hashes))
	}
}

func TestProcessQueueSpeculativeItem(t *testing.T) {
	server := imageServer(t, 200, "image/png", 30*1024)
	defer server.Close()

	store := newFakeStore()
	item := store.addItem(server.URL, nil)

	s := newTestSourcer(store, newFakeObjects())

	result, err := s.ProcessQueue(context.Background())
	if err != nil {
		t.Fatalf("ProcessQueue() error = %v", err)
	}
	if result.Processed != 1 {
		t.Fatalf("Processed = %d, want 1", result.Processed)
	}

	got := store.item(item.ID)
	if got.Status != models.StatusCompleted {
		t.Errorf("Status = %s, want %s", got.Status, models.StatusCompleted)
	}
	// Unattached items land under the queue namespace
	if got.ProcessedURL == nil || !strings.Contains(*got.ProcessedURL, "/queue/"+item.ID+"/") {
		t.Errorf("ProcessedURL = %v, want queue/%s key", got.ProcessedURL, item.ID)
	}
}

func TestProcessQueueRetryThenTerminalFailure(t *testing.T) {
	server := imageServer(t, 404, "text/html", 0)
	defer server.Close()

	store := newFakeStore()
	item := store.addItem(server.URL, nil)

	s := newTestSourcer(store, newFakeObjects())

	// First two passes revert the item to pending with the error recorded
	for attempt := 1; attempt < models.MaxAttempts; attempt++ {
		result, err := s.ProcessQueue(context.Background())
		if err != nil {
			t.Fatalf("ProcessQueue() pass %d error = %v", attempt, err)
		}
		if result.Failed != 1 {
			t.Fatalf("Pass %d: Failed = %d, want 1", attempt, result.Failed)
		}

		got := store.item(item.ID)
		if got.Status != models.StatusPending {
			t.Fatalf("Pass %d: Status = %s, want %s", attempt, got.Status, models.StatusPending)
		}
		if got.Attempts != attempt {
			t.Fatalf("Pass %d: Attempts = %d, want %d", attempt, got.Attempts, attempt)
		}
		if got.Error == nil || !strings.Contains(*got.Error, "404") {
			t.Fatalf("Pass %d: Error = %v, want HTTP 404 reason", attempt, got.Error)
		}
	}

	// Third pass exhausts the attempt ceiling
	if _, err := s.ProcessQueue(context.Background()); err != nil {
		t.Fatalf("ProcessQueue() final pass error = %v", err)
	}
	got := store.item(item.ID)
	if got.Status != models.StatusFailed {
		t.Errorf("Status = %s, want %s", got.Status, models.StatusFailed)
	}
	if got.Attempts != models.MaxAttempts {
		t.Errorf("Attempts = %d, want %d", got.Attempts, models.MaxAttempts)
	}
	if got.CompletedAt == nil {
		t.Error("Expected CompletedAt to be set on terminal failure")
	}

	// A fourth pass must not pick the item back up
	result, err := s.ProcessQueue(context.Background())
	if err != nil {
		t.Fatalf("ProcessQueue() post-terminal pass error = %v", err)
	}
	if result.Total != 0 {
		t.Errorf("Total = %d, want 0 after terminal failure", result.Total)
	}
}

func TestProcessQueueBatchLimit(t *testing.T) {
	server := imageServer(t, 200, "image/jpeg", 20*1024)
	defer server.Close()

	store := newFakeStore()
	for i := 0; i < 13; i++ {
		store.addItem(server.URL, nil)
	}

	s := newTestSourcer(store, newFakeObjects())

	result, err := s.ProcessQueue(context.Background())
	if err != nil {
		t.Fatalf("ProcessQueue() error = %v", err)
	}
	if result.Total != 10 {
		t.Errorf("Total = %d, want batch cap of 10", result.Total)
	}

	result, err = s.ProcessQueue(context.Background())
	if err != nil {
		t.Fatalf("ProcessQueue() second pass error = %v", err)
	}
	if result.Total != 3 {
		t.Errorf("Second pass Total = %d, want 3", result.Total)
	}
}

func TestProcessQueueIsolatesItemFailures(t *testing.T) {
	good := imageServer(t, 200, "image/jpeg", 20*1024)
	defer good.Close()
	bad := imageServer(t, 500, "text/html", 0)
	defer bad.Close()

	store := newFakeStore()
	goodItem := store.addItem(good.URL, nil)
	badItem := store.addItem(bad.URL, nil)

	s := newTestSourcer(store, newFakeObjects())

	result, err := s.ProcessQueue(context.Background())
	if err != nil {
		t.Fatalf("ProcessQueue() error = %v", err)
	}
	if result.Processed != 1 || result.Failed != 1 {
		t.Errorf("BatchResult = %+v, want 1 processed, 1 failed", result)
	}
	if store.item(goodItem.ID).Status != models.StatusCompleted {
		t.Error("Expected good item to complete despite sibling failure")
	}
	if store.item(badItem.ID).Status != models.StatusPending {
		t.Error("Expected bad item to revert to pending")
	}
}

func TestProcessQueueRejectsUndersizedImage(t *testing.T) {
	server := imageServer(t, 200, "image/jpeg", 4*1024)
	defer server.Close()

	store := newFakeStore()
	item := store.addItem(server.URL, nil)

	s := newTestSourcer(store, newFakeObjects())

	if _, err := s.ProcessQueue(context.Background()); err != nil {
		t.Fatalf("ProcessQueue() error = %v", err)
	}

	got := store.item(item.ID)
	if got.Status != models.StatusPending {
		t.Errorf("Status = %s, want %s", got.Status, models.StatusPending)
	}
	if got.Error == nil || !strings.Contains(*got.Error, "too small") {
		t.Errorf("Error = %v, want size rejection", got.Error)
	}
}

func TestProcessQueueRejectsNonImageContent(t *testing.T) {
	server := imageServer(t, 200, "text/html", 20*1024)
	defer server.Close()

	store := newFakeStore()
	item := store.addItem(server.URL, nil)

	s := newTestSourcer(store, newFakeObjects())

	if _, err := s.ProcessQueue(context.Background()); err != nil {
		t.Fatalf("ProcessQueue() error = %v", err)
	}

	got := store.item(item.ID)
	if got.Error == nil || !strings.Contains(*got.Error, "not an image") {
		t.Errorf("Error = %v, want content type rejection", got.Error)
	}
}

func TestProcessQueueLowConfidenceBorderlineSize(t *testing.T) {
	// 15KB passes the 10KB floor but misses twice the floor
	server := imageServer(t, 200, "image/jpeg", 15*1024)
	defer server.Close()

	store := newFakeStore()
	store.addProduct(&models.Product{ID: "prod-1", Title: "Desk Lamp", Published: true})
	store.addItem(server.URL, strPtr("prod-1"))

	s := newTestSourcer(store, newFakeObjects())

	if _, err := s.ProcessQueue(context.Background()); err != nil {
		t.Fatalf("ProcessQueue() error = %v", err)
	}

	product := store.product("prod-1")
	if product.ImageConfidence != models.ConfidenceLow {
		t.Errorf("ImageConfidence = %s, want %s", product.ImageConfidence, models.ConfidenceLow)
	}
}

func TestProcessQueueImageCapHolds(t *testing.T) {
	// 15KB would be tagged low confidence if it were attached
	server := imageServer(t, 200, "image/jpeg", 15*1024)
	defer server.Close()

	store := newFakeStore()
	store.addProduct(&models.Product{
		ID:              "prod-1",
		Title:           "Bookshelf",
		Published:       true,
		Images:          []string{"https://img.test/a.jpg", "https://img.test/b.jpg", "https://img.test/c.jpg"},
		ImageConfidence: models.ConfidenceHigh,
	})
	item := store.addItem(server.URL, strPtr("prod-1"))

	s := newTestSourcer(store, newFakeObjects())

	if _, err := s.ProcessQueue(context.Background()); err != nil {
		t.Fatalf("ProcessQueue() error = %v", err)
	}

	// The item still completes; the product just keeps its existing set
	if store.item(item.ID).Status != models.StatusCompleted {
		t.Error("Expected item to complete against a full product")
	}
	product := store.product("prod-1")
	if len(product.Images) != models.MaxProductImages {
		t.Errorf("Expected image count to hold at %d, got %d", models.MaxProductImages, len(product.Images))
	}
	// The unattached candidate must not relabel images it never touched
	if product.ImageConfidence != models.ConfidenceHigh {
		t.Errorf("ImageConfidence = %s, want %s left untouched", product.ImageConfidence, models.ConfidenceHigh)
	}
}

func TestProcessQueueReclaimsStaleItem(t *testing.T) {
	server := imageServer(t, 200, "image/jpeg", 50*1024)
	defer server.Close()

	store := newFakeStore()
	item := store.addItem(server.URL, nil)
	// Simulate a claim abandoned by a crashed run: first attempt counted,
	// item stuck in processing well past the stale age
	store.items[item.ID].Status = models.StatusProcessing
	store.items[item.ID].Attempts = 1
	store.claimedAt[item.ID] = time.Now().Add(-time.Hour)

	s := newTestSourcer(store, newFakeObjects())

	result, err := s.ProcessQueue(context.Background())
	if err != nil {
		t.Fatalf("ProcessQueue() error = %v", err)
	}
	if result.Processed != 1 {
		t.Fatalf("Processed = %d, want 1 (stale item reclaimed and retried)", result.Processed)
	}

	got := store.item(item.ID)
	if got.Status != models.StatusCompleted {
		t.Errorf("Status = %s, want %s", got.Status, models.StatusCompleted)
	}
	// The sweep must not count an attempt; only the fresh claim does
	if got.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2 (abandoned claim plus the retry)", got.Attempts)
	}
}

func TestProcessQueueFailsStaleItemAtAttemptCeiling(t *testing.T) {
	store := newFakeStore()
	item := store.addItem("https://example.com/x.jpg", nil)
	// The abandoned claim was the final attempt; the claim filter would
	// never pick the item up again, so the sweep must resolve it
	store.items[item.ID].Status = models.StatusProcessing
	store.items[item.ID].Attempts = models.MaxAttempts
	store.claimedAt[item.ID] = time.Now().Add(-time.Hour)

	s := newTestSourcer(store, newFakeObjects())

	result, err := s.ProcessQueue(context.Background())
	if err != nil {
		t.Fatalf("ProcessQueue() error = %v", err)
	}
	if result.Total != 0 {
		t.Errorf("Total = %d, want 0 (item must not be claimable)", result.Total)
	}

	got := store.item(item.ID)
	if got.Status != models.StatusFailed {
		t.Errorf("Status = %s, want %s", got.Status, models.StatusFailed)
	}
	if got.Attempts != models.MaxAttempts {
		t.Errorf("Attempts = %d, want %d", got.Attempts, models.MaxAttempts)
	}
	if got.Error == nil || !strings.Contains(*got.Error, "abandoned") {
		t.Errorf("Error = %v, want abandoned-claim reason", got.Error)
	}
	if got.CompletedAt == nil {
		t.Error("Expected CompletedAt to be set on terminal failure")
	}
}

func TestProcessQueueEmptySourceURL(t *testing.T) {
	store := newFakeStore()
	item := store.addItem("", nil)

	s := newTestSourcer(store, newFakeObjects())

	if _, err := s.ProcessQueue(context.Background()); err != nil {
		t.Fatalf("ProcessQueue() error = %v", err)
	}

	got := store.item(item.ID)
	if got.Status != models.StatusPending {
		t.Errorf("Status = %s, want %s", got.Status, models.StatusPending)
	}
	if got.Error == nil || !strings.Contains(*got.Error, "no source URL") {
		t.Errorf("Error = %v, want missing URL reason", got.Error)
	}
}

func TestProcessQueueStructuralFailure(t *testing.T) {
	store := newFakeStore()
	store.claimErr = errors.New("connection refused")

	s := newTestSourcer(store, newFakeObjects())

	if _, err := s.ProcessQueue(context.Background()); err == nil {
		t.Fatal("Expected error when the queue itself is unreadable")
	}
}

func TestProcessQueueEmptyQueue(t *testing.T) {
	s := newTestSourcer(newFakeStore(), newFakeObjects())

	result, err := s.ProcessQueue(context.Background())
	if err != nil {
		t.Fatalf("ProcessQueue() error = %v", err)
	}
	if result.Total != 0 || result.Processed != 0 || result.Failed != 0 {
		t.Errorf("BatchResult = %+v, want all zeros", result)
	}
}

func TestResolveFailureReasonRecorded(t *testing.T) {
	store := newFakeStore()
	item := store.addItem("https://example.com/x.jpg", nil)
	item.Attempts = 1 // claim-time increment already applied
	item.Status = models.StatusProcessing

	s := newTestSourcer(store, newFakeObjects())
	s.resolveFailure(context.Background(), item, fmt.Errorf("image too small: 100 bytes (min: 10240)"))

	got := store.item(item.ID)
	if got.Error == nil || *got.Error != "image too small: 100 bytes (min: 10240)" {
		t.Errorf("Error = %v, want the cause verbatim", got.Error)
	}
}
