package sourcer

import (
	"context"
	"fmt"
)

// Review transitions. Sourcing populates images without touching the
// approval flag; only an operator moves a record between unreviewed,
// approved, and rejected. Rejection and re-scrape requests clear the
// images so the record re-enters the bulk scanner's pool on its next run;
// neither performs sourcing itself.

const (
	defaultRejectNote   = "images rejected by reviewer"
	defaultRescrapeNote = "re-scrape requested, awaiting next sourcing run"
)

// Approve makes a product's sourced images visible to buyers. The
// operator's judgement overrides sourced confidence, so confidence is
// forced high. Fails if the product has no images.
func (s *Sourcer) Approve(ctx context.Context, productID string) error {
	if productID == "" {
		return fmt.Errorf("product id is required")
	}
	return s.store.ApproveImages(ctx, productID)
}

// Reject clears a product's images and hides it from buyers. Idempotent:
// rejecting twice yields the same state.
func (s *Sourcer) Reject(ctx context.Context, productID, notes string) error {
	if productID == "" {
		return fmt.Errorf("product id is required")
	}
	if notes == "" {
		notes = defaultRejectNote
	}
	return s.store.SetRejected(ctx, productID, notes)
}

// RequestRescrape clears a product's images and marks it for re-sourcing.
// Re-sourcing is always deferred to the next batch run so the review
// action stays cheap and synchronous for the operator.
func (s *Sourcer) RequestRescrape(ctx context.Context, productID string) error {
	if productID == "" {
		return fmt.Errorf("product id is required")
	}
	return s.store.SetRejected(ctx, productID, defaultRescrapeNote)
}
