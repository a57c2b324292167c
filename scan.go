package sourcer

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/zombar/imagesourcer/imghash"
	"github.com/zombar/imagesourcer/metrics"
	"github.com/zombar/imagesourcer/models"
	"github.com/zombar/imagesourcer/slug"
)

// BulkScan walks every published product lacking images and sources one
// directly through the provider chain. Dedup here is global: a content
// hash already in the ledger for any product skips the candidate, so the
// same stock photo is never silently attached to many records. A
// record-level failure skips to the next product without aborting the
// scan.
func (s *Sourcer) BulkScan(ctx context.Context) (*models.ScanResult, error) {
	products, err := s.store.ProductsWithoutImages(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list products without images: %w", err)
	}

	result := &models.ScanResult{}
	for _, product := range products {
		confidence, err := s.sourceForProduct(ctx, product)
		if err != nil {
			log.Printf("Skipping product %s: %v", product.ID, err)
			continue
		}
		if confidence == "" {
			// Deduplicated, nothing assigned
			continue
		}

		result.ImagesAssigned++
		metrics.ImagesAssigned.Inc()
		if confidence == models.ConfidenceLow {
			result.LowConfidenceFlagged++
			metrics.LowConfidenceFlagged.Inc()
		}
	}

	log.Printf("Bulk scan complete: %d images assigned, %d flagged for review",
		result.ImagesAssigned, result.LowConfidenceFlagged)

	return result, nil
}

// sourceForProduct finds, validates, and stores one image for a product.
// It returns the assigned confidence, or "" when the candidate was
// deduplicated away.
func (s *Sourcer) sourceForProduct(ctx context.Context, product *models.Product) (models.Confidence, error) {
	query := strings.TrimSpace(product.Title + " " + product.Category)

	candidateURL, providerName, err := s.chain.FindImage(ctx, query)
	fromPlaceholder := false
	if err != nil {
		// Chain exhausted (or unusable query): fall back to the static
		// category placeholder
		candidateURL = s.placeholders.Lookup(product.Category)
		fromPlaceholder = true
		log.Printf("No provider candidate for product %s, using placeholder: %v", product.ID, err)
	} else {
		log.Printf("Provider %s found candidate for product %s", providerName, product.ID)
	}

	data, contentType, err := s.fetchImage(ctx, candidateURL)
	if err != nil {
		return "", err
	}

	if err := validateImage(data, contentType, s.config.ScanMinBytes); err != nil {
		return "", err
	}

	confidence := assignConfidence(len(data), s.config.ScanMinBytes, fromPlaceholder)

	// The ledger insert is the linearization point for dedup: losing the
	// insert means the content is already claimed, so this product gets
	// nothing and no storage write happens
	rec := &models.ImageHashRecord{Hash: imghash.Sum(data), ProductID: &product.ID}
	captureImageMeta(rec, data, contentType)
	inserted, err := s.store.InsertImageHash(ctx, rec)
	if err != nil {
		return "", fmt.Errorf("failed to record image hash: %w", err)
	}
	if !inserted {
		metrics.DuplicatesSkipped.Inc()
		log.Printf("Duplicate content for product %s (hash %s), skipping", product.ID, rec.Hash)
		return "", nil
	}

	key := storageKey("products", slug.FromProduct(product.Title, product.ID), contentType, time.Now())
	publicURL, err := s.objects.SaveImage(ctx, data, key, contentType)
	if err != nil {
		return "", fmt.Errorf("failed to store image: %w", err)
	}

	if err := s.store.SetProductImages(ctx, product.ID, []string{publicURL}, confidence); err != nil {
		return "", fmt.Errorf("failed to assign image to product: %w", err)
	}

	return confidence, nil
}
