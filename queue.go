package sourcer

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/zombar/imagesourcer/imghash"
	"github.com/zombar/imagesourcer/metrics"
	"github.com/zombar/imagesourcer/models"
)

// ProcessQueue drains up to one batch of pending work and brings every
// claimed item to a terminal outcome for this pass. Items are claimed
// atomically (status to processing, attempts incremented in one statement)
// so concurrent invocations never double-process. A single item's failure
// never aborts the batch; only an inability to read the queue itself
// returns an error.
func (s *Sourcer) ProcessQueue(ctx context.Context) (*models.BatchResult, error) {
	// Claims abandoned by a crashed invocation become eligible again
	// once they exceed the stale age
	reclaimed, err := s.store.ReclaimStale(ctx, s.config.StaleClaimAge)
	if err != nil {
		return nil, fmt.Errorf("failed to reclaim stale items: %w", err)
	}
	if reclaimed > 0 {
		log.Printf("Reclaimed %d stale processing items", reclaimed)
	}

	items, err := s.store.ClaimPending(ctx, s.config.QueueBatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to claim pending items: %w", err)
	}

	result := &models.BatchResult{Total: len(items)}
	if len(items) == 0 {
		return result, nil
	}

	// Process the batch with a bounded worker pool; failures are
	// isolated per item
	numWorkers := s.config.MaxWorkers
	if numWorkers > len(items) {
		numWorkers = len(items)
	}
	if numWorkers < 1 {
		numWorkers = 1
	}

	jobs := make(chan *models.QueueItem, len(items))
	outcomes := make(chan error, len(items))

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range jobs {
				outcomes <- s.processQueueItem(ctx, item)
			}
		}()
	}

	for _, item := range items {
		jobs <- item
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	for err := range outcomes {
		if err != nil {
			result.Failed++
		} else {
			result.Processed++
		}
	}

	log.Printf("Queue batch complete: %d processed, %d failed, %d total",
		result.Processed, result.Failed, result.Total)

	return result, nil
}

// processQueueItem drives one claimed item through fetch, validation,
// storage, and resolution. The returned error reflects the item's outcome;
// the item row itself is always resolved before returning.
func (s *Sourcer) processQueueItem(ctx context.Context, item *models.QueueItem) error {
	publicURL, err := s.sourceFromURL(ctx, item)
	if err != nil {
		s.resolveFailure(ctx, item, err)
		return err
	}

	if markErr := s.store.MarkCompleted(ctx, item.ID, publicURL); markErr != nil {
		log.Printf("Failed to mark item %s completed: %v", item.ID, markErr)
		return markErr
	}

	metrics.QueueItemsProcessed.WithLabelValues("completed").Inc()
	return nil
}

// sourceFromURL fetches, validates, stores, and links the image for a
// queue item, returning the stored public URL
func (s *Sourcer) sourceFromURL(ctx context.Context, item *models.QueueItem) (string, error) {
	if item.SourceURL == "" {
		return "", fmt.Errorf("queue item has no source URL")
	}

	data, contentType, err := s.fetchImage(ctx, item.SourceURL)
	if err != nil {
		return "", err
	}

	if err := validateImage(data, contentType, s.config.QueueMinBytes); err != nil {
		return "", err
	}

	hash := imghash.Sum(data)
	confidence := assignConfidence(len(data), s.config.QueueMinBytes, false)

	// Storage keys are namespaced by product when the item is attached,
	// by queue-item identity otherwise
	var key string
	if item.ProductID != nil {
		key = storageKey("products", *item.ProductID, contentType, time.Now())
	} else {
		key = storageKey("queue", item.ID, contentType, time.Now())
	}

	publicURL, err := s.objects.SaveImage(ctx, data, key, contentType)
	if err != nil {
		return "", fmt.Errorf("failed to store image: %w", err)
	}

	// Queue items are deliberate, user-specified sources, so unlike the
	// bulk scanner the ledger is not consulted before storing; the entry
	// is still recorded for the scanner's benefit
	rec := &models.ImageHashRecord{Hash: hash, ProductID: item.ProductID}
	captureImageMeta(rec, data, contentType)
	if _, err := s.store.InsertImageHash(ctx, rec); err != nil {
		// The image is already stored and about to be linked; a ledger
		// write failure must not fail the item or a retry would append
		// the image twice
		log.Printf("Failed to record image hash for item %s: %v", item.ID, err)
	}

	if item.ProductID != nil {
		if err := s.store.AppendProductImage(ctx, *item.ProductID, publicURL, confidence); err != nil {
			return "", fmt.Errorf("failed to link image to product: %w", err)
		}
		if confidence == models.ConfidenceLow {
			metrics.LowConfidenceFlagged.Inc()
		}
	}

	return publicURL, nil
}

// resolveFailure records the failure on the item and decides between a
// retry and a terminal failure. Attempts were already incremented at claim
// time, so reaching the ceiling here means this was the final try.
func (s *Sourcer) resolveFailure(ctx context.Context, item *models.QueueItem, cause error) {
	reason := cause.Error()

	if item.Attempts >= models.MaxAttempts {
		if err := s.store.MarkFailed(ctx, item.ID, reason); err != nil {
			log.Printf("Failed to mark item %s failed: %v", item.ID, err)
			return
		}
		metrics.QueueItemsProcessed.WithLabelValues("failed").Inc()
		log.Printf("Item %s failed terminally after %d attempts: %s", item.ID, item.Attempts, reason)
		return
	}

	if err := s.store.MarkPending(ctx, item.ID, reason); err != nil {
		log.Printf("Failed to revert item %s to pending: %v", item.ID, err)
		return
	}
	metrics.QueueItemsProcessed.WithLabelValues("retried").Inc()
	log.Printf("Item %s failed attempt %d, will retry: %s", item.ID, item.Attempts, reason)
}
