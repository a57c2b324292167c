package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/google/uuid"
	"github.com/zombar/imagesourcer/models"
)

// DB wraps the database connection and provides data access for the
// sourcing queue, the catalog's image fields, and the dedup ledger
type DB struct {
	conn *sql.DB
}

// Config contains database configuration
type Config struct {
	DSN string // PostgreSQL connection string
}

// New creates a new database connection and runs pending migrations
func New(config Config) (*DB, error) {
	conn, err := sql.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Configure connection pool
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn}

	if err := Migrate(conn); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// DB returns the underlying database connection for metrics collection
func (db *DB) DB() *sql.DB {
	return db.conn
}

const queueItemColumns = "id, source_url, product_id, status, attempts, processed_url, error, created_at, completed_at"

// scanQueueItem scans a queue row from any row scanner
func scanQueueItem(scan func(dest ...interface{}) error) (*models.QueueItem, error) {
	var (
		item         models.QueueItem
		productID    sql.NullString
		processedURL sql.NullString
		lastError    sql.NullString
		completedAt  sql.NullTime
		status       string
	)

	err := scan(&item.ID, &item.SourceURL, &productID, &status, &item.Attempts, &processedURL, &lastError, &item.CreatedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	item.Status = models.QueueStatus(status)
	if productID.Valid {
		item.ProductID = &productID.String
	}
	if processedURL.Valid {
		item.ProcessedURL = &processedURL.String
	}
	if lastError.Valid {
		item.Error = &lastError.String
	}
	if completedAt.Valid {
		item.CompletedAt = &completedAt.Time
	}

	return &item, nil
}

// Enqueue inserts a new pending sourcing request
func (db *DB) Enqueue(ctx context.Context, sourceURL string, productID *string) (*models.QueueItem, error) {
	item := &models.QueueItem{
		ID:        uuid.New().String(),
		SourceURL: sourceURL,
		ProductID: productID,
		Status:    models.StatusPending,
		Attempts:  0,
		CreatedAt: time.Now().UTC(),
	}

	query := `
		INSERT INTO source_queue (id, source_url, product_id, status, attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`

	_, err := db.conn.ExecContext(ctx, query, item.ID, item.SourceURL, item.ProductID, string(item.Status), item.Attempts, item.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue source request: %w", err)
	}

	return item, nil
}

// GetQueueItem retrieves a queue item by ID, or nil if not found
func (db *DB) GetQueueItem(ctx context.Context, id string) (*models.QueueItem, error) {
	row := db.conn.QueryRowContext(ctx, "SELECT "+queueItemColumns+" FROM source_queue WHERE id = $1", id)

	item, err := scanQueueItem(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query queue item: %w", err)
	}

	return item, nil
}

// ListQueueItems returns queue items newest-first with pagination
func (db *DB) ListQueueItems(ctx context.Context, limit, offset int) ([]*models.QueueItem, error) {
	query := "SELECT " + queueItemColumns + " FROM source_queue ORDER BY created_at DESC LIMIT $1 OFFSET $2"

	rows, err := db.conn.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue items: %w", err)
	}
	defer rows.Close()

	var results []*models.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}
		results = append(results, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return results, nil
}

// ClaimPending atomically claims up to limit pending items: each claimed
// row moves to processing with attempts incremented in the same statement,
// so two concurrent invocations can never claim the same item. Items at
// the attempt ceiling are never selected.
func (db *DB) ClaimPending(ctx context.Context, limit int) ([]*models.QueueItem, error) {
	query := `
		UPDATE source_queue
		SET status = $1, attempts = attempts + 1, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM source_queue
			WHERE status = $2 AND attempts < $3
			ORDER BY created_at
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + queueItemColumns

	rows, err := db.conn.QueryContext(ctx, query,
		string(models.StatusProcessing), string(models.StatusPending), models.MaxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim pending items: %w", err)
	}
	defer rows.Close()

	var claimed []*models.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan claimed item: %w", err)
		}
		claimed = append(claimed, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating claimed rows: %w", err)
	}

	return claimed, nil
}

// ReclaimStale resolves processing items older than age, left behind by a
// crashed invocation. Items below the attempt ceiling go back to pending
// with the counter untouched (the original claim already counted that
// try); items whose abandoned claim was the final attempt are forced to
// failed, since the claim filter would never pick them up again.
func (db *DB) ReclaimStale(ctx context.Context, age time.Duration) (int, error) {
	failQuery := `
		UPDATE source_queue
		SET status = $1, error = $2, completed_at = NOW(), updated_at = NOW()
		WHERE status = $3 AND attempts >= $4 AND updated_at < NOW() - $5 * INTERVAL '1 second'
	`

	failed, err := db.conn.ExecContext(ctx, failQuery,
		string(models.StatusFailed), "claim abandoned on final attempt",
		string(models.StatusProcessing), models.MaxAttempts, int(age.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("failed to fail stale items at attempt ceiling: %w", err)
	}

	failedRows, err := failed.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	retryQuery := `
		UPDATE source_queue
		SET status = $1, updated_at = NOW()
		WHERE status = $2 AND updated_at < NOW() - $3 * INTERVAL '1 second'
	`

	retried, err := db.conn.ExecContext(ctx, retryQuery,
		string(models.StatusPending), string(models.StatusProcessing), int(age.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stale items: %w", err)
	}

	retriedRows, err := retried.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return int(failedRows + retriedRows), nil
}

// MarkCompleted resolves a processing item to completed
func (db *DB) MarkCompleted(ctx context.Context, id, processedURL string) error {
	query := `
		UPDATE source_queue
		SET status = $1, processed_url = $2, error = NULL, completed_at = NOW(), updated_at = NOW()
		WHERE id = $3
	`
	return db.resolveItem(ctx, query, string(models.StatusCompleted), processedURL, id)
}

// MarkPending reverts a processing item to pending for a later retry,
// recording the failure reason
func (db *DB) MarkPending(ctx context.Context, id, reason string) error {
	query := `
		UPDATE source_queue
		SET status = $1, error = $2, updated_at = NOW()
		WHERE id = $3
	`
	return db.resolveItem(ctx, query, string(models.StatusPending), reason, id)
}

// MarkFailed resolves a processing item to terminally failed
func (db *DB) MarkFailed(ctx context.Context, id, reason string) error {
	query := `
		UPDATE source_queue
		SET status = $1, error = $2, completed_at = NOW(), updated_at = NOW()
		WHERE id = $3
	`
	return db.resolveItem(ctx, query, string(models.StatusFailed), reason, id)
}

func (db *DB) resolveItem(ctx context.Context, query string, args ...interface{}) error {
	result, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update queue item: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("no queue item found with id: %s", args[len(args)-1])
	}

	return nil
}

const productColumns = "id, title, category, published, images, image_confidence, image_approved, image_review_notes, updated_at"

// scanProduct scans a product row from any row scanner
func scanProduct(scan func(dest ...interface{}) error) (*models.Product, error) {
	var (
		product       models.Product
		imagesJSON    sql.NullString
		confidence    string
		imageApproved sql.NullBool
		reviewNotes   sql.NullString
	)

	err := scan(&product.ID, &product.Title, &product.Category, &product.Published,
		&imagesJSON, &confidence, &imageApproved, &reviewNotes, &product.UpdatedAt)
	if err != nil {
		return nil, err
	}

	product.Images = []string{}
	if imagesJSON.Valid && imagesJSON.String != "" && imagesJSON.String != "null" {
		if err := json.Unmarshal([]byte(imagesJSON.String), &product.Images); err != nil {
			return nil, fmt.Errorf("failed to unmarshal images: %w", err)
		}
	}
	product.ImageConfidence = models.Confidence(confidence)
	if imageApproved.Valid {
		product.ImageApproved = &imageApproved.Bool
	}
	if reviewNotes.Valid {
		product.ImageReviewNotes = &reviewNotes.String
	}

	return &product, nil
}

// GetProduct retrieves a product by ID, or nil if not found
func (db *DB) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	row := db.conn.QueryRowContext(ctx, "SELECT "+productColumns+" FROM products WHERE id = $1", id)

	product, err := scanProduct(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query product: %w", err)
	}

	return product, nil
}

// ProductsWithoutImages returns published products whose images field is empty
func (db *DB) ProductsWithoutImages(ctx context.Context) ([]*models.Product, error) {
	query := "SELECT " + productColumns + ` FROM products
		WHERE published = TRUE AND (images IS NULL OR images = '' OR images = '[]' OR images = 'null')
		ORDER BY created_at`

	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query products without images: %w", err)
	}
	defer rows.Close()

	var results []*models.Product
	for rows.Next() {
		product, err := scanProduct(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		results = append(results, product)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return results, nil
}

// AppendProductImage appends url to a product's images inside a
// transaction holding a row lock, so concurrent writers cannot grow the
// slice past the capacity invariant. A full slice is a no-op: images,
// confidence, and updated_at are all left untouched, since the candidate
// was never attached.
func (db *DB) AppendProductImage(ctx context.Context, id, url string, confidence models.Confidence) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var imagesJSON sql.NullString
	err = tx.QueryRowContext(ctx, "SELECT images FROM products WHERE id = $1 FOR UPDATE", id).Scan(&imagesJSON)
	if err == sql.ErrNoRows {
		return fmt.Errorf("no product found with id: %s", id)
	}
	if err != nil {
		return fmt.Errorf("failed to lock product row: %w", err)
	}

	images := []string{}
	if imagesJSON.Valid && imagesJSON.String != "" && imagesJSON.String != "null" {
		if err := json.Unmarshal([]byte(imagesJSON.String), &images); err != nil {
			return fmt.Errorf("failed to unmarshal images: %w", err)
		}
	}

	if len(images) >= models.MaxProductImages {
		return tx.Commit()
	}
	images = append(images, url)

	updatedJSON, err := json.Marshal(images)
	if err != nil {
		return fmt.Errorf("failed to marshal images: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE products SET images = $1, image_confidence = $2, updated_at = NOW() WHERE id = $3",
		string(updatedJSON), string(confidence), id)
	if err != nil {
		return fmt.Errorf("failed to update product images: %w", err)
	}

	return tx.Commit()
}

// SetProductImages replaces a product's images, capped at the capacity limit
func (db *DB) SetProductImages(ctx context.Context, id string, images []string, confidence models.Confidence) error {
	if len(images) > models.MaxProductImages {
		images = images[:models.MaxProductImages]
	}

	imagesJSON, err := json.Marshal(images)
	if err != nil {
		return fmt.Errorf("failed to marshal images: %w", err)
	}

	result, err := db.conn.ExecContext(ctx,
		"UPDATE products SET images = $1, image_confidence = $2, updated_at = NOW() WHERE id = $3",
		string(imagesJSON), string(confidence), id)
	if err != nil {
		return fmt.Errorf("failed to set product images: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("no product found with id: %s", id)
	}

	return nil
}

// ApproveImages marks a product's images as buyer-visible. Approval
// requires a non-empty images field.
func (db *DB) ApproveImages(ctx context.Context, id string) error {
	result, err := db.conn.ExecContext(ctx, `
		UPDATE products
		SET image_approved = TRUE, image_confidence = $1, image_review_notes = NULL, updated_at = NOW()
		WHERE id = $2 AND images IS NOT NULL AND images != '' AND images != '[]' AND images != 'null'
	`, string(models.ConfidenceHigh), id)
	if err != nil {
		return fmt.Errorf("failed to approve product images: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		// Distinguish a missing product from a product with nothing to approve
		product, err := db.GetProduct(ctx, id)
		if err != nil {
			return err
		}
		if product == nil {
			return fmt.Errorf("no product found with id: %s", id)
		}
		return fmt.Errorf("cannot approve product %s: no images to approve", id)
	}

	return nil
}

// SetRejected clears a product's images and records the review outcome so
// the record re-enters the bulk scanner's pool on its next run
func (db *DB) SetRejected(ctx context.Context, id, notes string) error {
	result, err := db.conn.ExecContext(ctx, `
		UPDATE products
		SET images = '[]', image_approved = FALSE, image_confidence = $1, image_review_notes = $2, updated_at = NOW()
		WHERE id = $3
	`, string(models.ConfidenceLow), notes, id)
	if err != nil {
		return fmt.Errorf("failed to reject product images: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("no product found with id: %s", id)
	}

	return nil
}

// InsertImageHash records a dedup ledger entry, returning false when the
// hash already exists. The insert-if-absent is the linearization point for
// cross-invocation dedup: a lost race means someone else claimed the
// content and the caller must skip its own storage write.
func (db *DB) InsertImageHash(ctx context.Context, rec *models.ImageHashRecord) (bool, error) {
	var exifJSON []byte
	if rec.EXIF != nil {
		var err error
		exifJSON, err = json.Marshal(rec.EXIF)
		if err != nil {
			return false, fmt.Errorf("failed to marshal EXIF: %w", err)
		}
	}

	query := `
		INSERT INTO image_hashes (hash, product_id, width, height, file_size_bytes, content_type, exif_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (hash) DO NOTHING
	`

	result, err := db.conn.ExecContext(ctx, query,
		rec.Hash, rec.ProductID, rec.Width, rec.Height, rec.FileSizeBytes, rec.ContentType, string(exifJSON))
	if err != nil {
		return false, fmt.Errorf("failed to insert image hash: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return rows > 0, nil
}

// HashExists reports whether a content hash is already in the dedup ledger
func (db *DB) HashExists(ctx context.Context, hash string) (bool, error) {
	var exists bool
	err := db.conn.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM image_hashes WHERE hash = $1)", hash).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check hash existence: %w", err)
	}
	return exists, nil
}

// QueueStats contains queue depth counts for metrics
type QueueStats struct {
	Pending    int
	Processing int
	Completed  int
	Failed     int
}

// GetQueueStats returns queue depth by status for Prometheus metrics
func (db *DB) GetQueueStats(ctx context.Context) (*QueueStats, error) {
	rows, err := db.conn.QueryContext(ctx, "SELECT status, COUNT(*) FROM source_queue GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to count queue items: %w", err)
	}
	defer rows.Close()

	stats := &QueueStats{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan queue stats: %w", err)
		}
		switch models.QueueStatus(status) {
		case models.StatusPending:
			stats.Pending = count
		case models.StatusProcessing:
			stats.Processing = count
		case models.StatusCompleted:
			stats.Completed = count
		case models.StatusFailed:
			stats.Failed = count
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return stats, nil
}
