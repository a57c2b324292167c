package models

import "time"

// QueueStatus is the lifecycle state of a sourcing queue item
type QueueStatus string

const (
	StatusPending    QueueStatus = "pending"
	StatusProcessing QueueStatus = "processing"
	StatusCompleted  QueueStatus = "completed"
	StatusFailed     QueueStatus = "failed"
)

// Confidence is a coarse quality tag on a sourced image.
// It never blocks storage; it only feeds the review/visibility decision.
type Confidence string

const (
	ConfidenceHigh    Confidence = "high"
	ConfidenceLow     Confidence = "low"
	ConfidenceUnknown Confidence = "unknown"
)

// MaxAttempts is the retry ceiling for queue items. Once attempts reaches
// this value the item is terminally failed; only an explicit re-scrape
// resets it.
const MaxAttempts = 3

// MaxProductImages caps the images slice on a product record
const MaxProductImages = 3

// QueueItem is a unit of image-sourcing work with bounded retry.
// Items are never deleted; terminal items remain as an audit trail.
type QueueItem struct {
	ID           string      `json:"id"`
	SourceURL    string      `json:"source_url"`
	ProductID    *string     `json:"product_id,omitempty"` // nil = speculative, not attached to a product
	Status       QueueStatus `json:"status"`
	Attempts     int         `json:"attempts"`
	ProcessedURL *string     `json:"processed_url,omitempty"` // public URL, set on success
	Error        *string     `json:"error,omitempty"`         // last failure reason
	CreatedAt    time.Time   `json:"created_at"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty"`
}

// Product is the subset of a catalog record the sourcing pipeline touches.
// The full catalog schema (pricing, listing fields) is owned elsewhere.
type Product struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	Category         string     `json:"category"`
	Published        bool       `json:"published"`
	Images           []string   `json:"images"` // ordered by relevance, first = primary, len <= MaxProductImages
	ImageConfidence  Confidence `json:"image_confidence"`
	ImageApproved    *bool      `json:"image_approved,omitempty"` // nil/false = not visible to buyers
	ImageReviewNotes *string    `json:"image_review_notes,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Visible reports whether the product's images are exposed to buyers
func (p *Product) Visible() bool {
	return p.ImageApproved != nil && *p.ImageApproved && len(p.Images) > 0
}

// ImageHashRecord is a dedup ledger entry, recorded once per successfully
// stored image. Rows are insert-only from the pipeline's point of view.
type ImageHashRecord struct {
	Hash          string    `json:"hash"` // sha256, lowercase hex
	ProductID     *string   `json:"product_id,omitempty"`
	Width         int       `json:"width,omitempty"`
	Height        int       `json:"height,omitempty"`
	FileSizeBytes int64     `json:"file_size_bytes,omitempty"`
	ContentType   string    `json:"content_type,omitempty"`
	EXIF          *EXIFData `json:"exif,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// EXIFData contains EXIF metadata captured from a stored image
type EXIFData struct {
	DateTime         string `json:"date_time,omitempty"`
	DateTimeOriginal string `json:"date_time_original,omitempty"`
	Make             string `json:"make,omitempty"`
	Model            string `json:"model,omitempty"`
	Copyright        string `json:"copyright,omitempty"`
	Artist           string `json:"artist,omitempty"`
	Software         string `json:"software,omitempty"`
	Orientation      int    `json:"orientation,omitempty"`
}

// BatchResult is the aggregate outcome of one queue processing pass
type BatchResult struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
}

// ScanResult is the aggregate outcome of one bulk scan pass
type ScanResult struct {
	ImagesAssigned       int `json:"images_assigned"`
	LowConfidenceFlagged int `json:"low_confidence_flagged"`
}

// EnqueueRequest is the payload for inserting sourcing work
type EnqueueRequest struct {
	SourceURL string  `json:"source_url"`
	ProductID *string `json:"product_id,omitempty"`
}

// ReviewRequest carries optional operator notes for review actions
type ReviewRequest struct {
	Notes string `json:"notes,omitempty"`
}
