// Package storage persists accepted image bytes and returns stable public
// references. Uploads are idempotent under the same key (overwrite on
// conflict) so repeated attempts after partial failure are safe.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ObjectStore is the sink the pipeline writes accepted images to
type ObjectStore interface {
	// SaveImage stores data under key and returns a publicly resolvable URL.
	// Saving the same key twice overwrites the previous object.
	SaveImage(ctx context.Context, data []byte, key, contentType string) (string, error)
}

// Config contains filesystem storage configuration
type Config struct {
	BasePath      string // Base directory for all stored files
	PublicBaseURL string // Base URL the stored files are served under
}

// DefaultConfig returns default storage configuration
func DefaultConfig() Config {
	return Config{
		BasePath:      "./storage",
		PublicBaseURL: "http://localhost:8080/static",
	}
}

// Storage handles filesystem storage operations, used for development and
// tests in place of S3
type Storage struct {
	config Config
}

// New creates a new Storage instance
func New(config Config) (*Storage, error) {
	if err := os.MkdirAll(config.BasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base storage directory: %w", err)
	}

	return &Storage{config: config}, nil
}

// SaveImage writes an image under key and returns its public URL. An
// existing file at the same key is overwritten; key stability is what makes
// retried uploads idempotent.
func (s *Storage) SaveImage(ctx context.Context, data []byte, key, contentType string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("storage key is required")
	}

	filePath := filepath.Join(s.config.BasePath, filepath.FromSlash(key))

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return "", fmt.Errorf("failed to create image directory: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write image file: %w", err)
	}

	return PublicURL(s.config.PublicBaseURL, key), nil
}

// PublicURL joins a base URL and an object key
func PublicURL(baseURL, key string) string {
	return strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(key, "/")
}

// ExtensionFromContentType returns the file extension for a content type
func ExtensionFromContentType(contentType string) string {
	// Normalize content type (remove charset, etc.)
	contentType = strings.ToLower(strings.Split(contentType, ";")[0])
	contentType = strings.TrimSpace(contentType)

	switch contentType {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/svg+xml":
		return ".svg"
	case "image/bmp":
		return ".bmp"
	case "image/tiff":
		return ".tiff"
	default:
		return ""
	}
}
