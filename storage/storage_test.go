package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestSaveImageWritesFileAndReturnsURL(t *testing.T) {
	s, err := New(Config{
		BasePath:      t.TempDir(),
		PublicBaseURL: "https://img.example.com/",
	})
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}

	url, err := s.SaveImage(context.Background(), []byte("jpeg-bytes"), "products/blue-widget/1700000000.jpg", "image/jpeg")
	if err != nil {
		t.Fatalf("SaveImage failed: %v", err)
	}

	want := "https://img.example.com/products/blue-widget/1700000000.jpg"
	if url != want {
		t.Errorf("SaveImage URL = %s, want %s", url, want)
	}

	data, err := os.ReadFile(filepath.Join(s.config.BasePath, "products", "blue-widget", "1700000000.jpg"))
	if err != nil {
		t.Fatalf("Failed to read stored file: %v", err)
	}
	if string(data) != "jpeg-bytes" {
		t.Errorf("Stored bytes = %q, want jpeg-bytes", data)
	}
}

func TestSaveImageOverwritesSameKey(t *testing.T) {
	s, err := New(Config{
		BasePath:      t.TempDir(),
		PublicBaseURL: "https://img.example.com",
	})
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}

	ctx := context.Background()
	key := "queue/item-1/1700000000.png"

	first, err := s.SaveImage(ctx, []byte("v1"), key, "image/png")
	if err != nil {
		t.Fatalf("First SaveImage failed: %v", err)
	}
	second, err := s.SaveImage(ctx, []byte("v2"), key, "image/png")
	if err != nil {
		t.Fatalf("Second SaveImage failed: %v", err)
	}

	if first != second {
		t.Errorf("Expected identical URLs for identical keys, got %s and %s", first, second)
	}

	data, err := os.ReadFile(filepath.Join(s.config.BasePath, "queue", "item-1", "1700000000.png"))
	if err != nil {
		t.Fatalf("Failed to read stored file: %v", err)
	}
	if string(data) != "v2" {
		t.Errorf("Expected overwrite-on-conflict, stored bytes = %q", data)
	}
}

func TestSaveImageEmptyKey(t *testing.T) {
	s, err := New(Config{BasePath: t.TempDir(), PublicBaseURL: "https://img.example.com"})
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}

	_, err = s.SaveImage(context.Background(), []byte("x"), "", "image/jpeg")
	if err == nil {
		t.Fatal("Expected error for empty key, got nil")
	}
}

func TestNewS3StorageMissingBucket(t *testing.T) {
	_, err := NewS3Storage(context.Background(), S3Config{
		Region:          "us-east-1",
		AccessKeyID:     "test-key",
		SecretAccessKey: "test-secret",
		PublicBaseURL:   "https://img.example.com",
	})
	if err == nil {
		t.Fatal("Expected error for missing bucket, got nil")
	}
}

func TestNewS3StorageMissingRegion(t *testing.T) {
	_, err := NewS3Storage(context.Background(), S3Config{
		Bucket:          "test-bucket",
		AccessKeyID:     "test-key",
		SecretAccessKey: "test-secret",
		PublicBaseURL:   "https://img.example.com",
	})
	if err == nil {
		t.Fatal("Expected error for missing region, got nil")
	}
}

func TestNewS3StorageValidConfig(t *testing.T) {
	s, err := NewS3Storage(context.Background(), S3Config{
		Endpoint:        "http://localhost:9000",
		Region:          "us-east-1",
		Bucket:          "test-bucket",
		AccessKeyID:     "test-key",
		SecretAccessKey: "test-secret",
		UsePathStyle:    true,
		PublicBaseURL:   "https://img.example.com",
	})
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	if s == nil {
		t.Fatal("Expected storage to be non-nil")
	}
}

func TestExtensionFromContentType(t *testing.T) {
	tests := []struct {
		contentType string
		want        string
	}{
		{"image/jpeg", ".jpg"},
		{"image/jpeg; charset=binary", ".jpg"},
		{"IMAGE/PNG", ".png"},
		{"image/webp", ".webp"},
		{"text/html", ""},
		{"", ""},
	}

	for _, tt := range tests {
		got := ExtensionFromContentType(tt.contentType)
		if got != tt.want {
			t.Errorf("ExtensionFromContentType(%q) = %q, want %q", tt.contentType, got, tt.want)
		}
	}
}

func TestPublicURL(t *testing.T) {
	got := PublicURL("https://img.example.com/", "/a/b.jpg")
	if got != "https://img.example.com/a/b.jpg" {
		t.Errorf("PublicURL = %s, want https://img.example.com/a/b.jpg", got)
	}
}
