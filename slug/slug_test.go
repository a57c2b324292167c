package slug

import (
	"strings"
	"testing"
)

func TestGenerate(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "simple title",
			input: "Blue Widget",
			want:  "blue-widget",
		},
		{
			name:  "mixed case with punctuation",
			input: "Deluxe Widget (2024 Edition)!",
			want:  "deluxe-widget-2024-edition",
		},
		{
			name:  "accented characters",
			input: "Café Crème Grinder",
			want:  "cafe-creme-grinder",
		},
		{
			name:  "underscores and multiple spaces",
			input: "widget__pro   max",
			want:  "widget-pro-max",
		},
		{
			name:  "leading and trailing junk",
			input: "--- Widget ---",
			want:  "widget",
		},
		{
			name:  "empty string",
			input: "",
			want:  "",
		},
		{
			name:  "only symbols",
			input: "!!!@@@###",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Generate(tt.input)
			if got != tt.want {
				t.Errorf("Generate(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestGenerateLengthLimit(t *testing.T) {
	long := strings.Repeat("widget ", 40)
	got := Generate(long)

	if len(got) > 100 {
		t.Errorf("Expected slug length <= 100, got %d", len(got))
	}
	if strings.HasSuffix(got, "-") {
		t.Errorf("Expected no trailing hyphen after truncation, got %q", got)
	}
}

func TestGenerateWithFallback(t *testing.T) {
	got := GenerateWithFallback("!!!", "fallback title")
	if got != "fallback-title" {
		t.Errorf("Expected fallback slug, got %q", got)
	}

	got = GenerateWithFallback("Real Title", "fallback")
	if got != "real-title" {
		t.Errorf("Expected primary slug, got %q", got)
	}
}

func TestFromProduct(t *testing.T) {
	got := FromProduct("Blue Widget", "prod-123")
	if got != "blue-widget" {
		t.Errorf("FromProduct with title = %q, want blue-widget", got)
	}

	got = FromProduct("", "prod-123")
	if got != "prod-123" {
		t.Errorf("FromProduct without title = %q, want prod-123", got)
	}
}
