package providers

import "strings"

// PlaceholderCatalog maps normalized category names to static placeholder
// image URLs, with an explicit default for unrecognized categories. A
// placeholder is never representative of the actual product, so callers
// must force confidence to low for anything sourced from here.
type PlaceholderCatalog struct {
	byCategory map[string]string
	defaultURL string
}

// NewPlaceholderCatalog creates a catalog from an injected mapping
func NewPlaceholderCatalog(byCategory map[string]string, defaultURL string) *PlaceholderCatalog {
	normalized := make(map[string]string, len(byCategory))
	for category, url := range byCategory {
		normalized[NormalizeCategory(category)] = url
	}
	return &PlaceholderCatalog{
		byCategory: normalized,
		defaultURL: defaultURL,
	}
}

// DefaultPlaceholders returns the stock category placeholder set
func DefaultPlaceholders() *PlaceholderCatalog {
	return NewPlaceholderCatalog(map[string]string{
		"accessories": "https://static.zombar.dev/placeholders/accessories.jpg",
		"apparel":     "https://static.zombar.dev/placeholders/apparel.jpg",
		"electronics": "https://static.zombar.dev/placeholders/electronics.jpg",
		"home":        "https://static.zombar.dev/placeholders/home.jpg",
		"outdoors":    "https://static.zombar.dev/placeholders/outdoors.jpg",
		"toys":        "https://static.zombar.dev/placeholders/toys.jpg",
	}, "https://static.zombar.dev/placeholders/default.jpg")
}

// Lookup returns the placeholder URL for a category, falling back to the
// default when the category is unrecognized or empty
func (pc *PlaceholderCatalog) Lookup(category string) string {
	if url, ok := pc.byCategory[NormalizeCategory(category)]; ok {
		return url
	}
	return pc.defaultURL
}

// NormalizeCategory lowercases and hyphenates a category string so lookup
// is insensitive to display formatting
func NormalizeCategory(category string) string {
	category = strings.ToLower(strings.TrimSpace(category))
	category = strings.ReplaceAll(category, " ", "-")
	category = strings.ReplaceAll(category, "_", "-")
	return category
}
