// Package providers implements the ordered fallback chain of external
// image sources. Screen-scraping providers are inherently fragile, so each
// one lives behind the Provider interface and can be added, removed, or
// reordered without touching the rest of the pipeline.
package providers

import (
	"context"
	"errors"
	"fmt"
	"log"
)

// ErrNoCandidate is returned when a provider (or the whole chain) finds no
// usable image for a query
var ErrNoCandidate = errors.New("no candidate image found")

// Provider produces one candidate image URL for a query string
type Provider interface {
	Name() string
	FindImage(ctx context.Context, query string) (string, error)
}

// Chain tries providers in priority order and stops at the first success.
// A provider failure never aborts the chain; it is logged, reported to the
// failure hook, and the next provider is tried.
type Chain struct {
	providers []Provider
	onFailure func(provider string, err error)
}

// NewChain creates a provider chain with the given priority order
func NewChain(providers ...Provider) *Chain {
	return &Chain{providers: providers}
}

// OnFailure registers a hook invoked for every per-provider failure,
// typically used to feed metrics
func (c *Chain) OnFailure(fn func(provider string, err error)) {
	c.onFailure = fn
}

// FindImage returns the first candidate URL produced by the chain along
// with the name of the provider that produced it. ErrNoCandidate is
// returned once every provider has been exhausted.
func (c *Chain) FindImage(ctx context.Context, query string) (string, string, error) {
	if query == "" {
		return "", "", fmt.Errorf("query must not be empty")
	}

	for _, p := range c.providers {
		candidate, err := p.FindImage(ctx, query)
		if err != nil {
			log.Printf("Provider %s failed for query %q: %v", p.Name(), query, err)
			if c.onFailure != nil {
				c.onFailure(p.Name(), err)
			}
			continue
		}
		return candidate, p.Name(), nil
	}

	return "", "", ErrNoCandidate
}
