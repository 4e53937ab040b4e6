// Package artwork fetches and caches item artwork from the upstream
// catalog, so renderers get image URLs that do not carry the upstream
// access token.
package artwork

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/crypto/sha3"

	"github.com/dlnabridge/dlnabridge/core/catalog"
	"github.com/dlnabridge/dlnabridge/log"
)

const (
	cacheTTL      = time.Hour
	cacheCapacity = 256

	// Upstream images are capped at 600px; 2MiB covers the worst case.
	maxImageBytes = 2 << 20

	fetchTimeout = 15 * time.Second
)

// Image is one cached artwork payload.
type Image struct {
	Data        []byte
	ContentType string
}

// Provider resolves item artwork against the upstream catalog.
type Provider struct {
	catalog catalog.Client
	client  *http.Client
	cache   *ttlcache.Cache[string, Image]
}

func NewProvider(client catalog.Client) *Provider {
	cache := ttlcache.New[string, Image](
		ttlcache.WithTTL[string, Image](cacheTTL),
		ttlcache.WithCapacity[string, Image](cacheCapacity),
	)
	go cache.Start()
	return &Provider{
		catalog: client,
		client:  &http.Client{Timeout: fetchTimeout},
		cache:   cache,
	}
}

// Get returns the primary image for an item, from cache when possible.
func (p *Provider) Get(ctx context.Context, itemID string) (Image, error) {
	key := cacheKey(itemID)
	if item := p.cache.Get(key); item != nil {
		return item.Value(), nil
	}

	img, err := p.fetch(ctx, itemID)
	if err != nil {
		return Image{}, err
	}
	p.cache.Set(key, img, ttlcache.DefaultTTL)
	return img, nil
}

// Stop shuts down the cache janitor.
func (p *Provider) Stop() {
	p.cache.Stop()
}

func (p *Provider) fetch(ctx context.Context, itemID string) (Image, error) {
	imageURL := p.catalog.ImageURL(itemID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return Image{}, fmt.Errorf("failed to build artwork request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return Image{}, fmt.Errorf("artwork fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Image{}, fmt.Errorf("artwork fetch for %s returned status %d", itemID, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return Image{}, fmt.Errorf("failed to read artwork: %w", err)
	}
	if len(data) > maxImageBytes {
		return Image{}, fmt.Errorf("artwork for %s exceeds %d bytes", itemID, maxImageBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}
	log.Debug(ctx, "Fetched artwork", "item", itemID, "bytes", len(data), "contentType", contentType)
	return Image{Data: data, ContentType: contentType}, nil
}

func cacheKey(itemID string) string {
	sum := sha3.Sum256([]byte(itemID))
	return fmt.Sprintf("art.%x", sum[:16])
}
