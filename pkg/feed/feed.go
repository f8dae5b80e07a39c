// Package feed binds the marketplace list endpoints to pagination
// collections: the featured products grid, the user's ads and the user's
// posts.
//
// Example usage:
//
//	api, _ := client.New(client.DefaultConfig(baseURL, "my-app/1.0"))
//	featured := feed.NewFeaturedProducts(api, pagination.DefaultConfig("featured"))
//	featured.LoadFirstPage(ctx)
//	grid := feed.FeaturedGrid(featured, 6)
package feed

import (
	"context"
	"errors"
	"net/url"
)

// Endpoint paths, relative to the API base URL.
const (
	PathFeaturedProducts = "/products/featured"
	PathMyAds            = "/me/ads"
	PathMyPosts          = "/me/posts"
)

// ErrMalformedItem is returned by a fetcher when the API sends an item it
// cannot identify.
var ErrMalformedItem = errors.New("malformed item")

// Getter is the transport the fetchers use; *client.Client satisfies it.
type Getter interface {
	GetJSON(ctx context.Context, path string, query url.Values, out any) error
}
