package feed

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/Sternrassler/pagedlist/pkg/pagination"
)

// FeaturedGridSize is the number of products the featured grid shows.
const FeaturedGridSize = 6

// FeaturedFetcher pages the featured products with ?page=&limit=.
func FeaturedFetcher(api Getter) pagination.Fetcher[Product] {
	return func(ctx context.Context, req pagination.PageRequest) ([]Product, error) {
		query := url.Values{
			"page":  {strconv.Itoa(req.Page)},
			"limit": {strconv.Itoa(req.Limit())},
		}
		return getPage(ctx, api, PathFeaturedProducts, query, productDTO.toProduct)
	}
}

// MyAdsFetcher pages the user's ads with ?offset=&limit=.
func MyAdsFetcher(api Getter) pagination.Fetcher[Ad] {
	return pagination.OffsetFetcher(func(ctx context.Context, offset, limit int) ([]Ad, error) {
		query := url.Values{
			"offset": {strconv.Itoa(offset)},
			"limit":  {strconv.Itoa(limit)},
		}
		return getPage(ctx, api, PathMyAds, query, adDTO.toAd)
	})
}

// MyPostsFetcher pages the user's posts with ?page=&per_page=.
func MyPostsFetcher(api Getter) pagination.Fetcher[Post] {
	return func(ctx context.Context, req pagination.PageRequest) ([]Post, error) {
		query := url.Values{
			"page":     {strconv.Itoa(req.Page)},
			"per_page": {strconv.Itoa(req.Limit())},
		}
		return getPage(ctx, api, PathMyPosts, query, postDTO.toPost)
	}
}

// NewFeaturedProducts returns the featured products collection.
func NewFeaturedProducts(api Getter, cfg pagination.Config, opts ...pagination.Option) *pagination.Collection[Product, int64] {
	if cfg.Name == "" {
		cfg.Name = "featured"
	}
	return pagination.New(FeaturedFetcher(api), ProductID, cfg, opts...)
}

// NewMyAds returns the signed-in user's ads collection.
func NewMyAds(api Getter, cfg pagination.Config, opts ...pagination.Option) *pagination.Collection[Ad, string] {
	if cfg.Name == "" {
		cfg.Name = "my_ads"
	}
	return pagination.New(MyAdsFetcher(api), AdID, cfg, opts...)
}

// NewMyPosts returns the signed-in user's posts collection.
func NewMyPosts(api Getter, cfg pagination.Config, opts ...pagination.Option) *pagination.Collection[Post, int64] {
	if cfg.Name == "" {
		cfg.Name = "my_posts"
	}
	return pagination.New(MyPostsFetcher(api), PostID, cfg, opts...)
}

// FeaturedGrid draws up to n random products for the grid;
// n <= 0 means FeaturedGridSize.
func FeaturedGrid(col *pagination.Collection[Product, int64], n int) []Product {
	if n <= 0 {
		n = FeaturedGridSize
	}
	return col.Sample(n)
}

func getPage[D, T any](ctx context.Context, api Getter, path string, query url.Values, conv func(D) (T, error)) ([]T, error) {
	var page envelope[D]
	if err := api.GetJSON(ctx, path, query, &page); err != nil {
		return nil, err
	}
	items, err := mapAll([]D(page), conv)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return items, nil
}
