package main

import (
	"context"

	"github.com/Sternrassler/pagedlist/pkg/feed"
	"github.com/Sternrassler/pagedlist/pkg/pagination"
)

// feedView is the JSON shape of a feed as the presenter reads it.
type feedView struct {
	Feed       string `json:"feed"`
	Outcome    string `json:"outcome,omitempty"`
	Status     string `json:"status"`
	Items      any    `json:"items"`
	Count      int    `json:"count"`
	HasMore    bool   `json:"has_more"`
	Cursor     int    `json:"cursor"`
	Loaded     bool   `json:"loaded"`
	Generation uint64 `json:"generation"`
	Error      string `json:"error,omitempty"`
}

// presenter is what the handlers need from a collection, whatever its item type.
type presenter interface {
	LoadFirstPage(ctx context.Context) pagination.Outcome
	LoadNextPage(ctx context.Context) pagination.Outcome
	Refresh(ctx context.Context) pagination.Outcome
	Close()
	view(name string) feedView
	sample(n int) any
}

type collectionFeed[T any, K comparable] struct {
	*pagination.Collection[T, K]
	sampler func(n int) []T
}

func (f collectionFeed[T, K]) view(name string) feedView {
	s := f.Snapshot()
	v := feedView{
		Feed:       name,
		Status:     s.Status.String(),
		Items:      s.Items,
		Count:      len(s.Items),
		HasMore:    s.HasMore,
		Cursor:     s.Cursor,
		Loaded:     s.Loaded,
		Generation: s.Generation,
	}
	if s.LastError != nil {
		v.Error = s.LastError.Error()
	}
	return v
}

func (f collectionFeed[T, K]) sample(n int) any {
	if f.sampler != nil {
		return f.sampler(n)
	}
	return f.Sample(n)
}

// buildFeeds creates the collections served by the proxy.
func buildFeeds(api feed.Getter, pageSize int) map[string]presenter {
	cfg := func(name string) pagination.Config {
		c := pagination.DefaultConfig(name)
		c.PageSize = pageSize
		return c
	}

	featured := feed.NewFeaturedProducts(api, cfg("featured"))
	return map[string]presenter{
		"featured": collectionFeed[feed.Product, int64]{
			Collection: featured,
			sampler:    func(n int) []feed.Product { return feed.FeaturedGrid(featured, n) },
		},
		"ads":   collectionFeed[feed.Ad, string]{Collection: feed.NewMyAds(api, cfg("my_ads"))},
		"posts": collectionFeed[feed.Post, int64]{Collection: feed.NewMyPosts(api, cfg("my_posts"))},
	}
}
