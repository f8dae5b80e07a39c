package feed

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Product is an entry of the featured products grid.
type Product struct {
	ID         int64  `json:"id"`
	Title      string `json:"title"`
	PriceCents int64  `json:"price_cents"`
	Currency   string `json:"currency,omitempty"`
	ImageURL   string `json:"image_url,omitempty"`
}

// AdStatus is the moderation state of an ad.
type AdStatus string

const (
	AdStatusActive  AdStatus = "active"
	AdStatusPending AdStatus = "pending"
	AdStatusExpired AdStatus = "expired"
)

// Ad is one of the signed-in user's classified ads.
type Ad struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Status     AdStatus  `json:"status"`
	PriceCents int64     `json:"price_cents"`
	Currency   string    `json:"currency,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Post is one of the signed-in user's posts.
type Post struct {
	ID        int64     `json:"id"`
	Body      string    `json:"body"`
	Author    string    `json:"author,omitempty"`
	Likes     int       `json:"likes"`
	CreatedAt time.Time `json:"created_at"`
}

// ProductID, AdID and PostID are the identity functions of the collections.
func ProductID(p Product) int64 { return p.ID }
func AdID(a Ad) string          { return a.ID }
func PostID(p Post) int64       { return p.ID }

type productDTO struct {
	ID       int64    `json:"id"`
	Title    string   `json:"title"`
	Price    float64  `json:"price"`
	Currency string   `json:"currency"`
	Images   []string `json:"images"`
}

func (d productDTO) toProduct() (Product, error) {
	if d.ID <= 0 {
		return Product{}, fmt.Errorf("%w: product id %d", ErrMalformedItem, d.ID)
	}
	p := Product{
		ID:         d.ID,
		Title:      d.Title,
		PriceCents: int64(math.Round(d.Price * 100)),
		Currency:   strings.ToUpper(d.Currency),
	}
	if len(d.Images) > 0 {
		p.ImageURL = d.Images[0]
	}
	return p, nil
}

type adDTO struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Status    string    `json:"status"`
	Price     float64   `json:"price"`
	Currency  string    `json:"currency"`
	CreatedAt time.Time `json:"created_at"`
}

func (d adDTO) toAd() (Ad, error) {
	id := strings.TrimSpace(d.ID)
	if id == "" {
		return Ad{}, fmt.Errorf("%w: ad without id", ErrMalformedItem)
	}
	status := AdStatus(strings.ToLower(d.Status))
	if status == "" {
		status = AdStatusPending
	}
	return Ad{
		ID:         id,
		Title:      d.Title,
		Status:     status,
		PriceCents: int64(math.Round(d.Price * 100)),
		Currency:   strings.ToUpper(d.Currency),
		CreatedAt:  d.CreatedAt,
	}, nil
}

type postDTO struct {
	ID      int64  `json:"id"`
	Content string `json:"content"`
	Author  struct {
		Name string `json:"name"`
	} `json:"author"`
	LikesCount int       `json:"likes_count"`
	CreatedAt  time.Time `json:"created_at"`
}

func (d postDTO) toPost() (Post, error) {
	if d.ID <= 0 {
		return Post{}, fmt.Errorf("%w: post id %d", ErrMalformedItem, d.ID)
	}
	return Post{
		ID:        d.ID,
		Body:      d.Content,
		Author:    d.Author.Name,
		Likes:     d.LikesCount,
		CreatedAt: d.CreatedAt,
	}, nil
}

// mapAll converts a decoded page, failing on the first bad item so the
// page size seen by the collection stays honest.
func mapAll[D, T any](dtos []D, conv func(D) (T, error)) ([]T, error) {
	out := make([]T, 0, len(dtos))
	for i, d := range dtos {
		item, err := conv(d)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		out = append(out, item)
	}
	return out, nil
}
