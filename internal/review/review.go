// Package review stores product reviews. Each product's reviews are kept as
// one list under a single storage key, like orders. A small index record
// maps each review id to its product so helpful votes can be cast by id.
package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shophub/storefront/internal/model"
	"github.com/shophub/storefront/internal/store"
)

const (
	// DefaultKey is the storage key prefix of review lists.
	DefaultKey = "shophub_reviews"

	indexKey = "shophub_review_index"

	MinRating = 1
	MaxRating = 5
)

var (
	ErrInvalidReview  = errors.New("review: invalid review")
	ErrReviewNotFound = errors.New("review: review not found")
	ErrStorage        = errors.New("review: storage unavailable")
)

// NewReview is what a shopper submits.
type NewReview struct {
	UserName string `json:"user_name"`
	Rating   int    `json:"rating"`
	Title    string `json:"title"`
	Comment  string `json:"comment"`
}

// Book stores reviews in a KV medium. Safe for concurrent use within one
// process.
type Book struct {
	kv  store.KV
	now func() time.Time
	mu  sync.Mutex
}

// NewBook creates a review book over kv.
func NewBook(kv store.KV) *Book {
	return &Book{
		kv:  kv,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// KeyFor returns the storage key of productID's review list.
func KeyFor(productID string) string {
	return DefaultKey + ":" + productID
}

// ForProduct returns productID's reviews, newest first.
func (b *Book) ForProduct(ctx context.Context, productID string) ([]model.Review, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	reviews, err := b.load(ctx, productID)
	if err != nil {
		return nil, err
	}
	slices.Reverse(reviews)
	return reviews, nil
}

// Create records a review of productID with zero helpful votes.
func (b *Book) Create(ctx context.Context, productID string, in NewReview) (*model.Review, error) {
	in.UserName = strings.TrimSpace(in.UserName)
	switch {
	case productID == "":
		return nil, fmt.Errorf("%w: product id is required", ErrInvalidReview)
	case in.UserName == "":
		return nil, fmt.Errorf("%w: user name is required", ErrInvalidReview)
	case in.Rating < MinRating || in.Rating > MaxRating:
		return nil, fmt.Errorf("%w: rating must be %d..%d", ErrInvalidReview, MinRating, MaxRating)
	case strings.TrimSpace(in.Comment) == "":
		return nil, fmt.Errorf("%w: comment is required", ErrInvalidReview)
	}

	r := model.Review{
		ID:        uuid.New().String(),
		ProductID: productID,
		UserName:  in.UserName,
		Rating:    in.Rating,
		Title:     in.Title,
		Comment:   in.Comment,
		CreatedAt: b.now(),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	reviews, err := b.load(ctx, productID)
	if err != nil {
		return nil, err
	}
	// The index is written first; a dangling entry reads as not found.
	if err := b.put(ctx, indexKey+":"+r.ID, []byte(productID)); err != nil {
		return nil, err
	}
	if err := b.save(ctx, productID, append(reviews, r)); err != nil {
		return nil, err
	}

	slog.Info("review created", "review_id", r.ID, "product", productID, "rating", r.Rating)
	return &r, nil
}

// MarkHelpful adds one helpful vote to the review with id.
func (b *Book) MarkHelpful(ctx context.Context, reviewID string) (*model.Review, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	raw, err := b.kv.Get(ctx, indexKey+":"+reviewID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrReviewNotFound, reviewID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	productID := string(raw)

	reviews, err := b.load(ctx, productID)
	if err != nil {
		return nil, err
	}
	i := slices.IndexFunc(reviews, func(r model.Review) bool { return r.ID == reviewID })
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", ErrReviewNotFound, reviewID)
	}
	reviews[i].Helpful++
	if err := b.save(ctx, productID, reviews); err != nil {
		return nil, err
	}
	r := reviews[i]
	return &r, nil
}

// load reads the review list, oldest first. A missing or unreadable list is
// empty.
func (b *Book) load(ctx context.Context, productID string) ([]model.Review, error) {
	data, err := b.kv.Get(ctx, KeyFor(productID))
	if errors.Is(err, store.ErrNotFound) {
		return []model.Review{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	var reviews []model.Review
	if err := json.Unmarshal(data, &reviews); err != nil {
		slog.Warn("discarding unreadable review list", "product", productID, "err", err)
		return []model.Review{}, nil
	}
	if reviews == nil {
		reviews = []model.Review{}
	}
	return reviews, nil
}

func (b *Book) save(ctx context.Context, productID string, reviews []model.Review) error {
	data, err := json.Marshal(reviews)
	if err != nil {
		return fmt.Errorf("encode reviews: %w", err)
	}
	return b.put(ctx, KeyFor(productID), data)
}

func (b *Book) put(ctx context.Context, key string, data []byte) error {
	if err := b.kv.Put(ctx, key, data); err != nil {
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return nil
}
