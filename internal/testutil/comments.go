package testutil

import (
	"context"
	"sync"

	"github.com/lugares/apiserver/internal/store"
	"github.com/lugares/apiserver/types"
)

// Comments is an in-memory comment repository. When Places is set, writes
// to unknown places fail the way the foreign key does.
type Comments struct {
	mu       sync.Mutex
	comments []types.Comment
	nextID   int64
	Places   *Places

	// Err, when set, is returned by every call.
	Err error
	// Creates counts calls to Create.
	Creates int
}

func NewComments(places *Places) *Comments {
	return &Comments{Places: places}
}

func (c *Comments) ListByPlace(ctx context.Context, placeID int64) ([]types.Comment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	result := make([]types.Comment, 0)
	for _, comment := range c.comments {
		if comment.PlaceID == placeID {
			result = append(result, comment)
		}
	}
	return result, nil
}

func (c *Comments) Create(ctx context.Context, comment types.Comment) (types.Comment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Creates++
	if c.Err != nil {
		return types.Comment{}, c.Err
	}
	if c.Places != nil {
		if _, err := c.Places.Get(ctx, comment.PlaceID); err != nil {
			return types.Comment{}, store.ErrNotFound
		}
	}
	c.nextID++
	comment.ID = c.nextID
	c.comments = append(c.comments, comment)
	return comment, nil
}
