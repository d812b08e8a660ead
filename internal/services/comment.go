package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/lugares/apiserver/internal/store"
	"github.com/lugares/apiserver/types"
)

// AnonymousAuthor is recorded when the commenter has no display name.
const AnonymousAuthor = "Anónimo"

// CommentRepository defines persistence operations for comment threads.
type CommentRepository interface {
	ListByPlace(ctx context.Context, placeID int64) ([]types.Comment, error)
	Create(ctx context.Context, comment types.Comment) (types.Comment, error)
}

// PlaceLookup resolves a place the session is allowed to see.
type PlaceLookup interface {
	Get(ctx context.Context, session types.Session, id int64) (types.Place, error)
}

// CommentService encapsulates the append-only comment thread of a place.
type CommentService struct {
	repo   CommentRepository
	places PlaceLookup
	now    func() time.Time
}

func NewCommentService(repo CommentRepository, places PlaceLookup) *CommentService {
	return &CommentService{repo: repo, places: places, now: time.Now}
}

// List returns the whole thread of a visible place in insertion order.
func (s *CommentService) List(ctx context.Context, session types.Session, placeID int64) ([]types.Comment, error) {
	if _, err := s.places.Get(ctx, session, placeID); err != nil {
		return nil, err
	}
	comments, err := s.repo.ListByPlace(ctx, placeID)
	if err != nil {
		return nil, storeUnavailable(err)
	}
	return comments, nil
}

// Post appends a comment signed with the session's display name.
func (s *CommentService) Post(ctx context.Context, session types.Session, placeID int64, text string) (types.Comment, error) {
	if strings.TrimSpace(text) == "" {
		var verr ValidationError
		verr.add("text", "is required")
		return types.Comment{}, &verr
	}

	if _, err := s.places.Get(ctx, session, placeID); err != nil {
		return types.Comment{}, err
	}

	author := strings.TrimSpace(session.DisplayName)
	if author == "" {
		author = AnonymousAuthor
	}

	comment, err := s.repo.Create(ctx, types.Comment{
		PlaceID:    placeID,
		AuthorName: author,
		Text:       text,
		PostedAt:   ceilMicrosecond(s.now().UTC()),
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Comment{}, ErrNotFound
		}
		return types.Comment{}, storeUnavailable(err)
	}
	return comment, nil
}

// ceilMicrosecond rounds t up to the store's timestamp precision so a
// persisted comment never reads back earlier than the moment it was posted.
func ceilMicrosecond(t time.Time) time.Time {
	truncated := t.Truncate(time.Microsecond)
	if truncated.Before(t) {
		return truncated.Add(time.Microsecond)
	}
	return t
}
