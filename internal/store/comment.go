package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/lugares/apiserver/types"
)

// CommentRepository handles persistence for place comment threads.
type CommentRepository struct {
	db *sql.DB
}

func NewCommentRepository(db *sql.DB) *CommentRepository {
	return &CommentRepository{db: db}
}

// ListByPlace returns the full thread of a place in insertion order.
func (r *CommentRepository) ListByPlace(ctx context.Context, placeID int64) ([]types.Comment, error) {
	const query = `
		SELECT id, place_id, author_name, text, posted_at
		FROM comments
		WHERE place_id = $1
		ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, placeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	comments := make([]types.Comment, 0)
	for rows.Next() {
		var comment types.Comment
		if err := rows.Scan(
			&comment.ID,
			&comment.PlaceID,
			&comment.AuthorName,
			&comment.Text,
			&comment.PostedAt,
		); err != nil {
			return nil, err
		}
		comments = append(comments, comment)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return comments, nil
}

// Create appends a comment to its place's thread.
func (r *CommentRepository) Create(ctx context.Context, comment types.Comment) (types.Comment, error) {
	if comment.PostedAt.IsZero() {
		comment.PostedAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO comments (place_id, author_name, text, posted_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		comment.PlaceID,
		comment.AuthorName,
		comment.Text,
		comment.PostedAt,
	).Scan(&comment.ID); err != nil {
		return types.Comment{}, mapWriteError(err)
	}
	return comment, nil
}
