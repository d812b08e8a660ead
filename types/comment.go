package types

import "time"

// Comment is a single entry of a place's append-only comment thread.
type Comment struct {
	// ID is the store-generated identifier; ascending IDs follow insertion order.
	ID int64 `json:"id" db:"id"`

	// PlaceID references the place the comment belongs to.
	PlaceID int64 `json:"place_id" db:"place_id"`

	// AuthorName is the commenter's display name at the time of posting.
	AuthorName string `json:"author_name" db:"author_name"`

	// Text is the comment body.
	Text string `json:"text" db:"text"`

	// PostedAt is when the comment was posted.
	PostedAt time.Time `json:"posted_at" db:"posted_at"`
}
