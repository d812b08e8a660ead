package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lugares/apiserver/types"
)

// PlaceRepository handles persistence for places.
type PlaceRepository struct {
	db *sql.DB
}

func NewPlaceRepository(db *sql.DB) *PlaceRepository {
	return &PlaceRepository{db: db}
}

const placeColumns = `id, name, description, schedule, latitude, longitude, image_url, image_key, active, owner_uid, created_at, updated_at`

func scanPlace(row rowScanner) (types.Place, error) {
	var place types.Place
	var imageURL, imageKey sql.NullString
	if err := row.Scan(
		&place.ID,
		&place.Name,
		&place.Description,
		&place.Schedule,
		&place.Coordinates.Latitude,
		&place.Coordinates.Longitude,
		&imageURL,
		&imageKey,
		&place.Active,
		&place.OwnerUID,
		&place.CreatedAt,
		&place.UpdatedAt,
	); err != nil {
		return types.Place{}, err
	}
	place.ImageURL = imageURL.String
	place.ImageKey = imageKey.String
	return place, nil
}

func (r *PlaceRepository) list(ctx context.Context, query string, args ...any) ([]types.Place, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	places := make([]types.Place, 0)
	for rows.Next() {
		place, err := scanPlace(rows)
		if err != nil {
			return nil, err
		}
		places = append(places, place)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return places, nil
}

// ListActive returns every place flagged active.
func (r *PlaceRepository) ListActive(ctx context.Context) ([]types.Place, error) {
	query := `SELECT ` + placeColumns + ` FROM places WHERE active ORDER BY id`
	return r.list(ctx, query)
}

// ListByOwner returns every place owned by uid regardless of the active flag.
func (r *PlaceRepository) ListByOwner(ctx context.Context, ownerUID string) ([]types.Place, error) {
	if _, err := uuid.Parse(ownerUID); err != nil {
		return []types.Place{}, nil
	}
	query := `SELECT ` + placeColumns + ` FROM places WHERE owner_uid = $1 ORDER BY id`
	return r.list(ctx, query, ownerUID)
}

func (r *PlaceRepository) Get(ctx context.Context, id int64) (types.Place, error) {
	query := `SELECT ` + placeColumns + ` FROM places WHERE id = $1`
	place, err := scanPlace(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Place{}, ErrNotFound
		}
		return types.Place{}, err
	}
	return place, nil
}

func (r *PlaceRepository) CountByOwner(ctx context.Context, ownerUID string) (int, error) {
	if _, err := uuid.Parse(ownerUID); err != nil {
		return 0, nil
	}
	const query = `SELECT COUNT(1) FROM places WHERE owner_uid = $1`
	var total int
	if err := r.db.QueryRowContext(ctx, query, ownerUID).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// CreateCapped inserts place unless its owner already holds maxPerOwner
// places. The owner's user row is locked for the duration of the
// transaction so concurrent registrations by the same owner serialize on it.
func (r *PlaceRepository) CreateCapped(ctx context.Context, place types.Place, maxPerOwner int) (types.Place, error) {
	now := time.Now().UTC()
	place.CreatedAt = now
	place.UpdatedAt = now

	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		const lockOwner = `SELECT uid FROM users WHERE uid = $1 FOR UPDATE`
		var uid string
		if err := tx.QueryRowContext(ctx, lockOwner, place.OwnerUID).Scan(&uid); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}

		const countQuery = `SELECT COUNT(1) FROM places WHERE owner_uid = $1`
		var total int
		if err := tx.QueryRowContext(ctx, countQuery, place.OwnerUID).Scan(&total); err != nil {
			return err
		}
		if maxPerOwner > 0 && total >= maxPerOwner {
			return ErrLimitExceeded
		}

		const insertQuery = `
			INSERT INTO places (name, description, schedule, latitude, longitude, image_url, image_key, active, owner_uid, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING id`
		return tx.QueryRowContext(
			ctx,
			insertQuery,
			place.Name,
			place.Description,
			place.Schedule,
			place.Coordinates.Latitude,
			place.Coordinates.Longitude,
			nullString(place.ImageURL),
			nullString(place.ImageKey),
			place.Active,
			place.OwnerUID,
			place.CreatedAt,
			place.UpdatedAt,
		).Scan(&place.ID)
	})
	if err != nil {
		return types.Place{}, err
	}
	return place, nil
}

// Update overwrites the mutable fields of an existing place.
func (r *PlaceRepository) Update(ctx context.Context, place types.Place) (types.Place, error) {
	place.UpdatedAt = time.Now().UTC()

	const query = `
		UPDATE places
		SET name = $1,
			description = $2,
			schedule = $3,
			active = $4,
			updated_at = $5
		WHERE id = $6`
	result, err := r.db.ExecContext(
		ctx,
		query,
		place.Name,
		place.Description,
		place.Schedule,
		place.Active,
		place.UpdatedAt,
		place.ID,
	)
	if err != nil {
		return types.Place{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return types.Place{}, err
	}
	if affected == 0 {
		return types.Place{}, ErrNotFound
	}
	return place, nil
}
