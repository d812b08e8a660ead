package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lugares/apiserver/internal/storage"
	"github.com/lugares/apiserver/internal/store"
	"github.com/lugares/apiserver/types"
	"github.com/rs/zerolog"
)

// DefaultMaxPlacesPerOwner is the registration cap when none is configured.
const DefaultMaxPlacesPerOwner = 2

// PlaceRepository defines persistence operations for places.
type PlaceRepository interface {
	ListActive(ctx context.Context) ([]types.Place, error)
	ListByOwner(ctx context.Context, ownerUID string) ([]types.Place, error)
	Get(ctx context.Context, id int64) (types.Place, error)
	CountByOwner(ctx context.Context, ownerUID string) (int, error)
	CreateCapped(ctx context.Context, place types.Place, maxPerOwner int) (types.Place, error)
	Update(ctx context.Context, place types.Place) (types.Place, error)
}

// Uploader stores place photos and returns their public location.
type Uploader interface {
	Upload(ctx context.Context, image storage.ImageUpload) (storage.Object, error)
	Remove(ctx context.Context, key string) error
}

// PlaceEvents receives a notification after every place write.
type PlaceEvents interface {
	Publish(ctx context.Context, event types.PlaceEvent) error
}

// PlaceWatcher streams the events of one owner's places.
type PlaceWatcher interface {
	Watch(ownerUID string) (<-chan types.PlaceEvent, func())
}

// PlaceService encapsulates place registration and visibility rules.
type PlaceService struct {
	repo        PlaceRepository
	uploader    Uploader
	events      PlaceEvents
	watcher     PlaceWatcher
	maxPerOwner int
	logger      zerolog.Logger
}

// NewPlaceService wires the place use-cases. events and watcher may be nil,
// which disables the live feed.
func NewPlaceService(
	repo PlaceRepository,
	uploader Uploader,
	events PlaceEvents,
	watcher PlaceWatcher,
	maxPerOwner int,
	logger zerolog.Logger,
) *PlaceService {
	if maxPerOwner <= 0 {
		maxPerOwner = DefaultMaxPlacesPerOwner
	}
	return &PlaceService{
		repo:        repo,
		uploader:    uploader,
		events:      events,
		watcher:     watcher,
		maxPerOwner: maxPerOwner,
		logger:      logger,
	}
}

// RegisterPlaceInput is the author-supplied data for a new place. Nil
// pointers mean the value was not provided.
type RegisterPlaceInput struct {
	Name        string
	Description string
	Schedule    string
	Coordinates *types.Coordinates
	Image       *storage.ImageUpload
	Active      *bool

	// Malformed holds fields that were sent but could not be decoded, with
	// the reason. They are reported alongside every other invalid field.
	Malformed map[string]string
}

// MaxPerOwner returns the registration cap in force.
func (s *PlaceService) MaxPerOwner() int {
	return s.maxPerOwner
}

// ListActive returns every place consumers can see, in store order.
func (s *PlaceService) ListActive(ctx context.Context, session types.Session) ([]types.Place, error) {
	places, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, storeUnavailable(err)
	}
	return places, nil
}

// ListOwn returns every place owned by the session, active or not.
func (s *PlaceService) ListOwn(ctx context.Context, session types.Session) ([]types.Place, error) {
	if !session.IsAuthor() {
		return nil, ErrForbidden
	}
	places, err := s.repo.ListByOwner(ctx, session.UID)
	if err != nil {
		return nil, storeUnavailable(err)
	}
	return places, nil
}

// Get returns a place if it is active or owned by the session.
func (s *PlaceService) Get(ctx context.Context, session types.Session, id int64) (types.Place, error) {
	place, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Place{}, ErrNotFound
		}
		return types.Place{}, storeUnavailable(err)
	}
	if !place.VisibleTo(session) {
		return types.Place{}, ErrNotFound
	}
	return place, nil
}

// Register validates the input, enforces the per-owner cap, uploads the photo
// and writes the place. Steps run strictly in that order. If the write fails
// after the upload succeeded, the uploaded object is removed again.
func (s *PlaceService) Register(ctx context.Context, session types.Session, in RegisterPlaceInput) (types.Place, error) {
	if !session.IsAuthor() {
		return types.Place{}, ErrForbidden
	}

	if err := validateRegistration(in); err != nil {
		return types.Place{}, err
	}

	count, err := s.repo.CountByOwner(ctx, session.UID)
	if err != nil {
		return types.Place{}, storeUnavailable(err)
	}
	if count >= s.maxPerOwner {
		return types.Place{}, ErrLimitExceeded
	}

	object, err := s.uploader.Upload(ctx, *in.Image)
	if err != nil {
		return types.Place{}, fmt.Errorf("%w: %w", ErrUpload, err)
	}

	active := false
	if in.Active != nil {
		active = *in.Active
	}

	place, err := s.repo.CreateCapped(ctx, types.Place{
		Name:        strings.TrimSpace(in.Name),
		Description: strings.TrimSpace(in.Description),
		Schedule:    strings.TrimSpace(in.Schedule),
		Coordinates: *in.Coordinates,
		ImageURL:    object.URL,
		ImageKey:    object.Key,
		Active:      active,
		OwnerUID:    session.UID,
	}, s.maxPerOwner)
	if err != nil {
		s.discardUpload(object.Key)
		switch {
		case errors.Is(err, store.ErrLimitExceeded):
			return types.Place{}, ErrLimitExceeded
		case errors.Is(err, store.ErrNotFound):
			return types.Place{}, ErrNoSession
		}
		return types.Place{}, storeUnavailable(err)
	}

	s.publish(ctx, types.PlaceCreated, place)
	return place, nil
}

// Update overwrites the fields present in patch. Only the owner may update;
// places the caller cannot see are reported as not found.
func (s *PlaceService) Update(ctx context.Context, session types.Session, id int64, patch types.PlacePatch) (types.Place, error) {
	place, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Place{}, ErrNotFound
		}
		return types.Place{}, storeUnavailable(err)
	}
	if !place.VisibleTo(session) {
		return types.Place{}, ErrNotFound
	}
	if place.OwnerUID != session.UID {
		return types.Place{}, ErrForbidden
	}

	if err := validatePatch(&patch); err != nil {
		return types.Place{}, err
	}
	if patch.Empty() {
		return place, nil
	}

	updated, err := s.repo.Update(ctx, patch.Apply(place))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Place{}, ErrNotFound
		}
		return types.Place{}, storeUnavailable(err)
	}

	s.publish(ctx, types.PlaceUpdated, updated)
	return updated, nil
}

// Watch streams created and updated events for the session's own places.
// Delivery is eventually consistent and may trail the caller's own writes.
func (s *PlaceService) Watch(ctx context.Context, session types.Session) (<-chan types.PlaceEvent, func(), error) {
	if !session.IsAuthor() {
		return nil, nil, ErrForbidden
	}
	if s.watcher == nil {
		return nil, nil, ErrFeedUnavailable
	}
	events, cancel := s.watcher.Watch(session.UID)
	return events, cancel, nil
}

func (s *PlaceService) publish(ctx context.Context, kind types.PlaceEventType, place types.Place) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, types.PlaceEvent{Type: kind, Place: place}); err != nil {
		s.logger.Warn().Err(err).Int64("place_id", place.ID).Str("type", string(kind)).Msg("failed to publish place event")
	}
}

// discardUpload runs detached from the request so a cancelled request still
// cleans up.
func (s *PlaceService) discardUpload(key string) {
	if err := s.uploader.Remove(context.Background(), key); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("failed to remove orphaned place image")
	}
}

func validateRegistration(in RegisterPlaceInput) error {
	var verr ValidationError
	malformed := func(field string) bool {
		reason, ok := in.Malformed[field]
		if ok {
			verr.add(field, reason)
		}
		return ok
	}

	if !malformed("name") && strings.TrimSpace(in.Name) == "" {
		verr.add("name", "is required")
	}
	if !malformed("schedule") && strings.TrimSpace(in.Schedule) == "" {
		verr.add("schedule", "is required")
	}
	if !malformed("description") && strings.TrimSpace(in.Description) == "" {
		verr.add("description", "is required")
	}
	if !malformed("coordinates") {
		switch {
		case in.Coordinates == nil:
			verr.add("coordinates", "is required")
		case !in.Coordinates.Valid():
			verr.add("coordinates", "is out of range")
		}
	}
	if !malformed("image") {
		switch {
		case in.Image == nil || len(in.Image.Data) == 0:
			verr.add("image", "is required")
		case !storage.SupportedImageType(in.Image.ContentType):
			verr.add("image", "is not a supported image type")
		}
	}
	malformed("active")
	return verr.err()
}

func validatePatch(patch *types.PlacePatch) error {
	var verr ValidationError
	trim := func(field string, value *string) *string {
		if value == nil {
			return nil
		}
		trimmed := strings.TrimSpace(*value)
		if trimmed == "" {
			verr.add(field, "must not be empty")
		}
		return &trimmed
	}
	patch.Name = trim("name", patch.Name)
	patch.Description = trim("description", patch.Description)
	patch.Schedule = trim("schedule", patch.Schedule)
	return verr.err()
}
