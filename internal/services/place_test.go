package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/lugares/apiserver/internal/storage"
	"github.com/lugares/apiserver/internal/store"
	"github.com/lugares/apiserver/internal/testutil"
	"github.com/lugares/apiserver/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedEvents struct {
	mu     sync.Mutex
	events []types.PlaceEvent
	err    error
}

func (r *recordedEvents) Publish(ctx context.Context, event types.PlaceEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

type stubWatcher struct {
	ch chan types.PlaceEvent
}

func (w stubWatcher) Watch(ownerUID string) (<-chan types.PlaceEvent, func()) {
	return w.ch, func() {}
}

type placeFixture struct {
	svc      *PlaceService
	places   *testutil.Places
	uploader *testutil.Uploader
	events   *recordedEvents
}

func newPlaceFixture(t *testing.T) placeFixture {
	t.Helper()
	places := testutil.NewPlaces()
	uploader := testutil.NewUploader()
	events := &recordedEvents{}
	svc := NewPlaceService(places, uploader, events, stubWatcher{ch: make(chan types.PlaceEvent)}, 2, zerolog.Nop())
	return placeFixture{svc: svc, places: places, uploader: uploader, events: events}
}

var (
	author   = types.Session{UID: "author-1", DisplayName: "Rosa", Role: types.RoleAuthor}
	author2  = types.Session{UID: "author-2", DisplayName: "Tito", Role: types.RoleAuthor}
	consumer = types.Session{UID: "consumer-1", DisplayName: "Alice", Role: types.RoleConsumer}
)

func validInput() RegisterPlaceInput {
	return RegisterPlaceInput{
		Name:        "Café Central",
		Description: "Coffee and cake",
		Schedule:    "Mon-Fri 8-18",
		Coordinates: &types.Coordinates{Latitude: -12.05, Longitude: -77.04},
		Image:       &storage.ImageUpload{Filename: "cafe.png", ContentType: "image/png", Data: []byte("png")},
	}
}

func TestPlace_Register(t *testing.T) {
	f := newPlaceFixture(t)

	place, err := f.svc.Register(context.Background(), author, validInput())
	require.NoError(t, err)

	assert.NotZero(t, place.ID)
	assert.Equal(t, "Café Central", place.Name)
	assert.Equal(t, author.UID, place.OwnerUID)
	assert.False(t, place.Active)
	assert.Equal(t, "https://cdn.test/places/test-1", place.ImageURL)
	assert.Equal(t, "places/test-1", place.ImageKey)

	require.Len(t, f.events.events, 1)
	assert.Equal(t, types.PlaceCreated, f.events.events[0].Type)
	assert.Equal(t, place.ID, f.events.events[0].Place.ID)
}

func TestPlace_RegisterActiveFromInput(t *testing.T) {
	f := newPlaceFixture(t)
	in := validInput()
	active := true
	in.Active = &active

	place, err := f.svc.Register(context.Background(), author, in)
	require.NoError(t, err)
	assert.True(t, place.Active)
}

func TestPlace_RegisterRequiresAuthor(t *testing.T) {
	f := newPlaceFixture(t)

	_, err := f.svc.Register(context.Background(), consumer, validInput())
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, 0, f.places.Len())
}

func TestPlace_RegisterMissingFields(t *testing.T) {
	f := newPlaceFixture(t)

	_, err := f.svc.Register(context.Background(), author, RegisterPlaceInput{Name: "  "})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"name", "schedule", "description", "coordinates", "image"}, verr.Fields)
	assert.Equal(t, 0, f.places.Len())
	assert.Equal(t, 0, f.uploader.Stored())
}

func TestPlace_RegisterEachMissingField(t *testing.T) {
	cases := map[string]func(*RegisterPlaceInput){
		"name":        func(in *RegisterPlaceInput) { in.Name = "" },
		"schedule":    func(in *RegisterPlaceInput) { in.Schedule = "" },
		"description": func(in *RegisterPlaceInput) { in.Description = "" },
		"coordinates": func(in *RegisterPlaceInput) { in.Coordinates = nil },
		"image":       func(in *RegisterPlaceInput) { in.Image = nil },
	}
	for field, mutate := range cases {
		t.Run(field, func(t *testing.T) {
			f := newPlaceFixture(t)
			in := validInput()
			mutate(&in)

			_, err := f.svc.Register(context.Background(), author, in)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, []string{field}, verr.Fields)
			assert.Equal(t, 0, f.places.Len())
		})
	}
}

func TestPlace_RegisterMalformedFields(t *testing.T) {
	f := newPlaceFixture(t)
	in := validInput()
	in.Coordinates = &types.Coordinates{Latitude: 91, Longitude: 0}
	in.Image.ContentType = "application/pdf"

	_, err := f.svc.Register(context.Background(), author, in)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"coordinates", "image"}, verr.Fields)
}

func TestPlace_RegisterReportsUndecodedFieldsWithTheRest(t *testing.T) {
	f := newPlaceFixture(t)
	in := validInput()
	in.Name = ""
	in.Coordinates = nil
	in.Malformed = map[string]string{
		"coordinates": "latitude and longitude must be numbers",
		"active":      "is not a boolean",
	}

	_, err := f.svc.Register(context.Background(), author, in)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"name", "coordinates", "active"}, verr.Fields)
	assert.Equal(t, "latitude and longitude must be numbers", verr.Reasons["coordinates"])
	assert.Equal(t, "is required", verr.Reasons["name"])
	assert.Equal(t, 0, f.uploader.Stored())
}

func TestPlace_RegisterCap(t *testing.T) {
	f := newPlaceFixture(t)
	f.places.Seed(types.Place{Name: "one", OwnerUID: author.UID})
	f.places.Seed(types.Place{Name: "two", OwnerUID: author.UID})

	_, err := f.svc.Register(context.Background(), author, validInput())
	assert.ErrorIs(t, err, ErrLimitExceeded)
	assert.Equal(t, 2, f.places.Len())
	assert.Equal(t, 0, f.uploader.Stored())

	// Other authors are unaffected.
	_, err = f.svc.Register(context.Background(), author2, validInput())
	assert.NoError(t, err)
}

func TestPlace_RegisterConcurrentStaysCapped(t *testing.T) {
	f := newPlaceFixture(t)

	var wg sync.WaitGroup
	errs := make(chan error, 6)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Register(context.Background(), author, validInput())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrLimitExceeded)
	}
	assert.Equal(t, 2, succeeded)
	assert.Equal(t, 2, f.places.Len())
	assert.Equal(t, 2, f.uploader.Stored())
}

func TestPlace_RegisterUploadFailure(t *testing.T) {
	f := newPlaceFixture(t)
	f.uploader.UploadErr = errors.New("bucket unreachable")

	_, err := f.svc.Register(context.Background(), author, validInput())
	assert.ErrorIs(t, err, ErrUpload)
	assert.ErrorContains(t, err, "bucket unreachable")
	assert.Equal(t, 0, f.places.Len())
	assert.Empty(t, f.events.events)
}

func TestPlace_RegisterWriteFailureRemovesUpload(t *testing.T) {
	f := newPlaceFixture(t)
	f.places.CreateErr = errors.New("disk full")

	_, err := f.svc.Register(context.Background(), author, validInput())
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Equal(t, []string{"places/test-1"}, f.uploader.Removed)
	assert.Equal(t, 0, f.uploader.Stored())
}

func TestPlace_RegisterCapHitAtWriteRemovesUpload(t *testing.T) {
	f := newPlaceFixture(t)
	f.places.CreateErr = store.ErrLimitExceeded
	f.uploader.RemoveErr = errors.New("still unreachable")

	_, err := f.svc.Register(context.Background(), author, validInput())
	assert.ErrorIs(t, err, ErrLimitExceeded)
	assert.Equal(t, []string{"places/test-1"}, f.uploader.Removed)
}

func TestPlace_RegisterPublishFailureIsNotFatal(t *testing.T) {
	f := newPlaceFixture(t)
	f.events.err = errors.New("broker down")

	_, err := f.svc.Register(context.Background(), author, validInput())
	assert.NoError(t, err)
	assert.Equal(t, 1, f.places.Len())
}

func TestPlace_Visibility(t *testing.T) {
	f := newPlaceFixture(t)
	active := f.places.Seed(types.Place{Name: "open", OwnerUID: author.UID, Active: true})
	hidden := f.places.Seed(types.Place{Name: "draft", OwnerUID: author.UID})
	other := f.places.Seed(types.Place{Name: "other", OwnerUID: author2.UID})

	list, err := f.svc.ListActive(context.Background(), consumer)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, active.ID, list[0].ID)

	own, err := f.svc.ListOwn(context.Background(), author)
	require.NoError(t, err)
	require.Len(t, own, 2)
	assert.Equal(t, active.ID, own[0].ID)
	assert.Equal(t, hidden.ID, own[1].ID)

	_, err = f.svc.ListOwn(context.Background(), consumer)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.Get(context.Background(), consumer, hidden.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := f.svc.Get(context.Background(), author, hidden.ID)
	require.NoError(t, err)
	assert.Equal(t, "draft", got.Name)

	_, err = f.svc.Get(context.Background(), author, other.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.Get(context.Background(), consumer, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPlace_Update(t *testing.T) {
	f := newPlaceFixture(t)
	place := f.places.Seed(types.Place{Name: "old", Description: "desc", Schedule: "sched", OwnerUID: author.UID})

	name := " new "
	active := true
	updated, err := f.svc.Update(context.Background(), author, place.ID, types.PlacePatch{Name: &name, Active: &active})
	require.NoError(t, err)

	assert.Equal(t, "new", updated.Name)
	assert.Equal(t, "desc", updated.Description)
	assert.Equal(t, "sched", updated.Schedule)
	assert.True(t, updated.Active)

	require.Len(t, f.events.events, 1)
	assert.Equal(t, types.PlaceUpdated, f.events.events[0].Type)
}

func TestPlace_UpdateByNonOwner(t *testing.T) {
	f := newPlaceFixture(t)
	public := f.places.Seed(types.Place{Name: "mine", OwnerUID: author.UID, Active: true})
	draft := f.places.Seed(types.Place{Name: "draft", OwnerUID: author.UID})

	name := "hijacked"
	_, err := f.svc.Update(context.Background(), author2, public.ID, types.PlacePatch{Name: &name})
	assert.ErrorIs(t, err, ErrForbidden)

	// An inactive place is indistinguishable from a missing one.
	_, err = f.svc.Update(context.Background(), author2, draft.ID, types.PlacePatch{Name: &name})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrForbidden)

	for _, id := range []int64{public.ID, draft.ID} {
		stored, err := f.places.Get(context.Background(), id)
		require.NoError(t, err)
		assert.NotEqual(t, "hijacked", stored.Name)
	}
	assert.Empty(t, f.events.events)
}

func TestPlace_UpdateErrors(t *testing.T) {
	f := newPlaceFixture(t)
	place := f.places.Seed(types.Place{Name: "mine", OwnerUID: author.UID})

	name := "x"
	_, err := f.svc.Update(context.Background(), author, 404, types.PlacePatch{Name: &name})
	assert.ErrorIs(t, err, ErrNotFound)

	blank := "   "
	_, err = f.svc.Update(context.Background(), author, place.ID, types.PlacePatch{Schedule: &blank})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"schedule"}, verr.Fields)

	unchanged, err := f.svc.Update(context.Background(), author, place.ID, types.PlacePatch{})
	require.NoError(t, err)
	assert.Equal(t, "mine", unchanged.Name)
	assert.Empty(t, f.events.events)
}

func TestPlace_StoreFailure(t *testing.T) {
	f := newPlaceFixture(t)
	f.places.Err = errors.New("connection reset")

	_, err := f.svc.ListActive(context.Background(), consumer)
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	_, err = f.svc.Register(context.Background(), author, validInput())
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestPlace_Watch(t *testing.T) {
	f := newPlaceFixture(t)

	events, cancel, err := f.svc.Watch(context.Background(), author)
	require.NoError(t, err)
	assert.NotNil(t, events)
	cancel()

	_, _, err = f.svc.Watch(context.Background(), consumer)
	assert.ErrorIs(t, err, ErrForbidden)

	noFeed := NewPlaceService(f.places, f.uploader, nil, nil, 0, zerolog.Nop())
	_, _, err = noFeed.Watch(context.Background(), author)
	assert.ErrorIs(t, err, ErrFeedUnavailable)
	assert.Equal(t, DefaultMaxPlacesPerOwner, noFeed.MaxPerOwner())
}
