package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/lugares/apiserver/internal/feed"
	"github.com/lugares/apiserver/internal/geo"
	"github.com/lugares/apiserver/internal/services"
	"github.com/lugares/apiserver/internal/testutil"
	"github.com/lugares/apiserver/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 32)...)

type hubPublisher struct {
	hub *feed.Hub
}

func (p hubPublisher) Publish(ctx context.Context, event types.PlaceEvent) error {
	p.hub.Broadcast(event)
	return nil
}

type fixedLocator struct {
	coordinates types.Coordinates
	err         error
}

func (l fixedLocator) Locate(ctx context.Context, ip string) (types.Coordinates, error) {
	return l.coordinates, l.err
}

type testEnv struct {
	router   http.Handler
	identity *services.IdentityService
	users    *testutil.Users
	places   *testutil.Places
	comments *testutil.Comments
	uploader *testutil.Uploader
	hub      *feed.Hub
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithLocator(t, fixedLocator{coordinates: types.Coordinates{Latitude: -12.1, Longitude: -77.0}})
}

func newTestEnvWithLocator(t *testing.T, locator geo.Locator) *testEnv {
	t.Helper()

	users := testutil.NewUsers()
	places := testutil.NewPlaces()
	comments := testutil.NewComments(places)
	uploader := testutil.NewUploader()

	hub := feed.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	identity := services.NewIdentityService(users, "handler-secret", time.Hour, zerolog.Nop())
	placeSvc := services.NewPlaceService(places, uploader, hubPublisher{hub: hub}, hub, 2, zerolog.Nop())
	commentSvc := services.NewCommentService(comments, placeSvc)
	placeHandler := NewPlaceHandler(placeSvc, commentSvc, locator, 1<<20)

	r := chi.NewRouter()
	r.Get("/healthz", Healthz)
	r.Route("/auth", func(r chi.Router) {
		AuthRouter(r, identity)
	})
	r.Group(func(r chi.Router) {
		r.Use(RequireSession(identity))
		r.Get("/home", Home)
		r.With(RequireRole).Get("/geo/current", CurrentLocation(locator))
		r.Route("/places", func(r chi.Router) {
			PlaceRouter(r, placeHandler, time.Minute)
		})
	})

	return &testEnv{
		router:   r,
		identity: identity,
		users:    users,
		places:   places,
		comments: comments,
		uploader: uploader,
		hub:      hub,
	}
}

// account seeds a user and returns a bearer token for it. An empty role
// label leaves the account without a role record.
func (e *testEnv) account(t *testing.T, email, name, roleLabel string) (types.User, string) {
	t.Helper()
	hashed, err := bcrypt.GenerateFromPassword([]byte("secret1"), bcrypt.MinCost)
	require.NoError(t, err)
	user := e.users.Seed(types.User{Email: email, DisplayName: name, PasswordHash: string(hashed)}, roleLabel)
	token, err := e.identity.IssueToken(user.UID)
	require.NoError(t, err)
	return user, token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) postForm(t *testing.T, path, token string, fields map[string]string, image []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for key, value := range fields {
		require.NoError(t, writer.WriteField(key, value))
	}
	if image != nil {
		part, err := writer.CreateFormFile("image", "photo.png")
		require.NoError(t, err)
		_, err = part.Write(image)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var value T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &value))
	return value
}

func placeFields() map[string]string {
	return map[string]string{
		"name":        "Taller Textil",
		"description": "Handmade textiles",
		"schedule":    "Sat 9-14",
		"latitude":    "-13.53",
		"longitude":   "-71.97",
	}
}
