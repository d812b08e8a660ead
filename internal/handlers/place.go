package handlers

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/lugares/apiserver/internal/geo"
	"github.com/lugares/apiserver/internal/services"
	"github.com/lugares/apiserver/internal/storage"
	"github.com/lugares/apiserver/types"
	"github.com/rs/zerolog"
)

const (
	defaultMaxImageBytes  = 10 << 20
	maxMultipartMemory    = 32 << 20
	formOverheadBytes     = 1 << 20
	formFieldName         = "name"
	formFieldDesc         = "description"
	formFieldSchedule     = "schedule"
	formFieldLatitude     = "latitude"
	formFieldLongitude    = "longitude"
	formFieldActive       = "active"
	formFieldUseLocation  = "use_current_location"
	formFieldImage        = "image"
	fieldCoordinates      = "coordinates"
	errImageTooLargeText  = "image too large"
	errInvalidRequestText = "invalid request"
)

var errImageTooLarge = errors.New(errImageTooLargeText)

// PlaceHandler provides HTTP handlers for places and their comment threads.
type PlaceHandler struct {
	places        *services.PlaceService
	comments      *services.CommentService
	locator       geo.Locator
	maxImageBytes int64
}

func NewPlaceHandler(
	places *services.PlaceService,
	comments *services.CommentService,
	locator geo.Locator,
	maxImageBytes int64,
) *PlaceHandler {
	if maxImageBytes <= 0 {
		maxImageBytes = defaultMaxImageBytes
	}
	return &PlaceHandler{
		places:        places,
		comments:      comments,
		locator:       locator,
		maxImageBytes: maxImageBytes,
	}
}

// PlaceRouter registers place routes. The router must already carry a
// session-resolving middleware. The event stream is exempt from the request
// timeout.
func PlaceRouter(r chi.Router, handler *PlaceHandler, timeout time.Duration) {
	r.Use(RequireRole)

	r.With(RequireAuthor).Get("/mine/events", handler.PlaceEvents)
	r.Group(func(r chi.Router) {
		if timeout > 0 {
			r.Use(middleware.Timeout(timeout))
		}
		r.Get("/", handler.ListActive)
		r.With(RequireAuthor).Post("/", handler.Register)
		r.With(RequireAuthor).Get("/mine", handler.ListOwn)
		r.Route("/{placeID}", func(r chi.Router) {
			r.Get("/", handler.Get)
			r.With(RequireAuthor).Patch("/", handler.Update)
			r.Get("/comments", handler.ListComments)
			r.Post("/comments", handler.PostComment)
		})
	})
}

func (h *PlaceHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	session, _ := sessionFromContext(r.Context())

	places, err := h.places.ListActive(r.Context(), session)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PlaceListResponse{Items: places})
}

func (h *PlaceHandler) ListOwn(w http.ResponseWriter, r *http.Request) {
	session, _ := sessionFromContext(r.Context())

	places, err := h.places.ListOwn(r.Context(), session)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PlaceListResponse{Items: places, Limit: h.places.MaxPerOwner()})
}

func (h *PlaceHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parsePlaceID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	session, _ := sessionFromContext(r.Context())

	place, err := h.places.Get(r.Context(), session, id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, place)
}

// Register creates a place from a multipart form carrying the photo in the
// "image" field.
func (h *PlaceHandler) Register(w http.ResponseWriter, r *http.Request) {
	session, _ := sessionFromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, h.maxImageBytes+formOverheadBytes)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, errImageTooLargeText)
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	input := services.RegisterPlaceInput{
		Name:        r.FormValue(formFieldName),
		Description: r.FormValue(formFieldDesc),
		Schedule:    r.FormValue(formFieldSchedule),
		Malformed:   make(map[string]string),
	}

	if raw := strings.TrimSpace(r.FormValue(formFieldActive)); raw != "" {
		if active, err := strconv.ParseBool(raw); err != nil {
			input.Malformed[formFieldActive] = "is not a boolean"
		} else {
			input.Active = &active
		}
	}

	if coordinates, err := h.formCoordinates(r); err != nil {
		input.Malformed[fieldCoordinates] = err.Error()
	} else {
		input.Coordinates = coordinates
	}

	image, err := parseImageFile(r.MultipartForm, h.maxImageBytes)
	switch {
	case errors.Is(err, errImageTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, errImageTooLargeText)
		return
	case err != nil:
		input.Malformed[formFieldImage] = err.Error()
	default:
		input.Image = image
	}

	place, err := h.places.Register(r.Context(), session, input)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, place)
}

func (h *PlaceHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := parsePlaceID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	session, _ := sessionFromContext(r.Context())

	var patch types.PlacePatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, errInvalidRequestText)
		return
	}

	place, err := h.places.Update(r.Context(), session, id, patch)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, place)
}

// formCoordinates reads latitude/longitude, or resolves them from the client
// address when use_current_location is set. A nil result means none were
// supplied.
func (h *PlaceHandler) formCoordinates(r *http.Request) (*types.Coordinates, error) {
	rawLat := strings.TrimSpace(r.FormValue(formFieldLatitude))
	rawLng := strings.TrimSpace(r.FormValue(formFieldLongitude))

	if rawLat != "" || rawLng != "" {
		lat, errLat := strconv.ParseFloat(rawLat, 64)
		lng, errLng := strconv.ParseFloat(rawLng, 64)
		if errLat != nil || errLng != nil {
			return nil, errors.New("latitude and longitude must be numbers")
		}
		return &types.Coordinates{Latitude: lat, Longitude: lng}, nil
	}

	useLocation, _ := strconv.ParseBool(strings.TrimSpace(r.FormValue(formFieldUseLocation)))
	if !useLocation {
		return nil, nil
	}
	if h.locator == nil {
		return nil, errors.New("current location is unavailable")
	}
	coordinates, err := h.locator.Locate(r.Context(), r.RemoteAddr)
	if err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("could not resolve client location")
		return nil, errors.New("current location is unavailable")
	}
	return &coordinates, nil
}

// parseImageFile reads the single uploaded image. The content type is sniffed
// from the bytes rather than trusted from the client. A missing file yields
// nil so the service can report it with the other required fields.
func parseImageFile(form *multipart.Form, limit int64) (*storage.ImageUpload, error) {
	if form == nil {
		return nil, nil
	}
	files := form.File[formFieldImage]
	if len(files) == 0 {
		return nil, nil
	}
	if len(files) > 1 {
		return nil, errors.New("only one image is allowed")
	}

	fileHeader := files[0]
	if fileHeader.Size > limit {
		return nil, errImageTooLarge
	}
	file, err := fileHeader.Open()
	if err != nil {
		return nil, errors.New("could not be read")
	}

	data, err := readFileLimited(file, limit)
	_ = file.Close()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}

	return &storage.ImageUpload{
		Filename:    fileHeader.Filename,
		ContentType: http.DetectContentType(data),
		Data:        data,
	}, nil
}

func readFileLimited(reader io.Reader, limit int64) ([]byte, error) {
	limited := io.LimitReader(reader, limit+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, errors.New("could not be read")
	}
	if int64(len(data)) > limit {
		return nil, errImageTooLarge
	}
	return data, nil
}

// PlaceListResponse wraps place listings. Limit is the per-owner cap and is
// only set on the owner's own listing.
type PlaceListResponse struct {
	Items []types.Place `json:"items"`
	Limit int           `json:"limit,omitempty"`
}
