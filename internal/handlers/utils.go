package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/lugares/apiserver/internal/services"
	"github.com/lugares/apiserver/types"
	"github.com/rs/zerolog"
)

type contextKey string

const (
	contextSessionKey contextKey = "session"
	contextResolveKey contextKey = "resolve_err"
)

// ErrorResponse is the error payload. Fields and Reasons are set for
// validation failures.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Fields  []string          `json:"fields,omitempty"`
	Reasons map[string]string `json:"reasons,omitempty"`
}

func withSession(ctx context.Context, session types.Session, resolveErr error) context.Context {
	ctx = context.WithValue(ctx, contextSessionKey, session)
	return context.WithValue(ctx, contextResolveKey, resolveErr)
}

func sessionFromContext(ctx context.Context) (types.Session, error) {
	session, ok := ctx.Value(contextSessionKey).(types.Session)
	if !ok {
		return types.Session{}, services.ErrNoSession
	}
	resolveErr, _ := ctx.Value(contextResolveKey).(error)
	return session, resolveErr
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// writeServiceError maps service errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "invalid input",
			Fields:  verr.Fields,
			Reasons: verr.Reasons,
		})
	case errors.Is(err, services.ErrLimitExceeded):
		writeError(w, http.StatusConflict, "place limit reached")
	case errors.Is(err, services.ErrRoleMissing):
		writeError(w, http.StatusForbidden, "role missing")
	case errors.Is(err, services.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, services.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, services.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, services.ErrNoSession):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, services.ErrEmailInUse):
		writeError(w, http.StatusConflict, "email already in use")
	case errors.Is(err, services.ErrUpload):
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("image upload failed")
		writeError(w, http.StatusBadGateway, "image upload failed")
	case errors.Is(err, services.ErrFeedUnavailable):
		writeError(w, http.StatusServiceUnavailable, "live feed unavailable")
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func parsePlaceID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "placeID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, errors.New("invalid place id")
	}
	return id, nil
}
