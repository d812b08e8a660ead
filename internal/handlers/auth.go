package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/lugares/apiserver/internal/services"
	"github.com/lugares/apiserver/types"
)

// Authenticator resolves a bearer credential into a session.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (types.Session, error)
}

// AuthHandler provides sign-up, sign-in and profile endpoints.
type AuthHandler struct {
	identity *services.IdentityService
}

func NewAuthHandler(identity *services.IdentityService) *AuthHandler {
	return &AuthHandler{identity: identity}
}

// AuthRouter registers auth routes on the given router.
func AuthRouter(r chi.Router, identity *services.IdentityService) {
	handler := NewAuthHandler(identity)

	r.Post("/register", handler.Register)
	r.Post("/login", handler.Login)
	r.Group(func(r chi.Router) {
		r.Use(RequireSession(identity), RequireRole)
		r.Get("/me", handler.Me)
		r.Patch("/me", handler.UpdateMe)
	})
}

// RequireSession resolves the bearer token and injects the session into the
// request context. Accounts without a usable role pass through with the
// resolution error attached so later middleware can decide.
func RequireSession(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := bearerToken(r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			session, err := auth.Authenticate(r.Context(), token)
			if err != nil && !errors.Is(err, services.ErrRoleMissing) {
				writeServiceError(w, r, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(withSession(r.Context(), session, err)))
		})
	}
}

// RequireRole rejects sessions whose role could not be resolved.
func RequireRole(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := sessionFromContext(r.Context()); err != nil {
			writeServiceError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAuthor rejects sessions that may not manage places.
func RequireAuthor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, err := sessionFromContext(r.Context())
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		if !session.IsAuthor() {
			writeError(w, http.StatusForbidden, "author role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Register creates an account and returns its credential.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	result, err := h.identity.SignUp(r.Context(), services.SignUpInput{
		Email:          req.Email,
		Password:       req.Password,
		RepeatPassword: req.RepeatPassword,
		DisplayName:    req.DisplayName,
		Role:           req.Role,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, authResponse(result, nil))
}

// Login verifies credentials and returns a credential. A role-less account
// still receives its token and is routed to the blocked view.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	result, err := h.identity.SignIn(r.Context(), req.Email, req.Password)
	if err != nil && !errors.Is(err, services.ErrRoleMissing) {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, authResponse(result, err))
}

// Me returns the caller's session and profile.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	session, _ := sessionFromContext(r.Context())

	user, err := h.identity.Profile(r.Context(), session)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, MeResponse{Session: session, User: user})
}

// UpdateMe changes the caller's profile fields.
func (h *AuthHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	session, _ := sessionFromContext(r.Context())

	var req ProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	user, err := h.identity.UpdateProfile(r.Context(), session, services.ProfileInput{
		DisplayName:    req.DisplayName,
		PhotoURL:       req.PhotoURL,
		Email:          req.Email,
		Password:       req.Password,
		RepeatPassword: req.RepeatPassword,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

type RegisterRequest struct {
	Email          string `json:"email"`
	Password       string `json:"password"`
	RepeatPassword string `json:"repeat_password"`
	DisplayName    string `json:"display_name"`
	Role           string `json:"role"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type ProfileRequest struct {
	DisplayName    *string `json:"display_name"`
	PhotoURL       *string `json:"photo_url"`
	Email          *string `json:"email"`
	Password       *string `json:"password"`
	RepeatPassword *string `json:"repeat_password"`
}

type AuthResponse struct {
	Token   string        `json:"token"`
	Session types.Session `json:"session"`
	View    services.View `json:"view"`
}

type MeResponse struct {
	Session types.Session `json:"session"`
	User    types.User    `json:"user"`
}

func authResponse(result services.AuthResult, resolveErr error) AuthResponse {
	return AuthResponse{
		Token:   result.Token,
		Session: result.Session,
		View:    services.RouteFor(&result.Session, resolveErr),
	}
}

func bearerToken(r *http.Request) (string, error) {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return "", errors.New("missing authorization")
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("invalid authorization")
	}
	return token, nil
}
