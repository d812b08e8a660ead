package handlers

import (
	"net/http"

	"github.com/lugares/apiserver/internal/services"
	"github.com/lugares/apiserver/types"
)

type HomeResponse struct {
	View    services.View `json:"view"`
	Session types.Session `json:"session"`
}

// Home tells the client which top-level view to mount for its session.
func Home(w http.ResponseWriter, r *http.Request) {
	session, err := sessionFromContext(r.Context())
	writeJSON(w, http.StatusOK, HomeResponse{
		View:    services.RouteFor(&session, err),
		Session: session,
	})
}
