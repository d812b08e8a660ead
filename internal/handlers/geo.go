package handlers

import (
	"errors"
	"net/http"

	"github.com/lugares/apiserver/internal/geo"
)

// CurrentLocation returns approximate coordinates for the caller's address.
func CurrentLocation(locator geo.Locator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if locator == nil {
			writeError(w, http.StatusServiceUnavailable, "location lookup unavailable")
			return
		}
		coordinates, err := locator.Locate(r.Context(), r.RemoteAddr)
		if err != nil {
			if errors.Is(err, geo.ErrUnavailable) {
				writeError(w, http.StatusServiceUnavailable, "location lookup unavailable")
				return
			}
			writeError(w, http.StatusNotFound, "location unknown")
			return
		}
		writeJSON(w, http.StatusOK, coordinates)
	}
}
