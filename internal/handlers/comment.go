package handlers

import (
	"net/http"

	"github.com/lugares/apiserver/types"
)

func (h *PlaceHandler) ListComments(w http.ResponseWriter, r *http.Request) {
	id, err := parsePlaceID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	session, _ := sessionFromContext(r.Context())

	comments, err := h.comments.List(r.Context(), session, id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CommentListResponse{Items: comments})
}

func (h *PlaceHandler) PostComment(w http.ResponseWriter, r *http.Request) {
	id, err := parsePlaceID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	session, _ := sessionFromContext(r.Context())

	var req CommentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, errInvalidRequestText)
		return
	}

	comment, err := h.comments.Post(r.Context(), session, id, req.Text)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, comment)
}

type CommentRequest struct {
	Text string `json:"text"`
}

type CommentListResponse struct {
	Items []types.Comment `json:"items"`
}
