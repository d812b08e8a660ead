package services

import (
	"errors"

	"github.com/lugares/apiserver/types"
)

// View is the top-level screen a client mounts for a session.
type View string

const (
	ViewSignIn  View = "sign_in"
	ViewBlocked View = "blocked"
	ViewBrowse  View = "browse"
	ViewAuthor  View = "author"
)

// RouteFor picks the view for the outcome of resolving a session. Accounts
// without a usable role see neither the browse nor the author view.
func RouteFor(session *types.Session, err error) View {
	if errors.Is(err, ErrRoleMissing) {
		return ViewBlocked
	}
	if err != nil || session == nil || session.UID == "" {
		return ViewSignIn
	}
	switch session.Role {
	case types.RoleAuthor:
		return ViewAuthor
	case types.RoleConsumer:
		return ViewBrowse
	default:
		return ViewBlocked
	}
}
