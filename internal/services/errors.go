package services

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrNoSession          = errors.New("no session")
	ErrRoleMissing        = errors.New("role missing")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailInUse         = errors.New("email already in use")
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
	ErrLimitExceeded      = errors.New("place limit exceeded")
	ErrUpload             = errors.New("image upload failed")
	ErrStoreUnavailable   = errors.New("store unavailable")
	ErrFeedUnavailable    = errors.New("live feed unavailable")
)

// ValidationError reports the input fields that were missing or malformed.
type ValidationError struct {
	Fields  []string
	Reasons map[string]string
}

func (e *ValidationError) add(field, reason string) {
	if e.Reasons == nil {
		e.Reasons = make(map[string]string)
	}
	if _, seen := e.Reasons[field]; !seen {
		e.Fields = append(e.Fields, field)
	}
	e.Reasons[field] = reason
}

// err returns nil when no field was flagged.
func (e *ValidationError) err() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, field := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s %s", field, e.Reasons[field]))
	}
	return "invalid input: " + strings.Join(parts, ", ")
}

// Has reports whether field was flagged.
func (e *ValidationError) Has(field string) bool {
	_, ok := e.Reasons[field]
	return ok
}

// SortedFields returns the flagged fields in lexical order.
func (e *ValidationError) SortedFields() []string {
	fields := append([]string(nil), e.Fields...)
	sort.Strings(fields)
	return fields
}

func storeUnavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}
