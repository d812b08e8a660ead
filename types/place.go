package types

import (
	"encoding/json"
	"time"
)

// Coordinates is a WGS84 position in degrees.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Valid reports whether the coordinates fall inside the WGS84 ranges.
func (c Coordinates) Valid() bool {
	return c.Latitude >= -90 && c.Latitude <= 90 &&
		c.Longitude >= -180 && c.Longitude <= 180
}

// Place represents a registered point of interest.
type Place struct {
	// ID is the store-generated identifier of the place.
	ID int64 `json:"id" db:"id"`

	// Name is the human-readable name of the place.
	Name string `json:"name" db:"name"`

	// Description is free text describing the place.
	Description string `json:"description" db:"description"`

	// Schedule holds the opening hours as free text.
	Schedule string `json:"schedule" db:"schedule"`

	// Coordinates is where the place is located.
	Coordinates Coordinates `json:"coordinates" db:"-"`

	// ImageURL is the public URL of the place photo. Empty means no image
	// and is serialized as null.
	ImageURL string `json:"-" db:"image_url"`

	// ImageKey is the object storage key behind ImageURL.
	ImageKey string `json:"-" db:"image_key"`

	// Active controls whether consumers can see the place.
	Active bool `json:"active" db:"active"`

	// OwnerUID identifies the author who registered the place.
	OwnerUID string `json:"owner_uid" db:"owner_uid"`

	// CreatedAt is the timestamp at which the place was registered.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent change.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// VisibleTo reports whether the place can be seen by the given session.
func (p Place) VisibleTo(session Session) bool {
	return p.Active || p.OwnerUID == session.UID
}

func (p Place) MarshalJSON() ([]byte, error) {
	type alias Place
	var imageURL *string
	if p.ImageURL != "" {
		imageURL = &p.ImageURL
	}
	return json.Marshal(struct {
		alias
		ImageURL *string `json:"image_url"`
	}{
		alias:    alias(p),
		ImageURL: imageURL,
	})
}

func (p *Place) UnmarshalJSON(data []byte) error {
	type alias Place
	aux := struct {
		*alias
		ImageURL *string `json:"image_url"`
	}{alias: (*alias)(p)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.ImageURL != nil {
		p.ImageURL = *aux.ImageURL
	}
	return nil
}

// PlacePatch lists the mutable fields of a place. Nil fields are left unchanged.
type PlacePatch struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Schedule    *string `json:"schedule,omitempty"`
	Active      *bool   `json:"active,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p PlacePatch) Empty() bool {
	return p.Name == nil && p.Description == nil && p.Schedule == nil && p.Active == nil
}

// Apply copies the present fields of the patch onto place.
func (p PlacePatch) Apply(place Place) Place {
	if p.Name != nil {
		place.Name = *p.Name
	}
	if p.Description != nil {
		place.Description = *p.Description
	}
	if p.Schedule != nil {
		place.Schedule = *p.Schedule
	}
	if p.Active != nil {
		place.Active = *p.Active
	}
	return place
}

// PlaceEventType names the kind of change carried by a PlaceEvent.
type PlaceEventType string

const (
	PlaceCreated PlaceEventType = "created"
	PlaceUpdated PlaceEventType = "updated"
)

// PlaceEvent is delivered to live subscribers of a user's places.
type PlaceEvent struct {
	Type  PlaceEventType `json:"type"`
	Place Place          `json:"place"`
}
