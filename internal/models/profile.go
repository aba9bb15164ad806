package models

import "time"

// ProfileType is the professional category of a user profile.
type ProfileType string

const (
	ProfileArtist  ProfileType = "artist"
	ProfileAgent   ProfileType = "agent"
	ProfileManager ProfileType = "manager"
	ProfileVenue   ProfileType = "venue"
	ProfileAdmin   ProfileType = "admin"
)

// Valid reports whether t is a known profile type.
func (t ProfileType) Valid() bool {
	switch t {
	case ProfileArtist, ProfileAgent, ProfileManager, ProfileVenue, ProfileAdmin:
		return true
	}
	return false
}

// Profile is the identity store's view of a user.
type Profile struct {
	ID                   int64       `db:"id" json:"id"`
	DisplayName          string      `db:"display_name" json:"display_name"`
	ProfileType          ProfileType `db:"profile_type" json:"profile_type"`
	IsPublic             bool        `db:"is_public" json:"is_public"`
	AcceptsDirectContact bool        `db:"accepts_direct_contact" json:"accepts_direct_contact"`
	PreferredContactID   *int64      `db:"preferred_contact_id" json:"preferred_contact_id,omitempty"`
	DeletedAt            *time.Time  `db:"deleted_at" json:"-"`
}

// ContactPolicy returns the contact rules carried by the profile.
func (p Profile) ContactPolicy() ContactPolicy {
	return ContactPolicy{
		AcceptsDirectContact: p.AcceptsDirectContact,
		PreferredContactID:   p.PreferredContactID,
	}
}

// ContactPolicy tells whether a user accepts direct contact and who guards them otherwise.
type ContactPolicy struct {
	AcceptsDirectContact bool
	PreferredContactID   *int64
}

// Block is a directional block relationship.
type Block struct {
	BlockerID int64     `db:"blocker_id" json:"blocker_id"`
	BlockedID int64     `db:"blocked_id" json:"blocked_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
