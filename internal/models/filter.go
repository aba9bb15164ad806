package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrInvalidRecipientFilter = errors.New("invalid recipient filter")

// RecipientFilter selects broadcast recipients. The concrete types below are the only implementations.
type RecipientFilter interface {
	FilterKind() string
	isRecipientFilter()
}

// AllUsers matches every active non-admin profile.
type AllUsers struct{}

// ByProfileType matches profiles of the listed types.
type ByProfileType struct {
	Types []ProfileType
}

// PublicOnly matches public profiles, optionally narrowed to the listed types.
type PublicOnly struct {
	Types []ProfileType
}

func (AllUsers) FilterKind() string      { return "all" }
func (ByProfileType) FilterKind() string { return "profile_type" }
func (PublicOnly) FilterKind() string    { return "public_only" }

func (AllUsers) isRecipientFilter()      {}
func (ByProfileType) isRecipientFilter() {}
func (PublicOnly) isRecipientFilter()    {}

// RecipientFilterJSON is the wire form of a RecipientFilter.
type RecipientFilterJSON struct {
	Kind         string        `json:"kind"`
	ProfileTypes []ProfileType `json:"profile_types,omitempty"`
}

// ParseRecipientFilter converts the wire form into a typed filter.
func ParseRecipientFilter(raw RecipientFilterJSON) (RecipientFilter, error) {
	for _, t := range raw.ProfileTypes {
		if !t.Valid() {
			return nil, fmt.Errorf("%w: unknown profile type %q", ErrInvalidRecipientFilter, t)
		}
	}
	switch raw.Kind {
	case "all", "":
		if len(raw.ProfileTypes) > 0 {
			return nil, fmt.Errorf("%w: kind all takes no profile types", ErrInvalidRecipientFilter)
		}
		return AllUsers{}, nil
	case "profile_type":
		if len(raw.ProfileTypes) == 0 {
			return nil, fmt.Errorf("%w: profile_type needs at least one type", ErrInvalidRecipientFilter)
		}
		return ByProfileType{Types: raw.ProfileTypes}, nil
	case "public_only":
		return PublicOnly{Types: raw.ProfileTypes}, nil
	}
	return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidRecipientFilter, raw.Kind)
}

// EncodeRecipientFilter returns the wire form of f.
func EncodeRecipientFilter(f RecipientFilter) RecipientFilterJSON {
	switch v := f.(type) {
	case ByProfileType:
		return RecipientFilterJSON{Kind: v.FilterKind(), ProfileTypes: v.Types}
	case PublicOnly:
		return RecipientFilterJSON{Kind: v.FilterKind(), ProfileTypes: v.Types}
	default:
		return RecipientFilterJSON{Kind: AllUsers{}.FilterKind()}
	}
}

// MarshalRecipientFilter encodes f for storage in a job record.
func MarshalRecipientFilter(f RecipientFilter) ([]byte, error) {
	return json.Marshal(EncodeRecipientFilter(f))
}
