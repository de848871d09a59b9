package topic

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrInvalidDescriptor is returned when a raw topic cannot be turned into a Descriptor.
var ErrInvalidDescriptor = errors.New("invalid topic descriptor")

// Descriptor is a hierarchical, path-like topic key such as "/rooms/1".
// It is a plain value type: it owns its data and can be compared with ==.
type Descriptor string

// Parse normalises raw into a Descriptor.
//
// The path part is cleaned ("rooms//1/" becomes "/rooms/1") and always starts with "/".
// A query part ("/rooms/1?lang=en") is kept verbatim, since two descriptors that differ
// only in their query are different topics.
func Parse(raw string) (Descriptor, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty topic", ErrInvalidDescriptor)
	}

	p, query, hasQuery := strings.Cut(raw, "?")
	if strings.ContainsAny(p, " \t\r\n") {
		return "", fmt.Errorf("%w: %q contains whitespace", ErrInvalidDescriptor, raw)
	}

	p = path.Clean("/" + p)
	if hasQuery {
		return Descriptor(p + "?" + query), nil
	}
	return Descriptor(p), nil
}

// MustParse is like Parse but panics on error. Intended for constants and tests.
func MustParse(raw string) Descriptor {
	d, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return d
}

// String returns the descriptor as a string.
func (d Descriptor) String() string {
	return string(d)
}

// Path returns the descriptor without its query part.
func (d Descriptor) Path() string {
	p, _, _ := strings.Cut(string(d), "?")
	return p
}

// Segments returns the non-empty path segments, e.g. ["rooms", "1"] for "/rooms/1".
func (d Descriptor) Segments() []string {
	p := strings.Trim(d.Path(), "/")
	if p == "" {
		return []string{}
	}
	return strings.Split(p, "/")
}

// IsZero reports whether d is the empty descriptor.
func (d Descriptor) IsZero() bool {
	return d == ""
}
