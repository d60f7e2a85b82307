// Package model holds the plain value types shared by the scheduling core:
// regions, calendar sources, calendar events and tasks.
//
// Values are passed around as copies. Creation and modification timestamps
// are set only by the explicit New*/Touch functions; storage never stamps
// them on its own.
package model

import (
	"strings"

	"github.com/google/uuid"
)

// Ptr returns a pointer to v. Handy for optional fields.
func Ptr[T any](v T) *T {
	return &v
}

// NewID returns a fresh random entity id.
func NewID() string {
	return uuid.NewString()
}

// Deref returns *p or the zero value when p is nil.
func Deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func blankPtr(p *string) bool {
	return p == nil || blank(*p)
}
