package domain

import "github.com/google/uuid"

// Actor is the authenticated caller of a domain operation. It is always built from the session,
// never from request bodies.
type Actor struct {
	UserID uuid.UUID
	Role   string
}
