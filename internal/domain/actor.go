package domain

// Role is the authorization role carried by an authenticated caller.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleIssuer Role = "issuer"
	RoleViewer Role = "viewer"
)

// AnonymousSubject is the identity used for callers without credentials.
const AnonymousSubject = "anonymous"

// Actor is the caller on whose behalf an operation runs.
type Actor struct {
	ID   string
	Role Role
}

// Anonymous reports whether the actor carries no authenticated identity.
func (a Actor) Anonymous() bool { return a.ID == "" || a.ID == AnonymousSubject }

// Subject returns the actor id, or AnonymousSubject for unauthenticated callers.
func (a Actor) Subject() string {
	if a.Anonymous() {
		return AnonymousSubject
	}
	return a.ID
}
