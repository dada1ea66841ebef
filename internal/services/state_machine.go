// Package services – CertificateStateMachine
//
// The lifecycle has one initial state and two terminal ones:
//
//	active ──► revoked   (explicit, needs a reason and an authorized actor)
//	active ──► expired   (derived from ExpiryDate at read time, never stored)
//
// The functions here are pure. CertificateService applies them inside the
// transaction that performs the change.
package services

import (
	"time"

	"github.com/tbourn/go-cert-backend/internal/domain"
)

// Transition checks whether a certificate may move from one status to
// another. It returns nil for allowed moves and a conflict error otherwise.
func Transition(from, to domain.CertificateStatus) error {
	switch from {
	case domain.StatusActive:
		if to == domain.StatusRevoked || to == domain.StatusExpired {
			return nil
		}
	case domain.StatusRevoked:
		if to == domain.StatusRevoked {
			return ErrAlreadyRevoked
		}
	case domain.StatusExpired:
		if to == domain.StatusRevoked {
			return ErrCertificateExpired
		}
	}
	return ErrInvalidTransition
}

// EffectiveStatus is the status a reader observes at now: a stored revoked
// status wins, otherwise an elapsed ExpiryDate yields expired.
func EffectiveStatus(c *domain.Certificate, now time.Time) domain.CertificateStatus {
	if c.Status == domain.StatusRevoked {
		return domain.StatusRevoked
	}
	if c.ExpiredAt(now) {
		return domain.StatusExpired
	}
	return domain.StatusActive
}

// CanRevoke reports whether actor may revoke c: administrators may revoke
// anything, issuers only what they issued themselves.
func CanRevoke(actor domain.Actor, c *domain.Certificate) bool {
	if actor.Anonymous() {
		return false
	}
	switch actor.Role {
	case domain.RoleAdmin:
		return true
	case domain.RoleIssuer:
		return c.IssuedBy == actor.ID
	}
	return false
}

// CanIssue reports whether actor may issue certificates.
func CanIssue(actor domain.Actor) bool {
	return !actor.Anonymous() && (actor.Role == domain.RoleAdmin || actor.Role == domain.RoleIssuer)
}
