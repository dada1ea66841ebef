package services

import (
	"errors"
	"testing"
	"time"

	"github.com/tbourn/go-cert-backend/internal/domain"
)

func TestTransition(t *testing.T) {
	cases := []struct {
		from, to domain.CertificateStatus
		want     error
	}{
		{domain.StatusActive, domain.StatusRevoked, nil},
		{domain.StatusActive, domain.StatusExpired, nil},
		{domain.StatusActive, domain.StatusActive, ErrInvalidTransition},
		{domain.StatusRevoked, domain.StatusRevoked, ErrAlreadyRevoked},
		{domain.StatusRevoked, domain.StatusActive, ErrInvalidTransition},
		{domain.StatusRevoked, domain.StatusExpired, ErrInvalidTransition},
		{domain.StatusExpired, domain.StatusRevoked, ErrCertificateExpired},
		{domain.StatusExpired, domain.StatusActive, ErrInvalidTransition},
		{"bogus", domain.StatusRevoked, ErrInvalidTransition},
	}
	for _, tc := range cases {
		err := Transition(tc.from, tc.to)
		if tc.want == nil && err != nil {
			t.Fatalf("%s -> %s: unexpected error %v", tc.from, tc.to, err)
		}
		if tc.want != nil && !errors.Is(err, tc.want) {
			t.Fatalf("%s -> %s: got %v, want %v", tc.from, tc.to, err, tc.want)
		}
	}
}

func TestTransition_TerminalStatesNeverReturnToActive(t *testing.T) {
	for _, from := range domain.Statuses {
		if !from.Terminal() {
			continue
		}
		for _, to := range domain.Statuses {
			if Transition(from, to) == nil {
				t.Fatalf("terminal status %s must not transition to %s", from, to)
			}
		}
	}
}

func TestEffectiveStatus(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Second)
	future := now.Add(time.Hour)

	cases := []struct {
		name string
		cert domain.Certificate
		want domain.CertificateStatus
	}{
		{"active no expiry", domain.Certificate{Status: domain.StatusActive}, domain.StatusActive},
		{"active future expiry", domain.Certificate{Status: domain.StatusActive, ExpiryDate: &future}, domain.StatusActive},
		{"active past expiry", domain.Certificate{Status: domain.StatusActive, ExpiryDate: &past}, domain.StatusExpired},
		{"expiry exactly now", domain.Certificate{Status: domain.StatusActive, ExpiryDate: &now}, domain.StatusExpired},
		{"revoked and expired", domain.Certificate{Status: domain.StatusRevoked, ExpiryDate: &past}, domain.StatusRevoked},
	}
	for _, tc := range cases {
		if got := EffectiveStatus(&tc.cert, now); got != tc.want {
			t.Fatalf("%s: got %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestCanRevokeAndCanIssue(t *testing.T) {
	cert := &domain.Certificate{IssuedBy: issuer.ID}
	cases := []struct {
		actor     domain.Actor
		canRevoke bool
		canIssue  bool
	}{
		{admin, true, true},
		{issuer, true, true},
		{other, false, true},
		{viewer, false, false},
		{anon, false, false},
		{domain.Actor{ID: domain.AnonymousSubject, Role: domain.RoleAdmin}, false, false},
	}
	for _, tc := range cases {
		if got := CanRevoke(tc.actor, cert); got != tc.canRevoke {
			t.Fatalf("CanRevoke(%+v) = %v", tc.actor, got)
		}
		if got := CanIssue(tc.actor); got != tc.canIssue {
			t.Fatalf("CanIssue(%+v) = %v", tc.actor, got)
		}
	}
}
