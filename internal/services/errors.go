// Package services defines the business logic for certificate issuance,
// revocation and verification. This file centralizes the service-level error
// values so that they can be consistently returned by service methods and
// checked by callers with errors.Is.
//
// Every value is an *apperr.Error: the HTTP error stage maps its Kind to a
// status code and renders Code and Message in the response envelope.
package services

import "github.com/tbourn/go-cert-backend/internal/apperr"

// Caller errors.
var (
	// ErrNotAuthorized is returned when an operation requires an
	// authenticated caller and none was supplied.
	ErrNotAuthorized = apperr.New(apperr.KindUnauthorized, "unauthorized", "authentication required")

	// ErrForbidden is returned when the caller's role does not permit the
	// operation on this certificate.
	ErrForbidden = apperr.New(apperr.KindForbidden, "forbidden", "you are not allowed to perform this action")
)

// Certificate errors.
var (
	// ErrCertificateNotFound indicates that no certificate has the requested
	// public identifier.
	ErrCertificateNotFound = apperr.New(apperr.KindNotFound, "certificate_not_found", "certificate not found")

	// ErrAlreadyRevoked is returned when revoking a certificate that is
	// already revoked. Revocation is not idempotent.
	ErrAlreadyRevoked = apperr.New(apperr.KindConflict, "already_revoked", "certificate is already revoked")

	// ErrCertificateExpired is returned when revoking a certificate whose
	// validity window has closed.
	ErrCertificateExpired = apperr.New(apperr.KindConflict, "certificate_expired", "certificate has expired and can no longer be revoked")

	// ErrInvalidTransition covers any other status change the lifecycle
	// does not allow.
	ErrInvalidTransition = apperr.New(apperr.KindConflict, "invalid_transition", "certificate status transition is not allowed")

	// ErrRevocationReason is returned when the revocation reason is blank or
	// longer than MaxReasonRunes.
	ErrRevocationReason = apperr.New(apperr.KindValidation, "invalid_reason", "a revocation reason of at most 500 characters is required")

	// ErrInvalidCertificate is returned for malformed issuance requests.
	// Details name the offending fields.
	ErrInvalidCertificate = apperr.New(apperr.KindValidation, "invalid_certificate", "certificate request is invalid")

	// ErrBulkSize is returned when a bulk issuance is empty or exceeds
	// MaxBulkItems.
	ErrBulkSize = apperr.New(apperr.KindValidation, "invalid_bulk_size", "bulk issuance requires between 1 and 500 certificates")

	// ErrInvalidFilter is returned for an unknown status filter on listings.
	ErrInvalidFilter = apperr.New(apperr.KindValidation, "invalid_filter", "unknown status filter")
)

// Verification errors.
var (
	// ErrInvalidIdentifier is returned before any cache or store access
	// when a certificate identifier is malformed or carries an injection
	// payload.
	ErrInvalidIdentifier = apperr.New(apperr.KindValidation, "invalid_identifier", "certificate identifier is malformed")
)
