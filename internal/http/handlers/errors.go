// Package handlers defines HTTP-layer error codes used outside the services.
//
// Service failures carry their own stable codes (see the services package);
// the codes below cover what the transport itself rejects: unknown routes,
// unsupported methods and request bodies that cannot be decoded.
//
// Conventions:
//   - Codes are lowercase, snake_case.
//   - Clients are expected to branch on codes, not on messages.
//
// Example response:
//
//	{
//	  "success": false,
//	  "code": "method_not_allowed",
//	  "message": "method not allowed",
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6"
//	}
package handlers

import "github.com/tbourn/go-cert-backend/internal/apperr"

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "route_not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
)

// errInvalidJSON is returned when a request body does not decode into the
// expected payload.
var errInvalidJSON = apperr.New(apperr.KindValidation, ErrCodeBadRequest, "invalid JSON body")
