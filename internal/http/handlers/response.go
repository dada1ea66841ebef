// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the response helpers shared by every endpoint. Success
// bodies carry "success": true next to the resource; failures never render
// here: handlers hand the error to the error-handling stage, which writes
// the uniform envelope.
//
// Conventions:
//   - `fail()` attaches a service error to the request and aborts.
//   - `Fail()` writes an envelope directly. It is meant for engine-level
//     fallbacks (NoRoute/NoMethod) that run outside any pipeline.
//   - `ok()` writes a success body with the given status.
//
// Example error response:
//
//	HTTP/1.1 404 Not Found
//	{
//	  "success": false,
//	  "code": "certificate_not_found",
//	  "message": "certificate not found",
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000"
//	}
//
// Example success response:
//
//	HTTP/1.1 201 Created
//	{ "success": true, "message": "certificate issued", "certificate": { ... } }
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-cert-backend/internal/http/middleware"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
// It mirrors middleware.ErrorBody for the API documentation.
type ErrorResponse struct {
	Success bool `json:"success" example:"false"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"certificate_not_found"`
	// Human-readable message (safe to show to users)
	Message string `json:"message" example:"certificate not found"`
	// Per-field problems, when any
	Errors []string `json:"errors,omitempty" example:"recipient_name is required"`
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
}

// fail hands err to the error-handling stage and stops the chain.
func fail(c *gin.Context, err error) {
	middleware.Abort(c, err)
}

// Fail writes an error envelope with an explicit status and code.
//
// External packages (e.g., router setup) call Fail for responses produced
// outside a pipeline, where no error-handling stage runs.
func Fail(c *gin.Context, status int, code, msg string) {
	middleware.WriteEnvelope(c, status, code, msg)
}

// ok writes a success JSON response.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}
