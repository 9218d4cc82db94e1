package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"docvault/internal/http/middleware"
	"docvault/internal/service"
	"docvault/internal/validation"
	"docvault/internal/vault"
)

// errorPayload defines the standardized error response body.
type errorPayload struct {
	RequestID string        `json:"request_id"`
	Error     errorEnvelope `json:"error"`
}

type errorEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// requestIDFromCtx extracts request_id previously stored by middleware.RequestID.
func requestIDFromCtx(c *fiber.Ctx) string {
	if v := c.Locals(middleware.RequestIDLocalKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// writeError writes a standardized JSON error response.
// code is a machine-readable short code (e.g. "INVALID_ID", "NOT_FOUND");
// message must be safe to show to clients.
func writeError(c *fiber.Ctx, status int, code, message string) error {
	res := errorPayload{
		RequestID: requestIDFromCtx(c),
		Error: errorEnvelope{
			Code:    code,
			Message: message,
		},
	}
	return c.Status(status).JSON(res)
}

// writeServiceError maps domain errors to HTTP statuses. Messages of domain
// errors are returned as is; anything unrecognised becomes a 500 without detail.
func writeServiceError(c *fiber.Ctx, err error) error {
	var (
		verr *validation.Error
		ite  *vault.IllegalTransitionError
		cme  *vault.ConcurrentModificationError
	)
	switch {
	case errors.As(err, &verr):
		return writeError(c, fiber.StatusUnprocessableEntity, "VALIDATION_FAILED", verr.Error())
	case errors.Is(err, service.ErrIDRequired):
		return writeError(c, fiber.StatusBadRequest, "INVALID_ID", err.Error())
	case errors.Is(err, service.ErrNoFiles):
		return writeError(c, fiber.StatusBadRequest, "FILE_REQUIRED", err.Error())
	case errors.Is(err, service.ErrNotFound):
		return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "document not found")
	case errors.Is(err, service.ErrDocumentLocked):
		return writeError(c, fiber.StatusConflict, "DOCUMENT_LOCKED", err.Error())
	case errors.Is(err, vault.ErrRetentionViolation):
		return writeError(c, fiber.StatusConflict, "RETENTION_VIOLATION", err.Error())
	case errors.As(err, &ite):
		return writeError(c, fiber.StatusConflict, "ILLEGAL_TRANSITION", ite.Error())
	case errors.As(err, &cme):
		return writeError(c, fiber.StatusConflict, "CONCURRENT_MODIFICATION", cme.Error())
	case errors.Is(err, vault.ErrPermissionDenied):
		return writeError(c, fiber.StatusForbidden, "PERMISSION_DENIED", err.Error())
	case errors.Is(err, vault.ErrVerificationRejected):
		return writeError(c, fiber.StatusUnprocessableEntity, "VERIFICATION_REJECTED", err.Error())
	case errors.Is(err, vault.ErrNoVerifier):
		return writeError(c, fiber.StatusServiceUnavailable, "VERIFIER_UNAVAILABLE", err.Error())
	case errors.Is(err, vault.ErrNoPolicy):
		return writeError(c, fiber.StatusUnprocessableEntity, "NO_RETENTION_POLICY", err.Error())
	default:
		return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}

// ErrorHandler returns a Fiber global error handler that standardizes error responses.
func ErrorHandler() fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		var e *fiber.Error
		if errors.As(err, &e) {
			status = e.Code
		}

		switch status {
		case fiber.StatusBadRequest:
			return writeError(c, status, "BAD_REQUEST", "bad request")
		case fiber.StatusNotFound:
			return writeError(c, status, "NOT_FOUND", "resource not found")
		case fiber.StatusMethodNotAllowed:
			return writeError(c, status, "METHOD_NOT_ALLOWED", "method not allowed")
		case fiber.StatusRequestEntityTooLarge:
			return writeError(c, status, "PAYLOAD_TOO_LARGE", "request body too large")
		default:
			return writeError(c, status, "INTERNAL_ERROR", "internal server error")
		}
	}
}
