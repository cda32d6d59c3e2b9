package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/engram/pkg/memory"
	"github.com/papercomputeco/engram/pkg/storage"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error        string   `json:"error"`
	Kind         string   `json:"kind,omitempty"`
	Reasons      []string `json:"reasons,omitempty"`
	Alternatives []string `json:"alternatives,omitempty"`
}

// kindNotFound labels errors about an id that is not retained. It takes
// precedence over the memory error kind wrapping it.
const kindNotFound = "NotFound"

func isNotFound(err error) bool {
	var nf storage.NotFoundError
	return errors.As(err, &nf)
}

// statusFor maps an engram error onto an HTTP status code. An unknown id is
// a 404 regardless of the operation that looked it up.
func statusFor(err error) int {
	if isNotFound(err) {
		return fiber.StatusNotFound
	}

	switch memory.KindOf(err) {
	case memory.KindInvalidState:
		return fiber.StatusConflict
	case memory.KindRuleViolation:
		return fiber.StatusUnprocessableEntity
	case memory.KindMalformedInput:
		return fiber.StatusBadRequest
	case memory.KindStorageUnavailable:
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// writeError renders err with its mapped status. Rule violations carry the
// verdict's reasons and alternatives.
func (s *Server) writeError(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	resp := ErrorResponse{Error: err.Error()}

	var merr *memory.Error
	if errors.As(err, &merr) {
		resp.Kind = merr.Kind.String()
		resp.Reasons = merr.Reasons
		resp.Alternatives = merr.Alternatives
	}
	if isNotFound(err) {
		resp.Kind = kindNotFound
	}

	if status >= fiber.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", c.Method(),
			"path", c.Path(),
			"status", status,
			"error", err,
		)
	}

	return c.Status(status).JSON(resp)
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
		Error: msg,
		Kind:  memory.KindMalformedInput.String(),
	})
}
