package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/nightshift/backend/internal/domain"
	"github.com/nightshift/backend/internal/infrastructure/logger"
	"github.com/nightshift/backend/internal/transport/http/dto"
)

// writeError maps domain errors onto status codes. Expected client errors
// are logged at WARN, everything else at ERROR.
func writeError(c *fiber.Ctx, log *logger.Logger, event string, err error) error {
	resp := dto.ErrorResponse{Error: err.Error()}
	var code int

	var ite *domain.InvalidTransitionError
	switch {
	case errors.As(err, &ite):
		code = fiber.StatusConflict
		allowed := make([]string, len(ite.Allowed))
		for i, s := range ite.Allowed {
			allowed[i] = string(s)
		}
		resp.Details = dto.TransitionDetails{Current: string(ite.Current), Target: string(ite.Target), Allowed: allowed}
	case errors.Is(err, domain.ErrInvalidTransition):
		code = fiber.StatusConflict
	case errors.Is(err, domain.ErrNotFound):
		code = fiber.StatusNotFound
	case errors.Is(err, domain.ErrValidation):
		code = fiber.StatusBadRequest
	default:
		log.Errorw(event, "path", c.Path(), "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}

	log.Warnw(event, "path", c.Path(), "status", code, "error", err)
	return c.Status(code).JSON(resp)
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: msg})
}
