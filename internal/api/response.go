package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Checker-Finance/negotiation/pkg/model"
)

// statusOf maps the error taxonomy onto HTTP status codes.
func statusOf(kind model.ErrorKind) int {
	switch kind {
	case model.KindValidation:
		return fiber.StatusBadRequest
	case model.KindNotFound:
		return fiber.StatusNotFound
	case model.KindInvalidState, model.KindConflict:
		return fiber.StatusConflict
	case model.KindAuthorization:
		return fiber.StatusForbidden
	default:
		return fiber.StatusInternalServerError
	}
}

// fail writes err as an ErrorResponse. Internal failures are logged and
// their details withheld from the caller.
func (h *Handler) fail(c *fiber.Ctx, op string, err error) error {
	kind := model.KindOf(err)
	body := ErrorResponse{
		Error:     err.Error(),
		Kind:      string(kind),
		Retryable: model.IsRetryable(err),
	}
	var ve *model.ValidationError
	if errors.As(err, &ve) {
		body.Field = ve.Field
	}

	if kind == model.KindInternal {
		h.logger.Error("api."+op+".failed",
			zap.String("path", c.Path()),
			zap.String("actor", actorOf(c).ID),
			zap.Error(err))
		body.Error = "internal error"
	} else {
		h.logger.Debug("api."+op+".rejected",
			zap.String("kind", string(kind)),
			zap.Error(err))
	}
	return c.Status(statusOf(kind)).JSON(body)
}
