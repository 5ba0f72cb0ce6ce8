package controller

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"contentlift_backend/pkg/subscription"
)

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// parseBody decodes the JSON body into v and validates its tags.
func parseBody(c *fiber.Ctx, v any) error {
	if err := c.BodyParser(v); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid input")
	}
	if err := validate.Struct(v); err != nil {
		return err
	}
	return nil
}

// ErrorHandler renders errors as {"error": "..."} with a status derived
// from the error type.
func ErrorHandler(log logrus.FieldLogger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code, message := statusFor(err)
		if code >= fiber.StatusInternalServerError {
			log.WithError(err).WithFields(logrus.Fields{
				"method": c.Method(),
				"path":   c.Path(),
			}).Error("request failed")
		}
		return c.Status(code).JSON(fiber.Map{"error": message})
	}
}

func statusFor(err error) (int, string) {
	var (
		fe  *fiber.Error
		ve  validator.ValidationErrors
		nf  *subscription.NotFoundError
		it  *subscription.InvalidTransitionError
		pe  *subscription.ProviderError
		iev *subscription.InvalidEventError
	)
	switch {
	case errors.As(err, &fe):
		return fe.Code, fe.Message
	case errors.As(err, &ve):
		return fiber.StatusBadRequest, validationMessage(ve)
	case errors.As(err, &nf):
		return fiber.StatusNotFound, nf.Error()
	case errors.As(err, &it):
		return fiber.StatusConflict, err.Error()
	case errors.As(err, &pe) && pe.Timeout:
		return fiber.StatusGatewayTimeout, "Billing provider timed out, please retry"
	case errors.As(err, &pe):
		return fiber.StatusBadGateway, pe.Error()
	case errors.As(err, &iev):
		return fiber.StatusBadRequest, iev.Error()
	default:
		return fiber.StatusInternalServerError, "Internal server error"
	}
}

func validationMessage(ve validator.ValidationErrors) string {
	parts := make([]string, 0, len(ve))
	for _, fe := range ve {
		switch fe.Tag() {
		case "required":
			parts = append(parts, fe.Field()+" is required")
		default:
			parts = append(parts, fe.Field()+" is invalid")
		}
	}
	return strings.Join(parts, ", ")
}
