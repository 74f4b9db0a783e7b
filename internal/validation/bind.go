package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
)

// ErrInvalidBody wraps JSON decoding failures returned by Bind.
var ErrInvalidBody = errors.New("invalid request body")

// Bind decodes the JSON body into out and validates it without writing a response.
func Bind(c *gin.Context, out any, v *validatorv10.Validate) error {
	if err := c.ShouldBindJSON(out); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidBody, err)
	}
	return v.Struct(out)
}

// BindAndValidate binds the JSON body into out and validates it. On failure
// the 400 response is already written and the caller only returns.
func BindAndValidate(c *gin.Context, out any, v *validatorv10.Validate) error {
	err := Bind(c, out, v)
	if err != nil {
		WriteError(c, err)
	}
	return err
}

// WriteError writes the 400 response for a Bind failure.
func WriteError(c *gin.Context, err error) {
	if errors.Is(err, ErrInvalidBody) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid_request_body",
			"msg":   err.Error(),
		})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{
		"error":  "validation_failed",
		"fields": FieldErrors(err),
	})
}

// FieldFailed reports whether err is a type or validation failure of the
// given json field.
func FieldFailed(err error, field string) bool {
	var te *json.UnmarshalTypeError
	if errors.As(err, &te) {
		return te.Field == field
	}
	var ve validatorv10.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			if fe.Field() == field {
				return true
			}
		}
	}
	return false
}

// FieldErrors maps each failing field (json name) to a short message.
func FieldErrors(err error) map[string]string {
	var ve validatorv10.ValidationErrors
	if !errors.As(err, &ve) {
		return map[string]string{"_": err.Error()}
	}
	out := make(map[string]string, len(ve))
	for _, fe := range ve {
		out[fe.Field()] = message(fe)
	}
	return out
}

func message(fe validatorv10.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "price":
		return "must be a non-negative number"
	case "url":
		return "must be a url"
	}
	return fmt.Sprintf("failed %q", fe.Tag())
}
