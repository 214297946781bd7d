// Package request binds and validates API request bodies and parameters.
package request

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pipewright/pipewright/api/rest/httperr"
)

// Validator adapts validator/v10 to echo.Validator.
type Validator struct {
	v *validator.Validate
}

// NewValidator returns a validator that reports field names by their json
// tag.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{v: v}
}

func (cv *Validator) Validate(i any) error {
	if err := cv.v.Struct(i); err != nil {
		var msgs []string
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				msgs = append(msgs, describe(fe))
			}
			return httperr.BadRequest(fmt.Errorf("%s", strings.Join(msgs, "; ")))
		}
		return httperr.BadRequest(err)
	}
	return nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param())
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}

// Bind decodes the request into req and validates it.
func Bind(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return err
	}
	return c.Validate(req)
}

// ID parses a uuid path parameter.
func ID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, httperr.BadRequest(fmt.Errorf("invalid %s %q", name, c.Param(name)))
	}
	return id, nil
}

// OptionalID parses a uuid query parameter, returning uuid.Nil when absent.
func OptionalID(c echo.Context, name string) (uuid.UUID, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, httperr.BadRequest(fmt.Errorf("invalid %s %q", name, raw))
	}
	return id, nil
}

// Int parses an integer query parameter, returning def when absent.
func Int(c echo.Context, name string, def int) (int, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, httperr.BadRequest(fmt.Errorf("invalid %s %q", name, raw))
	}
	return n, nil
}

// Bool parses a boolean query parameter, returning def when absent.
func Bool(c echo.Context, name string, def bool) (bool, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, httperr.BadRequest(fmt.Errorf("invalid %s %q", name, raw))
	}
	return b, nil
}
