package echoapi

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/smarthomecloud/backend/core"
)

// bindOrdering reads ?ordering=name,-created_at; a leading "-" sorts descending.
// Unknown fields are dropped by the repositories.
func bindOrdering(ctx echo.Context) []core.DBOrdering {
	var orderings []core.DBOrdering
	for _, field := range strings.Split(ctx.QueryParam("ordering"), ",") {
		field = strings.TrimSpace(field)
		name := strings.TrimPrefix(field, "-")
		if name == "" {
			continue
		}
		orderings = append(orderings, core.DBOrdering{Field: name, Ascending: name == field})
	}
	return orderings
}

// bindOneOrMany decodes a JSON body holding either one object or an array of objects into dst.
func bindOneOrMany(ctx echo.Context, dst interface{}) error {
	body, err := io.ReadAll(ctx.Request().Body)
	if err != nil {
		return errors.Wrap(err, "reading body")
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return core.NewValidationError(errors.New("empty body"))
	}
	if body[0] != '[' {
		body = append(append([]byte{'['}, body...), ']')
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return core.NewValidationError(errors.Wrap(err, "malformed body"))
	}
	return nil
}

type (
	LoginRequest struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required"`
	}

	LoginResponse struct {
		Token string `json:"token"`
	}

	PasswordResetRequest struct {
		Email string `json:"email" validate:"required,email"`
	}

	SuccessResponse struct {
		Success string `json:"success"`
	}

	// DestroyMultipleRequest binds DELETE ?id=a&id=b
	DestroyMultipleRequest struct {
		IDs []string `query:"id"`
	}
)

func (lr *LoginRequest) Validate(validate *validator.Validate) error {
	lr.Email = core.CleanString(lr.Email, true /* lower */)
	return validate.Struct(lr)
}

func (pr *PasswordResetRequest) Validate(validate *validator.Validate) error {
	pr.Email = core.CleanString(pr.Email, true /* lower */)
	return validate.Struct(pr)
}
