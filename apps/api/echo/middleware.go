package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

// staffMiddleware only lets teachers & admins through.
func staffMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		actor, err := getContextActor(ctx)
		if err != nil {
			return errors.Wrap(err, "getting context actor")
		}
		if actor.IsStaff() {
			return next(ctx)
		}
		return errHttpForbidden
	}
}

func studentMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		actor, err := getContextActor(ctx)
		if err != nil {
			return errors.Wrap(err, "getting context actor")
		}
		if actor.IsStudent() {
			return next(ctx)
		}
		return errHttpForbidden
	}
}
