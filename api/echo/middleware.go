package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

func adminMiddleware(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			if claims.IsAdmin && contextHasAnyRole(ctx, roles) {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}

// verifierMiddleware admits coordinators and admins; they own the
// verification workflow.
func verifierMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			if claims.CanVerify() {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}

// anyOfMiddleware admits any caller for whom at least one predicate holds.
func anyOfMiddleware(preds ...func(Claims) bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			for _, pred := range preds {
				if pred(claims) {
					return next(ctx)
				}
			}
			return errHttpForbidden
		}
	}
}

func isAdmin(c Claims) bool       { return c.IsAdmin }
func isCoordinator(c Claims) bool { return c.IsCoordinator }
func isAssessor(c Claims) bool    { return c.IsAssessor }
func isResponder(c Claims) bool   { return c.IsResponder }
func isDonor(c Claims) bool       { return c.IsDonor }
