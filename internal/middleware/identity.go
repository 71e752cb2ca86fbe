package middleware

// identity.go holds the request-scoped principal.  Authenticate stores it,
// RequireRole and the handlers read it back.

import (
	"github.com/labstack/echo/v4"

	"github.com/dimonss/AccountingForRepairsBackend/internal/model"
)

const principalKey = "principal"

func setPrincipal(c echo.Context, p model.Principal) {
	c.Set(principalKey, p)
}

// PrincipalFrom returns the principal attached by Authenticate.
func PrincipalFrom(c echo.Context) (model.Principal, bool) {
	p, ok := c.Get(principalKey).(model.Principal)
	return p, ok
}

// deny writes the error envelope shared with the handlers.
func deny(c echo.Context, status int, msg, code string) error {
	body := echo.Map{"success": false, "error": msg}
	if code != "" {
		body["code"] = code
	}
	return c.JSON(status, body)
}
