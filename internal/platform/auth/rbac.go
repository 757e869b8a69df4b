package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Roles recognised by the API.
const (
	RolePatient  = "patient"
	RoleDoctor   = "doctor"
	RoleHospital = "hospital"
	RoleAdmin    = "admin"
)

// RequireRole returns middleware that checks if the caller has one of the
// specified roles. Admin always passes.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := IdentityFromContext(c.Request().Context())
			if id == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			if id.Role == RoleAdmin {
				return next(c)
			}
			for _, required := range roles {
				if id.Role == required {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

// profileUpdateFields maps a role to the profile fields it may change on its
// own entity. Anything outside the list is dropped before the update is
// applied.
var profileUpdateFields = map[string][]string{
	RolePatient:  {"fullName", "gender", "bloodGroup", "contactNumber", "address", "emergencyContact"},
	RoleDoctor:   {"fullName", "specialization", "phone", "yearsOfExperience"},
	RoleHospital: {"name", "address", "phone", "type"},
	RoleAdmin:    {"fullName", "gender", "bloodGroup", "contactNumber", "address", "emergencyContact", "specialization", "phone", "yearsOfExperience", "name", "type"},
}

// AllowedProfileFields returns the update whitelist for a role.
func AllowedProfileFields(role string) []string {
	return profileUpdateFields[role]
}

// FilterProfileUpdate removes any field the role may not update.
func FilterProfileUpdate(role string, updates map[string]interface{}) map[string]interface{} {
	allowed := make(map[string]bool)
	for _, f := range AllowedProfileFields(role) {
		allowed[f] = true
	}
	filtered := make(map[string]interface{}, len(updates))
	for k, v := range updates {
		if allowed[k] {
			filtered[k] = v
		}
	}
	return filtered
}
