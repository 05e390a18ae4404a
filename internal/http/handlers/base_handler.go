// README: Base handler utilities (JSON helpers, error mapping, caller checks).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"fixit/internal/http/middleware"
	"fixit/internal/modules/location"
	"fixit/internal/modules/matching"
	"fixit/internal/modules/repair"
	"fixit/internal/types"
)

type errorResponse struct {
	Error string `json:"error"`
}

// isValidID accepts UUIDs and other short slug-style identifiers.
func isValidID(v string) bool {
	if v == "" || len(v) > 64 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' || c == '_' {
			continue
		}
		return false
	}
	return true
}

// pathID reads and validates a path parameter, writing a 400 when it is bad.
func pathID(c *gin.Context, name string) (types.ID, bool) {
	v := c.Param(name)
	if !isValidID(v) {
		writeError(c, http.StatusBadRequest, "invalid "+name)
		return "", false
	}
	return types.ID(v), true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

func writeMatchError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, location.ErrInvalidPosition):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, matching.ErrNotFound),
		errors.Is(err, location.ErrUnknownTechnician):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, matching.ErrUnauthorized):
		writeError(c, http.StatusForbidden, err.Error())
	case errors.Is(err, matching.ErrInvalidState),
		errors.Is(err, matching.ErrConflict),
		errors.Is(err, matching.ErrTechnicianUnavailable),
		errors.Is(err, matching.ErrPendingExists),
		errors.Is(err, location.ErrTechnicianBusy):
		writeError(c, http.StatusConflict, err.Error())
	default:
		_ = c.Error(err)
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

// requireTechnician allows only the technician named by the path to act.
func requireTechnician(c *gin.Context, technicianID types.ID) bool {
	if middleware.CallerRole(c) != middleware.RoleTechnician {
		writeError(c, http.StatusForbidden, "forbidden: technician role required")
		return false
	}
	if middleware.CallerUID(c) != string(technicianID) {
		writeError(c, http.StatusForbidden, "forbidden: id does not match authenticated user")
		return false
	}
	return true
}

// canAccessRequest reports whether the caller is the requester or an admin.
func canAccessRequest(c *gin.Context, req *repair.Request) bool {
	if middleware.CallerRole(c) == middleware.RoleAdmin {
		return true
	}
	if req.TechnicianID != nil && string(*req.TechnicianID) == middleware.CallerUID(c) {
		return true
	}
	return string(req.RequesterID) == middleware.CallerUID(c)
}
