// README: Requester-side handlers: dispatch, match start/status, direct assignment and cancel.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fixit/internal/http/middleware"
	"fixit/internal/modules/matching"
	"fixit/internal/modules/repair"
	"fixit/internal/types"
)

type RequestHandler struct {
	matching *matching.Service
}

func NewRequestHandler(svc *matching.Service) *RequestHandler {
	return &RequestHandler{matching: svc}
}

// load resolves the path request and enforces ownership.
func (h *RequestHandler) load(c *gin.Context) (*repair.Request, bool) {
	id, ok := pathID(c, "id")
	if !ok {
		return nil, false
	}
	req, err := h.matching.Request(c.Request.Context(), id)
	if err != nil {
		writeMatchError(c, err)
		return nil, false
	}
	if !canAccessRequest(c, req) {
		writeError(c, http.StatusForbidden, "forbidden: not your service request")
		return nil, false
	}
	return req, true
}

func (h *RequestHandler) Dispatch(c *gin.Context) {
	req, ok := h.load(c)
	if !ok {
		return
	}
	res, err := h.matching.Dispatch(c.Request.Context(), req.ID)
	if err != nil {
		writeMatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (h *RequestHandler) StartMatch(c *gin.Context) {
	req, ok := h.load(c)
	if !ok {
		return
	}
	res, err := h.matching.StartAutoMatch(c.Request.Context(), req.ID)
	if err != nil {
		writeMatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (h *RequestHandler) MatchStatus(c *gin.Context) {
	req, ok := h.load(c)
	if !ok {
		return
	}
	view, err := h.matching.GetMatchStatus(c.Request.Context(), req.ID)
	if err != nil {
		writeMatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, view)
}

// AutoAssign is restricted to admins; it books a technician without an offer.
func (h *RequestHandler) AutoAssign(c *gin.Context) {
	if middleware.CallerRole(c) != middleware.RoleAdmin {
		writeError(c, http.StatusForbidden, "forbidden: admin role required")
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	res, err := h.matching.AutoAssignTechnician(c.Request.Context(), id)
	if err != nil {
		writeMatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

type cancelReq struct {
	Reason string `json:"reason"`
}

func (h *RequestHandler) Cancel(c *gin.Context) {
	req, ok := h.load(c)
	if !ok {
		return
	}
	var body cancelReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			writeError(c, http.StatusBadRequest, "invalid json")
			return
		}
	}
	if body.Reason == "" {
		body.Reason = "user_cancel"
	}

	actorType := "customer"
	switch {
	case middleware.CallerRole(c) == middleware.RoleAdmin:
		actorType = "admin"
	case req.TechnicianID != nil && string(*req.TechnicianID) == middleware.CallerUID(c):
		actorType = "technician"
	}
	actorID := types.ID(middleware.CallerUID(c))

	out, err := h.matching.Assigner().Cancel(c.Request.Context(), matching.CancelCommand{
		RequestID: req.ID,
		ActorType: actorType,
		ActorID:   &actorID,
		Reason:    body.Reason,
	})
	if err != nil {
		writeMatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"service_request_id": out.ID, "status": out.Status})
}
