// README: Technician handlers: pending offers, accept/reject, start and complete.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fixit/internal/modules/matching"
	"fixit/internal/types"
)

type TechnicianHandler struct {
	matching *matching.Service
}

func NewTechnicianHandler(svc *matching.Service) *TechnicianHandler {
	return &TechnicianHandler{matching: svc}
}

func (h *TechnicianHandler) PendingMatches(c *gin.Context) {
	techID, ok := pathID(c, "id")
	if !ok || !requireTechnician(c, techID) {
		return
	}
	matches, err := h.matching.PendingMatchesForTechnician(c.Request.Context(), techID)
	if err != nil {
		writeMatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"matches": matches})
}

func (h *TechnicianHandler) Accept(c *gin.Context) {
	techID, ok := pathID(c, "id")
	if !ok || !requireTechnician(c, techID) {
		return
	}
	matchID, ok := pathID(c, "match_id")
	if !ok {
		return
	}
	m, err := h.matching.AcceptMatch(c.Request.Context(), matchID, techID)
	if err != nil {
		writeMatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, m)
}

type rejectReq struct {
	Reason string `json:"reason"`
}

func (h *TechnicianHandler) Reject(c *gin.Context) {
	techID, ok := pathID(c, "id")
	if !ok || !requireTechnician(c, techID) {
		return
	}
	matchID, ok := pathID(c, "match_id")
	if !ok {
		return
	}
	var body rejectReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			writeError(c, http.StatusBadRequest, "invalid json")
			return
		}
	}
	res, err := h.matching.RejectMatch(c.Request.Context(), matchID, techID, body.Reason)
	if err != nil {
		writeMatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (h *TechnicianHandler) Start(c *gin.Context) {
	techID, ok := pathID(c, "id")
	if !ok || !requireTechnician(c, techID) {
		return
	}
	reqID, ok := pathID(c, "request_id")
	if !ok {
		return
	}
	req, err := h.matching.Assigner().Start(c.Request.Context(), reqID, techID)
	if err != nil {
		writeMatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"service_request_id": req.ID, "status": req.Status})
}

type completeReq struct {
	FinalCost int64  `json:"final_cost"`
	Currency  string `json:"currency"`
}

func (h *TechnicianHandler) Complete(c *gin.Context) {
	techID, ok := pathID(c, "id")
	if !ok || !requireTechnician(c, techID) {
		return
	}
	reqID, ok := pathID(c, "request_id")
	if !ok {
		return
	}
	var body completeReq
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if body.FinalCost < 0 {
		writeError(c, http.StatusBadRequest, "final_cost must not be negative")
		return
	}
	if body.Currency == "" {
		body.Currency = "KRW"
	}
	req, warranty, err := h.matching.Assigner().Complete(c.Request.Context(), matching.CompleteCommand{
		RequestID:    reqID,
		TechnicianID: techID,
		FinalCost:    types.Money{Amount: body.FinalCost, Currency: body.Currency},
	})
	if err != nil {
		writeMatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{
		"service_request_id": req.ID,
		"status":             req.Status,
		"warranty":           warranty,
	})
}
