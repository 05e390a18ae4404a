// README: Technician location handlers.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"fixit/internal/modules/location"
	"fixit/internal/types"
)

type LocationHandler struct {
	location *location.Service
}

func NewLocationHandler(svc *location.Service) *LocationHandler {
	return &LocationHandler{location: svc}
}

type locationReq struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
	// RecordedAt is unix millis from the device clock; zero means now.
	RecordedAt int64 `json:"recorded_at"`
}

func (h *LocationHandler) Update(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok || !requireTechnician(c, id) {
		return
	}
	var body locationReq
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	u := location.Update{TechnicianID: id, Position: types.Point{Lat: body.Lat, Lng: body.Lng}}
	if body.RecordedAt > 0 {
		u.RecordedAt = time.UnixMilli(body.RecordedAt)
	}
	res, err := h.location.UpdateTechnician(c.Request.Context(), u)
	if err != nil {
		writeMatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"accepted": res.Accepted, "reason": res.Reason})
}

// Offline stops new offers for an idle technician. A busy technician gets 409.
func (h *LocationHandler) Offline(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok || !requireTechnician(c, id) {
		return
	}
	if err := h.location.GoOffline(c.Request.Context(), id); err != nil {
		writeMatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"status": "offline"})
}
