// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"fixit/internal/http/handlers"
	"fixit/internal/http/middleware"
	"fixit/internal/infra"
	"fixit/internal/modules/location"
	"fixit/internal/modules/matching"
)

type RouterDeps struct {
	Matching *matching.Service
	Location *location.Service
	Verifier infra.TokenVerifier
	Logger   *zap.Logger
}

func NewRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Logging(deps.Logger), middleware.Recovery(deps.Logger))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	api := r.Group("/api", middleware.Auth(deps.Verifier))

	requestHandler := handlers.NewRequestHandler(deps.Matching)
	api.POST("/requests/:id/dispatch", requestHandler.Dispatch)
	api.POST("/requests/:id/match", requestHandler.StartMatch)
	api.GET("/requests/:id/match", requestHandler.MatchStatus)
	api.POST("/requests/:id/assign", requestHandler.AutoAssign)
	api.POST("/requests/:id/cancel", requestHandler.Cancel)

	technicianHandler := handlers.NewTechnicianHandler(deps.Matching)
	api.GET("/technicians/:id/matches", technicianHandler.PendingMatches)
	api.POST("/technicians/:id/matches/:match_id/accept", technicianHandler.Accept)
	api.POST("/technicians/:id/matches/:match_id/reject", technicianHandler.Reject)
	api.POST("/technicians/:id/requests/:request_id/start", technicianHandler.Start)
	api.POST("/technicians/:id/requests/:request_id/complete", technicianHandler.Complete)

	locationHandler := handlers.NewLocationHandler(deps.Location)
	api.PUT("/technicians/:id/location", locationHandler.Update)
	api.DELETE("/technicians/:id/location", locationHandler.Offline)

	return r
}
