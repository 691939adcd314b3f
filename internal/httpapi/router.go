package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/intelliavatar/internal/common"
	"github.com/suPer8Hu/intelliavatar/internal/config"
	"github.com/suPer8Hu/intelliavatar/internal/gateway"
	"github.com/suPer8Hu/intelliavatar/internal/httpapi/handlers"
	"github.com/suPer8Hu/intelliavatar/internal/httpapi/middleware"
)

// maxUploadMemory is the multipart size kept in memory before spilling to disk.
const maxUploadMemory = 32 << 20

func NewRouter(gw *gateway.Gateway, cfg config.Config, logger *slog.Logger) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.MaxMultipartMemory = maxUploadMemory
	r.Use(gin.Logger())
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(logger))

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	h := handlers.NewHandler(gw, logger)

	r.GET("/ping", h.Ping)

	// Jobs (JWT required)
	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(cfg.JWTSecret))
	authGroup.POST("/jobs/lip-sync", h.SubmitLipSync)
	authGroup.POST("/jobs/text-to-avatar", h.SubmitTextToAvatar)
	authGroup.POST("/jobs/personalized-wishes", h.SubmitWishes)
	authGroup.POST("/jobs/slide-narration", h.SubmitSlideNarration)
	authGroup.GET("/jobs", h.ListJobs)
	authGroup.GET("/jobs/:job_id", h.GetJob)
	authGroup.GET("/jobs/:job_id/output", h.DownloadOutput)
	return r
}
