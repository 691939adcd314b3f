package handlers

import (
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/intelliavatar/internal/common"
	"github.com/suPer8Hu/intelliavatar/internal/gateway"
	"github.com/suPer8Hu/intelliavatar/internal/httpapi/middleware"
	"github.com/suPer8Hu/intelliavatar/internal/job"
)

type Handler struct {
	Gateway *gateway.Gateway
	Logger  *slog.Logger
}

func NewHandler(gw *gateway.Gateway, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Gateway: gw, Logger: logger}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

func callerFromContext(c *gin.Context) (gateway.Caller, bool) {
	v, ok := c.Get(middleware.UserIDKey)
	if !ok {
		return gateway.Caller{}, false
	}
	id, ok := v.(uint64)
	return gateway.Caller{OwnerID: id}, ok
}

// formArtifacts opens the named upload parts in order. A missing part
// yields an empty Artifact so the gateway reports it as a validation error.
func formArtifacts(c *gin.Context, fields ...string) ([]gateway.Artifact, func(), error) {
	out := make([]gateway.Artifact, 0, len(fields))
	var files []multipart.File
	closeAll := func() {
		for _, f := range files {
			_ = f.Close()
		}
	}
	for _, field := range fields {
		fh, err := c.FormFile(field)
		if errors.Is(err, http.ErrMissingFile) {
			out = append(out, gateway.Artifact{})
			continue
		}
		if err == nil {
			var f multipart.File
			if f, err = fh.Open(); err == nil {
				files = append(files, f)
				out = append(out, gateway.Artifact{Name: fh.Filename, Body: f})
				continue
			}
		}
		closeAll()
		return nil, func() {}, err
	}
	return out, closeAll, nil
}

// fail maps gateway errors onto the response envelope.
func (h *Handler) fail(c *gin.Context, err error) {
	var quotaErr *common.QuotaExceededError
	var validationErr *common.ValidationError
	switch {
	case errors.As(err, &validationErr):
		common.Fail(c, http.StatusBadRequest, 40000, validationErr.Error())
	case errors.As(err, &quotaErr):
		common.Fail(c, http.StatusForbidden, 40300, quotaErr.Error())
	case errors.Is(err, job.ErrNotFound):
		common.Fail(c, http.StatusNotFound, 40400, "job not found")
	default:
		h.Logger.Error("request failed",
			"path", c.FullPath(),
			"request_id", c.GetString(middleware.RequestIDKey),
			"err", err,
		)
		common.Fail(c, http.StatusInternalServerError, 50000, "internal server error")
	}
}
