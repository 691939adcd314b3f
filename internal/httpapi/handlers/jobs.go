package handlers

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/intelliavatar/internal/common"
	"github.com/suPer8Hu/intelliavatar/internal/gateway"
	"github.com/suPer8Hu/intelliavatar/internal/job"
)

func (h *Handler) SubmitLipSync(c *gin.Context) {
	caller, ok := callerFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	parts, closeAll, err := formArtifacts(c, "video", "audio")
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid multipart form")
		return
	}
	defer closeAll()

	receipt, err := h.Gateway.SubmitLipSync(c.Request.Context(), caller, gateway.LipSyncRequest{
		Video: parts[0],
		Audio: parts[1],
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	common.OK(c, receipt)
}

func (h *Handler) SubmitTextToAvatar(c *gin.Context) {
	caller, ok := callerFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	parts, closeAll, err := formArtifacts(c, "video")
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid multipart form")
		return
	}
	defer closeAll()

	receipt, err := h.Gateway.SubmitTextToAvatar(c.Request.Context(), caller, gateway.TextToAvatarRequest{
		Text:     c.PostForm("text"),
		Gender:   c.PostForm("gender"),
		Language: c.PostForm("language"),
		Video:    parts[0],
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	common.OK(c, receipt)
}

func (h *Handler) SubmitWishes(c *gin.Context) {
	caller, ok := callerFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	parts, closeAll, err := formArtifacts(c, "video")
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid multipart form")
		return
	}
	defer closeAll()

	// names may repeat as a field or come comma separated
	names := c.PostFormArray("names")
	if len(names) == 0 {
		names = c.PostFormArray("names[]")
	}
	receipt, err := h.Gateway.SubmitWishes(c.Request.Context(), caller, gateway.WishesRequest{
		Script:   c.PostForm("script"),
		Names:    names,
		Language: c.PostForm("language"),
		Video:    parts[0],
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	common.OK(c, receipt)
}

func (h *Handler) SubmitSlideNarration(c *gin.Context) {
	caller, ok := callerFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	parts, closeAll, err := formArtifacts(c, "ppt", "face_video")
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid multipart form")
		return
	}
	defer closeAll()

	receipt, err := h.Gateway.SubmitSlideNarration(c.Request.Context(), caller, gateway.SlideNarrationRequest{
		Deck:      parts[0],
		FaceVideo: parts[1],
		Language:  c.DefaultPostForm("language", "en"),
		Gender:    c.DefaultPostForm("gender", "male"),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	common.OK(c, receipt)
}

func (h *Handler) GetJob(c *gin.Context) {
	caller, ok := callerFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	id := strings.TrimSpace(c.Param("job_id"))
	if id == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "job_id required")
		return
	}
	j, err := h.Gateway.Get(c.Request.Context(), caller, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	common.OK(c, j)
}

// DownloadOutput sends the rendered video of the caller's COMPLETED job as
// an attachment named after the job.
func (h *Handler) DownloadOutput(c *gin.Context) {
	caller, ok := callerFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	id := strings.TrimSpace(c.Param("job_id"))
	if id == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "job_id required")
		return
	}
	j, err := h.Gateway.Get(c.Request.Context(), caller, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	if j.Status != job.StatusCompleted || j.OutputRef == nil || *j.OutputRef == "" {
		common.Fail(c, http.StatusConflict, 40900, "job not completed: "+string(j.Status))
		return
	}
	out := *j.OutputRef
	if _, err := os.Stat(out); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			common.Fail(c, http.StatusNotFound, 40401, "output file missing")
			return
		}
		h.fail(c, err)
		return
	}
	c.FileAttachment(out, j.ID+filepath.Ext(out))
}

func (h *Handler) ListJobs(c *gin.Context) {
	caller, ok := callerFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	jobs, err := h.Gateway.List(c.Request.Context(), caller)
	if err != nil {
		h.fail(c, err)
		return
	}
	common.OK(c, gin.H{"jobs": jobs})
}
