package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/eleflea/sense-voice-recognizer/model"
	"github.com/eleflea/sense-voice-recognizer/store"
)

// JobHandler exposes job lifecycle records. Recognition output is not
// stored, so these endpoints report status only.
type JobHandler struct {
	store store.JobStore
}

func NewJobHandler(store store.JobStore) *JobHandler {
	return &JobHandler{store: store}
}

func (h *JobHandler) GetJob(c *gin.Context) {
	id := c.Param("id")

	rec, err := h.store.Get(c.Request.Context(), id)
	if errors.Is(err, model.ErrJobNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, rec)
}

type listQuery struct {
	Limit int `form:"limit,default=50" binding:"min=1"`
}

// ListJobs returns the newest records first, at most ?limit= of them.
func (h *JobHandler) ListJobs(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return
	}

	recs, err := h.store.List(c.Request.Context(), q.Limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count": len(recs),
		"jobs":  recs,
	})
}
