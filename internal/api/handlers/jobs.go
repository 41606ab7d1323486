package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/clipforge/clipforge/internal/core"
	"github.com/clipforge/clipforge/internal/provider"
	"github.com/clipforge/clipforge/internal/store"
)

type SubmitJobRequest struct {
	BatchID     string  `json:"batch_id" binding:"required"`
	Prompt      string  `json:"prompt" binding:"required"`
	Model       string  `json:"model"`
	DurationSec float64 `json:"duration_sec"`
	AspectRatio string  `json:"aspect_ratio"`
	Loop        bool    `json:"loop"`
}

type SubmitBatchRequest struct {
	BatchID string         `json:"batch_id" binding:"required"`
	Jobs    []BatchJobSpec `json:"jobs" binding:"required,min=1,dive"`
}

type BatchJobSpec struct {
	Prompt      string  `json:"prompt" binding:"required"`
	Model       string  `json:"model"`
	DurationSec float64 `json:"duration_sec"`
	AspectRatio string  `json:"aspect_ratio"`
	Loop        bool    `json:"loop"`
}

type SubmitJobResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type JobStatusResponse struct {
	*core.JobView
	Download *core.DownloadJob `json:"download,omitempty"`
}

type ListJobsQuery struct {
	BatchID string `form:"batch_id"`
	Status  string `form:"status"`
	Limit   int    `form:"limit" binding:"max=100"`
	Offset  int    `form:"offset"`
}

type JobHandler struct {
	scheduler *core.Scheduler
	store     *store.Store
}

func NewJobHandler(scheduler *core.Scheduler, st *store.Store) *JobHandler {
	return &JobHandler{
		scheduler: scheduler,
		store:     st,
	}
}

func (h *JobHandler) SubmitJob(c *gin.Context) {
	var req SubmitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job := core.NewQueuedJob(req.BatchID, provider.GenerationParams{
		Prompt:      req.Prompt,
		Model:       req.Model,
		DurationSec: req.DurationSec,
		AspectRatio: req.AspectRatio,
		Loop:        req.Loop,
	})
	h.scheduler.Dispatcher.Submit(job)

	c.JSON(http.StatusAccepted, SubmitJobResponse{
		ID:     job.ID,
		Status: string(core.JobStatusQueued),
	})
}

func (h *JobHandler) SubmitBatch(c *gin.Context) {
	var req SubmitBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	jobs := make([]*core.QueuedJob, 0, len(req.Jobs))
	for _, spec := range req.Jobs {
		jobs = append(jobs, core.NewQueuedJob(req.BatchID, provider.GenerationParams{
			Prompt:      spec.Prompt,
			Model:       spec.Model,
			DurationSec: spec.DurationSec,
			AspectRatio: spec.AspectRatio,
			Loop:        spec.Loop,
		}))
	}
	h.scheduler.Dispatcher.SubmitBatch(jobs)

	responses := make([]SubmitJobResponse, 0, len(jobs))
	for _, job := range jobs {
		responses = append(responses, SubmitJobResponse{
			ID:     job.ID,
			Status: string(core.JobStatusQueued),
		})
	}

	c.JSON(http.StatusAccepted, gin.H{"batch_id": req.BatchID, "jobs": responses})
}

func (h *JobHandler) GetJob(c *gin.Context) {
	id := c.Param("id")

	view, err := h.scheduler.Dispatcher.GetStatus(id)
	if err != nil {
		if errors.Is(err, core.ErrJobNotFound) && h.store != nil {
			// Not in the live scheduler; fall back to the persisted record.
			rec, err := h.store.GetJob(id)
			if err != nil {
				c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
				return
			}
			c.JSON(http.StatusOK, rec)
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}

	resp := JobStatusResponse{JobView: view}
	if dl, err := h.scheduler.Downloads.Get(id); err == nil {
		resp.Download = dl
	}

	c.JSON(http.StatusOK, resp)
}

func (h *JobHandler) ListJobs(c *gin.Context) {
	var query ListJobsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	jobs, err := h.store.ListJobs(store.JobFilter{
		BatchID: query.BatchID,
		Status:  query.Status,
		Limit:   query.Limit,
		Offset:  query.Offset,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list jobs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "count": len(jobs)})
}

func (h *JobHandler) QueueSummary(c *gin.Context) {
	c.JSON(http.StatusOK, h.scheduler.Dispatcher.Summary())
}

func (h *JobHandler) ListAssets(c *gin.Context) {
	id := c.Param("id")

	assets, err := h.store.ListAssets(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list assets"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"assets": assets, "count": len(assets)})
}

// NudgeRequest is posted by the provider's completion webhook. Delivery is
// not guaranteed, so it only short-circuits the next poll.
type NudgeRequest struct {
	ProviderJobID string `json:"provider_job_id" binding:"required"`
}

func (h *JobHandler) ProviderWebhook(c *gin.Context) {
	var req NudgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	known := h.scheduler.Poller.Nudge(req.ProviderJobID)
	c.JSON(http.StatusOK, gin.H{"accepted": known})
}
