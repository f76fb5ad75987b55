package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/nebari-dev/labgate/internal/models"
	"github.com/nebari-dev/labgate/internal/queue"
	"github.com/nebari-dev/labgate/internal/service"
	"github.com/nebari-dev/labgate/internal/worker"
)

// JobSubmitter enqueues background autocheck runs.
type JobSubmitter interface {
	Submit(ctx context.Context, actor service.Actor, trigger string) (*models.Job, error)
}

// JobReader looks up job state.
type JobReader interface {
	GetStatus(ctx context.Context, jobID uuid.UUID) (*models.Job, error)
}

// AccessHandler serves lab access requests and decisions.
type AccessHandler struct {
	access *service.AccessService
	jobs   JobSubmitter
	status JobReader
}

// NewAccessHandler creates an AccessHandler.
func NewAccessHandler(access *service.AccessService, jobs JobSubmitter, status JobReader) *AccessHandler {
	return &AccessHandler{access: access, jobs: jobs, status: status}
}

// PairRequest names an (engineer, lab) pair.
type PairRequest struct {
	EngineerID uint `json:"engineer_id"`
	LabID      uint `json:"lab_id" binding:"required"`
}

// bindPair reads a PairRequest. Engineers act for their linked engineer only;
// an omitted engineer_id defaults to it.
func bindPair(c *gin.Context) (PairRequest, bool) {
	var req PairRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return req, false
	}
	user := currentUser(c)
	if user != nil && user.Role == models.RoleEngineer {
		if user.EngineerID == nil {
			c.JSON(http.StatusForbidden, ErrorResponse{Error: "Your account is not linked to an engineer"})
			return req, false
		}
		if req.EngineerID != 0 && req.EngineerID != *user.EngineerID {
			c.JSON(http.StatusForbidden, ErrorResponse{Error: "Engineers can only act for themselves"})
			return req, false
		}
		req.EngineerID = *user.EngineerID
	}
	if req.EngineerID == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "engineer_id is required"})
		return req, false
	}
	return req, true
}

// RequestAccess godoc
// @Summary Request access to a lab
// @Description Creates a pending request.
// @Tags access
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body PairRequest true "Engineer and lab; engineers may omit engineer_id"
// @Success 201 {object} models.LabAccess
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /access/requests [post]
func (h *AccessHandler) RequestAccess(c *gin.Context) {
	req, ok := bindPair(c)
	if !ok {
		return
	}
	row, err := h.access.RequestAccess(c.Request.Context(), actor(c), req.EngineerID, req.LabID)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, row)
}

// CancelRequest godoc
// @Summary Cancel a pending access request
// @Description Withdraws a pending request.
// @Tags access
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body PairRequest true "Engineer and lab"
// @Success 200 {object} models.LabAccess
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /access/requests/cancel [post]
func (h *AccessHandler) CancelRequest(c *gin.Context) {
	req, ok := bindPair(c)
	if !ok {
		return
	}
	row, err := h.access.CancelRequest(c.Request.Context(), actor(c), req.EngineerID, req.LabID)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, row)
}

// Approve godoc
// @Summary Approve access when the engineer is compliant
// @Description Activates the pair when compliant, otherwise leaves it pending.
// @Tags access
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body PairRequest true "Engineer and lab"
// @Success 200 {object} service.AccessDecision
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /access/approve [post]
func (h *AccessHandler) Approve(c *gin.Context) {
	var req PairRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	d, err := h.access.Approve(c.Request.Context(), actor(c), req.EngineerID, req.LabID)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// Revoke godoc
// @Summary Revoke lab access
// @Description Moves the pair to revoked.
// @Tags access
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body PairRequest true "Engineer and lab"
// @Success 200 {object} service.AccessDecision
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /access/revoke [post]
func (h *AccessHandler) Revoke(c *gin.Context) {
	var req PairRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	d, err := h.access.Revoke(c.Request.Context(), actor(c), req.EngineerID, req.LabID)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// Autocheck godoc
// @Summary Enqueue an autocheck sweep
// @Description Enqueues a sweep and returns the job for polling.
// @Tags access
// @Security BearerAuth
// @Produce json
// @Success 202 {object} models.Job
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /access/autocheck [post]
func (h *AccessHandler) Autocheck(c *gin.Context) {
	job, err := h.jobs.Submit(c.Request.Context(), actor(c), worker.TriggerManual)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.Header("Location", "/api/v1/jobs/"+job.ID.String())
	c.JSON(http.StatusAccepted, job)
}

// GetJob godoc
// @Summary Get a background job
// @Description Returns a background job.
// @Tags jobs
// @Security BearerAuth
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} models.Job
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /jobs/{id} [get]
func (h *AccessHandler) GetJob(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid job ID"})
		return
	}
	job, err := h.status.GetStatus(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, queue.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "Job not found"})
			return
		}
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}
