package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nebari-dev/labgate/internal/calendar"
	"github.com/nebari-dev/labgate/internal/service"
)

// MetricsHandler serves lab metric snapshots.
type MetricsHandler struct {
	metrics *service.MetricsService
}

// NewMetricsHandler creates a MetricsHandler.
func NewMetricsHandler(metrics *service.MetricsService) *MetricsHandler {
	return &MetricsHandler{metrics: metrics}
}

// MetricsRequest is a snapshot submission. Values outside 0..100 are clamped.
type MetricsRequest struct {
	LabID       uint   `json:"lab_id" binding:"required"`
	AsOf        string `json:"asof"`
	Utilization int    `json:"utilization"`
	Condition   int    `json:"condition"`
	Activity    int    `json:"activity"`
}

// Save godoc
// @Summary Save a lab metrics snapshot
// @Description Upserts the snapshot of a lab for a day.
// @Tags metrics
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body MetricsRequest true "Snapshot"
// @Success 200 {object} models.LabMetrics
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /metrics [post]
func (h *MetricsHandler) Save(c *gin.Context) {
	var req MetricsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	var asOf time.Time
	if req.AsOf != "" {
		d, err := calendar.Parse(req.AsOf)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "asof must be YYYY-MM-DD"})
			return
		}
		asOf = d
	}

	m, err := h.metrics.SaveMetrics(c.Request.Context(), actor(c), service.MetricsInput{
		LabID:       req.LabID,
		AsOf:        asOf,
		Utilization: req.Utilization,
		Condition:   req.Condition,
		Activity:    req.Activity,
	})
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// Latest godoc
// @Summary Get the newest metrics snapshot of every lab
// @Description Returns the newest snapshot of every lab.
// @Tags metrics
// @Security BearerAuth
// @Produce json
// @Success 200 {array} models.LabMetrics
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /metrics/latest [get]
func (h *MetricsHandler) Latest(c *gin.Context) {
	rows, err := h.metrics.LatestByLab(c.Request.Context())
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}
