package handlers

import (
	"bytes"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nebari-dev/labgate/internal/calendar"
	"github.com/nebari-dev/labgate/internal/compliance"
	"github.com/nebari-dev/labgate/internal/report"
)

// ComplianceHandler serves verdicts, the dashboard and CSV reports.
type ComplianceHandler struct {
	engine  *compliance.Engine
	reports *report.Builder
}

// NewComplianceHandler creates a ComplianceHandler.
func NewComplianceHandler(engine *compliance.Engine, reports *report.Builder) *ComplianceHandler {
	return &ComplianceHandler{engine: engine, reports: reports}
}

// Check godoc
// @Summary Evaluate compliance of an engineer for a lab
// @Description Evaluates one pair. The optional asof query parameter is YYYY-MM-DD.
// @Tags compliance
// @Security BearerAuth
// @Produce json
// @Param engineer_id path int true "Engineer ID"
// @Param lab_id path int true "Lab ID"
// @Param asof query string false "Evaluation date (YYYY-MM-DD), defaults to today"
// @Success 200 {object} compliance.Verdict
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /compliance/{engineer_id}/{lab_id} [get]
func (h *ComplianceHandler) Check(c *gin.Context) {
	engineerID, ok := paramID(c, "engineer_id")
	if !ok {
		return
	}
	labID, ok := paramID(c, "lab_id")
	if !ok {
		return
	}

	var asOf time.Time
	if s := c.Query("asof"); s != "" {
		d, err := calendar.Parse(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "asof must be YYYY-MM-DD"})
			return
		}
		asOf = d
	}

	v, err := h.engine.Evaluate(c.Request.Context(), engineerID, labID, asOf)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	if !v.LabFound {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Lab not found"})
		return
	}
	c.JSON(http.StatusOK, v)
}

// Status godoc
// @Summary List the compliance status of all access rows
// @Description Lists the verdict of every pending or active pair.
// @Tags compliance
// @Security BearerAuth
// @Produce json
// @Success 200 {array} report.StatusRow
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /compliance/status [get]
func (h *ComplianceHandler) Status(c *gin.Context) {
	rows, err := h.reports.ComplianceStatus(c.Request.Context())
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

// Dashboard godoc
// @Summary Get the manager dashboard
// @Description Returns the manager overview.
// @Tags compliance
// @Security BearerAuth
// @Produce json
// @Success 200 {object} report.Dashboard
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /dashboard [get]
func (h *ComplianceHandler) Dashboard(c *gin.Context) {
	d, err := h.reports.Dashboard(c.Request.Context())
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// ListReports godoc
// @Summary List available CSV reports
// @Description Names the available CSV reports.
// @Tags reports
// @Security BearerAuth
// @Produce json
// @Success 200 {object} map[string][]string
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /reports [get]
func (h *ComplianceHandler) ListReports(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"reports": report.Names()})
}

// Report godoc
// @Summary Download a CSV report
// @Description Streams a CSV report. The path parameter may carry a .csv suffix.
// @Tags reports
// @Security BearerAuth
// @Produce text/csv
// @Param name path string true "Report name, e.g. active or active.csv"
// @Success 200 {file} file
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /reports/{name} [get]
func (h *ComplianceHandler) Report(c *gin.Context) {
	name := strings.TrimSuffix(c.Param("name"), ".csv")
	filename, ok := report.Filename(name)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Unknown report"})
		return
	}

	var buf bytes.Buffer
	if err := h.reports.Write(c.Request.Context(), name, &buf); err != nil {
		if errors.Is(err, report.ErrUnknownReport) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "Unknown report"})
			return
		}
		handleServiceError(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}
