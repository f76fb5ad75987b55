package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nebari-dev/labgate/internal/service"
)

// AdminHandler serves catalog administration.
type AdminHandler struct {
	catalog *service.CatalogService
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(catalog *service.CatalogService) *AdminHandler {
	return &AdminHandler{catalog: catalog}
}

// formFile returns the named multipart file, or nil when the request has none.
// The returned closer must be called once the upload is consumed.
func formFile(c *gin.Context, field string) (*service.Upload, io.Closer, error) {
	if c.ContentType() != "multipart/form-data" {
		return nil, nil, nil
	}
	fh, err := c.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	f, err := fh.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("open upload: %w", err)
	}
	return &service.Upload{Filename: fh.Filename, Body: f}, f, nil
}

// CreateEngineer godoc
// @Summary Create an engineer
// @Description Adds an engineer.
// @Tags admin
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body service.EngineerInput true "Engineer"
// @Success 201 {object} models.Engineer
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /admin/engineers [post]
func (h *AdminHandler) CreateEngineer(c *gin.Context) {
	var in service.EngineerInput
	if err := c.ShouldBindJSON(&in); err != nil {
		bindError(c, err)
		return
	}
	e, err := h.catalog.CreateEngineer(c.Request.Context(), actor(c), in)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, e)
}

// CreateLab godoc
// @Summary Create a lab
// @Description Adds a lab.
// @Tags admin
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body service.LabInput true "Lab"
// @Success 201 {object} models.Lab
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /admin/labs [post]
func (h *AdminHandler) CreateLab(c *gin.Context) {
	var in service.LabInput
	if err := c.ShouldBindJSON(&in); err != nil {
		bindError(c, err)
		return
	}
	l, err := h.catalog.CreateLab(c.Request.Context(), actor(c), in)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, l)
}

// CreateCourse godoc
// @Summary Create a course
// @Description Adds a course. valid_months defaults to 12.
// @Tags admin
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body service.CourseInput true "Course"
// @Success 201 {object} models.Course
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /admin/courses [post]
func (h *AdminHandler) CreateCourse(c *gin.Context) {
	var in service.CourseInput
	if err := c.ShouldBindJSON(&in); err != nil {
		bindError(c, err)
		return
	}
	course, err := h.catalog.CreateCourse(c.Request.Context(), actor(c), in)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, course)
}

// UpsertRequirement godoc
// @Summary Set a lab training requirement
// @Description Sets a lab requirement, replacing its override.
// @Tags admin
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body service.RequirementInput true "Requirement"
// @Success 200 {object} models.LabRequirement
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /admin/requirements [post]
func (h *AdminHandler) UpsertRequirement(c *gin.Context) {
	var in service.RequirementInput
	if err := c.ShouldBindJSON(&in); err != nil {
		bindError(c, err)
		return
	}
	r, err := h.catalog.UpsertRequirement(c.Request.Context(), actor(c), in)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// CompletionRequest is accepted as JSON or as a multipart form with a
// "certificate" file.
type CompletionRequest struct {
	EngineerID     uint   `json:"engineer_id" form:"engineer_id"`
	CourseID       uint   `json:"course_id" form:"course_id"`
	DateTaken      string `json:"date_taken" form:"date_taken"`
	CertificateURL string `json:"certificate_url" form:"certificate_url"`
}

// RecordCompletion godoc
// @Summary Record a course completion
// @Description Records a course completion. Accepts JSON or a multipart form with an optional certificate file.
// @Tags admin
// @Security BearerAuth
// @Accept json,mpfd
// @Produce json
// @Param request body CompletionRequest true "Completion"
// @Param certificate formData file false "Certificate file"
// @Success 201 {object} models.Completion
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /admin/completions [post]
func (h *AdminHandler) RecordCompletion(c *gin.Context) {
	var req CompletionRequest
	if err := c.ShouldBind(&req); err != nil {
		bindError(c, err)
		return
	}
	upload, closer, err := formFile(c, "certificate")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if closer != nil {
		defer closer.Close()
	}

	row, err := h.catalog.RecordCompletion(c.Request.Context(), actor(c), service.CompletionInput{
		EngineerID:     req.EngineerID,
		CourseID:       req.CourseID,
		DateTaken:      req.DateTaken,
		CertificateURL: req.CertificateURL,
		Certificate:    upload,
	})
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, row)
}

// DocumentRequest is accepted as JSON or as a multipart form with a "file".
type DocumentRequest struct {
	LabID     uint   `json:"lab_id" form:"lab_id"`
	Title     string `json:"title" form:"title"`
	Version   int    `json:"version" form:"version"`
	Mandatory *bool  `json:"mandatory" form:"mandatory"`
}

// AddDocument godoc
// @Summary Add a lab document
// @Description Adds a lab document. Accepts JSON or a multipart form with an optional file; mandatory defaults to true.
// @Tags admin
// @Security BearerAuth
// @Accept json,mpfd
// @Produce json
// @Param request body DocumentRequest true "Document"
// @Param file formData file false "Document file"
// @Success 201 {object} models.Document
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /admin/documents [post]
func (h *AdminHandler) AddDocument(c *gin.Context) {
	var req DocumentRequest
	if err := c.ShouldBind(&req); err != nil {
		bindError(c, err)
		return
	}
	upload, closer, err := formFile(c, "file")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if closer != nil {
		defer closer.Close()
	}

	doc, err := h.catalog.AddDocument(c.Request.Context(), actor(c), service.DocumentInput{
		LabID:     req.LabID,
		Title:     req.Title,
		Version:   req.Version,
		Mandatory: req.Mandatory,
		File:      upload,
	})
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, doc)
}

// PublishVersion godoc
// @Summary Publish a new document version
// @Description Bumps a document to its next version. Earlier acknowledgments stop counting.
// @Tags admin
// @Security BearerAuth
// @Accept mpfd
// @Produce json
// @Param id path int true "Document ID"
// @Param file formData file false "New document file"
// @Success 200 {object} models.Document
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /admin/documents/{id}/versions [post]
func (h *AdminHandler) PublishVersion(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	upload, closer, err := formFile(c, "file")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if closer != nil {
		defer closer.Close()
	}

	doc, err := h.catalog.PublishVersion(c.Request.Context(), actor(c), id, upload)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

// Acknowledge godoc
// @Summary Acknowledge a document for an engineer
// @Description Records an acknowledgment on behalf of an engineer.
// @Tags admin
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body service.AckInput true "Acknowledgment"
// @Success 201 {object} models.DocumentAck
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /admin/acks [post]
func (h *AdminHandler) Acknowledge(c *gin.Context) {
	var in service.AckInput
	if err := c.ShouldBindJSON(&in); err != nil {
		bindError(c, err)
		return
	}
	ack, err := h.catalog.Acknowledge(c.Request.Context(), actor(c), in)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ack)
}

// ListEngineers godoc
// @Summary List engineers
// @Description Returns every engineer.
// @Tags catalog
// @Security BearerAuth
// @Produce json
// @Success 200 {array} models.Engineer
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /engineers [get]
func (h *AdminHandler) ListEngineers(c *gin.Context) {
	rows, err := h.catalog.ListEngineers(c.Request.Context())
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

// ListLabs godoc
// @Summary List labs
// @Description Returns every lab.
// @Tags catalog
// @Security BearerAuth
// @Produce json
// @Success 200 {array} models.Lab
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /labs [get]
func (h *AdminHandler) ListLabs(c *gin.Context) {
	rows, err := h.catalog.ListLabs(c.Request.Context())
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

// ListCourses godoc
// @Summary List courses
// @Description Returns every course.
// @Tags catalog
// @Security BearerAuth
// @Produce json
// @Success 200 {array} models.Course
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /courses [get]
func (h *AdminHandler) ListCourses(c *gin.Context) {
	rows, err := h.catalog.ListCourses(c.Request.Context())
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

// ListDocuments godoc
// @Summary List documents
// @Description Returns every document.
// @Tags catalog
// @Security BearerAuth
// @Produce json
// @Success 200 {array} models.Document
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /documents [get]
func (h *AdminHandler) ListDocuments(c *gin.Context) {
	rows, err := h.catalog.ListDocuments(c.Request.Context())
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}
