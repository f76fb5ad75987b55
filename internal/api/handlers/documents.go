package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/nebari-dev/labgate/internal/blob"
	"github.com/nebari-dev/labgate/internal/service"
)

// BlobOpener reads stored attachments.
type BlobOpener interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// DocumentHandler serves engineer self-service and attachment downloads.
type DocumentHandler struct {
	catalog *service.CatalogService
	blobs   BlobOpener
}

// NewDocumentHandler creates a DocumentHandler.
func NewDocumentHandler(catalog *service.CatalogService, blobs BlobOpener) *DocumentHandler {
	return &DocumentHandler{catalog: catalog, blobs: blobs}
}

// Acknowledge godoc
// @Summary Acknowledge the current version of a document
// @Description Records the caller's acknowledgment of a document's current version.
// @Tags documents
// @Security BearerAuth
// @Produce json
// @Param id path int true "Document ID"
// @Success 201 {object} models.DocumentAck
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /documents/{id}/ack [post]
func (h *DocumentHandler) Acknowledge(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "Unauthorized"})
		return
	}
	ack, err := h.catalog.SelfAcknowledge(c.Request.Context(), actor(c), user.EngineerID, id)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ack)
}

// MyDocuments godoc
// @Summary List documents of my labs
// @Description Lists mandatory documents of the labs the caller holds or requested access to.
// @Tags documents
// @Security BearerAuth
// @Produce json
// @Success 200 {array} service.MyDocument
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /me/documents [get]
func (h *DocumentHandler) MyDocuments(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "Unauthorized"})
		return
	}
	docs, err := h.catalog.MyDocuments(c.Request.Context(), user.EngineerID)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, docs)
}

// Certificate godoc
// @Summary Download a completion certificate
// @Description Downloads the certificate of a completion.
// @Tags documents
// @Security BearerAuth
// @Produce octet-stream
// @Param id path int true "Completion ID"
// @Success 200 {file} file
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /completions/{id}/certificate [get]
func (h *DocumentHandler) Certificate(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	key, err := h.catalog.CertificateKey(c.Request.Context(), id)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	h.serve(c, key)
}

// File godoc
// @Summary Download a document file
// @Description Downloads the file of a document.
// @Tags documents
// @Security BearerAuth
// @Produce octet-stream
// @Param id path int true "Document ID"
// @Success 200 {file} file
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /documents/{id}/file [get]
func (h *DocumentHandler) File(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	key, err := h.catalog.DocumentKey(c.Request.Context(), id)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	h.serve(c, key)
}

func (h *DocumentHandler) serve(c *gin.Context, key string) {
	if h.blobs == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Attachments are disabled"})
		return
	}
	rc, err := h.blobs.Open(c.Request.Context(), key)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "File not found"})
			return
		}
		handleServiceError(c, err)
		return
	}
	defer rc.Close()

	c.Header("Content-Disposition", `attachment; filename="`+downloadName(key)+`"`)
	c.Header("Content-Type", "application/octet-stream")
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, rc); err != nil {
		c.Error(err)
	}
}

// downloadName drops the upload timestamp from a key's last element.
func downloadName(key string) string {
	name := path.Base(key)
	if _, rest, ok := strings.Cut(name, "_"); ok && rest != "" {
		return rest
	}
	return name
}
