package handlers

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nebari-dev/labgate/internal/db"
	"github.com/nebari-dev/labgate/internal/models"
	"github.com/nebari-dev/labgate/internal/worker"
	"gorm.io/gorm"
)

// InfoHandler handles server info requests
type InfoHandler struct {
	db *gorm.DB
}

// NewInfoHandler creates a new InfoHandler
func NewInfoHandler(database *gorm.DB) *InfoHandler {
	return &InfoHandler{db: database}
}

// InfoResponse represents the server info response
type InfoResponse struct {
	ServerID      string     `json:"server_id"`
	Version       string     `json:"version"`
	GoVersion     string     `json:"go_version"`
	OS            string     `json:"os"`
	Arch          string     `json:"arch"`
	LastAutocheck *time.Time `json:"last_autocheck,omitempty"`
}

// GetInfo godoc
// @Summary Get server information
// @Description Returns the server ID, build information and the time of the last autocheck.
// @Tags system
// @Security BearerAuth
// @Produce json
// @Success 200 {object} InfoResponse
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /info [get]
func (h *InfoHandler) GetInfo(c *gin.Context) {
	serverID, err := db.GetSetting(h.db, models.ServerConfigKeyServerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "Failed to retrieve server ID",
		})
		return
	}

	resp := InfoResponse{
		ServerID:  serverID,
		Version:   Version,
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
	if last, err := worker.LastAutocheck(h.db); err == nil && !last.IsZero() {
		resp.LastAutocheck = &last
	}
	c.JSON(http.StatusOK, resp)
}

// HealthCheck godoc
// @Summary Health check
// @Description Reports whether the database answers.
// @Tags system
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 503 {object} map[string]string
// @Router /health [get]
func (h *InfoHandler) HealthCheck(c *gin.Context) {
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
