// Package audit records state changes. Events go to every configured sink;
// sink failures are logged and never reach the caller, so an audit outage
// cannot undo or block a committed state change.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nebari-dev/labgate/internal/models"
	"gorm.io/gorm"
)

// Event is one audited state change.
type Event struct {
	At          time.Time              `json:"at"`
	ActorUserID *uuid.UUID             `json:"actor_user_id,omitempty"`
	ActorRole   string                 `json:"actor_role,omitempty"`
	Action      string                 `json:"action"`
	Entity      string                 `json:"entity"`
	EntityID    string                 `json:"entity_id"`
	Meta        map[string]interface{} `json:"meta,omitempty"`
}

// Sink persists or forwards audit events.
type Sink interface {
	Write(ctx context.Context, ev Event) error
}

// LogAction records an audit log entry
func LogAction(db *gorm.DB, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	log := models.AuditLog{
		At:          ev.At,
		ActorUserID: ev.ActorUserID,
		ActorRole:   ev.ActorRole,
		Action:      ev.Action,
		Entity:      ev.Entity,
		EntityID:    ev.EntityID,
		Meta:        ev.Meta,
	}
	return db.Create(&log).Error
}

// DBSink appends events to the audit_log table.
type DBSink struct {
	db *gorm.DB
}

// NewDBSink creates a sink writing through db.
func NewDBSink(db *gorm.DB) *DBSink {
	return &DBSink{db: db}
}

func (s *DBSink) Write(ctx context.Context, ev Event) error {
	return LogAction(s.db.WithContext(ctx), ev)
}

// Recorder fans events out to its sinks.
type Recorder struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewRecorder creates a Recorder. A nil logger means slog.Default().
func NewRecorder(logger *slog.Logger, sinks ...Sink) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{sinks: sinks, logger: logger}
}

// Record delivers ev to every sink. Failures are logged at WARN and dropped.
func (r *Recorder) Record(ctx context.Context, ev Event) {
	if r == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	for _, s := range r.sinks {
		if err := s.Write(ctx, ev); err != nil {
			r.logger.Warn("audit sink failed",
				"action", ev.Action,
				"entity", ev.Entity,
				"entity_id", ev.EntityID,
				"error", err)
		}
	}
}

// Audit actions constants
const (
	ActionRequestAccess       = "request_access"
	ActionCancelRequest       = "cancel_request"
	ActionApproveAccess       = "approve_access"
	ActionRevokeAccess        = "revoke_access"
	ActionAutoActivate        = "auto_activate"
	ActionAutoRevoke          = "auto_revoke"
	ActionEnqueueAutocheck    = "enqueue_autocheck"
	ActionSaveMetrics         = "save_metrics"
	ActionCreateEngineer      = "create_engineer"
	ActionCreateLab           = "create_lab"
	ActionCreateCourse        = "create_course"
	ActionUpsertRequirement   = "upsert_requirement"
	ActionRecordCompletion    = "record_completion"
	ActionUploadDocument      = "upload_document"
	ActionNewDocumentVersion  = "new_document_version"
	ActionAdminAcknowledge    = "admin_acknowledge"
	ActionEngineerAcknowledge = "engineer_acknowledge"
	ActionImportFixture       = "import_fixture"
	ActionLogin               = "login"
	ActionLoginFailed         = "login_failed"
)

// Audited entity names.
const (
	EntityLabAccess      = "lab_access"
	EntityLabMetrics     = "lab_metrics"
	EntityEngineer       = "engineer"
	EntityLab            = "lab"
	EntityCourse         = "course"
	EntityLabRequirement = "lab_requirement"
	EntityCompletion     = "completion"
	EntityDocument       = "document"
	EntityDocumentAck    = "document_ack"
	EntityJob            = "job"
	EntityUser           = "user"
	EntityFixture        = "fixture"
)
