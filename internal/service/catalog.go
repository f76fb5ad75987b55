package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/nebari-dev/labgate/internal/audit"
	"github.com/nebari-dev/labgate/internal/calendar"
	"github.com/nebari-dev/labgate/internal/models"
	"github.com/nebari-dev/labgate/internal/store"
)

// DefaultValidMonths is used for new courses created without a validity window.
const DefaultValidMonths = 12

// BlobStore saves attachments and returns an opaque key.
type BlobStore interface {
	Put(ctx context.Context, prefix, filename string, body io.Reader) (string, error)
	Delete(ctx context.Context, key string) error
}

// Upload is an attachment received from a client.
type Upload struct {
	Filename string
	Body     io.Reader
}

// CatalogService administers reference data: engineers, labs, courses,
// requirements, completions, documents and acknowledgments.
type CatalogService struct {
	store  *store.Store
	blobs  BlobStore
	audit  *audit.Recorder
	logger *slog.Logger
	now    func() time.Time
}

// NewCatalogService creates a CatalogService. blobs may be nil when attachments are disabled.
func NewCatalogService(st *store.Store, blobs BlobStore, rec *audit.Recorder, logger *slog.Logger) *CatalogService {
	if logger == nil {
		logger = slog.Default()
	}
	return &CatalogService{store: st, blobs: blobs, audit: rec, logger: logger, now: time.Now}
}

// EngineerInput describes a new engineer.
type EngineerInput struct {
	EmployeeNo string `json:"employee_no" yaml:"employee_no"`
	Name       string `json:"name" yaml:"name"`
	Email      string `json:"email" yaml:"email"`
}

// LabInput describes a new lab.
type LabInput struct {
	Code      string `json:"code" yaml:"code"`
	Name      string `json:"name" yaml:"name"`
	GraceDays int    `json:"grace_days" yaml:"grace_days"`
}

// CourseInput describes a new course. A nil ValidMonths means DefaultValidMonths.
type CourseInput struct {
	Code        string `json:"code" yaml:"code"`
	Name        string `json:"name" yaml:"name"`
	ValidMonths *int   `json:"valid_months" yaml:"valid_months"`
}

// RequirementInput makes a course mandatory for a lab.
type RequirementInput struct {
	LabID       uint `json:"lab_id"`
	CourseID    uint `json:"course_id"`
	ValidMonths *int `json:"valid_months"`
}

// CompletionInput records a course completion. DateTaken is YYYY-MM-DD.
type CompletionInput struct {
	EngineerID     uint
	CourseID       uint
	DateTaken      string
	CertificateURL string
	Certificate    *Upload
}

// DocumentInput adds a lab document. Version defaults to 1 and Mandatory to true.
type DocumentInput struct {
	LabID     uint
	Title     string
	Version   int
	Mandatory *bool
	File      *Upload
}

// AckInput records an acknowledgment on behalf of an engineer. A zero
// Version acknowledges the document's current version.
type AckInput struct {
	EngineerID uint `json:"engineer_id"`
	DocumentID uint `json:"document_id"`
	Version    int  `json:"version"`
}

func required(field, value string) (string, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return "", invalid("%s is required", field)
	}
	return v, nil
}

func duplicate(err error, msg string) error {
	if errors.Is(err, store.ErrDuplicate) {
		return &ConflictError{Message: msg}
	}
	return err
}

// CreateEngineer adds an engineer. Employee number and email must be unique.
func (s *CatalogService) CreateEngineer(ctx context.Context, actor Actor, in EngineerInput) (*models.Engineer, error) {
	no, err := required("employee_no", in.EmployeeNo)
	if err != nil {
		return nil, err
	}
	name, err := required("name", in.Name)
	if err != nil {
		return nil, err
	}
	email, err := required("email", in.Email)
	if err != nil {
		return nil, err
	}

	e := &models.Engineer{EmployeeNo: no, Name: name, Email: strings.ToLower(email)}
	if err := s.store.Create(ctx, e); err != nil {
		return nil, duplicate(err, "an engineer with this employee number or email already exists")
	}
	s.audit.Record(ctx, actor.event(audit.ActionCreateEngineer, audit.EntityEngineer, fmt.Sprint(e.ID),
		map[string]interface{}{"employee_no": e.EmployeeNo}))
	return e, nil
}

// CreateLab adds a lab. Grace days cannot be negative.
func (s *CatalogService) CreateLab(ctx context.Context, actor Actor, in LabInput) (*models.Lab, error) {
	code, err := required("code", in.Code)
	if err != nil {
		return nil, err
	}
	name, err := required("name", in.Name)
	if err != nil {
		return nil, err
	}
	if in.GraceDays < 0 {
		return nil, invalid("grace_days cannot be negative")
	}

	l := &models.Lab{Code: code, Name: name, GraceDays: in.GraceDays}
	if err := s.store.Create(ctx, l); err != nil {
		return nil, duplicate(err, "a lab with this code already exists")
	}
	s.audit.Record(ctx, actor.event(audit.ActionCreateLab, audit.EntityLab, fmt.Sprint(l.ID),
		map[string]interface{}{"code": l.Code, "grace_days": l.GraceDays}))
	return l, nil
}

// CreateCourse adds a course. The validity window must be positive.
func (s *CatalogService) CreateCourse(ctx context.Context, actor Actor, in CourseInput) (*models.Course, error) {
	code, err := required("code", in.Code)
	if err != nil {
		return nil, err
	}
	name, err := required("name", in.Name)
	if err != nil {
		return nil, err
	}
	months := DefaultValidMonths
	if in.ValidMonths != nil {
		months = *in.ValidMonths
	}
	if months <= 0 {
		return nil, invalid("valid_months must be greater than 0")
	}

	c := &models.Course{Code: code, Name: name, ValidMonths: &months}
	if err := s.store.Create(ctx, c); err != nil {
		return nil, duplicate(err, "a course with this code already exists")
	}
	s.audit.Record(ctx, actor.event(audit.ActionCreateCourse, audit.EntityCourse, fmt.Sprint(c.ID),
		map[string]interface{}{"code": c.Code, "valid_months": months}))
	return c, nil
}

// UpsertRequirement makes a course mandatory for a lab, replacing any previous override.
func (s *CatalogService) UpsertRequirement(ctx context.Context, actor Actor, in RequirementInput) (*models.LabRequirement, error) {
	if err := requireID("lab_id", in.LabID); err != nil {
		return nil, err
	}
	if err := requireID("course_id", in.CourseID); err != nil {
		return nil, err
	}
	if in.ValidMonths != nil && *in.ValidMonths <= 0 {
		return nil, invalid("override valid_months must be greater than 0")
	}

	req := &models.LabRequirement{LabID: in.LabID, CourseID: in.CourseID, ValidMonths: in.ValidMonths}
	err := s.store.Transaction(ctx, func(tx *store.Store) error {
		if _, err := tx.GetLab(ctx, in.LabID); err != nil {
			return lookupErr(err, "lab", in.LabID)
		}
		if _, err := tx.GetCourse(ctx, in.CourseID); err != nil {
			return lookupErr(err, "course", in.CourseID)
		}
		return tx.UpsertRequirement(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	meta := map[string]interface{}{"course_id": in.CourseID}
	if in.ValidMonths != nil {
		meta["valid_months"] = *in.ValidMonths
	}
	s.audit.Record(ctx, actor.event(audit.ActionUpsertRequirement, audit.EntityLabRequirement,
		fmt.Sprintf("%d:%d", in.LabID, in.CourseID), meta))
	return req, nil
}

func (s *CatalogService) upload(ctx context.Context, prefix string, u *Upload) (*string, error) {
	if u == nil || u.Body == nil {
		return nil, nil
	}
	if s.blobs == nil {
		return nil, invalid("attachments are not enabled on this server")
	}
	key, err := s.blobs.Put(ctx, prefix, u.Filename, u.Body)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", u.Filename, err)
	}
	return &key, nil
}

// discard removes an attachment whose row was never written.
func (s *CatalogService) discard(ctx context.Context, key *string) {
	if key == nil || s.blobs == nil {
		return
	}
	if err := s.blobs.Delete(context.WithoutCancel(ctx), *key); err != nil {
		s.logger.Warn("Failed to remove orphaned attachment", "key", *key, "error", err)
	}
}

// RecordCompletion stores a course completion with an optional certificate.
func (s *CatalogService) RecordCompletion(ctx context.Context, actor Actor, in CompletionInput) (*models.Completion, error) {
	if err := requireID("engineer_id", in.EngineerID); err != nil {
		return nil, err
	}
	if err := requireID("course_id", in.CourseID); err != nil {
		return nil, err
	}
	taken, err := calendar.Parse(strings.TrimSpace(in.DateTaken))
	if err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}

	if _, err := s.store.GetEngineer(ctx, in.EngineerID); err != nil {
		return nil, lookupErr(err, "engineer", in.EngineerID)
	}
	if _, err := s.store.GetCourse(ctx, in.CourseID); err != nil {
		return nil, lookupErr(err, "course", in.CourseID)
	}

	key, err := s.upload(ctx, fmt.Sprintf("certs/eng-%d", in.EngineerID), in.Certificate)
	if err != nil {
		return nil, err
	}

	c := &models.Completion{
		EngineerID:     in.EngineerID,
		CourseID:       in.CourseID,
		DateTaken:      taken,
		CertificateKey: key,
	}
	if u := strings.TrimSpace(in.CertificateURL); u != "" {
		c.CertificateURL = &u
	}
	if err := s.store.Create(ctx, c); err != nil {
		s.discard(ctx, key)
		return nil, duplicate(err, "this completion is already recorded for that day")
	}

	s.audit.Record(ctx, actor.event(audit.ActionRecordCompletion, audit.EntityCompletion, fmt.Sprint(c.ID),
		map[string]interface{}{
			"engineer_id": c.EngineerID,
			"course_id":   c.CourseID,
			"date_taken":  calendar.Format(taken),
		}))
	return c, nil
}

// AddDocument adds a document to a lab.
func (s *CatalogService) AddDocument(ctx context.Context, actor Actor, in DocumentInput) (*models.Document, error) {
	if err := requireID("lab_id", in.LabID); err != nil {
		return nil, err
	}
	title, err := required("title", in.Title)
	if err != nil {
		return nil, err
	}
	version := in.Version
	if version == 0 {
		version = 1
	}
	if version < 0 {
		return nil, invalid("version must be a positive integer")
	}
	mandatory := true
	if in.Mandatory != nil {
		mandatory = *in.Mandatory
	}

	if _, err := s.store.GetLab(ctx, in.LabID); err != nil {
		return nil, lookupErr(err, "lab", in.LabID)
	}
	key, err := s.upload(ctx, fmt.Sprintf("docs/lab-%d", in.LabID), in.File)
	if err != nil {
		return nil, err
	}

	d := &models.Document{
		LabID:      in.LabID,
		Title:      title,
		Version:    version,
		Mandatory:  mandatory,
		StorageKey: key,
		UploadedAt: s.now().UTC(),
	}
	if err := s.store.Create(ctx, d); err != nil {
		s.discard(ctx, key)
		return nil, duplicate(err, "this document version already exists for the lab")
	}
	s.audit.Record(ctx, actor.event(audit.ActionUploadDocument, audit.EntityDocument, fmt.Sprint(d.ID),
		map[string]interface{}{"title": d.Title, "version": d.Version, "mandatory": d.Mandatory}))
	return d, nil
}

// PublishVersion bumps a document to the next version in place, optionally
// replacing its file. Acknowledgments of earlier versions stop counting.
func (s *CatalogService) PublishVersion(ctx context.Context, actor Actor, documentID uint, file *Upload) (*models.Document, error) {
	if err := requireID("document_id", documentID); err != nil {
		return nil, err
	}

	var (
		doc      *models.Document
		uploaded *string
	)
	err := s.store.Transaction(ctx, func(tx *store.Store) error {
		d, err := tx.GetDocument(ctx, documentID)
		if err != nil {
			return lookupErr(err, "document", documentID)
		}
		max, err := tx.MaxDocumentVersion(ctx, d.LabID, d.Title)
		if err != nil {
			return err
		}
		key, err := s.upload(ctx, fmt.Sprintf("docs/lab-%d", d.LabID), file)
		if err != nil {
			return err
		}
		if key != nil {
			uploaded = key
			d.StorageKey = key
		}
		d.Version = max + 1
		d.UploadedAt = s.now().UTC()
		doc = d
		return tx.Save(ctx, d)
	})
	if err != nil {
		s.discard(ctx, uploaded)
		return nil, duplicate(err, "document version changed concurrently; retry")
	}

	s.audit.Record(ctx, actor.event(audit.ActionNewDocumentVersion, audit.EntityDocument, fmt.Sprint(doc.ID),
		map[string]interface{}{"title": doc.Title, "version": doc.Version}))
	return doc, nil
}

// Acknowledge records an acknowledgment on behalf of an engineer.
func (s *CatalogService) Acknowledge(ctx context.Context, actor Actor, in AckInput) (*models.DocumentAck, error) {
	if err := requireID("engineer_id", in.EngineerID); err != nil {
		return nil, err
	}
	if err := requireID("document_id", in.DocumentID); err != nil {
		return nil, err
	}
	if in.Version < 0 {
		return nil, invalid("version must be a positive integer")
	}
	if _, err := s.store.GetEngineer(ctx, in.EngineerID); err != nil {
		return nil, lookupErr(err, "engineer", in.EngineerID)
	}
	doc, err := s.store.GetDocument(ctx, in.DocumentID)
	if err != nil {
		return nil, lookupErr(err, "document", in.DocumentID)
	}
	version := in.Version
	if version == 0 {
		version = doc.Version
	}

	ack := &models.DocumentAck{
		EngineerID: in.EngineerID,
		DocumentID: in.DocumentID,
		Version:    version,
		AckedAt:    s.now().UTC(),
	}
	if err := s.store.Create(ctx, ack); err != nil {
		return nil, duplicate(err, "already acknowledged this version")
	}
	s.audit.Record(ctx, actor.event(audit.ActionAdminAcknowledge, audit.EntityDocumentAck,
		fmt.Sprintf("%d:%d:%d", in.EngineerID, in.DocumentID, version),
		map[string]interface{}{"document_title": doc.Title}))
	return ack, nil
}

// SelfAcknowledge records the engineer's own acknowledgment of a document's
// current version. engineerID is the engineer linked to the calling user.
func (s *CatalogService) SelfAcknowledge(ctx context.Context, actor Actor, engineerID *uint, documentID uint) (*models.DocumentAck, error) {
	if engineerID == nil || *engineerID == 0 {
		return nil, invalid("you must be linked to an engineer record to acknowledge documents")
	}
	if err := requireID("document_id", documentID); err != nil {
		return nil, err
	}
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, lookupErr(err, "document", documentID)
	}

	existing, err := s.store.FindAck(ctx, *engineerID, documentID, doc.Version)
	if err == nil {
		return nil, &ConflictError{Message: fmt.Sprintf("you already acknowledged %s v%d on %s",
			doc.Title, doc.Version, calendar.Format(existing.AckedAt))}
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	ack := &models.DocumentAck{
		EngineerID: *engineerID,
		DocumentID: documentID,
		Version:    doc.Version,
		AckedAt:    s.now().UTC(),
	}
	if err := s.store.Create(ctx, ack); err != nil {
		return nil, duplicate(err, "already acknowledged this version")
	}
	s.audit.Record(ctx, actor.event(audit.ActionEngineerAcknowledge, audit.EntityDocumentAck,
		fmt.Sprintf("%d:%d:%d", *engineerID, documentID, doc.Version),
		map[string]interface{}{"document_title": doc.Title}))
	return ack, nil
}

// MyDocument is a mandatory document of a lab the engineer has requested or holds.
type MyDocument struct {
	Document models.Document `json:"document"`
	LabCode  string          `json:"lab_code"`
	LabName  string          `json:"lab_name"`
	Acked    bool            `json:"acked"`
	AckedAt  *time.Time      `json:"acked_at,omitempty"`
}

// MyDocuments lists mandatory documents for every lab where the engineer has
// pending or active access, with the acknowledgment state of each current version.
func (s *CatalogService) MyDocuments(ctx context.Context, engineerID *uint) ([]MyDocument, error) {
	if engineerID == nil || *engineerID == 0 {
		return nil, invalid("you must be linked to an engineer record to view documents")
	}

	rows, err := s.store.ListAccessForEngineer(ctx, *engineerID)
	if err != nil {
		return nil, err
	}
	seen := map[uint]bool{}
	var labIDs []uint
	for _, r := range rows {
		if r.Status == models.AccessRevoked || seen[r.LabID] {
			continue
		}
		seen[r.LabID] = true
		labIDs = append(labIDs, r.LabID)
	}

	docs, err := s.store.ListMandatoryDocumentsForLabs(ctx, labIDs)
	if err != nil {
		return nil, err
	}
	labs, err := s.store.LabsByID(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]MyDocument, 0, len(docs))
	for _, d := range docs {
		md := MyDocument{Document: d, LabCode: labs[d.LabID].Code, LabName: labs[d.LabID].Name}
		ack, err := s.store.FindAck(ctx, *engineerID, d.ID, d.Version)
		switch {
		case err == nil:
			md.Acked = true
			at := ack.AckedAt
			md.AckedAt = &at
		case !errors.Is(err, store.ErrNotFound):
			return nil, err
		}
		out = append(out, md)
	}
	return out, nil
}

// CertificateKey returns the attachment key of a completion certificate.
func (s *CatalogService) CertificateKey(ctx context.Context, completionID uint) (string, error) {
	c, err := s.store.GetCompletion(ctx, completionID)
	if err != nil {
		return "", lookupErr(err, "completion", completionID)
	}
	if c.CertificateKey == nil || *c.CertificateKey == "" {
		return "", fmt.Errorf("certificate file for completion %d: %w", completionID, ErrNotFound)
	}
	return *c.CertificateKey, nil
}

// DocumentKey returns the attachment key of a document file.
func (s *CatalogService) DocumentKey(ctx context.Context, documentID uint) (string, error) {
	d, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return "", lookupErr(err, "document", documentID)
	}
	if d.StorageKey == nil || *d.StorageKey == "" {
		return "", fmt.Errorf("file for document %d: %w", documentID, ErrNotFound)
	}
	return *d.StorageKey, nil
}

// ListEngineers returns every engineer.
func (s *CatalogService) ListEngineers(ctx context.Context) ([]models.Engineer, error) {
	return s.store.ListEngineers(ctx)
}

// ListLabs returns every lab.
func (s *CatalogService) ListLabs(ctx context.Context) ([]models.Lab, error) {
	return s.store.ListLabs(ctx)
}

// ListCourses returns every course.
func (s *CatalogService) ListCourses(ctx context.Context) ([]models.Course, error) {
	return s.store.ListCourses(ctx)
}

// ListDocuments returns every document.
func (s *CatalogService) ListDocuments(ctx context.Context) ([]models.Document, error) {
	return s.store.ListDocuments(ctx)
}
