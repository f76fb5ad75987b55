package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/nebari-dev/labgate/internal/audit"
	"github.com/nebari-dev/labgate/internal/calendar"
	"github.com/nebari-dev/labgate/internal/compliance"
	"github.com/nebari-dev/labgate/internal/db"
	"github.com/nebari-dev/labgate/internal/models"
	"github.com/nebari-dev/labgate/internal/store"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testEnv struct {
	db      *gorm.DB
	store   *store.Store
	access  *AccessService
	metrics *MetricsService
	catalog *CatalogService
}

// testSetup creates a temp-file DB, migrates models, and wires the services with a DB audit sink.
func testSetup(t *testing.T) *testEnv {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	gdb, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	st := store.New(gdb)
	rec := audit.NewRecorder(nil, audit.NewDBSink(gdb))
	return &testEnv{
		db:      gdb,
		store:   st,
		access:  NewAccessService(st, compliance.New(st), rec, nil),
		metrics: NewMetricsService(st, rec),
		catalog: NewCatalogService(st, &memoryBlobs{}, rec, nil),
	}
}

var manager = Actor{UserID: uuid.New(), Role: models.RoleManager}

func intPtr(n int) *int { return &n }

// labFixture creates an engineer, a lab requiring one 12-month course, and one mandatory document.
type labFixture struct {
	eng    *models.Engineer
	lab    *models.Lab
	course *models.Course
	doc    *models.Document
}

func newLabFixture(t *testing.T, env *testEnv) *labFixture {
	t.Helper()
	ctx := context.Background()
	f := &labFixture{
		eng:    &models.Engineer{EmployeeNo: "E100", Name: "Ava Nguyen", Email: "ava@example.com"},
		lab:    &models.Lab{Code: "LAB-EE", Name: "Electrical Lab"},
		course: &models.Course{Code: "SAFE-101", Name: "Lab Safety", ValidMonths: intPtr(12)},
	}
	for _, v := range []interface{}{f.eng, f.lab, f.course} {
		if err := env.store.Create(ctx, v); err != nil {
			t.Fatalf("create %T: %v", v, err)
		}
	}
	if err := env.store.Create(ctx, &models.LabRequirement{LabID: f.lab.ID, CourseID: f.course.ID}); err != nil {
		t.Fatalf("create requirement: %v", err)
	}
	f.doc = &models.Document{LabID: f.lab.ID, Title: "EE Lab Manual", Version: 1, Mandatory: true, UploadedAt: time.Now()}
	if err := env.store.Create(ctx, f.doc); err != nil {
		t.Fatalf("create document: %v", err)
	}
	return f
}

// makeCompliant records a recent completion and an ack of the current document version.
func (f *labFixture) makeCompliant(t *testing.T, env *testEnv) {
	t.Helper()
	ctx := context.Background()
	if err := env.store.Create(ctx, &models.Completion{EngineerID: f.eng.ID, CourseID: f.course.ID, DateTaken: calendar.AddDays(calendar.Today(), -30)}); err != nil {
		t.Fatalf("create completion: %v", err)
	}
	if err := env.store.Create(ctx, &models.DocumentAck{EngineerID: f.eng.ID, DocumentID: f.doc.ID, Version: f.doc.Version, AckedAt: time.Now()}); err != nil {
		t.Fatalf("create ack: %v", err)
	}
}

func pairRows(t *testing.T, env *testEnv, f *labFixture) []models.LabAccess {
	t.Helper()
	rows, err := env.store.ListAccessForPair(context.Background(), f.eng.ID, f.lab.ID)
	if err != nil {
		t.Fatalf("list pair rows: %v", err)
	}
	return rows
}

func countAudit(t *testing.T, env *testEnv, action string) int64 {
	t.Helper()
	var n int64
	env.db.Model(&models.AuditLog{}).Where("action = ?", action).Count(&n)
	return n
}

func TestRequestAccess(t *testing.T) {
	env := testSetup(t)
	f := newLabFixture(t, env)
	ctx := context.Background()

	row, err := env.access.RequestAccess(ctx, manager, f.eng.ID, f.lab.ID)
	if err != nil {
		t.Fatalf("RequestAccess: %v", err)
	}
	if row.Status != models.AccessPending || row.ReasonCode == nil || *row.ReasonCode != models.ReasonRequested {
		t.Errorf("unexpected row %+v", row)
	}
	if n := countAudit(t, env, audit.ActionRequestAccess); n != 1 {
		t.Errorf("expected 1 request_access audit row, got %d", n)
	}

	_, err = env.access.RequestAccess(ctx, manager, f.eng.ID, f.lab.ID)
	var ce *ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConflictError for second pending request, got %T: %v", err, err)
	}
	if rows := pairRows(t, env, f); len(rows) != 1 {
		t.Errorf("expected 1 row after conflict, got %d", len(rows))
	}
}

func TestRequestAccess_MissingEntities(t *testing.T) {
	env := testSetup(t)
	f := newLabFixture(t, env)
	ctx := context.Background()

	if _, err := env.access.RequestAccess(ctx, manager, 999, f.lab.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing engineer, got %v", err)
	}
	if _, err := env.access.RequestAccess(ctx, manager, f.eng.ID, 999); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing lab, got %v", err)
	}

	_, err := env.access.RequestAccess(ctx, manager, 0, f.lab.ID)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Errorf("expected ValidationError for zero id, got %T: %v", err, err)
	}
	if n := countAudit(t, env, audit.ActionRequestAccess); n != 0 {
		t.Errorf("failed requests must not be audited, got %d", n)
	}
}

func TestCancelRequest(t *testing.T) {
	env := testSetup(t)
	f := newLabFixture(t, env)
	ctx := context.Background()

	if _, err := env.access.CancelRequest(ctx, manager, f.eng.ID, f.lab.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound without a pending row, got %v", err)
	}

	if _, err := env.access.Revoke(ctx, manager, f.eng.ID, f.lab.ID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := env.access.RequestAccess(ctx, manager, f.eng.ID, f.lab.ID); err != nil {
		t.Fatalf("RequestAccess: %v", err)
	}

	row, err := env.access.CancelRequest(ctx, manager, f.eng.ID, f.lab.ID)
	if err != nil {
		t.Fatalf("CancelRequest: %v", err)
	}
	if row.Status != models.AccessRevoked || *row.ReasonCode != models.ReasonUserCancelled {
		t.Errorf("unexpected row %+v", row)
	}

	rows := pairRows(t, env, f)
	if len(rows) != 1 || rows[0].Status != models.AccessRevoked {
		t.Errorf("expected a single revoked row, got %+v", rows)
	}
}

func TestEnsureState_Idempotent(t *testing.T) {
	env := testSetup(t)
	f := newLabFixture(t, env)
	ctx := context.Background()

	_, changed, err := env.access.EnsureState(ctx, f.eng.ID, f.lab.ID, models.AccessActive, models.ReasonApproved)
	if err != nil {
		t.Fatalf("first EnsureState: %v", err)
	}
	if !changed {
		t.Error("first call should change state")
	}
	first, err := env.store.FindAccess(ctx, f.eng.ID, f.lab.ID, models.AccessActive)
	if err != nil {
		t.Fatalf("FindAccess: %v", err)
	}

	second, changed, err := env.access.EnsureState(ctx, f.eng.ID, f.lab.ID, models.AccessActive, models.ReasonApproved)
	if err != nil {
		t.Fatalf("second EnsureState: %v", err)
	}
	if changed {
		t.Error("second call should not change state")
	}
	if second.ID != first.ID || !second.EffectiveAt.Equal(first.EffectiveAt) {
		t.Errorf("row replaced on second call: %+v vs %+v", first, second)
	}
	if rows := pairRows(t, env, f); len(rows) != 1 {
		t.Errorf("expected exactly one row, got %d", len(rows))
	}
}

func TestEnsureState_ReplacesOtherStates(t *testing.T) {
	env := testSetup(t)
	f := newLabFixture(t, env)
	ctx := context.Background()

	if _, err := env.access.RequestAccess(ctx, manager, f.eng.ID, f.lab.ID); err != nil {
		t.Fatalf("RequestAccess: %v", err)
	}
	if _, _, err := env.access.EnsureState(ctx, f.eng.ID, f.lab.ID, models.AccessRevoked, models.ReasonManualRevoke); err != nil {
		t.Fatalf("EnsureState: %v", err)
	}

	rows := pairRows(t, env, f)
	if len(rows) != 1 || rows[0].Status != models.AccessRevoked {
		t.Errorf("expected only a revoked row, got %+v", rows)
	}

	_, _, err := env.access.EnsureState(ctx, f.eng.ID, f.lab.ID, models.AccessStatus("frozen"), "")
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Errorf("expected ValidationError for unknown status, got %v", err)
	}
}

func TestApprove(t *testing.T) {
	env := testSetup(t)
	f := newLabFixture(t, env)
	ctx := context.Background()

	if _, err := env.access.RequestAccess(ctx, manager, f.eng.ID, f.lab.ID); err != nil {
		t.Fatalf("RequestAccess: %v", err)
	}

	d, err := env.access.Approve(ctx, manager, f.eng.ID, f.lab.ID)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if d.Access.Status != models.AccessPending || d.Changed {
		t.Errorf("non-compliant approve should keep the pending row, got %+v", d)
	}
	if d.Verdict == nil || d.Verdict.Compliant {
		t.Errorf("expected failing verdict, got %+v", d.Verdict)
	}

	f.makeCompliant(t, env)
	d, err = env.access.Approve(ctx, manager, f.eng.ID, f.lab.ID)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if d.Access.Status != models.AccessActive || !d.Changed {
		t.Errorf("compliant approve should activate, got %+v", d)
	}
	rows := pairRows(t, env, f)
	if len(rows) != 1 || rows[0].Status != models.AccessActive {
		t.Errorf("expected a single active row, got %+v", rows)
	}
	if n := countAudit(t, env, audit.ActionApproveAccess); n != 2 {
		t.Errorf("expected 2 approve_access audit rows, got %d", n)
	}
}

func TestApprove_NewPairNotCompliant(t *testing.T) {
	env := testSetup(t)
	f := newLabFixture(t, env)

	d, err := env.access.Approve(context.Background(), manager, f.eng.ID, f.lab.ID)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if d.Access.Status != models.AccessPending || *d.Access.ReasonCode != models.ReasonNotCompliant {
		t.Errorf("expected pending/not_compliant, got %+v", d.Access)
	}
	var meta models.AuditLog
	if err := env.db.Where("action = ?", audit.ActionApproveAccess).First(&meta).Error; err != nil {
		t.Fatalf("audit row: %v", err)
	}
	if meta.Meta["reason"] != models.ReasonNotCompliant || meta.Meta["status"] != "pending" {
		t.Errorf("unexpected audit meta %v", meta.Meta)
	}
}

func TestApprove_MissingLab(t *testing.T) {
	env := testSetup(t)
	f := newLabFixture(t, env)

	if _, err := env.access.Approve(context.Background(), manager, f.eng.ID, 999); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRevoke(t *testing.T) {
	env := testSetup(t)
	f := newLabFixture(t, env)
	ctx := context.Background()
	f.makeCompliant(t, env)

	if _, err := env.access.Approve(ctx, manager, f.eng.ID, f.lab.ID); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	d, err := env.access.Revoke(ctx, manager, f.eng.ID, f.lab.ID)
	if err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if d.Access.Status != models.AccessRevoked || *d.Access.ReasonCode != models.ReasonManualRevoke {
		t.Errorf("unexpected row %+v", d.Access)
	}
	if rows := pairRows(t, env, f); len(rows) != 1 {
		t.Errorf("expected one row, got %d", len(rows))
	}
}

func TestAutocheck_ActivatesOnceAndIsIdempotent(t *testing.T) {
	env := testSetup(t)
	f := newLabFixture(t, env)
	ctx := context.Background()

	if _, err := env.access.RequestAccess(ctx, manager, f.eng.ID, f.lab.ID); err != nil {
		t.Fatalf("RequestAccess: %v", err)
	}

	res, err := env.access.Autocheck(ctx, System)
	if err != nil {
		t.Fatalf("Autocheck: %v", err)
	}
	if res.Activated != 0 || res.Revoked != 0 || res.Checked != 1 {
		t.Errorf("non-compliant pending pair must stay pending, got %+v", res)
	}

	f.makeCompliant(t, env)
	res, err = env.access.Autocheck(ctx, System)
	if err != nil {
		t.Fatalf("Autocheck: %v", err)
	}
	if res.Activated != 1 || res.Revoked != 0 {
		t.Errorf("expected exactly one activation, got %+v", res)
	}
	rows := pairRows(t, env, f)
	if len(rows) != 1 || rows[0].Status != models.AccessActive || *rows[0].ReasonCode != models.ReasonAutoCompliant {
		t.Errorf("expected a single active row, got %+v", rows)
	}

	res, err = env.access.Autocheck(ctx, System)
	if err != nil {
		t.Fatalf("Autocheck: %v", err)
	}
	if res.Activated != 0 || res.Revoked != 0 {
		t.Errorf("second run must not transition anything, got %+v", res)
	}
	if n := countAudit(t, env, audit.ActionAutoActivate); n != 1 {
		t.Errorf("expected 1 auto_activate audit row, got %d", n)
	}
}

func TestAutocheck_RevokesAfterDocumentVersionBump(t *testing.T) {
	env := testSetup(t)
	f := newLabFixture(t, env)
	ctx := context.Background()
	f.makeCompliant(t, env)

	if _, err := env.access.Approve(ctx, manager, f.eng.ID, f.lab.ID); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if _, err := env.catalog.PublishVersion(ctx, manager, f.doc.ID, nil); err != nil {
		t.Fatalf("PublishVersion: %v", err)
	}

	res, err := env.access.Autocheck(ctx, System)
	if err != nil {
		t.Fatalf("Autocheck: %v", err)
	}
	if res.Revoked != 1 {
		t.Errorf("expected one revocation, got %+v", res)
	}
	rows := pairRows(t, env, f)
	if len(rows) != 1 || rows[0].Status != models.AccessRevoked || *rows[0].ReasonCode != models.ReasonOutOfCompliance {
		t.Errorf("expected a single revoked row, got %+v", rows)
	}

	res, err = env.access.Autocheck(ctx, System)
	if err != nil {
		t.Fatalf("Autocheck: %v", err)
	}
	if res.Checked != 0 || res.Revoked != 0 {
		t.Errorf("revoked pairs are not swept, got %+v", res)
	}
}

func TestAutocheck_CancelledContext(t *testing.T) {
	env := testSetup(t)
	f := newLabFixture(t, env)
	f.makeCompliant(t, env)

	if _, err := env.access.RequestAccess(context.Background(), manager, f.eng.ID, f.lab.ID); err != nil {
		t.Fatalf("RequestAccess: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := env.access.Autocheck(ctx, System)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if res.Activated != 0 {
		t.Errorf("cancelled sweep must not process pairs, got %+v", res)
	}
	if rows := pairRows(t, env, f); rows[0].Status != models.AccessPending {
		t.Errorf("pair should be left for the next run, got %s", rows[0].Status)
	}
}
