package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/nebari-dev/labgate/internal/calendar"
	"github.com/nebari-dev/labgate/internal/db"
	"github.com/nebari-dev/labgate/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	gdb, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return New(gdb)
}

func seedPair(t *testing.T, s *Store) (*models.Engineer, *models.Lab) {
	t.Helper()
	ctx := context.Background()
	eng := &models.Engineer{EmployeeNo: "E100", Name: "Ava Nguyen", Email: "ava@example.com"}
	lab := &models.Lab{Code: "LAB-EE", Name: "Electrical Lab"}
	if err := s.Create(ctx, eng); err != nil {
		t.Fatalf("create engineer: %v", err)
	}
	if err := s.Create(ctx, lab); err != nil {
		t.Fatalf("create lab: %v", err)
	}
	return eng, lab
}

func TestGetEngineer_NotFound(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.GetEngineer(context.Background(), 42)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCreate_DuplicateIsTranslated(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if err := s.Create(ctx, &models.Lab{Code: "LAB-EE", Name: "one"}); err != nil {
		t.Fatalf("first create: %v", err)
	}
	err := s.Create(ctx, &models.Lab{Code: "LAB-EE", Name: "two"})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if !IsDuplicate(err) {
		t.Error("IsDuplicate should recognise translated error")
	}
}

func TestLatestCompletion(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	eng, _ := seedPair(t, s)
	course := &models.Course{Code: "SAFE-101", Name: "Lab Safety"}
	if err := s.Create(ctx, course); err != nil {
		t.Fatalf("create course: %v", err)
	}

	if _, err := s.LatestCompletion(ctx, eng.ID, course.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before any completion, got %v", err)
	}

	for _, d := range []time.Time{
		calendar.Date(2023, time.March, 1),
		calendar.Date(2024, time.January, 10),
		calendar.Date(2023, time.December, 5),
	} {
		if err := s.Create(ctx, &models.Completion{EngineerID: eng.ID, CourseID: course.ID, DateTaken: d}); err != nil {
			t.Fatalf("create completion: %v", err)
		}
	}

	latest, err := s.LatestCompletion(ctx, eng.ID, course.ID)
	if err != nil {
		t.Fatalf("LatestCompletion: %v", err)
	}
	if got := calendar.Format(latest.DateTaken); got != "2024-01-10" {
		t.Errorf("expected latest 2024-01-10, got %s", got)
	}

	err = s.Create(ctx, &models.Completion{EngineerID: eng.ID, CourseID: course.ID, DateTaken: calendar.Date(2024, time.January, 10)})
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("expected duplicate for same-day completion, got %v", err)
	}

	perPair, err := s.LatestCompletions(ctx)
	if err != nil {
		t.Fatalf("LatestCompletions: %v", err)
	}
	if len(perPair) != 1 {
		t.Errorf("expected one latest completion per pair, got %d", len(perPair))
	}
}

func TestUpsertRequirement_ReplacesOverride(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	_, lab := seedPair(t, s)
	course := &models.Course{Code: "ELEC-201", Name: "Electrical Safety"}
	if err := s.Create(ctx, course); err != nil {
		t.Fatalf("create course: %v", err)
	}

	twelve, twentyFour := 12, 24
	if err := s.UpsertRequirement(ctx, &models.LabRequirement{LabID: lab.ID, CourseID: course.ID, ValidMonths: &twelve}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := s.UpsertRequirement(ctx, &models.LabRequirement{LabID: lab.ID, CourseID: course.ID, ValidMonths: &twentyFour}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	reqs, err := s.ListRequirements(ctx, lab.ID)
	if err != nil {
		t.Fatalf("ListRequirements: %v", err)
	}
	if len(reqs) != 1 {
		t.Fatalf("expected 1 requirement, got %d", len(reqs))
	}
	if reqs[0].ValidMonths == nil || *reqs[0].ValidMonths != 24 {
		t.Errorf("expected override 24, got %v", reqs[0].ValidMonths)
	}
}

func TestAcksAreVersionPinned(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	eng, lab := seedPair(t, s)
	doc := &models.Document{LabID: lab.ID, Title: "EE Lab Manual", Version: 1, Mandatory: true, UploadedAt: time.Now()}
	if err := s.Create(ctx, doc); err != nil {
		t.Fatalf("create document: %v", err)
	}
	if err := s.Create(ctx, &models.DocumentAck{EngineerID: eng.ID, DocumentID: doc.ID, Version: 1, AckedAt: time.Now()}); err != nil {
		t.Fatalf("create ack: %v", err)
	}

	ok, err := s.HasAck(ctx, eng.ID, doc.ID, 1)
	if err != nil || !ok {
		t.Fatalf("expected ack for version 1, got %v %v", ok, err)
	}
	ok, err = s.HasAck(ctx, eng.ID, doc.ID, 2)
	if err != nil || ok {
		t.Errorf("expected no ack for version 2, got %v %v", ok, err)
	}

	max, err := s.MaxDocumentVersion(ctx, lab.ID, "EE Lab Manual")
	if err != nil {
		t.Fatalf("MaxDocumentVersion: %v", err)
	}
	if max != 1 {
		t.Errorf("expected max version 1, got %d", max)
	}
	if max, _ := s.MaxDocumentVersion(ctx, lab.ID, "Unknown"); max != 0 {
		t.Errorf("expected 0 for unknown title, got %d", max)
	}
}

func TestAccessUniquePerState(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	eng, lab := seedPair(t, s)
	reason := models.ReasonRequested

	row := &models.LabAccess{EngineerID: eng.ID, LabID: lab.ID, Status: models.AccessPending, ReasonCode: &reason, EffectiveAt: time.Now()}
	if err := s.Create(ctx, row); err != nil {
		t.Fatalf("create access: %v", err)
	}
	dup := &models.LabAccess{EngineerID: eng.ID, LabID: lab.ID, Status: models.AccessPending, EffectiveAt: time.Now()}
	if err := s.Create(ctx, dup); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for second pending row, got %v", err)
	}

	found, err := s.FindAccess(ctx, eng.ID, lab.ID, models.AccessPending)
	if err != nil {
		t.Fatalf("FindAccess: %v", err)
	}
	if found.ID != row.ID {
		t.Errorf("found wrong row %d", found.ID)
	}

	n, err := s.DeleteAccessForPair(ctx, eng.ID, lab.ID)
	if err != nil {
		t.Fatalf("DeleteAccessForPair: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 deleted row, got %d", n)
	}
	if _, err := s.FindAccess(ctx, eng.ID, lab.ID, models.AccessPending); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestTransaction_RollsBack(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.Transaction(ctx, func(tx *Store) error {
		if err := tx.Create(ctx, &models.Lab{Code: "LAB-X", Name: "X"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, err := s.GetLabByCode(ctx, "LAB-X"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected rollback, got %v", err)
	}
}

func TestUpsertMetrics_OnePerDay(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	_, lab := seedPair(t, s)
	day := calendar.Date(2024, time.May, 1)

	if err := s.UpsertMetrics(ctx, &models.LabMetrics{LabID: lab.ID, AsOf: day, Utilization: 10, Condition: 20, Activity: 30}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := s.UpsertMetrics(ctx, &models.LabMetrics{LabID: lab.ID, AsOf: day, Utilization: 70, Condition: 80, Activity: 90}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if err := s.UpsertMetrics(ctx, &models.LabMetrics{LabID: lab.ID, AsOf: calendar.Date(2024, time.April, 30), Utilization: 1, Condition: 1, Activity: 1}); err != nil {
		t.Fatalf("older upsert: %v", err)
	}

	latest, err := s.LatestMetricsByLab(ctx)
	if err != nil {
		t.Fatalf("LatestMetricsByLab: %v", err)
	}
	m, ok := latest[lab.ID]
	if !ok {
		t.Fatal("expected metrics for lab")
	}
	if m.Utilization != 70 || m.Condition != 80 || m.Activity != 90 {
		t.Errorf("expected overwritten values, got %+v", m)
	}

	var count int64
	s.DB().Model(&models.LabMetrics{}).Count(&count)
	if count != 2 {
		t.Errorf("expected 2 rows, got %d", count)
	}
}
