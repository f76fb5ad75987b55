package fixture

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/nebari-dev/labgate/internal/calendar"
	"github.com/nebari-dev/labgate/internal/compliance"
	"github.com/nebari-dev/labgate/internal/db"
	"github.com/nebari-dev/labgate/internal/models"
	"github.com/nebari-dev/labgate/internal/store"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupImporter(t *testing.T) (*Importer, *store.Store) {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
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
	return NewImporter(st), st
}

func TestDemo_ImportIsIdempotent(t *testing.T) {
	im, st := setupImporter(t)
	ctx := context.Background()

	fx, err := Demo()
	if err != nil {
		t.Fatalf("Demo: %v", err)
	}
	sum, err := im.Apply(ctx, fx)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	want := Summary{
		"engineers": 2, "labs": 2, "courses": 3, "requirements": 4, "completions": 4,
		"documents": 2, "access": 2, "metrics": 2, "users": 3,
	}
	for k, n := range want {
		if sum[k] != n {
			t.Errorf("%s: inserted %d, want %d", k, sum[k], n)
		}
	}

	again, err := im.Apply(ctx, fx)
	if err != nil {
		t.Fatalf("second Apply: %v", err)
	}
	if again.String() != "nothing new" {
		t.Errorf("second import should insert nothing, got %s", again)
	}

	u, err := st.GetUserByEmail(ctx, "eng@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail: %v", err)
	}
	ava, _ := st.GetEngineerByEmployeeNo(ctx, "E100")
	if u.EngineerID == nil || *u.EngineerID != ava.ID {
		t.Errorf("engineer user should be linked to E100, got %v", u.EngineerID)
	}
	if u.PasswordHash == "Eng123!" {
		t.Error("password stored in clear text")
	}
}

// The demo data leaves both pending requests non-compliant: neither engineer acknowledged a document.
func TestDemo_VerdictsMatchScenario(t *testing.T) {
	im, st := setupImporter(t)
	ctx := context.Background()
	fx, _ := Demo()
	if _, err := im.Apply(ctx, fx); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	engine := compliance.New(st)
	ava, _ := st.GetEngineerByEmployeeNo(ctx, "E100")
	mike, _ := st.GetEngineerByEmployeeNo(ctx, "E101")
	ee, _ := st.GetLabByCode(ctx, "LAB-EE")
	chem, _ := st.GetLabByCode(ctx, "LAB-CHEM")

	v, err := engine.Evaluate(ctx, ava.ID, ee.ID, time.Time{})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if v.Compliant || len(v.TrainingIssues) != 0 || len(v.DocumentIssues) != 1 {
		t.Errorf("Ava: expected only the manual missing, got %+v", v)
	}

	v, err = engine.Evaluate(ctx, mike.ID, chem.ID, time.Time{})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(v.TrainingIssues) != 1 || v.TrainingIssues[0].CourseCode != "SAFE-101" || v.TrainingIssues[0].Reason != compliance.ReasonExpired {
		t.Errorf("Mike: expected expired SAFE-101, got %+v", v.TrainingIssues)
	}
}

func TestParse_RejectsUnknownFields(t *testing.T) {
	_, err := Parse(strings.NewReader("engineers:\n  - employee_no: E1\n    nickname: x\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestApply_RollsBackOnBadReference(t *testing.T) {
	im, st := setupImporter(t)
	ctx := context.Background()

	fx, err := Parse(strings.NewReader(`
labs:
  - {code: LAB-X, name: X}
requirements:
  - {lab: LAB-X, course: NOPE}
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, err := im.Apply(ctx, fx); err == nil {
		t.Fatal("expected error for unknown course")
	}
	if _, err := st.GetLabByCode(ctx, "LAB-X"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("lab should have been rolled back, got %v", err)
	}
}

func TestParseCompletionsCSV(t *testing.T) {
	im, st := setupImporter(t)
	ctx := context.Background()
	fx, _ := Demo()
	if _, err := im.Apply(ctx, fx); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	data := "employee_no,course_code,date_taken,certificate_url\n" +
		"E101,SAFE-101,2024-05-02,https://lms.example.com/c/1\n" +
		"E100,CHEM-110,2024-04-01,\n"
	csvFx, err := ParseCompletionsCSV(strings.NewReader(data))
	if err != nil {
		t.Fatalf("ParseCompletionsCSV: %v", err)
	}
	sum, err := im.Apply(ctx, csvFx)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if sum["completions"] != 2 {
		t.Errorf("expected 2 completions, got %d", sum["completions"])
	}

	mike, _ := st.GetEngineerByEmployeeNo(ctx, "E101")
	safe, _ := st.GetCourseByCode(ctx, "SAFE-101")
	var rows []models.Completion
	if err := st.DB().Where("engineer_id = ? AND course_id = ?", mike.ID, safe.ID).Order("date_taken").Find(&rows).Error; err != nil {
		t.Fatalf("query completions: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected seed and CSV completion, got %d", len(rows))
	}
	if !rows[0].DateTaken.Equal(calendar.Date(2024, time.May, 2)) {
		t.Errorf("unexpected CSV date %s", calendar.Format(rows[0].DateTaken))
	}
	if rows[0].CertificateURL == nil || *rows[0].CertificateURL != "https://lms.example.com/c/1" {
		t.Errorf("certificate url not imported: %v", rows[0].CertificateURL)
	}

	again, err := im.Apply(ctx, csvFx)
	if err != nil {
		t.Fatalf("re-import: %v", err)
	}
	if again["completions"] != 0 {
		t.Errorf("re-import should skip existing completions, got %d", again["completions"])
	}

	if _, err := ParseCompletionsCSV(strings.NewReader("employee_no,course_code,date_taken\nE100,,2024-01-01\n")); err == nil {
		t.Error("expected error for missing course code")
	}
}

func TestParseCompletionsCSV_EmptyInput(t *testing.T) {
	fx, err := ParseCompletionsCSV(strings.NewReader(""))
	if err != nil {
		t.Fatalf("ParseCompletionsCSV: %v", err)
	}
	if len(fx.Completions) != 0 {
		t.Errorf("expected no completions, got %d", len(fx.Completions))
	}
}
