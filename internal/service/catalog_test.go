package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/nebari-dev/labgate/internal/compliance"
)

type memoryBlobs struct {
	objects map[string][]byte
	seq     int
}

func (m *memoryBlobs) Put(ctx context.Context, prefix, filename string, body io.Reader) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	m.seq++
	key := fmt.Sprintf("%s/%d_%s", prefix, m.seq, filename)
	m.objects[key] = data
	return key, nil
}

func (m *memoryBlobs) Delete(ctx context.Context, key string) error {
	delete(m.objects, key)
	return nil
}

func TestCreateCourse_Validation(t *testing.T) {
	env := testSetup(t)
	ctx := context.Background()

	c, err := env.catalog.CreateCourse(ctx, manager, CourseInput{Code: "SAFE-101", Name: "Safety"})
	if err != nil {
		t.Fatalf("CreateCourse: %v", err)
	}
	if c.ValidMonths == nil || *c.ValidMonths != DefaultValidMonths {
		t.Errorf("expected default validity, got %v", c.ValidMonths)
	}

	_, err = env.catalog.CreateCourse(ctx, manager, CourseInput{Code: "X", Name: "X", ValidMonths: intPtr(0)})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Errorf("expected ValidationError for zero validity, got %v", err)
	}

	_, err = env.catalog.CreateCourse(ctx, manager, CourseInput{Code: "SAFE-101", Name: "Again"})
	var ce *ConflictError
	if !errors.As(err, &ce) {
		t.Errorf("expected ConflictError for duplicate code, got %v", err)
	}
}

func TestCreateLab_RejectsNegativeGrace(t *testing.T) {
	env := testSetup(t)

	_, err := env.catalog.CreateLab(context.Background(), manager, LabInput{Code: "L", Name: "L", GraceDays: -1})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Errorf("expected ValidationError, got %v", err)
	}
}

func TestUpsertRequirement(t *testing.T) {
	env := testSetup(t)
	ctx := context.Background()
	lab, err := env.catalog.CreateLab(ctx, manager, LabInput{Code: "LAB-EE", Name: "EE"})
	if err != nil {
		t.Fatalf("CreateLab: %v", err)
	}
	course, err := env.catalog.CreateCourse(ctx, manager, CourseInput{Code: "ELEC-201", Name: "Electrical", ValidMonths: intPtr(24)})
	if err != nil {
		t.Fatalf("CreateCourse: %v", err)
	}

	if _, err := env.catalog.UpsertRequirement(ctx, manager, RequirementInput{LabID: lab.ID, CourseID: course.ID, ValidMonths: intPtr(-2)}); err == nil {
		t.Error("expected error for negative override")
	}
	if _, err := env.catalog.UpsertRequirement(ctx, manager, RequirementInput{LabID: lab.ID, CourseID: 77}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing course, got %v", err)
	}
	if _, err := env.catalog.UpsertRequirement(ctx, manager, RequirementInput{LabID: lab.ID, CourseID: course.ID}); err != nil {
		t.Fatalf("UpsertRequirement: %v", err)
	}
	if _, err := env.catalog.UpsertRequirement(ctx, manager, RequirementInput{LabID: lab.ID, CourseID: course.ID, ValidMonths: intPtr(6)}); err != nil {
		t.Fatalf("UpsertRequirement again: %v", err)
	}

	reqs, err := env.store.ListRequirements(ctx, lab.ID)
	if err != nil {
		t.Fatalf("ListRequirements: %v", err)
	}
	if len(reqs) != 1 || reqs[0].ValidMonths == nil || *reqs[0].ValidMonths != 6 {
		t.Errorf("expected single requirement with override 6, got %+v", reqs)
	}
}

func TestRecordCompletion(t *testing.T) {
	env := testSetup(t)
	f := newLabFixture(t, env)
	ctx := context.Background()

	_, err := env.catalog.RecordCompletion(ctx, manager, CompletionInput{EngineerID: f.eng.ID, CourseID: f.course.ID, DateTaken: "2024-13-01"})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError for bad date, got %v", err)
	}

	c, err := env.catalog.RecordCompletion(ctx, manager, CompletionInput{
		EngineerID:  f.eng.ID,
		CourseID:    f.course.ID,
		DateTaken:   "2024-02-29",
		Certificate: &Upload{Filename: "cert.pdf", Body: strings.NewReader("%PDF")},
	})
	if err != nil {
		t.Fatalf("RecordCompletion: %v", err)
	}
	if c.CertificateKey == nil || !strings.HasPrefix(*c.CertificateKey, fmt.Sprintf("certs/eng-%d/", f.eng.ID)) {
		t.Errorf("unexpected certificate key %v", c.CertificateKey)
	}

	key, err := env.catalog.CertificateKey(ctx, c.ID)
	if err != nil || key != *c.CertificateKey {
		t.Errorf("CertificateKey = %q, %v", key, err)
	}

	_, err = env.catalog.RecordCompletion(ctx, manager, CompletionInput{EngineerID: f.eng.ID, CourseID: f.course.ID, DateTaken: "2024-02-29"})
	var ce *ConflictError
	if !errors.As(err, &ce) {
		t.Errorf("expected ConflictError for same-day completion, got %v", err)
	}
}

func TestRecordCompletion_DuplicateRemovesCertificate(t *testing.T) {
	blobs := &memoryBlobs{}
	env := testSetup(t)
	env.catalog.blobs = blobs
	f := newLabFixture(t, env)
	ctx := context.Background()

	in := CompletionInput{
		EngineerID:  f.eng.ID,
		CourseID:    f.course.ID,
		DateTaken:   "2024-03-01",
		Certificate: &Upload{Filename: "cert.pdf", Body: strings.NewReader("%PDF")},
	}
	if _, err := env.catalog.RecordCompletion(ctx, manager, in); err != nil {
		t.Fatalf("RecordCompletion: %v", err)
	}

	in.Certificate = &Upload{Filename: "cert.pdf", Body: strings.NewReader("%PDF again")}
	_, err := env.catalog.RecordCompletion(ctx, manager, in)
	var ce *ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if len(blobs.objects) != 1 {
		t.Errorf("expected only the first certificate to remain, got %v", blobs.objects)
	}
}

func TestAddDocument_OptionalDocumentNotRequired(t *testing.T) {
	env := testSetup(t)
	ctx := context.Background()
	engineer, err := env.catalog.CreateEngineer(ctx, manager, EngineerInput{EmployeeNo: "E900", Name: "Opt Test", Email: "opt@example.com"})
	if err != nil {
		t.Fatalf("CreateEngineer: %v", err)
	}
	lab, err := env.catalog.CreateLab(ctx, manager, LabInput{Code: "LAB-OPT", Name: "Optional docs"})
	if err != nil {
		t.Fatalf("CreateLab: %v", err)
	}

	optional := false
	doc, err := env.catalog.AddDocument(ctx, manager, DocumentInput{LabID: lab.ID, Title: "Reading list", Mandatory: &optional})
	if err != nil {
		t.Fatalf("AddDocument: %v", err)
	}
	if doc.Mandatory {
		t.Error("returned document should be optional")
	}

	stored, err := env.store.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if stored.Mandatory {
		t.Error("stored document should be optional")
	}

	ok, err := compliance.New(env.store).IsCompliantForLab(ctx, engineer.ID, lab.ID, time.Time{})
	if err != nil {
		t.Fatalf("IsCompliantForLab: %v", err)
	}
	if !ok {
		t.Error("an optional document must not block compliance")
	}

	mandatory, err := env.catalog.AddDocument(ctx, manager, DocumentInput{LabID: lab.ID, Title: "Safety rules"})
	if err != nil {
		t.Fatalf("AddDocument: %v", err)
	}
	if !mandatory.Mandatory {
		t.Error("documents default to mandatory")
	}
}

func TestPublishVersion_InvalidatesCompliance(t *testing.T) {
	env := testSetup(t)
	f := newLabFixture(t, env)
	ctx := context.Background()
	f.makeCompliant(t, env)
	engine := compliance.New(env.store)

	ok, err := engine.IsCompliantForLab(ctx, f.eng.ID, f.lab.ID, time.Time{})
	if err != nil || !ok {
		t.Fatalf("expected compliant before bump, got %v %v", ok, err)
	}

	doc, err := env.catalog.PublishVersion(ctx, manager, f.doc.ID, &Upload{Filename: "manual-v2.pdf", Body: bytes.NewReader([]byte("v2"))})
	if err != nil {
		t.Fatalf("PublishVersion: %v", err)
	}
	if doc.Version != 2 || doc.StorageKey == nil {
		t.Errorf("unexpected document after bump %+v", doc)
	}

	ok, err = engine.IsCompliantForLab(ctx, f.eng.ID, f.lab.ID, time.Time{})
	if err != nil {
		t.Fatalf("IsCompliantForLab: %v", err)
	}
	if ok {
		t.Error("version bump must invalidate compliance")
	}
}

func TestSelfAcknowledge(t *testing.T) {
	env := testSetup(t)
	f := newLabFixture(t, env)
	ctx := context.Background()

	if _, err := env.catalog.SelfAcknowledge(ctx, manager, nil, f.doc.ID); err == nil {
		t.Fatal("expected error for user without engineer link")
	}

	ack, err := env.catalog.SelfAcknowledge(ctx, manager, &f.eng.ID, f.doc.ID)
	if err != nil {
		t.Fatalf("SelfAcknowledge: %v", err)
	}
	if ack.Version != 1 {
		t.Errorf("expected ack of current version 1, got %d", ack.Version)
	}

	_, err = env.catalog.SelfAcknowledge(ctx, manager, &f.eng.ID, f.doc.ID)
	var ce *ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if !strings.Contains(ce.Message, "EE Lab Manual v1") {
		t.Errorf("conflict should name the document version, got %q", ce.Message)
	}
}

func TestMyDocuments(t *testing.T) {
	env := testSetup(t)
	f := newLabFixture(t, env)
	ctx := context.Background()

	docs, err := env.catalog.MyDocuments(ctx, &f.eng.ID)
	if err != nil {
		t.Fatalf("MyDocuments: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("no access rows means no documents, got %d", len(docs))
	}

	if _, err := env.access.RequestAccess(ctx, manager, f.eng.ID, f.lab.ID); err != nil {
		t.Fatalf("RequestAccess: %v", err)
	}
	if _, err := env.catalog.Acknowledge(ctx, manager, AckInput{EngineerID: f.eng.ID, DocumentID: f.doc.ID}); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}

	docs, err = env.catalog.MyDocuments(ctx, &f.eng.ID)
	if err != nil {
		t.Fatalf("MyDocuments: %v", err)
	}
	if len(docs) != 1 || !docs[0].Acked || docs[0].LabCode != "LAB-EE" {
		t.Errorf("unexpected documents %+v", docs)
	}
}

func TestDocumentKey_NoFile(t *testing.T) {
	env := testSetup(t)
	f := newLabFixture(t, env)

	if _, err := env.catalog.DocumentKey(context.Background(), f.doc.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for document without file, got %v", err)
	}
}
