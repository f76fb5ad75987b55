// Package fixture imports reference data from YAML and CSV files. Imports are
// idempotent: rows that already exist under their natural key are left alone.
package fixture

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/nebari-dev/labgate/internal/calendar"
	"github.com/nebari-dev/labgate/internal/models"
	"github.com/nebari-dev/labgate/internal/store"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

//go:embed seed.yaml
var seedYAML []byte

// Fixture is the YAML document layout. Engineers, labs and courses are
// referenced by employee number or code.
type Fixture struct {
	Engineers    []Engineer    `yaml:"engineers"`
	Labs         []Lab         `yaml:"labs"`
	Courses      []Course      `yaml:"courses"`
	Requirements []Requirement `yaml:"requirements"`
	Completions  []Completion  `yaml:"completions"`
	Documents    []Document    `yaml:"documents"`
	Acks         []Ack         `yaml:"acks"`
	Access       []Access      `yaml:"access"`
	Metrics      []Metrics     `yaml:"metrics"`
	Users        []User        `yaml:"users"`
}

type Engineer struct {
	EmployeeNo string `yaml:"employee_no"`
	Name       string `yaml:"name"`
	Email      string `yaml:"email"`
}

type Lab struct {
	Code      string `yaml:"code"`
	Name      string `yaml:"name"`
	GraceDays int    `yaml:"grace_days"`
}

type Course struct {
	Code        string `yaml:"code"`
	Name        string `yaml:"name"`
	ValidMonths *int   `yaml:"valid_months"`
}

type Requirement struct {
	Lab         string `yaml:"lab"`
	Course      string `yaml:"course"`
	ValidMonths *int   `yaml:"valid_months"`
}

// When is either an absolute date or a number of days before the import day.
type When struct {
	Date    string `yaml:"date"`
	DaysAgo *int   `yaml:"days_ago"`
}

func (w When) resolve(today time.Time) (time.Time, error) {
	switch {
	case w.Date != "":
		return calendar.Parse(w.Date)
	case w.DaysAgo != nil:
		return calendar.AddDays(today, -*w.DaysAgo), nil
	default:
		return today, nil
	}
}

type Completion struct {
	Engineer       string `yaml:"engineer"`
	Course         string `yaml:"course"`
	When           `yaml:",inline"`
	CertificateURL string `yaml:"certificate_url"`
}

type Document struct {
	Lab       string `yaml:"lab"`
	Title     string `yaml:"title"`
	Version   int    `yaml:"version"`
	Mandatory *bool  `yaml:"mandatory"`
}

// Ack acknowledges the current version of a lab document by title.
type Ack struct {
	Engineer string `yaml:"engineer"`
	Lab      string `yaml:"lab"`
	Title    string `yaml:"title"`
}

type Access struct {
	Engineer string `yaml:"engineer"`
	Lab      string `yaml:"lab"`
	Status   string `yaml:"status"`
}

type Metrics struct {
	Lab         string `yaml:"lab"`
	When        `yaml:",inline"`
	Utilization int `yaml:"utilization"`
	Condition   int `yaml:"condition"`
	Activity    int `yaml:"activity"`
}

type User struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	Role     string `yaml:"role"`
	Engineer string `yaml:"engineer"`
}

// Summary counts the rows an import inserted, per table.
type Summary map[string]int

func (s Summary) String() string {
	var parts []string
	for _, k := range []string{"engineers", "labs", "courses", "requirements", "completions", "documents", "acks", "access", "metrics", "users"} {
		if n := s[k]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", k, n))
		}
	}
	if len(parts) == 0 {
		return "nothing new"
	}
	return strings.Join(parts, " ")
}

// Parse decodes a YAML fixture. Unknown keys are rejected.
func Parse(r io.Reader) (*Fixture, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var fx Fixture
	if err := dec.Decode(&fx); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}
	return &fx, nil
}

// Demo returns the embedded demo data set.
func Demo() (*Fixture, error) {
	var fx Fixture
	if err := yaml.Unmarshal(seedYAML, &fx); err != nil {
		return nil, fmt.Errorf("parse embedded seed: %w", err)
	}
	return &fx, nil
}

// Importer writes fixtures into the entity store.
type Importer struct {
	store *store.Store
	now   func() time.Time
}

// NewImporter creates an Importer.
func NewImporter(st *store.Store) *Importer {
	return &Importer{store: st, now: time.Now}
}

// Apply imports fx in one transaction. Any invalid entry aborts the whole import.
func (im *Importer) Apply(ctx context.Context, fx *Fixture) (Summary, error) {
	sum := Summary{}
	err := im.store.Transaction(ctx, func(tx *store.Store) error {
		a := &applier{tx: tx, sum: sum, today: calendar.Truncate(im.now().UTC()), now: im.now().UTC()}
		return a.apply(ctx, fx)
	})
	if err != nil {
		return nil, err
	}
	return sum, nil
}

type applier struct {
	tx    *store.Store
	sum   Summary
	today time.Time
	now   time.Time
}

func (a *applier) insert(ctx context.Context, table string, v interface{}) error {
	created, err := a.tx.CreateIfAbsent(ctx, v)
	if err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	if created {
		a.sum[table]++
	}
	return nil
}

func (a *applier) engineer(ctx context.Context, no string) (*models.Engineer, error) {
	e, err := a.tx.GetEngineerByEmployeeNo(ctx, no)
	if err != nil {
		return nil, fmt.Errorf("engineer %q: %w", no, err)
	}
	return e, nil
}

func (a *applier) lab(ctx context.Context, code string) (*models.Lab, error) {
	l, err := a.tx.GetLabByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("lab %q: %w", code, err)
	}
	return l, nil
}

func (a *applier) course(ctx context.Context, code string) (*models.Course, error) {
	c, err := a.tx.GetCourseByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("course %q: %w", code, err)
	}
	return c, nil
}

func (a *applier) apply(ctx context.Context, fx *Fixture) error {
	for _, e := range fx.Engineers {
		if e.EmployeeNo == "" || e.Name == "" || e.Email == "" {
			return fmt.Errorf("engineer %q: employee_no, name and email are required", e.EmployeeNo)
		}
		if err := a.insert(ctx, "engineers", &models.Engineer{EmployeeNo: e.EmployeeNo, Name: e.Name, Email: strings.ToLower(e.Email)}); err != nil {
			return err
		}
	}
	for _, l := range fx.Labs {
		if l.GraceDays < 0 {
			return fmt.Errorf("lab %q: grace_days cannot be negative", l.Code)
		}
		if err := a.insert(ctx, "labs", &models.Lab{Code: l.Code, Name: l.Name, GraceDays: l.GraceDays}); err != nil {
			return err
		}
	}
	for _, c := range fx.Courses {
		if c.ValidMonths != nil && *c.ValidMonths <= 0 {
			return fmt.Errorf("course %q: valid_months must be greater than 0", c.Code)
		}
		if err := a.insert(ctx, "courses", &models.Course{Code: c.Code, Name: c.Name, ValidMonths: c.ValidMonths}); err != nil {
			return err
		}
	}
	for _, r := range fx.Requirements {
		lab, err := a.lab(ctx, r.Lab)
		if err != nil {
			return err
		}
		course, err := a.course(ctx, r.Course)
		if err != nil {
			return err
		}
		if err := a.insert(ctx, "requirements", &models.LabRequirement{LabID: lab.ID, CourseID: course.ID, ValidMonths: r.ValidMonths}); err != nil {
			return err
		}
	}
	for _, c := range fx.Completions {
		if err := a.completion(ctx, c); err != nil {
			return err
		}
	}
	for _, d := range fx.Documents {
		lab, err := a.lab(ctx, d.Lab)
		if err != nil {
			return err
		}
		version := d.Version
		if version <= 0 {
			version = 1
		}
		mandatory := d.Mandatory == nil || *d.Mandatory
		doc := &models.Document{LabID: lab.ID, Title: d.Title, Version: version, Mandatory: mandatory, UploadedAt: a.now}
		if err := a.insert(ctx, "documents", doc); err != nil {
			return err
		}
	}
	for _, ack := range fx.Acks {
		if err := a.ack(ctx, ack); err != nil {
			return err
		}
	}
	for _, acc := range fx.Access {
		if err := a.access(ctx, acc); err != nil {
			return err
		}
	}
	for _, m := range fx.Metrics {
		lab, err := a.lab(ctx, m.Lab)
		if err != nil {
			return err
		}
		asOf, err := m.When.resolve(a.today)
		if err != nil {
			return fmt.Errorf("metrics for %q: %w", m.Lab, err)
		}
		for _, v := range []int{m.Utilization, m.Condition, m.Activity} {
			if v < 0 || v > 100 {
				return fmt.Errorf("metrics for %q: values must be within 0..100", m.Lab)
			}
		}
		row := &models.LabMetrics{LabID: lab.ID, AsOf: asOf, Utilization: m.Utilization, Condition: m.Condition, Activity: m.Activity}
		if err := a.insert(ctx, "metrics", row); err != nil {
			return err
		}
	}
	for _, u := range fx.Users {
		if err := a.user(ctx, u); err != nil {
			return err
		}
	}
	return nil
}

func (a *applier) completion(ctx context.Context, c Completion) error {
	eng, err := a.engineer(ctx, c.Engineer)
	if err != nil {
		return err
	}
	course, err := a.course(ctx, c.Course)
	if err != nil {
		return err
	}
	taken, err := c.When.resolve(a.today)
	if err != nil {
		return fmt.Errorf("completion of %s by %s: %w", c.Course, c.Engineer, err)
	}
	row := &models.Completion{EngineerID: eng.ID, CourseID: course.ID, DateTaken: taken}
	if c.CertificateURL != "" {
		u := c.CertificateURL
		row.CertificateURL = &u
	}
	return a.insert(ctx, "completions", row)
}

func (a *applier) ack(ctx context.Context, ack Ack) error {
	eng, err := a.engineer(ctx, ack.Engineer)
	if err != nil {
		return err
	}
	lab, err := a.lab(ctx, ack.Lab)
	if err != nil {
		return err
	}
	docs, err := a.tx.ListMandatoryDocuments(ctx, lab.ID)
	if err != nil {
		return err
	}
	for _, d := range docs {
		if d.Title != ack.Title {
			continue
		}
		return a.insert(ctx, "acks", &models.DocumentAck{EngineerID: eng.ID, DocumentID: d.ID, Version: d.Version, AckedAt: a.now})
	}
	return fmt.Errorf("ack: no mandatory document %q in lab %q", ack.Title, ack.Lab)
}

func (a *applier) access(ctx context.Context, acc Access) error {
	status := models.AccessStatus(acc.Status)
	if status == "" {
		status = models.AccessPending
	}
	if !status.Valid() {
		return fmt.Errorf("access for %s: invalid status %q", acc.Engineer, acc.Status)
	}
	eng, err := a.engineer(ctx, acc.Engineer)
	if err != nil {
		return err
	}
	lab, err := a.lab(ctx, acc.Lab)
	if err != nil {
		return err
	}
	reason := models.ReasonRequested
	row := &models.LabAccess{EngineerID: eng.ID, LabID: lab.ID, Status: status, ReasonCode: &reason, EffectiveAt: a.now}
	return a.insert(ctx, "access", row)
}

func (a *applier) user(ctx context.Context, u User) error {
	switch u.Role {
	case models.RoleAdmin, models.RoleManager, models.RoleEngineer:
	default:
		return fmt.Errorf("user %q: invalid role %q", u.Email, u.Role)
	}
	if u.Email == "" || u.Password == "" {
		return fmt.Errorf("user %q: email and password are required", u.Email)
	}
	if _, err := a.tx.GetUserByEmail(ctx, u.Email); err == nil {
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password for %q: %w", u.Email, err)
	}
	row := &models.User{
		Email:        strings.ToLower(u.Email),
		PasswordHash: string(hash),
		Role:         u.Role,
		IsActive:     true,
	}
	if u.Engineer != "" {
		eng, err := a.engineer(ctx, u.Engineer)
		if err != nil {
			return err
		}
		row.EngineerID = &eng.ID
	}
	return a.insert(ctx, "users", row)
}
