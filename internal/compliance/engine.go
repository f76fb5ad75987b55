// Package compliance decides whether an engineer may use a lab. It combines
// training currency per lab requirement with acknowledgment of every mandatory
// lab document at its current version. Evaluation is read-only: a negative
// verdict is a normal result, never an error.
package compliance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nebari-dev/labgate/internal/calendar"
	"github.com/nebari-dev/labgate/internal/models"
	"github.com/nebari-dev/labgate/internal/store"
)

// Reader is the slice of the entity store the engine reads from.
// *store.Store satisfies it, both standalone and inside a transaction.
type Reader interface {
	GetLab(ctx context.Context, id uint) (*models.Lab, error)
	GetCourse(ctx context.Context, id uint) (*models.Course, error)
	ListRequirements(ctx context.Context, labID uint) ([]models.LabRequirement, error)
	LatestCompletion(ctx context.Context, engineerID, courseID uint) (*models.Completion, error)
	ListMandatoryDocuments(ctx context.Context, labID uint) ([]models.Document, error)
	HasAck(ctx context.Context, engineerID, documentID uint, version int) (bool, error)
}

// Training issue reasons reported by Evaluate.
const (
	ReasonNotCompleted  = "not_completed"
	ReasonExpired       = "expired"
	ReasonNoValidity    = "no_validity"
	ReasonMissingCourse = "missing_course"
)

// Engine evaluates compliance against a Reader.
type Engine struct {
	r   Reader
	now func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the clock used to resolve a zero as-of date.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New creates an Engine reading from r.
func New(r Reader, opts ...Option) *Engine {
	e := &Engine{r: r, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// With returns a copy of the engine reading from r, typically a transaction-bound store.
func (e *Engine) With(r Reader) *Engine {
	return &Engine{r: r, now: e.now}
}

// Today returns the engine's current UTC calendar date.
func (e *Engine) Today() time.Time {
	return calendar.Truncate(e.now().UTC())
}

func (e *Engine) resolve(asOf time.Time) time.Time {
	if asOf.IsZero() {
		return e.Today()
	}
	return calendar.Truncate(asOf)
}

// EffectiveMonths picks the requirement override when set, else the course default.
func EffectiveMonths(course *models.Course, override *int) *int {
	if override != nil {
		return override
	}
	return course.ValidMonths
}

// DueDate is the last day training taken on taken stays current: the
// validity window added in whole months, plus grace days.
func DueDate(taken time.Time, validMonths, graceDays int) time.Time {
	return calendar.AddDays(calendar.AddMonths(taken, validMonths), graceDays)
}

// IsTrainingCurrent reports whether the engineer's latest completion of course
// is still within the effective validity window plus graceDays on asOf.
// A missing or non-positive validity window is never current.
func (e *Engine) IsTrainingCurrent(ctx context.Context, engineerID uint, course *models.Course, overrideMonths *int, graceDays int, asOf time.Time) (bool, error) {
	reason, err := e.trainingIssue(ctx, engineerID, course, overrideMonths, graceDays, e.resolve(asOf))
	if err != nil {
		return false, err
	}
	return reason == "", nil
}

// trainingIssue returns "" when training is current, otherwise the reason it is not.
func (e *Engine) trainingIssue(ctx context.Context, engineerID uint, course *models.Course, overrideMonths *int, graceDays int, asOf time.Time) (string, error) {
	months := EffectiveMonths(course, overrideMonths)
	if months == nil || *months <= 0 {
		return ReasonNoValidity, nil
	}

	latest, err := e.r.LatestCompletion(ctx, engineerID, course.ID)
	if errors.Is(err, store.ErrNotFound) {
		return ReasonNotCompleted, nil
	}
	if err != nil {
		return "", fmt.Errorf("latest completion of course %d: %w", course.ID, err)
	}

	due := DueDate(calendar.Truncate(latest.DateTaken), *months, graceDays)
	if asOf.After(due) {
		return ReasonExpired, nil
	}
	return "", nil
}

// HasRequiredAcks reports whether every mandatory document of the lab is
// acknowledged at its current version. A lab without mandatory documents passes.
func (e *Engine) HasRequiredAcks(ctx context.Context, engineerID, labID uint) (bool, error) {
	missing, err := e.missingAcks(ctx, engineerID, labID, true)
	if err != nil {
		return false, err
	}
	return len(missing) == 0, nil
}

func (e *Engine) missingAcks(ctx context.Context, engineerID, labID uint, stopAtFirst bool) ([]DocumentIssue, error) {
	docs, err := e.r.ListMandatoryDocuments(ctx, labID)
	if err != nil {
		return nil, fmt.Errorf("mandatory documents of lab %d: %w", labID, err)
	}

	var missing []DocumentIssue
	for _, d := range docs {
		ok, err := e.r.HasAck(ctx, engineerID, d.ID, d.Version)
		if err != nil {
			return nil, fmt.Errorf("ack of document %d: %w", d.ID, err)
		}
		if ok {
			continue
		}
		missing = append(missing, DocumentIssue{DocumentID: d.ID, Title: d.Title, Version: d.Version})
		if stopAtFirst {
			break
		}
	}
	return missing, nil
}

// IsCompliantForLab is the boolean compliance verdict. It stops at the first failing check.
// A lab that does not exist is never compliant.
func (e *Engine) IsCompliantForLab(ctx context.Context, engineerID, labID uint, asOf time.Time) (bool, error) {
	v, err := e.evaluate(ctx, engineerID, labID, asOf, true)
	if err != nil {
		return false, err
	}
	return v.Compliant, nil
}

// Evaluate returns the detailed verdict, listing every failing course and document.
func (e *Engine) Evaluate(ctx context.Context, engineerID, labID uint, asOf time.Time) (*Verdict, error) {
	return e.evaluate(ctx, engineerID, labID, asOf, false)
}

func (e *Engine) evaluate(ctx context.Context, engineerID, labID uint, asOf time.Time, shortCircuit bool) (*Verdict, error) {
	day := e.resolve(asOf)
	v := &Verdict{EngineerID: engineerID, LabID: labID, AsOf: day}

	lab, err := e.r.GetLab(ctx, labID)
	if errors.Is(err, store.ErrNotFound) {
		return v, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get lab %d: %w", labID, err)
	}
	v.LabFound = true

	reqs, err := e.r.ListRequirements(ctx, labID)
	if err != nil {
		return nil, fmt.Errorf("requirements of lab %d: %w", labID, err)
	}

	for _, req := range reqs {
		course, err := e.r.GetCourse(ctx, req.CourseID)
		if errors.Is(err, store.ErrNotFound) {
			v.TrainingIssues = append(v.TrainingIssues, TrainingIssue{CourseID: req.CourseID, Reason: ReasonMissingCourse})
			if shortCircuit {
				return v, nil
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get course %d: %w", req.CourseID, err)
		}

		reason, err := e.trainingIssue(ctx, engineerID, course, req.ValidMonths, lab.GraceDays, day)
		if err != nil {
			return nil, err
		}
		if reason == "" {
			continue
		}
		v.TrainingIssues = append(v.TrainingIssues, TrainingIssue{CourseID: course.ID, CourseCode: course.Code, Reason: reason})
		if shortCircuit {
			return v, nil
		}
	}

	missing, err := e.missingAcks(ctx, engineerID, labID, shortCircuit)
	if err != nil {
		return nil, err
	}
	v.DocumentIssues = missing

	v.Compliant = len(v.TrainingIssues) == 0 && len(v.DocumentIssues) == 0
	return v, nil
}
