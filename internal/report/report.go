// Package report builds the CSV exports and the dashboard views derived from
// access, training and acknowledgment data.
package report

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/jszwec/csvutil"
	"github.com/nebari-dev/labgate/internal/calendar"
	"github.com/nebari-dev/labgate/internal/compliance"
	"github.com/nebari-dev/labgate/internal/models"
	"github.com/nebari-dev/labgate/internal/store"
)

// ErrUnknownReport is returned by Write for names not in Names().
var ErrUnknownReport = errors.New("unknown report")

// ExpiringWindowDays is the horizon of the expiring report.
const ExpiringWindowDays = 30

const timestampLayout = "2006-01-02T15:04:05"

// Builder assembles report rows.
type Builder struct {
	store  *store.Store
	engine *compliance.Engine
	now    func() time.Time
}

// NewBuilder creates a Builder.
func NewBuilder(st *store.Store, engine *compliance.Engine) *Builder {
	return &Builder{store: st, engine: engine, now: time.Now}
}

var filenames = map[string]string{
	"active":            "active_access.csv",
	"pending":           "pending_access.csv",
	"access":            "access_all_statuses.csv",
	"expiring30":        "expiring_30_days.csv",
	"completions":       "completions.csv",
	"doc_acks":          "document_acknowledgements.csv",
	"compliance_status": "compliance_status.csv",
}

// Names lists the available reports.
func Names() []string {
	names := make([]string, 0, len(filenames))
	for n := range filenames {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Filename returns the download filename of a report.
func Filename(name string) (string, bool) {
	f, ok := filenames[name]
	return f, ok
}

// Write renders the named report as CSV to w.
func (b *Builder) Write(ctx context.Context, name string, w io.Writer) error {
	var (
		rows   interface{}
		header interface{}
		err    error
	)
	switch name {
	case "active":
		rows, err = b.Active(ctx)
		header = ActiveRow{}
	case "pending":
		rows, err = b.Pending(ctx)
		header = PendingRow{}
	case "access":
		rows, err = b.Access(ctx)
		header = AccessRow{}
	case "expiring30":
		rows, err = b.Expiring(ctx, ExpiringWindowDays)
		header = ExpiringRow{}
	case "completions":
		rows, err = b.Completions(ctx)
		header = CompletionRow{}
	case "doc_acks":
		rows, err = b.DocAcks(ctx)
		header = DocAckRow{}
	case "compliance_status":
		rows, err = b.ComplianceStatus(ctx)
		header = StatusRow{}
	default:
		return fmt.Errorf("%w: %s", ErrUnknownReport, name)
	}
	if err != nil {
		return fmt.Errorf("build %s report: %w", name, err)
	}
	return encode(w, header, rows)
}

func encode(w io.Writer, header, rows interface{}) error {
	cw := csv.NewWriter(w)
	enc := csvutil.NewEncoder(cw)
	if err := enc.EncodeHeader(header); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	if err := enc.Encode(rows); err != nil {
		return fmt.Errorf("encode rows: %w", err)
	}
	cw.Flush()
	return cw.Error()
}

func labLabel(l models.Lab) string {
	return fmt.Sprintf("%s (%s)", l.Name, l.Code)
}

func stamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

type lookups struct {
	engineers map[uint]models.Engineer
	labs      map[uint]models.Lab
}

func (b *Builder) lookups(ctx context.Context) (*lookups, error) {
	engs, err := b.store.EngineersByID(ctx)
	if err != nil {
		return nil, err
	}
	labs, err := b.store.LabsByID(ctx)
	if err != nil {
		return nil, err
	}
	return &lookups{engineers: engs, labs: labs}, nil
}

// Access lists every access row of any status, newest first. Rows whose
// engineer or lab no longer exists are skipped.
func (b *Builder) Access(ctx context.Context, statuses ...models.AccessStatus) ([]AccessRow, error) {
	lk, err := b.lookups(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := b.store.ListAccessByStatus(ctx, statuses...)
	if err != nil {
		return nil, err
	}

	generated := stamp(b.now())
	out := make([]AccessRow, 0, len(rows))
	for _, r := range rows {
		eng, ok := lk.engineers[r.EngineerID]
		if !ok {
			continue
		}
		lab, ok := lk.labs[r.LabID]
		if !ok {
			continue
		}
		row := AccessRow{
			GeneratedAt:  generated,
			EngineerID:   eng.ID,
			EngineerName: eng.Name,
			LabID:        lab.ID,
			Lab:          labLabel(lab),
			Status:       string(r.Status),
			EffectiveAt:  stamp(r.EffectiveAt),
		}
		if r.ReasonCode != nil {
			row.ReasonCode = *r.ReasonCode
		}
		out = append(out, row)
	}
	return out, nil
}

// Active lists active grants.
func (b *Builder) Active(ctx context.Context) ([]ActiveRow, error) {
	rows, err := b.Access(ctx, models.AccessActive)
	if err != nil {
		return nil, err
	}
	out := make([]ActiveRow, len(rows))
	for i, r := range rows {
		out[i] = ActiveRow{r.GeneratedAt, r.EngineerID, r.EngineerName, r.LabID, r.Lab, r.EffectiveAt}
	}
	return out, nil
}

// Pending lists open requests.
func (b *Builder) Pending(ctx context.Context) ([]PendingRow, error) {
	rows, err := b.Access(ctx, models.AccessPending)
	if err != nil {
		return nil, err
	}
	out := make([]PendingRow, len(rows))
	for i, r := range rows {
		out[i] = PendingRow{r.GeneratedAt, r.EngineerID, r.EngineerName, r.LabID, r.Lab, r.EffectiveAt}
	}
	return out, nil
}

// Expiring lists the latest completion per (engineer, course) whose due date,
// under the course default validity, is at most withinDays away. Overdue
// completions are included with negative days. Courses without a validity
// window have no due date and are skipped.
func (b *Builder) Expiring(ctx context.Context, withinDays int) ([]ExpiringRow, error) {
	courses, err := b.store.CoursesByID(ctx)
	if err != nil {
		return nil, err
	}
	engs, err := b.store.EngineersByID(ctx)
	if err != nil {
		return nil, err
	}
	latest, err := b.store.LatestCompletions(ctx)
	if err != nil {
		return nil, err
	}

	today := calendar.Truncate(b.now().UTC())
	generated := stamp(b.now())
	var out []ExpiringRow
	for _, c := range latest {
		course, ok := courses[c.CourseID]
		if !ok || course.ValidMonths == nil || *course.ValidMonths <= 0 {
			continue
		}
		taken := calendar.Truncate(c.DateTaken)
		due := compliance.DueDate(taken, *course.ValidMonths, 0)
		days := calendar.DaysBetween(today, due)
		if days > withinDays {
			continue
		}
		out = append(out, ExpiringRow{
			GeneratedAt:  generated,
			EngineerID:   c.EngineerID,
			EngineerName: engs[c.EngineerID].Name,
			CourseID:     c.CourseID,
			CourseCode:   course.Code,
			Taken:        calendar.Format(taken),
			Due:          calendar.Format(due),
			DaysLeft:     days,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DaysLeft < out[j].DaysLeft })
	return out, nil
}

// Completions lists every completion, newest first.
func (b *Builder) Completions(ctx context.Context) ([]CompletionRow, error) {
	courses, err := b.store.CoursesByID(ctx)
	if err != nil {
		return nil, err
	}
	engs, err := b.store.EngineersByID(ctx)
	if err != nil {
		return nil, err
	}
	all, err := b.store.ListCompletions(ctx)
	if err != nil {
		return nil, err
	}

	today := calendar.Truncate(b.now().UTC())
	out := make([]CompletionRow, 0, len(all))
	for _, c := range all {
		course := courses[c.CourseID]
		taken := calendar.Truncate(c.DateTaken)
		row := CompletionRow{
			EngineerID:   c.EngineerID,
			EngineerName: engs[c.EngineerID].Name,
			CourseID:     c.CourseID,
			CourseCode:   course.Code,
			DateTaken:    calendar.Format(taken),
		}
		if course.ValidMonths != nil && *course.ValidMonths > 0 {
			due := compliance.DueDate(taken, *course.ValidMonths, 0)
			days := calendar.DaysBetween(today, due)
			row.DueDate = calendar.Format(due)
			row.DaysLeft = &days
		}
		if c.CertificateURL != nil {
			row.CertificateURL = *c.CertificateURL
		}
		if c.CertificateKey != nil {
			row.CertificateS3Key = *c.CertificateKey
		}
		out = append(out, row)
	}
	return out, nil
}

// DocAcks lists every acknowledgment, newest first.
func (b *Builder) DocAcks(ctx context.Context) ([]DocAckRow, error) {
	engs, err := b.store.EngineersByID(ctx)
	if err != nil {
		return nil, err
	}
	docs, err := b.store.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[uint]models.Document, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}
	acks, err := b.store.ListAcks(ctx, 0)
	if err != nil {
		return nil, err
	}

	out := make([]DocAckRow, 0, len(acks))
	for _, a := range acks {
		row := DocAckRow{
			EngineerID:     a.EngineerID,
			EngineerName:   engs[a.EngineerID].Name,
			DocumentID:     a.DocumentID,
			Version:        a.Version,
			AcknowledgedAt: stamp(a.AckedAt),
		}
		if d, ok := byID[a.DocumentID]; ok {
			row.Title = d.Title
			row.LabID = fmt.Sprint(d.LabID)
		}
		out = append(out, row)
	}
	return out, nil
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "None"
	}
	return strings.Join(items, "; ")
}

// ComplianceStatus evaluates every pending or active pair as of today.
func (b *Builder) ComplianceStatus(ctx context.Context) ([]StatusRow, error) {
	lk, err := b.lookups(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := b.store.ListAccessByStatus(ctx, models.AccessPending, models.AccessActive)
	if err != nil {
		return nil, err
	}

	out := make([]StatusRow, 0, len(rows))
	for _, r := range rows {
		eng, ok := lk.engineers[r.EngineerID]
		if !ok {
			continue
		}
		lab, ok := lk.labs[r.LabID]
		if !ok {
			continue
		}
		v, err := b.engine.Evaluate(ctx, r.EngineerID, r.LabID, time.Time{})
		if err != nil {
			return nil, err
		}
		training, docs := v.TrainingLabels(), v.DocumentLabels()
		out = append(out, StatusRow{
			EngineerID:     eng.ID,
			EngineerName:   eng.Name,
			LabID:          lab.ID,
			LabName:        lab.Name,
			AccessStatus:   string(r.Status),
			Compliant:      v.Compliant,
			TrainingIssues: joinOrNone(training),
			DocumentIssues: joinOrNone(docs),
			Training:       training,
			Documents:      docs,
		})
	}
	return out, nil
}

// Dashboard is the manager overview.
type Dashboard struct {
	PendingWithIssues  []StatusRow   `json:"pending_with_issues"`
	ActiveNotCompliant []StatusRow   `json:"active_not_compliant"`
	Expiring           []ExpiringRow `json:"expiring"`
	PendingCount       int           `json:"pending_count"`
	ActiveCount        int           `json:"active_count"`
}

// Dashboard returns pending requests that would not be approved, active
// grants that no longer comply, and training expiring within the window.
func (b *Builder) Dashboard(ctx context.Context) (*Dashboard, error) {
	status, err := b.ComplianceStatus(ctx)
	if err != nil {
		return nil, err
	}
	expiring, err := b.Expiring(ctx, ExpiringWindowDays)
	if err != nil {
		return nil, err
	}

	d := &Dashboard{Expiring: expiring}
	for _, s := range status {
		switch models.AccessStatus(s.AccessStatus) {
		case models.AccessPending:
			d.PendingCount++
			if !s.Compliant {
				d.PendingWithIssues = append(d.PendingWithIssues, s)
			}
		case models.AccessActive:
			d.ActiveCount++
			if !s.Compliant {
				d.ActiveNotCompliant = append(d.ActiveNotCompliant, s)
			}
		}
	}
	return d, nil
}
