package fixture

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"github.com/jszwec/csvutil"
)

// CompletionRecord is one row of a completions CSV export from a training system.
type CompletionRecord struct {
	EmployeeNo     string `csv:"employee_no"`
	CourseCode     string `csv:"course_code"`
	DateTaken      string `csv:"date_taken"`
	CertificateURL string `csv:"certificate_url,omitempty"`
}

// ParseCompletionsCSV reads completions keyed by employee number and course
// code. The first line must be a header naming the columns.
func ParseCompletionsCSV(r io.Reader) (*Fixture, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	dec, err := csvutil.NewDecoder(cr)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return &Fixture{}, nil
		}
		return nil, fmt.Errorf("failed to create CSV decoder for completions: %w", err)
	}

	var records []CompletionRecord
	if err := dec.Decode(&records); err != nil {
		return nil, fmt.Errorf("failed to decode completions CSV: %w", err)
	}

	fx := &Fixture{Completions: make([]Completion, 0, len(records))}
	for i, rec := range records {
		if rec.EmployeeNo == "" || rec.CourseCode == "" || rec.DateTaken == "" {
			return nil, fmt.Errorf("completions CSV line %d: employee_no, course_code and date_taken are required", i+2)
		}
		fx.Completions = append(fx.Completions, Completion{
			Engineer:       rec.EmployeeNo,
			Course:         rec.CourseCode,
			When:           When{Date: rec.DateTaken},
			CertificateURL: rec.CertificateURL,
		})
	}
	return fx, nil
}
