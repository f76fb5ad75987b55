package compliance

import (
	"strconv"
	"strings"
	"time"
)

// Verdict is the detailed compliance result for an (engineer, lab) pair.
type Verdict struct {
	EngineerID     uint            `json:"engineer_id"`
	LabID          uint            `json:"lab_id"`
	AsOf           time.Time       `json:"as_of"`
	Compliant      bool            `json:"compliant"`
	LabFound       bool            `json:"lab_found"`
	TrainingIssues []TrainingIssue `json:"training_issues,omitempty"`
	DocumentIssues []DocumentIssue `json:"document_issues,omitempty"`
}

// TrainingIssue names a required course that is not current.
type TrainingIssue struct {
	CourseID   uint   `json:"course_id"`
	CourseCode string `json:"course_code,omitempty"`
	Reason     string `json:"reason"`
}

// DocumentIssue names a mandatory document whose current version is not acknowledged.
type DocumentIssue struct {
	DocumentID uint   `json:"document_id"`
	Title      string `json:"title"`
	Version    int    `json:"version"`
}

// CourseCodes returns the codes of failing courses, falling back to "#id" for dangling ones.
func (v *Verdict) CourseCodes() []string {
	codes := make([]string, 0, len(v.TrainingIssues))
	for _, ti := range v.TrainingIssues {
		if ti.CourseCode != "" {
			codes = append(codes, ti.CourseCode)
		} else {
			codes = append(codes, "#"+strconv.FormatUint(uint64(ti.CourseID), 10))
		}
	}
	return codes
}

// DocumentLabels returns "title vN" for each unacknowledged document.
func (v *Verdict) DocumentLabels() []string {
	labels := make([]string, 0, len(v.DocumentIssues))
	for _, di := range v.DocumentIssues {
		labels = append(labels, di.Title+" v"+strconv.Itoa(di.Version))
	}
	return labels
}

// TrainingLabels returns "CODE (reason)" for each failing course.
func (v *Verdict) TrainingLabels() []string {
	codes := v.CourseCodes()
	labels := make([]string, len(codes))
	for i, ti := range v.TrainingIssues {
		labels[i] = codes[i] + " (" + strings.ReplaceAll(ti.Reason, "_", " ") + ")"
	}
	return labels
}
