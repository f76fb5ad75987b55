package report

// AccessRow is one LabAccess row joined with engineer and lab names.
type AccessRow struct {
	GeneratedAt  string `csv:"generated_at_utc" json:"-"`
	EngineerID   uint   `csv:"engineer_id" json:"engineer_id"`
	EngineerName string `csv:"engineer_name" json:"engineer_name"`
	LabID        uint   `csv:"lab_id" json:"lab_id"`
	Lab          string `csv:"lab" json:"lab"`
	Status       string `csv:"status" json:"status"`
	ReasonCode   string `csv:"reason_code" json:"reason_code,omitempty"`
	EffectiveAt  string `csv:"effective_at_utc" json:"effective_at"`
}

// ActiveRow is an active access grant.
type ActiveRow struct {
	GeneratedAt  string `csv:"generated_at_utc"`
	EngineerID   uint   `csv:"engineer_id"`
	EngineerName string `csv:"engineer_name"`
	LabID        uint   `csv:"lab_id"`
	Lab          string `csv:"lab"`
	Since        string `csv:"since_utc"`
}

// PendingRow is an open access request.
type PendingRow struct {
	GeneratedAt  string `csv:"generated_at_utc"`
	EngineerID   uint   `csv:"engineer_id"`
	EngineerName string `csv:"engineer_name"`
	LabID        uint   `csv:"lab_id"`
	Lab          string `csv:"lab"`
	Requested    string `csv:"requested_utc"`
}

// ExpiringRow is the latest completion of a course nearing or past its due date.
type ExpiringRow struct {
	GeneratedAt  string `csv:"generated_at_utc" json:"-"`
	EngineerID   uint   `csv:"engineer_id" json:"engineer_id"`
	EngineerName string `csv:"engineer_name" json:"engineer_name"`
	CourseID     uint   `csv:"course_id" json:"course_id"`
	CourseCode   string `csv:"course_code" json:"course_code"`
	Taken        string `csv:"taken" json:"taken"`
	Due          string `csv:"due" json:"due"`
	DaysLeft     int    `csv:"days_left" json:"days_left"`
}

// CompletionRow is one recorded completion with its due date under the course default.
type CompletionRow struct {
	EngineerID       uint   `csv:"engineer_id"`
	EngineerName     string `csv:"engineer_name"`
	CourseID         uint   `csv:"course_id"`
	CourseCode       string `csv:"course_code"`
	DateTaken        string `csv:"date_taken"`
	DueDate          string `csv:"due_date"`
	DaysLeft         *int   `csv:"days_left"`
	CertificateURL   string `csv:"certificate_url"`
	CertificateS3Key string `csv:"certificate_s3_key"`
}

// DocAckRow is one document acknowledgment.
type DocAckRow struct {
	EngineerID     uint   `csv:"engineer_id"`
	EngineerName   string `csv:"engineer_name"`
	DocumentID     uint   `csv:"document_id"`
	Title          string `csv:"title"`
	LabID          string `csv:"lab_id"`
	Version        int    `csv:"version"`
	AcknowledgedAt string `csv:"acknowledged_at"`
}

// StatusRow is the compliance verdict of a pending or active pair.
type StatusRow struct {
	EngineerID     uint     `csv:"engineer_id" json:"engineer_id"`
	EngineerName   string   `csv:"engineer_name" json:"engineer_name"`
	LabID          uint     `csv:"lab_id" json:"lab_id"`
	LabName        string   `csv:"lab_name" json:"lab_name"`
	AccessStatus   string   `csv:"access_status" json:"access_status"`
	Compliant      bool     `csv:"-" json:"compliant"`
	TrainingIssues string   `csv:"training_issues" json:"-"`
	DocumentIssues string   `csv:"document_issues" json:"-"`
	Training       []string `csv:"-" json:"training_issues"`
	Documents      []string `csv:"-" json:"document_issues"`
}
