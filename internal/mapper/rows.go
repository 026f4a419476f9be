package mapper

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"admissions-workers/internal/models"
	"admissions-workers/internal/store"
)

// Application table columns.
const (
	ColID                = "id"
	ColName              = "name"
	ColEmail             = "email"
	ColPhone             = "phone"
	ColCourse            = "course"
	ColStatus            = "status"
	ColAppliedDate       = "applied_date"
	ColApprovedDate      = "approved_date"
	ColRejectedDate      = "rejected_date"
	ColPaymentType       = "payment_type"
	ColPaymentAmount     = "payment_amount"
	ColPaymentStatus     = "payment_status"
	ColUPITransactionID  = "upi_transaction_id"
	ColInstallmentsPaid  = "installments_paid"
	ColTotalInstallments = "total_installments"
	ColRejectionReason   = "rejection_reason"
	ColApprovedBy        = "approved_by"
	ColRejectedBy        = "rejected_by"
	ColVersion           = "version"
)

// NewApplicationRow is the insert row for a first-seen candidate: Pending,
// payment fields in zero state, version 1.
func NewApplicationRow(c Candidate, totalInstallments int) store.Row {
	return store.Row{
		ColID:                c.ID,
		ColName:              c.Name,
		ColEmail:             c.Email,
		ColPhone:             nullable(c.Phone),
		ColCourse:            nullable(c.Course),
		ColStatus:            string(models.StatusPending),
		ColAppliedDate:       c.AppliedDate,
		ColApprovedDate:      nil,
		ColRejectedDate:      nil,
		ColPaymentType:       nullable(c.PaymentType),
		ColPaymentAmount:     nil,
		ColPaymentStatus:     string(models.PaymentPending),
		ColUPITransactionID:  nullable(c.UPITransactionID),
		ColInstallmentsPaid:  int64(0),
		ColTotalInstallments: int64(totalInstallments),
		ColRejectionReason:   nil,
		ColApprovedBy:        nil,
		ColRejectedBy:        nil,
		"technical_skills":   nullable(c.Profile.TechnicalSkills),
		"goals":              nullable(c.Profile.Goals),
		"year_of_study":      nullable(c.Profile.YearOfStudy),
		"branch":             nullable(c.Profile.Branch),
		"department":         nullable(c.Profile.Department),
		"preferred_domain":   nullable(c.Profile.PreferredDomain),
		"financial_support":  nullable(c.Profile.FinancialSupport),
		"questions":          nullable(c.Profile.Questions),
		ColVersion:           int64(1),
	}
}

// MutablePatch holds only the fields sync may refresh on a Pending record.
func MutablePatch(c Candidate) store.Row {
	return store.Row{
		ColName:             c.Name,
		ColEmail:            c.Email,
		ColPhone:            nullable(c.Phone),
		ColCourse:           nullable(c.Course),
		ColPaymentType:      nullable(c.PaymentType),
		ColUPITransactionID: nullable(c.UPITransactionID),
	}
}

// VersionGuard is the conditional-write filter for a record read at version.
func VersionGuard(id string, status models.Status, version int64) store.Filter {
	return store.Filter{ColID: id, ColStatus: string(status), ColVersion: version}
}

// ApplicationFromRow decodes a store row. It accepts the value kinds lib/pq
// and the memory store produce: string, []byte, time.Time, int64, float64, nil.
func ApplicationFromRow(r store.Row) (*models.Application, error) {
	id := str(r[ColID])
	if id == "" {
		return nil, fmt.Errorf("application row without id")
	}

	a := &models.Application{
		ID:                id,
		Name:              str(r[ColName]),
		Email:             str(r[ColEmail]),
		Phone:             str(r[ColPhone]),
		Course:            str(r[ColCourse]),
		Status:            models.Status(str(r[ColStatus])),
		PaymentType:       str(r[ColPaymentType]),
		PaymentStatus:     models.PaymentStatus(str(r[ColPaymentStatus])),
		UPITransactionID:  str(r[ColUPITransactionID]),
		RejectionReason:   str(r[ColRejectionReason]),
		TechnicalSkills:   str(r["technical_skills"]),
		Goals:             str(r["goals"]),
		YearOfStudy:       str(r["year_of_study"]),
		Branch:            str(r["branch"]),
		Department:        str(r["department"]),
		PreferredDomain:   str(r["preferred_domain"]),
		FinancialSupport:  str(r["financial_support"]),
		Questions:         str(r["questions"]),
		InstallmentsPaid:  int(integer(r[ColInstallmentsPaid])),
		TotalInstallments: int(integer(r[ColTotalInstallments])),
		Version:           integer(r[ColVersion]),
	}
	if a.Status == "" {
		a.Status = models.StatusPending
	}
	if a.PaymentStatus == "" {
		a.PaymentStatus = models.PaymentPending
	}
	if a.TotalInstallments == 0 {
		a.TotalInstallments = 2
	}

	var err error
	if a.AppliedDate, err = timestamp(r[ColAppliedDate]); err != nil {
		return nil, fmt.Errorf("application %s: applied_date: %w", id, err)
	}
	if a.ApprovedDate, err = optionalTimestamp(r[ColApprovedDate]); err != nil {
		return nil, fmt.Errorf("application %s: approved_date: %w", id, err)
	}
	if a.RejectedDate, err = optionalTimestamp(r[ColRejectedDate]); err != nil {
		return nil, fmt.Errorf("application %s: rejected_date: %w", id, err)
	}
	if f, ok := number(r[ColPaymentAmount]); ok {
		a.PaymentAmount = &f
	}
	a.ApprovedBy = provenance(r[ColApprovedBy])
	a.RejectedBy = provenance(r[ColRejectedBy])

	return a, nil
}

// ProvenanceValue encodes provenance for the TEXT column it is stored in.
func ProvenanceValue(p *models.Provenance) interface{} {
	if p == nil {
		return nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil
	}
	return string(b)
}

// ApprovedRecordRow is the audit row written on approval.
func ApprovedRecordRow(rec models.ApprovedRecord) store.Row {
	return store.Row{
		"id":                   rec.ID,
		"application_id":       rec.ApplicationID,
		"student_name":         rec.StudentName,
		"student_email":        rec.StudentEmail,
		"student_phone":        nullable(rec.StudentPhone),
		"course":               nullable(rec.Course),
		"payment_type":         nullable(rec.PaymentType),
		"payment_amount":       rec.PaymentAmount,
		"payment_status":       string(rec.PaymentStatus),
		"upi_transaction_id":   nullable(rec.UPITransactionID),
		"applied_date":         rec.AppliedDate,
		"approved_date":        rec.ApprovedDate,
		"approved_by_username": rec.ApprovedByUser,
		"approved_by_device":   rec.ApprovedByDevice,
		"approved_by_browser":  rec.ApprovedByBrowser,
	}
}

// RejectedRecordRow is the audit row written on rejection.
func RejectedRecordRow(rec models.RejectedRecord) store.Row {
	return store.Row{
		"id":                   rec.ID,
		"application_id":       rec.ApplicationID,
		"student_name":         rec.StudentName,
		"student_email":        rec.StudentEmail,
		"student_phone":        nullable(rec.StudentPhone),
		"course":               nullable(rec.Course),
		"rejection_reason":     rec.RejectionReason,
		"applied_date":         rec.AppliedDate,
		"rejected_date":        rec.RejectedDate,
		"rejected_by_username": rec.RejectedByUser,
		"rejected_by_device":   rec.RejectedByDevice,
		"rejected_by_browser":  rec.RejectedByBrowser,
	}
}

// PaymentRecordRow is the ledger row written on approval.
func PaymentRecordRow(rec models.PaymentRecord) store.Row {
	phone := rec.StudentPhone
	if phone == "" {
		phone = "Not provided"
	}
	return store.Row{
		"id":                 rec.ID,
		"application_id":     rec.ApplicationID,
		"student_name":       rec.StudentName,
		"student_email":      rec.StudentEmail,
		"student_phone":      phone,
		"course":             nullable(rec.Course),
		"payment_amount":     rec.PaymentAmount,
		"payment_type":       nullable(rec.PaymentType),
		"payment_status":     string(rec.PaymentStatus),
		"upi_transaction_id": nullable(rec.UPITransactionID),
		"payment_date":       rec.PaymentDate,
	}
}

// PaymentRecordFromRow decodes a ledger row.
func PaymentRecordFromRow(r store.Row) (models.PaymentRecord, error) {
	paid, err := timestamp(r["payment_date"])
	if err != nil {
		return models.PaymentRecord{}, fmt.Errorf("payment %s: payment_date: %w", str(r["id"]), err)
	}
	amount, _ := number(r["payment_amount"])
	return models.PaymentRecord{
		ID:               str(r["id"]),
		ApplicationID:    str(r["application_id"]),
		StudentName:      str(r["student_name"]),
		StudentEmail:     str(r["student_email"]),
		StudentPhone:     str(r["student_phone"]),
		Course:           str(r["course"]),
		PaymentAmount:    amount,
		PaymentType:      str(r["payment_type"]),
		PaymentStatus:    models.PaymentStatus(str(r["payment_status"])),
		UPITransactionID: str(r["upi_transaction_id"]),
		PaymentDate:      paid,
	}, nil
}

// AdminLogRow is the admin_logs insert row.
func AdminLogRow(l models.AdminLog) store.Row {
	return store.Row{
		"id":         l.ID,
		"type":       l.Type,
		"title":      l.Title,
		"message":    l.Message,
		"username":   l.Username,
		"device":     l.Device,
		"browser":    l.Browser,
		"platform":   l.Platform,
		"created_at": l.CreatedAt,
	}
}

// AdminLogFromRow decodes an admin_logs row.
func AdminLogFromRow(r store.Row) (models.AdminLog, error) {
	created, err := timestamp(r["created_at"])
	if err != nil {
		return models.AdminLog{}, fmt.Errorf("admin log %s: created_at: %w", str(r["id"]), err)
	}
	return models.AdminLog{
		ID:        str(r["id"]),
		Type:      str(r["type"]),
		Title:     str(r["title"]),
		Message:   str(r["message"]),
		Username:  str(r["username"]),
		Device:    str(r["device"]),
		Browser:   str(r["browser"]),
		Platform:  str(r["platform"]),
		CreatedAt: created,
	}, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func str(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	default:
		return fmt.Sprint(x)
	}
}

func integer(v interface{}) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case float64:
		return int64(x)
	case string, []byte:
		n, _ := strconv.ParseInt(str(x), 10, 64)
		return n
	}
	return 0
}

func number(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case string, []byte:
		f, err := strconv.ParseFloat(str(x), 64)
		return f, err == nil
	}
	return 0, false
}

var rowTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05.999999999",
}

func timestamp(v interface{}) (time.Time, error) {
	switch x := v.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return x.UTC(), nil
	case string, []byte:
		s := str(x)
		for _, layout := range rowTimeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognised time %q", s)
	}
	return time.Time{}, fmt.Errorf("unsupported time value %T", v)
}

func optionalTimestamp(v interface{}) (*time.Time, error) {
	if v == nil {
		return nil, nil
	}
	t, err := timestamp(v)
	if err != nil || t.IsZero() {
		return nil, err
	}
	return &t, nil
}

// provenance tolerates legacy rows holding a bare username or bad JSON.
func provenance(v interface{}) *models.Provenance {
	s := str(v)
	if s == "" || s == "null" {
		return nil
	}
	var p models.Provenance
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return &models.Provenance{Username: s}
	}
	return &p
}
