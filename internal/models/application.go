// internal/models/application.go
package models

import (
	"strings"
	"time"
)

// Status is the decision state of an application. It only moves forward.
type Status string

const (
	StatusPending  Status = "Pending"
	StatusApproved Status = "Approved"
	StatusRejected Status = "Rejected"
)

// ParseStatus matches s against the known statuses ignoring case.
func ParseStatus(s string) (Status, bool) {
	for _, st := range []Status{StatusPending, StatusApproved, StatusRejected} {
		if strings.EqualFold(s, string(st)) {
			return st, true
		}
	}
	return "", false
}

// PaymentStatus tracks the payment sub-state set by approval.
type PaymentStatus string

const (
	PaymentPending     PaymentStatus = "Pending"
	PaymentPaid        PaymentStatus = "Paid"
	PaymentInstallment PaymentStatus = "Installment"
)

// Provenance records who decided an application and from where.
type Provenance struct {
	Username  string    `json:"username"`
	Device    string    `json:"device"`
	Browser   string    `json:"browser"`
	Timestamp time.Time `json:"timestamp"`
}

// Application is the canonical applicant record.
type Application struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Phone  string `json:"phone"`
	Course string `json:"course"`
	Status Status `json:"status"`

	AppliedDate  time.Time  `json:"appliedDate"`
	ApprovedDate *time.Time `json:"approvedDate,omitempty"`
	RejectedDate *time.Time `json:"rejectedDate,omitempty"`

	PaymentType       string        `json:"paymentType,omitempty"`
	PaymentAmount     *float64      `json:"paymentAmount,omitempty"`
	PaymentStatus     PaymentStatus `json:"paymentStatus"`
	UPITransactionID  string        `json:"upiTransactionId,omitempty"`
	InstallmentsPaid  int           `json:"installmentsPaid"`
	TotalInstallments int           `json:"totalInstallments"`

	RejectionReason string      `json:"rejectionReason,omitempty"`
	ApprovedBy      *Provenance `json:"approvedBy,omitempty"`
	RejectedBy      *Provenance `json:"rejectedBy,omitempty"`

	TechnicalSkills  string `json:"technicalSkills,omitempty"`
	Goals            string `json:"goals,omitempty"`
	YearOfStudy      string `json:"yearOfStudy,omitempty"`
	Branch           string `json:"branch,omitempty"`
	Department       string `json:"department,omitempty"`
	PreferredDomain  string `json:"preferredDomain,omitempty"`
	FinancialSupport string `json:"financialSupport,omitempty"`
	Questions        string `json:"questions,omitempty"`

	// Version is bumped by every conditional write.
	Version int64 `json:"version"`
}

func (a *Application) IsPending() bool {
	return a.Status == StatusPending
}

// Clone returns a deep copy so cache readers never share pointers with the cache.
func (a *Application) Clone() *Application {
	if a == nil {
		return nil
	}
	c := *a
	if a.ApprovedDate != nil {
		t := *a.ApprovedDate
		c.ApprovedDate = &t
	}
	if a.RejectedDate != nil {
		t := *a.RejectedDate
		c.RejectedDate = &t
	}
	if a.PaymentAmount != nil {
		v := *a.PaymentAmount
		c.PaymentAmount = &v
	}
	if a.ApprovedBy != nil {
		p := *a.ApprovedBy
		c.ApprovedBy = &p
	}
	if a.RejectedBy != nil {
		p := *a.RejectedBy
		c.RejectedBy = &p
	}
	return &c
}

// PaymentDetails is the approval input.
type PaymentDetails struct {
	Type   string  `json:"type"`
	Amount float64 `json:"amount"`
	// Optional overrides for installment plans.
	InstallmentsPaid  *int `json:"installmentsPaid,omitempty"`
	TotalInstallments *int `json:"totalInstallments,omitempty"`
}

// ApprovedRecord is the audit snapshot written on approval.
type ApprovedRecord struct {
	ID                string        `json:"id"`
	ApplicationID     string        `json:"applicationId"`
	StudentName       string        `json:"studentName"`
	StudentEmail      string        `json:"studentEmail"`
	StudentPhone      string        `json:"studentPhone"`
	Course            string        `json:"course"`
	PaymentType       string        `json:"paymentType"`
	PaymentAmount     float64       `json:"paymentAmount"`
	PaymentStatus     PaymentStatus `json:"paymentStatus"`
	UPITransactionID  string        `json:"upiTransactionId"`
	AppliedDate       time.Time     `json:"appliedDate"`
	ApprovedDate      time.Time     `json:"approvedDate"`
	ApprovedByUser    string        `json:"approvedByUsername"`
	ApprovedByDevice  string        `json:"approvedByDevice"`
	ApprovedByBrowser string        `json:"approvedByBrowser"`
}

// RejectedRecord is the audit snapshot written on rejection.
type RejectedRecord struct {
	ID                string    `json:"id"`
	ApplicationID     string    `json:"applicationId"`
	StudentName       string    `json:"studentName"`
	StudentEmail      string    `json:"studentEmail"`
	StudentPhone      string    `json:"studentPhone"`
	Course            string    `json:"course"`
	RejectionReason   string    `json:"rejectionReason"`
	AppliedDate       time.Time `json:"appliedDate"`
	RejectedDate      time.Time `json:"rejectedDate"`
	RejectedByUser    string    `json:"rejectedByUsername"`
	RejectedByDevice  string    `json:"rejectedByDevice"`
	RejectedByBrowser string    `json:"rejectedByBrowser"`
}

// PaymentRecord is one payment ledger row.
type PaymentRecord struct {
	ID               string        `json:"id"`
	ApplicationID    string        `json:"applicationId"`
	StudentName      string        `json:"studentName"`
	StudentEmail     string        `json:"studentEmail"`
	StudentPhone     string        `json:"studentPhone"`
	Course           string        `json:"course"`
	PaymentAmount    float64       `json:"paymentAmount"`
	PaymentType      string        `json:"paymentType"`
	PaymentStatus    PaymentStatus `json:"paymentStatus"`
	UPITransactionID string        `json:"upiTransactionId"`
	PaymentDate      time.Time     `json:"paymentDate"`
}
