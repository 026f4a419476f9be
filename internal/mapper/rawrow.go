// Package mapper converts feed rows into sync candidates and application
// records to and from store rows. Column-name heuristics stay in here.
package mapper

import (
	"fmt"
	"strings"
	"time"
)

// RawRow is one feed data row with its header, in column order.
type RawRow struct {
	// Index is the 1-based data row number, used for generated ids.
	Index  int
	header []string
	values map[string]string
}

// NewRawRow pairs header and values. Missing trailing values read as "".
// Duplicate header names keep the first column's value.
func NewRawRow(index int, header, values []string) RawRow {
	r := RawRow{Index: index, header: make([]string, 0, len(header)), values: make(map[string]string, len(header))}
	for i, h := range header {
		if _, dup := r.values[h]; dup {
			continue
		}
		v := ""
		if i < len(values) {
			v = strings.TrimSpace(values[i])
		}
		r.header = append(r.header, h)
		r.values[h] = v
	}
	return r
}

// Value returns the cell under an exact header name.
func (r RawRow) Value(column string) string {
	return r.values[column]
}

// Empty reports whether every cell is blank.
func (r RawRow) Empty() bool {
	for _, v := range r.values {
		if v != "" {
			return false
		}
	}
	return true
}

// first returns the first non-empty value among exact column names.
func (r RawRow) first(columns ...string) string {
	for _, c := range columns {
		if v := r.values[c]; v != "" {
			return v
		}
	}
	return ""
}

// find returns the value of the first column, in header order, whose
// lower-cased name satisfies pred. The value may be empty.
func (r RawRow) find(pred func(lower string) bool) (string, bool) {
	for _, h := range r.header {
		if pred(strings.ToLower(h)) {
			return r.values[h], true
		}
	}
	return "", false
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// One extraction function per canonical field.

func extractID(r RawRow) string {
	if id := r.first("Response id", "ID", "id"); id != "" {
		return id
	}
	return fmt.Sprintf("APP%03d", r.Index)
}

func extractName(r RawRow) string {
	first := r.first("Enter your name / first name", "first name")
	last := r.first("Enter your name / last name", "last name")
	if first != "" || last != "" {
		return strings.TrimSpace(first + " " + last)
	}
	return r.first("Name", "name")
}

func extractEmail(r RawRow) string {
	return r.first("Your Email", "Email", "email")
}

func extractPhone(r RawRow) string {
	v, _ := r.find(func(l string) bool { return containsAny(l, "phone", "mobile") })
	return v
}

// extractCourse prefers an explicit course selection column and skips
// questions about what the applicant hopes to get from the course.
func extractCourse(r RawRow) string {
	goalish := func(l string) bool { return containsAny(l, "achieve", "hope", "goal") }

	if v, ok := r.find(func(l string) bool {
		return containsAny(l, "select", "choose", "which course") && strings.Contains(l, "course") && !goalish(l)
	}); ok {
		return v
	}
	v, _ := r.find(func(l string) bool {
		return strings.Contains(l, "course") && !goalish(l) && !strings.Contains(l, "taking this")
	})
	return v
}

func extractPaymentType(r RawRow) string {
	v, _ := r.find(func(l string) bool { return strings.Contains(l, "payment method") })
	if v == "" {
		v = r.first("Payment Type")
	}
	return v
}

func extractUPITransactionID(r RawRow) string {
	v, _ := r.find(func(l string) bool { return containsAny(l, "upi", "transaction") })
	return v
}

var appliedDateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"1/2/2006 15:04:05",
	"1/2/2006 15:04",
	"2006-01-02",
	"1/2/2006",
	"Jan 2, 2006 3:04:05 PM",
}

// extractAppliedDate falls back to now when the column is missing or unparsable.
func extractAppliedDate(r RawRow, now time.Time) time.Time {
	raw := r.first("Response created at", "Date", "Timestamp")
	if raw == "" {
		return now
	}
	for _, layout := range appliedDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return now
}

func extractTechnicalSkills(r RawRow) string {
	return r.Value("What technical skills do you currently have?")
}

func extractGoals(r RawRow) string {
	return r.Value("What do you hope to achieve by taking this course?")
}

func extractYearOfStudy(r RawRow) string {
	return r.Value("Which year are you currently in?")
}

func extractBranch(r RawRow) string {
	return r.Value("Your Branch")
}

func extractDepartment(r RawRow) string {
	return r.Value("Your course / department")
}

func extractPreferredDomain(r RawRow) string {
	return r.Value("Select Your Preferred Domain")
}

func extractFinancialSupport(r RawRow) string {
	return r.Value("Reason for choosing Financial support")
}

func extractQuestions(r RawRow) string {
	return r.Value("Any questions?")
}
