package mapper

import (
	"encoding/csv"
	"errors"
	"io"
	"strings"
	"time"

	apperrors "admissions-workers/internal/common/errors"
	"admissions-workers/internal/models"
)

// Profile holds the write-once free-form answers from the feed.
type Profile struct {
	TechnicalSkills  string
	Goals            string
	YearOfStudy      string
	Branch           string
	Department       string
	PreferredDomain  string
	FinancialSupport string
	Questions        string
}

// Candidate is a validated feed row, ready for the sync diff.
type Candidate struct {
	ID               string
	Name             string
	Email            string
	Phone            string
	Course           string
	PaymentType      string
	UPITransactionID string
	AppliedDate      time.Time
	Profile          Profile
}

// ToCandidate extracts a candidate from r. Rows without a name or an email
// are rejected.
func ToCandidate(r RawRow, now time.Time) (Candidate, bool) {
	c := Candidate{
		ID:               extractID(r),
		Name:             extractName(r),
		Email:            extractEmail(r),
		Phone:            extractPhone(r),
		Course:           extractCourse(r),
		PaymentType:      extractPaymentType(r),
		UPITransactionID: extractUPITransactionID(r),
		AppliedDate:      extractAppliedDate(r, now),
		Profile: Profile{
			TechnicalSkills:  extractTechnicalSkills(r),
			Goals:            extractGoals(r),
			YearOfStudy:      extractYearOfStudy(r),
			Branch:           extractBranch(r),
			Department:       extractDepartment(r),
			PreferredDomain:  extractPreferredDomain(r),
			FinancialSupport: extractFinancialSupport(r),
			Questions:        extractQuestions(r),
		},
	}
	if c.Name == "" || c.Email == "" {
		return Candidate{}, false
	}
	return c, true
}

// ParseStats describes one parse.
type ParseStats struct {
	Rows       int
	Dropped    int
	Duplicates int
}

// ParseFeed reads CSV text with a header row into candidates. Blank rows are
// skipped, rows without name or email are dropped and, for a repeated id, the
// last row's values win (at the position of the first occurrence).
func ParseFeed(text string, now time.Time) ([]Candidate, ParseStats, error) {
	var stats ParseStats

	text = strings.TrimPrefix(text, "\ufeff")
	if strings.TrimSpace(text) == "" {
		return nil, stats, nil
	}

	reader := csv.NewReader(strings.NewReader(text))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, stats, nil
		}
		return nil, stats, apperrors.NewFeedParseError(err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var out []Candidate
	pos := map[string]int{}
	index := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, stats, apperrors.NewFeedParseError(err)
		}

		row := NewRawRow(index+1, header, record)
		if row.Empty() {
			continue
		}
		index++
		stats.Rows++

		c, ok := ToCandidate(row, now)
		if !ok {
			stats.Dropped++
			continue
		}
		if i, seen := pos[c.ID]; seen {
			out[i] = c
			stats.Duplicates++
			continue
		}
		pos[c.ID] = len(out)
		out = append(out, c)
	}
	return out, stats, nil
}

// MutableFieldsDiffer reports whether the feed carries new values for any
// field sync may refresh on a Pending record.
func (c Candidate) MutableFieldsDiffer(a *models.Application) bool {
	return c.Name != a.Name ||
		c.Email != a.Email ||
		c.Phone != a.Phone ||
		c.Course != a.Course ||
		c.PaymentType != a.PaymentType ||
		c.UPITransactionID != a.UPITransactionID
}
