// Package analytics computes the dashboard statistics from cached records.
package analytics

import (
	"math"
	"strings"
	"time"

	"admissions-workers/internal/models"
)

// DefaultCapacity is the assumed seat count per course.
const DefaultCapacity = 50

// DefaultCourses are the programs shown on the dashboard.
var DefaultCourses = []string{"Web Development", "IoT & ESP32", "C Programming", "Python Programming"}

type Options struct {
	Courses  []string
	Capacity int
	// Location decides which calendar day counts as today. Defaults to UTC.
	Location *time.Location
}

type CourseStats struct {
	Course   string `json:"course"`
	Approved int    `json:"approved"`
	Pending  int    `json:"pending"`
	// CapacityPercent is approved/capacity, capped at 100.
	CapacityPercent float64 `json:"capacityPercent"`
}

// PaymentStats covers approved applications only.
type PaymentStats struct {
	Paid        int     `json:"paid"`
	Installment int     `json:"installment"`
	Pending     int     `json:"pending"`
	Revenue     float64 `json:"revenue"`
}

type Stats struct {
	Total       int           `json:"total"`
	Pending     int           `json:"pending"`
	Approved    int           `json:"approved"`
	Rejected    int           `json:"rejected"`
	Today       int           `json:"today"`
	Courses     []CourseStats `json:"courses"`
	Payments    PaymentStats  `json:"payments"`
	GeneratedAt time.Time     `json:"generatedAt"`
}

// Compute summarises apps as of now.
func Compute(apps []*models.Application, opts Options, now time.Time) Stats {
	if len(opts.Courses) == 0 {
		opts.Courses = DefaultCourses
	}
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}

	s := Stats{Total: len(apps), GeneratedAt: now}
	courses := make([]CourseStats, len(opts.Courses))
	for i, c := range opts.Courses {
		courses[i].Course = c
	}

	y, m, d := now.In(opts.Location).Date()
	for _, a := range apps {
		switch a.Status {
		case models.StatusPending:
			s.Pending++
		case models.StatusApproved:
			s.Approved++
			s.Payments.add(a)
		case models.StatusRejected:
			s.Rejected++
		}

		if ay, am, ad := a.AppliedDate.In(opts.Location).Date(); ay == y && am == m && ad == d {
			s.Today++
		}

		for i := range courses {
			if !MatchesCourse(a.Course, courses[i].Course) {
				continue
			}
			switch a.Status {
			case models.StatusApproved:
				courses[i].Approved++
			case models.StatusPending:
				courses[i].Pending++
			}
		}
	}

	for i := range courses {
		pct := float64(courses[i].Approved) / float64(opts.Capacity) * 100
		courses[i].CapacityPercent = math.Min(pct, 100)
	}
	s.Courses = courses
	return s
}

func (p *PaymentStats) add(a *models.Application) {
	switch a.PaymentStatus {
	case models.PaymentPaid:
		p.Paid++
	case models.PaymentInstallment:
		p.Installment++
	default:
		p.Pending++
	}
	if a.PaymentAmount != nil {
		p.Revenue += *a.PaymentAmount
	}
}

// MatchesCourse reports whether an applicant's course text names course,
// allowing a trailing suffix such as a price ("Web Development - ₹2999").
func MatchesCourse(applied, course string) bool {
	applied = strings.TrimSpace(applied)
	if applied == "" {
		return false
	}
	return applied == course ||
		strings.HasPrefix(applied, course+" ") ||
		strings.HasPrefix(applied, course+"-")
}
