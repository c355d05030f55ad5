package models

import "time"

// Terms per academic year. Term numbers are 1..3 and must be created in
// sequence within a year.
const (
	FirstTermNumber = 1
	LastTermNumber  = 3
)

// Term models a billable academic term.
type Term struct {
	ID           string    `db:"id" json:"id"`
	AcademicYear int       `db:"academic_year" json:"academic_year"`
	TermNumber   int       `db:"term_number" json:"term_number"`
	StartDate    time.Time `db:"start_date" json:"start_date"`
	EndDate      time.Time `db:"end_date" json:"end_date"`
	IsCurrent    bool      `db:"is_current" json:"is_current"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// IsFinal reports whether this is the last term of its academic year.
func (t *Term) IsFinal() bool {
	return t.TermNumber >= LastTermNumber
}

// TermFilter defines filters supported by term list endpoints.
type TermFilter struct {
	AcademicYear int
	IsCurrent    *bool
	Page         int
	PageSize     int
}
