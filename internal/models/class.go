package models

import "time"

// GradeBand partitions classes for fee-schedule purposes.
type GradeBand string

const (
	GradeBandEarlyChildhood GradeBand = "EARLY_CHILDHOOD"
	GradeBandPrimary        GradeBand = "PRIMARY"
)

// GradeEarlyChildhood is the grade value used for early-childhood classes.
// Primary grades run 1..7.
const GradeEarlyChildhood = 0

// Class represents a teaching group within an academic year.
type Class struct {
	ID           string    `db:"id" json:"id"`
	Grade        int       `db:"grade" json:"grade"`
	Section      string    `db:"section" json:"section"`
	AcademicYear int       `db:"academic_year" json:"academic_year"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Band returns the fee band the class bills under.
func (c *Class) Band() GradeBand {
	if c.Grade == GradeEarlyChildhood {
		return GradeBandEarlyChildhood
	}
	return GradeBandPrimary
}

// BandForGrade maps a grade level to its fee band.
func BandForGrade(grade int) GradeBand {
	if grade == GradeEarlyChildhood {
		return GradeBandEarlyChildhood
	}
	return GradeBandPrimary
}
