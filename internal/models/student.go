package models

import "time"

// Student lifecycle statuses.
const (
	StudentStatusEnrolled  = "ENROLLED"
	StudentStatusActive    = "ACTIVE"
	StudentStatusGraduated = "GRADUATED"
	StudentStatusExpelled  = "EXPELLED"
)

// statusTransitions holds the legal lifecycle moves. Terminal statuses
// have no outgoing edges.
var statusTransitions = map[string][]string{
	StudentStatusEnrolled: {StudentStatusActive, StudentStatusGraduated, StudentStatusExpelled},
	StudentStatusActive:   {StudentStatusGraduated, StudentStatusExpelled},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to string) bool {
	for _, t := range statusTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// ValidStudentStatus reports whether s is a recognised status value.
func ValidStudentStatus(s string) bool {
	switch s {
	case StudentStatusEnrolled, StudentStatusActive, StudentStatusGraduated, StudentStatusExpelled:
		return true
	}
	return false
}

// Student is the enrolment record. is_archived is a one-way flag set
// when a graduated student with a settled ledger leaves the active
// roll. is_deleted soft-removes the student from listings and sweeps
// while keeping their financial history for audit.
type Student struct {
	ID             string     `db:"id" json:"id"`
	AdmissionNo    string     `db:"admission_no" json:"admission_no"`
	FirstName      string     `db:"first_name" json:"first_name"`
	LastName       string     `db:"last_name" json:"last_name"`
	DateOfBirth    time.Time  `db:"date_of_birth" json:"date_of_birth"`
	ClassID        string     `db:"class_id" json:"class_id"`
	Status         string     `db:"status" json:"status"`
	IsActive       bool       `db:"is_active" json:"is_active"`
	IsArchived     bool       `db:"is_archived" json:"is_archived"`
	GuardianName   string     `db:"guardian_name" json:"guardian_name"`
	GuardianPhone  string     `db:"guardian_phone" json:"guardian_phone"`
	EnrolledAt     time.Time  `db:"enrolled_at" json:"enrolled_at"`
	GraduatedAt    *time.Time `db:"graduated_at" json:"graduated_at,omitempty"`
	ArchivedAt     *time.Time `db:"archived_at" json:"archived_at,omitempty"`
	IsDeleted      bool       `db:"is_deleted" json:"is_deleted"`
	DeletedAt      *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
	DeletedReason  string     `db:"deleted_reason" json:"deleted_reason,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// StudentDetail joins the class coordinates onto the student record.
type StudentDetail struct {
	Student
	Grade        int    `db:"grade" json:"grade"`
	Section      string `db:"section" json:"section"`
	AcademicYear int    `db:"academic_year" json:"academic_year"`
}

// Band returns the fee band the student bills under.
func (s *StudentDetail) Band() GradeBand {
	return BandForGrade(s.Grade)
}

// StudentFilter narrows student listings.
type StudentFilter struct {
	ClassID    string
	Status     string
	IsArchived *bool
	Search     string
	Page       int
	PageSize   int
}
