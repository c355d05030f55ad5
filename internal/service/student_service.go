package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/zps-fees-api/internal/models"
	appErrors "github.com/noah-isme/zps-fees-api/pkg/errors"
)

type studentRepository interface {
	FindByID(ctx context.Context, id string) (*models.StudentDetail, error)
	List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, int, error)
	ExistsByAdmissionNo(ctx context.Context, admissionNo string) (bool, error)
	Create(ctx context.Context, student *models.Student) error
	UpdateStatus(ctx context.Context, id, status string, isActive bool) error
	Graduate(ctx context.Context, id string, at time.Time) (bool, error)
	Archive(ctx context.Context, id string, at time.Time) (bool, error)
	SoftDelete(ctx context.Context, id, reason string, at time.Time) (bool, error)
}

type studentClassRepository interface {
	FindByID(ctx context.Context, id string) (*models.Class, error)
}

type studentTermRepository interface {
	FindCurrent(ctx context.Context) (*models.Term, error)
}

type studentBalanceRepository interface {
	FindLatestByStudent(ctx context.Context, studentID string) (*models.BalanceWithTerm, error)
}

type studentMovementRepository interface {
	Create(ctx context.Context, movement *models.StudentMovement) error
	ListByStudent(ctx context.Context, studentID string) ([]models.StudentMovement, error)
}

// EnrollStudentRequest describes the payload for enrolling a student.
type EnrollStudentRequest struct {
	AdmissionNo   string    `json:"admission_no" validate:"required"`
	FirstName     string    `json:"first_name" validate:"required"`
	LastName      string    `json:"last_name" validate:"required"`
	DateOfBirth   time.Time `json:"date_of_birth" validate:"required"`
	ClassID       string    `json:"class_id" validate:"required"`
	GuardianName  string    `json:"guardian_name"`
	GuardianPhone string    `json:"guardian_phone"`
}

// TransitionRequest moves a student to a new lifecycle status.
type TransitionRequest struct {
	Status string `json:"status" validate:"required"`
	Reason string `json:"reason"`
}

// StudentService manages enrolment and the student lifecycle.
type StudentService struct {
	students  studentRepository
	classes   studentClassRepository
	terms     studentTermRepository
	balances  studentBalanceRepository
	movements studentMovementRepository
	ledger    *LedgerService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewStudentService creates a new student service instance.
func NewStudentService(students studentRepository, classes studentClassRepository, terms studentTermRepository, balances studentBalanceRepository, movements studentMovementRepository, ledger *LedgerService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *StudentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentService{
		students:  students,
		classes:   classes,
		terms:     terms,
		balances:  balances,
		movements: movements,
		ledger:    ledger,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
	}
}

// Get returns a student by ID with class coordinates.
func (s *StudentService) Get(ctx context.Context, id string) (*models.StudentDetail, error) {
	student, err := s.students.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return student, nil
}

// List returns paginated students.
func (s *StudentService) List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, *models.Pagination, error) {
	students, total, err := s.students.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return students, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Enroll registers a new student and bills them for the current term
// when one is set. Enrolment without a current term just creates the
// record; billing happens on the next activation.
func (s *StudentService) Enroll(ctx context.Context, req EnrollStudentRequest) (*models.StudentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrolment payload")
	}

	if _, err := s.classes.FindByID(ctx, req.ClassID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}

	taken, err := s.students.ExistsByAdmissionNo(ctx, req.AdmissionNo)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check admission number")
	}
	if taken {
		return nil, appErrors.Clone(appErrors.ErrConflict, "admission number already in use")
	}

	student := &models.Student{
		AdmissionNo:   req.AdmissionNo,
		FirstName:     req.FirstName,
		LastName:      req.LastName,
		DateOfBirth:   req.DateOfBirth,
		ClassID:       req.ClassID,
		Status:        models.StudentStatusEnrolled,
		IsActive:      true,
		GuardianName:  req.GuardianName,
		GuardianPhone: req.GuardianPhone,
		EnrolledAt:    time.Now().UTC(),
	}
	if err := s.students.Create(ctx, student); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create student")
	}

	movement := &models.StudentMovement{
		StudentID:  student.ID,
		Type:       models.MovementEnrollment,
		ToClassID:  &student.ClassID,
		FromStatus: models.StudentStatusEnrolled,
		ToStatus:   models.StudentStatusEnrolled,
	}
	if err := s.movements.Create(ctx, movement); err != nil {
		s.logger.Warn("enrolment movement record failed", zap.String("student_id", student.ID), zap.Error(err))
	}

	term, err := s.terms.FindCurrent(ctx)
	if err != nil {
		if err != sql.ErrNoRows {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load current term")
		}
	} else {
		if _, _, err := s.ledger.EnsureBalance(ctx, student.ID, term.ID); err != nil {
			s.logger.Warn("enrolment billing failed",
				zap.String("student_id", student.ID),
				zap.String("term_id", term.ID),
				zap.Error(err))
		}
	}

	s.logger.Info("student enrolled",
		zap.String("student_id", student.ID),
		zap.String("admission_no", student.AdmissionNo))
	return s.Get(ctx, student.ID)
}

// Transition moves a student along the lifecycle. Illegal moves,
// including any move out of a terminal status, are rejected.
func (s *StudentService) Transition(ctx context.Context, id string, req TransitionRequest) (*models.StudentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid transition payload")
	}
	if !models.ValidStudentStatus(req.Status) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown student status")
	}

	student, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(student.Status, req.Status) {
		return nil, appErrors.ErrInvalidStateTransition
	}

	movementType := models.MovementActivation
	switch req.Status {
	case models.StudentStatusGraduated:
		movementType = models.MovementGraduation
		changed, err := s.students.Graduate(ctx, id, time.Now())
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to graduate student")
		}
		if !changed {
			return nil, appErrors.ErrInvalidStateTransition
		}
		s.metrics.RecordGraduation()
	case models.StudentStatusExpelled:
		movementType = models.MovementExpulsion
		if err := s.students.UpdateStatus(ctx, id, req.Status, false); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update student status")
		}
	default:
		if err := s.students.UpdateStatus(ctx, id, req.Status, true); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update student status")
		}
	}

	movement := &models.StudentMovement{
		StudentID:  id,
		Type:       movementType,
		FromStatus: student.Status,
		ToStatus:   req.Status,
		Reason:     req.Reason,
	}
	if err := s.movements.Create(ctx, movement); err != nil {
		s.logger.Warn("transition movement record failed", zap.String("student_id", id), zap.Error(err))
	}

	s.logger.Info("student transitioned",
		zap.String("student_id", id),
		zap.String("from", student.Status),
		zap.String("to", req.Status))
	return s.Get(ctx, id)
}

// Archive flags a graduated student whose ledger has settled. The flag
// is one way; archived students never return to the roll.
func (s *StudentService) Archive(ctx context.Context, id string) (*models.StudentDetail, error) {
	student, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if student.IsArchived {
		return student, nil
	}
	if student.Status != models.StudentStatusGraduated || student.IsActive {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "only graduated students can be archived")
	}

	latest, err := s.balances.FindLatestByStudent(ctx, id)
	if err != nil && err != sql.ErrNoRows {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load latest balance")
	}
	if latest != nil && latest.CurrentBalance().IsPositive() {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "student still owes fees")
	}

	changed, err := s.students.Archive(ctx, id, time.Now())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to archive student")
	}
	if changed {
		s.metrics.RecordArchival()
		movement := &models.StudentMovement{
			StudentID:  id,
			Type:       models.MovementArchival,
			FromStatus: student.Status,
			ToStatus:   student.Status,
		}
		if err := s.movements.Create(ctx, movement); err != nil {
			s.logger.Warn("archival movement record failed", zap.String("student_id", id), zap.Error(err))
		}
		s.ledger.InvalidateCache(ctx, id)
	}
	return s.Get(ctx, id)
}

// Delete soft-removes a student. The flag hides them from listings,
// billing runs and sweeps; their payments and ledger rows stay intact
// for audit. Idempotent.
func (s *StudentService) Delete(ctx context.Context, id, reason string) error {
	student, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if student.IsDeleted {
		return nil
	}

	if _, err := s.students.SoftDelete(ctx, id, reason, time.Now()); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete student")
	}
	s.ledger.InvalidateCache(ctx, id)
	s.logger.Info("student soft deleted",
		zap.String("student_id", id),
		zap.String("reason", reason))
	return nil
}

// Movements returns the student's audit trail.
func (s *StudentService) Movements(ctx context.Context, id string) ([]models.StudentMovement, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	movements, err := s.movements.ListByStudent(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list movements")
	}
	return movements, nil
}
