package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/zps-fees-api/internal/models"
)

// StudentRepository handles persistence for students.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository instantiates a student repository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

const studentDetailColumns = `s.id, s.admission_no, s.first_name, s.last_name, s.date_of_birth, s.class_id, s.status, s.is_active, s.is_archived, s.guardian_name, s.guardian_phone, s.enrolled_at, s.graduated_at, s.archived_at, s.is_deleted, s.deleted_at, s.deleted_reason, s.created_at, s.updated_at, c.grade, c.section, c.academic_year`

// FindByID loads a student joined with their class coordinates.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.StudentDetail, error) {
	query := fmt.Sprintf("SELECT %s FROM students s JOIN classes c ON c.id = s.class_id WHERE s.id = $1", studentDetailColumns)
	var student models.StudentDetail
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		return nil, err
	}
	return &student, nil
}

// List returns students matching the filter.
func (r *StudentRepository) List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, int, error) {
	base := "FROM students s JOIN classes c ON c.id = s.class_id WHERE s.is_deleted = FALSE"
	var args []interface{}

	if filter.ClassID != "" {
		args = append(args, filter.ClassID)
		base += fmt.Sprintf(" AND s.class_id = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		base += fmt.Sprintf(" AND s.status = $%d", len(args))
	}
	if filter.IsArchived != nil {
		args = append(args, *filter.IsArchived)
		base += fmt.Sprintf(" AND s.is_archived = $%d", len(args))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		base += fmt.Sprintf(" AND (s.first_name ILIKE $%d OR s.last_name ILIKE $%d OR s.admission_no ILIKE $%d)", len(args), len(args), len(args))
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY s.last_name, s.first_name LIMIT %d OFFSET %d", studentDetailColumns, base, size, offset)

	var students []models.StudentDetail
	if err := r.db.SelectContext(ctx, &students, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list students: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count students: %w", err)
	}

	return students, total, nil
}

// ExistsByAdmissionNo checks admission number uniqueness.
func (r *StudentRepository) ExistsByAdmissionNo(ctx context.Context, admissionNo string) (bool, error) {
	var exists int
	err := r.db.GetContext(ctx, &exists, `SELECT 1 FROM students WHERE admission_no = $1 LIMIT 1`, admissionNo)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check admission number: %w", err)
	}
	return true, nil
}

// Create inserts a new student record.
func (r *StudentRepository) Create(ctx context.Context, student *models.Student) error {
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if student.CreatedAt.IsZero() {
		student.CreatedAt = now
	}
	student.UpdatedAt = now

	const query = `INSERT INTO students (id, admission_no, first_name, last_name, date_of_birth, class_id, status, is_active, is_archived, guardian_name, guardian_phone, enrolled_at, graduated_at, archived_at, is_deleted, deleted_at, deleted_reason, created_at, updated_at)
		VALUES (:id, :admission_no, :first_name, :last_name, :date_of_birth, :class_id, :status, :is_active, :is_archived, :guardian_name, :guardian_phone, :enrolled_at, :graduated_at, :archived_at, :is_deleted, :deleted_at, :deleted_reason, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, student); err != nil {
		return fmt.Errorf("create student: %w", err)
	}
	return nil
}

// UpdateStatus rewrites the lifecycle fields of a student.
func (r *StudentRepository) UpdateStatus(ctx context.Context, id, status string, isActive bool) error {
	const query = `UPDATE students SET status = $2, is_active = $3, updated_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status, isActive, time.Now().UTC()); err != nil {
		return fmt.Errorf("update student status: %w", err)
	}
	return nil
}

// Graduate conditionally moves a student to GRADUATED. The status
// guard makes concurrent sweeps idempotent; it returns false when the
// student was not in a graduatable status.
func (r *StudentRepository) Graduate(ctx context.Context, id string, at time.Time) (bool, error) {
	const query = `UPDATE students SET status = $2, is_active = FALSE, graduated_at = $3, updated_at = $3 WHERE id = $1 AND status IN ($4, $5)`
	result, err := r.db.ExecContext(ctx, query, id, models.StudentStatusGraduated, at.UTC(), models.StudentStatusEnrolled, models.StudentStatusActive)
	if err != nil {
		return false, fmt.Errorf("graduate student: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("graduate rows affected: %w", err)
	}
	return affected > 0, nil
}

// Archive conditionally flags a graduated student as archived. Returns
// false when the student was not eligible.
func (r *StudentRepository) Archive(ctx context.Context, id string, at time.Time) (bool, error) {
	const query = `UPDATE students SET is_archived = TRUE, archived_at = $2, updated_at = $2 WHERE id = $1 AND status = $3 AND is_active = FALSE AND is_archived = FALSE`
	result, err := r.db.ExecContext(ctx, query, id, at.UTC(), models.StudentStatusGraduated)
	if err != nil {
		return false, fmt.Errorf("archive student: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("archive rows affected: %w", err)
	}
	return affected > 0, nil
}

// SoftDelete flags a student as deleted without disturbing their
// payment and ledger history.
func (r *StudentRepository) SoftDelete(ctx context.Context, id, reason string, at time.Time) (bool, error) {
	const query = `UPDATE students SET is_deleted = TRUE, deleted_at = $2, deleted_reason = $3, is_active = FALSE, updated_at = $2 WHERE id = $1 AND is_deleted = FALSE`
	result, err := r.db.ExecContext(ctx, query, id, at.UTC(), reason)
	if err != nil {
		return false, fmt.Errorf("soft delete student: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("soft delete rows affected: %w", err)
	}
	return affected > 0, nil
}

// ListActive returns all non-archived students still on the roll.
func (r *StudentRepository) ListActive(ctx context.Context) ([]models.StudentDetail, error) {
	query := fmt.Sprintf("SELECT %s FROM students s JOIN classes c ON c.id = s.class_id WHERE s.is_deleted = FALSE AND s.is_archived = FALSE AND s.status IN ($1, $2) ORDER BY s.last_name, s.first_name", studentDetailColumns)
	var students []models.StudentDetail
	if err := r.db.SelectContext(ctx, &students, query, models.StudentStatusEnrolled, models.StudentStatusActive); err != nil {
		return nil, fmt.Errorf("list active students: %w", err)
	}
	return students, nil
}

// ListEnrolledTerminal returns students on the roll in the terminal
// grade, the candidates for the final-term graduation sweep.
func (r *StudentRepository) ListEnrolledTerminal(ctx context.Context, terminalGrade int) ([]models.StudentDetail, error) {
	query := fmt.Sprintf("SELECT %s FROM students s JOIN classes c ON c.id = s.class_id WHERE s.is_deleted = FALSE AND s.is_archived = FALSE AND s.status IN ($1, $2) AND c.grade = $3 ORDER BY s.last_name, s.first_name", studentDetailColumns)
	var students []models.StudentDetail
	if err := r.db.SelectContext(ctx, &students, query, models.StudentStatusEnrolled, models.StudentStatusActive, terminalGrade); err != nil {
		return nil, fmt.Errorf("list terminal grade students: %w", err)
	}
	return students, nil
}
