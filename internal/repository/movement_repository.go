package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/zps-fees-api/internal/models"
)

// MovementRepository handles the student movement audit trail.
type MovementRepository struct {
	db *sqlx.DB
}

// NewMovementRepository instantiates a movement repository.
func NewMovementRepository(db *sqlx.DB) *MovementRepository {
	return &MovementRepository{db: db}
}

// Create appends an audit entry.
func (r *MovementRepository) Create(ctx context.Context, movement *models.StudentMovement) error {
	if movement.ID == "" {
		movement.ID = uuid.NewString()
	}
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = time.Now().UTC()
	}

	const query = `INSERT INTO student_movements (id, student_id, type, from_class_id, to_class_id, from_status, to_status, reason, created_at)
		VALUES (:id, :student_id, :type, :from_class_id, :to_class_id, :from_status, :to_status, :reason, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, movement); err != nil {
		return fmt.Errorf("create movement: %w", err)
	}
	return nil
}

// ListByStudent returns a student's movement history, newest first.
func (r *MovementRepository) ListByStudent(ctx context.Context, studentID string) ([]models.StudentMovement, error) {
	const query = `SELECT id, student_id, type, from_class_id, to_class_id, from_status, to_status, reason, created_at FROM student_movements WHERE student_id = $1 ORDER BY created_at DESC`
	var movements []models.StudentMovement
	if err := r.db.SelectContext(ctx, &movements, query, studentID); err != nil {
		return nil, fmt.Errorf("list movements: %w", err)
	}
	return movements, nil
}
