package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/zps-fees-api/internal/models"
)

// ArrearsRepository handles the arrears import audit trail.
type ArrearsRepository struct {
	db *sqlx.DB
}

// NewArrearsRepository instantiates an arrears repository.
func NewArrearsRepository(db *sqlx.DB) *ArrearsRepository {
	return &ArrearsRepository{db: db}
}

// Create records an import entry.
func (r *ArrearsRepository) Create(ctx context.Context, imported *models.ArrearsImport) error {
	if imported.ID == "" {
		imported.ID = uuid.NewString()
	}
	if imported.CreatedAt.IsZero() {
		imported.CreatedAt = time.Now().UTC()
	}

	const query = `INSERT INTO arrears_imports (id, student_id, term_id, amount, source, notes, imported_by, created_at)
		VALUES (:id, :student_id, :term_id, :amount, :source, :notes, :imported_by, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, imported); err != nil {
		return fmt.Errorf("create arrears import: %w", err)
	}
	return nil
}

// ListByStudent returns a student's import history, newest first.
func (r *ArrearsRepository) ListByStudent(ctx context.Context, studentID string) ([]models.ArrearsImport, error) {
	const query = `SELECT id, student_id, term_id, amount, source, notes, imported_by, created_at FROM arrears_imports WHERE student_id = $1 ORDER BY created_at DESC`
	var imports []models.ArrearsImport
	if err := r.db.SelectContext(ctx, &imports, query, studentID); err != nil {
		return nil, fmt.Errorf("list arrears imports: %w", err)
	}
	return imports, nil
}
