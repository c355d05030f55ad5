package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/zps-fees-api/internal/models"
)

// BalanceRepository handles persistence for the per-term ledger rows.
type BalanceRepository struct {
	db *sqlx.DB
}

// NewBalanceRepository instantiates a balance repository.
func NewBalanceRepository(db *sqlx.DB) *BalanceRepository {
	return &BalanceRepository{db: db}
}

const balanceColumns = "id, student_id, term_id, term_fee, previous_arrears, imported_arrears, amount_paid, created_at, updated_at"

// FindByStudentAndTerm loads the ledger row for a student in a term.
func (r *BalanceRepository) FindByStudentAndTerm(ctx context.Context, studentID, termID string) (*models.Balance, error) {
	query := fmt.Sprintf("SELECT %s FROM balances WHERE student_id = $1 AND term_id = $2", balanceColumns)
	var balance models.Balance
	if err := r.db.GetContext(ctx, &balance, query, studentID, termID); err != nil {
		return nil, err
	}
	return &balance, nil
}

// ListByStudent returns every ledger row for a student joined with its
// term coordinates, oldest first.
func (r *BalanceRepository) ListByStudent(ctx context.Context, studentID string) ([]models.BalanceWithTerm, error) {
	const query = `SELECT b.id, b.student_id, b.term_id, b.term_fee, b.previous_arrears, b.imported_arrears, b.amount_paid, b.created_at, b.updated_at, t.academic_year, t.term_number
		FROM balances b
		JOIN terms t ON t.id = b.term_id
		WHERE b.student_id = $1
		ORDER BY t.academic_year, t.term_number`
	var rows []models.BalanceWithTerm
	if err := r.db.SelectContext(ctx, &rows, query, studentID); err != nil {
		return nil, fmt.Errorf("list balances by student: %w", err)
	}
	return rows, nil
}

// ListMaterializedAfter returns the student's ledger rows strictly
// after the given term coordinates, oldest first. Only rows that
// already exist are returned; nothing is created.
func (r *BalanceRepository) ListMaterializedAfter(ctx context.Context, studentID string, year, termNumber int) ([]models.BalanceWithTerm, error) {
	const query = `SELECT b.id, b.student_id, b.term_id, b.term_fee, b.previous_arrears, b.imported_arrears, b.amount_paid, b.created_at, b.updated_at, t.academic_year, t.term_number
		FROM balances b
		JOIN terms t ON t.id = b.term_id
		WHERE b.student_id = $1 AND (t.academic_year > $2 OR (t.academic_year = $2 AND t.term_number > $3))
		ORDER BY t.academic_year, t.term_number`
	var rows []models.BalanceWithTerm
	if err := r.db.SelectContext(ctx, &rows, query, studentID, year, termNumber); err != nil {
		return nil, fmt.Errorf("list materialized balances after term: %w", err)
	}
	return rows, nil
}

// FindLatestByStudentAndYear returns the student's most recent ledger
// row in the given academic year, or sql.ErrNoRows when none exist.
func (r *BalanceRepository) FindLatestByStudentAndYear(ctx context.Context, studentID string, year int) (*models.BalanceWithTerm, error) {
	const query = `SELECT b.id, b.student_id, b.term_id, b.term_fee, b.previous_arrears, b.imported_arrears, b.amount_paid, b.created_at, b.updated_at, t.academic_year, t.term_number
		FROM balances b
		JOIN terms t ON t.id = b.term_id
		WHERE b.student_id = $1 AND t.academic_year = $2
		ORDER BY t.term_number DESC
		LIMIT 1`
	var row models.BalanceWithTerm
	if err := r.db.GetContext(ctx, &row, query, studentID, year); err != nil {
		return nil, err
	}
	return &row, nil
}

// FindLatestByStudent returns the student's most recent ledger row
// across all years, or sql.ErrNoRows when the ledger is empty.
func (r *BalanceRepository) FindLatestByStudent(ctx context.Context, studentID string) (*models.BalanceWithTerm, error) {
	const query = `SELECT b.id, b.student_id, b.term_id, b.term_fee, b.previous_arrears, b.imported_arrears, b.amount_paid, b.created_at, b.updated_at, t.academic_year, t.term_number
		FROM balances b
		JOIN terms t ON t.id = b.term_id
		WHERE b.student_id = $1
		ORDER BY t.academic_year DESC, t.term_number DESC
		LIMIT 1`
	var row models.BalanceWithTerm
	if err := r.db.GetContext(ctx, &row, query, studentID); err != nil {
		return nil, err
	}
	return &row, nil
}

// CountByStudentAndYear reports how many ledger rows the student has
// in the given academic year.
func (r *BalanceRepository) CountByStudentAndYear(ctx context.Context, studentID string, year int) (int, error) {
	const query = `SELECT COUNT(*) FROM balances b JOIN terms t ON t.id = b.term_id WHERE b.student_id = $1 AND t.academic_year = $2`
	var count int
	if err := r.db.GetContext(ctx, &count, query, studentID, year); err != nil {
		return 0, fmt.Errorf("count balances by year: %w", err)
	}
	return count, nil
}

// Create inserts a new ledger row.
func (r *BalanceRepository) Create(ctx context.Context, balance *models.Balance) error {
	if balance.ID == "" {
		balance.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if balance.CreatedAt.IsZero() {
		balance.CreatedAt = now
	}
	balance.UpdatedAt = now

	const query = `INSERT INTO balances (id, student_id, term_id, term_fee, previous_arrears, imported_arrears, amount_paid, created_at, updated_at)
		VALUES (:id, :student_id, :term_id, :term_fee, :previous_arrears, :imported_arrears, :amount_paid, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, balance); err != nil {
		return fmt.Errorf("create balance: %w", err)
	}
	return nil
}

// UpdateCharges rewrites the charge side of a ledger row. amount_paid
// is never touched here.
func (r *BalanceRepository) UpdateCharges(ctx context.Context, id string, termFee, previousArrears, importedArrears decimal.Decimal) error {
	const query = `UPDATE balances SET term_fee = $2, previous_arrears = $3, imported_arrears = $4, updated_at = $5 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, termFee, previousArrears, importedArrears, time.Now().UTC()); err != nil {
		return fmt.Errorf("update balance charges: %w", err)
	}
	return nil
}

// AddImportedArrears adds an imported amount onto a ledger row and
// bumps previous_arrears by the same delta. Imports are additive.
func (r *BalanceRepository) AddImportedArrears(ctx context.Context, id string, amount decimal.Decimal) error {
	const query = `UPDATE balances SET imported_arrears = imported_arrears + $2, previous_arrears = previous_arrears + $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, amount, time.Now().UTC()); err != nil {
		return fmt.Errorf("add imported arrears: %w", err)
	}
	return nil
}

// RecomputeAmountPaid re-sums the payment journal into amount_paid
// under a row lock, so concurrent payment writes serialize on the
// ledger row. It returns the refreshed balance.
func (r *BalanceRepository) RecomputeAmountPaid(ctx context.Context, studentID, termID string) (*models.Balance, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin recompute tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	lockQuery := fmt.Sprintf("SELECT %s FROM balances WHERE student_id = $1 AND term_id = $2 FOR UPDATE", balanceColumns)
	var balance models.Balance
	if err = tx.GetContext(ctx, &balance, lockQuery, studentID, termID); err != nil {
		return nil, err
	}

	var paid decimal.Decimal
	if err = tx.GetContext(ctx, &paid, `SELECT COALESCE(SUM(amount), 0) FROM payments WHERE student_id = $1 AND term_id = $2`, studentID, termID); err != nil {
		return nil, fmt.Errorf("sum payments: %w", err)
	}

	now := time.Now().UTC()
	if _, err = tx.ExecContext(ctx, `UPDATE balances SET amount_paid = $2, updated_at = $3 WHERE id = $1`, balance.ID, paid, now); err != nil {
		return nil, fmt.Errorf("write amount paid: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit recompute tx: %w", err)
	}

	balance.AmountPaid = paid
	balance.UpdatedAt = now
	return &balance, nil
}

// ListStudentIDsByTerm returns the distinct students holding a ledger
// row in the given term. Used by the repair sweep.
func (r *BalanceRepository) ListStudentIDsByTerm(ctx context.Context, termID string) ([]string, error) {
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, `SELECT DISTINCT student_id FROM balances WHERE term_id = $1`, termID); err != nil {
		return nil, fmt.Errorf("list balance student ids: %w", err)
	}
	return ids, nil
}
