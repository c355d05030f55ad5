package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/zps-fees-api/internal/models"
)

// FeeRepository handles persistence for band fee schedules and
// class-level fee adjustments.
type FeeRepository struct {
	db *sqlx.DB
}

// NewFeeRepository instantiates a fee repository.
func NewFeeRepository(db *sqlx.DB) *FeeRepository {
	return &FeeRepository{db: db}
}

// FindScheduleEntry loads the band fee for a term.
func (r *FeeRepository) FindScheduleEntry(ctx context.Context, termID string, band models.GradeBand) (*models.FeeScheduleEntry, error) {
	const query = `SELECT id, term_id, band, amount, created_at, updated_at FROM fee_schedules WHERE term_id = $1 AND band = $2`
	var entry models.FeeScheduleEntry
	if err := r.db.GetContext(ctx, &entry, query, termID, band); err != nil {
		return nil, err
	}
	return &entry, nil
}

// ListScheduleByTerm returns every band entry configured for a term.
func (r *FeeRepository) ListScheduleByTerm(ctx context.Context, termID string) ([]models.FeeScheduleEntry, error) {
	const query = `SELECT id, term_id, band, amount, created_at, updated_at FROM fee_schedules WHERE term_id = $1 ORDER BY band`
	var entries []models.FeeScheduleEntry
	if err := r.db.SelectContext(ctx, &entries, query, termID); err != nil {
		return nil, fmt.Errorf("list fee schedule: %w", err)
	}
	return entries, nil
}

// UpsertScheduleEntry writes a band fee, replacing any existing amount
// for the same term and band.
func (r *FeeRepository) UpsertScheduleEntry(ctx context.Context, entry *models.FeeScheduleEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now

	const query = `INSERT INTO fee_schedules (id, term_id, band, amount, created_at, updated_at)
		VALUES (:id, :term_id, :band, :amount, :created_at, :updated_at)
		ON CONFLICT (term_id, band) DO UPDATE SET amount = EXCLUDED.amount, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("upsert fee schedule entry: %w", err)
	}
	return nil
}

// FindClassFee loads the class-level adjustment for a term, if any.
func (r *FeeRepository) FindClassFee(ctx context.Context, termID, classID string) (*models.ClassFee, error) {
	const query = `SELECT id, term_id, class_id, amount, override, created_at, updated_at FROM class_fees WHERE term_id = $1 AND class_id = $2`
	var fee models.ClassFee
	if err := r.db.GetContext(ctx, &fee, query, termID, classID); err != nil {
		return nil, err
	}
	return &fee, nil
}

// UpsertClassFee writes a class-level adjustment, replacing any
// existing one for the same term and class.
func (r *FeeRepository) UpsertClassFee(ctx context.Context, fee *models.ClassFee) error {
	if fee.ID == "" {
		fee.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if fee.CreatedAt.IsZero() {
		fee.CreatedAt = now
	}
	fee.UpdatedAt = now

	const query = `INSERT INTO class_fees (id, term_id, class_id, amount, override, created_at, updated_at)
		VALUES (:id, :term_id, :class_id, :amount, :override, :created_at, :updated_at)
		ON CONFLICT (term_id, class_id) DO UPDATE SET amount = EXCLUDED.amount, override = EXCLUDED.override, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, fee); err != nil {
		return fmt.Errorf("upsert class fee: %w", err)
	}
	return nil
}
