package service

import (
	"context"
	"database/sql"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/zps-fees-api/internal/models"
	appErrors "github.com/noah-isme/zps-fees-api/pkg/errors"
)

type feeRepository interface {
	FindScheduleEntry(ctx context.Context, termID string, band models.GradeBand) (*models.FeeScheduleEntry, error)
	ListScheduleByTerm(ctx context.Context, termID string) ([]models.FeeScheduleEntry, error)
	UpsertScheduleEntry(ctx context.Context, entry *models.FeeScheduleEntry) error
	FindClassFee(ctx context.Context, termID, classID string) (*models.ClassFee, error)
	UpsertClassFee(ctx context.Context, fee *models.ClassFee) error
}

type feePaymentRepository interface {
	ExistsByTerm(ctx context.Context, termID string) (bool, error)
}

type feeClassRepository interface {
	FindByID(ctx context.Context, id string) (*models.Class, error)
}

// SetScheduleRequest writes a band fee for a term.
type SetScheduleRequest struct {
	TermID string          `json:"term_id" validate:"required"`
	Band   string          `json:"band" validate:"required,oneof=EARLY_CHILDHOOD PRIMARY"`
	Amount decimal.Decimal `json:"amount" validate:"required"`
}

// SetClassFeeRequest writes a class-level adjustment for a term.
type SetClassFeeRequest struct {
	TermID   string          `json:"term_id" validate:"required"`
	ClassID  string          `json:"class_id" validate:"required"`
	Amount   decimal.Decimal `json:"amount" validate:"required"`
	Override bool            `json:"override"`
}

// FeeService manages the fee schedule and resolves effective term fees.
type FeeService struct {
	fees      feeRepository
	payments  feePaymentRepository
	classes   feeClassRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewFeeService creates a new fee service instance.
func NewFeeService(fees feeRepository, payments feePaymentRepository, classes feeClassRepository, validate *validator.Validate, logger *zap.Logger) *FeeService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FeeService{fees: fees, payments: payments, classes: classes, validator: validate, logger: logger}
}

// SetScheduleAmount writes a band fee. Once any payment has been
// recorded against the term the amount is frozen; rewriting it with
// the same value stays allowed so idempotent imports do not fail.
func (s *FeeService) SetScheduleAmount(ctx context.Context, req SetScheduleRequest) (*models.FeeScheduleEntry, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid fee schedule payload")
	}
	if req.Amount.IsNegative() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "fee amount cannot be negative")
	}

	existing, err := s.fees.FindScheduleEntry(ctx, req.TermID, models.GradeBand(req.Band))
	if err != nil && err != sql.ErrNoRows {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load fee schedule")
	}

	if existing != nil && !existing.Amount.Equal(req.Amount) {
		locked, err := s.payments.ExistsByTerm(ctx, req.TermID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check term payments")
		}
		if locked {
			return nil, appErrors.ErrImmutableFee
		}
	}

	entry := &models.FeeScheduleEntry{
		TermID: req.TermID,
		Band:   models.GradeBand(req.Band),
		Amount: req.Amount,
	}
	if existing != nil {
		entry.ID = existing.ID
		entry.CreatedAt = existing.CreatedAt
	}
	if err := s.fees.UpsertScheduleEntry(ctx, entry); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to write fee schedule")
	}

	s.logger.Info("fee schedule updated",
		zap.String("term_id", req.TermID),
		zap.String("band", req.Band),
		zap.String("amount", req.Amount.String()))
	return entry, nil
}

// SetClassFee writes a class-level fee adjustment for a term.
func (s *FeeService) SetClassFee(ctx context.Context, req SetClassFeeRequest) (*models.ClassFee, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid class fee payload")
	}
	if req.Amount.IsNegative() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "fee amount cannot be negative")
	}

	if _, err := s.classes.FindByID(ctx, req.ClassID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}

	existing, err := s.fees.FindClassFee(ctx, req.TermID, req.ClassID)
	if err != nil && err != sql.ErrNoRows {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class fee")
	}

	if existing != nil && (!existing.Amount.Equal(req.Amount) || existing.Override != req.Override) {
		locked, err := s.payments.ExistsByTerm(ctx, req.TermID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check term payments")
		}
		if locked {
			return nil, appErrors.ErrImmutableFee
		}
	}

	fee := &models.ClassFee{
		TermID:   req.TermID,
		ClassID:  req.ClassID,
		Amount:   req.Amount,
		Override: req.Override,
	}
	if existing != nil {
		fee.ID = existing.ID
		fee.CreatedAt = existing.CreatedAt
	}
	if err := s.fees.UpsertClassFee(ctx, fee); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to write class fee")
	}
	return fee, nil
}

// ListSchedule returns the band entries configured for a term.
func (s *FeeService) ListSchedule(ctx context.Context, termID string) ([]models.FeeScheduleEntry, error) {
	entries, err := s.fees.ListScheduleByTerm(ctx, termID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list fee schedule")
	}
	return entries, nil
}

// Resolve computes the effective term fee for a class: the band fee
// plus any class surcharge, or the class override when set. Returns
// ErrNoFeeConfigured when no band entry exists for the term.
func (s *FeeService) Resolve(ctx context.Context, termID, classID string) (*models.ResolvedFee, error) {
	class, err := s.classes.FindByID(ctx, classID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}

	band := class.Band()
	entry, err := s.fees.FindScheduleEntry(ctx, termID, band)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.ErrNoFeeConfigured
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load fee schedule")
	}

	amount := entry.Amount
	classFee, err := s.fees.FindClassFee(ctx, termID, classID)
	if err != nil && err != sql.ErrNoRows {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class fee")
	}
	if classFee != nil {
		if classFee.Override {
			amount = classFee.Amount
		} else {
			amount = amount.Add(classFee.Amount)
		}
	}

	return &models.ResolvedFee{TermID: termID, ClassID: classID, Band: band, Amount: amount}, nil
}
