package service

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/zps-fees-api/internal/models"
	appErrors "github.com/noah-isme/zps-fees-api/pkg/errors"
)

type arrearsRepository interface {
	Create(ctx context.Context, imported *models.ArrearsImport) error
	ListByStudent(ctx context.Context, studentID string) ([]models.ArrearsImport, error)
}

type arrearsBalanceRepository interface {
	AddImportedArrears(ctx context.Context, id string, amount decimal.Decimal) error
}

type arrearsTermRepository interface {
	FindCurrent(ctx context.Context) (*models.Term, error)
}

// ImportArrearsRequest carries one externally sourced arrears figure.
type ImportArrearsRequest struct {
	StudentID  string          `json:"student_id" validate:"required"`
	TermID     string          `json:"term_id"`
	Amount     decimal.Decimal `json:"amount" validate:"required"`
	Source     string          `json:"source" validate:"required"`
	Notes      string          `json:"notes"`
	ImportedBy string          `json:"imported_by"`
}

// ArrearsService layers externally imported debt onto the ledger.
// Imports are additive: later reconciliation runs rebuild the chain
// component of previous_arrears around them but never shrink them.
type ArrearsService struct {
	imports    arrearsRepository
	balances   arrearsBalanceRepository
	terms      arrearsTermRepository
	ledger     *LedgerService
	reconciler *ReconciliationService
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewArrearsService creates a new arrears service instance.
func NewArrearsService(imports arrearsRepository, balances arrearsBalanceRepository, terms arrearsTermRepository, ledger *LedgerService, reconciler *ReconciliationService, validate *validator.Validate, logger *zap.Logger) *ArrearsService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArrearsService{imports: imports, balances: balances, terms: terms, ledger: ledger, reconciler: reconciler, validator: validate, logger: logger}
}

// Import books an external arrears figure against the student's row
// for the term, materializing the row first when needed, then runs a
// full reconciliation so the debt ripples forward.
func (s *ArrearsService) Import(ctx context.Context, req ImportArrearsRequest) (*models.BalanceView, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid arrears import payload")
	}
	if !req.Amount.IsPositive() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "imported arrears must be positive")
	}

	termID := req.TermID
	if termID == "" {
		current, err := s.terms.FindCurrent(ctx)
		if err != nil {
			return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "no current term set")
		}
		termID = current.ID
	}

	balance, _, err := s.ledger.EnsureBalance(ctx, req.StudentID, termID)
	if err != nil {
		return nil, err
	}

	if err := s.balances.AddImportedArrears(ctx, balance.ID, req.Amount); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to apply imported arrears")
	}

	entry := &models.ArrearsImport{
		StudentID:  req.StudentID,
		TermID:     termID,
		Amount:     req.Amount,
		Source:     req.Source,
		Notes:      req.Notes,
		ImportedBy: req.ImportedBy,
	}
	if err := s.imports.Create(ctx, entry); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record arrears import")
	}

	view, err := s.reconciler.Recompute(ctx, req.StudentID, termID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("arrears imported",
		zap.String("student_id", req.StudentID),
		zap.String("term_id", termID),
		zap.String("amount", req.Amount.String()),
		zap.String("source", req.Source))
	return view, nil
}

// History returns a student's import audit trail.
func (s *ArrearsService) History(ctx context.Context, studentID string) ([]models.ArrearsImport, error) {
	imports, err := s.imports.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list arrears imports")
	}
	return imports, nil
}
