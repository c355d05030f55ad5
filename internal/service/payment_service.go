package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/zps-fees-api/internal/models"
	appErrors "github.com/noah-isme/zps-fees-api/pkg/errors"
)

type paymentRepository interface {
	FindByID(ctx context.Context, id string) (*models.Payment, error)
	List(ctx context.Context, filter models.PaymentFilter) ([]models.Payment, int, error)
	Create(ctx context.Context, payment *models.Payment) error
	Delete(ctx context.Context, id string) error
	CountByTerm(ctx context.Context, termID string) (int, error)
}

type paymentTermRepository interface {
	FindByID(ctx context.Context, id string) (*models.Term, error)
	FindCurrent(ctx context.Context) (*models.Term, error)
}

type paymentStudentRepository interface {
	FindByID(ctx context.Context, id string) (*models.StudentDetail, error)
}

type paymentBalanceRepository interface {
	FindLatestByStudent(ctx context.Context, studentID string) (*models.BalanceWithTerm, error)
}

var receiptPrefixes = map[string]string{
	models.PaymentMethodCash:   "CSH",
	models.PaymentMethodBank:   "BNK",
	models.PaymentMethodMobile: "MOB",
	models.PaymentMethodCheque: "CHQ",
}

// RecordPaymentRequest describes the payload for appending a payment.
type RecordPaymentRequest struct {
	StudentID  string          `json:"student_id" validate:"required"`
	TermID     string          `json:"term_id"`
	Amount     decimal.Decimal `json:"amount" validate:"required"`
	Method     string          `json:"method" validate:"required"`
	Reference  string          `json:"reference"`
	Notes      string          `json:"notes"`
	RecordedBy string          `json:"recorded_by"`
	PaidAt     *time.Time      `json:"paid_at"`
}

// PaymentResult pairs the created journal entry with the balance view
// it produced.
type PaymentResult struct {
	Payment *models.Payment     `json:"payment"`
	Balance *models.BalanceView `json:"balance"`
}

// PaymentService appends to and trims the payment journal, handing the
// ledger to the reconciler after every change.
type PaymentService struct {
	payments   paymentRepository
	terms      paymentTermRepository
	students   paymentStudentRepository
	balances   paymentBalanceRepository
	ledger     *LedgerService
	reconciler *ReconciliationService
	metrics    *MetricsService
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewPaymentService creates a new payment service instance.
func NewPaymentService(payments paymentRepository, terms paymentTermRepository, students paymentStudentRepository, balances paymentBalanceRepository, ledger *LedgerService, reconciler *ReconciliationService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *PaymentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentService{
		payments:   payments,
		terms:      terms,
		students:   students,
		balances:   balances,
		ledger:     ledger,
		reconciler: reconciler,
		metrics:    metrics,
		validator:  validate,
		logger:     logger,
	}
}

// Record appends a journal entry and reconciles the ledger. The term
// defaults to the current one; a payment for a student who is off the
// roll lands on their last billed term so late debt collection still
// books against the frozen ledger.
func (s *PaymentService) Record(ctx context.Context, req RecordPaymentRequest) (*PaymentResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payment payload")
	}
	if req.Amount.IsNegative() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "payment amount cannot be negative")
	}
	if req.Amount.IsZero() {
		// Zero entries are allowed for adjustments; flag them in the log.
		s.logger.Warn("zero amount payment recorded", zap.String("student_id", req.StudentID))
	}
	if !models.ValidPaymentMethod(req.Method) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown payment method")
	}

	student, err := s.students.FindByID(ctx, req.StudentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	term, err := s.resolveTerm(ctx, req.TermID)
	if err != nil {
		return nil, err
	}

	if !student.IsActive || student.IsArchived {
		latest, err := s.balances.FindLatestByStudent(ctx, req.StudentID)
		if err != nil {
			if err == sql.ErrNoRows {
				return nil, appErrors.ErrNoBalanceRecord
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load latest balance")
		}
		if latest.TermID != term.ID {
			term, err = s.terms.FindByID(ctx, latest.TermID)
			if err != nil {
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load term")
			}
			s.logger.Info("payment redirected to last billed term",
				zap.String("student_id", req.StudentID),
				zap.String("term_id", term.ID))
		}
	} else {
		if _, _, err := s.ledger.EnsureBalance(ctx, req.StudentID, term.ID); err != nil {
			return nil, err
		}
	}

	receipt, reference, err := s.numberFor(ctx, term, req.Method, req.Reference)
	if err != nil {
		return nil, err
	}

	payment := &models.Payment{
		StudentID:     req.StudentID,
		TermID:        term.ID,
		Amount:        req.Amount,
		Method:        req.Method,
		ReceiptNumber: receipt,
		Reference:     reference,
		Notes:         req.Notes,
		RecordedBy:    req.RecordedBy,
	}
	if req.PaidAt != nil {
		payment.PaidAt = req.PaidAt.UTC()
	}
	if err := s.payments.Create(ctx, payment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create payment")
	}
	s.metrics.RecordPayment(req.Method)

	view, err := s.reconciler.Recompute(ctx, req.StudentID, term.ID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("payment recorded",
		zap.String("payment_id", payment.ID),
		zap.String("student_id", req.StudentID),
		zap.String("term_id", term.ID),
		zap.String("amount", req.Amount.String()),
		zap.String("receipt", receipt))
	return &PaymentResult{Payment: payment, Balance: view}, nil
}

// Delete removes a journal entry and reconciles the ledger so the
// balance reflects the remaining entries.
func (s *PaymentService) Delete(ctx context.Context, id string) (*models.BalanceView, error) {
	payment, err := s.payments.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "payment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment")
	}

	if err := s.payments.Delete(ctx, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "payment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete payment")
	}
	s.metrics.RecordPaymentDeleted()

	view, err := s.reconciler.Recompute(ctx, payment.StudentID, payment.TermID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("payment deleted",
		zap.String("payment_id", id),
		zap.String("student_id", payment.StudentID),
		zap.String("term_id", payment.TermID))
	return view, nil
}

// List returns journal entries matching the filter.
func (s *PaymentService) List(ctx context.Context, filter models.PaymentFilter) ([]models.Payment, *models.Pagination, error) {
	payments, total, err := s.payments.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list payments")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return payments, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

func (s *PaymentService) resolveTerm(ctx context.Context, termID string) (*models.Term, error) {
	if termID != "" {
		term, err := s.terms.FindByID(ctx, termID)
		if err != nil {
			if err == sql.ErrNoRows {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "term not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load term")
		}
		return term, nil
	}

	term, err := s.terms.FindCurrent(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "no current term set")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load current term")
	}
	return term, nil
}

// numberFor produces the sequential receipt number and, when the
// caller supplied none, a reference in the PMT{yy}{term}{seq} shape.
func (s *PaymentService) numberFor(ctx context.Context, term *models.Term, method, reference string) (string, string, error) {
	count, err := s.payments.CountByTerm(ctx, term.ID)
	if err != nil {
		return "", "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count term payments")
	}
	seq := count + 1

	receipt := fmt.Sprintf("%s-%04d", receiptPrefixes[method], seq)
	if reference == "" {
		reference = fmt.Sprintf("PMT%02d%d-%d", term.AcademicYear%100, term.TermNumber, seq)
	}
	return receipt, reference, nil
}
