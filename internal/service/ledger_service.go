package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/zps-fees-api/internal/models"
	"github.com/noah-isme/zps-fees-api/pkg/config"
	appErrors "github.com/noah-isme/zps-fees-api/pkg/errors"
)

type balanceRepository interface {
	FindByStudentAndTerm(ctx context.Context, studentID, termID string) (*models.Balance, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.BalanceWithTerm, error)
	ListMaterializedAfter(ctx context.Context, studentID string, year, termNumber int) ([]models.BalanceWithTerm, error)
	FindLatestByStudentAndYear(ctx context.Context, studentID string, year int) (*models.BalanceWithTerm, error)
	FindLatestByStudent(ctx context.Context, studentID string) (*models.BalanceWithTerm, error)
	Create(ctx context.Context, balance *models.Balance) error
	UpdateCharges(ctx context.Context, id string, termFee, previousArrears, importedArrears decimal.Decimal) error
	RecomputeAmountPaid(ctx context.Context, studentID, termID string) (*models.Balance, error)
}

type ledgerTermRepository interface {
	FindByID(ctx context.Context, id string) (*models.Term, error)
	FindByYearAndNumber(ctx context.Context, year, number int) (*models.Term, error)
}

type ledgerStudentRepository interface {
	FindByID(ctx context.Context, id string) (*models.StudentDetail, error)
}

type feeResolver interface {
	Resolve(ctx context.Context, termID, classID string) (*models.ResolvedFee, error)
}

type balanceCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// LedgerService owns the per-term balance rows: materializing them,
// rebuilding the arrears chain and serving balance views.
type LedgerService struct {
	balances balanceRepository
	terms    ledgerTermRepository
	students ledgerStudentRepository
	fees     feeResolver
	cache    balanceCache
	billing  config.BillingConfig
	caching  config.CacheConfig
	logger   *zap.Logger
}

// NewLedgerService creates a new ledger service instance.
func NewLedgerService(balances balanceRepository, terms ledgerTermRepository, students ledgerStudentRepository, fees feeResolver, cache balanceCache, billing config.BillingConfig, caching config.CacheConfig, logger *zap.Logger) *LedgerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LedgerService{balances: balances, terms: terms, students: students, fees: fees, cache: cache, billing: billing, caching: caching, logger: logger}
}

func balanceCacheKey(studentID, termID string) string {
	return fmt.Sprintf("balance:%s:%s", studentID, termID)
}

// CalculateArrears rebuilds the chain component of previous_arrears for
// a student entering the given term. The carried value is the closing
// balance of the closest earlier ledger row, sign preserved, so an
// overpayment carries forward as credit. Imported arrears are layered
// on top by the caller.
func (s *LedgerService) CalculateArrears(ctx context.Context, studentID string, term *models.Term) (decimal.Decimal, error) {
	if term.TermNumber > models.FirstTermNumber {
		prior, err := s.terms.FindByYearAndNumber(ctx, term.AcademicYear, term.TermNumber-1)
		if err != nil {
			if err == sql.ErrNoRows {
				return decimal.Zero, nil
			}
			return decimal.Zero, fmt.Errorf("load prior term: %w", err)
		}
		balance, err := s.balances.FindByStudentAndTerm(ctx, studentID, prior.ID)
		if err != nil {
			if err == sql.ErrNoRows {
				return decimal.Zero, nil
			}
			return decimal.Zero, fmt.Errorf("load prior balance: %w", err)
		}
		return balance.CurrentBalance(), nil
	}

	// Term 1 carries from the latest row of the previous year, falling
	// back to the latest row anywhere earlier when a year was skipped.
	latest, err := s.balances.FindLatestByStudentAndYear(ctx, studentID, term.AcademicYear-1)
	if err != nil {
		if err != sql.ErrNoRows {
			return decimal.Zero, fmt.Errorf("load prior year balance: %w", err)
		}
		latest, err = s.balances.FindLatestByStudent(ctx, studentID)
		if err != nil {
			if err == sql.ErrNoRows {
				return decimal.Zero, nil
			}
			return decimal.Zero, fmt.Errorf("load latest balance: %w", err)
		}
		if latest.AcademicYear >= term.AcademicYear {
			return decimal.Zero, nil
		}
	}
	return latest.CurrentBalance(), nil
}

// EnsureBalance materializes the ledger row for a student in a term.
// An existing row gets its charge side refreshed before it is
// returned, so a stale arrears chain heals on the next touch. The
// boolean reports whether a row was created.
func (s *LedgerService) EnsureBalance(ctx context.Context, studentID, termID string) (*models.Balance, bool, error) {
	existing, err := s.balances.FindByStudentAndTerm(ctx, studentID, termID)
	if err == nil {
		term, terr := s.terms.FindByID(ctx, termID)
		if terr != nil {
			return nil, false, appErrors.Wrap(terr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load term")
		}
		row := &models.BalanceWithTerm{Balance: *existing, AcademicYear: term.AcademicYear, TermNumber: term.TermNumber}
		refreshed, rerr := s.RefreshCharges(ctx, row)
		if rerr != nil {
			return nil, false, rerr
		}
		return refreshed, false, nil
	}
	if err != sql.ErrNoRows {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load balance")
	}

	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	// Rows are never materialized for students off the roll; their
	// ledger is frozen at the last term they were billed.
	if !student.IsActive || student.IsArchived {
		return nil, false, appErrors.ErrNoBalanceRecord
	}

	term, err := s.terms.FindByID(ctx, termID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, appErrors.Clone(appErrors.ErrNotFound, "term not found")
		}
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load term")
	}

	arrears, err := s.CalculateArrears(ctx, studentID, term)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to calculate arrears")
	}

	fee, err := s.resolveTermFee(ctx, student, term, arrears)
	if err != nil {
		return nil, false, err
	}

	balance := &models.Balance{
		StudentID:       studentID,
		TermID:          termID,
		TermFee:         fee,
		PreviousArrears: arrears,
		ImportedArrears: decimal.Zero,
		AmountPaid:      decimal.Zero,
	}
	if err := s.balances.Create(ctx, balance); err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create balance")
	}

	s.logger.Info("balance materialized",
		zap.String("student_id", studentID),
		zap.String("term_id", termID),
		zap.String("term_fee", fee.String()),
		zap.String("previous_arrears", arrears.String()))
	return balance, true, nil
}

// resolveTermFee returns the effective fee for the student in the
// term. A terminal-grade student entering a new academic year while
// still owing is kept on the books at zero fee: they are retained for
// debt collection, not rebilled.
func (s *LedgerService) resolveTermFee(ctx context.Context, student *models.StudentDetail, term *models.Term, arrears decimal.Decimal) (decimal.Decimal, error) {
	if student.Grade == s.billing.PromotionDebtGateGrade &&
		term.AcademicYear > student.AcademicYear &&
		arrears.IsPositive() {
		return decimal.Zero, nil
	}

	resolved, err := s.fees.Resolve(ctx, term.ID, student.ClassID)
	if err != nil {
		return decimal.Zero, err
	}
	return resolved.Amount, nil
}

// RefreshCharges rebuilds the charge side of an existing ledger row:
// previous_arrears becomes the recomputed chain value plus whatever
// was imported. term_fee and amount_paid are left untouched.
func (s *LedgerService) RefreshCharges(ctx context.Context, row *models.BalanceWithTerm) (*models.Balance, error) {
	term := &models.Term{ID: row.TermID, AcademicYear: row.AcademicYear, TermNumber: row.TermNumber}
	chain, err := s.CalculateArrears(ctx, row.StudentID, term)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to calculate arrears")
	}

	arrears := chain.Add(row.ImportedArrears)
	if err := s.balances.UpdateCharges(ctx, row.ID, row.TermFee, arrears, row.ImportedArrears); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update balance charges")
	}

	refreshed := row.Balance
	refreshed.PreviousArrears = arrears
	return &refreshed, nil
}

// Get returns the balance view for a student in a term, served from
// cache when enabled.
func (s *LedgerService) Get(ctx context.Context, studentID, termID string) (*models.BalanceView, error) {
	key := balanceCacheKey(studentID, termID)
	if s.caching.Enabled && s.cache != nil {
		var cached models.BalanceView
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return &cached, nil
		}
	}

	balance, err := s.balances.FindByStudentAndTerm(ctx, studentID, termID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.ErrNoBalanceRecord
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load balance")
	}

	term, err := s.terms.FindByID(ctx, termID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load term")
	}

	view := models.NewBalanceView(balance, term.AcademicYear, term.TermNumber)
	if s.caching.Enabled && s.cache != nil {
		if err := s.cache.Set(ctx, key, view, s.caching.TTL); err != nil {
			s.logger.Warn("balance cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return view, nil
}

// History returns every ledger row for the student as views, oldest
// first, plus the overall outstanding figure. Because arrears chain
// forward, the closing balance of the latest row is the student's
// whole-history position.
func (s *LedgerService) History(ctx context.Context, studentID string) ([]models.BalanceView, decimal.Decimal, error) {
	rows, err := s.balances.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, decimal.Zero, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list balances")
	}

	views := make([]models.BalanceView, 0, len(rows))
	overall := decimal.Zero
	for i := range rows {
		view := models.NewBalanceView(&rows[i].Balance, rows[i].AcademicYear, rows[i].TermNumber)
		views = append(views, *view)
		if i == len(rows)-1 {
			overall = rows[i].CurrentBalance()
		}
	}
	return views, overall, nil
}

// InvalidateCache drops all cached balance views for the student.
func (s *LedgerService) InvalidateCache(ctx context.Context, studentID string) {
	if !s.caching.Enabled || s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, fmt.Sprintf("balance:%s:*", studentID)); err != nil {
		s.logger.Warn("balance cache invalidation failed", zap.String("student_id", studentID), zap.Error(err))
	}
}
