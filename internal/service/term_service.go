package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/zps-fees-api/internal/models"
	"github.com/noah-isme/zps-fees-api/pkg/config"
	appErrors "github.com/noah-isme/zps-fees-api/pkg/errors"
)

type termRepository interface {
	List(ctx context.Context, filter models.TermFilter) ([]models.Term, int, error)
	FindByID(ctx context.Context, id string) (*models.Term, error)
	FindCurrent(ctx context.Context) (*models.Term, error)
	FindLatest(ctx context.Context) (*models.Term, error)
	ExistsByYearAndNumber(ctx context.Context, year, number int) (bool, error)
	Create(ctx context.Context, term *models.Term) error
	SetCurrent(ctx context.Context, id string) error
}

type termFeeSeeder interface {
	UpsertScheduleEntry(ctx context.Context, entry *models.FeeScheduleEntry) error
}

// CreateTermRequest describes payload for creating terms.
type CreateTermRequest struct {
	AcademicYear int       `json:"academic_year" validate:"required,min=2000"`
	TermNumber   int       `json:"term_number" validate:"required,min=1,max=3"`
	StartDate    time.Time `json:"start_date" validate:"required"`
	EndDate      time.Time `json:"end_date" validate:"required"`
}

// TermService manages the term calendar. Terms are strictly
// sequential; activation triggers billing for the whole roll.
type TermService struct {
	terms      termRepository
	fees       termFeeSeeder
	reconciler *ReconciliationService
	billing    config.BillingConfig
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewTermService creates a new term service instance.
func NewTermService(terms termRepository, fees termFeeSeeder, reconciler *ReconciliationService, billing config.BillingConfig, validate *validator.Validate, logger *zap.Logger) *TermService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TermService{terms: terms, fees: fees, reconciler: reconciler, billing: billing, validator: validate, logger: logger}
}

// List returns paginated terms.
func (s *TermService) List(ctx context.Context, filter models.TermFilter) ([]models.Term, *models.Pagination, error) {
	terms, total, err := s.terms.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list terms")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return terms, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns a term by ID.
func (s *TermService) Get(ctx context.Context, id string) (*models.Term, error) {
	term, err := s.terms.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "term not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load term")
	}
	return term, nil
}

// Current returns the current term, falling back to the latest one
// when no term has been activated yet.
func (s *TermService) Current(ctx context.Context) (*models.Term, error) {
	term, err := s.terms.FindCurrent(ctx)
	if err == nil {
		return term, nil
	}
	if err != sql.ErrNoRows {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load current term")
	}

	term, err = s.terms.FindLatest(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no terms configured")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load latest term")
	}
	return term, nil
}

// Create adds the next term in the calendar. A term may only follow
// the latest existing one: term N+1 of the same year, or term 1 of the
// next year after a final term.
func (s *TermService) Create(ctx context.Context, req CreateTermRequest) (*models.Term, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid term payload")
	}
	if !req.StartDate.Before(req.EndDate) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "start_date must be before end_date")
	}

	latest, err := s.terms.FindLatest(ctx)
	if err != nil && err != sql.ErrNoRows {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load latest term")
	}

	if latest == nil {
		if req.TermNumber != models.FirstTermNumber {
			return nil, appErrors.Clone(appErrors.ErrSequenceViolation, "first term of the calendar must be term 1")
		}
	} else {
		wantYear, wantNumber := latest.AcademicYear, latest.TermNumber+1
		if latest.IsFinal() {
			wantYear, wantNumber = latest.AcademicYear+1, models.FirstTermNumber
		}
		if req.AcademicYear != wantYear || req.TermNumber != wantNumber {
			return nil, appErrors.ErrSequenceViolation
		}
	}

	exists, err := s.terms.ExistsByYearAndNumber(ctx, req.AcademicYear, req.TermNumber)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check term uniqueness")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "term already exists")
	}

	term := &models.Term{
		AcademicYear: req.AcademicYear,
		TermNumber:   req.TermNumber,
		StartDate:    req.StartDate,
		EndDate:      req.EndDate,
	}
	if err := s.terms.Create(ctx, term); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create term")
	}

	s.seedSchedule(ctx, term)

	s.logger.Info("term created",
		zap.Int("academic_year", term.AcademicYear),
		zap.Int("term_number", term.TermNumber))
	return term, nil
}

// Activate makes the term current and bills every active student.
// Billing runs synchronously so the caller sees a fully materialized
// ledger when the call returns.
func (s *TermService) Activate(ctx context.Context, id string) (*models.Term, error) {
	term, err := s.terms.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "term not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load term")
	}

	if err := s.terms.SetCurrent(ctx, term.ID); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to set current term")
	}
	term.IsCurrent = true

	if err := s.reconciler.OnTermActivated(ctx, term); err != nil {
		return nil, err
	}
	return term, nil
}

// seedSchedule pre-populates the band fees for a new term from the
// configured defaults. Missing or malformed defaults leave the band
// unseeded; administrators set the schedule explicitly before billing.
func (s *TermService) seedSchedule(ctx context.Context, term *models.Term) {
	seed := func(band models.GradeBand, raw string) {
		if raw == "" {
			return
		}
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			s.logger.Warn("default fee unparsable", zap.String("band", string(band)), zap.String("raw", raw))
			return
		}
		entry := &models.FeeScheduleEntry{TermID: term.ID, Band: band, Amount: amount}
		if err := s.fees.UpsertScheduleEntry(ctx, entry); err != nil {
			s.logger.Warn("default fee seeding failed", zap.String("band", string(band)), zap.Error(err))
		}
	}
	seed(models.GradeBandEarlyChildhood, s.billing.DefaultEarlyChildhoodFee)
	seed(models.GradeBandPrimary, s.billing.DefaultPrimaryFee)
}
