package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/zps-fees-api/internal/models"
	"github.com/noah-isme/zps-fees-api/pkg/config"
	appErrors "github.com/noah-isme/zps-fees-api/pkg/errors"
)

type reconciliationBalanceRepository interface {
	FindByStudentAndTerm(ctx context.Context, studentID, termID string) (*models.Balance, error)
	ListMaterializedAfter(ctx context.Context, studentID string, year, termNumber int) ([]models.BalanceWithTerm, error)
	FindLatestByStudent(ctx context.Context, studentID string) (*models.BalanceWithTerm, error)
	FindLatestByStudentAndYear(ctx context.Context, studentID string, year int) (*models.BalanceWithTerm, error)
	CountByStudentAndYear(ctx context.Context, studentID string, year int) (int, error)
	RecomputeAmountPaid(ctx context.Context, studentID, termID string) (*models.Balance, error)
	ListStudentIDsByTerm(ctx context.Context, termID string) ([]string, error)
}

type reconciliationTermRepository interface {
	FindByID(ctx context.Context, id string) (*models.Term, error)
	FindByYearAndNumber(ctx context.Context, year, number int) (*models.Term, error)
}

type reconciliationStudentRepository interface {
	FindByID(ctx context.Context, id string) (*models.StudentDetail, error)
	ListActive(ctx context.Context) ([]models.StudentDetail, error)
	ListEnrolledTerminal(ctx context.Context, terminalGrade int) ([]models.StudentDetail, error)
	Graduate(ctx context.Context, id string, at time.Time) (bool, error)
	Archive(ctx context.Context, id string, at time.Time) (bool, error)
}

type movementRecorder interface {
	Create(ctx context.Context, movement *models.StudentMovement) error
}

// RepairReport summarises one repair sweep run.
type RepairReport struct {
	TermID    string `json:"term_id"`
	Examined  int    `json:"examined"`
	Repaired  int    `json:"repaired"`
	Failed    int    `json:"failed"`
	StartedAt time.Time `json:"started_at"`
	Duration  string `json:"duration"`
}

// ReconciliationService orchestrates the ledger after every mutation:
// recompute the touched row, ripple the arrears chain forward, then
// evaluate the student lifecycle.
type ReconciliationService struct {
	ledger    *LedgerService
	balances  reconciliationBalanceRepository
	terms     reconciliationTermRepository
	students  reconciliationStudentRepository
	movements movementRecorder
	metrics   *MetricsService
	billing   config.BillingConfig
	sweep     config.SweepConfig
	logger    *zap.Logger
}

// NewReconciliationService creates a new reconciliation service instance.
func NewReconciliationService(ledger *LedgerService, balances reconciliationBalanceRepository, terms reconciliationTermRepository, students reconciliationStudentRepository, movements movementRecorder, metrics *MetricsService, billing config.BillingConfig, sweep config.SweepConfig, logger *zap.Logger) *ReconciliationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconciliationService{
		ledger:    ledger,
		balances:  balances,
		terms:     terms,
		students:  students,
		movements: movements,
		metrics:   metrics,
		billing:   billing,
		sweep:     sweep,
		logger:    logger,
	}
}

// Recompute rebuilds the student's ledger row for the term from its
// sources, cascades the change forward through any later rows, and
// re-evaluates the student's lifecycle. This is the single entry point
// called after every payment, import or fee change.
func (s *ReconciliationService) Recompute(ctx context.Context, studentID, termID string) (*models.BalanceView, error) {
	term, err := s.terms.FindByID(ctx, termID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "term not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load term")
	}

	balance, err := s.balances.FindByStudentAndTerm(ctx, studentID, termID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.ErrNoBalanceRecord
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load balance")
	}

	row := &models.BalanceWithTerm{Balance: *balance, AcademicYear: term.AcademicYear, TermNumber: term.TermNumber}
	if _, err := s.ledger.RefreshCharges(ctx, row); err != nil {
		return nil, err
	}

	balance, err = s.balances.RecomputeAmountPaid(ctx, studentID, termID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to recompute amount paid")
	}
	s.metrics.RecordRecompute()

	s.cascade(ctx, studentID, term)
	s.carryCredit(ctx, studentID, term, balance)
	s.evaluateLifecycle(ctx, studentID)
	s.ledger.InvalidateCache(ctx, studentID)

	return models.NewBalanceView(balance, term.AcademicYear, term.TermNumber), nil
}

// cascade refreshes the arrears chain through the student's already
// materialized rows after the given term, oldest first so each row
// reads the closing balance its predecessor just wrote. A failed row
// is logged and skipped; later rows still get refreshed on the next
// reconciliation that touches them.
func (s *ReconciliationService) cascade(ctx context.Context, studentID string, from *models.Term) {
	rows, err := s.balances.ListMaterializedAfter(ctx, studentID, from.AcademicYear, from.TermNumber)
	if err != nil {
		s.logger.Warn("cascade listing failed",
			zap.String("student_id", studentID),
			zap.String("term_id", from.ID),
			zap.Error(err))
		return
	}

	refreshed, skipped := 0, 0
	for i := range rows {
		if _, err := s.ledger.RefreshCharges(ctx, &rows[i]); err != nil {
			skipped++
			s.logger.Warn("cascade refresh skipped",
				zap.String("student_id", studentID),
				zap.String("balance_id", rows[i].ID),
				zap.Int("academic_year", rows[i].AcademicYear),
				zap.Int("term_number", rows[i].TermNumber),
				zap.Error(err))
			continue
		}
		refreshed++
	}
	s.metrics.RecordCascade(refreshed, skipped)
}

// carryCredit materializes the next term's row when the student has
// overpaid and the next term already exists, so the credit shows up
// immediately instead of waiting for the next billing run.
func (s *ReconciliationService) carryCredit(ctx context.Context, studentID string, term *models.Term, balance *models.Balance) {
	if !balance.CurrentBalance().IsNegative() {
		return
	}

	nextYear, nextNumber := term.AcademicYear, term.TermNumber+1
	if term.IsFinal() {
		nextYear, nextNumber = term.AcademicYear+1, models.FirstTermNumber
	}

	next, err := s.terms.FindByYearAndNumber(ctx, nextYear, nextNumber)
	if err != nil {
		if err != sql.ErrNoRows {
			s.logger.Warn("credit carry lookup failed", zap.String("student_id", studentID), zap.Error(err))
		}
		return
	}

	if _, _, err := s.ledger.EnsureBalance(ctx, studentID, next.ID); err != nil {
		s.logger.Debug("credit carry skipped",
			zap.String("student_id", studentID),
			zap.String("next_term_id", next.ID),
			zap.Error(err))
	}
}

// evaluateLifecycle graduates a terminal-grade student whose whole
// ledger has settled, then archives them once off the roll.
func (s *ReconciliationService) evaluateLifecycle(ctx context.Context, studentID string) {
	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		s.logger.Warn("lifecycle load failed", zap.String("student_id", studentID), zap.Error(err))
		return
	}
	if student.IsArchived {
		return
	}

	latest, err := s.balances.FindLatestByStudent(ctx, studentID)
	if err != nil {
		if err != sql.ErrNoRows {
			s.logger.Warn("lifecycle balance load failed", zap.String("student_id", studentID), zap.Error(err))
		}
		return
	}
	settled := !latest.CurrentBalance().IsPositive()

	if student.IsActive && student.Grade == s.billing.TerminalGrade && settled {
		// Only graduate once the student has reached the final term of
		// their terminal year, or is being held beyond it for debt.
		if latest.TermNumber >= models.LastTermNumber || latest.AcademicYear > student.AcademicYear {
			s.graduate(ctx, student, "fees settled in terminal grade")
			student.Status = models.StudentStatusGraduated
			student.IsActive = false
		}
	}

	if student.Status == models.StudentStatusGraduated && !student.IsActive && settled {
		s.archive(ctx, student)
	}
}

func (s *ReconciliationService) graduate(ctx context.Context, student *models.StudentDetail, reason string) {
	changed, err := s.students.Graduate(ctx, student.ID, time.Now())
	if err != nil {
		s.logger.Error("graduation failed", zap.String("student_id", student.ID), zap.Error(err))
		return
	}
	if !changed {
		return
	}
	s.metrics.RecordGraduation()
	s.recordMovement(ctx, student, models.MovementGraduation, student.Status, models.StudentStatusGraduated, reason)
	s.logger.Info("student graduated", zap.String("student_id", student.ID), zap.String("reason", reason))
}

func (s *ReconciliationService) archive(ctx context.Context, student *models.StudentDetail) {
	changed, err := s.students.Archive(ctx, student.ID, time.Now())
	if err != nil {
		s.logger.Error("archival failed", zap.String("student_id", student.ID), zap.Error(err))
		return
	}
	if !changed {
		return
	}
	s.metrics.RecordArchival()
	s.recordMovement(ctx, student, models.MovementArchival, student.Status, student.Status, "ledger settled after graduation")
	s.logger.Info("student archived", zap.String("student_id", student.ID))
}

func (s *ReconciliationService) recordMovement(ctx context.Context, student *models.StudentDetail, movementType, fromStatus, toStatus, reason string) {
	movement := &models.StudentMovement{
		StudentID:  student.ID,
		Type:       movementType,
		FromStatus: fromStatus,
		ToStatus:   toStatus,
		Reason:     reason,
	}
	if err := s.movements.Create(ctx, movement); err != nil {
		s.logger.Warn("movement record failed", zap.String("student_id", student.ID), zap.Error(err))
	}
}

// OnTermActivated bills every active student for the newly current
// term, then runs the graduation sweep when the final term of the year
// opens. Billing failures are per-student and do not stop the run.
func (s *ReconciliationService) OnTermActivated(ctx context.Context, term *models.Term) error {
	students, err := s.students.ListActive(ctx)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list active students")
	}

	billed, failed := 0, 0
	for i := range students {
		if _, _, err := s.ledger.EnsureBalance(ctx, students[i].ID, term.ID); err != nil {
			failed++
			s.logger.Warn("term billing skipped",
				zap.String("student_id", students[i].ID),
				zap.String("term_id", term.ID),
				zap.Error(err))
			continue
		}
		billed++
	}
	s.logger.Info("term activation billing complete",
		zap.String("term_id", term.ID),
		zap.Int("billed", billed),
		zap.Int("failed", failed))

	if term.IsFinal() {
		s.GraduationSweep(ctx, term.AcademicYear)
	}
	return nil
}

// GraduationSweep closes out the terminal grade for the year. Every
// candidate holding ledger rows for all three terms graduates
// unconditionally; the archive flag follows the final balance, so a
// student still owing leaves the roll GRADUATED but unarchived and
// collection continues against their frozen ledger.
func (s *ReconciliationService) GraduationSweep(ctx context.Context, year int) {
	students, err := s.students.ListEnrolledTerminal(ctx, s.billing.TerminalGrade)
	if err != nil {
		s.logger.Error("graduation sweep listing failed", zap.Error(err))
		return
	}

	for i := range students {
		student := &students[i]
		count, err := s.balances.CountByStudentAndYear(ctx, student.ID, year)
		if err != nil {
			s.logger.Warn("graduation sweep count failed", zap.String("student_id", student.ID), zap.Error(err))
			continue
		}
		if count < models.LastTermNumber {
			continue
		}

		final, err := s.balances.FindLatestByStudentAndYear(ctx, student.ID, year)
		if err != nil {
			if err != sql.ErrNoRows {
				s.logger.Warn("graduation sweep balance load failed", zap.String("student_id", student.ID), zap.Error(err))
			}
			continue
		}

		closing := final.CurrentBalance()
		s.graduate(ctx, student, fmt.Sprintf("completed grade %d with final balance %s", student.Grade, closing.StringFixed(2)))
		student.Status = models.StudentStatusGraduated
		student.IsActive = false
		if !closing.IsPositive() {
			s.archive(ctx, student)
		}
		s.ledger.InvalidateCache(ctx, student.ID)
	}
}

// RepairSweep walks every student holding a row in the term and
// rebuilds their entire ledger history from the journal, oldest row
// first so each rebuilt closing balance feeds the next. Used to heal
// drift after imports or manual database surgery. Each student gets a
// bounded retry.
func (s *ReconciliationService) RepairSweep(ctx context.Context, termID string) (*RepairReport, error) {
	if _, err := s.terms.FindByID(ctx, termID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "term not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load term")
	}

	studentIDs, err := s.balances.ListStudentIDsByTerm(ctx, termID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list term students")
	}

	report := &RepairReport{TermID: termID, Examined: len(studentIDs), StartedAt: time.Now().UTC()}
	for _, studentID := range studentIDs {
		if err := s.repairStudent(ctx, studentID); err != nil {
			report.Failed++
			s.logger.Error("repair sweep student failed",
				zap.String("student_id", studentID),
				zap.String("term_id", termID),
				zap.Error(err))
			continue
		}
		report.Repaired++
	}
	report.Duration = time.Since(report.StartedAt).String()

	s.logger.Info("repair sweep complete",
		zap.String("term_id", termID),
		zap.Int("examined", report.Examined),
		zap.Int("repaired", report.Repaired),
		zap.Int("failed", report.Failed))
	return report, nil
}

func (s *ReconciliationService) repairStudent(ctx context.Context, studentID string) error {
	var err error
	for attempt := 0; attempt <= s.sweep.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.sweep.RetryDelay):
			}
		}
		if err = s.rebuildHistory(ctx, studentID); err == nil {
			return nil
		}
	}
	return err
}

// rebuildHistory re-derives every row of the student's ledger from
// the journal, then re-evaluates their lifecycle.
func (s *ReconciliationService) rebuildHistory(ctx context.Context, studentID string) error {
	rows, err := s.ledger.balances.ListByStudent(ctx, studentID)
	if err != nil {
		return err
	}
	for i := range rows {
		if _, err := s.ledger.RefreshCharges(ctx, &rows[i]); err != nil {
			return err
		}
		if _, err := s.balances.RecomputeAmountPaid(ctx, studentID, rows[i].TermID); err != nil {
			return err
		}
	}
	s.metrics.RecordRecompute()
	s.evaluateLifecycle(ctx, studentID)
	s.ledger.InvalidateCache(ctx, studentID)
	return nil
}
