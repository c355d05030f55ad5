package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/zps-fees-api/internal/models"
	"github.com/noah-isme/zps-fees-api/pkg/config"
)

// In-memory fakes shared by the service tests. They model the same
// invariants the SQL layer enforces: conditional updates report rows
// affected, recompute re-sums the journal, and lookups miss with
// sql.ErrNoRows.

type mockTermRepo struct {
	terms []models.Term
}

func (m *mockTermRepo) add(year, number int, current bool) *models.Term {
	term := models.Term{
		ID:           fmt.Sprintf("term-%d-%d", year, number),
		AcademicYear: year,
		TermNumber:   number,
		IsCurrent:    current,
		StartDate:    time.Date(year, time.Month(number*4-3), 1, 0, 0, 0, 0, time.UTC),
		EndDate:      time.Date(year, time.Month(number*4), 1, 0, 0, 0, 0, time.UTC),
	}
	m.terms = append(m.terms, term)
	return &m.terms[len(m.terms)-1]
}

func (m *mockTermRepo) List(ctx context.Context, filter models.TermFilter) ([]models.Term, int, error) {
	return m.terms, len(m.terms), nil
}

func (m *mockTermRepo) FindByID(ctx context.Context, id string) (*models.Term, error) {
	for i := range m.terms {
		if m.terms[i].ID == id {
			term := m.terms[i]
			return &term, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockTermRepo) FindByYearAndNumber(ctx context.Context, year, number int) (*models.Term, error) {
	for i := range m.terms {
		if m.terms[i].AcademicYear == year && m.terms[i].TermNumber == number {
			term := m.terms[i]
			return &term, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockTermRepo) FindCurrent(ctx context.Context) (*models.Term, error) {
	for i := range m.terms {
		if m.terms[i].IsCurrent {
			term := m.terms[i]
			return &term, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockTermRepo) FindLatest(ctx context.Context) (*models.Term, error) {
	if len(m.terms) == 0 {
		return nil, sql.ErrNoRows
	}
	latest := m.terms[0]
	for _, t := range m.terms[1:] {
		if t.AcademicYear > latest.AcademicYear || (t.AcademicYear == latest.AcademicYear && t.TermNumber > latest.TermNumber) {
			latest = t
		}
	}
	return &latest, nil
}

func (m *mockTermRepo) ExistsByYearAndNumber(ctx context.Context, year, number int) (bool, error) {
	_, err := m.FindByYearAndNumber(ctx, year, number)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (m *mockTermRepo) Create(ctx context.Context, term *models.Term) error {
	if term.ID == "" {
		term.ID = fmt.Sprintf("term-%d-%d", term.AcademicYear, term.TermNumber)
	}
	m.terms = append(m.terms, *term)
	return nil
}

func (m *mockTermRepo) SetCurrent(ctx context.Context, id string) error {
	for i := range m.terms {
		m.terms[i].IsCurrent = m.terms[i].ID == id
	}
	return nil
}

type mockPaymentRepo struct {
	payments []models.Payment
}

func (m *mockPaymentRepo) FindByID(ctx context.Context, id string) (*models.Payment, error) {
	for i := range m.payments {
		if m.payments[i].ID == id {
			p := m.payments[i]
			return &p, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockPaymentRepo) List(ctx context.Context, filter models.PaymentFilter) ([]models.Payment, int, error) {
	var out []models.Payment
	for _, p := range m.payments {
		if filter.StudentID != "" && p.StudentID != filter.StudentID {
			continue
		}
		if filter.TermID != "" && p.TermID != filter.TermID {
			continue
		}
		out = append(out, p)
	}
	return out, len(out), nil
}

func (m *mockPaymentRepo) Create(ctx context.Context, payment *models.Payment) error {
	if payment.ID == "" {
		payment.ID = fmt.Sprintf("pay-%d", len(m.payments)+1)
	}
	if payment.PaidAt.IsZero() {
		payment.PaidAt = time.Now().UTC()
	}
	m.payments = append(m.payments, *payment)
	return nil
}

func (m *mockPaymentRepo) Delete(ctx context.Context, id string) error {
	for i := range m.payments {
		if m.payments[i].ID == id {
			m.payments = append(m.payments[:i], m.payments[i+1:]...)
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *mockPaymentRepo) SumByStudentAndTerm(ctx context.Context, studentID, termID string) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, p := range m.payments {
		if p.StudentID == studentID && p.TermID == termID {
			total = total.Add(p.Amount)
		}
	}
	return total, nil
}

func (m *mockPaymentRepo) ExistsByTerm(ctx context.Context, termID string) (bool, error) {
	for _, p := range m.payments {
		if p.TermID == termID {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockPaymentRepo) CountByTerm(ctx context.Context, termID string) (int, error) {
	count := 0
	for _, p := range m.payments {
		if p.TermID == termID {
			count++
		}
	}
	return count, nil
}

type mockBalanceRepo struct {
	rows     []models.BalanceWithTerm
	payments *mockPaymentRepo
	terms    *mockTermRepo
}

func (m *mockBalanceRepo) find(studentID, termID string) *models.BalanceWithTerm {
	for i := range m.rows {
		if m.rows[i].StudentID == studentID && m.rows[i].TermID == termID {
			return &m.rows[i]
		}
	}
	return nil
}

func (m *mockBalanceRepo) FindByStudentAndTerm(ctx context.Context, studentID, termID string) (*models.Balance, error) {
	if row := m.find(studentID, termID); row != nil {
		balance := row.Balance
		return &balance, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockBalanceRepo) sorted(studentID string) []models.BalanceWithTerm {
	var out []models.BalanceWithTerm
	for _, r := range m.rows {
		if r.StudentID == studentID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AcademicYear != out[j].AcademicYear {
			return out[i].AcademicYear < out[j].AcademicYear
		}
		return out[i].TermNumber < out[j].TermNumber
	})
	return out
}

func (m *mockBalanceRepo) ListByStudent(ctx context.Context, studentID string) ([]models.BalanceWithTerm, error) {
	return m.sorted(studentID), nil
}

func (m *mockBalanceRepo) ListMaterializedAfter(ctx context.Context, studentID string, year, termNumber int) ([]models.BalanceWithTerm, error) {
	var out []models.BalanceWithTerm
	for _, r := range m.sorted(studentID) {
		if r.AcademicYear > year || (r.AcademicYear == year && r.TermNumber > termNumber) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockBalanceRepo) FindLatestByStudentAndYear(ctx context.Context, studentID string, year int) (*models.BalanceWithTerm, error) {
	rows := m.sorted(studentID)
	for i := len(rows) - 1; i >= 0; i-- {
		if rows[i].AcademicYear == year {
			row := rows[i]
			return &row, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockBalanceRepo) FindLatestByStudent(ctx context.Context, studentID string) (*models.BalanceWithTerm, error) {
	rows := m.sorted(studentID)
	if len(rows) == 0 {
		return nil, sql.ErrNoRows
	}
	row := rows[len(rows)-1]
	return &row, nil
}

func (m *mockBalanceRepo) CountByStudentAndYear(ctx context.Context, studentID string, year int) (int, error) {
	count := 0
	for _, r := range m.rows {
		if r.StudentID == studentID && r.AcademicYear == year {
			count++
		}
	}
	return count, nil
}

func (m *mockBalanceRepo) Create(ctx context.Context, balance *models.Balance) error {
	if balance.ID == "" {
		balance.ID = fmt.Sprintf("bal-%d", len(m.rows)+1)
	}
	term, err := m.terms.FindByID(ctx, balance.TermID)
	if err != nil {
		return err
	}
	m.rows = append(m.rows, models.BalanceWithTerm{
		Balance:      *balance,
		AcademicYear: term.AcademicYear,
		TermNumber:   term.TermNumber,
	})
	return nil
}

func (m *mockBalanceRepo) UpdateCharges(ctx context.Context, id string, termFee, previousArrears, importedArrears decimal.Decimal) error {
	for i := range m.rows {
		if m.rows[i].ID == id {
			m.rows[i].TermFee = termFee
			m.rows[i].PreviousArrears = previousArrears
			m.rows[i].ImportedArrears = importedArrears
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *mockBalanceRepo) AddImportedArrears(ctx context.Context, id string, amount decimal.Decimal) error {
	for i := range m.rows {
		if m.rows[i].ID == id {
			m.rows[i].ImportedArrears = m.rows[i].ImportedArrears.Add(amount)
			m.rows[i].PreviousArrears = m.rows[i].PreviousArrears.Add(amount)
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *mockBalanceRepo) RecomputeAmountPaid(ctx context.Context, studentID, termID string) (*models.Balance, error) {
	row := m.find(studentID, termID)
	if row == nil {
		return nil, sql.ErrNoRows
	}
	paid, _ := m.payments.SumByStudentAndTerm(ctx, studentID, termID)
	row.AmountPaid = paid
	balance := row.Balance
	return &balance, nil
}

func (m *mockBalanceRepo) ListStudentIDsByTerm(ctx context.Context, termID string) ([]string, error) {
	seen := map[string]bool{}
	var ids []string
	for _, r := range m.rows {
		if r.TermID == termID && !seen[r.StudentID] {
			seen[r.StudentID] = true
			ids = append(ids, r.StudentID)
		}
	}
	return ids, nil
}

type mockStudentRepo struct {
	students map[string]*models.StudentDetail
}

func (m *mockStudentRepo) add(id string, grade, classYear int, status string, active bool) *models.StudentDetail {
	if m.students == nil {
		m.students = make(map[string]*models.StudentDetail)
	}
	student := &models.StudentDetail{
		Student: models.Student{
			ID:          id,
			AdmissionNo: "ADM-" + id,
			ClassID:     fmt.Sprintf("class-%d-%d", grade, classYear),
			Status:      status,
			IsActive:    active,
		},
		Grade:        grade,
		AcademicYear: classYear,
	}
	m.students[id] = student
	return student
}

func (m *mockStudentRepo) FindByID(ctx context.Context, id string) (*models.StudentDetail, error) {
	if s, ok := m.students[id]; ok {
		copied := *s
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockStudentRepo) List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, int, error) {
	var out []models.StudentDetail
	for _, s := range m.students {
		if s.IsDeleted {
			continue
		}
		out = append(out, *s)
	}
	return out, len(out), nil
}

func (m *mockStudentRepo) ExistsByAdmissionNo(ctx context.Context, admissionNo string) (bool, error) {
	for _, s := range m.students {
		if s.AdmissionNo == admissionNo {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockStudentRepo) Create(ctx context.Context, student *models.Student) error {
	if m.students == nil {
		m.students = make(map[string]*models.StudentDetail)
	}
	if student.ID == "" {
		student.ID = fmt.Sprintf("stu-%d", len(m.students)+1)
	}
	m.students[student.ID] = &models.StudentDetail{Student: *student}
	return nil
}

func (m *mockStudentRepo) UpdateStatus(ctx context.Context, id, status string, isActive bool) error {
	s, ok := m.students[id]
	if !ok {
		return sql.ErrNoRows
	}
	s.Status = status
	s.IsActive = isActive
	return nil
}

func (m *mockStudentRepo) Graduate(ctx context.Context, id string, at time.Time) (bool, error) {
	s, ok := m.students[id]
	if !ok {
		return false, nil
	}
	if s.Status != models.StudentStatusEnrolled && s.Status != models.StudentStatusActive {
		return false, nil
	}
	s.Status = models.StudentStatusGraduated
	s.IsActive = false
	graduated := at.UTC()
	s.GraduatedAt = &graduated
	return true, nil
}

func (m *mockStudentRepo) Archive(ctx context.Context, id string, at time.Time) (bool, error) {
	s, ok := m.students[id]
	if !ok {
		return false, nil
	}
	if s.Status != models.StudentStatusGraduated || s.IsActive || s.IsArchived {
		return false, nil
	}
	s.IsArchived = true
	archived := at.UTC()
	s.ArchivedAt = &archived
	return true, nil
}

func (m *mockStudentRepo) SoftDelete(ctx context.Context, id, reason string, at time.Time) (bool, error) {
	s, ok := m.students[id]
	if !ok {
		return false, nil
	}
	if s.IsDeleted {
		return false, nil
	}
	s.IsDeleted = true
	s.IsActive = false
	s.DeletedReason = reason
	deleted := at.UTC()
	s.DeletedAt = &deleted
	return true, nil
}

func (m *mockStudentRepo) ListActive(ctx context.Context) ([]models.StudentDetail, error) {
	var out []models.StudentDetail
	for _, s := range m.students {
		if !s.IsDeleted && !s.IsArchived && (s.Status == models.StudentStatusEnrolled || s.Status == models.StudentStatusActive) {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *mockStudentRepo) ListEnrolledTerminal(ctx context.Context, terminalGrade int) ([]models.StudentDetail, error) {
	var out []models.StudentDetail
	for _, s := range m.students {
		if s.Grade == terminalGrade && !s.IsDeleted && !s.IsArchived && (s.Status == models.StudentStatusEnrolled || s.Status == models.StudentStatusActive) {
			out = append(out, *s)
		}
	}
	return out, nil
}

type mockMovementRepo struct {
	movements []models.StudentMovement
}

func (m *mockMovementRepo) Create(ctx context.Context, movement *models.StudentMovement) error {
	if movement.ID == "" {
		movement.ID = fmt.Sprintf("mov-%d", len(m.movements)+1)
	}
	m.movements = append(m.movements, *movement)
	return nil
}

func (m *mockMovementRepo) ListByStudent(ctx context.Context, studentID string) ([]models.StudentMovement, error) {
	var out []models.StudentMovement
	for _, mv := range m.movements {
		if mv.StudentID == studentID {
			out = append(out, mv)
		}
	}
	return out, nil
}

type mockArrearsRepo struct {
	imports []models.ArrearsImport
}

func (m *mockArrearsRepo) Create(ctx context.Context, imported *models.ArrearsImport) error {
	if imported.ID == "" {
		imported.ID = fmt.Sprintf("imp-%d", len(m.imports)+1)
	}
	m.imports = append(m.imports, *imported)
	return nil
}

func (m *mockArrearsRepo) ListByStudent(ctx context.Context, studentID string) ([]models.ArrearsImport, error) {
	var out []models.ArrearsImport
	for _, imp := range m.imports {
		if imp.StudentID == studentID {
			out = append(out, imp)
		}
	}
	return out, nil
}

type mockFeeRepo struct {
	schedule  map[string]models.FeeScheduleEntry
	classFees map[string]models.ClassFee
}

func scheduleKey(termID string, band models.GradeBand) string {
	return termID + "|" + string(band)
}

func (m *mockFeeRepo) setFee(termID string, band models.GradeBand, amount int64) {
	if m.schedule == nil {
		m.schedule = make(map[string]models.FeeScheduleEntry)
	}
	m.schedule[scheduleKey(termID, band)] = models.FeeScheduleEntry{
		ID:     "fee-" + scheduleKey(termID, band),
		TermID: termID,
		Band:   band,
		Amount: decimal.NewFromInt(amount),
	}
}

func (m *mockFeeRepo) FindScheduleEntry(ctx context.Context, termID string, band models.GradeBand) (*models.FeeScheduleEntry, error) {
	if e, ok := m.schedule[scheduleKey(termID, band)]; ok {
		return &e, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockFeeRepo) ListScheduleByTerm(ctx context.Context, termID string) ([]models.FeeScheduleEntry, error) {
	var out []models.FeeScheduleEntry
	for _, e := range m.schedule {
		if e.TermID == termID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockFeeRepo) UpsertScheduleEntry(ctx context.Context, entry *models.FeeScheduleEntry) error {
	if m.schedule == nil {
		m.schedule = make(map[string]models.FeeScheduleEntry)
	}
	if entry.ID == "" {
		entry.ID = "fee-" + scheduleKey(entry.TermID, entry.Band)
	}
	m.schedule[scheduleKey(entry.TermID, entry.Band)] = *entry
	return nil
}

func (m *mockFeeRepo) FindClassFee(ctx context.Context, termID, classID string) (*models.ClassFee, error) {
	if f, ok := m.classFees[termID+"|"+classID]; ok {
		return &f, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockFeeRepo) UpsertClassFee(ctx context.Context, fee *models.ClassFee) error {
	if m.classFees == nil {
		m.classFees = make(map[string]models.ClassFee)
	}
	if fee.ID == "" {
		fee.ID = "cfee-" + fee.TermID + "|" + fee.ClassID
	}
	m.classFees[fee.TermID+"|"+fee.ClassID] = *fee
	return nil
}

type mockClassRepo struct {
	classes map[string]*models.Class
}

func (m *mockClassRepo) add(grade, year int) *models.Class {
	if m.classes == nil {
		m.classes = make(map[string]*models.Class)
	}
	class := &models.Class{
		ID:           fmt.Sprintf("class-%d-%d", grade, year),
		Grade:        grade,
		Section:      "A",
		AcademicYear: year,
	}
	m.classes[class.ID] = class
	return class
}

func (m *mockClassRepo) FindByID(ctx context.Context, id string) (*models.Class, error) {
	if c, ok := m.classes[id]; ok {
		copied := *c
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

// fixture wires the full service graph over the in-memory fakes.
type fixture struct {
	terms      *mockTermRepo
	payments   *mockPaymentRepo
	balances   *mockBalanceRepo
	students   *mockStudentRepo
	movements  *mockMovementRepo
	arrears    *mockArrearsRepo
	fees       *mockFeeRepo
	classes    *mockClassRepo
	billing    config.BillingConfig
	ledger     *LedgerService
	reconciler *ReconciliationService
	fee        *FeeService
	payment    *PaymentService
	term       *TermService
	student    *StudentService
	arrearsSvc *ArrearsService
}

func newFixture() *fixture {
	f := &fixture{
		terms:     &mockTermRepo{},
		payments:  &mockPaymentRepo{},
		students:  &mockStudentRepo{},
		movements: &mockMovementRepo{},
		arrears:   &mockArrearsRepo{},
		fees:      &mockFeeRepo{},
		classes:   &mockClassRepo{},
		billing: config.BillingConfig{
			TerminalGrade:          7,
			PromotionDebtGateGrade: 7,
		},
	}
	f.balances = &mockBalanceRepo{payments: f.payments, terms: f.terms}

	logger := zap.NewNop()
	metrics := NewMetricsService()
	caching := config.CacheConfig{Enabled: false}
	sweep := config.SweepConfig{Workers: 1, MaxRetries: 0, RetryDelay: time.Millisecond}

	f.fee = NewFeeService(f.fees, f.payments, f.classes, nil, logger)
	f.ledger = NewLedgerService(f.balances, f.terms, f.students, f.fee, nil, f.billing, caching, logger)
	f.reconciler = NewReconciliationService(f.ledger, f.balances, f.terms, f.students, f.movements, metrics, f.billing, sweep, logger)
	f.payment = NewPaymentService(f.payments, f.terms, f.students, f.balances, f.ledger, f.reconciler, metrics, nil, logger)
	f.term = NewTermService(f.terms, f.fees, f.reconciler, f.billing, nil, logger)
	f.student = NewStudentService(f.students, f.classes, f.terms, f.balances, f.movements, f.ledger, metrics, nil, logger)
	f.arrearsSvc = NewArrearsService(f.arrears, f.balances, f.terms, f.ledger, f.reconciler, nil, logger)
	return f
}
