package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/zps-fees-api/internal/models"
)

func TestRecomputeCascadesThroughFutureTerms(t *testing.T) {
	f := newFixture()
	t1, t2, t3, student := seedWorld(f)
	ctx := context.Background()

	// three unpaid terms on the books: 150, 300, 450 cumulative
	for _, term := range []*models.Term{t1, t2, t3} {
		_, _, err := f.ledger.EnsureBalance(ctx, student.ID, term.ID)
		require.NoError(t, err)
	}
	row3 := f.balances.find(student.ID, t3.ID)
	require.True(t, row3.PreviousArrears.Equal(decimal.NewFromInt(300)))

	// a late payment against term 1 must ripple into terms 2 and 3
	require.NoError(t, f.payments.Create(ctx, &models.Payment{StudentID: student.ID, TermID: t1.ID, Amount: decimal.NewFromInt(150)}))
	view, err := f.reconciler.Recompute(ctx, student.ID, t1.ID)
	require.NoError(t, err)
	assert.True(t, view.CurrentBalance.IsZero())

	row2 := f.balances.find(student.ID, t2.ID)
	assert.True(t, row2.PreviousArrears.IsZero())
	row3 = f.balances.find(student.ID, t3.ID)
	assert.True(t, row3.PreviousArrears.Equal(decimal.NewFromInt(150)))
}

func TestRecomputeCarriesCreditIntoExistingNextTerm(t *testing.T) {
	f := newFixture()
	t1, t2, _, student := seedWorld(f)
	ctx := context.Background()

	_, _, err := f.ledger.EnsureBalance(ctx, student.ID, t1.ID)
	require.NoError(t, err)

	require.NoError(t, f.payments.Create(ctx, &models.Payment{StudentID: student.ID, TermID: t1.ID, Amount: decimal.NewFromInt(200)}))
	_, err = f.reconciler.Recompute(ctx, student.ID, t1.ID)
	require.NoError(t, err)

	// term 2 exists in the calendar, so the credit materializes there
	row2 := f.balances.find(student.ID, t2.ID)
	require.NotNil(t, row2, "overpayment should materialize the next term row")
	assert.True(t, row2.PreviousArrears.Equal(decimal.NewFromInt(-50)))
}

func TestRecomputeGraduatesSettledTerminalStudent(t *testing.T) {
	f := newFixture()
	t1, t2, t3, student := seedWorld(f)
	ctx := context.Background()

	for _, term := range []*models.Term{t1, t2, t3} {
		_, _, err := f.ledger.EnsureBalance(ctx, student.ID, term.ID)
		require.NoError(t, err)
	}

	// settle the whole year against the final term
	require.NoError(t, f.payments.Create(ctx, &models.Payment{StudentID: student.ID, TermID: t3.ID, Amount: decimal.NewFromInt(450)}))
	_, err := f.reconciler.Recompute(ctx, student.ID, t3.ID)
	require.NoError(t, err)

	got, err := f.students.FindByID(ctx, student.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StudentStatusGraduated, got.Status)
	assert.False(t, got.IsActive)
	assert.True(t, got.IsArchived, "settled graduate should be archived in the same pass")

	var sawGraduation, sawArchival bool
	for _, mv := range f.movements.movements {
		if mv.StudentID == student.ID && mv.Type == models.MovementGraduation {
			sawGraduation = true
		}
		if mv.StudentID == student.ID && mv.Type == models.MovementArchival {
			sawArchival = true
		}
	}
	assert.True(t, sawGraduation)
	assert.True(t, sawArchival)
}

func TestRecomputeDoesNotGraduateMidYear(t *testing.T) {
	f := newFixture()
	t1, _, _, student := seedWorld(f)
	ctx := context.Background()

	_, _, err := f.ledger.EnsureBalance(ctx, student.ID, t1.ID)
	require.NoError(t, err)
	require.NoError(t, f.payments.Create(ctx, &models.Payment{StudentID: student.ID, TermID: t1.ID, Amount: decimal.NewFromInt(150)}))
	_, err = f.reconciler.Recompute(ctx, student.ID, t1.ID)
	require.NoError(t, err)

	got, err := f.students.FindByID(ctx, student.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StudentStatusActive, got.Status, "paying term 1 must not graduate anyone")
}

func TestRecomputeLeavesOwingTerminalStudentOnRoll(t *testing.T) {
	f := newFixture()
	t1, t2, t3, student := seedWorld(f)
	ctx := context.Background()

	for _, term := range []*models.Term{t1, t2, t3} {
		_, _, err := f.ledger.EnsureBalance(ctx, student.ID, term.ID)
		require.NoError(t, err)
	}
	require.NoError(t, f.payments.Create(ctx, &models.Payment{StudentID: student.ID, TermID: t3.ID, Amount: decimal.NewFromInt(100)}))
	_, err := f.reconciler.Recompute(ctx, student.ID, t3.ID)
	require.NoError(t, err)

	got, err := f.students.FindByID(ctx, student.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StudentStatusActive, got.Status, "a partial payment alone does not graduate; only the year-end sweep does")
}

func TestGraduationSweepArchivesSettledStudent(t *testing.T) {
	f := newFixture()
	t1, t2, t3, student := seedWorld(f)
	ctx := context.Background()

	for _, term := range []*models.Term{t1, t2, t3} {
		_, _, err := f.ledger.EnsureBalance(ctx, student.ID, term.ID)
		require.NoError(t, err)
	}
	require.NoError(t, f.payments.Create(ctx, &models.Payment{StudentID: student.ID, TermID: t3.ID, Amount: decimal.NewFromInt(450)}))
	_, err := f.balances.RecomputeAmountPaid(ctx, student.ID, t3.ID)
	require.NoError(t, err)

	f.reconciler.GraduationSweep(ctx, 2026)

	got, err := f.students.FindByID(ctx, student.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StudentStatusGraduated, got.Status)
	assert.False(t, got.IsActive)
	assert.True(t, got.IsArchived, "a zero final balance archives in the same sweep")
}

func TestGraduationSweepGraduatesOwingStudentUnarchived(t *testing.T) {
	f := newFixture()
	t1, t2, t3, student := seedWorld(f)
	ctx := context.Background()

	for _, term := range []*models.Term{t1, t2, t3} {
		_, _, err := f.ledger.EnsureBalance(ctx, student.ID, term.ID)
		require.NoError(t, err)
	}
	require.NoError(t, f.payments.Create(ctx, &models.Payment{StudentID: student.ID, TermID: t3.ID, Amount: decimal.NewFromInt(400)}))
	_, err := f.balances.RecomputeAmountPaid(ctx, student.ID, t3.ID)
	require.NoError(t, err)

	f.reconciler.GraduationSweep(ctx, 2026)

	// $50 still owing: off the roll, but unarchived so collection
	// continues against the frozen ledger
	got, err := f.students.FindByID(ctx, student.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StudentStatusGraduated, got.Status)
	assert.False(t, got.IsActive)
	assert.False(t, got.IsArchived)

	var sawGraduation bool
	for _, mv := range f.movements.movements {
		if mv.StudentID == student.ID && mv.Type == models.MovementGraduation {
			sawGraduation = true
		}
	}
	assert.True(t, sawGraduation)
}

func TestGraduationSweepSkipsStudentMissingTermRows(t *testing.T) {
	f := newFixture()
	t1, t2, _, student := seedWorld(f)
	ctx := context.Background()

	for _, term := range []*models.Term{t1, t2} {
		_, _, err := f.ledger.EnsureBalance(ctx, student.ID, term.ID)
		require.NoError(t, err)
	}

	f.reconciler.GraduationSweep(ctx, 2026)

	got, err := f.students.FindByID(ctx, student.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StudentStatusActive, got.Status, "only students billed for the whole year graduate")
}

func TestOnTermActivatedBillsRollAndSweepsFinalTerm(t *testing.T) {
	f := newFixture()
	t1, _, t3, student := seedWorld(f)
	ctx := context.Background()

	f.classes.add(3, 2026)
	junior := f.students.add("stu-2", 3, 2026, models.StudentStatusActive, true)

	require.NoError(t, f.reconciler.OnTermActivated(ctx, t1))
	require.NotNil(t, f.balances.find(student.ID, t1.ID))
	require.NotNil(t, f.balances.find(junior.ID, t1.ID))

	// prepay the whole year in term 1; the credit carries forward and
	// the final term bill lands on a settled ledger
	require.NoError(t, f.payments.Create(ctx, &models.Payment{StudentID: student.ID, TermID: t1.ID, Amount: decimal.NewFromInt(450)}))
	_, err := f.reconciler.Recompute(ctx, student.ID, t1.ID)
	require.NoError(t, err)

	require.NoError(t, f.reconciler.OnTermActivated(ctx, t3))

	got, err := f.students.FindByID(ctx, student.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StudentStatusGraduated, got.Status, "settled terminal student graduates at final term activation")
	assert.True(t, got.IsArchived)

	gotJunior, err := f.students.FindByID(ctx, junior.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StudentStatusActive, gotJunior.Status)
}

func TestRepairSweepHealsDriftedRows(t *testing.T) {
	f := newFixture()
	t1, t2, _, student := seedWorld(f)
	ctx := context.Background()

	_, _, err := f.ledger.EnsureBalance(ctx, student.ID, t1.ID)
	require.NoError(t, err)
	_, _, err = f.ledger.EnsureBalance(ctx, student.ID, t2.ID)
	require.NoError(t, err)

	// simulate drift: someone hand-edited amount_paid and arrears
	row1 := f.balances.find(student.ID, t1.ID)
	row1.AmountPaid = decimal.NewFromInt(999)
	row2 := f.balances.find(student.ID, t2.ID)
	row2.PreviousArrears = decimal.NewFromInt(777)

	report, err := f.reconciler.RepairSweep(ctx, t2.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Examined)
	assert.Equal(t, 1, report.Repaired)
	assert.Equal(t, 0, report.Failed)

	row2 = f.balances.find(student.ID, t2.ID)
	assert.True(t, row2.PreviousArrears.Equal(decimal.NewFromInt(150)), "arrears rebuilt from the actual term 1 closing balance")
}

func TestRepairSweepPreservesImportedArrears(t *testing.T) {
	f := newFixture()
	t1, _, _, student := seedWorld(f)
	ctx := context.Background()

	balance, _, err := f.ledger.EnsureBalance(ctx, student.ID, t1.ID)
	require.NoError(t, err)
	require.NoError(t, f.balances.AddImportedArrears(ctx, balance.ID, decimal.NewFromInt(80)))

	report, err := f.reconciler.RepairSweep(ctx, t1.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Repaired)

	row := f.balances.find(student.ID, t1.ID)
	assert.True(t, row.PreviousArrears.Equal(decimal.NewFromInt(80)), "imported component survives the rebuild")
	assert.True(t, row.ImportedArrears.Equal(decimal.NewFromInt(80)))
}
