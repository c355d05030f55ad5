package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/zps-fees-api/internal/models"
	appErrors "github.com/noah-isme/zps-fees-api/pkg/errors"
)

func TestRecordPaymentDefaultsToCurrentTerm(t *testing.T) {
	f := newFixture()
	t1, _, _, student := seedWorld(f)

	result, err := f.payment.Record(context.Background(), RecordPaymentRequest{
		StudentID: student.ID,
		Amount:    decimal.NewFromInt(50),
		Method:    models.PaymentMethodCash,
	})
	require.NoError(t, err)
	assert.Equal(t, t1.ID, result.Payment.TermID)
	assert.Equal(t, "CSH-0001", result.Payment.ReceiptNumber)
	assert.Equal(t, "PMT261-1", result.Payment.Reference)
	assert.True(t, result.Balance.AmountPaid.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, models.PaymentStatusPartial, result.Balance.PaymentStatus)
}

func TestRecordPaymentSequencesReceipts(t *testing.T) {
	f := newFixture()
	_, _, _, student := seedWorld(f)
	ctx := context.Background()

	_, err := f.payment.Record(ctx, RecordPaymentRequest{StudentID: student.ID, Amount: decimal.NewFromInt(10), Method: models.PaymentMethodCash})
	require.NoError(t, err)
	second, err := f.payment.Record(ctx, RecordPaymentRequest{StudentID: student.ID, Amount: decimal.NewFromInt(10), Method: models.PaymentMethodBank})
	require.NoError(t, err)
	assert.Equal(t, "BNK-0002", second.Payment.ReceiptNumber)
}

func TestRecordPaymentAcceptsZeroAmountAdjustment(t *testing.T) {
	f := newFixture()
	_, _, _, student := seedWorld(f)

	result, err := f.payment.Record(context.Background(), RecordPaymentRequest{
		StudentID: student.ID,
		Amount:    decimal.NewFromInt(0),
		Method:    models.PaymentMethodCash,
	})
	require.NoError(t, err, "zero entries are valid adjustments")
	assert.Equal(t, "CSH-0001", result.Payment.ReceiptNumber)
	assert.True(t, result.Balance.AmountPaid.IsZero())
	assert.Equal(t, models.PaymentStatusUnpaid, result.Balance.PaymentStatus)
}

func TestRecordPaymentRejectsBadInput(t *testing.T) {
	f := newFixture()
	_, _, _, student := seedWorld(f)
	ctx := context.Background()

	_, err := f.payment.Record(ctx, RecordPaymentRequest{StudentID: student.ID, Amount: decimal.NewFromInt(-5), Method: models.PaymentMethodCash})
	require.Error(t, err)

	_, err = f.payment.Record(ctx, RecordPaymentRequest{StudentID: student.ID, Amount: decimal.NewFromInt(5), Method: "BARTER"})
	require.Error(t, err)

	_, err = f.payment.Record(ctx, RecordPaymentRequest{StudentID: "ghost", Amount: decimal.NewFromInt(5), Method: models.PaymentMethodCash})
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
}

func TestRecordPaymentRedirectsOffRollStudent(t *testing.T) {
	f := newFixture()
	t1, t2, _, student := seedWorld(f)
	ctx := context.Background()

	_, _, err := f.ledger.EnsureBalance(ctx, student.ID, t1.ID)
	require.NoError(t, err)

	// student leaves with debt; current term moves on
	student.Status = models.StudentStatusGraduated
	student.IsActive = false
	f.students.students[student.ID] = student
	require.NoError(t, f.terms.SetCurrent(ctx, t2.ID))

	result, err := f.payment.Record(ctx, RecordPaymentRequest{
		StudentID: student.ID,
		Amount:    decimal.NewFromInt(150),
		Method:    models.PaymentMethodMobile,
	})
	require.NoError(t, err)
	assert.Equal(t, t1.ID, result.Payment.TermID, "off-roll payments land on the last billed term")
	assert.True(t, result.Balance.CurrentBalance.IsZero())
}

func TestRecordPaymentOffRollWithoutLedgerFails(t *testing.T) {
	f := newFixture()
	seedWorld(f)
	f.students.add("stu-gone", 7, 2026, models.StudentStatusExpelled, false)

	_, err := f.payment.Record(context.Background(), RecordPaymentRequest{
		StudentID: "stu-gone",
		Amount:    decimal.NewFromInt(10),
		Method:    models.PaymentMethodCash,
	})
	require.ErrorIs(t, err, appErrors.ErrNoBalanceRecord)
}

func TestDeletePaymentReconciles(t *testing.T) {
	f := newFixture()
	t1, t2, _, student := seedWorld(f)
	ctx := context.Background()

	_, _, err := f.ledger.EnsureBalance(ctx, student.ID, t1.ID)
	require.NoError(t, err)
	result, err := f.payment.Record(ctx, RecordPaymentRequest{StudentID: student.ID, TermID: t1.ID, Amount: decimal.NewFromInt(150), Method: models.PaymentMethodCash})
	require.NoError(t, err)
	require.True(t, result.Balance.CurrentBalance.IsZero())

	_, _, err = f.ledger.EnsureBalance(ctx, student.ID, t2.ID)
	require.NoError(t, err)
	row2 := f.balances.find(student.ID, t2.ID)
	require.True(t, row2.PreviousArrears.IsZero())

	view, err := f.payment.Delete(ctx, result.Payment.ID)
	require.NoError(t, err)
	assert.True(t, view.CurrentBalance.Equal(decimal.NewFromInt(150)))

	// the deletion ripples into term 2
	row2 = f.balances.find(student.ID, t2.ID)
	assert.True(t, row2.PreviousArrears.Equal(decimal.NewFromInt(150)))
}

func TestDeletePaymentMissing(t *testing.T) {
	f := newFixture()
	seedWorld(f)

	_, err := f.payment.Delete(context.Background(), "pay-ghost")
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
}
