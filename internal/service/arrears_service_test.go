package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/zps-fees-api/internal/models"
)

func TestImportArrearsLayersOntoBalance(t *testing.T) {
	f := newFixture()
	t1, t2, _, student := seedWorld(f)
	ctx := context.Background()

	_, _, err := f.ledger.EnsureBalance(ctx, student.ID, t1.ID)
	require.NoError(t, err)
	_, _, err = f.ledger.EnsureBalance(ctx, student.ID, t2.ID)
	require.NoError(t, err)

	view, err := f.arrearsSvc.Import(ctx, ImportArrearsRequest{
		StudentID: student.ID,
		TermID:    t1.ID,
		Amount:    decimal.NewFromInt(200),
		Source:    "legacy ledger book",
	})
	require.NoError(t, err)
	assert.True(t, view.PreviousArrears.Equal(decimal.NewFromInt(200)))
	assert.True(t, view.TotalDue.Equal(decimal.NewFromInt(350)))

	// the import ripples into term 2 through the chain
	row2 := f.balances.find(student.ID, t2.ID)
	assert.True(t, row2.PreviousArrears.Equal(decimal.NewFromInt(350)))

	history, err := f.arrearsSvc.History(ctx, student.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "legacy ledger book", history[0].Source)
}

func TestImportArrearsIsAdditive(t *testing.T) {
	f := newFixture()
	t1, _, _, student := seedWorld(f)
	ctx := context.Background()

	_, err := f.arrearsSvc.Import(ctx, ImportArrearsRequest{StudentID: student.ID, TermID: t1.ID, Amount: decimal.NewFromInt(100), Source: "migration"})
	require.NoError(t, err)
	view, err := f.arrearsSvc.Import(ctx, ImportArrearsRequest{StudentID: student.ID, TermID: t1.ID, Amount: decimal.NewFromInt(50), Source: "manual correction"})
	require.NoError(t, err)
	assert.True(t, view.PreviousArrears.Equal(decimal.NewFromInt(150)))
}

func TestImportArrearsDefaultsToCurrentTerm(t *testing.T) {
	f := newFixture()
	t1, _, _, student := seedWorld(f)
	ctx := context.Background()

	view, err := f.arrearsSvc.Import(ctx, ImportArrearsRequest{StudentID: student.ID, Amount: decimal.NewFromInt(60), Source: "migration"})
	require.NoError(t, err)
	assert.Equal(t, t1.ID, view.TermID)
}

func TestImportArrearsRejectsNonPositive(t *testing.T) {
	f := newFixture()
	_, _, _, student := seedWorld(f)

	_, err := f.arrearsSvc.Import(context.Background(), ImportArrearsRequest{StudentID: student.ID, Amount: decimal.NewFromInt(-5), Source: "bad"})
	require.Error(t, err)
}

func TestImportArrearsSurvivesRecompute(t *testing.T) {
	f := newFixture()
	t1, _, _, student := seedWorld(f)
	ctx := context.Background()

	_, err := f.arrearsSvc.Import(ctx, ImportArrearsRequest{StudentID: student.ID, TermID: t1.ID, Amount: decimal.NewFromInt(120), Source: "migration"})
	require.NoError(t, err)

	// a later payment reconciliation must not erase the imported debt
	require.NoError(t, f.payments.Create(ctx, &models.Payment{StudentID: student.ID, TermID: t1.ID, Amount: decimal.NewFromInt(30)}))
	view, err := f.reconciler.Recompute(ctx, student.ID, t1.ID)
	require.NoError(t, err)
	assert.True(t, view.PreviousArrears.Equal(decimal.NewFromInt(120)))
	assert.True(t, view.CurrentBalance.Equal(decimal.NewFromInt(240)))
}
