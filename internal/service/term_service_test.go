package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/zps-fees-api/pkg/errors"
)

func termDates(year, number int) (time.Time, time.Time) {
	start := time.Date(year, time.Month(number*4-3), 10, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 3, 0)
}

func TestCreateTermSequenceEnforced(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	start, end := termDates(2026, 2)
	_, err := f.term.Create(ctx, CreateTermRequest{AcademicYear: 2026, TermNumber: 2, StartDate: start, EndDate: end})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrSequenceViolation.Code, appErr.Code, "calendar must open with term 1")

	start, end = termDates(2026, 1)
	first, err := f.term.Create(ctx, CreateTermRequest{AcademicYear: 2026, TermNumber: 1, StartDate: start, EndDate: end})
	require.NoError(t, err)
	assert.Equal(t, 1, first.TermNumber)

	// skipping term 2 is rejected
	start, end = termDates(2026, 3)
	_, err = f.term.Create(ctx, CreateTermRequest{AcademicYear: 2026, TermNumber: 3, StartDate: start, EndDate: end})
	appErr = appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrSequenceViolation.Code, appErr.Code)

	start, end = termDates(2026, 2)
	_, err = f.term.Create(ctx, CreateTermRequest{AcademicYear: 2026, TermNumber: 2, StartDate: start, EndDate: end})
	require.NoError(t, err)

	start, end = termDates(2026, 3)
	_, err = f.term.Create(ctx, CreateTermRequest{AcademicYear: 2026, TermNumber: 3, StartDate: start, EndDate: end})
	require.NoError(t, err)

	// after a final term only term 1 of the next year is accepted
	start, end = termDates(2027, 2)
	_, err = f.term.Create(ctx, CreateTermRequest{AcademicYear: 2027, TermNumber: 2, StartDate: start, EndDate: end})
	appErr = appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrSequenceViolation.Code, appErr.Code)

	start, end = termDates(2027, 1)
	_, err = f.term.Create(ctx, CreateTermRequest{AcademicYear: 2027, TermNumber: 1, StartDate: start, EndDate: end})
	require.NoError(t, err)
}

func TestCreateTermSeedsDefaultFees(t *testing.T) {
	f := newFixture()
	f.billing.DefaultEarlyChildhoodFee = "80"
	f.billing.DefaultPrimaryFee = "150"
	f.term = NewTermService(f.terms, f.fees, f.reconciler, f.billing, nil, nil)
	ctx := context.Background()

	start, end := termDates(2026, 1)
	term, err := f.term.Create(ctx, CreateTermRequest{AcademicYear: 2026, TermNumber: 1, StartDate: start, EndDate: end})
	require.NoError(t, err)

	entries, err := f.fees.ListScheduleByTerm(ctx, term.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestCreateTermRejectsBadDates(t *testing.T) {
	f := newFixture()
	start, _ := termDates(2026, 1)

	_, err := f.term.Create(context.Background(), CreateTermRequest{AcademicYear: 2026, TermNumber: 1, StartDate: start, EndDate: start})
	require.Error(t, err)
}

func TestActivateBillsActiveRoll(t *testing.T) {
	f := newFixture()
	t1, t2, _, student := seedWorld(f)
	_ = t1
	ctx := context.Background()

	activated, err := f.term.Activate(ctx, t2.ID)
	require.NoError(t, err)
	assert.True(t, activated.IsCurrent)

	current, err := f.terms.FindCurrent(ctx)
	require.NoError(t, err)
	assert.Equal(t, t2.ID, current.ID)

	require.NotNil(t, f.balances.find(student.ID, t2.ID), "activation bills the roll synchronously")
}

func TestCurrentFallsBackToLatest(t *testing.T) {
	f := newFixture()
	f.terms.add(2026, 1, false)
	latest := f.terms.add(2026, 2, false)

	term, err := f.term.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, latest.ID, term.ID)
}

func TestCurrentWithEmptyCalendar(t *testing.T) {
	f := newFixture()

	_, err := f.term.Current(context.Background())
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
}
