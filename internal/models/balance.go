package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment status values derived from a balance row.
const (
	PaymentStatusPaid    = "PAID"
	PaymentStatusPartial = "PARTIAL"
	PaymentStatusUnpaid  = "UNPAID"
)

// Balance is one student's ledger row for one term. The stored columns
// are term_fee, previous_arrears, imported_arrears and amount_paid;
// everything else is derived on read. amount_paid is a materialization
// of the payment journal and is only ever written by re-summing it.
type Balance struct {
	ID              string          `db:"id" json:"id"`
	StudentID       string          `db:"student_id" json:"student_id"`
	TermID          string          `db:"term_id" json:"term_id"`
	TermFee         decimal.Decimal `db:"term_fee" json:"term_fee"`
	PreviousArrears decimal.Decimal `db:"previous_arrears" json:"previous_arrears"`
	ImportedArrears decimal.Decimal `db:"imported_arrears" json:"imported_arrears"`
	AmountPaid      decimal.Decimal `db:"amount_paid" json:"amount_paid"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// TotalDue is the full obligation for the term, fee plus carried arrears.
// A negative previous_arrears (credit) reduces it.
func (b *Balance) TotalDue() decimal.Decimal {
	return b.TermFee.Add(b.PreviousArrears)
}

// CurrentBalance is what remains after payments. Negative means the
// student is in credit.
func (b *Balance) CurrentBalance() decimal.Decimal {
	return b.TotalDue().Sub(b.AmountPaid)
}

// Outstanding is the unpaid portion, floored at zero.
func (b *Balance) Outstanding() decimal.Decimal {
	if cb := b.CurrentBalance(); cb.IsPositive() {
		return cb
	}
	return decimal.Zero
}

// Credit is the overpaid portion, floored at zero.
func (b *Balance) Credit() decimal.Decimal {
	if cb := b.CurrentBalance(); cb.IsNegative() {
		return cb.Neg()
	}
	return decimal.Zero
}

// PaymentStatus classifies the row as PAID, PARTIAL or UNPAID.
func (b *Balance) PaymentStatus() string {
	due := b.TotalDue()
	if !due.IsPositive() || b.AmountPaid.GreaterThanOrEqual(due) {
		return PaymentStatusPaid
	}
	if b.AmountPaid.IsPositive() {
		return PaymentStatusPartial
	}
	return PaymentStatusUnpaid
}

// ArrearsRemaining is the unpaid share of previous_arrears. Payments
// settle arrears before the current term fee.
func (b *Balance) ArrearsRemaining() decimal.Decimal {
	if !b.PreviousArrears.IsPositive() {
		return decimal.Zero
	}
	remaining := b.PreviousArrears.Sub(b.AmountPaid)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// FeeRemaining is the unpaid share of the current term fee after
// payments have been applied to arrears first. ArrearsRemaining plus
// FeeRemaining always equals Outstanding.
func (b *Balance) FeeRemaining() decimal.Decimal {
	remaining := b.Outstanding().Sub(b.ArrearsRemaining())
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// BalanceView is a balance row with derived fields flattened for responses.
type BalanceView struct {
	ID              string          `json:"id"`
	StudentID       string          `json:"student_id"`
	TermID          string          `json:"term_id"`
	AcademicYear    int             `json:"academic_year"`
	TermNumber      int             `json:"term_number"`
	TermFee         decimal.Decimal `json:"term_fee"`
	PreviousArrears decimal.Decimal `json:"previous_arrears"`
	AmountPaid      decimal.Decimal `json:"amount_paid"`
	TotalDue        decimal.Decimal `json:"total_due"`
	CurrentBalance  decimal.Decimal `json:"current_balance"`
	Outstanding     decimal.Decimal `json:"outstanding"`
	Credit          decimal.Decimal `json:"credit"`
	PaymentStatus   string          `json:"payment_status"`
	ArrearsRemaining decimal.Decimal `json:"arrears_remaining"`
	FeeRemaining    decimal.Decimal `json:"fee_remaining"`
}

// NewBalanceView flattens a balance and its term coordinates.
func NewBalanceView(b *Balance, year, termNumber int) *BalanceView {
	return &BalanceView{
		ID:               b.ID,
		StudentID:        b.StudentID,
		TermID:           b.TermID,
		AcademicYear:     year,
		TermNumber:       termNumber,
		TermFee:          b.TermFee,
		PreviousArrears:  b.PreviousArrears,
		AmountPaid:       b.AmountPaid,
		TotalDue:         b.TotalDue(),
		CurrentBalance:   b.CurrentBalance(),
		Outstanding:      b.Outstanding(),
		Credit:           b.Credit(),
		PaymentStatus:    b.PaymentStatus(),
		ArrearsRemaining: b.ArrearsRemaining(),
		FeeRemaining:     b.FeeRemaining(),
	}
}

// BalanceWithTerm joins a balance row with its term coordinates, used
// when walking a student's ledger across terms.
type BalanceWithTerm struct {
	Balance
	AcademicYear int `db:"academic_year" json:"academic_year"`
	TermNumber   int `db:"term_number" json:"term_number"`
}
