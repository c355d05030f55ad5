package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment methods accepted by the journal.
const (
	PaymentMethodCash   = "CASH"
	PaymentMethodBank   = "BANK"
	PaymentMethodMobile = "MOBILE"
	PaymentMethodCheque = "CHEQUE"
)

// ValidPaymentMethod reports whether m is a recognised payment method.
func ValidPaymentMethod(m string) bool {
	switch m {
	case PaymentMethodCash, PaymentMethodBank, PaymentMethodMobile, PaymentMethodCheque:
		return true
	}
	return false
}

// Payment is one journal entry. Entries are append-only; corrections
// are made by deleting the entry and recording a new one, never by
// editing amounts in place.
type Payment struct {
	ID            string          `db:"id" json:"id"`
	StudentID     string          `db:"student_id" json:"student_id"`
	TermID        string          `db:"term_id" json:"term_id"`
	Amount        decimal.Decimal `db:"amount" json:"amount"`
	Method        string          `db:"method" json:"method"`
	ReceiptNumber string          `db:"receipt_number" json:"receipt_number"`
	Reference     string          `db:"reference" json:"reference"`
	Notes         string          `db:"notes" json:"notes"`
	RecordedBy    string          `db:"recorded_by" json:"recorded_by"`
	PaidAt        time.Time       `db:"paid_at" json:"paid_at"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

// PaymentFilter narrows payment listings.
type PaymentFilter struct {
	StudentID string
	TermID    string
	Method    string
	From      *time.Time
	To        *time.Time
	Page      int
	PageSize  int
}
