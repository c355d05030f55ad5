package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ArrearsImport records an external or manual arrears figure applied
// onto a student's balance row. Imports are additive and never reduced
// by later reconciliation runs.
type ArrearsImport struct {
	ID         string          `db:"id" json:"id"`
	StudentID  string          `db:"student_id" json:"student_id"`
	TermID     string          `db:"term_id" json:"term_id"`
	Amount     decimal.Decimal `db:"amount" json:"amount"`
	Source     string          `db:"source" json:"source"`
	Notes      string          `db:"notes" json:"notes"`
	ImportedBy string          `db:"imported_by" json:"imported_by"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}
