package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// FeeScheduleEntry is the band-level term fee for one term.
type FeeScheduleEntry struct {
	ID        string          `db:"id" json:"id"`
	TermID    string          `db:"term_id" json:"term_id"`
	Band      GradeBand       `db:"band" json:"band"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// ClassFee is a per-class override or surcharge applied on top of the
// band schedule. When Override is true the amount replaces the band fee,
// otherwise it is added to it.
type ClassFee struct {
	ID        string          `db:"id" json:"id"`
	TermID    string          `db:"term_id" json:"term_id"`
	ClassID   string          `db:"class_id" json:"class_id"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
	Override  bool            `db:"override" json:"override"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// ResolvedFee is the effective term fee for a student after applying
// the band schedule and any class-level adjustment.
type ResolvedFee struct {
	TermID  string          `json:"term_id"`
	ClassID string          `json:"class_id"`
	Band    GradeBand       `json:"band"`
	Amount  decimal.Decimal `json:"amount"`
}
