package models

import "time"

// Movement types recorded in the audit trail.
const (
	MovementEnrollment = "ENROLLMENT"
	MovementActivation = "ACTIVATION"
	MovementPromotion  = "PROMOTION"
	MovementTransfer   = "TRANSFER"
	MovementGraduation = "GRADUATION"
	MovementExpulsion  = "EXPULSION"
	MovementArchival   = "ARCHIVAL"
)

// StudentMovement is an append-only audit entry for lifecycle and
// class changes.
type StudentMovement struct {
	ID          string    `db:"id" json:"id"`
	StudentID   string    `db:"student_id" json:"student_id"`
	Type        string    `db:"type" json:"type"`
	FromClassID *string   `db:"from_class_id" json:"from_class_id,omitempty"`
	ToClassID   *string   `db:"to_class_id" json:"to_class_id,omitempty"`
	FromStatus  string    `db:"from_status" json:"from_status"`
	ToStatus    string    `db:"to_status" json:"to_status"`
	Reason      string    `db:"reason" json:"reason"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
