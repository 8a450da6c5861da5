package models

import (
	"time"
)

// Payment represents one scheduled installment of a plan
type Payment struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	PlanID           uint       `gorm:"not null;index" json:"plan_id"`
	InstallmentNo    int        `gorm:"not null" json:"installment_no"`
	InstallDate      time.Time  `gorm:"type:date;not null" json:"install_date"`
	DueDate          time.Time  `gorm:"type:date;not null;index" json:"due_date"`
	OpeningBalance   float64    `gorm:"type:decimal(15,2);not null" json:"opening_balance"`
	PrincipalAmount  float64    `gorm:"type:decimal(15,2);not null" json:"principal_amount"`
	InterestAmount   float64    `gorm:"type:decimal(15,2);not null" json:"interest_amount"`
	AmountDue        float64    `gorm:"type:decimal(15,2);not null" json:"amount_due"`
	RemainingBalance float64    `gorm:"type:decimal(15,2);not null" json:"remaining_balance"`
	AmountPaid       float64    `gorm:"type:decimal(15,2);default:0" json:"amount_paid"`
	PaymentDate      *time.Time `gorm:"type:date" json:"payment_date"`
	Status           string     `gorm:"default:pending;not null;index" json:"status"`
	CreatedAt        time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// TableName specifies the table name for Payment
func (Payment) TableName() string {
	return "payments"
}

// Payment status constants
const (
	PaymentStatusPending = "pending"
	PaymentStatusPaid    = "paid"
	PaymentStatusOverdue = "overdue"
)

// IsSettled returns true once the installment is fully covered
func (p *Payment) IsSettled() bool {
	return p.Status == PaymentStatusPaid
}

// IsOverdue returns true if the installment is unsettled and past due
func (p *Payment) IsOverdue(now time.Time) bool {
	return p.Status != PaymentStatusPaid && p.AmountPaid < p.AmountDue && p.DueDate.Before(now)
}

// OverdueDays returns the number of days the installment is overdue
func (p *Payment) OverdueDays(now time.Time) int {
	if !p.IsOverdue(now) {
		return 0
	}
	return int(now.Sub(p.DueDate).Hours() / 24)
}

// RefreshStatus recomputes the derived status. Paid is monotonic: once an
// installment is settled it never regresses to pending or overdue.
func (p *Payment) RefreshStatus(now time.Time) {
	if p.Status == PaymentStatusPaid {
		return
	}
	switch {
	case p.AmountPaid >= p.AmountDue:
		p.Status = PaymentStatusPaid
	case p.DueDate.Before(now):
		p.Status = PaymentStatusOverdue
	default:
		p.Status = PaymentStatusPending
	}
}

// PaymentResponse is the JSON response format for payments
type PaymentResponse struct {
	ID               uint       `json:"id"`
	PlanID           uint       `json:"plan_id"`
	InstallmentNo    int        `json:"installment_no"`
	InstallDate      time.Time  `json:"install_date"`
	DueDate          time.Time  `json:"due_date"`
	OpeningBalance   float64    `json:"opening_balance"`
	PrincipalAmount  float64    `json:"principal_amount"`
	InterestAmount   float64    `json:"interest_amount"`
	AmountDue        float64    `json:"amount_due"`
	RemainingBalance float64    `json:"remaining_balance"`
	AmountPaid       float64    `json:"amount_paid"`
	PaymentDate      *time.Time `json:"payment_date"`
	Status           string     `json:"status"`
	OverdueDays      int        `json:"overdue_days"`
	IsOverpayment    bool       `json:"is_overpayment"`
}

// ToResponse converts Payment to PaymentResponse
func (p *Payment) ToResponse() PaymentResponse {
	return PaymentResponse{
		ID:               p.ID,
		PlanID:           p.PlanID,
		InstallmentNo:    p.InstallmentNo,
		InstallDate:      p.InstallDate,
		DueDate:          p.DueDate,
		OpeningBalance:   p.OpeningBalance,
		PrincipalAmount:  p.PrincipalAmount,
		InterestAmount:   p.InterestAmount,
		AmountDue:        p.AmountDue,
		RemainingBalance: p.RemainingBalance,
		AmountPaid:       p.AmountPaid,
		PaymentDate:      p.PaymentDate,
		Status:           p.Status,
		OverdueDays:      p.OverdueDays(time.Now()),
		IsOverpayment:    p.AmountPaid > p.AmountDue,
	}
}
