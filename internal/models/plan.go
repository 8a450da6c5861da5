package models

import (
	"math"
	"time"
)

// InstallmentPlan represents a financed retail sale paid off in monthly installments
type InstallmentPlan struct {
	ID                   uint       `gorm:"primaryKey" json:"id"`
	GUID                 string     `gorm:"size:36;uniqueIndex;not null" json:"guid"`
	SaleID               string     `gorm:"size:64;index" json:"sale_id"`
	CustomerID           string     `gorm:"size:64;not null;index" json:"customer_id"`
	TotalPrice           float64    `gorm:"type:decimal(15,2);not null" json:"total_price"`
	DownPayment          float64    `gorm:"type:decimal(15,2);default:0" json:"down_payment"`
	NumberOfInstallments int        `gorm:"not null" json:"number_of_installments"`
	InstallmentAmount    float64    `gorm:"type:decimal(15,2);not null" json:"installment_amount"`
	InterestRate         float64    `gorm:"type:decimal(6,2);not null" json:"interest_rate"`
	StartDate            time.Time  `gorm:"type:date;not null" json:"start_date"`
	EndDate              time.Time  `gorm:"type:date;not null" json:"end_date"`
	Status               string     `gorm:"default:active;index" json:"status"`
	Version              int64      `gorm:"default:1;not null" json:"version"`
	Note                 *string    `gorm:"type:text" json:"note"`
	CompletedAt          *time.Time `json:"completed_at"`
	CancelledAt          *time.Time `json:"cancelled_at"`
	DefaultedAt          *time.Time `json:"defaulted_at"`
	CreatedAt            time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`

	// Associations
	Items    []PlanItem `gorm:"foreignKey:PlanID" json:"items,omitempty"`
	Payments []Payment  `gorm:"foreignKey:PlanID" json:"payments,omitempty"`
}

// TableName specifies the table name for InstallmentPlan
func (InstallmentPlan) TableName() string {
	return "installment_plans"
}

// Plan status constants
const (
	PlanStatusActive    = "active"
	PlanStatusCompleted = "completed"
	PlanStatusOverdue   = "overdue"
	PlanStatusDefaulted = "defaulted"
	PlanStatusCancelled = "cancelled"
)

// PlanItem is an immutable snapshot of one financed product line.
// Lines change only through an applied AddProducts modification.
type PlanItem struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	PlanID    uint      `gorm:"not null;index" json:"plan_id"`
	ProductID string    `gorm:"size:64;not null" json:"product_id"`
	Name      string    `gorm:"not null" json:"name"`
	UnitPrice float64   `gorm:"type:decimal(15,2);not null" json:"unit_price"`
	Quantity  int       `gorm:"not null" json:"quantity"`
	LineTotal float64   `gorm:"type:decimal(15,2);not null" json:"line_total"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName specifies the table name for PlanItem
func (PlanItem) TableName() string {
	return "plan_items"
}

// ProductLine is the caller-facing shape of a financed product,
// used on plan creation and AddProducts modifications.
type ProductLine struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name"`
	UnitPrice float64 `json:"unit_price"`
	Quantity  int     `json:"quantity"`
	LineTotal float64 `json:"line_total"`
}

// RoundCents rounds a monetary amount to two decimal places
func RoundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

// Principal returns the financed amount: total price minus down payment
func (p *InstallmentPlan) Principal() float64 {
	return RoundCents(p.TotalPrice - p.DownPayment)
}

// TotalInterest returns the flat interest charged on the principal
func (p *InstallmentPlan) TotalInterest() float64 {
	return RoundCents(p.Principal() * p.InterestRate / 100)
}

// TotalPayable returns principal plus flat interest (the sum of all installments)
func (p *InstallmentPlan) TotalPayable() float64 {
	return RoundCents(p.Principal() + p.TotalInterest())
}

// TotalPaid sums amount_paid across the schedule
func (p *InstallmentPlan) TotalPaid() float64 {
	var total float64
	for _, pm := range p.Payments {
		total += pm.AmountPaid
	}
	return RoundCents(total)
}

// RemainingBalance is the outstanding payable: the unpaid portion of every
// installment. Never negative; overpaid installments contribute zero.
func (p *InstallmentPlan) RemainingBalance() float64 {
	var remaining float64
	for _, pm := range p.Payments {
		if due := pm.AmountDue - pm.AmountPaid; due > 0 {
			remaining += due
		}
	}
	return RoundCents(remaining)
}

// PaidInstallments counts payments whose status is paid
func (p *InstallmentPlan) PaidInstallments() int {
	count := 0
	for _, pm := range p.Payments {
		if pm.Status == PaymentStatusPaid {
			count++
		}
	}
	return count
}

// PendingInstallments counts payments not yet settled, overdue included
func (p *InstallmentPlan) PendingInstallments() int {
	return len(p.Payments) - p.PaidInstallments()
}

// OverdueInstallments counts unsettled payments past their due date
func (p *InstallmentPlan) OverdueInstallments(now time.Time) int {
	count := 0
	for _, pm := range p.Payments {
		if pm.Status != PaymentStatusPaid && pm.DueDate.Before(now) {
			count++
		}
	}
	return count
}

// NextPendingPayment returns the earliest unsettled payment in due-date order,
// or nil when the whole schedule is paid.
func (p *InstallmentPlan) NextPendingPayment() *Payment {
	var next *Payment
	for i := range p.Payments {
		pm := &p.Payments[i]
		if pm.Status == PaymentStatusPaid {
			continue
		}
		if next == nil || pm.DueDate.Before(next.DueDate) {
			next = pm
		}
	}
	return next
}

// IsTerminal reports whether the plan accepts no further payment mutation
func (p *InstallmentPlan) IsTerminal() bool {
	return p.Status == PlanStatusCompleted ||
		p.Status == PlanStatusCancelled ||
		p.Status == PlanStatusDefaulted
}

// MayCancel returns true if plan can be cancelled
func (p *InstallmentPlan) MayCancel() bool {
	return p.Status == PlanStatusActive || p.Status == PlanStatusOverdue
}

// MayDefault returns true if plan can be marked defaulted
func (p *InstallmentPlan) MayDefault() bool {
	return p.Status == PlanStatusActive || p.Status == PlanStatusOverdue
}

// MayModify returns true if the plan can take a schedule modification
func (p *InstallmentPlan) MayModify() bool {
	return p.Status == PlanStatusActive || p.Status == PlanStatusOverdue
}

// RefreshDerived recomputes installment statuses and the plan status from the
// payment list. Cancelled and defaulted are administrative and sticky; paid
// installments never regress. Safe to call on every read and every write.
func (p *InstallmentPlan) RefreshDerived(now time.Time) {
	for i := range p.Payments {
		p.Payments[i].RefreshStatus(now)
	}

	if p.Status == PlanStatusCancelled || p.Status == PlanStatusDefaulted {
		return
	}

	allPaid := len(p.Payments) > 0
	anyOverdue := false
	for _, pm := range p.Payments {
		if pm.Status != PaymentStatusPaid {
			allPaid = false
		}
		if pm.Status == PaymentStatusOverdue {
			anyOverdue = true
		}
	}

	switch {
	case allPaid:
		if p.Status != PlanStatusCompleted {
			p.Status = PlanStatusCompleted
			completed := now
			p.CompletedAt = &completed
		}
	case anyOverdue:
		p.Status = PlanStatusOverdue
	default:
		p.Status = PlanStatusActive
	}
}

// PlanResponse is the JSON response format for installment plans
type PlanResponse struct {
	ID                   uint              `json:"id"`
	GUID                 string            `json:"guid"`
	SaleID               string            `json:"sale_id"`
	CustomerID           string            `json:"customer_id"`
	TotalPrice           float64           `json:"total_price"`
	DownPayment          float64           `json:"down_payment"`
	Principal            float64           `json:"principal"`
	TotalInterest        float64           `json:"total_interest"`
	TotalPayable         float64           `json:"total_payable"`
	NumberOfInstallments int               `json:"number_of_installments"`
	InstallmentAmount    float64           `json:"installment_amount"`
	InterestRate         float64           `json:"interest_rate"`
	StartDate            time.Time         `json:"start_date"`
	EndDate              time.Time         `json:"end_date"`
	Status               string            `json:"status"`
	TotalPaid            float64           `json:"total_paid"`
	RemainingBalance     float64           `json:"remaining_balance"`
	PaidInstallments     int               `json:"paid_installments"`
	PendingInstallments  int               `json:"pending_installments"`
	OverdueInstallments  int               `json:"overdue_installments"`
	Note                 *string           `json:"note,omitempty"`
	CompletedAt          *time.Time        `json:"completed_at,omitempty"`
	CancelledAt          *time.Time        `json:"cancelled_at,omitempty"`
	DefaultedAt          *time.Time        `json:"defaulted_at,omitempty"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
	Items                []ProductLine     `json:"items"`
	PaymentSchedule      []PaymentResponse `json:"payment_schedule"`
}

// ToResponse converts InstallmentPlan to PlanResponse
func (p *InstallmentPlan) ToResponse() PlanResponse {
	now := time.Now()
	resp := PlanResponse{
		ID:                   p.ID,
		GUID:                 p.GUID,
		SaleID:               p.SaleID,
		CustomerID:           p.CustomerID,
		TotalPrice:           p.TotalPrice,
		DownPayment:          p.DownPayment,
		Principal:            p.Principal(),
		TotalInterest:        p.TotalInterest(),
		TotalPayable:         p.TotalPayable(),
		NumberOfInstallments: p.NumberOfInstallments,
		InstallmentAmount:    p.InstallmentAmount,
		InterestRate:         p.InterestRate,
		StartDate:            p.StartDate,
		EndDate:              p.EndDate,
		Status:               p.Status,
		TotalPaid:            p.TotalPaid(),
		RemainingBalance:     p.RemainingBalance(),
		PaidInstallments:     p.PaidInstallments(),
		PendingInstallments:  p.PendingInstallments(),
		OverdueInstallments:  p.OverdueInstallments(now),
		Note:                 p.Note,
		CompletedAt:          p.CompletedAt,
		CancelledAt:          p.CancelledAt,
		DefaultedAt:          p.DefaultedAt,
		CreatedAt:            p.CreatedAt,
		UpdatedAt:            p.UpdatedAt,
	}

	for _, item := range p.Items {
		resp.Items = append(resp.Items, ProductLine{
			ProductID: item.ProductID,
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			LineTotal: item.LineTotal,
		})
	}

	for _, payment := range p.Payments {
		resp.PaymentSchedule = append(resp.PaymentSchedule, payment.ToResponse())
	}

	return resp
}
