package models

import (
	"time"
)

// InstallmentModification is a proposed or completed change to a plan's terms.
// previousPlan/newPlan are point-in-time snapshots sufficient to render a
// before/after comparison without re-querying the live plan; newPlan must
// always be re-derivable from previousPlan plus Details via the calculator.
type InstallmentModification struct {
	ID               uint                `gorm:"primaryKey" json:"id"`
	GUID             string              `gorm:"size:36;uniqueIndex;not null" json:"guid"`
	PlanID           uint                `gorm:"not null;index" json:"plan_id"`
	ModificationType string              `gorm:"size:40;not null;index" json:"modification_type"`
	Reason           string              `gorm:"type:text;not null" json:"reason"`
	RequestedBy      string              `gorm:"size:64;not null" json:"requested_by"`
	Status           string              `gorm:"default:pending;index" json:"status"`
	PreviousPlan     PlanSnapshot        `gorm:"serializer:json" json:"previous_plan"`
	NewPlan          PlanSnapshot        `gorm:"serializer:json" json:"new_plan"`
	Details          ModificationDetails `gorm:"serializer:json" json:"modification_details"`
	ApprovedBy       *string             `gorm:"size:64" json:"approved_by"`
	ApprovalNotes    *string             `gorm:"type:text" json:"approval_notes"`
	ApprovedAt       *time.Time          `json:"approved_at"`
	RejectedBy       *string             `gorm:"size:64" json:"rejected_by"`
	RejectionReason  *string             `gorm:"type:text" json:"rejection_reason"`
	RejectedAt       *time.Time          `json:"rejected_at"`
	AppliedAt        *time.Time          `json:"applied_at"`
	CreatedAt        time.Time           `gorm:"index" json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`

	// Associations
	Plan *InstallmentPlan `gorm:"foreignKey:PlanID" json:"plan,omitempty"`
}

// TableName specifies the table name for InstallmentModification
func (InstallmentModification) TableName() string {
	return "installment_modifications"
}

// Modification status constants
const (
	ModificationStatusPending  = "pending"
	ModificationStatusApproved = "approved"
	ModificationStatusRejected = "rejected"
	ModificationStatusApplied  = "applied"
)

// Modification type constants
const (
	ModificationTypeChangeInstallmentCount = "change_installment_count"
	ModificationTypeChangeInterestRate     = "change_interest_rate"
	ModificationTypeChangeDownPayment      = "change_down_payment"
	ModificationTypeAddProducts            = "add_products"
)

// ValidModificationType reports whether t names a known modification type
func ValidModificationType(t string) bool {
	switch t {
	case ModificationTypeChangeInstallmentCount,
		ModificationTypeChangeInterestRate,
		ModificationTypeChangeDownPayment,
		ModificationTypeAddProducts:
		return true
	}
	return false
}

// MayApprove returns true if the modification can be approved
func (m *InstallmentModification) MayApprove() bool {
	return m.Status == ModificationStatusPending
}

// MayReject returns true if the modification can be rejected
func (m *InstallmentModification) MayReject() bool {
	return m.Status == ModificationStatusPending
}

// MayApply returns true if the modification can be applied
func (m *InstallmentModification) MayApply() bool {
	return m.Status == ModificationStatusApproved
}

// PlanSnapshot is a fixed-field summary of a plan at a point in time
type PlanSnapshot struct {
	TotalPrice            float64       `json:"total_price"`
	DownPayment           float64       `json:"down_payment"`
	NumberOfInstallments  int           `json:"number_of_installments"`
	RemainingInstallments int           `json:"remaining_installments"`
	InstallmentAmount     float64       `json:"installment_amount"`
	InterestRate          float64       `json:"interest_rate"`
	RemainingBalance      float64       `json:"remaining_balance"`
	TotalPayable          float64       `json:"total_payable"`
	PaidInstallments      int           `json:"paid_installments"`
	TotalPaid             float64       `json:"total_paid"`
	Products              []ProductLine `json:"products"`
	NextDueDate           *time.Time    `json:"next_due_date,omitempty"`
	EndDate               time.Time     `json:"end_date"`
}

// ModificationDetails carries the type-specific requested values plus the
// computed financial impact of the change.
type ModificationDetails struct {
	NewInstallmentCount   *int            `json:"new_installment_count,omitempty"`
	NewInterestRate       *float64        `json:"new_interest_rate,omitempty"`
	AdditionalDownPayment *float64        `json:"additional_down_payment,omitempty"`
	NewProducts           []ProductLine   `json:"new_products,omitempty"`
	FinancialImpact       FinancialImpact `json:"financial_impact"`
}

// FinancialImpact is the computed delta between current and proposed terms
type FinancialImpact struct {
	CurrentEMI              float64   `json:"current_emi"`
	NewEMI                  float64   `json:"new_emi"`
	EMIDifference           float64   `json:"emi_difference"`
	CurrentTotalPayable     float64   `json:"current_total_payable"`
	NewTotalPayable         float64   `json:"new_total_payable"`
	TotalPayableDifference  float64   `json:"total_payable_difference"`
	CurrentEndDate          time.Time `json:"current_end_date"`
	NewEndDate              time.Time `json:"new_end_date"`
	TimeDifferenceMonths    int       `json:"time_difference_months"`
	IsFinanciallyBeneficial bool      `json:"is_financially_beneficial"`
}

// ModificationPreview is the side-effect-free before/after comparison returned
// by the preview operation. Identical inputs against an unchanged plan always
// produce identical previews.
type ModificationPreview struct {
	PlanID             uint              `json:"plan_id"`
	ModificationType   string            `json:"modification_type"`
	CurrentPlan        PlanSnapshot      `json:"current_plan"`
	NewPlan            PlanSnapshot      `json:"new_plan"`
	FinancialImpact    FinancialImpact   `json:"financial_impact"`
	RecommendationNote string            `json:"recommendation_note"`
	NewSchedulePreview []PaymentResponse `json:"new_schedule_preview"`
}

// ModificationResponse is the JSON response format for modifications
type ModificationResponse struct {
	ID               uint                `json:"id"`
	GUID             string              `json:"guid"`
	PlanID           uint                `json:"plan_id"`
	ModificationType string              `json:"modification_type"`
	Reason           string              `json:"reason"`
	RequestedBy      string              `json:"requested_by"`
	Status           string              `json:"status"`
	PreviousPlan     PlanSnapshot        `json:"previous_plan"`
	NewPlan          PlanSnapshot        `json:"new_plan"`
	Details          ModificationDetails `json:"modification_details"`
	ApprovedBy       *string             `json:"approved_by,omitempty"`
	ApprovalNotes    *string             `json:"approval_notes,omitempty"`
	ApprovedAt       *time.Time          `json:"approved_at,omitempty"`
	RejectedBy       *string             `json:"rejected_by,omitempty"`
	RejectionReason  *string             `json:"rejection_reason,omitempty"`
	RejectedAt       *time.Time          `json:"rejected_at,omitempty"`
	AppliedAt        *time.Time          `json:"applied_at,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

// ToResponse converts InstallmentModification to ModificationResponse
func (m *InstallmentModification) ToResponse() ModificationResponse {
	return ModificationResponse{
		ID:               m.ID,
		GUID:             m.GUID,
		PlanID:           m.PlanID,
		ModificationType: m.ModificationType,
		Reason:           m.Reason,
		RequestedBy:      m.RequestedBy,
		Status:           m.Status,
		PreviousPlan:     m.PreviousPlan,
		NewPlan:          m.NewPlan,
		Details:          m.Details,
		ApprovedBy:       m.ApprovedBy,
		ApprovalNotes:    m.ApprovalNotes,
		ApprovedAt:       m.ApprovedAt,
		RejectedBy:       m.RejectedBy,
		RejectionReason:  m.RejectionReason,
		RejectedAt:       m.RejectedAt,
		AppliedAt:        m.AppliedAt,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}
