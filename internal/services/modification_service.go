package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/retailops/installment-api/internal/jobs"
	"github.com/retailops/installment-api/internal/models"
	"github.com/retailops/installment-api/internal/repository"
	"github.com/retailops/installment-api/internal/statemachine"
	"gorm.io/gorm"
)

// Tolerances for the apply-time consistency check. The re-derived schedule
// must match the approved snapshot within these bounds or apply is refused.
const (
	applyEMITolerance         = 0.01
	applyPerInstallmentsTotal = 0.01
)

// previewScheduleEntries caps how many upcoming installments a preview lists.
const previewScheduleEntries = 6

type ModificationService struct {
	repo            repository.ModificationRepository
	planRepo        repository.PlanRepository
	amortization    *AmortizationService
	notificationSvc *NotificationService
	emailSvc        *EmailService
	auditSvc        *AuditService
	locks           *planLocker
	worker          *jobs.Worker
	requireApproval bool
}

func NewModificationService(
	repo repository.ModificationRepository,
	planRepo repository.PlanRepository,
	amortization *AmortizationService,
	notificationSvc *NotificationService,
	emailSvc *EmailService,
	auditSvc *AuditService,
	locks *planLocker,
	worker *jobs.Worker,
	requireApproval bool,
) *ModificationService {
	return &ModificationService{
		repo:            repo,
		planRepo:        planRepo,
		amortization:    amortization,
		notificationSvc: notificationSvc,
		emailSvc:        emailSvc,
		auditSvc:        auditSvc,
		locks:           locks,
		worker:          worker,
		requireApproval: requireApproval,
	}
}

// ModificationRequest carries a proposed change to a plan's terms.
type ModificationRequest struct {
	ModificationType      string               `json:"modification_type"`
	Reason                string               `json:"reason"`
	RequestedBy           string               `json:"requested_by"`
	NewInstallmentCount   *int                 `json:"new_installment_count,omitempty"`
	NewInterestRate       *float64             `json:"new_interest_rate,omitempty"`
	AdditionalDownPayment *float64             `json:"additional_down_payment,omitempty"`
	NewProducts           []models.ProductLine `json:"new_products,omitempty"`
}

// proposal is the fully-computed outcome of applying a request to a plan:
// the re-amortized remainder schedule plus both snapshots and the impact.
type proposal struct {
	current   models.PlanSnapshot
	proposed  models.PlanSnapshot
	impact    models.FinancialImpact
	schedule  []models.Payment
	newItems  []models.PlanItem
	newTerms  planTerms
	firstOpen int // installment number the new schedule starts at
}

// planTerms are the plan columns a modification rewrites.
type planTerms struct {
	TotalPrice           float64
	DownPayment          float64
	NumberOfInstallments int
	InstallmentAmount    float64
	InterestRate         float64
	EndDate              time.Time
}

func (s *ModificationService) validateRequest(req *ModificationRequest) error {
	if !models.ValidModificationType(req.ModificationType) {
		return NewParameterError("modification_type", "unknown modification type")
	}
	switch req.ModificationType {
	case models.ModificationTypeChangeInstallmentCount:
		if req.NewInstallmentCount == nil {
			return NewParameterError("new_installment_count", "is required")
		}
		if *req.NewInstallmentCount < 1 {
			return NewParameterError("new_installment_count", "must be at least 1")
		}
	case models.ModificationTypeChangeInterestRate:
		if req.NewInterestRate == nil {
			return NewParameterError("new_interest_rate", "is required")
		}
		if *req.NewInterestRate < 0 {
			return NewParameterError("new_interest_rate", "must not be negative")
		}
	case models.ModificationTypeChangeDownPayment:
		if req.AdditionalDownPayment == nil {
			return NewParameterError("additional_down_payment", "is required")
		}
		if *req.AdditionalDownPayment <= 0 {
			return NewParameterError("additional_down_payment", "must be greater than zero")
		}
	case models.ModificationTypeAddProducts:
		if len(req.NewProducts) == 0 {
			return NewParameterError("new_products", "at least one product is required")
		}
		for i, p := range req.NewProducts {
			if p.Quantity < 1 {
				return NewParameterError(fmt.Sprintf("new_products[%d].quantity", i), "must be at least 1")
			}
			if p.UnitPrice < 0 {
				return NewParameterError(fmt.Sprintf("new_products[%d].unit_price", i), "must not be negative")
			}
		}
	}
	return nil
}

// snapshot captures the plan's current terms and position.
func snapshot(plan *models.InstallmentPlan) models.PlanSnapshot {
	snap := models.PlanSnapshot{
		TotalPrice:            plan.TotalPrice,
		DownPayment:           plan.DownPayment,
		NumberOfInstallments:  plan.NumberOfInstallments,
		RemainingInstallments: plan.PendingInstallments(),
		InstallmentAmount:     plan.InstallmentAmount,
		InterestRate:          plan.InterestRate,
		RemainingBalance:      plan.RemainingBalance(),
		TotalPayable:          plan.TotalPayable(),
		PaidInstallments:      plan.PaidInstallments(),
		TotalPaid:             plan.TotalPaid(),
		EndDate:               plan.EndDate,
	}
	for _, item := range plan.Items {
		snap.Products = append(snap.Products, models.ProductLine{
			ProductID: item.ProductID,
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			LineTotal: item.LineTotal,
		})
	}
	if next := plan.NextPendingPayment(); next != nil {
		due := next.DueDate
		snap.NextDueDate = &due
	}
	return snap
}

// currentUnpaidPayable sums the uncollected portion of every open installment.
func currentUnpaidPayable(plan *models.InstallmentPlan) float64 {
	var total float64
	for _, pm := range plan.Payments {
		paid := pm.AmountPaid
		if paid > pm.AmountDue {
			paid = pm.AmountDue
		}
		total += pm.AmountDue - paid
	}
	return models.RoundCents(total)
}

// currentEMI is the amount due on the next open installment, falling back to
// the plan's advertised installment amount on a fully-settled schedule.
func currentEMI(plan *models.InstallmentPlan) float64 {
	if next := plan.NextPendingPayment(); next != nil {
		return next.AmountDue
	}
	return plan.InstallmentAmount
}

// currentEndDate is the last scheduled due date.
func currentEndDate(plan *models.InstallmentPlan) time.Time {
	end := plan.EndDate
	for _, pm := range plan.Payments {
		if pm.DueDate.After(end) {
			end = pm.DueDate
		}
	}
	return end
}

// monthsBetween counts whole months from a to b, negative when b precedes a.
func monthsBetween(a, b time.Time) int {
	months := (b.Year()-a.Year())*12 + int(b.Month()) - int(a.Month())
	return months
}

// compute builds the full proposal for a request against the plan's current
// state. It is pure with respect to the plan: no clock reads, no writes, so
// identical inputs always produce identical proposals.
func (s *ModificationService) compute(plan *models.InstallmentPlan, req *ModificationRequest) (*proposal, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}

	paidCount := plan.PaidInstallments()
	// Outstanding principal and already-collected partial amounts on the open
	// installments, plus the number of the first open installment.
	firstOpen := 0
	var outstandingPrincipal, carriedPaid float64
	var lastPartialDate *time.Time
	for _, pm := range plan.Payments {
		if pm.Status == models.PaymentStatusPaid {
			continue
		}
		if firstOpen == 0 || pm.InstallmentNo < firstOpen {
			firstOpen = pm.InstallmentNo
		}
		outstandingPrincipal += pm.PrincipalAmount
		if pm.AmountPaid > 0 {
			carriedPaid += pm.AmountPaid
			if pm.PaymentDate != nil && (lastPartialDate == nil || pm.PaymentDate.After(*lastPartialDate)) {
				d := *pm.PaymentDate
				lastPartialDate = &d
			}
		}
	}
	outstandingPrincipal = models.RoundCents(outstandingPrincipal)
	carriedPaid = models.RoundCents(carriedPaid)
	if firstOpen == 0 {
		firstOpen = paidCount + 1
	}

	// The rewrite swaps out the contiguous open tail of the schedule. A settled
	// installment sitting at or past the first open one would be destroyed by
	// that swap, so such plans cannot be re-amortized as-is.
	for _, pm := range plan.Payments {
		if pm.Status == models.PaymentStatusPaid && pm.InstallmentNo >= firstOpen {
			return nil, NewStateConflictError("plan", plan.Status, "re-amortizing a schedule settled out of order")
		}
	}

	newTerms := planTerms{
		TotalPrice:           plan.TotalPrice,
		DownPayment:          plan.DownPayment,
		NumberOfInstallments: plan.NumberOfInstallments,
		InterestRate:         plan.InterestRate,
	}
	newPrincipal := outstandingPrincipal
	remainingCount := plan.NumberOfInstallments - paidCount
	var newItems []models.PlanItem

	switch req.ModificationType {
	case models.ModificationTypeChangeInstallmentCount:
		if *req.NewInstallmentCount <= paidCount {
			return nil, NewParameterError("new_installment_count",
				fmt.Sprintf("must exceed the %d already-paid installments", paidCount))
		}
		remainingCount = *req.NewInstallmentCount - paidCount
		newTerms.NumberOfInstallments = *req.NewInstallmentCount

	case models.ModificationTypeChangeInterestRate:
		newTerms.InterestRate = *req.NewInterestRate
		if remainingCount < 1 {
			return nil, NewStateConflictError("plan", plan.Status, "modifying a fully-paid schedule")
		}

	case models.ModificationTypeChangeDownPayment:
		if *req.AdditionalDownPayment > outstandingPrincipal {
			return nil, NewParameterError("additional_down_payment", "must not exceed the outstanding principal")
		}
		newPrincipal = models.RoundCents(outstandingPrincipal - *req.AdditionalDownPayment)
		newTerms.DownPayment = models.RoundCents(plan.DownPayment + *req.AdditionalDownPayment)
		if remainingCount < 1 {
			return nil, NewStateConflictError("plan", plan.Status, "modifying a fully-paid schedule")
		}

	case models.ModificationTypeAddProducts:
		var added float64
		for _, p := range req.NewProducts {
			lineTotal := models.RoundCents(p.UnitPrice * float64(p.Quantity))
			added += lineTotal
			newItems = append(newItems, models.PlanItem{
				ProductID: p.ProductID,
				Name:      p.Name,
				UnitPrice: p.UnitPrice,
				Quantity:  p.Quantity,
				LineTotal: lineTotal,
			})
		}
		added = models.RoundCents(added)
		newPrincipal = models.RoundCents(outstandingPrincipal + added)
		newTerms.TotalPrice = models.RoundCents(plan.TotalPrice + added)
		if remainingCount < 1 {
			return nil, NewStateConflictError("plan", plan.Status, "modifying a fully-paid schedule")
		}
	}

	if newPrincipal < 0 {
		return nil, NewParameterError("principal", "must not be negative")
	}

	// The new schedule keeps the original monthly cadence: its start anchors
	// to where the paid installments left off.
	newStart := plan.StartDate.AddDate(0, paidCount, 0)
	schedule, err := s.amortization.Generate(ScheduleParams{
		Principal:    newPrincipal,
		InterestRate: newTerms.InterestRate,
		Installments: remainingCount,
		StartDate:    newStart,
	})
	if err != nil {
		return nil, err
	}
	for i := range schedule {
		schedule[i].InstallmentNo = paidCount + 1 + i
		schedule[i].InstallDate = plan.StartDate
	}

	// Money already collected on open installments is not lost to the rewrite:
	// it is credited against the new rows in order.
	if carriedPaid > 0 {
		credit := carriedPaid
		for i := range schedule {
			if credit <= 0 {
				break
			}
			applied := credit
			if applied > schedule[i].AmountDue && i < len(schedule)-1 {
				applied = schedule[i].AmountDue
			}
			schedule[i].AmountPaid = models.RoundCents(applied)
			if lastPartialDate != nil {
				d := *lastPartialDate
				schedule[i].PaymentDate = &d
			}
			if schedule[i].AmountPaid >= schedule[i].AmountDue {
				schedule[i].Status = models.PaymentStatusPaid
			}
			credit = models.RoundCents(credit - applied)
		}
	}

	newTerms.InstallmentAmount = s.amortization.InstallmentAmount(newPrincipal, newTerms.InterestRate, remainingCount)
	newTerms.EndDate = schedule[len(schedule)-1].DueDate

	curEMI := currentEMI(plan)
	curPayable := currentUnpaidPayable(plan)
	curEnd := currentEndDate(plan)

	var newPayable float64
	for _, pm := range schedule {
		paid := pm.AmountPaid
		if paid > pm.AmountDue {
			paid = pm.AmountDue
		}
		newPayable += pm.AmountDue - paid
	}
	newPayable = models.RoundCents(newPayable)

	impact := models.FinancialImpact{
		CurrentEMI:              curEMI,
		NewEMI:                  newTerms.InstallmentAmount,
		EMIDifference:           models.RoundCents(newTerms.InstallmentAmount - curEMI),
		CurrentTotalPayable:     curPayable,
		NewTotalPayable:         newPayable,
		TotalPayableDifference:  models.RoundCents(newPayable - curPayable),
		CurrentEndDate:          curEnd,
		NewEndDate:              newTerms.EndDate,
		TimeDifferenceMonths:    monthsBetween(curEnd, newTerms.EndDate),
		IsFinanciallyBeneficial: models.RoundCents(newPayable-curPayable) < 0,
	}

	current := snapshot(plan)

	proposed := models.PlanSnapshot{
		TotalPrice:            newTerms.TotalPrice,
		DownPayment:           newTerms.DownPayment,
		NumberOfInstallments:  newTerms.NumberOfInstallments,
		RemainingInstallments: remainingCount,
		InstallmentAmount:     newTerms.InstallmentAmount,
		InterestRate:          newTerms.InterestRate,
		RemainingBalance:      newPayable,
		TotalPayable:          models.RoundCents(plan.TotalPaid() + newPayable),
		PaidInstallments:      paidCount,
		TotalPaid:             plan.TotalPaid(),
		Products:              current.Products,
		EndDate:               newTerms.EndDate,
	}
	for _, item := range newItems {
		proposed.Products = append(proposed.Products, models.ProductLine{
			ProductID: item.ProductID,
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			LineTotal: item.LineTotal,
		})
	}
	for _, pm := range schedule {
		if pm.Status != models.PaymentStatusPaid {
			due := pm.DueDate
			proposed.NextDueDate = &due
			break
		}
	}

	return &proposal{
		current:   current,
		proposed:  proposed,
		impact:    impact,
		schedule:  schedule,
		newItems:  newItems,
		newTerms:  newTerms,
		firstOpen: firstOpen,
	}, nil
}

func (s *ModificationService) loadModifiablePlan(ctx context.Context, planID uint) (*models.InstallmentPlan, error) {
	plan, err := s.planRepo.FindByID(ctx, planID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	plan.RefreshDerived(time.Now())
	if !plan.MayModify() {
		return nil, NewStateConflictError("plan", plan.Status, "modification")
	}
	return plan, nil
}

// Preview computes the before/after comparison for a proposed change without
// persisting anything.
func (s *ModificationService) Preview(ctx context.Context, planID uint, req *ModificationRequest) (*models.ModificationPreview, error) {
	plan, err := s.loadModifiablePlan(ctx, planID)
	if err != nil {
		return nil, err
	}

	prop, err := s.compute(plan, req)
	if err != nil {
		return nil, err
	}

	preview := &models.ModificationPreview{
		PlanID:             plan.ID,
		ModificationType:   req.ModificationType,
		CurrentPlan:        prop.current,
		NewPlan:            prop.proposed,
		FinancialImpact:    prop.impact,
		RecommendationNote: recommendationNote(prop.impact),
	}
	for i := range prop.schedule {
		if i == previewScheduleEntries {
			break
		}
		preview.NewSchedulePreview = append(preview.NewSchedulePreview, prop.schedule[i].ToResponse())
	}
	return preview, nil
}

func recommendationNote(impact models.FinancialImpact) string {
	switch {
	case impact.TotalPayableDifference < 0:
		return fmt.Sprintf("Total payable drops by %.2f under the new terms.", -impact.TotalPayableDifference)
	case impact.TotalPayableDifference > 0 && impact.EMIDifference < 0:
		return fmt.Sprintf("Monthly installment drops by %.2f, but total payable rises by %.2f.", -impact.EMIDifference, impact.TotalPayableDifference)
	case impact.TotalPayableDifference > 0:
		return fmt.Sprintf("Total payable rises by %.2f under the new terms.", impact.TotalPayableDifference)
	default:
		return "The new terms leave total payable unchanged."
	}
}

// Request records a modification for approval. With approval disabled the
// request is auto-approved on creation and can be applied immediately.
func (s *ModificationService) Request(ctx context.Context, planID uint, req *ModificationRequest) (*models.InstallmentModification, error) {
	if req.Reason == "" {
		return nil, NewParameterError("reason", "is required")
	}
	if req.RequestedBy == "" {
		return nil, NewParameterError("requested_by", "is required")
	}

	unlock := s.locks.Acquire(planID)
	defer unlock()

	plan, err := s.loadModifiablePlan(ctx, planID)
	if err != nil {
		return nil, err
	}

	pending, err := s.repo.CountPendingByPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if pending > 0 {
		return nil, NewStateConflictError("plan", plan.Status, "a second concurrent modification request")
	}

	prop, err := s.compute(plan, req)
	if err != nil {
		return nil, err
	}

	mod := &models.InstallmentModification{
		GUID:             uuid.NewString(),
		PlanID:           plan.ID,
		ModificationType: req.ModificationType,
		Reason:           req.Reason,
		RequestedBy:      req.RequestedBy,
		Status:           models.ModificationStatusPending,
		PreviousPlan:     prop.current,
		NewPlan:          prop.proposed,
		Details: models.ModificationDetails{
			NewInstallmentCount:   req.NewInstallmentCount,
			NewInterestRate:       req.NewInterestRate,
			AdditionalDownPayment: req.AdditionalDownPayment,
			NewProducts:           req.NewProducts,
			FinancialImpact:       prop.impact,
		},
	}

	if !s.requireApproval {
		now := time.Now()
		system := "system"
		mod.Status = models.ModificationStatusApproved
		mod.ApprovedBy = &system
		mod.ApprovedAt = &now
	}

	if err := s.repo.Create(ctx, mod); err != nil {
		return nil, err
	}

	action := "modification_requested"
	if !s.requireApproval {
		action = "modification_auto_approved"
	}
	s.auditSvc.LogAsync(ctx, req.RequestedBy, action, "installment_modification", mod.ID,
		fmt.Sprintf("plan %s: %s requested", plan.GUID, req.ModificationType))

	return mod, nil
}

// FindByID loads one modification.
func (s *ModificationService) FindByID(ctx context.Context, id uint) (*models.InstallmentModification, error) {
	mod, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return mod, nil
}

// ListByPlan returns a plan's modification history.
func (s *ModificationService) ListByPlan(ctx context.Context, planID uint, query *repository.ListQuery) ([]models.InstallmentModification, int64, error) {
	if _, err := s.planRepo.FindByID(ctx, planID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, err
	}
	return s.repo.FindByPlan(ctx, planID, query)
}

// Approve marks a pending modification approved. The plan is untouched until
// Apply.
func (s *ModificationService) Approve(ctx context.Context, id uint, approvedBy string, notes *string) (*models.InstallmentModification, error) {
	if approvedBy == "" {
		return nil, NewParameterError("approved_by", "is required")
	}

	mod, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	modFSM := statemachine.NewModificationFSM(mod)
	if err := modFSM.Approve(ctx); err != nil {
		return nil, NewStateConflictError("modification", mod.Status, "approve")
	}

	now := time.Now()
	mod.ApprovedBy = &approvedBy
	mod.ApprovalNotes = notes
	mod.ApprovedAt = &now

	if err := s.repo.Update(ctx, mod, models.ModificationStatusPending); err != nil {
		if errors.Is(err, repository.ErrStaleModification) {
			return nil, NewStateConflictError("modification", models.ModificationStatusPending, "approve")
		}
		return nil, err
	}

	s.auditSvc.LogAsync(ctx, approvedBy, "modification_approved", "installment_modification", mod.ID,
		fmt.Sprintf("%s on plan %d approved", mod.ModificationType, mod.PlanID))

	s.notifyDecision(ctx, mod, "approved")

	return mod, nil
}

// Reject closes a pending modification without touching the plan.
func (s *ModificationService) Reject(ctx context.Context, id uint, rejectedBy, reason string) (*models.InstallmentModification, error) {
	if rejectedBy == "" {
		return nil, NewParameterError("rejected_by", "is required")
	}
	if reason == "" {
		return nil, NewParameterError("rejection_reason", "is required")
	}

	mod, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	modFSM := statemachine.NewModificationFSM(mod)
	if err := modFSM.Reject(ctx); err != nil {
		return nil, NewStateConflictError("modification", mod.Status, "reject")
	}

	now := time.Now()
	mod.RejectedBy = &rejectedBy
	mod.RejectionReason = &reason
	mod.RejectedAt = &now

	if err := s.repo.Update(ctx, mod, models.ModificationStatusPending); err != nil {
		if errors.Is(err, repository.ErrStaleModification) {
			return nil, NewStateConflictError("modification", models.ModificationStatusPending, "reject")
		}
		return nil, err
	}

	s.auditSvc.LogAsync(ctx, rejectedBy, "modification_rejected", "installment_modification", mod.ID,
		fmt.Sprintf("%s on plan %d rejected: %s", mod.ModificationType, mod.PlanID, reason))

	s.notifyDecision(ctx, mod, "rejected")

	return mod, nil
}

// Apply executes an approved modification against the live plan. The change
// is recomputed from the plan's current state; if the plan drifted since
// approval beyond tolerance the apply is refused and the modification stays
// approved.
func (s *ModificationService) Apply(ctx context.Context, id uint, appliedBy string) (*models.InstallmentModification, error) {
	mod, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if !mod.MayApply() {
		return nil, NewStateConflictError("modification", mod.Status, "apply")
	}

	unlock := s.locks.Acquire(mod.PlanID)
	defer unlock()

	// Re-read under the plan lock: a concurrent apply may have won the race
	// between the first load and the lock acquisition.
	mod, err = s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !mod.MayApply() {
		return nil, NewStateConflictError("modification", mod.Status, "apply")
	}

	plan, err := s.loadModifiablePlan(ctx, mod.PlanID)
	if err != nil {
		return nil, err
	}

	req := &ModificationRequest{
		ModificationType:      mod.ModificationType,
		Reason:                mod.Reason,
		RequestedBy:           mod.RequestedBy,
		NewInstallmentCount:   mod.Details.NewInstallmentCount,
		NewInterestRate:       mod.Details.NewInterestRate,
		AdditionalDownPayment: mod.Details.AdditionalDownPayment,
		NewProducts:           mod.Details.NewProducts,
	}

	prop, err := s.compute(plan, req)
	if err != nil {
		return nil, err
	}

	if err := checkSnapshotDrift(&mod.NewPlan, prop); err != nil {
		return nil, err
	}

	plan.TotalPrice = prop.newTerms.TotalPrice
	plan.DownPayment = prop.newTerms.DownPayment
	plan.NumberOfInstallments = prop.newTerms.NumberOfInstallments
	plan.InstallmentAmount = prop.newTerms.InstallmentAmount
	plan.InterestRate = prop.newTerms.InterestRate
	plan.EndDate = prop.newTerms.EndDate

	if err := s.planRepo.ReplaceSchedule(ctx, plan, prop.firstOpen, prop.schedule, prop.newItems); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return nil, ErrVersionConflict
		}
		return nil, err
	}

	modFSM := statemachine.NewModificationFSM(mod)
	if err := modFSM.Apply(ctx); err != nil {
		return nil, NewStateConflictError("modification", mod.Status, "apply")
	}

	now := time.Now()
	mod.AppliedAt = &now
	mod.NewPlan = prop.proposed

	if err := s.repo.Update(ctx, mod, models.ModificationStatusApproved); err != nil {
		if errors.Is(err, repository.ErrStaleModification) {
			return nil, NewStateConflictError("modification", models.ModificationStatusApproved, "apply")
		}
		return nil, err
	}

	s.auditSvc.LogAsync(ctx, appliedBy, "modification_applied", "installment_modification", mod.ID,
		fmt.Sprintf("%s applied to plan %d: EMI %.2f over %d remaining installments",
			mod.ModificationType, plan.ID, prop.newTerms.InstallmentAmount, len(prop.schedule)))

	customerID := plan.CustomerID
	newEMI := prop.newTerms.InstallmentAmount
	s.worker.EnqueueAsync(func(jobCtx context.Context) error {
		return s.notificationSvc.NotifyCustomer(jobCtx, customerID,
			"Plan modified",
			fmt.Sprintf("Your plan terms were updated. New installment amount: %.2f.", newEMI),
			models.NotificationTypeModificationApplied)
	})

	return mod, nil
}

// checkSnapshotDrift compares the approved snapshot against the freshly
// computed proposal. Payments recorded between approval and apply shift the
// figures; past tolerance the snapshot is stale and apply must be refused.
func checkSnapshotDrift(approved *models.PlanSnapshot, prop *proposal) error {
	emiDrift := models.RoundCents(prop.newTerms.InstallmentAmount - approved.InstallmentAmount)
	if emiDrift < 0 {
		emiDrift = -emiDrift
	}
	if emiDrift > applyEMITolerance {
		return fmt.Errorf("%w: installment amount drifted from %.2f to %.2f",
			ErrConsistencyViolation, approved.InstallmentAmount, prop.newTerms.InstallmentAmount)
	}

	var newPayable float64
	for _, pm := range prop.schedule {
		paid := pm.AmountPaid
		if paid > pm.AmountDue {
			paid = pm.AmountDue
		}
		newPayable += pm.AmountDue - paid
	}
	newPayable = models.RoundCents(newPayable)
	totalDrift := models.RoundCents(newPayable - approved.RemainingBalance)
	if totalDrift < 0 {
		totalDrift = -totalDrift
	}
	if totalDrift > applyPerInstallmentsTotal*float64(len(prop.schedule)) {
		return fmt.Errorf("%w: outstanding payable drifted from %.2f to %.2f",
			ErrConsistencyViolation, approved.RemainingBalance, newPayable)
	}

	if approved.PaidInstallments != prop.current.PaidInstallments {
		return fmt.Errorf("%w: %d installment(s) were paid since approval",
			ErrConsistencyViolation, prop.current.PaidInstallments-approved.PaidInstallments)
	}

	return nil
}

func (s *ModificationService) notifyDecision(ctx context.Context, mod *models.InstallmentModification, decision string) {
	plan, err := s.planRepo.FindByID(ctx, mod.PlanID)
	if err != nil {
		return
	}

	notifType := models.NotificationTypeModificationApproved
	if decision == "rejected" {
		notifType = models.NotificationTypeModificationRejected
	}

	customerID := plan.CustomerID
	modCopy := *mod
	s.worker.EnqueueAsync(func(jobCtx context.Context) error {
		if err := s.notificationSvc.NotifyCustomer(jobCtx, customerID,
			fmt.Sprintf("Modification %s", decision),
			fmt.Sprintf("Your %s request has been %s.", modCopy.ModificationType, decision),
			notifType); err != nil {
			return err
		}
		return s.emailSvc.SendModificationDecision(jobCtx, &modCopy, decision)
	})
}
