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
	"github.com/retailops/installment-api/pkg/logger"
	"gorm.io/gorm"
)

// lineTotalTolerance is how far a submitted line_total may drift from
// unit_price * quantity before the plan is rejected.
const lineTotalTolerance = 0.01

type PlanService struct {
	repo            repository.PlanRepository
	amortization    *AmortizationService
	notificationSvc *NotificationService
	emailSvc        *EmailService
	auditSvc        *AuditService
	locks           *planLocker
	worker          *jobs.Worker
}

func NewPlanService(
	repo repository.PlanRepository,
	amortization *AmortizationService,
	notificationSvc *NotificationService,
	emailSvc *EmailService,
	auditSvc *AuditService,
	locks *planLocker,
	worker *jobs.Worker,
) *PlanService {
	return &PlanService{
		repo:            repo,
		amortization:    amortization,
		notificationSvc: notificationSvc,
		emailSvc:        emailSvc,
		auditSvc:        auditSvc,
		locks:           locks,
		worker:          worker,
	}
}

// CreatePlanRequest carries the inputs for opening a new installment plan.
// TotalPrice may be omitted when Items are given; it is then derived from the
// line totals.
type CreatePlanRequest struct {
	SaleID               string               `json:"sale_id"`
	CustomerID           string               `json:"customer_id"`
	TotalPrice           float64              `json:"total_price"`
	DownPayment          float64              `json:"down_payment"`
	NumberOfInstallments int                  `json:"number_of_installments"`
	InterestRate         float64              `json:"interest_rate"`
	StartDate            time.Time            `json:"start_date"`
	Note                 *string              `json:"note"`
	Items                []models.ProductLine `json:"items"`
}

// RecordPaymentRequest carries a collected payment. InstallmentNo targets a
// specific installment; when nil the next pending one is settled.
type RecordPaymentRequest struct {
	InstallmentNo *int       `json:"installment_no"`
	Amount        float64    `json:"amount"`
	PaymentDate   *time.Time `json:"payment_date"`
	ReceivedBy    string     `json:"received_by"`
}

// PaymentReceipt is the outcome of recording a payment, including any excess
// collected above the installment's amount due.
type PaymentReceipt struct {
	Plan         *models.InstallmentPlan
	Payment      *models.Payment
	ExcessAmount float64
}

func (s *PlanService) validateCreate(req *CreatePlanRequest) (float64, error) {
	if req.CustomerID == "" {
		return 0, NewParameterError("customer_id", "is required")
	}
	if req.NumberOfInstallments < 1 {
		return 0, NewParameterError("number_of_installments", "must be at least 1")
	}
	if req.InterestRate < 0 {
		return 0, NewParameterError("interest_rate", "must not be negative")
	}
	if req.StartDate.IsZero() {
		return 0, NewParameterError("start_date", "is required")
	}

	totalPrice := req.TotalPrice
	if len(req.Items) > 0 {
		var itemTotal float64
		for i, item := range req.Items {
			if item.Quantity < 1 {
				return 0, NewParameterError(fmt.Sprintf("items[%d].quantity", i), "must be at least 1")
			}
			if item.UnitPrice < 0 {
				return 0, NewParameterError(fmt.Sprintf("items[%d].unit_price", i), "must not be negative")
			}
			expected := models.RoundCents(item.UnitPrice * float64(item.Quantity))
			if diff := models.RoundCents(item.LineTotal - expected); item.LineTotal != 0 && (diff > lineTotalTolerance || diff < -lineTotalTolerance) {
				return 0, NewParameterError(fmt.Sprintf("items[%d].line_total", i), "does not match unit_price * quantity")
			}
			itemTotal += expected
		}
		itemTotal = models.RoundCents(itemTotal)
		if totalPrice == 0 {
			totalPrice = itemTotal
		} else if diff := models.RoundCents(totalPrice - itemTotal); diff > lineTotalTolerance || diff < -lineTotalTolerance {
			return 0, NewParameterError("total_price", "does not match the sum of item line totals")
		}
	}

	if totalPrice <= 0 {
		return 0, NewParameterError("total_price", "must be greater than zero")
	}
	if req.DownPayment < 0 {
		return 0, NewParameterError("down_payment", "must not be negative")
	}
	if req.DownPayment > totalPrice {
		return 0, NewParameterError("down_payment", "must not exceed total price")
	}

	return totalPrice, nil
}

// Create opens a plan and generates its full payment schedule atomically.
func (s *PlanService) Create(ctx context.Context, req *CreatePlanRequest) (*models.InstallmentPlan, error) {
	totalPrice, err := s.validateCreate(req)
	if err != nil {
		return nil, err
	}

	principal := models.RoundCents(totalPrice - req.DownPayment)
	schedule, err := s.amortization.Generate(ScheduleParams{
		Principal:    principal,
		InterestRate: req.InterestRate,
		Installments: req.NumberOfInstallments,
		StartDate:    req.StartDate,
	})
	if err != nil {
		return nil, err
	}

	plan := &models.InstallmentPlan{
		GUID:                 uuid.NewString(),
		SaleID:               req.SaleID,
		CustomerID:           req.CustomerID,
		TotalPrice:           totalPrice,
		DownPayment:          models.RoundCents(req.DownPayment),
		NumberOfInstallments: req.NumberOfInstallments,
		InstallmentAmount:    s.amortization.InstallmentAmount(principal, req.InterestRate, req.NumberOfInstallments),
		InterestRate:         req.InterestRate,
		StartDate:            req.StartDate,
		EndDate:              schedule[len(schedule)-1].DueDate,
		Status:               models.PlanStatusActive,
		Version:              1,
		Note:                 req.Note,
		Payments:             schedule,
	}

	for _, item := range req.Items {
		plan.Items = append(plan.Items, models.PlanItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			LineTotal: models.RoundCents(item.UnitPrice * float64(item.Quantity)),
		})
	}

	if err := s.repo.Create(ctx, plan); err != nil {
		return nil, err
	}

	s.auditSvc.LogAsync(ctx, req.CustomerID, "plan_created", "installment_plan", plan.ID,
		fmt.Sprintf("plan %s: %d installments of %.2f at %.2f%%", plan.GUID, plan.NumberOfInstallments, plan.InstallmentAmount, plan.InterestRate))

	s.worker.EnqueueAsync(func(jobCtx context.Context) error {
		return s.notificationSvc.NotifyCustomer(jobCtx, plan.CustomerID,
			"Installment plan created",
			fmt.Sprintf("Your plan of %d installments of %.2f starts on %s.", plan.NumberOfInstallments, plan.InstallmentAmount, plan.StartDate.Format("2006-01-02")),
			models.NotificationTypePlanCreated)
	})

	return plan, nil
}

// FindByID loads a plan with its schedule. Derived statuses are refreshed
// in memory so reads always reflect the current clock.
func (s *PlanService) FindByID(ctx context.Context, id uint) (*models.InstallmentPlan, error) {
	plan, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	plan.RefreshDerived(time.Now())
	return plan, nil
}

// List returns plans matching the query with their schedules.
func (s *PlanService) List(ctx context.Context, query *repository.PlanQuery) ([]models.InstallmentPlan, int64, error) {
	plans, total, err := s.repo.List(ctx, query)
	if err != nil {
		return nil, 0, err
	}
	now := time.Now()
	for i := range plans {
		plans[i].RefreshDerived(now)
	}
	return plans, total, nil
}

// RecordPayment settles money against one installment. Partial amounts keep
// the installment open; amounts above the due figure are accepted and the
// excess reported on the receipt.
func (s *PlanService) RecordPayment(ctx context.Context, planID uint, req *RecordPaymentRequest) (*PaymentReceipt, error) {
	if req.Amount <= 0 {
		return nil, NewParameterError("amount", "must be greater than zero")
	}

	unlock := s.locks.Acquire(planID)
	defer unlock()

	plan, err := s.FindByID(ctx, planID)
	if err != nil {
		return nil, err
	}

	if plan.IsTerminal() {
		return nil, NewStateConflictError("plan", plan.Status, "recording a payment")
	}

	var target *models.Payment
	if req.InstallmentNo != nil {
		for i := range plan.Payments {
			if plan.Payments[i].InstallmentNo == *req.InstallmentNo {
				target = &plan.Payments[i]
				break
			}
		}
		if target == nil {
			return nil, NewParameterError("installment_no", "no such installment on this plan")
		}
	} else {
		target = plan.NextPendingPayment()
		if target == nil {
			return nil, NewStateConflictError("plan", plan.Status, "recording a payment with no open installments")
		}
	}

	if target.IsSettled() {
		return nil, NewStateConflictError("installment", target.Status, "recording another payment")
	}

	paymentDate := time.Now()
	if req.PaymentDate != nil {
		paymentDate = *req.PaymentDate
	}

	target.AmountPaid = models.RoundCents(target.AmountPaid + req.Amount)
	target.PaymentDate = &paymentDate
	target.RefreshStatus(time.Now())

	excess := models.RoundCents(target.AmountPaid - target.AmountDue)
	if excess < 0 {
		excess = 0
	}

	plan.RefreshDerived(time.Now())

	if err := s.repo.CommitPayment(ctx, plan, target); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return nil, ErrVersionConflict
		}
		return nil, err
	}

	s.auditSvc.LogAsync(ctx, req.ReceivedBy, "payment_recorded", "payment", target.ID,
		fmt.Sprintf("plan %s installment %d: %.2f received (paid %.2f of %.2f)", plan.GUID, target.InstallmentNo, req.Amount, target.AmountPaid, target.AmountDue))

	s.notifyPaymentRecorded(plan, target, req.Amount, excess)

	return &PaymentReceipt{Plan: plan, Payment: target, ExcessAmount: excess}, nil
}

func (s *PlanService) notifyPaymentRecorded(plan *models.InstallmentPlan, payment *models.Payment, amount, excess float64) {
	installmentNo := payment.InstallmentNo
	customerID := plan.CustomerID
	completed := plan.Status == models.PlanStatusCompleted

	s.worker.EnqueueAsync(func(jobCtx context.Context) error {
		msg := fmt.Sprintf("Payment of %.2f received for installment %d.", amount, installmentNo)
		if excess > 0 {
			msg = fmt.Sprintf("%s An excess of %.2f was collected.", msg, excess)
		}
		if err := s.notificationSvc.NotifyCustomer(jobCtx, customerID,
			"Payment received", msg, models.NotificationTypePaymentRecorded); err != nil {
			return err
		}
		if completed {
			return s.notificationSvc.NotifyCustomer(jobCtx, customerID,
				"Plan completed", "All installments are settled. Thank you!",
				models.NotificationTypePlanCompleted)
		}
		return nil
	})
}

// Cancel closes the plan administratively. Remaining installments stay on
// record but accept no further payments.
func (s *PlanService) Cancel(ctx context.Context, planID uint, actor string, note *string) (*models.InstallmentPlan, error) {
	unlock := s.locks.Acquire(planID)
	defer unlock()

	plan, err := s.FindByID(ctx, planID)
	if err != nil {
		return nil, err
	}

	planFSM := statemachine.NewPlanFSM(plan)
	if err := planFSM.Cancel(ctx); err != nil {
		return nil, NewStateConflictError("plan", plan.Status, "cancel")
	}

	now := time.Now()
	plan.CancelledAt = &now
	if note != nil {
		plan.Note = note
	}

	if err := s.repo.Update(ctx, plan); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return nil, ErrVersionConflict
		}
		return nil, err
	}

	s.auditSvc.LogAsync(ctx, actor, "plan_cancelled", "installment_plan", plan.ID,
		fmt.Sprintf("plan %s cancelled", plan.GUID))

	s.worker.EnqueueAsync(func(jobCtx context.Context) error {
		return s.notificationSvc.NotifyCustomer(jobCtx, plan.CustomerID,
			"Plan cancelled", "Your installment plan has been cancelled.",
			models.NotificationTypePlanCancelled)
	})

	return plan, nil
}

// MarkDefaulted flags a delinquent plan as defaulted.
func (s *PlanService) MarkDefaulted(ctx context.Context, planID uint, actor string, note *string) (*models.InstallmentPlan, error) {
	unlock := s.locks.Acquire(planID)
	defer unlock()

	plan, err := s.FindByID(ctx, planID)
	if err != nil {
		return nil, err
	}

	planFSM := statemachine.NewPlanFSM(plan)
	if err := planFSM.MarkDefaulted(ctx); err != nil {
		return nil, NewStateConflictError("plan", plan.Status, "default")
	}

	now := time.Now()
	plan.DefaultedAt = &now
	if note != nil {
		plan.Note = note
	}

	if err := s.repo.Update(ctx, plan); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return nil, ErrVersionConflict
		}
		return nil, err
	}

	s.auditSvc.LogAsync(ctx, actor, "plan_defaulted", "installment_plan", plan.ID,
		fmt.Sprintf("plan %s marked defaulted", plan.GUID))

	s.worker.EnqueueAsync(func(jobCtx context.Context) error {
		return s.notificationSvc.NotifyCustomer(jobCtx, plan.CustomerID,
			"Plan defaulted", "Your installment plan has been marked as defaulted. Please contact support.",
			models.NotificationTypePlanDefaulted)
	})

	return plan, nil
}

// RefreshOverdueStatuses walks every open plan with past-due installments,
// persists the recomputed statuses and notifies affected customers. Run
// periodically by the scheduler.
func (s *PlanService) RefreshOverdueStatuses(ctx context.Context) error {
	plans, err := s.repo.FindActiveWithPastDue(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	var summaries []OverduePlanSummary

	for i := range plans {
		plan := &plans[i]
		unlock := s.locks.Acquire(plan.ID)

		wasOverdue := plan.Status == models.PlanStatusOverdue
		plan.RefreshDerived(now)

		if err := s.repo.Update(ctx, plan); err != nil {
			unlock()
			logger.Error(fmt.Sprintf("failed to refresh plan %d: %v", plan.ID, err))
			continue
		}
		unlock()

		if plan.Status == models.PlanStatusOverdue {
			overdueCount := plan.OverdueInstallments(now)
			summaries = append(summaries, OverduePlanSummary{
				PlanGUID:            plan.GUID,
				CustomerID:          plan.CustomerID,
				OverdueInstallments: overdueCount,
				RemainingBalance:    plan.RemainingBalance(),
			})

			if !wasOverdue {
				customerID := plan.CustomerID
				s.worker.EnqueueAsync(func(jobCtx context.Context) error {
					return s.notificationSvc.NotifyCustomer(jobCtx, customerID,
						"Installment overdue",
						fmt.Sprintf("You have %d overdue installment(s). Please make a payment to bring your plan current.", overdueCount),
						models.NotificationTypePaymentOverdue)
				})
			}
		}
	}

	if len(summaries) > 0 {
		if err := s.emailSvc.SendOverdueSummary(ctx, summaries); err != nil {
			logger.Error(fmt.Sprintf("failed to send overdue summary: %v", err))
		}
	}

	logger.Info(fmt.Sprintf("overdue refresh finished: %d plan(s) checked, %d overdue", len(plans), len(summaries)))
	return nil
}
