package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/retailops/installment-api/internal/jobs"
	"github.com/retailops/installment-api/internal/models"
	"github.com/retailops/installment-api/internal/repository"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

// Mock ModificationRepository (using embedding to avoid implementing all methods)
type mockModificationRepository struct {
	repository.ModificationRepository
	mockCreate       func(ctx context.Context, mod *models.InstallmentModification) error
	mockFindByID     func(ctx context.Context, id uint) (*models.InstallmentModification, error)
	mockUpdate       func(ctx context.Context, mod *models.InstallmentModification, expectedStatus string) error
	mockCountPending func(ctx context.Context, planID uint) (int64, error)
}

func (m *mockModificationRepository) Create(ctx context.Context, mod *models.InstallmentModification) error {
	if m.mockCreate != nil {
		return m.mockCreate(ctx, mod)
	}
	return nil
}

func (m *mockModificationRepository) FindByID(ctx context.Context, id uint) (*models.InstallmentModification, error) {
	if m.mockFindByID != nil {
		return m.mockFindByID(ctx, id)
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockModificationRepository) Update(ctx context.Context, mod *models.InstallmentModification, expectedStatus string) error {
	if m.mockUpdate != nil {
		return m.mockUpdate(ctx, mod, expectedStatus)
	}
	return nil
}

func (m *mockModificationRepository) CountPendingByPlan(ctx context.Context, planID uint) (int64, error) {
	if m.mockCountPending != nil {
		return m.mockCountPending(ctx, planID)
	}
	return 0, nil
}

func newTestModificationService(modRepo repository.ModificationRepository, planRepo repository.PlanRepository, requireApproval bool) (*ModificationService, *jobs.Worker) {
	worker := jobs.NewWorker(1)
	notifSvc := NewNotificationService(&mockNotificationRepository{})
	svc := NewModificationService(modRepo, planRepo, NewAmortizationService(), notifSvc, nil, nil, newPlanLocker(), worker, requireApproval)
	return svc, worker
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

func TestModificationService_Preview_ChangeInstallmentCount(t *testing.T) {
	// 600 at 0% over 4, one installment of 150 paid
	plan := newTestPlan(1, 600, 0, 4, 1)
	planRepo := &mockPlanRepository{
		mockFindByID: func(ctx context.Context, id uint) (*models.InstallmentPlan, error) {
			return plan, nil
		},
	}
	svc, worker := newTestModificationService(&mockModificationRepository{}, planRepo, true)
	defer worker.Shutdown()

	req := &ModificationRequest{
		ModificationType:    models.ModificationTypeChangeInstallmentCount,
		NewInstallmentCount: intPtr(8),
	}

	preview, err := svc.Preview(context.Background(), 1, req)
	assert.NoError(t, err)

	// 450 outstanding over 7 remaining installments
	assert.Equal(t, 150.0, preview.FinancialImpact.CurrentEMI)
	assert.Equal(t, 64.29, preview.FinancialImpact.NewEMI)
	assert.Equal(t, 450.0, preview.FinancialImpact.CurrentTotalPayable)
	assert.Equal(t, 450.0, preview.FinancialImpact.NewTotalPayable)

	// Only the first six upcoming installments are listed
	assert.Len(t, preview.NewSchedulePreview, 6)
	assert.Equal(t, 2, preview.NewSchedulePreview[0].InstallmentNo)
	for _, pm := range preview.NewSchedulePreview {
		assert.Equal(t, 64.29, pm.AmountDue)
	}

	// Schedule continues the original monthly cadence
	assert.Equal(t, plan.StartDate.AddDate(0, 2, 0), preview.NewSchedulePreview[0].DueDate)
}

func TestModificationService_Preview_ListsAtMostSixInstallments(t *testing.T) {
	plan := newTestPlan(1, 1200, 0, 12, 0)
	planRepo := &mockPlanRepository{
		mockFindByID: func(ctx context.Context, id uint) (*models.InstallmentPlan, error) {
			return plan, nil
		},
	}
	svc, worker := newTestModificationService(&mockModificationRepository{}, planRepo, true)
	defer worker.Shutdown()

	preview, err := svc.Preview(context.Background(), 1, &ModificationRequest{
		ModificationType: models.ModificationTypeChangeInterestRate,
		NewInterestRate:  floatPtr(5),
	})
	assert.NoError(t, err)

	// 12 remaining installments, preview lists only the first 6
	assert.Len(t, preview.NewSchedulePreview, 6)
	assert.Equal(t, 1, preview.NewSchedulePreview[0].InstallmentNo)
	assert.Equal(t, 6, preview.NewSchedulePreview[5].InstallmentNo)
}

func TestModificationService_Preview_Idempotent(t *testing.T) {
	plan := newTestPlan(1, 900, 10, 6, 2)
	planRepo := &mockPlanRepository{
		mockFindByID: func(ctx context.Context, id uint) (*models.InstallmentPlan, error) {
			return plan, nil
		},
	}
	svc, worker := newTestModificationService(&mockModificationRepository{}, planRepo, true)
	defer worker.Shutdown()

	req := &ModificationRequest{
		ModificationType: models.ModificationTypeChangeInterestRate,
		NewInterestRate:  floatPtr(5),
	}

	first, err := svc.Preview(context.Background(), 1, req)
	assert.NoError(t, err)
	second, err := svc.Preview(context.Background(), 1, req)
	assert.NoError(t, err)

	assert.Equal(t, first.FinancialImpact, second.FinancialImpact)
	assert.Equal(t, first.NewPlan, second.NewPlan)
	assert.Equal(t, first.NewSchedulePreview, second.NewSchedulePreview)
}

func TestModificationService_Preview_AdditionalDownPayment(t *testing.T) {
	plan := newTestPlan(1, 600, 0, 4, 1)
	planRepo := &mockPlanRepository{
		mockFindByID: func(ctx context.Context, id uint) (*models.InstallmentPlan, error) {
			return plan, nil
		},
	}
	svc, worker := newTestModificationService(&mockModificationRepository{}, planRepo, true)
	defer worker.Shutdown()

	preview, err := svc.Preview(context.Background(), 1, &ModificationRequest{
		ModificationType:      models.ModificationTypeChangeDownPayment,
		AdditionalDownPayment: floatPtr(150),
	})
	assert.NoError(t, err)

	// 450 outstanding minus 150 extra down payment over 3 installments
	assert.Equal(t, 100.0, preview.FinancialImpact.NewEMI)
	assert.Equal(t, 300.0, preview.FinancialImpact.NewTotalPayable)
	assert.True(t, preview.FinancialImpact.IsFinanciallyBeneficial)

	// Paying off the whole outstanding principal leaves a zero-amount tail
	preview, err = svc.Preview(context.Background(), 1, &ModificationRequest{
		ModificationType:      models.ModificationTypeChangeDownPayment,
		AdditionalDownPayment: floatPtr(450),
	})
	assert.NoError(t, err)
	assert.Equal(t, 0.0, preview.FinancialImpact.NewEMI)
	assert.Equal(t, 0.0, preview.FinancialImpact.NewTotalPayable)

	// More than the outstanding principal is rejected
	_, err = svc.Preview(context.Background(), 1, &ModificationRequest{
		ModificationType:      models.ModificationTypeChangeDownPayment,
		AdditionalDownPayment: floatPtr(500),
	})
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestModificationService_Preview_AddProducts(t *testing.T) {
	plan := newTestPlan(1, 600, 0, 4, 1)
	planRepo := &mockPlanRepository{
		mockFindByID: func(ctx context.Context, id uint) (*models.InstallmentPlan, error) {
			return plan, nil
		},
	}
	svc, worker := newTestModificationService(&mockModificationRepository{}, planRepo, true)
	defer worker.Shutdown()

	preview, err := svc.Preview(context.Background(), 1, &ModificationRequest{
		ModificationType: models.ModificationTypeAddProducts,
		NewProducts: []models.ProductLine{
			{ProductID: "sku-9", Name: "Blender", UnitPrice: 90, Quantity: 1},
		},
	})
	assert.NoError(t, err)

	// 450 outstanding plus 90 added over 3 installments
	assert.Equal(t, 180.0, preview.FinancialImpact.NewEMI)
	assert.Equal(t, 540.0, preview.FinancialImpact.NewTotalPayable)
	assert.Equal(t, 690.0, preview.NewPlan.TotalPrice)
	assert.Len(t, preview.NewPlan.Products, 1)
}

func TestModificationService_Preview_InvalidTargetCount(t *testing.T) {
	plan := newTestPlan(1, 600, 0, 4, 2)
	planRepo := &mockPlanRepository{
		mockFindByID: func(ctx context.Context, id uint) (*models.InstallmentPlan, error) {
			return plan, nil
		},
	}
	svc, worker := newTestModificationService(&mockModificationRepository{}, planRepo, true)
	defer worker.Shutdown()

	// Target must exceed the installments already paid
	_, err := svc.Preview(context.Background(), 1, &ModificationRequest{
		ModificationType:    models.ModificationTypeChangeInstallmentCount,
		NewInstallmentCount: intPtr(2),
	})
	assert.ErrorIs(t, err, ErrInvalidParameter)

	_, err = svc.Preview(context.Background(), 1, &ModificationRequest{
		ModificationType: "shorten_term",
	})
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestModificationService_Preview_TerminalPlanConflicts(t *testing.T) {
	plan := newTestPlan(1, 600, 0, 4, 0)
	now := time.Now()
	plan.Status = models.PlanStatusCancelled
	plan.CancelledAt = &now
	planRepo := &mockPlanRepository{
		mockFindByID: func(ctx context.Context, id uint) (*models.InstallmentPlan, error) {
			return plan, nil
		},
	}
	svc, worker := newTestModificationService(&mockModificationRepository{}, planRepo, true)
	defer worker.Shutdown()

	_, err := svc.Preview(context.Background(), 1, &ModificationRequest{
		ModificationType:    models.ModificationTypeChangeInstallmentCount,
		NewInstallmentCount: intPtr(8),
	})
	assert.ErrorIs(t, err, ErrStateConflict)
}

func TestModificationService_Request_PendingWorkflow(t *testing.T) {
	plan := newTestPlan(1, 600, 0, 4, 1)
	var created *models.InstallmentModification
	modRepo := &mockModificationRepository{
		mockCreate: func(ctx context.Context, mod *models.InstallmentModification) error {
			created = mod
			return nil
		},
	}
	planRepo := &mockPlanRepository{
		mockFindByID: func(ctx context.Context, id uint) (*models.InstallmentPlan, error) {
			return plan, nil
		},
	}
	svc, worker := newTestModificationService(modRepo, planRepo, true)
	defer worker.Shutdown()

	mod, err := svc.Request(context.Background(), 1, &ModificationRequest{
		ModificationType:    models.ModificationTypeChangeInstallmentCount,
		Reason:              "customer requested lower monthly payment",
		RequestedBy:         "agent-7",
		NewInstallmentCount: intPtr(8),
	})

	assert.NoError(t, err)
	assert.NotNil(t, created)
	assert.Equal(t, models.ModificationStatusPending, mod.Status)
	assert.Equal(t, 150.0, mod.PreviousPlan.InstallmentAmount)
	assert.Equal(t, 64.29, mod.NewPlan.InstallmentAmount)
	assert.Nil(t, mod.ApprovedAt)
}

func TestModificationService_Request_AutoApproval(t *testing.T) {
	plan := newTestPlan(1, 600, 0, 4, 1)
	planRepo := &mockPlanRepository{
		mockFindByID: func(ctx context.Context, id uint) (*models.InstallmentPlan, error) {
			return plan, nil
		},
	}
	svc, worker := newTestModificationService(&mockModificationRepository{}, planRepo, false)
	defer worker.Shutdown()

	mod, err := svc.Request(context.Background(), 1, &ModificationRequest{
		ModificationType:    models.ModificationTypeChangeInstallmentCount,
		Reason:              "lower monthly payment",
		RequestedBy:         "agent-7",
		NewInstallmentCount: intPtr(8),
	})

	assert.NoError(t, err)
	assert.Equal(t, models.ModificationStatusApproved, mod.Status)
	assert.NotNil(t, mod.ApprovedAt)
}

func TestModificationService_Request_BlockedByPendingRequest(t *testing.T) {
	plan := newTestPlan(1, 600, 0, 4, 1)
	modRepo := &mockModificationRepository{
		mockCountPending: func(ctx context.Context, planID uint) (int64, error) {
			return 1, nil
		},
	}
	planRepo := &mockPlanRepository{
		mockFindByID: func(ctx context.Context, id uint) (*models.InstallmentPlan, error) {
			return plan, nil
		},
	}
	svc, worker := newTestModificationService(modRepo, planRepo, true)
	defer worker.Shutdown()

	_, err := svc.Request(context.Background(), 1, &ModificationRequest{
		ModificationType:    models.ModificationTypeChangeInstallmentCount,
		Reason:              "second request",
		RequestedBy:         "agent-7",
		NewInstallmentCount: intPtr(8),
	})
	assert.ErrorIs(t, err, ErrStateConflict)
}

func newPendingModification(plan *models.InstallmentPlan, req *ModificationRequest, svc *ModificationService) *models.InstallmentModification {
	prop, err := svc.compute(plan, req)
	if err != nil {
		panic(err)
	}
	return &models.InstallmentModification{
		ID:               10,
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
}

func TestModificationService_ApproveThenApply(t *testing.T) {
	plan := newTestPlan(1, 600, 0, 4, 1)
	var replacedFrom int
	var replacedSchedule []models.Payment
	planRepo := &mockPlanRepository{
		mockFindByID: func(ctx context.Context, id uint) (*models.InstallmentPlan, error) {
			return plan, nil
		},
		mockReplaceSchedule: func(ctx context.Context, p *models.InstallmentPlan, from int, payments []models.Payment, newItems []models.PlanItem) error {
			replacedFrom = from
			replacedSchedule = payments
			return nil
		},
	}

	req := &ModificationRequest{
		ModificationType:    models.ModificationTypeChangeInstallmentCount,
		Reason:              "lower monthly payment",
		RequestedBy:         "agent-7",
		NewInstallmentCount: intPtr(8),
	}

	var stored *models.InstallmentModification
	var updateGuards []string
	modRepo := &mockModificationRepository{
		mockFindByID: func(ctx context.Context, id uint) (*models.InstallmentModification, error) {
			return stored, nil
		},
		mockUpdate: func(ctx context.Context, mod *models.InstallmentModification, expectedStatus string) error {
			stored = mod
			updateGuards = append(updateGuards, expectedStatus)
			return nil
		},
	}
	svc, worker := newTestModificationService(modRepo, planRepo, true)
	defer worker.Shutdown()

	stored = newPendingModification(plan, req, svc)

	mod, err := svc.Approve(context.Background(), 10, "supervisor-1", nil)
	assert.NoError(t, err)
	assert.Equal(t, models.ModificationStatusApproved, mod.Status)
	assert.Equal(t, "supervisor-1", *mod.ApprovedBy)

	mod, err = svc.Apply(context.Background(), 10, "supervisor-1")
	assert.NoError(t, err)
	assert.Equal(t, models.ModificationStatusApplied, mod.Status)
	assert.NotNil(t, mod.AppliedAt)

	// Open schedule rewritten from installment 2 with 7 new rows
	assert.Equal(t, 2, replacedFrom)
	assert.Len(t, replacedSchedule, 7)
	assert.Equal(t, 8, plan.NumberOfInstallments)
	assert.Equal(t, 64.29, plan.InstallmentAmount)

	var total float64
	for _, pm := range replacedSchedule {
		total += pm.AmountDue
	}
	assert.Equal(t, 450.0, models.RoundCents(total))

	// Each persist was guarded by the status the transition started from
	assert.Equal(t, []string{models.ModificationStatusPending, models.ModificationStatusApproved}, updateGuards)
}

func TestModificationService_RejectIsTerminal(t *testing.T) {
	plan := newTestPlan(1, 600, 0, 4, 1)
	planRepo := &mockPlanRepository{
		mockFindByID: func(ctx context.Context, id uint) (*models.InstallmentPlan, error) {
			return plan, nil
		},
	}

	req := &ModificationRequest{
		ModificationType:    models.ModificationTypeChangeInstallmentCount,
		Reason:              "lower monthly payment",
		RequestedBy:         "agent-7",
		NewInstallmentCount: intPtr(8),
	}

	var stored *models.InstallmentModification
	modRepo := &mockModificationRepository{
		mockFindByID: func(ctx context.Context, id uint) (*models.InstallmentModification, error) {
			return stored, nil
		},
		mockUpdate: func(ctx context.Context, mod *models.InstallmentModification, expectedStatus string) error {
			stored = mod
			return nil
		},
	}
	svc, worker := newTestModificationService(modRepo, planRepo, true)
	defer worker.Shutdown()

	stored = newPendingModification(plan, req, svc)

	mod, err := svc.Reject(context.Background(), 10, "supervisor-1", "terms too generous")
	assert.NoError(t, err)
	assert.Equal(t, models.ModificationStatusRejected, mod.Status)
	assert.Equal(t, "terms too generous", *mod.RejectionReason)

	// Rejected requests can be neither applied nor re-approved
	_, err = svc.Apply(context.Background(), 10, "supervisor-1")
	assert.ErrorIs(t, err, ErrStateConflict)

	_, err = svc.Approve(context.Background(), 10, "supervisor-1", nil)
	assert.ErrorIs(t, err, ErrStateConflict)
}

func TestModificationService_Apply_RefusedOnDrift(t *testing.T) {
	plan := newTestPlan(1, 600, 0, 4, 1)
	planRepo := &mockPlanRepository{
		mockFindByID: func(ctx context.Context, id uint) (*models.InstallmentPlan, error) {
			return plan, nil
		},
	}

	req := &ModificationRequest{
		ModificationType:    models.ModificationTypeChangeInstallmentCount,
		Reason:              "lower monthly payment",
		RequestedBy:         "agent-7",
		NewInstallmentCount: intPtr(8),
	}

	var stored *models.InstallmentModification
	modRepo := &mockModificationRepository{
		mockFindByID: func(ctx context.Context, id uint) (*models.InstallmentModification, error) {
			return stored, nil
		},
		mockUpdate: func(ctx context.Context, mod *models.InstallmentModification, expectedStatus string) error {
			stored = mod
			return nil
		},
	}
	svc, worker := newTestModificationService(modRepo, planRepo, true)
	defer worker.Shutdown()

	stored = newPendingModification(plan, req, svc)
	now := time.Now()
	stored.Status = models.ModificationStatusApproved
	stored.ApprovedAt = &now

	// A payment lands between approval and apply
	plan.Payments[1].AmountPaid = plan.Payments[1].AmountDue
	plan.Payments[1].PaymentDate = &now
	plan.Payments[1].Status = models.PaymentStatusPaid

	_, err := svc.Apply(context.Background(), 10, "supervisor-1")
	assert.ErrorIs(t, err, ErrConsistencyViolation)

	// The modification stays approved so it can be re-reviewed
	assert.Equal(t, models.ModificationStatusApproved, stored.Status)
}

func TestModificationService_Apply_RefusesOutOfOrderSettlement(t *testing.T) {
	// Installment 2 settled while installment 1 is still open: rewriting the
	// open tail would destroy the settled row, so the change must be refused.
	plan := newTestPlan(1, 600, 0, 4, 0)
	now := time.Now()
	plan.Payments[1].AmountPaid = plan.Payments[1].AmountDue
	plan.Payments[1].PaymentDate = &now
	plan.Payments[1].Status = models.PaymentStatusPaid

	var replaceCalled bool
	planRepo := &mockPlanRepository{
		mockFindByID: func(ctx context.Context, id uint) (*models.InstallmentPlan, error) {
			return plan, nil
		},
		mockReplaceSchedule: func(ctx context.Context, p *models.InstallmentPlan, from int, payments []models.Payment, newItems []models.PlanItem) error {
			replaceCalled = true
			return nil
		},
	}

	stored := &models.InstallmentModification{
		ID:               10,
		PlanID:           1,
		ModificationType: models.ModificationTypeChangeInstallmentCount,
		Reason:           "lower monthly payment",
		RequestedBy:      "agent-7",
		Status:           models.ModificationStatusApproved,
		ApprovedAt:       &now,
		Details: models.ModificationDetails{
			NewInstallmentCount: intPtr(8),
		},
	}
	modRepo := &mockModificationRepository{
		mockFindByID: func(ctx context.Context, id uint) (*models.InstallmentModification, error) {
			return stored, nil
		},
	}
	svc, worker := newTestModificationService(modRepo, planRepo, true)
	defer worker.Shutdown()

	_, err := svc.Apply(context.Background(), 10, "supervisor-1")
	assert.ErrorIs(t, err, ErrStateConflict)
	assert.False(t, replaceCalled)

	// Preview refuses the same plan for the same reason
	_, err = svc.Preview(context.Background(), 1, &ModificationRequest{
		ModificationType:    models.ModificationTypeChangeInstallmentCount,
		NewInstallmentCount: intPtr(8),
	})
	assert.ErrorIs(t, err, ErrStateConflict)
}

func TestModificationService_Apply_CarriesPartialPayment(t *testing.T) {
	// 600 at 0% over 4, installment 1 settled and 100 collected toward
	// installment 2. The 100 must survive the schedule rewrite.
	plan := newTestPlan(1, 600, 0, 4, 1)
	now := time.Now()
	plan.Payments[1].AmountPaid = 100
	plan.Payments[1].PaymentDate = &now

	var replacedFrom int
	var replacedSchedule []models.Payment
	planRepo := &mockPlanRepository{
		mockFindByID: func(ctx context.Context, id uint) (*models.InstallmentPlan, error) {
			return plan, nil
		},
		mockReplaceSchedule: func(ctx context.Context, p *models.InstallmentPlan, from int, payments []models.Payment, newItems []models.PlanItem) error {
			replacedFrom = from
			replacedSchedule = payments
			return nil
		},
	}

	req := &ModificationRequest{
		ModificationType:    models.ModificationTypeChangeInstallmentCount,
		Reason:              "lower monthly payment",
		RequestedBy:         "agent-7",
		NewInstallmentCount: intPtr(8),
	}

	var stored *models.InstallmentModification
	modRepo := &mockModificationRepository{
		mockFindByID: func(ctx context.Context, id uint) (*models.InstallmentModification, error) {
			return stored, nil
		},
		mockUpdate: func(ctx context.Context, mod *models.InstallmentModification, expectedStatus string) error {
			stored = mod
			return nil
		},
	}
	svc, worker := newTestModificationService(modRepo, planRepo, true)
	defer worker.Shutdown()

	stored = newPendingModification(plan, req, svc)

	// The collected 100 nets against the outstanding 450
	assert.Equal(t, 350.0, stored.Details.FinancialImpact.CurrentTotalPayable)
	assert.Equal(t, 350.0, stored.Details.FinancialImpact.NewTotalPayable)

	_, err := svc.Approve(context.Background(), 10, "supervisor-1", nil)
	assert.NoError(t, err)
	mod, err := svc.Apply(context.Background(), 10, "supervisor-1")
	assert.NoError(t, err)
	assert.Equal(t, models.ModificationStatusApplied, mod.Status)

	// 450 over 7 rows at 64.29; the 100 credit settles the first new row and
	// leaves 35.71 on the second
	assert.Equal(t, 2, replacedFrom)
	assert.Len(t, replacedSchedule, 7)
	assert.Equal(t, 64.29, replacedSchedule[0].AmountPaid)
	assert.Equal(t, models.PaymentStatusPaid, replacedSchedule[0].Status)
	assert.NotNil(t, replacedSchedule[0].PaymentDate)
	assert.Equal(t, 35.71, replacedSchedule[1].AmountPaid)
	assert.NotEqual(t, models.PaymentStatusPaid, replacedSchedule[1].Status)
	assert.Equal(t, 0.0, replacedSchedule[2].AmountPaid)
}

func TestModificationService_Apply_ConcurrentApplyLosesRace(t *testing.T) {
	plan := newTestPlan(1, 600, 0, 4, 1)
	var replaceCalled bool
	planRepo := &mockPlanRepository{
		mockFindByID: func(ctx context.Context, id uint) (*models.InstallmentPlan, error) {
			return plan, nil
		},
		mockReplaceSchedule: func(ctx context.Context, p *models.InstallmentPlan, from int, payments []models.Payment, newItems []models.PlanItem) error {
			replaceCalled = true
			return nil
		},
	}

	req := &ModificationRequest{
		ModificationType:    models.ModificationTypeChangeInstallmentCount,
		Reason:              "lower monthly payment",
		RequestedBy:         "agent-7",
		NewInstallmentCount: intPtr(8),
	}

	modRepo := &mockModificationRepository{}
	svc, worker := newTestModificationService(modRepo, planRepo, true)
	defer worker.Shutdown()

	base := newPendingModification(plan, req, svc)
	now := time.Now()

	// The first read sees the approved row; by the time the plan lock is
	// held another apply has already finished.
	var reads int
	modRepo.mockFindByID = func(ctx context.Context, id uint) (*models.InstallmentModification, error) {
		reads++
		mod := *base
		if reads == 1 {
			mod.Status = models.ModificationStatusApproved
			mod.ApprovedAt = &now
		} else {
			mod.Status = models.ModificationStatusApplied
			mod.ApprovedAt = &now
			mod.AppliedAt = &now
		}
		return &mod, nil
	}

	_, err := svc.Apply(context.Background(), 10, "supervisor-1")
	assert.ErrorIs(t, err, ErrStateConflict)
	assert.Equal(t, 2, reads)
	assert.False(t, replaceCalled)
}

func TestModificationService_Request_Validation(t *testing.T) {
	plan := newTestPlan(1, 600, 0, 4, 1)
	planRepo := &mockPlanRepository{
		mockFindByID: func(ctx context.Context, id uint) (*models.InstallmentPlan, error) {
			return plan, nil
		},
	}
	svc, worker := newTestModificationService(&mockModificationRepository{}, planRepo, true)
	defer worker.Shutdown()

	_, err := svc.Request(context.Background(), 1, &ModificationRequest{
		ModificationType:    models.ModificationTypeChangeInstallmentCount,
		RequestedBy:         "agent-7",
		NewInstallmentCount: intPtr(8),
	})
	assert.ErrorIs(t, err, ErrInvalidParameter)

	_, err = svc.Request(context.Background(), 1, &ModificationRequest{
		ModificationType:    models.ModificationTypeChangeInstallmentCount,
		Reason:              "missing requester",
		NewInstallmentCount: intPtr(8),
	})
	assert.ErrorIs(t, err, ErrInvalidParameter)

	_, err = svc.Request(context.Background(), 1, &ModificationRequest{
		ModificationType: models.ModificationTypeChangeInterestRate,
		Reason:           "missing rate",
		RequestedBy:      "agent-7",
	})
	assert.ErrorIs(t, err, ErrInvalidParameter)
}
