package services

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/retailops/installment-api/internal/jobs"
	"github.com/retailops/installment-api/internal/models"
	"github.com/retailops/installment-api/internal/repository"
	"github.com/retailops/installment-api/pkg/logger"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestMain(m *testing.M) {
	logger.Setup("test")
	os.Exit(m.Run())
}

// Mock PlanRepository (using embedding to avoid implementing all methods)
type mockPlanRepository struct {
	repository.PlanRepository
	mockFindByID        func(ctx context.Context, id uint) (*models.InstallmentPlan, error)
	mockCreate          func(ctx context.Context, plan *models.InstallmentPlan) error
	mockUpdate          func(ctx context.Context, plan *models.InstallmentPlan) error
	mockCommitPayment   func(ctx context.Context, plan *models.InstallmentPlan, payment *models.Payment) error
	mockReplaceSchedule func(ctx context.Context, plan *models.InstallmentPlan, fromInstallmentNo int, payments []models.Payment, newItems []models.PlanItem) error
}

func (m *mockPlanRepository) FindByID(ctx context.Context, id uint) (*models.InstallmentPlan, error) {
	if m.mockFindByID != nil {
		return m.mockFindByID(ctx, id)
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockPlanRepository) Create(ctx context.Context, plan *models.InstallmentPlan) error {
	if m.mockCreate != nil {
		return m.mockCreate(ctx, plan)
	}
	return nil
}

func (m *mockPlanRepository) Update(ctx context.Context, plan *models.InstallmentPlan) error {
	if m.mockUpdate != nil {
		return m.mockUpdate(ctx, plan)
	}
	return nil
}

func (m *mockPlanRepository) CommitPayment(ctx context.Context, plan *models.InstallmentPlan, payment *models.Payment) error {
	if m.mockCommitPayment != nil {
		return m.mockCommitPayment(ctx, plan, payment)
	}
	return nil
}

func (m *mockPlanRepository) ReplaceSchedule(ctx context.Context, plan *models.InstallmentPlan, fromInstallmentNo int, payments []models.Payment, newItems []models.PlanItem) error {
	if m.mockReplaceSchedule != nil {
		return m.mockReplaceSchedule(ctx, plan, fromInstallmentNo, payments, newItems)
	}
	return nil
}

// Mock NotificationRepository
type mockNotificationRepository struct {
	repository.NotificationRepository
	mockCreate func(ctx context.Context, notification *models.Notification) error
}

func (m *mockNotificationRepository) Create(ctx context.Context, notification *models.Notification) error {
	if m.mockCreate != nil {
		return m.mockCreate(ctx, notification)
	}
	return nil
}

func newTestPlanService(repo repository.PlanRepository) (*PlanService, *jobs.Worker) {
	worker := jobs.NewWorker(1)
	notifSvc := NewNotificationService(&mockNotificationRepository{})
	svc := NewPlanService(repo, NewAmortizationService(), notifSvc, nil, nil, newPlanLocker(), worker)
	return svc, worker
}

// newTestPlan builds an active plan with a generated schedule and the first
// paidCount installments settled.
func newTestPlan(id uint, principal, rate float64, installments, paidCount int) *models.InstallmentPlan {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	amortization := NewAmortizationService()
	schedule, _ := amortization.Generate(ScheduleParams{
		Principal:    principal,
		InterestRate: rate,
		Installments: installments,
		StartDate:    start,
	})

	for i := 0; i < paidCount; i++ {
		paidAt := schedule[i].DueDate
		schedule[i].AmountPaid = schedule[i].AmountDue
		schedule[i].PaymentDate = &paidAt
		schedule[i].Status = models.PaymentStatusPaid
	}
	for i := range schedule {
		schedule[i].ID = uint(i + 1)
		schedule[i].PlanID = id
	}

	return &models.InstallmentPlan{
		ID:                   id,
		GUID:                 uuid.NewString(),
		SaleID:               "sale-1",
		CustomerID:           "cust-1",
		TotalPrice:           principal,
		DownPayment:          0,
		NumberOfInstallments: installments,
		InstallmentAmount:    amortization.InstallmentAmount(principal, rate, installments),
		InterestRate:         rate,
		StartDate:            start,
		EndDate:              schedule[len(schedule)-1].DueDate,
		Status:               models.PlanStatusActive,
		Version:              1,
		Payments:             schedule,
	}
}

func TestPlanService_Create(t *testing.T) {
	var created *models.InstallmentPlan
	repo := &mockPlanRepository{
		mockCreate: func(ctx context.Context, plan *models.InstallmentPlan) error {
			created = plan
			return nil
		},
	}
	svc, worker := newTestPlanService(repo)
	defer worker.Shutdown()

	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	plan, err := svc.Create(context.Background(), &CreatePlanRequest{
		SaleID:               "sale-42",
		CustomerID:           "cust-42",
		TotalPrice:           1000,
		DownPayment:          100,
		NumberOfInstallments: 6,
		InterestRate:         10,
		StartDate:            start,
	})

	assert.NoError(t, err)
	assert.NotNil(t, created)
	assert.NotEmpty(t, plan.GUID)
	assert.Equal(t, models.PlanStatusActive, plan.Status)
	assert.Len(t, plan.Payments, 6)
	// 900 financed at 10% flat = 990 payable, 165 per installment
	assert.Equal(t, 165.0, plan.InstallmentAmount)
	assert.Equal(t, 990.0, plan.TotalPayable())
	assert.Equal(t, start.AddDate(0, 6, 0), plan.EndDate)
}

func TestPlanService_Create_DerivesTotalFromItems(t *testing.T) {
	repo := &mockPlanRepository{}
	svc, worker := newTestPlanService(repo)
	defer worker.Shutdown()

	plan, err := svc.Create(context.Background(), &CreatePlanRequest{
		CustomerID:           "cust-1",
		NumberOfInstallments: 4,
		InterestRate:         0,
		StartDate:            time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Items: []models.ProductLine{
			{ProductID: "sku-1", Name: "Fridge", UnitPrice: 400, Quantity: 1},
			{ProductID: "sku-2", Name: "Fan", UnitPrice: 100, Quantity: 2},
		},
	})

	assert.NoError(t, err)
	assert.Equal(t, 600.0, plan.TotalPrice)
	assert.Len(t, plan.Items, 2)
	assert.Equal(t, 200.0, plan.Items[1].LineTotal)
}

func TestPlanService_Create_Validation(t *testing.T) {
	repo := &mockPlanRepository{}
	svc, worker := newTestPlanService(repo)
	defer worker.Shutdown()

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		req  CreatePlanRequest
	}{
		{"missing customer", CreatePlanRequest{TotalPrice: 100, NumberOfInstallments: 3, StartDate: start}},
		{"zero installments", CreatePlanRequest{CustomerID: "c", TotalPrice: 100, StartDate: start}},
		{"zero total", CreatePlanRequest{CustomerID: "c", NumberOfInstallments: 3, StartDate: start}},
		{"down payment exceeds price", CreatePlanRequest{CustomerID: "c", TotalPrice: 100, DownPayment: 150, NumberOfInstallments: 3, StartDate: start}},
		{"negative rate", CreatePlanRequest{CustomerID: "c", TotalPrice: 100, NumberOfInstallments: 3, InterestRate: -5, StartDate: start}},
		{"missing start date", CreatePlanRequest{CustomerID: "c", TotalPrice: 100, NumberOfInstallments: 3}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), &tc.req)
			assert.ErrorIs(t, err, ErrInvalidParameter)
		})
	}
}

func TestPlanService_Create_FullDownPayment(t *testing.T) {
	repo := &mockPlanRepository{}
	svc, worker := newTestPlanService(repo)
	defer worker.Shutdown()

	// Paying the whole price up front leaves nothing to finance; the plan
	// still gets its schedule, with every installment at zero.
	plan, err := svc.Create(context.Background(), &CreatePlanRequest{
		CustomerID:           "cust-1",
		TotalPrice:           500,
		DownPayment:          500,
		NumberOfInstallments: 3,
		InterestRate:         10,
		StartDate:            time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})

	assert.NoError(t, err)
	assert.Equal(t, 0.0, plan.InstallmentAmount)
	assert.Equal(t, 0.0, plan.TotalPayable())
	assert.Len(t, plan.Payments, 3)
	for _, pm := range plan.Payments {
		assert.Equal(t, 0.0, pm.AmountDue)
	}
}

func TestPlanService_RecordPayment_SettlesNextPending(t *testing.T) {
	plan := newTestPlan(1, 900, 10, 6, 0)
	var committed *models.Payment
	repo := &mockPlanRepository{
		mockFindByID: func(ctx context.Context, id uint) (*models.InstallmentPlan, error) {
			return plan, nil
		},
		mockCommitPayment: func(ctx context.Context, p *models.InstallmentPlan, payment *models.Payment) error {
			committed = payment
			return nil
		},
	}
	svc, worker := newTestPlanService(repo)
	defer worker.Shutdown()

	receipt, err := svc.RecordPayment(context.Background(), 1, &RecordPaymentRequest{Amount: 165})

	assert.NoError(t, err)
	assert.NotNil(t, committed)
	assert.Equal(t, 1, receipt.Payment.InstallmentNo)
	assert.Equal(t, models.PaymentStatusPaid, receipt.Payment.Status)
	assert.Equal(t, 0.0, receipt.ExcessAmount)
	assert.NotNil(t, receipt.Payment.PaymentDate)
}

func TestPlanService_RecordPayment_PartialKeepsInstallmentOpen(t *testing.T) {
	plan := newTestPlan(1, 900, 10, 6, 0)
	repo := &mockPlanRepository{
		mockFindByID: func(ctx context.Context, id uint) (*models.InstallmentPlan, error) {
			return plan, nil
		},
	}
	svc, worker := newTestPlanService(repo)
	defer worker.Shutdown()

	receipt, err := svc.RecordPayment(context.Background(), 1, &RecordPaymentRequest{Amount: 100})

	assert.NoError(t, err)
	assert.Equal(t, 100.0, receipt.Payment.AmountPaid)
	assert.NotEqual(t, models.PaymentStatusPaid, receipt.Payment.Status)

	// A second partial settles it
	receipt, err = svc.RecordPayment(context.Background(), 1, &RecordPaymentRequest{Amount: 65})
	assert.NoError(t, err)
	assert.Equal(t, 165.0, receipt.Payment.AmountPaid)
	assert.Equal(t, models.PaymentStatusPaid, receipt.Payment.Status)
}

func TestPlanService_RecordPayment_OverpaymentReportsExcess(t *testing.T) {
	plan := newTestPlan(1, 900, 10, 6, 0)
	repo := &mockPlanRepository{
		mockFindByID: func(ctx context.Context, id uint) (*models.InstallmentPlan, error) {
			return plan, nil
		},
	}
	svc, worker := newTestPlanService(repo)
	defer worker.Shutdown()

	receipt, err := svc.RecordPayment(context.Background(), 1, &RecordPaymentRequest{Amount: 200})

	assert.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, receipt.Payment.Status)
	assert.Equal(t, 35.0, receipt.ExcessAmount)
	assert.Equal(t, 200.0, receipt.Payment.AmountPaid)
}

func TestPlanService_RecordPayment_SettledInstallmentConflicts(t *testing.T) {
	plan := newTestPlan(1, 900, 10, 6, 2)
	repo := &mockPlanRepository{
		mockFindByID: func(ctx context.Context, id uint) (*models.InstallmentPlan, error) {
			return plan, nil
		},
	}
	svc, worker := newTestPlanService(repo)
	defer worker.Shutdown()

	one := 1
	_, err := svc.RecordPayment(context.Background(), 1, &RecordPaymentRequest{InstallmentNo: &one, Amount: 165})
	assert.ErrorIs(t, err, ErrStateConflict)
}

func TestPlanService_RecordPayment_FinalPaymentCompletesPlan(t *testing.T) {
	plan := newTestPlan(1, 900, 10, 6, 5)
	repo := &mockPlanRepository{
		mockFindByID: func(ctx context.Context, id uint) (*models.InstallmentPlan, error) {
			return plan, nil
		},
	}
	svc, worker := newTestPlanService(repo)
	defer worker.Shutdown()

	receipt, err := svc.RecordPayment(context.Background(), 1, &RecordPaymentRequest{Amount: 165})

	assert.NoError(t, err)
	assert.Equal(t, models.PlanStatusCompleted, receipt.Plan.Status)
	assert.NotNil(t, receipt.Plan.CompletedAt)
	assert.Equal(t, 0.0, receipt.Plan.RemainingBalance())
}

func TestPlanService_RecordPayment_InvalidAmount(t *testing.T) {
	repo := &mockPlanRepository{}
	svc, worker := newTestPlanService(repo)
	defer worker.Shutdown()

	_, err := svc.RecordPayment(context.Background(), 1, &RecordPaymentRequest{Amount: 0})
	assert.ErrorIs(t, err, ErrInvalidParameter)

	_, err = svc.RecordPayment(context.Background(), 1, &RecordPaymentRequest{Amount: -10})
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestPlanService_RecordPayment_TerminalPlanConflicts(t *testing.T) {
	plan := newTestPlan(1, 900, 10, 6, 0)
	now := time.Now()
	plan.Status = models.PlanStatusCancelled
	plan.CancelledAt = &now
	repo := &mockPlanRepository{
		mockFindByID: func(ctx context.Context, id uint) (*models.InstallmentPlan, error) {
			return plan, nil
		},
	}
	svc, worker := newTestPlanService(repo)
	defer worker.Shutdown()

	_, err := svc.RecordPayment(context.Background(), 1, &RecordPaymentRequest{Amount: 165})
	assert.ErrorIs(t, err, ErrStateConflict)
}

func TestPlanService_RecordPayment_OverduePlanReturnsToActive(t *testing.T) {
	plan := newTestPlan(1, 900, 10, 6, 0)
	// First installment past due, the rest still in the future.
	plan.Payments[0].DueDate = time.Now().AddDate(0, -1, 0)
	for i := 1; i < len(plan.Payments); i++ {
		plan.Payments[i].DueDate = time.Now().AddDate(0, i, 0)
	}
	repo := &mockPlanRepository{
		mockFindByID: func(ctx context.Context, id uint) (*models.InstallmentPlan, error) {
			return plan, nil
		},
	}
	svc, worker := newTestPlanService(repo)
	defer worker.Shutdown()

	got, err := svc.FindByID(context.Background(), 1)
	assert.NoError(t, err)
	assert.Equal(t, models.PlanStatusOverdue, got.Status)

	receipt, err := svc.RecordPayment(context.Background(), 1, &RecordPaymentRequest{Amount: 165})

	assert.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, receipt.Payment.Status)
	assert.Equal(t, models.PlanStatusActive, receipt.Plan.Status)
}

func TestPlanService_Cancel(t *testing.T) {
	plan := newTestPlan(1, 900, 10, 6, 1)
	var updated *models.InstallmentPlan
	repo := &mockPlanRepository{
		mockFindByID: func(ctx context.Context, id uint) (*models.InstallmentPlan, error) {
			return plan, nil
		},
		mockUpdate: func(ctx context.Context, p *models.InstallmentPlan) error {
			updated = p
			return nil
		},
	}
	svc, worker := newTestPlanService(repo)
	defer worker.Shutdown()

	got, err := svc.Cancel(context.Background(), 1, "ops-1", nil)

	assert.NoError(t, err)
	assert.Equal(t, models.PlanStatusCancelled, got.Status)
	assert.NotNil(t, got.CancelledAt)
	assert.NotNil(t, updated)

	// Cancelled is terminal
	_, err = svc.Cancel(context.Background(), 1, "ops-1", nil)
	assert.ErrorIs(t, err, ErrStateConflict)
}

func TestPlanService_MarkDefaulted_RequiresOpenPlan(t *testing.T) {
	plan := newTestPlan(1, 900, 10, 6, 6)
	repo := &mockPlanRepository{
		mockFindByID: func(ctx context.Context, id uint) (*models.InstallmentPlan, error) {
			return plan, nil
		},
	}
	svc, worker := newTestPlanService(repo)
	defer worker.Shutdown()

	// Fully paid plans refresh to completed and cannot be defaulted
	_, err := svc.MarkDefaulted(context.Background(), 1, "ops-1", nil)
	assert.ErrorIs(t, err, ErrStateConflict)
}

func TestPlanService_FindByID_NotFound(t *testing.T) {
	repo := &mockPlanRepository{}
	svc, worker := newTestPlanService(repo)
	defer worker.Shutdown()

	_, err := svc.FindByID(context.Background(), 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPlanService_FindByID_RefreshesOverdue(t *testing.T) {
	plan := newTestPlan(1, 900, 10, 6, 0)
	// Shift the schedule into the past so the first installments are due
	for i := range plan.Payments {
		plan.Payments[i].DueDate = time.Now().AddDate(0, -(len(plan.Payments) - i), 0)
	}
	repo := &mockPlanRepository{
		mockFindByID: func(ctx context.Context, id uint) (*models.InstallmentPlan, error) {
			return plan, nil
		},
	}
	svc, worker := newTestPlanService(repo)
	defer worker.Shutdown()

	got, err := svc.FindByID(context.Background(), 1)
	assert.NoError(t, err)
	assert.Equal(t, models.PlanStatusOverdue, got.Status)
	assert.Equal(t, models.PaymentStatusOverdue, got.Payments[0].Status)
	assert.Positive(t, got.OverdueInstallments(time.Now()))
}
