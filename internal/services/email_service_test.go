package services

import (
	"context"
	"testing"

	"github.com/retailops/installment-api/internal/config"
	"github.com/retailops/installment-api/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestEmailService_DisabledNotificationsAreNoOps(t *testing.T) {
	cfg := &config.Config{
		EnableEmailNotifications: false,
	}
	service := NewEmailService(cfg)

	err := service.SendOverdueSummary(context.Background(), []OverduePlanSummary{
		{PlanGUID: "guid-1", CustomerID: "cust-1", OverdueInstallments: 2, RemainingBalance: 330},
	})
	assert.NoError(t, err, "Should silently skip when notifications are disabled")

	mod := &models.InstallmentModification{PlanID: 1, ModificationType: models.ModificationTypeChangeInterestRate}
	err = service.SendModificationDecision(context.Background(), mod, "approved")
	assert.NoError(t, err, "Should silently skip when notifications are disabled")
}

func TestEmailService_NilReceiverIsSafe(t *testing.T) {
	var service *EmailService

	err := service.SendOverdueSummary(context.Background(), nil)
	assert.NoError(t, err)

	err = service.SendModificationDecision(context.Background(), &models.InstallmentModification{}, "rejected")
	assert.NoError(t, err)
}

func TestEmailService_RenderOverdueSummary(t *testing.T) {
	cfg := &config.Config{EnableEmailNotifications: true, ResendAPIKey: "test_key"}
	service := NewEmailService(cfg)

	body, err := service.renderTemplate("overdue_summary.html", struct {
		Date  string
		Plans []OverduePlanSummary
	}{
		Date: "2026-08-01",
		Plans: []OverduePlanSummary{
			{PlanGUID: "guid-1", CustomerID: "cust-1", OverdueInstallments: 2, RemainingBalance: 330.5},
		},
	})

	assert.NoError(t, err)
	assert.Contains(t, body, "2026-08-01")
	assert.Contains(t, body, "guid-1")
	assert.Contains(t, body, "cust-1")
	assert.Contains(t, body, "330.50")
}

func TestEmailService_RenderModificationDecision(t *testing.T) {
	cfg := &config.Config{EnableEmailNotifications: true, ResendAPIKey: "test_key"}
	service := NewEmailService(cfg)

	approver := "supervisor-1"
	mod := &models.InstallmentModification{
		PlanID:           7,
		ModificationType: models.ModificationTypeChangeInstallmentCount,
		RequestedBy:      "agent-7",
		Reason:           "lower monthly payment",
		ApprovedBy:       &approver,
		NewPlan:          models.PlanSnapshot{InstallmentAmount: 64.29},
	}

	body, err := service.renderTemplate("modification_decision.html", struct {
		Decision         string
		ModificationType string
		PlanID           uint
		RequestedBy      string
		Reason           string
		NewEMI           string
		DecidedBy        string
	}{
		Decision:         "approved",
		ModificationType: mod.ModificationType,
		PlanID:           mod.PlanID,
		RequestedBy:      mod.RequestedBy,
		Reason:           mod.Reason,
		NewEMI:           "64.29",
		DecidedBy:        decisionActor(mod, "approved"),
	})

	assert.NoError(t, err)
	assert.Contains(t, body, "approved")
	assert.Contains(t, body, "agent-7")
	assert.Contains(t, body, "64.29")
	assert.Contains(t, body, "supervisor-1")
}
