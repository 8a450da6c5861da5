package services

import (
	"github.com/retailops/installment-api/internal/config"
	"github.com/retailops/installment-api/internal/jobs"
	"github.com/retailops/installment-api/internal/repository"
	"gorm.io/gorm"
)

// Services holds all service instances
type Services struct {
	Plan         *PlanService
	Modification *ModificationService
	Amortization *AmortizationService
	Notification *NotificationService
	Email        *EmailService
	Audit        *AuditService
}

// NewServices creates all service instances. Plan and modification services
// share one lock registry so writes to the same plan are serialized across
// both.
func NewServices(repos *repository.Repositories, worker *jobs.Worker, cfg *config.Config, db *gorm.DB) *Services {
	amortizationSvc := NewAmortizationService()
	notificationSvc := NewNotificationService(repos.Notification)
	emailSvc := NewEmailService(cfg)
	auditSvc := NewAuditService(db)
	locks := newPlanLocker()

	planSvc := NewPlanService(repos.Plan, amortizationSvc, notificationSvc, emailSvc, auditSvc, locks, worker)
	modificationSvc := NewModificationService(repos.Modification, repos.Plan, amortizationSvc, notificationSvc, emailSvc, auditSvc, locks, worker, cfg.RequireModificationApproval)

	return &Services{
		Plan:         planSvc,
		Modification: modificationSvc,
		Amortization: amortizationSvc,
		Notification: notificationSvc,
		Email:        emailSvc,
		Audit:        auditSvc,
	}
}
