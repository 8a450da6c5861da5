package services

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"time"

	"github.com/resend/resend-go/v2"
	"github.com/retailops/installment-api/internal/config"
	"github.com/retailops/installment-api/internal/models"
	"github.com/retailops/installment-api/pkg/logger"
)

//go:embed templates/email/*.html
var emailTemplates embed.FS

type EmailService struct {
	config       *config.Config
	resendClient *resend.Client
}

func NewEmailService(cfg *config.Config) *EmailService {
	client := resend.NewClient(cfg.ResendAPIKey)
	return &EmailService{
		config:       cfg,
		resendClient: client,
	}
}

// OverduePlanSummary is one row of the daily overdue digest sent to the
// operations inbox.
type OverduePlanSummary struct {
	PlanGUID            string
	CustomerID          string
	OverdueInstallments int
	RemainingBalance    float64
}

// SendOverdueSummary mails the operations inbox a digest of every plan that
// is currently overdue.
func (s *EmailService) SendOverdueSummary(ctx context.Context, summaries []OverduePlanSummary) error {
	if s == nil || !s.config.EnableEmailNotifications {
		logger.Info("email notifications disabled, skipping overdue summary")
		return nil
	}
	if len(summaries) == 0 {
		return nil
	}

	data := struct {
		Date  string
		Plans []OverduePlanSummary
	}{
		Date:  time.Now().Format("2006-01-02"),
		Plans: summaries,
	}

	body, err := s.renderTemplate("overdue_summary.html", data)
	if err != nil {
		return err
	}

	params := &resend.SendEmailRequest{
		From:    s.config.FromEmail,
		To:      []string{s.config.OpsEmail},
		Subject: fmt.Sprintf("Overdue plans digest (%d plans)", len(summaries)),
		Html:    body,
	}
	_, err = s.resendClient.Emails.Send(params)
	if err != nil {
		logger.Error(fmt.Sprintf("Failed to send overdue summary to %s: %v", s.config.OpsEmail, err))
		return err
	}

	logger.Info(fmt.Sprintf("📧 [Email Sent] To: %s | Subject: Overdue plans digest (%d plans)", s.config.OpsEmail, len(summaries)))
	return nil
}

// SendModificationDecision notifies the operations inbox that a modification
// request was approved or rejected.
func (s *EmailService) SendModificationDecision(ctx context.Context, mod *models.InstallmentModification, decision string) error {
	if s == nil || !s.config.EnableEmailNotifications {
		logger.Info("email notifications disabled, skipping modification decision email")
		return nil
	}

	data := struct {
		Decision         string
		ModificationType string
		PlanID           uint
		RequestedBy      string
		Reason           string
		NewEMI           string
		DecidedBy        string
	}{
		Decision:         decision,
		ModificationType: mod.ModificationType,
		PlanID:           mod.PlanID,
		RequestedBy:      mod.RequestedBy,
		Reason:           mod.Reason,
		NewEMI:           fmt.Sprintf("%.2f", mod.NewPlan.InstallmentAmount),
		DecidedBy:        decisionActor(mod, decision),
	}

	body, err := s.renderTemplate("modification_decision.html", data)
	if err != nil {
		return err
	}

	params := &resend.SendEmailRequest{
		From:    s.config.FromEmail,
		To:      []string{s.config.OpsEmail},
		Subject: fmt.Sprintf("Modification %s: plan %d", decision, mod.PlanID),
		Html:    body,
	}
	_, err = s.resendClient.Emails.Send(params)
	if err != nil {
		logger.Error(fmt.Sprintf("Failed to send modification decision to %s: %v", s.config.OpsEmail, err))
		return err
	}

	logger.Info(fmt.Sprintf("📧 [Email Sent] To: %s | Subject: Modification %s: plan %d", s.config.OpsEmail, decision, mod.PlanID))
	return nil
}

func decisionActor(mod *models.InstallmentModification, decision string) string {
	if decision == "rejected" && mod.RejectedBy != nil {
		return *mod.RejectedBy
	}
	if mod.ApprovedBy != nil {
		return *mod.ApprovedBy
	}
	return ""
}

func (s *EmailService) renderTemplate(name string, data interface{}) (string, error) {
	tmpl, err := template.ParseFS(emailTemplates, "templates/email/"+name)
	if err != nil {
		return "", fmt.Errorf("failed to parse template %s: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template %s: %w", name, err)
	}

	return buf.String(), nil
}
