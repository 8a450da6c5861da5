package services

import (
	"time"

	"github.com/retailops/installment-api/internal/models"
)

// ScheduleParams are the inputs for generating a flat-interest schedule.
type ScheduleParams struct {
	Principal    float64
	InterestRate float64 // annual flat rate, percent
	Installments int
	StartDate    time.Time
}

// AmortizationService generates flat-interest payment schedules. Interest is
// charged once on the full principal; the final installment absorbs any
// rounding residue so the schedule reconciles to the cent.
type AmortizationService struct{}

func NewAmortizationService() *AmortizationService {
	return &AmortizationService{}
}

// Validate checks schedule parameters without generating anything.
func (s *AmortizationService) Validate(params ScheduleParams) error {
	if params.Principal < 0 {
		return NewParameterError("principal", "must not be negative")
	}
	if params.InterestRate < 0 {
		return NewParameterError("interest_rate", "must not be negative")
	}
	if params.Installments < 1 {
		return NewParameterError("installments", "must be at least 1")
	}
	if params.StartDate.IsZero() {
		return NewParameterError("start_date", "is required")
	}
	return nil
}

// TotalInterest returns the one-time flat interest charge for the parameters.
func (s *AmortizationService) TotalInterest(principal, rate float64) float64 {
	return models.RoundCents(principal * rate / 100)
}

// Generate builds the full payment schedule for the parameters. Every row is
// rounded to cents and the final row absorbs the residue, so the rows sum
// exactly to principal plus interest.
func (s *AmortizationService) Generate(params ScheduleParams) ([]models.Payment, error) {
	if err := s.Validate(params); err != nil {
		return nil, err
	}

	n := params.Installments
	totalInterest := s.TotalInterest(params.Principal, params.InterestRate)
	totalPayable := models.RoundCents(params.Principal + totalInterest)
	emi := models.RoundCents(totalPayable / float64(n))
	interestShare := models.RoundCents(totalInterest / float64(n))

	payments := make([]models.Payment, 0, n)
	remaining := params.Principal

	for i := 1; i <= n; i++ {
		var principal, interest, due float64
		if i < n {
			due = emi
			interest = interestShare
			principal = models.RoundCents(due - interest)
		} else {
			// Final installment reconciles all rounding drift.
			due = models.RoundCents(totalPayable - float64(n-1)*emi)
			principal = models.RoundCents(remaining)
			interest = models.RoundCents(due - principal)
		}

		opening := models.RoundCents(remaining)
		remaining = models.RoundCents(remaining - principal)

		payments = append(payments, models.Payment{
			InstallmentNo:    i,
			InstallDate:      params.StartDate,
			DueDate:          params.StartDate.AddDate(0, i, 0),
			OpeningBalance:   opening,
			PrincipalAmount:  principal,
			InterestAmount:   interest,
			AmountDue:        due,
			RemainingBalance: remaining,
			Status:           models.PaymentStatusPending,
		})
	}

	return payments, nil
}

// InstallmentAmount returns the regular (non-final) installment for the
// parameters, which is the plan's advertised EMI.
func (s *AmortizationService) InstallmentAmount(principal, rate float64, installments int) float64 {
	totalPayable := models.RoundCents(principal + s.TotalInterest(principal, rate))
	return models.RoundCents(totalPayable / float64(installments))
}
