package statemachine

import (
	"context"
	"fmt"

	"github.com/looplab/fsm"
	"github.com/retailops/installment-api/internal/models"
)

// PlanFSM wraps an installment plan with its lifecycle state machine
type PlanFSM struct {
	plan *models.InstallmentPlan
	fsm  *fsm.FSM
}

// NewPlanFSM creates a new plan state machine
func NewPlanFSM(plan *models.InstallmentPlan) *PlanFSM {
	pfsm := &PlanFSM{
		plan: plan,
	}

	pfsm.fsm = fsm.NewFSM(
		plan.Status,
		fsm.Events{
			// active ⇄ overdue while the schedule is open
			{Name: "fall_overdue", Src: []string{models.PlanStatusActive}, Dst: models.PlanStatusOverdue},
			{Name: "catch_up", Src: []string{models.PlanStatusOverdue}, Dst: models.PlanStatusActive},

			// active/overdue → completed once every installment settles
			{Name: "complete", Src: []string{models.PlanStatusActive, models.PlanStatusOverdue}, Dst: models.PlanStatusCompleted},

			// active/overdue → cancelled
			{Name: "cancel", Src: []string{models.PlanStatusActive, models.PlanStatusOverdue}, Dst: models.PlanStatusCancelled},

			// active/overdue → defaulted (admin decision)
			{Name: "default", Src: []string{models.PlanStatusActive, models.PlanStatusOverdue}, Dst: models.PlanStatusDefaulted},
		},
		fsm.Callbacks{},
	)

	return pfsm
}

// Cancel transitions the plan to cancelled state
func (p *PlanFSM) Cancel(ctx context.Context) error {
	if !p.plan.MayCancel() {
		return fmt.Errorf("plan cannot be cancelled in current state: %s", p.plan.Status)
	}

	if err := p.fsm.Event(ctx, "cancel"); err != nil {
		return fmt.Errorf("failed to cancel plan: %w", err)
	}

	p.plan.Status = p.fsm.Current()
	return nil
}

// MarkDefaulted transitions the plan to defaulted state
func (p *PlanFSM) MarkDefaulted(ctx context.Context) error {
	if !p.plan.MayDefault() {
		return fmt.Errorf("plan cannot be defaulted in current state: %s", p.plan.Status)
	}

	if err := p.fsm.Event(ctx, "default"); err != nil {
		return fmt.Errorf("failed to default plan: %w", err)
	}

	p.plan.Status = p.fsm.Current()
	return nil
}

// Complete transitions the plan to completed state
func (p *PlanFSM) Complete(ctx context.Context) error {
	if err := p.fsm.Event(ctx, "complete"); err != nil {
		return fmt.Errorf("failed to complete plan: %w", err)
	}

	p.plan.Status = p.fsm.Current()
	return nil
}

// Current returns the current state
func (p *PlanFSM) Current() string {
	return p.fsm.Current()
}

// Can checks if a transition is possible
func (p *PlanFSM) Can(event string) bool {
	return p.fsm.Can(event)
}
