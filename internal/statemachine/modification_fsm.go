package statemachine

import (
	"context"
	"fmt"

	"github.com/looplab/fsm"
	"github.com/retailops/installment-api/internal/models"
)

// ModificationFSM wraps a modification request with its approval workflow
type ModificationFSM struct {
	modification *models.InstallmentModification
	fsm          *fsm.FSM
}

// NewModificationFSM creates a new modification state machine
func NewModificationFSM(mod *models.InstallmentModification) *ModificationFSM {
	mfsm := &ModificationFSM{
		modification: mod,
	}

	mfsm.fsm = fsm.NewFSM(
		mod.Status,
		fsm.Events{
			// pending → approved
			{Name: "approve", Src: []string{models.ModificationStatusPending}, Dst: models.ModificationStatusApproved},

			// pending → rejected (terminal)
			{Name: "reject", Src: []string{models.ModificationStatusPending}, Dst: models.ModificationStatusRejected},

			// approved → applied (terminal)
			{Name: "apply", Src: []string{models.ModificationStatusApproved}, Dst: models.ModificationStatusApplied},
		},
		fsm.Callbacks{},
	)

	return mfsm
}

// Approve transitions the modification to approved state
func (m *ModificationFSM) Approve(ctx context.Context) error {
	if !m.modification.MayApprove() {
		return fmt.Errorf("modification cannot be approved in current state: %s", m.modification.Status)
	}

	if err := m.fsm.Event(ctx, "approve"); err != nil {
		return fmt.Errorf("failed to approve modification: %w", err)
	}

	m.modification.Status = m.fsm.Current()
	return nil
}

// Reject transitions the modification to rejected state
func (m *ModificationFSM) Reject(ctx context.Context) error {
	if !m.modification.MayReject() {
		return fmt.Errorf("modification cannot be rejected in current state: %s", m.modification.Status)
	}

	if err := m.fsm.Event(ctx, "reject"); err != nil {
		return fmt.Errorf("failed to reject modification: %w", err)
	}

	m.modification.Status = m.fsm.Current()
	return nil
}

// Apply transitions the modification to applied state
func (m *ModificationFSM) Apply(ctx context.Context) error {
	if !m.modification.MayApply() {
		return fmt.Errorf("modification cannot be applied in current state: %s", m.modification.Status)
	}

	if err := m.fsm.Event(ctx, "apply"); err != nil {
		return fmt.Errorf("failed to apply modification: %w", err)
	}

	m.modification.Status = m.fsm.Current()
	return nil
}

// Current returns the current state
func (m *ModificationFSM) Current() string {
	return m.fsm.Current()
}

// Can checks if a transition is possible
func (m *ModificationFSM) Can(event string) bool {
	return m.fsm.Can(event)
}
