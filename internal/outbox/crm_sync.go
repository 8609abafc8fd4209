package outbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/hackgods/clinic-assistant/internal/appointment"
	"github.com/hackgods/clinic-assistant/internal/crm"
)

// CRMSync keeps one opportunity per appointment in step with its status.
type CRMSync struct {
	repo crm.Repository
}

func NewCRMSync(repo crm.Repository) *CRMSync {
	return &CRMSync{repo: repo}
}

func (c *CRMSync) Name() string { return "crm" }

func (c *CRMSync) Handle(ctx context.Context, evt appointment.Event, p appointment.EventPayload) error {
	a := p.Appointment
	switch evt.Type {
	case appointment.EventCreated:
		customer, err := c.repo.UpsertCustomer(ctx, a.PhoneNumber, a.PatientName)
		if err != nil {
			return err
		}
		if _, err := c.repo.OpenOpportunity(ctx, customer.ID, a.ID, a.AppointmentType); err != nil {
			return err
		}
		if a.Status == appointment.StatusConfirmed {
			return c.move(ctx, a, crm.StageConfirmed)
		}
		return nil
	case appointment.EventRescheduled, appointment.EventConfirmed:
		return c.move(ctx, a, crm.StageConfirmed)
	case appointment.EventCancelled:
		return c.move(ctx, a, crm.StageCancelled)
	}
	return nil
}

// move opens the opportunity first when the appointment predates the CRM.
func (c *CRMSync) move(ctx context.Context, a appointment.Appointment, stage crm.Stage) error {
	_, err := c.repo.MoveStage(ctx, a.ID, stage)
	if !errors.Is(err, crm.ErrOpportunityNotFound) {
		return err
	}
	customer, err := c.repo.UpsertCustomer(ctx, a.PhoneNumber, a.PatientName)
	if err != nil {
		return err
	}
	if _, err := c.repo.OpenOpportunity(ctx, customer.ID, a.ID, a.AppointmentType); err != nil {
		return err
	}
	if _, err := c.repo.MoveStage(ctx, a.ID, stage); err != nil {
		return fmt.Errorf("move new opportunity: %w", err)
	}
	return nil
}
