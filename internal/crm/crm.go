// Package crm keeps the sales pipeline the dashboard reports on. It is fed
// from booking events and never participates in booking consistency.
package crm

import (
	"context"
	"errors"
	"time"
)

type Stage string

const (
	StageScheduled Stage = "agendada"
	StageConfirmed Stage = "confirmada"
	StageCancelled Stage = "cancelada"
)

var ErrOpportunityNotFound = errors.New("opportunity not found")

type Customer struct {
	ID          int64
	PhoneNumber string
	Name        string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Opportunity tracks one appointment through the pipeline.
type Opportunity struct {
	ID            int64
	CustomerID    int64
	AppointmentID int64
	Title         string
	Stage         Stage
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Repository interface {
	// UpsertCustomer keeps the stored name when name is empty.
	UpsertCustomer(ctx context.Context, phone, name string) (*Customer, error)
	// OpenOpportunity is idempotent per appointment.
	OpenOpportunity(ctx context.Context, customerID, appointmentID int64, title string) (*Opportunity, error)
	// MoveStage reports false when the opportunity was already in stage.
	MoveStage(ctx context.Context, appointmentID int64, stage Stage) (bool, error)
}
