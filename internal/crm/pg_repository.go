package crm

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/hackgods/clinic-assistant/internal/db"
)

const opportunityColumns = `id, customer_id, appointment_id, title, stage, created_at, updated_at`

type PgRepository struct {
	db db.Querier
}

var _ Repository = (*PgRepository)(nil)

func NewPgRepository(q db.Querier) *PgRepository {
	return &PgRepository{db: q}
}

func scanOpportunity(row pgx.Row) (*Opportunity, error) {
	var o Opportunity
	var stage string
	if err := row.Scan(&o.ID, &o.CustomerID, &o.AppointmentID, &o.Title, &stage, &o.CreatedAt, &o.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOpportunityNotFound
		}
		return nil, err
	}
	o.Stage = Stage(stage)
	return &o, nil
}

func (r *PgRepository) UpsertCustomer(ctx context.Context, phone, name string) (*Customer, error) {
	var c Customer
	err := r.db.QueryRow(ctx, `
		INSERT INTO customers (phone_number, name)
		VALUES ($1, $2)
		ON CONFLICT (phone_number) DO UPDATE SET
			name = CASE WHEN EXCLUDED.name <> '' THEN EXCLUDED.name ELSE customers.name END,
			updated_at = now()
		RETURNING id, phone_number, name, created_at, updated_at`,
		phone, name,
	).Scan(&c.ID, &c.PhoneNumber, &c.Name, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert customer: %w", err)
	}
	return &c, nil
}

func (r *PgRepository) OpenOpportunity(ctx context.Context, customerID, appointmentID int64, title string) (*Opportunity, error) {
	var opened *Opportunity
	err := db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		o, err := scanOpportunity(tx.QueryRow(ctx, `
			INSERT INTO opportunities (customer_id, appointment_id, title, stage)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (appointment_id) DO NOTHING
			RETURNING `+opportunityColumns,
			customerID, appointmentID, title, string(StageScheduled),
		))
		if errors.Is(err, ErrOpportunityNotFound) {
			// already opened by an earlier delivery
			o, err = scanOpportunity(tx.QueryRow(ctx, `SELECT `+opportunityColumns+` FROM opportunities WHERE appointment_id = $1`, appointmentID))
			if err != nil {
				return err
			}
			opened = o
			return nil
		}
		if err != nil {
			return err
		}
		if err := insertHistory(ctx, tx, o.ID, "", StageScheduled); err != nil {
			return err
		}
		opened = o
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("open opportunity: %w", err)
	}
	return opened, nil
}

func (r *PgRepository) MoveStage(ctx context.Context, appointmentID int64, stage Stage) (bool, error) {
	moved := false
	err := db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		var id int64
		var current string
		err := tx.QueryRow(ctx, `
			SELECT id, stage FROM opportunities
			WHERE appointment_id = $1
			FOR UPDATE`, appointmentID,
		).Scan(&id, &current)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrOpportunityNotFound
		}
		if err != nil {
			return err
		}
		if Stage(current) == stage {
			return nil
		}

		if _, err := tx.Exec(ctx, `UPDATE opportunities SET stage = $2, updated_at = now() WHERE id = $1`, id, string(stage)); err != nil {
			return err
		}
		if err := insertHistory(ctx, tx, id, Stage(current), stage); err != nil {
			return err
		}
		moved = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("move opportunity stage: %w", err)
	}
	return moved, nil
}

func insertHistory(ctx context.Context, tx pgx.Tx, opportunityID int64, from, to Stage) error {
	var fromArg *string
	if from != "" {
		s := string(from)
		fromArg = &s
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO opportunity_stage_history (opportunity_id, from_stage, to_stage)
		VALUES ($1, $2, $3)`,
		opportunityID, fromArg, string(to),
	)
	return err
}
