package crm

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var oppCols = []string{"id", "customer_id", "appointment_id", "title", "stage", "created_at", "updated_at"}

func newMockRepo(t *testing.T) (pgxmock.PgxPoolIface, *PgRepository) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, NewPgRepository(mock)
}

func TestUpsertCustomer(t *testing.T) {
	mock, repo := newMockRepo(t)
	now := time.Now().UTC()

	mock.ExpectQuery("INSERT INTO customers").
		WithArgs("+525512345678", "").
		WillReturnRows(pgxmock.NewRows([]string{"id", "phone_number", "name", "created_at", "updated_at"}).
			AddRow(int64(3), "+525512345678", "Ana", now, now))

	c, err := repo.UpsertCustomer(context.Background(), "+525512345678", "")
	require.NoError(t, err)
	assert.Equal(t, "Ana", c.Name)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOpenOpportunity_RecordsInitialStage(t *testing.T) {
	mock, repo := newMockRepo(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO opportunities").
		WithArgs(int64(3), int64(10), "Facial", "agendada").
		WillReturnRows(pgxmock.NewRows(oppCols).AddRow(int64(1), int64(3), int64(10), "Facial", "agendada", now, now))
	mock.ExpectExec("INSERT INTO opportunity_stage_history").
		WithArgs(int64(1), (*string)(nil), "agendada").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	o, err := repo.OpenOpportunity(context.Background(), 3, 10, "Facial")
	require.NoError(t, err)
	assert.Equal(t, StageScheduled, o.Stage)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOpenOpportunity_ExistingIsReturned(t *testing.T) {
	mock, repo := newMockRepo(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO opportunities").
		WithArgs(int64(3), int64(10), "Facial", "agendada").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("FROM opportunities WHERE appointment_id").
		WithArgs(int64(10)).
		WillReturnRows(pgxmock.NewRows(oppCols).AddRow(int64(1), int64(3), int64(10), "Facial", "confirmada", now, now))
	mock.ExpectCommit()

	o, err := repo.OpenOpportunity(context.Background(), 3, 10, "Facial")
	require.NoError(t, err)
	assert.Equal(t, StageConfirmed, o.Stage)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMoveStage(t *testing.T) {
	mock, repo := newMockRepo(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, stage FROM opportunities").
		WithArgs(int64(10)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "stage"}).AddRow(int64(1), "agendada"))
	mock.ExpectExec("UPDATE opportunities SET stage").
		WithArgs(int64(1), "cancelada").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO opportunity_stage_history").
		WithArgs(int64(1), pgxmock.AnyArg(), "cancelada").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	moved, err := repo.MoveStage(context.Background(), 10, StageCancelled)
	require.NoError(t, err)
	assert.True(t, moved)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMoveStage_SameStageIsNoop(t *testing.T) {
	mock, repo := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, stage FROM opportunities").
		WithArgs(int64(10)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "stage"}).AddRow(int64(1), "cancelada"))
	mock.ExpectCommit()

	moved, err := repo.MoveStage(context.Background(), 10, StageCancelled)
	require.NoError(t, err)
	assert.False(t, moved)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMoveStage_Missing(t *testing.T) {
	mock, repo := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, stage FROM opportunities").
		WithArgs(int64(10)).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err := repo.MoveStage(context.Background(), 10, StageCancelled)
	assert.ErrorIs(t, err, ErrOpportunityNotFound)
}
