package database

import (
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tradejournal/position-engine/internal/models"
)

func TestReplacePositionsForGroup_Success(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	db := &DB{conn: sqlDB}

	entryTime := time.Date(2026, 8, 14, 9, 30, 0, 0, time.UTC)
	exitTime := entryTime.Add(5 * time.Minute)
	positions := []*models.Position{
		{
			Account:           "ACC1",
			Instrument:        "MNQ 12-25",
			PositionType:      models.PositionLong,
			Status:            models.StatusClosed,
			TotalQuantity:     2,
			AverageEntryPrice: decimal.NewFromInt(21000),
			AverageExitPrice:  decimal.NewFromInt(21010),
			TotalPointsPnl:    decimal.NewFromInt(20),
			TotalDollarsPnl:   decimal.NewFromInt(40),
			TotalCommission:   decimal.NewFromFloat(1.04),
			EntryTime:         entryTime,
			ExitTime:          &exitTime,
			Executions: []*models.PositionExecution{
				{ExecutionID: 11, Role: models.RoleEntry, Quantity: 2, Price: decimal.NewFromInt(21000), SortOrder: 0},
				{ExecutionID: 12, Role: models.RoleExit, Quantity: 2, Price: decimal.NewFromInt(21010), SortOrder: 1},
			},
		},
		{
			Account:           "ACC1",
			Instrument:        "MNQ 12-25",
			PositionType:      models.PositionShort,
			Status:            models.StatusOpen,
			TotalQuantity:     1,
			AverageEntryPrice: decimal.NewFromInt(21015),
			EntryTime:         exitTime,
			Executions: []*models.PositionExecution{
				{ExecutionID: 13, Role: models.RoleEntry, Quantity: 1, Price: decimal.NewFromInt(21015), SortOrder: 0},
			},
		},
	}

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM positions").
		WithArgs("ACC1", "MNQ 12-25").
		WillReturnResult(sqlmock.NewResult(0, 2))

	// One insert per position, each followed by its join rows.
	mock.ExpectQuery("INSERT INTO positions").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(101))
	mock.ExpectQuery("INSERT INTO position_executions").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(201))
	mock.ExpectQuery("INSERT INTO position_executions").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(202))
	mock.ExpectQuery("INSERT INTO positions").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(102))
	mock.ExpectQuery("INSERT INTO position_executions").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(203))

	mock.ExpectCommit()
	// ReplacePositionsForGroup defers tx.Rollback(), but database/sql short-circuits
	// Rollback after Commit, so sqlmock won't observe it.

	err = db.ReplacePositionsForGroup("ACC1", "MNQ 12-25", positions)
	require.NoError(t, err)

	assert.Equal(t, 101, positions[0].ID)
	assert.Equal(t, 102, positions[1].ID)
	assert.Equal(t, 101, positions[0].Executions[0].PositionID)
	assert.Equal(t, 101, positions[0].Executions[1].PositionID)
	assert.Equal(t, 102, positions[1].Executions[0].PositionID)
	assert.False(t, positions[0].CreatedAt.IsZero())
	assert.False(t, positions[0].UpdatedAt.IsZero())

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplacePositionsForGroup_EmptySetClearsGroup(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	db := &DB{conn: sqlDB}

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM positions").
		WithArgs("ACC1", "MNQ 12-25").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	err = db.ReplacePositionsForGroup("ACC1", "MNQ 12-25", nil)
	require.NoError(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplacePositionsForGroup_ReturnsErrorIfBeginFails(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	db := &DB{conn: sqlDB}

	beginErr := errors.New("begin failed")
	mock.ExpectBegin().WillReturnError(beginErr)

	err = db.ReplacePositionsForGroup("ACC1", "MNQ 12-25", nil)
	require.Error(t, err)

	var perr *PersistenceError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "begin transaction", perr.Op)
	assert.ErrorIs(t, err, beginErr)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplacePositionsForGroup_RollsBackIfDeleteFails(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	db := &DB{conn: sqlDB}

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM positions").WillReturnError(errors.New("delete failed"))
	mock.ExpectRollback()

	err = db.ReplacePositionsForGroup("ACC1", "MNQ 12-25", nil)
	require.Error(t, err)

	var perr *PersistenceError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "delete existing positions", perr.Op)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplacePositionsForGroup_RollsBackIfInsertFails(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	db := &DB{conn: sqlDB}

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM positions").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("INSERT INTO positions").WillReturnError(errors.New("insert failed"))
	mock.ExpectRollback()

	positions := []*models.Position{
		{
			Account:           "ACC1",
			Instrument:        "MNQ 12-25",
			PositionType:      models.PositionLong,
			Status:            models.StatusOpen,
			TotalQuantity:     1,
			AverageEntryPrice: decimal.NewFromInt(21000),
			EntryTime:         time.Now(),
		},
	}

	err = db.ReplacePositionsForGroup("ACC1", "MNQ 12-25", positions)
	require.Error(t, err)

	var perr *PersistenceError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "insert position", perr.Op)

	require.NoError(t, mock.ExpectationsWereMet())
}
