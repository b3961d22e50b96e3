package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/tradejournal/position-engine/internal/models"
)

// CreateExecution inserts a new execution record. Executions are
// immutable once committed; there is no update path.
func (db *DB) CreateExecution(e *models.Execution) error {
	query := `
		INSERT INTO executions (
			execution_id, account, instrument, side, quantity, price,
			commission, executed_at, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
		RETURNING id
	`
	now := time.Now()

	err := db.conn.QueryRow(query,
		e.ExecutionID, e.Account, e.Instrument, e.Side, e.Quantity, e.Price,
		e.Commission, e.ExecutedAt, now,
	).Scan(&e.ID)

	if err != nil {
		return fmt.Errorf("failed to create execution: %w", err)
	}
	e.CreatedAt = now
	return nil
}

// ExecutionExists checks if an execution with the given execution_id and
// account already exists. Backstop behind the dedup ledger: the ledger's
// entries expire, the unique index here does not.
func (db *DB) ExecutionExists(executionID, account string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM executions WHERE execution_id = $1 AND account = $2)`
	var exists bool
	err := db.conn.QueryRow(query, executionID, account).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check execution existence: %w", err)
	}
	return exists, nil
}

// GetExecutionsForGroup retrieves all executions for one (account,
// instrument) pair in deterministic order: executed_at ascending, serial
// id as the tie-break. Filtering by instrument alone is deliberately not
// offered; every read path must carry the account.
func (db *DB) GetExecutionsForGroup(account, instrument string) ([]*models.Execution, error) {
	query := `
		SELECT id, execution_id, account, instrument, side, quantity, price,
		       commission, executed_at, created_at
		FROM executions
		WHERE account = $1 AND instrument = $2
		ORDER BY executed_at ASC, id ASC
	`
	return db.scanExecutions(db.conn.Query(query, account, instrument))
}

// GetExecutionByID retrieves a single execution by its serial id.
func (db *DB) GetExecutionByID(id int) (*models.Execution, error) {
	query := `
		SELECT id, execution_id, account, instrument, side, quantity, price,
		       commission, executed_at, created_at
		FROM executions
		WHERE id = $1
	`
	var e models.Execution
	err := db.conn.QueryRow(query, id).Scan(
		&e.ID, &e.ExecutionID, &e.Account, &e.Instrument, &e.Side, &e.Quantity,
		&e.Price, &e.Commission, &e.ExecutedAt, &e.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("execution not found: %d", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}
	return &e, nil
}

// GetDistinctGroups returns every (account, instrument) pair present in
// the execution store, ordered by the time of each pair's first
// execution. This is the iteration order of the historical reimport.
func (db *DB) GetDistinctGroups() ([]models.GroupKey, error) {
	query := `
		SELECT account, instrument
		FROM executions
		GROUP BY account, instrument
		ORDER BY MIN(executed_at) ASC, account ASC, instrument ASC
	`
	rows, err := db.conn.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query execution groups: %w", err)
	}
	defer rows.Close()

	var groups []models.GroupKey
	for rows.Next() {
		var k models.GroupKey
		if err := rows.Scan(&k.Account, &k.Instrument); err != nil {
			return nil, fmt.Errorf("failed to scan execution group: %w", err)
		}
		groups = append(groups, k)
	}
	return groups, rows.Err()
}

func (db *DB) scanExecutions(rows *sql.Rows, err error) ([]*models.Execution, error) {
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer rows.Close()

	var execs []*models.Execution
	for rows.Next() {
		var e models.Execution
		err := rows.Scan(
			&e.ID, &e.ExecutionID, &e.Account, &e.Instrument, &e.Side, &e.Quantity,
			&e.Price, &e.Commission, &e.ExecutedAt, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		execs = append(execs, &e)
	}

	return execs, rows.Err()
}
