package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tradejournal/position-engine/internal/models"
)

// ReplacePositionsForGroup atomically replaces all derived positions for
// one (account, instrument) pair with the freshly computed set. The
// delete and inserts run in a single transaction so readers never see a
// half-written position set; on any failure the previous set survives
// untouched.
func (db *DB) ReplacePositionsForGroup(account, instrument string, positions []*models.Position) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return &PersistenceError{Op: "begin transaction", Err: err}
	}
	defer tx.Rollback()

	// position_executions rows cascade with their positions.
	_, err = tx.Exec(`DELETE FROM positions WHERE account = $1 AND instrument = $2`, account, instrument)
	if err != nil {
		return &PersistenceError{Op: "delete existing positions", Err: err}
	}

	now := time.Now()
	for _, p := range positions {
		err := tx.QueryRow(`
			INSERT INTO positions (
				account, instrument, position_type, status, total_quantity,
				average_entry_price, average_exit_price,
				total_points_pnl, total_dollars_pnl, total_commission,
				entry_time, exit_time, created_at, updated_at
			) VALUES (
				$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
			)
			RETURNING id
		`,
			p.Account, p.Instrument, p.PositionType, p.Status, p.TotalQuantity,
			p.AverageEntryPrice, p.AverageExitPrice,
			p.TotalPointsPnl, p.TotalDollarsPnl, p.TotalCommission,
			p.EntryTime, p.ExitTime, now, now,
		).Scan(&p.ID)
		if err != nil {
			return &PersistenceError{Op: "insert position", Err: err}
		}
		p.CreatedAt = now
		p.UpdatedAt = now

		for _, pe := range p.Executions {
			pe.PositionID = p.ID
			err := tx.QueryRow(`
				INSERT INTO position_executions (
					position_id, execution_id, role, quantity, price, commission, sort_order
				) VALUES (
					$1, $2, $3, $4, $5, $6, $7
				)
				RETURNING id
			`,
				pe.PositionID, pe.ExecutionID, pe.Role, pe.Quantity, pe.Price, pe.Commission, pe.SortOrder,
			).Scan(&pe.ID)
			if err != nil {
				return &PersistenceError{Op: "insert position execution", Err: err}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return &PersistenceError{Op: "commit transaction", Err: err}
	}
	return nil
}

// GetPositionsForGroup retrieves all positions for one (account,
// instrument) pair ordered by entry time.
func (db *DB) GetPositionsForGroup(account, instrument string) ([]*models.Position, error) {
	query := `
		SELECT id, account, instrument, position_type, status, total_quantity,
		       average_entry_price, average_exit_price,
		       total_points_pnl, total_dollars_pnl, total_commission,
		       entry_time, exit_time, created_at, updated_at
		FROM positions
		WHERE account = $1 AND instrument = $2
		ORDER BY entry_time ASC, id ASC
	`
	return db.scanPositions(db.conn.Query(query, account, instrument))
}

// GetPositionsForAccount retrieves all positions for one account across
// its instruments, most recent entry first.
func (db *DB) GetPositionsForAccount(account string) ([]*models.Position, error) {
	query := `
		SELECT id, account, instrument, position_type, status, total_quantity,
		       average_entry_price, average_exit_price,
		       total_points_pnl, total_dollars_pnl, total_commission,
		       entry_time, exit_time, created_at, updated_at
		FROM positions
		WHERE account = $1
		ORDER BY entry_time DESC, id DESC
	`
	return db.scanPositions(db.conn.Query(query, account))
}

// GetPositionByID retrieves a position by ID
func (db *DB) GetPositionByID(id int) (*models.Position, error) {
	query := `
		SELECT id, account, instrument, position_type, status, total_quantity,
		       average_entry_price, average_exit_price,
		       total_points_pnl, total_dollars_pnl, total_commission,
		       entry_time, exit_time, created_at, updated_at
		FROM positions
		WHERE id = $1
	`
	p, err := db.scanSinglePosition(db.conn.QueryRow(query, id))
	if err != nil {
		return nil, err
	}
	return p, nil
}

// GetPositionExecutions retrieves the ordered join rows of one position.
func (db *DB) GetPositionExecutions(positionID int) ([]*models.PositionExecution, error) {
	query := `
		SELECT id, position_id, execution_id, role, quantity, price, commission, sort_order
		FROM position_executions
		WHERE position_id = $1
		ORDER BY sort_order ASC
	`
	rows, err := db.conn.Query(query, positionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query position executions: %w", err)
	}
	defer rows.Close()

	var pes []*models.PositionExecution
	for rows.Next() {
		var pe models.PositionExecution
		err := rows.Scan(
			&pe.ID, &pe.PositionID, &pe.ExecutionID, &pe.Role,
			&pe.Quantity, &pe.Price, &pe.Commission, &pe.SortOrder,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position execution: %w", err)
		}
		pes = append(pes, &pe)
	}
	return pes, rows.Err()
}

func (db *DB) scanSinglePosition(row *sql.Row) (*models.Position, error) {
	var p models.Position
	var exitTime sql.NullTime

	err := row.Scan(
		&p.ID, &p.Account, &p.Instrument, &p.PositionType, &p.Status, &p.TotalQuantity,
		&p.AverageEntryPrice, &p.AverageExitPrice,
		&p.TotalPointsPnl, &p.TotalDollarsPnl, &p.TotalCommission,
		&p.EntryTime, &exitTime, &p.CreatedAt, &p.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("position not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get position: %w", err)
	}

	if exitTime.Valid {
		p.ExitTime = &exitTime.Time
	}
	return &p, nil
}

func (db *DB) scanPositions(rows *sql.Rows, err error) ([]*models.Position, error) {
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var positions []*models.Position
	for rows.Next() {
		var p models.Position
		var exitTime sql.NullTime

		err := rows.Scan(
			&p.ID, &p.Account, &p.Instrument, &p.PositionType, &p.Status, &p.TotalQuantity,
			&p.AverageEntryPrice, &p.AverageExitPrice,
			&p.TotalPointsPnl, &p.TotalDollarsPnl, &p.TotalCommission,
			&p.EntryTime, &exitTime, &p.CreatedAt, &p.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}

		if exitTime.Valid {
			p.ExitTime = &exitTime.Time
		}
		positions = append(positions, &p)
	}

	return positions, rows.Err()
}

// PositionStats returns aggregated journal statistics over closed positions
type PositionStats struct {
	TotalPositions   int             `json:"total_positions"`
	WinningPositions int             `json:"winning_positions"`
	LosingPositions  int             `json:"losing_positions"`
	WinRate          decimal.Decimal `json:"win_rate"`
	TotalDollarsPnl  decimal.Decimal `json:"total_dollars_pnl"`
	TotalCommission  decimal.Decimal `json:"total_commission"`
	AvgWin           decimal.Decimal `json:"avg_win"`
	AvgLoss          decimal.Decimal `json:"avg_loss"`
}

// GetPositionStats aggregates closed-position statistics for one account.
func (db *DB) GetPositionStats(account string) (*PositionStats, error) {
	query := `
		SELECT
			COUNT(*) as total_positions,
			COUNT(*) FILTER (WHERE total_dollars_pnl > 0) as winning_positions,
			COUNT(*) FILTER (WHERE total_dollars_pnl < 0) as losing_positions,
			COALESCE(SUM(total_dollars_pnl), 0) as total_dollars_pnl,
			COALESCE(SUM(total_commission), 0) as total_commission,
			COALESCE(AVG(total_dollars_pnl) FILTER (WHERE total_dollars_pnl > 0), 0) as avg_win,
			COALESCE(AVG(total_dollars_pnl) FILTER (WHERE total_dollars_pnl < 0), 0) as avg_loss
		FROM positions
		WHERE account = $1 AND status = 'Closed'
	`
	var stats PositionStats
	err := db.conn.QueryRow(query, account).Scan(
		&stats.TotalPositions, &stats.WinningPositions, &stats.LosingPositions,
		&stats.TotalDollarsPnl, &stats.TotalCommission, &stats.AvgWin, &stats.AvgLoss,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get position stats: %w", err)
	}

	if stats.TotalPositions > 0 {
		stats.WinRate = decimal.NewFromInt(int64(stats.WinningPositions)).
			Div(decimal.NewFromInt(int64(stats.TotalPositions))).
			Mul(decimal.NewFromInt(100))
	}

	return &stats, nil
}
