// Package ingest imports NinjaTrader execution exports. The importer is
// invoked with a reader; watching files and deciding when to re-read a
// growing export belongs to the caller. Re-reading the same file is safe:
// rows already in the dedup ledger or the execution store are skipped.
package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tradejournal/position-engine/internal/kafka"
	"github.com/tradejournal/position-engine/internal/models"
)

// Expected header of a NinjaTrader "Executions" grid export.
var csvColumns = []string{
	"ExecutionId", "Account", "Instrument", "Action", "Quantity", "Price", "Time", "Commission",
}

// Result summarizes one import run.
type Result struct {
	Inserted   int                       `json:"inserted"`
	Duplicates int                       `json:"duplicates"`
	Skipped    int                       `json:"skipped"`
	Rebuilt    map[models.GroupKey][]int `json:"rebuilt"`
}

// Importer reads execution CSV rows into the store and triggers rebuilds
// for the touched pairs.
type Importer struct {
	repo      kafka.ExecutionRepository
	ledger    kafka.DedupLedger
	rebuilder kafka.Rebuilder
}

// NewImporter creates an Importer.
func NewImporter(repo kafka.ExecutionRepository, ledger kafka.DedupLedger, rebuilder kafka.Rebuilder) *Importer {
	return &Importer{repo: repo, ledger: ledger, rebuilder: rebuilder}
}

// Import reads the whole CSV stream, commits new executions, and then
// rebuilds each touched (account, instrument) pair once. Malformed rows
// are logged and skipped; they never abort the rest of the file.
func (im *Importer) Import(ctx context.Context, r io.Reader) (*Result, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	cols, err := mapColumns(header)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	var committed []*models.Execution

	// A store or ledger failure aborts the read loop but not the run:
	// rows committed before the failure still get their pairs rebuilt.
	var abortErr error

	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Printf("Skipping unreadable CSV line %d: %v", line, err)
			result.Skipped++
			continue
		}

		exec, err := parseRow(record, cols)
		if err != nil {
			log.Printf("Skipping CSV line %d: %v", line, err)
			result.Skipped++
			continue
		}

		processed, err := im.ledger.IsProcessed(ctx, exec.ExecutionID, exec.ExecutedAt)
		if err != nil {
			abortErr = fmt.Errorf("failed to check dedup ledger at line %d: %w", line, err)
			break
		}
		if processed {
			result.Duplicates++
			continue
		}
		exists, err := im.repo.ExecutionExists(exec.ExecutionID, exec.Account)
		if err != nil {
			abortErr = fmt.Errorf("failed to check for duplicate execution at line %d: %w", line, err)
			break
		}
		if exists {
			result.Duplicates++
			continue
		}

		if err := im.repo.CreateExecution(exec); err != nil {
			abortErr = fmt.Errorf("failed to save execution from line %d: %w", line, err)
			break
		}
		if err := im.ledger.MarkProcessed(ctx, exec.ExecutionID, exec.ExecutedAt); err != nil {
			log.Printf("Failed to mark execution %s in dedup ledger: %v", exec.ExecutionID, err)
		}
		committed = append(committed, exec)
		result.Inserted++
	}

	result.Rebuilt = make(map[models.GroupKey][]int)
	var rebuildErr error
	if len(committed) > 0 {
		rebuilt, err := im.rebuilder.RebuildForNewExecutions(ctx, committed)
		if rebuilt != nil {
			result.Rebuilt = rebuilt
		}
		if err != nil {
			// Committed executions stay committed; report which pairs
			// failed alongside the partial result.
			rebuildErr = fmt.Errorf("import committed %d executions but rebuild reported: %w", result.Inserted, err)
		}
	}

	if err := errors.Join(abortErr, rebuildErr); err != nil {
		return result, err
	}
	return result, nil
}

func mapColumns(header []string) (map[string]int, error) {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(name)] = i
	}
	for _, required := range csvColumns {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("CSV header missing column %q", required)
		}
	}
	return cols, nil
}

func parseRow(record []string, cols map[string]int) (*models.Execution, error) {
	field := func(name string) string {
		i := cols[name]
		if i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	account := field("Account")
	if account == "" {
		return nil, fmt.Errorf("row missing Account")
	}
	instrument := field("Instrument")
	if instrument == "" {
		return nil, fmt.Errorf("row missing Instrument")
	}
	side := field("Action")
	if !models.ValidSide(side) {
		return nil, fmt.Errorf("invalid Action %q", side)
	}

	quantity, err := strconv.Atoi(field("Quantity"))
	if err != nil || quantity <= 0 {
		return nil, fmt.Errorf("invalid Quantity %q", field("Quantity"))
	}

	price, err := decimal.NewFromString(field("Price"))
	if err != nil {
		return nil, fmt.Errorf("invalid Price %q", field("Price"))
	}

	commission := decimal.Zero
	if raw := field("Commission"); raw != "" {
		commission, err = decimal.NewFromString(strings.TrimPrefix(raw, "$"))
		if err != nil {
			return nil, fmt.Errorf("invalid Commission %q", raw)
		}
	}
	if commission.Sign() < 0 {
		return nil, fmt.Errorf("negative Commission %q", field("Commission"))
	}

	executedAt, err := parseTime(field("Time"))
	if err != nil {
		return nil, err
	}

	exec := &models.Execution{
		ExecutionID: field("ExecutionId"),
		Account:     account,
		Instrument:  instrument,
		Side:        side,
		Quantity:    quantity,
		Price:       price,
		Commission:  commission,
		ExecutedAt:  executedAt,
	}
	if exec.ExecutionID == "" {
		exec.ExecutionID = exec.FallbackExecutionID()
	}
	return exec, nil
}

// parseTime accepts the formats NinjaTrader emits depending on locale
// settings. All are platform-local time, used for ordering only.
func parseTime(raw string) (time.Time, error) {
	formats := []string{
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"1/2/2006 3:04:05 PM",
	}
	for _, f := range formats {
		if t, err := time.Parse(f, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid Time %q", raw)
}
