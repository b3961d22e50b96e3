package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/tradejournal/position-engine/internal/builder"
	"github.com/tradejournal/position-engine/internal/database"
	"github.com/tradejournal/position-engine/internal/dedup"
	"github.com/tradejournal/position-engine/internal/ingest"
	"github.com/tradejournal/position-engine/internal/rebuild"
)

// Handler holds dependencies for HTTP handlers
type Handler struct {
	db           *database.DB
	orchestrator *rebuild.Orchestrator
	importer     *ingest.Importer
	ledger       *dedup.Ledger
}

// NewHandler creates a new Handler
func NewHandler(db *database.DB, orchestrator *rebuild.Orchestrator, importer *ingest.Importer, ledger *dedup.Ledger) *Handler {
	return &Handler{
		db:           db,
		orchestrator: orchestrator,
		importer:     importer,
		ledger:       ledger,
	}
}

// GetPositions handles GET /positions?account=X&instrument=Y
func (h *Handler) GetPositions(w http.ResponseWriter, r *http.Request) {
	account := r.URL.Query().Get("account")
	instrument := r.URL.Query().Get("instrument")

	if account == "" {
		http.Error(w, "account is required", http.StatusBadRequest)
		return
	}

	if instrument != "" {
		positions, err := h.db.GetPositionsForGroup(account, instrument)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		respondJSON(w, http.StatusOK, positions)
		return
	}

	positions, err := h.db.GetPositionsForAccount(account)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, positions)
}

// GetPosition handles GET /positions/{id}, returning the position with
// its contributing executions
func (h *Handler) GetPosition(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := strconv.Atoi(vars["id"])
	if err != nil {
		http.Error(w, "invalid position id", http.StatusBadRequest)
		return
	}

	position, err := h.db.GetPositionByID(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	executions, err := h.db.GetPositionExecutions(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	position.Executions = executions

	respondJSON(w, http.StatusOK, position)
}

// GetStats handles GET /stats?account=X
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	account := r.URL.Query().Get("account")
	if account == "" {
		http.Error(w, "account is required", http.StatusBadRequest)
		return
	}

	stats, err := h.db.GetPositionStats(account)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, stats)
}

// TriggerRebuild handles POST /rebuild for one (account, instrument) pair
func (h *Handler) TriggerRebuild(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Account    string `json:"account"`
		Instrument string `json:"instrument"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Account == "" || req.Instrument == "" {
		http.Error(w, "account and instrument are required", http.StatusBadRequest)
		return
	}

	ids, err := h.orchestrator.Rebuild(r.Context(), req.Account, req.Instrument)
	if err != nil {
		http.Error(w, err.Error(), rebuildErrorStatus(err))
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"account":      req.Account,
		"instrument":   req.Instrument,
		"position_ids": ids,
	})
}

// TriggerReimport handles POST /reimport: rebuild every pair in the
// execution store, for historical data migration
func (h *Handler) TriggerReimport(w http.ResponseWriter, r *http.Request) {
	results, err := h.orchestrator.RebuildAll(r.Context())
	if err != nil && len(results) == 0 {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	pairs := make([]map[string]interface{}, 0, len(results))
	for key, ids := range results {
		pairs = append(pairs, map[string]interface{}{
			"account":      key.Account,
			"instrument":   key.Instrument,
			"position_ids": ids,
		})
	}

	status := http.StatusOK
	resp := map[string]interface{}{"rebuilt": pairs}
	if err != nil {
		// Partial success: some pairs rebuilt, some failed.
		status = http.StatusMultiStatus
		resp["errors"] = err.Error()
	}
	respondJSON(w, status, resp)
}

// ImportCSV handles POST /import with a NinjaTrader execution export as
// the request body
func (h *Handler) ImportCSV(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	result, err := h.importer.Import(r.Context(), r.Body)
	if err != nil {
		if result == nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		// Rows were committed but some rebuilds failed.
		respondJSON(w, http.StatusMultiStatus, map[string]interface{}{
			"result": result,
			"errors": err.Error(),
		})
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "healthy", "database": "ok", "redis": "ok"}
	code := http.StatusOK

	if err := h.db.Ping(); err != nil {
		status["status"] = "degraded"
		status["database"] = err.Error()
		code = http.StatusServiceUnavailable
	}
	if h.ledger != nil {
		if err := h.ledger.Ping(r.Context()); err != nil {
			status["status"] = "degraded"
			status["redis"] = err.Error()
			code = http.StatusServiceUnavailable
		}
	}

	respondJSON(w, code, status)
}

// rebuildErrorStatus maps engine errors onto HTTP statuses for the
// manual/administrative endpoints.
func rebuildErrorStatus(err error) int {
	var invalidGroup *builder.InvalidGroupError
	var missingMult *builder.MissingMultiplierError
	var ordering *builder.OrderingAmbiguityError
	var timeout *rebuild.RebuildTimeoutError

	switch {
	case errors.As(err, &invalidGroup):
		return http.StatusBadRequest
	case errors.As(err, &missingMult):
		return http.StatusUnprocessableEntity
	case errors.As(err, &ordering):
		return http.StatusConflict
	case errors.As(err, &timeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
