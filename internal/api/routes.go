package api

import (
	"github.com/gorilla/mux"
)

// SetupRoutes configures all API routes
func SetupRoutes(handler *Handler) *mux.Router {
	r := mux.NewRouter()

	// Health check
	r.HandleFunc("/health", handler.HealthCheck).Methods("GET")

	// Position and admin routes
	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/positions", handler.GetPositions).Methods("GET")
	api.HandleFunc("/positions/{id}", handler.GetPosition).Methods("GET")
	api.HandleFunc("/stats", handler.GetStats).Methods("GET")
	api.HandleFunc("/rebuild", handler.TriggerRebuild).Methods("POST")
	api.HandleFunc("/reimport", handler.TriggerReimport).Methods("POST")
	api.HandleFunc("/import", handler.ImportCSV).Methods("POST")

	return r
}
