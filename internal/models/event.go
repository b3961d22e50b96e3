package models

import "time"

// ExecutionEvent represents a Kafka message carrying one fill from the
// trading platform bridge.
type ExecutionEvent struct {
	EventType string             `json:"event_type"`
	Source    string             `json:"source"`
	Timestamp string             `json:"timestamp"`
	Data      ExecutionEventData `json:"data"`
}

// ExecutionEventData contains the fill fields as strings, the way the
// bridge serializes them.
type ExecutionEventData struct {
	ExecutionID string  `json:"execution_id"`
	Account     string  `json:"account"`
	Instrument  string  `json:"instrument"`
	Side        string  `json:"side"`
	Quantity    string  `json:"quantity"`
	Price       string  `json:"price"`
	Commission  string  `json:"commission"`
	ExecutedAt  *string `json:"executed_at,omitempty"`
}

// RebuildEvent is published after a successful rebuild so downstream
// consumers (dashboard cache warmers) know which pair changed.
type RebuildEvent struct {
	EventType   string    `json:"event_type"`
	Account     string    `json:"account"`
	Instrument  string    `json:"instrument"`
	PositionIDs []int     `json:"position_ids"`
	Timestamp   time.Time `json:"timestamp"`
}
