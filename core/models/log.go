// Package models defines domain models for the orchestrator.
package models

import "time"

// ActionLog represents a lifecycle action attempted against a runtime resource.
type ActionLog struct {
	ID           int64     `json:"id"`
	ActionType   string    `json:"action_type"`   // create, start, stop, remove, pull
	ResourceType string    `json:"resource_type"` // container, image
	ResourceID   string    `json:"resource_id"`
	ResourceName string    `json:"resource_name,omitempty"`
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"error_message,omitempty"`
	ExecutedAt   time.Time `json:"executed_at"`
}

// EventLog represents a system event, such as a reconciler status correction.
type EventLog struct {
	ID        int64     `json:"id"`
	EventType string    `json:"event_type"` // reconcile, system
	Level     string    `json:"level"`      // info, warning, error
	Message   string    `json:"message"`
	Metadata  string    `json:"metadata,omitempty"` // JSON-encoded additional data
	CreatedAt time.Time `json:"created_at"`
}
