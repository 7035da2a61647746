package models

import (
	"fmt"
	"strings"
	"time"
)

// ContainerStatus is the lifecycle state of a container owned by the registry.
type ContainerStatus string

const (
	StatusCreated ContainerStatus = "Created"
	StatusRunning ContainerStatus = "Running"
	StatusStopped ContainerStatus = "Stopped"
	StatusRemoved ContainerStatus = "Removed"
)

// transitions lists every legal (current, next) pair. Removed has no entry: it is terminal.
var transitions = map[ContainerStatus]map[ContainerStatus]bool{
	StatusCreated: {StatusRunning: true, StatusRemoved: true},
	StatusRunning: {StatusStopped: true, StatusRemoved: true},
	StatusStopped: {StatusRunning: true, StatusRemoved: true},
}

// ParseContainerStatus accepts any casing of a known status ("running", "Running", ...).
func ParseContainerStatus(s string) (ContainerStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "created":
		return StatusCreated, nil
	case "running":
		return StatusRunning, nil
	case "stopped":
		return StatusStopped, nil
	case "removed":
		return StatusRemoved, nil
	}
	return "", fmt.Errorf("unknown container status %q", s)
}

// Valid reports whether s is one of the enumerated statuses.
func (s ContainerStatus) Valid() bool {
	switch s {
	case StatusCreated, StatusRunning, StatusStopped, StatusRemoved:
		return true
	}
	return false
}

// CanTransitionTo reports whether next is reachable from s in one step.
func (s ContainerStatus) CanTransitionTo(next ContainerStatus) bool {
	return transitions[s][next]
}

// Terminal reports whether no transition leaves s.
func (s ContainerStatus) Terminal() bool {
	return s == StatusRemoved
}

// Container is the registry's record of a container it created.
type Container struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Status    ContainerStatus `json:"status"`
	Image     string          `json:"image"`
	CreatedAt time.Time       `json:"created_at"`

	// EngineID is the runtime engine's identifier; never exposed over the API.
	EngineID string   `json:"-"`
	Command  []string `json:"-"`
}

// Clone returns a copy that shares no mutable state with c.
func (c *Container) Clone() *Container {
	out := *c
	if c.Command != nil {
		out.Command = append([]string(nil), c.Command...)
	}
	return &out
}
