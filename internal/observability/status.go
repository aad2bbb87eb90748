package observability

import (
	"sync"
	"time"
)

type Role string

const (
	RoleIdle      Role = "IDLE"
	RolePlanner   Role = "PLANNER"
	RoleConductor Role = "CONDUCTOR"
	RoleAgent     Role = "AGENT"
)

type SystemStatus struct {
	mu             sync.RWMutex
	CurrentRole    Role
	ActiveTask     string
	ActiveSessions int
	LastHeartbeat  time.Time
}

var globalStatus = &SystemStatus{
	CurrentRole:   RoleIdle,
	LastHeartbeat: time.Now(),
}

// SetStatus updates the global system status.
func SetStatus(role Role, task string) {
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	globalStatus.CurrentRole = role
	globalStatus.ActiveTask = task
}

// GetStatus retrieves a copy of the global system status.
func GetStatus() (Role, string, time.Time) {
	globalStatus.mu.RLock()
	defer globalStatus.mu.RUnlock()
	return globalStatus.CurrentRole, globalStatus.ActiveTask, globalStatus.LastHeartbeat
}

// SessionStarted and SessionEnded track concurrently running sessions.
func SessionStarted() {
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	globalStatus.ActiveSessions++
}

func SessionEnded() {
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	if globalStatus.ActiveSessions > 0 {
		globalStatus.ActiveSessions--
	}
	if globalStatus.ActiveSessions == 0 {
		globalStatus.CurrentRole = RoleIdle
		globalStatus.ActiveTask = ""
	}
}

func ActiveSessions() int {
	globalStatus.mu.RLock()
	defer globalStatus.mu.RUnlock()
	return globalStatus.ActiveSessions
}

// Heartbeat updates the last heartbeat time.
func Heartbeat() {
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	globalStatus.LastHeartbeat = time.Now()
}
