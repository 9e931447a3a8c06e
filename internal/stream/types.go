// Package stream implements the stream-ingest backbone: the connection
// pool (C2), subscription builder (C3), load balancer (C4), and the stream
// manager (C5) that composes them.
package stream

import (
	"errors"
	"sync"
	"time"
)

// Priority is a connection's or monitor group's priority class.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	default:
		return "low"
	}
}

// Status is a connection's lifecycle state.
type Status int

const (
	StatusIdle Status = iota
	StatusActive
	StatusUnhealthy
	StatusDisconnected
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusUnhealthy:
		return "unhealthy"
	case StatusDisconnected:
		return "disconnected"
	default:
		return "idle"
	}
}

// Metrics is the rolling per-connection metric set from spec.md §3.
type Metrics struct {
	RequestsPerSecond   float64
	AverageLatency      time.Duration
	ErrorRate           float64
	ActiveSubscriptions int
	BytesProcessed      uint64
	LastUsed            time.Time
	LastHealthCheck     time.Time
}

// Connection is the pool's record for one long-lived streaming client. The
// pool exclusively owns the client handle (field client, unexported);
// handing a *Connection to a caller transfers use but never ownership.
type Connection struct {
	mu sync.Mutex

	ID        string
	Priority  Priority
	Status    Status
	Metrics   Metrics
	CreatedAt time.Time

	client Client
	groups map[string]struct{} // subscription groups assigned to this connection
}

func newConnection(id string, priority Priority, client Client, now time.Time) *Connection {
	return &Connection{
		ID:        id,
		Priority:  priority,
		Status:    StatusIdle,
		CreatedAt: now,
		Metrics:   Metrics{LastUsed: now, LastHealthCheck: now},
		client:    client,
		groups:    make(map[string]struct{}),
	}
}

// Snapshot returns a value copy safe to read without holding the pool lock.
func (c *Connection) Snapshot() Connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *c
	cp.groups = nil
	return cp
}

func (c *Connection) assignGroup(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.groups[name] = struct{}{}
	c.Metrics.ActiveSubscriptions = len(c.groups)
}

func (c *Connection) unassignGroup(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.groups, name)
	c.Metrics.ActiveSubscriptions = len(c.groups)
}

func (c *Connection) groupCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.groups)
}

// SubscriptionGroup is a named logical stream with a filter specification
// (spec.md §3). It is uniquely identified by Name and assigned to exactly
// one connection at a time.
type SubscriptionGroup struct {
	Name            string
	ProgramIDs      []string
	IncludeFailed   bool
	IncludeVote     bool
	Commitment      CommitmentLevel
	MonitorPriority Priority
}

// CommitmentLevel mirrors the upstream commitment levels.
type CommitmentLevel int

const (
	CommitmentProcessed CommitmentLevel = iota
	CommitmentConfirmed
	CommitmentFinalized
)

// FilterSpec is the upstream filter specification C3 builds from a group.
type FilterSpec struct {
	GroupName       string
	AccountInclude  []string
	AccountExclude  []string
	AccountRequired []string
	Vote            bool
	Failed          bool
	Commitment      CommitmentLevel
}

// MigrationRequest is C4's output and C5's input (spec.md §3).
type MigrationRequest struct {
	SubscriptionID   string
	FromConnectionID string
	ToConnectionID   string
	Reason           string
}

// ErrPoolExhausted is returned by acquire when no connection is available
// and the pool is already at maxConnections.
var ErrPoolExhausted = errors.New("stream: pool exhausted")

// ErrUnknownGroup is returned when operating on a subscription group the
// manager has no record of.
var ErrUnknownGroup = errors.New("stream: unknown subscription group")
