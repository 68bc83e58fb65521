// ABOUTME: Store interface and data types for relay-gateway persistence
// ABOUTME: Defines Session, Event structs and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Session represents a client device's logical session with the gateway.
// The key is the composite user_id + "_" + device_id, so at most one row
// exists per identity pair and reconnects reactivate rather than duplicate.
type Session struct {
	Key             string
	UserID          string
	DeviceID        string
	WorkspaceID     string
	WorkspacePath   string
	IsActive        bool
	CreatedAt       time.Time
	LastActivatedAt time.Time
	DeactivatedAt   *time.Time
}

// Event represents a single entry in a session's durable event log.
// The ID is assigned by the store on insert and breaks timestamp ties
// in insertion order.
type Event struct {
	ID         int64
	SessionKey string
	UserID     string
	DeviceID   string
	Timestamp  time.Time
	Type       string
	Payload    string // JSON content
}

// ListEventsOptions controls event listing.
// A zero value lists every event in ascending order.
type ListEventsOptions struct {
	Limit      int    // 0 means unbounded
	Type       string // filter to a single event type when non-empty
	Descending bool
}

// Store defines the interface for session and event persistence
type Store interface {
	// Sessions
	CreateOrReactivateSession(ctx context.Context, sess *Session) error
	GetSession(ctx context.Context, key string) (*Session, error)
	ListSessionsByDevice(ctx context.Context, deviceID string) ([]*Session, error)

	// Events
	AppendEvent(ctx context.Context, ev *Event) (int64, error)
	ListEvents(ctx context.Context, sessionKey string, opts ListEventsOptions) ([]*Event, error)

	// Close releases any resources held by the store
	Close() error
}
