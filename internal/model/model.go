// Package model defines the core domain types for the techday registration system.
package model

import (
	"errors"
	"time"
)

// Track groups sessions by theme.
type Track struct {
	ID   int64  `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// Room is a physical space hosting sessions. A Capacity of zero means the
// room does not limit attendance.
type Room struct {
	ID       int64  `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Capacity int    `json:"capacity" yaml:"capacity"`
}

// Timeslot is a period of the event day. Timeslots are globally ordered by
// Order; distinct timeslots may overlap in time.
type Timeslot struct {
	ID    int64     `json:"id" yaml:"id"`
	Order int       `json:"order" yaml:"order"`
	Start time.Time `json:"start" yaml:"start"`
	End   time.Time `json:"end" yaml:"end"`
}

// ErrInvalidTimeslot is returned when a timeslot does not start before it ends.
var ErrInvalidTimeslot = errors.New("timeslot must start before it ends")

// Validate checks the start < end invariant.
func (t Timeslot) Validate() error {
	if !t.Start.Before(t.End) {
		return ErrInvalidTimeslot
	}
	return nil
}

// Overlaps reports whether two timeslots share any instant.
func (t Timeslot) Overlaps(o Timeslot) bool {
	return t.Start.Before(o.End) && o.Start.Before(t.End)
}

// Session is a talk or activity held in a room, belonging to a track, and
// occupying one or more timeslots.
//
// Capacity is the binding seat limit per timeslot. Zero inherits the room's
// capacity.
type Session struct {
	ID          int64   `json:"id" yaml:"id"`
	Name        string  `json:"name" yaml:"name"`
	TrackID     int64   `json:"track_id" yaml:"track_id"`
	RoomID      int64   `json:"room_id" yaml:"room_id"`
	Capacity    int     `json:"capacity" yaml:"capacity"`
	TimeslotIDs []int64 `json:"timeslot_ids" yaml:"timeslot_ids"`
}

// SessionAvailability is a session as seen from a single timeslot: its
// effective capacity and how many seats are already taken in that slot.
type SessionAvailability struct {
	Session
	TimeslotID int64 `json:"timeslot_id"`
	// EffectiveCapacity is the seat limit after falling back to the room.
	// Zero means unlimited.
	EffectiveCapacity int `json:"effective_capacity"`
	Taken             int `json:"taken"`
}

// EffectiveCapacity resolves a session's seat limit against its room.
func EffectiveCapacity(sessionCapacity, roomCapacity int) int {
	if sessionCapacity > 0 {
		return sessionCapacity
	}
	if roomCapacity > 0 {
		return roomCapacity
	}
	return 0
}

// Unlimited reports whether the session has no seat limit.
func (s *SessionAvailability) Unlimited() bool {
	return s.EffectiveCapacity <= 0
}

// Remaining returns the number of available seats, or -1 when unlimited.
func (s *SessionAvailability) Remaining() int {
	if s.Unlimited() {
		return -1
	}
	if s.Taken >= s.EffectiveCapacity {
		return 0
	}
	return s.EffectiveCapacity - s.Taken
}

// IsFull returns true when no seats remain.
func (s *SessionAvailability) IsFull() bool {
	return !s.Unlimited() && s.Taken >= s.EffectiveCapacity
}

// TimeslotOverview is a timeslot together with the sessions it hosts.
type TimeslotOverview struct {
	Timeslot
	Sessions []SessionAvailability `json:"sessions"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}
