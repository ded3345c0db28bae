package model

import "time"

// User is a registered attendee.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Organisation string    `json:"organisation"`
	Department   string    `json:"department,omitempty"`
	IsInternal   bool      `json:"is_internal"`
	CreatedAt    time.Time `json:"created_at"`
}

// Candidate is the payload for a registration attempt.
type Candidate struct {
	Email        string `json:"email"`
	Name         string `json:"name"`
	Organisation string `json:"organisation"`
	Department   string `json:"department"`
	IsInternal   bool   `json:"is_internal"`
}

// Placement assigns a user to one session within one timeslot.
type Placement struct {
	TimeslotID int64 `json:"timeslot_id"`
	SessionID  int64 `json:"session_id"`
}

// Schedule is a user's set of placements. Skipped lists timeslots that
// had sessions but no free seat at assignment time.
type Schedule struct {
	UserID     string      `json:"user_id"`
	Placements []Placement `json:"placements"`
	Skipped    []int64     `json:"skipped_timeslots,omitempty"`
}

// SessionFor returns the session placed in the given timeslot.
func (s *Schedule) SessionFor(timeslotID int64) (int64, bool) {
	for _, p := range s.Placements {
		if p.TimeslotID == timeslotID {
			return p.SessionID, true
		}
	}
	return 0, false
}

// RegisteredUser is the result of a successful registration.
type RegisteredUser struct {
	User     User     `json:"user"`
	Schedule Schedule `json:"schedule"`
}

// AdmissionConfig holds the administrator-controlled admission settings.
type AdmissionConfig struct {
	MaxUsers   int  `json:"max_users" yaml:"max_users"`
	ManualLock bool `json:"manual_lock" yaml:"manual_lock"`
}

// AdmissionState combines the admission settings with the current number
// of registered internal users.
type AdmissionState struct {
	AdmissionConfig
	RegisteredInternal int `json:"registered_internal"`
}

// IsOpen reports whether a new registration may be admitted.
func (a AdmissionState) IsOpen() bool {
	if a.ManualLock {
		return false
	}
	return a.RegisteredInternal < a.MaxUsers
}

// AdmissionUpdate is the payload for changing the admission settings.
// Nil fields are left unchanged.
type AdmissionUpdate struct {
	MaxUsers   *int  `json:"max_users,omitempty"`
	ManualLock *bool `json:"manual_lock,omitempty"`
}

// AdmissionStatus is the public view of the admission state.
type AdmissionStatus struct {
	Open bool `json:"open"`
	AdmissionState
}

// NewAdmissionStatus reports state together with whether it is open.
func NewAdmissionStatus(state AdmissionState) AdmissionStatus {
	return AdmissionStatus{Open: state.IsOpen(), AdmissionState: state}
}
