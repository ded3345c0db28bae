package service

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/Shivanand-hulikatti/techday-registration/internal/repository"
)

// Error kinds surfaced by the registration core. Match them with errors.Is.
var (
	// ErrRegistrationClosed means the capacity gate rejected the attempt:
	// the site is locked or the internal-user maximum has been reached.
	ErrRegistrationClosed = errors.New("registration closed")
	// ErrSlotUnavailable means a timeslot had sessions but none with a free
	// seat, and the slot policy is to fail the registration.
	ErrSlotUnavailable = errors.New("slot unavailable")
	// ErrValidationFailed means the candidate data is malformed.
	ErrValidationFailed = errors.New("validation failed")
	// ErrStoreConflict means concurrent registrations kept colliding and the
	// retry budget ran out. Transient.
	ErrStoreConflict = repository.ErrWriteConflict
	// ErrStoreUnavailable means the store could not be reached in time.
	ErrStoreUnavailable = repository.ErrUnavailable
	// ErrAlreadyRegistered means the email address is already in use.
	ErrAlreadyRegistered = repository.ErrAlreadyRegistered
	// ErrNotFound means the requested user does not exist.
	ErrNotFound = repository.ErrNotFound
)

// ValidationError captures field level validation issues that callers can
// surface to users.
type ValidationError struct {
	Fields map[string]string
}

func (v *ValidationError) Error() string {
	if v == nil || len(v.Fields) == 0 {
		return ErrValidationFailed.Error()
	}
	keys := slices.Sorted(maps.Keys(v.Fields))
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+v.Fields[k])
	}
	return ErrValidationFailed.Error() + ": " + strings.Join(parts, "; ")
}

// Is makes every ValidationError match ErrValidationFailed.
func (v *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.Fields) > 0
}

func (v *ValidationError) add(field, message string) {
	if v.Fields == nil {
		v.Fields = make(map[string]string)
	}
	if _, exists := v.Fields[field]; !exists {
		v.Fields[field] = message
	}
}

// SlotUnavailableError names the timeslot that could not be filled.
type SlotUnavailableError struct {
	TimeslotID int64
}

func (e *SlotUnavailableError) Error() string {
	return fmt.Sprintf("%s: timeslot %d has no session with a free seat", ErrSlotUnavailable, e.TimeslotID)
}

func (e *SlotUnavailableError) Is(target error) bool {
	return target == ErrSlotUnavailable
}

// Stage is a step of a registration attempt.
type Stage int

const (
	StageReceived Stage = iota
	StageValidated
	StageAdmissionChecked
	StageUserCreated
	StageScheduleAssigned
	StageCommitted
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageReceived:
		return "received"
	case StageValidated:
		return "validated"
	case StageAdmissionChecked:
		return "admission_checked"
	case StageUserCreated:
		return "user_created"
	case StageScheduleAssigned:
		return "schedule_assigned"
	case StageCommitted:
		return "committed"
	case StageFailed:
		return "failed"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// RegistrationError is returned by Register for every failure. Stage is the
// last stage the attempt reached before failing; nothing it wrote survives.
type RegistrationError struct {
	Stage    Stage
	Attempts int
	Err      error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("register (after %s, %d attempt(s)): %v", e.Stage, e.Attempts, e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }
