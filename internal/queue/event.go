// Package queue defines the registration events exchanged over RabbitMQ,
// the publisher used after a registration commits, and the background
// consumer that processes them.
package queue

import (
	"time"

	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/techday-registration/internal/model"
)

// RegistrationCommittedEvent is published once a registration and its
// schedule have been committed. It carries enough information for a
// confirmation mail or analytics without querying the primary database.
type RegistrationCommittedEvent struct {
	EventID      string            `json:"event_id"`
	UserID       string            `json:"user_id"`
	Email        string            `json:"email"`
	Name         string            `json:"name"`
	Organisation string            `json:"organisation"`
	IsInternal   bool              `json:"is_internal"`
	Placements   []model.Placement `json:"placements"`
	Skipped      []int64           `json:"skipped_timeslots,omitempty"`
	CommittedAt  string            `json:"committed_at"`
}

// NewRegistrationCommitted builds the event for a committed registration.
func NewRegistrationCommitted(reg model.RegisteredUser, at time.Time) RegistrationCommittedEvent {
	placements := reg.Schedule.Placements
	if placements == nil {
		placements = []model.Placement{}
	}
	return RegistrationCommittedEvent{
		EventID:      uuid.NewString(),
		UserID:       reg.User.ID,
		Email:        reg.User.Email,
		Name:         reg.User.Name,
		Organisation: reg.User.Organisation,
		IsInternal:   reg.User.IsInternal,
		Placements:   placements,
		Skipped:      reg.Schedule.Skipped,
		CommittedAt:  at.UTC().Format(time.RFC3339),
	}
}
