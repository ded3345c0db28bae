package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/Shivanand-hulikatti/techday-registration/internal/config"
	"github.com/Shivanand-hulikatti/techday-registration/internal/model"
	"github.com/Shivanand-hulikatti/techday-registration/internal/repository"
)

// SlotPolicy decides what happens when every session in a timeslot is full.
type SlotPolicy int

const (
	// PolicySkip leaves the timeslot without a placement and records it in
	// Schedule.Skipped.
	PolicySkip SlotPolicy = iota
	// PolicyFail fails the whole registration with a SlotUnavailableError.
	PolicyFail
)

func (p SlotPolicy) String() string {
	if p == PolicyFail {
		return config.SlotPolicyFail
	}
	return config.SlotPolicySkip
}

// ParseSlotPolicy maps a configuration value onto a SlotPolicy.
func ParseSlotPolicy(s string) (SlotPolicy, error) {
	switch s {
	case config.SlotPolicySkip, "":
		return PolicySkip, nil
	case config.SlotPolicyFail:
		return PolicyFail, nil
	}
	return PolicySkip, fmt.Errorf("unknown slot policy %q", s)
}

// SlotAssigner computes a new user's schedule.
type SlotAssigner struct {
	policy SlotPolicy
	logger *slog.Logger
}

// NewSlotAssigner constructs a SlotAssigner applying policy to every user.
func NewSlotAssigner(policy SlotPolicy, logger *slog.Logger) *SlotAssigner {
	return &SlotAssigner{policy: policy, logger: logger}
}

// Policy returns the configured slot policy.
func (a *SlotAssigner) Policy() SlotPolicy { return a.policy }

// AssignSchedule walks every timeslot in ascending Order and places user in
// exactly one session with a free seat, writing each placement through tx.
// Timeslots without sessions are ignored. The caller owns tx: when an error
// is returned the caller must roll back so that no placement survives.
func (a *SlotAssigner) AssignSchedule(ctx context.Context, tx repository.Tx, user *model.User) (*model.Schedule, error) {
	slots, err := tx.ListTimeslotsOrdered(ctx)
	if err != nil {
		return nil, fmt.Errorf("list timeslots: %w", err)
	}

	sched := &model.Schedule{UserID: user.ID, Placements: make([]model.Placement, 0, len(slots))}
	for _, slot := range slots {
		sessions, err := tx.ListSessionsForTimeslot(ctx, slot.ID)
		if err != nil {
			return nil, fmt.Errorf("list sessions for timeslot %d: %w", slot.ID, err)
		}
		if len(sessions) == 0 {
			continue
		}

		pick, ok := chooseSession(sessions)
		if !ok {
			if a.policy == PolicyFail {
				return nil, &SlotUnavailableError{TimeslotID: slot.ID}
			}
			a.logger.Debug("timeslot full, skipping", "user_id", user.ID, "timeslot_id", slot.ID)
			sched.Skipped = append(sched.Skipped, slot.ID)
			continue
		}

		p := model.Placement{TimeslotID: slot.ID, SessionID: pick.ID}
		if err := tx.InsertPlacement(ctx, user.ID, p); err != nil {
			return nil, fmt.Errorf("place user in session %d: %w", pick.ID, err)
		}
		sched.Placements = append(sched.Placements, p)
	}
	return sched, nil
}

// chooseSession picks the session with the most remaining seats. Sessions
// arrive ordered by ID, so ties go to the lowest ID. Full sessions are never
// chosen.
func chooseSession(sessions []model.SessionAvailability) (model.SessionAvailability, bool) {
	var (
		best     model.SessionAvailability
		bestLeft = 0
		found    bool
	)
	for _, s := range sessions {
		if s.IsFull() {
			continue
		}
		left := s.Remaining()
		if s.Unlimited() {
			left = math.MaxInt
		}
		if !found || left > bestLeft {
			best, bestLeft, found = s, left, true
		}
	}
	return best, found
}
