// Package service implements the registration core: the admission gate,
// the slot assignment engine and the orchestrator that ties them to user
// creation in a single unit of work.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Shivanand-hulikatti/techday-registration/internal/logging"
	"github.com/Shivanand-hulikatti/techday-registration/internal/model"
	"github.com/Shivanand-hulikatti/techday-registration/internal/queue"
	"github.com/Shivanand-hulikatti/techday-registration/internal/repository"
)

// RegistrationService orchestrates registration attempts.
type RegistrationService struct {
	store     repository.Store
	gate      *AdmissionGate
	assigner  *SlotAssigner
	validator *Validator
	publisher queue.Publisher
	logger    *slog.Logger
	tracer    trace.Tracer

	maxRetries     int
	retryBackoff   time.Duration
	storeTimeout   time.Duration
	publishTimeout time.Duration
	now          func() time.Time
	newID        func() string
}

// Option configures a RegistrationService.
type Option func(*RegistrationService)

// WithPublisher sets where committed registrations are announced.
func WithPublisher(p queue.Publisher) Option {
	return func(s *RegistrationService) { s.publisher = p }
}

// WithLogger sets the fallback logger used when the context carries none.
func WithLogger(l *slog.Logger) Option {
	return func(s *RegistrationService) { s.logger = l }
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(s *RegistrationService) { s.tracer = t }
}

// WithRetry sets how many times a registration is retried after a write
// conflict, and the base backoff between attempts.
func WithRetry(maxRetries int, backoff time.Duration) Option {
	return func(s *RegistrationService) {
		s.maxRetries = maxRetries
		s.retryBackoff = backoff
	}
}

// WithStoreTimeout bounds each unit of work against the store.
func WithStoreTimeout(d time.Duration) Option {
	return func(s *RegistrationService) { s.storeTimeout = d }
}

// WithPublishTimeout bounds how long a committed registration waits for its
// event to be published.
func WithPublishTimeout(d time.Duration) Option {
	return func(s *RegistrationService) { s.publishTimeout = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *RegistrationService) { s.now = now }
}

// WithIDGenerator replaces the user ID generator.
func WithIDGenerator(newID func() string) Option {
	return func(s *RegistrationService) { s.newID = newID }
}

// NewRegistrationService constructs a RegistrationService with its dependencies.
func NewRegistrationService(
	store repository.Store,
	gate *AdmissionGate,
	assigner *SlotAssigner,
	validator *Validator,
	opts ...Option,
) *RegistrationService {
	s := &RegistrationService{
		store:        store,
		gate:         gate,
		assigner:     assigner,
		validator:    validator,
		publisher:    queue.NopPublisher{},
		logger:       slog.Default(),
		tracer:       otel.Tracer("github.com/Shivanand-hulikatti/techday-registration/internal/service"),
		maxRetries:     3,
		retryBackoff:   25 * time.Millisecond,
		storeTimeout:   5 * time.Second,
		publishTimeout: queue.DefaultPublishTimeout,
		now:            time.Now,
		newID:          uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register admits an internal or external candidate through the capacity
// gate, creates the user and assigns a schedule, all in one transaction.
// Every failure is a *RegistrationError and leaves the store unchanged.
func (s *RegistrationService) Register(ctx context.Context, candidate model.Candidate) (*model.RegisteredUser, error) {
	return s.register(ctx, candidate, true)
}

// RegisterExternal registers a guest from outside the organisation on an
// administrator's behalf. The capacity gate does not apply, but the schedule
// is assigned under the same rules.
func (s *RegistrationService) RegisterExternal(ctx context.Context, candidate model.Candidate) (*model.RegisteredUser, error) {
	candidate.IsInternal = false
	return s.register(ctx, candidate, false)
}

func (s *RegistrationService) register(ctx context.Context, candidate model.Candidate, admit bool) (*model.RegisteredUser, error) {
	ctx, span := s.tracer.Start(ctx, "registration.register", trace.WithAttributes(
		attribute.Bool("registration.internal", candidate.IsInternal),
		attribute.Bool("registration.gated", admit),
	))
	defer span.End()
	logger := logging.FromContext(ctx, s.logger)

	stage := StageReceived
	attempts := 0
	fail := func(err error) error {
		span.SetAttributes(attribute.String("registration.stage", stage.String()), attribute.Int("registration.attempts", attempts))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Info("registration failed", "stage", stage.String(), "attempts", attempts, "error", err)
		return &RegistrationError{Stage: stage, Attempts: attempts, Err: err}
	}

	if err := s.validator.Validate(&candidate); err != nil {
		return nil, fail(err)
	}
	stage = StageValidated

	var (
		result *model.RegisteredUser
		err    error
	)
	for {
		attempts++
		result, stage, err = s.attempt(ctx, candidate, admit)
		if err == nil || !errors.Is(err, ErrStoreConflict) || attempts > s.maxRetries {
			break
		}
		logger.Debug("registration write conflict, retrying", "attempt", attempts)
		if !sleep(ctx, s.retryBackoff*time.Duration(attempts)) {
			err = fmt.Errorf("%w: %w", ErrStoreUnavailable, ctx.Err())
			break
		}
	}
	if err != nil {
		return nil, fail(err)
	}

	span.SetAttributes(
		attribute.String("registration.stage", stage.String()),
		attribute.Int("registration.attempts", attempts),
		attribute.Int("registration.placements", len(result.Schedule.Placements)),
	)
	logger.Info("registration committed",
		"user_id", result.User.ID,
		"internal", result.User.IsInternal,
		"placements", len(result.Schedule.Placements),
		"skipped", len(result.Schedule.Skipped),
		"attempts", attempts,
	)

	s.gate.invalidate(ctx)
	s.publish(ctx, logger, result)
	return result, nil
}

// attempt runs one Register unit of work and reports the last stage reached.
func (s *RegistrationService) attempt(ctx context.Context, candidate model.Candidate, admit bool) (*model.RegisteredUser, Stage, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	stage := StageValidated
	user := model.User{
		ID:           s.newID(),
		Email:        candidate.Email,
		Name:         candidate.Name,
		Organisation: candidate.Organisation,
		Department:   candidate.Department,
		IsInternal:   candidate.IsInternal,
		CreatedAt:    s.now().UTC(),
	}

	var out *model.RegisteredUser
	err := s.store.Update(ctx, func(tx repository.Tx) error {
		if admit {
			if _, err := s.gate.check(ctx, tx); err != nil {
				return err
			}
		}
		stage = StageAdmissionChecked

		if err := tx.CreateUser(ctx, &user); err != nil {
			return err
		}
		stage = StageUserCreated

		sched, err := s.assigner.AssignSchedule(ctx, tx, &user)
		if err != nil {
			return err
		}
		stage = StageScheduleAssigned

		out = &model.RegisteredUser{User: user, Schedule: *sched}
		return nil
	})
	if err != nil {
		return nil, stage, err
	}
	return out, StageCommitted, nil
}

// publish announces a committed registration. A failure is logged only:
// the registration itself already stands. The event outlives a cancelled
// request but never holds the response longer than publishTimeout.
func (s *RegistrationService) publish(ctx context.Context, logger *slog.Logger, reg *model.RegisteredUser) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout)
	defer cancel()

	ev := queue.NewRegistrationCommitted(*reg, s.now())
	if err := s.publisher.PublishRegistrationCommitted(ctx, ev); err != nil {
		logger.Warn("publish registration event failed", "user_id", reg.User.ID, "error", err)
	}
}

// Schedule returns a registered user with their placements.
func (s *RegistrationService) Schedule(ctx context.Context, userID string) (*model.RegisteredUser, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return nil, ErrNotFound
	}
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	var out model.RegisteredUser
	err := s.store.View(ctx, func(tx repository.Tx) error {
		user, err := tx.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		placements, err := tx.ListPlacements(ctx, userID)
		if err != nil {
			return err
		}
		if placements == nil {
			placements = []model.Placement{}
		}
		out = model.RegisteredUser{User: *user, Schedule: model.Schedule{UserID: user.ID, Placements: placements}}
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	return &out, nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
