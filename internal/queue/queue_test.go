package queue

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/techday-registration/internal/logging"
	"github.com/Shivanand-hulikatti/techday-registration/internal/model"
)

func TestNewRegistrationCommitted(t *testing.T) {
	at := time.Date(2026, 11, 5, 8, 30, 0, 0, time.FixedZone("CET", 3600))
	reg := model.RegisteredUser{
		User: model.User{ID: "u-1", Email: "an@rdw.nl", Name: "An", Organisation: "RDW", IsInternal: true},
		Schedule: model.Schedule{
			UserID:     "u-1",
			Placements: []model.Placement{{TimeslotID: 1, SessionID: 4}},
			Skipped:    []int64{2},
		},
	}

	ev := NewRegistrationCommitted(reg, at)
	assert.NotEmpty(t, ev.EventID)
	assert.Equal(t, "u-1", ev.UserID)
	assert.Equal(t, "2026-11-05T07:30:00Z", ev.CommittedAt)
	assert.Equal(t, []int64{2}, ev.Skipped)

	raw, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"placements":[{"timeslot_id":1,"session_id":4}]`)
}

func TestNewRegistrationCommitted_EmptyPlacementsEncodeAsArray(t *testing.T) {
	ev := NewRegistrationCommitted(model.RegisteredUser{User: model.User{ID: "u-2"}}, time.Now())
	raw, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"placements":[]`)
}

func TestConsumerHandle(t *testing.T) {
	var got RegistrationCommittedEvent
	c := NewConsumer("", "q", func(_ context.Context, ev RegistrationCommittedEvent) error {
		got = ev
		return nil
	}, logging.Discard())

	require.NoError(t, c.Handle(context.Background(), []byte(`{"user_id":"u-9","email":"x@rdw.nl"}`)))
	assert.Equal(t, "u-9", got.UserID)

	assert.Error(t, c.Handle(context.Background(), []byte(`not json`)))
	assert.Error(t, c.Handle(context.Background(), []byte(`{"email":"x@rdw.nl"}`)))
}

func TestConsumerHandle_PropagatesHandlerError(t *testing.T) {
	boom := errors.New("boom")
	c := NewConsumer("", "q", func(context.Context, RegistrationCommittedEvent) error { return boom }, logging.Discard())
	assert.ErrorIs(t, c.Handle(context.Background(), []byte(`{"user_id":"u"}`)), boom)
}

func TestLogConfirmation(t *testing.T) {
	h := LogConfirmation(logging.Discard())
	assert.NoError(t, h(context.Background(), RegistrationCommittedEvent{UserID: "u"}))
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	assert.NoError(t, p.PublishRegistrationCommitted(context.Background(), RegistrationCommittedEvent{}))
}

// A broker that accepts TCP connections but never speaks AMQP must not hold
// the publisher past its timeout.
func TestAMQPPublisher_SilentBrokerTimesOut(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		var held []net.Conn
		defer func() {
			for _, c := range held {
				_ = c.Close()
			}
		}()
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			held = append(held, c)
		}
	}()

	p := NewAMQPPublisher("amqp://guest:guest@"+ln.Addr().String()+"/", "q", 200*time.Millisecond, logging.Discard())

	start := time.Now()
	err = p.PublishRegistrationCommitted(context.Background(), RegistrationCommittedEvent{UserID: "u"})
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestAMQPPublisher_HonoursCallerDeadline(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	p := NewAMQPPublisher("amqp://guest:guest@"+ln.Addr().String()+"/", "q", time.Minute, logging.Discard())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	err = p.PublishRegistrationCommitted(ctx, RegistrationCommittedEvent{UserID: "u"})
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}
