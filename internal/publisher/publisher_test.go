package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/amocrm-adapter/pkg/model"
)

// --- mock types ---

type mockJetStream struct {
	published []*nats.Msg
	fail      bool
}

func (m *mockJetStream) PublishMsg(msg *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error) {
	if m.fail {
		return nil, errors.New("mock publish error")
	}
	m.published = append(m.published, msg)
	return &nats.PubAck{Stream: "AMOCRM_EVENTS"}, nil
}

func newTestPublisher(fail bool) (*Publisher, *mockJetStream) {
	js := &mockJetStream{fail: fail}
	return NewWithJetStream(js, "evt.amocrm", "amocrm-adapter", zap.NewNop()), js
}

// --- tests ---

func TestPublish_ContactCreatedEnvelope(t *testing.T) {
	pub, js := newTestPublisher(false)

	err := pub.Publish(context.Background(), model.EventContactCreated, model.ContactEvent{
		ContactID: 1001,
		Name:      "Jane Roe",
		Email:     "jane@example.com",
		Phone:     "79001234567",
	})
	require.NoError(t, err)
	require.Len(t, js.published, 1)

	msg := js.published[0]
	assert.Equal(t, "evt.amocrm.contact.created", msg.Subject)
	assert.Equal(t, "contact.created", msg.Header.Get("event_type"))
	assert.Equal(t, "amocrm-adapter", msg.Header.Get("service"))

	var env model.Envelope
	require.NoError(t, json.Unmarshal(msg.Data, &env))
	assert.Equal(t, "contact.created", env.EventType)
	assert.Equal(t, "amocrm-adapter", env.Source)
	assert.Equal(t, EnvelopeVersion, env.Version)
	assert.False(t, env.Timestamp.IsZero())
	assert.Equal(t, env.ID.String(), msg.Header.Get("event_id"))
	assert.Equal(t, env.ID.String(), msg.Header.Get(nats.MsgIdHdr))

	var payload model.ContactEvent
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, int64(1001), payload.ContactID)
	assert.Equal(t, "jane@example.com", payload.Email)
}

func TestPublish_LeadCreatedSubject(t *testing.T) {
	pub, js := newTestPublisher(false)

	require.NoError(t, pub.Publish(context.Background(), model.EventLeadCreated, model.LeadEvent{LeadID: 5001, ContactID: 42}))
	require.Len(t, js.published, 1)
	assert.Equal(t, "evt.amocrm.lead.created", js.published[0].Subject)
}

func TestPublish_UniqueEnvelopeIDs(t *testing.T) {
	pub, js := newTestPublisher(false)

	for i := 0; i < 3; i++ {
		require.NoError(t, pub.Publish(context.Background(), model.EventContactUpdated, model.ContactEvent{ContactID: 42}))
	}
	seen := map[string]bool{}
	for _, m := range js.published {
		seen[m.Header.Get("event_id")] = true
	}
	assert.Len(t, seen, 3)
}

func TestPublish_Failure(t *testing.T) {
	pub, _ := newTestPublisher(true)
	err := pub.Publish(context.Background(), model.EventLeadCreated, model.LeadEvent{})
	assert.EqualError(t, err, "mock publish error")
}

func TestPublish_MarshalFailure(t *testing.T) {
	pub, js := newTestPublisher(false)
	err := pub.Publish(context.Background(), model.EventLeadCreated, make(chan int))
	assert.Error(t, err)
	assert.Empty(t, js.published)
}

func TestHealthCheck_NoConnection(t *testing.T) {
	pub, _ := newTestPublisher(false)
	assert.ErrorIs(t, pub.HealthCheck(), nats.ErrConnectionClosed)
	assert.NoError(t, pub.Drain())
}
